package apiclient

import (
	"context"
	"fmt"
	"net/url"
)

// ============================================================================
// Generic API Client Helpers
// ============================================================================
//
// These helpers reduce repetitive HTTP boilerplate across API client resource
// files. Each helper wraps the underlying Client.get/post/delete methods with
// type-safe generics for request/response handling.

// getResource performs a GET request to the given path and decodes the response
// body into a value of type T. Returns a pointer to the decoded value.
//
// Example:
//
//	stats, err := getResource[Stats](ctx, c, "/api/v1/stats")
func getResource[T any](ctx context.Context, c *Client, path string) (*T, error) {
	var result T
	if err := c.get(ctx, path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// listResources performs a GET request to the given path and decodes the response
// body into a slice of type T.
func listResources[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var results []T
	if err := c.get(ctx, path, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// createResource performs a POST request to the given path with the provided body
// and decodes the response into a value of type T.
func createResource[T any](ctx context.Context, c *Client, path string, body any) (*T, error) {
	var result T
	if err := c.post(ctx, path, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// deleteResource performs a DELETE request to the given path and decodes the
// response into a value of type T.
func deleteResource[T any](ctx context.Context, c *Client, path string) (*T, error) {
	var result T
	if err := c.delete(ctx, path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// resourcePath builds a resource path by formatting a path template with the
// given arguments, escaping each argument as a path segment.
//
// Example:
//
//	path := resourcePath("/api/v1/months/%s", "2025-03")
func resourcePath(format string, args ...string) string {
	escaped := make([]any, len(args))
	for i, a := range args {
		escaped[i] = url.PathEscape(a)
	}
	return fmt.Sprintf(format, escaped...)
}
