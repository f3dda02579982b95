package apiclient

import (
	"context"
	"net/url"
	"time"

	"github.com/marmos91/calcache/pkg/api/handlers"
	"github.com/marmos91/calcache/pkg/calendar"
)

// Response types shared with the server.
type (
	Month            = handlers.MonthResponse
	Invalidation     = handlers.InvalidateResponse
	InvalidationList = handlers.InvalidateAllResponse
	Plan             = handlers.PlanResponse
	Stats            = handlers.StatsResponse
	Health           = handlers.Response
)

// Month returns the snapshot of one month and schedules it if needed.
// A positive wait asks the server to hold the response until the month is
// computed or the wait elapses; the server caps it.
func (c *Client) Month(ctx context.Context, key calendar.MonthKey, wait time.Duration) (*Month, error) {
	path := resourcePath("/api/v1/months/%s", key.String())
	if wait > 0 {
		path += "?" + url.Values{"wait": {wait.String()}}.Encode()
	}
	return getResource[Month](ctx, c, path)
}

// Months lists the resident months in calendar order, without their days.
func (c *Client) Months(ctx context.Context) ([]Month, error) {
	return listResources[Month](ctx, c, "/api/v1/months")
}

// Invalidate marks one month out of date.
func (c *Client) Invalidate(ctx context.Context, key calendar.MonthKey) (*Invalidation, error) {
	return deleteResource[Invalidation](ctx, c, resourcePath("/api/v1/months/%s", key.String()))
}

// InvalidateAll marks every resident month out of date.
func (c *Client) InvalidateAll(ctx context.Context) (*InvalidationList, error) {
	return deleteResource[InvalidationList](ctx, c, "/api/v1/months")
}

// UpdateViewport reports a scroll position and returns the scheduled plan.
func (c *Client) UpdateViewport(ctx context.Context, vp calendar.ViewportState) (*Plan, error) {
	return createResource[Plan](ctx, c, "/api/v1/viewport", vp)
}

// Viewport returns the last reported viewport. It fails with a not found
// APIError before the first report.
func (c *Client) Viewport(ctx context.Context) (*calendar.ViewportState, error) {
	return getResource[calendar.ViewportState](ctx, c, "/api/v1/viewport")
}

// Stats returns the engine statistics.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	return getResource[Stats](ctx, c, "/api/v1/stats")
}

// Health calls the liveness probe.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	return getResource[Health](ctx, c, "/health")
}
