// Package middleware provides HTTP middleware for the calcache API.
package middleware

import (
	"context"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/marmos91/calcache/internal/logger"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestContext assigns every request an ID and a logger.LogContext.
//
// An incoming X-Request-ID is reused so IDs can be correlated across
// services; otherwise a UUID is generated. The ID is echoed in the
// response and stored where chi's middleware.GetReqID finds it.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		lc := logger.NewLogContext(r.Method + " " + r.URL.Path).WithRequestID(id)
		ctx := logger.WithContext(r.Context(), lc)
		ctx = context.WithValue(ctx, chimw.RequestIDKey, id)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
