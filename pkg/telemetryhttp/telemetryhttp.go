// Package telemetryhttp scopes telemetry state to net/http requests.
//
// Middleware stores the request, fresh bindings and a correlation id in the
// request context so that events fired while serving it pick them up:
//
//	client := telemetry.NewClient(cfg)
//	mux.HandleFunc("POST /signup", func(w http.ResponseWriter, r *http.Request) {
//		client.Event("signup").WithRequestData(true).Fire(r.Context())
//	})
//	http.ListenAndServe(":8080", telemetryhttp.Middleware(telemetryhttp.Options{})(mux))
package telemetryhttp

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/sekia-ai/telemetry/pkg/telemetry"
)

// ThreadIDHeader carries the correlation id between services.
const ThreadIDHeader = "X-Telemetry-Thread-Id"

// Options configures Middleware.
type Options struct {
	// Header overrides ThreadIDHeader.
	Header string
	// EchoThreadID writes the correlation id back as a response header.
	EchoThreadID bool
	// NewThreadID generates ids for requests without one. Defaults to uuid.NewString.
	NewThreadID func() string
}

// Middleware returns a handler wrapper that scopes telemetry to each request.
func Middleware(opts Options) func(http.Handler) http.Handler {
	header := opts.Header
	if header == "" {
		header = ThreadIDHeader
	}
	newID := opts.NewThreadID
	if newID == nil {
		newID = uuid.NewString
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(header)
			if id == "" {
				id = newID()
			}

			bindings := telemetry.NewMapBindings()
			bindings.Set(telemetry.ThreadIDBinding, id)

			r = r.WithContext(telemetry.ContextWithBindings(r.Context(), bindings))
			r = telemetry.BindHTTPRequest(r)

			if opts.EchoThreadID {
				w.Header().Set(header, id)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ContextWithUser publishes the authenticated user for the rest of the
// request. Auth middleware calls it after Middleware has run.
func ContextWithUser(ctx context.Context, user any) context.Context {
	return telemetry.ContextWithUser(ctx, user)
}

// WithUser is ContextWithUser for a request.
func WithUser(r *http.Request, user any) *http.Request {
	return r.WithContext(ContextWithUser(r.Context(), user))
}
