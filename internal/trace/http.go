package trace

import (
	"context"
	"net/http"
)

// Middleware continues the caller's trace from request headers, or starts one.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := remote(r.Header.Get(TraceIDKey), r.Header.Get(SpanIDKey))
		next.ServeHTTP(w, r.WithContext(withIDs(r.Context(), c)))
	})
}

// Headers returns the outgoing HTTP headers for ctx's trace and session.
func Headers(ctx context.Context) map[string]string {
	h := current(ctx).pairs()
	if id := sessionID(ctx); id != "" {
		h[SessionIDKey] = id
	}
	return h
}
