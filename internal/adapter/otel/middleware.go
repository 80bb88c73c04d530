package otel

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// untraced lists paths excluded from span creation: health probes fire
// every few seconds and the WebSocket stream is one long-lived request.
var untraced = map[string]struct{}{
	"/health": {},
	"/ws":     {},
}

// HTTPMiddleware returns a chi-compatible middleware wrapping API
// requests in otelhttp spans.
func HTTPMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithFilter(func(r *http.Request) bool {
				_, skip := untraced[r.URL.Path]
				return !skip
			}))
	}
}
