package trace

import (
	"context"
	"net/http"
)

// Middleware extracts or creates trace context for requests to the local bridge.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := extractFromHeaders(r.Header)
		ctx := WithContext(r.Context(), tc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractFromHeaders gets trace context from HTTP headers; the caller's span becomes the parent.
func extractFromHeaders(h http.Header) Context {
	tc := Context{
		TraceID:      h.Get(TraceIDKey),
		ParentSpanID: h.Get(SpanIDKey),
		SpanID:       generateSpanID(),
	}
	if tc.TraceID == "" {
		tc.TraceID = generateTraceID()
	}
	return tc
}

// Inject writes the trace context carried by ctx onto an outgoing request,
// creating a fresh trace when ctx has none.
func Inject(ctx context.Context, req *http.Request) {
	tc, ok := FromContext(ctx)
	if !ok {
		tc = New()
	}
	req.Header.Set(TraceIDKey, tc.TraceID)
	req.Header.Set(SpanIDKey, tc.SpanID)
	if tc.ParentSpanID != "" {
		req.Header.Set(ParentSpanIDKey, tc.ParentSpanID)
	}
}

// Transport is an http.RoundTripper that injects trace headers.
type Transport struct {
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	out := req.Clone(req.Context())
	Inject(req.Context(), out)
	return base.RoundTrip(out)
}
