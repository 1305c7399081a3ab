package observability

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Transport wraps an http.RoundTripper with OpenTelemetry tracing.
// It starts a client span per request and injects trace context headers.
type Transport struct {
	Base http.RoundTripper
}

// NewTransport returns a tracing transport around base (or the default
// transport when base is nil).
func NewTransport(base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !Enabled() {
		return t.Base.RoundTrip(req)
	}

	ctx, span := StartClientSpan(req.Context(), req.Method+" "+req.URL.Path,
		attribute.String("http.request.method", req.Method),
		attribute.String("url.full", req.URL.String()),
		attribute.String("server.address", req.URL.Host),
	)
	defer span.End()

	// RoundTrippers must not modify the caller's request.
	out := req.Clone(ctx)
	InjectHeaders(ctx, out.Header)

	resp, err := t.Base.RoundTrip(out)
	if err != nil {
		SetSpanError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	return resp, nil
}
