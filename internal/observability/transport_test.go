package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTransportPassesThroughWhenDisabled(t *testing.T) {
	if err := Init(context.Background(), Config{Enabled: false}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	var gotParent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotParent = r.Header.Get("traceparent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewTransport(nil)}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if gotParent != "" {
		t.Fatalf("expected no traceparent when tracing disabled, got %q", gotParent)
	}
}

func TestTransportInjectsTraceparent(t *testing.T) {
	if err := Init(context.Background(), Config{Enabled: true, Exporter: "noop"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer func() {
		Shutdown(context.Background())
		Init(context.Background(), Config{Enabled: false})
	}()

	var gotParent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotParent = r.Header.Get("traceparent")
	}))
	defer srv.Close()

	ctx, span := StartSpan(context.Background(), "test.parent")
	defer span.End()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	client := &http.Client{Transport: NewTransport(nil)}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	if gotParent == "" {
		t.Fatal("expected traceparent header on outgoing request")
	}
	if req.Header.Get("traceparent") != "" {
		t.Fatal("caller's request headers must not be modified")
	}
	if GetTraceID(ctx) == "" {
		t.Fatal("expected trace id on parent span")
	}
}
