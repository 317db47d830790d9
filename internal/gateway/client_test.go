package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stagekit/stagehand/internal/types"
)

// envelopeServer runs an RPC endpoint driven by a handler that sees
// the decoded request and returns a response envelope.
func envelopeServer(t *testing.T, handle func(Request) Response) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp := handle(req)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("failed to encode response: %v", err)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func mustData(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	return data
}

func TestCreateItemSendsEnvelope(t *testing.T) {
	var got Request
	srv := envelopeServer(t, func(req Request) Response {
		got = req
		return Response{Success: true, Data: mustData(t, CreateResult{ExternalID: "abc123", Seq: 1, Stage: "queued"})}
	})

	c := New(&Config{BaseURL: srv.URL, Actor: "eng-1", Version: "v1.2.3"})
	res, err := c.CreateItem(context.Background(), "tok-42", CreateArgs{
		Title:    "wire the gateway",
		Pipeline: "dev",
		Stage:    "queued",
	})
	if err != nil {
		t.Fatalf("CreateItem() error = %v", err)
	}

	if got.Operation != OpCreate {
		t.Errorf("operation = %q, want %q", got.Operation, OpCreate)
	}
	if got.RequestID != "tok-42" {
		t.Errorf("request_id = %q, want idempotency token %q", got.RequestID, "tok-42")
	}
	if got.Actor != "eng-1" {
		t.Errorf("actor = %q, want %q", got.Actor, "eng-1")
	}
	var args CreateArgs
	if err := json.Unmarshal(got.Args, &args); err != nil {
		t.Fatalf("failed to decode args: %v", err)
	}
	if args.Title != "wire the gateway" {
		t.Errorf("args.Title = %q", args.Title)
	}

	if res.ExternalID != "abc123" {
		t.Errorf("ExternalID = %q, want %q", res.ExternalID, "abc123")
	}
	if res.Seq != 1 {
		t.Errorf("Seq = %d, want 1", res.Seq)
	}
}

func TestRejectionMapsToTypedErrors(t *testing.T) {
	cases := []struct {
		code string
		as   func(error) bool
	}{
		{CodeConflict, func(err error) bool { var e *types.ConflictError; return errors.As(err, &e) }},
		{CodeValidation, func(err error) bool { var e *types.ValidationError; return errors.As(err, &e) }},
		{CodeNotFound, func(err error) bool { var e *types.NotFoundError; return errors.As(err, &e) }},
		{"", func(err error) bool { var e *types.ConflictError; return errors.As(err, &e) }},
	}

	for _, tc := range cases {
		var calls atomic.Int32
		srv := envelopeServer(t, func(Request) Response {
			calls.Add(1)
			return Response{Success: false, Error: "stage occupied", Code: tc.code}
		})

		c := New(&Config{BaseURL: srv.URL})
		_, err := c.MoveStage(context.Background(), MoveArgs{ExternalID: "abc123", TargetStage: "coding"})
		if err == nil {
			t.Fatalf("code %q: MoveStage() error = nil, want rejection", tc.code)
		}
		if !tc.as(err) {
			t.Errorf("code %q: error %v has wrong type", tc.code, err)
		}
		if calls.Load() != 1 {
			t.Errorf("code %q: server called %d times, rejections must not retry", tc.code, calls.Load())
		}
	}
}

// flakyTransport fails the first n round trips at the network level,
// then delegates.
type flakyTransport struct {
	calls    atomic.Int32
	failed   int32
	delegate http.RoundTripper
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if f.calls.Add(1) <= f.failed {
		return nil, errors.New("connection reset by peer")
	}
	return f.delegate.RoundTrip(req)
}

func TestRetriesOnceOnNetworkFailure(t *testing.T) {
	srv := envelopeServer(t, func(Request) Response {
		return Response{Success: true, Data: mustData(t, MoveResult{Seq: 9, Stage: "coding"})}
	})

	ft := &flakyTransport{failed: 1, delegate: http.DefaultTransport}
	c := New(&Config{BaseURL: srv.URL, HTTPClient: &http.Client{Transport: ft}})

	res, err := c.MoveStage(context.Background(), MoveArgs{ExternalID: "abc123", TargetStage: "coding"})
	if err != nil {
		t.Fatalf("MoveStage() error = %v, want success after single retry", err)
	}
	if res.Seq != 9 {
		t.Errorf("Seq = %d, want 9", res.Seq)
	}
	if got := ft.calls.Load(); got != 2 {
		t.Errorf("round trips = %d, want 2 (one failure, one retry)", got)
	}
}

func TestRetriesAtMostOnce(t *testing.T) {
	ft := &flakyTransport{failed: 99, delegate: http.DefaultTransport}
	c := New(&Config{BaseURL: "http://127.0.0.1:0", HTTPClient: &http.Client{Transport: ft}})

	_, err := c.MarkComplete(context.Background(), CompleteArgs{ExternalID: "abc123"})
	var netErr *types.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("MarkComplete() error = %v, want *types.NetworkError", err)
	}
	if got := ft.calls.Load(); got != 2 {
		t.Errorf("round trips = %d, want exactly 2", got)
	}
}

func TestServerErrorsAreNetworkLevel(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Response{Success: true, Data: mustData(t, DeleteResult{Seq: 3})})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(&Config{BaseURL: srv.URL})
	res, err := c.DeleteItem(context.Background(), DeleteArgs{ExternalID: "abc123"})
	if err != nil {
		t.Fatalf("DeleteItem() error = %v, want success after retrying the 502", err)
	}
	if res.Seq != 3 {
		t.Errorf("Seq = %d, want 3", res.Seq)
	}
	if calls.Load() != 2 {
		t.Errorf("server called %d times, want 2", calls.Load())
	}
}

func TestHealth(t *testing.T) {
	srv := envelopeServer(t, func(req Request) Response {
		if req.Operation != OpHealth {
			t.Errorf("operation = %q, want %q", req.Operation, OpHealth)
		}
		return Response{Success: true, Data: mustData(t, HealthResult{Status: "ok", Version: "v0.4.1"})}
	})

	c := New(&Config{BaseURL: srv.URL})
	res, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if res.Version != "v0.4.1" {
		t.Errorf("Version = %q, want %q", res.Version, "v0.4.1")
	}
}

func TestCheckServerVersion(t *testing.T) {
	cases := []struct {
		version  string
		wantWarn bool
	}{
		{"v0.4.1", false},
		{"0.4.1", false},
		{"v0.3.0", false},
		{"v0.2.9", true},
		{"0.1.0", true},
		{"devbuild", false},
		{"", false},
	}
	for _, tc := range cases {
		warn := CheckServerVersion(tc.version)
		if (warn != "") != tc.wantWarn {
			t.Errorf("CheckServerVersion(%q) = %q, wantWarn=%v", tc.version, warn, tc.wantWarn)
		}
	}
}
