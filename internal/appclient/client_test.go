package appclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/g960059/qsyspanel/internal/api"
)

func TestWatchOnceParsesJSONLAndCursor(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/watch", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("expected GET, got %s", r.Method)
		}
		if r.URL.Query().Get("once") != "1" {
			t.Fatalf("expected once=1, got %q", r.URL.Query().Get("once"))
		}
		if r.URL.Query().Get("cursor") != "old:3" {
			t.Fatalf("expected cursor old:3, got %q", r.URL.Query().Get("cursor"))
		}
		_, _ = io.WriteString(w, `{"schema_version":"v1","type":"reset","sequence":7,"cursor":"stream:7"}`+"\n")
		_, _ = io.WriteString(w, `{"schema_version":"v1","type":"snapshot","sequence":7,"cursor":"stream:7","panels":{"version":7,"connected":true}}`+"\n")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewWithClient(srv.URL, srv.Client())
	lines, cursor, err := client.WatchOnce(context.Background(), WatchOptions{Cursor: "old:3"})
	if err != nil {
		t.Fatalf("watch once: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if cursor != "stream:7" {
		t.Fatalf("expected cursor stream:7, got %q", cursor)
	}
	if lines[0].Type != "reset" || lines[1].Type != "snapshot" {
		t.Fatalf("unexpected line types: %+v", lines)
	}
	if lines[1].Panels == nil || !lines[1].Panels.Connected || lines[1].Panels.Version != 7 {
		t.Fatalf("unexpected snapshot payload: %+v", lines[1].Panels)
	}
}

func TestWatchLoopRetriesAndResumes(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/watch", func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, `{"schema_version":"v1","generated_at":"2026-10-19T00:00:00Z","error":{"code":"E_CORE_UNREACHABLE","message":"boom"}}`)
			return
		}
		if n == 2 && r.URL.Query().Get("cursor") != "" {
			t.Errorf("first successful request should not pass cursor, got %q", r.URL.Query().Get("cursor"))
		}
		if n == 3 && r.URL.Query().Get("cursor") != "stream:1" {
			t.Errorf("expected resume cursor stream:1, got %q", r.URL.Query().Get("cursor"))
		}
		sequence := int64(1)
		if n >= 3 {
			sequence = 2
		}
		line := map[string]any{
			"schema_version": "v1",
			"type":           "snapshot",
			"sequence":       sequence,
			"cursor":         fmt.Sprintf("stream:%d", sequence),
		}
		buf, _ := json.Marshal(line)
		_, _ = io.WriteString(w, string(buf)+"\n")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewWithClient(srv.URL, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	received := make([]int64, 0)
	err := client.WatchLoop(ctx, WatchLoopOptions{
		RetryMinBackoff: 20 * time.Millisecond,
		RetryMaxBackoff: 40 * time.Millisecond,
	}, func(line api.WatchLine) error {
		received = append(received, line.Sequence)
		if len(received) >= 2 {
			return context.Canceled
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled sentinel, got %v", err)
	}
	if len(received) != 2 || received[0] != 1 || received[1] != 2 {
		t.Fatalf("unexpected received sequences: %+v", received)
	}
}

func TestWatchLoopStopsOnNonRetryableError(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/watch", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"schema_version":"v1","generated_at":"2026-10-19T00:00:00Z","error":{"code":"E_CURSOR_INVALID","message":"bad cursor"}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewWithClient(srv.URL, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err := client.WatchLoop(ctx, WatchLoopOptions{
		Cursor:          "bogus",
		RetryMinBackoff: 10 * time.Millisecond,
		RetryMaxBackoff: 20 * time.Millisecond,
	}, nil)
	if err == nil || !strings.Contains(err.Error(), "E_CURSOR_INVALID") {
		t.Fatalf("expected non-retryable cursor error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected single watch call for non-retryable error, got %d", calls.Load())
	}
}

func TestWatchLoopOnceReturnsFirstErrorWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/watch", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `{"schema_version":"v1","generated_at":"2026-10-19T00:00:00Z","error":{"code":"E_CORE_UNREACHABLE","message":"boom"}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewWithClient(srv.URL, srv.Client())
	err := client.WatchLoop(context.Background(), WatchLoopOptions{
		RetryMinBackoff: 10 * time.Millisecond,
		RetryMaxBackoff: 20 * time.Millisecond,
		Once:            true,
	}, nil)
	if err == nil || !strings.Contains(err.Error(), "E_CORE_UNREACHABLE") {
		t.Fatalf("expected first error to be returned in once mode, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected single watch call in once mode, got %d", calls.Load())
	}
}

func TestWatchLoopStopsOnInvalidPayload(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/watch", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `{"schema_version":"v1","type":"snapshot"`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewWithClient(srv.URL, srv.Client())
	err := client.WatchLoop(context.Background(), WatchLoopOptions{
		RetryMinBackoff: 10 * time.Millisecond,
		RetryMaxBackoff: 20 * time.Millisecond,
	}, nil)
	if !errors.Is(err, ErrWatchPayloadInvalid) {
		t.Fatalf("expected payload invalid error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected single call for invalid payload, got %d", calls.Load())
	}
}

func TestPanelWritesPostJSONBodies(t *testing.T) {
	type seen struct {
		path string
		body map[string]any
	}
	got := make(chan seen, 8)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/panels/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		body := map[string]any{}
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &body); err != nil {
				t.Errorf("decode body: %v", err)
			}
		}
		got <- seen{path: r.URL.Path, body: body}
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"schema_version":"v1","generated_at":"2026-10-19T00:00:00Z","panel":"x","version":4,"state":{}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewWithClient(srv.URL, srv.Client())
	ctx := context.Background()
	gain := 0.5
	on := true

	resp, err := client.SetEQBand(ctx, 2, api.BandWriteRequest{Field: "gain", Value: &gain})
	if err != nil {
		t.Fatalf("set eq band: %v", err)
	}
	if resp.Version != 4 {
		t.Fatalf("unexpected panel response: %+v", resp)
	}
	s := <-got
	if s.path != "/v1/panels/eq/bands/2" || s.body["field"] != "gain" || s.body["value"] != 0.5 {
		t.Fatalf("unexpected eq write: %+v", s)
	}

	if _, err := client.SetBypass(ctx, "limiter", &on); err != nil {
		t.Fatalf("set bypass: %v", err)
	}
	s = <-got
	if s.path != "/v1/panels/limiter/bypass" || s.body["bypass"] != true {
		t.Fatalf("unexpected bypass write: %+v", s)
	}

	if _, err := client.SetMute(ctx, nil); err != nil {
		t.Fatalf("toggle mute: %v", err)
	}
	s = <-got
	if s.path != "/v1/panels/gain/mute" || len(s.body) != 0 {
		t.Fatalf("expected empty toggle body, got %+v", s)
	}

	if _, err := client.AssignVideo(ctx, 2, 3); err != nil {
		t.Fatalf("assign video: %v", err)
	}
	s = <-got
	if s.path != "/v1/panels/video/assign" || s.body["display"] != float64(2) || s.body["source"] != float64(3) {
		t.Fatalf("unexpected video write: %+v", s)
	}

	if _, err := client.StopPTZ(ctx); err != nil {
		t.Fatalf("stop ptz: %v", err)
	}
	s = <-got
	if s.path != "/v1/panels/ptz/stop" {
		t.Fatalf("unexpected ptz stop path: %+v", s)
	}
}

func TestPostRejectsBlankRoute(t *testing.T) {
	client := NewWithClient("http://example.invalid", &http.Client{})
	if _, err := client.Post(context.Background(), " / ", nil); err == nil {
		t.Fatalf("expected blank route error")
	}
	if _, err := client.Panel(context.Background(), "  "); err == nil {
		t.Fatalf("expected blank panel error")
	}
}

func TestJournalQueries(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/journal/writes", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("component") != "Gain" || r.URL.Query().Get("limit") != "5" {
			t.Errorf("unexpected writes query: %s", r.URL.RawQuery)
		}
		_, _ = io.WriteString(w, `{"schema_version":"v1","generated_at":"2026-10-19T00:00:00Z","writes":[{"write_id":"w-1","component":"Gain","control":"gain","value":"-6","requested_at":"2026-10-19T00:00:00Z","result":"completed"}]}`)
	})
	mux.HandleFunc("/v1/journal/connection", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("limit") {
			t.Errorf("zero limit should be omitted, got %s", r.URL.RawQuery)
		}
		_, _ = io.WriteString(w, `{"schema_version":"v1","generated_at":"2026-10-19T00:00:00Z","events":[{"event_id":"e-1","generation":1,"event_type":"connected","occurred_at":"2026-10-19T00:00:00Z"}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewWithClient(srv.URL, srv.Client())
	writes, err := client.JournalWrites(context.Background(), JournalOptions{Component: " Gain ", Limit: 5})
	if err != nil {
		t.Fatalf("journal writes: %v", err)
	}
	if len(writes.Writes) != 1 || writes.Writes[0].WriteID != "w-1" {
		t.Fatalf("unexpected writes: %+v", writes.Writes)
	}
	events, err := client.JournalConnection(context.Background(), 0)
	if err != nil {
		t.Fatalf("journal connection: %v", err)
	}
	if len(events.Events) != 1 || events.Events[0].EventType != "connected" {
		t.Fatalf("unexpected events: %+v", events.Events)
	}
}

func TestReconnectReturnsRequestErrorOnHTTPFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/connection/reconnect", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `{"schema_version":"v1","generated_at":"2026-10-19T00:00:00Z","error":{"code":"E_CORE_UNREACHABLE","message":"dial refused"}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewWithClient(srv.URL, srv.Client())
	_, err := client.Reconnect(context.Background())
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %T (%v)", err, err)
	}
	if reqErr.StatusCode != http.StatusBadGateway || reqErr.Code != "E_CORE_UNREACHABLE" || !reqErr.Retryable() {
		t.Fatalf("unexpected request error: %+v", reqErr)
	}
}

func TestNonJSONErrorFallsBackToHTTPCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "teapot", http.StatusTeapot)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewWithClient(srv.URL, srv.Client())
	_, err := client.Health(context.Background())
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %T (%v)", err, err)
	}
	if reqErr.Code != "HTTP_418" || reqErr.Message != "teapot" || reqErr.Retryable() {
		t.Fatalf("unexpected request error: %+v", reqErr)
	}
}

func TestPanelDecodeErrorOnInvalidJSON(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/panels/eq", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"schema_version":"v1","panel":`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewWithClient(srv.URL, srv.Client())
	_, err := client.Panel(context.Background(), "eq")
	if err == nil || !strings.Contains(err.Error(), "decode panel response") {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestUnaryTimeoutAppliesToShortRequests(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/connection", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	defer close(release)

	client := NewWithClient(srv.URL, srv.Client()).WithUnaryTimeout(50 * time.Millisecond)
	start := time.Now()
	if _, err := client.Connection(context.Background()); err == nil {
		t.Fatalf("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("unary timeout not applied, took %s", elapsed)
	}
}

func TestRequestErrorMessages(t *testing.T) {
	cases := []struct {
		err  *RequestError
		want string
	}{
		{&RequestError{StatusCode: 400, Code: "E_REF_INVALID", Message: "bad"}, "E_REF_INVALID: bad"},
		{&RequestError{StatusCode: 404, Code: "E_REF_NOT_FOUND"}, "http 404: E_REF_NOT_FOUND"},
		{&RequestError{StatusCode: 500, Message: "oops"}, "http 500: oops"},
		{&RequestError{StatusCode: 503}, "http 503"},
		{&RequestError{}, "http error"},
	}
	for _, tc := range cases {
		if got := tc.err.Error(); got != tc.want {
			t.Fatalf("Error() = %q, want %q", got, tc.want)
		}
	}
	var nilErr *RequestError
	if nilErr.Retryable() {
		t.Fatalf("nil request error must not be retryable")
	}
}
