package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	oerr "github.com/outcome-labs/oswap/internal/errors"
)

func TestGetJSONDecodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("accept header = %q", got)
		}
		if got := r.Header.Get("X-Custom"); got != "yes" {
			t.Errorf("custom header = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "open"})
	}))
	defer srv.Close()

	var out struct {
		Status string `json:"status"`
	}
	c := New(2*time.Second, 0)
	if _, err := c.GetJSON(context.Background(), srv.URL, map[string]string{"X-Custom": "yes"}, &out); err != nil {
		t.Fatal(err)
	}
	if out.Status != "open" {
		t.Fatalf("decoded status = %q", out.Status)
	}
}

func TestRetriesRateLimitThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"ok": "yes"})
	}))
	defer srv.Close()

	var out map[string]string
	c := New(2*time.Second, 2)
	if _, err := c.GetJSON(context.Background(), srv.URL, nil, &out); err != nil {
		t.Fatal(err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("server saw %d calls, want 2", got)
	}
}

func TestRetriesExhaustedSurfaceLastError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(2*time.Second, 1)
	_, err := c.GetJSON(context.Background(), srv.URL, nil, nil)
	if !oerr.HasCode(err, oerr.CodeUnavailable) {
		t.Fatalf("err = %v, want unavailable", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("server saw %d calls, want retries+1", got)
	}
}

func TestNotFoundIsNeverRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(2*time.Second, 3)
	_, err := c.GetJSON(context.Background(), srv.URL, nil, nil)
	if !oerr.HasCode(err, oerr.CodeOrderNotFound) {
		t.Fatalf("err = %v, want order not found", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("404 retried %d times", got-1)
	}
}

func TestAuthFailuresAreFinal(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(status)
		}))

		c := New(2*time.Second, 2)
		_, err := c.GetJSON(context.Background(), srv.URL, nil, nil)
		srv.Close()
		if !oerr.HasCode(err, oerr.CodeAuth) {
			t.Fatalf("status %d err = %v, want auth failure", status, err)
		}
		if got := calls.Load(); got != 1 {
			t.Fatalf("status %d retried %d times", status, got-1)
		}
	}
}

func TestPostJSONResendsBodyOnRetry(t *testing.T) {
	var calls atomic.Int32
	var lastBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("attempt %d sent no body: %v", calls.Load()+1, err)
		}
		lastBody = payload["k"]
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"ok": "yes"})
	}))
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{"k": "v"})
	c := New(2*time.Second, 2)
	if _, err := c.PostJSON(context.Background(), srv.URL, body, nil, nil); err != nil {
		t.Fatal(err)
	}
	if lastBody != "v" {
		t.Fatalf("retried request body = %q", lastBody)
	}
}

func TestEmptyBodyWithExpectedOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var out map[string]string
	c := New(2*time.Second, 0)
	_, err := c.GetJSON(context.Background(), srv.URL, nil, &out)
	if !oerr.HasCode(err, oerr.CodeUnavailable) {
		t.Fatalf("err = %v, want unavailable for empty body", err)
	}
}
