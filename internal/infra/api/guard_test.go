//go:build !integration

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"media-gen-orchestrator/internal/infra/logging"
)

func TestTraceID(t *testing.T) {
	var seen string
	h := TraceID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.TraceID(r.Context())
	}))

	t.Run("should keep a caller trace id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(TraceHeader, "abc-123")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if seen != "abc-123" || rec.Header().Get(TraceHeader) != "abc-123" {
			t.Fatalf("trace id not propagated: ctx=%q header=%q", seen, rec.Header().Get(TraceHeader))
		}
	})

	t.Run("should mint one when absent", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if seen == "" || rec.Header().Get(TraceHeader) != seen {
			t.Fatalf("expected a minted trace id, got %q", seen)
		}
	})
}

func TestRecover(t *testing.T) {
	log := zerolog.Nop()

	t.Run("should answer a JSON 500", func(t *testing.T) {
		h := Recover(&log)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("want 500, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"code":"internal"`) {
			t.Fatalf("unexpected body %q", rec.Body.String())
		}
	})

	t.Run("should leave a started response alone", func(t *testing.T) {
		h := RequestLog(&log)(Recover(&log)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
			panic("late")
		})))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusAccepted || rec.Body.Len() != 0 {
			t.Fatalf("response was rewritten: %d %q", rec.Code, rec.Body.String())
		}
	})
}

func TestRequestLog(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	r := chi.NewRouter()
	r.Use(RequestLog(&log))
	r.Get("/jobs/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("nope"))
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/jobs/01J", nil))

	line := buf.String()
	for _, want := range []string{`"level":"warn"`, `"route":"/jobs/{id}"`, `"status":502`, `"bytes":4`} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %s is missing %s", line, want)
		}
	}
}

func TestTimeout(t *testing.T) {
	var deadline bool
	h := Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, deadline = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !deadline {
		t.Fatal("expected a request deadline")
	}

	h = Timeout(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, deadline = r.Context().Deadline()
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(context.Background())
	h.ServeHTTP(httptest.NewRecorder(), req)
	if deadline {
		t.Fatal("zero timeout must not set a deadline")
	}
}

func TestNewRouter_Health(t *testing.T) {
	r := NewRouter(nil, time.Second, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(TraceHeader) == "" {
		t.Fatal("missing trace header")
	}
}
