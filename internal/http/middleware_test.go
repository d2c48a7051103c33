package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func TestCorrelationIDMiddleware_GeneratesID(t *testing.T) {
	var gotCtxID string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v := r.Context().Value("correlation_id"); v != nil {
			gotCtxID = v.(string)
		}
	})

	mw := CorrelationIDMiddleware(zap.NewNop())
	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, req)

	if gotCtxID == "" {
		t.Fatal("correlation_id missing from request context")
	}
	if header := rec.Header().Get("X-Correlation-ID"); header != gotCtxID {
		t.Errorf("X-Correlation-ID header = %q, want %q", header, gotCtxID)
	}
}

func TestCorrelationIDMiddleware_PropagatesIncomingID(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	mw := CorrelationIDMiddleware(zap.NewNop())
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, req)

	if header := rec.Header().Get("X-Correlation-ID"); header != "abc-123" {
		t.Errorf("X-Correlation-ID header = %q, want abc-123", header)
	}
}

func TestCorrelationIDMiddleware_InjectsLogger(t *testing.T) {
	var hasLogger bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasLogger = r.Context().Value("logger").(*zap.Logger)
	})

	mw := CorrelationIDMiddleware(zap.NewNop())
	mw(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if !hasLogger {
		t.Error("logger missing from request context")
	}
}

func TestMetricsMiddleware_TracksInFlight(t *testing.T) {
	var duringCount int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		duringCount = InFlightCount()
	})

	before := InFlightCount()
	MetricsMiddleware(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if duringCount != before+1 {
		t.Errorf("in-flight during request = %d, want %d", duringCount, before+1)
	}
	if after := InFlightCount(); after != before {
		t.Errorf("in-flight after request = %d, want %d", after, before)
	}
}

func TestTimeoutMiddleware_SetsDeadline(t *testing.T) {
	var hasDeadline bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	})

	mw := TimeoutMiddleware(time.Second)
	mw(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if !hasDeadline {
		t.Error("request context has no deadline")
	}
}

func TestRateLimitMiddleware_Denies(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	limiter := rate.NewLimiter(rate.Limit(1), 1)
	mw := RateLimitMiddleware(limiter)
	wrapped := mw(handler)

	first := httptest.NewRecorder()
	wrapped.ServeHTTP(first, httptest.NewRequest("GET", "/", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", first.Code)
	}

	second := httptest.NewRecorder()
	wrapped.ServeHTTP(second, httptest.NewRequest("GET", "/", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", second.Code)
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	var mw mux.MiddlewareFunc = RateLimitMiddleware(nil)
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		mw(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, rec.Code)
		}
	}
}

func TestGetRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{path: "/", want: "/"},
		{path: "/health", want: "/health"},
		{path: "/metrics", want: "/metrics"},
		{path: "/api/v1/analysis/London", want: "/api/v1/analysis/{city}"},
		{path: "/api/v1/analysis/New%20York", want: "/api/v1/analysis/{city}"},
		{path: "/unknown", want: "/unknown"},
	}
	for _, tc := range tests {
		r := httptest.NewRequest("GET", tc.path, nil)
		if got := getRoute(r); got != tc.want {
			t.Errorf("getRoute(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestStatusCodeString(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{code: 200, want: "2xx"},
		{code: 404, want: "4xx"},
		{code: 503, want: "5xx"},
	}
	for _, tc := range tests {
		if got := statusCodeString(tc.code); got != tc.want {
			t.Errorf("statusCodeString(%d) = %q, want %q", tc.code, got, tc.want)
		}
	}
}

func TestInFlightTracker_WaitForZero(t *testing.T) {
	tracker := &InFlightTracker{}
	tracker.Increment()
	tracker.Increment()
	if tracker.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", tracker.Count())
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		tracker.Decrement()
		tracker.Decrement()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tracker.WaitForZero(ctx, 5*time.Millisecond); err != nil {
		t.Fatalf("WaitForZero() error = %v", err)
	}
}

func TestInFlightTracker_WaitForZeroTimeout(t *testing.T) {
	tracker := &InFlightTracker{}
	tracker.Increment()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := tracker.WaitForZero(ctx, 5*time.Millisecond); err == nil {
		t.Fatal("WaitForZero() = nil, want deadline error with requests still in flight")
	}
}
