package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/taskintegrator/internal/pipeline"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeCollector struct {
	mu    sync.Mutex
	calls int
	res   pipeline.CollectResult
	err   error
}

func (f *fakeCollector) CollectResults(ctx context.Context) (pipeline.CollectResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.res, f.err
}

func (f *fakeCollector) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestWorker(c Collector) *Worker {
	return New(Config{Interval: 10 * time.Millisecond, WorkerID: "test"}, c, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRunOnce_RecordsOutcome(t *testing.T) {
	c := &fakeCollector{res: pipeline.CollectResult{RepublishedCount: 3, Retained: 1}}
	w := newTestWorker(c)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c.err = errors.New("config scan failed")
	if _, err := w.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected error")
	}

	s := w.Metrics().Snapshot()
	if s.Runs != 2 || s.Failed != 1 || s.Republished != 3 || s.Retained != 1 {
		t.Fatalf("unexpected snapshot %+v", s)
	}
	if s.LastSuccess == nil {
		t.Fatalf("expected last success to be set")
	}
}

func TestNextDelay_BacksOffAndResets(t *testing.T) {
	w := newTestWorker(&fakeCollector{})
	var attempts []int
	w.backoff = func(attempt int) time.Duration {
		attempts = append(attempts, attempt)
		return time.Duration(attempt+1) * time.Second
	}

	fail := errors.New("x")
	if d := w.nextDelay(fail); d != time.Second {
		t.Fatalf("first failure delay %s", d)
	}
	if d := w.nextDelay(fail); d != 2*time.Second {
		t.Fatalf("second failure delay %s", d)
	}
	if d := w.nextDelay(nil); d != w.cfg.Interval {
		t.Fatalf("success must reset to interval, got %s", d)
	}
	if d := w.nextDelay(fail); d != time.Second {
		t.Fatalf("failure after success must restart backoff, got %s", d)
	}
	if len(attempts) != 3 || attempts[0] != 0 || attempts[1] != 1 || attempts[2] != 0 {
		t.Fatalf("unexpected attempts %v", attempts)
	}
}

func TestExponentialBackoff(t *testing.T) {
	cases := []struct {
		attempt int
		min     time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{20, 5 * time.Minute},
		{200, 5 * time.Minute},
	}

	for _, tc := range cases {
		d := ExponentialBackoff(tc.attempt)
		if d < tc.min || d >= tc.min+maxJitter {
			t.Fatalf("attempt %d: delay %s outside [%s, %s)", tc.attempt, d, tc.min, tc.min+maxJitter)
		}
	}
}

func TestRun_StopsOnCancelAndFlipsReadiness(t *testing.T) {
	c := &fakeCollector{}
	w := newTestWorker(c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for c.Calls() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("collector not invoked repeatedly, calls=%d", c.Calls())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !w.Ready() {
		t.Fatalf("expected ready while running")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop")
	}
	if w.Ready() {
		t.Fatalf("expected not ready after stop")
	}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	w := newTestWorker(&fakeCollector{})
	var redisErr error
	h := w.HealthHandler(map[string]Pinger{
		"redis": pingFunc(func(context.Context) error { return redisErr }),
	})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	if rec := get("/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("healthz got %d", rec.Code)
	}
	if rec := get("/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before Run got %d", rec.Code)
	}

	w.setReady(true)
	if rec := get("/readyz"); rec.Code != http.StatusOK {
		t.Fatalf("readyz got %d", rec.Code)
	}

	redisErr = errors.New("down")
	if rec := get("/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with failing dependency got %d", rec.Code)
	}

	rec := get("/statz")
	if rec.Code != http.StatusOK {
		t.Fatalf("statz got %d", rec.Code)
	}
	var snap map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode statz: %v", err)
	}
	if _, ok := snap["runs"]; !ok {
		t.Fatalf("statz missing runs: %v", snap)
	}
}
