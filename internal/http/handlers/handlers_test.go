package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/geocoder89/taskintegrator/internal/http/handlers"
	"github.com/geocoder89/taskintegrator/internal/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Make sure gin does not spam the console during the test
func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	submitFn  func(ctx context.Context, in pipeline.BatchInput) (pipeline.SubmitResult, error)
	recordsFn func(ctx context.Context, in []pipeline.BatchInput) ([]pipeline.RecordOutcome, error)
	collectFn func(ctx context.Context) (pipeline.CollectResult, error)
	balanceFn func(ctx context.Context) (decimal.Decimal, error)
}

func (f *fakeService) SubmitBatch(ctx context.Context, in pipeline.BatchInput) (pipeline.SubmitResult, error) {
	return f.submitFn(ctx, in)
}

func (f *fakeService) SubmitRecords(ctx context.Context, in []pipeline.BatchInput) ([]pipeline.RecordOutcome, error) {
	return f.recordsFn(ctx, in)
}

func (f *fakeService) CollectResults(ctx context.Context) (pipeline.CollectResult, error) {
	return f.collectFn(ctx)
}

func (f *fakeService) CheckBalance(ctx context.Context) (decimal.Decimal, error) {
	return f.balanceFn(ctx)
}

type fakeEnqueuer struct {
	bodies [][]byte
	err    error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, body []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.bodies = append(f.bodies, body)
	return fmt.Sprintf("1-%d", len(f.bodies)), nil
}

func newTestRouter(svc *fakeService, q *fakeEnqueuer) *gin.Engine {
	r := gin.New()

	b := handlers.NewBatchesHandler(svc)
	r.POST("/v1/batches", b.SubmitBatch)
	r.POST("/v1/batches/records", b.SubmitRecords)
	r.POST("/v1/results/collect", handlers.NewResultsHandler(svc).Collect)
	r.GET("/v1/balance", handlers.NewBalanceHandler(svc).Get)
	r.POST("/v1/notifications", handlers.NewNotificationsHandler(q).Receive)
	return r
}

func do(t *testing.T, r *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response: %v body=%s", err, w.Body.String())
		}
	}
	return w, out
}

func errorCode(resp map[string]any) string {
	e, _ := resp["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestSubmitBatch_Accepted(t *testing.T) {
	var got pipeline.BatchInput
	svc := &fakeService{submitFn: func(_ context.Context, in pipeline.BatchInput) (pipeline.SubmitResult, error) {
		got = in
		return pipeline.SubmitResult{
			ObjectKey:     in.ObjectKey,
			Task:          "layout-a",
			Rows:          3,
			CreatedCount:  1,
			OrphanedCount: 1,
			Cost:          decimal.RequireFromString("0.1"),
			TypeID:        "TYPE-1",
			Failures: []error{&pipeline.RowError{
				Row: 2,
				Err: fmt.Errorf("%w: throttled", pipeline.ErrMarketplaceCallFailed),
			}},
		}, nil
	}}

	w, resp := do(t, newTestRouter(svc, nil), http.MethodPost, "/v1/batches",
		`{"objectKey":"layout-a/b.csv","bucket":"uploads","body":"foo,bar\na,b\nc,d\n"}`)

	if w.Code != http.StatusAccepted {
		t.Fatalf("got status %d, want 202, body=%s", w.Code, w.Body.String())
	}
	if got.ObjectKey != "layout-a/b.csv" || got.Bucket != "uploads" || string(got.Body) != "foo,bar\na,b\nc,d\n" {
		t.Fatalf("unexpected input %+v", got)
	}
	if resp["createdCount"] != float64(1) || resp["orphanedCount"] != float64(1) || resp["cost"] != "0.10" {
		t.Fatalf("unexpected response %v", resp)
	}

	failures, _ := resp["failures"].([]any)
	if len(failures) != 1 {
		t.Fatalf("expected one failure, got %v", resp["failures"])
	}
	f := failures[0].(map[string]any)
	if f["row"] != float64(2) || f["kind"] != "marketplace_call_failed" {
		t.Fatalf("unexpected failure %v", f)
	}
}

func TestSubmitBatch_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			"insufficient funds",
			&pipeline.InsufficientFundsError{
				ObjectKey: "layout-a/b.csv",
				Balance:   decimal.RequireFromString("0.05"),
				Cost:      decimal.RequireFromString("0.10"),
			},
			http.StatusPaymentRequired, "insufficient_funds",
		},
		{"unknown task", fmt.Errorf("%w: layout-z", pipeline.ErrUnknownTask), http.StatusNotFound, "unknown_task"},
		{"malformed", fmt.Errorf("%w: no rows", pipeline.ErrMalformedInput), http.StatusBadRequest, "invalid_request"},
		{"config", fmt.Errorf("%w: scan", pipeline.ErrConfigUnavailable), http.StatusServiceUnavailable, "config_unavailable"},
		{"marketplace", fmt.Errorf("%w: 500", pipeline.ErrMarketplaceCallFailed), http.StatusBadGateway, "marketplace_unavailable"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{submitFn: func(context.Context, pipeline.BatchInput) (pipeline.SubmitResult, error) {
				return pipeline.SubmitResult{}, tc.err
			}}

			w, resp := do(t, newTestRouter(svc, nil), http.MethodPost, "/v1/batches",
				`{"objectKey":"layout-a/b.csv","body":"foo\na\n"}`)

			if w.Code != tc.status {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tc.status, w.Body.String())
			}
			if code := errorCode(resp); code != tc.code {
				t.Fatalf("got code %q, want %q", code, tc.code)
			}
		})
	}
}

func TestSubmitBatch_InsufficientFundsDetails(t *testing.T) {
	svc := &fakeService{submitFn: func(context.Context, pipeline.BatchInput) (pipeline.SubmitResult, error) {
		return pipeline.SubmitResult{}, &pipeline.InsufficientFundsError{
			ObjectKey: "layout-a/b.csv",
			Balance:   decimal.RequireFromString("0.05"),
			Cost:      decimal.RequireFromString("0.10"),
		}
	}}

	_, resp := do(t, newTestRouter(svc, nil), http.MethodPost, "/v1/batches",
		`{"objectKey":"layout-a/b.csv","body":"foo\na\n"}`)

	details := resp["error"].(map[string]any)["details"].(map[string]any)
	if details["cost"] != "0.1" || details["balance"] != "0.05" || details["objectKey"] != "layout-a/b.csv" {
		t.Fatalf("unexpected details %v", details)
	}
}

func TestSubmitRecords_InlineErrors(t *testing.T) {
	svc := &fakeService{recordsFn: func(_ context.Context, in []pipeline.BatchInput) ([]pipeline.RecordOutcome, error) {
		if len(in) != 2 {
			t.Fatalf("expected 2 records, got %d", len(in))
		}
		return []pipeline.RecordOutcome{
			{Result: pipeline.SubmitResult{ObjectKey: in[0].ObjectKey}, Err: fmt.Errorf("%w: x", pipeline.ErrUnknownTask)},
			{Result: pipeline.SubmitResult{ObjectKey: in[1].ObjectKey, CreatedCount: 2}},
		}, nil
	}}

	w, resp := do(t, newTestRouter(svc, nil), http.MethodPost, "/v1/batches/records",
		`{"records":[{"objectKey":"x/a.csv","body":"f\n1\n"},{"objectKey":"layout-a/b.csv","body":"f\n1\n2\n"}]}`)

	if w.Code != http.StatusAccepted {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}
	records := resp["records"].([]any)
	first := records[0].(map[string]any)
	second := records[1].(map[string]any)
	if errorCode(first) != "unknown_task" {
		t.Fatalf("expected inline unknown_task, got %v", first)
	}
	if _, ok := second["error"]; ok || second["createdCount"] != float64(2) {
		t.Fatalf("unexpected second record %v", second)
	}
}

func TestCollect_ReportsFailures(t *testing.T) {
	svc := &fakeService{collectFn: func(context.Context) (pipeline.CollectResult, error) {
		return pipeline.CollectResult{
			Rounds:            10,
			Received:          2,
			RepublishedCount:  1,
			EventsRepublished: 2,
			Retained:          1,
			Failures: []error{&pipeline.EventError{
				MessageID:    "m1",
				AssignmentID: "A2",
				Err:          fmt.Errorf("%w: no route", pipeline.ErrReconciliationGap),
			}},
		}, nil
	}}

	w, resp := do(t, newTestRouter(svc, nil), http.MethodPost, "/v1/results/collect", "")
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d", w.Code)
	}
	if resp["republishedCount"] != float64(1) || resp["retained"] != float64(1) {
		t.Fatalf("unexpected response %v", resp)
	}

	f := resp["failures"].([]any)[0].(map[string]any)
	if f["messageId"] != "m1" || f["assignmentId"] != "A2" || f["kind"] != "reconciliation_gap" {
		t.Fatalf("unexpected failure %v", f)
	}
}

func TestBalance(t *testing.T) {
	svc := &fakeService{balanceFn: func(context.Context) (decimal.Decimal, error) {
		return decimal.RequireFromString("12.5"), nil
	}}

	w, resp := do(t, newTestRouter(svc, nil), http.MethodGet, "/v1/balance", "")
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d", w.Code)
	}
	if resp["balance"] != "12.5" || resp["message"] != "12.5 credits in the account" {
		t.Fatalf("unexpected response %v", resp)
	}

	svc.balanceFn = func(context.Context) (decimal.Decimal, error) {
		return decimal.Zero, fmt.Errorf("%w: timeout", pipeline.ErrMarketplaceCallFailed)
	}
	w, resp = do(t, newTestRouter(svc, nil), http.MethodGet, "/v1/balance", "")
	if w.Code != http.StatusBadGateway || errorCode(resp) != "marketplace_unavailable" {
		t.Fatalf("got status %d body=%v", w.Code, resp)
	}
}

func TestNotifications_Enqueue(t *testing.T) {
	q := &fakeEnqueuer{}
	body := `{"Events":[{"EventType":"AssignmentSubmitted","AssignmentId":"A1"},{"EventType":"Ping"}]}`

	w, resp := do(t, newTestRouter(&fakeService{}, q), http.MethodPost, "/v1/notifications", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("got status %d body=%s", w.Code, w.Body.String())
	}
	if resp["events"] != float64(1) || resp["messageId"] != "1-1" {
		t.Fatalf("unexpected response %v", resp)
	}
	if len(q.bodies) != 1 || string(q.bodies[0]) != body {
		t.Fatalf("body must be enqueued unchanged, got %q", q.bodies)
	}
}

func TestNotifications_Rejects(t *testing.T) {
	q := &fakeEnqueuer{}
	w, _ := do(t, newTestRouter(&fakeService{}, q), http.MethodPost, "/v1/notifications", "not json")
	if w.Code != http.StatusBadRequest || len(q.bodies) != 0 {
		t.Fatalf("got status %d, enqueued %d", w.Code, len(q.bodies))
	}

	q.err = errors.New("redis down")
	w, resp := do(t, newTestRouter(&fakeService{}, q), http.MethodPost, "/v1/notifications", `{"Events":[]}`)
	if w.Code != http.StatusServiceUnavailable || errorCode(resp) != "queue_unavailable" {
		t.Fatalf("got status %d body=%v", w.Code, resp)
	}
}

func TestReadyz(t *testing.T) {
	h := handlers.NewHealthHandler(map[string]handlers.Check{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	r := gin.New()
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	w, _ := do(t, r, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("healthz got %d", w.Code)
	}

	w, resp := do(t, r, http.MethodGet, "/readyz", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz got %d", w.Code)
	}
	checks := resp["checks"].(map[string]any)
	if checks["postgres"] != "ok" || checks["redis"] != "connection refused" {
		t.Fatalf("unexpected checks %v", checks)
	}
}
