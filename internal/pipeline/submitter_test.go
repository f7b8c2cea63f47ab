package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/geocoder89/taskintegrator/internal/domain/task"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testQueueURL = "https://sqs.us-east-1.amazonaws.com/123/turk-notifications"

func testSettings() map[string]any {
	return map[string]any{
		"auth":                    map[string]any{"access_key": "AK", "secret_key": "SK"},
		"sandbox":                 true,
		"turk_notification_queue": testQueueURL,
		"layouts": map[string]any{
			"layout-a": map[string]any{
				"Title":                       "Tag the image",
				"Description":                 "Pick the best tag",
				"Reward":                      "0.05",
				"MaxAssignments":              1,
				"AssignmentDurationInSeconds": 300,
				"LifetimeInSeconds":           3600,
			},
		},
	}
}

type harness struct {
	mk      *fakeMarketplace
	routes  *fakeRoutes
	queue   *fakeQueue
	pub     *fakePublisher
	metrics *fakeMetrics
	store   *fakeStore
}

func newHarness(balance string) *harness {
	return &harness{
		mk:      newFakeMarketplace(balance),
		routes:  newFakeRoutes(),
		queue:   newFakeQueue(),
		pub:     newFakePublisher(),
		metrics: &fakeMetrics{},
		store:   &fakeStore{raw: testSettings()},
	}
}

func (h *harness) service(cfg ServiceConfig) *Service {
	if cfg.Stack == "" {
		cfg.Stack = "crowd-stack"
	}
	cfg.Namespace = cfg.Stack + "-config"
	return NewService(cfg, h.store, dialer(h.mk), h.routes, h.queue, h.pub, h.metrics, discardLogger())
}

const twoRows = "foo,bar\na,b\nc,d\n"

func TestSubmitBatch_TwoRowsAdmitted(t *testing.T) {
	h := newHarness("1.00")
	svc := h.service(ServiceConfig{})

	res, err := svc.SubmitBatch(context.Background(), BatchInput{
		ObjectKey: "layout-a/batch-1.csv",
		Bucket:    "uploads",
		Body:      []byte(twoRows),
	})
	require.NoError(t, err)

	assert.Equal(t, "layout-a", res.Task)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 2, res.CreatedCount)
	assert.Empty(t, res.Failures)
	assert.True(t, res.Cost.Equal(decimal.RequireFromString("0.10")), "cost %s", res.Cost)
	assert.Equal(t, "TYPE-1", res.TypeID)
	assert.NoError(t, res.RegistrationErr)

	assert.Equal(t, 2, h.routes.Len())
	for _, id := range []string{"WI-1", "WI-2"} {
		e, err := h.routes.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "layout-a", e.TaskName)
	}

	require.Len(t, h.mk.notifications, 1)
	assert.Equal(t, notificationCall{"TYPE-1", testQueueURL, []string{task.EventAssignmentSubmitted}}, h.mk.notifications[0])

	require.Len(t, h.mk.created, 2)
	assert.Equal(t, "layout-a", h.mk.created[0].LayoutID)
	assert.Equal(t, "b", param(h.mk.created[0].Params, "bar"))
	assert.Equal(t, "c", param(h.mk.created[1].Params, "foo"))

	balances := h.metrics.values(MetricBalance)
	require.Len(t, balances, 2)
	assert.InDelta(t, 1.00, balances[0], 1e-9)
	assert.InDelta(t, 0.90, balances[1], 1e-9)
	assert.Equal(t, []float64{2}, h.metrics.values(MetricWorkItemsCreated))
}

func TestSubmitBatch_InsufficientFunds(t *testing.T) {
	h := newHarness("0.05")
	svc := h.service(ServiceConfig{})

	res, err := svc.SubmitBatch(context.Background(), BatchInput{
		ObjectKey: "layout-a/batch-1.csv",
		Body:      []byte(twoRows),
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	var ife *InsufficientFundsError
	require.True(t, errors.As(err, &ife))
	assert.Equal(t, "layout-a/batch-1.csv", ife.ObjectKey)
	assert.True(t, ife.Cost.Equal(decimal.RequireFromString("0.10")))
	assert.True(t, ife.Balance.Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, "insufficient_funds", Kind(err))

	assert.Zero(t, res.CreatedCount)
	assert.Empty(t, h.mk.created)
	assert.Zero(t, h.routes.Len())
	assert.Empty(t, h.mk.notifications)
	assert.Empty(t, h.metrics.values(MetricBalance))
}

func TestSubmitBatch_BalanceEqualToCostIsAdmitted(t *testing.T) {
	h := newHarness("0.10")
	svc := h.service(ServiceConfig{})

	res, err := svc.SubmitBatch(context.Background(), BatchInput{ObjectKey: "layout-a/b.csv", Body: []byte(twoRows)})
	require.NoError(t, err)
	assert.Equal(t, 2, res.CreatedCount)
}

func TestSubmitBatch_RoutesWrittenBeforeRegistration(t *testing.T) {
	h := newHarness("1.00")
	var order []string
	h.mk.order = &order
	h.routes.order = &order

	_, err := h.service(ServiceConfig{}).SubmitBatch(context.Background(), BatchInput{
		ObjectKey: "layout-a/batch-1.csv",
		Body:      []byte(twoRows),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"create", "route", "create", "route", "notify"}, order)
}

func TestSubmitBatch_RowFailureIsIsolated(t *testing.T) {
	h := newHarness("1.00")
	h.mk.failCreate[1] = true

	res, err := h.service(ServiceConfig{}).SubmitBatch(context.Background(), BatchInput{
		ObjectKey: "layout-a/batch-1.csv",
		Body:      []byte(twoRows),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.CreatedCount)
	require.Len(t, res.Failures, 1)

	var rowErr *RowError
	require.True(t, errors.As(res.Failures[0], &rowErr))
	assert.Equal(t, 1, rowErr.Row)
	assert.Empty(t, rowErr.WorkItemID)
	assert.ErrorIs(t, rowErr, ErrMarketplaceCallFailed)

	// the surviving item is the one registered
	require.Len(t, h.mk.notifications, 1)
	assert.Equal(t, 1, h.routes.Len())
	_, err = h.routes.Get(context.Background(), "WI-2")
	assert.NoError(t, err)

	// accounting stays optimistic
	balances := h.metrics.values(MetricBalance)
	require.Len(t, balances, 2)
	assert.InDelta(t, 0.90, balances[1], 1e-9)
}

func TestSubmitBatch_PersistenceFailureLeavesItemsLive(t *testing.T) {
	h := newHarness("1.00")
	h.routes.putErr = errors.New("db down")

	res, err := h.service(ServiceConfig{}).SubmitBatch(context.Background(), BatchInput{
		ObjectKey: "layout-a/batch-1.csv",
		Body:      []byte(twoRows),
	})
	require.NoError(t, err)

	assert.Zero(t, res.CreatedCount)
	require.Len(t, res.Failures, 2)
	for i, f := range res.Failures {
		var rowErr *RowError
		require.True(t, errors.As(f, &rowErr))
		assert.Equal(t, i+1, rowErr.Row)
		assert.NotEmpty(t, rowErr.WorkItemID)
		assert.ErrorIs(t, f, ErrPersistenceFailed)
	}

	assert.Equal(t, 2, res.OrphanedCount)

	// no rollback, and the live items still get a registration
	assert.Len(t, h.mk.created, 2)
	require.Len(t, h.mk.notifications, 1)
	assert.Equal(t, "TYPE-1", res.TypeID)
}

func TestSubmitBatch_OrphanedItemIsRegisteredWhenFirst(t *testing.T) {
	h := newHarness("1.00")
	h.routes.putErrOnce = errors.New("db blip")

	res, err := h.service(ServiceConfig{}).SubmitBatch(context.Background(), BatchInput{
		ObjectKey: "layout-a/batch-1.csv",
		Body:      []byte(twoRows),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.CreatedCount)
	assert.Equal(t, 1, res.OrphanedCount)
	require.Len(t, res.Failures, 1)
	assert.ErrorIs(t, res.Failures[0], ErrPersistenceFailed)
	require.Len(t, h.mk.notifications, 1)
}

func TestSubmitBatch_ZeroCreatedIsNotAnError(t *testing.T) {
	h := newHarness("1.00")
	h.mk.failCreate[1] = true
	h.mk.failCreate[2] = true

	res, err := h.service(ServiceConfig{}).SubmitBatch(context.Background(), BatchInput{
		ObjectKey: "layout-a/batch-1.csv",
		Body:      []byte(twoRows),
	})
	require.NoError(t, err)
	assert.Zero(t, res.CreatedCount)
	assert.Len(t, res.Failures, 2)
	assert.Empty(t, h.mk.notifications)
	assert.Empty(t, res.TypeID)
}

func TestSubmitBatch_RegistrationFailureKeepsItems(t *testing.T) {
	h := newHarness("1.00")
	h.mk.notifyErr = errors.New("access denied")

	res, err := h.service(ServiceConfig{}).SubmitBatch(context.Background(), BatchInput{
		ObjectKey: "layout-a/batch-1.csv",
		Body:      []byte(twoRows),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.CreatedCount)
	assert.ErrorIs(t, res.RegistrationErr, ErrMarketplaceCallFailed)
	assert.Equal(t, 2, h.routes.Len())
}

func TestSubmitBatch_BatchLevelRejections(t *testing.T) {
	tests := []struct {
		name string
		key  string
		body string
		want error
	}{
		{"no task in key", "batch.csv", twoRows, ErrUnknownTask},
		{"task not configured", "layout-z/batch.csv", twoRows, ErrUnknownTask},
		{"header only", "layout-a/batch.csv", "foo,bar\n", ErrMalformedInput},
		{"empty body", "layout-a/batch.csv", "", ErrMalformedInput},
		{"ragged row", "layout-a/batch.csv", "foo,bar\na\n", ErrMalformedInput},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness("1.00")
			_, err := h.service(ServiceConfig{}).SubmitBatch(context.Background(), BatchInput{
				ObjectKey: tc.key,
				Body:      []byte(tc.body),
			})
			require.ErrorIs(t, err, tc.want)
			assert.Empty(t, h.mk.created)
		})
	}
}

func TestSubmitBatch_ConfigUnavailable(t *testing.T) {
	h := newHarness("1.00")
	h.store.err = errors.New("scan page 2: timeout")

	_, err := h.service(ServiceConfig{}).SubmitBatch(context.Background(), BatchInput{
		ObjectKey: "layout-a/batch.csv",
		Body:      []byte(twoRows),
	})
	require.ErrorIs(t, err, ErrConfigUnavailable)
	assert.Empty(t, h.mk.created)
}

func TestSubmitBatch_InvalidTemplateIsConfigUnavailable(t *testing.T) {
	h := newHarness("1.00")
	layouts := h.store.raw["layouts"].(map[string]any)
	layouts["layout-a"].(map[string]any)["Reward"] = "0"

	_, err := h.service(ServiceConfig{}).SubmitBatch(context.Background(), BatchInput{
		ObjectKey: "layout-a/batch.csv",
		Body:      []byte(twoRows),
	})
	require.ErrorIs(t, err, ErrConfigUnavailable)
}

func TestSubmitBatch_ConcurrentRowsAllRouted(t *testing.T) {
	h := newHarness("10.00")
	body := "foo\n1\n2\n3\n4\n5\n6\n7\n"

	res, err := h.service(ServiceConfig{SubmitConcurrency: 4}).SubmitBatch(context.Background(), BatchInput{
		ObjectKey: "layout-a/batch.csv",
		Body:      []byte(body),
	})
	require.NoError(t, err)
	assert.Equal(t, 7, res.CreatedCount)
	assert.Equal(t, 7, h.routes.Len())
	assert.Len(t, h.mk.notifications, 1)
}

func TestSubmitBatch_SanitizesCells(t *testing.T) {
	h := newHarness("1.00")
	body := "foo,bar\n<script>alert(1)</script>hello,<b onclick=\"x()\">bold</b>\n"

	_, err := h.service(ServiceConfig{}).SubmitBatch(context.Background(), BatchInput{
		ObjectKey: "layout-a/batch.csv",
		Body:      []byte(body),
	})
	require.NoError(t, err)

	require.Len(t, h.mk.created, 1)
	assert.Equal(t, "hello", param(h.mk.created[0].Params, "foo"))
	assert.Equal(t, "<b>bold</b>", param(h.mk.created[0].Params, "bar"))
}

func TestSubmitRecords_IndependentOutcomes(t *testing.T) {
	h := newHarness("1.00")

	out, err := h.service(ServiceConfig{}).SubmitRecords(context.Background(), []BatchInput{
		{ObjectKey: "layout-z/a.csv", Body: []byte(twoRows)},
		{ObjectKey: "layout-a/b.csv", Body: []byte(twoRows)},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.ErrorIs(t, out[0].Err, ErrUnknownTask)
	assert.NoError(t, out[1].Err)
	assert.Equal(t, 2, out[1].Result.CreatedCount)
}

func TestRegistrar_Idempotent(t *testing.T) {
	mk := newFakeMarketplace("1.00")
	var reg NotificationRegistrar

	for i := 0; i < 3; i++ {
		typeID, err := reg.Register(context.Background(), mk, "WI-1", testQueueURL)
		require.NoError(t, err)
		assert.Equal(t, "TYPE-1", typeID)
	}

	assert.Equal(t, map[string]string{"TYPE-1": testQueueURL}, mk.subscriptions())
}

func TestRegistrar_NoDestination(t *testing.T) {
	var reg NotificationRegistrar
	_, err := reg.Register(context.Background(), newFakeMarketplace("1"), "WI-1", "")
	require.ErrorIs(t, err, ErrConfigUnavailable)
}

func TestCheckBalance(t *testing.T) {
	h := newHarness("12.34")
	b, err := h.service(ServiceConfig{}).CheckBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "12.34", b.StringFixed(2))

	h.mk.balanceErr = errors.New("503")
	_, err = h.service(ServiceConfig{}).CheckBalance(context.Background())
	require.ErrorIs(t, err, ErrMarketplaceCallFailed)
}
