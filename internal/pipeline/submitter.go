package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/geocoder89/taskintegrator/internal/domain/task"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const MetricWorkItemsCreated = "work_items_created"

// BatchInput is one stored CSV object.
type BatchInput struct {
	ObjectKey string
	Bucket    string
	Body      []byte
}

type SubmitResult struct {
	ObjectKey    string
	Task         string
	Rows         int
	CreatedCount int
	// OrphanedCount is the number of items created on the marketplace whose
	// route could not be written. They are live but their results cannot be
	// routed.
	OrphanedCount int
	Cost         decimal.Decimal
	TypeID       string
	// Failures holds one *RowError per failed row, ordered by row.
	Failures []error
	// RegistrationErr is set when notification registration failed. The
	// created items stay live.
	RegistrationErr error
}

type BatchSubmitter struct {
	admission   *AdmissionController
	registrar   NotificationRegistrar
	routes      RoutingStore
	metrics     MetricsSink
	log         *slog.Logger
	concurrency int
	now         func() time.Time
}

func NewBatchSubmitter(routes RoutingStore, metrics MetricsSink, log *slog.Logger, concurrency int) *BatchSubmitter {
	if metrics == nil {
		metrics = discardMetrics{}
	}
	if log == nil {
		log = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &BatchSubmitter{
		admission:   NewAdmissionController(metrics),
		routes:      routes,
		metrics:     metrics,
		log:         log,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Submit runs parse, admit, create and register for one batch. Batch-level
// failures are returned as the error; row-level failures are collected in
// the result.
func (s *BatchSubmitter) Submit(ctx context.Context, mk Marketplace, settings Settings, in BatchInput) (SubmitResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.submit_batch")
	defer span.End()

	res := SubmitResult{ObjectKey: in.ObjectKey}

	taskName, err := task.NameFromObjectKey(in.ObjectKey)
	if err != nil {
		return res, wrap(ErrUnknownTask, "object [%s]: %v", in.ObjectKey, err)
	}
	res.Task = taskName
	span.SetAttributes(attribute.String("task", taskName), attribute.String("object_key", in.ObjectKey))

	tmpl, err := settings.Template(taskName)
	if err != nil {
		return res, err
	}

	rows, err := ParseBatch(in.Body)
	if err != nil {
		return res, err
	}
	res.Rows = len(rows)

	adm, err := s.admission.Admit(ctx, mk, in.ObjectKey, tmpl, len(rows))
	if err != nil {
		return res, err
	}
	res.Cost = adm.Cost

	live := s.createAll(ctx, mk, taskName, tmpl, rows, &res)

	s.admission.Settle(adm)
	s.metrics.Record(MetricWorkItemsCreated, float64(res.CreatedCount), s.now())

	if first := firstCreated(live); first != "" {
		typeID, err := s.registrar.Register(ctx, mk, first, settings.NotificationQueue)
		res.TypeID = typeID
		if err != nil {
			res.RegistrationErr = err
			s.log.WarnContext(ctx, "batch.registration_failed",
				"object_key", in.ObjectKey, "work_item_id", first, "err", err)
		}
	}

	s.log.InfoContext(ctx, "batch.submitted",
		"object_key", in.ObjectKey,
		"bucket", in.Bucket,
		"task", taskName,
		"rows", res.Rows,
		"created", res.CreatedCount,
		"orphaned", res.OrphanedCount,
		"failed", len(res.Failures),
		"cost", res.Cost.String(),
	)
	span.SetAttributes(attribute.Int("created", res.CreatedCount))

	return res, nil
}

// createAll creates one item per row, at most s.concurrency at a time.
// The returned slice is indexed by row and holds every item that exists on
// the marketplace, routed or not. Rows that created nothing hold "".
func (s *BatchSubmitter) createAll(ctx context.Context, mk Marketplace, taskName string, tmpl task.Template, rows []task.Row, res *SubmitResult) []string {
	live := make([]string, len(rows))
	routed := make([]bool, len(rows))

	var (
		mu       sync.Mutex
		failures []error
	)

	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)

	for i, row := range rows {
		g.Go(func() error {
			id, err := s.createRow(ctx, mk, taskName, tmpl, row)
			live[i] = id
			if err != nil {
				rowErr := &RowError{Row: i + 1, WorkItemID: id, Err: err}
				s.log.WarnContext(ctx, "batch.row_failed",
					"task", taskName, "row", i+1, "work_item_id", id, "kind", Kind(err), "err", err)

				mu.Lock()
				failures = append(failures, rowErr)
				mu.Unlock()
				return nil
			}
			routed[i] = true
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(failures, func(a, b int) bool {
		return failures[a].(*RowError).Row < failures[b].(*RowError).Row
	})

	for i, id := range live {
		switch {
		case routed[i]:
			res.CreatedCount++
		case id != "":
			res.OrphanedCount++
		}
	}
	res.Failures = failures
	return live
}

// createRow creates the item and writes its route. On a route write
// failure the id is still returned so the orphaned item can be reported.
func (s *BatchSubmitter) createRow(ctx context.Context, mk Marketplace, taskName string, tmpl task.Template, row task.Row) (string, error) {
	item, err := mk.CreateWorkItem(ctx, tmpl.Request(taskName, row))
	if err != nil {
		return "", wrap(ErrMarketplaceCallFailed, "create work item: %v", err)
	}

	err = s.routes.Put(ctx, task.RoutingEntry{
		WorkItemID: item.ID,
		TaskName:   taskName,
		CreatedAt:  s.now().UTC(),
	})
	if err != nil {
		return item.ID, wrap(ErrPersistenceFailed, "route for work item %s: %v", item.ID, err)
	}
	return item.ID, nil
}

func firstCreated(live []string) string {
	for _, id := range live {
		if id != "" {
			return id
		}
	}
	return ""
}
