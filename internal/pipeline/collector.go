package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/geocoder89/taskintegrator/internal/domain/task"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPollRounds       = 10
	DefaultMaxMessages      = 10
	DefaultEventConcurrency = 4

	metricCompletedPrefix = "completed."
)

type CollectorConfig struct {
	// PollRounds is fixed: the queue does not promise that fewer rounds,
	// or an empty receive, means it is drained.
	PollRounds       int
	MaxMessages      int
	EventConcurrency int
}

type CollectResult struct {
	Rounds   int
	Received int
	// RepublishedCount counts messages whose events were all republished
	// and which were then deleted from the queue.
	RepublishedCount  int
	EventsRepublished int
	Retained          int
	Failures          []error
}

type ResultCollector struct {
	cfg       CollectorConfig
	stack     string
	queue     InboundQueue
	routes    RoutingStore
	resolver  *ChannelResolver
	publisher ChannelPublisher
	metrics   MetricsSink
	log       *slog.Logger
	now       func() time.Time
}

// inFlightTracker is implemented by metrics sinks that keep a gauge of
// events being processed.
type inFlightTracker interface {
	InFlightEvent() func()
}

func NewResultCollector(cfg CollectorConfig, stack string, queue InboundQueue, routes RoutingStore, resolver *ChannelResolver, publisher ChannelPublisher, metrics MetricsSink, log *slog.Logger) *ResultCollector {
	if cfg.PollRounds <= 0 {
		cfg.PollRounds = DefaultPollRounds
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	if cfg.EventConcurrency <= 0 {
		cfg.EventConcurrency = DefaultEventConcurrency
	}
	if metrics == nil {
		metrics = discardMetrics{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &ResultCollector{
		cfg:       cfg,
		stack:     stack,
		queue:     queue,
		routes:    routes,
		resolver:  resolver,
		publisher: publisher,
		metrics:   metrics,
		log:       log,
		now:       time.Now,
	}
}

// Collect runs the fixed number of poll rounds. Rounds are sequential;
// events within one message are processed concurrently. A cancelled
// context ends the run early.
func (c *ResultCollector) Collect(ctx context.Context, mk Marketplace) (CollectResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.collect_results")
	defer span.End()

	var res CollectResult

	for round := 0; round < c.cfg.PollRounds; round++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Rounds++

		msgs, err := c.queue.Receive(ctx, c.cfg.MaxMessages)
		if err != nil {
			c.log.WarnContext(ctx, "collect.receive_failed", "round", round, "err", err)
			res.Failures = append(res.Failures, err)
			continue
		}
		res.Received += len(msgs)

		for _, msg := range msgs {
			published, failures := c.handleMessage(ctx, mk, msg)
			res.EventsRepublished += published
			if len(failures) > 0 {
				res.Retained++
				res.Failures = append(res.Failures, failures...)
				continue
			}
			res.RepublishedCount++
		}
	}

	span.SetAttributes(
		attribute.Int("received", res.Received),
		attribute.Int("republished", res.RepublishedCount),
		attribute.Int("retained", res.Retained),
	)
	c.log.InfoContext(ctx, "collect.done",
		"rounds", res.Rounds,
		"received", res.Received,
		"republished", res.RepublishedCount,
		"events_republished", res.EventsRepublished,
		"retained", res.Retained,
		"failures", len(res.Failures),
	)
	return res, nil
}

// handleMessage republishes every event of msg and deletes msg only when
// all of them succeeded. It returns the number of events republished.
func (c *ResultCollector) handleMessage(ctx context.Context, mk Marketplace, msg task.InboundMessage) (int, []error) {
	events, err := task.DecodeEvents(msg.Body)
	if err != nil {
		c.log.WarnContext(ctx, "collect.message_undecodable", "message_id", msg.ID, "err", err)
		return 0, []error{&EventError{MessageID: msg.ID, Err: wrap(ErrMalformedInput, "%v", err)}}
	}

	var (
		mu        sync.Mutex
		failures  []error
		published int
	)

	g := new(errgroup.Group)
	g.SetLimit(c.cfg.EventConcurrency)

	for _, ev := range events {
		g.Go(func() error {
			err := c.handleEvent(ctx, mk, ev)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, &EventError{MessageID: msg.ID, AssignmentID: ev.AssignmentID, Err: err})
				return nil
			}
			published++
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) > 0 {
		return published, failures
	}

	if err := c.queue.Delete(ctx, msg); err != nil {
		c.log.WarnContext(ctx, "collect.delete_failed", "message_id", msg.ID, "err", err)
		return published, []error{&EventError{MessageID: msg.ID, Err: err}}
	}
	return published, nil
}

func (c *ResultCollector) handleEvent(ctx context.Context, mk Marketplace, ev task.CompletionEvent) error {
	if t, ok := c.metrics.(inFlightTracker); ok {
		defer t.InFlightEvent()()
	}

	asg, err := mk.GetAssignment(ctx, ev.AssignmentID)
	if err != nil {
		return wrap(ErrMarketplaceCallFailed, "get assignment: %v", err)
	}

	route, err := c.routes.Get(ctx, asg.WorkItemID)
	if err != nil {
		if errors.Is(err, task.ErrRouteNotFound) {
			c.log.WarnContext(ctx, "collect.orphaned_assignment",
				"assignment_id", ev.AssignmentID, "work_item_id", asg.WorkItemID)
			return wrap(ErrReconciliationGap, "work item %s has no route", asg.WorkItemID)
		}
		return wrap(ErrPersistenceFailed, "read route for work item %s: %v", asg.WorkItemID, err)
	}

	answers, err := DecodeAnswers(asg.AnswerXML)
	if err != nil {
		return err
	}

	channelID, err := c.resolver.Resolve(ctx, route.TaskName)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(answers)
	if err != nil {
		return wrap(ErrMalformedInput, "encode answers: %v", err)
	}

	msgID, err := c.publisher.Publish(ctx, channelID, payload)
	if err != nil {
		return wrap(ErrPublishFailed, "publish assignment %s: %v", ev.AssignmentID, err)
	}

	c.metrics.Record(metricCompletedPrefix+ChannelName(c.stack, route.TaskName), 1, c.now())
	c.log.DebugContext(ctx, "collect.republished",
		"assignment_id", ev.AssignmentID,
		"task", route.TaskName,
		"channel_id", channelID,
		"published_id", msgID,
	)
	return nil
}
