package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("taskintegrator/pipeline")

type ServiceConfig struct {
	// Stack prefixes channel names.
	Stack string
	// Namespace is the ConfigStore key holding runtime settings.
	Namespace         string
	PollRounds        int
	MaxMessages       int
	SubmitConcurrency int
	EventConcurrency  int
}

// Service is the long-lived pipeline instance behind the entry points. It
// owns the channel resolver, so one Service per process.
type Service struct {
	cfg       ServiceConfig
	store     ConfigStore
	dial      MarketplaceDialer
	submitter *BatchSubmitter
	collector *ResultCollector
	resolver  *ChannelResolver
	metrics   MetricsSink
	log       *slog.Logger
}

// stageObserver is implemented by metrics sinks that time entry points.
type stageObserver interface {
	ObserveStage(stage string, start time.Time, err error)
}

func NewService(cfg ServiceConfig, store ConfigStore, dial MarketplaceDialer, routes RoutingStore, queue InboundQueue, publisher ChannelPublisher, metrics MetricsSink, log *slog.Logger) *Service {
	if dial == nil {
		dial = DialMarketplace
	}
	if metrics == nil {
		metrics = discardMetrics{}
	}
	if log == nil {
		log = slog.Default()
	}

	resolver := NewChannelResolver(cfg.Stack, publisher)

	return &Service{
		cfg:       cfg,
		store:     store,
		dial:      dial,
		submitter: NewBatchSubmitter(routes, metrics, log, cfg.SubmitConcurrency),
		collector: NewResultCollector(CollectorConfig{
			PollRounds:       cfg.PollRounds,
			MaxMessages:      cfg.MaxMessages,
			EventConcurrency: cfg.EventConcurrency,
		}, cfg.Stack, queue, routes, resolver, publisher, metrics, log),
		resolver: resolver,
		metrics:  metrics,
		log:      log,
	}
}

// SubmitBatch loads settings and submits one CSV object.
func (s *Service) SubmitBatch(ctx context.Context, in BatchInput) (_ SubmitResult, err error) {
	defer s.observe("submit_batch", time.Now(), &err)

	settings, mk, err := s.connect(ctx)
	if err != nil {
		return SubmitResult{ObjectKey: in.ObjectKey}, err
	}

	res, err := s.submitter.Submit(ctx, mk, settings, in)
	if err != nil {
		s.log.ErrorContext(ctx, "batch.rejected", "object_key", in.ObjectKey, "kind", Kind(err), "err", err)
	}
	return res, err
}

// RecordOutcome is the result of one record of a multi-record trigger.
type RecordOutcome struct {
	Result SubmitResult
	Err    error
}

// SubmitRecords submits each record on its own. Settings are loaded once;
// if that fails nothing is submitted.
func (s *Service) SubmitRecords(ctx context.Context, records []BatchInput) (_ []RecordOutcome, err error) {
	defer s.observe("submit_records", time.Now(), &err)

	settings, mk, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]RecordOutcome, len(records))
	for i, in := range records {
		res, err := s.submitter.Submit(ctx, mk, settings, in)
		if err != nil {
			s.log.ErrorContext(ctx, "batch.rejected", "object_key", in.ObjectKey, "kind", Kind(err), "err", err)
		}
		out[i] = RecordOutcome{Result: res, Err: err}
	}
	return out, nil
}

// CollectResults drains the inbound queue for the configured rounds.
func (s *Service) CollectResults(ctx context.Context) (_ CollectResult, err error) {
	defer s.observe("collect_results", time.Now(), &err)

	_, mk, err := s.connect(ctx)
	if err != nil {
		return CollectResult{}, err
	}
	return s.collector.Collect(ctx, mk)
}

// CheckBalance returns the current marketplace balance.
func (s *Service) CheckBalance(ctx context.Context) (_ decimal.Decimal, err error) {
	defer s.observe("check_balance", time.Now(), &err)

	_, mk, err := s.connect(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	b, err := mk.GetBalance(ctx)
	if err != nil {
		return decimal.Zero, wrap(ErrMarketplaceCallFailed, "get balance: %v", err)
	}
	return b, nil
}

// KnownChannels reports the size of the channel cache.
func (s *Service) KnownChannels() int {
	return s.resolver.Known()
}

func (s *Service) observe(stage string, start time.Time, err *error) {
	if o, ok := s.metrics.(stageObserver); ok {
		o.ObserveStage(stage, start, *err)
	}
}

func (s *Service) loadSettings(ctx context.Context) (Settings, error) {
	raw, err := s.store.LoadAll(ctx, s.cfg.Namespace)
	if err != nil {
		return Settings{}, wrap(ErrConfigUnavailable, "load %s: %v", s.cfg.Namespace, err)
	}
	return decodeSettings(raw)
}

func (s *Service) connect(ctx context.Context) (Settings, Marketplace, error) {
	settings, err := s.loadSettings(ctx)
	if err != nil {
		return Settings{}, nil, err
	}

	mk, err := s.dial(ctx, settings.Marketplace())
	if err != nil {
		return Settings{}, nil, wrap(ErrConfigUnavailable, "marketplace client: %v", err)
	}
	return settings, mk, nil
}
