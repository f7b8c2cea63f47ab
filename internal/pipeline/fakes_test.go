package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/geocoder89/taskintegrator/internal/domain/task"
	"github.com/geocoder89/taskintegrator/internal/marketplace"
	"github.com/geocoder89/taskintegrator/internal/repo/memory"
	"github.com/shopspring/decimal"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	raw map[string]any
	err error
}

func (s *fakeStore) LoadAll(context.Context, string) (map[string]any, error) {
	return s.raw, s.err
}

type notificationCall struct {
	TypeID      string
	Destination string
	EventTypes  []string
}

type fakeMarketplace struct {
	mu sync.Mutex

	balance    decimal.Decimal
	balanceErr error

	// failCreate makes the n-th CreateWorkItem call (1-based) fail.
	failCreate map[int]bool
	createN    int
	created    []task.CreateRequest

	typeID        string
	notifications []notificationCall
	notifyErr     error

	assignments map[string]task.Assignment

	// order records call names so tests can check sequencing.
	order *[]string
}

func newFakeMarketplace(balance string) *fakeMarketplace {
	return &fakeMarketplace{
		balance:     decimal.RequireFromString(balance),
		failCreate:  map[int]bool{},
		typeID:      "TYPE-1",
		assignments: map[string]task.Assignment{},
	}
}

func (m *fakeMarketplace) note(s string) {
	if m.order != nil {
		*m.order = append(*m.order, s)
	}
}

func (m *fakeMarketplace) GetBalance(context.Context) (decimal.Decimal, error) {
	return m.balance, m.balanceErr
}

func (m *fakeMarketplace) CreateWorkItem(_ context.Context, req task.CreateRequest) (task.WorkItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.createN++
	if m.failCreate[m.createN] {
		return task.WorkItem{}, errors.New("throttled")
	}
	m.created = append(m.created, req)
	m.note("create")
	return task.WorkItem{ID: fmt.Sprintf("WI-%d", m.createN), TypeID: m.typeID}, nil
}

func (m *fakeMarketplace) GetWorkItem(_ context.Context, id string) (task.WorkItem, error) {
	return task.WorkItem{ID: id, TypeID: m.typeID}, nil
}

func (m *fakeMarketplace) GetAssignment(_ context.Context, id string) (task.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assignments[id]
	if !ok {
		return task.Assignment{}, errors.New("assignment not found")
	}
	return a, nil
}

func (m *fakeMarketplace) SetNotification(_ context.Context, typeID, destination string, eventTypes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.notifyErr != nil {
		return m.notifyErr
	}
	m.notifications = append(m.notifications, notificationCall{typeID, destination, eventTypes})
	m.note("notify")
	return nil
}

// subscriptions is the effective state: one subscription per type.
func (m *fakeMarketplace) subscriptions() map[string]string {
	out := map[string]string{}
	for _, n := range m.notifications {
		out[n.TypeID] = n.Destination
	}
	return out
}

func dialer(mk Marketplace) MarketplaceDialer {
	return func(context.Context, marketplace.Config) (Marketplace, error) { return mk, nil }
}

type fakeRoutes struct {
	*memory.TaskRoutesRepo
	putErr error
	getErr error
	order  *[]string

	// putErrOnce fails the next Put only.
	putErrOnce error
}

func newFakeRoutes() *fakeRoutes {
	return &fakeRoutes{TaskRoutesRepo: memory.NewTaskRoutesRepo()}
}

func (r *fakeRoutes) Put(ctx context.Context, e task.RoutingEntry) error {
	if r.putErr != nil {
		return r.putErr
	}
	if err := r.putErrOnce; err != nil {
		r.putErrOnce = nil
		return err
	}
	if r.order != nil {
		*r.order = append(*r.order, "route")
	}
	return r.TaskRoutesRepo.Put(ctx, e)
}

func (r *fakeRoutes) Get(ctx context.Context, id string) (task.RoutingEntry, error) {
	if r.getErr != nil {
		return task.RoutingEntry{}, r.getErr
	}
	return r.TaskRoutesRepo.Get(ctx, id)
}

type fakeQueue struct {
	mu      sync.Mutex
	rounds  [][]task.InboundMessage
	calls   int
	deleted map[string]int
}

func newFakeQueue(rounds ...[]task.InboundMessage) *fakeQueue {
	return &fakeQueue{rounds: rounds, deleted: map[string]int{}}
}

func (q *fakeQueue) Receive(_ context.Context, max int) ([]task.InboundMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.calls
	q.calls++
	if i >= len(q.rounds) {
		return nil, nil
	}
	msgs := q.rounds[i]
	if len(msgs) > max {
		msgs = msgs[:max]
	}
	return msgs, nil
}

func (q *fakeQueue) Delete(_ context.Context, msg task.InboundMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted[msg.ID]++
	return nil
}

type published struct {
	ChannelID string
	Message   []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	ids      map[string]string
	ensureN  int
	messages []published
	pubErr   error
	delay    time.Duration
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{ids: map[string]string{}}
}

func (p *fakePublisher) EnsureChannel(_ context.Context, name string) (string, error) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.ensureN++
	if id, ok := p.ids[name]; ok {
		return id, nil
	}
	id := "ch-" + name
	p.ids[name] = id
	return id, nil
}

func (p *fakePublisher) Publish(_ context.Context, channelID string, message []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pubErr != nil {
		return "", p.pubErr
	}
	p.messages = append(p.messages, published{channelID, message})
	return fmt.Sprintf("msg-%d", len(p.messages)), nil
}

type observation struct {
	Name  string
	Value float64
}

type fakeMetrics struct {
	mu  sync.Mutex
	obs []observation
}

func (m *fakeMetrics) Record(name string, value float64, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.obs = append(m.obs, observation{name, value})
}

func (m *fakeMetrics) values(name string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []float64
	for _, o := range m.obs {
		if o.Name == name {
			out = append(out, o.Value)
		}
	}
	return out
}

func param(r task.Row, name string) string {
	v, _ := r.Get(name)
	return v
}
