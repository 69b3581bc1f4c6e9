// Package notification delivers fire-and-forget operational signals such as
// "bed needs cleaning" to a pluggable publisher (log, Redis pub/sub or NATS),
// keeps a bounded in-memory history, and serves it over HTTP.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/caredispatch/internal/platform/metrics"
)

// Kind names what happened. It doubles as the publish subject suffix.
type Kind string

const (
	KindBedNeedsCleaning    Kind = "bed.needs_cleaning"
	KindVehicleOutOfService Kind = "vehicle.out_of_service"
	KindVehicleLowStock     Kind = "vehicle.low_stock"
	KindIncidentDispatched  Kind = "incident.dispatched"
	KindHandoverCompleted   Kind = "incident.handover_completed"
	KindHandoverVerified    Kind = "incident.handover_verified"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Signal is one notification. Resource is the id of the record it concerns.
type Signal struct {
	ID        uuid.UUID         `json:"id"`
	Kind      Kind              `json:"kind"`
	Resource  string            `json:"resource"`
	Message   string            `json:"message"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Status    string            `json:"status,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Notifier is what the domain services depend on. Notify never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, s Signal)
}

// Nop discards every signal.
type Nop struct{}

func (Nop) Notify(context.Context, Signal) {}

// Publisher moves an encoded signal onto a transport.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, subject string, payload []byte) error
	Close() error
}

const (
	defaultHistory = 500
	defaultQueue   = 256
	publishTimeout = 2 * time.Second
)

var (
	errQueueFull = errors.New("notification queue full")
	errClosed    = errors.New("notifier closed")
)

type queued struct {
	ctx context.Context
	s   Signal
}

// Manager implements Notifier on top of a Publisher. Notify only enqueues;
// one worker publishes in order, records the outcome and tells observers.
type Manager struct {
	pub     Publisher
	prefix  string
	logger  zerolog.Logger
	mu      sync.RWMutex
	history []Signal
	limit   int
	now     func() time.Time

	observers []Notifier

	queue   chan queued
	pending sync.WaitGroup
	closed  bool
	done    chan struct{}
}

// NewManager publishes each signal to "<prefix>.<kind>".
func NewManager(pub Publisher, prefix string, logger zerolog.Logger) *Manager {
	return newManager(pub, prefix, logger, defaultQueue)
}

func newManager(pub Publisher, prefix string, logger zerolog.Logger, queueSize int) *Manager {
	m := &Manager{
		pub:    pub,
		prefix: prefix,
		logger: logger,
		limit:  defaultHistory,
		now:    time.Now,
		queue:  make(chan queued, queueSize),
		done:   make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Manager) Subject(k Kind) string {
	if m.prefix == "" {
		return string(k)
	}
	return m.prefix + "." + string(k)
}

// Notify stamps s and queues it for publishing. It never blocks on the
// broker; when the queue is full the signal is recorded as failed so it
// can be retried.
func (m *Manager) Notify(ctx context.Context, s Signal) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = m.now().UTC()
	}
	ctx = context.WithoutCancel(ctx)

	m.pending.Add(1)
	m.mu.RLock()
	err := errClosed
	if !m.closed {
		select {
		case m.queue <- queued{ctx: ctx, s: s}:
			err = nil
		default:
			err = errQueueFull
		}
	}
	m.mu.RUnlock()
	if err != nil {
		m.finish(ctx, s, err)
		m.pending.Done()
	}
}

func (m *Manager) run() {
	defer close(m.done)
	for q := range m.queue {
		m.finish(q.ctx, q.s, m.publish(q.ctx, q.s))
		m.pending.Done()
	}
}

// Flush blocks until every signal queued so far is published and recorded.
func (m *Manager) Flush() {
	m.pending.Wait()
}

func (m *Manager) finish(ctx context.Context, s Signal, err error) {
	if err != nil {
		s.Status = StatusFailed
		s.Error = err.Error()
		m.logger.Warn().Err(err).
			Str("kind", string(s.Kind)).
			Str("resource", s.Resource).
			Str("backend", m.pub.Name()).
			Msg("notification not delivered")
	} else {
		s.Status = StatusSent
	}
	metrics.Notifications.WithLabelValues(m.pub.Name(), s.Status).Inc()
	m.record(s)

	m.mu.RLock()
	observers := m.observers
	m.mu.RUnlock()
	for _, o := range observers {
		o.Notify(ctx, s)
	}
}

// Observe registers n to receive every signal after it is published and
// recorded, with its id and delivery status filled in.
func (m *Manager) Observe(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, n)
}

func (m *Manager) publish(ctx context.Context, s Signal) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	// Delivery outlives a cancelled request but not a stuck broker.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	return m.pub.Publish(ctx, m.Subject(s.Kind), payload)
}

func (m *Manager) record(s Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, s)
	if over := len(m.history) - m.limit; over > 0 {
		m.history = append([]Signal(nil), m.history[over:]...)
	}
}

// Recent returns up to limit signals, newest first, optionally filtered by kind.
func (m *Manager) Recent(kind Kind, limit int) []Signal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Signal, 0)
	for i := len(m.history) - 1; i >= 0; i-- {
		if kind != "" && m.history[i].Kind != kind {
			continue
		}
		out = append(out, m.history[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Stats counts retained signals by delivery status.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := map[string]int{"total": len(m.history), StatusSent: 0, StatusFailed: 0}
	for _, s := range m.history {
		stats[s.Status]++
	}
	return stats
}

func (m *Manager) Backend() string { return m.pub.Name() }

// Close stops accepting signals, drains the queue and closes the publisher.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	<-m.done
	return m.pub.Close()
}

// Get returns a retained signal by id.
func (m *Manager) Get(id uuid.UUID) (Signal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.history {
		if s.ID == id {
			return s, true
		}
	}
	return Signal{}, false
}

var errNotFailed = errors.New("only failed notifications can be retried")

// Retry republishes a failed signal and updates its retained status.
func (m *Manager) Retry(ctx context.Context, id uuid.UUID) (Signal, error) {
	s, ok := m.Get(id)
	if !ok {
		return Signal{}, fmt.Errorf("notification %s not found", id)
	}
	if s.Status != StatusFailed {
		return s, errNotFailed
	}

	if err := m.publish(ctx, s); err != nil {
		s.Error = err.Error()
	} else {
		s.Status = StatusSent
		s.Error = ""
	}
	metrics.Notifications.WithLabelValues(m.pub.Name(), s.Status).Inc()

	m.mu.Lock()
	for i := range m.history {
		if m.history[i].ID == id {
			m.history[i] = s
		}
	}
	m.mu.Unlock()
	return s, nil
}
