// Package bus implements the process-wide event bus of spec.md §4.1:
// priority-ordered, timed, async pub/sub with bounded history. Grounded
// on internal/trading/events/event_bus.go (channel/goroutine fan-out,
// zap.Logger, panic-isolation per handler) and
// internal/trading/events/eventbus_metrics.go (counters), generalized
// to add priority ordering, ring-buffer history, once-subscriptions and
// synchronous/asynchronous dispatch with a per-handler timeout — none of
// which the teacher's minimal bus had.
package bus

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nexustrade/tradingcore/internal/obs/metrics"
)

// Handler processes one event delivery. Returning an error (or
// panicking) isolates the failure to this subscription: it is logged
// and counted, never propagated to sibling handlers.
type Handler func(ctx context.Context, data interface{}) error

// SubscribeOptions configure one subscription.
type SubscribeOptions struct {
	Priority int  // higher runs first within an event name
	Once     bool // auto-unsubscribe after first successful dispatch
}

// PublishOptions configure one publish call.
type PublishOptions struct {
	Async     bool
	TimeoutMs int64 // per-handler timeout, sync or async; default 5000
}

// HistoryEntry is one ring-buffer record returned by GetHistory.
type HistoryEntry struct {
	ID    uint64
	Event string
	Data  interface{}
	Ts    time.Time
}

// Metrics mirrors spec.md §4.1's getMetrics shape.
type Metrics struct {
	EventsPublished uint64
	EventsHandled   uint64
	Errors          uint64
	SubscriberCount int
}

type subscription struct {
	id       uint64
	event    string
	handler  Handler
	priority int
	once     bool
}

const defaultHistorySize = 1000
const defaultHandlerTimeout = 5 * time.Second

// Bus is the single process-wide pub/sub instance.
type Bus struct {
	logger *zap.Logger
	m      *metrics.Bus

	mu      sync.RWMutex
	subs    map[string][]*subscription
	nextSub uint64

	histMu  sync.Mutex
	history []HistoryEntry
	histCap int
	nextEvt uint64

	published atomic.Uint64
	handled   atomic.Uint64
	errors    atomic.Uint64

	wg       sync.WaitGroup
	closing  chan struct{}
	closed   bool
}

// New creates a Bus with the default 1000-entry history ring buffer.
func New(logger *zap.Logger, m *metrics.Bus) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		logger:  logger.Named("bus"),
		m:       m,
		subs:    make(map[string][]*subscription),
		histCap: defaultHistorySize,
		closing: make(chan struct{}),
	}
}

// Subscribe registers handler for event and returns a subscription id
// usable with Unsubscribe. Handlers for an event fire in descending
// priority order.
func (b *Bus) Subscribe(event string, handler Handler, opts SubscribeOptions) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSub++
	id := b.nextSub
	sub := &subscription{id: id, event: event, handler: handler, priority: opts.Priority, once: opts.Once}
	b.subs[event] = append(b.subs[event], sub)
	sort.SliceStable(b.subs[event], func(i, j int) bool {
		return b.subs[event][i].priority > b.subs[event][j].priority
	})
	if b.m != nil {
		b.m.Subscribers.Inc()
	}
	return id
}

// Unsubscribe removes a subscription by id.
func (b *Bus) Unsubscribe(event string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[event]
	for i, s := range subs {
		if s.id == id {
			b.subs[event] = append(subs[:i], subs[i+1:]...)
			if b.m != nil {
				b.m.Subscribers.Dec()
			}
			return
		}
	}
}

// Publish dispatches data to every subscriber of event, recording it in
// history regardless of subscriber count. Every handler runs under a
// per-handler timeout (default 5s). When opts.Async is false, handlers
// run one after another and Publish waits for each in turn, up to that
// timeout. When true, each handler runs concurrently; Publish returns
// once all handlers have been launched (fire-and-track via internal
// waitgroup so Close can drain them).
func (b *Bus) Publish(ctx context.Context, event string, data interface{}, opts PublishOptions) {
	b.recordHistory(event, data)

	b.mu.RLock()
	subs := append([]*subscription{}, b.subs[event]...)
	b.mu.RUnlock()

	b.published.Add(1)
	if b.m != nil {
		b.m.EventsPublished.Inc()
	}

	if len(subs) == 0 {
		return
	}

	timeout := defaultHandlerTimeout
	if opts.TimeoutMs > 0 {
		timeout = time.Duration(opts.TimeoutMs) * time.Millisecond
	}

	for _, s := range subs {
		if opts.Async {
			b.wg.Add(1)
			go func(s *subscription) {
				defer b.wg.Done()
				if b.dispatch(ctx, s, event, data, timeout) && s.once {
					b.Unsubscribe(event, s.id)
				}
			}(s)
		} else if b.dispatch(ctx, s, event, data, timeout) && s.once {
			b.Unsubscribe(event, s.id)
		}
	}
}

// dispatch runs one handler under timeout and reports whether it
// completed without error.
func (b *Bus) dispatch(ctx context.Context, s *subscription, event string, data interface{}, timeout time.Duration) bool {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- recoverToError(r)
			}
		}()
		done <- s.handler(dctx, data)
	}()

	select {
	case err := <-done:
		if err != nil {
			b.errors.Add(1)
			if b.m != nil {
				b.m.Errors.Inc()
			}
			b.logger.Error("bus handler failed", zap.String("event", event), zap.Error(err))
			return false
		}
		b.handled.Add(1)
		if b.m != nil {
			b.m.EventsHandled.Inc()
		}
		return true
	case <-dctx.Done():
		b.errors.Add(1)
		if b.m != nil {
			b.m.Errors.Inc()
		}
		b.logger.Error("bus handler timed out", zap.String("event", event))
		return false
	}
}

func recoverToError(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &panicError{r}
}

type panicError struct{ v interface{} }

func (p *panicError) Error() string { return "panic: " + toString(p.v) }

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "non-string panic value"
}

func (b *Bus) recordHistory(event string, data interface{}) {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	b.nextEvt++
	entry := HistoryEntry{ID: b.nextEvt, Event: event, Data: data, Ts: time.Now()}
	b.history = append(b.history, entry)
	if len(b.history) > b.histCap {
		b.history = b.history[len(b.history)-b.histCap:]
	}
}

// WaitFor blocks until event fires (optionally matching filter) or
// timeout elapses, returning the matching payload.
func (b *Bus) WaitFor(ctx context.Context, event string, timeout time.Duration, filter func(interface{}) bool) (interface{}, bool) {
	result := make(chan interface{}, 1)
	id := b.Subscribe(event, func(_ context.Context, data interface{}) error {
		if filter == nil || filter(data) {
			select {
			case result <- data:
			default:
			}
		}
		return nil
	}, SubscribeOptions{Once: true, Priority: 1000})
	defer b.Unsubscribe(event, id)

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case data := <-result:
		return data, true
	case <-tctx.Done():
		return nil, false
	}
}

// GetHistory returns up to limit most-recent history entries, optionally
// filtered to one event name.
func (b *Bus) GetHistory(event string, limit int) []HistoryEntry {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	var out []HistoryEntry
	for i := len(b.history) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if event == "" || b.history[i].Event == event {
			out = append(out, b.history[i])
		}
	}
	return out
}

// GetMetrics returns the current bus-wide counters.
func (b *Bus) GetMetrics() Metrics {
	b.mu.RLock()
	subCount := 0
	for _, s := range b.subs {
		subCount += len(s)
	}
	b.mu.RUnlock()

	return Metrics{
		EventsPublished: b.published.Load(),
		EventsHandled:   b.handled.Load(),
		Errors:          b.errors.Load(),
		SubscriberCount: subCount,
	}
}

// Close drains in-flight async handlers with a grace period before
// returning, for orderly shutdown (spec.md §5).
func (b *Bus) Close(grace time.Duration) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		b.logger.Warn("bus close: grace period elapsed with handlers still in flight")
	}
}
