package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nexustrade/tradingcore/internal/bus"
	"github.com/nexustrade/tradingcore/internal/cache"
	"github.com/nexustrade/tradingcore/internal/model"
	obserrors "github.com/nexustrade/tradingcore/internal/obs/errors"
	"github.com/nexustrade/tradingcore/internal/obs/metrics"
)

// Submitter is the excluded venue-submission collaborator: the core
// depends on it only through this interface (spec.md §1 Non-goals).
// Submit returns the externalId and any immediate synchronous fills.
type Submitter interface {
	Submit(ctx context.Context, o *model.Order) (externalID string, fills []model.Trade, err error)
}

// SimulatedSubmitter fills an order immediately and in full at the
// order's Price, for local running and tests without a live venue. Any
// order with a Price is filled, whatever its type; a market order with
// no Price fills at zero; any other order with no Price gets no fill.
// The context is not consulted.
type SimulatedSubmitter struct{}

func (SimulatedSubmitter) Submit(_ context.Context, o *model.Order) (string, []model.Trade, error) {
	if o.Type != model.OrderTypeMarket && o.Price == nil {
		return "", nil, nil
	}
	price := decimal.Zero
	if o.Price != nil {
		price = *o.Price
	}
	return uuid.NewString(), []model.Trade{{
		TradeID: uuid.NewString(), Price: price, Amount: o.Amount, Fee: decimal.Zero, Side: o.Side, Ts: time.Now(),
	}}, nil
}

// Filters narrows GetUserOrders results.
type Filters struct {
	Status   model.OrderStatus
	Pair     model.Pair
	Exchange string
}

// Stats summarizes a user's order history for GetOrderStats.
type Stats struct {
	Total     int
	Filled    int
	Cancelled int
	Rejected  int
}

// Manager is the single-writer order table plus its single-worker
// processor, per spec.md §4.7 and §5 ("Order processor runs in series
// to avoid concurrent submits per user").
type Manager struct {
	logger  *zap.Logger
	bus     *bus.Bus
	cache   *cache.Cache
	metrics *metrics.Orders
	limits  Limits
	submit  Submitter

	mu     sync.Mutex
	orders map[uuid.UUID]*model.Order

	queue  chan uuid.UUID
	stopCh chan struct{}
}

// New constructs a Manager and starts its single background processor
// goroutine.
func New(logger *zap.Logger, b *bus.Bus, c *cache.Cache, m *metrics.Orders, limits Limits, submit Submitter) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if submit == nil {
		submit = SimulatedSubmitter{}
	}
	mgr := &Manager{
		logger:  logger.Named("orders"),
		bus:     b,
		cache:   c,
		metrics: m,
		limits:  limits,
		submit:  submit,
		orders:  make(map[uuid.UUID]*model.Order),
		queue:   make(chan uuid.UUID, 4096),
		stopCh:  make(chan struct{}),
	}
	go mgr.processLoop()
	return mgr
}

// Close stops the processor goroutine.
func (m *Manager) Close() { close(m.stopCh) }

// CreateOrder validates, persists, enqueues, and emits orderCreated,
// per spec.md §4.7.
func (m *Manager) CreateOrder(ctx context.Context, o *model.Order) (*model.Order, error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	now := time.Now()
	o.CreatedAt, o.UpdatedAt = now, now
	o.Status = model.OrderStatusPending
	o.RemainingAmount = o.Amount
	if o.TIF == "" {
		o.TIF = model.TIFGTC
	}

	result := ValidateCreate(o, m.limits)
	if !result.Valid() {
		return nil, obserrors.New(obserrors.Validation, fmt.Sprintf("invalid order: %v", result.Messages)).
			WithField("messages", result.Messages).WithField("warnings", result.Warnings)
	}

	m.mu.Lock()
	m.orders[o.ID] = o
	m.mu.Unlock()

	if m.cache != nil {
		_ = m.cache.Set(ctx, cache.OrderKey(o.ID.String()), o, cache.DefaultTTL)
	}
	if m.metrics != nil {
		m.metrics.Created.Inc()
	}
	if m.bus != nil {
		m.bus.Publish(ctx, bus.EventOrderCreated, map[string]interface{}{"order": o}, bus.PublishOptions{})
	}

	select {
	case m.queue <- o.ID:
	default:
		m.logger.Warn("order queue full, processing inline", zap.String("orderId", o.ID.String()))
		m.processOne(ctx, o.ID)
	}
	return o, nil
}

// GetOrder looks up an order by id.
func (m *Manager) GetOrder(id uuid.UUID) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, obserrors.New(obserrors.NotFound, "order not found")
	}
	return o, nil
}

// GetUserOrders applies filters over one user's orders.
func (m *Manager) GetUserOrders(userID string, f Filters) []*model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Order
	for _, o := range m.orders {
		if o.UserID != userID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.Pair != "" && o.Pair != f.Pair {
			continue
		}
		if f.Exchange != "" && o.Exchange != f.Exchange {
			continue
		}
		out = append(out, o)
	}
	return out
}

// UpdateOrder applies a decreased amount to a non-terminal order.
func (m *Manager) UpdateOrder(id uuid.UUID, newAmount decimal.Decimal) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, obserrors.New(obserrors.NotFound, "order not found")
	}
	result := ValidateUpdate(o, newAmount)
	if !result.Valid() {
		return nil, obserrors.New(obserrors.Conflict, fmt.Sprintf("invalid update: %v", result.Messages))
	}
	o.Amount = newAmount
	o.RemainingAmount = newAmount.Sub(o.FilledAmount)
	o.UpdatedAt = time.Now()
	return o, nil
}

// CancelOrder transitions a cancellable order to cancelled and emits
// orderCancelled.
func (m *Manager) CancelOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	m.mu.Lock()
	o, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return nil, obserrors.New(obserrors.NotFound, "order not found")
	}
	if !o.CanCancel() {
		m.mu.Unlock()
		return nil, obserrors.New(obserrors.Conflict, "order cannot be cancelled in its current state")
	}
	now := time.Now()
	o.Status = model.OrderStatusCancelled
	o.CancelledAt = &now
	o.UpdatedAt = now
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.Cancelled.Inc()
	}
	if m.bus != nil {
		m.bus.Publish(ctx, bus.EventOrderCancelled, map[string]interface{}{"order": o}, bus.PublishOptions{})
	}
	return o, nil
}

// GetOrderStats summarizes a user's order history.
func (m *Manager) GetOrderStats(userID string) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s Stats
	for _, o := range m.orders {
		if o.UserID != userID {
			continue
		}
		s.Total++
		switch o.Status {
		case model.OrderStatusFilled:
			s.Filled++
		case model.OrderStatusCancelled:
			s.Cancelled++
		case model.OrderStatusRejected:
			s.Rejected++
		}
	}
	return s
}

func (m *Manager) processLoop() {
	for {
		select {
		case <-m.stopCh:
			return
		case id := <-m.queue:
			m.processOne(context.Background(), id)
		}
	}
}

// processOne marks the order open, submits to the venue (or simulates),
// and applies any immediately-returned fills, per spec.md §4.7.
func (m *Manager) processOne(ctx context.Context, id uuid.UUID) {
	m.mu.Lock()
	o, ok := m.orders[id]
	m.mu.Unlock()
	if !ok {
		return
	}

	m.mu.Lock()
	if o.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	o.Status = model.OrderStatusOpen
	o.UpdatedAt = time.Now()
	m.mu.Unlock()
	if m.bus != nil {
		m.bus.Publish(ctx, bus.EventOrderOpened, map[string]interface{}{"order": o}, bus.PublishOptions{})
	}

	externalID, fills, err := m.submit.Submit(ctx, o)
	if err != nil {
		m.mu.Lock()
		o.Status = model.OrderStatusRejected
		o.UpdatedAt = time.Now()
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.Rejected.Inc()
		}
		if m.bus != nil {
			m.bus.Publish(ctx, bus.EventOrderRejected, map[string]interface{}{"order": o}, bus.PublishOptions{})
		}
		return
	}

	m.mu.Lock()
	o.ExternalID = externalID
	m.mu.Unlock()

	for _, fill := range fills {
		m.ApplyFill(ctx, id, fill)
	}
}

// ApplyFill appends a trade, recomputes amounts, and transitions status
// to partial or filled, emitting the matching event, per spec.md §4.7.
func (m *Manager) ApplyFill(ctx context.Context, id uuid.UUID, fill model.Trade) {
	m.mu.Lock()
	o, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	o.ApplyFill(fill)

	var event string
	if o.RemainingAmount.LessThanOrEqual(decimal.Zero) {
		now := time.Now()
		o.Status = model.OrderStatusFilled
		o.FilledAt = &now
		event = bus.EventOrderFilled
	} else {
		o.Status = model.OrderStatusPartial
		event = bus.EventOrderPartiallyFilled
	}
	m.mu.Unlock()

	if m.metrics != nil && event == bus.EventOrderFilled {
		m.metrics.Filled.Inc()
	}
	if m.bus != nil {
		m.bus.Publish(ctx, event, map[string]interface{}{"order": o, "userId": o.UserID}, bus.PublishOptions{})
	}
}
