package strategy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nexustrade/tradingcore/internal/bus"
	"github.com/nexustrade/tradingcore/internal/model"
)

// ContextBuilder supplies the MarketContext for a strategy's pair on
// each tick, backed by the aggregator's cache in production or a
// synthesized mock during tests, per spec.md §4.5.
type ContextBuilder func(pair model.Pair) (MarketContext, bool)

// Entry is one scheduled strategy instance plus its durable metadata.
type Entry struct {
	Record   *model.Strategy
	Strategy Strategy
}

// Scheduler runs a periodic tick over active strategies, guarded by a
// non-reentrant mutex: an incoming tick is dropped if the prior is
// still running, per spec.md §5.
type Scheduler struct {
	logger *zap.Logger
	bus    *bus.Bus
	build  ContextBuilder
	tick   time.Duration

	mu         sync.RWMutex
	entries    map[string]*Entry
	running    map[string]bool

	reentrancy sync.Mutex
	ticking    bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Scheduler with the default 30s tick interval.
func New(logger *zap.Logger, b *bus.Bus, build ContextBuilder, tickInterval time.Duration) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tickInterval <= 0 {
		tickInterval = 30 * time.Second
	}
	return &Scheduler{
		logger:  logger.Named("strategy-scheduler"),
		bus:     b,
		build:   build,
		tick:    tickInterval,
		entries: make(map[string]*Entry),
		running: make(map[string]bool),
		stopCh:  make(chan struct{}),
	}
}

// Activate adds a strategy to the running set, transitioning its record
// inactive/paused -> active.
func (s *Scheduler) Activate(e *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Record.Status = model.StrategyStatusActive
	s.entries[e.Record.ID] = e
	s.running[e.Record.ID] = true
}

// Deactivate removes a strategy from the running set.
func (s *Scheduler) Deactivate(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.Record.Status = model.StrategyStatusInactive
	}
	delete(s.running, id)
}

// Pause transitions a running strategy to paused without removing it
// from entries.
func (s *Scheduler) Pause(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.Record.Status = model.StrategyStatusPaused
	}
	delete(s.running, id)
}

// Reset clears an error-terminal strategy back to inactive and clears
// its error message; a strategy in any other status is left unchanged.
// Deactivate and Activate also move a strategy out of StatusError.
func (s *Scheduler) Reset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok && e.Record.Status == model.StrategyStatusError {
		e.Record.Status = model.StrategyStatusInactive
		e.Record.Error = ""
	}
}

// Start launches the periodic tick loop; it returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.doneCh = make(chan struct{})
	go s.loop(ctx)
}

// Stop cancels the tick loop and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	if s.doneCh != nil {
		<-s.doneCh
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

// runTick acquires the non-reentrant guard and iterates active
// strategies, invoking GenerateSignal and emitting trading:strategySignal
// for any non-hold action, enforcing the daily-trade-limit per strategy.
func (s *Scheduler) runTick(ctx context.Context) {
	if !s.reentrancy.TryLock() {
		s.logger.Debug("tick dropped: previous tick still running")
		return
	}
	defer s.reentrancy.Unlock()

	s.mu.RLock()
	active := make([]*Entry, 0, len(s.running))
	for id := range s.running {
		active = append(active, s.entries[id])
	}
	s.mu.RUnlock()

	now := time.Now()
	for _, e := range active {
		s.runOne(ctx, e, now)
	}
}

func (s *Scheduler) runOne(ctx context.Context, e *Entry, now time.Time) {
	mctx, ok := s.build(e.Record.Pair)
	if !ok {
		return
	}

	if dailyTradeCount(e.Record, now) >= dailyTradeLimit(e.Record) {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			e.Record.Status = model.StrategyStatusError
			e.Record.Error = "panic in GenerateSignal"
			s.logger.Error("strategy panicked", zap.String("strategyId", e.Record.ID))
		}
	}()

	sig := e.Strategy.GenerateSignal(mctx)
	e.Record.LastRunAt = &now

	if sig.Action == model.SignalHold {
		return
	}
	e.Record.Signals = append(e.Record.Signals, sig)

	if s.bus != nil {
		s.bus.Publish(ctx, bus.EventStrategySignal, map[string]interface{}{
			"strategyId": e.Record.ID,
			"userId":     e.Record.UserID,
			"pair":       e.Record.Pair,
			"exchange":   e.Record.Exchange,
			"signal":     sig,
			"ts":         now,
		}, bus.PublishOptions{Async: false})
	}
}

// RecordTrade appends an executed trade to a strategy's durable record
// and updates its aggregate performance counters, under the same lock
// that guards scheduler ticks — the single writer for this record per
// spec.md §5. Called by the trading coordinator once a signal's order
// has filled.
func (s *Scheduler) RecordTrade(strategyID string, trade model.PositionTrade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[strategyID]
	if !ok {
		return
	}
	e.Record.Trades = append(e.Record.Trades, trade)

	perf := &e.Record.Performance
	perf.TotalTrades++
	perf.RealizedPnL = perf.RealizedPnL.Add(trade.RealizedPnL)
	if trade.RealizedPnL.IsPositive() {
		perf.WinningTrades++
	} else if trade.RealizedPnL.IsNegative() {
		perf.LosingTrades++
	}
}

// ActiveStrategiesForUser returns the ids of every currently-running
// strategy owned by userID, for circuit-breaker deactivation.
func (s *Scheduler) ActiveStrategiesForUser(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id := range s.running {
		if e := s.entries[id]; e != nil && e.Record.UserID == userID {
			ids = append(ids, id)
		}
	}
	return ids
}

func dailyTradeLimit(rec *model.Strategy) int {
	if v, ok := rec.Params["dailyTradeLimit"]; ok {
		if n, ok := v.(int); ok {
			return n
		}
		if f, ok := v.(float64); ok {
			return int(f)
		}
	}
	return 1 << 30 // effectively unlimited when unset
}

func dailyTradeCount(rec *model.Strategy, now time.Time) int {
	today := now.Format("2006-01-02")
	count := 0
	for _, t := range rec.Trades {
		if t.Ts.Format("2006-01-02") == today {
			count++
		}
	}
	return count
}
