// Package metrics defines the prometheus counters/histograms shared
// across the trading core, grounded on the teacher's broad
// prometheus/client_golang usage (e.g.
// internal/risk/monitoring/performance_monitor.go).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Bus holds event-bus throughput metrics (spec.md §4.1 GetMetrics).
type Bus struct {
	EventsPublished prometheus.Counter
	EventsHandled   prometheus.Counter
	Errors          prometheus.Counter
	Subscribers     prometheus.Gauge
}

// NewBus registers bus metrics on reg, using a no-op registry for tests
// when reg is nil.
func NewBus(reg prometheus.Registerer) *Bus {
	b := &Bus{
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradingcore", Subsystem: "bus", Name: "events_published_total",
			Help: "Total events published to the bus.",
		}),
		EventsHandled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradingcore", Subsystem: "bus", Name: "events_handled_total",
			Help: "Total handler invocations that completed without error.",
		}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradingcore", Subsystem: "bus", Name: "errors_total",
			Help: "Total handler invocations that returned or panicked with an error.",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradingcore", Subsystem: "bus", Name: "subscribers",
			Help: "Current subscriber count across all events.",
		}),
	}
	if reg != nil {
		reg.MustRegister(b.EventsPublished, b.EventsHandled, b.Errors, b.Subscribers)
	}
	return b
}

// Orders holds order-lifecycle counters (spec.md §4.7).
type Orders struct {
	Created  prometheus.Counter
	Filled   prometheus.Counter
	Rejected prometheus.Counter
	Cancelled prometheus.Counter
}

// NewOrders registers order metrics on reg.
func NewOrders(reg prometheus.Registerer) *Orders {
	o := &Orders{
		Created:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "tradingcore", Subsystem: "orders", Name: "created_total", Help: "Orders created."}),
		Filled:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "tradingcore", Subsystem: "orders", Name: "filled_total", Help: "Orders fully filled."}),
		Rejected:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "tradingcore", Subsystem: "orders", Name: "rejected_total", Help: "Orders rejected."}),
		Cancelled: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "tradingcore", Subsystem: "orders", Name: "cancelled_total", Help: "Orders cancelled."}),
	}
	if reg != nil {
		reg.MustRegister(o.Created, o.Filled, o.Rejected, o.Cancelled)
	}
	return o
}

// Ingest holds historical-ingestion throughput counters (spec.md §4.3).
type Ingest struct {
	CandlesFetched prometheus.Counter
	CandlesStored  prometheus.Counter
	GapsDetected   prometheus.Counter
	Retries        prometheus.Counter
}

// NewIngest registers ingestion metrics on reg.
func NewIngest(reg prometheus.Registerer) *Ingest {
	i := &Ingest{
		CandlesFetched: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "tradingcore", Subsystem: "ingest", Name: "candles_fetched_total", Help: "Candles fetched from venues."}),
		CandlesStored:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "tradingcore", Subsystem: "ingest", Name: "candles_stored_total", Help: "Candles stored to the columnar store."}),
		GapsDetected:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "tradingcore", Subsystem: "ingest", Name: "gaps_detected_total", Help: "Data gaps detected."}),
		Retries:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "tradingcore", Subsystem: "ingest", Name: "retries_total", Help: "Chunk fetch retries."}),
	}
	if reg != nil {
		reg.MustRegister(i.CandlesFetched, i.CandlesStored, i.GapsDetected, i.Retries)
	}
	return i
}
