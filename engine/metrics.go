package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchbook_commands_total",
		Help: "Commands applied by the engine loop, partitioned by type and outcome",
	}, []string{"type", "outcome"})

	commandsSaturatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchbook_commands_saturated_total",
		Help: "Commands refused because the command queue was full",
	})

	tradesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchbook_trades_total",
		Help: "Trades produced by matching",
	})

	tradeQuantityTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchbook_trade_quantity_total",
		Help: "Total matched quantity",
	})

	eventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchbook_events_dropped_total",
		Help: "Result events dropped because the consumer lagged",
	}, []string{"kind"})

	updatesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchbook_book_updates_dropped_total",
		Help: "Top-of-book updates dropped because the consumer lagged",
	})

	commandDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "matchbook_command_duration_seconds",
		Help:    "Time to fully apply one command, emission included",
		Buckets: prometheus.ExponentialBuckets(1e-6, 2, 16), // 1µs -> ~32ms
	})

	restingOrders = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matchbook_resting_orders",
		Help: "Resting orders currently on the book, per side",
	}, []string{"side"})
)

func (e *Engine) observeBookGauges() {
	restingOrders.WithLabelValues("buy").Set(float64(e.book.sideOrders(Buy)))
	restingOrders.WithLabelValues("sell").Set(float64(e.book.sideOrders(Sell)))
}
