package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_orders_total",
		Help: "Total orders accepted, partitioned by side",
	}, []string{"side"}) // bid/ask

	RejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_orders_rejected_total",
		Help: "Total orders rejected, partitioned by reason",
	}, []string{"reason"})

	TradesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_trades_total",
		Help: "Total settled trades",
	})

	VolumeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_volume_total",
		Help: "Total settled volume, partitioned by asset",
	}, []string{"asset"})
)
