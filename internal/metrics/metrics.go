// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func fqn(name string) string {
	return prometheus.BuildFQName("harvy", "swapd", name)
}

var (
	SwapsBuilt = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: fqn("swaps_built_total"),
			Help: "Swap build attempts by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	Broadcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: fqn("broadcasts_total"),
			Help: "Broadcast attempts by outcome",
		},
		[]string{"outcome"},
	)

	HarvestedLossUSD = prometheus.NewCounter(prometheus.CounterOpts{
		Name: fqn("harvested_loss_usd_total"),
		Help: "Accumulated realized loss across built swaps, in USD",
	})

	HttpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    fqn("http_duration"),
			Help:    "HTTP request duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1, 5, 15},
		},
		[]string{"method", "path", "status"},
	)
)

// HTTP is a gin middleware recording request durations.
func HTTP(c *gin.Context) {
	started := time.Now()

	c.Next()

	HttpDuration.WithLabelValues(
		c.Request.Method,
		c.FullPath(),
		strconv.Itoa(c.Writer.Status()),
	).Observe(time.Since(started).Seconds())
}

func init() {
	prometheus.MustRegister(
		SwapsBuilt,
		Broadcasts,
		HarvestedLossUSD,
		HttpDuration,
	)
}
