// Package metrics exposes billing backlog gauges in Prometheus format.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "billing"

// Backlog reports queue sizes.
type Backlog interface {
	PendingNotices(ctx context.Context) (int64, error)
	PendingOrders(ctx context.Context) (int64, error)
}

// NewRegistry returns a registry with the backlog gauges and the Go
// runtime collectors registered.
func NewRegistry(backlog Backlog, lg *zap.Logger) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "notice_outbox_pending",
				Help:      "Notices waiting for delivery to the mailer",
			},
			func() float64 { return count(backlog.PendingNotices, lg) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "orders_pending",
				Help:      "Orders waiting for a payment gateway outcome",
			},
			func() float64 { return count(backlog.PendingOrders, lg) },
		),
	)
	return reg
}

// Handler serves reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func count(fn func(context.Context) (int64, error), lg *zap.Logger) float64 {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := fn(ctx)
	if err != nil {
		lg.Warn("Backlog query failed", zap.Error(err))
		return 0
	}
	return float64(max(n, 0))
}
