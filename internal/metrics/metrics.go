// Package metrics exposes operational counters fed from the bus tap.
package metrics

import (
	"context"
	"net/http"
	"strings"

	"github.com/Tq-Khanhs/Backend-messaging-app/internal/bus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector aggregates gateway/presence/dispatch activity published on the
// bus into Prometheus metrics.
type Collector struct {
	bus      *bus.Bus
	registry *prometheus.Registry
	cancel   context.CancelFunc

	connections prometheus.Gauge
	online      prometheus.Gauge
	dispatches  *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	drops       prometheus.Counter
}

// New creates a collector with its own Prometheus registry.
func New(b *bus.Bus) *Collector {
	c := &Collector{
		bus:      b,
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "messaging_live_connections",
			Help: "Live WebSocket connections.",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "messaging_online_users",
			Help: "Identities with at least one live connection.",
		}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messaging_dispatches_total",
			Help: "Dispatched events by kind.",
		}, []string{"kind"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messaging_deliveries_total",
			Help: "Per-connection deliveries by event kind.",
		}, []string{"kind"}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messaging_dropped_deliveries_total",
			Help: "Deliveries dropped on closed or saturated connections.",
		}),
	}
	c.registry.MustRegister(c.connections, c.online, c.dispatches, c.deliveries, c.drops)
	return c
}

// Start subscribes to the bus and begins aggregating.
func (c *Collector) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	ch, unsub := c.bus.Subscribe("", 512)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				c.handle(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops aggregation.
func (c *Collector) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Handler serves the collector's registry over HTTP.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) handle(evt bus.Event) {
	switch evt.Kind {
	case "gateway.connected":
		c.connections.Inc()
	case "gateway.disconnected":
		c.connections.Dec()
	case "presence.online":
		c.online.Inc()
	case "presence.offline":
		c.online.Dec()
	case "dispatch.dropped":
		c.drops.Inc()
	default:
		if kind, ok := strings.CutPrefix(evt.Kind, "dispatch."); ok {
			c.dispatches.WithLabelValues(kind).Inc()
			if n, ok := evt.Payload.(int); ok {
				c.deliveries.WithLabelValues(kind).Add(float64(n))
			}
		}
	}
}
