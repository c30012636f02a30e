package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/Tq-Khanhs/Backend-messaging-app/internal/bus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func waitFor(t *testing.T, gauge prometheus.Collector, want float64) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(gauge) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("gauge = %v, want %v", testutil.ToFloat64(gauge), want)
}

func TestCollectorFollowsBusEvents(t *testing.T) {
	b := bus.New()
	c := New(b)
	c.Start(context.Background())
	defer c.Stop()

	b.Publish("gateway.connected", "c1")
	b.Publish("gateway.connected", "c2")
	b.Publish("presence.online", "alice")
	waitFor(t, c.connections, 2)
	waitFor(t, c.online, 1)

	b.Publish("gateway.disconnected", "c2")
	b.Publish("presence.offline", "alice")
	waitFor(t, c.connections, 1)
	waitFor(t, c.online, 0)

	b.Publish("dispatch.new_message", 3)
	b.Publish("dispatch.dropped", "c1")
	waitFor(t, c.drops, 1)
	if got := testutil.ToFloat64(c.dispatches.WithLabelValues("new_message")); got != 1 {
		t.Errorf("dispatches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.deliveries.WithLabelValues("new_message")); got != 3 {
		t.Errorf("deliveries = %v, want 3", got)
	}
}
