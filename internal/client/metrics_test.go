package client

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/agentdeck/agentdeck/internal/otel"
)

// testMetrics builds real instruments backed by a manual reader so counter
// values can be asserted.
func testMetrics(t *testing.T) (*otel.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := otel.NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	return m, reader
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			if metric.Name != name {
				continue
			}
			sum, ok := metric.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is %T, want int64 sum", name, metric.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestTerminalReconnectIncrementsCounter(t *testing.T) {
	metrics, reader := testMetrics(t)
	dialer := &fakeDialer{}
	r := NewRegistry(RegistryConfig{
		Dialer:         dialer,
		ReconnectDelay: 20 * time.Millisecond,
		Measure:        func() (int, int) { return 100, 30 },
		Metrics:        metrics,
	})
	t.Cleanup(r.Close)

	streamingTerminal(t, r, dialer, "s1")
	dialer.transport(0).Close()
	waitFor(t, time.Second, func() bool { return dialer.dialCount() == 2 },
		"terminal never reconnected")

	if got := counterValue(t, reader, "agentdeck.terminal.reconnects"); got < 1 {
		t.Fatalf("terminal reconnects = %d, want >= 1", got)
	}
}

func TestTailReissueIncrementsCounter(t *testing.T) {
	metrics, reader := testMetrics(t)
	dialer := &fakeTailDialer{initial: "x"}
	c := NewTailController(TailControllerConfig{
		Dialer:     dialer,
		RetryDelay: 20 * time.Millisecond,
		Metrics:    metrics,
	})
	t.Cleanup(c.StopWatch)

	c.StartWatch("/tmp/a.txt", (&recorder{}).handlers(), WatchOptions{Follow: true})
	waitFor(t, time.Second, func() bool { return dialer.watchCount() == 1 }, "watch never opened")

	dialer.watch(0).stream.Close()
	waitFor(t, time.Second, func() bool { return dialer.watchCount() == 2 },
		"watch never re-issued")

	if got := counterValue(t, reader, "agentdeck.tail.reconnects"); got < 1 {
		t.Fatalf("tail reconnects = %d, want >= 1", got)
	}
}
