package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds the agentdeck channel-lifecycle instruments.
type Metrics struct {
	TerminalConnects   metric.Int64Counter
	TerminalReconnects metric.Int64Counter
	TerminalFrames     metric.Int64Counter
	OutputBytes        metric.Int64Counter
	ActiveTerminals    metric.Int64UpDownCounter
	TailWatches        metric.Int64Counter
	TailEvents         metric.Int64Counter
	TailReconnects     metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TerminalConnects, err = meter.Int64Counter("agentdeck.terminal.connects",
		metric.WithDescription("Terminal WebSocket connections accepted"),
	)
	if err != nil {
		return nil, err
	}

	m.TerminalReconnects, err = meter.Int64Counter("agentdeck.terminal.reconnects",
		metric.WithDescription("Terminal reconnect attempts after unexpected close"),
	)
	if err != nil {
		return nil, err
	}

	m.TerminalFrames, err = meter.Int64Counter("agentdeck.terminal.frames",
		metric.WithDescription("Terminal frames relayed in either direction"),
	)
	if err != nil {
		return nil, err
	}

	m.OutputBytes, err = meter.Int64Counter("agentdeck.terminal.output_bytes",
		metric.WithDescription("PTY output bytes streamed to clients"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveTerminals, err = meter.Int64UpDownCounter("agentdeck.terminal.active",
		metric.WithDescription("Currently attached terminal channels"),
	)
	if err != nil {
		return nil, err
	}

	m.TailWatches, err = meter.Int64Counter("agentdeck.tail.watches",
		metric.WithDescription("File-tail watches started"),
	)
	if err != nil {
		return nil, err
	}

	m.TailEvents, err = meter.Int64Counter("agentdeck.tail.events",
		metric.WithDescription("Tail events delivered, by kind"),
	)
	if err != nil {
		return nil, err
	}

	m.TailReconnects, err = meter.Int64Counter("agentdeck.tail.reconnects",
		metric.WithDescription("Tail watch reconnect attempts"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
