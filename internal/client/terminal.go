package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/agentdeck/agentdeck/internal/protocol"
)

// State is a terminal channel's connection state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal is one session's terminal channel entry: the persistent surface,
// the current transport, and the reconnect state machine. The registry owns
// the entry; the terminal mutates only itself.
type Terminal struct {
	sessionID string
	registry  *Registry
	surface   *Surface

	mu        sync.Mutex
	state     State
	transport TerminalTransport
	viewOpen  bool
	noticed   bool
	lastCols  int
	lastRows  int

	// gen invalidates stale reconnect timers and read loops after teardown.
	gen int
}

func newTerminal(r *Registry, sessionID string) *Terminal {
	return &Terminal{
		sessionID: sessionID,
		registry:  r,
		surface:   newSurface(r.measure),
		state:     StateIdle,
		viewOpen:  true,
	}
}

// SessionID returns the owning session's id.
func (t *Terminal) SessionID() string { return t.sessionID }

// Surface returns the terminal's persistent scrollback surface.
func (t *Terminal) Surface() *Surface { return t.surface }

// State returns the current connection state.
func (t *Terminal) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetViewOpen marks whether the terminal view is meant to be open. A closed
// view lets the current transport run on but suppresses reconnects.
func (t *Terminal) SetViewOpen(open bool) {
	t.mu.Lock()
	t.viewOpen = open
	t.mu.Unlock()
}

// SendInput forwards keystrokes as an input frame. The current transport is
// re-read on every call so sends never bind to a connection that a
// reconnect has since replaced.
func (t *Terminal) SendInput(data string) error {
	t.mu.Lock()
	tr := t.transport
	state := t.state
	t.mu.Unlock()
	if tr == nil {
		return fmt.Errorf("terminal %s is %s, not streaming", t.sessionID, state)
	}
	return tr.Send(t.registry.ctx, protocol.Frame{Type: protocol.FrameInput, Data: data})
}

// Resize records new surface dimensions and propagates them. Identical
// consecutive sizes send nothing; while disconnected the dimensions are
// held and sent with the next connect's opening resize frame.
func (t *Terminal) Resize(cols, rows int) error {
	t.surface.setDims(cols, rows)

	t.mu.Lock()
	tr := t.transport
	if tr == nil || t.state != StateStreaming || (cols == t.lastCols && rows == t.lastRows) {
		t.mu.Unlock()
		return nil
	}
	t.lastCols, t.lastRows = cols, rows
	t.mu.Unlock()
	return tr.Send(t.registry.ctx, protocol.Frame{Type: protocol.FrameResize, Cols: cols, Rows: rows})
}

// Refit re-measures the surface and propagates the resulting grid. The
// layout coordinator calls this after every transition that makes the
// terminal visible.
func (t *Terminal) Refit() error {
	cols, rows, _ := t.surface.Fit()
	return t.Resize(cols, rows)
}

// connect moves Idle or Reconnecting to Connecting and dials in the
// background.
func (t *Terminal) connect() {
	t.mu.Lock()
	if t.state != StateIdle && t.state != StateReconnecting {
		t.mu.Unlock()
		return
	}
	t.state = StateConnecting
	gen := t.gen
	t.mu.Unlock()
	go t.dial(gen)
}

func (t *Terminal) dial(gen int) {
	tr, err := t.registry.dialer.Dial(t.registry.ctx, t.sessionID)

	t.mu.Lock()
	if t.gen != gen || t.state != StateConnecting {
		t.mu.Unlock()
		if err == nil {
			_ = tr.Close()
		}
		return
	}
	if err != nil {
		t.mu.Unlock()
		t.registry.logger.Warn("terminal: connect failed", "session_id", t.sessionID, "error", err)
		t.handleDisconnect(gen)
		return
	}
	t.transport = tr
	t.state = StateStreaming
	t.noticed = false
	cols, rows := t.surface.Dims()
	t.lastCols, t.lastRows = cols, rows
	t.mu.Unlock()

	// Size the PTY before any output renders, otherwise early lines wrap
	// against a default grid.
	if err := tr.Send(t.registry.ctx, protocol.Frame{Type: protocol.FrameResize, Cols: cols, Rows: rows}); err != nil {
		t.registry.logger.Warn("terminal: opening resize failed", "session_id", t.sessionID, "error", err)
	}
	t.registry.logger.Info("terminal: streaming", "session_id", t.sessionID, "cols", cols, "rows", rows)
	go t.readLoop(tr, gen)
}

func (t *Terminal) readLoop(tr TerminalTransport, gen int) {
	for {
		f, err := tr.Receive(t.registry.ctx)
		if err != nil {
			t.mu.Lock()
			current := t.gen == gen && t.transport == tr
			if current {
				t.transport = nil
			}
			t.mu.Unlock()
			if current {
				t.handleDisconnect(gen)
			}
			return
		}
		switch f.Type {
		case protocol.FrameOutput:
			t.surface.write([]byte(f.Data))
		case protocol.FrameExit:
			// The view stays mounted read-only; no reconnect follows a
			// clean process exit.
			t.surface.write([]byte("\r\n[process exited]\r\n"))
			t.mu.Lock()
			if t.gen == gen {
				t.state = StateClosed
				t.transport = nil
				t.gen++
			}
			t.mu.Unlock()
			_ = tr.Close()
			return
		case protocol.FrameError:
			t.surface.write([]byte("\r\n[error] " + f.Message + "\r\n"))
		default:
			t.registry.logger.Warn("terminal: dropping malformed frame", "session_id", t.sessionID, "type", f.Type)
		}
	}
}

// handleDisconnect reacts to an unexpected close or connect failure: one
// visible notice per outage, then a fixed-delay reconnect attempt.
func (t *Terminal) handleDisconnect(gen int) {
	t.mu.Lock()
	if t.gen != gen || t.state == StateClosed {
		t.mu.Unlock()
		return
	}
	t.state = StateReconnecting
	notify := !t.noticed
	t.noticed = true
	t.mu.Unlock()

	if notify {
		t.surface.write([]byte("\r\n[Reconnecting…]\r\n"))
	}
	time.AfterFunc(t.registry.reconnectDelay, func() { t.retry(gen) })
}

// retry fires when the back-off elapses. It re-validates that the entry
// still exists and the view is still open before opening anything, which is
// what suppresses reconnect-after-teardown races.
func (t *Terminal) retry(gen int) {
	if !t.registry.owns(t) {
		return
	}
	t.mu.Lock()
	if t.gen != gen || t.state != StateReconnecting {
		t.mu.Unlock()
		return
	}
	if !t.viewOpen {
		t.state = StateClosed
		t.gen++
		t.mu.Unlock()
		return
	}
	t.state = StateConnecting
	t.mu.Unlock()
	t.registry.logger.Info("terminal: reconnecting", "session_id", t.sessionID)
	if t.registry.metrics != nil {
		t.registry.metrics.TerminalReconnects.Add(t.registry.ctx, 1)
	}
	go t.dial(gen)
}

// destroy is the intentional teardown path, reachable only through the
// registry. It bumps the generation so pending timers and read loops become
// no-ops.
func (t *Terminal) destroy() {
	t.mu.Lock()
	t.state = StateClosed
	t.viewOpen = false
	t.gen++
	tr := t.transport
	t.transport = nil
	t.mu.Unlock()

	if tr != nil {
		_ = tr.Close()
	}
	t.surface.setAttached(false)
}
