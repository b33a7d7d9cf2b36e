package client

import "sync"

// Mode is the presentation layout derived from which panes are open.
type Mode int

const (
	ModeClosed Mode = iota
	ModeFileOnly
	ModeTerminalOnly
	ModeSplit
)

func (m Mode) String() string {
	switch m {
	case ModeClosed:
		return "closed"
	case ModeFileOnly:
		return "file-only"
	case ModeTerminalOnly:
		return "terminal-only"
	case ModeSplit:
		return "split"
	default:
		return "unknown"
	}
}

// TerminalVisible reports whether the mode shows the terminal pane.
func (m Mode) TerminalVisible() bool {
	return m == ModeTerminalOnly || m == ModeSplit
}

// DeriveMode maps the two pane booleans to a layout mode.
func DeriveMode(fileOpen, terminalOpen bool) Mode {
	switch {
	case fileOpen && terminalOpen:
		return ModeSplit
	case fileOpen:
		return ModeFileOnly
	case terminalOpen:
		return ModeTerminalOnly
	default:
		return ModeClosed
	}
}

// Layout tracks mode transitions. Grid geometry cannot be computed while a
// surface is hidden, so the re-fit callback runs after each transition into
// a terminal-visible mode, once the new mode is recorded, never before.
type Layout struct {
	mu    sync.Mutex
	mode  Mode
	refit func()
}

// NewLayout starts in ModeClosed. refit is invoked after every transition
// into a mode where the terminal is visible; nil disables it.
func NewLayout(refit func()) *Layout {
	return &Layout{mode: ModeClosed, refit: refit}
}

// Mode returns the current layout mode.
func (l *Layout) Mode() Mode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

// Apply derives the mode for the given pane states, records it, and
// requests a re-fit when the transition made the terminal's geometry change.
func (l *Layout) Apply(fileOpen, terminalOpen bool) Mode {
	next := DeriveMode(fileOpen, terminalOpen)

	l.mu.Lock()
	prev := l.mode
	l.mode = next
	l.mu.Unlock()

	if next != prev && next.TerminalVisible() && l.refit != nil {
		l.refit()
	}
	return next
}
