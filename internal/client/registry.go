// Package client is the dashboard-side half of the live-stream subsystem: a
// channel registry holding one terminal entry per session, a terminal
// controller with reconnect policy, a file-tail controller, and the layout
// coordinator that decides which surface is visible.
package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agentdeck/agentdeck/internal/otel"
)

const defaultReconnectDelay = 2 * time.Second

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Dialer TerminalDialer
	Logger *slog.Logger

	// ReconnectDelay is the fixed back-off before a terminal reconnect
	// attempt. Zero means 2s.
	ReconnectDelay time.Duration

	// Measure supplies character-grid dimensions for new surfaces. Nil
	// means a fixed 80x24.
	Measure MeasureFunc

	// Metrics may be nil; reconnect attempts are then not counted.
	Metrics *otel.Metrics
}

// Registry owns the session → terminal entry mapping. It is the single
// writer of that mapping; controllers mutate only their own entry. No
// package-level state: every consumer receives the registry by reference.
type Registry struct {
	dialer         TerminalDialer
	logger         *slog.Logger
	reconnectDelay time.Duration
	measure        MeasureFunc
	metrics        *otel.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]*Terminal
	active  string
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		dialer:         cfg.Dialer,
		logger:         cfg.Logger,
		reconnectDelay: cfg.ReconnectDelay,
		measure:        cfg.Measure,
		metrics:        cfg.Metrics,
		ctx:            ctx,
		cancel:         cancel,
		entries:        make(map[string]*Terminal),
	}
}

// GetOrCreateTerminal returns the session's terminal entry, creating the
// surface and issuing a connect on first use. Idempotent: a second call
// without an intervening DestroyTerminal returns the same entry and never
// opens a second transport.
func (r *Registry) GetOrCreateTerminal(sessionID string) *Terminal {
	r.mu.Lock()
	if t, ok := r.entries[sessionID]; ok {
		r.mu.Unlock()
		return t
	}
	t := newTerminal(r, sessionID)
	r.entries[sessionID] = t
	r.mu.Unlock()

	t.connect()
	return t
}

// DestroyTerminal closes the entry's transport with an intentional close,
// discards its surface, and removes the entry. Irreversible: a later
// GetOrCreateTerminal for the same session builds a fresh entry.
func (r *Registry) DestroyTerminal(sessionID string) {
	r.mu.Lock()
	t, ok := r.entries[sessionID]
	delete(r.entries, sessionID)
	if r.active == sessionID {
		r.active = ""
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	t.destroy()
	r.logger.Info("registry: terminal destroyed", "session_id", sessionID)
}

// SetActive marks exactly one entry's surface as attached; all others are
// detached (hidden, not destroyed) and keep accumulating output off-screen.
func (r *Registry) SetActive(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = sessionID
	for id, t := range r.entries {
		t.surface.setAttached(id == sessionID)
	}
}

// Active returns the session id whose surface is attached, or "".
func (r *Registry) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Close destroys every entry and stops all reconnect activity.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := make([]*Terminal, 0, len(r.entries))
	for _, t := range r.entries {
		entries = append(entries, t)
	}
	r.entries = make(map[string]*Terminal)
	r.active = ""
	r.mu.Unlock()

	r.cancel()
	for _, t := range entries {
		t.destroy()
	}
}

// owns reports whether t is still the registered entry for its session.
// Reconnect timers call this before acting.
func (r *Registry) owns(t *Terminal) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[t.sessionID] == t
}
