// Package pty manages one pseudo-terminal process per session. Each process
// keeps a bounded retention buffer of recent output so a reconnecting client
// can repaint without the backend re-running anything.
package pty

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// Sink receives output from an attached process. At most one sink is
// attached at a time; attaching a new one evicts the previous.
type Sink interface {
	// Output delivers a chunk of raw PTY output.
	Output(data []byte)
	// Exit signals that the process has terminated. No Output calls follow.
	Exit()
	// Evicted signals that another sink took over the process.
	Evicted()
}

// Manager owns the session → process mapping.
type Manager struct {
	shell      string
	scrollback int
	logger     *slog.Logger

	mu    sync.Mutex
	procs map[string]*Proc
}

// NewManager creates a Manager that starts shell in each session's working
// directory and retains up to scrollbackBytes of output per process.
func NewManager(shell string, scrollbackBytes int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if scrollbackBytes <= 0 {
		scrollbackBytes = 256 << 10
	}
	return &Manager{
		shell:      shell,
		scrollback: scrollbackBytes,
		logger:     logger,
		procs:      make(map[string]*Proc),
	}
}

// Acquire returns the session's process, starting one if none exists. An
// exited process is returned as-is: its retained output stays readable until
// the session is destroyed.
func (m *Manager) Acquire(sessionID, workdir string) (*Proc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.procs[sessionID]; ok {
		return p, nil
	}

	cmd := exec.Command(m.shell)
	cmd.Dir = workdir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("start pty for session %s: %w", sessionID, err)
	}

	p := &Proc{
		sessionID: sessionID,
		ptmx:      ptmx,
		cmd:       cmd,
		maxBuffer: m.scrollback,
		logger:    m.logger,
		done:      make(chan struct{}),
	}
	m.procs[sessionID] = p
	go p.readLoop()
	m.logger.Info("pty: started", "session_id", sessionID, "workdir", workdir, "shell", m.shell)
	return p, nil
}

// Get returns the session's process if one exists.
func (m *Manager) Get(sessionID string) (*Proc, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[sessionID]
	return p, ok
}

// Destroy kills the session's process and forgets it. Idempotent.
func (m *Manager) Destroy(sessionID string) {
	m.mu.Lock()
	p, ok := m.procs[sessionID]
	delete(m.procs, sessionID)
	m.mu.Unlock()
	if !ok {
		return
	}
	p.kill()
	m.logger.Info("pty: destroyed", "session_id", sessionID)
}

// Count returns the number of managed processes.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.procs)
}

// Shutdown kills every managed process.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	procs := make([]*Proc, 0, len(m.procs))
	for _, p := range m.procs {
		procs = append(procs, p)
	}
	m.procs = make(map[string]*Proc)
	m.mu.Unlock()
	for _, p := range procs {
		p.kill()
	}
}
