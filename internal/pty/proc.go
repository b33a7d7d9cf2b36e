package pty

import (
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// Proc is one running (or exited) PTY process.
type Proc struct {
	sessionID string
	ptmx      *os.File
	cmd       *exec.Cmd
	maxBuffer int
	logger    *slog.Logger

	mu     sync.Mutex
	buffer []byte
	sink   Sink
	exited bool

	done chan struct{}
}

// SessionID returns the owning session's id.
func (p *Proc) SessionID() string { return p.sessionID }

// Exited reports whether the process has terminated.
func (p *Proc) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// Done is closed when the process exits.
func (p *Proc) Done() <-chan struct{} { return p.done }

// Attach registers sink as the sole consumer of output, evicting any
// previous sink, and returns a copy of the retained output for replay. If
// the process already exited, the replay still carries the final buffer and
// sink.Exit is invoked before Attach returns.
func (p *Proc) Attach(sink Sink) []byte {
	p.mu.Lock()
	prev := p.sink
	p.sink = sink
	replay := make([]byte, len(p.buffer))
	copy(replay, p.buffer)
	exited := p.exited
	p.mu.Unlock()

	if prev != nil {
		prev.Evicted()
	}
	if exited {
		sink.Exit()
	}
	return replay
}

// Detach removes sink if it is still the attached one. A sink evicted by a
// later Attach is left alone.
func (p *Proc) Detach(sink Sink) {
	p.mu.Lock()
	if p.sink == sink {
		p.sink = nil
	}
	p.mu.Unlock()
}

// Write sends input bytes to the process.
func (p *Proc) Write(data []byte) error {
	p.mu.Lock()
	exited := p.exited
	p.mu.Unlock()
	if exited {
		return errors.New("process has exited")
	}
	_, err := p.ptmx.Write(data)
	return err
}

// Resize sets the PTY window to cols x rows.
func (p *Proc) Resize(cols, rows int) error {
	p.mu.Lock()
	exited := p.exited
	p.mu.Unlock()
	if exited {
		return errors.New("process has exited")
	}
	return pty.Setsize(p.ptmx, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
}

func (p *Proc) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.mu.Lock()
			p.buffer = append(p.buffer, chunk...)
			if over := len(p.buffer) - p.maxBuffer; over > 0 {
				p.buffer = p.buffer[over:]
			}
			sink := p.sink
			p.mu.Unlock()
			if sink != nil {
				sink.Output(chunk)
			}
		}
		if err != nil {
			break
		}
	}

	_ = p.cmd.Wait()
	p.mu.Lock()
	p.exited = true
	sink := p.sink
	p.mu.Unlock()
	close(p.done)
	if sink != nil {
		sink.Exit()
	}
	p.logger.Info("pty: exited", "session_id", p.sessionID)
}

func (p *Proc) kill() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.ptmx.Close()
	<-p.done
}
