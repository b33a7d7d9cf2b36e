package client

import (
	"sync"
)

// defaultScrollbackBytes bounds a surface's retained content.
const defaultScrollbackBytes = 256 << 10

// MeasureFunc reports the character grid that currently fits the surface's
// host viewport. Called on Fit; the embedding UI supplies it.
type MeasureFunc func() (cols, rows int)

// Surface is a terminal's persistent scrollback. It outlives connections:
// reconnects and detaches never clear it, only DestroyTerminal discards it.
// Content is written solely by the owning Terminal.
type Surface struct {
	mu       sync.Mutex
	content  []byte
	maxBytes int
	cols     int
	rows     int
	attached bool
	measure  MeasureFunc
}

func newSurface(measure MeasureFunc) *Surface {
	if measure == nil {
		measure = func() (int, int) { return 80, 24 }
	}
	s := &Surface{maxBytes: defaultScrollbackBytes, measure: measure}
	s.cols, s.rows = measure()
	return s
}

// Contents returns the retained scrollback.
func (s *Surface) Contents() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.content)
}

// Dims returns the current character grid.
func (s *Surface) Dims() (cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// Attached reports whether this surface is the one currently shown.
func (s *Surface) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

// Fit re-measures the host viewport and stores the resulting grid. It
// returns the new grid and whether it differs from the previous one.
func (s *Surface) Fit() (cols, rows int, changed bool) {
	cols, rows = s.measure()
	s.mu.Lock()
	defer s.mu.Unlock()
	changed = cols != s.cols || rows != s.rows
	s.cols, s.rows = cols, rows
	return cols, rows, changed
}

func (s *Surface) setDims(cols, rows int) {
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.mu.Unlock()
}

func (s *Surface) setAttached(attached bool) {
	s.mu.Lock()
	s.attached = attached
	s.mu.Unlock()
}

func (s *Surface) write(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content = append(s.content, data...)
	if over := len(s.content) - s.maxBytes; over > 0 {
		s.content = s.content[over:]
	}
}
