// Package tailer watches one file and turns raw filesystem changes into the
// tail event stream the dashboard consumes: an initial snapshot, appends for
// pure growth, replaces for in-place rewrites, and errors for watch-side
// failures.
package tailer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentdeck/agentdeck/internal/protocol"
)

// tailWindowSize is how many trailing bytes of the delivered content are
// remembered to tell a rewrite from an append when the file did not shrink.
const tailWindowSize = 4096

// Event is one delivered tail event. Kind is a protocol.Tail* constant;
// Content carries initial/replace snapshots, Data carries append deltas,
// Message carries error text.
type Event struct {
	Kind      string
	Content   string
	Data      string
	Truncated bool
	Message   string
}

// Options tunes a watch.
type Options struct {
	// Follow requests append-aware delivery. When false, every change is
	// delivered as a full replace.
	Follow bool

	// MaxInitialBytes caps initial/replace content; larger files are
	// truncated from the front so the newest bytes survive. <= 0 means 1 MiB.
	MaxInitialBytes int64

	// Debounce coalesces bursts of change notifications. <= 0 means 50 ms.
	Debounce time.Duration
}

// Watch is an active tail of one file. Events are delivered in order on
// Events(); the channel is closed when the watch stops.
type Watch struct {
	path   string
	opts   Options
	logger *slog.Logger

	events chan Event
	cancel context.CancelFunc

	// offset is the byte position up to which content has been delivered;
	// tailWindow holds the final bytes before offset as delivered.
	offset     int64
	tailWindow []byte

	// forceReplace is set after the file vanished: whatever reappears is a
	// rewrite, never an append on top of the lost content.
	forceReplace bool
}

// Start begins watching path. The initial snapshot is emitted before Start
// returns a Watch, so consumers always observe initial first.
func Start(ctx context.Context, path string, opts Options, logger *slog.Logger) (*Watch, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxInitialBytes <= 0 {
		opts.MaxInitialBytes = 1 << 20
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 50 * time.Millisecond
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory, not the file: editors and log rotation replace
	// files by rename, which silently drops a direct file watch.
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Watch{
		path:   abs,
		opts:   opts,
		logger: logger,
		events: make(chan Event, 16),
		cancel: cancel,
	}

	initial, err := w.snapshot()
	if err != nil {
		cancel()
		fsw.Close()
		return nil, err
	}
	w.events <- Event{Kind: protocol.TailInitial, Content: initial.Content, Truncated: initial.Truncated}

	go w.loop(ctx, fsw)
	logger.Info("tail: watch started", "path", abs, "follow", opts.Follow)
	return w, nil
}

// Events returns the ordered event stream. Closed on Stop or context cancel.
func (w *Watch) Events() <-chan Event { return w.events }

// Path returns the watched file's absolute path.
func (w *Watch) Path() string { return w.path }

// Stop ends the watch. No events are delivered after the channel closes.
// Safe to call more than once.
func (w *Watch) Stop() { w.cancel() }

func (w *Watch) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer close(w.events)
	defer fsw.Close()

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if ev.Name != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(w.opts.Debounce)
				debounceC = debounce.C
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(w.opts.Debounce)
			}
		case <-debounceC:
			debounce = nil
			debounceC = nil
			for _, ev := range w.diff() {
				select {
				case w.events <- ev:
				case <-ctx.Done():
					return
				}
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("tail: watcher error", "path", w.path, "error", err)
			select {
			case w.events <- Event{Kind: protocol.TailError, Message: err.Error()}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// diff inspects the file and decides which events the change amounts to.
func (w *Watch) diff() []Event {
	info, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			// Deletion does not close the channel; the file may reappear.
			w.offset = 0
			w.tailWindow = nil
			w.forceReplace = true
			return []Event{{Kind: protocol.TailError, Message: fmt.Sprintf("file removed: %s", w.path)}}
		}
		return []Event{{Kind: protocol.TailError, Message: err.Error()}}
	}

	if !w.opts.Follow {
		snap, err := w.snapshot()
		if err != nil {
			return []Event{{Kind: protocol.TailError, Message: err.Error()}}
		}
		return []Event{{Kind: protocol.TailReplace, Content: snap.Content, Truncated: snap.Truncated}}
	}

	size := info.Size()
	if w.forceReplace || size < w.offset || !w.tailWindowIntact() {
		w.forceReplace = false
		snap, err := w.snapshot()
		if err != nil {
			return []Event{{Kind: protocol.TailError, Message: err.Error()}}
		}
		return []Event{{Kind: protocol.TailReplace, Content: snap.Content, Truncated: snap.Truncated}}
	}
	if size == w.offset {
		return nil
	}

	delta, err := w.readRange(w.offset, size)
	if err != nil {
		return []Event{{Kind: protocol.TailError, Message: err.Error()}}
	}
	w.offset = size
	w.extendTailWindow(delta)
	return []Event{{Kind: protocol.TailAppend, Data: string(delta)}}
}

// tailWindowIntact re-reads the trailing bytes of the previously delivered
// region and compares them with what was delivered. A mismatch means the
// file was rewritten in place even though it did not shrink.
func (w *Watch) tailWindowIntact() bool {
	if len(w.tailWindow) == 0 {
		return true
	}
	start := w.offset - int64(len(w.tailWindow))
	current, err := w.readRange(start, w.offset)
	if err != nil {
		return false
	}
	return bytes.Equal(current, w.tailWindow)
}

type snapshotResult struct {
	Content   string
	Truncated bool
}

// snapshot reads the full file (front-truncated to MaxInitialBytes) and
// resets the offset and tail window to the end of what was delivered.
func (w *Watch) snapshot() (snapshotResult, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return snapshotResult{}, fmt.Errorf("read %s: %w", w.path, err)
	}
	w.offset = int64(len(data))

	truncated := false
	if int64(len(data)) > w.opts.MaxInitialBytes {
		data = data[int64(len(data))-w.opts.MaxInitialBytes:]
		truncated = true
	}

	win := len(data)
	if win > tailWindowSize {
		win = tailWindowSize
	}
	w.tailWindow = append([]byte(nil), data[len(data)-win:]...)
	return snapshotResult{Content: string(data), Truncated: truncated}, nil
}

func (w *Watch) extendTailWindow(delta []byte) {
	w.tailWindow = append(w.tailWindow, delta...)
	if len(w.tailWindow) > tailWindowSize {
		w.tailWindow = w.tailWindow[len(w.tailWindow)-tailWindowSize:]
	}
}

func (w *Watch) readRange(from, to int64) ([]byte, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", w.path, err)
	}
	defer f.Close()

	buf := make([]byte, to-from)
	n, err := f.ReadAt(buf, from)
	if err != nil && n != len(buf) {
		return nil, fmt.Errorf("read %s at %d: %w", w.path, from, err)
	}
	return buf[:n], nil
}
