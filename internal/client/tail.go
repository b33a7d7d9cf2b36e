package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/agentdeck/agentdeck/internal/otel"
	"github.com/agentdeck/agentdeck/internal/protocol"
)

const defaultTailRetryDelay = time.Second

// TailHandlers receives tail events. Handlers run on the watch goroutine;
// they must not call back into the controller synchronously. A watch
// re-issued after a disconnect fires OnInitial again, so OnInitial must be
// treated as idempotent, not additive.
type TailHandlers struct {
	OnInitial func(content string, truncated bool)
	OnAppend  func(data string)
	OnReplace func(content string, truncated bool)
	OnError   func(message string)
}

// WatchOptions selects the delivery mode. Follow requests incremental
// appends; without it every change arrives as a full replace.
type WatchOptions struct {
	Follow bool
}

// TailControllerConfig configures a TailController.
type TailControllerConfig struct {
	Dialer TailDialer
	Logger *slog.Logger

	// RetryDelay is the fixed back-off before a watch is re-issued after
	// an unexpected channel closure. Zero means 1s.
	RetryDelay time.Duration

	// Metrics may be nil; watch re-issues are then not counted.
	Metrics *otel.Metrics
}

// TailController owns one live file-tail watch at a time. Starting a watch
// deterministically stops the previous one before the new channel opens.
type TailController struct {
	dialer     TailDialer
	logger     *slog.Logger
	retryDelay time.Duration
	metrics    *otel.Metrics

	mu      sync.Mutex
	current *tailWatch
}

type tailWatch struct {
	path   string
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTailController(cfg TailControllerConfig) *TailController {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultTailRetryDelay
	}
	return &TailController{
		dialer:     cfg.Dialer,
		logger:     cfg.Logger,
		retryDelay: cfg.RetryDelay,
		metrics:    cfg.Metrics,
	}
}

// StartWatch begins watching path, first stopping any active watch. The
// server answers with an initial snapshot, then appends, replaces, and
// errors per the delivery mode.
func (c *TailController) StartWatch(path string, handlers TailHandlers, opts WatchOptions) {
	c.StopWatch()

	ctx, cancel := context.WithCancel(context.Background())
	w := &tailWatch{path: path, cancel: cancel, done: make(chan struct{})}
	c.mu.Lock()
	c.current = w
	c.mu.Unlock()

	go c.run(ctx, w, handlers, opts)
}

// StopWatch ends the active watch and returns once no further handler
// calls can fire. No-op when nothing is being watched.
func (c *TailController) StopWatch() {
	c.mu.Lock()
	w := c.current
	c.current = nil
	c.mu.Unlock()
	if w == nil {
		return
	}
	w.cancel()
	<-w.done
}

// Watching returns the path of the active watch, or "".
func (c *TailController) Watching() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ""
	}
	return c.current.path
}

// run owns the watch channel for its whole life, including reconnects.
// Each re-issued watch yields a fresh initial event from the server.
func (c *TailController) run(ctx context.Context, w *tailWatch, handlers TailHandlers, opts WatchOptions) {
	defer close(w.done)

	for {
		stream, err := c.dialer.Watch(ctx, w.path, opts.Follow)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("tail: watch connect failed", "path", w.path, "error", err)
			if !sleepCtx(ctx, c.retryDelay) {
				return
			}
			continue
		}

		c.consume(ctx, stream, handlers)
		_ = stream.Close()

		if ctx.Err() != nil {
			return
		}
		c.logger.Info("tail: channel closed, re-issuing watch", "path", w.path)
		if c.metrics != nil {
			c.metrics.TailReconnects.Add(ctx, 1)
		}
		if !sleepCtx(ctx, c.retryDelay) {
			return
		}
	}
}

func (c *TailController) consume(ctx context.Context, stream TailStream, handlers TailHandlers) {
	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			// A payload that failed to decode is a channel-level protocol
			// error: logged and dropped, the watch stays up. Only
			// transport-level read failures end the stream.
			if errors.Is(err, errMalformedEvent) {
				c.logger.Warn("tail: dropping malformed event", "error", err)
				continue
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		switch ev.Kind {
		case protocol.TailInitial:
			if handlers.OnInitial != nil {
				handlers.OnInitial(ev.Content, ev.Truncated)
			}
		case protocol.TailAppend:
			if handlers.OnAppend != nil {
				handlers.OnAppend(ev.Data)
			}
		case protocol.TailReplace:
			if handlers.OnReplace != nil {
				handlers.OnReplace(ev.Content, ev.Truncated)
			}
		case protocol.TailError:
			if handlers.OnError != nil {
				handlers.OnError(ev.Message)
			}
		default:
			c.logger.Warn("tail: dropping unknown event", "kind", ev.Kind)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
