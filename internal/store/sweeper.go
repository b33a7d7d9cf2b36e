package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// SweeperConfig holds the dependencies for the stale-session sweeper.
type SweeperConfig struct {
	Store  *Store
	Logger *slog.Logger

	// Schedule is a 5-field cron expression for sweep runs.
	Schedule string

	// IdleTTL is how long a session may sit without activity before it is
	// a sweep candidate. Zero disables the sweeper.
	IdleTTL time.Duration

	// Removable reports whether an idle session may actually be removed;
	// the server wires this to "the session's process has exited". Nil
	// means every idle session is removable.
	Removable func(sessionID string) bool

	// OnRemove runs after a session row is deleted, e.g. to destroy the
	// session's PTY. May be nil.
	OnRemove func(sessionID string)
}

// Sweeper periodically removes sessions idle past the TTL.
type Sweeper struct {
	cfg      SweeperConfig
	schedule cronlib.Schedule

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a Sweeper. The schedule expression is validated here.
func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "*/10 * * * *"
	}
	sched, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	return &Sweeper{cfg: cfg, schedule: sched}, nil
}

// Start begins the sweep loop in a background goroutine. A zero IdleTTL
// makes Start a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	if s.cfg.IdleTTL <= 0 {
		s.cfg.Logger.Info("sweep: disabled (idle TTL is zero)")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.cfg.Logger.Info("sweep: started", "schedule", s.cfg.Schedule, "idle_ttl", s.cfg.IdleTTL)
}

// Stop cancels the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass: every session idle past the TTL whose process has
// exited is removed. Exposed for tests and for a manual sweep trigger.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.IdleTTL)
	idle, err := s.cfg.Store.ListIdleBefore(ctx, cutoff)
	if err != nil {
		s.cfg.Logger.Error("sweep: list idle sessions", "error", err)
		return
	}
	for _, sess := range idle {
		if s.cfg.Removable != nil && !s.cfg.Removable(sess.ID) {
			continue
		}
		if err := s.cfg.Store.Remove(ctx, sess.ID); err != nil {
			s.cfg.Logger.Error("sweep: remove session", "session_id", sess.ID, "error", err)
			continue
		}
		if s.cfg.OnRemove != nil {
			s.cfg.OnRemove(sess.ID)
		}
		s.cfg.Logger.Info("sweep: removed stale session",
			"session_id", sess.ID,
			"last_active", sess.LastActive,
		)
	}
}
