package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentdeck/agentdeck/internal/bus"
	"github.com/agentdeck/agentdeck/internal/store"
)

func openTestStore(t *testing.T, eventBus *bus.Bus) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "agentdeck.db"), eventBus)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRegisterDefaultsIDAndTitle(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	sess, err := s.Register(ctx, "", "", "/home/dev/projects/widget")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("no id generated")
	}
	if sess.Title != "widget" {
		t.Fatalf("title = %q, want workdir base", sess.Title)
	}

	got, err := s.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Workdir != "/home/dev/projects/widget" {
		t.Fatalf("workdir = %q", got.Workdir)
	}
}

func TestRegisterRequiresWorkdir(t *testing.T) {
	s := openTestStore(t, nil)
	if _, err := s.Register(context.Background(), "", "x", "  "); err == nil {
		t.Fatal("expected error for empty workdir")
	}
}

func TestListOrdersByRecentActivity(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	a, err := s.Register(ctx, "a", "first", "/tmp/a")
	if err != nil {
		t.Fatalf("register a: %v", err)
	}
	if _, err := s.Register(ctx, "b", "second", "/tmp/b"); err != nil {
		t.Fatalf("register b: %v", err)
	}

	// SQLite CURRENT_TIMESTAMP has second resolution; make the touch land
	// in a later second so the ordering is deterministic.
	time.Sleep(1100 * time.Millisecond)
	if err := s.Touch(ctx, a.ID); err != nil {
		t.Fatalf("touch: %v", err)
	}

	sessions, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("len = %d", len(sessions))
	}
	if sessions[0].ID != "a" {
		t.Fatalf("most recent = %q, want a", sessions[0].ID)
	}
}

func TestRemoveUnknownReturnsNotFound(t *testing.T) {
	s := openTestStore(t, nil)
	err := s.Remove(context.Background(), "nope")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLifecycleEventsOnBus(t *testing.T) {
	eventBus := bus.New()
	sub := eventBus.Subscribe("session.")
	s := openTestStore(t, eventBus)
	ctx := context.Background()

	sess, err := s.Register(ctx, "", "", "/tmp/w")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Remove(ctx, sess.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}

	want := []string{bus.TopicSessionRegistered, bus.TopicSessionRemoved}
	for _, topic := range want {
		select {
		case ev := <-sub.Ch():
			if ev.Topic != topic {
				t.Fatalf("topic = %q, want %q", ev.Topic, topic)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing %q event", topic)
		}
	}
}

func TestSweepRemovesOnlyIdleRemovableSessions(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	if _, err := s.Register(ctx, "idle-exited", "", "/tmp/a"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := s.Register(ctx, "idle-running", "", "/tmp/b"); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Let both sessions age past a tiny TTL.
	time.Sleep(1100 * time.Millisecond)

	var removed []string
	sweeper, err := store.NewSweeper(store.SweeperConfig{
		Store:    s,
		Schedule: "* * * * *",
		IdleTTL:  time.Second,
		Removable: func(id string) bool {
			return id == "idle-exited"
		},
		OnRemove: func(id string) {
			removed = append(removed, id)
		},
	})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	sweeper.Sweep(ctx)

	if len(removed) != 1 || removed[0] != "idle-exited" {
		t.Fatalf("removed = %v", removed)
	}
	if _, err := s.Get(ctx, "idle-running"); err != nil {
		t.Fatalf("running session was swept: %v", err)
	}
	if _, err := s.Get(ctx, "idle-exited"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("exited session not swept: %v", err)
	}
}

func TestNewSweeperRejectsBadSchedule(t *testing.T) {
	s := openTestStore(t, nil)
	if _, err := store.NewSweeper(store.SweeperConfig{Store: s, Schedule: "not a cron"}); err == nil {
		t.Fatal("expected schedule parse error")
	}
}
