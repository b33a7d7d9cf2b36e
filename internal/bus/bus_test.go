package bus

import (
	"testing"
	"time"
)

func TestPublishReachesPrefixSubscribers(t *testing.T) {
	b := New()
	all := b.Subscribe("")
	terminals := b.Subscribe("terminal.")
	sessions := b.Subscribe("session.")

	b.Publish(TopicTerminalAttached, TerminalEvent{SessionID: "s1", ConnID: "c1"})

	select {
	case ev := <-terminals.Ch():
		if ev.Topic != TopicTerminalAttached {
			t.Fatalf("topic = %q", ev.Topic)
		}
		payload, ok := ev.Payload.(TerminalEvent)
		if !ok || payload.SessionID != "s1" {
			t.Fatalf("payload = %#v", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("terminal subscriber did not receive event")
	}

	select {
	case <-all.Ch():
	case <-time.After(time.Second):
		t.Fatal("catch-all subscriber did not receive event")
	}

	select {
	case ev := <-sessions.Ch():
		t.Fatalf("session subscriber received unrelated event %q", ev.Topic)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe("tail.")
	b.Unsubscribe(sub)

	if _, open := <-sub.Ch(); open {
		t.Fatal("channel still open after unsubscribe")
	}
	if b.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount = %d", b.SubscriberCount())
	}
	// Double unsubscribe and nil must be no-ops.
	b.Unsubscribe(sub)
	b.Unsubscribe(nil)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	sub := b.Subscribe("tail.")
	for i := 0; i < defaultBufferSize+10; i++ {
		b.Publish(TopicTailChanged, TailEvent{Path: "/tmp/x", Kind: "append", Size: 1})
	}
	// The publisher must not have blocked; the buffer holds at most its cap.
	if n := len(sub.ch); n != defaultBufferSize {
		t.Fatalf("buffered = %d, want %d", n, defaultBufferSize)
	}
}
