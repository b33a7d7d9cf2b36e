package shared

import (
	"context"
	"testing"
)

func TestConnIDDefaultsToDash(t *testing.T) {
	if got := ConnID(context.Background()); got != "-" {
		t.Fatalf("ConnID on empty context = %q, want -", got)
	}
}

func TestConnIDRoundTrip(t *testing.T) {
	id := NewConnID()
	ctx := WithConnID(context.Background(), id)
	if got := ConnID(ctx); got != id {
		t.Fatalf("ConnID = %q, want %q", got, id)
	}
}

func TestSessionIDRoundTrip(t *testing.T) {
	ctx := WithSessionID(context.Background(), "s1")
	if got := SessionID(ctx); got != "s1" {
		t.Fatalf("SessionID = %q, want s1", got)
	}
	if got := SessionID(context.Background()); got != "" {
		t.Fatalf("SessionID on empty context = %q, want empty", got)
	}
}
