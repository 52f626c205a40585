package devserver

import (
	"io"
	"log/slog"
	"testing"

	v1 "pulse/shared/contracts/realtime/v1"
)

func TestHub_PublishFanoutAndBackpressure(t *testing.T) {
	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))

	a := NewClient("s-a", 1)
	a.authenticate("u1")
	b := NewClient("s-b", 4)
	b.authenticate("u1")
	other := NewClient("s-c", 4)
	other.authenticate("u2")
	anon := NewClient("s-d", 4)

	h.Subscribe(a)
	h.Subscribe(b)
	h.Subscribe(other)
	h.Subscribe(anon)

	if got := h.Subscribers("u1"); got != 2 {
		t.Fatalf("subscribers=%d want 2", got)
	}

	env := v1.Envelope{V: v1.Version, Type: v1.TypeNewNotification}
	if got := h.Publish("u1", env); got != 2 {
		t.Fatalf("delivered=%d want 2", got)
	}
	// a's queue is full now; the envelope is dropped instead of blocking.
	if got := h.Publish("u1", env); got != 1 {
		t.Fatalf("delivered=%d want 1", got)
	}
	if len(other.Send) != 0 {
		t.Fatalf("other user must not receive u1 envelopes")
	}

	b.Close()
	if got := h.Publish("u1", env); got != 0 {
		t.Fatalf("closed and full clients should receive nothing, got %d", got)
	}

	h.Unsubscribe("u1", "s-a")
	h.Unsubscribe("u1", "s-b")
	h.Unsubscribe("u1", "missing")
	if got := h.Subscribers("u1"); got != 0 {
		t.Fatalf("subscribers=%d want 0", got)
	}
}
