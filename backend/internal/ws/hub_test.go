package ws

import (
	"sync"
	"testing"
)

type fakeMember struct {
	mu   sync.Mutex
	msgs []OutboundMessage
}

func (f *fakeMember) Enqueue(msg OutboundMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

func (f *fakeMember) received() []OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]OutboundMessage(nil), f.msgs...)
}

func TestHubBroadcastReachesRoomOnly(t *testing.T) {
	h := NewHub()
	a, b, other := &fakeMember{}, &fakeMember{}, &fakeMember{}
	h.Join("doc-1", a)
	h.Join("doc-1", b)
	h.Join("doc-2", other)

	h.Broadcast("doc-1", AckMessage{Type: "ack", Of: "test"})

	if len(a.received()) != 1 || len(b.received()) != 1 {
		t.Fatalf("room members got %d/%d messages, want 1/1", len(a.received()), len(b.received()))
	}
	if len(other.received()) != 0 {
		t.Fatal("message leaked into another room")
	}
}

func TestHubBroadcastExceptSkipsSender(t *testing.T) {
	h := NewHub()
	sender, peer := &fakeMember{}, &fakeMember{}
	h.Join("doc-1", sender)
	h.Join("doc-1", peer)

	h.BroadcastExcept("doc-1", sender, CursorMessage{Type: "cursor-update", DocID: "doc-1", UserID: 1})

	if len(sender.received()) != 0 {
		t.Fatal("sender received its own broadcast")
	}
	if len(peer.received()) != 1 {
		t.Fatalf("peer got %d messages, want 1", len(peer.received()))
	}
}

func TestHubLeaveEmptiesRoom(t *testing.T) {
	h := NewHub()
	m := &fakeMember{}
	h.Join("doc-1", m)
	if h.RoomSize("doc-1") != 1 {
		t.Fatalf("room size = %d, want 1", h.RoomSize("doc-1"))
	}
	h.Leave("doc-1", m)
	if h.RoomSize("doc-1") != 0 {
		t.Fatalf("room size after leave = %d, want 0", h.RoomSize("doc-1"))
	}
	// Leaving twice is harmless.
	h.Leave("doc-1", m)

	h.Broadcast("doc-1", AckMessage{Type: "ack", Of: "test"})
	if len(m.received()) != 0 {
		t.Fatal("departed member still receives broadcasts")
	}
}
