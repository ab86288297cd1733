package ws

import "sync"

// Member receives outbound messages. Connections implement it; tests swap in
// fakes.
type Member interface {
	Enqueue(msg OutboundMessage)
}

// Hub tracks which connections are in which document room and fans messages
// out to them. Rooms hold connections, not users: one user editing in two
// tabs is two members.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[Member]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[Member]struct{})}
}

func (h *Hub) Join(docID string, m Member) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[docID] == nil {
		h.rooms[docID] = make(map[Member]struct{})
	}
	h.rooms[docID][m] = struct{}{}
}

func (h *Hub) Leave(docID string, m Member) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[docID]; ok {
		delete(conns, m)
		if len(conns) == 0 {
			delete(h.rooms, docID)
		}
	}
}

func (h *Hub) Broadcast(docID string, msg OutboundMessage) {
	h.BroadcastExcept(docID, nil, msg)
}

// BroadcastExcept delivers msg to every room member but skip. Delivery is
// best effort per member; a slow consumer never blocks the room.
func (h *Hub) BroadcastExcept(docID string, skip Member, msg OutboundMessage) {
	h.mu.RLock()
	members := make([]Member, 0, len(h.rooms[docID]))
	for m := range h.rooms[docID] {
		if m != skip {
			members = append(members, m)
		}
	}
	h.mu.RUnlock()
	for _, m := range members {
		m.Enqueue(msg)
	}
}

func (h *Hub) RoomSize(docID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[docID])
}
