package cache

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// memoryPresence is the single-process twin of the Redis registry, used in
// tests and deployments without a cache tier.
type memoryPresence struct {
	mu    sync.Mutex
	rooms map[string]map[uint64]*memberEntry
	ttl   time.Duration
	now   func() time.Time
}

type memberEntry struct {
	username string
	cursor   json.RawMessage
	expireAt time.Time
}

func NewMemoryPresence() PresenceCache {
	return &memoryPresence{
		rooms: make(map[string]map[uint64]*memberEntry),
		ttl:   PresenceTTL,
		now:   time.Now,
	}
}

func (p *memoryPresence) Join(ctx context.Context, docID string, userID uint64, username string) ([]PresenceMember, error) {
	p.mu.Lock()
	room := p.rooms[docID]
	if room == nil {
		room = make(map[uint64]*memberEntry)
		p.rooms[docID] = room
	}
	e := room[userID]
	if e == nil {
		e = &memberEntry{}
		room[userID] = e
	}
	e.username = username
	e.expireAt = p.now().Add(p.ttl)
	p.mu.Unlock()
	return p.AliveMembers(ctx, docID)
}

func (p *memoryPresence) Touch(_ context.Context, docID string, userID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e := p.rooms[docID][userID]; e != nil {
		e.expireAt = p.now().Add(p.ttl)
	}
	return nil
}

func (p *memoryPresence) UpdateCursor(_ context.Context, docID string, userID uint64, cursor json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e := p.rooms[docID][userID]; e != nil {
		e.cursor = cursor
		e.expireAt = p.now().Add(p.ttl)
	}
	return nil
}

func (p *memoryPresence) Leave(_ context.Context, docID string, userID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if room := p.rooms[docID]; room != nil {
		delete(room, userID)
		if len(room) == 0 {
			delete(p.rooms, docID)
		}
	}
	return nil
}

func (p *memoryPresence) AliveMembers(_ context.Context, docID string) ([]PresenceMember, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	room := p.rooms[docID]
	if room == nil {
		return nil, nil
	}
	now := p.now()
	var members []PresenceMember
	for uid, e := range room {
		if !e.expireAt.After(now) {
			delete(room, uid)
			continue
		}
		members = append(members, PresenceMember{UserID: uid, Username: e.username, Cursor: e.cursor})
	}
	if len(room) == 0 {
		delete(p.rooms, docID)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].UserID < members[j].UserID })
	return members, nil
}
