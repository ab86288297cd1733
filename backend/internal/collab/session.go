package collab

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/bgmanu2426/real-time-document-editor/backend/internal/ot/delta"
)

// Service is the document session engine consumed by the coordinator.
type Service interface {
	// Join activates (lazily loading if needed) the session for docID,
	// registers a participant and returns the authoritative content/version.
	Join(ctx context.Context, docID string) (content string, version uint64, err error)

	// Leave deregisters a participant; the session is evicted when the last
	// participant is gone.
	Leave(docID string)

	// Submit applies ops from clientID against baseVersion, transforming them
	// over other clients' pending sequences. The returned AppliedOp carries
	// the transformed ops for broadcast. Failed submits leave the session
	// untouched.
	Submit(ctx context.Context, docID string, authorID uint64, baseVersion uint64, clientID string, ops delta.Delta) (AppliedOp, error)

	// ReleaseClient drops clientID's pending operation entry (disconnect).
	ReleaseClient(docID, clientID string)

	// LoadDocumentContent returns the session's current content/version,
	// activating the session if needed.
	LoadDocumentContent(ctx context.Context, docID string) (string, uint64, error)

	// OpsSince returns recently applied ops newer than fromVersion, for
	// client catch-up after short gaps.
	OpsSince(ctx context.Context, docID string, fromVersion uint64, limit int) ([]AppliedOp, error)
}

// ContentStore is the external document CRUD collaborator: the session cache
// is hydrated from it and durable snapshots flow back through the persister.
type ContentStore interface {
	LoadDocument(ctx context.Context, docID string) (content string, version uint64, err error)
	SaveDocument(ctx context.Context, docID string, content string, version uint64) error
}

// AppliedOp is one accepted, transformed operation.
type AppliedOp struct {
	OperationID string      `json:"operationId"`
	Version     uint64      `json:"version"`
	AuthorID    uint64      `json:"authorId"`
	ClientID    string      `json:"clientId"`
	Ops         delta.Delta `json:"ops"`
	AppliedAt   time.Time   `json:"appliedAt"`
}

var (
	// ErrStaleVersion: the submitted base version is outside the window the
	// session can still transform over; the client must resynchronize.
	ErrStaleVersion = errors.New("STALE_VERSION")
)

// docSession holds the in-memory state of one actively edited document.
// content/version are exclusively owned by this session and mutated only
// under mu, in coordinator arrival order.
type docSession struct {
	mu           sync.Mutex
	loaded       bool
	content      string
	version      uint64
	participants int
	lastActive   time.Time
	// Version of each client's most recent not-yet-acknowledged operation.
	// Acknowledgement is implicit: the entry is superseded by the client's
	// next submission and cleared on disconnect.
	pendingByClient map[string]uint64
	// Recently applied ops, the transform basis for concurrent submissions.
	opsRing []AppliedOp
}

type SessionService struct {
	mu       sync.RWMutex
	sessions map[string]*docSession
	ringCap  int

	store      ContentStore
	persister  *Persister       // nil-tolerated
	dispatcher *KafkaDispatcher // nil-tolerated
	loads      singleflight.Group
	now        func() time.Time

	stopJanitor chan struct{}
}

func NewSessionService(store ContentStore, persister *Persister, dispatcher *KafkaDispatcher) *SessionService {
	return &SessionService{
		sessions:   make(map[string]*docSession),
		ringCap:    1024,
		store:      store,
		persister:  persister,
		dispatcher: dispatcher,
		now:        time.Now,
	}
}

func (s *SessionService) getOrCreate(docID string) *docSession {
	s.mu.RLock()
	ds := s.sessions[docID]
	s.mu.RUnlock()
	if ds != nil {
		return ds
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ds = s.sessions[docID]; ds == nil {
		ds = &docSession{
			lastActive:      s.now(),
			pendingByClient: make(map[string]uint64),
		}
		s.sessions[docID] = ds
	}
	return ds
}

// ensureLoaded hydrates the session from the content store exactly once,
// even when several participants join concurrently.
func (s *SessionService) ensureLoaded(ctx context.Context, docID string, ds *docSession) error {
	ds.mu.Lock()
	loaded := ds.loaded
	ds.mu.Unlock()
	if loaded {
		return nil
	}
	_, err, _ := s.loads.Do(docID, func() (any, error) {
		content, version, err := s.store.LoadDocument(ctx, docID)
		if err != nil {
			return nil, err
		}
		ds.mu.Lock()
		if !ds.loaded {
			ds.content = content
			ds.version = version
			ds.loaded = true
		}
		ds.mu.Unlock()
		return nil, nil
	})
	return err
}

func (s *SessionService) Join(ctx context.Context, docID string) (string, uint64, error) {
	ds := s.getOrCreate(docID)
	if err := s.ensureLoaded(ctx, docID, ds); err != nil {
		return "", 0, err
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.participants++
	ds.lastActive = s.now()
	return ds.content, ds.version, nil
}

func (s *SessionService) Leave(docID string) {
	s.mu.RLock()
	ds := s.sessions[docID]
	s.mu.RUnlock()
	if ds == nil {
		return
	}
	ds.mu.Lock()
	if ds.participants > 0 {
		ds.participants--
	}
	empty := ds.participants == 0
	ds.mu.Unlock()
	if empty {
		// Every accepted op is already queued for persistence; nothing to
		// flush on eviction.
		s.mu.Lock()
		delete(s.sessions, docID)
		s.mu.Unlock()
	}
}

func (s *SessionService) Submit(ctx context.Context, docID string, authorID uint64, baseVersion uint64, clientID string, ops delta.Delta) (AppliedOp, error) {
	ds := s.getOrCreate(docID)
	if err := s.ensureLoaded(ctx, docID, ds); err != nil {
		return AppliedOp{}, err
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	if baseVersion > ds.version {
		return AppliedOp{}, ErrStaleVersion
	}
	gap := ds.version - baseVersion
	if gap > uint64(len(ds.opsRing)) {
		// The operation history needed to reconcile this base has been
		// evicted; the client must re-fetch current content.
		return AppliedOp{}, ErrStaleVersion
	}
	if pv, ok := ds.pendingByClient[clientID]; ok && baseVersion < pv {
		// Not parented off the client's own pending echo; clients are
		// responsible for buffering until acknowledged.
		return AppliedOp{}, ErrStaleVersion
	}

	// Transform against every concurrently accepted sequence from other
	// clients, in server arrival order.
	accepted := ops
	for _, past := range ds.opsRing[uint64(len(ds.opsRing))-gap:] {
		var err error
		_, accepted, err = delta.Transform(past.Ops, accepted)
		if err != nil {
			return AppliedOp{}, err
		}
	}

	newContent, err := delta.Apply(ds.content, accepted)
	if err != nil {
		// Rejected: content and version stay untouched.
		return AppliedOp{}, err
	}

	ds.content = newContent
	ds.version++
	ds.lastActive = s.now()
	applied := AppliedOp{
		OperationID: uuid.NewString(),
		Version:     ds.version,
		AuthorID:    authorID,
		ClientID:    clientID,
		Ops:         accepted,
		AppliedAt:   s.now(),
	}

	// Replace this client's pending entry; replacement is the implicit
	// acknowledgement of the previous one.
	ds.pendingByClient[clientID] = applied.Version

	if len(ds.opsRing) == s.ringCap {
		copy(ds.opsRing, ds.opsRing[1:])
		ds.opsRing = ds.opsRing[:len(ds.opsRing)-1]
	}
	ds.opsRing = append(ds.opsRing, applied)

	// Durability is asynchronous: the in-memory state above is already
	// visible to other clients, the snapshot write lags behind.
	if s.persister != nil {
		s.persister.Enqueue(PersistJob{
			DocID:    docID,
			Content:  newContent,
			Version:  applied.Version,
			AuthorID: authorID,
		})
	}
	if s.dispatcher != nil {
		s.dispatcher.Publish(ctx, DocOpEvent{
			EventType:   "OP_APPLIED",
			DocID:       docID,
			OperationID: applied.OperationID,
			Version:     applied.Version,
			AuthorID:    authorID,
			ClientID:    clientID,
			BaseVersion: baseVersion,
			Ops:         accepted,
			AppliedAt:   applied.AppliedAt,
		})
	}

	return applied, nil
}

func (s *SessionService) ReleaseClient(docID, clientID string) {
	s.mu.RLock()
	ds := s.sessions[docID]
	s.mu.RUnlock()
	if ds == nil {
		return
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	delete(ds.pendingByClient, clientID)
}

func (s *SessionService) LoadDocumentContent(ctx context.Context, docID string) (string, uint64, error) {
	ds := s.getOrCreate(docID)
	if err := s.ensureLoaded(ctx, docID, ds); err != nil {
		return "", 0, err
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.content, ds.version, nil
}

func (s *SessionService) OpsSince(ctx context.Context, docID string, fromVersion uint64, limit int) ([]AppliedOp, error) {
	s.mu.RLock()
	ds := s.sessions[docID]
	s.mu.RUnlock()
	if ds == nil {
		return nil, nil
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	var out []AppliedOp
	for _, op := range ds.opsRing {
		if op.Version > fromVersion {
			out = append(out, op)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// StartJanitor evicts sessions idle beyond ttl, covering participants the
// coordinator failed to clean up. Call StopJanitor on shutdown.
func (s *SessionService) StartJanitor(interval, ttl time.Duration) {
	s.stopJanitor = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.evictIdle(ttl)
			case <-s.stopJanitor:
				return
			}
		}
	}()
}

func (s *SessionService) StopJanitor() {
	if s.stopJanitor != nil {
		close(s.stopJanitor)
	}
}

func (s *SessionService) evictIdle(ttl time.Duration) {
	cutoff := s.now().Add(-ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	for docID, ds := range s.sessions {
		ds.mu.Lock()
		idle := ds.lastActive.Before(cutoff)
		ds.mu.Unlock()
		if idle {
			delete(s.sessions, docID)
		}
	}
}
