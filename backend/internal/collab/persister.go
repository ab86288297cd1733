package collab

import (
	"context"
	"log"
	"sync"
	"time"
)

// VersionLog is the durable append-only version store, seen from the session
// side: every accepted edit eventually lands there as a full snapshot.
type VersionLog interface {
	AppendEditVersion(ctx context.Context, docID, branch, content string, authorID uint64) error
}

type PersistJob struct {
	DocID    string
	Content  string
	Version  uint64
	AuthorID uint64
}

// Persister is the asynchronous durability writer. The session's in-memory
// state advances immediately; the snapshot write lags behind. Jobs for the
// same document coalesce, keeping only the newest queued snapshot, so a
// burst of edits costs one durable write. A crash loses at most the
// not-yet-written tail, which the next successful write captures cumulatively.
type Persister struct {
	content  ContentStore
	versions VersionLog
	branch   string

	mu      sync.Mutex
	pending map[string]PersistJob
	wake    chan struct{}
	stop    chan struct{}

	maxRetry    int
	baseBackoff time.Duration
}

func NewPersister(content ContentStore, versions VersionLog, branch string) *Persister {
	p := &Persister{
		content:     content,
		versions:    versions,
		branch:      branch,
		pending:     make(map[string]PersistJob),
		wake:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
		maxRetry:    3,
		baseBackoff: 50 * time.Millisecond,
	}
	go p.loop()
	return p
}

// Enqueue never blocks the submit path: a newer snapshot for the same
// document replaces the queued one.
func (p *Persister) Enqueue(job PersistJob) {
	p.mu.Lock()
	p.pending[job.DocID] = job
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Persister) Stop() { close(p.stop) }

func (p *Persister) loop() {
	for {
		select {
		case <-p.wake:
			p.drain()
		case <-p.stop:
			p.drain()
			return
		}
	}
}

func (p *Persister) drain() {
	for {
		p.mu.Lock()
		var job PersistJob
		found := false
		for docID, j := range p.pending {
			job = j
			delete(p.pending, docID)
			found = true
			break
		}
		p.mu.Unlock()
		if !found {
			return
		}
		p.writeWithRetry(job)
	}
}

func (p *Persister) writeWithRetry(job PersistJob) {
	for attempt := 0; attempt <= p.maxRetry; attempt++ {
		err := p.writeOnce(job)
		if err == nil {
			return
		}
		if attempt == p.maxRetry {
			// Dropped from storage, not from the live session; the next
			// accepted edit enqueues a cumulative snapshot.
			log.Printf("persist failed, drop snapshot doc=%s version=%d err=%v",
				job.DocID, job.Version, err)
			return
		}
		time.Sleep(p.baseBackoff * time.Duration(1<<attempt))
	}
}

func (p *Persister) writeOnce(job PersistJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if p.content != nil {
		if err := p.content.SaveDocument(ctx, job.DocID, job.Content, job.Version); err != nil {
			return err
		}
	}
	if p.versions != nil {
		if err := p.versions.AppendEditVersion(ctx, job.DocID, p.branch, job.Content, job.AuthorID); err != nil {
			return err
		}
	}
	return nil
}
