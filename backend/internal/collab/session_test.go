package collab

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bgmanu2426/real-time-document-editor/backend/internal/ot/delta"
)

// fakeContentStore is an in-memory ContentStore seedable per document.
type fakeContentStore struct {
	mu       sync.Mutex
	content  map[string]string
	versions map[string]uint64
	saves    int
}

func newFakeContentStore() *fakeContentStore {
	return &fakeContentStore{
		content:  make(map[string]string),
		versions: make(map[string]uint64),
	}
}

func (f *fakeContentStore) LoadDocument(_ context.Context, docID string) (string, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content[docID], f.versions[docID], nil
}

func (f *fakeContentStore) SaveDocument(_ context.Context, docID, content string, version uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content[docID] = content
	f.versions[docID] = version
	f.saves++
	return nil
}

func newTestService(t *testing.T, docID, content string, version uint64) (*SessionService, *fakeContentStore) {
	t.Helper()
	store := newFakeContentStore()
	store.content[docID] = content
	store.versions[docID] = version
	return NewSessionService(store, nil, nil), store
}

func TestSubmit_InsertAdvancesVersion(t *testing.T) {
	svc, _ := newTestService(t, "doc1", "abcdefgh", 1)
	ctx := context.Background()

	applied, err := svc.Submit(ctx, "doc1", 7, 1, "client-a",
		delta.Delta{delta.Retain(5), delta.Insert("X"), delta.Retain(3)})
	if err != nil {
		t.Fatalf("Submit error = %v", err)
	}
	if applied.Version != 2 {
		t.Fatalf("version = %d, want 2", applied.Version)
	}
	content, version, err := svc.LoadDocumentContent(ctx, "doc1")
	if err != nil {
		t.Fatalf("LoadDocumentContent error = %v", err)
	}
	if len([]rune(content)) != 9 || content != "abcdeXfgh" {
		t.Fatalf("content = %q, want %q", content, "abcdeXfgh")
	}
	if version != 2 {
		t.Fatalf("session version = %d, want 2", version)
	}
}

func TestSubmit_ConcurrentInsertsConverge(t *testing.T) {
	svc, _ := newTestService(t, "doc1", "0123456789", 3)
	ctx := context.Background()

	// Both clients edit at position 5 against version 3; A arrives first.
	aOps := delta.Delta{delta.Retain(5), delta.Insert("AA"), delta.Retain(5)}
	bOps := delta.Delta{delta.Retain(5), delta.Insert("b"), delta.Retain(5)}

	if _, err := svc.Submit(ctx, "doc1", 1, 3, "client-a", aOps); err != nil {
		t.Fatalf("Submit A error = %v", err)
	}
	appliedB, err := svc.Submit(ctx, "doc1", 2, 3, "client-b", bOps)
	if err != nil {
		t.Fatalf("Submit B error = %v", err)
	}

	content, version, _ := svc.LoadDocumentContent(ctx, "doc1")
	if want := "01234AAb56789"; content != want {
		t.Fatalf("content = %q, want %q", content, want)
	}
	if version != 5 {
		t.Fatalf("version = %d, want 5", version)
	}
	// B's insert was shifted behind A's two characters.
	if got := appliedB.Ops.BaseLen(); got != 12 {
		t.Fatalf("transformed B base length = %d, want 12", got)
	}
}

func TestSubmit_MalformedLeavesSessionUntouched(t *testing.T) {
	svc, _ := newTestService(t, "doc1", "abc", 4)
	ctx := context.Background()

	// retain+delete consumes more than the content holds
	_, err := svc.Submit(ctx, "doc1", 1, 4, "client-a",
		delta.Delta{delta.Retain(2), delta.Delete(2)})
	if !errors.Is(err, delta.ErrMalformedOperation) {
		t.Fatalf("Submit error = %v, want ErrMalformedOperation", err)
	}
	content, version, _ := svc.LoadDocumentContent(ctx, "doc1")
	if content != "abc" || version != 4 {
		t.Fatalf("session changed after rejection: content=%q version=%d", content, version)
	}
}

func TestSubmit_StaleBaseVersionRejected(t *testing.T) {
	svc, _ := newTestService(t, "doc1", "abc", 10)
	ctx := context.Background()

	// Ahead of the server.
	if _, err := svc.Submit(ctx, "doc1", 1, 11, "c", delta.Delta{delta.Retain(3)}); !errors.Is(err, ErrStaleVersion) {
		t.Fatalf("future base: error = %v, want ErrStaleVersion", err)
	}
	// Behind the evicted history (fresh session has an empty op ring).
	if _, err := svc.Submit(ctx, "doc1", 1, 4, "c", delta.Delta{delta.Retain(3)}); !errors.Is(err, ErrStaleVersion) {
		t.Fatalf("evicted base: error = %v, want ErrStaleVersion", err)
	}
	content, version, _ := svc.LoadDocumentContent(ctx, "doc1")
	if content != "abc" || version != 10 {
		t.Fatalf("session changed after rejection: content=%q version=%d", content, version)
	}
}

func TestSubmit_NotParentedOffOwnPendingEcho(t *testing.T) {
	svc, _ := newTestService(t, "doc1", "abc", 0)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, "doc1", 1, 0, "c", delta.Delta{delta.Retain(3), delta.Insert("d")}); err != nil {
		t.Fatalf("Submit error = %v", err)
	}
	// Same client resubmits against the old base without waiting for its echo.
	if _, err := svc.Submit(ctx, "doc1", 1, 0, "c", delta.Delta{delta.Retain(3), delta.Insert("e")}); !errors.Is(err, ErrStaleVersion) {
		t.Fatalf("error = %v, want ErrStaleVersion", err)
	}
	// After acknowledging (base caught up), submissions flow again.
	if _, err := svc.Submit(ctx, "doc1", 1, 1, "c", delta.Delta{delta.Retain(4), delta.Insert("e")}); err != nil {
		t.Fatalf("Submit after catch-up error = %v", err)
	}
}

func TestSubmit_SessionIsolation(t *testing.T) {
	store := newFakeContentStore()
	store.content["a"] = "aaa"
	store.content["b"] = "bbb"
	svc := NewSessionService(store, nil, nil)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, "a", 1, 0, "c", delta.Delta{delta.Retain(3), delta.Insert("!")}); err != nil {
		t.Fatalf("Submit error = %v", err)
	}
	contentB, versionB, _ := svc.LoadDocumentContent(ctx, "b")
	if contentB != "bbb" || versionB != 0 {
		t.Fatalf("document b changed: content=%q version=%d", contentB, versionB)
	}
}

func TestSubmit_VersionsMonotonic(t *testing.T) {
	svc, _ := newTestService(t, "doc1", "", 0)
	ctx := context.Background()

	content := ""
	var last uint64
	for i := 0; i < 20; i++ {
		ops := delta.Diff(content, content+"x")
		applied, err := svc.Submit(ctx, "doc1", 1, last, "c", ops)
		if err != nil {
			t.Fatalf("Submit %d error = %v", i, err)
		}
		if applied.Version != last+1 {
			t.Fatalf("version %d after %d, want %d", applied.Version, last, last+1)
		}
		last = applied.Version
		content += "x"
	}
}

func TestJoinLeave_EvictsOnLastLeave(t *testing.T) {
	svc, _ := newTestService(t, "doc1", "seeded", 2)
	ctx := context.Background()

	content, version, err := svc.Join(ctx, "doc1")
	if err != nil {
		t.Fatalf("Join error = %v", err)
	}
	if content != "seeded" || version != 2 {
		t.Fatalf("Join = (%q, %d), want (%q, 2)", content, version, "seeded")
	}
	if _, _, err := svc.Join(ctx, "doc1"); err != nil {
		t.Fatalf("second Join error = %v", err)
	}

	svc.Leave("doc1")
	svc.mu.RLock()
	_, alive := svc.sessions["doc1"]
	svc.mu.RUnlock()
	if !alive {
		t.Fatal("session evicted while a participant remained")
	}

	svc.Leave("doc1")
	svc.mu.RLock()
	_, alive = svc.sessions["doc1"]
	svc.mu.RUnlock()
	if alive {
		t.Fatal("session not evicted after last leave")
	}
}

func TestJanitor_EvictsIdleSessions(t *testing.T) {
	svc, _ := newTestService(t, "doc1", "x", 0)
	ctx := context.Background()

	if _, _, err := svc.Join(ctx, "doc1"); err != nil {
		t.Fatalf("Join error = %v", err)
	}
	// Shift the clock past the TTL instead of sleeping.
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	svc.evictIdle(time.Hour)

	svc.mu.RLock()
	_, alive := svc.sessions["doc1"]
	svc.mu.RUnlock()
	if alive {
		t.Fatal("idle session not evicted")
	}
}

func TestPersister_WritesNewestSnapshot(t *testing.T) {
	store := newFakeContentStore()
	p := NewPersister(store, nil, "main")
	defer p.Stop()

	svc := NewSessionService(store, p, nil)
	ctx := context.Background()

	applied, err := svc.Submit(ctx, "doc1", 1, 0, "c", delta.Delta{delta.Insert("hello")})
	if err != nil {
		t.Fatalf("Submit error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		store.mu.Lock()
		content, version := store.content["doc1"], store.versions["doc1"]
		store.mu.Unlock()
		if content == "hello" && version == applied.Version {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("snapshot not persisted: content=%q version=%d", content, version)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOpsSince_ReturnsTail(t *testing.T) {
	svc, _ := newTestService(t, "doc1", "", 0)
	ctx := context.Background()

	content := ""
	for i := 0; i < 5; i++ {
		ops := delta.Diff(content, content+"x")
		if _, err := svc.Submit(ctx, "doc1", 1, uint64(i), "c", ops); err != nil {
			t.Fatalf("Submit %d error = %v", i, err)
		}
		content += "x"
	}
	out, err := svc.OpsSince(ctx, "doc1", 3, 0)
	if err != nil {
		t.Fatalf("OpsSince error = %v", err)
	}
	if len(out) != 2 || out[0].Version != 4 || out[1].Version != 5 {
		t.Fatalf("OpsSince = %+v, want versions 4,5", out)
	}
}
