package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// DocumentStore holds the live content snapshot per document, one row each.
// Version history lives in the VersionStore; this table only answers "what
// does the document say right now" when a session is cold-loaded.
type DocumentStore struct{ db *sql.DB }

func NewDocumentStore(db *sql.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// LoadDocument returns the stored content and revision. An unknown document
// is not an error: sessions start from an empty document at revision zero.
func (s *DocumentStore) LoadDocument(ctx context.Context, docID string) (string, uint64, error) {
	var content string
	var version uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT content, current_version FROM document_contents WHERE doc_id = ?`,
		docID,
	).Scan(&content, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, err
	}
	return content, version, nil
}

func (s *DocumentStore) SaveDocument(ctx context.Context, docID, content string, version uint64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO document_contents (doc_id, content, current_version)
		 VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE content = VALUES(content), current_version = VALUES(current_version)`,
		docID,
		content,
		version,
	)
	return err
}

// memoryContentStore backs tests and database-free deployments.
type memoryContentStore struct {
	mu   sync.Mutex
	docs map[string]memoryDoc
}

type memoryDoc struct {
	content string
	version uint64
}

func NewMemoryContentStore() *memoryContentStore {
	return &memoryContentStore{docs: make(map[string]memoryDoc)}
}

func (s *memoryContentStore) LoadDocument(_ context.Context, docID string) (string, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.docs[docID]
	return d.content, d.version, nil
}

func (s *memoryContentStore) SaveDocument(_ context.Context, docID, content string, version uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[docID] = memoryDoc{content: content, version: version}
	return nil
}
