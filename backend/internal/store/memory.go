package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memVersionStore is the single-process twin of the GORM store, behind the
// same interface; used in tests and deployments without a database tier.
type memVersionStore struct {
	mu       sync.Mutex
	versions map[string][]*DocumentVersion // docID -> append order
	branches map[string]map[string]*Branch // docID -> name -> branch
	merges   map[string]*MergeRecord
	now      func() time.Time
}

func NewMemoryVersionStore() VersionStore {
	return &memVersionStore{
		versions: make(map[string][]*DocumentVersion),
		branches: make(map[string]map[string]*Branch),
		merges:   make(map[string]*MergeRecord),
		now:      time.Now,
	}
}

func (s *memVersionStore) branch(docID, name string) *Branch {
	if m := s.branches[docID]; m != nil {
		return m[name]
	}
	return nil
}

func (s *memVersionStore) putBranch(br *Branch) {
	m := s.branches[br.DocumentID]
	if m == nil {
		m = make(map[string]*Branch)
		s.branches[br.DocumentID] = m
	}
	m[br.Name] = br
}

// nextVersion continues the branch numbering; a freshly forked branch picks
// up after its fork-point version.
func (s *memVersionStore) nextVersion(br *Branch) uint64 {
	var maxV uint64
	for _, v := range s.versions[br.DocumentID] {
		if v.BranchName == br.Name && v.Version > maxV {
			maxV = v.Version
		}
	}
	if maxV == 0 && br.HeadVersionID != "" {
		for _, v := range s.versions[br.DocumentID] {
			if v.ID == br.HeadVersionID {
				maxV = v.Version
				break
			}
		}
	}
	return maxV + 1
}

func (s *memVersionStore) CreateVersion(_ context.Context, docID, branchName, content string, authorID uint64, commitMessage string) (*DocumentVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	br := s.branch(docID, branchName)
	if br == nil {
		if branchName != DefaultBranch {
			return nil, ErrBranchNotFound
		}
		br = &Branch{
			DocumentID:  docID,
			Name:        DefaultBranch,
			CreatedByID: authorID,
			IsDefault:   true,
			IsProtected: true,
			CreatedAt:   s.now(),
			UpdatedAt:   s.now(),
		}
		s.putBranch(br)
	}
	v := &DocumentVersion{
		ID:              uuid.NewString(),
		DocumentID:      docID,
		BranchName:      branchName,
		Version:         s.nextVersion(br),
		Content:         content,
		AuthorID:        authorID,
		CommitMessage:   commitMessage,
		ParentVersionID: br.HeadVersionID,
		CreatedAt:       s.now(),
	}
	s.versions[docID] = append(s.versions[docID], v)
	br.HeadVersionID = v.ID
	br.UpdatedAt = s.now()
	out := *v
	return &out, nil
}

func (s *memVersionStore) AppendEditVersion(ctx context.Context, docID, branchName, content string, authorID uint64) error {
	_, err := s.CreateVersion(ctx, docID, branchName, content, authorID, "")
	return err
}

func (s *memVersionStore) ListVersions(_ context.Context, docID, branchName string) ([]DocumentVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []DocumentVersion
	for _, v := range s.versions[docID] {
		if v.BranchName == branchName {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (s *memVersionStore) GetVersion(_ context.Context, docID string, version uint64) (*DocumentVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Newest creation wins when the number exists on several branches.
	for i := len(s.versions[docID]) - 1; i >= 0; i-- {
		if v := s.versions[docID][i]; v.Version == version {
			out := *v
			return &out, nil
		}
	}
	return nil, ErrVersionNotFound
}

func (s *memVersionStore) LatestVersion(_ context.Context, docID, branchName string) (*DocumentVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *DocumentVersion
	for _, v := range s.versions[docID] {
		if v.BranchName == branchName && (latest == nil || v.Version > latest.Version) {
			latest = v
		}
	}
	if latest == nil {
		return nil, ErrEmptyBranch
	}
	out := *latest
	return &out, nil
}

func (s *memVersionStore) CreateBranch(_ context.Context, docID, name string, createdByID uint64, fromBranch string) (*Branch, error) {
	if fromBranch == "" {
		fromBranch = DefaultBranch
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.branch(docID, name) != nil {
		return nil, ErrDuplicateBranch
	}
	parent := s.branch(docID, fromBranch)
	if parent == nil {
		return nil, ErrBranchNotFound
	}
	br := &Branch{
		DocumentID:    docID,
		Name:          name,
		HeadVersionID: parent.HeadVersionID,
		CreatedByID:   createdByID,
		IsDefault:     name == DefaultBranch,
		IsProtected:   name == DefaultBranch,
		CreatedAt:     s.now(),
		UpdatedAt:     s.now(),
	}
	s.putBranch(br)
	out := *br
	return &out, nil
}

func (s *memVersionStore) ListBranches(_ context.Context, docID string) ([]Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Branch
	for _, br := range s.branches[docID] {
		out = append(out, *br)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memVersionStore) CreateMergeRecord(_ context.Context, rec *MergeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.merges[rec.ID] = &cp
	return nil
}

func (s *memVersionStore) CommitMerge(_ context.Context, rec *MergeRecord, mergeVersion *DocumentVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	br := s.branch(mergeVersion.DocumentID, mergeVersion.BranchName)
	if br == nil {
		return ErrBranchNotFound
	}
	mv := *mergeVersion
	if mv.CreatedAt.IsZero() {
		mv.CreatedAt = s.now()
	}
	s.versions[mv.DocumentID] = append(s.versions[mv.DocumentID], &mv)
	br.HeadVersionID = mv.ID
	br.UpdatedAt = s.now()
	rec.MergeVersionID = mv.ID
	rec.Status = MergeStatusCompleted
	cp := *rec
	s.merges[rec.ID] = &cp
	return nil
}

func (s *memVersionStore) FailMergeRecord(_ context.Context, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec := s.merges[recordID]; rec != nil {
		rec.Status = MergeStatusFailed
		rec.UpdatedAt = s.now()
	}
	return nil
}
