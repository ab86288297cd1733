package store

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
)

// MergeResult reports a finished merge: the version written to the target
// branch and any lines where the two heads disagreed. Conflicts are
// informational, the source branch content always wins.
type MergeResult struct {
	Record       *MergeRecord     `json:"record"`
	MergeVersion *DocumentVersion `json:"mergeVersion"`
	Conflicts    []MergeConflict  `json:"conflicts,omitempty"`
}

// ContentSaver is the document's current-content row; merges landing on the
// default branch write through to it so cold sessions hydrate post-merge
// content.
type ContentSaver interface {
	SaveDocument(ctx context.Context, docID, content string, version uint64) error
}

// BranchManager layers branch workflows on top of a VersionStore.
type BranchManager struct {
	store   VersionStore
	content ContentSaver
}

func NewBranchManager(store VersionStore, content ContentSaver) *BranchManager {
	return &BranchManager{store: store, content: content}
}

func (m *BranchManager) CreateBranch(ctx context.Context, docID, name string, createdByID uint64, fromBranch string) (*Branch, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("branch name must not be empty")
	}
	return m.store.CreateBranch(ctx, docID, name, createdByID, fromBranch)
}

func (m *BranchManager) ListBranches(ctx context.Context, docID string) ([]Branch, error) {
	return m.store.ListBranches(ctx, docID)
}

// MergeBranch folds the source branch head into the target branch. The merge
// version carries the full source content; lines that differ between the two
// heads are reported as conflicts on the merge record.
func (m *BranchManager) MergeBranch(ctx context.Context, docID, source, target string, mergedByID uint64) (*MergeResult, error) {
	if source == target {
		return nil, fmt.Errorf("cannot merge branch %q into itself", source)
	}
	srcHead, err := m.store.LatestVersion(ctx, docID, source)
	if err != nil {
		return nil, fmt.Errorf("load %s head: %w", source, err)
	}
	tgtHead, err := m.store.LatestVersion(ctx, docID, target)
	if err != nil {
		return nil, fmt.Errorf("load %s head: %w", target, err)
	}

	conflicts := lineConflicts(srcHead.Content, tgtHead.Content)

	rec := &MergeRecord{
		ID:              uuid.NewString(),
		DocumentID:      docID,
		SourceBranch:    source,
		TargetBranch:    target,
		SourceVersionID: srcHead.ID,
		TargetVersionID: tgtHead.ID,
		Conflicts:       conflicts,
		Status:          MergeStatusPending,
	}
	if err := m.store.CreateMergeRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("record merge: %w", err)
	}

	mergeNumber := srcHead.Version
	if tgtHead.Version > mergeNumber {
		mergeNumber = tgtHead.Version
	}
	mergeVersion := &DocumentVersion{
		ID:              uuid.NewString(),
		DocumentID:      docID,
		BranchName:      target,
		Version:         mergeNumber + 1,
		Content:         srcHead.Content,
		AuthorID:        mergedByID,
		CommitMessage:   fmt.Sprintf("Merge %s into %s", source, target),
		ParentVersionID: tgtHead.ID,
	}
	if err := m.store.CommitMerge(ctx, rec, mergeVersion); err != nil {
		_ = m.store.FailMergeRecord(ctx, rec.ID)
		// Partial result so callers can report what the merge saw.
		return &MergeResult{Record: rec, Conflicts: conflicts}, fmt.Errorf("commit merge: %w", err)
	}
	if target == DefaultBranch && m.content != nil {
		// Keep the live-content row in step with the default branch head so a
		// cold session does not hydrate the pre-merge snapshot.
		if err := m.content.SaveDocument(ctx, docID, mergeVersion.Content, mergeVersion.Version); err != nil {
			log.Printf("merge content sync failed doc=%s version=%d err=%v", docID, mergeVersion.Version, err)
		}
	}
	return &MergeResult{Record: rec, MergeVersion: mergeVersion, Conflicts: conflicts}, nil
}

// lineConflicts pairs the two contents line by line and reports every index
// where they differ, including lines present on only one side.
func lineConflicts(source, target string) []MergeConflict {
	if source == target {
		return nil
	}
	srcLines := strings.Split(source, "\n")
	tgtLines := strings.Split(target, "\n")
	n := len(srcLines)
	if len(tgtLines) > n {
		n = len(tgtLines)
	}
	var out []MergeConflict
	for i := 0; i < n; i++ {
		var s, t string
		if i < len(srcLines) {
			s = srcLines[i]
		}
		if i < len(tgtLines) {
			t = tgtLines[i]
		}
		if s != t {
			out = append(out, MergeConflict{Line: i + 1, Source: s, Target: t})
		}
	}
	return out
}
