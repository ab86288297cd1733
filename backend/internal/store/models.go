package store

import "time"

// DefaultBranch is the branch live edits land on; it is created on first
// write and marked protected.
const DefaultBranch = "main"

// Merge record states.
const (
	MergeStatusPending   = "pending"
	MergeStatusCompleted = "completed"
	MergeStatusFailed    = "failed"
)

// DocumentVersion is one immutable snapshot in a document's history. Content
// is the full text, not a diff; restore is a row read at the cost of storage.
// Version numbers are unique per (document, branch). Every version except a
// document's first has exactly one parent, so history forms a tree.
type DocumentVersion struct {
	ID              string    `gorm:"primaryKey;type:char(36)" json:"id"`
	DocumentID      string    `gorm:"size:64;uniqueIndex:idx_doc_branch_version;index" json:"documentId"`
	BranchName      string    `gorm:"size:128;uniqueIndex:idx_doc_branch_version" json:"branchName"`
	Version         uint64    `gorm:"uniqueIndex:idx_doc_branch_version" json:"version"`
	Content         string    `gorm:"type:longtext" json:"content"`
	AuthorID        uint64    `json:"authorId"`
	CommitMessage   string    `gorm:"size:512" json:"commitMessage,omitempty"`
	ParentVersionID string    `gorm:"type:char(36)" json:"parentVersionId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Branch is a named mutable pointer into the version log; its head advances
// on every version committed to it.
type Branch struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	DocumentID    string    `gorm:"size:64;uniqueIndex:idx_doc_branch_name" json:"documentId"`
	Name          string    `gorm:"size:128;uniqueIndex:idx_doc_branch_name" json:"name"`
	HeadVersionID string    `gorm:"type:char(36)" json:"headVersionId,omitempty"`
	CreatedByID   uint64    `json:"createdById"`
	IsDefault     bool      `json:"isDefault"`
	IsProtected   bool      `json:"isProtected"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// MergeConflict is one line-level disagreement between the merged branches.
// Merges resolve automatically (source wins), but the disagreements are still
// reported so callers can escalate.
type MergeConflict struct {
	Line   int    `json:"line"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// MergeRecord tracks one branch-to-branch merge. Created pending, finalized
// atomically with the merge version.
type MergeRecord struct {
	ID              string          `gorm:"primaryKey;type:char(36)" json:"id"`
	DocumentID      string          `gorm:"size:64;index" json:"documentId"`
	SourceBranch    string          `gorm:"size:128" json:"sourceBranch"`
	TargetBranch    string          `gorm:"size:128" json:"targetBranch"`
	SourceVersionID string          `gorm:"type:char(36)" json:"sourceVersionId"`
	TargetVersionID string          `gorm:"type:char(36)" json:"targetVersionId"`
	MergeVersionID  string          `gorm:"type:char(36)" json:"mergeVersionId,omitempty"`
	Conflicts       []MergeConflict `gorm:"serializer:json" json:"conflicts"`
	Status          string          `gorm:"size:16" json:"status"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}
