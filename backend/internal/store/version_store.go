package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrVersionNotFound = errors.New("VERSION_NOT_FOUND")
	ErrBranchNotFound  = errors.New("BRANCH_NOT_FOUND")
	ErrDuplicateBranch = errors.New("DUPLICATE_BRANCH")
	ErrEmptyBranch     = errors.New("EMPTY_BRANCH")
)

// VersionStore is the durable append-only version log plus the branch
// pointers into it.
type VersionStore interface {
	// CreateVersion appends an immutable snapshot to branchName and advances
	// the branch head. The default branch is bootstrapped on first write;
	// any other unknown branch is ErrBranchNotFound.
	CreateVersion(ctx context.Context, docID, branchName, content string, authorID uint64, commitMessage string) (*DocumentVersion, error)

	// AppendEditVersion is CreateVersion without a commit message, shaped for
	// the collaboration persister.
	AppendEditVersion(ctx context.Context, docID, branchName, content string, authorID uint64) error

	// ListVersions returns the branch history newest first.
	ListVersions(ctx context.Context, docID, branchName string) ([]DocumentVersion, error)

	// GetVersion looks a version number up across branches.
	GetVersion(ctx context.Context, docID string, version uint64) (*DocumentVersion, error)

	// LatestVersion returns the branch head version, ErrEmptyBranch when the
	// branch has none.
	LatestVersion(ctx context.Context, docID, branchName string) (*DocumentVersion, error)

	// CreateBranch forks a named pointer off fromBranch's head.
	CreateBranch(ctx context.Context, docID, name string, createdByID uint64, fromBranch string) (*Branch, error)

	ListBranches(ctx context.Context, docID string) ([]Branch, error)

	CreateMergeRecord(ctx context.Context, rec *MergeRecord) error

	// CommitMerge finalizes a merge atomically: insert the merge version,
	// advance the target branch head, mark the record completed. All or
	// nothing.
	CommitMerge(ctx context.Context, rec *MergeRecord, mergeVersion *DocumentVersion) error

	// FailMergeRecord marks rec failed after a finalization error.
	FailMergeRecord(ctx context.Context, recordID string) error
}

type gormVersionStore struct {
	db *gorm.DB
}

func NewGormVersionStore(db *gorm.DB) (VersionStore, error) {
	if err := db.AutoMigrate(&DocumentVersion{}, &Branch{}, &MergeRecord{}); err != nil {
		return nil, err
	}
	return &gormVersionStore{db: db}, nil
}

// ensureBranch returns the branch row, bootstrapping the default branch on
// first use.
func ensureBranch(tx *gorm.DB, docID, branchName string, authorID uint64) (*Branch, error) {
	var br Branch
	err := tx.Where("document_id = ? AND name = ?", docID, branchName).First(&br).Error
	if err == nil {
		return &br, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if branchName != DefaultBranch {
		return nil, ErrBranchNotFound
	}
	br = Branch{
		DocumentID:  docID,
		Name:        DefaultBranch,
		CreatedByID: authorID,
		IsDefault:   true,
		IsProtected: true,
	}
	if err := tx.Create(&br).Error; err != nil {
		return nil, err
	}
	return &br, nil
}

// nextVersionNumber continues the branch's own numbering; a freshly forked
// branch picks up after its fork-point version so numbers stay comparable
// across the document's branches.
func nextVersionNumber(tx *gorm.DB, br *Branch) (uint64, error) {
	var maxVersion uint64
	err := tx.Model(&DocumentVersion{}).
		Where("document_id = ? AND branch_name = ?", br.DocumentID, br.Name).
		Select("COALESCE(MAX(version), 0)").Scan(&maxVersion).Error
	if err != nil {
		return 0, err
	}
	if maxVersion == 0 && br.HeadVersionID != "" {
		var fork DocumentVersion
		if err := tx.Select("version").Where("id = ?", br.HeadVersionID).First(&fork).Error; err != nil {
			return 0, err
		}
		maxVersion = fork.Version
	}
	return maxVersion + 1, nil
}

func (s *gormVersionStore) CreateVersion(ctx context.Context, docID, branchName, content string, authorID uint64, commitMessage string) (*DocumentVersion, error) {
	var created *DocumentVersion
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		br, err := ensureBranch(tx, docID, branchName, authorID)
		if err != nil {
			return err
		}
		next, err := nextVersionNumber(tx, br)
		if err != nil {
			return err
		}
		v := DocumentVersion{
			ID:              uuid.NewString(),
			DocumentID:      docID,
			BranchName:      branchName,
			Version:         next,
			Content:         content,
			AuthorID:        authorID,
			CommitMessage:   commitMessage,
			ParentVersionID: br.HeadVersionID,
		}
		if err := tx.Create(&v).Error; err != nil {
			return err
		}
		if err := tx.Model(br).Update("head_version_id", v.ID).Error; err != nil {
			return err
		}
		created = &v
		return nil
	})
	return created, err
}

// AppendEditVersion is the session persister's entry point: one durable
// snapshot per accepted-edit flush, on the default branch.
func (s *gormVersionStore) AppendEditVersion(ctx context.Context, docID, branchName, content string, authorID uint64) error {
	_, err := s.CreateVersion(ctx, docID, branchName, content, authorID, "")
	return err
}

func (s *gormVersionStore) ListVersions(ctx context.Context, docID, branchName string) ([]DocumentVersion, error) {
	var out []DocumentVersion
	err := s.db.WithContext(ctx).
		Where("document_id = ? AND branch_name = ?", docID, branchName).
		Order("version DESC").Find(&out).Error
	return out, err
}

func (s *gormVersionStore) GetVersion(ctx context.Context, docID string, version uint64) (*DocumentVersion, error) {
	var v DocumentVersion
	err := s.db.WithContext(ctx).
		Where("document_id = ? AND version = ?", docID, version).
		Order("created_at DESC").First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *gormVersionStore) LatestVersion(ctx context.Context, docID, branchName string) (*DocumentVersion, error) {
	var v DocumentVersion
	err := s.db.WithContext(ctx).
		Where("document_id = ? AND branch_name = ?", docID, branchName).
		Order("version DESC").First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEmptyBranch
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *gormVersionStore) CreateBranch(ctx context.Context, docID, name string, createdByID uint64, fromBranch string) (*Branch, error) {
	if fromBranch == "" {
		fromBranch = DefaultBranch
	}
	var created *Branch
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Branch{}).
			Where("document_id = ? AND name = ?", docID, name).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateBranch
		}
		// Fork point: the parent branch's current head.
		var parent Branch
		err := tx.Where("document_id = ? AND name = ?", docID, fromBranch).First(&parent).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrBranchNotFound
		}
		if err != nil {
			return err
		}
		br := Branch{
			DocumentID:    docID,
			Name:          name,
			HeadVersionID: parent.HeadVersionID,
			CreatedByID:   createdByID,
			IsDefault:     name == DefaultBranch,
			IsProtected:   name == DefaultBranch,
		}
		if err := tx.Create(&br).Error; err != nil {
			return err
		}
		created = &br
		return nil
	})
	return created, err
}

func (s *gormVersionStore) ListBranches(ctx context.Context, docID string) ([]Branch, error) {
	var out []Branch
	err := s.db.WithContext(ctx).
		Where("document_id = ?", docID).Order("created_at ASC").Find(&out).Error
	return out, err
}

func (s *gormVersionStore) CreateMergeRecord(ctx context.Context, rec *MergeRecord) error {
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *gormVersionStore) CommitMerge(ctx context.Context, rec *MergeRecord, mergeVersion *DocumentVersion) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var br Branch
		err := tx.Where("document_id = ? AND name = ?", mergeVersion.DocumentID, mergeVersion.BranchName).
			First(&br).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrBranchNotFound
		}
		if err != nil {
			return err
		}
		if err := tx.Create(mergeVersion).Error; err != nil {
			return err
		}
		if err := tx.Model(&br).Update("head_version_id", mergeVersion.ID).Error; err != nil {
			return err
		}
		rec.MergeVersionID = mergeVersion.ID
		rec.Status = MergeStatusCompleted
		return tx.Save(rec).Error
	})
}

func (s *gormVersionStore) FailMergeRecord(ctx context.Context, recordID string) error {
	return s.db.WithContext(ctx).Model(&MergeRecord{}).
		Where("id = ?", recordID).Update("status", MergeStatusFailed).Error
}
