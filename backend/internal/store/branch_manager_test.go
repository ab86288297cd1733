package store

import (
	"context"
	"errors"
	"testing"
)

func seedMainHistory(t *testing.T, s VersionStore, docID string, contents ...string) *DocumentVersion {
	t.Helper()
	var last *DocumentVersion
	for _, c := range contents {
		v, err := s.CreateVersion(context.Background(), docID, DefaultBranch, c, 1, "edit")
		if err != nil {
			t.Fatalf("seed version: %v", err)
		}
		last = v
	}
	return last
}

func TestCreateVersionNumbersAreGapless(t *testing.T) {
	s := NewMemoryVersionStore()
	seedMainHistory(t, s, "doc-1", "a", "ab", "abc")

	for i := 0; i < 5; i++ {
		if err := s.AppendEditVersion(context.Background(), "doc-1", DefaultBranch, "abc+", 2); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	vs, err := s.ListVersions(context.Background(), "doc-1", DefaultBranch)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(vs) != 8 {
		t.Fatalf("got %d versions, want 8", len(vs))
	}
	// Newest first, consecutive numbers.
	for i, v := range vs {
		if want := uint64(8 - i); v.Version != want {
			t.Fatalf("position %d has version %d, want %d", i, v.Version, want)
		}
	}
	if vs[0].ParentVersionID != vs[1].ID {
		t.Fatalf("head parent = %q, want previous head %q", vs[0].ParentVersionID, vs[1].ID)
	}
}

func TestCreateBranchForksFromHead(t *testing.T) {
	s := NewMemoryVersionStore()
	head := seedMainHistory(t, s, "doc-1", "one", "two")

	br, err := s.CreateBranch(context.Background(), "doc-1", "feature", 7, "")
	if err != nil {
		t.Fatalf("create branch: %v", err)
	}
	if br.HeadVersionID != head.ID {
		t.Fatalf("branch head = %q, want fork point %q", br.HeadVersionID, head.ID)
	}
	if br.IsDefault || br.IsProtected {
		t.Fatal("feature branch must not be default or protected")
	}

	if _, err := s.CreateBranch(context.Background(), "doc-1", "feature", 7, ""); !errors.Is(err, ErrDuplicateBranch) {
		t.Fatalf("duplicate branch error = %v, want ErrDuplicateBranch", err)
	}
}

func TestLatestVersionEmptyBranch(t *testing.T) {
	s := NewMemoryVersionStore()
	seedMainHistory(t, s, "doc-1", "x")
	if _, err := s.CreateBranch(context.Background(), "doc-1", "feature", 1, ""); err != nil {
		t.Fatalf("create branch: %v", err)
	}
	if _, err := s.LatestVersion(context.Background(), "doc-1", "feature"); !errors.Is(err, ErrEmptyBranch) {
		t.Fatalf("empty branch error = %v, want ErrEmptyBranch", err)
	}
}

func TestMergeBranchSourceWins(t *testing.T) {
	s := NewMemoryVersionStore()
	mgr := NewBranchManager(s, nil)
	ctx := context.Background()

	seedMainHistory(t, s, "doc-1", "v1", "v2", "base\nshared")
	if _, err := mgr.CreateBranch(ctx, "doc-1", "feature", 1, ""); err != nil {
		t.Fatalf("create branch: %v", err)
	}
	// Feature advances to version 5, main to version 4.
	for _, c := range []string{"base\nfeature-a", "X\nfeature-b"} {
		if _, err := s.CreateVersion(ctx, "doc-1", "feature", c, 2, "edit"); err != nil {
			t.Fatalf("feature edit: %v", err)
		}
	}
	mainHead, err := s.CreateVersion(ctx, "doc-1", DefaultBranch, "Y\nshared", 1, "edit")
	if err != nil {
		t.Fatalf("main edit: %v", err)
	}

	res, err := mgr.MergeBranch(ctx, "doc-1", "feature", DefaultBranch, 9)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if res.MergeVersion.Version != 6 {
		t.Fatalf("merge version = %d, want max(5,4)+1 = 6", res.MergeVersion.Version)
	}
	if res.MergeVersion.Content != "X\nfeature-b" {
		t.Fatalf("merge content = %q, want source head content", res.MergeVersion.Content)
	}
	if res.MergeVersion.ParentVersionID != mainHead.ID {
		t.Fatalf("merge parent = %q, want target head %q", res.MergeVersion.ParentVersionID, mainHead.ID)
	}
	if res.Record.Status != MergeStatusCompleted {
		t.Fatalf("merge status = %q, want completed", res.Record.Status)
	}
	if len(res.Conflicts) != 2 {
		t.Fatalf("got %d conflicts, want 2 (both lines differ): %+v", len(res.Conflicts), res.Conflicts)
	}
	if res.Conflicts[0].Line != 1 || res.Conflicts[0].Source != "X" || res.Conflicts[0].Target != "Y" {
		t.Fatalf("conflict 1 = %+v", res.Conflicts[0])
	}

	head, err := s.LatestVersion(ctx, "doc-1", DefaultBranch)
	if err != nil {
		t.Fatalf("latest after merge: %v", err)
	}
	if head.ID != res.MergeVersion.ID {
		t.Fatal("target branch head does not point at the merge version")
	}
}

func TestMergeBranchIdenticalContentsNoConflicts(t *testing.T) {
	s := NewMemoryVersionStore()
	mgr := NewBranchManager(s, nil)
	ctx := context.Background()

	seedMainHistory(t, s, "doc-1", "same")
	if _, err := mgr.CreateBranch(ctx, "doc-1", "feature", 1, ""); err != nil {
		t.Fatalf("create branch: %v", err)
	}
	if _, err := s.CreateVersion(ctx, "doc-1", "feature", "same", 2, "noop edit"); err != nil {
		t.Fatalf("feature edit: %v", err)
	}

	res, err := mgr.MergeBranch(ctx, "doc-1", "feature", DefaultBranch, 2)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(res.Conflicts) != 0 {
		t.Fatalf("identical heads produced conflicts: %+v", res.Conflicts)
	}
}

func TestMergeBranchSyncsLiveContent(t *testing.T) {
	s := NewMemoryVersionStore()
	content := NewMemoryContentStore()
	mgr := NewBranchManager(s, content)
	ctx := context.Background()

	seedMainHistory(t, s, "doc-1", "Y")
	if err := content.SaveDocument(ctx, "doc-1", "Y", 1); err != nil {
		t.Fatalf("seed content: %v", err)
	}
	if _, err := mgr.CreateBranch(ctx, "doc-1", "feature", 1, ""); err != nil {
		t.Fatalf("create branch: %v", err)
	}
	if _, err := s.CreateVersion(ctx, "doc-1", "feature", "X", 2, "edit"); err != nil {
		t.Fatalf("feature edit: %v", err)
	}

	res, err := mgr.MergeBranch(ctx, "doc-1", "feature", DefaultBranch, 2)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	// A cold session must hydrate the post-merge snapshot.
	got, version, err := content.LoadDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("load content: %v", err)
	}
	if got != "X" {
		t.Fatalf("live content after merge = %q, want source head %q", got, "X")
	}
	if version != res.MergeVersion.Version {
		t.Fatalf("live version after merge = %d, want %d", version, res.MergeVersion.Version)
	}
}

func TestCreateBranchMissingParent(t *testing.T) {
	s := NewMemoryVersionStore()
	mgr := NewBranchManager(s, nil)
	seedMainHistory(t, s, "doc-1", "x")

	if _, err := mgr.CreateBranch(context.Background(), "doc-1", "feature", 1, "no-such-branch"); !errors.Is(err, ErrBranchNotFound) {
		t.Fatalf("fork from missing branch error = %v, want ErrBranchNotFound", err)
	}
	branches, err := s.ListBranches(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("list branches: %v", err)
	}
	for _, br := range branches {
		if br.Name == "feature" {
			t.Fatal("orphan branch was created despite the missing parent")
		}
	}
}

func TestMergeBranchMissingSource(t *testing.T) {
	s := NewMemoryVersionStore()
	mgr := NewBranchManager(s, nil)
	seedMainHistory(t, s, "doc-1", "x")

	if _, err := mgr.MergeBranch(context.Background(), "doc-1", "ghost", DefaultBranch, 1); !errors.Is(err, ErrEmptyBranch) {
		t.Fatalf("merge from missing branch error = %v, want ErrEmptyBranch", err)
	}
}

func TestGetVersionAcrossBranches(t *testing.T) {
	s := NewMemoryVersionStore()
	ctx := context.Background()
	seedMainHistory(t, s, "doc-1", "one", "two")

	if _, err := s.GetVersion(ctx, "doc-1", 3); !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("missing version error = %v, want ErrVersionNotFound", err)
	}
	v, err := s.GetVersion(ctx, "doc-1", 2)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	if v.Content != "two" {
		t.Fatalf("version 2 content = %q, want %q", v.Content, "two")
	}
}
