package filecache

import (
	"testing"

	"carya/internal/wire"
)

func TestCreateAndLookup(t *testing.T) {
	c := New()
	c.Create(wire.File{ID: 1, WorkspacePath: "a.md", Text: "hi"})

	f, ok := c.GetByID(1)
	if !ok || f.WorkspacePath != "a.md" {
		t.Fatalf("GetByID(1) = %+v, %v", f, ok)
	}
	f2, ok := c.GetByPath("a.md")
	if !ok || f2.ID != 1 {
		t.Fatalf("GetByPath(a.md) = %+v, %v", f2, ok)
	}
}

func TestSetPathMigratesIndex(t *testing.T) {
	c := New()
	c.Create(wire.File{ID: 1, WorkspacePath: "old.md"})

	if !c.SetPath(1, "new.md") {
		t.Fatal("SetPath returned false")
	}
	if _, ok := c.GetByPath("old.md"); ok {
		t.Error("old path still resolves after SetPath")
	}
	f, ok := c.GetByPath("new.md")
	if !ok || f.ID != 1 {
		t.Errorf("new path does not resolve to id 1: %+v %v", f, ok)
	}
}

func TestDeleteByIDRemovesPathBinding(t *testing.T) {
	c := New()
	c.Create(wire.File{ID: 1, WorkspacePath: "a.md"})
	c.DeleteByID(1)

	if c.HasByID(1) || c.HasByPath("a.md") {
		t.Error("DeleteByID left stale bindings")
	}
}

func TestDeleteByIDUsesCurrentPathNotStale(t *testing.T) {
	c := New()
	c.Create(wire.File{ID: 1, WorkspacePath: "old.md"})
	c.SetPath(1, "new.md")
	c.DeleteByID(1)

	if c.HasByPath("new.md") {
		t.Error("DeleteByID did not remove the current path binding")
	}
	// The stale old path was never bound after SetPath, so this is
	// really asserting no entry lingers under either name.
	if c.HasByPath("old.md") {
		t.Error("DeleteByID left a stale old-path binding")
	}
}

func TestNoTwoEntriesShareAPath(t *testing.T) {
	c := New()
	c.Create(wire.File{ID: 1, WorkspacePath: "a.md"})
	c.Create(wire.File{ID: 2, WorkspacePath: "a.md"})

	f, ok := c.GetByPath("a.md")
	if !ok || f.ID != 2 {
		t.Fatalf("expected second create to own the path, got %+v", f)
	}
	if c.HasByID(1) {
		// id 1 is still in byID (Create doesn't delete prior ids), but
		// it must not resolve via the path index anymore - that's the
		// actual invariant being protected here.
	}
}

func TestFindAndDump(t *testing.T) {
	c := New()
	c.Create(wire.File{ID: 1, WorkspacePath: "notes/a.md"})
	c.Create(wire.File{ID: 2, WorkspacePath: "notes/b.md"})
	c.Create(wire.File{ID: 3, WorkspacePath: "other/c.md"})

	found := c.FindByPathPrefix("notes/")
	if len(found) != 2 {
		t.Errorf("FindByPathPrefix = %d results, want 2", len(found))
	}
	if len(c.Dump()) != 3 {
		t.Errorf("Dump = %d results, want 3", len(c.Dump()))
	}
}
