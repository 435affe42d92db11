package journal

import (
	"path/filepath"
	"testing"
	"time"

	"carya/internal/wire"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadFiles(t *testing.T) {
	s := openTestStore(t)

	f := wire.File{
		ID: 1, WorkspacePath: "a.md", MimeType: "text/markdown",
		Hash: "abc", Version: 2, CreatedAt: time.Now(), UpdatedAt: time.Now(),
		Text: "hello",
	}
	if err := s.SaveFile(f); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	loaded, err := s.LoadFiles()
	if err != nil {
		t.Fatalf("LoadFiles: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Text != "hello" || loaded[0].ID != 1 {
		t.Fatalf("got %+v", loaded)
	}
}

func TestSaveFileUpsertsOnConflict(t *testing.T) {
	s := openTestStore(t)

	base := wire.File{ID: 1, WorkspacePath: "a.md", MimeType: "text/markdown", Version: 1, Text: "v1"}
	if err := s.SaveFile(base); err != nil {
		t.Fatalf("SaveFile 1: %v", err)
	}
	base.Version = 2
	base.Text = "v2"
	if err := s.SaveFile(base); err != nil {
		t.Fatalf("SaveFile 2: %v", err)
	}

	loaded, err := s.LoadFiles()
	if err != nil {
		t.Fatalf("LoadFiles: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Version != 2 || loaded[0].Text != "v2" {
		t.Fatalf("got %+v", loaded)
	}
}

func TestDeleteFileRemovesHistoryToo(t *testing.T) {
	s := openTestStore(t)
	f := wire.File{ID: 1, WorkspacePath: "a.md", MimeType: "text/markdown", Version: 1, Text: "x"}
	if err := s.SaveFile(f); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	op := wire.Operation{FileID: 1, Version: 1, Chunks: []wire.DiffChunk{{Type: wire.ChunkAdd, Position: 0, Text: "x", Len: 1}}, CreatedAt: time.Now()}
	if err := s.AppendOperation(op); err != nil {
		t.Fatalf("AppendOperation: %v", err)
	}

	if err := s.DeleteFile(1); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}

	files, err := s.LoadFiles()
	if err != nil {
		t.Fatalf("LoadFiles: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected no files, got %+v", files)
	}
	hist, err := s.History(1)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 0 {
		t.Fatalf("expected no history, got %+v", hist)
	}
}

func TestHistoryOrderedByVersion(t *testing.T) {
	s := openTestStore(t)
	for v := int64(1); v <= 3; v++ {
		op := wire.Operation{
			FileID:  7,
			Version: v,
			Chunks:  []wire.DiffChunk{{Type: wire.ChunkAdd, Position: 0, Text: "x", Len: 1}},
			CreatedAt: time.Now(),
		}
		if err := s.AppendOperation(op); err != nil {
			t.Fatalf("AppendOperation v%d: %v", v, err)
		}
	}

	hist, err := s.History(7)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 3 || hist[0].Version != 1 || hist[2].Version != 3 {
		t.Fatalf("got %+v", hist)
	}
}

func TestSaveAndLoadToken(t *testing.T) {
	s := openTestStore(t)

	if tok, err := s.LoadToken(); err != nil || tok != "" {
		t.Fatalf("expected empty token initially, got %q, err %v", tok, err)
	}

	if err := s.SaveToken("tok-1"); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	if err := s.SaveToken("tok-2"); err != nil {
		t.Fatalf("SaveToken overwrite: %v", err)
	}

	tok, err := s.LoadToken()
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if tok != "tok-2" {
		t.Fatalf("token = %q", tok)
	}
}
