package reconciler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"carya/internal/apiclient"
	"carya/internal/config"
	"carya/internal/diffengine"
	"carya/internal/filecache"
	"carya/internal/opqueue"
	"carya/internal/storage"
	"carya/internal/wire"
	"carya/internal/wsclient"
)

// ---- fakes ------------------------------------------------------------

type fakeStorage struct {
	mu     sync.Mutex
	files  map[string][]byte
	isText map[string]bool
	mtimes map[string]time.Time
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{files: map[string][]byte{}, isText: map[string]bool{}, mtimes: map[string]time.Time{}}
}

func (s *fakeStorage) put(path, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = []byte(content)
	s.isText[path] = true
	s.mtimes[path] = time.Now()
}

func (s *fakeStorage) Exists(_ context.Context, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[path]
	return ok, nil
}

func (s *fakeStorage) Stat(_ context.Context, path string) (storage.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[path]; !ok {
		return storage.Info{}, storage.ErrNotExist
	}
	return storage.Info{Kind: storage.KindFile, Mtime: s.mtimes[path]}, nil
}

func (s *fakeStorage) Read(_ context.Context, path string) (string, []byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path]
	if !ok {
		return "", nil, false, storage.ErrNotExist
	}
	if s.isText[path] {
		return string(data), nil, true, nil
	}
	return "", data, false, nil
}

func (s *fakeStorage) ReadText(_ context.Context, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path]
	if !ok {
		return "", storage.ErrNotExist
	}
	return string(data), nil
}

func (s *fakeStorage) ReadBinary(_ context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path]
	if !ok {
		return nil, storage.ErrNotExist
	}
	return data, nil
}

func (s *fakeStorage) Write(_ context.Context, path string, content []byte, opts storage.WriteOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if opts.IsDir {
		return nil
	}
	s.files[path] = content
	if _, ok := s.isText[path]; !ok {
		s.isText[path] = true
	}
	s.mtimes[path] = time.Now()
	return nil
}

func (s *fakeStorage) Delete(_ context.Context, path string, opts storage.DeleteOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, path)
	delete(s.isText, path)
	return nil
}

func (s *fakeStorage) Rename(_ context.Context, oldPath, newPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[oldPath]
	if !ok {
		return storage.ErrNotExist
	}
	s.files[newPath] = data
	delete(s.files, oldPath)
	return nil
}

func (s *fakeStorage) ListFiles(_ context.Context, opts storage.ListOptions) ([]storage.ListedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.ListedFile
	for path := range s.files {
		if opts.Prefix != "" && len(path) <= len(opts.Prefix) {
			continue
		}
		if opts.Prefix != "" && path[:len(opts.Prefix)] != opts.Prefix {
			continue
		}
		out = append(out, storage.ListedFile{Path: path})
	}
	return out, nil
}

type fakeAPI struct {
	mu     sync.Mutex
	files  map[int64]wire.File
	nextID int64
	ops    map[int64][]wire.Operation
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{files: map[int64]wire.File{}, ops: map[int64][]wire.Operation{}}
}

func (a *fakeAPI) seed(f wire.File) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.files[f.ID] = f
	if f.ID >= a.nextID {
		a.nextID = f.ID + 1
	}
}

func (a *fakeAPI) Login(context.Context, string, string) (string, error) { return "", nil }

func (a *fakeAPI) ListFiles(context.Context) ([]wire.FileMetadata, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []wire.FileMetadata
	for _, f := range a.files {
		out = append(out, wire.FileMetadata{
			ID: f.ID, WorkspacePath: f.WorkspacePath, MimeType: f.MimeType,
			Hash: f.Hash, Version: f.Version, CreatedAt: f.CreatedAt, UpdatedAt: f.UpdatedAt,
		})
	}
	return out, nil
}

func (a *fakeAPI) GetFile(_ context.Context, id int64) (wire.File, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.files[id]
	if !ok {
		return wire.File{}, storage.ErrNotExist
	}
	return f, nil
}

func (a *fakeAPI) CreateFile(_ context.Context, path string, content []byte) (wire.FileMetadata, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	id := a.nextID
	f := wire.File{ID: id, WorkspacePath: path, MimeType: "text/markdown", Hash: sha256Hex(content), Version: 0, Text: string(content)}
	a.files[id] = f
	return wire.FileMetadata{ID: id, WorkspacePath: path, MimeType: f.MimeType, Hash: f.Hash, Version: 0}, nil
}

func (a *fakeAPI) RenameFile(_ context.Context, id int64, newPath string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.files[id]
	if !ok {
		return storage.ErrNotExist
	}
	f.WorkspacePath = newPath
	a.files[id] = f
	return nil
}

func (a *fakeAPI) DeleteFile(_ context.Context, id int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.files, id)
	return nil
}

func (a *fakeAPI) GetOperations(_ context.Context, fileID int64, from int64) ([]wire.Operation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []wire.Operation
	for _, op := range a.ops[fileID] {
		if op.Version > from {
			out = append(out, op)
		}
	}
	return out, nil
}

type fakeTransport struct {
	mu     sync.Mutex
	sent   []wsclient.Frame
	frames chan wsclient.Frame
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{frames: make(chan wsclient.Frame, 16)}
}

func (t *fakeTransport) Send(_ context.Context, frame wsclient.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, frame)
	return nil
}

func (t *fakeTransport) Frames() <-chan wsclient.Frame { return t.frames }

func (t *fakeTransport) chunkFrames() []wsclient.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []wsclient.Frame
	for _, f := range t.sent {
		if f.Type == wire.MessageChunk {
			out = append(out, f)
		}
	}
	return out
}

type fakeDiffModal struct{ merged string }

func (m *fakeDiffModal) Resolve(context.Context, string, string, string, time.Time, time.Time) (string, error) {
	return m.merged, nil
}

func sha256HexStr(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func newTestReconciler(st storage.Storage, api apiclient.Client, tr *fakeTransport, modal DiffModal, policy config.ConflictResolution) (*Reconciler, *filecache.Cache, *opqueue.Registry) {
	cache := filecache.New()
	deques := opqueue.NewRegistry()
	cfg := &config.Config{ConflictResolution: policy}
	r := New(cache, deques, st, api, tr, modal, cfg, nil)
	return r, cache, deques
}

// ---- scenario 1 ---------------------------------------------------------

func TestScenario1RemoteOnlyFetchedAtStartup(t *testing.T) {
	st := newFakeStorage()
	api := newFakeAPI()
	api.seed(wire.File{ID: 1, WorkspacePath: "a.md", MimeType: "text/markdown", Hash: sha256HexStr("lorem ipsum"), Version: 0, Text: "lorem ipsum"})
	tr := newFakeTransport()

	r, cache, _ := newTestReconciler(st, api, tr, nil, config.ConflictRemote)

	if err := r.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	got, err := st.ReadText(context.Background(), "a.md")
	if err != nil || got != "lorem ipsum" {
		t.Fatalf("storage text = %q, err %v", got, err)
	}
	f, ok := cache.GetByPath("a.md")
	if !ok || f.Text != "lorem ipsum" {
		t.Fatalf("cache entry = %+v, ok=%v", f, ok)
	}
	if len(tr.sent) != 0 {
		t.Fatalf("expected no messages sent, got %d", len(tr.sent))
	}
}

// ---- scenario 2 ---------------------------------------------------------

func TestScenario2LocalOnlyPushedAtStartup(t *testing.T) {
	st := newFakeStorage()
	st.put("a.md", "lorem ipsum")
	api := newFakeAPI()
	tr := newFakeTransport()

	r, cache, _ := newTestReconciler(st, api, tr, nil, config.ConflictRemote)

	if err := r.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	metas, err := api.ListFiles(context.Background())
	if err != nil || len(metas) != 1 {
		t.Fatalf("server file list = %+v, err %v", metas, err)
	}
	if _, ok := cache.GetByPath("a.md"); !ok {
		t.Fatal("expected a.md cached")
	}

	var creates int
	for _, f := range tr.sent {
		if f.Type == wire.MessageCreate {
			creates++
		}
	}
	if creates != 1 {
		t.Fatalf("expected 1 create event, got %d", creates)
	}
}

// ---- scenario 3 ---------------------------------------------------------

func TestScenario3ConflictRemoteStrategy(t *testing.T) {
	st := newFakeStorage()
	st.put("a.md", "local")
	api := newFakeAPI()
	api.seed(wire.File{ID: 1, WorkspacePath: "a.md", MimeType: "text/markdown", Hash: sha256HexStr("remote"), Version: 5, Text: "remote"})
	tr := newFakeTransport()

	r, cache, _ := newTestReconciler(st, api, tr, nil, config.ConflictRemote)

	if err := r.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	got, _ := st.ReadText(context.Background(), "a.md")
	if got != "remote" {
		t.Fatalf("storage text = %q", got)
	}
	f, ok := cache.GetByPath("a.md")
	if !ok || f.Text != "remote" {
		t.Fatalf("cache = %+v", f)
	}
	if len(tr.chunkFrames()) != 0 {
		t.Fatalf("expected zero chunk messages, got %d", len(tr.chunkFrames()))
	}
}

// ---- scenario 4 ---------------------------------------------------------

func TestScenario4ConflictMergeStrategy(t *testing.T) {
	st := newFakeStorage()
	st.put("a.md", "local")
	api := newFakeAPI()
	api.seed(wire.File{ID: 1, WorkspacePath: "a.md", MimeType: "text/markdown", Hash: sha256HexStr("remote"), Version: 7, Text: "remote"})
	tr := newFakeTransport()
	modal := &fakeDiffModal{merged: "localremote"}

	r, cache, _ := newTestReconciler(st, api, tr, modal, config.ConflictMerge)

	if err := r.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	got, _ := st.ReadText(context.Background(), "a.md")
	if got != "localremote" {
		t.Fatalf("storage text = %q", got)
	}
	f, ok := cache.GetByPath("a.md")
	if !ok || f.Text != "localremote" {
		t.Fatalf("cache = %+v", f)
	}

	chunkFrames := tr.chunkFrames()
	if len(chunkFrames) != 1 {
		t.Fatalf("expected 1 chunk message, got %d", len(chunkFrames))
	}
	want := diffengine.Compute("remote", "localremote")
	got2 := chunkFrames[0].Chunk.Chunks
	if len(got2) != len(want) || got2[0] != want[0] {
		t.Fatalf("chunks = %+v, want %+v", got2, want)
	}
	if chunkFrames[0].Chunk.Version != 7 {
		t.Fatalf("version = %d, want 7", chunkFrames[0].Chunk.Version)
	}
}

func TestConflictUnrecognizedPolicyReturnsError(t *testing.T) {
	st := newFakeStorage()
	st.put("a.md", "local")
	api := newFakeAPI()
	api.seed(wire.File{ID: 1, WorkspacePath: "a.md", MimeType: "text/markdown", Hash: sha256HexStr("remote"), Version: 5, Text: "remote"})
	tr := newFakeTransport()

	r, _, _ := newTestReconciler(st, api, tr, nil, config.ConflictResolution("bogus"))

	// Init logs per-file failures and carries on, so the error is checked
	// on the per-file reconcile step that returns it.
	metas, err := api.ListFiles(context.Background())
	if err != nil || len(metas) != 1 {
		t.Fatalf("server file list = %+v, err %v", metas, err)
	}
	err = r.reconcileRemoteFile(context.Background(), metas[0])
	if !errors.Is(err, ErrUnrecognizedConflictPolicy) {
		t.Fatalf("reconcileRemoteFile err = %v, want ErrUnrecognizedConflictPolicy", err)
	}
}

// ---- scenario 5 ---------------------------------------------------------

func TestScenario5AckRoundtrip(t *testing.T) {
	st := newFakeStorage()
	st.put("a.md", "hello")
	api := newFakeAPI()
	api.seed(wire.File{ID: 1, WorkspacePath: "a.md", MimeType: "text/markdown", Version: 3, Text: "hello"})
	tr := newFakeTransport()

	r, cache, deques := newTestReconciler(st, api, tr, nil, config.ConflictRemote)
	cache.Create(wire.File{ID: 1, WorkspacePath: "a.md", MimeType: "text/markdown", Version: 3, Text: "hello"})

	st.put("a.md", "hello!")
	r.Modify(context.Background(), "a.md")

	chunkFrames := tr.chunkFrames()
	if len(chunkFrames) != 1 {
		t.Fatalf("expected 1 outbound chunk message, got %d", len(chunkFrames))
	}
	sentMsg := *chunkFrames[0].Chunk
	if sentMsg.Version != 3 {
		t.Fatalf("sent version = %d, want 3", sentMsg.Version)
	}

	ack := wire.ChunkMessage{FileID: 1, Version: 4, Chunks: sentMsg.Chunks, Type: wire.MessageChunk}
	r.HandleChunkMessage(context.Background(), ack)

	f, ok := cache.GetByID(1)
	if !ok || f.Text != "hello!" || f.Version != 4 {
		t.Fatalf("cache after ack = %+v", f)
	}
	if !deques.GetDeque(1).IsEmpty() {
		t.Fatal("expected deque empty after ack")
	}
}

// ---- scenario 6 ---------------------------------------------------------

func TestScenario6OutOfSyncRemoteChunkRollsBack(t *testing.T) {
	st := newFakeStorage()
	st.put("a.md", "abc")
	api := newFakeAPI()
	api.seed(wire.File{ID: 1, WorkspacePath: "a.md", MimeType: "text/markdown", Version: 3, Text: "abc"})
	tr := newFakeTransport()

	r, cache, deques := newTestReconciler(st, api, tr, nil, config.ConflictRemote)
	cache.Create(wire.File{ID: 1, WorkspacePath: "a.md", MimeType: "text/markdown", Version: 3, Text: "abc"})

	st.put("a.md", "abcX")
	r.Modify(context.Background(), "a.md")

	if deques.GetDeque(1).IsEmpty() {
		t.Fatal("expected one in-flight operation after local modify")
	}

	remoteMsg := wire.ChunkMessage{
		FileID: 1, Version: 4,
		Chunks: []wire.DiffChunk{{Type: wire.ChunkAdd, Position: 0, Text: "Z", Len: 1}},
		Type:   wire.MessageChunk,
	}
	r.HandleChunkMessage(context.Background(), remoteMsg)

	got, _ := st.ReadText(context.Background(), "a.md")
	if got != "Zabc" {
		t.Fatalf("storage text after rollback+apply = %q, want %q", got, "Zabc")
	}
	f, ok := cache.GetByID(1)
	if !ok || f.Text != "Zabc" || f.Version != 4 {
		t.Fatalf("cache after rollback = %+v", f)
	}
	if !deques.GetDeque(1).IsEmpty() {
		t.Fatal("expected deque emptied by rollback")
	}
}

// ---- additional coverage -------------------------------------------------

func TestHandleChunkMessageDropsStaleVersion(t *testing.T) {
	st := newFakeStorage()
	st.put("a.md", "abc")
	api := newFakeAPI()
	tr := newFakeTransport()
	r, cache, _ := newTestReconciler(st, api, tr, nil, config.ConflictRemote)
	cache.Create(wire.File{ID: 1, WorkspacePath: "a.md", MimeType: "text/markdown", Version: 5, Text: "abc"})

	r.HandleChunkMessage(context.Background(), wire.ChunkMessage{FileID: 1, Version: 2, Chunks: nil, Type: wire.MessageChunk})

	f, _ := cache.GetByID(1)
	if f.Version != 5 {
		t.Fatalf("version changed by stale message: %+v", f)
	}
}

func TestHandleChunkMessageUnknownFileLogsAndSkips(t *testing.T) {
	st := newFakeStorage()
	api := newFakeAPI()
	tr := newFakeTransport()
	r, _, _ := newTestReconciler(st, api, tr, nil, config.ConflictRemote)

	r.HandleChunkMessage(context.Background(), wire.ChunkMessage{FileID: 999, Version: 1, Type: wire.MessageChunk})
}

func TestHandleLocalCreateFolderEmitsFolderEvent(t *testing.T) {
	st := newFakeStorage()
	api := newFakeAPI()
	tr := newFakeTransport()
	r, _, _ := newTestReconciler(st, api, tr, nil, config.ConflictRemote)

	if err := r.HandleLocalCreate(context.Background(), "notes", true); err != nil {
		t.Fatalf("HandleLocalCreate: %v", err)
	}
	if len(tr.sent) != 1 || tr.sent[0].Event.ObjectType != wire.ObjectFolder {
		t.Fatalf("sent = %+v", tr.sent)
	}
}

func TestHandleLocalRenameUpdatesCacheAndSendsEvent(t *testing.T) {
	st := newFakeStorage()
	st.put("a.md", "hi")
	api := newFakeAPI()
	api.seed(wire.File{ID: 1, WorkspacePath: "a.md", Version: 0, Text: "hi"})
	tr := newFakeTransport()
	r, cache, _ := newTestReconciler(st, api, tr, nil, config.ConflictRemote)
	cache.Create(wire.File{ID: 1, WorkspacePath: "a.md", Version: 0, Text: "hi"})

	if err := r.HandleLocalRename(context.Background(), "a.md", "b.md"); err != nil {
		t.Fatalf("HandleLocalRename: %v", err)
	}

	if _, ok := cache.GetByPath("a.md"); ok {
		t.Fatal("old path still cached")
	}
	f, ok := cache.GetByPath("b.md")
	if !ok || f.ID != 1 {
		t.Fatalf("new path not cached correctly: %+v", f)
	}
	if len(tr.sent) != 1 || tr.sent[0].Event.OldPath != "a.md" {
		t.Fatalf("sent = %+v", tr.sent)
	}
}
