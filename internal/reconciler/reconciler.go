// Package reconciler is the engine: it owns the live file cache and
// outgoing-operation deques, reconciles startup divergence between
// local and remote replicas, applies and generates character-level
// operations with optimistic concurrency, and fans local filesystem
// events out to the wire.
package reconciler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"carya/internal/apiclient"
	"carya/internal/config"
	"carya/internal/diffengine"
	"carya/internal/filecache"
	"carya/internal/opqueue"
	"carya/internal/storage"
	"carya/internal/wire"
	"carya/internal/wsclient"
)

const (
	maxChunkBatch          = 10
	maxStartupConcurrency  = 8
	folderEmptyPollAttempts = 10
	folderEmptyPollInterval = 100 * time.Millisecond
)

// Transport is the subset of wsclient.Client the reconciler depends on:
// send a frame, receive the inbound frame stream.
type Transport interface {
	Send(ctx context.Context, frame wsclient.Frame) error
	Frames() <-chan wsclient.Frame
}

// DiffModal is the conflict-merge UI collaborator: given a path's local
// and remote text and their modification times, it returns the user's
// merged result. Only its contract lives
// here; internal/mergeui implements it.
type DiffModal interface {
	Resolve(ctx context.Context, path, local, remote string, localMtime, remoteMtime time.Time) (merged string, err error)
}

// Journal is the local persistence collaborator: it mirrors cache
// mutations to disk so a restart can warm from the last known state and
// the snapshot browser has something to show. Only its contract lives
// here; internal/journal.Store implements it. Unset by default, in
// which case the reconciler runs without local persistence.
type Journal interface {
	SaveFile(f wire.File) error
	AppendOperation(op wire.Operation) error
	DeleteFile(id int64) error
}

// Reconciler is the engine that drives sync. All exported
// methods are safe to call concurrently; per-file mutual exclusion is
// enforced internally so a local modify and an inbound chunk for the
// same file never execute at once.
type Reconciler struct {
	cache     *filecache.Cache
	deques    *opqueue.Registry
	storage   storage.Storage
	api       apiclient.Client
	transport Transport
	diffModal DiffModal
	cfg       *config.Config
	log       *slog.Logger

	locks *fileLocks

	onCursor func(wire.CursorMessage)
	journal  Journal
}

// OnCursor registers a callback invoked for each inbound cursor-presence
// frame. Unset by default, in which case cursor frames are dropped.
func (r *Reconciler) OnCursor(fn func(wire.CursorMessage)) {
	r.onCursor = fn
}

// SetJournal installs the local persistence collaborator. Every cache
// mutation the reconciler makes is mirrored to it; nil (the default)
// means no local persistence.
func (r *Reconciler) SetJournal(j Journal) {
	r.journal = j
}

// persistFile mirrors a cache entry to the journal, logging (never
// failing the caller) on error - local persistence is a best-effort
// mirror, not a source of truth.
func (r *Reconciler) persistFile(f wire.File) {
	if r.journal == nil {
		return
	}
	if err := r.journal.SaveFile(f); err != nil {
		r.log.Warn("reconciler: journal save file", "file_id", f.ID, "error", err)
	}
}

// persistOp records one applied operation for the snapshot browser.
// Best-effort, like persistFile.
func (r *Reconciler) persistOp(fileID, version int64, chunks []wire.DiffChunk) {
	if r.journal == nil {
		return
	}
	op := wire.Operation{FileID: fileID, Version: version, Chunks: chunks, CreatedAt: time.Now()}
	if err := r.journal.AppendOperation(op); err != nil {
		r.log.Warn("reconciler: journal append operation", "file_id", fileID, "error", err)
	}
}

func (r *Reconciler) persistDelete(id int64) {
	if r.journal == nil {
		return
	}
	if err := r.journal.DeleteFile(id); err != nil {
		r.log.Warn("reconciler: journal delete file", "file_id", id, "error", err)
	}
}

// New returns a Reconciler wired to its collaborators. cfg is consulted
// for the configured conflict-resolution policy at startup.
func New(cache *filecache.Cache, deques *opqueue.Registry, st storage.Storage, api apiclient.Client,
	transport Transport, diffModal DiffModal, cfg *config.Config, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		cache:     cache,
		deques:    deques,
		storage:   st,
		api:       api,
		transport: transport,
		diffModal: diffModal,
		cfg:       cfg,
		log:       log,
		locks:     newFileLocks(),
	}
}

// Run dispatches inbound frames until ctx is done or the transport's
// frame channel closes.
func (r *Reconciler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-r.transport.Frames():
			if !ok {
				return
			}
			r.dispatchFrame(ctx, frame)
		}
	}
}

func (r *Reconciler) dispatchFrame(ctx context.Context, frame wsclient.Frame) {
	switch frame.Type {
	case wire.MessageChunk:
		if frame.Chunk != nil {
			r.HandleChunkMessage(ctx, *frame.Chunk)
		}
	case wire.MessageCursor:
		if frame.Cursor != nil && r.onCursor != nil {
			r.onCursor(*frame.Cursor)
		}
	default:
		if frame.Event != nil {
			r.HandleEventMessage(ctx, *frame.Event)
		}
	}
}

// OnLocalEvent implements storage.LocalEventHandler, translating
// filesystem notifications into outbound operations.
func (r *Reconciler) OnLocalEvent(ev storage.LocalEvent) {
	ctx := context.Background()
	switch ev.Kind {
	case storage.LocalCreate:
		if err := r.HandleLocalCreate(ctx, ev.Path, ev.IsDir); err != nil {
			r.log.Error("reconciler: local create", "path", ev.Path, "error", err)
		}
	case storage.LocalModify:
		r.Modify(ctx, ev.Path)
	case storage.LocalDelete:
		if err := r.HandleLocalDelete(ctx, ev.Path); err != nil {
			r.log.Error("reconciler: local delete", "path", ev.Path, "error", err)
		}
	}
}

// ---------------------------------------------------------------------
// Startup
// ---------------------------------------------------------------------

// Init runs fetchRemoteFiles then pushLocalFiles. Both fan out per-file
// work with bounded concurrency; one file's failure never aborts the
// batch.
func (r *Reconciler) Init(ctx context.Context) error {
	if err := r.fetchRemoteFiles(ctx); err != nil {
		return fmt.Errorf("reconciler: fetch remote files: %w", err)
	}
	if err := r.pushLocalFiles(ctx); err != nil {
		return fmt.Errorf("reconciler: push local files: %w", err)
	}
	return nil
}

func (r *Reconciler) fetchRemoteFiles(ctx context.Context) error {
	remote, err := r.api.ListFiles(ctx)
	if err != nil {
		return err
	}

	sem := semaphore.NewWeighted(maxStartupConcurrency)
	var wg sync.WaitGroup
	for _, meta := range remote {
		meta := meta
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			if err := r.reconcileRemoteFile(ctx, meta); err != nil {
				r.log.Error("reconciler: reconcile remote file", "path", meta.WorkspacePath, "error", err)
			}
		}()
	}
	wg.Wait()
	return nil
}

func (r *Reconciler) reconcileRemoteFile(ctx context.Context, meta wire.FileMetadata) error {
	exists, err := r.storage.Exists(ctx, meta.WorkspacePath)
	if err != nil {
		return err
	}
	if !exists {
		return r.fetchAndCache(ctx, meta.ID)
	}

	if !wire.IsTextMime(meta.MimeType) {
		return r.reconcileRemoteBinary(ctx, meta)
	}
	return r.reconcileRemoteText(ctx, meta)
}

func (r *Reconciler) fetchAndCache(ctx context.Context, id int64) error {
	f, err := r.api.GetFile(ctx, id)
	if err != nil {
		return err
	}
	content := []byte(f.Text)
	if !f.IsText() {
		content = f.Binary
	}
	if err := r.storage.Write(ctx, f.WorkspacePath, content, storage.WriteOptions{}); err != nil {
		return err
	}
	r.cache.Create(f)
	r.persistFile(f)
	return nil
}

func (r *Reconciler) reconcileRemoteBinary(ctx context.Context, meta wire.FileMetadata) error {
	localBytes, err := r.storage.ReadBinary(ctx, meta.WorkspacePath)
	if err != nil {
		return err
	}
	if sha256Hex(localBytes) == meta.Hash {
		f := wire.File{
			ID: meta.ID, WorkspacePath: meta.WorkspacePath, MimeType: meta.MimeType,
			Hash: meta.Hash, Version: meta.Version, CreatedAt: meta.CreatedAt, UpdatedAt: meta.UpdatedAt,
			Binary: localBytes,
		}
		r.cache.Create(f)
		r.persistFile(f)
		return nil
	}
	f, err := r.api.GetFile(ctx, meta.ID)
	if err != nil {
		return err
	}
	if err := r.storage.Write(ctx, meta.WorkspacePath, f.Binary, storage.WriteOptions{Force: true}); err != nil {
		return err
	}
	r.cache.Create(f)
	r.persistFile(f)
	return nil
}

func (r *Reconciler) reconcileRemoteText(ctx context.Context, meta wire.FileMetadata) error {
	localText, err := r.storage.ReadText(ctx, meta.WorkspacePath)
	if err != nil {
		return err
	}
	if sha256Hex([]byte(localText)) == meta.Hash {
		f := wire.File{
			ID: meta.ID, WorkspacePath: meta.WorkspacePath, MimeType: meta.MimeType,
			Hash: meta.Hash, Version: meta.Version, CreatedAt: meta.CreatedAt, UpdatedAt: meta.UpdatedAt,
			Text: localText,
		}
		r.cache.Create(f)
		r.persistFile(f)
		return nil
	}

	remote, err := r.api.GetFile(ctx, meta.ID)
	if err != nil {
		return err
	}
	localStat, err := r.storage.Stat(ctx, meta.WorkspacePath)
	if err != nil {
		return err
	}

	switch r.cfg.ConflictResolution {
	case config.ConflictRemote:
		return r.resolveConflictRemote(ctx, remote)
	case config.ConflictLocal:
		return r.resolveConflictLocal(ctx, remote, localText)
	case config.ConflictMerge:
		return r.resolveConflictMerge(ctx, remote, localText, localStat.Mtime)
	default:
		return fmt.Errorf("%w: %q", ErrUnrecognizedConflictPolicy, r.cfg.ConflictResolution)
	}
}

func (r *Reconciler) resolveConflictRemote(ctx context.Context, remote wire.File) error {
	if err := r.storage.Write(ctx, remote.WorkspacePath, []byte(remote.Text), storage.WriteOptions{Force: true}); err != nil {
		return err
	}
	r.cache.Create(remote)
	r.persistFile(remote)
	return nil
}

// resolveConflictLocal forces the local text onto the server. Per the
// Open Question recorded in DESIGN.md, this is fire-and-forget: it is
// not pushed through the deque, so a server rejection cannot trigger
// a rollback for this particular write.
func (r *Reconciler) resolveConflictLocal(ctx context.Context, remote wire.File, localText string) error {
	chunks := diffengine.Compute(remote.Text, localText)
	cached := remote
	cached.Text = localText
	r.cache.Create(cached)
	r.persistFile(cached)
	if len(chunks) == 0 {
		return nil
	}
	msg := wire.ChunkMessage{FileID: remote.ID, Version: remote.Version, Chunks: chunks, Type: wire.MessageChunk}
	return r.transport.Send(ctx, wsclient.Frame{Type: wire.MessageChunk, Chunk: &msg})
}

func (r *Reconciler) resolveConflictMerge(ctx context.Context, remote wire.File, localText string, localMtime time.Time) error {
	merged, err := r.diffModal.Resolve(ctx, remote.WorkspacePath, localText, remote.Text, localMtime, remote.UpdatedAt)
	if err != nil {
		return err
	}
	if err := r.storage.Write(ctx, remote.WorkspacePath, []byte(merged), storage.WriteOptions{Force: true}); err != nil {
		return err
	}
	cached := remote
	cached.Text = merged
	r.cache.Create(cached)
	r.persistFile(cached)

	chunks := diffengine.Compute(remote.Text, merged)
	if len(chunks) == 0 {
		return nil
	}
	msg := wire.ChunkMessage{FileID: remote.ID, Version: remote.Version, Chunks: chunks, Type: wire.MessageChunk}
	r.deques.GetDeque(remote.ID).AddBack(msg)
	return r.transport.Send(ctx, wsclient.Frame{Type: wire.MessageChunk, Chunk: &msg})
}

func (r *Reconciler) pushLocalFiles(ctx context.Context) error {
	local, err := r.storage.ListFiles(ctx, storage.ListOptions{})
	if err != nil {
		return err
	}

	sem := semaphore.NewWeighted(maxStartupConcurrency)
	var wg sync.WaitGroup
	for _, lf := range local {
		if r.cache.HasByPath(lf.Path) {
			continue
		}
		path := lf.Path
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			if err := r.pushLocalFile(ctx, path); err != nil {
				r.log.Error("reconciler: push local file", "path", path, "error", err)
			}
		}()
	}
	wg.Wait()
	return nil
}

func (r *Reconciler) pushLocalFile(ctx context.Context, path string) error {
	text, binary, isText, err := r.storage.Read(ctx, path)
	if err != nil {
		return err
	}
	content := binary
	if isText {
		content = []byte(text)
	}

	meta, err := r.api.CreateFile(ctx, path, content)
	if err != nil {
		return err
	}
	f := wire.File{
		ID: meta.ID, WorkspacePath: meta.WorkspacePath, MimeType: meta.MimeType,
		Hash: meta.Hash, Version: meta.Version, CreatedAt: meta.CreatedAt, UpdatedAt: meta.UpdatedAt,
	}
	if isText {
		f.Text = text
	} else {
		f.Binary = binary
	}
	r.cache.Create(f)
	r.persistFile(f)

	ev := wire.EventMessage{FileID: f.ID, WorkspacePath: path, ObjectType: wire.ObjectFile, Type: wire.EventCreate}
	return r.transport.Send(ctx, wsclient.Frame{Type: wire.MessageCreate, Event: &ev})
}

// ---------------------------------------------------------------------
// Inbound ChunkMessage
// ---------------------------------------------------------------------

// HandleChunkMessage processes one inbound ChunkMessage, holding this
// file's lock for the duration so it never overlaps a local Modify for
// the same file.
func (r *Reconciler) HandleChunkMessage(ctx context.Context, msg wire.ChunkMessage) {
	lock := r.locks.get(msg.FileID)
	lock.Lock()
	defer lock.Unlock()

	if err := r.handleChunkMessageLocked(ctx, msg); err != nil {
		r.log.Error("reconciler: handle chunk message", "file_id", msg.FileID, "error", err)
	}
}

func (r *Reconciler) handleChunkMessageLocked(ctx context.Context, msg wire.ChunkMessage) error {
	file, ok := r.cache.GetByID(msg.FileID)
	if !ok {
		r.log.Warn("reconciler: chunk message for unknown file", "file_id", msg.FileID)
		return nil
	}
	if !file.IsText() {
		return nil
	}
	if msg.Version < file.Version {
		r.log.Warn("reconciler: stale chunk message dropped",
			"file_id", msg.FileID, "msg_version", msg.Version, "file_version", file.Version)
		return nil
	}

	deque := r.deques.GetDeque(msg.FileID)

	if front, ok := deque.PeekFront(); ok && msg.Version == front.Version+1 && front.SameChunks(msg) {
		deque.RemoveFront()
		newContent := diffengine.ApplyAll(file.Text, msg.Chunks)
		r.cache.SetContent(file.ID, newContent)
		r.cache.SetVersion(file.ID, msg.Version)
		file.Text = newContent
		file.Version = msg.Version
		r.persistFile(file)
		r.persistOp(file.ID, msg.Version, msg.Chunks)
		return nil
	}

	return r.applyRemoteEdit(ctx, file, deque, msg)
}

func (r *Reconciler) applyRemoteEdit(ctx context.Context, file wire.File, deque *opqueue.Deque, msg wire.ChunkMessage) error {
	diskText, err := r.storage.ReadText(ctx, file.WorkspacePath)
	if err != nil {
		return fmt.Errorf("read local text: %w", err)
	}

	rolledBack := diskText
	if !deque.IsEmpty() {
		rolledBack = rollback(diskText, deque.DrainAll())
	}

	chunksToPersist := msg.Chunks
	if file.Version+1 != msg.Version {
		gapChunks, err := r.fillVersionGap(ctx, file.ID, file.Version, msg.Version)
		if err != nil {
			return err
		}
		chunksToPersist = append(gapChunks, msg.Chunks...)
	}

	newContent := diffengine.ApplyAll(rolledBack, chunksToPersist)
	if err := r.storage.Write(ctx, file.WorkspacePath, []byte(newContent), storage.WriteOptions{Force: true}); err != nil {
		return err
	}
	r.cache.SetContent(file.ID, newContent)
	r.cache.SetVersion(file.ID, msg.Version)
	file.Text = newContent
	file.Version = msg.Version
	r.persistFile(file)
	r.persistOp(file.ID, msg.Version, msg.Chunks)
	return nil
}

// rollback inverts a sequence of queued, unacked ChunkMessages (oldest
// first, as returned by Deque.DrainAll) against text, working from the
// newest message backward. Each inverted chunk is rebased against every
// inverse already applied in this pass before being applied, so
// positions stay correct as the document shrinks and grows back toward
// the last server-confirmed state.
func rollback(text string, queued []wire.ChunkMessage) string {
	var appliedInverses []wire.DiffChunk
	for i := len(queued) - 1; i >= 0; i-- {
		for _, invChunk := range diffengine.InvertAll(queued[i].Chunks) {
			for _, prior := range appliedInverses {
				invChunk = diffengine.Transform(prior, invChunk)
			}
			text = diffengine.Apply(text, invChunk)
			appliedInverses = append(appliedInverses, invChunk)
		}
	}
	return text
}

// fillVersionGap fetches and validates the operation history strictly
// between fromVersion and toVersion (exclusive of toVersion), returning
// their concatenated chunks in version order.
func (r *Reconciler) fillVersionGap(ctx context.Context, fileID, fromVersion, toVersion int64) ([]wire.DiffChunk, error) {
	ops, err := r.api.GetOperations(ctx, fileID, fromVersion)
	if err != nil {
		return nil, err
	}

	var chunks []wire.DiffChunk
	prev := fromVersion
	for _, op := range ops {
		if op.Version >= toVersion {
			break
		}
		if op.Version != prev+1 {
			return nil, fmt.Errorf("%w: file %d expected version %d, got %d",
				ErrNonContiguousHistory, fileID, prev+1, op.Version)
		}
		chunks = append(chunks, op.Chunks...)
		prev = op.Version
	}
	return chunks, nil
}

// ---------------------------------------------------------------------
// Outbound local modify
// ---------------------------------------------------------------------

// Modify diffs the current local text of path against the cache's
// last-known-confirmed content and sends the resulting chunks, batched
// to at most 10 chunks per message.
func (r *Reconciler) Modify(ctx context.Context, path string) {
	file, ok := r.cache.GetByPath(path)
	if !ok {
		r.log.Warn("reconciler: modify for uncached path", "path", path)
		return
	}

	lock := r.locks.get(file.ID)
	lock.Lock()
	defer lock.Unlock()

	fresh, ok := r.cache.GetByID(file.ID)
	if !ok {
		return
	}
	if err := r.modifyLocked(ctx, fresh); err != nil {
		r.log.Error("reconciler: modify", "path", path, "error", err)
	}
}

func (r *Reconciler) modifyLocked(ctx context.Context, file wire.File) error {
	if !file.IsText() {
		return nil
	}

	newText, err := r.storage.ReadText(ctx, file.WorkspacePath)
	if err != nil {
		return err
	}
	chunks := diffengine.Compute(file.Text, newText)
	if len(chunks) == 0 {
		return nil
	}

	// The cache is intentionally left at its last server-confirmed
	// content; the ack path (handleChunkMessageLocked) is what advances
	// it, so the ack-detection predicate's re-apply of msg.Chunks lands
	// on the right base text.
	deque := r.deques.GetDeque(file.ID)
	for start := 0; start < len(chunks); start += maxChunkBatch {
		end := min(start+maxChunkBatch, len(chunks))
		batch := chunks[start:end]
		msg := wire.ChunkMessage{FileID: file.ID, Version: file.Version, Chunks: batch, Type: wire.MessageChunk}
		deque.AddBack(msg)
		if err := r.transport.Send(ctx, wsclient.Frame{Type: wire.MessageChunk, Chunk: &msg}); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------
// Outbound local create / delete / rename
// ---------------------------------------------------------------------

// HandleLocalCreate handles a locally observed file or folder creation.
func (r *Reconciler) HandleLocalCreate(ctx context.Context, path string, isDir bool) error {
	if r.cache.HasByPath(path) {
		return nil
	}
	if isDir {
		ev := wire.EventMessage{WorkspacePath: path, ObjectType: wire.ObjectFolder, Type: wire.EventCreate}
		return r.transport.Send(ctx, wsclient.Frame{Type: wire.MessageCreate, Event: &ev})
	}

	text, binary, isText, err := r.storage.Read(ctx, path)
	if err != nil {
		return err
	}
	content := binary
	if isText {
		content = []byte(text)
	}

	meta, err := r.api.CreateFile(ctx, path, content)
	if err != nil {
		return err
	}
	f := wire.File{
		ID: meta.ID, WorkspacePath: meta.WorkspacePath, MimeType: meta.MimeType,
		Hash: meta.Hash, Version: meta.Version, CreatedAt: meta.CreatedAt, UpdatedAt: meta.UpdatedAt,
	}
	if isText {
		f.Text = text
	} else {
		f.Binary = binary
	}
	r.cache.Create(f)
	r.persistFile(f)

	ev := wire.EventMessage{FileID: f.ID, WorkspacePath: path, ObjectType: wire.ObjectFile, Type: wire.EventCreate}
	return r.transport.Send(ctx, wsclient.Frame{Type: wire.MessageCreate, Event: &ev})
}

// HandleLocalDelete handles a locally observed file or folder deletion.
func (r *Reconciler) HandleLocalDelete(ctx context.Context, path string) error {
	if f, ok := r.cache.GetByPath(path); ok {
		lock := r.locks.get(f.ID)
		lock.Lock()
		defer lock.Unlock()

		if err := r.api.DeleteFile(ctx, f.ID); err != nil {
			return err
		}
		r.cache.DeleteByID(f.ID)
		r.persistDelete(f.ID)
		ev := wire.EventMessage{FileID: f.ID, WorkspacePath: path, ObjectType: wire.ObjectFile, Type: wire.EventDelete}
		return r.transport.Send(ctx, wsclient.Frame{Type: wire.MessageDelete, Event: &ev})
	}

	prefix := path + "/"
	for _, f := range r.cache.FindByPathPrefix(prefix) {
		if err := r.deleteOneLocked(ctx, f); err != nil {
			r.log.Error("reconciler: delete file under folder", "path", f.WorkspacePath, "error", err)
		}
	}
	ev := wire.EventMessage{WorkspacePath: path, ObjectType: wire.ObjectFolder, Type: wire.EventDelete}
	return r.transport.Send(ctx, wsclient.Frame{Type: wire.MessageDelete, Event: &ev})
}

func (r *Reconciler) deleteOneLocked(ctx context.Context, f wire.File) error {
	lock := r.locks.get(f.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := r.api.DeleteFile(ctx, f.ID); err != nil {
		return err
	}
	r.cache.DeleteByID(f.ID)
	r.persistDelete(f.ID)
	return nil
}

// HandleLocalRename handles a locally observed file or folder rename.
func (r *Reconciler) HandleLocalRename(ctx context.Context, oldPath, newPath string) error {
	if f, ok := r.cache.GetByPath(oldPath); ok {
		lock := r.locks.get(f.ID)
		lock.Lock()
		defer lock.Unlock()

		if err := r.api.RenameFile(ctx, f.ID, newPath); err != nil {
			return err
		}
		r.cache.SetPath(f.ID, newPath)
		r.cache.SetUpdatedAt(f.ID, time.Now())
		f.WorkspacePath = newPath
		f.UpdatedAt = time.Now()
		r.persistFile(f)
		ev := wire.EventMessage{FileID: f.ID, WorkspacePath: newPath, OldPath: oldPath, ObjectType: wire.ObjectFile, Type: wire.EventRename}
		return r.transport.Send(ctx, wsclient.Frame{Type: wire.MessageRename, Event: &ev})
	}

	oldPrefix := oldPath + "/"
	for _, f := range r.cache.FindByPathPrefix(oldPrefix) {
		rel := strings.TrimPrefix(f.WorkspacePath, oldPrefix)
		np := newPath + "/" + rel
		if err := r.renameOneLocked(ctx, f, np); err != nil {
			r.log.Error("reconciler: rename file under folder", "path", f.WorkspacePath, "error", err)
		}
	}

	ev := wire.EventMessage{WorkspacePath: newPath, OldPath: oldPath, ObjectType: wire.ObjectFolder, Type: wire.EventRename}
	if err := r.transport.Send(ctx, wsclient.Frame{Type: wire.MessageRename, Event: &ev}); err != nil {
		return err
	}

	r.pollUntilEmptyOrTimeout(ctx, oldPath)
	if err := r.storage.Delete(ctx, oldPath, storage.DeleteOptions{Force: true}); err != nil {
		r.log.Warn("reconciler: best-effort old folder delete failed", "path", oldPath, "error", err)
	}
	return nil
}

func (r *Reconciler) renameOneLocked(ctx context.Context, f wire.File, newPath string) error {
	lock := r.locks.get(f.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := r.api.RenameFile(ctx, f.ID, newPath); err != nil {
		return err
	}
	r.cache.SetPath(f.ID, newPath)
	r.cache.SetUpdatedAt(f.ID, time.Now())
	f.WorkspacePath = newPath
	f.UpdatedAt = time.Now()
	r.persistFile(f)
	return nil
}

func (r *Reconciler) pollUntilEmptyOrTimeout(ctx context.Context, folderPath string) {
	for i := 0; i < folderEmptyPollAttempts; i++ {
		files, err := r.storage.ListFiles(ctx, storage.ListOptions{Prefix: folderPath + "/"})
		if err == nil && len(files) == 0 {
			return
		}
		time.Sleep(folderEmptyPollInterval)
	}
}

// ---------------------------------------------------------------------
// Inbound EventMessage
// ---------------------------------------------------------------------

// HandleEventMessage dispatches an inbound create/delete/rename event.
func (r *Reconciler) HandleEventMessage(ctx context.Context, ev wire.EventMessage) {
	var err error
	switch {
	case ev.Type == wire.EventCreate && ev.ObjectType == wire.ObjectFile:
		err = r.handleCreateFileEvent(ctx, ev)
	case ev.Type == wire.EventCreate && ev.ObjectType == wire.ObjectFolder:
		err = r.storage.Write(ctx, ev.WorkspacePath, nil, storage.WriteOptions{IsDir: true})
	case ev.Type == wire.EventDelete && ev.ObjectType == wire.ObjectFile:
		err = r.handleDeleteFileEvent(ctx, ev)
	case ev.Type == wire.EventDelete && ev.ObjectType == wire.ObjectFolder:
		err = r.handleDeleteFolderEvent(ctx, ev)
	case ev.Type == wire.EventRename && ev.ObjectType == wire.ObjectFile:
		err = r.handleRenameFileEvent(ctx, ev)
	case ev.Type == wire.EventRename && ev.ObjectType == wire.ObjectFolder:
		err = r.handleRenameFolderEvent(ctx, ev)
	}
	if err != nil {
		r.log.Error("reconciler: handle event message", "path", ev.WorkspacePath, "error", err)
	}
}

func (r *Reconciler) handleCreateFileEvent(ctx context.Context, ev wire.EventMessage) error {
	return r.fetchAndCache(ctx, ev.FileID)
}

func (r *Reconciler) handleDeleteFileEvent(ctx context.Context, ev wire.EventMessage) error {
	f, ok := r.cache.GetByID(ev.FileID)
	if !ok {
		r.log.Warn("reconciler: delete event for unknown file", "file_id", ev.FileID)
		return nil
	}
	if err := r.storage.Delete(ctx, f.WorkspacePath, storage.DeleteOptions{Force: true}); err != nil {
		return err
	}
	r.cache.DeleteByID(ev.FileID)
	r.persistDelete(ev.FileID)
	return nil
}

func (r *Reconciler) handleDeleteFolderEvent(ctx context.Context, ev wire.EventMessage) error {
	prefix := ev.WorkspacePath + "/"
	for _, f := range r.cache.FindByPathPrefix(prefix) {
		r.cache.DeleteByID(f.ID)
		r.persistDelete(f.ID)
	}
	return r.storage.Delete(ctx, ev.WorkspacePath, storage.DeleteOptions{Force: true})
}

func (r *Reconciler) handleRenameFileEvent(ctx context.Context, ev wire.EventMessage) error {
	if !r.cache.HasByID(ev.FileID) {
		return r.handleCreateFileEvent(ctx, ev)
	}
	old, ok := r.cache.GetByID(ev.FileID)
	if !ok {
		return nil
	}
	remote, err := r.api.GetFile(ctx, ev.FileID)
	if err != nil {
		return err
	}
	if err := r.storage.Rename(ctx, old.WorkspacePath, remote.WorkspacePath); err != nil {
		return err
	}
	r.cache.SetPath(ev.FileID, remote.WorkspacePath)
	r.cache.SetUpdatedAt(ev.FileID, remote.UpdatedAt)
	old.WorkspacePath = remote.WorkspacePath
	old.UpdatedAt = remote.UpdatedAt
	r.persistFile(old)
	return nil
}

func (r *Reconciler) handleRenameFolderEvent(ctx context.Context, ev wire.EventMessage) error {
	oldPrefix := ev.OldPath + "/"
	for _, cf := range r.cache.FindByPathPrefix(oldPrefix) {
		remote, err := r.api.GetFile(ctx, cf.ID)
		if err != nil {
			r.log.Error("reconciler: fetch metadata for renamed folder member", "file_id", cf.ID, "error", err)
			continue
		}
		if err := r.storage.Rename(ctx, cf.WorkspacePath, remote.WorkspacePath); err != nil {
			r.log.Error("reconciler: rename folder member locally", "path", cf.WorkspacePath, "error", err)
			continue
		}
		r.cache.SetPath(cf.ID, remote.WorkspacePath)
		r.cache.SetUpdatedAt(cf.ID, remote.UpdatedAt)
		cf.WorkspacePath = remote.WorkspacePath
		cf.UpdatedAt = remote.UpdatedAt
		r.persistFile(cf)
	}

	r.pollUntilEmptyOrTimeout(ctx, ev.OldPath)
	return r.storage.Delete(ctx, ev.OldPath, storage.DeleteOptions{Force: true})
}

// ---------------------------------------------------------------------

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// fileLocks hands out a per-file mutex, creating it lazily. Holding a
// file's lock across the storage/API calls it makes serializes
// local-modify and inbound-chunk handling for that file without
// blocking any other file's reconciliation.
type fileLocks struct {
	mu    sync.Mutex
	byID  map[int64]*sync.Mutex
}

func newFileLocks() *fileLocks {
	return &fileLocks{byID: make(map[int64]*sync.Mutex)}
}

func (f *fileLocks) get(id int64) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.byID[id]
	if !ok {
		l = &sync.Mutex{}
		f.byID[id] = l
	}
	return l
}
