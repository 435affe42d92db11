// Package cursor fans out opaque cursor-presence messages between
// peers editing the same workspace: no persistence, no reconciliation,
// just drop-stale-on-refocus and timeout eviction. The eviction loop is
// adapted from carya's internal/chunk.Manager flush loop — a ticker
// driving a periodic sweep under one mutex.
package cursor

import (
	"sync"
	"time"
)

// Position is an opaque cursor location, keyed by the peer that owns
// it and the path it is in. Offset is left uninterpreted here; the UI
// layer assigns it meaning.
type Position struct {
	PeerID string
	Path   string
	Offset int
	seenAt time.Time
}

// CacheChecker reports whether a path currently has a cached file,
// satisfied by filecache.Cache.HasByPath.
type CacheChecker interface {
	HasByPath(path string) bool
}

// Sink receives cursor updates to forward to the UI layer (or over the
// wire to other peers).
type Sink interface {
	OnCursorUpdate(Position)
	OnCursorRemoved(peerID, path string)
}

// Registry tracks the most recently seen cursor position per peer and
// evicts entries that go quiet for longer than timeout.
type Registry struct {
	mu       sync.Mutex
	cache    CacheChecker
	sink     Sink
	timeout  time.Duration
	byPeer   map[string]Position
	focused  string // path the local user currently has open, "" if none
	ticker   *time.Ticker
	stopCh   chan struct{}
}

// NewRegistry returns a Registry that evicts cursors idle longer than
// timeout. cache is consulted to drop local updates for uncached files
// ; sink receives the resulting presence/removal events.
func NewRegistry(cache CacheChecker, sink Sink, timeout time.Duration) *Registry {
	return &Registry{
		cache:   cache,
		sink:    sink,
		timeout: timeout,
		byPeer:  make(map[string]Position),
		ticker:  time.NewTicker(timeout / 2),
		stopCh:  make(chan struct{}),
	}
}

// Start begins the background eviction sweep.
func (r *Registry) Start() {
	go r.evictLoop()
}

// Stop halts the eviction sweep.
func (r *Registry) Stop() {
	close(r.stopCh)
	r.ticker.Stop()
}

// SetFocused records which path the local user currently has open.
// Remote cursor updates for any other path are treated as stale for
// display purposes and trigger a removal instead of an update.
func (r *Registry) SetFocused(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.focused = path
}

// ApplyLocal records a local cursor move and is a no-op if path has no
// cached file ("Local cursor updates that do not correspond to a
// cached file are dropped").
func (r *Registry) ApplyLocal(peerID, path string, offset int) {
	if !r.cache.HasByPath(path) {
		return
	}
	r.apply(Position{PeerID: peerID, Path: path, Offset: offset})
}

// ApplyRemote records a cursor update received from a peer. If the
// update is for a path the local user is not currently focused on, any
// previously shown cursor for that peer is removed instead.
func (r *Registry) ApplyRemote(peerID, path string, offset int) {
	r.mu.Lock()
	focused := r.focused
	r.mu.Unlock()

	if path != focused {
		r.Remove(peerID)
		return
	}
	r.apply(Position{PeerID: peerID, Path: path, Offset: offset})
}

func (r *Registry) apply(pos Position) {
	pos.seenAt = time.Now()

	r.mu.Lock()
	r.byPeer[pos.PeerID] = pos
	r.mu.Unlock()

	r.sink.OnCursorUpdate(pos)
}

// Remove drops a peer's cursor immediately, e.g. on disconnect or
// refocus elsewhere.
func (r *Registry) Remove(peerID string) {
	r.mu.Lock()
	pos, ok := r.byPeer[peerID]
	if ok {
		delete(r.byPeer, peerID)
	}
	r.mu.Unlock()

	if ok {
		r.sink.OnCursorRemoved(peerID, pos.Path)
	}
}

func (r *Registry) evictLoop() {
	for {
		select {
		case <-r.ticker.C:
			r.evictStale()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Registry) evictStale() {
	now := time.Now()

	r.mu.Lock()
	var stale []string
	for peerID, pos := range r.byPeer {
		if now.Sub(pos.seenAt) > r.timeout {
			stale = append(stale, peerID)
		}
	}
	r.mu.Unlock()

	for _, peerID := range stale {
		r.Remove(peerID)
	}
}
