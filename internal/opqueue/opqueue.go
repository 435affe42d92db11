// Package opqueue implements the per-file FIFO of in-flight outgoing
// ChunkMessages awaiting server acknowledgement.
// It is the single source of truth for "operations this client has sent
// that have not yet been acked."
package opqueue

import (
	"container/list"
	"sync"

	"carya/internal/wire"
)

// Deque is a doubly-linked FIFO of ChunkMessages with O(1) push-back,
// pop-front, and peek-front. The teacher has no deque of its own; this
// wraps stdlib container/list, the pack's only available doubly-linked
// list structure, rather than hand-rolling node pointers.
type Deque struct {
	mu sync.Mutex
	l  *list.List
}

func newDeque() *Deque {
	return &Deque{l: list.New()}
}

// AddBack pushes a message onto the tail of the queue.
func (d *Deque) AddBack(msg wire.ChunkMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.l.PushBack(msg)
}

// RemoveFront pops the message at the head of the queue.
func (d *Deque) RemoveFront() (wire.ChunkMessage, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	front := d.l.Front()
	if front == nil {
		return wire.ChunkMessage{}, false
	}
	d.l.Remove(front)
	return front.Value.(wire.ChunkMessage), true
}

// PeekFront returns the message at the head of the queue without
// removing it.
func (d *Deque) PeekFront() (wire.ChunkMessage, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	front := d.l.Front()
	if front == nil {
		return wire.ChunkMessage{}, false
	}
	return front.Value.(wire.ChunkMessage), true
}

// IsEmpty reports whether the queue holds no messages.
func (d *Deque) IsEmpty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.l.Len() == 0
}

// DrainAll removes and returns every queued message, oldest first.
func (d *Deque) DrainAll() []wire.ChunkMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]wire.ChunkMessage, 0, d.l.Len())
	for e := d.l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(wire.ChunkMessage))
	}
	d.l.Init()
	return out
}

// Registry maps fileId -> Deque, creating an empty deque lazily on first
// access. It is the single source of truth for in-flight outbound
// operations across every tracked file.
type Registry struct {
	mu     sync.Mutex
	deques map[int64]*Deque
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{deques: make(map[int64]*Deque)}
}

// GetDeque returns the existing deque for fileID, creating an empty one
// if none exists yet.
func (r *Registry) GetDeque(fileID int64) *Deque {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deques[fileID]
	if !ok {
		d = newDeque()
		r.deques[fileID] = d
	}
	return d
}
