package opqueue

import (
	"testing"

	"carya/internal/wire"
)

func TestDequeFIFOOrder(t *testing.T) {
	d := newDeque()
	if !d.IsEmpty() {
		t.Fatal("new deque should be empty")
	}

	d.AddBack(wire.ChunkMessage{FileID: 1, Version: 1})
	d.AddBack(wire.ChunkMessage{FileID: 1, Version: 2})

	peek, ok := d.PeekFront()
	if !ok || peek.Version != 1 {
		t.Fatalf("PeekFront = %+v, %v, want version 1", peek, ok)
	}

	front, ok := d.RemoveFront()
	if !ok || front.Version != 1 {
		t.Fatalf("RemoveFront = %+v, %v, want version 1", front, ok)
	}
	if d.IsEmpty() {
		t.Fatal("deque should still have one message")
	}

	front, ok = d.RemoveFront()
	if !ok || front.Version != 2 {
		t.Fatalf("RemoveFront = %+v, %v, want version 2", front, ok)
	}
	if !d.IsEmpty() {
		t.Fatal("deque should be empty after draining")
	}
}

func TestDequeDrainAll(t *testing.T) {
	d := newDeque()
	d.AddBack(wire.ChunkMessage{Version: 1})
	d.AddBack(wire.ChunkMessage{Version: 2})
	d.AddBack(wire.ChunkMessage{Version: 3})

	drained := d.DrainAll()
	if len(drained) != 3 {
		t.Fatalf("DrainAll = %d messages, want 3", len(drained))
	}
	if drained[0].Version != 1 || drained[2].Version != 3 {
		t.Fatalf("DrainAll order = %+v", drained)
	}
	if !d.IsEmpty() {
		t.Fatal("deque should be empty after DrainAll")
	}
}

func TestRegistryLazyCreate(t *testing.T) {
	r := NewRegistry()
	d1 := r.GetDeque(42)
	d1.AddBack(wire.ChunkMessage{Version: 7})

	d2 := r.GetDeque(42)
	if d2 != d1 {
		t.Fatal("GetDeque returned a different deque for the same fileId")
	}
	peek, ok := d2.PeekFront()
	if !ok || peek.Version != 7 {
		t.Fatalf("expected shared state, got %+v, %v", peek, ok)
	}

	d3 := r.GetDeque(99)
	if !d3.IsEmpty() {
		t.Fatal("deque for a new fileId should start empty")
	}
}
