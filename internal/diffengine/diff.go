// Package diffengine computes character-level edit scripts between two
// strings, applies and inverts individual chunks, and transforms a chunk
// against a concurrent prior chunk (operational transformation).
//
// All positions are Unicode scalar indices (rune offsets), never UTF-16
// code units and never bytes, so a chunk never splits a surrogate pair,
// combining sequence, or ZWJ emoji sequence.
package diffengine

import "carya/internal/wire"

// Compute produces a left-to-right edit script that, applied in order
// starting from old, yields new. Each Add advances the notional cursor by
// its length; each Remove does not. When an insertion and a deletion meet
// at the same position, Remove is emitted before Add (delete-then-insert).
func Compute(old, new string) []wire.DiffChunk {
	a := []rune(old)
	b := []rune(new)

	common := commonOps(a, b)
	return chunksFromOps(a, b, common)
}

// op is one step of the underlying Myers-style edit script, expressed in
// terms of indices into a (the old rune slice) and b (the new rune
// slice).
type op struct {
	kind   byte // 'e' equal, 'd' delete, 'i' insert
	aStart int
	aEnd   int
	bStart int
	bEnd   int
}

// commonOps runs a classic O(ND) Myers diff over the two rune slices and
// returns the resulting edit script as a sequence of equal/delete/insert
// runs.
func commonOps(a, b []rune) []op {
	n, m := len(a), len(b)
	max := n + m
	if max == 0 {
		return nil
	}

	offset := max
	size := 2*max + 1
	trace := make([][]int, 0, max+1)

	v := make([]int, size)
	found := false
	var dFound int

	for d := 0; d <= max && !found; d++ {
		for k := -d; k <= d; k += 2 {
			var x int
			if k == -d || (k != d && v[offset+k-1] < v[offset+k+1]) {
				x = v[offset+k+1]
			} else {
				x = v[offset+k-1] + 1
			}
			y := x - k
			for x < n && y < m && a[x] == b[y] {
				x++
				y++
			}
			v[offset+k] = x
			if x >= n && y >= m {
				found = true
				dFound = d
			}
		}
		snapshot := make([]int, size)
		copy(snapshot, v)
		trace = append(trace, snapshot)
		if found {
			break
		}
	}

	// Backtrack through the trace to recover the path, then turn the
	// path into equal/delete/insert runs.
	type point struct{ x, y int }
	path := []point{{n, m}}

	x, y := n, m
	for d := dFound; d > 0; d-- {
		v := trace[d]
		k := x - y
		var prevK int
		if k == -d || (k != d && v[offset+k-1] < v[offset+k+1]) {
			prevK = k + 1
		} else {
			prevK = k - 1
		}
		prevX := trace[d-1][offset+prevK]
		prevY := prevX - prevK

		for x > prevX && y > prevY {
			x--
			y--
			path = append(path, point{x, y})
		}
		if x == prevX {
			y--
		} else {
			x--
		}
		path = append(path, point{x, y})
	}
	// The d=0 snake: the equal run shared by both strings from the start.
	for x > 0 && y > 0 {
		x--
		y--
		path = append(path, point{x, y})
	}

	// path is in reverse order; walk it forward building runs.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	var ops []op
	for i := 1; i < len(path); i++ {
		prev, cur := path[i-1], path[i]
		switch {
		case cur.x == prev.x+1 && cur.y == prev.y+1:
			ops = appendRun(ops, op{kind: 'e', aStart: prev.x, aEnd: cur.x, bStart: prev.y, bEnd: cur.y})
		case cur.x == prev.x+1 && cur.y == prev.y:
			ops = appendRun(ops, op{kind: 'd', aStart: prev.x, aEnd: cur.x, bStart: prev.y, bEnd: cur.y})
		case cur.y == prev.y+1 && cur.x == prev.x:
			ops = appendRun(ops, op{kind: 'i', aStart: prev.x, aEnd: cur.x, bStart: prev.y, bEnd: cur.y})
		}
	}
	return ops
}

// appendRun merges a new single-element step into the previous run when
// they're of the same kind and contiguous, keeping the op list small.
func appendRun(ops []op, next op) []op {
	if len(ops) > 0 {
		last := &ops[len(ops)-1]
		if last.kind == next.kind && last.aEnd == next.aStart && last.bEnd == next.bStart {
			last.aEnd = next.aEnd
			last.bEnd = next.bEnd
			return ops
		}
	}
	return append(ops, next)
}

// chunksFromOps turns equal/delete/insert runs into DiffChunks. A single
// running cursor tracks the position in the text as it is transformed
// in-order: an equal run advances it by its length, a delete chunk is
// emitted at the cursor without advancing it (the text shrinks under the
// cursor), and an insert chunk is emitted at the cursor and then advances
// it by the inserted length. This is what makes applyDiff correct when
// the chunks are applied one after another starting from old.
func chunksFromOps(a, b []rune, ops []op) []wire.DiffChunk {
	var chunks []wire.DiffChunk
	pos := 0
	for _, o := range ops {
		switch o.kind {
		case 'e':
			pos += o.aEnd - o.aStart
		case 'd':
			text := string(a[o.aStart:o.aEnd])
			chunks = append(chunks, wire.DiffChunk{
				Type:     wire.ChunkRemove,
				Position: pos,
				Text:     text,
				Len:      o.aEnd - o.aStart,
			})
		case 'i':
			text := string(b[o.bStart:o.bEnd])
			length := o.bEnd - o.bStart
			chunks = append(chunks, wire.DiffChunk{
				Type:     wire.ChunkAdd,
				Position: pos,
				Text:     text,
				Len:      length,
			})
			pos += length
		}
	}
	return chunks
}

// Apply inserts or excises chunk.Text/Len from text at chunk.Position.
func Apply(text string, chunk wire.DiffChunk) string {
	r := []rune(text)
	switch chunk.Type {
	case wire.ChunkAdd:
		if chunk.Position < 0 {
			chunk.Position = 0
		}
		if chunk.Position > len(r) {
			chunk.Position = len(r)
		}
		ins := []rune(chunk.Text)
		out := make([]rune, 0, len(r)+len(ins))
		out = append(out, r[:chunk.Position]...)
		out = append(out, ins...)
		out = append(out, r[chunk.Position:]...)
		return string(out)
	case wire.ChunkRemove:
		start := chunk.Position
		if start < 0 {
			start = 0
		}
		end := start + chunk.Len
		if end > len(r) {
			end = len(r)
		}
		if start > len(r) {
			start = len(r)
		}
		out := make([]rune, 0, len(r)-(end-start))
		out = append(out, r[:start]...)
		out = append(out, r[end:]...)
		return string(out)
	}
	return text
}

// ApplyAll applies a sequence of chunks in order.
func ApplyAll(text string, chunks []wire.DiffChunk) string {
	for _, c := range chunks {
		text = Apply(text, c)
	}
	return text
}

// Invert flips Add<->Remove, preserving Position/Text/Len.
func Invert(chunk wire.DiffChunk) wire.DiffChunk {
	switch chunk.Type {
	case wire.ChunkAdd:
		chunk.Type = wire.ChunkRemove
	case wire.ChunkRemove:
		chunk.Type = wire.ChunkAdd
	}
	return chunk
}

// InvertAll inverts and reverses a chunk list, so that applying the
// result undoes the original list when applied in order.
func InvertAll(chunks []wire.DiffChunk) []wire.DiffChunk {
	out := make([]wire.DiffChunk, len(chunks))
	for i, c := range chunks {
		out[len(chunks)-1-i] = Invert(c)
	}
	return out
}

// Transform rebases b onto a state that already includes a, per the
// operational-transformation table below. a is considered
// applied before b.
func Transform(a, b wire.DiffChunk) wire.DiffChunk {
	switch {
	case a.Type == wire.ChunkAdd && b.Type == wire.ChunkAdd:
		if a.Position <= b.Position {
			b.Position += a.Len
		}
	case a.Type == wire.ChunkAdd && b.Type == wire.ChunkRemove:
		if a.Position <= b.Position {
			b.Position += a.Len
		}
	case a.Type == wire.ChunkRemove && b.Type == wire.ChunkAdd:
		if a.Position < b.Position {
			shrink := a.Len
			if d := b.Position - a.Position; d < shrink {
				shrink = d
			}
			b.Position -= shrink
		}
	case a.Type == wire.ChunkRemove && b.Type == wire.ChunkRemove:
		aEnd := a.Position + a.Len
		bEnd := b.Position + b.Len
		overlapStart := max(a.Position, b.Position)
		overlapEnd := min(aEnd, bEnd)
		if overlapStart < overlapEnd {
			runes := []rune(b.Text)
			lo := overlapStart - b.Position
			hi := overlapEnd - b.Position
			if lo < 0 {
				lo = 0
			}
			if hi > len(runes) {
				hi = len(runes)
			}
			overlap := hi - lo
			clipped := append(append([]rune{}, runes[:lo]...), runes[hi:]...)
			b.Text = string(clipped)
			b.Position = min(a.Position, b.Position)
			b.Len -= overlap
		} else if a.Position <= b.Position {
			b.Position -= a.Len
		}
	}
	return b
}

// TransformMultiple rebases ops2 onto a state that already includes ops1:
// for each op in ops1, in order, transform each op in ops2 (in place,
// left-to-right).
func TransformMultiple(ops1, ops2 []wire.DiffChunk) []wire.DiffChunk {
	out := make([]wire.DiffChunk, len(ops2))
	copy(out, ops2)
	for _, a := range ops1 {
		for i, b := range out {
			out[i] = Transform(a, b)
		}
	}
	return out
}
