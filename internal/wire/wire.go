// Package wire defines the data shapes exchanged with the sync server:
// cached file records, diff chunks, and the chunk/event messages carried
// over the WebSocket connection.
package wire

import "time"

// ObjectType distinguishes a file from a folder in an EventMessage.
type ObjectType string

const (
	ObjectFile   ObjectType = "file"
	ObjectFolder ObjectType = "folder"
)

// EventType enumerates the kinds of EventMessage.
type EventType string

const (
	EventCreate EventType = "create"
	EventDelete EventType = "delete"
	EventRename EventType = "rename"
)

// MessageType is the integer discriminator used on the wire.
type MessageType int

const (
	MessageChunk MessageType = iota
	MessageCreate
	MessageDelete
	MessageRename
	MessageCursor
)

// CursorMessage carries one peer's cursor position within a file,
// fanned out to every other peer currently viewing that path.
type CursorMessage struct {
	PeerID string `json:"peerId"`
	Path   string `json:"path"`
	Offset int    `json:"offset"`
}

// ChunkType distinguishes an insertion from a deletion in a DiffChunk.
type ChunkType string

const (
	ChunkAdd    ChunkType = "add"
	ChunkRemove ChunkType = "remove"
)

// File is the cache entry for one workspace file: the in-memory mirror of
// what the client believes the server holds, plus bookkeeping the
// reconciler needs (hash for binary compare, version for optimistic
// concurrency).
type File struct {
	ID            int64     `json:"id"`
	WorkspacePath string    `json:"workspacePath"`
	MimeType      string    `json:"mimeType"`
	Hash          string    `json:"hash"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`

	// Text holds the content when IsText() is true; Binary holds it
	// otherwise. Exactly one is meaningful at a time.
	Text   string
	Binary []byte
}

// IsText reports whether this file's content is treated as text, based on
// its MIME type. Anything not recognized as text is treated as binary.
func (f *File) IsText() bool {
	return IsTextMime(f.MimeType)
}

// IsTextMime reports whether a MIME type should be treated as text for
// diffing purposes.
func IsTextMime(mime string) bool {
	switch {
	case mime == "":
		return false
	case mime == "text/markdown", mime == "text/plain", mime == "text/x-markdown":
		return true
	}
	// text/* and a handful of textual application/* subtypes.
	for _, prefix := range []string{"text/"} {
		if len(mime) >= len(prefix) && mime[:len(prefix)] == prefix {
			return true
		}
	}
	switch mime {
	case "application/json", "application/xml", "application/x-yaml", "application/yaml":
		return true
	}
	return false
}

// Content returns the file's content as a string when it is text, and
// false when the file is binary.
func (f *File) Content() (string, bool) {
	if !f.IsText() {
		return "", false
	}
	return f.Text, true
}

// DiffChunk is one atomic Add or Remove in an edit script, at a
// Unicode-scalar position.
type DiffChunk struct {
	Type     ChunkType `json:"type"`
	Position int       `json:"position"`
	Text     string    `json:"text"`
	Len      int       `json:"len"`
}

// ChunkMessage carries a batch of chunks the sender believes applies
// cleanly on top of Version.
type ChunkMessage struct {
	FileID  int64       `json:"fileId"`
	Version int64       `json:"version"`
	Chunks  []DiffChunk `json:"chunks"`
	Type    MessageType `json:"type"`
}

// SameChunks reports whether two chunk messages carry element-wise equal
// chunk lists (type, position, text, len), ignoring FileID/Version/Type.
// Used by the ack-detection predicate in the reconciler.
func (m ChunkMessage) SameChunks(other ChunkMessage) bool {
	if len(m.Chunks) != len(other.Chunks) {
		return false
	}
	for i := range m.Chunks {
		a, b := m.Chunks[i], other.Chunks[i]
		if a.Type != b.Type || a.Position != b.Position || a.Text != b.Text || a.Len != b.Len {
			return false
		}
	}
	return true
}

// EventMessage announces a filesystem-level change (create/delete/rename)
// for a file or folder.
type EventMessage struct {
	FileID        int64      `json:"fileId"`
	WorkspacePath string     `json:"workspacePath"`
	OldPath       string     `json:"oldPath,omitempty"`
	ObjectType    ObjectType `json:"objectType"`
	Type          EventType  `json:"type"`
}

// Operation is one entry of a file's server-side history, as returned by
// GET /v1/api/operation.
type Operation struct {
	FileID    int64       `json:"fileId"`
	Version   int64       `json:"version"`
	Chunks    []DiffChunk `json:"operation"`
	CreatedAt time.Time   `json:"createdAt"`
}

// FileMetadata is the shape returned by GET /v1/api/file (no content).
type FileMetadata struct {
	ID            int64     `json:"id"`
	WorkspacePath string    `json:"workspacePath"`
	MimeType      string    `json:"mimeType"`
	Hash          string    `json:"hash"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
