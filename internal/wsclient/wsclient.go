// Package wsclient is the WebSocket transport contract plus a real
// client: connect to /v1/sync?jwt=, reconnect
// with exponential backoff (base 250ms, cap 5s, unlimited attempts),
// and exchange typed-discriminator JSON frames.
//
// No WebSocket client library appears anywhere in the example pack (see
// DESIGN.md); gorilla/websocket is adopted as the de facto standard Go
// client for this concern.
package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"carya/internal/wire"
)

const (
	backoffBase = 250 * time.Millisecond
	backoffCap  = 5 * time.Second
)

// Frame is the envelope read off or written to the socket: exactly one
// of Chunk/Event/Cursor is populated, selected by Type.
type Frame struct {
	Type   wire.MessageType     `json:"type"`
	Chunk  *wire.ChunkMessage   `json:"-"`
	Event  *wire.EventMessage   `json:"-"`
	Cursor *wire.CursorMessage  `json:"-"`
}

// MarshalJSON flattens Frame so the discriminator and payload share one
// JSON object, matching the wire contract (no "chunk"/"event"
// wrapper key). ChunkMessage's own "type" field already carries the
// MessageChunk discriminator; EventMessage's "type" field carries its
// EventType (create/delete/rename) instead, so an envelope-level
// "kind" field disambiguates the two on the wire.
func (f Frame) MarshalJSON() ([]byte, error) {
	switch f.Type {
	case wire.MessageChunk:
		return marshalWithKind("chunk", f.Chunk)
	case wire.MessageCursor:
		return marshalWithKind("cursor", f.Cursor)
	default:
		return marshalWithKind("event", f.Event)
	}
}

func marshalWithKind(kind string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(body, &merged); err != nil {
		return nil, err
	}
	merged["kind"] = json.RawMessage(`"` + kind + `"`)
	return json.Marshal(merged)
}

// UnmarshalJSON reads the envelope "kind" discriminator first, then
// decodes the rest of the object into the matching payload.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var disc struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &disc); err != nil {
		return err
	}
	if disc.Kind == "chunk" {
		var c wire.ChunkMessage
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		f.Type = wire.MessageChunk
		f.Chunk = &c
		return nil
	}
	if disc.Kind == "cursor" {
		var cur wire.CursorMessage
		if err := json.Unmarshal(data, &cur); err != nil {
			return err
		}
		f.Type = wire.MessageCursor
		f.Cursor = &cur
		return nil
	}
	var e wire.EventMessage
	if err := json.Unmarshal(data, &e); err != nil {
		return err
	}
	f.Type = eventEnvelopeType(e.Type)
	f.Event = &e
	return nil
}

func eventEnvelopeType(t wire.EventType) wire.MessageType {
	switch t {
	case wire.EventCreate:
		return wire.MessageCreate
	case wire.EventDelete:
		return wire.MessageDelete
	default:
		return wire.MessageRename
	}
}

// Client is the contract the reconciler depends on for the live sync
// connection.
type Client interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, frame Frame) error
	Frames() <-chan Frame
	Close() error
}

// WSClient dials the sync endpoint and reconnects with exponential
// backoff on disconnect. Inbound frames are delivered on a channel;
// reconnects are transparent to the caller (the reconciler never sees a
// "disconnected" state directly).
type WSClient struct {
	urlStr string
	token  string
	log    *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	connID string

	frames chan Frame
	send   chan sendRequest

	onReconnect func()
}

type sendRequest struct {
	frame Frame
	errCh chan error
}

// New returns a WSClient that will dial domain (host:port) with the
// given scheme (ws or wss) and JWT.
func New(scheme, domain, token string, log *slog.Logger) *WSClient {
	if log == nil {
		log = slog.Default()
	}
	u := url.URL{Scheme: scheme, Host: domain, Path: "/v1/sync", RawQuery: "jwt=" + url.QueryEscape(token)}
	return &WSClient{
		urlStr: u.String(),
		token:  token,
		log:    log,
		frames: make(chan Frame, 64),
		send:   make(chan sendRequest),
	}
}

// OnReconnect registers a callback invoked each time the client
// re-establishes the connection after a drop. Purely observational —
// changes no reconciler semantics.
func (c *WSClient) OnReconnect(fn func()) {
	c.onReconnect = fn
}

// Connect dials the socket and starts the reconnect-on-drop loop. It
// returns once the first connection succeeds; subsequent reconnects
// happen in the background.
func (c *WSClient) Connect(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		return err
	}
	go c.run(ctx)
	return nil
}

func (c *WSClient) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.urlStr, nil)
	if err != nil {
		return fmt.Errorf("wsclient: dial: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connID = uuid.NewString()
	c.mu.Unlock()
	return nil
}

// run owns the connection for its lifetime: it pumps reads into the
// frames channel and writes from the send channel, and on any I/O error
// tears the connection down and reconnects with exponential backoff.
func (c *WSClient) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		readErr := make(chan error, 1)
		go c.readLoop(readErr)

		c.writeLoop(ctx, readErr)

		if ctx.Err() != nil {
			return
		}
		c.reconnect(ctx)
	}
}

func (c *WSClient) readLoop(done chan<- error) {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			done <- fmt.Errorf("wsclient: no connection")
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			done <- err
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.log.Warn("wsclient: dropping malformed frame", "error", err)
			continue
		}
		c.frames <- frame
	}
}

func (c *WSClient) writeLoop(ctx context.Context, readErr <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErr:
			c.log.Warn("wsclient: connection lost", "error", err, "conn_id", c.connID)
			return
		case req := <-c.send:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				req.errCh <- fmt.Errorf("wsclient: not connected")
				continue
			}
			data, err := json.Marshal(req.frame)
			if err != nil {
				req.errCh <- err
				continue
			}
			req.errCh <- conn.WriteMessage(websocket.TextMessage, data)
		}
	}
}

func (c *WSClient) reconnect(ctx context.Context) {
	backoff := backoffBase
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		if err := c.dial(ctx); err != nil {
			c.log.Warn("wsclient: reconnect failed", "attempt", attempt, "error", err)
			backoff *= 2
			if backoff > backoffCap {
				backoff = backoffCap
			}
			continue
		}

		c.log.Info("wsclient: reconnected", "attempt", attempt, "conn_id", c.connID)
		if c.onReconnect != nil {
			c.onReconnect()
		}
		return
	}
}

// Send writes a frame to the socket, blocking until the write completes
// or ctx is done.
func (c *WSClient) Send(ctx context.Context, frame Frame) error {
	req := sendRequest{frame: frame, errCh: make(chan error, 1)}
	select {
	case c.send <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Frames returns the channel inbound frames are delivered on.
func (c *WSClient) Frames() <-chan Frame {
	return c.frames
}

// Close tears down the current connection.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
