// Package duplex carries internal/model.Message frames over a websocket in
// both directions, with the 5s ping / 15s liveness discipline shared by
// the agent connection and the hub connection.
//
// Grounded on the teacher's apps/sandbox/internal/ws/client.go
// ReadPump/WritePump split: a dedicated read goroutine decodes inbound
// frames onto a channel, a dedicated write goroutine drains an outbound
// channel and drives the ping ticker, and both share the connection solely
// through channels, never by touching the *websocket.Conn from more than
// one goroutine at a time.
package duplex

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onair-systems/studio-fabric/internal/model"
	"github.com/onair-systems/studio-fabric/internal/wire"
)

const (
	// PingInterval is the liveness tick cadence.
	PingInterval = 5 * time.Second
	// LivenessTimeout is how long since last activity before a connection
	// terminates itself.
	LivenessTimeout = 15 * time.Second

	writeWait      = 5 * time.Second
	maxMessageSize = 1 << 20
)

// Conn wraps a *websocket.Conn to send and receive model.Message values.
// Call ReadLoop and WriteLoop each in their own goroutine; Conn delivers
// inbound messages on Incoming and closes it once the read loop exits.
type Conn struct {
	ws         *websocket.Conn
	remoteAddr string

	outbound chan model.Message
	incoming chan model.Message

	closeOnce sync.Once
	closed    chan struct{}

	mu           sync.Mutex
	lastActivity time.Time
	err          error
}

// New wraps an established *websocket.Conn.
func New(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:           ws,
		remoteAddr:   ws.RemoteAddr().String(),
		outbound:     make(chan model.Message, 64),
		incoming:     make(chan model.Message, 64),
		closed:       make(chan struct{}),
		lastActivity: time.Now(),
	}
	ws.SetReadLimit(maxMessageSize)
	ws.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})
	return c
}

// RemoteAddr is the peer address, recorded into the hub's agent registry.
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// Incoming yields decoded Messages as they arrive. The channel is closed
// once the read loop exits (peer closed, read error, or Close called).
func (c *Conn) Incoming() <-chan model.Message { return c.incoming }

// Send queues msg for delivery. It never blocks the caller on network I/O;
// it returns an error only if the connection has already closed.
func (c *Conn) Send(msg model.Message) error {
	select {
	case c.outbound <- msg:
		return nil
	case <-c.closed:
		return fmt.Errorf("duplex: connection closed")
	}
}

// Close tears down the underlying socket. Safe to call more than once and
// from any goroutine.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return c.ws.Close()
}

// Done reports when the connection has been told to close.
func (c *Conn) Done() <-chan struct{} { return c.closed }

func (c *Conn) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Conn) idleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActivity)
}

// ReadLoop decodes frames until the peer closes or a read error occurs,
// then closes Incoming. Malformed frames are logged and dropped without
// tearing down the connection.
func (c *Conn) ReadLoop() {
	defer close(c.incoming)
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.touch()
		if msgType != websocket.BinaryMessage {
			continue
		}
		var msg model.Message
		if err := wire.Decode(data, &msg); err != nil {
			log.Printf("[duplex] dropping malformed frame from %s: %v", c.remoteAddr, err)
			continue
		}
		select {
		case c.incoming <- msg:
		case <-c.closed:
			return
		}
	}
}

// WriteLoop drains outbound messages and drives the liveness ticker until
// Close is called or a write fails. It owns all writes to the underlying
// socket, per gorilla/websocket's single-writer requirement.
func (c *Conn) WriteLoop() {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case msg, ok := <-c.outbound:
			if !ok {
				return
			}
			frame, err := wire.Encode(&msg)
			if err != nil {
				log.Printf("[duplex] encode %s: %v", c.remoteAddr, err)
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			if c.idleFor() > LivenessTimeout {
				log.Printf("[duplex] %s idle past liveness timeout, closing", c.remoteAddr)
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closed:
			return
		}
	}
}
