// Package hubconn implements the hub-side per-agent connection: the
// pending-predicate waiter table for request/response correlation,
// dispatch into the shared agent/shell registries, and the "remove only
// if still owner" teardown rule.
//
// Grounded on the teacher's internal/sessions.Manager for the
// registry-row-ownership convention, and on internal/ws's ReadPump for the
// decode loop (here internal/duplex). The waiter table itself has no
// teacher analogue; weakly-held waiters are wanted so abandoned requests
// self-purge, which this models with a context.Context per waiter instead
// of a language-level weak reference (see DESIGN.md); a waiter whose
// context has been cancelled is treated as abandoned and is dropped the
// next time the table is scanned.
package hubconn

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/onair-systems/studio-fabric/internal/duplex"
	"github.com/onair-systems/studio-fabric/internal/model"
	"github.com/onair-systems/studio-fabric/internal/registry"
)

// OutputReceiver is implemented by a hub-side shell session so hubconn can
// forward ShellOutput bytes to whatever handle the shell registry holds
// without importing internal/shellsession.
type OutputReceiver interface {
	Deliver(data []byte)
}

type waiter struct {
	ctx       context.Context
	predicate func(model.Message) bool
	slot      chan model.Message
}

// Connection is one accepted agent socket on the hub side.
type Connection struct {
	conn   *duplex.Conn
	agents *registry.Agents
	shells *registry.Shells

	mu      sync.Mutex
	waiters []*waiter
	agentID string
}

// New wires a Connection. Run starts its dispatch loop; call it in its own
// goroutine.
func New(conn *duplex.Conn, agents *registry.Agents, shells *registry.Shells) *Connection {
	return &Connection{conn: conn, agents: agents, shells: shells}
}

// Send queues msg for delivery to the agent.
func (c *Connection) Send(msg model.Message) error {
	return c.conn.Send(msg)
}

// Run drives the decode loop until the connection is torn down.
func (c *Connection) Run(ctx context.Context) {
	go c.conn.ReadLoop()
	go c.conn.WriteLoop()
	defer c.teardown()
	defer c.conn.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.conn.Done():
			return
		case msg, ok := <-c.conn.Incoming():
			if !ok {
				return
			}
			c.dispatch(msg)
		}
	}
}

func (c *Connection) dispatch(msg model.Message) {
	if c.matchWaiter(msg) {
		return
	}
	switch {
	case msg.AgentState != nil:
		c.mu.Lock()
		c.agentID = msg.AgentState.AgentID
		c.mu.Unlock()
		c.agents.Upsert(msg.AgentState.AgentID, c.conn.RemoteAddr(), msg.AgentState.State, c)

	case msg.ShellOutput != nil:
		h, ok := c.shells.Lookup(msg.ShellOutput.ShellID)
		if !ok {
			return
		}
		recv, ok := h.(OutputReceiver)
		if !ok {
			log.Printf("[hubconn] shell %s registry handle is not an OutputReceiver", msg.ShellOutput.ShellID)
			return
		}
		recv.Deliver(msg.ShellOutput.Bytes)

	default:
		// Other variants are ignored on the hub side.
	}
}

// matchWaiter scans the waiter table in registration order, purging any
// abandoned (context-cancelled) entries it passes over, and delivers msg
// to the first live waiter whose predicate matches. It reports whether msg
// was consumed by a waiter; if so it must not also reach general
// dispatch.
func (c *Connection) matchWaiter(msg model.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.waiters[:0]
	matched := false
	for _, w := range c.waiters {
		if w.ctx.Err() != nil {
			continue // abandoned: dropped, not carried forward
		}
		if !matched && w.predicate(msg) {
			w.slot <- msg
			matched = true
			continue // consumed: also dropped from the table
		}
		live = append(live, w)
	}
	c.waiters = live
	return matched
}

func (c *Connection) addWaiter(ctx context.Context, predicate func(model.Message) bool) chan model.Message {
	w := &waiter{ctx: ctx, predicate: predicate, slot: make(chan model.Message, 1)}
	c.mu.Lock()
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()
	return w.slot
}

// SendCommand implements the proxied-command handler: mint a request_id,
// send HyperDeckCommand, and wait for the matching
// HyperDeckCommandResponse or HyperDeckCommandError.
func (c *Connection) SendCommand(ctx context.Context, ip, command string) (model.VendorResponse, error) {
	requestID := uuid.New().String()
	slot := c.addWaiter(ctx, func(msg model.Message) bool {
		if msg.HyperDeckCommandResponse != nil {
			return msg.HyperDeckCommandResponse.RequestID == requestID
		}
		if msg.HyperDeckCommandError != nil {
			return msg.HyperDeckCommandError.RequestID == requestID
		}
		return false
	})

	if err := c.Send(model.Message{HyperDeckCommand: &model.HyperDeckCommand{
		RequestID: requestID,
		IP:        ip,
		Command:   command,
	}}); err != nil {
		return model.VendorResponse{}, fmt.Errorf("hubconn: send command: %w", err)
	}

	select {
	case msg := <-slot:
		if msg.HyperDeckCommandError != nil {
			return model.VendorResponse{}, fmt.Errorf("%s", msg.HyperDeckCommandError.Description)
		}
		return msg.HyperDeckCommandResponse.Response, nil
	case <-ctx.Done():
		return model.VendorResponse{}, ctx.Err()
	}
}

// teardown removes this connection's agent registry row, but only if it
// hasn't already been replaced by a newer connection.
func (c *Connection) teardown() {
	c.mu.Lock()
	id := c.agentID
	c.mu.Unlock()
	if id == "" {
		return
	}
	c.agents.RemoveIfOwner(id, c)
}
