// Package shellsession implements the hub-side shell session: bind an
// operator's shell to an agent, relay keystrokes and output in both
// directions, and tear down cleanly.
//
// Grounded on the teacher's apps/sandbox/internal/ws.Client, which holds an
// output channel fed by another component and drained by its own
// WritePump; here the "output channel" is whatever the operator transport
// (internal/operatorapi) wants to drain, and the "feed" is
// hubconn.Connection delivering ShellOutput via Deliver.
package shellsession

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/onair-systems/studio-fabric/internal/model"
	"github.com/onair-systems/studio-fabric/internal/registry"
)

// AgentSender is the subset of hubconn.Connection a session needs: sending
// ShellInit/ShellInput/ShellClose to the bound agent.
type AgentSender interface {
	Send(msg model.Message) error
}

// Session is one operator-facing shell bound to an agent. Output is
// delivered via Deliver (called by hubconn on ShellOutput) and fanned out
// to whatever the operator transport reads from Output().
type Session struct {
	id     string
	agent  AgentSender
	shells *registry.Shells
	output chan []byte

	mu     sync.Mutex
	closed bool
}

// Open starts a new session bound to agent: mints a shell_id, registers it
// in shells, and sends ShellInit to the agent.
func Open(agent AgentSender, shells *registry.Shells) (*Session, error) {
	s := &Session{
		id:     uuid.New().String(),
		agent:  agent,
		shells: shells,
		output: make(chan []byte, 64),
	}
	shells.Insert(s.id, s)
	if err := agent.Send(model.Message{ShellInit: &model.ShellInit{ShellID: s.id}}); err != nil {
		shells.Remove(s.id)
		return nil, fmt.Errorf("shellsession: send ShellInit: %w", err)
	}
	return s, nil
}

// ID is the shell_id this session was registered under.
func (s *Session) ID() string { return s.id }

// Input forwards operator keystrokes to the agent as ShellInput.
func (s *Session) Input(data []byte) error {
	return s.agent.Send(model.Message{ShellInput: &model.ShellInput{ShellID: s.id, Bytes: data}})
}

// Deliver implements hubconn.OutputReceiver: it's called by the owning
// hub connection whenever a ShellOutput arrives for this session's id.
// It's a no-op after Close, since the output channel is closed there and
// a send on it would panic.
func (s *Session) Deliver(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.output <- data:
	default:
		// Operator side isn't draining fast enough; drop rather than
		// block the hub connection's dispatch loop.
	}
}

// Output is where the operator transport reads delivered bytes from. The
// channel is closed on Close, so a range over it terminates instead of
// leaking the operator transport's write pump.
func (s *Session) Output() <-chan []byte { return s.output }

// Close sends ShellClose to the agent, deregisters the session, and closes
// the output channel so the operator transport's write pump exits.
func (s *Session) Close() {
	s.shells.Remove(s.id)
	_ = s.agent.Send(model.Message{ShellClose: &model.ShellClose{ShellID: s.id}})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.output)
}
