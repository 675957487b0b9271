// Package agentconn implements the agent-side connection: the single
// duplex channel to the hub that starts the local pollers, hosts shells,
// proxies vendor commands, and maintains the cached AgentState snapshot.
//
// Grounded on the teacher's internal/pty/hub.go Run/select actor loop
// (generalized here from a fixed set of client channels to a fixed set of
// typed inbound message kinds) for the single dispatch goroutine, and on
// internal/ws's ReadPump/WritePump split (here internal/duplex) for the
// transport.
package agentconn

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/onair-systems/studio-fabric/internal/duplex"
	"github.com/onair-systems/studio-fabric/internal/lanscan"
	"github.com/onair-systems/studio-fabric/internal/localdevice"
	"github.com/onair-systems/studio-fabric/internal/model"
	"github.com/onair-systems/studio-fabric/internal/shellhost"
	"github.com/onair-systems/studio-fabric/internal/vendorproto"
)

// Connection owns everything scoped to one agent's hub socket: the shell
// host, the local pollers, and the cached AgentState they feed.
type Connection struct {
	agentID     string
	conn        *duplex.Conn
	shells      *shellhost.Host
	localPoller *localdevice.Poller
	scanner     *lanscan.Scanner
	dial        func(ip string) (*vendorproto.Client, error)

	mu    sync.Mutex
	state model.AgentState
}

// New wires a Connection around an established duplex.Conn. Run starts the
// pollers and dispatch loop; call it in its own goroutine. ifaceAllowlist
// restricts the LAN scanner to the named interfaces; nil/empty sweeps
// every eligible interface.
func New(agentID string, conn *duplex.Conn, enumerator localdevice.CardEnumerator, ifaceAllowlist ...string) *Connection {
	c := &Connection{agentID: agentID, conn: conn}
	c.shells = shellhost.NewHost(c)
	c.localPoller = localdevice.NewPoller(enumerator, c.emitLocalState)
	c.scanner = lanscan.NewScanner(lanscan.HyperDeckProber{}, c.emitNetworkState)
	c.scanner.SetAllowlist(ifaceAllowlist)
	c.dial = func(ip string) (*vendorproto.Client, error) {
		return vendorproto.Connect(net.JoinHostPort(ip, fmt.Sprintf("%d", vendorproto.DefaultPort)))
	}
	return c
}

// Run starts the local poller, the LAN scanner, and the dispatch loop, and
// blocks until the connection is torn down (peer gone, liveness timeout, or
// ctx cancelled).
func (c *Connection) Run(ctx context.Context) {
	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.localPoller.Run(pollCtx)
	go c.scanner.Run(pollCtx)
	go c.conn.ReadLoop()
	go c.conn.WriteLoop()

	defer c.shells.CloseAll()
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
			c.dispatch(ctx, msg)
		}
	}
}

func (c *Connection) dispatch(ctx context.Context, msg model.Message) {
	switch {
	case msg.ShellInit != nil:
		if err := c.shells.Spawn(msg.ShellInit.ShellID); err != nil {
			log.Printf("[agentconn] spawn shell %s: %v", msg.ShellInit.ShellID, err)
		}
	case msg.ShellInput != nil:
		c.shells.Input(msg.ShellInput.ShellID, msg.ShellInput.Bytes)
	case msg.ShellClose != nil:
		c.shells.Close(msg.ShellClose.ShellID)
	case msg.HyperDeckCommand != nil:
		go c.runProxiedCommand(ctx, *msg.HyperDeckCommand)
	default:
		// Other variants are ignored on the agent side.
	}
}

// EmitShellOutput implements shellhost.Sink, forwarding a chunk of shell
// output back to the hub as a ShellOutput message.
func (c *Connection) EmitShellOutput(shellID string, data []byte) {
	_ = c.conn.Send(model.Message{ShellOutput: &model.ShellOutput{ShellID: shellID, Bytes: data}})
}

// runProxiedCommand implements the HyperDeckCommand handling: exactly one
// terminal reply per request_id.
func (c *Connection) runProxiedCommand(ctx context.Context, cmd model.HyperDeckCommand) {
	if net.ParseIP(cmd.IP) == nil {
		c.emitCommandError(cmd.RequestID, fmt.Sprintf("invalid ip %q", cmd.IP))
		return
	}

	client, err := c.dial(cmd.IP)
	if err != nil {
		c.emitCommandError(cmd.RequestID, err.Error())
		return
	}
	defer client.Close()

	if err := client.WriteCommand(cmd.Command); err != nil {
		c.emitCommandError(cmd.RequestID, err.Error())
		return
	}
	resp, err := client.ReadCommandResponse()
	if err != nil {
		c.emitCommandError(cmd.RequestID, err.Error())
		return
	}

	_ = c.conn.Send(model.Message{HyperDeckCommandResponse: &model.HyperDeckCommandResponse{
		RequestID: cmd.RequestID,
		Response: model.VendorResponse{
			Code:    resp.Code,
			Text:    resp.Text,
			Payload: resp.Payload,
		},
	}})
}

func (c *Connection) emitCommandError(requestID, description string) {
	_ = c.conn.Send(model.Message{HyperDeckCommandError: &model.HyperDeckCommandError{
		RequestID:   requestID,
		Description: description,
	}})
}

// emitLocalState and emitNetworkState each splice their half of the
// pollers' snapshot into the cached AgentState, replacing only its own
// field, and emit the result as AgentState{agent_id, state}.
func (c *Connection) emitLocalState(partial model.AgentState) {
	c.mu.Lock()
	c.state.LocalDevices = partial.LocalDevices
	snapshot := c.state
	c.mu.Unlock()
	c.emit(snapshot)
}

func (c *Connection) emitNetworkState(partial model.AgentState) {
	c.mu.Lock()
	c.state.NetworkDevices = partial.NetworkDevices
	snapshot := c.state
	c.mu.Unlock()
	c.emit(snapshot)
}

func (c *Connection) emit(state model.AgentState) {
	_ = c.conn.Send(model.Message{AgentState: &model.AgentStateMsg{AgentID: c.agentID, State: state}})
}
