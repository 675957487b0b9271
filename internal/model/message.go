// Package model holds the wire envelope and domain types shared by the
// agent and hub sides of the control fabric.
package model

// AgentState is the full agent snapshot. It always replaces prior state
// wholesale; there are no deltas.
type AgentState struct {
	NetworkDevices []NetworkDevice
	LocalDevices   []LocalDevice
}

// Message is the tagged variant carried in both directions over the
// agent<->hub duplex channel. Exactly one of the pointer fields is set;
// see internal/wire for how this is mapped to the externally-tagged wire
// representation.
type Message struct {
	AgentState               *AgentStateMsg
	ShellInit                *ShellInit
	ShellClose               *ShellClose
	ShellInput               *ShellInput
	ShellOutput              *ShellOutput
	HyperDeckCommand         *HyperDeckCommand
	HyperDeckCommandResponse *HyperDeckCommandResponse
	HyperDeckCommandError    *HyperDeckCommandError
}

// AgentStateMsg wraps an AgentState with the reporting agent's ID; this is
// the shape actually sent agent->hub.
type AgentStateMsg struct {
	AgentID string
	State   AgentState
}

// ShellInit is sent hub->agent to start a new interactive shell.
type ShellInit struct {
	ShellID string
}

// ShellClose is sent hub->agent to tear down a shell.
type ShellClose struct {
	ShellID string
}

// ShellInput carries operator keystrokes hub->agent.
type ShellInput struct {
	ShellID string
	Bytes   []byte
}

// ShellOutput carries shell stdout/stderr chunks agent->hub.
type ShellOutput struct {
	ShellID string
	Bytes   []byte
}

// HyperDeckCommand is a proxied vendor-protocol command, hub->agent.
type HyperDeckCommand struct {
	RequestID string
	IP        string
	Command   string
}

// HyperDeckCommandResponse is the successful terminal reply, agent->hub.
type HyperDeckCommandResponse struct {
	RequestID string
	Response  VendorResponse
}

// HyperDeckCommandError is the failure terminal reply, agent->hub.
type HyperDeckCommandError struct {
	RequestID   string
	Description string
}

// VendorResponse is a parsed vendor-protocol response (see
// internal/vendorproto), carried inside HyperDeckCommandResponse.
type VendorResponse struct {
	Code    int
	Text    string
	Payload []string
}
