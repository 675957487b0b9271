package model

import "time"

// Agent is the hub's registry row for one connected agent. ChannelHandle
// is opaque to the registry: it is whatever the owning hub connection
// needs to send a Message back to that agent.
type Agent struct {
	ID            string
	RemoteAddr    string
	State         AgentState
	ChannelHandle any
}

// Shell is the hub's registry row for one operator shell session.
type Shell struct {
	ID            string
	SessionHandle any
}

// Device is the LAN scanner's per-MAC table entry.
type Device struct {
	IP        string
	MAC       string
	LastSeen  time.Time
	LastProbe time.Time
	Details   *NetworkDeviceDetails
}
