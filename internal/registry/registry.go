// Package registry holds the hub's two shared, multi-reader/single-writer
// tables: connected agents and live shell sessions, both keyed by id.
// Ownership is by convention: only the connection whose handle a row
// holds may mutate that row; other callers only read.
//
// Grounded on the teacher's internal/sessions.Manager, generalized here
// from one map (sessions) to the two tables below, with the
// handle-ownership check on teardown folded directly into RemoveIfOwner.
package registry

import (
	"sync"

	"github.com/onair-systems/studio-fabric/internal/model"
)

// Agents is the hub's agent_id -> model.Agent table.
type Agents struct {
	mu   sync.RWMutex
	rows map[string]model.Agent
}

// NewAgents creates an empty agent registry.
func NewAgents() *Agents {
	return &Agents{rows: make(map[string]model.Agent)}
}

// Upsert inserts or replaces the row for id, recording the reported state,
// the connection's channel handle, and the remote address. A reconnect
// under the same id simply overwrites the prior row.
func (a *Agents) Upsert(id, remoteAddr string, state model.AgentState, handle any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows[id] = model.Agent{
		ID:            id,
		RemoteAddr:    remoteAddr,
		State:         state,
		ChannelHandle: handle,
	}
}

// Get returns a copy of the row registered for id, or ok=false if there is
// no such agent.
func (a *Agents) Get(id string) (model.Agent, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	row, ok := a.rows[id]
	return row, ok
}

// Handle returns the channel handle currently registered for id, or nil if
// there is no such agent.
func (a *Agents) Handle(id string) (any, bool) {
	row, ok := a.Get(id)
	if !ok {
		return nil, false
	}
	return row.ChannelHandle, true
}

// RemoveIfOwner deletes the row for id only if it still points at handle:
// a row already replaced by a newer connection is left intact.
func (a *Agents) RemoveIfOwner(id string, handle any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if row, ok := a.rows[id]; ok && row.ChannelHandle == handle {
		delete(a.rows, id)
	}
}

// Shells is the hub's shell_id -> model.Shell table.
type Shells struct {
	mu   sync.RWMutex
	rows map[string]model.Shell
}

// NewShells creates an empty shell registry.
func NewShells() *Shells {
	return &Shells{rows: make(map[string]model.Shell)}
}

// Insert registers a newly opened shell session's handle under id.
func (s *Shells) Insert(id string, handle any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[id] = model.Shell{ID: id, SessionHandle: handle}
}

// Lookup returns the session handle for id, or ok=false if unknown: an
// unknown id is silently dropped by callers.
func (s *Shells) Lookup(id string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, false
	}
	return row.SessionHandle, true
}

// Remove deregisters id unconditionally.
func (s *Shells) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
}
