// Package operatorapi is the thin external-collaborator seam: enough HTTP
// surface to open an operator shell session bound to an agent and to
// submit a proxied vendor command. It is deliberately not a full
// query/mutation API.
//
// Grounded on the teacher's cmd/server/main.go Server/Handler split (a
// plain http.ServeMux with PathValue routing) and its
// internal/ws/router.go HandleWebSocket (upgrade, then hand the conn to a
// ReadPump/WritePump pair) for the shell endpoint.
package operatorapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onair-systems/studio-fabric/internal/hubconn"
	"github.com/onair-systems/studio-fabric/internal/registry"
	"github.com/onair-systems/studio-fabric/internal/shellsession"
)

const commandTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server exposes the operator-facing HTTP surface over the hub's shared
// registries.
type Server struct {
	agents *registry.Agents
	shells *registry.Shells
}

// NewServer creates a Server over the hub's shared registries.
func NewServer(agents *registry.Agents, shells *registry.Shells) *Server {
	return &Server{agents: agents, shells: shells}
}

// Handler builds the operator-facing mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /agents/{agentID}/shell", s.handleShell)
	mux.HandleFunc("POST /agents/{agentID}/command", s.handleCommand)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) agentConnection(agentID string) (*hubconn.Connection, bool) {
	handle, ok := s.agents.Handle(agentID)
	if !ok {
		return nil, false
	}
	conn, ok := handle.(*hubconn.Connection)
	return conn, ok
}

// handleShell opens a shell session bound to agentID over a websocket:
// binary frames carry operator keystrokes in, shell output out.
func (s *Server) handleShell(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentID")
	agent, ok := s.agentConnection(agentID)
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[operatorapi] websocket upgrade: %v", err)
		return
	}

	session, err := shellsession.Open(agent, s.shells)
	if err != nil {
		log.Printf("[operatorapi] open shell session for %s: %v", agentID, err)
		ws.Close()
		return
	}

	go operatorReadPump(ws, session)
	go operatorWritePump(ws, session)
}

func operatorReadPump(ws *websocket.Conn, session *shellsession.Session) {
	defer session.Close()
	defer ws.Close()
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}
		if err := session.Input(data); err != nil {
			log.Printf("[operatorapi] forward input for %s: %v", session.ID(), err)
			return
		}
	}
}

func operatorWritePump(ws *websocket.Conn, session *shellsession.Session) {
	defer ws.Close()
	for data := range session.Output() {
		if err := ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
			return
		}
	}
}

type commandRequest struct {
	IP      string `json:"ip"`
	Command string `json:"command"`
}

type commandResponse struct {
	Code    int      `json:"code"`
	Text    string   `json:"text"`
	Payload []string `json:"payload,omitempty"`
}

type commandErrorResponse struct {
	Description string `json:"description"`
}

// handleCommand submits a proxied vendor command to agentID and waits for
// its terminal reply.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentID")
	agent, ok := s.agentConnection(agentID)
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	resp, err := agent.SendCommand(ctx, req.IP, req.Command)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(commandErrorResponse{Description: err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(commandResponse{Code: resp.Code, Text: resp.Text, Payload: resp.Payload})
}
