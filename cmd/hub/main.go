// Command hub is the central process: it accepts agent connections,
// maintains the shared agent/shell registries, and fronts the operator
// API.
//
// Grounded on the teacher's cmd/server/main.go bootstrap: a flag with an
// environment-variable fallback and a code default, log.Fatal on listen
// failure.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/websocket"

	"github.com/onair-systems/studio-fabric/internal/duplex"
	"github.com/onair-systems/studio-fabric/internal/hubconn"
	"github.com/onair-systems/studio-fabric/internal/operatorapi"
	"github.com/onair-systems/studio-fabric/internal/registry"
)

var portFlag = flag.String("port", "", "hub listen port (overrides HUB_PORT, default 8443)")

func main() {
	flag.Parse()

	port := *portFlag
	if port == "" {
		port = os.Getenv("HUB_PORT")
	}
	if port == "" {
		port = "8443"
	}

	agents := registry.NewAgents()
	shells := registry.NewShells()
	server := NewServer(agents, shells)

	log.Printf("Starting hub on :%s", port)
	if err := http.ListenAndServe(":"+port, server.Handler()); err != nil {
		log.Fatal(err)
	}
}

// Server wires the agent-accept endpoint alongside the operator API on one
// mux, the way cmd/server/main.go's Server composes its ws.Router with the
// rest of its handlers.
type Server struct {
	agents   *registry.Agents
	shells   *registry.Shells
	operator *operatorapi.Server
}

func NewServer(agents *registry.Agents, shells *registry.Shells) *Server {
	return &Server{
		agents:   agents,
		shells:   shells,
		operator: operatorapi.NewServer(agents, shells),
	}
}

var agentUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /agents/connect", s.handleAgentConnect)
	mux.Handle("/", s.operator.Handler())
	return mux
}

// handleAgentConnect upgrades an inbound agent socket and runs its
// hubconn.Connection until it disconnects.
func (s *Server) handleAgentConnect(w http.ResponseWriter, r *http.Request) {
	ws, err := agentUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[hub] websocket upgrade: %v", err)
		return
	}
	conn := hubconn.New(duplex.New(ws), s.agents, s.shells)
	conn.Run(context.Background())
}
