package hubconn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onair-systems/studio-fabric/internal/duplex"
	"github.com/onair-systems/studio-fabric/internal/model"
	"github.com/onair-systems/studio-fabric/internal/registry"
	"github.com/onair-systems/studio-fabric/internal/wire"
)

var upgrader = websocket.Upgrader{}

// startTestHub runs a real Connection behind a websocket test server and
// returns the client-side *websocket.Conn a test drives as if it were the
// agent, plus the shared registries the Connection writes into.
func startTestHub(t *testing.T) (*websocket.Conn, *registry.Agents, *registry.Shells, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	agents := registry.NewAgents()
	shells := registry.NewShells()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		c := New(duplex.New(ws), agents, shells)
		go c.Run(ctx)
	})
	server := httptest.NewServer(handler)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	cleanup := func() {
		cancel()
		clientConn.Close()
		server.Close()
	}
	return clientConn, agents, shells, cleanup
}

func sendFrame(t *testing.T, conn *websocket.Conn, msg model.Message) {
	t.Helper()
	frame, err := wire.Encode(&msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recvFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) (model.Message, bool) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		return model.Message{}, false
	}
	if msgType != websocket.BinaryMessage {
		return model.Message{}, false
	}
	var msg model.Message
	if err := wire.Decode(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg, true
}

func waitForHandle(t *testing.T, agents *registry.Agents, id string) any {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if h, ok := agents.Handle(id); ok {
			return h
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("agent %s never appeared in registry", id)
	return nil
}

func TestAgentStateUpsertsRegistry(t *testing.T) {
	conn, agents, _, cleanup := startTestHub(t)
	defer cleanup()

	sendFrame(t, conn, model.Message{AgentState: &model.AgentStateMsg{AgentID: "a1", State: model.AgentState{}}})

	handle := waitForHandle(t, agents, "a1")
	if handle == nil {
		t.Fatal("expected non-nil channel handle for a1")
	}
}

func TestDisconnectRemovesOwnedRegistryRow(t *testing.T) {
	conn, agents, _, cleanup := startTestHub(t)
	defer cleanup()

	sendFrame(t, conn, model.Message{AgentState: &model.AgentStateMsg{AgentID: "a1"}})
	waitForHandle(t, agents, "a1")

	conn.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := agents.Handle("a1"); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected registry row for a1 to be removed after disconnect")
}

type recordingReceiver struct {
	mu  sync.Mutex
	got [][]byte
}

func (r *recordingReceiver) Deliver(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, data)
}

func TestShellOutputForwardsToRegisteredSession(t *testing.T) {
	conn, _, shells, cleanup := startTestHub(t)
	defer cleanup()

	recv := &recordingReceiver{}
	shells.Insert("sh1", recv)

	sendFrame(t, conn, model.Message{ShellOutput: &model.ShellOutput{ShellID: "sh1", Bytes: []byte("bar")}})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		recv.mu.Lock()
		n := len(recv.got)
		recv.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("ShellOutput was not forwarded to the registered session")
}

func TestShellOutputUnknownIDIsDropped(t *testing.T) {
	conn, _, _, cleanup := startTestHub(t)
	defer cleanup()

	// Must not panic or block.
	sendFrame(t, conn, model.Message{ShellOutput: &model.ShellOutput{ShellID: "nonexistent", Bytes: []byte("x")}})
	time.Sleep(50 * time.Millisecond)
}

func TestSendCommandRoundTrip(t *testing.T) {
	conn, agents, _, cleanup := startTestHub(t)
	defer cleanup()

	sendFrame(t, conn, model.Message{AgentState: &model.AgentStateMsg{AgentID: "a1"}})
	handle := waitForHandle(t, agents, "a1")
	hc := handle.(*Connection)

	resultCh := make(chan model.VendorResponse, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := hc.SendCommand(context.Background(), "10.0.0.5", "device info")
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- resp
	}()

	cmdMsg, ok := recvFrame(t, conn, time.Second)
	if !ok || cmdMsg.HyperDeckCommand == nil {
		t.Fatalf("expected HyperDeckCommand from hub, got %+v ok=%v", cmdMsg, ok)
	}

	sendFrame(t, conn, model.Message{HyperDeckCommandResponse: &model.HyperDeckCommandResponse{
		RequestID: cmdMsg.HyperDeckCommand.RequestID,
		Response:  model.VendorResponse{Code: 200, Text: "device info", Payload: []string{"model: HyperDeck Studio"}},
	}})

	select {
	case resp := <-resultCh:
		if resp.Code != 200 || resp.Text != "device info" {
			t.Fatalf("unexpected response: %+v", resp)
		}
	case err := <-errCh:
		t.Fatalf("SendCommand returned error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("SendCommand did not resolve")
	}
}

func TestSendCommandErrorPath(t *testing.T) {
	conn, agents, _, cleanup := startTestHub(t)
	defer cleanup()

	sendFrame(t, conn, model.Message{AgentState: &model.AgentStateMsg{AgentID: "a1"}})
	handle := waitForHandle(t, agents, "a1")
	hc := handle.(*Connection)

	errCh := make(chan error, 1)
	go func() {
		_, err := hc.SendCommand(context.Background(), "not-an-ip", "device info")
		errCh <- err
	}()

	cmdMsg, ok := recvFrame(t, conn, time.Second)
	if !ok || cmdMsg.HyperDeckCommand == nil {
		t.Fatalf("expected HyperDeckCommand, got %+v ok=%v", cmdMsg, ok)
	}
	sendFrame(t, conn, model.Message{HyperDeckCommandError: &model.HyperDeckCommandError{
		RequestID:   cmdMsg.HyperDeckCommand.RequestID,
		Description: "invalid ip",
	}})

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error from SendCommand")
		}
	case <-time.After(time.Second):
		t.Fatal("SendCommand did not resolve")
	}
}

func TestReconnectReplacesRegistryRow(t *testing.T) {
	conn1, agents, _, cleanup1 := startTestHub(t)
	defer cleanup1()
	sendFrame(t, conn1, model.Message{AgentState: &model.AgentStateMsg{AgentID: "a1"}})
	first := waitForHandle(t, agents, "a1")

	conn2 := dialSameAgents(t, agents)
	defer conn2.cleanup()
	sendFrame(t, conn2.conn, model.Message{AgentState: &model.AgentStateMsg{AgentID: "a1"}})

	deadline := time.Now().Add(time.Second)
	var second any
	for time.Now().Before(deadline) {
		h, _ := agents.Handle("a1")
		if h != first {
			second = h
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if second == nil || second == first {
		t.Fatal("expected the second connection's handle to replace the first in the registry")
	}
}

type hubHarness struct {
	conn    *websocket.Conn
	cleanup func()
}

// dialSameAgents starts a second Connection sharing the same Agents
// registry as an existing test hub, to exercise reconnect semantics.
func dialSameAgents(t *testing.T, agents *registry.Agents) hubHarness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	shells := registry.NewShells()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		c := New(duplex.New(ws), agents, shells)
		go c.Run(ctx)
	})
	server := httptest.NewServer(handler)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return hubHarness{conn: clientConn, cleanup: func() {
		cancel()
		clientConn.Close()
		server.Close()
	}}
}
