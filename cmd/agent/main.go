// Command agent is the process that runs near the hardware: it dials the
// hub, then runs the local-device poller, LAN scanner, shell host, and
// proxied-command handling behind one duplex connection.
//
// Grounded on the teacher's cmd/server/main.go bootstrap idiom (flag with
// an environment-variable fallback and a code default, log.Fatal on fatal
// setup errors), adapted here to an outbound dialer instead of a listener.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/onair-systems/studio-fabric/internal/agentconn"
	"github.com/onair-systems/studio-fabric/internal/duplex"
	"github.com/onair-systems/studio-fabric/internal/localdevice"
)

// noCardsEnumerator is the stand-in CardEnumerator used until a real
// vendor SDK binding is wired in; it reports no local cards attached.
// The vendor SDK itself is treated as an injected enumerate/query
// capability, not something this binary implements.
type noCardsEnumerator struct{}

func (noCardsEnumerator) Enumerate(ctx context.Context) ([]localdevice.CardReading, error) {
	return nil, nil
}

var (
	hubURLFlag    = flag.String("hub", "", "hub websocket URL (overrides HUB_URL, default ws://localhost:8443/agents/connect)")
	ifaceListFlag = flag.String("interfaces", "", "comma-separated interface allowlist (overrides IFACE_ALLOWLIST, default all eligible)")
)

func main() {
	flag.Parse()

	hubURL := *hubURLFlag
	if hubURL == "" {
		hubURL = os.Getenv("HUB_URL")
	}
	if hubURL == "" {
		hubURL = "ws://localhost:8443/agents/connect"
	}

	agentID := os.Getenv("AGENT_ID")
	if agentID == "" {
		agentID = uuid.New().String()
	}

	ifaceAllowlistRaw := *ifaceListFlag
	if ifaceAllowlistRaw == "" {
		ifaceAllowlistRaw = os.Getenv("IFACE_ALLOWLIST")
	}
	ifaceAllowlist := splitAllowlist(ifaceAllowlistRaw)

	log.Printf("Connecting agent %s to %s", agentID, hubURL)
	ws, _, err := websocket.DefaultDialer.Dial(hubURL, nil)
	if err != nil {
		log.Fatal(err)
	}

	conn := agentconn.New(agentID, duplex.New(ws), noCardsEnumerator{}, ifaceAllowlist...)
	conn.Run(context.Background())
}

// splitAllowlist parses a comma-separated interface allowlist into
// interface names; an empty value yields no restriction (every eligible
// interface is swept).
func splitAllowlist(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}
	return names
}
