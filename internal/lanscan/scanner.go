// Package lanscan implements the LAN scanner/prober: a periodic actor
// that drives internal/netsweep across all eligible interfaces, maintains
// a MAC-keyed device table with TTL eviction and probe debouncing, and
// emits full snapshots.
//
// Grounded on the teacher's periodic-actor shape (internal/pty/hub.go's
// Run/select loop, generalized here from a channel-driven actor to a
// time.Ticker-driven one) for the tick structure, and on
// internal/sessions.Manager's sync.RWMutex-guarded map-by-key for the
// device table itself.
package lanscan

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/onair-systems/studio-fabric/internal/model"
	"github.com/onair-systems/studio-fabric/internal/netsweep"
	"github.com/onair-systems/studio-fabric/internal/vendorproto"
)

const (
	scanInterval  = 15 * time.Second
	probeInterval = 60 * time.Second
	deviceTimeout = 60 * time.Second
)

// Sweeper abstracts internal/netsweep.Sweep for testing.
type Sweeper interface {
	Sweep(ctx context.Context, iface net.Interface, timeout time.Duration) (map[string]string, error)
}

type gopacketSweeper struct{}

func (gopacketSweeper) Sweep(ctx context.Context, iface net.Interface, timeout time.Duration) (map[string]string, error) {
	return netsweep.Sweep(ctx, iface, timeout)
}

// Interfaces abstracts net.Interfaces for testing.
type Interfaces interface {
	Interfaces() ([]net.Interface, error)
}

type systemInterfaces struct{}

func (systemInterfaces) Interfaces() ([]net.Interface, error) { return net.Interfaces() }

// Prober performs the vendor-specific fingerprint probe. Scanner logs any
// returned error and treats it, like a nil result, as "no update to
// details".
type Prober interface {
	Probe(ctx context.Context, mac, ip string) (*model.NetworkDeviceDetails, error)
}

// Scanner owns the MAC->Device table and emits NetworkState snapshots via
// the emit callback given to NewScanner.
type Scanner struct {
	sweep     Sweeper
	ifaces    Interfaces
	prober    Prober
	emit      func(model.AgentState) // only NetworkDevices is meaningful here
	allowlist map[string]bool        // nil/empty means every eligible interface is swept

	mu      sync.Mutex
	devices map[string]model.Device
}

// NewScanner creates a Scanner. emit is called with a snapshot
// (NetworkDevices populated, LocalDevices left empty) after every tick.
func NewScanner(prober Prober, emit func(model.AgentState)) *Scanner {
	return &Scanner{
		sweep:   gopacketSweeper{},
		ifaces:  systemInterfaces{},
		prober:  prober,
		emit:    emit,
		devices: make(map[string]model.Device),
	}
}

// SetAllowlist restricts sweeping to interfaces whose name appears in
// names; an empty or nil names clears the restriction, reverting to every
// eligible interface (the usual eligibility rule is still applied on top
// of the allowlist).
func (s *Scanner) SetAllowlist(names []string) {
	if len(names) == 0 {
		s.allowlist = nil
		return
	}
	allow := make(map[string]bool, len(names))
	for _, n := range names {
		allow[n] = true
	}
	s.allowlist = allow
}

// Run drives the 15s scan tick until ctx is cancelled. It runs one tick
// immediately on entry rather than waiting for the first tick.
func (s *Scanner) Run(ctx context.Context) {
	s.tick(ctx)

	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scanner) tick(ctx context.Context) {
	ifaces, err := s.ifaces.Interfaces()
	if err != nil {
		log.Printf("[lanscan] list interfaces: %v", err)
		return
	}

	type found struct {
		mac, ip string
	}
	var results []found
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, iface := range ifaces {
		if _, _, ok := netsweep.Eligible(iface); !ok {
			continue
		}
		if s.allowlist != nil && !s.allowlist[iface.Name] {
			continue
		}
		wg.Add(1)
		go func(iface net.Interface) {
			defer wg.Done()
			sweepCtx, cancel := context.WithTimeout(ctx, netsweep.ScanTimeout+time.Second)
			defer cancel()
			macToIP, err := s.sweep.Sweep(sweepCtx, iface, netsweep.ScanTimeout)
			if err != nil {
				log.Printf("[lanscan] sweep %s: %v", iface.Name, err)
				return
			}
			mu.Lock()
			for mac, ip := range macToIP {
				results = append(results, found{mac: mac, ip: ip})
			}
			mu.Unlock()
		}(iface)
	}
	wg.Wait()

	now := time.Now()
	s.mu.Lock()
	seen := make(map[string]bool, len(results))
	for _, f := range results {
		seen[f.mac] = true
		dev, existed := s.devices[f.mac]
		if !existed {
			dev = model.Device{
				MAC:       f.mac,
				LastProbe: now.Add(-probeInterval),
			}
		}
		dev.IP = f.ip
		dev.LastSeen = now
		s.devices[f.mac] = dev

		if now.Sub(dev.LastProbe) >= probeInterval {
			dev.LastProbe = now
			s.devices[f.mac] = dev
			go s.probe(ctx, f.mac, f.ip)
		}
	}

	for mac, dev := range s.devices {
		if now.Sub(dev.LastSeen) >= deviceTimeout {
			delete(s.devices, mac)
		}
	}

	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(model.AgentState{NetworkDevices: snapshot})
}

// probe runs the vendor-specific fingerprint exchange and folds any
// resulting details into the device table. All probe failures are
// swallowed here; existing details are retained.
func (s *Scanner) probe(ctx context.Context, mac, ip string) {
	if s.prober == nil {
		return
	}
	details, err := s.prober.Probe(ctx, mac, ip)
	if err != nil {
		log.Printf("[lanscan] probe %s (%s): %v", mac, ip, err)
		return
	}
	if details == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[mac]
	if !ok {
		return
	}
	dev.Details = details
	s.devices[mac] = dev
}

// snapshotLocked builds the NetworkDevice list. Caller must hold s.mu.
func (s *Scanner) snapshotLocked() []model.NetworkDevice {
	out := make([]model.NetworkDevice, 0, len(s.devices))
	for _, dev := range s.devices {
		out = append(out, model.NetworkDevice{IP: dev.IP, MAC: dev.MAC, Details: dev.Details})
	}
	return out
}

// hyperDeckOUI is the vendor MAC prefix dispatched to a HyperDeck probe.
const hyperDeckOUI = "7c:2e:0d"

// HyperDeckProber implements Prober by issuing "device info" over
// internal/vendorproto to the given IP on the vendor protocol's default
// port, for MACs bearing the HyperDeck OUI. Other OUIs are left unprobed.
type HyperDeckProber struct{}

func (HyperDeckProber) Probe(ctx context.Context, mac, ip string) (*model.NetworkDeviceDetails, error) {
	if len(mac) < len(hyperDeckOUI) || !sameOUI(mac, hyperDeckOUI) {
		return nil, nil
	}

	addr := net.JoinHostPort(ip, "9993")
	client, err := vendorproto.Connect(addr)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	if err := client.WriteCommand("device info"); err != nil {
		return nil, err
	}
	resp, err := client.ReadCommandResponse()
	if err != nil {
		return nil, err
	}
	if resp.Code < 200 || resp.Code >= 300 {
		return nil, fmt.Errorf("vendorproto: non-2xx response to device info: %d %s", resp.Code, resp.Text)
	}

	params, err := vendorproto.PayloadParameters(resp.Payload)
	if err != nil {
		return nil, err
	}
	return &model.NetworkDeviceDetails{
		HyperDeck: &model.HyperDeckDetails{
			Model:           params["model"],
			ProtocolVersion: params["protocol version"],
			UniqueID:        params["unique id"],
		},
	}, nil
}

func sameOUI(mac, oui string) bool {
	if len(mac) < len(oui) {
		return false
	}
	for i := 0; i < len(oui); i++ {
		a, b := mac[i], oui[i]
		if 'A' <= a && a <= 'Z' {
			a += 'a' - 'A'
		}
		if 'A' <= b && b <= 'Z' {
			b += 'a' - 'A'
		}
		if a != b {
			return false
		}
	}
	return true
}
