package lanscan

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/onair-systems/studio-fabric/internal/model"
)

type fakeInterfaces struct{ ifaces []net.Interface }

func (f fakeInterfaces) Interfaces() ([]net.Interface, error) { return f.ifaces, nil }

type fakeSweeper struct {
	mu      sync.Mutex
	results []map[string]string
	calls   int
}

func (f *fakeSweeper) Sweep(ctx context.Context, iface net.Interface, timeout time.Duration) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if idx >= len(f.results) {
		return map[string]string{}, nil
	}
	return f.results[idx], nil
}

type noopProber struct{}

func (noopProber) Probe(ctx context.Context, mac, ip string) (*model.NetworkDeviceDetails, error) {
	return nil, nil
}

func newTestScanner(sweeper Sweeper) *Scanner {
	s := NewScanner(noopProber{}, func(model.AgentState) {})
	s.sweep = sweeper
	s.ifaces = fakeInterfaces{ifaces: []net.Interface{{Name: "eth-eligible", Flags: net.FlagUp | net.FlagBroadcast}}}
	return s
}

// testTick bypasses netsweep.Eligible (which requires a real net.Interface
// with live addresses) and the Sweeper: it applies tick's table-update,
// eviction and snapshot logic to a given sweep result at a given time.
func (s *Scanner) testTick(ctx context.Context, macToIP map[string]string, now time.Time) {
	s.mu.Lock()
	for mac, ip := range macToIP {
		dev, existed := s.devices[mac]
		if !existed {
			dev = model.Device{MAC: mac, LastProbe: now.Add(-probeInterval)}
		}
		dev.IP = ip
		dev.LastSeen = now
		if now.Sub(dev.LastProbe) >= probeInterval {
			dev.LastProbe = now
		}
		s.devices[mac] = dev
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

func TestDeviceTTLEviction(t *testing.T) {
	s := newTestScanner(&fakeSweeper{})

	base := time.Now()
	s.testTick(context.Background(), map[string]string{"AA:BB:CC:DD:EE:01": "10.0.0.1"}, base)

	s.testTick(context.Background(), map[string]string{}, base.Add(30*time.Second))

	s.testTick(context.Background(), map[string]string{}, base.Add(75*time.Second))

	s.mu.Lock()
	_, present := s.devices["AA:BB:CC:DD:EE:01"]
	s.mu.Unlock()
	if present {
		t.Fatal("device should have been evicted after exceeding the 60s TTL")
	}
}

func TestDeviceSurvivesWithinTTLWindow(t *testing.T) {
	s := newTestScanner(&fakeSweeper{})

	base := time.Now()
	s.testTick(context.Background(), map[string]string{"AA:BB:CC:DD:EE:01": "10.0.0.1"}, base)
	s.testTick(context.Background(), map[string]string{}, base.Add(30*time.Second))

	s.mu.Lock()
	dev, present := s.devices["AA:BB:CC:DD:EE:01"]
	s.mu.Unlock()
	if !present {
		t.Fatal("device missed in one sweep within the TTL window should remain in the table")
	}
	if dev.IP != "10.0.0.1" {
		t.Errorf("dev.IP = %q, want the last known IP to be retained", dev.IP)
	}
}

func TestProbeDebouncing(t *testing.T) {
	s := newTestScanner(&fakeSweeper{})
	base := time.Now()

	s.testTick(context.Background(), map[string]string{"AA:BB:CC:DD:EE:01": "10.0.0.1"}, base)
	s.mu.Lock()
	firstProbe := s.devices["AA:BB:CC:DD:EE:01"].LastProbe
	s.mu.Unlock()
	if !firstProbe.Equal(base) {
		t.Fatalf("new entry should probe immediately, got LastProbe=%v base=%v", firstProbe, base)
	}

	s.testTick(context.Background(), map[string]string{"AA:BB:CC:DD:EE:01": "10.0.0.1"}, base.Add(10*time.Second))
	s.mu.Lock()
	secondProbe := s.devices["AA:BB:CC:DD:EE:01"].LastProbe
	s.mu.Unlock()
	if !secondProbe.Equal(firstProbe) {
		t.Error("probe should be debounced within the 60s probe interval")
	}

	s.testTick(context.Background(), map[string]string{"AA:BB:CC:DD:EE:01": "10.0.0.1"}, base.Add(61*time.Second))
	s.mu.Lock()
	thirdProbe := s.devices["AA:BB:CC:DD:EE:01"].LastProbe
	s.mu.Unlock()
	if thirdProbe.Equal(firstProbe) {
		t.Error("probe should re-fire once the 60s probe interval has elapsed")
	}
}

func TestSetAllowlistSetsAndClearsRestriction(t *testing.T) {
	sweeper := &fakeSweeper{}
	s := newTestScanner(sweeper)
	s.ifaces = fakeInterfaces{ifaces: []net.Interface{
		{Name: "eth0", Flags: net.FlagUp | net.FlagBroadcast},
		{Name: "eth1", Flags: net.FlagUp | net.FlagBroadcast},
	}}

	s.SetAllowlist([]string{"eth0"})
	if s.allowlist == nil || !s.allowlist["eth0"] || s.allowlist["eth1"] {
		t.Fatalf("allowlist = %+v, want only eth0 set", s.allowlist)
	}

	s.SetAllowlist(nil)
	if s.allowlist != nil {
		t.Fatal("SetAllowlist(nil) should clear the restriction")
	}
}

func TestHyperDeckOUIMatch(t *testing.T) {
	if !sameOUI("7C:2E:0D:AA:BB:CC", hyperDeckOUI) {
		t.Error("expected HyperDeck OUI (case-insensitive) to match")
	}
	if sameOUI("00:11:22:33:44:55", hyperDeckOUI) {
		t.Error("unrelated OUI should not match")
	}
}
