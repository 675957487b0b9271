// Package netsweep implements the per-interface L2 ARP sweep: broadcast an
// ARP request to every address in a bounded IPv4 network, and collect
// replies with a background receiver until a deadline.
//
// No pack repo crafts raw Ethernet/ARP frames, so this is built directly
// on the real ecosystem library for it, github.com/google/gopacket (named
// per the out-of-pack-deps rule, see DESIGN.md). The background-receiver-
// plus-shared-stop-flag shape mirrors the teacher's internal/pty/hub.go
// readLoop: a dedicated goroutine blocks on I/O and is told to stop via a
// flag rather than being sent a value, since the call site only cares
// about the accumulated result once the goroutine has actually exited.
package netsweep

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// ScanTimeout is the wall-clock budget for one sweep.
const ScanTimeout = 8 * time.Second

const receiveTimeout = 200 * time.Millisecond

// MinPrefixLen is the prefix length of the widest (largest) IPv4 network an
// interface may be swept on; anything wider is excluded to bound sweep size.
const MinPrefixLen = 16

// Eligible reports whether iface should be swept: it must carry at least
// one IPv4 address, must not be loopback or point-to-point, and its IPv4
// prefix length must be >= MinPrefixLen.
func Eligible(iface net.Interface) (net.IP, *net.IPNet, bool) {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, nil, false
	}
	return eligibleFromAddrs(iface.Flags, addrs)
}

// eligibleFromAddrs is the pure, testable core of Eligible.
func eligibleFromAddrs(flags net.Flags, addrs []net.Addr) (net.IP, *net.IPNet, bool) {
	if flags&net.FlagLoopback != 0 || flags&net.FlagPointToPoint != 0 {
		return nil, nil, false
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil {
			continue
		}
		ones, bits := ipnet.Mask.Size()
		if bits != 32 || ones < MinPrefixLen {
			continue
		}
		return ip4, &net.IPNet{IP: ipnet.IP.Mask(ipnet.Mask).To4(), Mask: ipnet.Mask}, true
	}
	return nil, nil, false
}

// Sweep runs one ARP sweep round on iface and returns the MAC->IPv4
// addresses observed replying, as hardware address strings
// (net.HardwareAddr.String()) to dotted-quad IPv4 strings.
func Sweep(ctx context.Context, iface net.Interface, scanTimeout time.Duration) (map[string]string, error) {
	srcIP, ipnet, ok := Eligible(iface)
	if !ok {
		return nil, fmt.Errorf("netsweep: interface %s is not eligible for sweeping", iface.Name)
	}
	if len(iface.HardwareAddr) == 0 {
		return nil, fmt.Errorf("netsweep: interface %s has no hardware address", iface.Name)
	}

	handle, err := pcap.OpenLive(iface.Name, 1600, false, receiveTimeout)
	if err != nil {
		return nil, fmt.Errorf("netsweep: open %s: %w", iface.Name, err)
	}
	defer handle.Close()

	found := make(map[string]string)
	var stop atomic.Bool
	done := make(chan struct{})

	go receive(handle, &stop, found, done)

	for _, target := range hostAddresses(ipnet) {
		if ctx.Err() != nil {
			break
		}
		frame, err := buildARPRequest(iface.HardwareAddr, srcIP, target)
		if err != nil {
			continue
		}
		_ = handle.WritePacketData(frame)
	}

	timer := time.NewTimer(scanTimeout)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	stop.Store(true)
	<-done

	return found, nil
}

// receive drains ARP replies off handle into found until stop is set. It
// runs on its own goroutine so the blocking pcap read never shares a
// thread with the driver loop above.
func receive(handle *pcap.Handle, stop *atomic.Bool, found map[string]string, done chan struct{}) {
	defer close(done)
	for !stop.Load() {
		data, _, err := handle.ReadPacketData()
		if err != nil {
			if err == pcap.NextErrorTimeoutExpired {
				continue
			}
			return
		}
		mac, ip, ok := parseARPReply(data)
		if !ok {
			continue
		}
		found[mac] = ip
	}
}

// parseARPReply extracts the sender hardware/protocol address from an ARP
// reply frame, discarding non-ARP and non-reply (op != 2) packets.
func parseARPReply(data []byte) (mac string, ip string, ok bool) {
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)
	arpLayer := packet.Layer(layers.LayerTypeARP)
	if arpLayer == nil {
		return "", "", false
	}
	arp, ok := arpLayer.(*layers.ARP)
	if !ok || arp.Operation != layers.ARPReply {
		return "", "", false
	}
	senderMAC := net.HardwareAddr(arp.SourceHwAddress)
	senderIP := net.IP(arp.SourceProtAddress)
	if len(senderMAC) == 0 || len(senderIP) == 0 {
		return "", "", false
	}
	return senderMAC.String(), senderIP.String(), true
}

// buildARPRequest serializes a broadcast ARP request (op=1) from
// srcMAC/srcIP to targetIP.
func buildARPRequest(srcMAC net.HardwareAddr, srcIP net.IP, targetIP net.IP) ([]byte, error) {
	broadcast := net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

	eth := layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       broadcast,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   srcMAC,
		SourceProtAddress: srcIP.To4(),
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    targetIP.To4(),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &arp); err != nil {
		return nil, fmt.Errorf("netsweep: serialize ARP request: %w", err)
	}
	return buf.Bytes(), nil
}

// hostAddresses enumerates every IPv4 address in network, excluding the
// network and broadcast addresses.
func hostAddresses(network *net.IPNet) []net.IP {
	ones, bits := network.Mask.Size()
	if bits != 32 {
		return nil
	}
	base := binary.BigEndian.Uint32(network.IP.To4())
	count := uint32(1) << uint(32-ones)
	if count <= 2 {
		return nil
	}

	addrs := make([]net.IP, 0, count-2)
	for i := uint32(1); i < count-1; i++ {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], base+i)
		ip := make(net.IP, 4)
		copy(ip, b[:])
		addrs = append(addrs, ip)
	}
	return addrs
}
