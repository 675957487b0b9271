// Package localdevice implements the local-device poller: periodically
// enumerate attached capture/playback cards through an injected vendor-SDK
// capability and emit AgentState-shaped snapshots.
//
// The vendor SDK itself is treated as an opaque enumerate/query
// capability; CardEnumerator is the seam. Grounded on the teacher's
// pattern of wrapping an external capability behind a small interface for
// injection (sandbox/internal/sandbox/mock.go wraps a fly.io sandbox API
// the same way).
package localdevice

import (
	"context"
	"log"
	"time"

	"github.com/onair-systems/studio-fabric/internal/model"
)

// PollInterval is the local-device poll cadence.
const PollInterval = 2 * time.Second

// IOReading is the raw shape an SDK query returns for one direction
// (input or output) of a card. CurrentModeName is looked up against
// DisplayModes to produce the resolved model.IOCapability.CurrentMode.
type IOReading struct {
	ConnectorCount   *int
	HasEmbeddedAudio *bool
	DisplayModes     []model.DisplayMode
	CurrentModeName  *string
}

// AttributesReading mirrors model.DeviceAttributes in raw SDK form.
type AttributesReading struct {
	SerialNumber    *string
	FirmwareVersion *string
	AudioChannels   *int
	SupportsKeying  *bool
}

// StatusReading mirrors model.DeviceStatus in raw SDK form.
type StatusReading struct {
	Linked        *bool
	SignalPresent *bool
	TemperatureC  *float64
}

// CardReading is one card as returned by a single CardEnumerator.Enumerate
// call. Every optional field may be nil, meaning the SDK did not return it
// this query, not that the capability is false.
type CardReading struct {
	ModelName  string
	Attributes *AttributesReading
	Input      *IOReading
	Output     *IOReading
	Status     *StatusReading
}

// CardEnumerator is the injected vendor SDK capability.
type CardEnumerator interface {
	Enumerate(ctx context.Context) ([]CardReading, error)
}

// Poller periodically enumerates local cards and reports snapshots.
type Poller struct {
	enumerate CardEnumerator
	emit      func(model.AgentState) // only LocalDevices is meaningful here
}

// NewPoller creates a Poller. emit is called with a snapshot
// (LocalDevices populated, NetworkDevices left empty) after every poll.
func NewPoller(enumerate CardEnumerator, emit func(model.AgentState)) *Poller {
	return &Poller{enumerate: enumerate, emit: emit}
}

// Run drives the 2s poll cadence until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.poll(ctx)

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	readings, err := p.enumerate.Enumerate(ctx)
	if err != nil {
		log.Printf("[localdevice] enumerate: %v", err)
		return
	}

	devices := make([]model.LocalDevice, 0, len(readings))
	for _, r := range readings {
		devices = append(devices, toLocalDevice(r))
	}
	p.emit(model.AgentState{LocalDevices: devices})
}

// toLocalDevice converts one raw SDK reading into the domain model,
// resolving each direction's current display mode against that same
// direction's own mode list.
//
// The original implementation looked up the output mode in the *input*
// mode list; that cross-reference is deliberately not replicated here,
// each direction resolves against its own list.
func toLocalDevice(r CardReading) model.LocalDevice {
	return model.LocalDevice{
		ModelName:  r.ModelName,
		Attributes: toAttributes(r.Attributes),
		Input:      toIOCapability(r.Input),
		Output:     toIOCapability(r.Output),
		Status:     toStatus(r.Status),
	}
}

func toAttributes(a *AttributesReading) *model.DeviceAttributes {
	if a == nil {
		return nil
	}
	return &model.DeviceAttributes{
		SerialNumber:    a.SerialNumber,
		FirmwareVersion: a.FirmwareVersion,
		AudioChannels:   a.AudioChannels,
		SupportsKeying:  a.SupportsKeying,
	}
}

func toStatus(s *StatusReading) *model.DeviceStatus {
	if s == nil {
		return nil
	}
	return &model.DeviceStatus{
		Linked:        s.Linked,
		SignalPresent: s.SignalPresent,
		TemperatureC:  s.TemperatureC,
	}
}

func toIOCapability(io *IOReading) *model.IOCapability {
	if io == nil {
		return nil
	}
	ioCap := &model.IOCapability{
		ConnectorCount:   io.ConnectorCount,
		HasEmbeddedAudio: io.HasEmbeddedAudio,
		DisplayModes:     io.DisplayModes,
	}
	if io.CurrentModeName != nil {
		for _, mode := range io.DisplayModes {
			if mode.Name == *io.CurrentModeName {
				m := mode
				ioCap.CurrentMode = &m
				break
			}
		}
	}
	return ioCap
}
