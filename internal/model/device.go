package model

// DisplayMode describes one video mode a capture/playback card or a remote
// device can run at. Its fields are plain values, never optional; where a
// mode itself may be absent (IOCapability.CurrentMode) it is held by
// pointer.
type DisplayMode struct {
	Name        string
	Width       int
	Height      int
	FrameRateHz float64
	Interlaced  bool
}

// DeviceAttributes holds vendor-card identity fields. Every field is a
// pointer: nil means the SDK query did not return that field this time,
// not that the capability is false or zero.
type DeviceAttributes struct {
	SerialNumber    *string
	FirmwareVersion *string
	AudioChannels   *int
	SupportsKeying  *bool
}

// IOCapability describes one direction (input or output) of a local card:
// its connector count, whether it carries embedded audio, the display
// modes it currently sees, and which of those is active.
type IOCapability struct {
	ConnectorCount   *int
	HasEmbeddedAudio *bool
	DisplayModes     []DisplayMode
	CurrentMode      *DisplayMode
}

// DeviceStatus is live health telemetry for a local card.
type DeviceStatus struct {
	Linked        *bool
	SignalPresent *bool
	TemperatureC  *float64
}

// LocalDevice is a locally attached capture/playback card as reported by
// the vendor SDK for one polling pass.
type LocalDevice struct {
	ModelName  string
	Attributes *DeviceAttributes
	Input      *IOCapability
	Output     *IOCapability
	Status     *DeviceStatus
}

// HyperDeckDetails is the vendor-specific fingerprint payload for a remote
// HyperDeck device, filled in by a successful probe.
type HyperDeckDetails struct {
	Model           string
	ProtocolVersion string
	UniqueID        string
}

// NetworkDeviceDetails is the tagged variant carried by NetworkDevice.
// Today HyperDeck is the only vendor fingerprinted; the tag lets the wire
// format stay externally-tagged like Message so a second vendor can be
// added without reshaping NetworkDevice itself.
type NetworkDeviceDetails struct {
	HyperDeck *HyperDeckDetails
}

// NetworkDevice is a remote device discovered on the LAN, as reported in an
// AgentState snapshot. Details is unset until a successful probe.
type NetworkDevice struct {
	IP      string
	MAC     string
	Details *NetworkDeviceDetails
}
