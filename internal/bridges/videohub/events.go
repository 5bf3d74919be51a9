package videohub

// PortType distinguishes input from output ports in label events.
type PortType string

// Port types.
const (
	PortInput  PortType = "input"
	PortOutput PortType = "output"
)

// Event is a device fact the Tracker found worth announcing. Ports are
// zero-based.
type Event interface {
	// Channel returns the event name used for live event subscribers.
	Channel() string

	isEvent()
}

// RouteChanged reports the input now feeding Output.
type RouteChanged struct {
	Output      uint32
	Input       uint32
	InputLabel  string
	OutputLabel string
}

// DeviceStatusChanged reports the device link state. Info is the last known
// device info and may be stale when Connected is false.
type DeviceStatusChanged struct {
	Connected bool
	Info      *DeviceInfo
}

// LabelChanged reports a renamed input or output.
type LabelChanged struct {
	PortType PortType
	Port     uint32
	Label    string
}

// LockChanged reports an output lock change.
type LockChanged struct {
	Output uint32
	Locked bool
}

// TakeModeChanged reports a per-output take mode change.
type TakeModeChanged struct {
	Output  uint32
	Enabled bool
}

// NetworkInterfaceChanged reports a changed network interface block.
type NetworkInterfaceChanged struct {
	Interface NetworkInterface
}

// Event channels, one per Event type.
const (
	ChannelRouteChanged     = "videohub.route_changed"
	ChannelDeviceStatus     = "videohub.device_status"
	ChannelLabelChanged     = "videohub.label_changed"
	ChannelLockChanged      = "videohub.lock_changed"
	ChannelTakeModeChanged  = "videohub.take_mode_changed"
	ChannelNetworkInterface = "videohub.network_interface"
)

// EventChannels returns every channel an observer can be broadcast on.
func EventChannels() []string {
	return []string{
		ChannelRouteChanged,
		ChannelDeviceStatus,
		ChannelLabelChanged,
		ChannelLockChanged,
		ChannelTakeModeChanged,
		ChannelNetworkInterface,
	}
}

func (RouteChanged) Channel() string            { return ChannelRouteChanged }
func (DeviceStatusChanged) Channel() string     { return ChannelDeviceStatus }
func (LabelChanged) Channel() string            { return ChannelLabelChanged }
func (LockChanged) Channel() string             { return ChannelLockChanged }
func (TakeModeChanged) Channel() string         { return ChannelTakeModeChanged }
func (NetworkInterfaceChanged) Channel() string { return ChannelNetworkInterface }

func (RouteChanged) isEvent()            {}
func (DeviceStatusChanged) isEvent()     {}
func (LabelChanged) isEvent()            {}
func (LockChanged) isEvent()             {}
func (TakeModeChanged) isEvent()         {}
func (NetworkInterfaceChanged) isEvent() {}

// EventObserver receives a copy of every emitted payload, keyed by channel.
// Implemented by the API WebSocket hub.
type EventObserver interface {
	Broadcast(channel string, payload any)
}
