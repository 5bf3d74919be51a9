package videohub

import (
	"maps"
	"slices"
)

// DeviceState is the aggregate view of one Videohub, built from every block
// received on the current session. Map keys are the zero-based port or
// interface numbers assigned by the device.
type DeviceState struct {
	ProtocolVersion   string                      `json:"protocol_version,omitempty"`
	Info              *DeviceInfo                 `json:"info,omitempty"`
	Routes            map[uint32]uint32           `json:"routes"`
	InputLabels       map[uint32]string           `json:"input_labels"`
	OutputLabels      map[uint32]string           `json:"output_labels"`
	OutputLocks       map[uint32]LockState        `json:"output_locks"`
	TakeMode          map[uint32]bool             `json:"take_mode"`
	NetworkInterfaces map[uint32]NetworkInterface `json:"network_interfaces"`
	Connected         bool                        `json:"connected"`
}

// NewDeviceState returns an empty state with all maps allocated.
func NewDeviceState() DeviceState {
	return DeviceState{
		Routes:            make(map[uint32]uint32),
		InputLabels:       make(map[uint32]string),
		OutputLabels:      make(map[uint32]string),
		OutputLocks:       make(map[uint32]LockState),
		TakeMode:          make(map[uint32]bool),
		NetworkInterfaces: make(map[uint32]NetworkInterface),
	}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s DeviceState) Clone() DeviceState {
	c := s
	if s.Info != nil {
		info := *s.Info
		c.Info = &info
	}
	c.Routes = maps.Clone(s.Routes)
	c.InputLabels = maps.Clone(s.InputLabels)
	c.OutputLabels = maps.Clone(s.OutputLabels)
	c.OutputLocks = maps.Clone(s.OutputLocks)
	c.TakeMode = maps.Clone(s.TakeMode)
	c.NetworkInterfaces = maps.Clone(s.NetworkInterfaces)
	return c
}

// apply folds one received block into the state. Blocks carry only the
// entries that changed, so maps are merged rather than replaced.
func (s *DeviceState) apply(msg Message) {
	switch m := msg.(type) {
	case Preamble:
		s.ProtocolVersion = m.Version
	case DeviceInfo:
		s.Info = mergeDeviceInfo(s.Info, m)
	case InputLabels:
		for _, l := range m {
			s.InputLabels[l.ID] = l.Name
		}
	case OutputLabels:
		for _, l := range m {
			s.OutputLabels[l.ID] = l.Name
		}
	case VideoOutputRouting:
		for _, r := range m {
			s.Routes[r.Output] = r.Input
		}
	case VideoOutputLocks:
		for _, l := range m {
			s.OutputLocks[l.Output] = l.State
		}
	case TakeModes:
		for _, t := range m {
			s.TakeMode[t.Output] = t.Enabled
		}
	case NetworkInterface:
		s.NetworkInterfaces[m.ID] = m
	}
}

// mergeDeviceInfo overlays the fields present in update onto prev.
func mergeDeviceInfo(prev *DeviceInfo, update DeviceInfo) *DeviceInfo {
	if prev == nil {
		info := update
		return &info
	}
	merged := *prev
	if update.Present != "" {
		merged.Present = update.Present
	}
	if update.ModelName != "" {
		merged.ModelName = update.ModelName
	}
	if update.FriendlyName != "" {
		merged.FriendlyName = update.FriendlyName
	}
	if update.UniqueID != "" {
		merged.UniqueID = update.UniqueID
	}
	if update.VideoInputs != 0 {
		merged.VideoInputs = update.VideoInputs
	}
	if update.VideoOutputs != 0 {
		merged.VideoOutputs = update.VideoOutputs
	}
	return &merged
}

// sortedKeys returns map keys in ascending port order so that scans over the
// state produce events in a stable order.
func sortedKeys[V any](m map[uint32]V) []uint32 {
	return slices.Sorted(maps.Keys(m))
}
