package videohub

// Action payloads. Port numbers are one-based as presented to operators.

// SetRouteAction routes an input to an output.
type SetRouteAction struct {
	Output uint32 `json:"output" jsonschema:"minimum=1,description=One-based output number"`
	Input  uint32 `json:"input" jsonschema:"minimum=1,description=One-based input number"`
}

// SetInputLabelAction renames an input.
type SetInputLabelAction struct {
	Input uint32 `json:"input" jsonschema:"minimum=1,description=One-based input number"`
	Label string `json:"label"`
}

// SetOutputLabelAction renames an output.
type SetOutputLabelAction struct {
	Output uint32 `json:"output" jsonschema:"minimum=1,description=One-based output number"`
	Label  string `json:"label"`
}

// SetOutputLockAction requests an output lock change.
type SetOutputLockAction struct {
	Output uint32 `json:"output" jsonschema:"minimum=1,description=One-based output number"`
	Locked bool   `json:"locked"`
}

// SetTakeModeAction requests a take mode change for an output.
type SetTakeModeAction struct {
	Output  uint32 `json:"output" jsonschema:"minimum=1,description=One-based output number"`
	Enabled bool   `json:"enabled"`
}

// SetInputAction routes an input to the sub-target's output.
type SetInputAction struct {
	Input uint32 `json:"input" jsonschema:"minimum=1,description=One-based input number"`
}

// SetLabelAction renames the sub-target's output.
type SetLabelAction struct {
	Label string `json:"label"`
}

// SetLockAction requests a lock change on the sub-target's output.
type SetLockAction struct {
	Locked bool `json:"locked"`
}

// SetTakeModeHereAction requests a take mode change on the sub-target's output.
type SetTakeModeHereAction struct {
	Enabled bool `json:"enabled"`
}

// Emitter payloads. Port numbers are one-based.

// DeviceStatusPayload is pulsed on device-status.
type DeviceStatusPayload struct {
	Connected    bool   `json:"connected"`
	ModelName    string `json:"model_name,omitempty"`
	VideoInputs  uint32 `json:"video_inputs,omitempty"`
	VideoOutputs uint32 `json:"video_outputs,omitempty"`
}

// NetworkInterfacePayload is pulsed on network-interface.
type NetworkInterfacePayload struct {
	InterfaceID      uint32 `json:"interface_id"`
	Name             string `json:"name"`
	MACAddress       string `json:"mac_address,omitempty"`
	CurrentAddresses string `json:"current_addresses,omitempty"`
	CurrentGateway   string `json:"current_gateway,omitempty"`
	DynamicIP        bool   `json:"dynamic_ip"`
}

// RouteChangedPayload is pulsed on the device-level route-changed emitter.
type RouteChangedPayload struct {
	Output      uint32 `json:"output"`
	Input       uint32 `json:"input"`
	OutputLabel string `json:"output_label,omitempty"`
	InputLabel  string `json:"input_label,omitempty"`
}

// InputChangedPayload is pulsed on an output's input-changed emitter.
type InputChangedPayload struct {
	Input      uint32 `json:"input"`
	InputLabel string `json:"input_label,omitempty"`
}

// LabelChangedPayload is pulsed on label-changed and input-label-changed.
type LabelChangedPayload struct {
	PortType PortType `json:"port_type" jsonschema:"enum=input,enum=output"`
	Port     uint32   `json:"port"`
	Label    string   `json:"label"`
}

// LockChangedPayload is pulsed on an output's lock-changed emitter.
type LockChangedPayload struct {
	Locked bool `json:"locked"`
}

// TakeModeChangedPayload is pulsed on an output's take-mode-changed emitter.
type TakeModeChangedPayload struct {
	Enabled bool `json:"enabled"`
}

// oneToZero converts a one-based port from an action payload to the
// zero-based number used inside the bridge. Zero clamps to zero.
func oneToZero(port uint32) uint32 {
	if port == 0 {
		return 0
	}
	return port - 1
}

// zeroToOne converts a zero-based port to the one-based number exposed in
// emitter payloads.
func zeroToOne(port uint32) uint32 {
	return port + 1
}

func deviceStatusPayload(ev DeviceStatusChanged) DeviceStatusPayload {
	p := DeviceStatusPayload{Connected: ev.Connected}
	if ev.Info != nil {
		p.ModelName = ev.Info.ModelName
		p.VideoInputs = ev.Info.VideoInputs
		p.VideoOutputs = ev.Info.VideoOutputs
	}
	return p
}

func networkInterfacePayload(iface NetworkInterface) NetworkInterfacePayload {
	return NetworkInterfacePayload{
		InterfaceID:      iface.ID,
		Name:             iface.Name,
		MACAddress:       iface.MACAddress,
		CurrentAddresses: iface.CurrentAddresses,
		CurrentGateway:   iface.CurrentGateway,
		DynamicIP:        iface.DynamicIP,
	}
}
