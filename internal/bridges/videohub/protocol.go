package videohub

// Videohub Ethernet Protocol block headers (without the trailing colon).
const (
	headerPreamble         = "PROTOCOL PREAMBLE"
	headerDevice           = "VIDEOHUB DEVICE"
	headerInputLabels      = "INPUT LABELS"
	headerOutputLabels     = "OUTPUT LABELS"
	headerRouting          = "VIDEO OUTPUT ROUTING"
	headerLocks            = "VIDEO OUTPUT LOCKS"
	headerTakeMode         = "TAKE MODE"
	headerConfiguration    = "CONFIGURATION"
	headerNetworkInterface = "NETWORK INTERFACE"
	headerEndPrelude       = "END PRELUDE"
	headerPing             = "PING"

	lineACK = "ACK"
	lineNAK = "NAK"
)

// DefaultPort is the TCP port the Videohub listens on.
const DefaultPort = 9990

// Message is one decoded protocol block.
//
// The set of implementations is closed: the bridge switches over the concrete
// types below and routes anything it does not diff structurally through the
// take-mode and network-interface fallback scan.
type Message interface {
	// Kind returns a short, stable name used in logs.
	Kind() string

	isMessage()
}

// Preamble is the PROTOCOL PREAMBLE block sent first on every connection.
type Preamble struct {
	Version string
}

// DeviceInfo is the VIDEOHUB DEVICE block.
// Counts are zero when the device did not report them.
type DeviceInfo struct {
	Present      string `json:"present,omitempty"`
	ModelName    string `json:"model_name,omitempty"`
	FriendlyName string `json:"friendly_name,omitempty"`
	UniqueID     string `json:"unique_id,omitempty"`
	VideoInputs  uint32 `json:"video_inputs,omitempty"`
	VideoOutputs uint32 `json:"video_outputs,omitempty"`
}

// Label is one numbered entry of an INPUT LABELS or OUTPUT LABELS block.
type Label struct {
	ID   uint32
	Name string
}

// InputLabels is the INPUT LABELS block.
type InputLabels []Label

// OutputLabels is the OUTPUT LABELS block.
type OutputLabels []Label

// Route is one entry of a VIDEO OUTPUT ROUTING block.
type Route struct {
	Output uint32
	Input  uint32
}

// VideoOutputRouting is the VIDEO OUTPUT ROUTING block.
type VideoOutputRouting []Route

// LockState is the per-output lock reported by the device.
type LockState byte

// Lock states as they appear on the wire.
const (
	LockUnlocked LockState = 'U'
	LockOwned    LockState = 'O' // locked by this client
	LockLocked   LockState = 'L' // locked by another client
)

// Locked reports whether another client holds the output. An output owned
// by this client counts as unlocked.
func (s LockState) Locked() bool {
	return s == LockLocked
}

func (s LockState) String() string {
	return string([]byte{byte(s)})
}

// MarshalText renders the wire letter.
func (s LockState) MarshalText() ([]byte, error) {
	return []byte{byte(s)}, nil
}

// Lock is one entry of a VIDEO OUTPUT LOCKS block.
type Lock struct {
	Output uint32
	State  LockState
}

// VideoOutputLocks is the VIDEO OUTPUT LOCKS block.
type VideoOutputLocks []Lock

// TakeMode is one entry of a TAKE MODE block.
type TakeMode struct {
	Output  uint32
	Enabled bool
}

// TakeModes is the TAKE MODE block.
type TakeModes []TakeMode

// Configuration is the CONFIGURATION block as raw key/value pairs.
type Configuration map[string]string

// NetworkInterface is a NETWORK INTERFACE n block.
type NetworkInterface struct {
	ID               uint32 `json:"id"`
	Name             string `json:"name"`
	MACAddress       string `json:"mac_address,omitempty"`
	CurrentAddresses string `json:"current_addresses,omitempty"`
	CurrentGateway   string `json:"current_gateway,omitempty"`
	DynamicIP        bool   `json:"dynamic_ip"`
}

// EndPrelude marks the end of the initial state dump.
type EndPrelude struct{}

// Ack acknowledges the last block sent by the client.
type Ack struct{}

// Nak rejects the last block sent by the client.
type Nak struct{}

// Ping is a keepalive block. The device answers it with ACK.
type Ping struct{}

// Query is an empty block with the given header. Sending one asks the device
// to dump the current contents of that block. Never decoded.
type Query struct {
	Header string
}

// Unknown is any block the decoder does not understand.
type Unknown struct {
	Header string
	Lines  []string
}

func (Preamble) Kind() string           { return "preamble" }
func (DeviceInfo) Kind() string         { return "device_info" }
func (InputLabels) Kind() string        { return "input_labels" }
func (OutputLabels) Kind() string       { return "output_labels" }
func (VideoOutputRouting) Kind() string { return "routing" }
func (VideoOutputLocks) Kind() string   { return "locks" }
func (TakeModes) Kind() string          { return "take_mode" }
func (Configuration) Kind() string      { return "configuration" }
func (NetworkInterface) Kind() string   { return "network_interface" }
func (EndPrelude) Kind() string         { return "end_prelude" }
func (Ack) Kind() string                { return "ack" }
func (Nak) Kind() string                { return "nak" }
func (Ping) Kind() string               { return "ping" }
func (Query) Kind() string              { return "query" }
func (Unknown) Kind() string            { return "unknown" }

func (Preamble) isMessage()           {}
func (DeviceInfo) isMessage()         {}
func (InputLabels) isMessage()        {}
func (OutputLabels) isMessage()       {}
func (VideoOutputRouting) isMessage() {}
func (VideoOutputLocks) isMessage()   {}
func (TakeModes) isMessage()          {}
func (Configuration) isMessage()      {}
func (NetworkInterface) isMessage()   {}
func (EndPrelude) isMessage()         {}
func (Ack) isMessage()                {}
func (Nak) isMessage()                {}
func (Ping) isMessage()               {}
func (Query) isMessage()              {}
func (Unknown) isMessage()            {}
