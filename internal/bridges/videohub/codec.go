package videohub

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// readBufferSize fits the largest prelude block of a 288x288 router.
const readBufferSize = 64 * 1024

// Decoder reads protocol blocks from a byte stream.
//
// A block is a header line followed by body lines and terminated by a blank
// line. Errors wrapping ErrMalformedBlock leave the decoder positioned after
// the offending block, so the caller may keep reading. Any other error
// (io.EOF included) is terminal.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, readBufferSize)}
}

// Next returns the next complete block.
func (d *Decoder) Next() (Message, error) {
	header, err := d.readHeader()
	if err != nil {
		return nil, err
	}

	lines, err := d.readBody()
	if err != nil {
		return nil, err
	}

	return parseBlock(header, lines)
}

// readLine returns one line without its terminator.
func (d *Decoder) readLine() (string, error) {
	line, err := d.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readHeader skips blank lines and returns the first non-blank one.
func (d *Decoder) readHeader() (string, error) {
	for {
		line, err := d.readLine()
		if err != nil {
			return "", err
		}
		if line != "" {
			return line, nil
		}
	}
}

// readBody collects lines up to the blank terminator.
func (d *Decoder) readBody() ([]string, error) {
	var lines []string
	for {
		line, err := d.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if line == "" {
			return lines, nil
		}
		lines = append(lines, line)
	}
}

// parseBlock turns a header and its body into a typed message.
func parseBlock(header string, lines []string) (Message, error) {
	switch header {
	case lineACK:
		return Ack{}, nil
	case lineNAK:
		return Nak{}, nil
	}

	name, ok := strings.CutSuffix(header, ":")
	if !ok {
		return nil, fmt.Errorf("%w: unexpected line %q", ErrMalformedBlock, header)
	}

	msg, err := parseNamedBlock(name, lines)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedBlock, name, err)
	}
	return msg, nil
}

func parseNamedBlock(name string, lines []string) (Message, error) { //nolint:gocyclo // one case per block type
	switch name {
	case headerPreamble:
		return Preamble{Version: parseKeyValues(lines)["Version"]}, nil
	case headerDevice:
		return parseDeviceInfo(lines)
	case headerInputLabels:
		labels, err := parseLabels(lines)
		return InputLabels(labels), err
	case headerOutputLabels:
		labels, err := parseLabels(lines)
		return OutputLabels(labels), err
	case headerRouting:
		return parseRouting(lines)
	case headerLocks:
		return parseLocks(lines)
	case headerTakeMode:
		return parseTakeModes(lines)
	case headerConfiguration:
		return Configuration(parseKeyValues(lines)), nil
	case headerEndPrelude:
		return EndPrelude{}, nil
	case headerPing:
		return Ping{}, nil
	}

	if rest, ok := strings.CutPrefix(name, headerNetworkInterface+" "); ok {
		id, err := parseIndex(rest)
		if err != nil {
			return nil, err
		}
		return parseNetworkInterface(id, lines)
	}

	return Unknown{Header: name, Lines: lines}, nil
}

// parseIndex parses a zero-based port or interface number.
func parseIndex(s string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid index %q", s)
	}
	return uint32(n), nil
}

// splitIndexed splits "<index> <value>" at the first space.
func splitIndexed(line string) (uint32, string, error) {
	idx, rest, _ := strings.Cut(line, " ")
	n, err := parseIndex(idx)
	if err != nil {
		return 0, "", err
	}
	return n, rest, nil
}

// parseKeyValues parses "Key: value" lines. Lines without a colon are skipped.
func parseKeyValues(lines []string) map[string]string {
	kv := make(map[string]string, len(lines))
	for _, line := range lines {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		kv[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return kv
}

func parseCount(kv map[string]string, key string) (uint32, error) {
	v, ok := kv[key]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return uint32(n), nil
}

func parseDeviceInfo(lines []string) (Message, error) {
	kv := parseKeyValues(lines)

	inputs, err := parseCount(kv, "Video inputs")
	if err != nil {
		return nil, err
	}
	outputs, err := parseCount(kv, "Video outputs")
	if err != nil {
		return nil, err
	}

	return DeviceInfo{
		Present:      kv["Device present"],
		ModelName:    kv["Model name"],
		FriendlyName: kv["Friendly name"],
		UniqueID:     kv["Unique ID"],
		VideoInputs:  inputs,
		VideoOutputs: outputs,
	}, nil
}

// parseLabels keeps the label text exactly as sent, spaces included.
func parseLabels(lines []string) ([]Label, error) {
	labels := make([]Label, 0, len(lines))
	for _, line := range lines {
		id, name, err := splitIndexed(line)
		if err != nil {
			return nil, err
		}
		labels = append(labels, Label{ID: id, Name: name})
	}
	return labels, nil
}

func parseRouting(lines []string) (Message, error) {
	routes := make(VideoOutputRouting, 0, len(lines))
	for _, line := range lines {
		output, rest, err := splitIndexed(line)
		if err != nil {
			return nil, err
		}
		input, err := parseIndex(rest)
		if err != nil {
			return nil, err
		}
		routes = append(routes, Route{Output: output, Input: input})
	}
	return routes, nil
}

func parseLocks(lines []string) (Message, error) {
	locks := make(VideoOutputLocks, 0, len(lines))
	for _, line := range lines {
		output, rest, err := splitIndexed(line)
		if err != nil {
			return nil, err
		}
		rest = strings.TrimSpace(rest)
		if len(rest) != 1 {
			return nil, fmt.Errorf("invalid lock state %q", rest)
		}
		state := LockState(rest[0])
		switch state {
		case LockUnlocked, LockOwned, LockLocked:
		default:
			return nil, fmt.Errorf("invalid lock state %q", rest)
		}
		locks = append(locks, Lock{Output: output, State: state})
	}
	return locks, nil
}

func parseTakeModes(lines []string) (Message, error) {
	modes := make(TakeModes, 0, len(lines))
	for _, line := range lines {
		output, rest, err := splitIndexed(line)
		if err != nil {
			return nil, err
		}
		enabled, err := strconv.ParseBool(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("invalid take mode %q", rest)
		}
		modes = append(modes, TakeMode{Output: output, Enabled: enabled})
	}
	return modes, nil
}

func parseNetworkInterface(id uint32, lines []string) (Message, error) {
	kv := parseKeyValues(lines)

	iface := NetworkInterface{
		ID:               id,
		Name:             kv["Name"],
		MACAddress:       kv["MAC Address"],
		CurrentAddresses: kv["Current Addresses"],
		CurrentGateway:   kv["Current Gateway"],
	}
	if v, ok := kv["Dynamic IP"]; ok && v != "" {
		dynamic, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid Dynamic IP %q", v)
		}
		iface.DynamicIP = dynamic
	}
	return iface, nil
}

// Encode renders a client-to-device block, blank terminator included.
func Encode(msg Message) ([]byte, error) {
	var b strings.Builder

	switch m := msg.(type) {
	case VideoOutputRouting:
		b.WriteString(headerRouting + ":\n")
		for _, r := range m {
			fmt.Fprintf(&b, "%d %d\n", r.Output, r.Input)
		}
	case InputLabels:
		b.WriteString(headerInputLabels + ":\n")
		writeLabels(&b, m)
	case OutputLabels:
		b.WriteString(headerOutputLabels + ":\n")
		writeLabels(&b, m)
	case Ping:
		b.WriteString(headerPing + ":\n")
	case Query:
		if m.Header == "" {
			return nil, fmt.Errorf("%w: empty query header", ErrUnsupportedMessage)
		}
		b.WriteString(m.Header + ":\n")
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMessage, msg.Kind())
	}

	b.WriteString("\n")
	return []byte(b.String()), nil
}

// writeLabels flattens line breaks, which would otherwise end the block early.
func writeLabels(b *strings.Builder, labels []Label) {
	for _, l := range labels {
		name := strings.NewReplacer("\r", " ", "\n", " ").Replace(l.Name)
		fmt.Fprintf(b, "%d %s\n", l.ID, name)
	}
}
