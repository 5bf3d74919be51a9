package videohub

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Tracker remembers the last announced value of every device fact and decides
// whether a newly reported value must be announced again.
//
// It is owned by the device task and is not safe for concurrent use.
type Tracker struct {
	last map[string]string
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{last: make(map[string]string)}
}

// ShouldEmit reports whether value is news for key: force is set (the
// session's reconnect flag), the key has never been seen, or the cached value
// differs. The cache is updated in every case.
func (t *Tracker) ShouldEmit(key, value string, force bool) bool {
	prev, seen := t.last[key]
	t.last[key] = value
	return force || !seen || prev != value
}

// Reset forgets every cached value so that the next report of each fact is
// announced.
func (t *Tracker) Reset() {
	clear(t.last)
}

// Len returns the number of tracked facts.
func (t *Tracker) Len() int {
	return len(t.last)
}

// Tracker keys, one per device fact.

func deviceInfoKey() string         { return "device" }
func routeKey(output uint32) string { return "route/" + strconv.FormatUint(uint64(output), 10) }
func inputLabelKey(input uint32) string {
	return "input_label/" + strconv.FormatUint(uint64(input), 10)
}
func outputLabelKey(output uint32) string {
	return "output_label/" + strconv.FormatUint(uint64(output), 10)
}
func lockKey(output uint32) string         { return "lock/" + strconv.FormatUint(uint64(output), 10) }
func takeModeKey(output uint32) string     { return "take_mode/" + strconv.FormatUint(uint64(output), 10) }
func networkInterfaceKey(id uint32) string { return "network/" + strconv.FormatUint(uint64(id), 10) }

// deviceInfoValue canonicalises device info for comparison.
func deviceInfoValue(info DeviceInfo) string {
	return fmt.Sprintf("%s|%s|%s|%d|%d", info.ModelName, info.FriendlyName, info.UniqueID, info.VideoInputs, info.VideoOutputs)
}

// networkInterfaceValue canonicalises an interface so that any field change
// is a difference.
func networkInterfaceValue(iface NetworkInterface) string {
	b, err := json.Marshal(iface)
	if err != nil {
		return fmt.Sprintf("%+v", iface)
	}
	return string(b)
}
