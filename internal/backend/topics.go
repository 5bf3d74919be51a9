package backend

import "strings"

// DefaultTopicPrefix is the topic root used when Options.TopicPrefix is empty.
const DefaultTopicPrefix = "videohub"

// Topics builds backend topic names under a prefix.
type Topics struct {
	Prefix string
}

// Instance returns the instance descriptor topic.
//
// Example: videohub/instances/blackmagic-videohub-service-02
func (t Topics) Instance(service string) string {
	return t.Prefix + "/instances/" + service
}

// Target returns the target descriptor topic.
//
// Example: videohub/targets/blackmagic-videohub-service-02/output-3
func (t Topics) Target(service, target string) string {
	return t.Prefix + "/targets/" + service + "/" + target
}

// Action returns the action descriptor topic.
func (t Topics) Action(service, target, action string) string {
	return t.Target(service, target) + "/actions/" + action
}

// ActionInvoke returns the topic on which action payloads arrive.
func (t Topics) ActionInvoke(service, target, action string) string {
	return t.Action(service, target, action) + "/invoke"
}

// Emitter returns the emitter descriptor topic.
func (t Topics) Emitter(service, target, emitter string) string {
	return t.Target(service, target) + "/emitters/" + emitter
}

// EmitterPulse returns the topic on which emitter pulses are published.
func (t Topics) EmitterPulse(service, target, emitter string) string {
	return t.Emitter(service, target, emitter) + "/pulse"
}

// Health returns the retained health topic of a service. The MQTT last will
// is published here too.
func (t Topics) Health(service string) string {
	return t.Prefix + "/health/" + service
}

// validSegment reports whether id can be used as one topic level.
func validSegment(id string) bool {
	return id != "" && !strings.ContainsAny(id, "/+#\x00")
}
