package influxdb

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
)

// EventMeasurement is the measurement bridge events are written to.
const EventMeasurement = "videohub_events"

// EventSink records every bridge event as a point. It implements the
// bridge's EventObserver.
type EventSink struct {
	Client *Client

	// Tags are added to every point, typically service_id.
	Tags map[string]string
}

// Broadcast writes payload under EventMeasurement tagged with channel.
// Payloads that do not flatten to scalar fields are skipped.
func (s EventSink) Broadcast(channel string, payload any) {
	if !s.Client.IsConnected() {
		return
	}

	fields, err := eventFields(payload)
	if err != nil {
		return
	}

	tags := make(map[string]string, len(s.Tags)+1)
	maps.Copy(tags, s.Tags)
	tags["channel"] = strings.TrimPrefix(channel, "videohub.")

	s.Client.WritePoint(EventMeasurement, tags, fields)
}

// eventFields flattens a JSON-serialisable payload into point fields.
// Nested objects are flattened with "_" separators; arrays are dropped.
func eventFields(payload any) (map[string]interface{}, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("event payload is not an object: %w", err)
	}

	fields := make(map[string]interface{}, len(obj))
	flatten("", obj, fields)
	return fields, nil
}

func flatten(prefix string, obj map[string]any, out map[string]interface{}) {
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + "_" + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case float64:
			if val == float64(int64(val)) {
				out[key] = int64(val)
			} else {
				out[key] = val
			}
		case string, bool:
			out[key] = val
		}
	}
}
