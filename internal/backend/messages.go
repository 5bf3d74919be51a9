package backend

import "encoding/json"

// InstanceDescriptor is the retained payload announcing a service instance.
type InstanceDescriptor struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ShortID      string `json:"short_id"`
	Code         string `json:"code"`
	ServiceID    string `json:"service_id"`
	ClusterID    string `json:"cluster_id,omitempty"`
	Color        string `json:"color,omitempty"`
	MachineID    string `json:"machine_id,omitempty"`
	Message      string `json:"message,omitempty"`
	Status       string `json:"status"`
	RegisteredAt string `json:"registered_at"`
}

// TargetDescriptor is the retained payload announcing a target.
type TargetDescriptor struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	ShortID       string   `json:"short_id"`
	Category      string   `json:"category,omitempty"`
	ServiceID     string   `json:"service_id"`
	ParentTargets []string `json:"parent_targets,omitempty"`
}

// ActionDescriptor is the retained payload announcing an action.
type ActionDescriptor struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	ShortID     string          `json:"short_id"`
	TargetID    string          `json:"target_id"`
	InvokeTopic string          `json:"invoke_topic"`
	Schema      json.RawMessage `json:"schema"`
}

// EmitterDescriptor is the retained payload announcing an emitter.
type EmitterDescriptor struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	ShortID    string          `json:"short_id"`
	TargetID   string          `json:"target_id"`
	PulseTopic string          `json:"pulse_topic"`
	Schema     json.RawMessage `json:"schema"`
}

// Pulse is one emitter event.
type Pulse struct {
	EmitterID string `json:"emitter_id"`
	TargetID  string `json:"target_id"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}
