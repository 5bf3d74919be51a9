package backend

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InstanceArgs describes a service instance.
type InstanceArgs struct {
	Name      string
	ShortID   string
	Code      string
	ServiceID string
	ClusterID string
	Color     string
	MachineID string
	Message   string
}

// Instance is a registered service instance.
type Instance struct {
	client *Client
	args   InstanceArgs
}

// RegisterInstance publishes the instance descriptor.
func (c *Client) RegisterInstance(args InstanceArgs) (*Instance, error) {
	if !validSegment(args.ServiceID) {
		return nil, fmt.Errorf("%w: service id %q", ErrInvalidID, args.ServiceID)
	}
	if args.ShortID == "" {
		args.ShortID = args.ServiceID
	}

	desc := InstanceDescriptor{
		ID:           args.ServiceID + ":" + args.ShortID,
		Name:         args.Name,
		ShortID:      args.ShortID,
		Code:         args.Code,
		ServiceID:    args.ServiceID,
		ClusterID:    args.ClusterID,
		Color:        args.Color,
		MachineID:    args.MachineID,
		Message:      args.Message,
		Status:       "online",
		RegisteredAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := c.publishRetained(c.topics.Instance(args.ServiceID), desc); err != nil {
		return nil, fmt.Errorf("%w: instance %s: %w", ErrRegistrationFailed, args.ServiceID, err)
	}

	c.logInfo("backend instance registered", "service_id", args.ServiceID, "name", args.Name)
	return &Instance{client: c, args: args}, nil
}

// ServiceID returns the instance service id.
func (i *Instance) ServiceID() string {
	return i.args.ServiceID
}

// IsConnected reports whether the backend transport is connected.
func (i *Instance) IsConnected() bool {
	return i.client.IsConnected()
}

// PublishHealth publishes a retained health payload for the instance.
func (i *Instance) PublishHealth(payload []byte) error {
	return i.client.transport.Publish(i.client.topics.Health(i.args.ServiceID), payload, i.client.qos, true)
}

// TargetArgs describes a target.
type TargetArgs struct {
	Name     string
	ShortID  string
	Category string
	// Parents are ids of targets this one hangs under.
	Parents []string
}

// Target is a registered target.
type Target struct {
	instance *Instance
	id       string
	shortID  string
	name     string
}

// RegisterTarget publishes a target descriptor under the instance.
func (i *Instance) RegisterTarget(args TargetArgs) (*Target, error) {
	if !validSegment(args.ShortID) {
		return nil, fmt.Errorf("%w: target %q", ErrInvalidID, args.ShortID)
	}

	service := i.args.ServiceID
	desc := TargetDescriptor{
		ID:            service + ":" + args.ShortID,
		Name:          args.Name,
		ShortID:       args.ShortID,
		Category:      args.Category,
		ServiceID:     service,
		ParentTargets: args.Parents,
	}
	if err := i.client.publishRetained(i.client.topics.Target(service, args.ShortID), desc); err != nil {
		return nil, fmt.Errorf("%w: target %s: %w", ErrRegistrationFailed, args.ShortID, err)
	}

	i.client.logDebug("backend target registered", "target", desc.ID, "parents", len(args.Parents))
	return &Target{instance: i, id: desc.ID, shortID: args.ShortID, name: args.Name}, nil
}

// ID returns the fully qualified target id.
func (t *Target) ID() string {
	return t.id
}

// ShortID returns the target short id.
func (t *Target) ShortID() string {
	return t.shortID
}

// Name returns the display name.
func (t *Target) Name() string {
	return t.name
}

// ActionArgs describes an action.
type ActionArgs struct {
	Name    string
	ShortID string
}

// RegisterAction publishes an action descriptor for target and subscribes to
// its invocations. Each payload is decoded into T before handler runs.
//
// The handler runs on the transport's delivery goroutine and must not block.
func RegisterAction[T any](t *Target, args ActionArgs, handler func(T)) error {
	if !validSegment(args.ShortID) {
		return fmt.Errorf("%w: action %q", ErrInvalidID, args.ShortID)
	}
	if handler == nil {
		return fmt.Errorf("%w: action %s: nil handler", ErrRegistrationFailed, args.ShortID)
	}

	c := t.instance.client
	service := t.instance.args.ServiceID

	schema, err := SchemaFor[T]()
	if err != nil {
		return err
	}

	invokeTopic := c.topics.ActionInvoke(service, t.shortID, args.ShortID)
	desc := ActionDescriptor{
		ID:          t.id + ":" + args.ShortID,
		Name:        args.Name,
		ShortID:     args.ShortID,
		TargetID:    t.id,
		InvokeTopic: invokeTopic,
		Schema:      schema,
	}
	if err := c.publishRetained(c.topics.Action(service, t.shortID, args.ShortID), desc); err != nil {
		return fmt.Errorf("%w: action %s: %w", ErrRegistrationFailed, desc.ID, err)
	}

	err = c.subscribe(invokeTopic, func(_ string, payload []byte) {
		invokeAction(c, desc.ID, payload, handler)
	})
	if err != nil {
		return fmt.Errorf("%w: action %s: %w", ErrRegistrationFailed, desc.ID, err)
	}
	return nil
}

func invokeAction[T any](c *Client, actionID string, payload []byte, handler func(T)) {
	invocation := uuid.NewString()

	var data T
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &data); err != nil {
			c.rejected.Add(1)
			c.logWarn("action payload rejected",
				"action", actionID,
				"invocation", invocation,
				"error", err,
			)
			return
		}
	}

	c.invocations.Add(1)
	c.logDebug("action invoked", "action", actionID, "invocation", invocation)
	handler(data)
}

// EmitterArgs describes an emitter.
type EmitterArgs struct {
	Name    string
	ShortID string
}

// Emitter publishes typed pulses for one target.
type Emitter[T any] struct {
	client   *Client
	id       string
	targetID string
	topic    string
}

// RegisterEmitter publishes an emitter descriptor for target.
func RegisterEmitter[T any](t *Target, args EmitterArgs) (*Emitter[T], error) {
	if !validSegment(args.ShortID) {
		return nil, fmt.Errorf("%w: emitter %q", ErrInvalidID, args.ShortID)
	}

	c := t.instance.client
	service := t.instance.args.ServiceID

	schema, err := SchemaFor[T]()
	if err != nil {
		return nil, err
	}

	pulseTopic := c.topics.EmitterPulse(service, t.shortID, args.ShortID)
	desc := EmitterDescriptor{
		ID:         t.id + ":" + args.ShortID,
		Name:       args.Name,
		ShortID:    args.ShortID,
		TargetID:   t.id,
		PulseTopic: pulseTopic,
		Schema:     schema,
	}
	if err := c.publishRetained(c.topics.Emitter(service, t.shortID, args.ShortID), desc); err != nil {
		return nil, fmt.Errorf("%w: emitter %s: %w", ErrRegistrationFailed, desc.ID, err)
	}

	return &Emitter[T]{client: c, id: desc.ID, targetID: t.id, topic: pulseTopic}, nil
}

// ID returns the fully qualified emitter id.
func (e *Emitter[T]) ID() string {
	return e.id
}

// Pulse publishes one event.
func (e *Emitter[T]) Pulse(data T) error {
	payload, err := json.Marshal(Pulse{
		EmitterID: e.id,
		TargetID:  e.targetID,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		e.client.pulseErrors.Add(1)
		return fmt.Errorf("%w: %s: %w", ErrPulseFailed, e.id, err)
	}

	if err := e.client.transport.Publish(e.topic, payload, e.client.qos, false); err != nil {
		e.client.pulseErrors.Add(1)
		return fmt.Errorf("%w: %s: %w", ErrPulseFailed, e.id, err)
	}

	e.client.pulses.Add(1)
	return nil
}
