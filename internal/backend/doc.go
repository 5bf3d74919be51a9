// Package backend is the automation backend client used by the bridges.
//
// The backend models controllable hardware as a tree of targets owned by a
// service instance. Each target exposes typed actions (inbound commands) and
// typed emitters (outbound events). This package maps that model onto MQTT:
//
//	{prefix}/instances/{service}                                 retained instance descriptor
//	{prefix}/targets/{service}/{target}                          retained target descriptor
//	{prefix}/targets/{service}/{target}/actions/{action}         retained action descriptor + JSON schema
//	{prefix}/targets/{service}/{target}/actions/{action}/invoke  action payloads (subscribed)
//	{prefix}/targets/{service}/{target}/emitters/{emitter}       retained emitter descriptor + JSON schema
//	{prefix}/targets/{service}/{target}/emitters/{emitter}/pulse emitter pulses
//	{prefix}/health/{service}                                    retained health
//
// Payload schemas are reflected from the Go types passed to RegisterAction
// and RegisterEmitter, so the descriptor always matches what the handler
// decodes.
//
// Usage:
//
//	client, _ := backend.New(backend.Options{Transport: mqttAdapter})
//	inst, _ := client.RegisterInstance(backend.InstanceArgs{ServiceID: "hub-1", ...})
//	target, _ := inst.RegisterTarget(backend.TargetArgs{Name: "Device", ShortID: "device"})
//	_ = backend.RegisterAction(target, backend.ActionArgs{Name: "Set", ShortID: "set"},
//	    func(p SetPayload) { ... })
//	status, _ := backend.RegisterEmitter[StatusPayload](target, backend.EmitterArgs{Name: "Status", ShortID: "status"})
//	_ = status.Pulse(StatusPayload{Connected: true})
//
// Descriptors are remembered so that Republish can restore them after the
// broker loses state.
package backend
