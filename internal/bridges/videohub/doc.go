// Package videohub implements the Blackmagic Videohub bridge.
//
// The bridge keeps an automation backend's view of a single Videohub routing
// matrix consistent with the device's real state. It speaks the Videohub
// Ethernet Protocol (line-oriented text blocks over TCP, port 9990) on one side
// and registers targets, actions and emitters with the backend on the other.
//
// # Architecture
//
//	┌──────────────┐  actions   ┌────────────────────────────────┐   TCP 9990
//	│  Automation  │───────────►│ CommandQueue ─► device task    │◄──────────► Videohub
//	│   backend    │            │                  │  Tracker    │
//	│   (MQTT)     │◄───────────│ emitters ◄─ event task ◄─ events│
//	└──────────────┘  pulses    └────────────────────────────────┘
//	        ▲                              ▲
//	        └──────── Monitor (probe) ─────┘ refresh signal
//
// Three goroutines own all mutable state:
//
//   - device task: the Session, its DeviceState and the Tracker cache
//   - event task: the TargetManager and every emitter handle
//   - backend monitor: its own poll timer and last probe result
//
// They communicate only through bounded channels. No lock guards bridge state.
//
// # Numbering
//
// Ports are zero-based everywhere inside the package and on the wire to the
// device. Action payloads are one-based and normalised at the handler
// (value-1, clamped to zero); emitter payloads add one back.
//
// # Reconnection
//
// When the device stream ends the bridge emits a disconnected device status,
// waits for the reconnect delay and reconnects. A successful connect sets the
// session's reconnect flag, which makes the Tracker re-announce every fact of
// the initial state dump until END PRELUDE arrives. When the backend link
// recovers, the device task clears the Tracker and replays the current state
// without touching the device link.
package videohub
