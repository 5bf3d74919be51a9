// Package api implements the HTTP status API and WebSocket event stream of
// the videohub bridge.
//
// This package provides:
//   - Read-only endpoints for bridge health, metrics, the cached device
//     state and the command journal
//   - A WebSocket hub relaying every emitted bridge event to subscribers
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The API never talks to the Videohub. It reads the snapshot the device
// task publishes after every message and the counters the bridge keeps.
// Commands reach the device only through the automation backend.
//
// # Graceful Degradation
//
// The journal and the MQTT connection are optional. Endpoints that need a
// missing dependency answer 503.
package api
