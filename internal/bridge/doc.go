// Package bridge implements the BLE–MQTT command router and concurrency
// coordinator.
//
// This package turns inbound MQTT command messages into serialized,
// possibly-retried sequences of BLE operations, while arbitrating shared
// access to the radio between scanning and per-device connections.
//
// # Architecture
//
// The bridge sits between the bus and the radio:
//
//	┌────────────┐   MQTT   ┌─────────────────┐   BLE
//	│   Broker   │◄────────►│     Bridge      │◄────────► Devices
//	│            │          │   (this pkg)    │
//	└────────────┘          └─────────────────┘
//
// Inbound messages on <namespace>/+/commands are classified by their
// middle topic segment: "scan" triggers a timed discovery scan, anything
// else is a device alias (or literal address) carrying a JSON command
// batch. All work runs on a bounded worker pool so the bus delivery path
// never blocks on device I/O.
//
// # Radio Arbitration
//
// The radio cannot reliably scan and hold a connection at the same time.
// LockManager models scanning as the writer side of a reader/writer lock
// and each device session as a reader holding its own per-address mutex:
// a scan excludes every session, sessions against distinct addresses run
// in parallel, and sessions against the same address serialize.
//
// # Retry
//
// A batch carrying "tries" > 1 is re-submitted with the budget decremented
// after a fixed backoff on failure. The re-submission feeds the dispatcher
// directly, exactly as a fresh inbound message. A batch with no budget
// left fails terminally: logged and published to the device's error topic.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package bridge
