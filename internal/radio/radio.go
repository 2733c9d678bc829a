// Package radio abstracts the wireless transport consumed by the bridge.
//
// The bridge core never touches the BLE stack directly: it talks to the
// Radio and Session interfaces defined here, which keeps the command
// router testable against mocks. The goble subpackage provides the
// production implementation on top of github.com/go-ble/ble.
//
// The radio is a single shared resource. Callers are responsible for
// arbitration — this package performs no locking of its own.
package radio

import (
	"context"
	"errors"
	"time"
)

// Domain errors for radio operations.
var (
	// ErrNotConnected is returned when a session operation runs after Close.
	ErrNotConnected = errors.New("radio: not connected")

	// ErrCharacteristicNotFound is returned when a reference matches no
	// characteristic on the connected device.
	ErrCharacteristicNotFound = errors.New("radio: characteristic not found")
)

// AdvertisedField is one decoded advertising data element.
type AdvertisedField struct {
	// ID is the advertising data type (e.g., 0x09 for the local name).
	ID uint8

	// Name is the human-readable field name (e.g., "localName").
	Name string

	// Value is the field's string rendering.
	Value string
}

// Discovery is one device sighted during a scan.
type Discovery struct {
	// Address is the device's radio address, lowercase.
	Address string

	// RSSI is the received signal strength at discovery time.
	RSSI int

	// Fields are the decoded advertising data elements.
	Fields []AdvertisedField
}

// CharacteristicRef addresses a characteristic on a connected device by
// numeric handle or UUID. Symbolic names never reach this layer.
type CharacteristicRef struct {
	UUID      string
	Handle    uint16
	HasHandle bool
}

// Radio is the shared wireless transport.
//
// Implementations must tolerate concurrent Connect calls for distinct
// addresses; serialization of scanning against connections is the
// caller's responsibility.
type Radio interface {
	// Scan discovers devices for the given duration, invoking found for
	// each advertisement sighting. Returns after the duration elapses or
	// ctx is cancelled.
	Scan(ctx context.Context, duration time.Duration, found func(Discovery)) error

	// Connect establishes a session with the device at address.
	Connect(ctx context.Context, address string) (Session, error)
}

// Session is an established connection to one device.
//
// Close must be called on every session, on every exit path.
type Session interface {
	// Read reads the characteristic's current value.
	Read(ctx context.Context, ref CharacteristicRef) ([]byte, error)

	// Write writes value to the characteristic. When ack is true the
	// write is acknowledged by the device; otherwise it is best-effort.
	Write(ctx context.Context, ref CharacteristicRef, value []byte, ack bool) error

	// Close tears the connection down.
	Close() error
}
