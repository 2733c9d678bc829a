// Package goble implements the radio interfaces on top of github.com/go-ble/ble.
package goble

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"

	"github.com/nerrad567/ble-mqtt-bridge/internal/radio"
)

// Advertising data type identifiers used when decoding advertisements.
// See Bluetooth Assigned Numbers, Generic Access Profile.
const (
	adTypeServices         = 0x07
	adTypeLocalName        = 0x09
	adTypeTxPower          = 0x0a
	adTypeServiceData      = 0x16
	adTypeManufacturerData = 0xff
)

// DeviceFactory creates ble.Device instances (can be overridden in tests).
var DeviceFactory = func() (ble.Device, error) {
	return newDevice()
}

// Radio implements radio.Radio using a lazily created ble.Device.
//
// The underlying HCI device is created on first use and kept for the
// process lifetime.
type Radio struct {
	mu  sync.Mutex
	dev ble.Device
}

// New returns a Radio. The HCI device is not opened until the first
// Scan or Connect call.
func New() *Radio {
	return &Radio{}
}

// device returns the shared ble.Device, creating it on first use.
func (r *Radio) device() (ble.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dev != nil {
		return r.dev, nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("creating BLE device: %w", err)
	}
	r.dev = dev
	return dev, nil
}

// Close stops the underlying HCI device if it was opened.
func (r *Radio) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dev == nil {
		return nil
	}
	err := r.dev.Stop()
	r.dev = nil
	return err
}

// Scan discovers devices for the given duration. Each advertisement is
// decoded into a radio.Discovery and handed to found. Duplicate
// advertisements from the same device are delivered again, matching the
// bridge's publish-per-sighting behaviour.
func (r *Radio) Scan(ctx context.Context, duration time.Duration, found func(radio.Discovery)) error {
	dev, err := r.device()
	if err != nil {
		return err
	}

	scanCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	handler := func(adv ble.Advertisement) {
		found(decodeAdvertisement(adv))
	}

	err = dev.Scan(scanCtx, true, handler)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

// Connect dials the device at address and discovers its profile.
func (r *Radio) Connect(ctx context.Context, address string) (radio.Session, error) {
	dev, err := r.device()
	if err != nil {
		return nil, err
	}

	client, err := dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, fmt.Errorf("connecting to %q: %w", address, err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		// Profile discovery failed; don't leak the link.
		_ = client.CancelConnection()
		return nil, fmt.Errorf("discovering profile of %q: %w", address, err)
	}

	return &session{client: client, profile: profile}, nil
}

// decodeAdvertisement converts a go-ble advertisement into the decoded
// field list the bridge publishes.
func decodeAdvertisement(adv ble.Advertisement) radio.Discovery {
	d := radio.Discovery{
		Address: strings.ToLower(adv.Addr().String()),
		RSSI:    adv.RSSI(),
	}

	if name := adv.LocalName(); name != "" {
		d.Fields = append(d.Fields, radio.AdvertisedField{
			ID:    adTypeLocalName,
			Name:  "localName",
			Value: name,
		})
	}

	if services := adv.Services(); len(services) > 0 {
		uuids := make([]string, 0, len(services))
		for _, u := range services {
			uuids = append(uuids, u.String())
		}
		d.Fields = append(d.Fields, radio.AdvertisedField{
			ID:    adTypeServices,
			Name:  "services",
			Value: strings.Join(uuids, ","),
		})
	}

	if adv.TxPowerLevel() != 0 {
		d.Fields = append(d.Fields, radio.AdvertisedField{
			ID:    adTypeTxPower,
			Name:  "txPower",
			Value: fmt.Sprintf("%d", adv.TxPowerLevel()),
		})
	}

	for _, sd := range adv.ServiceData() {
		d.Fields = append(d.Fields, radio.AdvertisedField{
			ID:    adTypeServiceData,
			Name:  "serviceData-" + sd.UUID.String(),
			Value: hex.EncodeToString(sd.Data),
		})
	}

	if md := adv.ManufacturerData(); len(md) > 0 {
		d.Fields = append(d.Fields, radio.AdvertisedField{
			ID:    adTypeManufacturerData,
			Name:  "manufacturer",
			Value: hex.EncodeToString(md),
		})
	}

	return d
}

// session implements radio.Session over an established ble.Client.
type session struct {
	client  ble.Client
	profile *ble.Profile

	mu     sync.Mutex
	closed bool
}

// Read reads the characteristic addressed by ref.
func (s *session) Read(ctx context.Context, ref radio.CharacteristicRef) ([]byte, error) {
	char, err := s.find(ref)
	if err != nil {
		return nil, err
	}

	data, err := s.client.ReadCharacteristic(char)
	if err != nil {
		return nil, fmt.Errorf("reading characteristic %s: %w", refString(ref), err)
	}
	return data, nil
}

// Write writes value to the characteristic addressed by ref. When ack is
// true the device must acknowledge the write.
func (s *session) Write(ctx context.Context, ref radio.CharacteristicRef, value []byte, ack bool) error {
	char, err := s.find(ref)
	if err != nil {
		return err
	}

	if err := s.client.WriteCharacteristic(char, value, !ack); err != nil {
		return fmt.Errorf("writing characteristic %s: %w", refString(ref), err)
	}
	return nil
}

// Close cancels the connection. Safe to call more than once.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.client.CancelConnection(); err != nil {
		return fmt.Errorf("disconnecting: %w", err)
	}
	return nil
}

// find locates the profile characteristic matching ref, by handle first,
// then by UUID.
func (s *session) find(ref radio.CharacteristicRef) (*ble.Characteristic, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, radio.ErrNotConnected
	}

	for _, svc := range s.profile.Services {
		for _, char := range svc.Characteristics {
			if ref.HasHandle && (char.Handle == ref.Handle || char.ValueHandle == ref.Handle) {
				return char, nil
			}
			if ref.UUID != "" && uuidEqual(char.UUID.String(), ref.UUID) {
				return char, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: %s", radio.ErrCharacteristicNotFound, refString(ref))
}

// uuidEqual compares two UUID strings, tolerating case, dashes, and the
// 16-bit short form of Bluetooth base UUIDs.
func uuidEqual(a, b string) bool {
	na, nb := canonicalUUID(a), canonicalUUID(b)
	return na == nb
}

// canonicalUUID lowercases, strips dashes, and expands 16-bit short-form
// UUIDs onto the Bluetooth base UUID.
func canonicalUUID(u string) string {
	u = strings.ToLower(strings.ReplaceAll(u, "-", ""))
	if len(u) == 4 {
		return "0000" + u + "00001000800000805f9b34fb"
	}
	return u
}

// refString renders a characteristic reference for error messages.
func refString(ref radio.CharacteristicRef) string {
	if ref.HasHandle {
		return fmt.Sprintf("handle 0x%04x", ref.Handle)
	}
	return "uuid " + ref.UUID
}
