package registry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/ble-mqtt-bridge/internal/infrastructure/config"
)

// Registry is the immutable alias → device mapping built once from
// configuration. All lookups are read-only, so no locking is needed.
type Registry struct {
	byAlias map[string]*Device
	ordered []*Device
}

// New builds a Registry from the configured device list.
//
// Addresses and aliases are case-normalized to lowercase before any
// lookup can happen. Handle strings accept decimal or 0x-prefixed hex
// (e.g., "0x2a19").
//
// Returns:
//   - *Registry: Immutable registry ready for lookups
//   - error: If a handle cannot be parsed or an alias is duplicated
func New(cfgs []config.DeviceConfig) (*Registry, error) {
	r := &Registry{
		byAlias: make(map[string]*Device, len(cfgs)),
	}

	for _, dc := range cfgs {
		alias := strings.ToLower(dc.Name)
		if _, exists := r.byAlias[alias]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateAlias, dc.Name)
		}

		dev := &Device{
			Name:            alias,
			Address:         NormalizeAddress(dc.Address),
			Characteristics: make([]Characteristic, 0, len(dc.Characteristics)),
		}

		for _, cc := range dc.Characteristics {
			ch := Characteristic{
				Name: cc.Name,
				UUID: normalizeUUID(cc.UUID),
			}
			if cc.Handle != "" {
				handle, err := ParseHandle(cc.Handle)
				if err != nil {
					return nil, fmt.Errorf("device %q characteristic %q: %w", dc.Name, cc.Handle, err)
				}
				ch.Handle = handle
				ch.HasHandle = true
			}
			dev.Characteristics = append(dev.Characteristics, ch)
		}

		r.byAlias[alias] = dev
		r.ordered = append(r.ordered, dev)
	}

	return r, nil
}

// Lookup resolves a topic segment to a known device by alias.
// The match is case-insensitive. The second return is false when no
// alias matches; callers fall back to treating the segment as a
// literal device address.
func (r *Registry) Lookup(segment string) (*Device, bool) {
	dev, ok := r.byAlias[strings.ToLower(segment)]
	return dev, ok
}

// Devices returns all registered devices in configuration order.
func (r *Registry) Devices() []*Device {
	return r.ordered
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	return len(r.ordered)
}

// Resolve overlays a selector with the device's catalog entry that shares
// the selector's match field, producing a canonical reference.
//
// Matching is deterministic: the selector's Kind (name → uuid → handle
// priority, fixed at selector construction) picks the field compared
// against the catalog; the first matching entry in catalog order wins.
// Fields the caller supplied are kept; only missing fields are filled in.
//
// A selector that matches no catalog entry still resolves if it carries a
// uuid or handle of its own — the catalog is advisory for those. A
// name-only selector with no catalog match returns ErrUnresolved, since a
// bare name cannot address anything on the device.
func (d *Device) Resolve(sel Selector) (Ref, error) {
	ref := Ref{
		Name:      sel.Name,
		UUID:      sel.UUID,
		Handle:    sel.Handle,
		HasHandle: sel.HasHandle,
	}

	for i := range d.Characteristics {
		ch := &d.Characteristics[i]
		if !matches(sel, ch) {
			continue
		}
		if ref.Name == "" {
			ref.Name = ch.Name
		}
		if ref.UUID == "" {
			ref.UUID = ch.UUID
		}
		if !ref.HasHandle && ch.HasHandle {
			ref.Handle = ch.Handle
			ref.HasHandle = true
		}
		break
	}

	if !ref.Addressable() {
		return Ref{}, fmt.Errorf("%w: %q on device %q", ErrUnresolved, sel.Name, d.Name)
	}

	return ref, nil
}

// matches reports whether the catalog entry shares the selector's match field.
func matches(sel Selector, ch *Characteristic) bool {
	switch sel.Kind {
	case ByName:
		return ch.Name != "" && ch.Name == sel.Name
	case ByUUID:
		return ch.UUID != "" && ch.UUID == sel.UUID
	case ByHandle:
		return ch.HasHandle && ch.Handle == sel.Handle
	default:
		return false
	}
}

// NormalizeAddress lowercases a device address. Every lookup and every
// lock acquisition uses the normalized form.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ParseHandle parses a characteristic handle string. Accepts decimal
// ("42") and prefixed hex ("0x2a19") forms.
func ParseHandle(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHandle, s)
	}
	return uint16(v), nil
}

// normalizeUUID lowercases a UUID so comparisons are case-insensitive.
func normalizeUUID(uuid string) string {
	return strings.ToLower(strings.TrimSpace(uuid))
}
