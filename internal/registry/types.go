package registry

import "fmt"

// Device is one known wireless device: a symbolic alias, its radio address,
// and the catalog of characteristics commands may reference.
//
// Devices are immutable after the registry is built.
type Device struct {
	// Name is the symbolic alias used in command topics
	// (e.g., "livingroom_sensor"). Stored lowercase.
	Name string

	// Address is the device's radio address, case-normalized to lowercase.
	Address string

	// Characteristics is the ordered catalog of known characteristics.
	Characteristics []Characteristic
}

// Characteristic is one catalog entry. At least one of Name, UUID, or
// Handle is set; resolution fills the remaining fields of a reference
// from the entry that shares any given field.
type Characteristic struct {
	Name      string
	UUID      string
	Handle    uint16
	HasHandle bool
}

// SelectorKind tags which field a Selector matches on.
type SelectorKind int

const (
	// ByName matches a catalog entry by symbolic name.
	ByName SelectorKind = iota

	// ByUUID matches a catalog entry by characteristic UUID.
	ByUUID

	// ByHandle matches a catalog entry by numeric handle.
	ByHandle
)

// String returns the selector kind for log output.
func (k SelectorKind) String() string {
	switch k {
	case ByName:
		return "name"
	case ByUUID:
		return "uuid"
	case ByHandle:
		return "handle"
	default:
		return "unknown"
	}
}

// Selector is a normalized characteristic selector built from an inbound
// command. It carries every field the caller supplied; Kind marks the one
// used for catalog matching, chosen by priority name → uuid → handle.
type Selector struct {
	Kind      SelectorKind
	Name      string
	UUID      string
	Handle    uint16
	HasHandle bool
}

// NewSelector builds a Selector from the fields an inbound command supplied.
// The match field is chosen deterministically: name wins over uuid, uuid
// wins over handle. Returns ErrEmptySelector if no field is given.
func NewSelector(name, uuid string, handle uint16, hasHandle bool) (Selector, error) {
	sel := Selector{
		Name:      name,
		UUID:      normalizeUUID(uuid),
		Handle:    handle,
		HasHandle: hasHandle,
	}

	switch {
	case name != "":
		sel.Kind = ByName
	case uuid != "":
		sel.Kind = ByUUID
	case hasHandle:
		sel.Kind = ByHandle
	default:
		return Selector{}, ErrEmptySelector
	}

	return sel, nil
}

// Ref is a fully resolved characteristic reference: the caller's selector
// overlaid with the matching catalog entry. Two selectors naming the same
// catalog entry by different fields resolve to the identical Ref.
type Ref struct {
	Name      string
	UUID      string
	Handle    uint16
	HasHandle bool
}

// TopicKey derives the result topic segment for this reference:
// the name if one is known, else the hexadecimal handle, else the UUID.
func (r Ref) TopicKey() string {
	switch {
	case r.Name != "":
		return r.Name
	case r.HasHandle:
		return fmt.Sprintf("%02x", r.Handle)
	default:
		return r.UUID
	}
}

// Addressable reports whether the reference carries enough information to
// reach the device: a handle or a UUID. A name alone is symbolic only.
func (r Ref) Addressable() bool {
	return r.HasHandle || r.UUID != ""
}
