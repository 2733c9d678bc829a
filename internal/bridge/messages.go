package bridge

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/ble-mqtt-bridge/internal/registry"
)

// Command actions accepted on device command topics.
const (
	// ActionRead reads a characteristic and publishes the decoded value.
	ActionRead = "readCharacteristic"

	// ActionWrite writes a value to a characteristic with acknowledgment.
	ActionWrite = "writeCharacteristic"
)

// CommandBatch is one inbound device-command message: an ordered list of
// operations, optional combining of results onto a single topic, and an
// optional retry budget.
type CommandBatch struct {
	// Commands are executed strictly in order.
	Commands []CommandSpec `json:"commands"`

	// Args carries batch-level options.
	Args BatchArgs `json:"args,omitempty"`

	// Tries is the remaining retry budget. Absent or ≤ 1 means a failure
	// is terminal; > 1 means the batch is re-submitted with Tries
	// decremented after a fixed backoff.
	Tries *int `json:"tries,omitempty"`
}

// BatchArgs holds batch-level options.
type BatchArgs struct {
	// CombineResponsesToTopic, when set, collapses all results into one
	// JSON object published under this single result key instead of one
	// retained publish per key.
	CombineResponsesToTopic string `json:"combineResponsesToTopic,omitempty"`
}

// CommandSpec is one operation within a batch. At least one of Name, UUID,
// or Handle must address the target characteristic.
type CommandSpec struct {
	// Action is ActionRead or ActionWrite.
	Action string `json:"action"`

	// Name is the symbolic characteristic name from the device catalog.
	Name string `json:"name,omitempty"`

	// UUID is the characteristic UUID.
	UUID string `json:"uuid,omitempty"`

	// Handle is the numeric characteristic handle. Accepts a JSON number
	// or a string in any base strconv understands ("0x2a19", "10777").
	Handle *Handle `json:"handle,omitempty"`

	// Value is the payload for ActionWrite. Accepts a JSON string
	// (encoded as raw bytes) or an array of byte values.
	Value Value `json:"value,omitempty"`

	// IgnoreError skips this spec on failure instead of aborting the
	// remainder of the batch.
	IgnoreError bool `json:"ignoreError,omitempty"`
}

// Handle is a characteristic handle that unmarshals from either a JSON
// number or a string literal such as "0x2a19".
type Handle uint16

// UnmarshalJSON implements json.Unmarshaler.
func (h *Handle) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if len(s) >= 2 && s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		v, err := strconv.ParseUint(strings.TrimSpace(str), 0, 16)
		if err != nil {
			return fmt.Errorf("invalid handle %q: %w", str, err)
		}
		*h = Handle(v)
		return nil
	}

	var n uint16
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid handle %s: %w", s, err)
	}
	*h = Handle(n)
	return nil
}

// Value is a write payload that unmarshals from either a JSON string
// (taken as raw bytes) or an array of byte values.
type Value []byte

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if len(s) >= 2 && s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*v = []byte(str)
		return nil
	}

	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return fmt.Errorf("value must be a string or a byte list: %w", err)
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return fmt.Errorf("value element %d out of byte range: %d", i, n)
		}
		out[i] = byte(n)
	}
	*v = out
	return nil
}

// ParseBatch decodes and validates an inbound device-command payload.
// All failures wrap ErrProtocol.
func ParseBatch(payload []byte) (*CommandBatch, error) {
	var batch CommandBatch
	if err := json.Unmarshal(payload, &batch); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	if len(batch.Commands) == 0 {
		return nil, fmt.Errorf("%w: batch has no commands", ErrProtocol)
	}

	for i, spec := range batch.Commands {
		switch spec.Action {
		case ActionRead:
		case ActionWrite:
			if spec.Value == nil {
				return nil, fmt.Errorf("%w: command %d: write without value", ErrProtocol, i)
			}
		default:
			return nil, fmt.Errorf("%w: command %d: unknown action %q", ErrProtocol, i, spec.Action)
		}

		if spec.Name == "" && spec.UUID == "" && spec.Handle == nil {
			return nil, fmt.Errorf("%w: command %d: no characteristic reference", ErrProtocol, i)
		}
	}

	if batch.Tries != nil && *batch.Tries < 0 {
		return nil, fmt.Errorf("%w: negative tries", ErrProtocol)
	}

	return &batch, nil
}

// Selector builds the registry selector for this spec's characteristic
// reference.
func (s CommandSpec) Selector() (registry.Selector, error) {
	var handle uint16
	hasHandle := s.Handle != nil
	if hasHandle {
		handle = uint16(*s.Handle)
	}
	return registry.NewSelector(s.Name, s.UUID, handle, hasHandle)
}

// Remaining returns the retry budget carried by the batch, or 0 when the
// field is absent.
func (b *CommandBatch) Remaining() int {
	if b.Tries == nil {
		return 0
	}
	return *b.Tries
}
