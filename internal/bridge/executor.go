package bridge

import (
	"context"
	"fmt"

	"github.com/nerrad567/ble-mqtt-bridge/internal/radio"
	"github.com/nerrad567/ble-mqtt-bridge/internal/registry"
)

// Executor runs one command batch against one device. It must only be
// invoked while the device's lock is held.
type Executor struct {
	radio radio.Radio
}

// NewExecutor creates an executor backed by the given radio.
func NewExecutor(r radio.Radio) *Executor {
	return &Executor{radio: r}
}

// Results is a batch's collected read results, keyed by result topic key.
// Keys preserve first-insertion order; a later spec resolving to the same
// key overwrites the earlier value in place.
type Results struct {
	keys   []string
	values map[string][]int
}

func newResults() *Results {
	return &Results{values: make(map[string][]int)}
}

func (r *Results) add(key string, value []int) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Keys returns the result keys in first-insertion order.
func (r *Results) Keys() []string {
	return r.keys
}

// Get returns the value stored under key.
func (r *Results) Get(key string) ([]int, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Len returns the number of distinct result keys.
func (r *Results) Len() int {
	return len(r.keys)
}

// Combined returns the results as a single key→value map.
func (r *Results) Combined() map[string][]int {
	out := make(map[string][]int, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Execute connects to the device, runs every spec in order, and returns
// the collected read results. The session is closed on every exit path.
//
// A spec failure with IgnoreError set skips that spec (no result entry is
// recorded for it). Any other failure aborts the batch: the remaining
// specs do not run and the partial results are discarded by the caller.
func (e *Executor) Execute(ctx context.Context, dev *registry.Device, batch *CommandBatch) (*Results, error) {
	session, err := e.radio.Connect(ctx, dev.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", ErrLink, dev.Address, err)
	}
	defer session.Close()

	results := newResults()

	for i, spec := range batch.Commands {
		if err := e.runSpec(ctx, session, dev, spec, results); err != nil {
			if spec.IgnoreError {
				continue
			}
			return nil, fmt.Errorf("command %d: %w", i, err)
		}
	}

	return results, nil
}

// runSpec resolves and executes a single spec, recording read results.
func (e *Executor) runSpec(ctx context.Context, session radio.Session, dev *registry.Device, spec CommandSpec, results *Results) error {
	sel, err := spec.Selector()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResolution, err)
	}

	ref, err := dev.Resolve(sel)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResolution, err)
	}

	target := radio.CharacteristicRef{
		UUID:      ref.UUID,
		Handle:    ref.Handle,
		HasHandle: ref.HasHandle,
	}

	switch spec.Action {
	case ActionRead:
		data, err := session.Read(ctx, target)
		if err != nil {
			return fmt.Errorf("%w: read %s: %v", ErrLink, ref.TopicKey(), err)
		}
		results.add(ref.TopicKey(), decodeBytes(data))
		return nil

	case ActionWrite:
		if err := session.Write(ctx, target, []byte(spec.Value), true); err != nil {
			return fmt.Errorf("%w: write %s: %v", ErrLink, ref.TopicKey(), err)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown action %q", ErrProtocol, spec.Action)
	}
}

// decodeBytes renders a raw characteristic value as an integer sequence.
func decodeBytes(data []byte) []int {
	out := make([]int, len(data))
	for i, b := range data {
		out[i] = int(b)
	}
	return out
}
