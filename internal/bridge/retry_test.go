package bridge

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// resubmitRecorder collects dispatched re-submissions.
type resubmitRecorder struct {
	mu    sync.Mutex
	items []retryItem
}

func (r *resubmitRecorder) resubmit(topic string, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, retryItem{topic: topic, payload: payload})
}

func (r *resubmitRecorder) get() []retryItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]retryItem, len(r.items))
	copy(out, r.items)
	return out
}

func batchWithTries(n int) *CommandBatch {
	return &CommandBatch{
		Commands: []CommandSpec{{Action: ActionRead, Name: "battery"}},
		Tries:    &n,
	}
}

func TestScheduleDecrementsAndResubmits(t *testing.T) {
	rec := &resubmitRecorder{}
	rc := NewRetryCoordinator(time.Millisecond, rec.resubmit)
	defer rc.Stop()

	if err := rc.Schedule("ble/dev/commands", batchWithTries(3)); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	waitFor(t, time.Second, func() bool { return len(rec.get()) == 1 })

	item := rec.get()[0]
	if item.topic != "ble/dev/commands" {
		t.Errorf("resubmit topic = %q", item.topic)
	}

	var batch CommandBatch
	if err := json.Unmarshal(item.payload, &batch); err != nil {
		t.Fatalf("resubmit payload invalid: %v", err)
	}
	if batch.Remaining() != 2 {
		t.Errorf("resubmitted tries = %d, want 2", batch.Remaining())
	}
}

func TestScheduleExhaustedBudget(t *testing.T) {
	rec := &resubmitRecorder{}
	rc := NewRetryCoordinator(time.Millisecond, rec.resubmit)
	defer rc.Stop()

	tests := []struct {
		name  string
		batch *CommandBatch
	}{
		{name: "tries absent", batch: &CommandBatch{Commands: []CommandSpec{{Action: ActionRead, Name: "x"}}}},
		{name: "tries zero", batch: batchWithTries(0)},
		{name: "tries one", batch: batchWithTries(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rc.Schedule("ble/dev/commands", tt.batch)
			if !errors.Is(err, ErrRetryExhausted) {
				t.Errorf("Schedule() error = %v, want ErrRetryExhausted", err)
			}
		})
	}

	time.Sleep(20 * time.Millisecond)
	if got := len(rec.get()); got != 0 {
		t.Errorf("got %d resubmissions, want 0", got)
	}
}

func TestScheduleDoesNotMutateOriginal(t *testing.T) {
	rc := NewRetryCoordinator(time.Millisecond, func(string, []byte) {})
	defer rc.Stop()

	original := batchWithTries(3)
	if err := rc.Schedule("ble/dev/commands", original); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	if original.Remaining() != 3 {
		t.Errorf("original tries = %d, want 3 (decrement happens on the copy)", original.Remaining())
	}
}

func TestScheduleAfterStop(t *testing.T) {
	rc := NewRetryCoordinator(time.Millisecond, func(string, []byte) {})
	rc.Stop()

	err := rc.Schedule("ble/dev/commands", batchWithTries(3))
	if !errors.Is(err, ErrStopped) {
		t.Errorf("Schedule() after Stop error = %v, want ErrStopped", err)
	}
}

func TestStopDiscardsPendingRetries(t *testing.T) {
	rec := &resubmitRecorder{}
	rc := NewRetryCoordinator(time.Hour, rec.resubmit)

	// Queue one behind the hour-long backoff, then stop: it never fires.
	if err := rc.Schedule("ble/dev/commands", batchWithTries(3)); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	rc.Stop()

	if got := len(rec.get()); got != 0 {
		t.Errorf("got %d resubmissions after Stop, want 0", got)
	}
}
