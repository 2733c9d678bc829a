package bridge

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Retry policy constants.
const (
	// defaultRetryDelay is the backoff between a failure and its
	// re-submission when the configuration leaves it unset.
	defaultRetryDelay = 3 * time.Second

	// retryQueueSize bounds the number of re-submissions waiting for
	// their backoff to elapse.
	retryQueueSize = 32
)

// retryItem is one pending re-submission.
type retryItem struct {
	topic   string
	payload []byte
}

// RetryCoordinator re-submits failed batches with a decremented budget
// after a fixed backoff. Re-submission feeds the dispatcher directly, as
// if the message had arrived fresh from the bus.
//
// The budget lives in the batch itself: Tries > 1 means decrement once,
// back off, re-submit; absent or ≤ 1 means the failure is terminal.
type RetryCoordinator struct {
	delay    time.Duration
	resubmit func(topic string, payload []byte)

	queue chan retryItem

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRetryCoordinator creates a coordinator that hands re-submissions to
// the given dispatch function after delay. A delay ≤ 0 falls back to the
// default. Call Stop to shut down.
func NewRetryCoordinator(delay time.Duration, resubmit func(topic string, payload []byte)) *RetryCoordinator {
	if delay <= 0 {
		delay = defaultRetryDelay
	}

	r := &RetryCoordinator{
		delay:    delay,
		resubmit: resubmit,
		queue:    make(chan retryItem, retryQueueSize),
		done:     make(chan struct{}),
	}

	r.wg.Add(1)
	go r.worker()

	return r
}

// Schedule queues a failed batch for re-submission on its original topic
// with the budget decremented.
//
// Returns ErrRetryExhausted when the batch has no budget left (Tries
// absent or ≤ 1), ErrQueueFull when the pending queue is at capacity, and
// ErrStopped after Stop. The decrement happens exactly once per failed
// attempt; the budget is never resurrected.
func (r *RetryCoordinator) Schedule(topic string, batch *CommandBatch) error {
	if batch.Remaining() <= 1 {
		return ErrRetryExhausted
	}

	next := *batch
	tries := batch.Remaining() - 1
	next.Tries = &tries

	payload, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("marshal retry batch: %w", err)
	}

	select {
	case <-r.done:
		return ErrStopped
	default:
	}

	select {
	case r.queue <- retryItem{topic: topic, payload: payload}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop shuts the coordinator down. Re-submissions still waiting for their
// backoff are discarded. Safe to call multiple times.
func (r *RetryCoordinator) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

// worker waits out each item's backoff, then re-dispatches it.
func (r *RetryCoordinator) worker() {
	defer r.wg.Done()

	for {
		select {
		case <-r.done:
			return
		case item := <-r.queue:
			timer := time.NewTimer(r.delay)
			select {
			case <-r.done:
				timer.Stop()
				return
			case <-timer.C:
				r.resubmit(item.topic, item.payload)
			}
		}
	}
}
