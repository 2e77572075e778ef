package accel

import (
	"sync"

	"github.com/ascend/memfabric-hybrid/cmn/debug"
)

// Stream is an ordered task queue bound to one owner (one SDMA
// DataOperator instance, i.e. one entity), standing in for the original's
// per-thread accelerator stream (hybm_stream_manager.cpp). Tasks submitted
// from the same Stream complete in submission order; Wait runs the pending
// tasks until one fails and returns that error, dropping the tasks queued
// after it.
//
// Design Notes §9 flags two competing stream-ownership models in the
// original (HybmStreamManager's per-thread stream vs. HostDataOpSDMA's
// per-entity stream) and recommends per-thread-per-entity streams without
// fully resolving which is canonical. This module resolves it: each SDMA
// DataOperator owns exactly one Stream for its lifetime (per-entity), and
// that Stream serializes the calls made into it from whichever goroutine
// happens to call DataCopy/DataCopyAsync — giving program-order completion
// for a single entity without requiring a real OS thread-local, which Go
// goroutines don't have.
type Stream struct {
	mu      sync.Mutex
	pending []func() error
	lastErr error
	closed  bool
}

// NewStream creates a stream with no pending tasks.
func NewStream() *Stream { return &Stream{} }

// Submit enqueues a task, to be executed synchronously (by the caller of
// Wait) in FIFO order.
func (st *Stream) Submit(task func() error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	debug.Assert(!st.closed, "accel.Stream: Submit after Close")
	if st.closed {
		return
	}
	st.pending = append(st.pending, task)
}

// Wait drains and executes every pending task in enqueue order, stopping
// at (but recording) the first error, and returns that error.
func (st *Stream) Wait() error {
	st.mu.Lock()
	tasks := st.pending
	st.pending = nil
	st.mu.Unlock()

	for _, t := range tasks {
		if err := t(); err != nil {
			st.mu.Lock()
			st.lastErr = err
			st.mu.Unlock()
			return err
		}
	}
	return nil
}

// LastErr returns the most recent error observed by Wait, or nil.
func (st *Stream) LastErr() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastErr
}

// Close marks the stream as torn down. Submitting after Close panics in
// debug builds; in release it is simply ignored, matching the teardown
// guard's best-effort cleanup policy (§7 propagation policy).
func (st *Stream) Close() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.closed = true
	st.pending = nil
}
