// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package future implements the asynchronous handle returned by a submission
// manager: a background goroutine polls a backend.Process until it reaches a
// terminal state, firing on-start/on-jobid/on-done callbacks as the process
// passes through each phase.
//
// Grounded on original_source/src/hpc_connect/futures.py (the monitor-thread
// callback-draining semantics) and jontk-slurm-client/pkg/watch.JobPoller
// (the ticker/mutex polling idiom).
package future

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	hpcerrors "github.com/hpcconnect/hpcconnect/pkg/errors"
	"github.com/hpcconnect/hpcconnect/pkg/logging"
)

// DefaultPollInterval is used when a Future is created without an explicit interval.
const DefaultPollInterval = 2 * time.Second

// defaultPollIntervals are the per-backend poll cadences: local jobs are
// cheap to check often, slurm/pbs accounting commands are moderately
// expensive, and flux's CLI fallback is the most expensive of all.
var defaultPollIntervals = map[string]time.Duration{
	"local":  500 * time.Millisecond,
	"remote": 500 * time.Millisecond,
	"slurm":  5 * time.Second,
	"pbs":    5 * time.Second,
	"flux":   30 * time.Second,
}

// PollIntervalFor returns backend's default poll interval, overridden
// process-wide by HPCC_POLL_INTERVAL (seconds) when set.
func PollIntervalFor(backend string) time.Duration {
	if raw := os.Getenv("HPCC_POLL_INTERVAL"); raw != "" {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	if d, ok := defaultPollIntervals[backend]; ok {
		return d
	}
	return DefaultPollInterval
}

// Process is the minimal surface a backend adapter exposes for a submitted job.
// internal/backend implementations (slurm, pbs, flux, local, remote) satisfy this.
type Process interface {
	// JobID returns the backend-assigned identifier, or "" before one is assigned.
	JobID() string
	// Started returns the time the process entered RUNNING, or the zero time.
	Started() time.Time
	// Poll checks current status without blocking for long. done is true once the
	// process has reached a terminal state, in which case returncode is final.
	Poll(ctx context.Context) (returncode int, done bool, err error)
	// Cancel asks the backend to terminate the job. Best effort: Future.Cancel
	// stops the monitor loop and finishes with returncode 1 without waiting for
	// Poll to report a terminal state.
	Cancel(ctx context.Context) error
}

// Future tracks one submitted job's lifecycle and lets callers block for, or be
// notified of, its start, job ID assignment, and completion.
type Future struct {
	ID  string
	log logging.Logger

	proc         Process
	pollInterval time.Duration

	mu         sync.Mutex
	done       bool
	cancelled  bool
	returncode int
	err        error

	onStart []func()
	onJobID []func(string)
	onDone  []func(int)

	doneCh   chan struct{}
	closeSig chan struct{}
	closeOne sync.Once
}

// New starts monitoring proc in a background goroutine and returns its Future
// handle. The goroutine exits once proc reaches a terminal state or Cancel is
// called; it never leaks past that point.
func New(ctx context.Context, proc Process, pollInterval time.Duration, log logging.Logger) *Future {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if log == nil {
		log = logging.NoOpLogger{}
	}
	f := &Future{
		ID:           uuid.NewString(),
		log:          log,
		proc:         proc,
		pollInterval: pollInterval,
		doneCh:       make(chan struct{}),
		closeSig:     make(chan struct{}),
	}
	go f.monitor(ctx)
	return f
}

// monitor is the background loop, grounded on JobPoller.pollLoop: an initial
// check before the first tick, then ticker-driven polling until the process
// terminates or Cancel closes closeSig.
func (f *Future) monitor(ctx context.Context) {
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	if f.tick(ctx) {
		return
	}
	for {
		select {
		case <-f.closeSig:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if f.tick(ctx) {
				return
			}
		}
	}
}

// tick drains whichever callback lists are newly satisfied, polls the process
// once, and returns true once the future has reached a terminal state.
func (f *Future) tick(ctx context.Context) bool {
	f.mu.Lock()
	if len(f.onStart) > 0 && !f.proc.Started().IsZero() {
		callbacks := f.onStart
		f.onStart = nil
		f.mu.Unlock()
		invokeAll(callbacks)
		f.mu.Lock()
	}
	if len(f.onJobID) > 0 && f.proc.JobID() != "" {
		callbacks := f.onJobID
		f.onJobID = nil
		jobID := f.proc.JobID()
		f.mu.Unlock()
		invokeAllWithJobID(callbacks, jobID)
		f.mu.Lock()
	}
	f.mu.Unlock()

	rc, done, err := f.proc.Poll(ctx)
	if err != nil {
		logging.LogError(f.log, err, "future_poll", "id", f.ID)
		return false
	}
	if !done {
		return false
	}

	f.finish(rc, nil)
	return true
}

// finish marks the future terminal exactly once, recording returncode/err and
// draining the on-done callbacks. Safe to call from monitor or Cancel.
func (f *Future) finish(returncode int, err error) {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return
	}
	f.done = true
	f.returncode = returncode
	f.err = err
	callbacks := f.onDone
	f.onDone = nil
	f.mu.Unlock()

	close(f.doneCh)
	invokeAllWithCode(callbacks, returncode)
}

func invokeAll(fns []func()) {
	for _, fn := range fns {
		safeCall(func() { fn() })
	}
}

func invokeAllWithJobID(fns []func(string), jobID string) {
	for _, fn := range fns {
		fn := fn
		safeCall(func() { fn(jobID) })
	}
}

func invokeAllWithCode(fns []func(int), code int) {
	for _, fn := range fns {
		fn := fn
		safeCall(func() { fn(code) })
	}
}

// safeCall swallows a panicking callback so one misbehaving consumer can't
// take down the monitor goroutine.
func safeCall(fn func()) {
	defer func() { recover() }() //nolint:errcheck
	fn()
}

// Done reports whether the future has reached a terminal state (completed or cancelled).
func (f *Future) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// Cancelled reports whether Cancel was called on this future.
func (f *Future) Cancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// ReturnCode returns the process's final return code. ok is false until Done.
func (f *Future) ReturnCode() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.returncode, f.done
}

// JobID returns the backend-assigned job identifier, or "" if not yet assigned.
func (f *Future) JobID() string {
	return f.proc.JobID()
}

// Cancel asks the backend to terminate the job and marks the future terminal.
// Idempotent: a second call is a no-op and returns false.
func (f *Future) Cancel(ctx context.Context) bool {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return false
	}
	f.cancelled = true
	f.mu.Unlock()

	if err := f.proc.Cancel(ctx); err != nil {
		logging.LogError(f.log, err, "future_cancel", "id", f.ID)
	}
	f.closeOne.Do(func() { close(f.closeSig) })
	f.finish(1, nil)
	return true
}

// Result blocks until the future is done or ctx is cancelled, returning the
// process's final return code. If ctx carries a deadline and it elapses
// first, Result returns a Timeout error without cancelling the future.
func (f *Future) Result(ctx context.Context) (int, error) {
	select {
	case <-f.doneCh:
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.err != nil {
			return f.returncode, f.err
		}
		return f.returncode, nil
	case <-ctx.Done():
		return 0, hpcerrors.WithCause(hpcerrors.Timeout, "future did not complete before deadline", ctx.Err())
	}
}

// AddDoneCallback registers fn to run with the final return code once the
// future completes. If the future is already done, fn is invoked immediately.
func (f *Future) AddDoneCallback(fn func(returncode int)) {
	f.mu.Lock()
	if f.done {
		rc := f.returncode
		f.mu.Unlock()
		safeCall(func() { fn(rc) })
		return
	}
	f.onDone = append(f.onDone, fn)
	f.mu.Unlock()
}

// AddJobStartCallback registers fn to run once the process has started. If it
// has already started, fn is invoked immediately.
func (f *Future) AddJobStartCallback(fn func()) {
	f.mu.Lock()
	if !f.proc.Started().IsZero() {
		f.mu.Unlock()
		safeCall(fn)
		return
	}
	f.onStart = append(f.onStart, fn)
	f.mu.Unlock()
}

// AddJobIDCallback registers fn to run with the assigned job ID once one
// exists. If one already exists, fn is invoked immediately.
func (f *Future) AddJobIDCallback(fn func(jobID string)) {
	f.mu.Lock()
	if jobID := f.proc.JobID(); jobID != "" {
		f.mu.Unlock()
		safeCall(func() { fn(jobID) })
		return
	}
	f.onJobID = append(f.onJobID, fn)
	f.mu.Unlock()
}
