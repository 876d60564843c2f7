// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package future

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollIntervalForKnownBackends(t *testing.T) {
	os.Unsetenv("HPCC_POLL_INTERVAL")
	assert.Equal(t, 500*time.Millisecond, PollIntervalFor("local"))
	assert.Equal(t, 5*time.Second, PollIntervalFor("slurm"))
	assert.Equal(t, 30*time.Second, PollIntervalFor("flux"))
	assert.Equal(t, DefaultPollInterval, PollIntervalFor("unknown"))
}

func TestPollIntervalForEnvOverride(t *testing.T) {
	t.Setenv("HPCC_POLL_INTERVAL", "1.5")
	assert.Equal(t, 1500*time.Millisecond, PollIntervalFor("slurm"))
}

// fakeProcess is a minimal, thread-safe Process for exercising the monitor loop.
type fakeProcess struct {
	mu       sync.Mutex
	jobID    string
	started  time.Time
	pollHits int32
	doneAt   int32 // poll call number that reports done; 0 means never unless set
	rc       int
	cancelled bool
}

func (p *fakeProcess) JobID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobID
}

func (p *fakeProcess) Started() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

func (p *fakeProcess) Poll(ctx context.Context) (int, bool, error) {
	n := atomic.AddInt32(&p.pollHits, 1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doneAt != 0 && n >= p.doneAt {
		return p.rc, true, nil
	}
	return 0, false, nil
}

func (p *fakeProcess) Cancel(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = true
	return nil
}

func (p *fakeProcess) setStarted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = time.Now()
}

func (p *fakeProcess) setJobID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobID = id
}

func TestFutureResultBlocksUntilDone(t *testing.T) {
	proc := &fakeProcess{doneAt: 2, rc: 0}
	f := New(context.Background(), proc, 10*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rc, err := f.Result(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rc)
	assert.True(t, f.Done())
}

func TestFutureResultReportsTimeout(t *testing.T) {
	proc := &fakeProcess{doneAt: 0}
	f := New(context.Background(), proc, 10*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := f.Result(ctx)
	require.Error(t, err)
	f.Cancel(context.Background())
}

func TestFutureCancelIsIdempotent(t *testing.T) {
	proc := &fakeProcess{doneAt: 0}
	f := New(context.Background(), proc, 10*time.Millisecond, nil)

	assert.True(t, f.Cancel(context.Background()))
	assert.False(t, f.Cancel(context.Background()))
	assert.True(t, f.Cancelled())
	assert.True(t, f.Done())

	rc, ok := f.ReturnCode()
	assert.True(t, ok)
	assert.Equal(t, 1, rc)
}

func TestFutureResultAfterCancelReportsNoError(t *testing.T) {
	proc := &fakeProcess{doneAt: 0}
	f := New(context.Background(), proc, 10*time.Millisecond, nil)

	assert.True(t, f.Cancel(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rc, err := f.Result(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rc)
	assert.True(t, f.Cancelled())
}

func TestFutureAddDoneCallbackFiresImmediatelyWhenAlreadyDone(t *testing.T) {
	proc := &fakeProcess{doneAt: 1, rc: 7}
	f := New(context.Background(), proc, 5*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := f.Result(ctx)
	require.NoError(t, err)

	var got int
	f.AddDoneCallback(func(rc int) { got = rc })
	assert.Equal(t, 7, got)
}

func TestFutureAddJobStartAndJobIDCallbacksFireWhenConditionBecomesTrue(t *testing.T) {
	proc := &fakeProcess{doneAt: 0}
	f := New(context.Background(), proc, 10*time.Millisecond, nil)
	defer f.Cancel(context.Background())

	startedCh := make(chan struct{})
	jobIDCh := make(chan string, 1)
	f.AddJobStartCallback(func() { close(startedCh) })
	f.AddJobIDCallback(func(id string) { jobIDCh <- id })

	proc.setStarted()
	proc.setJobID("42")

	select {
	case <-startedCh:
	case <-time.After(time.Second):
		t.Fatal("start callback never fired")
	}
	select {
	case id := <-jobIDCh:
		assert.Equal(t, "42", id)
	case <-time.After(time.Second):
		t.Fatal("job id callback never fired")
	}
}

func TestAsCompletedYieldsInCompletionOrder(t *testing.T) {
	slow := &fakeProcess{doneAt: 4, rc: 1}
	fast := &fakeProcess{doneAt: 1, rc: 2}
	fSlow := New(context.Background(), slow, 10*time.Millisecond, nil)
	fFast := New(context.Background(), fast, 10*time.Millisecond, nil)

	var order []*Future
	err := AsCompleted(context.Background(), []*Future{fSlow, fFast}, 2*time.Second, 5*time.Millisecond, true, func(f *Future) error {
		order = append(order, f)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, order, 2)
	assert.Same(t, fFast, order[0])
	assert.Same(t, fSlow, order[1])
}

func TestAsCompletedCancelsPendingOnTimeout(t *testing.T) {
	proc := &fakeProcess{doneAt: 0}
	f := New(context.Background(), proc, 5*time.Millisecond, nil)

	err := AsCompleted(context.Background(), []*Future{f}, 20*time.Millisecond, 5*time.Millisecond, true, func(*Future) error {
		return nil
	})
	require.Error(t, err)

	time.Sleep(20 * time.Millisecond)
	proc.mu.Lock()
	cancelled := proc.cancelled
	proc.mu.Unlock()
	assert.True(t, cancelled)
}
