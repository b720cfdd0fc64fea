package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dSock/aio/common"
	"github.com/ValentinKolb/dSock/lib/ringbuffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitProcessed waits for the next processed read of a session
func waitProcessed(t *testing.T, s *fakeSession) int {
	t.Helper()
	select {
	case size := <-s.processed:
		return size
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for session %d to process a read", s.id)
		return 0
	}
}

// stoppedHandler returns an overflow handler whose drain worker has already stopped,
// so handed off completions are only processed by the boss path
func stoppedHandler(t *testing.T, config common.DispatchConfig) *ReadCompletionHandler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	config.Overflow = true
	h, err := NewReadCompletionHandler(ctx, config)
	require.NoError(t, err)
	h.Wait()
	return h
}

// TestInlineWithoutOverflow tests that without overflow every completion runs on the caller
func TestInlineWithoutOverflow(t *testing.T) {
	h, err := NewReadCompletionHandler(context.Background(), common.DispatchConfig{})
	require.NoError(t, err)

	s := newFakeSession(1)
	h.Completed(context.Background(), 12, s)
	h.Completed(context.Background(), EOF, s)

	assert.Equal(t, []readRecord{{size: 12}, {size: EOF}}, s.readRecords())
	assert.Equal(t, int32(2), s.monitor.reads.Load())
	assert.Equal(t, int32(0), s.monitor.handedOff.Load())

	// nothing to wait for
	h.Wait()
}

// TestHandOffWhenPermitsExhausted tests that a completion finding no permit is
// processed exactly once by the drain worker
func TestHandOffWhenPermitsExhausted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := NewReadCompletionHandler(ctx, common.DispatchConfig{
		BossThreads:        2,
		Overflow:           true,
		RingBufferCapacity: 8,
		AdmissionPermits:   1,
	})
	require.NoError(t, err)

	first := newFakeSession(1)
	second := newFakeSession(2)

	started := make(chan struct{})
	release := make(chan struct{})
	first.onRead = func(context.Context, int) error {
		close(started)
		<-release
		return nil
	}

	// the first completion takes the only permit and blocks in business processing
	go h.Completed(context.Background(), 10, first)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first completion was not processed")
	}

	// the second completion must return without processing
	returned := make(chan struct{})
	go func() {
		h.Completed(context.Background(), 77, second)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("second completion was not handed off")
	}

	// the drain worker processes it while the first one is still blocked
	assert.Equal(t, 77, waitProcessed(t, second))

	close(release)
	assert.Equal(t, 10, waitProcessed(t, first))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []readRecord{{size: 10, recursion: true}}, first.readRecords())
	assert.Equal(t, []readRecord{{size: 77, recursion: false}}, second.readRecords())
	assert.Equal(t, int32(1), second.monitor.handedOff.Load())
	assert.Equal(t, int32(1), second.monitor.drained.Load())
	assert.Equal(t, int32(0), first.monitor.handedOff.Load())
}

// TestRecursiveCompletionRunsInline tests that a nested completion never competes for a permit
func TestRecursiveCompletionRunsInline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := NewReadCompletionHandler(ctx, common.DispatchConfig{
		Overflow:           true,
		RingBufferCapacity: 4,
		AdmissionPermits:   1,
	})
	require.NoError(t, err)

	s := newFakeSession(1)
	s.onRead = func(ctx context.Context, size int) error {
		// simulate a read that completed synchronously while processing the previous one
		if size < 3 {
			h.Completed(ctx, size+1, s)
		}
		return nil
	}

	h.Completed(context.Background(), 1, s)

	assert.Equal(t, []readRecord{
		{size: 1, recursion: true},
		{size: 2, recursion: true},
		{size: 3, recursion: true},
	}, s.readRecords())
	assert.Equal(t, int32(0), s.monitor.handedOff.Load())
}

// TestPendingCompletionDrainedInline tests that a boss goroutine processes one
// handed off completion after its own
func TestPendingCompletionDrainedInline(t *testing.T) {
	h := stoppedHandler(t, common.DispatchConfig{RingBufferCapacity: 4, AdmissionPermits: 1})

	a := newFakeSession(1)
	b := newFakeSession(2)

	a.onRead = func(context.Context, int) error {
		// b arrives while a holds the only permit
		done := make(chan struct{})
		go func() {
			h.Completed(context.Background(), 9, b)
			close(done)
		}()
		<-done
		assert.Empty(t, b.readRecords(), "b must have been handed off")
		return nil
	}

	h.Completed(context.Background(), 1, a)

	assert.Equal(t, []readRecord{{size: 1, recursion: true}}, a.readRecords())
	assert.Equal(t, []readRecord{{size: 9, recursion: true}}, b.readRecords())
	assert.Equal(t, int32(1), b.monitor.handedOff.Load())
	assert.Equal(t, int32(1), b.monitor.drained.Load())

	// only one pending completion is drained per completion
	c := newFakeSession(3)
	d := newFakeSession(4)
	e := newFakeSession(5)
	h2 := stoppedHandler(t, common.DispatchConfig{RingBufferCapacity: 4, HandOffAll: true})
	h2.Completed(context.Background(), 1, c)
	h2.Completed(context.Background(), 2, d)
	assert.Empty(t, c.readRecords())

	h2.Completed(withRecursion(context.Background()), 3, e)
	assert.Len(t, e.readRecords(), 1)
	assert.Len(t, c.readRecords(), 1)
	assert.Empty(t, d.readRecords())
}

// TestHandOffAll tests that boss goroutines hand off every completion if configured
func TestHandOffAll(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := NewReadCompletionHandler(ctx, common.DispatchConfig{
		Overflow:           true,
		RingBufferCapacity: 2,
		HandOffAll:         true,
	})
	require.NoError(t, err)

	s := newFakeSession(1)
	for i := 1; i <= 5; i++ {
		h.Completed(context.Background(), i, s)
	}

	// a single session handed off from a single goroutine is drained in order
	for i := 1; i <= 5; i++ {
		assert.Equal(t, i, waitProcessed(t, s))
	}
	for _, r := range s.readRecords() {
		assert.False(t, r.recursion)
	}
	assert.Equal(t, int32(5), s.monitor.handedOff.Load())
}

// TestReadFailure tests that a failing completion emits exactly one InputException and one close
func TestReadFailure(t *testing.T) {
	tests := []struct {
		name       string
		onRead     func(context.Context, int) error
		closeErr   error
		statePanic bool
		check      func(t *testing.T, err error)
	}{
		{
			name:   "error",
			onRead: func(context.Context, int) error { return errBusiness },
			check: func(t *testing.T, err error) {
				assert.Same(t, errBusiness, err)
			},
		},
		{
			name:     "error and close fails",
			onRead:   func(context.Context, int) error { return errBusiness },
			closeErr: errors.New("close failed"),
			check: func(t *testing.T, err error) {
				assert.Same(t, errBusiness, err)
			},
		},
		{
			name:   "panic with error",
			onRead: func(context.Context, int) error { panic(errBusiness) },
			check: func(t *testing.T, err error) {
				var panicErr *PanicError
				require.ErrorAs(t, err, &panicErr)
				assert.ErrorIs(t, err, errBusiness)
			},
		},
		{
			name:   "panic with value",
			onRead: func(context.Context, int) error { panic("boom") },
			check: func(t *testing.T, err error) {
				var panicErr *PanicError
				require.ErrorAs(t, err, &panicErr)
				assert.Equal(t, "boom", panicErr.Value)
				assert.Nil(t, errors.Unwrap(err))
			},
		},
		{
			name:       "state event panics",
			onRead:     func(context.Context, int) error { return errBusiness },
			closeErr:   errors.New("close failed"),
			statePanic: true,
			check: func(t *testing.T, err error) {
				assert.Same(t, errBusiness, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, overflow := range []bool{false, true} {
				ctx, cancel := context.WithCancel(context.Background())
				h, err := NewReadCompletionHandler(ctx, common.DispatchConfig{Overflow: overflow, RingBufferCapacity: 2, AdmissionPermits: 1})
				require.NoError(t, err)

				s := newFakeSession(1)
				s.onRead = tt.onRead
				s.closeErr = tt.closeErr
				if tt.statePanic {
					s.onState = func(StateMachineEvent) { panic("processor broken") }
				}

				require.NotPanics(t, func() { h.Completed(context.Background(), 5, s) })

				states := s.stateRecords()
				require.Len(t, states, 1)
				assert.Equal(t, InputException, states[0].event)
				tt.check(t, states[0].err)
				assert.Equal(t, int32(1), s.closes.Load())
				assert.False(t, s.gracefulClose.Load())

				cancel()
				h.Wait()
			}
		})
	}
}

// TestInvalidRingBufferCapacity tests that the handler rejects invalid capacities
func TestInvalidRingBufferCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		h, err := NewReadCompletionHandler(context.Background(), common.DispatchConfig{
			Overflow:           true,
			RingBufferCapacity: capacity,
		})
		assert.Nil(t, h)
		assert.ErrorIs(t, err, ringbuffer.ErrInvalidCapacity)
	}
}

// TestDrainWorkerStopsOnCancel tests that the drain worker terminates with its context
func TestDrainWorkerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h, err := NewReadCompletionHandler(ctx, common.DispatchConfig{Overflow: true, RingBufferCapacity: 4})
	require.NoError(t, err)

	cancel()

	done := make(chan struct{})
	go func() {
		h.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("drain worker did not stop")
	}
}

// TestDrainWorkerSurvivesFailures tests that a failing session does not stop the drain worker
func TestDrainWorkerSurvivesFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := NewReadCompletionHandler(ctx, common.DispatchConfig{Overflow: true, RingBufferCapacity: 4, HandOffAll: true})
	require.NoError(t, err)

	faulty := newFakeSession(1)
	faulty.onRead = func(context.Context, int) error { panic("faulty session") }
	faulty.closeErr = errors.New("close failed")
	healthy := newFakeSession(2)

	h.Completed(context.Background(), 1, faulty)
	h.Completed(context.Background(), 2, healthy)

	// the worker drains in ring order, the faulty completion is done once the healthy one ran
	assert.Equal(t, 2, waitProcessed(t, healthy))
	assert.Equal(t, int32(0), healthy.closes.Load())
	assert.Empty(t, healthy.stateRecords())

	states := faulty.stateRecords()
	require.Len(t, states, 1)
	assert.Equal(t, InputException, states[0].event)
	var panicErr *PanicError
	require.ErrorAs(t, states[0].err, &panicErr)
	assert.Equal(t, "faulty session", panicErr.Value)
	assert.Equal(t, int32(1), faulty.closes.Load())
	assert.Len(t, faulty.readRecords(), 1)
}

// TestPanickingMonitorKeepsDrainWorker tests that handoff and drain monitor hooks cannot stop the drain worker
func TestPanickingMonitorKeepsDrainWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := NewReadCompletionHandler(ctx, common.DispatchConfig{Overflow: true, RingBufferCapacity: 4, HandOffAll: true})
	require.NoError(t, err)

	first := newFakeSession(1)
	first.plugin = panickingMonitor{}
	second := newFakeSession(2)

	h.Completed(context.Background(), 3, first)
	h.Completed(context.Background(), 4, second)

	assert.Equal(t, 3, waitProcessed(t, first))
	assert.Equal(t, 4, waitProcessed(t, second))
	assert.Empty(t, first.stateRecords())
	assert.Equal(t, int32(0), first.closes.Load())
	assert.Equal(t, int32(1), second.monitor.drained.Load())
}

// TestHandOffCancelled tests that a completion that cannot be stored is failed, not dropped
func TestHandOffCancelled(t *testing.T) {
	h := stoppedHandler(t, common.DispatchConfig{RingBufferCapacity: 1, HandOffAll: true})

	a := newFakeSession(1)
	b := newFakeSession(2)

	// fills the ring buffer
	h.Completed(context.Background(), 1, a)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.Completed(ctx, 2, b)

	assert.Empty(t, b.readRecords())
	states := b.stateRecords()
	require.Len(t, states, 1)
	assert.Equal(t, InputException, states[0].event)
	assert.ErrorIs(t, states[0].err, context.Canceled)
	assert.Equal(t, int32(1), b.closes.Load())
	assert.Equal(t, int32(0), a.closes.Load())
}

// TestConcurrentCompletionsProcessedExactlyOnce tests that no completion is lost or
// duplicated when many boss goroutines compete for few permits
func TestConcurrentCompletionsProcessedExactlyOnce(t *testing.T) {
	const (
		bosses      = 8
		completions = 500
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := NewReadCompletionHandler(ctx, common.DispatchConfig{
		BossThreads:        bosses,
		Overflow:           true,
		RingBufferCapacity: 4,
		AdmissionPermits:   common.AdmissionPermitsFor(3),
	})
	require.NoError(t, err)

	var processed atomic.Int32
	sessions := make([]*fakeSession, bosses)
	for i := range sessions {
		sessions[i] = newFakeSession(uint64(i))
		sessions[i].onRead = func(context.Context, int) error {
			processed.Add(1)
			return nil
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < bosses; i++ {
		wg.Add(1)
		go func(s *fakeSession) {
			defer wg.Done()
			for n := 0; n < completions; n++ {
				h.Completed(context.Background(), n, s)
			}
		}(sessions[i])
	}
	wg.Wait()

	deadline := time.Now().Add(10 * time.Second)
	for processed.Load() < bosses*completions {
		if time.Now().After(deadline) {
			t.Fatalf("processed %d of %d completions", processed.Load(), bosses*completions)
		}
		time.Sleep(5 * time.Millisecond)
	}

	for _, s := range sessions {
		seen := make(map[int]int)
		for _, r := range s.readRecords() {
			seen[r.size]++
		}
		require.Len(t, seen, completions)
		for size, n := range seen {
			require.Equal(t, 1, n, "session %d processed size %d %d times", s.id, size, n)
		}
		assert.Equal(t, s.monitor.handedOff.Load(), s.monitor.drained.Load())
	}
}

// TestStateMachineEventString tests the names of the state events
func TestStateMachineEventString(t *testing.T) {
	assert.Equal(t, "INPUT_EXCEPTION", InputException.String())
	assert.Equal(t, "OUTPUT_EXCEPTION", OutputException.String())
	assert.Equal(t, "RELEASE_FLOW_LIMIT", ReleaseFlowLimit.String())
	assert.Equal(t, "StateMachineEvent(99)", StateMachineEvent(99).String())
}
