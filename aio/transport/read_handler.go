package transport

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dSock/aio/common"
	"github.com/ValentinKolb/dSock/lib/ringbuffer"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/semaphore"
	"sync"
)

var Logger = logger.GetLogger("transport")

// --------------------------------------------------------------------------
// Recursion marker
// --------------------------------------------------------------------------

// recursionKey marks a context whose call stack is already processing a read
// completion on a boss goroutine that holds an admission permit
type recursionKey struct{}

func withRecursion(ctx context.Context) context.Context {
	return context.WithValue(ctx, recursionKey{}, true)
}

// InRecursion reports whether ctx belongs to a call stack that is already
// processing a read completion inline
func InRecursion(ctx context.Context) bool {
	marked, _ := ctx.Value(recursionKey{}).(bool)
	return marked
}

// --------------------------------------------------------------------------
// Read Completion Handler
// --------------------------------------------------------------------------

// ReadCompletionHandler dispatches read completions of the channel group.
//
// A completion is either processed on the boss goroutine that received it
// (if an admission permit is free) or handed off through a ring buffer to the
// drain worker. Nested completions (the processing of a read issued the next
// read, which completed synchronously) are always processed inline.
type ReadCompletionHandler struct {
	ring       *ringbuffer.RingBuffer[*ReadEvent]
	admission  *semaphore.Weighted
	handOffAll bool
	worker     sync.WaitGroup
}

// NewReadCompletionHandler creates the read dispatcher.
// If overflow is enabled the drain worker is started and runs until ctx is done.
func NewReadCompletionHandler(ctx context.Context, config common.DispatchConfig) (*ReadCompletionHandler, error) {
	h := &ReadCompletionHandler{}

	if !config.Overflow {
		Logger.Infof("Overflow disabled, read completions are processed by the boss threads")
		return h, nil
	}

	ring, err := ringbuffer.New[*ReadEvent](config.RingBufferCapacity, readEventFactory{})
	if err != nil {
		return nil, fmt.Errorf("failed to create overflow ring buffer: %w", err)
	}
	h.ring = ring
	h.handOffAll = config.HandOffAll

	permits := max(config.AdmissionPermits, 1)
	if !h.handOffAll {
		h.admission = semaphore.NewWeighted(int64(permits))
	}

	Logger.Infof("Read dispatch with ring buffer capacity %d, admission permits %d (boss threads %d, hand off all %t)",
		ring.Capacity(), permits, config.BossThreads, config.HandOffAll)

	h.worker.Add(1)
	go h.drain(ctx)

	return h, nil
}

// Completed dispatches a read completion
func (h *ReadCompletionHandler) Completed(ctx context.Context, result int, s Session) {
	// no overflow support, or a nested completion of a call stack that already holds a permit
	if h.ring == nil || InRecursion(ctx) {
		h.process(ctx, result, s)
		h.runTask(ctx)
		return
	}

	// boss threads are saturated (or not allowed to process reads at all)
	if h.handOffAll || !h.admission.TryAcquire(1) {
		h.handOff(ctx, result, s)
		return
	}
	defer h.admission.Release(1)

	ctx = withRecursion(ctx)
	h.process(ctx, result, s)
	h.runTask(ctx)
}

// Failed reports a failed read to the processor and closes the session
func (h *ReadCompletionHandler) Failed(_ context.Context, err error, s Session) {
	failSession(s, InputException, err)
}

// Wait blocks until the drain worker has stopped
func (h *ReadCompletionHandler) Wait() {
	h.worker.Wait()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handOff stores the completion in the ring buffer for later processing
func (h *ReadCompletionHandler) handOff(ctx context.Context, result int, s Session) {
	index, err := h.ring.ReserveWriteSlot(ctx)
	if err != nil {
		Logger.Warningf("Failed to hand off read completion of session %d: %v", s.ID(), err)
		h.Failed(ctx, fmt.Errorf("hand off read completion: %w", err), s)
		return
	}

	event := h.ring.Get(index)
	event.Session = s
	event.ReadSize = result
	mustPublish(h.ring.PublishWrite(index))

	observe(s, "HandedOff", func(m Monitor) { m.HandedOff(s) })
}

// take copies the completion out of a reserved read slot and recycles the slot
func (h *ReadCompletionHandler) take(index int) (int, Session) {
	event := h.ring.Get(index)
	s, result := event.Session, event.ReadSize
	mustPublish(h.ring.PublishRead(index))

	observe(s, "Drained", func(m Monitor) { m.Drained(s) })
	return result, s
}

// runTask processes one pending handed off completion, if there is any
func (h *ReadCompletionHandler) runTask(ctx context.Context) {
	if h.ring == nil {
		return
	}
	index, ok := h.ring.TryReserveReadSlot()
	if !ok {
		return
	}
	result, s := h.take(index)
	h.process(ctx, result, s)
}

// drain is the loop of the drain worker, it guarantees that every handed off
// completion is processed even if no boss thread picks it up
func (h *ReadCompletionHandler) drain(ctx context.Context) {
	defer h.worker.Done()
	Logger.Debugf("Drain worker started")

	for {
		index, err := h.ring.ReserveReadSlot(ctx)
		if err != nil {
			if ctx.Err() != nil {
				Logger.Debugf("Drain worker stopped: %v", err)
				return
			}
			Logger.Errorf("Drain worker failed to reserve a read slot: %v", err)
			continue
		}

		result, s := h.take(index)
		h.process(ctx, result, s)
	}
}

// process runs the business processing of a completion and turns any error
// (or panic) into a failed completion
func (h *ReadCompletionHandler) process(ctx context.Context, result int, s Session) {
	if err := readFromChannel(ctx, result, s); err != nil {
		h.Failed(ctx, err, s)
	}
}

func readFromChannel(ctx context.Context, result int, s Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()

	if m := s.Monitor(); m != nil {
		m.ReadMonitor(s, result)
	}
	return s.ReadFromChannel(ctx, result)
}

// observe calls a monitor hook of the session. A panicking monitor is logged,
// the completion is still processed.
func observe(s Session, hook string, fn func(m Monitor)) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Warningf("Monitor hook %s of session %d panicked: %v", hook, s.ID(), r)
		}
	}()
	if m := s.Monitor(); m != nil {
		fn(m)
	}
}

// mustPublish panics on ring buffer protocol violations, they are bugs in the dispatcher
func mustPublish(err error) {
	if err != nil {
		Logger.Panicf("overflow ring buffer corrupted: %v", err)
	}
}

// failSession sends the error event to the processor and closes the session.
// Errors (and panics) of both steps are only logged so that they cannot hide the original error.
func failSession(s Session, event StateMachineEvent, cause error) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				Logger.Debugf("State event %s of session %d panicked: %v", event, s.ID(), r)
			}
		}()
		if p := s.Processor(); p != nil {
			p.StateEvent(s, event, cause)
		}
	}()

	func() {
		defer func() {
			if r := recover(); r != nil {
				Logger.Debugf("Close of session %d panicked: %v", s.ID(), r)
			}
		}()
		if err := s.Close(false); err != nil {
			Logger.Debugf("Failed to close session %d after %s: %v", s.ID(), event, err)
		}
	}()
}
