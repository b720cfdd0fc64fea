package ringbuffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrInvalidCapacity is returned by New if the capacity is not a positive integer
	ErrInvalidCapacity = errors.New("ringbuffer: capacity must be positive")
	// ErrNilFactory is returned by New if no entity factory is given
	ErrNilFactory = errors.New("ringbuffer: entity factory is nil")
	// ErrInvalidSlotStatus is returned when a slot is published from the wrong status.
	// This is always a bug in the caller (double publish, publish without reservation, ...)
	ErrInvalidSlotStatus = errors.New("ringbuffer: invalid slot status")
)

// --------------------------------------------------------------------------
// Slot status
// --------------------------------------------------------------------------

// SlotStatus is the state of a single slot. The transitions are strictly cyclic:
// Writeable -> Writing -> Readable -> Reading -> Writeable
type SlotStatus uint32

const (
	// Writeable slots can be reserved by producers (zero value, so fresh slots are writeable)
	Writeable SlotStatus = iota
	// Writing slots are owned by exactly one producer
	Writing
	// Readable slots hold a published entity and can be reserved by consumers
	Readable
	// Reading slots are owned by exactly one consumer
	Reading
)

func (s SlotStatus) String() string {
	switch s {
	case Writeable:
		return "WRITEABLE"
	case Writing:
		return "WRITING"
	case Readable:
		return "READABLE"
	case Reading:
		return "READING"
	default:
		return fmt.Sprintf("SlotStatus(%d)", uint32(s))
	}
}

// --------------------------------------------------------------------------
// Entity Factory
// --------------------------------------------------------------------------

// EntityFactory creates and recycles the entities stored in the ring buffer
type EntityFactory[T any] interface {
	// NewInstance is called at most once per slot, when a producer reserves the slot for the first time
	NewInstance() T
	// Reset prepares a used entity for reuse. It is called on every PublishRead
	// and must modify the entity in place.
	Reset(entity T)
}

// FactoryFuncs adapts two plain functions to the EntityFactory interface
type FactoryFuncs[T any] struct {
	New       func() T
	ResetFunc func(T)
}

func (f FactoryFuncs[T]) NewInstance() T {
	return f.New()
}

func (f FactoryFuncs[T]) Reset(entity T) {
	if f.ResetFunc != nil {
		f.ResetFunc(entity)
	}
}

// --------------------------------------------------------------------------
// Ring Buffer
// --------------------------------------------------------------------------

// slot is one cell of the ring. The status is atomic because publishing
// happens outside the mutex, the entity is guarded by the reservation protocol.
type slot[T any] struct {
	status  atomic.Uint32
	entity  T
	created bool
}

// RingBuffer is a fixed capacity, multi-producer multi-consumer buffer of
// recyclable entities with a two-phase reserve/publish protocol for both sides.
type RingBuffer[T any] struct {
	slots   []slot[T]
	factory EntityFactory[T]

	// mu guards putIndex, takeIndex and all reservation transitions
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	putIndex  int
	takeIndex int

	// pending signals left behind by publishers that could not get the lock
	needNotFull  atomic.Bool
	needNotEmpty atomic.Bool

	// goroutines parked (or about to park) on notFull / notEmpty
	writeWaiters atomic.Int32
	readWaiters  atomic.Int32
}

// New creates a ring buffer with the given (fixed) capacity
func New[T any](capacity int, factory EntityFactory[T]) (*RingBuffer[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	if factory == nil {
		return nil, ErrNilFactory
	}

	r := &RingBuffer[T]{
		slots:   make([]slot[T], capacity),
		factory: factory,
	}
	r.notFull = sync.NewCond(&r.mu)
	r.notEmpty = sync.NewCond(&r.mu)

	return r, nil
}

// Capacity returns the fixed number of slots
func (r *RingBuffer[T]) Capacity() int {
	return len(r.slots)
}

// Status returns the current status of the slot at index
func (r *RingBuffer[T]) Status(index int) SlotStatus {
	return SlotStatus(r.slots[index].status.Load())
}

// Get returns the entity of a reserved slot. Only the goroutine holding the
// reservation for index may call Get, and only until it publishes the index.
func (r *RingBuffer[T]) Get(index int) T {
	return r.slots[index].entity
}

// ReserveWriteSlot blocks until the slot at the put index is writeable, marks it
// as writing and returns its index. If ctx is cancelled while waiting the
// context error is returned and no slot is reserved.
func (r *RingBuffer[T]) ReserveWriteSlot(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushSignals()

	if SlotStatus(r.slots[r.putIndex].status.Load()) != Writeable {
		if err := r.await(ctx, r.notFull, &r.writeWaiters, func() bool {
			return SlotStatus(r.slots[r.putIndex].status.Load()) == Writeable
		}); err != nil {
			return -1, err
		}
	}

	// the put index may have moved while we were parked
	s := &r.slots[r.putIndex]
	if !s.created {
		s.entity = r.factory.NewInstance()
		s.created = true
	}

	s.status.Store(uint32(Writing))
	index := r.putIndex
	r.putIndex = r.next(r.putIndex)

	// pass the wakeup on if more producers are parked and the next slot is free as well
	if r.writeWaiters.Load() > 0 && SlotStatus(r.slots[r.putIndex].status.Load()) == Writeable {
		r.notFull.Signal()
	}

	return index, nil
}

// ReserveReadSlot blocks until the slot at the take index is readable, marks it
// as reading and returns its index. If ctx is cancelled while waiting the
// context error is returned and no slot is reserved.
func (r *RingBuffer[T]) ReserveReadSlot(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushSignals()

	if SlotStatus(r.slots[r.takeIndex].status.Load()) != Readable {
		if err := r.await(ctx, r.notEmpty, &r.readWaiters, func() bool {
			return SlotStatus(r.slots[r.takeIndex].status.Load()) == Readable
		}); err != nil {
			return -1, err
		}
	}

	return r.takeLocked(), nil
}

// TryReserveReadSlot is the non-blocking variant of ReserveReadSlot.
// It returns false if the slot at the take index is not readable.
func (r *RingBuffer[T]) TryReserveReadSlot() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushSignals()

	if SlotStatus(r.slots[r.takeIndex].status.Load()) != Readable {
		return -1, false
	}
	return r.takeLocked(), true
}

// PublishWrite hands a reserved write slot over to the consumers
func (r *RingBuffer[T]) PublishWrite(index int) error {
	s := &r.slots[index]
	if !s.status.CompareAndSwap(uint32(Writing), uint32(Readable)) {
		return fmt.Errorf("%w: publish write on slot %d in status %s", ErrInvalidSlotStatus, index, SlotStatus(s.status.Load()))
	}

	r.needNotEmpty.Store(true)
	r.signal(&r.readWaiters)
	return nil
}

// PublishRead resets the entity of a reserved read slot and hands the slot back to the producers
func (r *RingBuffer[T]) PublishRead(index int) error {
	s := &r.slots[index]
	if status := SlotStatus(s.status.Load()); status != Reading {
		return fmt.Errorf("%w: publish read on slot %d in status %s", ErrInvalidSlotStatus, index, status)
	}

	r.factory.Reset(s.entity)
	if !s.status.CompareAndSwap(uint32(Reading), uint32(Writeable)) {
		return fmt.Errorf("%w: slot %d changed status during publish read", ErrInvalidSlotStatus, index)
	}

	r.needNotFull.Store(true)
	r.signal(&r.writeWaiters)
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// next returns the index following i
func (r *RingBuffer[T]) next(i int) int {
	if i++; i == len(r.slots) {
		return 0
	}
	return i
}

// takeLocked reserves the readable slot at the take index. mu must be held.
func (r *RingBuffer[T]) takeLocked() int {
	r.slots[r.takeIndex].status.Store(uint32(Reading))
	index := r.takeIndex
	r.takeIndex = r.next(r.takeIndex)

	if r.readWaiters.Load() > 0 && SlotStatus(r.slots[r.takeIndex].status.Load()) == Readable {
		r.notEmpty.Signal()
	}
	return index
}

// await parks on cond until ready returns true or ctx is done. mu must be held.
// The waiter counter is raised before ready is checked again so that a publisher
// either sees the new status or sees the waiter.
func (r *RingBuffer[T]) await(ctx context.Context, cond *sync.Cond, waiters *atomic.Int32, ready func() bool) error {
	waiters.Add(1)
	defer waiters.Add(-1)

	stop := context.AfterFunc(ctx, r.wakeAll)
	defer stop()

	for !ready() {
		if err := ctx.Err(); err != nil {
			return err
		}
		cond.Wait()
		r.flushSignals()
	}
	return nil
}

// wakeAll wakes every parked goroutine so that cancelled waiters can leave
func (r *RingBuffer[T]) wakeAll() {
	r.mu.Lock()
	r.notFull.Broadcast()
	r.notEmpty.Broadcast()
	r.mu.Unlock()
}

// signal delivers the pending signal of a publisher. The lock is only taken
// without blocking, unless someone is parked on the condition we just satisfied.
func (r *RingBuffer[T]) signal(waiters *atomic.Int32) {
	if r.mu.TryLock() {
		r.flushSignals()
		r.mu.Unlock()
		return
	}

	// nobody to wake, the next lock holder will flush the flag
	if waiters.Load() == 0 {
		return
	}

	r.mu.Lock()
	r.flushSignals()
	r.mu.Unlock()
}

// flushSignals performs the signals left behind by publishers. mu must be held.
func (r *RingBuffer[T]) flushSignals() {
	if r.needNotFull.Load() {
		r.needNotFull.Store(false)
		r.notFull.Signal()
	}
	if r.needNotEmpty.Load() {
		r.needNotEmpty.Store(false)
		r.notEmpty.Signal()
	}
}
