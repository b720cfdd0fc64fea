// Package ringbuffer provides a fixed capacity, blocking ring buffer of recyclable entities.
//
// Features and Guarantees:
//
//   - Fixed Size: the buffer never allocates beyond its capacity, entities are created
//     lazily (once per slot) by an EntityFactory and recycled with Reset afterwards
//   - Two-Phase Protocol: producers and consumers reserve a slot index under the lock,
//     work on the entity without holding the lock and publish the index afterwards
//   - Multi-Producer Multi-Consumer: any number of goroutines may reserve slots of either role
//   - FIFO per Role: indexes are handed out in ring order, ties are resolved by whoever
//     acquires the mutex first
//   - Coalesced Signaling: publishing only wakes parked goroutines if the lock is free or
//     somebody is actually parked, pending signals are flushed by the next lock holder
//   - Cancellation: blocking reservations return the context error when the context is done
//
// Slot Protocol:
//
//	WRITEABLE --ReserveWriteSlot--> WRITING --PublishWrite--> READABLE
//	READABLE  --ReserveReadSlot---> READING --PublishRead---> WRITEABLE
//
// Publishing a slot that is not in the expected status returns ErrInvalidSlotStatus.
// This always indicates a bug in the caller and must not be ignored.
//
// Usage:
//
//	rb, _ := ringbuffer.New[*Event](1024, ringbuffer.FactoryFuncs[*Event]{
//		New:       func() *Event { return &Event{} },
//		ResetFunc: func(e *Event) { *e = Event{} },
//	})
//
//	i, _ := rb.ReserveWriteSlot(ctx)
//	rb.Get(i).Value = 42
//	_ = rb.PublishWrite(i)
//
//	j, _ := rb.ReserveReadSlot(ctx)
//	v := rb.Get(j).Value
//	_ = rb.PublishRead(j)
package ringbuffer
