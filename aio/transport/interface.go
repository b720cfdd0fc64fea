package transport

import (
	"context"
	"github.com/ValentinKolb/dSock/aio/common"
)

// EOF is the read result reported when the peer closed its side of the stream
const EOF = -1

// --------------------------------------------------------------------------
// Session
// --------------------------------------------------------------------------

// Session is the view of a connection the completion handlers work with.
// The read/write state machine itself is implemented by the session package.
type Session interface {
	// ID returns the unique id of the session
	ID() uint64
	// ReadFromChannel consumes a read completion of size bytes (or EOF).
	// It decodes and processes the received messages and issues the next read.
	ReadFromChannel(ctx context.Context, size int) error
	// WriteToChannel issues the next pending write of the session, if any
	WriteToChannel(ctx context.Context) error
	// TryReleaseFlowLimit lifts the outbound flow limit if enough bytes have been written
	TryReleaseFlowLimit()
	// Close closes the session. A graceful close flushes pending writes first.
	Close(graceful bool) error
	// Config returns the configuration the session was created with
	Config() *common.SessionConfig
	// Processor returns the handler for lifecycle and error events
	Processor() StateHandler
	// Monitor returns the monitor plugin of the session or nil
	Monitor() Monitor
}

// StateHandler receives lifecycle and error notifications of sessions
type StateHandler interface {
	StateEvent(s Session, event StateMachineEvent, err error)
}

// Monitor is an optional plugin observing the traffic of sessions
type Monitor interface {
	// ReadMonitor is called before a read completion is processed
	ReadMonitor(s Session, size int)
	// WriteMonitor is called for every write completion
	WriteMonitor(s Session, size int)
	// HandedOff is called when a read completion was stored in the overflow ring buffer
	HandedOff(s Session)
	// Drained is called when a stored read completion was taken from the ring buffer
	Drained(s Session)
}

// --------------------------------------------------------------------------
// Completion Handler
// --------------------------------------------------------------------------

// CompletionHandler receives the results of asynchronous read or write operations
type CompletionHandler interface {
	// Completed is called with the number of bytes transferred (or EOF)
	Completed(ctx context.Context, result int, s Session)
	// Failed is called if the operation itself failed
	Failed(ctx context.Context, err error, s Session)
}
