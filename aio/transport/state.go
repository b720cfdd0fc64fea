package transport

import "fmt"

// StateMachineEvent is the kind of a session lifecycle or error notification
type StateMachineEvent int

const (
	// NewSession is sent once the session is registered and starts reading
	NewSession StateMachineEvent = iota
	// InputShutdown is sent when the peer closed its side of the stream
	InputShutdown
	// ProcessException is sent when the processor failed on a decoded message
	ProcessException
	// DecodeException is sent when the protocol failed to decode the read buffer
	DecodeException
	// InputException is sent when a read or its processing failed
	InputException
	// OutputException is sent when a write failed
	OutputException
	// SessionClosing is sent when a graceful close waits for pending writes
	SessionClosing
	// SessionClosed is sent exactly once when the session is closed
	SessionClosed
	// FlowLimit is sent when the pending outbound bytes exceed the high water mark
	FlowLimit
	// ReleaseFlowLimit is sent when a limited session dropped below the low water mark
	ReleaseFlowLimit
)

func (e StateMachineEvent) String() string {
	switch e {
	case NewSession:
		return "NEW_SESSION"
	case InputShutdown:
		return "INPUT_SHUTDOWN"
	case ProcessException:
		return "PROCESS_EXCEPTION"
	case DecodeException:
		return "DECODE_EXCEPTION"
	case InputException:
		return "INPUT_EXCEPTION"
	case OutputException:
		return "OUTPUT_EXCEPTION"
	case SessionClosing:
		return "SESSION_CLOSING"
	case SessionClosed:
		return "SESSION_CLOSED"
	case FlowLimit:
		return "FLOW_LIMIT"
	case ReleaseFlowLimit:
		return "RELEASE_FLOW_LIMIT"
	default:
		return fmt.Sprintf("StateMachineEvent(%d)", int(e))
	}
}
