// Package session implements the connection side of dSock: a Session owns one
// net.Conn and is driven entirely by the completions of a channel group.
//
// Read path: a completed read is dispatched by the transport read handler to
// ReadFromChannel, which decodes all complete messages with the session's
// Protocol, hands them to the MessageProcessor and issues the next read. Each
// session has at most one read in flight, so messages are processed in stream
// order. Buffered bytes of a connection are delivered as synchronous
// completions on the same boss goroutine.
//
// Write path: Write encodes a message into the pending buffer. At most one
// group write is in flight; its completion schedules the next one. Outbound
// flow control reports FLOW_LIMIT when the pending bytes reach the high water
// mark and RELEASE_FLOW_LIMIT when they drop to the low water mark.
//
// Close(graceful) waits for pending writes before closing the connection.
// SESSION_CLOSING and SESSION_CLOSED are reported exactly once.
package session
