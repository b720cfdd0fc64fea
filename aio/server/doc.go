// Package server implements the accepting side of dSock.
//
// A Server listens through the connector of the configured network (tcp or
// unix, optionally with SO_REUSEPORT), upgrades every accepted connection with
// the socket options and starts a session for it. All sessions share one
// channel group, one read completion handler (with its drain worker) and one
// pool of read buffers. Open sessions are tracked in a concurrent map so that
// Serve can close them on shutdown.
//
// The MessageProcessor is shared by all sessions and must be safe for
// concurrent use; messages of a single session are processed in order.
package server
