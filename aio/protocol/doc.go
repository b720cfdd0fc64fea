// Package protocol defines how sessions turn the bytes of a connection into
// messages and back.
//
// A Protocol is stateless and shared by all sessions of a server or client. The
// session calls Decode repeatedly on its read buffer until the protocol reports
// that no complete message is left (n == 0), then compacts the buffer and issues
// the next read. Decode errors are reported to the processor as DECODE_EXCEPTION
// and close the session.
//
// Implementations:
//
//   - FrameProtocol: binary messages with a 4 byte big endian length prefix.
//   - LineProtocol: newline delimited text, e.g. for telnet style clients.
//   - MessageProtocol: typed messages serialized with json or gob inside frames.
package protocol
