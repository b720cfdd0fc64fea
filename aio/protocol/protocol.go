package protocol

import "errors"

var (
	// ErrFrameTooLarge is returned for frames exceeding the maximum frame size
	ErrFrameTooLarge = errors.New("protocol: frame too large")
	// ErrTruncated is returned if the stream ended inside a message
	ErrTruncated = errors.New("protocol: stream ended inside a message")
	// ErrLineTooLong is returned for lines exceeding the maximum line length
	ErrLineTooLong = errors.New("protocol: line too long")
)

// Protocol decodes messages from the read buffer of a session and encodes
// outgoing messages.
type Protocol[T any] interface {
	// Decode decodes the next message from buf. n is the number of bytes consumed,
	// n == 0 means that buf does not hold a complete message yet. eof reports that
	// no more data will follow. The returned message must not reference buf.
	Decode(buf []byte, eof bool) (msg T, n int, err error)

	// Encode returns the wire representation of msg
	Encode(msg T) ([]byte, error)
}
