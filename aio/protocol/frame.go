package protocol

import (
	"encoding/binary"
	"fmt"
)

// FrameHeaderSize is the size of the length prefix of a frame
const FrameHeaderSize = 4

// FrameProtocol frames byte messages with a length prefix:
// - 4 bytes: payload length (uint32, big endian)
// - N bytes: payload
type FrameProtocol struct {
	maxFrameSize int
}

// NewFrameProtocol creates a frame protocol that rejects payloads larger than maxFrameSize
func NewFrameProtocol(maxFrameSize int) *FrameProtocol {
	return &FrameProtocol{maxFrameSize: maxFrameSize}
}

// MaxFrameSize returns the largest accepted payload
func (p *FrameProtocol) MaxFrameSize() int {
	return p.maxFrameSize
}

func (p *FrameProtocol) Decode(buf []byte, eof bool) ([]byte, int, error) {
	// wait for the header
	if len(buf) < FrameHeaderSize {
		if eof && len(buf) > 0 {
			return nil, 0, fmt.Errorf("%w: %d header bytes", ErrTruncated, len(buf))
		}
		return nil, 0, nil
	}

	contentLength := int(binary.BigEndian.Uint32(buf[:FrameHeaderSize]))
	if contentLength > p.maxFrameSize {
		return nil, 0, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, contentLength, p.maxFrameSize)
	}

	// wait for the payload
	frameSize := FrameHeaderSize + contentLength
	if len(buf) < frameSize {
		if eof {
			return nil, 0, fmt.Errorf("%w: %d of %d payload bytes", ErrTruncated, len(buf)-FrameHeaderSize, contentLength)
		}
		return nil, 0, nil
	}

	// the read buffer is reused, the payload is copied out
	payload := make([]byte, contentLength)
	copy(payload, buf[FrameHeaderSize:frameSize])
	return payload, frameSize, nil
}

func (p *FrameProtocol) Encode(payload []byte) ([]byte, error) {
	if len(payload) > p.maxFrameSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, len(payload), p.maxFrameSize)
	}

	frame := make([]byte, FrameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame[:FrameHeaderSize], uint32(len(payload)))
	copy(frame[FrameHeaderSize:], payload)
	return frame, nil
}
