package protocol

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
)

// ISerializer converts typed messages to bytes and back
type ISerializer[T any] interface {
	// Serialize serializes a message into a byte array
	Serialize(msg T) ([]byte, error)
	// Deserialize deserializes a byte array into a message
	Deserialize(b []byte) (T, error)
}

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer[T any]() ISerializer[T] {
	return jsonSerializer[T]{}
}

type jsonSerializer[T any] struct{}

func (jsonSerializer[T]) Serialize(msg T) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonSerializer[T]) Deserialize(b []byte) (T, error) {
	var msg T
	err := json.Unmarshal(b, &msg)
	return msg, err
}

// NewGOBSerializer creates a new serializer using Go's binary gob format
func NewGOBSerializer[T any]() ISerializer[T] {
	return gobSerializer[T]{}
}

type gobSerializer[T any] struct{}

func (gobSerializer[T]) Serialize(msg T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobSerializer[T]) Deserialize(b []byte) (T, error) {
	var msg T
	err := gob.NewDecoder(bytes.NewReader(b)).Decode(&msg)
	return msg, err
}

// MessageProtocol sends typed messages as frames, the payload of every frame
// is one serialized message
type MessageProtocol[T any] struct {
	frames     *FrameProtocol
	serializer ISerializer[T]
}

// NewMessageProtocol creates a protocol for typed messages with a serialized size of at most maxFrameSize
func NewMessageProtocol[T any](maxFrameSize int, serializer ISerializer[T]) *MessageProtocol[T] {
	return &MessageProtocol[T]{
		frames:     NewFrameProtocol(maxFrameSize),
		serializer: serializer,
	}
}

func (p *MessageProtocol[T]) Decode(buf []byte, eof bool) (T, int, error) {
	var msg T
	payload, n, err := p.frames.Decode(buf, eof)
	if err != nil || n == 0 {
		return msg, n, err
	}

	msg, err = p.serializer.Deserialize(payload)
	if err != nil {
		return msg, 0, fmt.Errorf("failed to deserialize message: %w", err)
	}
	return msg, n, nil
}

func (p *MessageProtocol[T]) Encode(msg T) ([]byte, error) {
	payload, err := p.serializer.Serialize(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}
	return p.frames.Encode(payload)
}
