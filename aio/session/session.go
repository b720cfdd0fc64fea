package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ValentinKolb/dSock/aio/common"
	"github.com/ValentinKolb/dSock/aio/group"
	"github.com/ValentinKolb/dSock/aio/protocol"
	"github.com/ValentinKolb/dSock/aio/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("session")

var (
	// ErrSessionClosed is returned for writes to a closing or closed session
	ErrSessionClosed = errors.New("session: closed")
	// ErrReadBufferOverflow is returned if the read buffer is full without holding a complete message
	ErrReadBufferOverflow = errors.New("session: read buffer overflow")
)

// --------------------------------------------------------------------------
// Interface Definitions
// --------------------------------------------------------------------------

// MessageProcessor is the business logic of a server or client
type MessageProcessor[T any] interface {
	// Process is called for every decoded message, in the order of the stream
	Process(s *Session[T], msg T)
	// StateEvent is called for every state change of a session
	StateEvent(s *Session[T], event transport.StateMachineEvent, err error)
}

// StateObserver can be implemented by a transport.Monitor to observe state events
type StateObserver interface {
	StateObserved(s transport.Session, event transport.StateMachineEvent)
}

// Env holds the components a session shares with the other sessions of a server or client
type Env struct {
	Group        *group.Group
	ReadHandler  transport.CompletionHandler
	WriteHandler transport.CompletionHandler
	// Monitor is optional
	Monitor transport.Monitor
	// Buffers is an optional pool of read buffers ([]byte of the configured read buffer size)
	Buffers *sync.Pool
	// OnClose is called once after the session was closed
	OnClose func(id uint64)
}

// --------------------------------------------------------------------------
// Session
// --------------------------------------------------------------------------

// Session is a connection whose reads and writes are driven by the completions
// of a channel group. It implements transport.Session.
type Session[T any] struct {
	id        uint64
	conn      net.Conn
	config    common.SessionConfig
	protocol  protocol.Protocol[T]
	processor MessageProcessor[T]
	env       Env
	ctx       context.Context
	reader    *bufio.Reader

	// owned by the goroutine processing the current read completion
	readLen int
	eof     bool

	mu         sync.Mutex
	readBuf    []byte
	readBusy   bool // a read is in flight or its completion is being processed
	pending    []byte
	inflight   []byte
	writing    bool
	limited    bool
	closing    bool
	closed     bool
	attachment any
	done       chan struct{}
}

// New creates a session for conn. The session does not read before Start is called.
func New[T any](id uint64, conn net.Conn, config common.SessionConfig, proto protocol.Protocol[T], processor MessageProcessor[T], env Env) *Session[T] {
	config.Normalize()

	s := &Session[T]{
		id:        id,
		conn:      conn,
		config:    config,
		protocol:  proto,
		processor: processor,
		env:       env,
		ctx:       context.Background(),
		reader:    bufio.NewReaderSize(conn, config.ReadBufferSize),
		done:      make(chan struct{}),
	}
	s.readBuf = s.acquireBuffer()
	return s
}

// Start reports NewSession to the processor and issues the first read
func (s *Session[T]) Start(ctx context.Context) error {
	s.ctx = ctx
	s.notify(transport.NewSession, nil)
	return s.continueRead(ctx)
}

// ID returns the unique id of the session
func (s *Session[T]) ID() uint64 {
	return s.id
}

// RemoteAddr returns the address of the peer
func (s *Session[T]) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// LocalAddr returns the local address of the connection
func (s *Session[T]) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Attach stores an arbitrary value with the session
func (s *Session[T]) Attach(v any) {
	s.mu.Lock()
	s.attachment = v
	s.mu.Unlock()
}

// Attachment returns the value stored with Attach
func (s *Session[T]) Attachment() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attachment
}

// IsClosed reports whether the session is closing or closed
func (s *Session[T]) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing || s.closed
}

// Done returns a channel that is closed once the session is closed
func (s *Session[T]) Done() <-chan struct{} {
	return s.done
}

func (s *Session[T]) Config() *common.SessionConfig {
	return &s.config
}

func (s *Session[T]) Processor() transport.StateHandler {
	return stateAdapter[T]{s: s}
}

func (s *Session[T]) Monitor() transport.Monitor {
	return s.env.Monitor
}

// --------------------------------------------------------------------------
// Read side
// --------------------------------------------------------------------------

// ReadFromChannel processes a read completion: the new bytes are decoded and
// every complete message is handed to the processor, then the next read is issued.
func (s *Session[T]) ReadFromChannel(ctx context.Context, size int) error {
	next := false
	defer func() {
		if !next {
			s.readDone()
		}
	}()

	if s.IsClosed() {
		return nil
	}

	if size == transport.EOF {
		s.eof = true
	} else {
		s.readLen += size
	}

	if !s.decode() {
		return nil
	}

	if s.eof {
		s.notify(transport.InputShutdown, nil)
		if err := s.Close(true); err != nil {
			Logger.Debugf("Failed to close session %d after end of stream: %v", s.id, err)
		}
		return nil
	}

	if err := s.continueRead(ctx); err != nil {
		return err
	}
	next = true
	return nil
}

// decode hands all complete messages of the read buffer to the processor.
// It returns false if the session was closed meanwhile.
func (s *Session[T]) decode() bool {
	off := 0
	for off < s.readLen {
		msg, n, err := s.protocol.Decode(s.readBuf[off:s.readLen], s.eof)
		if err != nil {
			s.notify(transport.DecodeException, err)
			if err := s.Close(false); err != nil {
				Logger.Debugf("Failed to close session %d after decode error: %v", s.id, err)
			}
			return false
		}
		if n == 0 {
			break
		}
		off += n

		s.process(msg)
		if s.IsClosed() {
			return false
		}
	}

	// keep the partial message at the start of the buffer
	if off > 0 {
		copy(s.readBuf, s.readBuf[off:s.readLen])
		s.readLen -= off
	}
	return true
}

// process runs the processor, a panic is reported as ProcessException
func (s *Session[T]) process(msg T) {
	defer func() {
		if r := recover(); r != nil {
			s.notify(transport.ProcessException, &transport.PanicError{Value: r})
		}
	}()
	s.processor.Process(s, msg)
}

// continueRead issues the next read into the free part of the read buffer
func (s *Session[T]) continueRead(ctx context.Context) error {
	s.mu.Lock()
	if s.closing || s.closed {
		s.mu.Unlock()
		return nil
	}
	if s.readLen >= len(s.readBuf) {
		s.mu.Unlock()
		return fmt.Errorf("%w: session %d holds %d bytes without a complete message", ErrReadBufferOverflow, s.id, s.readLen)
	}
	s.readBusy = true
	buf := s.readBuf[s.readLen:]
	s.mu.Unlock()

	if err := s.env.Group.Read(ctx, s.reader, buf, s, s.env.ReadHandler); err != nil {
		return fmt.Errorf("failed to issue read: %w", err)
	}
	return nil
}

// readDone marks the read side idle and releases the read buffer of a closed session
func (s *Session[T]) readDone() {
	s.mu.Lock()
	s.readBusy = false
	buf := s.takeBufferLocked()
	s.mu.Unlock()
	s.releaseBuffer(buf)
}

// --------------------------------------------------------------------------
// Write side
// --------------------------------------------------------------------------

// Write encodes msg and queues it for writing
func (s *Session[T]) Write(msg T) error {
	data, err := s.protocol.Encode(msg)
	if err != nil {
		return err
	}
	return s.WriteBytes(data)
}

// WriteBytes queues raw bytes for writing. The session reports FlowLimit once
// the queued bytes reach the high water mark; writes are still accepted.
func (s *Session[T]) WriteBytes(data []byte) error {
	s.mu.Lock()
	if s.closing || s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}

	s.pending = append(s.pending, data...)
	limit := !s.limited && len(s.pending) >= s.config.WriteHighWaterMark
	if limit {
		s.limited = true
	}
	flush := s.takePendingLocked()
	s.mu.Unlock()

	if limit {
		s.notify(transport.FlowLimit, nil)
	}
	if flush != nil {
		return s.issueWrite(s.ctx, flush)
	}
	return nil
}

// WriteToChannel is called after a write completed and issues the next write if
// more bytes are queued. A graceful close finishes once nothing is left.
func (s *Session[T]) WriteToChannel(ctx context.Context) error {
	s.mu.Lock()
	s.writing = false
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	flush := s.takePendingLocked()
	finish := flush == nil && s.closing
	s.mu.Unlock()

	if flush != nil {
		return s.issueWrite(ctx, flush)
	}
	if finish {
		if err := s.finishClose(); err != nil {
			Logger.Debugf("Failed to close session %d after flush: %v", s.id, err)
		}
	}
	return nil
}

// TryReleaseFlowLimit reports ReleaseFlowLimit once the queued bytes dropped to the low water mark
func (s *Session[T]) TryReleaseFlowLimit() {
	s.mu.Lock()
	release := s.limited && len(s.pending) <= s.config.WriteLowWaterMark
	if release {
		s.limited = false
	}
	s.mu.Unlock()

	if release {
		s.notify(transport.ReleaseFlowLimit, nil)
	}
}

// takePendingLocked moves the queued bytes in flight, nil if a write is already in flight
func (s *Session[T]) takePendingLocked() []byte {
	if s.writing || len(s.pending) == 0 {
		return nil
	}
	s.writing = true
	s.inflight, s.pending = s.pending, s.inflight[:0]
	return s.inflight
}

func (s *Session[T]) issueWrite(ctx context.Context, data []byte) error {
	if t := s.config.WriteTimeoutSecond; t > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(time.Duration(t) * time.Second)); err != nil {
			Logger.Debugf("Failed to set write deadline of session %d: %v", s.id, err)
		}
	}

	if err := s.env.Group.Write(ctx, s.conn, data, s, s.env.WriteHandler); err != nil {
		s.mu.Lock()
		s.writing = false
		s.mu.Unlock()
		return fmt.Errorf("failed to issue write: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Close
// --------------------------------------------------------------------------

// Close closes the session. A graceful close waits until all queued bytes
// are written. SessionClosing and SessionClosed are reported exactly once.
// The error of closing the connection is returned, closing a closed session is a no-op.
func (s *Session[T]) Close(graceful bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if graceful && (s.writing || len(s.pending) > 0) {
		first := !s.closing
		s.closing = true
		s.mu.Unlock()
		if first {
			s.notify(transport.SessionClosing, nil)
		}
		return nil
	}
	s.mu.Unlock()
	return s.finishClose()
}

func (s *Session[T]) finishClose() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	notifyClosing := !s.closing
	s.closing, s.closed = true, true
	buf := s.takeBufferLocked()
	s.mu.Unlock()

	if notifyClosing {
		s.notify(transport.SessionClosing, nil)
	}
	err := s.conn.Close()
	s.releaseBuffer(buf)
	s.notify(transport.SessionClosed, nil)
	close(s.done)

	if s.env.OnClose != nil {
		s.env.OnClose(s.id)
	}
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *Session[T]) acquireBuffer() []byte {
	if s.env.Buffers != nil {
		if buf, ok := s.env.Buffers.Get().([]byte); ok && len(buf) == s.config.ReadBufferSize {
			return buf
		}
	}
	return make([]byte, s.config.ReadBufferSize)
}

// takeBufferLocked hands out the read buffer once the session is closed and no read uses it
func (s *Session[T]) takeBufferLocked() []byte {
	if !s.closed || s.readBusy || s.readBuf == nil {
		return nil
	}
	buf := s.readBuf
	s.readBuf = nil
	return buf
}

func (s *Session[T]) releaseBuffer(buf []byte) {
	if buf != nil && s.env.Buffers != nil {
		s.env.Buffers.Put(buf)
	}
}

// notify reports a state event to the processor and the monitor
func (s *Session[T]) notify(event transport.StateMachineEvent, err error) {
	if o, ok := s.env.Monitor.(StateObserver); ok {
		o.StateObserved(s, event)
	}
	s.processor.StateEvent(s, event, err)
}

// stateAdapter forwards the state events of the completion handlers to the processor
type stateAdapter[T any] struct {
	s *Session[T]
}

func (a stateAdapter[T]) StateEvent(_ transport.Session, event transport.StateMachineEvent, err error) {
	if event == transport.InputException {
		// the read failed or its processing ended with an error
		a.s.readDone()
	}

	// the in-flight operations of a closed session fail with the closed connection
	if (event == transport.InputException || event == transport.OutputException) && a.s.isHardClosed() {
		Logger.Debugf("Ignoring %s of closed session %d: %v", event, a.s.id, err)
		return
	}
	a.s.notify(event, err)
}

func (s *Session[T]) isHardClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
