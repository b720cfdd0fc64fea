package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dSock/aio/common"
)

// stateRecord is a single recorded state event
type stateRecord struct {
	event StateMachineEvent
	err   error
}

// readRecord is a single recorded read completion
type readRecord struct {
	size      int
	recursion bool
}

// fakeSession records every call of the completion handlers
type fakeSession struct {
	id uint64

	mu     sync.Mutex
	reads  []readRecord
	states []stateRecord

	closes        atomic.Int32
	gracefulClose atomic.Bool
	releases      atomic.Int32
	writes        atomic.Int32

	// hooks
	onRead   func(ctx context.Context, size int) error
	onWrite  func(ctx context.Context) error
	onState  func(event StateMachineEvent)
	closeErr error

	monitor   *countingMonitor
	plugin    Monitor // replaces monitor if set
	processed chan int
}

func newFakeSession(id uint64) *fakeSession {
	return &fakeSession{id: id, processed: make(chan int, 64), monitor: &countingMonitor{}}
}

func (s *fakeSession) ID() uint64 { return s.id }

func (s *fakeSession) ReadFromChannel(ctx context.Context, size int) error {
	s.mu.Lock()
	s.reads = append(s.reads, readRecord{size: size, recursion: InRecursion(ctx)})
	s.mu.Unlock()

	var err error
	if s.onRead != nil {
		err = s.onRead(ctx, size)
	}
	select {
	case s.processed <- size:
	default:
	}
	return err
}

func (s *fakeSession) WriteToChannel(ctx context.Context) error {
	s.writes.Add(1)
	if s.onWrite != nil {
		return s.onWrite(ctx)
	}
	return nil
}

func (s *fakeSession) TryReleaseFlowLimit() { s.releases.Add(1) }

func (s *fakeSession) Close(graceful bool) error {
	s.closes.Add(1)
	s.gracefulClose.Store(graceful)
	return s.closeErr
}

func (s *fakeSession) Config() *common.SessionConfig { return &common.SessionConfig{} }

func (s *fakeSession) Processor() StateHandler { return s }

func (s *fakeSession) Monitor() Monitor {
	if s.plugin != nil {
		return s.plugin
	}
	return s.monitor
}

func (s *fakeSession) StateEvent(_ Session, event StateMachineEvent, err error) {
	s.mu.Lock()
	s.states = append(s.states, stateRecord{event: event, err: err})
	s.mu.Unlock()
	if s.onState != nil {
		s.onState(event)
	}
}

func (s *fakeSession) readRecords() []readRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]readRecord(nil), s.reads...)
}

func (s *fakeSession) stateRecords() []stateRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stateRecord(nil), s.states...)
}

// countingMonitor counts the monitor callbacks
type countingMonitor struct {
	reads     atomic.Int32
	writes    atomic.Int32
	handedOff atomic.Int32
	drained   atomic.Int32
}

func (m *countingMonitor) ReadMonitor(Session, int)  { m.reads.Add(1) }
func (m *countingMonitor) WriteMonitor(Session, int) { m.writes.Add(1) }
func (m *countingMonitor) HandedOff(Session)         { m.handedOff.Add(1) }
func (m *countingMonitor) Drained(Session)           { m.drained.Add(1) }

var errBusiness = errors.New("business failure")

// panickingMonitor panics in every hook
type panickingMonitor struct{}

func (panickingMonitor) ReadMonitor(Session, int)  {}
func (panickingMonitor) WriteMonitor(Session, int) { panic("write monitor") }
func (panickingMonitor) HandedOff(Session)         { panic("handed off monitor") }
func (panickingMonitor) Drained(Session)           { panic("drained monitor") }
