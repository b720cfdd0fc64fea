package transport

// ReadEvent is a read completion stored in the overflow ring buffer
type ReadEvent struct {
	// Session is the session the completion belongs to (not owned by the event)
	Session Session
	// ReadSize is the number of bytes read or EOF
	ReadSize int
}

// readEventFactory creates and recycles the ring buffer entities of the dispatcher
type readEventFactory struct{}

func (readEventFactory) NewInstance() *ReadEvent {
	return &ReadEvent{}
}

func (readEventFactory) Reset(e *ReadEvent) {
	e.Session = nil
	e.ReadSize = 0
}
