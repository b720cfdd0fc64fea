package group

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dSock/aio/common"
	"github.com/ValentinKolb/dSock/aio/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSession is a session without behaviour, only its ID is used by the group
type stubSession struct{ id uint64 }

func (s stubSession) ID() uint64                                 { return s.id }
func (s stubSession) ReadFromChannel(context.Context, int) error { return nil }
func (s stubSession) WriteToChannel(context.Context) error       { return nil }
func (s stubSession) TryReleaseFlowLimit()                       {}
func (s stubSession) Close(bool) error                           { return nil }
func (s stubSession) Config() *common.SessionConfig              { return &common.SessionConfig{} }
func (s stubSession) Processor() transport.StateHandler          { return nil }
func (s stubSession) Monitor() transport.Monitor                 { return nil }

// call is a single recorded handler invocation
type call struct {
	result int
	err    error
	depth  int
	onBoss bool
}

// recordingHandler records completions and optionally issues the next operation
type recordingHandler struct {
	g     *Group
	mu    sync.Mutex
	calls []call
	next  func(ctx context.Context, c call) bool
	done  chan struct{}
	once  sync.Once
}

func newRecordingHandler(g *Group) *recordingHandler {
	return &recordingHandler{g: g, done: make(chan struct{})}
}

func (h *recordingHandler) record(ctx context.Context, c call) {
	c.depth, c.onBoss = h.g.invokerOf(ctx)
	h.mu.Lock()
	h.calls = append(h.calls, c)
	h.mu.Unlock()

	if h.next == nil || !h.next(ctx, c) {
		h.once.Do(func() { close(h.done) })
	}
}

func (h *recordingHandler) Completed(ctx context.Context, result int, _ transport.Session) {
	h.record(ctx, call{result: result})
}

func (h *recordingHandler) Failed(ctx context.Context, err error, _ transport.Session) {
	h.record(ctx, call{err: err})
}

func (h *recordingHandler) wait(t *testing.T) []call {
	t.Helper()
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for completions")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]call(nil), h.calls...)
}

func newTestGroup(t *testing.T, bosses int) *Group {
	t.Helper()
	g, err := New(context.Background(), bosses)
	require.NoError(t, err)
	t.Cleanup(func() {
		g.Close()
		g.Wait()
	})
	return g
}

// errReader fails every read
type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestNewInvalidBossThreads(t *testing.T) {
	for _, n := range []int{0, -3} {
		g, err := New(context.Background(), n)
		assert.Nil(t, g)
		assert.ErrorIs(t, err, ErrInvalidBossThreads)
	}
}

func TestReadResults(t *testing.T) {
	readErr := errors.New("connection reset")

	tests := []struct {
		name     string
		reader   io.Reader
		expected call
	}{
		{name: "data", reader: strings.NewReader("hello"), expected: call{result: 5}},
		{name: "eof", reader: strings.NewReader(""), expected: call{result: transport.EOF}},
		{name: "error", reader: errReader{err: readErr}, expected: call{err: readErr}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGroup(t, 2)
			h := newRecordingHandler(g)

			buf := make([]byte, 16)
			require.NoError(t, g.Read(context.Background(), bufio.NewReader(tt.reader), buf, stubSession{id: 1}, h))

			calls := h.wait(t)
			require.Len(t, calls, 1)
			assert.Equal(t, tt.expected.result, calls[0].result)
			assert.Equal(t, tt.expected.err, calls[0].err)
			// asynchronous completions are delivered by a boss goroutine
			assert.True(t, calls[0].onBoss)
			assert.Equal(t, 0, calls[0].depth)
		})
	}
}

// TestInlineCompletion tests that buffered data completes synchronously on the boss goroutine
func TestInlineCompletion(t *testing.T) {
	g := newTestGroup(t, 1)
	h := newRecordingHandler(g)

	data := bytes.Repeat([]byte("a"), 64)
	r := bufio.NewReaderSize(bytes.NewReader(data), 16)
	buf := make([]byte, 4)
	s := stubSession{id: 1}

	h.next = func(ctx context.Context, c call) bool {
		if c.result == transport.EOF || c.err != nil {
			return false
		}
		require.NoError(t, g.Read(ctx, r, buf, s, h))
		return true
	}
	require.NoError(t, g.Read(context.Background(), r, buf, s, h))

	calls := h.wait(t)
	total, inline := 0, 0
	for _, c := range calls {
		require.NoError(t, c.err)
		require.True(t, c.onBoss)
		if c.result > 0 {
			total += c.result
		}
		if c.depth > 0 {
			inline++
		}
	}
	assert.Equal(t, len(data), total)
	assert.Equal(t, transport.EOF, calls[len(calls)-1].result)
	// every 16 byte fill is followed by three reads served from the buffer
	assert.Equal(t, 12, inline)
}

// TestInlineDepthBounded tests that nested synchronous completions stop at MaxInlineDepth
func TestInlineDepthBounded(t *testing.T) {
	g := newTestGroup(t, 1)
	h := newRecordingHandler(g)

	data := bytes.Repeat([]byte("b"), 100)
	r := bufio.NewReaderSize(bytes.NewReader(data), 4096)
	buf := make([]byte, 1)
	s := stubSession{id: 1}

	h.next = func(ctx context.Context, c call) bool {
		if c.result == transport.EOF || c.err != nil {
			return false
		}
		require.NoError(t, g.Read(ctx, r, buf, s, h))
		return true
	}
	require.NoError(t, g.Read(context.Background(), r, buf, s, h))

	calls := h.wait(t)
	maxDepth := 0
	for _, c := range calls {
		maxDepth = max(maxDepth, c.depth)
	}
	assert.Equal(t, MaxInlineDepth, maxDepth)
	assert.Len(t, calls, len(data)+1)
}

// TestReadOutsideBossIsAsync tests that buffered data does not complete inline on foreign goroutines
func TestReadOutsideBossIsAsync(t *testing.T) {
	g := newTestGroup(t, 1)
	other := newTestGroup(t, 1)
	h := newRecordingHandler(g)

	r := bufio.NewReader(strings.NewReader("abcdef"))
	_, err := r.Peek(1) // fill the buffer
	require.NoError(t, err)
	require.Positive(t, r.Buffered())

	// a context of another group must not count as a boss goroutine of g
	ctx := withInvoker(context.Background(), other, 0)
	require.NoError(t, g.Read(ctx, r, make([]byte, 8), stubSession{id: 1}, h))

	calls := h.wait(t)
	require.Len(t, calls, 1)
	assert.Equal(t, 6, calls[0].result)
	assert.Equal(t, 0, calls[0].depth)
}

func TestWrite(t *testing.T) {
	g := newTestGroup(t, 2)
	h := newRecordingHandler(g)

	var out bytes.Buffer
	require.NoError(t, g.Write(context.Background(), &out, []byte("payload"), stubSession{id: 1}, h))

	calls := h.wait(t)
	require.Len(t, calls, 1)
	assert.Equal(t, 7, calls[0].result)
	assert.Equal(t, "payload", out.String())
}

// TestClose tests that pending and late completions are failed after close
func TestClose(t *testing.T) {
	g, err := New(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, g.BossThreads())

	h := newRecordingHandler(g)
	pr, pw := io.Pipe()

	// the read blocks until the group is closed
	require.NoError(t, g.Read(context.Background(), bufio.NewReader(pr), make([]byte, 8), stubSession{id: 1}, h))

	g.Close()
	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("boss threads did not stop")
	}

	assert.ErrorIs(t, g.Read(context.Background(), bufio.NewReader(strings.NewReader("x")), make([]byte, 1), stubSession{id: 2}, h), ErrGroupClosed)
	assert.ErrorIs(t, g.Write(context.Background(), io.Discard, []byte("x"), stubSession{id: 2}, h), ErrGroupClosed)

	// the late completion is failed instead of lost
	_, err = pw.Write([]byte("late"))
	require.NoError(t, err)

	calls := h.wait(t)
	require.Len(t, calls, 1)
	assert.ErrorIs(t, calls[0].err, ErrGroupClosed)
}

// TestHandlerPanicKeepsBoss tests that a panicking handler does not stop its boss goroutine
func TestHandlerPanicKeepsBoss(t *testing.T) {
	g := newTestGroup(t, 1)

	first := true
	h := newRecordingHandler(g)
	h.next = func(context.Context, call) bool {
		if first {
			first = false
			panic("handler failure")
		}
		return false
	}

	require.NoError(t, g.Read(context.Background(), bufio.NewReader(strings.NewReader("a")), make([]byte, 1), stubSession{id: 1}, h))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, g.Read(context.Background(), bufio.NewReader(strings.NewReader("b")), make([]byte, 1), stubSession{id: 2}, h))

	calls := h.wait(t)
	assert.Len(t, calls, 2)
}
