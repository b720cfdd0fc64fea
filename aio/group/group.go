package group

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ValentinKolb/dSock/aio/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("group")

const (
	// MaxInlineDepth is the maximum number of nested synchronous completions on one boss goroutine
	MaxInlineDepth = 16

	// completionsPerBoss sizes the completion queue
	completionsPerBoss = 64
)

var (
	// ErrGroupClosed is returned for operations issued after the group was closed
	ErrGroupClosed = errors.New("group: closed")
	// ErrInvalidBossThreads is returned for a boss pool without goroutines
	ErrInvalidBossThreads = errors.New("group: boss threads must be positive")
)

// --------------------------------------------------------------------------
// Invoker marker
// --------------------------------------------------------------------------

// invokerKey marks a context that belongs to a completion running on a boss goroutine
type invokerKey struct{}

type invoker struct {
	group *Group
	depth int
}

func withInvoker(ctx context.Context, g *Group, depth int) context.Context {
	return context.WithValue(ctx, invokerKey{}, invoker{group: g, depth: depth})
}

// invokerOf returns the inline depth of ctx, ok is false if ctx does not
// belong to a boss goroutine of g
func (g *Group) invokerOf(ctx context.Context) (depth int, ok bool) {
	inv, found := ctx.Value(invokerKey{}).(invoker)
	if !found || inv.group != g {
		return 0, false
	}
	return inv.depth, true
}

// --------------------------------------------------------------------------
// Group
// --------------------------------------------------------------------------

// completion is the result of an asynchronous operation waiting for a boss goroutine
type completion struct {
	result  int
	err     error
	session transport.Session
	handler transport.CompletionHandler
}

// Group is a fixed pool of boss goroutines that deliver the completions of
// asynchronous reads and writes to their completion handlers.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	queue  chan completion
	bosses int
	wg     sync.WaitGroup

	// closed is set by the first boss goroutine that observes the cancellation,
	// no completion is queued after that
	mu     sync.RWMutex
	closed bool
}

// New starts a group with the given number of boss goroutines.
// The group stops when ctx is done or Close is called.
func New(ctx context.Context, bossThreads int) (*Group, error) {
	if bossThreads <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBossThreads, bossThreads)
	}

	ctx, cancel := context.WithCancel(ctx)
	g := &Group{
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan completion, bossThreads*completionsPerBoss),
		bosses: bossThreads,
	}

	g.wg.Add(bossThreads)
	for i := 0; i < bossThreads; i++ {
		go g.boss(i)
	}

	Logger.Infof("Started channel group with %d boss threads", bossThreads)
	return g, nil
}

// BossThreads returns the size of the boss pool
func (g *Group) BossThreads() int {
	return g.bosses
}

// Close stops the boss goroutines. Completions that arrive later are failed with ErrGroupClosed.
func (g *Group) Close() {
	g.cancel()
}

// Wait blocks until all boss goroutines have stopped
func (g *Group) Wait() {
	g.wg.Wait()
}

// Read issues an asynchronous read into buf.
//
// The read completes with the number of bytes read, or transport.EOF at the end
// of the stream. If ctx belongs to a boss goroutine of this group and r already
// holds buffered bytes, the read completes synchronously on the calling
// goroutine (bounded by MaxInlineDepth).
func (g *Group) Read(ctx context.Context, r *bufio.Reader, buf []byte, s transport.Session, h transport.CompletionHandler) error {
	if g.ctx.Err() != nil {
		return ErrGroupClosed
	}

	if depth, ok := g.invokerOf(ctx); ok && depth < MaxInlineDepth && r.Buffered() > 0 {
		// served from the buffer, never blocks
		n, err := r.Read(buf)
		g.invoke(withInvoker(ctx, g, depth+1), readResult(n, err), s, h)
		return nil
	}

	go func() {
		n, err := r.Read(buf)
		c := readResult(n, err)
		c.session, c.handler = s, h
		g.post(c)
	}()
	return nil
}

// Write issues an asynchronous write of data to w. The write completes with
// the number of bytes written once all of data was transferred.
func (g *Group) Write(_ context.Context, w io.Writer, data []byte, s transport.Session, h transport.CompletionHandler) error {
	if g.ctx.Err() != nil {
		return ErrGroupClosed
	}

	go func() {
		n, err := w.Write(data)
		g.post(completion{result: n, err: err, session: s, handler: h})
	}()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func readResult(n int, err error) completion {
	switch {
	case n > 0:
		// data first, the error is reported by the next read
		return completion{result: n}
	case errors.Is(err, io.EOF):
		return completion{result: transport.EOF}
	case err != nil:
		return completion{err: err}
	default:
		return completion{err: io.ErrNoProgress}
	}
}

// post hands a completion to the boss goroutines
func (g *Group) post(c completion) {
	g.mu.RLock()
	if !g.closed {
		select {
		case g.queue <- c:
			g.mu.RUnlock()
			return
		case <-g.ctx.Done():
		}
	}
	g.mu.RUnlock()

	Logger.Debugf("Group closed, failing completion of session %d", c.session.ID())
	c.handler.Failed(g.ctx, ErrGroupClosed, c.session)
}

// boss delivers queued completions until the group is closed
func (g *Group) boss(id int) {
	defer g.wg.Done()
	ctx := withInvoker(g.ctx, g, 0)

	for {
		select {
		case <-g.ctx.Done():
			g.mu.Lock()
			g.closed = true
			g.mu.Unlock()
			g.failPending()
			Logger.Debugf("Boss thread %d stopped", id)
			return
		case c := <-g.queue:
			g.invoke(ctx, c, c.session, c.handler)
		}
	}
}

// failPending fails the completions that are still queued after close
func (g *Group) failPending() {
	for {
		select {
		case c := <-g.queue:
			c.handler.Failed(g.ctx, ErrGroupClosed, c.session)
		default:
			return
		}
	}
}

// invoke runs the completion handler, a panic never stops the boss goroutine
func (g *Group) invoke(ctx context.Context, c completion, s transport.Session, h transport.CompletionHandler) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("Completion handler of session %d panicked: %v", s.ID(), r)
		}
	}()

	if c.err != nil {
		h.Failed(ctx, c.err, s)
		return
	}
	h.Completed(ctx, c.result, s)
}
