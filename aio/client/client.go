package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dSock/aio/common"
	"github.com/ValentinKolb/dSock/aio/connector"
	"github.com/ValentinKolb/dSock/aio/group"
	"github.com/ValentinKolb/dSock/aio/protocol"
	"github.com/ValentinKolb/dSock/aio/session"
	"github.com/ValentinKolb/dSock/aio/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("client")

var (
	// ErrNotConnected is returned if the client has no open session
	ErrNotConnected = errors.New("client: not connected")
	// ErrAlreadyConnected is returned if Connect is called twice
	ErrAlreadyConnected = errors.New("client: already connected")
)

// Client opens a fixed number of sessions to one endpoint. All sessions share
// one channel group, like the sessions of a server.
type Client[T any] struct {
	config    common.ClientConfig
	connector connector.IClientConnector
	protocol  protocol.Protocol[T]
	processor session.MessageProcessor[T]
	monitor   transport.Monitor

	mu          sync.RWMutex
	sessions    []*session.Session[T]
	nextSession atomic.Uint64 // Atomic counter for Round Robin
	cancel      context.CancelFunc
	group       *group.Group
	readHandler *transport.ReadCompletionHandler
}

// Option configures a client
type Option[T any] func(c *Client[T])

// WithMonitor installs a monitor plugin for all sessions
func WithMonitor[T any](m transport.Monitor) Option[T] {
	return func(c *Client[T]) {
		c.monitor = m
	}
}

// New creates a client, no connection is opened before Connect
func New[T any](config common.ClientConfig, proto protocol.Protocol[T], processor session.MessageProcessor[T], opts ...Option[T]) (*Client[T], error) {
	c, err := connector.NewClientConnector(config.Network)
	if err != nil {
		return nil, err
	}

	config.Dispatch.Normalize()
	config.Session.Normalize()
	if config.Connections < 1 {
		config.Connections = 1
	}
	if config.TimeoutSecond <= 0 {
		config.TimeoutSecond = common.DefaultClientTimeoutSecond
	}

	cl := &Client[T]{
		config:    config,
		connector: c,
		protocol:  proto,
		processor: processor,
	}
	for _, opt := range opts {
		opt(cl)
	}
	return cl, nil
}

// Connect opens the configured number of sessions. It fails only if no
// session could be opened; the sessions run until ctx is done or Close is called.
func (c *Client[T]) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.group != nil {
		return ErrAlreadyConnected
	}

	ctx, cancel := context.WithCancel(ctx)
	g, err := group.New(ctx, c.config.Dispatch.BossThreads)
	if err != nil {
		cancel()
		return err
	}
	readHandler, err := transport.NewReadCompletionHandler(ctx, c.config.Dispatch)
	if err != nil {
		cancel()
		g.Wait()
		return err
	}

	env := session.Env{
		Group:        g,
		ReadHandler:  readHandler,
		WriteHandler: transport.WriteCompletionHandler{},
		Monitor:      c.monitor,
	}

	timeout := time.Duration(c.config.TimeoutSecond) * time.Second
	for i := 0; i < c.config.Connections; i++ {
		sess, err := c.open(ctx, uint64(i+1), timeout, env)
		if err != nil {
			Logger.Warningf("Failed to connect to %s (connection %d/%d): %v", c.config.Endpoint, i+1, c.config.Connections, err)
			continue
		}
		c.sessions = append(c.sessions, sess)
	}

	if len(c.sessions) == 0 {
		cancel()
		g.Wait()
		readHandler.Wait()
		return fmt.Errorf("failed to connect to %s: %w", c.config.Endpoint, ErrNotConnected)
	}

	c.cancel, c.group, c.readHandler = cancel, g, readHandler
	Logger.Infof("Connected %d out of %d sessions to %s using %s",
		len(c.sessions), c.config.Connections, c.config.Endpoint, c.connector.GetName())
	return nil
}

// Sessions returns the open sessions
func (c *Client[T]) Sessions() []*session.Session[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()

	open := make([]*session.Session[T], 0, len(c.sessions))
	for _, s := range c.sessions {
		if !s.IsClosed() {
			open = append(open, s)
		}
	}
	return open
}

// Session selects the next open session via Round Robin
func (c *Client[T]) Session() (*session.Session[T], error) {
	sessions := c.Sessions()
	if len(sessions) == 0 {
		return nil, ErrNotConnected
	}
	index := c.nextSession.Add(1) % uint64(len(sessions))
	return sessions[index], nil
}

// Write sends msg on the next session
func (c *Client[T]) Write(msg T) error {
	s, err := c.Session()
	if err != nil {
		return err
	}
	return s.Write(msg)
}

// Close closes all sessions gracefully and stops the channel group once the
// pending writes are flushed or ctx is done
func (c *Client[T]) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.group == nil {
		c.mu.Unlock()
		return nil
	}
	sessions, cancel, g, readHandler := c.sessions, c.cancel, c.group, c.readHandler
	c.sessions, c.cancel, c.group, c.readHandler = nil, nil, nil, nil
	c.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(true); err != nil {
			errs = append(errs, err)
		}
	}

	// wait for the graceful closes
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
		}
		if err := s.Close(false); err != nil {
			errs = append(errs, err)
		}
	}

	cancel()
	g.Wait()
	readHandler.Wait()
	return errors.Join(errs...)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// open dials one connection and starts its session
func (c *Client[T]) open(ctx context.Context, id uint64, timeout time.Duration, env session.Env) (*session.Session[T], error) {
	conn, err := c.connector.Connect(ctx, c.config.Endpoint, timeout)
	if err != nil {
		return nil, err
	}

	if err := c.connector.UpgradeConnection(conn, c.config.Socket, c.config.TCP); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	s := session.New[T](id, conn, c.config.Session, c.protocol, c.processor, env)
	if err := s.Start(ctx); err != nil {
		_ = s.Close(false)
		return nil, err
	}
	return s, nil
}
