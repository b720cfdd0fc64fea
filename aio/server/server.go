package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ValentinKolb/dSock/aio/common"
	"github.com/ValentinKolb/dSock/aio/connector"
	"github.com/ValentinKolb/dSock/aio/group"
	"github.com/ValentinKolb/dSock/aio/protocol"
	"github.com/ValentinKolb/dSock/aio/session"
	"github.com/ValentinKolb/dSock/aio/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("server")

// ErrServerStarted is returned if Serve is called twice
var ErrServerStarted = errors.New("server: already started")

// Server accepts connections and runs one session per connection on a shared
// channel group.
type Server[T any] struct {
	config    common.ServerConfig
	connector connector.IServerConnector
	protocol  protocol.Protocol[T]
	processor session.MessageProcessor[T]
	monitor   transport.Monitor

	listener   net.Listener
	sessions   *xsync.MapOf[uint64, *session.Session[T]]
	nextID     atomic.Uint64
	started    atomic.Bool
	bufferPool *sync.Pool
}

// Option configures a server
type Option[T any] func(s *Server[T])

// WithMonitor installs a monitor plugin for all sessions
func WithMonitor[T any](m transport.Monitor) Option[T] {
	return func(s *Server[T]) {
		s.monitor = m
	}
}

// New creates a server
//
// Usage:
//
//	s, err := server.New[[]byte](config, protocol.NewFrameProtocol(1024), processor)
//	if err != nil {
//		return err
//	}
//	return s.Serve(ctx)
func New[T any](config common.ServerConfig, proto protocol.Protocol[T], processor session.MessageProcessor[T], opts ...Option[T]) (*Server[T], error) {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	c, err := connector.NewServerConnector(config.Network)
	if err != nil {
		return nil, err
	}

	config.Dispatch.Normalize()
	config.Session.Normalize()

	s := &Server[T]{
		config:    config,
		connector: c,
		protocol:  proto,
		processor: processor,
		sessions:  xsync.NewMapOf[uint64, *session.Session[T]](),
	}
	for _, opt := range opts {
		opt(s)
	}

	bufferSize := config.Session.ReadBufferSize
	s.bufferPool = &sync.Pool{
		New: func() interface{} {
			return make([]byte, bufferSize)
		},
	}

	return s, nil
}

// Listen creates the listener. It is called by Serve if needed, calling it
// before allows to read the bound address (e.g. for port 0).
func (s *Server[T]) Listen(ctx context.Context) (net.Addr, error) {
	if s.listener != nil {
		return s.listener.Addr(), nil
	}

	listener, err := s.connector.Listen(ctx, s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}
	s.listener = listener
	return listener.Addr(), nil
}

// Addr returns the address of the listener, nil before Listen
func (s *Server[T]) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// SessionCount returns the number of open sessions
func (s *Server[T]) SessionCount() int {
	return s.sessions.Size()
}

// Serve accepts connections until ctx is done. On return the listener, all
// sessions, the channel group and the drain worker are stopped.
func (s *Server[T]) Serve(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrServerStarted
	}

	if _, err := s.Listen(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, err := group.New(ctx, s.config.Dispatch.BossThreads)
	if err != nil {
		_ = s.listener.Close()
		return err
	}
	readHandler, err := transport.NewReadCompletionHandler(ctx, s.config.Dispatch)
	if err != nil {
		_ = s.listener.Close()
		g.Close()
		return err
	}

	env := session.Env{
		Group:        g,
		ReadHandler:  readHandler,
		WriteHandler: transport.WriteCompletionHandler{},
		Monitor:      s.monitor,
		Buffers:      s.bufferPool,
		OnClose: func(id uint64) {
			s.sessions.Delete(id)
		},
	}

	Logger.Infof("Starting %s server on %s", s.connector.GetName(), s.listener.Addr())
	Logger.Infof("Configuration:%s", s.config.String())

	// the accept loop ends when the listener is closed
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	s.acceptLoop(ctx, env)

	Logger.Infof("Shutting down %s server, closing %d sessions", s.connector.GetName(), s.sessions.Size())
	s.sessions.Range(func(_ uint64, sess *session.Session[T]) bool {
		if err := sess.Close(false); err != nil {
			Logger.Debugf("Failed to close session %d: %v", sess.ID(), err)
		}
		return true
	})

	// stops the drain worker even if the listener was closed from outside
	cancel()
	g.Wait()
	readHandler.Wait()
	Logger.Infof("Server stopped")
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *Server[T]) acceptLoop(ctx context.Context, env session.Env) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			Logger.Errorf("Accept error: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		s.handleConnection(ctx, conn, env)
	}
}

// handleConnection upgrades the connection and starts its session
func (s *Server[T]) handleConnection(ctx context.Context, conn net.Conn, env session.Env) {
	if err := s.connector.UpgradeConnection(conn, s.config.Socket, s.config.TCP); err != nil {
		Logger.Warningf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
		_ = conn.Close()
		return
	}

	id := s.nextID.Add(1)
	sess := session.New[T](id, conn, s.config.Session, s.protocol, s.processor, env)
	s.sessions.Store(id, sess)
	Logger.Debugf("Accepted session %d from %s", id, conn.RemoteAddr())

	if err := sess.Start(ctx); err != nil {
		Logger.Warningf("Failed to start session %d: %v", id, err)
		_ = sess.Close(false)
	}
}
