package connector

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ValentinKolb/dSock/aio/common"
)

// tcpConnector implements IServerConnector and IClientConnector for TCP sockets
type tcpConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see IServerConnector and IClientConnector)
// --------------------------------------------------------------------------

func (c *tcpConnector) GetName() string {
	return "tcp"
}

func (c *tcpConnector) Listen(ctx context.Context, config common.ServerConfig) (net.Listener, error) {
	lc := net.ListenConfig{}
	if config.TCP.ReusePort {
		lc.Control = reusePortControl
	}

	listener, err := lc.Listen(ctx, "tcp", config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP socket: %w", err)
	}
	return listener, nil
}

func (c *tcpConnector) Connect(ctx context.Context, endpoint string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp", endpoint)
}

// UpgradeConnection applies performance optimizations to a TCP connection
// using configuration values from TCPConf and SocketConf
func (c *tcpConnector) UpgradeConnection(conn net.Conn, socket common.SocketConf, tcp common.TCPConf) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing to upgrade
	}

	// Disable Nagle's algorithm if configured
	if err := tcpConn.SetNoDelay(tcp.TCPNoDelay); err != nil {
		return fmt.Errorf("failed to set no delay: %w", err)
	}

	if err := setSocketBuffers(tcpConn, socket); err != nil {
		return err
	}

	if tcp.TCPKeepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return fmt.Errorf("failed to enable keep-alive: %w", err)
		}
		if err := tcpConn.SetKeepAlivePeriod(time.Duration(tcp.TCPKeepAliveSec) * time.Second); err != nil {
			return fmt.Errorf("failed to set keep-alive period: %w", err)
		}
	}

	// a linger of 0 would reset connections on close, so only positive values are applied
	if tcp.TCPLingerSec > 0 {
		if err := tcpConn.SetLinger(tcp.TCPLingerSec); err != nil {
			return fmt.Errorf("failed to set linger: %w", err)
		}
	}

	return nil
}
