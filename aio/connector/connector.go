package connector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ValentinKolb/dSock/aio/common"
)

var (
	// ErrUnknownNetwork is returned for networks without a connector
	ErrUnknownNetwork = errors.New("connector: unknown network")
	// ErrReusePortUnsupported is returned if SO_REUSEPORT is requested on a platform without it
	ErrReusePortUnsupported = errors.New("connector: SO_REUSEPORT is not supported on this platform")
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the network specific operations of a server
type IServerConnector interface {
	// Listen creates a listener on the configured endpoint
	Listen(ctx context.Context, config common.ServerConfig) (net.Listener, error)

	// UpgradeConnection applies network specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, socket common.SocketConf, tcp common.TCPConf) error

	// GetName returns the name of the network (e.g., "unix", "tcp")
	GetName() string
}

// IClientConnector defines the network specific operations of a client
type IClientConnector interface {
	// Connect establishes a single connection to endpoint
	Connect(ctx context.Context, endpoint string, timeout time.Duration) (net.Conn, error)

	// UpgradeConnection applies network specific settings to an established connection
	UpgradeConnection(conn net.Conn, socket common.SocketConf, tcp common.TCPConf) error

	// GetName returns the name of the network (e.g., "unix", "tcp")
	GetName() string
}

// --------------------------------------------------------------------------
// Factory Methods
// --------------------------------------------------------------------------

// NewServerConnector returns the server connector of a network ("tcp" or "unix")
func NewServerConnector(network string) (IServerConnector, error) {
	switch network {
	case "tcp", "":
		return &tcpConnector{}, nil
	case "unix":
		return &unixConnector{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, network)
	}
}

// NewClientConnector returns the client connector of a network ("tcp" or "unix")
func NewClientConnector(network string) (IClientConnector, error) {
	switch network {
	case "tcp", "":
		return &tcpConnector{}, nil
	case "unix":
		return &unixConnector{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, network)
	}
}

// setSocketBuffers applies the socket buffer sizes if configured
func setSocketBuffers(conn interface {
	SetReadBuffer(bytes int) error
	SetWriteBuffer(bytes int) error
}, socket common.SocketConf) error {
	if socket.WriteBufferSize > 0 {
		if err := conn.SetWriteBuffer(socket.WriteBufferSize); err != nil {
			return fmt.Errorf("failed to set write buffer: %w", err)
		}
	}
	if socket.ReadBufferSize > 0 {
		if err := conn.SetReadBuffer(socket.ReadBufferSize); err != nil {
			return fmt.Errorf("failed to set read buffer: %w", err)
		}
	}
	return nil
}
