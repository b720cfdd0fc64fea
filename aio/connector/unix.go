package connector

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ValentinKolb/dSock/aio/common"
)

// unixConnector implements IServerConnector and IClientConnector for Unix sockets
type unixConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see IServerConnector and IClientConnector)
// --------------------------------------------------------------------------

func (c *unixConnector) GetName() string {
	return "unix"
}

func (c *unixConnector) Listen(ctx context.Context, config common.ServerConfig) (net.Listener, error) {
	socketPath := config.Endpoint

	// Remove existing socket file if it exists
	if err := os.RemoveAll(socketPath); err != nil {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create Unix socket: %w", err)
	}
	return listener, nil
}

func (c *unixConnector) Connect(ctx context.Context, endpoint string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "unix", endpoint)
}

func (c *unixConnector) UpgradeConnection(conn net.Conn, socket common.SocketConf, _ common.TCPConf) error {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil
	}
	return setSocketBuffers(unixConn, socket)
}
