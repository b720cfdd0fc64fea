package common

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	DefaultReadBufferSize      = 64 * 1024 // 64 KB
	DefaultWriteHighWaterMark  = 4 * 1024 * 1024
	DefaultWriteLowWaterMark   = 1 * 1024 * 1024
	DefaultRingBufferCapacity  = 1024
	DefaultMaxFrameSize        = 16 * 1024 * 1024
	DefaultClientTimeoutSecond = 10
)

// DefaultBossThreads returns the default size of the boss pool (one per CPU)
func DefaultBossThreads() int {
	return runtime.NumCPU()
}

// --------------------------------------------------------------------------
// Socket configuration structs
// --------------------------------------------------------------------------

// SocketConf holds the socket buffer settings shared by all transports
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds the settings only applied to tcp connections
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
	// ReusePort sets SO_REUSEPORT on the listening socket (linux, darwin, bsd)
	ReusePort bool
}

// --------------------------------------------------------------------------
// Session configuration struct
// --------------------------------------------------------------------------

// SessionConfig holds the per session settings
type SessionConfig struct {
	// ReadBufferSize is the size of the decode buffer. A single message must fit into it.
	ReadBufferSize int
	// WriteHighWaterMark is the amount of pending outbound bytes at which the session
	// reports FlowLimit to the processor
	WriteHighWaterMark int
	// WriteLowWaterMark is the amount of pending outbound bytes at which a limited
	// session reports ReleaseFlowLimit
	WriteLowWaterMark int
	// WriteTimeoutSecond is the deadline for a single socket write (0 = none)
	WriteTimeoutSecond int
}

// Normalize fills in defaults for zero values
func (c *SessionConfig) Normalize() {
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.WriteHighWaterMark <= 0 {
		c.WriteHighWaterMark = DefaultWriteHighWaterMark
	}
	if c.WriteLowWaterMark <= 0 || c.WriteLowWaterMark > c.WriteHighWaterMark {
		c.WriteLowWaterMark = c.WriteHighWaterMark / 4
	}
}

// --------------------------------------------------------------------------
// Dispatch configuration struct
// --------------------------------------------------------------------------

// DispatchConfig controls how read completions are dispatched
type DispatchConfig struct {
	// BossThreads is the number of goroutines of the channel group delivering completions
	BossThreads int
	// Overflow enables the ring buffer handoff and the drain worker.
	// Without it every completion is processed on the boss goroutine that received it.
	Overflow bool
	// RingBufferCapacity is the number of handed off completions that can be stored
	RingBufferCapacity int
	// AdmissionPermits is the number of boss goroutines that may process reads concurrently.
	// Values below 1 are raised to 1.
	AdmissionPermits int
	// HandOffAll makes the boss goroutines hand every read completion to the drain worker
	HandOffAll bool
}

// AdmissionPermitsFor derives the admission permits from the boss pool size.
// One boss is always kept free for completions, but at least one permit is granted.
func AdmissionPermitsFor(bossThreads int) int {
	if bossThreads > 1 {
		return bossThreads - 1
	}
	return 1
}

// Normalize fills in defaults for zero values
func (c *DispatchConfig) Normalize() {
	if c.BossThreads <= 0 {
		c.BossThreads = DefaultBossThreads()
	}
	if c.RingBufferCapacity == 0 {
		c.RingBufferCapacity = DefaultRingBufferCapacity
	}
	if c.AdmissionPermits < 1 {
		c.AdmissionPermits = AdmissionPermitsFor(c.BossThreads)
	}
}

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a server
type ServerConfig struct {
	// Network is the listener type (tcp or unix)
	Network string
	// Endpoint is the address (host:port or socket path)
	Endpoint string

	Dispatch DispatchConfig
	Session  SessionConfig
	Socket   SocketConf
	TCP      TCPConf

	// MetricsEndpoint is the http address for /metrics (empty = disabled)
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// Listener settings
	addSection("Server")
	addField("Network", c.Network)
	addField("Endpoint", c.Endpoint)
	addField("Metrics Endpoint", c.MetricsEndpoint)

	// Dispatching
	addSection("Dispatch")
	addField("Boss Threads", strconv.Itoa(c.Dispatch.BossThreads))
	addField("Overflow", fmt.Sprintf("%t", c.Dispatch.Overflow))
	if c.Dispatch.Overflow {
		addField("Ring Buffer Capacity", strconv.Itoa(c.Dispatch.RingBufferCapacity))
		addField("Admission Permits", strconv.Itoa(c.Dispatch.AdmissionPermits))
		addField("Hand Off All", fmt.Sprintf("%t", c.Dispatch.HandOffAll))
	}

	// Session
	addSection("Session")
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.Session.ReadBufferSize))
	addField("Write High Water", fmt.Sprintf("%d bytes", c.Session.WriteHighWaterMark))
	addField("Write Low Water", fmt.Sprintf("%d bytes", c.Session.WriteLowWaterMark))
	addField("Write Timeout", fmt.Sprintf("%d sec", c.Session.WriteTimeoutSecond))

	// Socket
	addSection("Socket")
	addField("Write Buffer", fmt.Sprintf("%d bytes", c.Socket.WriteBufferSize))
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.Socket.ReadBufferSize))
	if c.Network == "tcp" {
		addField("TCP No Delay", fmt.Sprintf("%t", c.TCP.TCPNoDelay))
		addField("TCP Keep Alive", fmt.Sprintf("%d sec", c.TCP.TCPKeepAliveSec))
		addField("TCP Linger", fmt.Sprintf("%d sec", c.TCP.TCPLingerSec))
		addField("Reuse Port", fmt.Sprintf("%t", c.TCP.ReusePort))
	}

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds all configuration parameters of a client
type ClientConfig struct {
	Network       string
	Endpoint      string
	TimeoutSecond int
	// Connections is the number of sessions opened to the endpoint
	Connections int

	Dispatch DispatchConfig
	Session  SessionConfig
	Socket   SocketConf
	TCP      TCPConf
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Network", c.Network)
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Connections", strconv.Itoa(max(1, c.Connections)))
	addField("Boss Threads", strconv.Itoa(c.Dispatch.BossThreads))
	addField("Overflow", fmt.Sprintf("%t", c.Dispatch.Overflow))

	return sb.String()
}
