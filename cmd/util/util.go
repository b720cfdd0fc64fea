package util

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dSock/aio/common"
	"github.com/ValentinKolb/dSock/aio/protocol"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables read by dsock
	EnvPrefix = "dsock"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		if lineWidth > 0 && lineWidth+1+len(word) > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += len(word)
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads the .env files and makes viper read DSOCK_* environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Shared flags
// --------------------------------------------------------------------------

// SetupConnectionFlags adds the flags shared by server and client
func SetupConnectionFlags(cmd *cobra.Command, defaultEndpoint string) {
	key := "network"
	cmd.PersistentFlags().String(key, "tcp", WrapString("The network to use (tcp, unix)"))

	key = "endpoint"
	cmd.PersistentFlags().String(key, defaultEndpoint, WrapString("The address to listen on or connect to (e.g. localhost:7070, /tmp/dsock.sock)"))

	key = "protocol"
	cmd.PersistentFlags().String(key, "frame", WrapString("The message protocol (frame = 4 byte length prefix, line = newline terminated, json = frames holding json documents)"))

	key = "max-message-size"
	cmd.PersistentFlags().Int(key, 1024*1024, WrapString("The maximum size of a single message in bytes"))

	key = "socket-write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket write buffer (in KB, 0 = os default)"))

	key = "socket-read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket read buffer (in KB, 0 = os default)"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval (in seconds, only for tcp)"))

	key = "tcp-linger"
	cmd.PersistentFlags().Int(key, 0, WrapString("The linger time (in seconds, only for tcp)"))
}

// SetupDispatchFlags adds the flags of the completion dispatching and the sessions
func SetupDispatchFlags(cmd *cobra.Command) {
	key := "boss-threads"
	cmd.PersistentFlags().Int(key, common.DefaultBossThreads(), WrapString("The number of goroutines delivering completions"))

	key = "overflow"
	cmd.PersistentFlags().Bool(key, true, WrapString("Hand read completions to the drain worker when all boss goroutines are busy"))

	key = "ring-buffer-capacity"
	cmd.PersistentFlags().Int(key, common.DefaultRingBufferCapacity, WrapString("The number of completions the handoff ring buffer can hold (power of two recommended)"))

	key = "admission-permits"
	cmd.PersistentFlags().Int(key, 0, WrapString("The number of boss goroutines that may process reads at the same time (0 = boss-threads - 1)"))

	key = "hand-off-all"
	cmd.PersistentFlags().Bool(key, false, WrapString("Hand every read completion to the drain worker (for testing)"))

	key = "read-buffer"
	cmd.PersistentFlags().Int(key, common.DefaultReadBufferSize/1024, WrapString("The size of the per session read buffer (in KB)"))

	key = "write-high-water"
	cmd.PersistentFlags().Int(key, common.DefaultWriteHighWaterMark/1024, WrapString("Pending outbound KB at which a session is flow limited"))

	key = "write-low-water"
	cmd.PersistentFlags().Int(key, common.DefaultWriteLowWaterMark/1024, WrapString("Pending outbound KB at which the flow limit is released"))

	key = "write-timeout"
	cmd.PersistentFlags().Int(key, 0, WrapString("The deadline of a single socket write (in seconds, 0 = none)"))
}

// --------------------------------------------------------------------------
// Config readers
// --------------------------------------------------------------------------

// GetSocketConf reads the socket buffer settings from viper
func GetSocketConf() common.SocketConf {
	return common.SocketConf{
		WriteBufferSize: viper.GetInt("socket-write-buffer") * 1024,
		ReadBufferSize:  viper.GetInt("socket-read-buffer") * 1024,
	}
}

// GetTCPConf reads the tcp settings from viper
func GetTCPConf() common.TCPConf {
	return common.TCPConf{
		TCPNoDelay:      viper.GetBool("tcp-nodelay"),
		TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
		TCPLingerSec:    viper.GetInt("tcp-linger"),
	}
}

// GetDispatchConfig reads the dispatch settings from viper
func GetDispatchConfig() (common.DispatchConfig, error) {
	conf := common.DispatchConfig{
		BossThreads:        viper.GetInt("boss-threads"),
		Overflow:           viper.GetBool("overflow"),
		RingBufferCapacity: viper.GetInt("ring-buffer-capacity"),
		AdmissionPermits:   viper.GetInt("admission-permits"),
		HandOffAll:         viper.GetBool("hand-off-all"),
	}
	if conf.BossThreads < 1 {
		return conf, fmt.Errorf("boss-threads must be at least 1, got %d", conf.BossThreads)
	}
	if conf.Overflow && conf.RingBufferCapacity < 1 {
		return conf, fmt.Errorf("ring-buffer-capacity must be at least 1, got %d", conf.RingBufferCapacity)
	}
	if conf.HandOffAll && !conf.Overflow {
		return conf, fmt.Errorf("hand-off-all requires overflow")
	}
	return conf, nil
}

// GetSessionConfig reads the session settings from viper
func GetSessionConfig() (common.SessionConfig, error) {
	conf := common.SessionConfig{
		ReadBufferSize:     viper.GetInt("read-buffer") * 1024,
		WriteHighWaterMark: viper.GetInt("write-high-water") * 1024,
		WriteLowWaterMark:  viper.GetInt("write-low-water") * 1024,
		WriteTimeoutSecond: viper.GetInt("write-timeout"),
	}
	if conf.WriteLowWaterMark > conf.WriteHighWaterMark {
		return conf, fmt.Errorf("write-low-water (%d KB) must not exceed write-high-water (%d KB)",
			conf.WriteLowWaterMark/1024, conf.WriteHighWaterMark/1024)
	}
	if maxSize := viper.GetInt("max-message-size"); conf.ReadBufferSize < maxSize+protocol.FrameHeaderSize {
		return conf, fmt.Errorf("read-buffer (%d KB) must hold a message of max-message-size (%d bytes)",
			conf.ReadBufferSize/1024, maxSize)
	}
	return conf, nil
}

// GetProtocolName returns the configured protocol
func GetProtocolName() (string, error) {
	switch p := viper.GetString("protocol"); p {
	case "frame", "line", "json":
		return p, nil
	default:
		return "", fmt.Errorf("invalid protocol %s (expected frame, line or json)", p)
	}
}

// GetClientConfig reads the client configuration from viper
func GetClientConfig() (*common.ClientConfig, error) {
	dispatch, err := GetDispatchConfig()
	if err != nil {
		return nil, err
	}
	session, err := GetSessionConfig()
	if err != nil {
		return nil, err
	}

	return &common.ClientConfig{
		Network:       viper.GetString("network"),
		Endpoint:      viper.GetString("endpoint"),
		TimeoutSecond: viper.GetInt("timeout"),
		Connections:   viper.GetInt("connections"),
		Dispatch:      dispatch,
		Session:       session,
		Socket:        GetSocketConf(),
		TCP:           GetTCPConf(),
	}, nil
}
