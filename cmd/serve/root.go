package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ValentinKolb/dSock/aio/common"
	"github.com/ValentinKolb/dSock/aio/monitor"
	"github.com/ValentinKolb/dSock/aio/protocol"
	"github.com/ValentinKolb/dSock/aio/server"
	"github.com/ValentinKolb/dSock/aio/session"
	"github.com/ValentinKolb/dSock/aio/transport"
	cmdUtil "github.com/ValentinKolb/dSock/cmd/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a dSock echo server",
		Long:    `Start a dSock server that writes every received message back to its sender. The configuration can be set via command line flags or environment variables. The format of the environment variables is DSOCK_<flag> (e.g. DSOCK_BOSS_THREADS=8)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	cmdUtil.SetupConnectionFlags(ServeCmd, "0.0.0.0:7070")
	cmdUtil.SetupDispatchFlags(ServeCmd)

	key := "reuse-port"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Set SO_REUSEPORT on the listener so that multiple servers can share the port (only for tcp)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("The address on which /metrics is served in the prometheus text format (empty = disabled)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	dispatch, err := cmdUtil.GetDispatchConfig()
	if err != nil {
		return err
	}
	sessionConfig, err := cmdUtil.GetSessionConfig()
	if err != nil {
		return err
	}
	if _, err := cmdUtil.GetProtocolName(); err != nil {
		return err
	}
	if _, err := common.ParseLogLevel(viper.GetString("log-level")); err != nil {
		return err
	}

	serveCmdConfig.Network = viper.GetString("network")
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.Dispatch = dispatch
	serveCmdConfig.Session = sessionConfig
	serveCmdConfig.Socket = cmdUtil.GetSocketConf()
	serveCmdConfig.TCP = cmdUtil.GetTCPConf()
	serveCmdConfig.TCP.ReusePort = viper.GetBool("reuse-port")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	return nil
}

// run starts the echo server and the metrics endpoint until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	common.InitLoggers(serveCmdConfig.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := monitor.New("dsock")
	maxSize := viper.GetInt("max-message-size")

	switch name, _ := cmdUtil.GetProtocolName(); name {
	case "line":
		return serve[string](ctx, *serveCmdConfig, protocol.NewLineProtocol(maxSize), m)
	case "json":
		// invalid documents close the session with a decode exception
		return serve[json.RawMessage](ctx, *serveCmdConfig,
			protocol.NewMessageProtocol(maxSize, protocol.NewJSONSerializer[json.RawMessage]()), m)
	default:
		return serve[[]byte](ctx, *serveCmdConfig, protocol.NewFrameProtocol(maxSize), m)
	}
}

// serve runs the server and, if configured, the metrics http server in one errgroup
func serve[T any](ctx context.Context, config common.ServerConfig, proto protocol.Protocol[T], m *monitor.Monitor) error {
	srv, err := server.New[T](config, proto, echoProcessor[T]{}, server.WithMonitor[T](m))
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Serve(ctx)
	})

	if config.MetricsEndpoint != "" {
		metricsServer := &http.Server{
			Addr:              config.MetricsEndpoint,
			Handler:           metricsMux(m),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			server.Logger.Infof("Serving metrics on http://%s/metrics", config.MetricsEndpoint)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func metricsMux(m *monitor.Monitor) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

// --------------------------------------------------------------------------
// Echo processor
// --------------------------------------------------------------------------

// echoProcessor writes every message back to the session it came from
type echoProcessor[T any] struct{}

func (echoProcessor[T]) Process(s *session.Session[T], msg T) {
	if err := s.Write(msg); err != nil {
		server.Logger.Debugf("Failed to echo on session %d: %v", s.ID(), err)
	}
}

func (echoProcessor[T]) StateEvent(s *session.Session[T], event transport.StateMachineEvent, err error) {
	switch event {
	case transport.DecodeException, transport.InputException, transport.OutputException, transport.ProcessException:
		server.Logger.Warningf("Session %d (%s): %s: %v", s.ID(), s.RemoteAddr(), event, err)
	default:
		server.Logger.Debugf("Session %d (%s): %s", s.ID(), s.RemoteAddr(), event)
	}
}
