package bench

import (
	"context"
	"encoding/binary"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ValentinKolb/dSock/aio/client"
	"github.com/ValentinKolb/dSock/aio/common"
	"github.com/ValentinKolb/dSock/aio/monitor"
	"github.com/ValentinKolb/dSock/aio/protocol"
	"github.com/ValentinKolb/dSock/aio/session"
	"github.com/ValentinKolb/dSock/aio/transport"
	"github.com/ValentinKolb/dSock/cmd/util"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// timestampSize is the size of the send timestamp at the start of every payload
const timestampSize = 8

var (
	errPayloadTooShort = errors.New("payload too short")

	// BenchCmd measures the round trip latency against a dSock echo server
	BenchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Benchmark a dSock echo server",
		Long:    `Send framed messages to a dSock echo server (see dsock serve) and report the round trip latency and throughput. The server must use the frame protocol.`,
		PreRunE: processBenchConfig,
		RunE:    run,
	}

	benchMessages    = 100000
	benchPayloadSize = 64
	benchInFlight    = 128
	benchWriters     = 4
	benchDuration    = time.Duration(0)
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	util.SetupConnectionFlags(BenchCmd, "localhost:7070")
	util.SetupDispatchFlags(BenchCmd)

	key := "timeout"
	BenchCmd.PersistentFlags().Int(key, 10, util.WrapString("The connect timeout in seconds"))
	key = "connections"
	BenchCmd.PersistentFlags().Int(key, 4, util.WrapString("Number of sessions opened to the server"))
	key = "messages"
	BenchCmd.Flags().Int(key, benchMessages, util.WrapString("Number of messages to send"))
	key = "payload-size"
	BenchCmd.Flags().Int(key, benchPayloadSize, util.WrapString("Size of a single message in bytes (at least 8)"))
	key = "in-flight"
	BenchCmd.Flags().Int(key, benchInFlight, util.WrapString("Maximum number of messages waiting for their echo"))
	key = "writers"
	BenchCmd.Flags().Int(key, benchWriters, util.WrapString("Number of goroutines sending messages"))
	key = "max-duration"
	BenchCmd.Flags().Duration(key, 0, util.WrapString("Stop after this duration even if not all messages were echoed (0 = no limit)"))
	key = "csv"
	BenchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
	key = "verbose"
	BenchCmd.Flags().Bool(key, false, util.WrapString("Print all collected client metrics after the run"))
	key = "log-level"
	BenchCmd.Flags().String(key, "warn", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	benchMessages = viper.GetInt("messages")
	benchPayloadSize = viper.GetInt("payload-size")
	benchInFlight = viper.GetInt("in-flight")
	benchWriters = viper.GetInt("writers")
	benchDuration = viper.GetDuration("max-duration")

	if benchPayloadSize < timestampSize {
		return fmt.Errorf("payload-size must be at least %d bytes", timestampSize)
	}
	if benchPayloadSize > viper.GetInt("max-message-size") {
		return fmt.Errorf("payload-size must not exceed max-message-size")
	}
	if benchMessages < 1 || benchInFlight < 1 || benchWriters < 1 {
		return fmt.Errorf("messages, in-flight and writers must be at least 1")
	}
	if name, err := util.GetProtocolName(); err != nil {
		return err
	} else if name != "frame" {
		return fmt.Errorf("bench only supports the frame protocol")
	}
	_, err := common.ParseLogLevel(viper.GetString("log-level"))
	return err
}

func run(_ *cobra.Command, _ []string) error {
	common.InitLoggers(viper.GetString("log-level"))

	config, err := util.GetClientConfig()
	if err != nil {
		return err
	}

	fmt.Println("Benchmark for dSock echo servers")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Messages: %d, Payload: %d bytes, In Flight: %d, Writers: %d\n", benchMessages, benchPayloadSize, benchInFlight, benchWriters)
	fmt.Println()

	ctx := context.Background()
	if benchDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, benchDuration)
		defer cancel()
	}

	r := newRecorder(int64(benchInFlight), benchMessages)
	m := monitor.New("dsock_bench")

	c, err := client.New[[]byte](*config, protocol.NewFrameProtocol(viper.GetInt("max-message-size")), r, client.WithMonitor[[]byte](m))
	if err != nil {
		return err
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Close(context.Background())

	start := time.Now()
	sendErr := send(ctx, c, r)
	waitErr := r.wait(ctx)
	elapsed := time.Since(start)

	res := r.result(elapsed, m.Snapshot())
	printResult(res)
	if viper.GetBool("verbose") {
		fmt.Println()
		metrics.WriteOnce(r.registry, os.Stdout)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultToCSV(csvPath, res, config); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return errors.Join(sendErr, waitErr)
}

// send distributes the messages over the writers
func send(ctx context.Context, c *client.Client[[]byte], r *recorder) error {
	g, ctx := errgroup.WithContext(ctx)

	per := benchMessages / benchWriters
	for w := 0; w < benchWriters; w++ {
		n := per
		if w == benchWriters-1 {
			n += benchMessages % benchWriters
		}
		g.Go(func() error {
			payload := make([]byte, benchPayloadSize)
			for i := 0; i < n; i++ {
				if err := r.inFlight.Acquire(ctx, 1); err != nil {
					return err
				}
				putTimestamp(payload, time.Now())
				// the session copies the encoded frame
				if err := c.Write(payload); err != nil {
					r.inFlight.Release(1)
					r.failed.Inc(1)
					return err
				}
				r.sent.Mark(1)
			}
			return nil
		})
	}
	return g.Wait()
}

// --------------------------------------------------------------------------
// Recorder
// --------------------------------------------------------------------------

// recorder is the message processor of the benchmark client. It measures the
// latency of every echo and limits the messages in flight.
type recorder struct {
	inFlight *semaphore.Weighted
	expected int64

	registry metrics.Registry
	latency  metrics.Timer
	sent     metrics.Meter
	received metrics.Meter
	failed   metrics.Counter

	once sync.Once
	done chan struct{}
}

func newRecorder(inFlight int64, expected int) *recorder {
	r := &recorder{
		inFlight: semaphore.NewWeighted(inFlight),
		expected: int64(expected),
		registry: metrics.NewRegistry(),
		latency:  metrics.NewTimer(),
		sent:     metrics.NewMeter(),
		received: metrics.NewMeter(),
		failed:   metrics.NewCounter(),
		done:     make(chan struct{}),
	}
	_ = r.registry.Register("latency", r.latency)
	_ = r.registry.Register("sent", r.sent)
	_ = r.registry.Register("received", r.received)
	_ = r.registry.Register("failed", r.failed)
	return r
}

func (r *recorder) Process(_ *session.Session[[]byte], msg []byte) {
	sentAt, err := timestamp(msg)
	if err != nil {
		r.failed.Inc(1)
	} else {
		r.latency.UpdateSince(sentAt)
	}
	r.received.Mark(1)
	r.inFlight.Release(1)

	if r.received.Count() >= r.expected {
		r.once.Do(func() { close(r.done) })
	}
}

func (r *recorder) StateEvent(s *session.Session[[]byte], event transport.StateMachineEvent, err error) {
	if err != nil {
		client.Logger.Warningf("Session %d: %s: %v", s.ID(), event, err)
	}
}

// wait blocks until all messages were echoed or ctx is done
func (r *recorder) wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("received %d of %d messages: %w", r.received.Count(), r.expected, ctx.Err())
	}
}

// result is the summary of a benchmark run
type result struct {
	Sent, Received, Failed int64
	Elapsed                time.Duration
	MsgPerSec              float64
	Mean, P50, P95, P99    time.Duration
	Max                    time.Duration
	InflowBytes            uint64
	OutflowBytes           uint64
}

func (r *recorder) result(elapsed time.Duration, snapshot monitor.Snapshot) result {
	latency := r.latency.Snapshot()
	ps := latency.Percentiles([]float64{0.5, 0.95, 0.99})

	res := result{
		Sent:         r.sent.Count(),
		Received:     r.received.Count(),
		Failed:       r.failed.Count(),
		Elapsed:      elapsed,
		Mean:         time.Duration(latency.Mean()),
		P50:          time.Duration(ps[0]),
		P95:          time.Duration(ps[1]),
		P99:          time.Duration(ps[2]),
		Max:          time.Duration(latency.Max()),
		InflowBytes:  snapshot.InflowBytes,
		OutflowBytes: snapshot.OutflowBytes,
	}
	if elapsed > 0 {
		res.MsgPerSec = float64(res.Received) / elapsed.Seconds()
	}
	return res
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func putTimestamp(payload []byte, t time.Time) {
	binary.BigEndian.PutUint64(payload, uint64(t.UnixNano()))
}

func timestamp(payload []byte) (time.Time, error) {
	if len(payload) < timestampSize {
		return time.Time{}, errPayloadTooShort
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(payload))), nil
}

// printResult prints the result of a benchmark run in a formatted way
func printResult(res result) {
	fmt.Printf("%-20s%d\n", "sent", res.Sent)
	fmt.Printf("%-20s%d\n", "received", res.Received)
	fmt.Printf("%-20s%d\n", "failed", res.Failed)
	fmt.Printf("%-20s%s\n", "elapsed", res.Elapsed)
	fmt.Printf("%-20s%.0f msg/sec\n", "throughput", res.MsgPerSec)
	fmt.Printf("%-20smean %s, p50 %s, p95 %s, p99 %s, max %s\n", "latency", res.Mean, res.P50, res.P95, res.P99, res.Max)
	fmt.Printf("%-20sin %d bytes, out %d bytes\n", "traffic", res.InflowBytes, res.OutflowBytes)
}

// writeResultToCSV writes the benchmark result to a CSV file
func writeResultToCSV(csvPath string, res result, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Sent", "Received", "Failed", "ElapsedNs", "MsgPerSec",
		"MeanNs", "P50Ns", "P95Ns", "P99Ns", "MaxNs",
		"Network", "Endpoint", "Connections", "BossThreads", "Overflow",
		"PayloadSize", "InFlight", "Writers",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	row := []string{
		strconv.FormatInt(res.Sent, 10),
		strconv.FormatInt(res.Received, 10),
		strconv.FormatInt(res.Failed, 10),
		strconv.FormatInt(res.Elapsed.Nanoseconds(), 10),
		fmt.Sprintf("%.0f", res.MsgPerSec),
		strconv.FormatInt(res.Mean.Nanoseconds(), 10),
		strconv.FormatInt(res.P50.Nanoseconds(), 10),
		strconv.FormatInt(res.P95.Nanoseconds(), 10),
		strconv.FormatInt(res.P99.Nanoseconds(), 10),
		strconv.FormatInt(res.Max.Nanoseconds(), 10),
		config.Network,
		config.Endpoint,
		strconv.Itoa(config.Connections),
		strconv.Itoa(config.Dispatch.BossThreads),
		strconv.FormatBool(config.Dispatch.Overflow),
		strconv.Itoa(benchPayloadSize),
		strconv.Itoa(benchInFlight),
		strconv.Itoa(benchWriters),
	}
	if err := writer.Write(row); err != nil {
		return fmt.Errorf("failed to write result row: %v", err)
	}
	return nil
}
