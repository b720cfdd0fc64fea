package monitor

import (
	"fmt"
	"io"
	"net/http"

	"github.com/ValentinKolb/dSock/aio/transport"
	"github.com/VictoriaMetrics/metrics"
)

// Monitor counts the traffic and the dispatching of all sessions of a server or client.
// It implements transport.Monitor and session.StateObserver.
type Monitor struct {
	prefix string
	set    *metrics.Set

	inflow    *metrics.Counter
	outflow   *metrics.Counter
	reads     *metrics.Counter
	eofs      *metrics.Counter
	writes    *metrics.Counter
	handedOff *metrics.Counter
	drained   *metrics.Counter
	readSize  *metrics.Histogram
}

// New creates a monitor whose metric names start with prefix (e.g. "dsock_server")
func New(prefix string) *Monitor {
	set := metrics.NewSet()
	return &Monitor{
		prefix:    prefix,
		set:       set,
		inflow:    set.NewCounter(prefix + "_inflow_bytes_total"),
		outflow:   set.NewCounter(prefix + "_outflow_bytes_total"),
		reads:     set.NewCounter(prefix + "_read_completions_total"),
		eofs:      set.NewCounter(prefix + "_read_eof_total"),
		writes:    set.NewCounter(prefix + "_write_completions_total"),
		handedOff: set.NewCounter(prefix + "_handed_off_total"),
		drained:   set.NewCounter(prefix + "_drained_total"),
		readSize:  set.NewHistogram(prefix + "_read_size_bytes"),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.Monitor)
// --------------------------------------------------------------------------

func (m *Monitor) ReadMonitor(_ transport.Session, size int) {
	m.reads.Inc()
	if size == transport.EOF {
		m.eofs.Inc()
		return
	}
	m.inflow.Add(size)
	m.readSize.Update(float64(size))
}

func (m *Monitor) WriteMonitor(_ transport.Session, size int) {
	m.writes.Inc()
	if size > 0 {
		m.outflow.Add(size)
	}
}

func (m *Monitor) HandedOff(transport.Session) {
	m.handedOff.Inc()
}

func (m *Monitor) Drained(transport.Session) {
	m.drained.Inc()
}

// StateObserved counts state events per event name
func (m *Monitor) StateObserved(_ transport.Session, event transport.StateMachineEvent) {
	m.set.GetOrCreateCounter(fmt.Sprintf(`%s_state_events_total{event=%q}`, m.prefix, event.String())).Inc()
}

// --------------------------------------------------------------------------
// Exposition
// --------------------------------------------------------------------------

// Snapshot holds the current counter values
type Snapshot struct {
	InflowBytes  uint64
	OutflowBytes uint64
	Reads        uint64
	EOFs         uint64
	Writes       uint64
	HandedOff    uint64
	Drained      uint64
}

// Snapshot returns the current counter values
func (m *Monitor) Snapshot() Snapshot {
	return Snapshot{
		InflowBytes:  m.inflow.Get(),
		OutflowBytes: m.outflow.Get(),
		Reads:        m.reads.Get(),
		EOFs:         m.eofs.Get(),
		Writes:       m.writes.Get(),
		HandedOff:    m.handedOff.Get(),
		Drained:      m.drained.Get(),
	}
}

// WritePrometheus writes the metrics in the Prometheus text format
func (m *Monitor) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}

// Handler serves the metrics of the monitor together with the process metrics
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m.WritePrometheus(w)
		metrics.WriteProcessMetrics(w)
	})
}
