package bench

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dSock/aio/common"
	"github.com/ValentinKolb/dSock/aio/monitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestamp(t *testing.T) {
	payload := make([]byte, 16)
	now := time.Now()
	putTimestamp(payload, now)

	got, err := timestamp(payload)
	require.NoError(t, err)
	assert.Equal(t, now.UnixNano(), got.UnixNano())

	_, err = timestamp(payload[:4])
	assert.ErrorIs(t, err, errPayloadTooShort)
}

func TestRecorder(t *testing.T) {
	r := newRecorder(2, 3)

	payload := make([]byte, 8)
	for i := 0; i < 3; i++ {
		require.True(t, r.inFlight.TryAcquire(1))
		putTimestamp(payload, time.Now().Add(-time.Millisecond))
		r.sent.Mark(1)
		r.Process(nil, payload)
	}
	// a broken echo counts as failed but still frees its slot
	require.True(t, r.inFlight.TryAcquire(1))
	r.Process(nil, []byte{1})
	assert.True(t, r.inFlight.TryAcquire(2))

	select {
	case <-r.done:
	default:
		t.Fatal("recorder is not done")
	}

	res := r.result(time.Second, monitor.Snapshot{InflowBytes: 10, OutflowBytes: 10})
	assert.EqualValues(t, 3, res.Sent)
	assert.EqualValues(t, 4, res.Received)
	assert.EqualValues(t, 1, res.Failed)
	assert.GreaterOrEqual(t, res.P50, time.Millisecond)
	assert.InDelta(t, 4.0, res.MsgPerSec, 0.001)
}

func TestWriteResultToCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.csv")
	res := result{Sent: 10, Received: 10, Elapsed: time.Second, MsgPerSec: 10}
	config := &common.ClientConfig{Network: "tcp", Endpoint: "localhost:7070", Connections: 2}

	require.NoError(t, writeResultToCSV(path, res, config))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, len(records[0]), len(records[1]))
	assert.Equal(t, "10", records[1][0])
	assert.Equal(t, "localhost:7070", records[1][11])
}
