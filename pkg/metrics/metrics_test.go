package metrics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := &Metrics{}
	m.IncRowsDecoded(10)
	m.IncRowsDecoded(5)
	m.IncBlocksEmpty()
	m.IncTrailingBytesIgnored(3)
	m.IncDecodeErrors()
	m.AddReadAheadInFlight(4)
	m.AddReadAheadInFlight(-1)

	assert.Equal(t, int64(15), m.RowsDecoded())
	assert.Equal(t, int64(1), m.BlocksEmpty())
	assert.Equal(t, int64(3), m.TrailingBytesIgnored())
	assert.Equal(t, int64(1), m.DecodeErrors())

	snap := m.Snapshot()
	assert.Equal(t, int64(15), snap["rows_decoded_total"])
	assert.Equal(t, int64(3), snap["read_ahead_in_flight"])
	assert.Contains(t, snap, "sessions_opened_total")
	assert.Contains(t, snap, "uptime_seconds")
}

func TestMetrics_PrometheusFormat(t *testing.T) {
	m := &Metrics{}
	m.IncSessionsOpened()
	m.IncBatchesEmitted()
	m.IncCompressedBytes(2048)

	out := m.PrometheusFormat()
	for _, c := range counters {
		assert.Contains(t, out, "# TYPE "+c.name+" "+c.kind+"\n")
	}
	assert.Contains(t, out, "avrocol_sessions_opened_total 1\n")
	assert.Contains(t, out, "avrocol_compressed_bytes_total 2048\n")
	assert.Contains(t, out, "avrocol_decode_errors_total 0\n")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestAppendFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{42, "42"},
		{-7, "-7"},
		{0.5, "0.500000"},
		{1.25, "1.250000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, string(appendFloat(nil, tt.in)))
	}
}

func TestGet_Singleton(t *testing.T) {
	assert.Same(t, Get(), Get())
}
