package metrics

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Metrics holds process-wide decoder counters for Prometheus export
type Metrics struct {
	startTime time.Time

	// Session metrics
	sessionsOpened    atomic.Int64
	sessionsExhausted atomic.Int64
	sessionsFailed    atomic.Int64

	// Block metrics
	blocksRead            atomic.Int64
	blocksEmpty           atomic.Int64
	compressedBytesRead   atomic.Int64
	decompressedBytesRead atomic.Int64

	// Decode metrics
	rowsDecoded          atomic.Int64
	batchesEmitted       atomic.Int64
	trailingBytesIgnored atomic.Int64
	decodeErrors         atomic.Int64

	// Read-ahead pipeline
	readAheadInFlight atomic.Int64

	logger zerolog.Logger
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			startTime: time.Now(),
			logger:    zerolog.Nop(),
		}
	})
	return instance
}

// Init initializes the metrics with a logger
func Init(logger zerolog.Logger) *Metrics {
	m := Get()
	m.logger = logger.With().Str("component", "metrics").Logger()
	m.logger.Info().Msg("Metrics collector initialized")
	return m
}

// Session metrics
func (m *Metrics) IncSessionsOpened()    { m.sessionsOpened.Add(1) }
func (m *Metrics) IncSessionsExhausted() { m.sessionsExhausted.Add(1) }
func (m *Metrics) IncSessionsFailed()    { m.sessionsFailed.Add(1) }

// Block metrics
func (m *Metrics) IncBlocksRead()                  { m.blocksRead.Add(1) }
func (m *Metrics) IncBlocksEmpty()                 { m.blocksEmpty.Add(1) }
func (m *Metrics) IncCompressedBytes(n int64)      { m.compressedBytesRead.Add(n) }
func (m *Metrics) IncDecompressedBytes(n int64)    { m.decompressedBytesRead.Add(n) }
func (m *Metrics) IncRowsDecoded(count int64)      { m.rowsDecoded.Add(count) }
func (m *Metrics) IncBatchesEmitted()              { m.batchesEmitted.Add(1) }
func (m *Metrics) IncTrailingBytesIgnored(n int64) { m.trailingBytesIgnored.Add(n) }
func (m *Metrics) IncDecodeErrors()                { m.decodeErrors.Add(1) }

// AddReadAheadInFlight adjusts the number of blocks held by read-ahead pipelines.
func (m *Metrics) AddReadAheadInFlight(delta int64) { m.readAheadInFlight.Add(delta) }

// Counter accessors, mostly for tests.
func (m *Metrics) RowsDecoded() int64          { return m.rowsDecoded.Load() }
func (m *Metrics) BlocksEmpty() int64          { return m.blocksEmpty.Load() }
func (m *Metrics) TrailingBytesIgnored() int64 { return m.trailingBytesIgnored.Load() }
func (m *Metrics) DecodeErrors() int64         { return m.decodeErrors.Load() }

// Snapshot returns all metrics as a map (for JSON output)
func (m *Metrics) Snapshot() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return map[string]interface{}{
		// Process info
		"uptime_seconds": time.Since(m.startTime).Seconds(),
		"goroutines":     runtime.NumGoroutine(),
		"go_version":     runtime.Version(),
		"gomaxprocs":     runtime.GOMAXPROCS(0),

		// Memory (Go runtime)
		"memory_alloc_bytes":      memStats.Alloc,
		"memory_heap_alloc_bytes": memStats.HeapAlloc,
		"gc_cycles":               memStats.NumGC,

		// Sessions
		"sessions_opened_total":    m.sessionsOpened.Load(),
		"sessions_exhausted_total": m.sessionsExhausted.Load(),
		"sessions_failed_total":    m.sessionsFailed.Load(),

		// Blocks
		"blocks_read_total":             m.blocksRead.Load(),
		"blocks_empty_total":            m.blocksEmpty.Load(),
		"compressed_bytes_read_total":   m.compressedBytesRead.Load(),
		"decompressed_bytes_read_total": m.decompressedBytesRead.Load(),

		// Decode
		"rows_decoded_total":           m.rowsDecoded.Load(),
		"batches_emitted_total":        m.batchesEmitted.Load(),
		"trailing_bytes_ignored_total": m.trailingBytesIgnored.Load(),
		"decode_errors_total":          m.decodeErrors.Load(),

		"read_ahead_in_flight": m.readAheadInFlight.Load(),
	}
}

type promMetric struct {
	name  string
	help  string
	kind  string
	value func(m *Metrics) int64
}

var counters = []promMetric{
	{"avrocol_sessions_opened_total", "Read sessions opened", "counter", func(m *Metrics) int64 { return m.sessionsOpened.Load() }},
	{"avrocol_sessions_exhausted_total", "Read sessions read to the end", "counter", func(m *Metrics) int64 { return m.sessionsExhausted.Load() }},
	{"avrocol_sessions_failed_total", "Read sessions aborted by an error", "counter", func(m *Metrics) int64 { return m.sessionsFailed.Load() }},
	{"avrocol_blocks_read_total", "Container blocks read", "counter", func(m *Metrics) int64 { return m.blocksRead.Load() }},
	{"avrocol_blocks_empty_total", "Zero-row blocks skipped", "counter", func(m *Metrics) int64 { return m.blocksEmpty.Load() }},
	{"avrocol_compressed_bytes_total", "Block payload bytes before decompression", "counter", func(m *Metrics) int64 { return m.compressedBytesRead.Load() }},
	{"avrocol_decompressed_bytes_total", "Block payload bytes after decompression", "counter", func(m *Metrics) int64 { return m.decompressedBytesRead.Load() }},
	{"avrocol_rows_decoded_total", "Rows decoded into batches", "counter", func(m *Metrics) int64 { return m.rowsDecoded.Load() }},
	{"avrocol_batches_emitted_total", "Columnar batches returned to callers", "counter", func(m *Metrics) int64 { return m.batchesEmitted.Load() }},
	{"avrocol_trailing_bytes_ignored_total", "Unconsumed block bytes ignored by policy", "counter", func(m *Metrics) int64 { return m.trailingBytesIgnored.Load() }},
	{"avrocol_decode_errors_total", "Errors that aborted a read session", "counter", func(m *Metrics) int64 { return m.decodeErrors.Load() }},
	{"avrocol_read_ahead_in_flight", "Blocks currently held by read-ahead pipelines", "gauge", func(m *Metrics) int64 { return m.readAheadInFlight.Load() }},
}

// PrometheusFormat returns metrics in Prometheus text exposition format
func (m *Metrics) PrometheusFormat() string {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	var b []byte
	b = append(b, "# HELP avrocol_uptime_seconds Time since the process started\n"...)
	b = append(b, "# TYPE avrocol_uptime_seconds gauge\n"...)
	b = appendMetric(b, "avrocol_uptime_seconds", time.Since(m.startTime).Seconds())

	b = append(b, "# HELP avrocol_memory_heap_alloc_bytes Heap memory allocated\n"...)
	b = append(b, "# TYPE avrocol_memory_heap_alloc_bytes gauge\n"...)
	b = appendMetric(b, "avrocol_memory_heap_alloc_bytes", float64(memStats.HeapAlloc))

	for _, c := range counters {
		b = append(b, "# HELP "...)
		b = append(b, c.name...)
		b = append(b, ' ')
		b = append(b, c.help...)
		b = append(b, "\n# TYPE "...)
		b = append(b, c.name...)
		b = append(b, ' ')
		b = append(b, c.kind...)
		b = append(b, '\n')
		b = appendMetric(b, c.name, float64(c.value(m)))
	}

	return string(b)
}

// Helper functions for Prometheus format
func appendMetric(b []byte, name string, value float64) []byte {
	b = append(b, name...)
	b = append(b, ' ')
	b = appendFloat(b, value)
	b = append(b, '\n')
	return b
}

func appendFloat(b []byte, v float64) []byte {
	if v == float64(int64(v)) {
		return appendInt(b, int64(v))
	}
	// Six decimal places is enough for metrics
	intPart := int64(v)
	fracPart := int64((v - float64(intPart)) * 1000000)
	if fracPart < 0 {
		fracPart = -fracPart
	}
	b = appendInt(b, intPart)
	b = append(b, '.')
	for div := int64(100000); div > 1 && fracPart < div; div /= 10 {
		b = append(b, '0')
	}
	return appendInt(b, fracPart)
}

func appendInt(b []byte, v int64) []byte {
	if v < 0 {
		b = append(b, '-')
		v = -v
	}
	if v == 0 {
		return append(b, '0')
	}
	var digits [20]byte
	i := len(digits)
	for v > 0 {
		i--
		digits[i] = byte('0' + v%10)
		v /= 10
	}
	return append(b, digits[i:]...)
}
