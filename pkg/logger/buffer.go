package logger

import (
	"io"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fastjson"
)

// LogEntry represents a single log entry
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Component string    `json:"component,omitempty"`
	Session   string    `json:"session,omitempty"`
	Message   string    `json:"message"`
	Caller    string    `json:"caller,omitempty"`
}

// LogBuffer is a circular buffer that stores recent log entries
type LogBuffer struct {
	mu       sync.RWMutex
	entries  []LogEntry
	size     int
	writePos int
	count    int
}

var (
	globalBuffer *LogBuffer
	bufferOnce   sync.Once
)

// GetBuffer returns the global log buffer instance
func GetBuffer() *LogBuffer {
	bufferOnce.Do(func() {
		globalBuffer = NewLogBuffer(10000)
	})
	return globalBuffer
}

// NewLogBuffer creates a new log buffer with specified capacity
func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = 1
	}
	return &LogBuffer{
		entries: make([]LogEntry, size),
		size:    size,
	}
}

// Add adds a log entry to the buffer
func (b *LogBuffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.writePos] = entry
	b.writePos = (b.writePos + 1) % b.size
	if b.count < b.size {
		b.count++
	}
}

// GetRecent returns up to limit entries, newest first, at or above level and
// no older than sinceMinutes. Zero values disable the respective filter.
func (b *LogBuffer) GetRecent(limit int, level string, sinceMinutes int) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit <= 0 || limit > b.count {
		limit = b.count
	}

	var cutoff time.Time
	if sinceMinutes > 0 {
		cutoff = time.Now().Add(-time.Duration(sinceMinutes) * time.Minute)
	}
	levelUpper := strings.ToUpper(level)

	var result []LogEntry
	for i := 0; i < b.count && len(result) < limit; i++ {
		idx := (b.writePos - 1 - i + b.size) % b.size
		entry := b.entries[idx]

		if entry.Timestamp.Before(cutoff) {
			continue
		}
		if levelUpper != "" && !matchesLevel(entry.Level, levelUpper) {
			continue
		}
		result = append(result, entry)
	}

	return result
}

// ForSession returns the buffered entries of one read session, oldest first.
func (b *LogBuffer) ForSession(session string) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []LogEntry
	for i := b.count - 1; i >= 0; i-- {
		entry := b.entries[(b.writePos-1-i+b.size)%b.size]
		if entry.Session == session {
			result = append(result, entry)
		}
	}
	return result
}

var levelPriority = map[string]int{
	"DEBUG": 0,
	"INFO":  1,
	"WARN":  2,
	"ERROR": 3,
	"FATAL": 4,
}

// matchesLevel checks if the entry level matches or exceeds the filter level
func matchesLevel(entryLevel, filterLevel string) bool {
	entryPriority, ok1 := levelPriority[strings.ToUpper(entryLevel)]
	filterPriority, ok2 := levelPriority[filterLevel]

	if !ok1 || !ok2 {
		return strings.EqualFold(entryLevel, filterLevel)
	}

	return entryPriority >= filterPriority
}

// Count returns the current number of entries in the buffer
func (b *LogBuffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// LogBufferWriter is an io.Writer that captures zerolog JSON output into a LogBuffer
type LogBufferWriter struct {
	buffer   *LogBuffer
	original io.Writer
	parsers  fastjson.ParserPool
}

// NewLogBufferWriter creates a writer that captures logs to the global buffer
// and forwards them to original when it is non-nil.
func NewLogBufferWriter(original io.Writer) *LogBufferWriter {
	return NewLogBufferWriterTo(GetBuffer(), original)
}

// NewLogBufferWriterTo is NewLogBufferWriter with an explicit buffer.
func NewLogBufferWriterTo(buffer *LogBuffer, original io.Writer) *LogBufferWriter {
	return &LogBufferWriter{
		buffer:   buffer,
		original: original,
	}
}

// Write implements io.Writer, parsing zerolog JSON and storing entries
func (w *LogBufferWriter) Write(p []byte) (n int, err error) {
	if w.original != nil {
		n, err = w.original.Write(p)
	} else {
		n = len(p)
	}

	if entry, ok := w.parse(p); ok {
		w.buffer.Add(entry)
	}

	return n, err
}

// parse extracts a log entry from one zerolog JSON line. Lines that are not
// JSON objects are dropped.
func (w *LogBufferWriter) parse(line []byte) (LogEntry, bool) {
	p := w.parsers.Get()
	defer w.parsers.Put(p)

	v, err := p.ParseBytes(line)
	if err != nil || v.Type() != fastjson.TypeObject {
		return LogEntry{}, false
	}

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     strings.ToUpper(string(v.GetStringBytes("level"))),
		Component: string(v.GetStringBytes("component")),
		Session:   string(v.GetStringBytes("session")),
		Message:   string(v.GetStringBytes("message")),
		Caller:    string(v.GetStringBytes("caller")),
	}
	if entry.Message == "" {
		entry.Message = string(v.GetStringBytes("msg"))
	}
	if ts := v.GetStringBytes("time"); ts != nil {
		if t, err := time.Parse(time.RFC3339, string(ts)); err == nil {
			entry.Timestamp = t
		}
	}

	if entry.Message == "" && entry.Level == "" {
		return LogEntry{}, false
	}
	return entry, true
}
