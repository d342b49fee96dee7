// Package avrotest builds object container files for tests and benchmarks.
// It is a fixture generator, not a general-purpose encoder: values are passed
// as plain Go values and checked only as far as needed to encode them.
package avrotest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/basekick-labs/avrocol/pkg/avro"
	"github.com/basekick-labs/avrocol/pkg/ocf"
	"github.com/klauspost/compress/flate"
)

// DefaultSync is used when a Writer has no sync marker set.
var DefaultSync = ocf.SyncMarker{0xde, 0xad, 0xbe, 0xef, 0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb}

// Writer encodes records into a container file.
//
// A record is a []any holding one value per top-level field in schema order.
// Value mapping: nil for null, bool, int/int32/int64, float32, float64,
// []byte, string (also enum symbols), []any for nested records and arrays,
// map[string]any for maps.
type Writer struct {
	Schema string
	Codec  ocf.Codec

	// CodecName overrides the codec written to the header, for tests of
	// unsupported codecs.
	CodecName string

	Sync ocf.SyncMarker

	// BlockSize is the number of records per block; 0 writes a single block.
	BlockSize int

	Meta map[string][]byte
}

func (w *Writer) sync() ocf.SyncMarker {
	if w.Sync == (ocf.SyncMarker{}) {
		return DefaultSync
	}
	return w.Sync
}

// Encode returns a complete container holding records.
func (w *Writer) Encode(records [][]any) ([]byte, error) {
	schema, err := avro.ParseSchema([]byte(w.Schema))
	if err != nil {
		return nil, err
	}

	out := w.Header()
	blockSize := w.BlockSize
	if blockSize <= 0 {
		blockSize = len(records)
	}

	var payload []byte
	for start := 0; start < len(records); start += blockSize {
		end := min(start+blockSize, len(records))
		payload = payload[:0]
		for i := start; i < end; i++ {
			if payload, err = AppendRecord(payload, schema.Root(), records[i]); err != nil {
				return nil, fmt.Errorf("record %d: %w", i, err)
			}
		}
		if out, err = w.AppendBlock(out, int64(end-start), payload); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MustEncode is Encode for fixtures known to be valid.
func (w *Writer) MustEncode(records [][]any) []byte {
	b, err := w.Encode(records)
	if err != nil {
		panic(err)
	}
	return b
}

// Header returns the magic, header map and sync marker.
func (w *Writer) Header() []byte {
	codec := w.CodecName
	if codec == "" {
		codec = string(w.Codec)
	}
	if codec == "" {
		codec = string(ocf.CodecNull)
	}

	entries := map[string][]byte{
		ocf.SchemaKey: []byte(w.Schema),
		ocf.CodecKey:  []byte(codec),
	}
	for k, v := range w.Meta {
		entries[k] = v
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := append([]byte(nil), ocf.Magic...)
	out = AppendLong(out, int64(len(keys)))
	for _, k := range keys {
		out = AppendString(out, k)
		out = AppendBytes(out, entries[k])
	}
	out = AppendLong(out, 0)
	sync := w.sync()
	return append(out, sync[:]...)
}

// AppendBlock compresses payload with the writer's codec and appends a block.
func (w *Writer) AppendBlock(dst []byte, rows int64, payload []byte) ([]byte, error) {
	compressed, err := Compress(w.Codec, payload)
	if err != nil {
		return nil, err
	}
	return AppendRawBlock(dst, rows, compressed, w.sync()), nil
}

// AppendRawBlock appends a block whose payload is written as is.
func AppendRawBlock(dst []byte, rows int64, payload []byte, sync ocf.SyncMarker) []byte {
	dst = AppendLong(dst, rows)
	dst = AppendBytes(dst, payload)
	return append(dst, sync[:]...)
}

// Compress applies codec to payload.
func Compress(codec ocf.Codec, payload []byte) ([]byte, error) {
	switch codec {
	case "", ocf.CodecNull:
		return append([]byte(nil), payload...), nil
	case ocf.CodecDeflate:
		var buf bytes.Buffer
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(payload); err != nil {
			return nil, err
		}
		if err := fw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("avrotest: codec %q", codec)
	}
}

// AppendLong appends a zig-zag varint.
func AppendLong(dst []byte, v int64) []byte { return binary.AppendVarint(dst, v) }

// AppendBytes appends a length-prefixed byte sequence.
func AppendBytes(dst []byte, b []byte) []byte {
	dst = AppendLong(dst, int64(len(b)))
	return append(dst, b...)
}

// AppendString appends a length-prefixed string.
func AppendString(dst []byte, s string) []byte {
	dst = AppendLong(dst, int64(len(s)))
	return append(dst, s...)
}

// AppendRecord encodes one record of type t.
func AppendRecord(dst []byte, t *avro.Type, rec []any) ([]byte, error) {
	if len(rec) != len(t.Fields) {
		return nil, fmt.Errorf("record %s has %d fields, got %d values", t.Name, len(t.Fields), len(rec))
	}
	var err error
	for i, f := range t.Fields {
		if dst, err = AppendValue(dst, f.Type, rec[i]); err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
	}
	return dst, nil
}

// AppendValue encodes v as type t.
func AppendValue(dst []byte, t *avro.Type, v any) ([]byte, error) {
	if t.Nullable {
		if v == nil {
			return AppendLong(dst, int64(t.NullBranch)), nil
		}
		dst = AppendLong(dst, t.ValueBranch())
	}

	switch t.Kind {
	case avro.Null:
		if v != nil {
			return nil, fmt.Errorf("null value expected, got %T", v)
		}
		return dst, nil
	case avro.Boolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("bool expected, got %T", v)
		}
		if b {
			return append(dst, 1), nil
		}
		return append(dst, 0), nil
	case avro.Int32, avro.Int64:
		n, ok := toInt64(v)
		if !ok {
			return nil, fmt.Errorf("integer expected, got %T", v)
		}
		return AppendLong(dst, n), nil
	case avro.Float32:
		f, ok := v.(float32)
		if !ok {
			return nil, fmt.Errorf("float32 expected, got %T", v)
		}
		return binary.LittleEndian.AppendUint32(dst, math.Float32bits(f)), nil
	case avro.Float64:
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("float64 expected, got %T", v)
		}
		return binary.LittleEndian.AppendUint64(dst, math.Float64bits(f)), nil
	case avro.Bytes:
		switch b := v.(type) {
		case []byte:
			return AppendBytes(dst, b), nil
		case string:
			return AppendString(dst, b), nil
		}
		return nil, fmt.Errorf("bytes expected, got %T", v)
	case avro.String:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("string expected, got %T", v)
		}
		return AppendString(dst, s), nil
	case avro.Enum:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("enum symbol expected, got %T", v)
		}
		for i, sym := range t.Symbols {
			if sym == s {
				return AppendLong(dst, int64(i)), nil
			}
		}
		return nil, fmt.Errorf("unknown enum symbol %q", s)
	case avro.Record:
		rec, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("[]any record expected, got %T", v)
		}
		return AppendRecord(dst, t, rec)
	case avro.Array:
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("[]any array expected, got %T", v)
		}
		var err error
		if len(items) > 0 {
			dst = AppendLong(dst, int64(len(items)))
			for _, item := range items {
				if dst, err = AppendValue(dst, t.Items, item); err != nil {
					return nil, err
				}
			}
		}
		return AppendLong(dst, 0), nil
	case avro.Map:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("map[string]any expected, got %T", v)
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var err error
		if len(keys) > 0 {
			dst = AppendLong(dst, int64(len(keys)))
			for _, k := range keys {
				dst = AppendString(dst, k)
				if dst, err = AppendValue(dst, t.Values, m[k]); err != nil {
					return nil, err
				}
			}
		}
		return AppendLong(dst, 0), nil
	}
	return nil, fmt.Errorf("unsupported kind %s", t.Kind)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}
