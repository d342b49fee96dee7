package columnar_test

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"testing"

	"github.com/basekick-labs/avrocol/internal/avrotest"
	"github.com/basekick-labs/avrocol/pkg/columnar"
	"github.com/basekick-labs/avrocol/pkg/ocf"
)

const (
	utf8Schema = `{"type":"record","name":"test","fields":[{"name":"a","type":"string"}]}`
	intSchema  = `{"type":"record","name":"test","fields":[{"name":"a","type":"int"}]}`
)

type benchShape struct {
	name   string
	schema string
	record func(rng *rand.Rand) []any
}

var benchShapes = []benchShape{
	{"utf8", utf8Schema, func(*rand.Rand) []any { return []any{"foo"} }},
	{"int", intSchema, func(*rand.Rand) []any { return []any{1} }},
	{"mixed", mixedSchema, func(rng *rand.Rand) []any {
		var c6 any
		if rng.Float32() < 0.5 {
			c6 = rng.Intn(100)
		}
		return []any{"this is a string", 1, true, "foo", "hello world", c6}
	}},
}

func benchFixture(b *testing.B, shape benchShape, codec ocf.Codec, rows int) []byte {
	b.Helper()
	rng := rand.New(rand.NewSource(42))
	records := make([][]any, rows)
	for i := range records {
		records[i] = shape.record(rng)
	}
	w := &avrotest.Writer{Schema: shape.schema, Codec: codec, BlockSize: 16 << 10}
	data, err := w.Encode(records)
	if err != nil {
		b.Fatal(err)
	}
	return data
}

func drain(b *testing.B, data []byte, opts columnar.Options, want int64) {
	fr, err := columnar.Open(bytes.NewReader(data), opts)
	if err != nil {
		b.Fatal(err)
	}
	defer fr.Close()

	var rows int64
	for {
		batch, err := fr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			b.Fatal(err)
		}
		rows += int64(batch.NumRows())
		batch.Release()
	}
	if rows != want {
		b.Fatalf("read %d rows, want %d", rows, want)
	}
}

// BenchmarkFileReader reads containers of 2^10..2^20 rows for each shape,
// with and without deflate.
func BenchmarkFileReader(b *testing.B) {
	for _, shape := range benchShapes {
		for _, codec := range []ocf.Codec{ocf.CodecNull, ocf.CodecDeflate} {
			for log2 := 10; log2 <= 20; log2 += 2 {
				rows := 1 << log2
				name := shape.name
				if codec == ocf.CodecDeflate {
					name += "_deflate"
				}
				b.Run(fmt.Sprintf("%s/%d", name, log2), func(b *testing.B) {
					if testing.Short() && log2 > 14 {
						b.Skip("large fixture")
					}
					data := benchFixture(b, shape, codec, rows)
					b.SetBytes(int64(len(data)))
					b.ReportAllocs()
					b.ResetTimer()
					for i := 0; i < b.N; i++ {
						drain(b, data, columnar.Options{}, int64(rows))
					}
				})
			}
		}
	}
}

// BenchmarkFileReader_ReadAhead compares worker counts on the mixed deflate workload.
func BenchmarkFileReader_ReadAhead(b *testing.B) {
	const rows = 1 << 18
	data := benchFixture(b, benchShapes[2], ocf.CodecDeflate, rows)

	for _, workers := range []int{0, 1, 2, 4, 8} {
		b.Run(fmt.Sprintf("workers=%d", workers), func(b *testing.B) {
			b.SetBytes(int64(len(data)))
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				drain(b, data, columnar.Options{ReadAheadWorkers: workers}, rows)
			}
		})
	}
}

// BenchmarkFileReader_Projection reads one of six mixed columns.
func BenchmarkFileReader_Projection(b *testing.B) {
	const rows = 1 << 16
	data := benchFixture(b, benchShapes[2], ocf.CodecNull, rows)
	opts := columnar.Options{ProjectedFields: []string{"c6"}}

	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		drain(b, data, opts, rows)
	}
}
