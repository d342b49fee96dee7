package columnar_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/basekick-labs/avrocol/internal/avrotest"
	"github.com/basekick-labs/avrocol/pkg/columnar"
	"github.com/basekick-labs/avrocol/pkg/ocf"
	"github.com/stretchr/testify/require"
)

const (
	pairSchema = `{"type":"record","name":"pair","fields":[
		{"name":"a","type":"string"},
		{"name":"b","type":["null","int"]}
	]}`

	mixedSchema = `{"type":"record","name":"test","fields":[
		{"name":"c1","type":"string"},
		{"name":"c2","type":"int"},
		{"name":"c3","type":"boolean"},
		{"name":"c4","type":"string"},
		{"name":"c5","type":"string"},
		{"name":"c6","type":["null","int"],"default":null}
	]}`
)

// mixedRecords generates n rows for mixedSchema; c6 is null on even rows.
func mixedRecords(n int) [][]any {
	records := make([][]any, n)
	for i := range records {
		var c6 any
		if i%2 == 1 {
			c6 = int32(i % 100)
		}
		records[i] = []any{"this is a string", i, i%3 == 0, "foo", "hello world", c6}
	}
	return records
}

func encode(t testing.TB, schema string, codec ocf.Codec, blockSize int, records [][]any) []byte {
	t.Helper()
	w := &avrotest.Writer{Schema: schema, Codec: codec, BlockSize: blockSize}
	data, err := w.Encode(records)
	require.NoError(t, err)
	return data
}

// readAll drains a file reader and returns its batches. The caller releases them.
func readAll(t testing.TB, data []byte, opts columnar.Options) ([]*columnar.Batch, columnar.Stats) {
	t.Helper()
	fr, err := columnar.Open(bytes.NewReader(data), opts)
	require.NoError(t, err)
	defer fr.Close()

	var batches []*columnar.Batch
	for {
		b, err := fr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		batches = append(batches, b)
	}
	return batches, fr.Stats()
}

func releaseAll(batches []*columnar.Batch) {
	for _, b := range batches {
		b.Release()
	}
}

func stringColumn(t testing.TB, b *columnar.Batch, name string) []string {
	t.Helper()
	col, ok := b.ColumnByName(name)
	require.True(t, ok, "column %s", name)
	arr, ok := col.(*array.String)
	require.True(t, ok, "column %s is %T", name, col)
	out := make([]string, arr.Len())
	for i := range out {
		out[i] = arr.Value(i)
	}
	return out
}

// nullableInts returns nil for null slots.
func nullableInts(t testing.TB, b *columnar.Batch, name string) []*int32 {
	t.Helper()
	col, ok := b.ColumnByName(name)
	require.True(t, ok, "column %s", name)
	arr, ok := col.(*array.Int32)
	require.True(t, ok, "column %s is %T", name, col)
	out := make([]*int32, arr.Len())
	for i := range out {
		if arr.IsValid(i) {
			v := arr.Value(i)
			out[i] = &v
		}
	}
	return out
}

func i32(v int32) *int32 { return &v }

// countingReader counts Read calls on the wrapped source.
type countingReader struct {
	*bytes.Reader
	reads int
}

func (c *countingReader) Read(p []byte) (int, error) {
	c.reads++
	return c.Reader.Read(p)
}
