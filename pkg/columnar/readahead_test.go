package columnar_test

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/basekick-labs/avrocol/internal/avrotest"
	"github.com/basekick-labs/avrocol/pkg/avro"
	"github.com/basekick-labs/avrocol/pkg/columnar"
	"github.com/basekick-labs/avrocol/pkg/ocf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadAhead_MatchesSequential(t *testing.T) {
	data := encode(t, mixedSchema, ocf.CodecDeflate, 7, mixedRecords(2000))

	sequential, seqStats := readAll(t, data, columnar.Options{})
	defer releaseAll(sequential)

	for _, workers := range []int{1, 2, 4, 16} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			ahead, stats := readAll(t, data, columnar.Options{ReadAheadWorkers: workers})
			defer releaseAll(ahead)

			require.Len(t, ahead, len(sequential))
			for i := range ahead {
				assert.Equal(t, i, ahead[i].Index)
				assert.True(t, array.RecordEqual(sequential[i].Record(), ahead[i].Record()), "batch %d", i)
			}
			assert.Equal(t, seqStats, stats)
		})
	}
}

func TestReadAhead_ErrorAfterEarlierBatches(t *testing.T) {
	schema, err := avro.ParseSchema([]byte(pairSchema))
	require.NoError(t, err)

	w := &avrotest.Writer{Schema: pairSchema}
	data := w.Header()
	for i := 0; i < 10; i++ {
		var payload []byte
		if i == 6 {
			// declares one record, holds a bad union branch
			payload = append(avrotest.AppendString(nil, "bad"), 0x06)
		} else {
			payload, err = avrotest.AppendRecord(nil, schema.Root(), []any{fmt.Sprint(i), i})
			require.NoError(t, err)
		}
		data, err = w.AppendBlock(data, 1, payload)
		require.NoError(t, err)
	}

	fr, err := columnar.Open(bytes.NewReader(data), columnar.Options{ReadAheadWorkers: 4})
	require.NoError(t, err)
	defer fr.Close()

	for i := 0; i < 6; i++ {
		b, err := fr.Next()
		require.NoError(t, err, "block %d", i)
		assert.Equal(t, []string{fmt.Sprint(i)}, stringColumn(t, b, "a"))
		b.Release()
	}

	_, err = fr.Next()
	assert.ErrorIs(t, err, avro.ErrUnsupportedUnionLayout)
	_, again := fr.Next()
	assert.Equal(t, err, again)
}

func TestReadAhead_TruncatedFile(t *testing.T) {
	data := encode(t, pairSchema, ocf.CodecNull, 1, [][]any{{"x", 1}, {"y", 2}, {"z", 3}})
	data = data[:len(data)-5]

	fr, err := columnar.Open(bytes.NewReader(data), columnar.Options{ReadAheadWorkers: 2})
	require.NoError(t, err)
	defer fr.Close()

	n := 0
	var last error
	for b, err := range fr.All() {
		if err != nil {
			last = err
			break
		}
		n++
		b.Release()
	}
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, last, avro.ErrTruncatedBlock)
}

func TestReadAhead_EmptyFile(t *testing.T) {
	data := encode(t, pairSchema, ocf.CodecDeflate, 0, nil)

	fr, err := columnar.Open(bytes.NewReader(data), columnar.Options{ReadAheadWorkers: 3})
	require.NoError(t, err)
	defer fr.Close()

	for i := 0; i < 3; i++ {
		_, err := fr.Next()
		assert.Equal(t, io.EOF, err)
	}
}
