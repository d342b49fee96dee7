package columnar_test

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/basekick-labs/avrocol/internal/avrotest"
	"github.com/basekick-labs/avrocol/pkg/avro"
	"github.com/basekick-labs/avrocol/pkg/columnar"
	"github.com/basekick-labs/avrocol/pkg/ocf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nestedSchema = `{
	"type": "record", "name": "event", "namespace": "acme",
	"fields": [
		{"name": "id", "type": "long"},
		{"name": "kind", "type": {"type": "enum", "name": "Kind", "symbols": ["CLICK", "VIEW"]}},
		{"name": "day", "type": {"type": "int", "logicalType": "date"}},
		{"name": "at", "type": {"type": "long", "logicalType": "timestamp-micros"}},
		{"name": "score", "type": "double"},
		{"name": "ratio", "type": ["null", "float"]},
		{"name": "raw", "type": "bytes"},
		{"name": "tags", "type": {"type": "array", "items": "string"}},
		{"name": "attrs", "type": {"type": "map", "values": ["null", "int"]}},
		{"name": "origin", "type": ["null", {"type": "record", "name": "Point", "fields": [
			{"name": "x", "type": "int"},
			{"name": "y", "type": "int"}
		]}]},
		{"name": "path", "type": {"type": "array", "items": "Point"}},
		{"name": "nothing", "type": "null"}
	]
}`

func nestedRows() [][]any {
	return [][]any{
		{
			int64(1), "CLICK", 19000, int64(1_600_000_000_000_000), 1.5, float32(0.25), []byte{0, 1},
			[]any{"a", "b"},
			map[string]any{"k1": 1, "k2": nil},
			[]any{3, 4},
			[]any{[]any{1, 2}, []any{5, 6}},
			nil,
		},
		{
			int64(2), "VIEW", 19001, int64(0), -2.0, nil, []byte{},
			[]any{},
			map[string]any{},
			nil,
			[]any{},
			nil,
		},
	}
}

func decodeNested(t *testing.T, opts columnar.Options) (*columnar.Batch, *columnar.Reader) {
	t.Helper()
	schema, err := avro.ParseSchema([]byte(nestedSchema))
	require.NoError(t, err)

	var payload []byte
	rows := nestedRows()
	for _, rec := range rows {
		payload, err = avrotest.AppendRecord(payload, schema.Root(), rec)
		require.NoError(t, err)
	}

	r, err := columnar.NewReader(schema, opts)
	require.NoError(t, err)
	batch, err := r.Decode(ocf.DecompressedBlock{Index: 4, Rows: int64(len(rows)), Data: payload})
	require.NoError(t, err)
	return batch, r
}

func TestReader_NestedTypes(t *testing.T) {
	batch, r := decodeNested(t, columnar.Options{})
	defer r.Release()
	defer batch.Release()

	require.Equal(t, 2, batch.NumRows())
	assert.Equal(t, 4, batch.Index)
	assert.Equal(t, "acme.event", batch.Schema().Metadata().Values()[0])

	col := func(name string) arrow.Array {
		c, ok := batch.ColumnByName(name)
		require.True(t, ok, name)
		return c
	}

	assert.Equal(t, []int64{1, 2}, col("id").(*array.Int64).Int64Values())
	assert.Equal(t, []string{"CLICK", "VIEW"}, stringColumn(t, batch, "kind"))

	day := col("day").(*array.Date32)
	assert.Equal(t, arrow.Date32(19000), day.Value(0))

	at := col("at").(*array.Timestamp)
	assert.Equal(t, arrow.Timestamp(1_600_000_000_000_000), at.Value(0))
	assert.Equal(t, arrow.Microsecond, at.DataType().(*arrow.TimestampType).Unit)

	assert.Equal(t, []float64{1.5, -2.0}, col("score").(*array.Float64).Float64Values())

	ratio := col("ratio").(*array.Float32)
	assert.Equal(t, float32(0.25), ratio.Value(0))
	assert.True(t, ratio.IsNull(1))

	raw := col("raw").(*array.Binary)
	assert.Equal(t, []byte{0, 1}, raw.Value(0))
	assert.Empty(t, raw.Value(1))

	tags := col("tags").(*array.List)
	tagValues := tags.ListValues().(*array.String)
	start, end := tags.ValueOffsets(0)
	assert.Equal(t, int64(0), start)
	assert.Equal(t, int64(2), end)
	assert.Equal(t, "a", tagValues.Value(0))
	assert.Equal(t, "b", tagValues.Value(1))
	start, end = tags.ValueOffsets(1)
	assert.Equal(t, start, end)

	attrs := col("attrs").(*array.Map)
	keys := attrs.Keys().(*array.String)
	items := attrs.Items().(*array.Int32)
	require.Equal(t, 2, keys.Len())
	assert.Equal(t, "k1", keys.Value(0))
	assert.Equal(t, int32(1), items.Value(0))
	assert.Equal(t, "k2", keys.Value(1))
	assert.True(t, items.IsNull(1))
	assert.True(t, attrs.DataType().(*arrow.MapType).ItemField().Nullable)

	origin := col("origin").(*array.Struct)
	assert.True(t, origin.IsValid(0))
	assert.True(t, origin.IsNull(1))
	assert.Equal(t, int32(3), origin.Field(0).(*array.Int32).Value(0))
	assert.Equal(t, int32(4), origin.Field(1).(*array.Int32).Value(0))

	path := col("path").(*array.List)
	points := path.ListValues().(*array.Struct)
	require.Equal(t, 2, points.Len())
	assert.Equal(t, []int32{1, 5}, points.Field(0).(*array.Int32).Int32Values())
	assert.Equal(t, []int32{2, 6}, points.Field(1).(*array.Int32).Int32Values())

	nothing := col("nothing")
	assert.Equal(t, arrow.NULL, nothing.DataType().ID())
	assert.Equal(t, 2, nothing.NullN())
}

func TestReader_SkipsNestedUnprojected(t *testing.T) {
	batch, r := decodeNested(t, columnar.Options{ProjectedFields: []string{"nothing", "kind", "id"}})
	defer r.Release()
	defer batch.Release()

	assert.Equal(t, 3, batch.NumCols())
	assert.Equal(t, []string{"CLICK", "VIEW"}, stringColumn(t, batch, "kind"))
	id, _ := batch.ColumnByName("id")
	assert.Equal(t, []int64{1, 2}, id.(*array.Int64).Int64Values())
}

func TestReader_SkipsSizedBlocks(t *testing.T) {
	schema, err := avro.ParseSchema([]byte(`{"type":"record","name":"r","fields":[
		{"name":"tags","type":{"type":"array","items":"string"}},
		{"name":"n","type":"int"}
	]}`))
	require.NoError(t, err)

	// Array written with a negative count and a byte size, as some writers do.
	var items []byte
	items = avrotest.AppendString(items, "a")
	items = avrotest.AppendString(items, "bc")
	var payload []byte
	payload = avrotest.AppendLong(payload, -2)
	payload = avrotest.AppendLong(payload, int64(len(items)))
	payload = append(payload, items...)
	payload = avrotest.AppendLong(payload, 0)
	payload = avrotest.AppendLong(payload, 42)

	for _, projection := range [][]string{nil, {"n"}} {
		r, err := columnar.NewReader(schema, columnar.Options{ProjectedFields: projection})
		require.NoError(t, err)
		batch, err := r.Decode(ocf.DecompressedBlock{Rows: 1, Data: payload})
		require.NoError(t, err)

		n, _ := batch.ColumnByName("n")
		assert.Equal(t, int32(42), n.(*array.Int32).Value(0))
		batch.Release()
		r.Release()
	}
}

func TestReader_ZeroRowBlock(t *testing.T) {
	schema, err := avro.ParseSchema([]byte(pairSchema))
	require.NoError(t, err)
	r, err := columnar.NewReader(schema, columnar.Options{})
	require.NoError(t, err)
	defer r.Release()

	batch, err := r.Decode(ocf.DecompressedBlock{Rows: 0})
	require.NoError(t, err)
	defer batch.Release()
	assert.Equal(t, 0, batch.NumRows())
	assert.Equal(t, 2, batch.NumCols())
}

func TestReader_RecoversAfterError(t *testing.T) {
	schema, err := avro.ParseSchema([]byte(pairSchema))
	require.NoError(t, err)
	r, err := columnar.NewReader(schema, columnar.Options{})
	require.NoError(t, err)
	defer r.Release()

	// first record decodes fully, second stops inside field b
	bad := append(avrotest.AppendString(nil, "x"), 0x00)
	bad = append(bad, avrotest.AppendString(nil, "y")...)
	_, err = r.Decode(ocf.DecompressedBlock{Rows: 2, Data: bad})
	require.ErrorIs(t, err, avro.ErrTruncatedBlock)

	good, err := avrotest.AppendRecord(nil, schema.Root(), []any{"z", 9})
	require.NoError(t, err)
	batch, err := r.Decode(ocf.DecompressedBlock{Rows: 1, Data: good})
	require.NoError(t, err)
	defer batch.Release()

	assert.Equal(t, []string{"z"}, stringColumn(t, batch, "a"))
	assert.Equal(t, []*int32{i32(9)}, nullableInts(t, batch, "b"))
}

func TestReader_EnumIndexOutOfRange(t *testing.T) {
	schema, err := avro.ParseSchema([]byte(`{"type":"record","name":"r","fields":[
		{"name":"e","type":{"type":"enum","name":"E","symbols":["A"]}}
	]}`))
	require.NoError(t, err)
	r, err := columnar.NewReader(schema, columnar.Options{})
	require.NoError(t, err)
	defer r.Release()

	_, err = r.Decode(ocf.DecompressedBlock{Rows: 1, Data: avrotest.AppendLong(nil, 3)})
	assert.ErrorIs(t, err, avro.ErrInvalidValue)
}

func TestArrowType(t *testing.T) {
	schema, err := avro.ParseSchema([]byte(nestedSchema))
	require.NoError(t, err)

	want := map[string]string{
		"id":      "int64",
		"kind":    "utf8",
		"day":     "date32",
		"at":      "timestamp[us, tz=UTC]",
		"score":   "float64",
		"ratio":   "float32",
		"raw":     "binary",
		"tags":    "list<item: utf8>",
		"nothing": "null",
	}
	for _, f := range schema.Fields {
		exp, ok := want[f.Name]
		if !ok {
			continue
		}
		assert.Equal(t, exp, columnar.ArrowType(f.Type).String(), f.Name)
	}
}

func TestReader_ZeroWidthCounts(t *testing.T) {
	const huge = int64(1) << 40
	nullArray := `{"type":"record","name":"r","fields":[
		{"name":"a","type":{"type":"array","items":"null"}},
		{"name":"b","type":"int"}
	]}`
	hugeArray := avrotest.AppendLong(avrotest.AppendLong(nil, huge), 0)
	hugeArray = avrotest.AppendLong(hugeArray, 7)
	sizedArray := avrotest.AppendLong(avrotest.AppendLong(nil, -huge), 0)
	sizedArray = avrotest.AppendLong(avrotest.AppendLong(sizedArray, 0), 7)

	tests := []struct {
		name       string
		schema     string
		projection []string
		rows       int64
		payload    []byte
	}{
		{"array of nulls", nullArray, nil, 1, hugeArray},
		{"array of nulls unprojected", nullArray, []string{"b"}, 1, hugeArray},
		{"sized array of nulls unprojected", nullArray, []string{"b"}, 1, sizedArray},
		{"record of null fields", `{"type":"record","name":"r","fields":[
			{"name":"a","type":"null"},{"name":"b","type":"null"}]}`, nil, huge, nil},
		{"record without fields", `{"type":"record","name":"r","fields":[]}`, nil, huge, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schema, err := avro.ParseSchema([]byte(tt.schema))
			require.NoError(t, err)
			r, err := columnar.NewReader(schema, columnar.Options{ProjectedFields: tt.projection})
			require.NoError(t, err)
			defer r.Release()

			_, err = r.Decode(ocf.DecompressedBlock{Index: 2, Rows: tt.rows, Data: tt.payload})
			require.ErrorIs(t, err, avro.ErrMalformedBlock)
			var de *avro.Error
			require.ErrorAs(t, err, &de)
			assert.Equal(t, 2, de.Block)
		})
	}
}

func TestReader_ZeroWidthWithinLimit(t *testing.T) {
	schema, err := avro.ParseSchema([]byte(`{"type":"record","name":"r","fields":[
		{"name":"a","type":{"type":"array","items":"null"}}
	]}`))
	require.NoError(t, err)
	r, err := columnar.NewReader(schema, columnar.Options{})
	require.NoError(t, err)
	defer r.Release()

	// two rows of three nulls each; the limit applies per block, not per row
	var payload []byte
	for i := 0; i < 2; i++ {
		payload = avrotest.AppendLong(payload, 3)
		payload = avrotest.AppendLong(payload, 0)
	}
	batch, err := r.Decode(ocf.DecompressedBlock{Rows: 2, Data: payload})
	require.NoError(t, err)
	defer batch.Release()

	col, _ := batch.ColumnByName("a")
	list := col.(*array.List)
	assert.Equal(t, 6, list.ListValues().Len())
	assert.Equal(t, 6, list.ListValues().NullN())
}
