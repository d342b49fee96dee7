package columnar

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/basekick-labs/avrocol/pkg/avro"
	"github.com/basekick-labs/avrocol/pkg/metrics"
	"github.com/basekick-labs/avrocol/pkg/ocf"
	"github.com/rs/zerolog"
)

// maxZeroWidthItems bounds how many values that occupy no bytes (nulls, empty
// records) one block may declare, since the payload length cannot bound them.
const maxZeroWidthItems = 1 << 24

// Reader decodes decompressed blocks into Arrow batches.
//
// Avro rows carry no field tags, so every writer field is walked for every
// record. Fields outside the projection are skipped without being materialized.
// A Reader reuses its builders between blocks and is not safe for concurrent use.
type Reader struct {
	writer     *avro.Schema
	projection []int // output column -> writer field
	columns    []int // writer field -> output column, -1 if skipped
	schema     *arrow.Schema

	mem     memory.Allocator
	builder *array.RecordBuilder
	cursor  avro.Cursor
	minSize map[*avro.Type]int

	// zero-width array items seen in the current block
	zeroWidth int64

	policy  TrailingDataPolicy
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewReader prepares a reader for blocks written with the writer schema.
// Unknown projected names fail with ErrProjectionFieldNotFound.
func NewReader(writer *avro.Schema, opts Options) (*Reader, error) {
	projection, err := resolveProjection(writer, opts.ProjectedFields)
	if err != nil {
		return nil, err
	}

	columns := make([]int, len(writer.Fields))
	for i := range columns {
		columns[i] = -1
	}
	for col, idx := range projection {
		columns[idx] = col
	}

	r := &Reader{
		writer:     writer,
		projection: projection,
		columns:    columns,
		schema:     ArrowSchema(writer, projection),
		mem:        opts.allocator(),
		minSize:    make(map[*avro.Type]int),
		policy:     opts.OnTrailingData,
		logger:     opts.logger().With().Str("component", "columnar-reader").Logger(),
		metrics:    metrics.Get(),
	}
	r.builder = array.NewRecordBuilder(r.mem, r.schema)
	return r, nil
}

func resolveProjection(writer *avro.Schema, names []string) ([]int, error) {
	if len(names) == 0 {
		all := make([]int, len(writer.Fields))
		for i := range all {
			all[i] = i
		}
		return all, nil
	}

	seen := make(map[string]bool, len(names))
	projection := make([]int, 0, len(names))
	for _, name := range names {
		idx, ok := writer.FieldIndex(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q (writer fields: %v)", avro.ErrProjectionFieldNotFound, name, writer.FieldNames())
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate projected field %q", name)
		}
		seen[name] = true
		projection = append(projection, idx)
	}
	return projection, nil
}

// Schema returns the Arrow schema of the batches this reader produces.
func (r *Reader) Schema() *arrow.Schema { return r.schema }

// Projection returns the writer field index of each output column.
func (r *Reader) Projection() []int { return r.projection }

// Decode turns one block into a batch of b.Rows rows. A zero-row block yields
// an empty batch. On error no batch is returned.
func (r *Reader) Decode(b ocf.DecompressedBlock) (*Batch, error) {
	c := &r.cursor
	c.Reset(b.Data)

	if b.Rows < 0 {
		return nil, avro.Errorf(avro.ErrMalformedBlock, 0, "negative record count %d", b.Rows).InBlock(b.Index)
	}
	// Reject counts the payload cannot possibly hold before reserving memory.
	least := r.sizeOf(r.writer.Root())
	if least > 0 && b.Rows > int64(len(b.Data)/least) {
		return nil, avro.Errorf(avro.ErrTruncatedBlock, int64(len(b.Data)),
			"%d records do not fit in %d bytes", b.Rows, len(b.Data)).InBlock(b.Index)
	}
	if least == 0 && b.Rows > maxZeroWidthItems {
		return nil, avro.Errorf(avro.ErrMalformedBlock, 0,
			"%d zero-width records exceed the limit of %d", b.Rows, maxZeroWidthItems).InBlock(b.Index)
	}
	r.zeroWidth = 0

	rows := int(b.Rows)
	if least > 0 {
		for _, fb := range r.builder.Fields() {
			fb.Reserve(rows)
		}
	}

	for row := 0; row < rows; row++ {
		for i, f := range r.writer.Fields {
			var err error
			if col := r.columns[i]; col >= 0 {
				err = r.decode(c, f.Type, r.builder.Field(col))
			} else {
				err = r.skip(c, f.Type)
			}
			if err != nil {
				r.reset()
				return nil, annotate(err, b.Index, f.Name, row)
			}
		}
	}

	batch := &Batch{Index: b.Index}
	if rest := c.Remaining(); rest > 0 {
		if r.policy != TrailingIgnore {
			r.reset()
			return nil, avro.Errorf(avro.ErrTrailingDataInBlock, int64(c.Offset()),
				"%d bytes left after %d records", rest, rows).InBlock(b.Index)
		}
		r.logger.Warn().
			Int("block", b.Index).
			Int("trailing_bytes", rest).
			Int64("rows", b.Rows).
			Msg("Ignoring trailing data in block")
		r.metrics.IncTrailingBytesIgnored(int64(rest))
		batch.trailing = rest
	}

	batch.rec = r.builder.NewRecord()
	return batch, nil
}

// Release frees the reader's builders.
func (r *Reader) Release() {
	if r.builder != nil {
		r.builder.Release()
		r.builder = nil
	}
}

// reset discards a partially built batch. Column lengths may disagree after a
// failed row, so the builder is replaced instead of flushed.
func (r *Reader) reset() {
	r.builder.Release()
	r.builder = array.NewRecordBuilder(r.mem, r.schema)
}

func annotate(err error, block int, field string, row int) error {
	var de *avro.Error
	if !errors.As(err, &de) {
		return err
	}
	out := de.InBlock(block)
	out.Field = field
	if out.Err == nil {
		out.Err = fmt.Errorf("row %d", row)
	} else {
		out.Err = fmt.Errorf("row %d: %w", row, out.Err)
	}
	return out
}

func (r *Reader) sizeOf(t *avro.Type) int {
	n, ok := r.minSize[t]
	if !ok {
		n = minEncodedSize(t)
		r.minSize[t] = n
	}
	return n
}

// branch reads a nullable union index and reports whether the value is present.
func branch(c *avro.Cursor, t *avro.Type) (bool, error) {
	off := c.Offset()
	idx, err := c.ReadBranch()
	if err != nil {
		return false, err
	}
	switch idx {
	case int64(t.NullBranch):
		return false, nil
	case t.ValueBranch():
		return true, nil
	}
	return false, avro.Errorf(avro.ErrUnsupportedUnionLayout, int64(off), "branch %d of a two-branch union", idx)
}

// decode reads one value of type t and appends it to b.
func (r *Reader) decode(c *avro.Cursor, t *avro.Type, b array.Builder) error {
	if t.Nullable {
		present, err := branch(c, t)
		if err != nil {
			return err
		}
		if !present {
			b.AppendNull()
			return nil
		}
	}

	switch t.Kind {
	case avro.Null:
		b.AppendNull()

	case avro.Boolean:
		v, err := c.ReadBoolean()
		if err != nil {
			return err
		}
		b.(*array.BooleanBuilder).Append(v)

	case avro.Int32:
		v, err := c.ReadInt()
		if err != nil {
			return err
		}
		if t.Logical == avro.LogicalDate {
			b.(*array.Date32Builder).Append(arrow.Date32(v))
		} else {
			b.(*array.Int32Builder).Append(v)
		}

	case avro.Int64:
		v, err := c.ReadLong()
		if err != nil {
			return err
		}
		if t.Logical == avro.LogicalNone {
			b.(*array.Int64Builder).Append(v)
		} else {
			b.(*array.TimestampBuilder).Append(arrow.Timestamp(v))
		}

	case avro.Float32:
		v, err := c.ReadFloat()
		if err != nil {
			return err
		}
		b.(*array.Float32Builder).Append(v)

	case avro.Float64:
		v, err := c.ReadDouble()
		if err != nil {
			return err
		}
		b.(*array.Float64Builder).Append(v)

	case avro.Bytes:
		v, err := c.ReadBytes()
		if err != nil {
			return err
		}
		b.(*array.BinaryBuilder).Append(v)

	case avro.String:
		v, err := c.ReadString()
		if err != nil {
			return err
		}
		// StringBuilder embeds BinaryBuilder; appending bytes skips a string copy.
		b.(*array.StringBuilder).BinaryBuilder.Append(v)

	case avro.Enum:
		off := c.Offset()
		idx, err := c.ReadLong()
		if err != nil {
			return err
		}
		if idx < 0 || idx >= int64(len(t.Symbols)) {
			return avro.Errorf(avro.ErrInvalidValue, int64(off), "enum index %d out of range for %s", idx, t.Name)
		}
		b.(*array.StringBuilder).Append(t.Symbols[idx])

	case avro.Record:
		sb := b.(*array.StructBuilder)
		sb.Append(true)
		for i, f := range t.Fields {
			if err := r.decode(c, f.Type, sb.FieldBuilder(i)); err != nil {
				return err
			}
		}

	case avro.Array:
		lb := b.(*array.ListBuilder)
		lb.Append(true)
		vb := lb.ValueBuilder()
		return r.blocks(c, t.Items, 0, func() error {
			return r.decode(c, t.Items, vb)
		})

	case avro.Map:
		mb := b.(*array.MapBuilder)
		mb.Append(true)
		kb := mb.KeyBuilder().(*array.StringBuilder)
		ib := mb.ItemBuilder()
		return r.blocks(c, t.Values, 1, func() error {
			k, err := c.ReadString()
			if err != nil {
				return err
			}
			kb.BinaryBuilder.Append(k)
			return r.decode(c, t.Values, ib)
		})

	default:
		return fmt.Errorf("%w: cannot decode %s", avro.ErrUnsupportedSchema, t)
	}
	return nil
}

// blocks walks the blocked encoding of an array or map, calling fn once per
// element. extra is the per-element overhead beyond the item itself (the map key).
func (r *Reader) blocks(c *avro.Cursor, item *avro.Type, extra int, fn func() error) error {
	least := r.sizeOf(item) + extra
	for {
		off := c.Offset()
		count, _, err := c.ReadBlockCount()
		if err != nil {
			return err
		}
		if count == 0 {
			return nil
		}
		if err := r.checkCount(off, count, least, c.Remaining()); err != nil {
			return err
		}
		for ; count > 0; count-- {
			if err := fn(); err != nil {
				return err
			}
		}
	}
}

// checkCount rejects an item count the remaining bytes cannot hold. Items that
// occupy no bytes are bounded by maxZeroWidthItems per block instead.
func (r *Reader) checkCount(off int, count int64, least, remaining int) error {
	if least > 0 {
		if count > int64(remaining/least) {
			return avro.Errorf(avro.ErrTruncatedBlock, int64(off), "%w: %d items do not fit in %d bytes", avro.ErrShortRead, count, remaining)
		}
		return nil
	}
	if count > maxZeroWidthItems-r.zeroWidth {
		return avro.Errorf(avro.ErrMalformedBlock, int64(off), "%d zero-width items exceed the limit of %d", count, maxZeroWidthItems)
	}
	r.zeroWidth += count
	return nil
}

// skip advances past one value of type t without materializing it.
// Strings are not UTF-8 checked when skipped.
func (r *Reader) skip(c *avro.Cursor, t *avro.Type) error {
	if t.Nullable {
		present, err := branch(c, t)
		if err != nil || !present {
			return err
		}
	}

	switch t.Kind {
	case avro.Null:
		return nil
	case avro.Boolean:
		_, err := c.ReadBoolean()
		return err
	case avro.Int32, avro.Int64, avro.Enum:
		return c.SkipLong()
	case avro.Float32:
		return c.Skip(4)
	case avro.Float64:
		return c.Skip(8)
	case avro.Bytes, avro.String:
		return c.SkipBytes()
	case avro.Record:
		for _, f := range t.Fields {
			if err := r.skip(c, f.Type); err != nil {
				return err
			}
		}
		return nil
	case avro.Array, avro.Map:
		return r.skipBlocks(c, t)
	}
	return fmt.Errorf("%w: cannot skip %s", avro.ErrUnsupportedSchema, t)
}

// skipBlocks uses the byte size of negatively counted blocks to jump over
// them; other blocks are walked item by item.
func (r *Reader) skipBlocks(c *avro.Cursor, t *avro.Type) error {
	least := 1
	if t.Kind == avro.Array {
		least = r.sizeOf(t.Items)
	}
	for {
		off := c.Offset()
		count, size, err := c.ReadBlockCount()
		if err != nil {
			return err
		}
		if count == 0 {
			return nil
		}
		if err := r.checkCount(off, count, least, c.Remaining()); err != nil {
			return err
		}
		if size > 0 {
			if size > int64(c.Remaining()) {
				return avro.Errorf(avro.ErrTruncatedBlock, int64(off), "%w: block of %d bytes, have %d", avro.ErrShortRead, size, c.Remaining())
			}
			if err := c.Skip(int(size)); err != nil {
				return err
			}
			continue
		}
		for ; count > 0; count-- {
			if t.Kind == avro.Map {
				if err := c.SkipBytes(); err != nil {
					return err
				}
				if err := r.skip(c, t.Values); err != nil {
					return err
				}
			} else if err := r.skip(c, t.Items); err != nil {
				return err
			}
		}
	}
}
