package columnar

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// Batch is the columnar form of one container block. Columns follow the
// projection order. The caller owns the batch and must Release it.
type Batch struct {
	// Index is the zero-based index of the source block in the file.
	Index int

	rec arrow.Record

	// trailing is the number of unconsumed block bytes ignored by policy.
	trailing int
}

// NumRows returns the number of rows in the batch.
func (b *Batch) NumRows() int { return int(b.rec.NumRows()) }

// NumCols returns the number of columns in the batch.
func (b *Batch) NumCols() int { return int(b.rec.NumCols()) }

// Schema returns the Arrow schema of the batch.
func (b *Batch) Schema() *arrow.Schema { return b.rec.Schema() }

// Column returns the i-th column.
func (b *Batch) Column(i int) arrow.Array { return b.rec.Column(i) }

// ColumnByName returns the column for a projected field name.
func (b *Batch) ColumnByName(name string) (arrow.Array, bool) {
	idx := b.rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return nil, false
	}
	return b.rec.Column(idx[0]), true
}

// Record exposes the underlying Arrow record. It stays owned by the batch;
// call Retain on it to keep it past Release.
func (b *Batch) Record() arrow.Record { return b.rec }

// Release frees the batch's buffers.
func (b *Batch) Release() {
	if b.rec != nil {
		b.rec.Release()
		b.rec = nil
	}
}
