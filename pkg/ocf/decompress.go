package ocf

import (
	"fmt"

	"github.com/basekick-labs/avrocol/pkg/avro"
)

// BlockSource yields raw blocks. *BlockStream implements it.
type BlockSource interface {
	Next() (Block, error)
}

// DecompressedBlock is a block payload ready for record decoding.
//
// When Owned is false Data is a view of the raw block (codec "null") and shares
// its lifetime; when Owned is true Data lives in the Decompressor's reusable
// output buffer. Either way it is valid until the next call to Next or
// Decompress.
type DecompressedBlock struct {
	Index          int
	Rows           int64
	Data           []byte
	Owned          bool
	CompressedSize int
}

// Decompressor applies the container codec to each block of a BlockSource.
//
// A decompression failure is reported for that block only: the underlying
// source has already consumed the whole block, so calling Next again
// attempts the following one. Errors from the source itself are returned as is.
type Decompressor struct {
	src      BlockSource
	codec    Codec
	inflater Inflater
}

// DecompressorOption configures a Decompressor.
type DecompressorOption func(*Decompressor)

// WithMaxDecompressedSize overrides DefaultMaxDecompressedSize. A block that
// inflates past n bytes fails with ErrDecompressionFailed.
func WithMaxDecompressedSize(n int64) DecompressorOption {
	return func(d *Decompressor) {
		if n > 0 {
			d.inflater.Limit = n
		}
	}
}

// NewDecompressor wraps src. src may be nil when only Decompress is used.
func NewDecompressor(src BlockSource, codec Codec, opts ...DecompressorOption) *Decompressor {
	d := &Decompressor{src: src, codec: codec}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Codec returns the codec applied to each block.
func (d *Decompressor) Codec() Codec { return d.codec }

// Next pulls one block from the source and decompresses it.
func (d *Decompressor) Next() (DecompressedBlock, error) {
	b, err := d.src.Next()
	if err != nil {
		return DecompressedBlock{}, err
	}
	return d.Decompress(b)
}

// Decompress decodes a single block payload.
func (d *Decompressor) Decompress(b Block) (DecompressedBlock, error) {
	out := DecompressedBlock{
		Index:          b.Index,
		Rows:           b.Rows,
		CompressedSize: len(b.Data),
	}
	switch d.codec {
	case CodecNull:
		out.Data = b.Data
	case CodecDeflate:
		data, err := d.inflater.Inflate(b.Data)
		if err != nil {
			return DecompressedBlock{}, avro.NewError(avro.ErrDecompressionFailed, b.Offset, fmt.Errorf("deflate: %w", err)).InBlock(b.Index)
		}
		out.Data = data
		out.Owned = true
	default:
		return DecompressedBlock{}, fmt.Errorf("%w: %q", avro.ErrUnsupportedCodec, d.codec)
	}
	return out, nil
}

// Close releases codec resources.
func (d *Decompressor) Close() error {
	return d.inflater.Close()
}
