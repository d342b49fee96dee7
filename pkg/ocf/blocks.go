package ocf

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/basekick-labs/avrocol/pkg/avro"
	"github.com/rs/zerolog"
)

// DefaultMaxBlockSize bounds the declared compressed length of one block.
const DefaultMaxBlockSize = 256 << 20

// Block is one raw block of the container. Data aliases a scratch buffer
// owned by the BlockStream and is only valid until the next call to Next.
type Block struct {
	Index  int
	Rows   int64
	Data   []byte
	Offset int64 // file offset of the block's record count
}

// BlockStreamOption configures a BlockStream.
type BlockStreamOption func(*BlockStream)

// WithStartOffset sets the file offset of the first block, used for error context.
func WithStartOffset(off int64) BlockStreamOption {
	return func(s *BlockStream) { s.r.off = off }
}

// WithMaxBlockSize overrides DefaultMaxBlockSize.
func WithMaxBlockSize(n int64) BlockStreamOption {
	return func(s *BlockStream) {
		if n > 0 {
			s.maxBlockSize = n
		}
	}
}

// WithLogger attaches a logger for per-block debug output.
func WithLogger(logger zerolog.Logger) BlockStreamOption {
	return func(s *BlockStream) {
		s.logger = logger.With().Str("component", "ocf-blocks").Logger()
	}
}

// BlockStream iterates the blocks following the header. It is pull-based and
// never reads ahead of the block being returned. Once it returns an error
// (io.EOF included) every later call returns the same error.
type BlockStream struct {
	r            *byteStream
	sync         SyncMarker
	maxBlockSize int64
	buf          []byte
	marker       SyncMarker
	index        int
	err          error
	logger       zerolog.Logger
}

// NewBlockStream returns an iterator over the blocks of r, which must be
// positioned at the first block.
func NewBlockStream(r io.Reader, sync SyncMarker, opts ...BlockStreamOption) *BlockStream {
	if _, ok := r.(io.ByteReader); !ok {
		r = bufio.NewReaderSize(r, 64<<10)
	}
	s := &BlockStream{
		r:            newByteStream(r, 0),
		sync:         sync,
		maxBlockSize: DefaultMaxBlockSize,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next returns the next block, or io.EOF when the source ends cleanly at a
// block boundary.
func (s *BlockStream) Next() (Block, error) {
	if s.err != nil {
		return Block{}, s.err
	}
	b, err := s.next()
	if err != nil {
		s.err = err
		return Block{}, err
	}
	s.index++
	return b, nil
}

// Index returns the number of blocks returned so far.
func (s *BlockStream) Index() int { return s.index }

func (s *BlockStream) next() (Block, error) {
	start := s.r.off

	rows, err := s.r.readLong()
	if err == io.EOF {
		return Block{}, io.EOF
	}
	if err != nil {
		return Block{}, s.fail(start, "record count", err)
	}
	if rows < 0 {
		return Block{}, s.errorf(avro.ErrMalformedBlock, start, "negative record count %d", rows)
	}

	lenOff := s.r.off
	size, err := s.r.readLong()
	if err != nil {
		return Block{}, s.fail(lenOff, "byte length", eofToUnexpected(err))
	}
	if size < 0 || size > s.maxBlockSize {
		return Block{}, s.errorf(avro.ErrMalformedBlock, lenOff, "block length %d outside [0, %d]", size, s.maxBlockSize)
	}

	if int64(cap(s.buf)) < size {
		s.buf = make([]byte, size)
	}
	s.buf = s.buf[:size]
	if err := s.r.readFull(s.buf); err != nil {
		return Block{}, s.fail(s.r.off, "payload", err)
	}

	markerOff := s.r.off
	if err := s.r.readFull(s.marker[:]); err != nil {
		return Block{}, s.fail(markerOff, "sync marker", err)
	}
	if !bytes.Equal(s.marker[:], s.sync[:]) {
		return Block{}, s.errorf(avro.ErrCorruptBlockMarker, markerOff, "expected %x, got %x", s.sync[:], s.marker[:])
	}

	s.logger.Debug().
		Int("block", s.index).
		Int64("rows", rows).
		Int64("bytes", size).
		Int64("offset", start).
		Msg("Read block")

	return Block{Index: s.index, Rows: rows, Data: s.buf, Offset: start}, nil
}

func (s *BlockStream) errorf(kind error, off int64, format string, args ...interface{}) error {
	return avro.Errorf(kind, off, format, args...).InBlock(s.index)
}

// fail classifies a read error: running out of data mid-block is a truncation,
// an overlong varint is a malformed header, anything else is an I/O error.
func (s *BlockStream) fail(off int64, what string, err error) error {
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		return avro.NewError(avro.ErrTruncatedBlock, off, fmt.Errorf("failed to read %s: %w", what, err)).InBlock(s.index)
	case errors.Is(err, errVarintOverflow):
		return s.errorf(avro.ErrMalformedBlock, off, "%s varint overflows 64 bits", what)
	default:
		return fmt.Errorf("failed to read block %d %s: %w", s.index, what, err)
	}
}

func eofToUnexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
