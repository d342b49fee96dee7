package columnar

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/basekick-labs/avrocol/pkg/metrics"
	"github.com/basekick-labs/avrocol/pkg/ocf"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("file reader is closed")

type sessionState int

const (
	stateMetadataParsed sessionState = iota
	stateIterating
	stateExhausted
	stateFailed
)

func (s sessionState) String() string {
	switch s {
	case stateMetadataParsed:
		return "metadata_parsed"
	case stateIterating:
		return "iterating"
	case stateExhausted:
		return "exhausted"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stats are the per-session totals of a FileReader.
type Stats struct {
	Blocks               int
	EmptyBlocks          int
	Batches              int
	Rows                 int64
	CompressedBytes      int64
	DecompressedBytes    int64
	TrailingBytesIgnored int64
}

// FileReader is one read session over a container file: it parses the header
// once, then yields one Batch per non-empty block in file order.
//
// Zero-row blocks are skipped. Any error is terminal: the reader returns the
// same error from every later Next. After the last block Next keeps returning
// io.EOF without touching the source again.
type FileReader struct {
	md     *ocf.Metadata
	schema *arrow.Schema

	// Sequential pipeline.
	decomp *ocf.Decompressor
	reader *Reader

	// Read-ahead pipeline, used instead when ReadAheadWorkers > 0.
	ahead *readAhead

	state   sessionState
	err     error
	stats   Stats
	session string
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// Open parses the container header of src and prepares iteration. src is read
// from offset 0.
func Open(src io.ReadSeeker, opts Options) (*FileReader, error) {
	m := metrics.Get()
	session := uuid.NewString()
	base := opts.logger().With().Str("session", session).Logger()
	logger := base.With().Str("component", "columnar-file-reader").Logger()

	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to start of container: %w", err)
	}

	br := bufio.NewReaderSize(src, 64<<10)
	md, err := ocf.ParseMetadata(br)
	if err != nil {
		m.IncDecodeErrors()
		logger.Error().Err(err).Msg("Failed to parse container header")
		return nil, err
	}

	opts.Logger = &base
	blocks := ocf.NewBlockStream(br, md.Sync,
		ocf.WithStartOffset(md.HeaderLength),
		ocf.WithMaxBlockSize(opts.MaxBlockSize),
		ocf.WithLogger(base),
	)

	f := &FileReader{
		md:      md,
		state:   stateMetadataParsed,
		session: session,
		logger:  logger,
		metrics: m,
	}

	if opts.ReadAheadWorkers > 0 {
		if f.ahead, err = startReadAhead(blocks, md, opts, opts.ReadAheadWorkers); err != nil {
			return nil, err
		}
		f.schema = f.ahead.schema
	} else {
		if f.reader, err = NewReader(md.Schema, opts); err != nil {
			return nil, err
		}
		f.decomp = ocf.NewDecompressor(blocks, md.Codec, ocf.WithMaxDecompressedSize(opts.MaxDecompressedSize))
		f.schema = f.reader.Schema()
	}

	m.IncSessionsOpened()
	logger.Debug().
		Str("codec", string(md.Codec)).
		Str("schema", md.Schema.Name).
		Int("fields", len(md.Schema.Fields)).
		Int("columns", len(f.schema.Fields())).
		Int64("header_bytes", md.HeaderLength).
		Int("read_ahead_workers", opts.ReadAheadWorkers).
		Msg("Parsed container header")

	return f, nil
}

// Metadata returns the parsed container header.
func (f *FileReader) Metadata() *ocf.Metadata { return f.md }

// Schema returns the Arrow schema of every batch.
func (f *FileReader) Schema() *arrow.Schema { return f.schema }

// Session returns the id attached to this reader's log entries.
func (f *FileReader) Session() string { return f.session }

// Stats returns the totals so far.
func (f *FileReader) Stats() Stats { return f.stats }

// Next returns the next batch, or io.EOF once the file is exhausted. The
// caller owns the batch and must Release it.
func (f *FileReader) Next() (*Batch, error) {
	switch f.state {
	case stateExhausted:
		return nil, io.EOF
	case stateFailed:
		return nil, f.err
	}
	f.state = stateIterating

	for {
		batch, st, err := f.nextBlock()
		if err == io.EOF {
			f.finish()
			return nil, io.EOF
		}
		if err != nil {
			return nil, f.fail(err)
		}

		f.stats.Blocks++
		f.stats.CompressedBytes += int64(st.compressed)
		f.stats.DecompressedBytes += int64(st.decompressed)
		f.stats.TrailingBytesIgnored += int64(batch.trailing)
		f.metrics.IncBlocksRead()
		f.metrics.IncCompressedBytes(int64(st.compressed))
		f.metrics.IncDecompressedBytes(int64(st.decompressed))

		if st.rows == 0 {
			batch.Release()
			f.stats.EmptyBlocks++
			f.metrics.IncBlocksEmpty()
			f.logger.Debug().Int("block", batch.Index).Msg("Skipping empty block")
			continue
		}

		f.stats.Batches++
		f.stats.Rows += st.rows
		f.metrics.IncBatchesEmitted()
		f.metrics.IncRowsDecoded(st.rows)
		return batch, nil
	}
}

func (f *FileReader) nextBlock() (*Batch, blockStats, error) {
	if f.ahead != nil {
		res := f.ahead.take()
		return res.batch, res.stats, res.err
	}

	db, err := f.decomp.Next()
	if err != nil {
		return nil, blockStats{}, err
	}
	st := blockStats{rows: db.Rows, compressed: db.CompressedSize, decompressed: len(db.Data)}
	batch, err := f.reader.Decode(db)
	return batch, st, err
}

// All iterates the remaining batches. Iteration stops after the first error.
func (f *FileReader) All() iter.Seq2[*Batch, error] {
	return func(yield func(*Batch, error) bool) {
		for {
			batch, err := f.Next()
			if err == io.EOF {
				return
			}
			if !yield(batch, err) || err != nil {
				return
			}
		}
	}
}

func (f *FileReader) finish() {
	f.state = stateExhausted
	f.release()
	f.metrics.IncSessionsExhausted()
	f.logger.Info().
		Int("blocks", f.stats.Blocks).
		Int("batches", f.stats.Batches).
		Int64("rows", f.stats.Rows).
		Int64("compressed_bytes", f.stats.CompressedBytes).
		Int64("decompressed_bytes", f.stats.DecompressedBytes).
		Msg("Container exhausted")
}

func (f *FileReader) fail(err error) error {
	f.state = stateFailed
	f.err = err
	f.release()
	f.metrics.IncDecodeErrors()
	f.metrics.IncSessionsFailed()
	f.logger.Error().
		Err(err).
		Int("blocks", f.stats.Blocks).
		Int64("rows", f.stats.Rows).
		Msg("Read session failed")
	return err
}

func (f *FileReader) release() {
	if f.ahead != nil {
		f.ahead.close()
		f.ahead = nil
	}
	if f.reader != nil {
		f.reader.Release()
		f.reader = nil
	}
	if f.decomp != nil {
		f.decomp.Close()
		f.decomp = nil
	}
}

// Close releases decoder resources and stops read-ahead workers. Batches
// already returned stay valid. Next after Close returns ErrClosed unless the
// file was already exhausted.
func (f *FileReader) Close() error {
	f.logger.Debug().Stringer("state", f.state).Msg("Closing file reader")
	f.release()
	if f.state == stateMetadataParsed || f.state == stateIterating {
		f.state = stateFailed
		f.err = ErrClosed
	}
	return nil
}
