package columnar

import (
	"bytes"
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/basekick-labs/avrocol/pkg/metrics"
	"github.com/basekick-labs/avrocol/pkg/ocf"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// blockStats describes the block a batch was decoded from.
type blockStats struct {
	rows         int64
	compressed   int
	decompressed int
}

// aheadResult is one decoded block, or the error that ended the stream,
// tagged with its block index. io.EOF is tagged with the block count.
type aheadResult struct {
	index int
	batch *Batch
	stats blockStats
	err   error
}

// readAhead decodes blocks on a fixed pool of workers while the caller
// consumes earlier batches. A single producer reads raw blocks in file order;
// workers decompress and decode them; results are reordered by block index so
// the consumer sees exactly the sequential output. At most 2x workers blocks
// are held at any time, counting decoded batches not yet returned.
type readAhead struct {
	schema  *arrow.Schema
	cancel  context.CancelFunc
	g       *errgroup.Group
	slots   chan struct{}
	results chan aheadResult
	pending map[int]aheadResult
	next    int

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func startReadAhead(blocks *ocf.BlockStream, md *ocf.Metadata, opts Options, workers int) (*readAhead, error) {
	readers := make([]*Reader, workers)
	for i := range readers {
		r, err := NewReader(md.Schema, opts)
		if err != nil {
			for _, prev := range readers[:i] {
				prev.Release()
			}
			return nil, err
		}
		readers[i] = r
	}

	window := 2 * workers
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	ra := &readAhead{
		schema:  readers[0].Schema(),
		cancel:  cancel,
		g:       g,
		slots:   make(chan struct{}, window),
		results: make(chan aheadResult, window+1),
		pending: make(map[int]aheadResult, window),
		logger:  opts.logger().With().Str("component", "read-ahead").Logger(),
		metrics: metrics.Get(),
	}

	tasks := make(chan ocf.Block, window)
	g.Go(func() error {
		defer close(tasks)
		return ra.produce(ctx, blocks, tasks)
	})
	for _, r := range readers {
		g.Go(func() error {
			d := ocf.NewDecompressor(nil, md.Codec, ocf.WithMaxDecompressedSize(opts.MaxDecompressedSize))
			return ra.work(ctx, r, d, tasks)
		})
	}

	ra.logger.Debug().Int("workers", workers).Int("window", window).Msg("Read-ahead started")
	return ra, nil
}

// produce reads raw blocks until the stream ends. Each block takes a slot
// before it is read; the consumer frees the slot when it returns the result.
func (ra *readAhead) produce(ctx context.Context, blocks *ocf.BlockStream, tasks chan<- ocf.Block) error {
	for {
		select {
		case ra.slots <- struct{}{}:
			ra.metrics.AddReadAheadInFlight(1)
		case <-ctx.Done():
			return ctx.Err()
		}

		b, err := blocks.Next()
		if err != nil {
			// Tagged with the index the failed block would have had, so it is
			// delivered only after every earlier batch.
			return ra.send(ctx, aheadResult{index: blocks.Index(), err: err})
		}

		// The stream reuses its scratch buffer for the next block.
		b.Data = bytes.Clone(b.Data)
		select {
		case tasks <- b:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (ra *readAhead) work(ctx context.Context, r *Reader, d *ocf.Decompressor, tasks <-chan ocf.Block) error {
	defer r.Release()
	defer d.Close()

	for b := range tasks {
		res := aheadResult{index: b.Index}
		db, err := d.Decompress(b)
		if err == nil {
			res.stats = blockStats{rows: db.Rows, compressed: db.CompressedSize, decompressed: len(db.Data)}
			res.batch, err = r.Decode(db)
		}
		res.err = err
		if err := ra.send(ctx, res); err != nil {
			return err
		}
	}
	return nil
}

func (ra *readAhead) send(ctx context.Context, res aheadResult) error {
	select {
	case ra.results <- res:
		return nil
	case <-ctx.Done():
		if res.batch != nil {
			res.batch.Release()
		}
		return ctx.Err()
	}
}

// take returns the result for the next block in file order. It must not be
// called again after a result carrying an error (io.EOF included).
func (ra *readAhead) take() aheadResult {
	for {
		if res, ok := ra.pending[ra.next]; ok {
			delete(ra.pending, ra.next)
			ra.next++
			<-ra.slots
			ra.metrics.AddReadAheadInFlight(-1)
			return res
		}
		res := <-ra.results
		ra.pending[res.index] = res
	}
}

// close stops the pipeline and releases every batch not yet returned.
func (ra *readAhead) close() {
	ra.cancel()
	_ = ra.g.Wait()

	for _, res := range ra.pending {
		if res.batch != nil {
			res.batch.Release()
		}
	}
	ra.pending = nil

	for {
		select {
		case res := <-ra.results:
			if res.batch != nil {
				res.batch.Release()
			}
		default:
			ra.metrics.AddReadAheadInFlight(-int64(len(ra.slots)))
			return
		}
	}
}
