package columnar

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
)

// TrailingDataPolicy selects what happens when a block still holds bytes after
// its declared record count has been decoded.
type TrailingDataPolicy int

const (
	// TrailingFail aborts the session with ErrTrailingDataInBlock.
	TrailingFail TrailingDataPolicy = iota
	// TrailingIgnore logs a warning and keeps the decoded batch.
	TrailingIgnore
)

func (p TrailingDataPolicy) String() string {
	switch p {
	case TrailingFail:
		return "fail"
	case TrailingIgnore:
		return "ignore"
	default:
		return fmt.Sprintf("TrailingDataPolicy(%d)", int(p))
	}
}

// ParseTrailingDataPolicy parses "fail" or "ignore". Empty means fail.
func ParseTrailingDataPolicy(s string) (TrailingDataPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail":
		return TrailingFail, nil
	case "ignore":
		return TrailingIgnore, nil
	default:
		return TrailingFail, fmt.Errorf("invalid trailing data policy %q (must be fail or ignore)", s)
	}
}

// Options configures a read session.
type Options struct {
	// ProjectedFields selects and orders the output columns by writer field
	// name. Empty selects every writer field in writer order.
	ProjectedFields []string

	OnTrailingData TrailingDataPolicy

	// ReadAheadWorkers > 0 decodes blocks on a pool of that many goroutines.
	// Batches are still returned in file order. 0 keeps the single-threaded
	// pull pipeline.
	ReadAheadWorkers int

	// MaxBlockSize bounds a block's declared compressed length. 0 means
	// ocf.DefaultMaxBlockSize.
	MaxBlockSize int64

	// MaxDecompressedSize bounds a block's inflated payload. 0 means
	// ocf.DefaultMaxDecompressedSize.
	MaxDecompressedSize int64

	// Logger defaults to a no-op logger.
	Logger *zerolog.Logger

	// Allocator backs the output batches. Defaults to memory.DefaultAllocator.
	Allocator memory.Allocator
}

func (o Options) logger() zerolog.Logger {
	if o.Logger == nil {
		return zerolog.Nop()
	}
	return *o.Logger
}

func (o Options) allocator() memory.Allocator {
	if o.Allocator == nil {
		return memory.DefaultAllocator
	}
	return o.Allocator
}
