package ocf

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/basekick-labs/avrocol/pkg/avro"
	"github.com/klauspost/compress/flate"
)

// Codec identifies the block compression declared in the header.
type Codec string

const (
	CodecNull    Codec = "null"
	CodecDeflate Codec = "deflate"
)

// ParseCodec validates a codec name from the header. An empty name means "null".
func ParseCodec(name string) (Codec, error) {
	switch Codec(name) {
	case "", CodecNull:
		return CodecNull, nil
	case CodecDeflate:
		return CodecDeflate, nil
	default:
		return "", fmt.Errorf("%w: %q", avro.ErrUnsupportedCodec, name)
	}
}

// DefaultMaxDecompressedSize bounds the inflated size of one block.
const DefaultMaxDecompressedSize = 1 << 30

// errInflatedTooLarge is returned when a payload inflates past the limit.
var errInflatedTooLarge = errors.New("inflated payload exceeds limit")

// Inflater decompresses raw RFC 1951 deflate payloads. The flate reader and
// output buffer are reused between calls, so the returned slice is only valid
// until the next call to Inflate. Not safe for concurrent use.
type Inflater struct {
	// Limit bounds the inflated size. 0 means DefaultMaxDecompressedSize.
	Limit int64

	src bytes.Reader
	fr  io.ReadCloser
	out bytes.Buffer
}

func (f *Inflater) limit() int64 {
	if f.Limit <= 0 {
		return DefaultMaxDecompressedSize
	}
	return f.Limit
}

// Inflate decompresses payload in full.
func (f *Inflater) Inflate(payload []byte) ([]byte, error) {
	f.out.Reset()
	if len(payload) == 0 {
		return f.out.Bytes(), nil
	}

	f.src.Reset(payload)
	if f.fr == nil {
		f.fr = flate.NewReader(&f.src)
	} else if err := f.fr.(flate.Resetter).Reset(&f.src, nil); err != nil {
		return nil, err
	}

	limit := f.limit()
	if _, err := f.out.ReadFrom(io.LimitReader(f.fr, limit+1)); err != nil {
		return nil, err
	}
	if int64(f.out.Len()) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", errInflatedTooLarge, limit)
	}
	return f.out.Bytes(), nil
}

// Close releases the underlying flate reader.
func (f *Inflater) Close() error {
	if f.fr == nil {
		return nil
	}
	return f.fr.Close()
}
