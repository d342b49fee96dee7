package avro

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error surfaced by the decoder matches exactly one of these
// via errors.Is.
var (
	// ErrMalformedHeader indicates missing or unparseable magic, header map, schema or codec.
	ErrMalformedHeader = errors.New("malformed container header")

	// ErrUnsupportedCodec indicates a codec name outside the supported set.
	ErrUnsupportedCodec = errors.New("unsupported codec")

	// ErrUnsupportedSchema indicates a schema construct the decoder cannot represent.
	ErrUnsupportedSchema = errors.New("unsupported schema")

	// ErrCorruptBlockMarker indicates a block's trailing sync marker did not match the header.
	ErrCorruptBlockMarker = errors.New("corrupt block sync marker")

	// ErrTruncatedBlock indicates the data ended in the middle of a block.
	ErrTruncatedBlock = errors.New("truncated block")

	// ErrMalformedBlock indicates a negative or oversized block count or length.
	ErrMalformedBlock = errors.New("malformed block header")

	// ErrDecompressionFailed indicates the block payload could not be decompressed.
	ErrDecompressionFailed = errors.New("decompression failed")

	// ErrInvalidUTF8 indicates a string value that is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("invalid UTF-8 in string value")

	// ErrUnsupportedUnionLayout indicates a union branch index outside the declared branches.
	ErrUnsupportedUnionLayout = errors.New("unsupported union layout")

	// ErrTrailingDataInBlock indicates unconsumed bytes after the declared record count.
	ErrTrailingDataInBlock = errors.New("trailing data in block")

	// ErrProjectionFieldNotFound indicates a projected field absent from the writer schema.
	ErrProjectionFieldNotFound = errors.New("projection field not found")

	// ErrInvalidValue indicates an encoded value that is out of range for its type.
	ErrInvalidValue = errors.New("invalid encoded value")

	// ErrShortRead is returned by the primitives when the cursor runs out of bytes.
	// Callers classify it into ErrMalformedHeader or ErrTruncatedBlock.
	ErrShortRead = errors.New("short read")
)

// Error carries the kind of a decode failure plus where it happened.
type Error struct {
	Kind error

	// Offset is an absolute file offset for stream-level errors and a
	// block-relative offset for record-level errors. -1 when unknown.
	Offset int64

	// Block is the zero-based block index, -1 when not inside a block.
	Block int

	Field string
	Err   error
}

// NewError builds an Error with unknown block context.
func NewError(kind error, offset int64, err error) *Error {
	return &Error{Kind: kind, Offset: offset, Block: -1, Err: err}
}

// Errorf builds an Error whose cause is a formatted message.
func Errorf(kind error, offset int64, format string, args ...interface{}) *Error {
	return NewError(kind, offset, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Block >= 0 {
		fmt.Fprintf(&b, " (block %d", e.Block)
		if e.Offset >= 0 {
			fmt.Fprintf(&b, ", offset %d", e.Offset)
		}
		b.WriteString(")")
	} else if e.Offset >= 0 {
		fmt.Fprintf(&b, " (offset %d)", e.Offset)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %q", e.Field)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// InBlock returns a copy of e annotated with a block index.
func (e *Error) InBlock(block int) *Error {
	c := *e
	c.Block = block
	return &c
}

// KindOf returns the error kind of err, or nil if err is not a decode error.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

var kinds = []error{
	ErrMalformedHeader,
	ErrUnsupportedCodec,
	ErrUnsupportedSchema,
	ErrCorruptBlockMarker,
	ErrTruncatedBlock,
	ErrMalformedBlock,
	ErrDecompressionFailed,
	ErrInvalidUTF8,
	ErrUnsupportedUnionLayout,
	ErrTrailingDataInBlock,
	ErrProjectionFieldNotFound,
	ErrInvalidValue,
}
