package avro

import (
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// Cursor decodes Avro binary primitives from an in-memory byte slice.
// Values returned as []byte alias the underlying slice.
type Cursor struct {
	buf []byte
	pos int
}

// NewCursor returns a cursor positioned at the start of buf.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Reset repositions the cursor at the start of buf.
func (c *Cursor) Reset(buf []byte) {
	c.buf = buf
	c.pos = 0
}

// Offset returns the number of bytes consumed so far.
func (c *Cursor) Offset() int { return c.pos }

// Remaining returns the number of unconsumed bytes.
func (c *Cursor) Remaining() int { return len(c.buf) - c.pos }

func (c *Cursor) shortRead(need int) *Error {
	return Errorf(ErrTruncatedBlock, int64(c.pos), "%w: need %d bytes, have %d", ErrShortRead, need, c.Remaining())
}

// ReadLong decodes a zig-zag variable-length long.
func (c *Cursor) ReadLong() (int64, error) {
	v, n := binary.Varint(c.buf[c.pos:])
	if n == 0 {
		return 0, c.shortRead(1)
	}
	if n < 0 {
		return 0, Errorf(ErrInvalidValue, int64(c.pos), "varint overflows 64 bits")
	}
	c.pos += n
	return v, nil
}

// ReadInt decodes a zig-zag variable-length int and checks it fits in 32 bits.
func (c *Cursor) ReadInt() (int32, error) {
	start := c.pos
	v, err := c.ReadLong()
	if err != nil {
		return 0, err
	}
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, Errorf(ErrInvalidValue, int64(start), "int value %d out of range", v)
	}
	return int32(v), nil
}

// ReadBoolean decodes a single-byte boolean.
func (c *Cursor) ReadBoolean() (bool, error) {
	if c.pos >= len(c.buf) {
		return false, c.shortRead(1)
	}
	b := c.buf[c.pos]
	if b > 1 {
		return false, Errorf(ErrInvalidValue, int64(c.pos), "boolean byte 0x%02x", b)
	}
	c.pos++
	return b == 1, nil
}

// ReadFloat decodes a 4-byte little-endian IEEE 754 float.
func (c *Cursor) ReadFloat() (float32, error) {
	if c.Remaining() < 4 {
		return 0, c.shortRead(4)
	}
	v := math.Float32frombits(binary.LittleEndian.Uint32(c.buf[c.pos:]))
	c.pos += 4
	return v, nil
}

// ReadDouble decodes an 8-byte little-endian IEEE 754 double.
func (c *Cursor) ReadDouble() (float64, error) {
	if c.Remaining() < 8 {
		return 0, c.shortRead(8)
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(c.buf[c.pos:]))
	c.pos += 8
	return v, nil
}

func (c *Cursor) readLength() (int, error) {
	start := c.pos
	n, err := c.ReadLong()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, Errorf(ErrInvalidValue, int64(start), "negative length %d", n)
	}
	if n > int64(c.Remaining()) {
		return 0, c.shortRead(int(min(n, math.MaxInt32)))
	}
	return int(n), nil
}

// ReadBytes decodes a length-prefixed byte sequence without copying.
func (c *Cursor) ReadBytes() ([]byte, error) {
	n, err := c.readLength()
	if err != nil {
		return nil, err
	}
	b := c.buf[c.pos : c.pos+n : c.pos+n]
	c.pos += n
	return b, nil
}

// ReadString decodes a length-prefixed UTF-8 string without copying.
func (c *Cursor) ReadString() ([]byte, error) {
	start := c.pos
	b, err := c.ReadBytes()
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(b) {
		return nil, NewError(ErrInvalidUTF8, int64(start), nil)
	}
	return b, nil
}

// ReadBranch decodes a union branch index.
func (c *Cursor) ReadBranch() (int64, error) {
	return c.ReadLong()
}

// ReadBlockCount decodes the item count of an array or map block. A negative
// count is followed by the block's byte size, which is returned as well.
func (c *Cursor) ReadBlockCount() (count int64, size int64, err error) {
	start := c.pos
	count, err = c.ReadLong()
	if err != nil {
		return 0, 0, err
	}
	if count < 0 {
		if count == math.MinInt64 {
			return 0, 0, Errorf(ErrInvalidValue, int64(start), "block count overflow")
		}
		count = -count
		if size, err = c.ReadLong(); err != nil {
			return 0, 0, err
		}
		if size < 0 {
			return 0, 0, Errorf(ErrInvalidValue, int64(start), "negative block size %d", size)
		}
	}
	return count, size, nil
}

// Skip advances the cursor by n bytes.
func (c *Cursor) Skip(n int) error {
	if n < 0 {
		return Errorf(ErrInvalidValue, int64(c.pos), "negative skip %d", n)
	}
	if n > c.Remaining() {
		return c.shortRead(n)
	}
	c.pos += n
	return nil
}

// SkipBytes skips a length-prefixed byte sequence or string.
func (c *Cursor) SkipBytes() error {
	n, err := c.readLength()
	if err != nil {
		return err
	}
	c.pos += n
	return nil
}

// SkipLong skips a variable-length integer.
func (c *Cursor) SkipLong() error {
	_, err := c.ReadLong()
	return err
}
