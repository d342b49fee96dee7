package ocf

import (
	"encoding/binary"
	"errors"
	"io"
)

var errVarintOverflow = errors.New("varint overflows 64 bits")

// byteStream reads Avro stream-level values and tracks the absolute offset of
// the next unread byte. It never reads past what it is asked for, so a source
// handed to ParseMetadata is left exactly at the first block.
type byteStream struct {
	r   io.Reader
	br  io.ByteReader
	off int64
	one [1]byte
}

func newByteStream(r io.Reader, off int64) *byteStream {
	s := &byteStream{r: r, off: off}
	if br, ok := r.(io.ByteReader); ok {
		s.br = br
	}
	return s
}

func (s *byteStream) ReadByte() (byte, error) {
	if s.br != nil {
		b, err := s.br.ReadByte()
		if err == nil {
			s.off++
		}
		return b, err
	}
	if _, err := io.ReadFull(s.r, s.one[:]); err != nil {
		return 0, err
	}
	s.off++
	return s.one[0], nil
}

func (s *byteStream) readFull(p []byte) error {
	n, err := io.ReadFull(s.r, p)
	s.off += int64(n)
	if err == io.EOF && len(p) > 0 {
		return io.ErrUnexpectedEOF
	}
	return err
}

// readLong decodes a zig-zag varint. It returns io.EOF only when no byte at
// all was available, io.ErrUnexpectedEOF when the varint is cut short.
func (s *byteStream) readLong() (int64, error) {
	var ux uint64
	for i := 0; i < binary.MaxVarintLen64; i++ {
		b, err := s.ReadByte()
		if err != nil {
			if i > 0 && err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
		if i == binary.MaxVarintLen64-1 && b > 1 {
			return 0, errVarintOverflow
		}
		ux |= uint64(b&0x7f) << (7 * i)
		if b < 0x80 {
			x := int64(ux >> 1)
			if ux&1 != 0 {
				x = ^x
			}
			return x, nil
		}
	}
	return 0, errVarintOverflow
}
