package ocf

import (
	"bytes"
	"fmt"
	"io"

	"github.com/basekick-labs/avrocol/pkg/avro"
)

const (
	// SyncSize is the length of the synchronization marker.
	SyncSize = 16

	// Header keys reserved by the container format.
	SchemaKey = "avro.schema"
	CodecKey  = "avro.codec"

	// maxHeaderValue bounds a single header entry so garbage input cannot
	// trigger a huge allocation.
	maxHeaderValue = 64 << 20
)

// Magic is the 4-byte prefix of every object container file.
var Magic = []byte{'O', 'b', 'j', 1}

// SyncMarker delimits blocks. It is chosen randomly per file by the writer.
type SyncMarker [SyncSize]byte

// Metadata is the parsed container header. It is immutable once returned and
// shared read-only by every downstream stage of a read session.
type Metadata struct {
	Schema *avro.Schema
	Codec  Codec
	Sync   SyncMarker

	// Header holds every header entry, including user metadata.
	Header map[string][]byte

	// HeaderLength is the offset of the first block.
	HeaderLength int64
}

// ParseMetadata reads the container header from r, consuming exactly the
// header bytes so r is left positioned at the first block.
func ParseMetadata(r io.Reader) (*Metadata, error) {
	s := newByteStream(r, 0)

	magic := make([]byte, len(Magic))
	if err := s.readFull(magic); err != nil {
		return nil, avro.NewError(avro.ErrMalformedHeader, 0, fmt.Errorf("failed to read magic: %w", err))
	}
	if !bytes.Equal(magic, Magic) {
		return nil, avro.Errorf(avro.ErrMalformedHeader, 0, "invalid magic bytes %x", magic)
	}

	header, err := readHeaderMap(s)
	if err != nil {
		return nil, err
	}

	codec, err := ParseCodec(string(header[CodecKey]))
	if err != nil {
		return nil, err
	}

	schemaText, ok := header[SchemaKey]
	if !ok || len(schemaText) == 0 {
		return nil, avro.Errorf(avro.ErrMalformedHeader, -1, "missing %s", SchemaKey)
	}
	schema, err := avro.ParseSchema(schemaText)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", SchemaKey, err)
	}

	md := &Metadata{
		Schema: schema,
		Codec:  codec,
		Header: header,
	}
	if err := s.readFull(md.Sync[:]); err != nil {
		return nil, avro.NewError(avro.ErrMalformedHeader, s.off, fmt.Errorf("failed to read sync marker: %w", err))
	}
	md.HeaderLength = s.off
	return md, nil
}

// readHeaderMap decodes the header's map<bytes> using Avro's blocked map encoding.
func readHeaderMap(s *byteStream) (map[string][]byte, error) {
	header := make(map[string][]byte)
	for {
		start := s.off
		count, err := s.readLong()
		if err != nil {
			return nil, avro.NewError(avro.ErrMalformedHeader, start, fmt.Errorf("failed to read header map count: %w", err))
		}
		if count == 0 {
			return header, nil
		}
		if count < 0 {
			count = -count
			if _, err := s.readLong(); err != nil {
				return nil, avro.NewError(avro.ErrMalformedHeader, s.off, fmt.Errorf("failed to read header block size: %w", err))
			}
		}
		for i := int64(0); i < count; i++ {
			key, err := readHeaderBytes(s)
			if err != nil {
				return nil, err
			}
			value, err := readHeaderBytes(s)
			if err != nil {
				return nil, err
			}
			header[string(key)] = value
		}
	}
}

func readHeaderBytes(s *byteStream) ([]byte, error) {
	start := s.off
	n, err := s.readLong()
	if err != nil {
		return nil, avro.NewError(avro.ErrMalformedHeader, start, fmt.Errorf("failed to read header entry length: %w", err))
	}
	if n < 0 || n > maxHeaderValue {
		return nil, avro.Errorf(avro.ErrMalformedHeader, start, "invalid header entry length %d", n)
	}
	b := make([]byte, n)
	if err := s.readFull(b); err != nil {
		return nil, avro.NewError(avro.ErrMalformedHeader, s.off, fmt.Errorf("failed to read header entry: %w", err))
	}
	return b, nil
}
