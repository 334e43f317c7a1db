// Package record implements the on-disk codec for a single archive record.
//
// Each record is laid out as:
//
//	[u16 BE path length][path bytes (UTF-8)][i32 BE payload size][u8 tombstone][payload]
//
// The tombstone byte sits immediately before the payload, so a record can be
// logically deleted by flipping that single byte in place.
package record

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// ErrMalformed is returned when a record header cannot be decoded.
var ErrMalformed = errors.New("malformed record")

// MaxPathLen is the longest path that fits the 2-byte length prefix.
const MaxPathLen = math.MaxUint16

// MaxPayloadSize is the largest payload representable by the signed 4-byte size field.
const MaxPayloadSize = math.MaxInt32

const (
	pathLenSize   = 2
	sizeFieldSize = 4
	flagSize      = 1
)

// Header is the decoded fixed part of a record.
type Header struct {
	Path    string
	Size    int32
	Deleted bool
}

// EncodeHeader serializes the header for a live record: the length-prefixed
// path, the payload size and a zero tombstone byte.
func EncodeHeader(path string, size int) ([]byte, error) {
	if len(path) == 0 {
		return nil, errors.Wrap(ErrMalformed, "empty path")
	}
	if len(path) > MaxPathLen {
		return nil, errors.Wrapf(ErrMalformed, "path length %d exceeds %d bytes", len(path), MaxPathLen)
	}
	if size < 0 || size > MaxPayloadSize {
		return nil, errors.Wrapf(ErrMalformed, "payload size %d out of range", size)
	}

	buf := new(bytes.Buffer)
	buf.Grow(pathLenSize + len(path) + sizeFieldSize + flagSize)
	if err := binary.Write(buf, binary.BigEndian, uint16(len(path))); err != nil {
		return nil, errors.Wrap(err, "write path length")
	}
	buf.WriteString(path)
	if err := binary.Write(buf, binary.BigEndian, int32(size)); err != nil {
		return nil, errors.Wrap(err, "write payload size")
	}
	buf.WriteByte(0)
	return buf.Bytes(), nil
}

// HeaderLen returns the encoded length of a header for the given path.
func HeaderLen(path string) int64 {
	return int64(pathLenSize + len(path) + sizeFieldSize + flagSize)
}

// ReadHeader decodes one header at the reader's current position and returns
// it together with its encoded length, leaving the reader positioned at the
// first payload byte.
//
// io.EOF is returned unwrapped when the input ends exactly at a record
// boundary; every other decoding failure wraps ErrMalformed.
func ReadHeader(r io.Reader) (Header, int64, error) {
	var pathLen uint16
	if err := binary.Read(r, binary.BigEndian, &pathLen); err != nil {
		if err == io.EOF {
			return Header{}, 0, io.EOF
		}
		return Header{}, 0, errors.Wrap(ErrMalformed, "truncated path length")
	}
	if pathLen == 0 {
		return Header{}, 0, errors.Wrap(ErrMalformed, "zero-length path")
	}

	pathBuf := make([]byte, pathLen)
	if _, err := io.ReadFull(r, pathBuf); err != nil {
		return Header{}, 0, errors.Wrap(ErrMalformed, "truncated path")
	}

	var size int32
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return Header{}, 0, errors.Wrap(ErrMalformed, "truncated payload size")
	}
	if size < 0 {
		return Header{}, 0, errors.Wrapf(ErrMalformed, "negative payload size %d", size)
	}

	var flag [flagSize]byte
	if _, err := io.ReadFull(r, flag[:]); err != nil {
		return Header{}, 0, errors.Wrap(ErrMalformed, "truncated tombstone flag")
	}

	h := Header{
		Path:    string(pathBuf),
		Size:    size,
		Deleted: flag[0] != 0,
	}
	return h, HeaderLen(h.Path), nil
}

// TombstoneByteOffset returns the absolute offset of the tombstone flag for a
// record whose payload starts at payloadOffset.
func TombstoneByteOffset(payloadOffset int64) int64 {
	return payloadOffset - 1
}

// SizeFieldOffset returns the absolute offset of the 4-byte size field for a
// record whose payload starts at payloadOffset. Used by the streaming writer
// to backpatch the true size on close.
func SizeFieldOffset(payloadOffset int64) int64 {
	return payloadOffset - flagSize - sizeFieldSize
}
