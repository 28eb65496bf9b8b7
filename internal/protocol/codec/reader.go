package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"cherry_chat/internal/model"
)

// AccountHeaderSize is the account type tag written by the program before every account body.
const AccountHeaderSize = 8

var ErrDecode = errors.New("decode error")

type (
	DecodeError struct {
		Field  string
		Offset int
		Need   int
		Have   int
	}

	// Reader decodes fields positionally. Every read checks bounds first.
	Reader struct {
		buf []byte
		off int
	}
)

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s at offset %d: need %d bytes, have %d", e.Field, e.Offset, e.Need, e.Have)
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) Offset() int {
	return r.off
}

func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) take(field string, n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, &DecodeError{Field: field, Offset: r.off, Need: n, Have: r.Remaining()}
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) Skip(field string, n int) error {
	_, err := r.take(field, n)
	return err
}

func (r *Reader) Fixed(field string, n int) ([]byte, error) {
	b, err := r.take(field, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (r *Reader) U8(field string) (uint8, error) {
	b, err := r.take(field, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) U32(field string) (uint32, error) {
	b, err := r.take(field, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) U64(field string) (uint64, error) {
	b, err := r.take(field, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) Key(field string) (model.PublicKey, error) {
	var k model.PublicKey
	b, err := r.take(field, model.PublicKeySize)
	if err != nil {
		return k, err
	}
	copy(k[:], b)
	return k, nil
}

// Bytes reads a 4 byte little-endian length followed by that many bytes.
func (r *Reader) Bytes(field string) ([]byte, error) {
	n, err := r.U32(field + ".len")
	if err != nil {
		return nil, err
	}
	return r.Fixed(field, int(n))
}

// Count reads a vector length and rejects counts that cannot fit in the remaining buffer
// given the minimum element size.
func (r *Reader) Count(field string, minElemSize int) (int, error) {
	n, err := r.U32(field + ".len")
	if err != nil {
		return 0, err
	}
	if minElemSize > 0 && uint64(n)*uint64(minElemSize) > uint64(r.Remaining()) {
		return 0, &DecodeError{Field: field, Offset: r.off, Need: int(n) * minElemSize, Have: r.Remaining()}
	}
	return int(n), nil
}
