package codec

import (
	"crypto/sha256"
	"encoding/binary"

	"cherry_chat/internal/model"
)

type (
	Writer struct {
		buf []byte
	}
)

func NewWriter() *Writer {
	return &Writer{}
}

// NewInstruction starts an instruction payload with the discriminator of name.
func NewInstruction(name string) *Writer {
	d := Discriminator(name)
	return &Writer{buf: append([]byte(nil), d[:]...)}
}

// NewAccount starts an account body with the 8 byte type header of name.
func NewAccount(name string) *Writer {
	d := AccountDiscriminator(name)
	return &Writer{buf: append([]byte(nil), d[:]...)}
}

func (w *Writer) Fixed(b []byte) *Writer {
	w.buf = append(w.buf, b...)
	return w
}

func (w *Writer) Key(k model.PublicKey) *Writer {
	return w.Fixed(k[:])
}

func (w *Writer) U8(v uint8) *Writer {
	w.buf = append(w.buf, v)
	return w
}

func (w *Writer) U32(v uint32) *Writer {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
	return w
}

func (w *Writer) U64(v uint64) *Writer {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
	return w
}

// Bytes writes a 4 byte little-endian length followed by b.
func (w *Writer) Bytes(b []byte) *Writer {
	w.U32(uint32(len(b)))
	return w.Fixed(b)
}

func (w *Writer) Payload() []byte {
	return w.buf
}

// Discriminator is SHA-256("global:" + name)[0:8], the tag that selects a program instruction.
func Discriminator(name string) [8]byte {
	return prefixHash("global:" + name)
}

func AccountDiscriminator(name string) [8]byte {
	return prefixHash("account:" + name)
}

func prefixHash(s string) [8]byte {
	var out [8]byte
	sum := sha256.Sum256([]byte(s))
	copy(out[:], sum[:8])
	return out
}
