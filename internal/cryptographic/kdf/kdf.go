package kdf

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDF fills buffer with HKDF-SHA256(secret, salt, info) output.
func HKDF(secret, salt, info, buffer []byte) (int, error) {
	h := hkdf.New(sha256.New, secret, salt, info)
	return io.ReadFull(h, buffer)
}

// Expand32 is HKDF with a 32 byte output, the size of every key this module derives.
func Expand32(secret, salt, info []byte) ([]byte, error) {
	out := make([]byte, 32)
	if _, err := HKDF(secret, salt, info, out); err != nil {
		return nil, err
	}
	return out, nil
}
