package model

import (
	"bytes"
	"fmt"

	"github.com/mr-tron/base58"
)

const PublicKeySize = 32

type (
	// PublicKey is an ed25519 account key or a program-derived address.
	PublicKey [PublicKeySize]byte

	// Hash is a 32 byte digest, e.g. a recent blockhash.
	Hash [32]byte
)

func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var k PublicKey
	if len(b) != PublicKeySize {
		return k, fmt.Errorf("invalid public key length %d", len(b))
	}
	copy(k[:], b)
	return k, nil
}

func PublicKeyFromBase58(s string) (PublicKey, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("decode base58 %q: %w", s, err)
	}
	return PublicKeyFromBytes(raw)
}

func MustPublicKey(s string) PublicKey {
	k, err := PublicKeyFromBase58(s)
	if err != nil {
		panic(err)
	}
	return k
}

func (k PublicKey) String() string {
	return base58.Encode(k[:])
}

func (k PublicKey) Bytes() []byte {
	return k[:]
}

func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

// Compare orders keys byte by byte, the first differing byte decides.
func (k PublicKey) Compare(other PublicKey) int {
	return bytes.Compare(k[:], other[:])
}

func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := PublicKeyFromBase58(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func HashFromBase58(s string) (Hash, error) {
	var h Hash
	raw, err := base58.Decode(s)
	if err != nil {
		return h, fmt.Errorf("decode base58 %q: %w", s, err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("invalid hash length %d", len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

func (h Hash) String() string {
	return base58.Encode(h[:])
}
