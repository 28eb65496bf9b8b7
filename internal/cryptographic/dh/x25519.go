package dh

import (
	"crypto/rand"
	"crypto/sha512"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"
)

// NewX25519KeyPair generates a random keypair, used for throwaway keys.
func NewX25519KeyPair() (priv, pub [32]byte, err error) {
	_, err = rand.Read(priv[:])
	if err != nil {
		return priv, pub, fmt.Errorf("failed to generate private key: %w", err)
	}
	curve25519.ScalarBaseMult(&pub, &priv)
	return priv, pub, nil
}

// Perform X25519 scalar multiplication: priv * pub
func X25519SharedSecret(priv, pub [32]byte) ([]byte, error) {
	return curve25519.X25519(priv[:], pub[:])
}

// Ed25519SeedToX25519 maps an ed25519 private seed to the X25519 scalar of the same key:
// the clamped lower half of SHA-512(seed).
func Ed25519SeedToX25519(seed []byte) ([32]byte, error) {
	var priv [32]byte
	if len(seed) != 32 {
		return priv, fmt.Errorf("invalid ed25519 seed length %d", len(seed))
	}
	h := sha512.Sum512(seed)
	copy(priv[:], h[:32])
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	return priv, nil
}

// Ed25519PublicToX25519 applies the birational Edwards to Montgomery map, u = (1+y)/(1-y).
func Ed25519PublicToX25519(pub []byte) ([32]byte, error) {
	var out [32]byte
	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return out, fmt.Errorf("invalid ed25519 public key: %w", err)
	}
	copy(out[:], p.BytesMontgomery())
	return out, nil
}
