package keyderivation

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"cherry_chat/internal/cryptographic/dh"
	"cherry_chat/internal/cryptographic/encryption"
	"cherry_chat/internal/cryptographic/kdf"
	"cherry_chat/internal/cryptographic/signature"
	"cherry_chat/internal/model"
)

const (
	ProtocolTag = "Stem-proto-v1"

	keyDerivationSalt = "Web3MessengerHKDFSalt"
	keyDerivationInfo = "KeyDerivation"

	inviteSalt = "CherryFun:V1:salt"
	inviteInfo = "Stem-proto-KEK-v1"
)

var ErrInvalidSignature = errors.New("invalid signature")

// zeroIV is kept for wire compatibility. Each invite key must only ever encrypt one payload,
// a second payload under the same key reuses the keystream.
var zeroIV = make([]byte, 16)

// SeedMessage is the exact text the wallet of identity signs to unlock its encryption keys.
func SeedMessage(identity model.PublicKey) string {
	sum := sha256.Sum256(identity[:])
	return fmt.Sprintf("%s key derivation\naddress: %s\nkey hash: %s",
		ProtocolTag, identity.String(), hex.EncodeToString(sum[:]))
}

// DeriveKeyPair verifies sig over SeedMessage(identity) and derives the X25519 keypair from it.
// No key material is produced for a signature that does not verify.
func DeriveKeyPair(identity model.PublicKey, sig []byte) (*model.KeyMaterial, error) {
	if !signature.ED25519Verify(identity[:], []byte(SeedMessage(identity)), sig) {
		return nil, ErrInvalidSignature
	}

	seed, err := kdf.Expand32(sig, []byte(keyDerivationSalt), []byte(keyDerivationInfo))
	if err != nil {
		return nil, fmt.Errorf("expand signature: %w", err)
	}

	edPub, _ := signature.Ed25519KeypairFromSeed(seed)
	priv, err := dh.Ed25519SeedToX25519(seed)
	if err != nil {
		return nil, err
	}
	pub, err := dh.Ed25519PublicToX25519(edPub)
	if err != nil {
		return nil, err
	}

	return &model.KeyMaterial{
		X25519Private: priv,
		X25519Public:  pub,
	}, nil
}

func SharedSecret(myPrivate, theirPublic [32]byte) ([]byte, error) {
	secret, err := dh.X25519SharedSecret(myPrivate, theirPublic)
	if err != nil {
		return nil, fmt.Errorf("x25519: %w", err)
	}
	return secret, nil
}

func inviteKey(sharedSecret []byte) ([]byte, error) {
	return kdf.Expand32(sharedSecret, []byte(inviteSalt), []byte(inviteInfo))
}

func EncryptInvite(sharedSecret, plaintext []byte) ([]byte, error) {
	key, err := inviteKey(sharedSecret)
	if err != nil {
		return nil, err
	}
	return encryption.AESCTR(key, zeroIV, plaintext)
}

func DecryptInvite(sharedSecret, ciphertext []byte) ([]byte, error) {
	key, err := inviteKey(sharedSecret)
	if err != nil {
		return nil, err
	}
	return encryption.AESCTR(key, zeroIV, ciphertext)
}
