package wallet

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"cherry_chat/internal/chain"
	"cherry_chat/internal/cryptographic/signature"
	"cherry_chat/internal/model"
)

var ErrInvalidKey = errors.New("invalid wallet key")

type (
	// Signer holds an ed25519 keypair and signs like a browser wallet would.
	Signer struct {
		public  model.PublicKey
		private []byte
	}
)

func NewSigner(private []byte) (*Signer, error) {
	if len(private) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: private key is %d bytes", ErrInvalidKey, len(private))
	}
	pub, err := model.PublicKeyFromBytes(private[32:])
	if err != nil {
		return nil, err
	}
	return &Signer{public: pub, private: append([]byte{}, private...)}, nil
}

func NewSignerFromSeed(seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed is %d bytes", ErrInvalidKey, len(seed))
	}
	_, priv := signature.Ed25519KeypairFromSeed(seed)
	return NewSigner(priv)
}

func GenerateSigner() (*Signer, error) {
	_, priv, err := signature.NewEd25519Keypair()
	if err != nil {
		return nil, err
	}
	return NewSigner(priv)
}

func (s *Signer) PublicKey() model.PublicKey {
	return s.public
}

func (s *Signer) PrivateKey() []byte {
	return append([]byte{}, s.private...)
}

func (s *Signer) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return signature.ED25519Sign(s.private, message), nil
}

// SignTransaction signs the compiled message of tx and attaches the signature in the slot of the
// signer's key.
func (s *Signer) SignTransaction(ctx context.Context, tx *chain.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := tx.Message()
	if err != nil {
		return fmt.Errorf("compile message: %w", err)
	}
	return tx.AddSignature(s.public, signature.ED25519Sign(s.private, msg))
}

var _ chain.Signer = (*Signer)(nil)
