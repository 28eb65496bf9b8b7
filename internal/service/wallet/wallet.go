package wallet

import (
	"context"
	"fmt"

	"cherry_chat/internal/model"
	"cherry_chat/internal/utils/log"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type (
	Store interface {
		GetByName(ctx context.Context, name string) (*model.Wallet, error)
		Create(ctx context.Context, wallet *model.Wallet) (primitive.ObjectID, error)
	}

	Service struct {
		store Store
	}
)

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Open loads the wallet called name, generating and storing a fresh keypair the first time.
func (s *Service) Open(ctx context.Context, name string) (*Signer, error) {
	w, err := s.store.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load wallet %q: %w", name, err)
	}
	if w != nil {
		signer, err := NewSigner(w.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("wallet %q: %w", name, err)
		}
		if signer.PublicKey().String() != w.PublicKey {
			return nil, fmt.Errorf("%w: wallet %q public key does not match its private key", ErrInvalidKey, name)
		}
		return signer, nil
	}

	signer, err := GenerateSigner()
	if err != nil {
		return nil, err
	}
	w = &model.Wallet{
		Name:       name,
		PublicKey:  signer.PublicKey().String(),
		PrivateKey: signer.PrivateKey(),
	}
	if _, err := s.store.Create(ctx, w); err != nil {
		return nil, fmt.Errorf("store wallet %q: %w", name, err)
	}

	log.Info("wallet created", zap.String("name", name), zap.String("pubkey", w.PublicKey))
	return signer, nil
}
