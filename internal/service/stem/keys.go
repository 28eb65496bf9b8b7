package stem

import (
	"context"
	"fmt"

	"cherry_chat/internal/chain"
	"cherry_chat/internal/model"
	"cherry_chat/internal/protocol/keyderivation"
)

// SeedMessage is the text the identity's wallet signs in DeriveKeys.
func (e *Engine) SeedMessage() string {
	return keyderivation.SeedMessage(e.identity)
}

// DeriveKeys asks signer to sign the seed message and keeps the resulting key material.
func (e *Engine) DeriveKeys(ctx context.Context, signer chain.Signer) (*model.KeyMaterial, error) {
	if signer.PublicKey() != e.identity {
		return nil, precondition("signer %s does not match identity %s", signer.PublicKey(), e.identity)
	}
	sig, err := signer.SignMessage(ctx, []byte(e.SeedMessage()))
	if err != nil {
		return nil, fmt.Errorf("sign seed message: %w", err)
	}
	km, err := keyderivation.DeriveKeyPair(e.identity, sig)
	if err != nil {
		return nil, err
	}
	e.SetKeyMaterial(km)
	return km, nil
}

// SetKeyMaterial installs key material restored from an external cache.
func (e *Engine) SetKeyMaterial(km *model.KeyMaterial) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if km == nil {
		e.keys = nil
		return
	}
	cp := *km
	e.keys = &cp
}

func (e *Engine) KeyMaterial() (*model.KeyMaterial, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.keys == nil {
		return nil, false
	}
	cp := *e.keys
	return &cp, true
}

// DecryptInvite opens an invite payload sent by the owner of peerPublic.
func (e *Engine) DecryptInvite(peerPublic [32]byte, ciphertext []byte) ([]byte, error) {
	km, ok := e.KeyMaterial()
	if !ok {
		return nil, precondition("encryption keys are not derived")
	}
	secret, err := keyderivation.SharedSecret(km.X25519Private, peerPublic)
	if err != nil {
		return nil, err
	}
	return keyderivation.DecryptInvite(secret, ciphertext)
}
