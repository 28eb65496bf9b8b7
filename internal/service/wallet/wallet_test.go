package wallet

import (
	"context"
	"crypto/ed25519"
	"testing"

	"cherry_chat/internal/chain"
	"cherry_chat/internal/model"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type memStore struct {
	wallets map[string]*model.Wallet
}

func (m *memStore) GetByName(_ context.Context, name string) (*model.Wallet, error) {
	return m.wallets[name], nil
}

func (m *memStore) Create(_ context.Context, w *model.Wallet) (primitive.ObjectID, error) {
	w.ID = primitive.NewObjectID()
	m.wallets[w.Name] = w
	return w.ID, nil
}

func TestOpenCreatesOnce(t *testing.T) {
	ctx := context.Background()
	store := &memStore{wallets: map[string]*model.Wallet{}}
	svc := NewService(store)

	first, err := svc.Open(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, store.wallets, 1)

	second, err := svc.Open(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, first.PublicKey(), second.PublicKey())
	require.Len(t, store.wallets, 1)

	other, err := svc.Open(ctx, "bob")
	require.NoError(t, err)
	require.NotEqual(t, first.PublicKey(), other.PublicKey())
}

func TestOpenRejectsMismatchedKey(t *testing.T) {
	ctx := context.Background()
	signer, err := GenerateSigner()
	require.NoError(t, err)

	store := &memStore{wallets: map[string]*model.Wallet{
		"eve": {Name: "eve", PublicKey: "11111111111111111111111111111111", PrivateKey: signer.PrivateKey()},
	}}
	_, err = NewService(store).Open(ctx, "eve")
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestSignerSignsMessageAndTransaction(t *testing.T) {
	ctx := context.Background()
	signer, err := NewSignerFromSeed(make([]byte, 32))
	require.NoError(t, err)

	sig, err := signer.SignMessage(ctx, []byte("hello"))
	require.NoError(t, err)
	require.True(t, ed25519.Verify(signer.PublicKey().Bytes(), []byte("hello"), sig))

	var program model.PublicKey
	program[0] = 9
	tx := chain.NewTransaction(signer.PublicKey(), model.Hash{1}, chain.Instruction{
		ProgramID: program,
		Accounts:  []chain.AccountMeta{{Pubkey: signer.PublicKey(), IsSigner: true}},
		Data:      []byte{1, 2, 3},
	})
	require.NoError(t, signer.SignTransaction(ctx, tx))
	require.Len(t, tx.Signatures, 1)

	msg, err := tx.Message()
	require.NoError(t, err)
	require.True(t, ed25519.Verify(signer.PublicKey().Bytes(), msg, tx.Signatures[0]))

	_, err = tx.Serialize()
	require.NoError(t, err)
}

func TestNewSignerRejectsBadKeys(t *testing.T) {
	_, err := NewSigner(make([]byte, 10))
	require.ErrorIs(t, err, ErrInvalidKey)
	_, err = NewSignerFromSeed(make([]byte, 31))
	require.ErrorIs(t, err, ErrInvalidKey)
}
