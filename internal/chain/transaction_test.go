package chain

import (
	"testing"

	"cherry_chat/internal/model"

	"github.com/stretchr/testify/require"
)

func key(b byte) model.PublicKey {
	var k model.PublicKey
	k[0] = b
	return k
}

func TestMessageOrdersAccounts(t *testing.T) {
	payer, program, writable, readonly := key(1), key(2), key(3), key(4)
	tx := NewTransaction(payer, model.Hash{9}, Instruction{
		ProgramID: program,
		Accounts: []AccountMeta{
			{Pubkey: readonly},
			{Pubkey: payer, IsSigner: true},
			{Pubkey: writable, IsWritable: true},
		},
		Data: []byte{0xaa, 0xbb},
	})

	msg, err := tx.Message()
	require.NoError(t, err)

	require.Equal(t, []byte{1, 0, 2}, msg[:3])
	require.Equal(t, byte(4), msg[3])
	keys := msg[4 : 4+4*32]
	require.Equal(t, payer[:], keys[0:32])
	require.Equal(t, writable[:], keys[32:64])
	require.Equal(t, readonly[:], keys[64:96])
	require.Equal(t, program[:], keys[96:128])

	rest := msg[4+4*32+32:]
	// one instruction: program index 3, accounts [2 0 1], data len 2
	require.Equal(t, []byte{1, 3, 3, 2, 0, 1, 2, 0xaa, 0xbb}, rest)
}

func TestSerializeRequiresSignatures(t *testing.T) {
	tx := NewTransaction(key(1), model.Hash{}, Instruction{ProgramID: key(2)})
	_, err := tx.Serialize()
	require.ErrorIs(t, err, ErrMissingSignature)

	require.Error(t, tx.AddSignature(key(5), make([]byte, SignatureSize)))
	require.NoError(t, tx.AddSignature(key(1), make([]byte, SignatureSize)))

	raw, err := tx.Serialize()
	require.NoError(t, err)
	require.Equal(t, byte(1), raw[0])
}

func TestCompactU16(t *testing.T) {
	require.Equal(t, []byte{0}, appendCompactU16(nil, 0))
	require.Equal(t, []byte{0x7f}, appendCompactU16(nil, 127))
	require.Equal(t, []byte{0x80, 0x01}, appendCompactU16(nil, 128))
	require.Equal(t, []byte{0xff, 0xff, 0x03}, appendCompactU16(nil, 0xffff))
}
