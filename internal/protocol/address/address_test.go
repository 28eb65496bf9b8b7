package address

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"cherry_chat/internal/model"

	"github.com/stretchr/testify/require"
)

func randomKey(t *testing.T) model.PublicKey {
	t.Helper()
	var k model.PublicKey
	_, err := rand.Read(k[:])
	require.NoError(t, err)
	return k
}

func TestPairHashIsOrderIndependent(t *testing.T) {
	for i := 0; i < 64; i++ {
		a, b := randomKey(t), randomKey(t)
		if a == b {
			continue
		}
		require.Equal(t, PairHash(a, b), PairHash(b, a))
	}
}

func TestPairHashFirstDifferingByteDecides(t *testing.T) {
	var a, b model.PublicKey
	a[5], b[5] = 1, 2
	a[6], b[6] = 9, 0

	want := sha256.Sum256(append(a.Bytes(), b.Bytes()...))
	require.Equal(t, want, PairHash(b, a))
	require.Equal(t, want, PairHash(a, b))
}

func TestChatAddressIsDeterministic(t *testing.T) {
	d := NewDeriver(DefaultProgramID)
	a, b := randomKey(t), randomKey(t)

	first, err := d.ChatAddress(a, b, ChatVersion)
	require.NoError(t, err)
	second, err := d.ChatAddress(b, a, ChatVersion)
	require.NoError(t, err)
	require.Equal(t, first, second)

	other, err := d.ChatAddress(a, b, ChatVersion+1)
	require.NoError(t, err)
	require.NotEqual(t, first, other)
}

func TestDerivedAddressesAreOffCurve(t *testing.T) {
	d := NewDeriver(DefaultProgramID)
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	owner, err := model.PublicKeyFromBytes(pub)
	require.NoError(t, err)
	require.True(t, IsOnCurve(owner))

	desc, err := d.DescriptorAddress(owner, DescriptorVersion)
	require.NoError(t, err)
	require.False(t, IsOnCurve(desc))

	g0, err := d.GroupAddress(owner, 0)
	require.NoError(t, err)
	g1, err := d.GroupAddress(owner, 1)
	require.NoError(t, err)
	require.False(t, IsOnCurve(g0))
	require.NotEqual(t, g0, g1)
}

func TestDescriptorAddressDependsOnProgram(t *testing.T) {
	owner := randomKey(t)
	a, err := NewDeriver(DefaultProgramID).DescriptorAddress(owner, DescriptorVersion)
	require.NoError(t, err)
	b, err := NewDeriver(randomKey(t)).DescriptorAddress(owner, DescriptorVersion)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestCreateProgramAddressRejectsLongSeed(t *testing.T) {
	_, err := CreateProgramAddress([][]byte{make([]byte, maxSeedLength+1)}, DefaultProgramID)
	require.ErrorIs(t, err, ErrAddressDerivation)

	_, _, err = FindProgramAddress(make([][]byte, maxSeeds), DefaultProgramID)
	require.ErrorIs(t, err, ErrAddressDerivation)
}
