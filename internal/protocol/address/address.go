package address

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"cherry_chat/internal/model"

	"filippo.io/edwards25519"
)

const (
	SeedDescriptor      = "wallet_descriptor"
	SeedPrivateChat     = "privite_chat"
	SeedGroupDescriptor = "group_descriptor"

	DescriptorVersion byte = 1
	ChatVersion       byte = 1

	maxSeeds      = 16
	maxSeedLength = 32
	pdaMarker     = "ProgramDerivedAddress"
)

var (
	ErrAddressDerivation = errors.New("address derivation failed")

	DefaultProgramID = model.MustPublicKey("68DEzyuChhLYQjR8Ymo88JWRUh5hrPhuWHWMLBFGHzHC")
	// The system program id is 32 zero bytes ("11111111111111111111111111111111").
	SystemProgramID = model.PublicKey{}
)

type (
	Deriver struct {
		programID model.PublicKey
	}
)

func NewDeriver(programID model.PublicKey) *Deriver {
	return &Deriver{
		programID: programID,
	}
}

func (d *Deriver) ProgramID() model.PublicKey {
	return d.programID
}

func (d *Deriver) DescriptorAddress(owner model.PublicKey, version byte) (model.PublicKey, error) {
	addr, _, err := FindProgramAddress([][]byte{[]byte(SeedDescriptor), owner[:], {version}}, d.programID)
	return addr, err
}

func (d *Deriver) ChatAddress(a, b model.PublicKey, version byte) (model.PublicKey, error) {
	h := PairHash(a, b)
	addr, _, err := FindProgramAddress([][]byte{[]byte(SeedPrivateChat), h[:], {version}}, d.programID)
	return addr, err
}

func (d *Deriver) GroupAddress(owner model.PublicKey, index uint64) (model.PublicKey, error) {
	var idx [8]byte
	binary.LittleEndian.PutUint64(idx[:], index)
	addr, _, err := FindProgramAddress([][]byte{[]byte(SeedGroupDescriptor), owner[:], idx[:]}, d.programID)
	return addr, err
}

// PairHash is SHA-256 over the two keys in ascending byte order, so PairHash(a, b) == PairHash(b, a).
// Identical keys are not a valid pair; the digest of a||a is returned.
func PairHash(a, b model.PublicKey) [32]byte {
	var raw [64]byte
	if a.Compare(b) <= 0 {
		copy(raw[:32], a[:])
		copy(raw[32:], b[:])
	} else {
		copy(raw[:32], b[:])
		copy(raw[32:], a[:])
	}
	return sha256.Sum256(raw[:])
}

// FindProgramAddress searches bump seeds from 255 down and returns the first address off the ed25519 curve.
func FindProgramAddress(seeds [][]byte, programID model.PublicKey) (model.PublicKey, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		withBump := append(append([][]byte{}, seeds...), []byte{byte(bump)})
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, errOnCurve) {
			return model.PublicKey{}, 0, err
		}
	}
	return model.PublicKey{}, 0, fmt.Errorf("%w: no viable bump seed", ErrAddressDerivation)
}

var errOnCurve = errors.New("derived address is on the ed25519 curve")

func CreateProgramAddress(seeds [][]byte, programID model.PublicKey) (model.PublicKey, error) {
	if len(seeds) > maxSeeds {
		return model.PublicKey{}, fmt.Errorf("%w: %d seeds exceeds %d", ErrAddressDerivation, len(seeds), maxSeeds)
	}

	h := sha256.New()
	for _, s := range seeds {
		if len(s) > maxSeedLength {
			return model.PublicKey{}, fmt.Errorf("%w: seed of %d bytes exceeds %d", ErrAddressDerivation, len(s), maxSeedLength)
		}
		h.Write(s)
	}
	h.Write(programID[:])
	h.Write([]byte(pdaMarker))

	var addr model.PublicKey
	copy(addr[:], h.Sum(nil))
	if IsOnCurve(addr) {
		return model.PublicKey{}, errOnCurve
	}
	return addr, nil
}

func IsOnCurve(k model.PublicKey) bool {
	_, err := new(edwards25519.Point).SetBytes(k[:])
	return err == nil
}
