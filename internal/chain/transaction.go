package chain

import (
	"errors"
	"fmt"

	"cherry_chat/internal/model"
)

const SignatureSize = 64

type (
	AccountMeta struct {
		Pubkey     model.PublicKey
		IsSigner   bool
		IsWritable bool
	}

	Instruction struct {
		ProgramID model.PublicKey
		Accounts  []AccountMeta
		Data      []byte
	}

	// Transaction is the unsigned envelope returned by the instruction builders.
	Transaction struct {
		Payer           model.PublicKey
		RecentBlockhash model.Hash
		Instructions    []Instruction
		// Signatures is aligned with the signer keys of the compiled message.
		Signatures [][]byte
	}
)

var ErrMissingSignature = errors.New("transaction is missing a signature")

func NewTransaction(payer model.PublicKey, blockhash model.Hash, ixs ...Instruction) *Transaction {
	return &Transaction{
		Payer:           payer,
		RecentBlockhash: blockhash,
		Instructions:    ixs,
	}
}

// Signers lists the keys that must sign, payer first.
func (tx *Transaction) Signers() []model.PublicKey {
	keys, header := tx.accountKeys()
	return keys[:header[0]]
}

func (tx *Transaction) AddSignature(pub model.PublicKey, sig []byte) error {
	if len(sig) != SignatureSize {
		return fmt.Errorf("invalid signature length %d", len(sig))
	}
	signers := tx.Signers()
	if len(tx.Signatures) != len(signers) {
		tx.Signatures = make([][]byte, len(signers))
	}
	for i, k := range signers {
		if k == pub {
			tx.Signatures[i] = append([]byte(nil), sig...)
			return nil
		}
	}
	return fmt.Errorf("%s is not a signer of this transaction", pub)
}

// accountKeys orders every referenced key as writable signers, readonly signers, writable
// non-signers, readonly non-signers, keeping first-seen order inside each class.
func (tx *Transaction) accountKeys() ([]model.PublicKey, [3]uint8) {
	type flags struct {
		signer, writable bool
	}
	var (
		order []model.PublicKey
		seen  = map[model.PublicKey]*flags{}
	)
	add := func(k model.PublicKey, signer, writable bool) {
		f, ok := seen[k]
		if !ok {
			f = &flags{}
			seen[k] = f
			order = append(order, k)
		}
		f.signer = f.signer || signer
		f.writable = f.writable || writable
	}

	add(tx.Payer, true, true)
	for _, ix := range tx.Instructions {
		for _, m := range ix.Accounts {
			add(m.Pubkey, m.IsSigner, m.IsWritable)
		}
		add(ix.ProgramID, false, false)
	}

	var buckets [4][]model.PublicKey
	for _, k := range order {
		f := seen[k]
		switch {
		case f.signer && f.writable:
			buckets[0] = append(buckets[0], k)
		case f.signer:
			buckets[1] = append(buckets[1], k)
		case f.writable:
			buckets[2] = append(buckets[2], k)
		default:
			buckets[3] = append(buckets[3], k)
		}
	}

	keys := make([]model.PublicKey, 0, len(order))
	for _, b := range buckets {
		keys = append(keys, b...)
	}
	header := [3]uint8{
		uint8(len(buckets[0]) + len(buckets[1])),
		uint8(len(buckets[1])),
		uint8(len(buckets[3])),
	}
	return keys, header
}

// Message serializes the legacy message: header, account keys, blockhash, compiled instructions.
// These are the bytes every signer signs.
func (tx *Transaction) Message() ([]byte, error) {
	keys, header := tx.accountKeys()
	if len(keys) > 256 {
		return nil, fmt.Errorf("too many accounts: %d", len(keys))
	}
	index := make(map[model.PublicKey]uint8, len(keys))
	for i, k := range keys {
		index[k] = uint8(i)
	}

	buf := append([]byte(nil), header[:]...)
	buf = appendCompactU16(buf, len(keys))
	for _, k := range keys {
		buf = append(buf, k[:]...)
	}
	buf = append(buf, tx.RecentBlockhash[:]...)

	buf = appendCompactU16(buf, len(tx.Instructions))
	for _, ix := range tx.Instructions {
		buf = append(buf, index[ix.ProgramID])
		buf = appendCompactU16(buf, len(ix.Accounts))
		for _, m := range ix.Accounts {
			buf = append(buf, index[m.Pubkey])
		}
		buf = appendCompactU16(buf, len(ix.Data))
		buf = append(buf, ix.Data...)
	}
	return buf, nil
}

// Serialize produces the wire form: compact signature array followed by the message.
func (tx *Transaction) Serialize() ([]byte, error) {
	msg, err := tx.Message()
	if err != nil {
		return nil, err
	}
	signers := tx.Signers()
	if len(tx.Signatures) != len(signers) {
		return nil, ErrMissingSignature
	}

	buf := appendCompactU16(nil, len(signers))
	for _, sig := range tx.Signatures {
		if len(sig) != SignatureSize {
			return nil, ErrMissingSignature
		}
		buf = append(buf, sig...)
	}
	return append(buf, msg...), nil
}

func appendCompactU16(buf []byte, n int) []byte {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}
