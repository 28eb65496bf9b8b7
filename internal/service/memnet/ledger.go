package memnet

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"cherry_chat/internal/chain"
	"cherry_chat/internal/model"
	"cherry_chat/internal/protocol/address"
	"cherry_chat/internal/utils/log"

	"github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"
)

var ErrRejected = errors.New("transaction rejected")

// recentSlots is how many slots a blockhash stays valid for.
const recentSlots = 150

type (
	// Ledger is an in-memory account store that executes the messaging program's instructions.
	// It implements chain.Transport and chain.Submitter for tests and local runs.
	Ledger struct {
		mu deadlock.Mutex

		deriver  *address.Deriver
		accounts map[model.PublicKey][]byte
		handles  map[model.PublicKey][]*handle
		invites  map[[32]byte][]byte
		slot     uint64
		now      func() time.Time
	}

	LedgerOption func(*Ledger)
)

func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.now = now
	}
}

func WithProgramID(programID model.PublicKey) LedgerOption {
	return func(l *Ledger) {
		l.deriver = address.NewDeriver(programID)
	}
}

func NewLedger(opts ...LedgerOption) *Ledger {
	l := &Ledger{
		deriver:  address.NewDeriver(address.DefaultProgramID),
		accounts: make(map[model.PublicKey][]byte),
		handles:  make(map[model.PublicKey][]*handle),
		invites:  make(map[[32]byte][]byte),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Fund creates an empty system account for pubkey, marking the identity as activated.
func (l *Ledger) Fund(pubkey model.PublicKey) {
	l.mu.Lock()
	if _, ok := l.accounts[pubkey]; !ok {
		l.accounts[pubkey] = []byte{}
	}
	l.mu.Unlock()
	l.notify([]model.PublicKey{pubkey})
}

// Put overwrites raw account bytes and pushes the change to subscribers.
func (l *Ledger) Put(addr model.PublicKey, data []byte) {
	l.mu.Lock()
	l.accounts[addr] = append([]byte{}, data...)
	l.mu.Unlock()
	l.notify([]model.PublicKey{addr})
}

// Remove closes the account at addr.
func (l *Ledger) Remove(addr model.PublicKey) {
	l.mu.Lock()
	delete(l.accounts, addr)
	l.mu.Unlock()
	l.notify([]model.PublicKey{addr})
}

func (l *Ledger) Account(addr model.PublicKey) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	data, ok := l.accounts[addr]
	if !ok {
		return nil, false
	}
	return append([]byte{}, data...), true
}

// InvitePayload returns the encrypted note carried by the last invite between a and b.
func (l *Ledger) InvitePayload(a, b model.PublicKey) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ct, ok := l.invites[address.PairHash(a, b)]
	return ct, ok
}

func (l *Ledger) GetAccount(addr model.PublicKey, subscribe bool) chain.AccountHandle {
	h := &handle{ledger: l, address: addr, subscribe: subscribe}
	if subscribe {
		l.mu.Lock()
		l.handles[addr] = append(l.handles[addr], h)
		l.mu.Unlock()
	}
	return h
}

func (l *Ledger) GetLatestBlockhash(ctx context.Context) (model.Hash, error) {
	if err := ctx.Err(); err != nil {
		return model.Hash{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blockhash(), nil
}

func (l *Ledger) blockhash() model.Hash {
	return slotHash(l.slot)
}

func slotHash(slot uint64) model.Hash {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], slot)
	return model.Hash(sha256.Sum256(b[:]))
}

func (l *Ledger) isRecent(h model.Hash) bool {
	for i := uint64(0); i < recentSlots && i <= l.slot; i++ {
		if slotHash(l.slot-i) == h {
			return true
		}
	}
	return false
}

// SendTransaction executes every instruction of tx atomically. Signatures are not checked; the
// payer is taken as the only signer.
func (l *Ledger) SendTransaction(ctx context.Context, tx *chain.Transaction) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.Lock()
	if !l.isRecent(tx.RecentBlockhash) {
		l.mu.Unlock()
		return "", fmt.Errorf("%w: blockhash not found", ErrRejected)
	}

	st := &txState{ledger: l, writes: make(map[model.PublicKey][]byte), signer: tx.Payer, now: l.now()}
	for i, ix := range tx.Instructions {
		if ix.ProgramID != l.deriver.ProgramID() {
			l.mu.Unlock()
			return "", fmt.Errorf("%w: instruction %d targets unknown program %s", ErrRejected, i, ix.ProgramID)
		}
		if err := st.execute(ix); err != nil {
			l.mu.Unlock()
			return "", fmt.Errorf("%w: instruction %d: %v", ErrRejected, i, err)
		}
	}

	changed := make([]model.PublicKey, 0, len(st.writes))
	for addr, data := range st.writes {
		l.accounts[addr] = data
		changed = append(changed, addr)
	}
	for pair, ct := range st.invites {
		l.invites[pair] = ct
	}
	l.slot++
	sig := l.blockhash().String()
	l.mu.Unlock()

	log.Debug("memnet transaction applied", zap.String("signature", sig), zap.Int("accounts", len(changed)))
	l.notify(changed)
	return sig, nil
}

// notify pushes fresh snapshots to subscribed handles. Callbacks run without the ledger lock held.
func (l *Ledger) notify(addrs []model.PublicKey) {
	type push struct {
		h    *handle
		data []byte
		ok   bool
	}
	var pushes []push

	l.mu.Lock()
	for _, addr := range addrs {
		data, ok := l.accounts[addr]
		for _, h := range l.handles[addr] {
			pushes = append(pushes, push{h: h, data: append([]byte{}, data...), ok: ok})
		}
	}
	l.mu.Unlock()

	for _, p := range pushes {
		p.h.push(p.data, p.ok)
	}
}

type handle struct {
	ledger    *Ledger
	address   model.PublicKey
	subscribe bool

	mu          deadlock.Mutex
	data        []byte
	initialized bool
	callbacks   []func(chain.AccountHandle)
}

func (h *handle) Address() model.PublicKey {
	return h.address
}

func (h *handle) Fetch(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, ok := h.ledger.Account(h.address)
	h.mu.Lock()
	h.data, h.initialized = data, ok
	h.mu.Unlock()
	return nil
}

func (h *handle) Data() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.data
}

func (h *handle) IsInitialized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.initialized
}

func (h *handle) OnUpdate(cb func(chain.AccountHandle)) {
	h.mu.Lock()
	h.callbacks = append(h.callbacks, cb)
	h.mu.Unlock()
}

func (h *handle) push(data []byte, ok bool) {
	h.mu.Lock()
	h.data, h.initialized = data, ok
	callbacks := append([]func(chain.AccountHandle){}, h.callbacks...)
	h.mu.Unlock()

	for _, cb := range callbacks {
		cb(h)
	}
}
