package stem

import (
	"context"
	"fmt"

	"cherry_chat/internal/chain"
	"cherry_chat/internal/model"
	"cherry_chat/internal/protocol/address"
	"cherry_chat/internal/protocol/codec"
	"cherry_chat/internal/protocol/keyderivation"
)

func signer(k model.PublicKey) chain.AccountMeta {
	return chain.AccountMeta{Pubkey: k, IsSigner: true}
}

func writable(k model.PublicKey) chain.AccountMeta {
	return chain.AccountMeta{Pubkey: k, IsWritable: true}
}

func readonly(k model.PublicKey) chain.AccountMeta {
	return chain.AccountMeta{Pubkey: k}
}

func (e *Engine) instruction(data []byte, accounts ...chain.AccountMeta) chain.Instruction {
	return chain.Instruction{
		ProgramID: e.deriver.ProgramID(),
		Accounts:  accounts,
		Data:      data,
	}
}

// wrap fetches a fresh blockhash and returns the unsigned transaction paid by the identity.
func (e *Engine) wrap(ctx context.Context, ix chain.Instruction) (*chain.Transaction, error) {
	blockhash, err := e.transport.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("get latest blockhash: %w", err)
	}
	return chain.NewTransaction(e.identity, blockhash, ix), nil
}

func (e *Engine) peerDescriptor(peer model.PublicKey) (model.PublicKey, error) {
	addr, err := e.deriver.DescriptorAddress(peer, address.DescriptorVersion)
	if err != nil {
		return model.PublicKey{}, fmt.Errorf("descriptor address of %s: %w", peer, err)
	}
	return addr, nil
}

// peerStatus checks the engine is loaded and registered and returns the cached status of peer.
func (e *Engine) peerStatus(peer model.PublicKey) (model.PeerStatus, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.requireRegistered(); err != nil {
		return 0, false, err
	}
	entry, ok := e.peers.Get(peer)
	if !ok {
		return 0, false, nil
	}
	return entry.status, true, nil
}

func (e *Engine) CreateRegisterTx(ctx context.Context) (*chain.Transaction, error) {
	e.mu.RLock()
	state, registered := e.state, e.registered
	e.mu.RUnlock()
	if state != stateLoaded {
		return nil, ErrNotLoaded
	}
	if registered {
		return nil, precondition("stem account already registered")
	}

	ix := e.instruction(codec.NewInstruction(codec.IxRegister).Payload(),
		writable(e.descriptorAddress),
		signer(e.identity),
		readonly(address.SystemProgramID),
	)
	return e.wrap(ctx, ix)
}

// CreateInviteTx invites peer. The note is encrypted for peerPublic, the peer's published X25519
// key, with a key agreed between the local key material and peerPublic.
func (e *Engine) CreateInviteTx(ctx context.Context, peer model.PublicKey, peerPublic [32]byte, note []byte) (*chain.Transaction, error) {
	status, known, err := e.peerStatus(peer)
	if err != nil {
		return nil, err
	}
	if peer == e.identity {
		return nil, precondition("you can't invite yourself")
	}
	if known {
		return nil, precondition("peer %s already has status %s", peer, status)
	}
	if len(note) > codec.MaxMessageLength {
		return nil, precondition("invite note of %d bytes exceeds %d", len(note), codec.MaxMessageLength)
	}
	km, ok := e.KeyMaterial()
	if !ok {
		return nil, precondition("encryption keys are not derived")
	}

	secret, err := keyderivation.SharedSecret(km.X25519Private, peerPublic)
	if err != nil {
		return nil, err
	}
	ciphertext, err := keyderivation.EncryptInvite(secret, note)
	if err != nil {
		return nil, fmt.Errorf("encrypt invite: %w", err)
	}

	peerDesc, err := e.peerDescriptor(peer)
	if err != nil {
		return nil, err
	}
	pair := address.PairHash(e.identity, peer)
	data := codec.NewInstruction(codec.IxInvite).Fixed(pair[:]).Bytes(ciphertext).Payload()

	ix := e.instruction(data,
		signer(e.identity),
		readonly(peer),
		writable(e.descriptorAddress),
		writable(peerDesc),
		readonly(address.SystemProgramID),
	)
	return e.wrap(ctx, ix)
}

func (e *Engine) requireRequested(peer model.PublicKey) error {
	status, known, err := e.peerStatus(peer)
	if err != nil {
		return err
	}
	if peer == e.identity {
		return precondition("you can't answer your own invite")
	}
	if !known || status != model.PeerRequested {
		return precondition("peer %s has not invited you", peer)
	}
	return nil
}

func (e *Engine) CreateAcceptTx(ctx context.Context, peer model.PublicKey) (*chain.Transaction, error) {
	if err := e.requireRequested(peer); err != nil {
		return nil, err
	}
	peerDesc, err := e.peerDescriptor(peer)
	if err != nil {
		return nil, err
	}
	chatAddr, err := e.deriver.ChatAddress(e.identity, peer, address.ChatVersion)
	if err != nil {
		return nil, fmt.Errorf("chat address: %w", err)
	}

	pair := address.PairHash(e.identity, peer)
	ix := e.instruction(codec.NewInstruction(codec.IxAccept).Fixed(pair[:]).Payload(),
		signer(e.identity),
		readonly(peer),
		writable(e.descriptorAddress),
		writable(peerDesc),
		writable(chatAddr),
		readonly(address.SystemProgramID),
	)
	return e.wrap(ctx, ix)
}

func (e *Engine) CreateRejectTx(ctx context.Context, peer model.PublicKey) (*chain.Transaction, error) {
	if err := e.requireRequested(peer); err != nil {
		return nil, err
	}
	peerDesc, err := e.peerDescriptor(peer)
	if err != nil {
		return nil, err
	}

	ix := e.instruction(codec.NewInstruction(codec.IxReject).Payload(),
		signer(e.identity),
		readonly(peer),
		writable(e.descriptorAddress),
		writable(peerDesc),
	)
	return e.wrap(ctx, ix)
}

func (e *Engine) CreateSendMessageTx(ctx context.Context, peer model.PublicKey, content []byte) (*chain.Transaction, error) {
	status, known, err := e.peerStatus(peer)
	if err != nil {
		return nil, err
	}
	if !known || status != model.PeerAccepted {
		return nil, precondition("peer %s has not accepted the chat", peer)
	}
	if len(content) > codec.MaxMessageLength {
		return nil, precondition("message of %d bytes exceeds %d", len(content), codec.MaxMessageLength)
	}
	chatAddr, err := e.deriver.ChatAddress(e.identity, peer, address.ChatVersion)
	if err != nil {
		return nil, fmt.Errorf("chat address: %w", err)
	}

	pair := address.PairHash(e.identity, peer)
	data := codec.NewInstruction(codec.IxSendMessage).Fixed(pair[:]).Bytes(content).Payload()
	ix := e.instruction(data,
		signer(e.identity),
		writable(chatAddr),
		readonly(address.SystemProgramID),
	)
	return e.wrap(ctx, ix)
}
