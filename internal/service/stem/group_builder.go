package stem

import (
	"context"
	"fmt"

	"cherry_chat/internal/chain"
	"cherry_chat/internal/model"
	"cherry_chat/internal/protocol/address"
	"cherry_chat/internal/protocol/codec"
)

func (e *Engine) requireLoadedRegistered() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.requireRegistered()
}

type (
	GroupCreation struct {
		Tx      *chain.Transaction
		Address model.PublicKey
		Index   uint64
	}
)

// CreateGroupTx derives the next group address. The index is the larger of the remote group count
// (read fresh, without touching the cache) and the next index reserved by an earlier local call.
// The index is reserved only once the transaction is built; a build that raced another local
// CreateGroupTx or hit an existing group account fails instead of reusing the address.
func (e *Engine) CreateGroupTx(ctx context.Context, groupType uint8, title, description, imageURL string) (*GroupCreation, error) {
	if err := e.requireLoadedRegistered(); err != nil {
		return nil, err
	}
	switch {
	case len(title) == 0:
		return nil, precondition("group title is empty")
	case len(title) > codec.MaxTitleLength:
		return nil, precondition("group title of %d bytes exceeds %d", len(title), codec.MaxTitleLength)
	case len(description) > codec.MaxDescriptionLength:
		return nil, precondition("group description of %d bytes exceeds %d", len(description), codec.MaxDescriptionLength)
	case len(imageURL) > codec.MaxImageURLLength:
		return nil, precondition("group image url of %d bytes exceeds %d", len(imageURL), codec.MaxImageURLLength)
	}

	fresh := e.transport.GetAccount(e.descriptorAddress, false)
	if err := fresh.Fetch(ctx); err != nil {
		return nil, fmt.Errorf("fetch descriptor %s: %w", e.descriptorAddress, err)
	}
	if !fresh.IsInitialized() {
		return nil, ErrNotRegistered
	}
	desc, err := codec.DecodeDescriptor(fresh.Data())
	if err != nil {
		return nil, fmt.Errorf("decode descriptor %s: %w", e.descriptorAddress, err)
	}

	e.mu.RLock()
	index := max(uint64(len(desc.Groups)), uint64(e.groups.Len()), e.nextGroupIndex)
	e.mu.RUnlock()

	groupAddr, err := e.deriver.GroupAddress(e.identity, index)
	if err != nil {
		return nil, fmt.Errorf("group address: %w", err)
	}
	existing := e.transport.GetAccount(groupAddr, false)
	if err := existing.Fetch(ctx); err != nil {
		return nil, fmt.Errorf("fetch group %s: %w", groupAddr, err)
	}
	if existing.IsInitialized() {
		return nil, precondition("group address %s for index %d is already in use", groupAddr, index)
	}

	data := codec.NewInstruction(codec.IxCreateGroup).
		U64(index).
		U8(groupType).
		Bytes([]byte(title)).
		Bytes([]byte(description)).
		Bytes([]byte(imageURL)).
		Payload()
	ix := e.instruction(data,
		signer(e.identity),
		writable(e.descriptorAddress),
		writable(groupAddr),
		readonly(address.SystemProgramID),
	)
	tx, err := e.wrap(ctx, ix)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.nextGroupIndex > index {
		return nil, precondition("group index %d was reserved by a concurrent create", index)
	}
	e.nextGroupIndex = index + 1

	return &GroupCreation{Tx: tx, Address: groupAddr, Index: index}, nil
}

func (e *Engine) CreateSendMessageToGroupTx(ctx context.Context, group model.PublicKey, content []byte) (*chain.Transaction, error) {
	if err := e.requireLoadedRegistered(); err != nil {
		return nil, err
	}
	if len(content) > codec.MaxMessageLength {
		return nil, precondition("message of %d bytes exceeds %d", len(content), codec.MaxMessageLength)
	}

	ix := e.instruction(codec.NewInstruction(codec.IxSendMessageToGroup).Bytes(content).Payload(),
		signer(e.identity),
		writable(group),
		readonly(e.descriptorAddress),
		readonly(address.SystemProgramID),
	)
	return e.wrap(ctx, ix)
}

func (e *Engine) CreateInviteToGroupTx(ctx context.Context, group, invitee model.PublicKey) (*chain.Transaction, error) {
	if err := e.requireLoadedRegistered(); err != nil {
		return nil, err
	}
	inviteeDesc, err := e.peerDescriptor(invitee)
	if err != nil {
		return nil, err
	}

	ix := e.instruction(codec.NewInstruction(codec.IxInviteToGroup).Key(invitee).Payload(),
		signer(e.identity),
		writable(group),
		readonly(e.descriptorAddress),
		writable(inviteeDesc),
		readonly(address.SystemProgramID),
	)
	return e.wrap(ctx, ix)
}

// membershipTx builds the instructions that only change the caller's own membership of group.
func (e *Engine) membershipTx(ctx context.Context, name string, group model.PublicKey) (*chain.Transaction, error) {
	if err := e.requireLoadedRegistered(); err != nil {
		return nil, err
	}
	ix := e.instruction(codec.NewInstruction(name).Payload(),
		signer(e.identity),
		writable(e.descriptorAddress),
		writable(group),
		readonly(address.SystemProgramID),
	)
	return e.wrap(ctx, ix)
}

func (e *Engine) CreateAcceptInviteToGroupTx(ctx context.Context, group model.PublicKey) (*chain.Transaction, error) {
	return e.membershipTx(ctx, codec.IxAcceptInviteToGroup, group)
}

func (e *Engine) CreateRejectInviteToGroupTx(ctx context.Context, group model.PublicKey) (*chain.Transaction, error) {
	return e.membershipTx(ctx, codec.IxRejectInviteToGroup, group)
}

func (e *Engine) CreateJoinGroupTx(ctx context.Context, group model.PublicKey) (*chain.Transaction, error) {
	return e.membershipTx(ctx, codec.IxJoinGroup, group)
}

func (e *Engine) CreateLeaveGroupTx(ctx context.Context, group model.PublicKey) (*chain.Transaction, error) {
	return e.membershipTx(ctx, codec.IxLeaveGroup, group)
}

// ReleaseGroupIndex drops the reservation taken by a CreateGroupTx whose transaction was never
// submitted.
func (e *Engine) ReleaseGroupIndex(index uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.nextGroupIndex == index+1 {
		e.nextGroupIndex = index
	}
}
