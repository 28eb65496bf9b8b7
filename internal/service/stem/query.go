package stem

import (
	"context"
	"fmt"

	"cherry_chat/internal/model"
	"cherry_chat/internal/protocol/address"
	"cherry_chat/internal/protocol/codec"
)

func (e *Engine) IsLoaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == stateLoaded
}

func (e *Engine) IsRegistered() (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state != stateLoaded {
		return false, ErrNotLoaded
	}
	return e.registered, nil
}

// Chats lists every known peer with its status and last message. Empty before Init completes.
func (e *Engine) Chats() []ChatListItem {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state != stateLoaded {
		return []ChatListItem{}
	}
	return e.chatList()
}

func (e *Engine) Groups() []GroupListItem {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state != stateLoaded {
		return []GroupListItem{}
	}
	return e.groupList()
}

// requireRegistered must be called with e.mu held.
func (e *Engine) requireRegistered() error {
	if e.state != stateLoaded {
		return ErrNotLoaded
	}
	if !e.registered {
		return ErrNotRegistered
	}
	return nil
}

// GetChat decodes the chat with peer. It returns nil for an unknown peer and for a peer whose
// chat account does not exist yet.
func (e *Engine) GetChat(peer model.PublicKey) (*model.Chat, error) {
	e.mu.RLock()
	if err := e.requireRegistered(); err != nil {
		e.mu.RUnlock()
		return nil, err
	}
	entry, ok := e.peers.Get(peer)
	e.mu.RUnlock()

	if !ok || entry.handle == nil || !entry.handle.IsInitialized() {
		return nil, nil
	}
	chat, err := codec.DecodeChat(entry.handle.Data())
	if err != nil {
		return nil, fmt.Errorf("decode chat with %s: %w", peer, err)
	}
	return chat, nil
}

func (e *Engine) GetGroup(group model.PublicKey) (*model.GroupDescriptor, error) {
	e.mu.RLock()
	if err := e.requireRegistered(); err != nil {
		e.mu.RUnlock()
		return nil, err
	}
	entry, ok := e.groups.Get(group)
	e.mu.RUnlock()

	if !ok || entry.handle == nil || !entry.handle.IsInitialized() {
		return nil, nil
	}
	g, err := codec.DecodeGroupDescriptor(entry.handle.Data())
	if err != nil {
		return nil, fmt.Errorf("decode group %s: %w", group, err)
	}
	return g, nil
}

// PeerStatus reports the cached status of peer.
func (e *Engine) PeerStatus(peer model.PublicKey) (model.PeerStatus, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.peers.Get(peer)
	if !ok {
		return 0, false
	}
	return entry.status, true
}

// FetchUserAccount is a one-shot lookup of another identity. It never touches the local caches.
func (e *Engine) FetchUserAccount(ctx context.Context, pubkey model.PublicKey) (*model.UserAccount, error) {
	descAddr, err := e.deriver.DescriptorAddress(pubkey, address.DescriptorVersion)
	if err != nil {
		return nil, fmt.Errorf("descriptor address: %w", err)
	}

	wallet := e.transport.GetAccount(pubkey, false)
	if err := wallet.Fetch(ctx); err != nil {
		return nil, fmt.Errorf("fetch account %s: %w", pubkey, err)
	}
	descriptor := e.transport.GetAccount(descAddr, false)
	if err := descriptor.Fetch(ctx); err != nil {
		return nil, fmt.Errorf("fetch descriptor %s: %w", descAddr, err)
	}

	user := &model.UserAccount{
		Pubkey:     pubkey,
		Descriptor: descAddr,
		Activated:  wallet.IsInitialized(),
		Registered: descriptor.IsInitialized(),
		Peers:      []model.PublicKey{},
		Groups:     []model.PublicKey{},
	}
	if !user.Registered {
		return user, nil
	}

	d, err := codec.DecodeDescriptor(descriptor.Data())
	if err != nil {
		return nil, fmt.Errorf("decode descriptor %s: %w", descAddr, err)
	}
	for _, p := range d.Peers {
		user.Peers = append(user.Peers, p.Pubkey)
	}
	for _, g := range d.Groups {
		user.Groups = append(user.Groups, g.Address)
	}
	return user, nil
}
