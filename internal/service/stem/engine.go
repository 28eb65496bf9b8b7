package stem

import (
	"context"
	"fmt"

	"cherry_chat/internal/chain"
	"cherry_chat/internal/model"
	"cherry_chat/internal/protocol/address"
	"cherry_chat/internal/protocol/codec"
	"cherry_chat/internal/utils/log"

	"github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"
)

type loadState int

const (
	stateUnloaded loadState = iota
	stateLoading
	stateLoaded
)

type (
	Option func(*Engine)

	// Engine keeps the local view of one identity: its descriptor, the chat account of every peer
	// and the descriptor of every joined group. The diff procedure (sync) is the only writer of the
	// peer and group caches.
	Engine struct {
		mu deadlock.RWMutex

		identity  model.PublicKey
		transport chain.Transport
		deriver   *address.Deriver
		subscribe bool

		descriptorAddress model.PublicKey
		descriptor        chain.AccountHandle

		state      loadState
		registered bool
		peers      *orderedMap[*peerEntry]
		groups     *orderedMap[*groupEntry]
		chatMeta   map[model.PublicKey]*LastMessage
		groupMeta  map[model.PublicKey]*LastMessage
		// handles outlive cache resets so a reappearing peer or group reuses its subscription.
		handles map[model.PublicKey]chain.AccountHandle

		keys           *model.KeyMaterial
		nextGroupIndex uint64

		obsMu        deadlock.RWMutex
		observers    map[int]Observer
		nextObserver int
	}

	// pendingFetch is a freshly attached handle whose first snapshot still has to be read.
	pendingFetch struct {
		handle  chain.AccountHandle
		refresh func(chain.AccountHandle)
	}
)

func WithProgramID(programID model.PublicKey) Option {
	return func(e *Engine) {
		e.deriver = address.NewDeriver(programID)
	}
}

func New(identity model.PublicKey, transport chain.Transport, subscribe bool, opts ...Option) (*Engine, error) {
	e := &Engine{
		identity:  identity,
		transport: transport,
		deriver:   address.NewDeriver(address.DefaultProgramID),
		subscribe: subscribe,
		peers:     newOrderedMap[*peerEntry](),
		groups:    newOrderedMap[*groupEntry](),
		chatMeta:  make(map[model.PublicKey]*LastMessage),
		groupMeta: make(map[model.PublicKey]*LastMessage),
		handles:   make(map[model.PublicKey]chain.AccountHandle),
		observers: make(map[int]Observer),
	}
	for _, opt := range opts {
		opt(e)
	}

	addr, err := e.deriver.DescriptorAddress(identity, address.DescriptorVersion)
	if err != nil {
		return nil, fmt.Errorf("descriptor address: %w", err)
	}
	e.descriptorAddress = addr
	e.descriptor = transport.GetAccount(addr, subscribe)
	return e, nil
}

func (e *Engine) Identity() model.PublicKey {
	return e.identity
}

func (e *Engine) ProgramID() model.PublicKey {
	return e.deriver.ProgramID()
}

func (e *Engine) DescriptorAddress() model.PublicKey {
	return e.descriptorAddress
}

// Init fetches the descriptor, runs the first diff and, when subscribing, keeps the caches in
// sync with every pushed snapshot. Calling Init on a loaded engine is a no-op.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	if e.state != stateUnloaded {
		e.mu.Unlock()
		return nil
	}
	e.state = stateLoading
	e.mu.Unlock()

	if err := e.descriptor.Fetch(ctx); err != nil {
		e.setState(stateUnloaded)
		return fmt.Errorf("fetch descriptor %s: %w", e.descriptorAddress, err)
	}

	events, pending, err := e.sync()
	if err != nil {
		e.setState(stateUnloaded)
		return err
	}

	if e.subscribe {
		e.descriptor.OnUpdate(e.onDescriptorUpdate)
	}

	e.mu.Lock()
	e.state = stateLoaded
	loaded := Event{
		Kind:       EventLoaded,
		Registered: e.registered,
		Chats:      e.chatList(),
		Groups:     e.groupList(),
	}
	e.mu.Unlock()

	log.Info("stem loaded",
		zap.String("identity", e.identity.String()),
		zap.Bool("registered", loaded.Registered),
		zap.Int("peers", len(loaded.Chats)),
		zap.Int("groups", len(loaded.Groups)))

	e.emit(events...)
	e.emit(loaded)
	e.fetchPending(ctx, pending)
	return nil
}

func (e *Engine) setState(s loadState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) onDescriptorUpdate(chain.AccountHandle) {
	events, pending, err := e.sync()
	if err != nil {
		log.Error("descriptor update rejected", zap.String("identity", e.identity.String()), zap.Error(err))
		return
	}
	e.emit(events...)
	e.fetchPending(context.Background(), pending)
}

// sync is the diff procedure. It compares the descriptor snapshot held by the handle with the
// caches and reports only actual deltas. Nothing is mutated when the snapshot fails to decode or
// an address cannot be derived. The snapshot is read under e.mu so overlapping pushes apply in
// order and the last diff always sees the latest snapshot.
func (e *Engine) sync() ([]Event, []pendingFetch, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var desc *model.Descriptor
	initialized := e.descriptor.IsInitialized()
	if initialized {
		d, err := codec.DecodeDescriptor(e.descriptor.Data())
		if err != nil {
			return nil, nil, fmt.Errorf("decode descriptor %s: %w", e.descriptorAddress, err)
		}
		desc = d
	}

	chatAddrs, groupAttach, err := e.planAttachments(desc)
	if err != nil {
		return nil, nil, err
	}

	var (
		events        []Event
		pending       []pendingFetch
		chatsChanged  bool
		groupsChanged bool
	)

	statusChanged := e.registered != initialized
	e.registered = initialized

	if desc == nil {
		if e.peers.Len() > 0 {
			e.peers.Reset()
			chatsChanged = true
		}
		if e.groups.Len() > 0 {
			e.groups.Reset()
			groupsChanged = true
		}
		clear(e.chatMeta)
		clear(e.groupMeta)
	} else {
		for _, p := range desc.Peers {
			entry, ok := e.peers.Get(p.Pubkey)
			switch {
			case !ok:
				entry = &peerEntry{status: p.Status}
				entry.handle = e.attachChat(p.Pubkey, chatAddrs[p.Pubkey])
				e.peers.Set(p.Pubkey, entry)
				pending = append(pending, pendingFetch{entry.handle, e.chatRefresher(p.Pubkey)})
				chatsChanged = true
			case entry.status != p.Status:
				entry.status = p.Status
				if p.Status == model.PeerAccepted {
					pending = append(pending, pendingFetch{entry.handle, e.chatRefresher(p.Pubkey)})
				}
				chatsChanged = true
			}
		}

		for _, g := range desc.Groups {
			entry, ok := e.groups.Get(g.Address)
			if !ok {
				entry = &groupEntry{state: g.State}
				e.groups.Set(g.Address, entry)
				groupsChanged = true
			} else if entry.state != g.State {
				entry.state = g.State
				groupsChanged = true
			}
			if groupAttach[g.Address] && entry.handle == nil {
				entry.handle = e.attachGroup(g.Address)
				pending = append(pending, pendingFetch{entry.handle, e.groupRefresher(g.Address)})
				groupsChanged = true
			}
		}
		// a local group reservation is consumed once the remote count catches up with it
		if uint64(len(desc.Groups)) >= e.nextGroupIndex {
			e.nextGroupIndex = 0
		}
	}

	if chatsChanged {
		events = append(events, Event{Kind: EventChatsUpdated, Chats: e.chatList()})
	}
	if groupsChanged {
		events = append(events, Event{Kind: EventGroupsUpdated, Groups: e.groupList()})
	}
	if statusChanged {
		events = append(events, Event{Kind: EventStatusUpdated, Registered: e.registered})
	}

	log.Debug("descriptor synced",
		zap.String("identity", e.identity.String()),
		zap.Bool("chats_changed", chatsChanged),
		zap.Bool("groups_changed", groupsChanged),
		zap.Bool("status_changed", statusChanged))

	return events, pending, nil
}

// planAttachments derives the addresses of every handle the diff is about to attach, before any
// cache entry is touched. Must be called with e.mu held.
func (e *Engine) planAttachments(desc *model.Descriptor) (map[model.PublicKey]model.PublicKey, map[model.PublicKey]bool, error) {
	chats := make(map[model.PublicKey]model.PublicKey)
	groups := make(map[model.PublicKey]bool)
	if desc == nil {
		return chats, groups, nil
	}

	for _, p := range desc.Peers {
		if _, ok := e.peers.Get(p.Pubkey); ok {
			continue
		}
		addr, err := e.deriver.ChatAddress(e.identity, p.Pubkey, address.ChatVersion)
		if err != nil {
			return nil, nil, fmt.Errorf("chat address for %s: %w", p.Pubkey, err)
		}
		chats[p.Pubkey] = addr
	}
	for _, g := range desc.Groups {
		groups[g.Address] = g.State == model.GroupJoined
	}
	return chats, groups, nil
}

// attachChat and attachGroup return the handle already open on addr or open a new one. Must be
// called with e.mu held.
func (e *Engine) attachChat(peer, addr model.PublicKey) chain.AccountHandle {
	if h, ok := e.handles[addr]; ok {
		return h
	}
	h := e.transport.GetAccount(addr, e.subscribe)
	if e.subscribe {
		h.OnUpdate(e.chatRefresher(peer))
	}
	e.handles[addr] = h
	return h
}

func (e *Engine) attachGroup(addr model.PublicKey) chain.AccountHandle {
	if h, ok := e.handles[addr]; ok {
		return h
	}
	h := e.transport.GetAccount(addr, e.subscribe)
	if e.subscribe {
		h.OnUpdate(e.groupRefresher(addr))
	}
	e.handles[addr] = h
	return h
}

// fetchPending reads the first snapshot of newly attached handles. A failing fetch leaves the
// handle attached but empty, it is retried by the next push.
func (e *Engine) fetchPending(ctx context.Context, pending []pendingFetch) {
	for _, p := range pending {
		if err := p.handle.Fetch(ctx); err != nil {
			log.Warn("fetch attached account failed", zap.String("address", p.handle.Address().String()), zap.Error(err))
			continue
		}
		p.refresh(p.handle)
	}
}

func (e *Engine) chatRefresher(peer model.PublicKey) func(chain.AccountHandle) {
	return func(h chain.AccountHandle) {
		if !h.IsInitialized() {
			return
		}
		chat, err := codec.DecodeChat(h.Data())
		if err != nil {
			log.Warn("chat update rejected", zap.String("peer", peer.String()), zap.Error(err))
			return
		}

		e.mu.Lock()
		if _, ok := e.peers.Get(peer); !ok {
			// the peer was dropped by a reset, the handle stays open for when it comes back
			e.mu.Unlock()
			return
		}
		last := lastMessageOf(chat.Last())
		metaChanged := !sameLast(e.chatMeta[peer], last)
		if metaChanged {
			e.chatMeta[peer] = last
		}
		var list []ChatListItem
		if metaChanged {
			list = e.chatList()
		}
		e.mu.Unlock()

		events := []Event{{Kind: EventChatUpdated, Peer: peer, Chat: chat}}
		if metaChanged {
			events = append(events, Event{Kind: EventChatsUpdated, Chats: list})
		}
		e.emit(events...)
	}
}

func (e *Engine) groupRefresher(addr model.PublicKey) func(chain.AccountHandle) {
	return func(h chain.AccountHandle) {
		if !h.IsInitialized() {
			return
		}
		group, err := codec.DecodeGroupDescriptor(h.Data())
		if err != nil {
			log.Warn("group update rejected", zap.String("group", addr.String()), zap.Error(err))
			return
		}

		e.mu.Lock()
		if entry, ok := e.groups.Get(addr); !ok || entry.handle == nil {
			e.mu.Unlock()
			return
		}
		last := lastMessageOf(group.Last())
		metaChanged := !sameLast(e.groupMeta[addr], last)
		if metaChanged {
			e.groupMeta[addr] = last
		}
		var list []GroupListItem
		if metaChanged {
			list = e.groupList()
		}
		e.mu.Unlock()

		events := []Event{{Kind: EventGroupUpdated, Address: addr, Group: group}}
		if metaChanged {
			events = append(events, Event{Kind: EventGroupsUpdated, Groups: list})
		}
		e.emit(events...)
	}
}
