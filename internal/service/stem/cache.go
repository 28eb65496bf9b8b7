package stem

import (
	"time"

	"cherry_chat/internal/chain"
	"cherry_chat/internal/model"
)

type (
	// orderedMap keeps insertion order so list snapshots are stable across diffs.
	orderedMap[V any] struct {
		keys []model.PublicKey
		m    map[model.PublicKey]V
	}

	// peerEntry is a known peer. handle is nil until the chat account handle is attached.
	peerEntry struct {
		status model.PeerStatus
		handle chain.AccountHandle
	}

	// groupEntry is a known group. handle is only attached once the membership is Joined.
	groupEntry struct {
		state  model.GroupState
		handle chain.AccountHandle
	}

	LastMessage struct {
		ID        string          `json:"id"`
		Index     uint32          `json:"index"`
		Sender    model.PublicKey `json:"sender"`
		Content   string          `json:"content"`
		Timestamp time.Time       `json:"timestamp"`
	}

	ChatListItem struct {
		Pubkey   model.PublicKey  `json:"pubkey"`
		Status   model.PeerStatus `json:"status"`
		Attached bool             `json:"attached"`
		Last     *LastMessage     `json:"last,omitempty"`
	}

	GroupListItem struct {
		Address  model.PublicKey  `json:"address"`
		State    model.GroupState `json:"state"`
		Attached bool             `json:"attached"`
		Last     *LastMessage     `json:"last,omitempty"`
	}
)

func newOrderedMap[V any]() *orderedMap[V] {
	return &orderedMap[V]{m: make(map[model.PublicKey]V)}
}

func (o *orderedMap[V]) Get(k model.PublicKey) (V, bool) {
	v, ok := o.m[k]
	return v, ok
}

func (o *orderedMap[V]) Set(k model.PublicKey, v V) {
	if _, ok := o.m[k]; !ok {
		o.keys = append(o.keys, k)
	}
	o.m[k] = v
}

func (o *orderedMap[V]) Len() int {
	return len(o.keys)
}

func (o *orderedMap[V]) Each(fn func(model.PublicKey, V)) {
	for _, k := range o.keys {
		fn(k, o.m[k])
	}
}

func (o *orderedMap[V]) Reset() {
	o.keys = nil
	o.m = make(map[model.PublicKey]V)
}

func lastMessageOf(m *model.Message) *LastMessage {
	if m == nil {
		return nil
	}
	return &LastMessage{
		ID:        m.ID(),
		Index:     m.Index,
		Sender:    m.Sender,
		Content:   string(m.Content),
		Timestamp: m.Time(),
	}
}

func sameLast(a, b *LastMessage) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID && a.Index == b.Index
}

// chatList and groupList must be called with e.mu held.
func (e *Engine) chatList() []ChatListItem {
	out := make([]ChatListItem, 0, e.peers.Len())
	e.peers.Each(func(k model.PublicKey, p *peerEntry) {
		out = append(out, ChatListItem{
			Pubkey:   k,
			Status:   p.status,
			Attached: p.handle != nil,
			Last:     e.chatMeta[k],
		})
	})
	return out
}

func (e *Engine) groupList() []GroupListItem {
	out := make([]GroupListItem, 0, e.groups.Len())
	e.groups.Each(func(k model.PublicKey, g *groupEntry) {
		out = append(out, GroupListItem{
			Address:  k,
			State:    g.state,
			Attached: g.handle != nil,
			Last:     e.groupMeta[k],
		})
	})
	return out
}
