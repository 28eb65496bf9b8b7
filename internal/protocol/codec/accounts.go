package codec

import (
	"encoding/binary"
	"fmt"

	"cherry_chat/internal/model"
)

const (
	AccountWalletDescriptor = "WalletDescriptor"
	AccountPrivateChat      = "PrivateChat"
	AccountGroupDescriptor  = "GroupDescriptor"

	peerSize       = model.PublicKeySize + 1
	membershipSize = model.PublicKeySize + 1
	minMessageSize = model.PublicKeySize + 4 + 8
)

// DecodeDescriptor decodes a wallet descriptor account including its 8 byte header.
// Trailing bytes after the body are ignored, accounts may be allocated larger than their content.
func DecodeDescriptor(data []byte) (*model.Descriptor, error) {
	r := NewReader(data)
	if err := r.Skip("descriptor.header", AccountHeaderSize); err != nil {
		return nil, err
	}

	n, err := r.Count("descriptor.peers", peerSize)
	if err != nil {
		return nil, err
	}
	d := &model.Descriptor{
		Peers: make([]model.Peer, 0, n),
	}
	for i := 0; i < n; i++ {
		field := fmt.Sprintf("descriptor.peers[%d]", i)
		key, err := r.Key(field + ".pubkey")
		if err != nil {
			return nil, err
		}
		status, err := r.U8(field + ".status")
		if err != nil {
			return nil, err
		}
		d.Peers = append(d.Peers, model.Peer{Pubkey: key, Status: model.PeerStatus(status)})
	}

	d.Groups, err = decodeMemberships(r, "descriptor.groups")
	if err != nil {
		return nil, err
	}
	return d, nil
}

func EncodeDescriptor(d *model.Descriptor) []byte {
	w := NewAccount(AccountWalletDescriptor)
	w.U32(uint32(len(d.Peers)))
	for _, p := range d.Peers {
		w.Key(p.Pubkey).U8(uint8(p.Status))
	}
	encodeMemberships(w, d.Groups)
	return w.Payload()
}

func DecodeChat(data []byte) (*model.Chat, error) {
	r := NewReader(data)
	if err := r.Skip("chat.header", AccountHeaderSize); err != nil {
		return nil, err
	}

	c := &model.Chat{}
	for i := range c.Wallets {
		k, err := r.Key(fmt.Sprintf("chat.wallets[%d]", i))
		if err != nil {
			return nil, err
		}
		c.Wallets[i] = k
	}

	var err error
	if c.Length, err = r.U32("chat.length"); err != nil {
		return nil, err
	}
	if c.Messages, err = decodeMessages(r, "chat.messages"); err != nil {
		return nil, err
	}
	return c, nil
}

func EncodeChat(c *model.Chat) []byte {
	w := NewAccount(AccountPrivateChat)
	w.Key(c.Wallets[0]).Key(c.Wallets[1])
	w.U32(c.Length)
	encodeMessages(w, c.Messages)
	return w.Payload()
}

func DecodeGroupDescriptor(data []byte) (*model.GroupDescriptor, error) {
	r := NewReader(data)
	if err := r.Skip("group.header", AccountHeaderSize); err != nil {
		return nil, err
	}

	g := &model.GroupDescriptor{}
	title, err := r.Bytes("group.title")
	if err != nil {
		return nil, err
	}
	description, err := r.Bytes("group.description")
	if err != nil {
		return nil, err
	}
	imageURL, err := r.Bytes("group.image_url")
	if err != nil {
		return nil, err
	}
	g.Title, g.Description, g.ImageURL = string(title), string(description), string(imageURL)

	if g.Owner, err = r.Key("group.owner"); err != nil {
		return nil, err
	}
	if g.GroupType, err = r.U8("group.group_type"); err != nil {
		return nil, err
	}
	if g.State, err = r.U8("group.state"); err != nil {
		return nil, err
	}
	if g.Members, err = decodeMemberships(r, "group.members"); err != nil {
		return nil, err
	}
	if g.Length, err = r.U32("group.length"); err != nil {
		return nil, err
	}
	if g.Messages, err = decodeMessages(r, "group.messages"); err != nil {
		return nil, err
	}
	return g, nil
}

func EncodeGroupDescriptor(g *model.GroupDescriptor) []byte {
	w := NewAccount(AccountGroupDescriptor)
	w.Bytes([]byte(g.Title)).Bytes([]byte(g.Description)).Bytes([]byte(g.ImageURL))
	w.Key(g.Owner).U8(g.GroupType).U8(g.State)
	encodeMemberships(w, g.Members)
	w.U32(g.Length)
	encodeMessages(w, g.Messages)
	return w.Payload()
}

func decodeMemberships(r *Reader, field string) ([]model.GroupMembership, error) {
	n, err := r.Count(field, membershipSize)
	if err != nil {
		return nil, err
	}
	out := make([]model.GroupMembership, 0, n)
	for i := 0; i < n; i++ {
		f := fmt.Sprintf("%s[%d]", field, i)
		addr, err := r.Key(f + ".account")
		if err != nil {
			return nil, err
		}
		state, err := r.U8(f + ".state")
		if err != nil {
			return nil, err
		}
		out = append(out, model.GroupMembership{Address: addr, State: model.GroupState(state)})
	}
	return out, nil
}

func encodeMemberships(w *Writer, members []model.GroupMembership) {
	w.U32(uint32(len(members)))
	for _, m := range members {
		w.Key(m.Address).U8(uint8(m.State))
	}
}

func decodeMessages(r *Reader, field string) ([]model.Message, error) {
	n, err := r.Count(field, minMessageSize)
	if err != nil {
		return nil, err
	}
	out := make([]model.Message, 0, n)
	for i := 0; i < n; i++ {
		m, err := decodeMessage(r, fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		m.Index = uint32(i)
		out = append(out, m)
	}
	return out, nil
}

func decodeMessage(r *Reader, field string) (model.Message, error) {
	var (
		m   model.Message
		err error
	)
	if m.Sender, err = r.Key(field + ".sender"); err != nil {
		return m, err
	}
	if m.Content, err = r.Bytes(field + ".content"); err != nil {
		return m, err
	}
	ts, err := r.Fixed(field+".timestamp", 8)
	if err != nil {
		return m, err
	}
	// The upper 4 bytes are reserved.
	m.Timestamp = binary.LittleEndian.Uint32(ts[:4])
	return m, nil
}

func encodeMessages(w *Writer, messages []model.Message) {
	w.U32(uint32(len(messages)))
	for _, m := range messages {
		w.Key(m.Sender).Bytes(m.Content).U32(m.Timestamp).U32(0)
	}
}

// Upper bounds accepted by the instruction builders. Decoders only enforce buffer bounds.
const (
	MaxMessageLength     = 1024
	MaxTitleLength       = 64
	MaxDescriptionLength = 256
	MaxImageURLLength    = 256
)
