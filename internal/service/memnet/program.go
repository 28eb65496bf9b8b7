package memnet

import (
	"errors"
	"fmt"
	"time"

	"cherry_chat/internal/chain"
	"cherry_chat/internal/model"
	"cherry_chat/internal/protocol/address"
	"cherry_chat/internal/protocol/codec"
)

type txState struct {
	ledger  *Ledger
	writes  map[model.PublicKey][]byte
	invites map[[32]byte][]byte
	signer  model.PublicKey
	now     time.Time
}

func (st *txState) get(addr model.PublicKey) ([]byte, bool) {
	if data, ok := st.writes[addr]; ok {
		return data, true
	}
	data, ok := st.ledger.accounts[addr]
	return data, ok
}

func (st *txState) put(addr model.PublicKey, data []byte) {
	st.writes[addr] = data
}

func (st *txState) descriptorAddress(owner model.PublicKey) (model.PublicKey, error) {
	return st.ledger.deriver.DescriptorAddress(owner, address.DescriptorVersion)
}

func (st *txState) loadDescriptor(owner model.PublicKey) (model.PublicKey, *model.Descriptor, error) {
	addr, err := st.descriptorAddress(owner)
	if err != nil {
		return addr, nil, err
	}
	data, ok := st.get(addr)
	if !ok {
		return addr, nil, fmt.Errorf("%s is not registered", owner)
	}
	d, err := codec.DecodeDescriptor(data)
	return addr, d, err
}

func (st *txState) loadGroup(addr model.PublicKey) (*model.GroupDescriptor, error) {
	data, ok := st.get(addr)
	if !ok {
		return nil, fmt.Errorf("group %s does not exist", addr)
	}
	return codec.DecodeGroupDescriptor(data)
}

func (st *txState) message(content []byte) model.Message {
	return model.Message{
		Sender:    st.signer,
		Content:   content,
		Timestamp: uint32(st.now.Unix()),
	}
}

func requireSigner(ix chain.Instruction, k model.PublicKey) error {
	for _, m := range ix.Accounts {
		if m.Pubkey == k && m.IsSigner {
			return nil
		}
	}
	return fmt.Errorf("missing signature of %s", k)
}

func account(ix chain.Instruction, i int) (model.PublicKey, error) {
	if i >= len(ix.Accounts) {
		return model.PublicKey{}, fmt.Errorf("missing account #%d", i)
	}
	return ix.Accounts[i].Pubkey, nil
}

func findPeer(d *model.Descriptor, k model.PublicKey) int {
	for i, p := range d.Peers {
		if p.Pubkey == k {
			return i
		}
	}
	return -1
}

func findMembership(list []model.GroupMembership, k model.PublicKey) int {
	for i, m := range list {
		if m.Address == k {
			return i
		}
	}
	return -1
}

func (st *txState) execute(ix chain.Instruction) error {
	name, ok := codec.InstructionName(ix.Data)
	if !ok {
		return errors.New("unknown instruction")
	}
	if err := requireSigner(ix, st.signer); err != nil {
		return err
	}
	r := codec.NewReader(ix.Data)
	if err := r.Skip("discriminator", 8); err != nil {
		return err
	}

	switch name {
	case codec.IxRegister:
		return st.register()
	case codec.IxInvite:
		return st.invite(ix, r)
	case codec.IxAccept:
		return st.answer(ix, r, model.PeerAccepted)
	case codec.IxReject:
		return st.answer(ix, r, model.PeerRejected)
	case codec.IxSendMessage:
		return st.sendMessage(r)
	case codec.IxCreateGroup:
		return st.createGroup(ix, r)
	case codec.IxSendMessageToGroup:
		return st.sendMessageToGroup(ix, r)
	case codec.IxInviteToGroup:
		return st.inviteToGroup(ix, r)
	case codec.IxAcceptInviteToGroup:
		return st.setMembership(ix, []model.GroupState{model.GroupInvited}, model.GroupJoined)
	case codec.IxRejectInviteToGroup:
		return st.setMembership(ix, []model.GroupState{model.GroupInvited}, model.GroupRejected)
	case codec.IxLeaveGroup:
		return st.setMembership(ix, []model.GroupState{model.GroupJoined}, model.GroupLeft)
	case codec.IxJoinGroup:
		return st.joinGroup(ix)
	}
	return fmt.Errorf("instruction %s is not supported", name)
}

func (st *txState) register() error {
	addr, err := st.descriptorAddress(st.signer)
	if err != nil {
		return err
	}
	if _, ok := st.get(addr); ok {
		return errors.New("already registered")
	}
	st.put(addr, codec.EncodeDescriptor(&model.Descriptor{}))
	return nil
}

func (st *txState) invite(ix chain.Instruction, r *codec.Reader) error {
	peer, err := account(ix, 1)
	if err != nil {
		return err
	}
	if peer == st.signer {
		return errors.New("self invite")
	}
	pair, err := r.Fixed("pair_hash", 32)
	if err != nil {
		return err
	}
	if expected := address.PairHash(st.signer, peer); string(pair) != string(expected[:]) {
		return errors.New("pair hash mismatch")
	}
	ciphertext, err := r.Bytes("payload")
	if err != nil {
		return err
	}

	myAddr, mine, err := st.loadDescriptor(st.signer)
	if err != nil {
		return err
	}
	peerAddr, theirs, err := st.loadDescriptor(peer)
	if err != nil {
		return err
	}
	if findPeer(mine, peer) >= 0 || findPeer(theirs, st.signer) >= 0 {
		return errors.New("peer already known")
	}

	mine.Peers = append(mine.Peers, model.Peer{Pubkey: peer, Status: model.PeerInvited})
	theirs.Peers = append(theirs.Peers, model.Peer{Pubkey: st.signer, Status: model.PeerRequested})
	st.put(myAddr, codec.EncodeDescriptor(mine))
	st.put(peerAddr, codec.EncodeDescriptor(theirs))

	if st.invites == nil {
		st.invites = make(map[[32]byte][]byte)
	}
	st.invites[address.PairHash(st.signer, peer)] = ciphertext
	return nil
}

// answer handles accept and reject, both sent by the invitee.
func (st *txState) answer(ix chain.Instruction, r *codec.Reader, status model.PeerStatus) error {
	peer, err := account(ix, 1)
	if err != nil {
		return err
	}
	myAddr, mine, err := st.loadDescriptor(st.signer)
	if err != nil {
		return err
	}
	peerAddr, theirs, err := st.loadDescriptor(peer)
	if err != nil {
		return err
	}
	i, j := findPeer(mine, peer), findPeer(theirs, st.signer)
	if i < 0 || j < 0 || mine.Peers[i].Status != model.PeerRequested {
		return errors.New("no pending invite from peer")
	}

	mine.Peers[i].Status = status
	theirs.Peers[j].Status = status
	st.put(myAddr, codec.EncodeDescriptor(mine))
	st.put(peerAddr, codec.EncodeDescriptor(theirs))

	if status != model.PeerAccepted {
		return nil
	}
	pair, err := r.Fixed("pair_hash", 32)
	if err != nil {
		return err
	}
	if expected := address.PairHash(st.signer, peer); string(pair) != string(expected[:]) {
		return errors.New("pair hash mismatch")
	}
	chatAddr, err := st.ledger.deriver.ChatAddress(st.signer, peer, address.ChatVersion)
	if err != nil {
		return err
	}
	st.put(chatAddr, codec.EncodeChat(&model.Chat{Wallets: [2]model.PublicKey{peer, st.signer}}))
	return nil
}

func (st *txState) sendMessage(r *codec.Reader) error {
	pair, err := r.Fixed("pair_hash", 32)
	if err != nil {
		return err
	}
	content, err := r.Bytes("content")
	if err != nil {
		return err
	}
	_, mine, err := st.loadDescriptor(st.signer)
	if err != nil {
		return err
	}

	var peer *model.PublicKey
	for _, p := range mine.Peers {
		h := address.PairHash(st.signer, p.Pubkey)
		if string(h[:]) == string(pair) && p.Status == model.PeerAccepted {
			peer = &p.Pubkey
			break
		}
	}
	if peer == nil {
		return errors.New("no accepted chat for pair hash")
	}

	chatAddr, err := st.ledger.deriver.ChatAddress(st.signer, *peer, address.ChatVersion)
	if err != nil {
		return err
	}
	data, ok := st.get(chatAddr)
	if !ok {
		return errors.New("chat account does not exist")
	}
	chat, err := codec.DecodeChat(data)
	if err != nil {
		return err
	}
	chat.Messages = append(chat.Messages, st.message(content))
	chat.Length++
	st.put(chatAddr, codec.EncodeChat(chat))
	return nil
}

func (st *txState) createGroup(ix chain.Instruction, r *codec.Reader) error {
	index, err := r.U64("index")
	if err != nil {
		return err
	}
	groupType, err := r.U8("group_type")
	if err != nil {
		return err
	}
	title, err := r.Bytes("title")
	if err != nil {
		return err
	}
	description, err := r.Bytes("description")
	if err != nil {
		return err
	}
	imageURL, err := r.Bytes("image_url")
	if err != nil {
		return err
	}

	myAddr, mine, err := st.loadDescriptor(st.signer)
	if err != nil {
		return err
	}
	if index != uint64(len(mine.Groups)) {
		return fmt.Errorf("group index %d does not match group count %d", index, len(mine.Groups))
	}
	groupAddr, err := st.ledger.deriver.GroupAddress(st.signer, index)
	if err != nil {
		return err
	}
	if given, err := account(ix, 2); err != nil || given != groupAddr {
		return errors.New("group account mismatch")
	}
	if _, ok := st.get(groupAddr); ok {
		return errors.New("group already exists")
	}

	st.put(groupAddr, codec.EncodeGroupDescriptor(&model.GroupDescriptor{
		Title:       string(title),
		Description: string(description),
		ImageURL:    string(imageURL),
		Owner:       st.signer,
		GroupType:   groupType,
		Members:     []model.GroupMembership{{Address: st.signer, State: model.GroupJoined}},
	}))
	mine.Groups = append(mine.Groups, model.GroupMembership{Address: groupAddr, State: model.GroupJoined})
	st.put(myAddr, codec.EncodeDescriptor(mine))
	return nil
}

func (st *txState) sendMessageToGroup(ix chain.Instruction, r *codec.Reader) error {
	content, err := r.Bytes("content")
	if err != nil {
		return err
	}
	groupAddr, err := account(ix, 1)
	if err != nil {
		return err
	}
	g, err := st.loadGroup(groupAddr)
	if err != nil {
		return err
	}
	i := findMembership(g.Members, st.signer)
	if i < 0 || g.Members[i].State != model.GroupJoined {
		return errors.New("not a group member")
	}
	g.Messages = append(g.Messages, st.message(content))
	g.Length++
	st.put(groupAddr, codec.EncodeGroupDescriptor(g))
	return nil
}

func (st *txState) inviteToGroup(ix chain.Instruction, r *codec.Reader) error {
	invitee, err := r.Key("invitee")
	if err != nil {
		return err
	}
	groupAddr, err := account(ix, 1)
	if err != nil {
		return err
	}
	g, err := st.loadGroup(groupAddr)
	if err != nil {
		return err
	}
	if i := findMembership(g.Members, st.signer); i < 0 || g.Members[i].State != model.GroupJoined {
		return errors.New("only members can invite")
	}
	if findMembership(g.Members, invitee) >= 0 {
		return errors.New("already a member")
	}
	inviteeAddr, theirs, err := st.loadDescriptor(invitee)
	if err != nil {
		return err
	}

	g.Members = append(g.Members, model.GroupMembership{Address: invitee, State: model.GroupInvited})
	theirs.Groups = append(theirs.Groups, model.GroupMembership{Address: groupAddr, State: model.GroupInvited})
	st.put(groupAddr, codec.EncodeGroupDescriptor(g))
	st.put(inviteeAddr, codec.EncodeDescriptor(theirs))
	return nil
}

func (st *txState) setMembership(ix chain.Instruction, from []model.GroupState, to model.GroupState) error {
	groupAddr, err := account(ix, 2)
	if err != nil {
		return err
	}
	g, err := st.loadGroup(groupAddr)
	if err != nil {
		return err
	}
	myAddr, mine, err := st.loadDescriptor(st.signer)
	if err != nil {
		return err
	}
	i, j := findMembership(g.Members, st.signer), findMembership(mine.Groups, groupAddr)
	if i < 0 || j < 0 {
		return errors.New("not invited to group")
	}
	allowed := false
	for _, s := range from {
		allowed = allowed || g.Members[i].State == s
	}
	if !allowed {
		return fmt.Errorf("membership is %s", g.Members[i].State)
	}

	g.Members[i].State = to
	mine.Groups[j].State = to
	st.put(groupAddr, codec.EncodeGroupDescriptor(g))
	st.put(myAddr, codec.EncodeDescriptor(mine))
	return nil
}

func (st *txState) joinGroup(ix chain.Instruction) error {
	groupAddr, err := account(ix, 2)
	if err != nil {
		return err
	}
	g, err := st.loadGroup(groupAddr)
	if err != nil {
		return err
	}
	if g.GroupType != model.GroupTypePublic {
		return errors.New("group is not public")
	}
	myAddr, mine, err := st.loadDescriptor(st.signer)
	if err != nil {
		return err
	}

	if i := findMembership(g.Members, st.signer); i >= 0 {
		if g.Members[i].State == model.GroupJoined || g.Members[i].State == model.GroupKicked {
			return fmt.Errorf("membership is %s", g.Members[i].State)
		}
		g.Members[i].State = model.GroupJoined
	} else {
		g.Members = append(g.Members, model.GroupMembership{Address: st.signer, State: model.GroupJoined})
	}
	if j := findMembership(mine.Groups, groupAddr); j >= 0 {
		mine.Groups[j].State = model.GroupJoined
	} else {
		mine.Groups = append(mine.Groups, model.GroupMembership{Address: groupAddr, State: model.GroupJoined})
	}
	st.put(groupAddr, codec.EncodeGroupDescriptor(g))
	st.put(myAddr, codec.EncodeDescriptor(mine))
	return nil
}
