package memnet

import (
	"context"
	"testing"
	"time"

	"cherry_chat/internal/chain"
	"cherry_chat/internal/model"
	"cherry_chat/internal/protocol/address"
	"cherry_chat/internal/protocol/codec"

	"github.com/stretchr/testify/require"
)

func key(b byte) model.PublicKey {
	var k model.PublicKey
	k[0] = b
	k[31] = b
	return k
}

type fixture struct {
	t       *testing.T
	ledger  *Ledger
	deriver *address.Deriver
}

func newFixture(t *testing.T) *fixture {
	clock := time.Unix(1_700_000_000, 0)
	return &fixture{
		t:       t,
		ledger:  NewLedger(WithClock(func() time.Time { return clock })),
		deriver: address.NewDeriver(address.DefaultProgramID),
	}
}

func (f *fixture) desc(owner model.PublicKey) model.PublicKey {
	addr, err := f.deriver.DescriptorAddress(owner, address.DescriptorVersion)
	require.NoError(f.t, err)
	return addr
}

func (f *fixture) send(payer model.PublicKey, data []byte, accounts ...model.PublicKey) error {
	metas := []chain.AccountMeta{{Pubkey: payer, IsSigner: true}}
	for _, a := range accounts {
		metas = append(metas, chain.AccountMeta{Pubkey: a, IsWritable: true})
	}
	bh, err := f.ledger.GetLatestBlockhash(context.Background())
	require.NoError(f.t, err)
	tx := chain.NewTransaction(payer, bh, chain.Instruction{
		ProgramID: address.DefaultProgramID,
		Accounts:  metas,
		Data:      data,
	})
	_, err = f.ledger.SendTransaction(context.Background(), tx)
	return err
}

func (f *fixture) register(owner model.PublicKey) {
	require.NoError(f.t, f.send(owner, codec.NewInstruction(codec.IxRegister).Payload(), f.desc(owner)))
}

func (f *fixture) descriptor(owner model.PublicKey) *model.Descriptor {
	data, ok := f.ledger.Account(f.desc(owner))
	require.True(f.t, ok)
	d, err := codec.DecodeDescriptor(data)
	require.NoError(f.t, err)
	return d
}

func (f *fixture) invite(from, to model.PublicKey, note []byte) error {
	pair := address.PairHash(from, to)
	data := codec.NewInstruction(codec.IxInvite).Fixed(pair[:]).Bytes(note).Payload()
	return f.send(from, data, to, f.desc(from), f.desc(to))
}

func (f *fixture) accept(by, inviter model.PublicKey) error {
	pair := address.PairHash(by, inviter)
	chat, err := f.deriver.ChatAddress(by, inviter, address.ChatVersion)
	require.NoError(f.t, err)
	data := codec.NewInstruction(codec.IxAccept).Fixed(pair[:]).Payload()
	return f.send(by, data, inviter, f.desc(by), f.desc(inviter), chat)
}

func TestRegisterAndInvite(t *testing.T) {
	f := newFixture(t)
	a, b := key(1), key(2)

	require.Error(t, f.invite(a, b, nil), "unregistered sender")
	f.register(a)
	require.Error(t, f.send(a, codec.NewInstruction(codec.IxRegister).Payload(), f.desc(a)), "double register")
	require.Error(t, f.invite(a, b, nil), "unregistered peer")
	f.register(b)

	require.Error(t, f.invite(a, a, nil))
	require.NoError(t, f.invite(a, b, []byte("note")))
	require.Error(t, f.invite(b, a, nil), "pair already linked")

	require.Equal(t, []model.Peer{{Pubkey: b, Status: model.PeerInvited}}, f.descriptor(a).Peers)
	require.Equal(t, []model.Peer{{Pubkey: a, Status: model.PeerRequested}}, f.descriptor(b).Peers)

	ct, ok := f.ledger.InvitePayload(b, a)
	require.True(t, ok)
	require.Equal(t, []byte("note"), ct)
}

func TestAcceptCreatesChatAndMessagesAppend(t *testing.T) {
	f := newFixture(t)
	a, b := key(1), key(2)
	f.register(a)
	f.register(b)
	require.NoError(t, f.invite(a, b, nil))

	require.Error(t, f.accept(a, b), "only the invitee can accept")
	require.NoError(t, f.accept(b, a))
	require.Equal(t, model.PeerAccepted, f.descriptor(a).Peers[0].Status)
	require.Equal(t, model.PeerAccepted, f.descriptor(b).Peers[0].Status)

	chatAddr, err := f.deriver.ChatAddress(a, b, address.ChatVersion)
	require.NoError(t, err)

	pair := address.PairHash(a, b)
	msg := codec.NewInstruction(codec.IxSendMessage).Fixed(pair[:]).Bytes([]byte("hi")).Payload()
	require.NoError(t, f.send(a, msg, chatAddr))

	data, ok := f.ledger.Account(chatAddr)
	require.True(t, ok)
	chat, err := codec.DecodeChat(data)
	require.NoError(t, err)
	require.Equal(t, [2]model.PublicKey{a, b}, chat.Wallets)
	require.Equal(t, uint32(1), chat.Length)
	require.Len(t, chat.Messages, 1)
	require.Equal(t, a, chat.Messages[0].Sender)
	require.Equal(t, []byte("hi"), chat.Messages[0].Content)
	require.Equal(t, uint32(1_700_000_000), chat.Messages[0].Timestamp)

	require.Error(t, f.send(key(3), msg, chatAddr), "stranger cannot post")
}

func TestRejectBlocksMessages(t *testing.T) {
	f := newFixture(t)
	a, b := key(1), key(2)
	f.register(a)
	f.register(b)
	require.NoError(t, f.invite(a, b, nil))

	require.NoError(t, f.send(b, codec.NewInstruction(codec.IxReject).Payload(), a, f.desc(b), f.desc(a)))
	require.Equal(t, model.PeerRejected, f.descriptor(a).Peers[0].Status)
	require.Error(t, f.accept(b, a))

	pair := address.PairHash(a, b)
	msg := codec.NewInstruction(codec.IxSendMessage).Fixed(pair[:]).Bytes([]byte("hi")).Payload()
	require.Error(t, f.send(a, msg))
}

func TestGroupLifecycle(t *testing.T) {
	f := newFixture(t)
	owner, guest := key(1), key(2)
	f.register(owner)
	f.register(guest)

	g0, err := f.deriver.GroupAddress(owner, 0)
	require.NoError(t, err)
	g1, err := f.deriver.GroupAddress(owner, 1)
	require.NoError(t, err)

	create := func(index uint64, groupAddr model.PublicKey) error {
		data := codec.NewInstruction(codec.IxCreateGroup).U64(index).U8(model.GroupTypePrivate).
			Bytes([]byte("t")).Bytes(nil).Bytes(nil).Payload()
		return f.send(owner, data, f.desc(owner), groupAddr)
	}
	require.Error(t, create(1, g1), "index must equal group count")
	require.Error(t, create(0, g1), "address must match index")
	require.NoError(t, create(0, g0))
	require.Error(t, create(0, g0), "group exists")

	membership := func(name string, who model.PublicKey) error {
		return f.send(who, codec.NewInstruction(name).Payload(), f.desc(who), g0)
	}
	require.Error(t, membership(codec.IxJoinGroup, guest), "private group")
	require.Error(t, membership(codec.IxAcceptInviteToGroup, guest), "not invited")

	inviteData := codec.NewInstruction(codec.IxInviteToGroup).Key(guest).Payload()
	require.NoError(t, f.send(owner, inviteData, g0, f.desc(owner), f.desc(guest)))
	require.Equal(t, []model.GroupMembership{{Address: g0, State: model.GroupInvited}}, f.descriptor(guest).Groups)

	require.NoError(t, membership(codec.IxAcceptInviteToGroup, guest))
	require.Equal(t, model.GroupJoined, f.descriptor(guest).Groups[0].State)

	post := codec.NewInstruction(codec.IxSendMessageToGroup).Bytes([]byte("yo")).Payload()
	require.NoError(t, f.send(guest, post, g0))

	require.NoError(t, membership(codec.IxLeaveGroup, guest))
	require.Error(t, f.send(guest, post, g0), "left members cannot post")

	data, ok := f.ledger.Account(g0)
	require.True(t, ok)
	g, err := codec.DecodeGroupDescriptor(data)
	require.NoError(t, err)
	require.Equal(t, owner, g.Owner)
	require.Equal(t, uint32(1), g.Length)
	require.Equal(t, guest, g.Messages[0].Sender)
	require.Equal(t, model.GroupLeft, g.Members[1].State)
	require.Len(t, f.descriptor(owner).Groups, 1)
}

func TestSendTransactionIsAtomic(t *testing.T) {
	f := newFixture(t)
	a := key(1)

	bh, err := f.ledger.GetLatestBlockhash(context.Background())
	require.NoError(t, err)
	tx := chain.NewTransaction(a, bh,
		chain.Instruction{
			ProgramID: address.DefaultProgramID,
			Accounts:  []chain.AccountMeta{{Pubkey: a, IsSigner: true}},
			Data:      codec.NewInstruction(codec.IxRegister).Payload(),
		},
		chain.Instruction{
			ProgramID: address.DefaultProgramID,
			Accounts:  []chain.AccountMeta{{Pubkey: a, IsSigner: true}},
			Data:      codec.NewInstruction(codec.IxRegister).Payload(),
		},
	)
	_, err = f.ledger.SendTransaction(context.Background(), tx)
	require.ErrorIs(t, err, ErrRejected)
	_, ok := f.ledger.Account(f.desc(a))
	require.False(t, ok)
}

func TestUnknownBlockhashAndProgram(t *testing.T) {
	f := newFixture(t)
	a := key(1)

	tx := chain.NewTransaction(a, model.Hash{0xff}, chain.Instruction{
		ProgramID: address.DefaultProgramID,
		Data:      codec.NewInstruction(codec.IxRegister).Payload(),
	})
	_, err := f.ledger.SendTransaction(context.Background(), tx)
	require.ErrorIs(t, err, ErrRejected)

	bh, err := f.ledger.GetLatestBlockhash(context.Background())
	require.NoError(t, err)
	tx = chain.NewTransaction(a, bh, chain.Instruction{ProgramID: key(9), Data: []byte{1}})
	_, err = f.ledger.SendTransaction(context.Background(), tx)
	require.ErrorIs(t, err, ErrRejected)
}

func TestSubscribedHandlesReceivePushes(t *testing.T) {
	f := newFixture(t)
	a := key(1)

	h := f.ledger.GetAccount(f.desc(a), true)
	require.NoError(t, h.Fetch(context.Background()))
	require.False(t, h.IsInitialized())

	pushes := 0
	h.OnUpdate(func(got chain.AccountHandle) {
		pushes++
		require.True(t, got.IsInitialized())
	})

	plain := f.ledger.GetAccount(f.desc(a), false)
	plain.OnUpdate(func(chain.AccountHandle) { t.Fatal("unsubscribed handle was pushed") })

	f.register(a)
	require.Equal(t, 1, pushes)
	require.True(t, h.IsInitialized())
	require.False(t, plain.IsInitialized())
}
