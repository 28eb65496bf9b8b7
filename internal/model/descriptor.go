package model

import "fmt"

// PeerStatus is directional: the inviter sees Invited, the invitee sees Requested.
type PeerStatus uint8

const (
	PeerInvited PeerStatus = iota
	PeerRequested
	PeerAccepted
	PeerRejected
)

func (s PeerStatus) String() string {
	switch s {
	case PeerInvited:
		return "invited"
	case PeerRequested:
		return "requested"
	case PeerAccepted:
		return "accepted"
	case PeerRejected:
		return "rejected"
	}
	return fmt.Sprintf("peer_status(%d)", uint8(s))
}

func (s PeerStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *PeerStatus) UnmarshalText(text []byte) error {
	for v := PeerInvited; v <= PeerRejected; v++ {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown peer status %q", text)
}

type GroupState uint8

const (
	GroupInvited GroupState = iota
	GroupJoined
	GroupRejected
	GroupLeft
	GroupKicked
)

func (s GroupState) String() string {
	switch s {
	case GroupInvited:
		return "invited"
	case GroupJoined:
		return "joined"
	case GroupRejected:
		return "rejected"
	case GroupLeft:
		return "left"
	case GroupKicked:
		return "kicked"
	}
	return fmt.Sprintf("group_state(%d)", uint8(s))
}

func (s GroupState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *GroupState) UnmarshalText(text []byte) error {
	for v := GroupInvited; v <= GroupKicked; v++ {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown group state %q", text)
}

type (
	Peer struct {
		Pubkey PublicKey  `json:"pubkey"`
		Status PeerStatus `json:"status"`
	}

	GroupMembership struct {
		Address PublicKey  `json:"address"`
		State   GroupState `json:"state"`
	}

	// Descriptor is an identity's root protocol record.
	Descriptor struct {
		Peers  []Peer            `json:"peers"`
		Groups []GroupMembership `json:"groups"`
	}

	// UserAccount is a one-shot view of another identity, used to check a candidate before inviting.
	UserAccount struct {
		Pubkey     PublicKey   `json:"pubkey"`
		Descriptor PublicKey   `json:"descriptor"`
		Activated  bool        `json:"activated"`
		Registered bool        `json:"registered"`
		Peers      []PublicKey `json:"peers"`
		Groups     []PublicKey `json:"groups"`
	}
)

const (
	GroupTypePublic  uint8 = 0
	GroupTypePrivate uint8 = 1
)
