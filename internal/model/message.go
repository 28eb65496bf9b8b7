package model

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"
)

type (
	Message struct {
		Sender  PublicKey `json:"sender"`
		Content []byte    `json:"content"`
		// Unix seconds. Only the low 4 bytes of the stored 8 byte field are meaningful.
		Timestamp uint32 `json:"timestamp"`
		// Position in the owning log, filled on decode.
		Index uint32 `json:"index"`
	}

	Chat struct {
		Wallets  [2]PublicKey `json:"wallets"`
		Length   uint32       `json:"length"`
		Messages []Message    `json:"messages"`
	}

	GroupDescriptor struct {
		Title       string            `json:"title"`
		Description string            `json:"description"`
		ImageURL    string            `json:"image_url"`
		Owner       PublicKey         `json:"owner"`
		GroupType   uint8             `json:"group_type"`
		State       uint8             `json:"state"`
		Members     []GroupMembership `json:"members"`
		Length      uint32            `json:"length"`
		Messages    []Message         `json:"messages"`
	}
)

// ID is a content address over sender, content and the stored timestamp field.
func (m Message) ID() string {
	var ts [8]byte
	binary.LittleEndian.PutUint32(ts[:4], m.Timestamp)

	h := sha256.New()
	h.Write(m.Sender[:])
	h.Write(m.Content)
	h.Write(ts[:])
	return hex.EncodeToString(h.Sum(nil))
}

func (m Message) Time() time.Time {
	return time.Unix(int64(m.Timestamp), 0).UTC()
}

func (c *Chat) Last() *Message {
	if c == nil || len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

func (g *GroupDescriptor) Last() *Message {
	if g == nil || len(g.Messages) == 0 {
		return nil
	}
	return &g.Messages[len(g.Messages)-1]
}
