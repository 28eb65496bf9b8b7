package server

import (
	"time"

	"cherry_chat/internal/model"
)

type (
	MessageView struct {
		ID        string          `json:"id"`
		Index     uint32          `json:"index"`
		Sender    model.PublicKey `json:"sender"`
		Content   string          `json:"content"`
		Timestamp time.Time       `json:"timestamp"`
	}

	ChatView struct {
		Wallets  [2]model.PublicKey `json:"wallets"`
		Length   uint32             `json:"length"`
		Messages []MessageView      `json:"messages"`
	}

	GroupView struct {
		Title       string                  `json:"title"`
		Description string                  `json:"description"`
		ImageURL    string                  `json:"image_url"`
		Owner       model.PublicKey         `json:"owner"`
		GroupType   uint8                   `json:"group_type"`
		Members     []model.GroupMembership `json:"members"`
		Length      uint32                  `json:"length"`
		Messages    []MessageView           `json:"messages"`
	}
)

func newMessageViews(messages []model.Message) []MessageView {
	out := make([]MessageView, 0, len(messages))
	for _, m := range messages {
		out = append(out, MessageView{
			ID:        m.ID(),
			Index:     m.Index,
			Sender:    m.Sender,
			Content:   string(m.Content),
			Timestamp: m.Time(),
		})
	}
	return out
}

func newChatView(c *model.Chat) *ChatView {
	return &ChatView{
		Wallets:  c.Wallets,
		Length:   c.Length,
		Messages: newMessageViews(c.Messages),
	}
}

func newGroupView(g *model.GroupDescriptor) *GroupView {
	return &GroupView{
		Title:       g.Title,
		Description: g.Description,
		ImageURL:    g.ImageURL,
		Owner:       g.Owner,
		GroupType:   g.GroupType,
		Members:     g.Members,
		Length:      g.Length,
		Messages:    newMessageViews(g.Messages),
	}
}
