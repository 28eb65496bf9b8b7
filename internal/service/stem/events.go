package stem

import (
	"cherry_chat/internal/model"
)

type EventKind string

const (
	EventLoaded        EventKind = "loaded"
	EventStatusUpdated EventKind = "status-updated"
	EventChatsUpdated  EventKind = "chats-updated"
	EventGroupsUpdated EventKind = "groups-updated"
	EventChatUpdated   EventKind = "chat-updated"
	EventGroupUpdated  EventKind = "group-updated"
)

type (
	Event struct {
		Kind       EventKind              `json:"kind"`
		Registered bool                   `json:"registered"`
		Chats      []ChatListItem         `json:"chats,omitempty"`
		Groups     []GroupListItem        `json:"groups,omitempty"`
		Peer       model.PublicKey        `json:"peer,omitzero"`
		Chat       *model.Chat            `json:"chat,omitempty"`
		Address    model.PublicKey        `json:"address,omitzero"`
		Group      *model.GroupDescriptor `json:"group,omitempty"`
	}

	// Observer receives engine events. HandleEvent runs on the goroutine that produced the change
	// (an Init call or a transport push) and must not block.
	Observer interface {
		HandleEvent(Event)
	}

	// ObserverFunc adapts a function to Observer.
	ObserverFunc func(Event)
)

func (f ObserverFunc) HandleEvent(ev Event) {
	if f != nil {
		f(ev)
	}
}

// Observe registers o and returns a function that removes it.
func (e *Engine) Observe(o Observer) func() {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()

	id := e.nextObserver
	e.nextObserver++
	e.observers[id] = o

	return func() {
		e.obsMu.Lock()
		defer e.obsMu.Unlock()
		delete(e.observers, id)
	}
}

func (e *Engine) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	e.obsMu.RLock()
	observers := make([]Observer, 0, len(e.observers))
	for _, o := range e.observers {
		observers = append(observers, o)
	}
	e.obsMu.RUnlock()

	for _, ev := range events {
		for _, o := range observers {
			o.HandleEvent(ev)
		}
	}
}
