package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cherry_chat/internal/model"
	"cherry_chat/internal/service/server"
	"cherry_chat/internal/service/stem"
	"cherry_chat/internal/utils/log"

	"github.com/gdamore/tcell/v2"
	"github.com/gorilla/websocket"
	"github.com/rivo/tview"
	"github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"
)

const requestTimeout = 15 * time.Second

type (
	App struct {
		app     *tview.Application
		chats   *tview.List
		chatbox *tview.TextView
		input   *tview.InputField

		gateway *Gateway
		conn    *websocket.Conn

		mu       deadlock.Mutex
		identity model.PublicKey
		open     *model.PublicKey
		items    []stem.ChatListItem
	}
)

func NewApp(gateway *Gateway) *App {
	return &App{
		app:     tview.NewApplication(),
		gateway: gateway,
	}
}

func (c *App) Run(ctx context.Context) {
	status, err := c.gateway.Status(ctx)
	if err != nil {
		log.Fatal("get gateway status failed", zap.Error(err))
	}
	c.identity = status.Identity

	c.conn, err = c.gateway.Events()
	if err != nil {
		log.Fatal("open event stream failed", zap.Error(err))
	}
	defer c.conn.Close()

	items, err := c.gateway.Chats(ctx)
	if err != nil {
		log.Fatal("list chats failed", zap.Error(err))
	}
	c.items = items

	go c.listenOnEvents()
	c.renderUI(status)
}

// blocking function
func (c *App) renderUI(status *Status) {
	c.chats = tview.NewList().ShowSecondaryText(true)
	c.chats.SetBorder(true).SetTitle(" Chats ")
	c.chats.SetSelectedFunc(func(i int, _, _ string, _ rune) {
		c.mu.Lock()
		if i >= len(c.items) {
			c.mu.Unlock()
			return
		}
		peer := c.items[i].Pubkey
		c.mu.Unlock()
		go c.openChat(peer)
	})

	c.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.chatbox.SetBorder(true).SetTitle(fmt.Sprintf(" %s ", c.identity))

	c.input = tview.NewInputField().
		SetLabel("> ").
		SetFieldWidth(0)
	c.input.SetBorder(true).SetTitle(" /register /keys /invite /accept /reject /open ")

	c.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := c.input.GetText()
		if strings.TrimSpace(text) == "" {
			return
		}
		c.input.SetText("")
		go c.handle(text)
	})

	c.redrawChats()
	if !status.Registered {
		c.system("not registered yet, run /register")
	}
	if !status.Keys {
		c.system("encryption keys are not derived, invites are disabled")
	}

	right := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.chatbox, 0, 1, false).
		AddItem(c.input, 3, 0, true)
	layout := tview.NewFlex().
		AddItem(c.chats, 48, 0, false).
		AddItem(right, 0, 1, true)

	if err := c.app.SetRoot(layout, true).SetFocus(c.input).Run(); err != nil {
		log.Fatal("cannot init app", zap.Error(err))
	}
}

func (c *App) Stop() {
	c.app.Stop()
}

func (c *App) listenOnEvents() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug("event socket closed", zap.Error(err))
			c.system("[red]event stream closed[-]")
			return
		}

		var ev server.EventView
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Error("unmarshal event failed", zap.Error(err))
			continue
		}
		c.handleEvent(ev)
	}
}

func (c *App) handleEvent(ev server.EventView) {
	switch ev.Kind {
	case stem.EventLoaded, stem.EventChatsUpdated:
		c.mu.Lock()
		c.items = ev.Chats
		c.mu.Unlock()
		c.app.QueueUpdateDraw(c.redrawChats)
	case stem.EventStatusUpdated:
		if ev.Registered {
			c.system("registered")
		} else {
			c.system("descriptor closed")
		}
	case stem.EventChatUpdated:
		c.mu.Lock()
		open := c.open != nil && *c.open == ev.Peer
		c.mu.Unlock()
		if open && ev.Chat != nil {
			c.app.QueueUpdateDraw(func() { c.drawChat(ev.Peer, ev.Chat) })
		}
	}
}

// redrawChats must run on the UI goroutine.
func (c *App) redrawChats() {
	c.mu.Lock()
	items := append([]stem.ChatListItem{}, c.items...)
	c.mu.Unlock()

	c.chats.Clear()
	for _, item := range items {
		secondary := item.Status.String()
		if item.Last != nil {
			secondary = fmt.Sprintf("%s  %s", item.Last.Timestamp.Local().Format("15:04"), item.Last.Content)
		}
		c.chats.AddItem(shortKey(item.Pubkey), secondary, 0, nil)
	}
}

func shortKey(k model.PublicKey) string {
	s := k.String()
	if len(s) <= 12 {
		return s
	}
	return s[:6] + ".." + s[len(s)-4:]
}

// drawChat must run on the UI goroutine.
func (c *App) drawChat(peer model.PublicKey, chat *server.ChatView) {
	c.chatbox.Clear()
	c.chatbox.SetTitle(fmt.Sprintf(" Chat with %s ", peer))
	for _, m := range chat.Messages {
		who := "[green]" + shortKey(m.Sender) + ":[-]"
		if m.Sender == c.identity {
			who = "[yellow]You:[-]"
		}
		fmt.Fprintf(c.chatbox, "%s %s %s\n", m.Timestamp.Local().Format("15:04"), who, tview.Escape(m.Content))
	}
	c.chatbox.ScrollToEnd()
}

func (c *App) system(msg string) {
	c.app.QueueUpdateDraw(func() {
		fmt.Fprintf(c.chatbox, "[gray]* %s[-]\n", msg)
		c.chatbox.ScrollToEnd()
	})
}

func (c *App) openChat(peer model.PublicKey) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	chat, err := c.gateway.Chat(ctx, peer)
	if err != nil {
		c.system("[red]" + tview.Escape(err.Error()) + "[-]")
		return
	}
	c.mu.Lock()
	c.open = &peer
	c.mu.Unlock()

	if chat == nil {
		chat = &server.ChatView{}
	}
	c.app.QueueUpdateDraw(func() { c.drawChat(peer, chat) })
}

func (c *App) handle(line string) {
	cmd, err := parseCommand(line)
	if err != nil {
		c.system("[red]" + tview.Escape(err.Error()) + "[-]")
		return
	}
	if err := c.execute(cmd); err != nil {
		c.system("[red]" + tview.Escape(err.Error()) + "[-]")
	}
}

func (c *App) execute(cmd *command) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch cmd.name {
	case "help":
		c.system("/register | /keys | /invite <pubkey> <x25519 hex> [note] | /accept <pubkey> | /reject <pubkey> | /open <pubkey>")
	case "register":
		return c.gateway.Register(ctx)
	case "keys":
		key, err := c.gateway.Keys(ctx)
		if err != nil {
			return err
		}
		c.system("x25519 public key: " + key)
	case "invite":
		if err := c.gateway.Invite(ctx, cmd.peer, cmd.args[1], cmd.text); err != nil {
			return err
		}
		c.system("invited " + cmd.peer.String())
	case "accept", "reject":
		if err := c.gateway.Answer(ctx, cmd.peer, cmd.name == "accept"); err != nil {
			return err
		}
		c.system(cmd.name + "ed " + cmd.peer.String())
	case "open":
		c.openChat(cmd.peer)
	case "send":
		c.mu.Lock()
		open := c.open
		c.mu.Unlock()
		if open == nil {
			return fmt.Errorf("no chat is open, use /open <pubkey>")
		}
		return c.gateway.Send(ctx, *open, cmd.text)
	}
	return nil
}
