package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cherry_chat/internal/chain"
	"cherry_chat/internal/model"
	"cherry_chat/internal/utils/log"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"
)

const reconnectDelay = 2 * time.Second

type handle struct {
	id      uuid.UUID
	client  *Client
	address model.PublicKey
	// subscribedOn is the connection h was last subscribed on. Guarded by client.mu.
	subscribedOn *websocket.Conn

	mu          deadlock.Mutex
	data        []byte
	initialized bool
	callbacks   []func(chain.AccountHandle)
}

func (h *handle) Address() model.PublicKey {
	return h.address
}

func (h *handle) Fetch(ctx context.Context) error {
	data, ok, err := h.client.getAccountInfo(ctx, h.address)
	if err != nil {
		return err
	}
	h.set(data, ok)
	return nil
}

func (h *handle) set(data []byte, ok bool) {
	h.mu.Lock()
	h.data, h.initialized = data, ok
	h.mu.Unlock()
}

func (h *handle) Data() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.data
}

func (h *handle) IsInitialized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.initialized
}

func (h *handle) OnUpdate(cb func(chain.AccountHandle)) {
	h.mu.Lock()
	h.callbacks = append(h.callbacks, cb)
	h.mu.Unlock()
}

func (h *handle) push(data []byte, ok bool) {
	h.mu.Lock()
	h.data, h.initialized = data, ok
	callbacks := append([]func(chain.AccountHandle){}, h.callbacks...)
	h.mu.Unlock()

	for _, cb := range callbacks {
		cb(h)
	}
}

// Run keeps the websocket open until ctx is done, reconnecting and resubscribing every handle
// after a failure.
func (c *Client) Run(ctx context.Context) {
	for {
		err := c.serve(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Error("account subscription socket failed", zap.String("url", c.wsURL), zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Client) serve(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	c.pending = make(map[uint64]uuid.UUID)
	c.subs = make(map[uint64]uuid.UUID)
	handles := make([]*handle, 0, len(c.handles))
	for _, h := range c.handles {
		handles = append(handles, h)
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for _, h := range handles {
		c.subscribe(conn, h)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(data)
	}
}

// subscribe sends accountSubscribe for h unless conn is stale or h is already subscribed on it.
// GetAccount and the replay in serve may both reach the same handle.
func (c *Client) subscribe(conn *websocket.Conn, h *handle) {
	id, ok := c.claimSubscription(conn, h)
	if !ok {
		return
	}

	req := request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "accountSubscribe",
		Params:  []any{h.address.String(), accountConfig()},
	}
	c.writeMu.Lock()
	err := conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		log.Error("account subscribe failed", zap.String("address", h.address.String()), zap.Error(err))
	}
}

func (c *Client) claimSubscription(conn *websocket.Conn, h *handle) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn || h.subscribedOn == conn {
		return 0, false
	}
	h.subscribedOn = conn
	id := c.nextID.Add(1)
	c.pending[id] = h.id
	return id, true
}

func (c *Client) dispatch(data []byte) {
	var msg response
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn("malformed subscription message", zap.Error(err))
		return
	}

	if msg.Method == "" {
		c.mu.Lock()
		hid, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		if !ok {
			return
		}
		if msg.Error != nil {
			log.Error("account subscribe rejected", zap.String("handle", hid.String()), zap.Error(msg.Error))
			return
		}
		var sub uint64
		if err := json.Unmarshal(msg.Result, &sub); err != nil {
			log.Warn("malformed subscription id", zap.Error(err))
			return
		}
		c.mu.Lock()
		c.subs[sub] = hid
		c.mu.Unlock()
		log.Debug("account subscribed", zap.String("handle", hid.String()), zap.Uint64("subscription", sub))
		return
	}

	if msg.Method != "accountNotification" {
		return
	}
	var n notification
	if err := json.Unmarshal(msg.Params, &n); err != nil {
		log.Warn("malformed account notification", zap.Error(err))
		return
	}
	account, ok, err := decodeAccount(n.Result.Value)
	if err != nil {
		log.Warn("malformed account notification", zap.Uint64("subscription", n.Subscription), zap.Error(err))
		return
	}

	c.mu.Lock()
	h := c.handles[c.subs[n.Subscription]]
	c.mu.Unlock()
	if h != nil {
		h.push(account, ok)
	}
}
