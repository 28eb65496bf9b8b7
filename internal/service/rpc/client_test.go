package rpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cherry_chat/internal/chain"
	"cherry_chat/internal/model"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	t        *testing.T
	accounts map[string][]byte
	sent     []string
	push     chan []byte
}

func (n *fakeNode) reply(w http.ResponseWriter, id uint64, result any) {
	require.NoError(n.t, json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": id, "result": result}))
}

func accountJSON(data []byte) any {
	if data == nil {
		return nil
	}
	return map[string]any{
		"data":     []string{base64.StdEncoding.EncodeToString(data), "base64"},
		"lamports": 1,
		"owner":    "11111111111111111111111111111111",
	}
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/ws" {
		n.serveWS(w, r)
		return
	}

	var req struct {
		ID     uint64            `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	require.NoError(n.t, json.NewDecoder(r.Body).Decode(&req))

	switch req.Method {
	case "getAccountInfo":
		var addr string
		require.NoError(n.t, json.Unmarshal(req.Params[0], &addr))
		n.reply(w, req.ID, map[string]any{"context": map[string]any{"slot": 1}, "value": accountJSON(n.accounts[addr])})
	case "getLatestBlockhash":
		n.reply(w, req.ID, map[string]any{"value": map[string]any{
			"blockhash":            model.Hash{7}.String(),
			"lastValidBlockHeight": 10,
		}})
	case "sendTransaction":
		var raw string
		require.NoError(n.t, json.Unmarshal(req.Params[0], &raw))
		n.sent = append(n.sent, raw)
		n.reply(w, req.ID, "sig")
	default:
		require.NoError(n.t, json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": req.ID,
			"error": map[string]any{"code": -32601, "message": "method not found"},
		}))
	}
}

func (n *fakeNode) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
	require.NoError(n.t, err)
	defer conn.Close()

	var req struct {
		ID     uint64 `json:"id"`
		Method string `json:"method"`
	}
	require.NoError(n.t, conn.ReadJSON(&req))
	require.Equal(n.t, "accountSubscribe", req.Method)
	require.NoError(n.t, conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": 42}))

	for data := range n.push {
		require.NoError(n.t, conn.WriteJSON(map[string]any{
			"jsonrpc": "2.0",
			"method":  "accountNotification",
			"params": map[string]any{
				"result":       map[string]any{"context": map[string]any{"slot": 2}, "value": accountJSON(data)},
				"subscription": 42,
			},
		}))
	}
}

func newNode(t *testing.T) (*fakeNode, *Client) {
	node := &fakeNode{t: t, accounts: map[string][]byte{}, push: make(chan []byte)}
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(node.push) })
	ws := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return node, NewClient(srv.URL, ws)
}

func TestFetchAccount(t *testing.T) {
	node, client := newNode(t)
	var addr model.PublicKey
	addr[0] = 1
	node.accounts[addr.String()] = []byte{1, 2, 3}

	h := client.GetAccount(addr, false)
	require.NoError(t, h.Fetch(context.Background()))
	require.True(t, h.IsInitialized())
	require.Equal(t, []byte{1, 2, 3}, h.Data())

	missing := client.GetAccount(model.PublicKey{9}, false)
	require.NoError(t, missing.Fetch(context.Background()))
	require.False(t, missing.IsInitialized())
}

func TestBlockhashAndSend(t *testing.T) {
	node, client := newNode(t)
	ctx := context.Background()

	bh, err := client.GetLatestBlockhash(ctx)
	require.NoError(t, err)
	require.Equal(t, model.Hash{7}, bh)

	payer := model.PublicKey{1}
	tx := chain.NewTransaction(payer, bh, chain.Instruction{
		ProgramID: model.PublicKey{2},
		Accounts:  []chain.AccountMeta{{Pubkey: payer, IsSigner: true}},
		Data:      []byte{1},
	})
	_, err = client.SendTransaction(ctx, tx)
	require.ErrorIs(t, err, chain.ErrMissingSignature)

	require.NoError(t, tx.AddSignature(payer, make([]byte, chain.SignatureSize)))
	sig, err := client.SendTransaction(ctx, tx)
	require.NoError(t, err)
	require.Equal(t, "sig", sig)

	raw, err := tx.Serialize()
	require.NoError(t, err)
	require.Equal(t, []string{base64.StdEncoding.EncodeToString(raw)}, node.sent)
}

func TestRPCErrorSurfaces(t *testing.T) {
	_, client := newNode(t)
	err := client.call(context.Background(), "nope", nil)
	require.ErrorIs(t, err, ErrRPC)
}

func TestSubscriptionPushes(t *testing.T) {
	node, client := newNode(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := client.GetAccount(model.PublicKey{5}, true)
	got := make(chan []byte, 1)
	h.OnUpdate(func(a chain.AccountHandle) { got <- a.Data() })

	go client.Run(ctx)
	node.push <- []byte{4, 5}

	select {
	case data := <-got:
		require.Equal(t, []byte{4, 5}, data)
	case <-time.After(5 * time.Second):
		t.Fatal("no account notification")
	}
	require.True(t, h.IsInitialized())
}

func TestSubscribeOncePerConnection(t *testing.T) {
	_, client := newNode(t)
	h := client.GetAccount(model.PublicKey{5}, true).(*handle)

	first, second := &websocket.Conn{}, &websocket.Conn{}
	client.mu.Lock()
	client.conn = first
	client.pending = make(map[uint64]uuid.UUID)
	client.mu.Unlock()

	_, ok := client.claimSubscription(first, h)
	require.True(t, ok)
	// the reconnect replay reaching a handle GetAccount already subscribed
	_, ok = client.claimSubscription(first, h)
	require.False(t, ok)
	_, ok = client.claimSubscription(second, h)
	require.False(t, ok, "stale connection")

	client.mu.Lock()
	client.conn = second
	client.mu.Unlock()
	_, ok = client.claimSubscription(second, h)
	require.True(t, ok)

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.pending, 2)
}
