package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cherry_chat/internal/model"
	"cherry_chat/internal/service/memnet"
	"cherry_chat/internal/service/stem"
	"cherry_chat/internal/service/wallet"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type memBacklog struct {
	mu     sync.Mutex
	values map[string][]string
	// hold, when set, blocks Append until it is closed.
	hold chan struct{}
}

func (m *memBacklog) Append(_ context.Context, key string, _ int64, _ time.Duration, values ...any) error {
	m.mu.Lock()
	hold := m.hold
	m.mu.Unlock()
	if hold != nil {
		<-hold
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range values {
		m.values[key] = append(m.values[key], string(v.([]byte)))
	}
	return nil
}

func (m *memBacklog) Range(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.values[key]...), nil
}

func (m *memBacklog) len(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values[key])
}

type node struct {
	signer *wallet.Signer
	engine *stem.Engine
}

func newNode(t *testing.T, ledger *memnet.Ledger, seed byte) *node {
	s := make([]byte, 32)
	s[0] = seed
	signer, err := wallet.NewSignerFromSeed(s)
	require.NoError(t, err)
	e, err := stem.New(signer.PublicKey(), ledger, true)
	require.NoError(t, err)
	require.NoError(t, e.Init(context.Background()))
	return &node{signer: signer, engine: e}
}

type gateway struct {
	t       *testing.T
	server  *HttpServer
	srv     *httptest.Server
	backlog *memBacklog
}

func newGateway(t *testing.T, ledger *memnet.Ledger, n *node) *gateway {
	backlog := &memBacklog{values: map[string][]string{}}
	s := NewHttpServer(n.engine, n.signer, ledger, backlog)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	t.Cleanup(s.Close)
	return &gateway{t: t, server: s, srv: srv, backlog: backlog}
}

func (g *gateway) do(method, path string, body any) (int, map[string]any) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(g.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, g.srv.URL+path, &buf)
	require.NoError(g.t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(g.t, err)
	defer resp.Body.Close()

	var out any
	require.NoError(g.t, json.NewDecoder(resp.Body).Decode(&out))
	if m, ok := out.(map[string]any); ok {
		return resp.StatusCode, m
	}
	return resp.StatusCode, map[string]any{"list": out}
}

func TestGatewayChatFlow(t *testing.T) {
	ledger := memnet.NewLedger()
	a := newNode(t, ledger, 1)
	b := newNode(t, ledger, 2)
	gw := newGateway(t, ledger, a)
	ctx := context.Background()

	code, body := gw.do(http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, false, body["registered"])
	require.Equal(t, a.signer.PublicKey().String(), body["identity"])

	code, _ = gw.do(http.MethodPost, "/register", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = gw.do(http.MethodPost, "/register", nil)
	require.Equal(t, http.StatusBadRequest, code)

	code, body = gw.do(http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["registered"])

	tx, err := b.engine.CreateRegisterTx(ctx)
	require.NoError(t, err)
	require.NoError(t, b.signer.SignTransaction(ctx, tx))
	_, err = ledger.SendTransaction(ctx, tx)
	require.NoError(t, err)
	kmB, err := b.engine.DeriveKeys(ctx, b.signer)
	require.NoError(t, err)

	peer := b.signer.PublicKey().String()
	invite := map[string]string{"x25519_public": hex.EncodeToString(kmB.X25519Public[:]), "note": "hey"}
	code, _ = gw.do(http.MethodPost, "/invites/"+peer, invite)
	require.Equal(t, http.StatusBadRequest, code, "keys not derived yet")

	code, _ = gw.do(http.MethodGet, "/keys", nil)
	require.Equal(t, http.StatusNotFound, code)
	_, err = a.engine.DeriveKeys(ctx, a.signer)
	require.NoError(t, err)
	code, body = gw.do(http.MethodGet, "/keys", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["x25519_public"], 64)

	code, body = gw.do(http.MethodPost, "/invites/"+peer, invite)
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, body["signature"])

	code, body = gw.do(http.MethodGet, "/chats", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["list"], 1)

	code, _ = gw.do(http.MethodGet, "/chats/"+peer, nil)
	require.Equal(t, http.StatusNotFound, code)

	tx, err = b.engine.CreateAcceptTx(ctx, a.signer.PublicKey())
	require.NoError(t, err)
	require.NoError(t, b.signer.SignTransaction(ctx, tx))
	_, err = ledger.SendTransaction(ctx, tx)
	require.NoError(t, err)

	code, _ = gw.do(http.MethodPost, "/chats/"+peer+"/messages", map[string]string{"content": "hi"})
	require.Equal(t, http.StatusOK, code)

	code, body = gw.do(http.MethodGet, "/chats/"+peer, nil)
	require.Equal(t, http.StatusOK, code)
	messages := body["messages"].([]any)
	require.Len(t, messages, 1)
	require.Equal(t, "hi", messages[0].(map[string]any)["content"])

	code, body = gw.do(http.MethodGet, "/users/"+peer, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["registered"])

	key := "events:" + a.signer.PublicKey().String()
	require.Eventually(t, func() bool {
		return gw.backlog.len(key) > 0
	}, time.Second, 10*time.Millisecond)
}

func TestGatewayRejectsBadInput(t *testing.T) {
	ledger := memnet.NewLedger()
	a := newNode(t, ledger, 1)
	gw := newGateway(t, ledger, a)

	code, _ := gw.do(http.MethodGet, "/chats/not-a-key", nil)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = gw.do(http.MethodGet, "/chats/"+model.PublicKey{3}.String(), nil)
	require.Equal(t, http.StatusConflict, code, "not registered")

	code, _ = gw.do(http.MethodPost, "/register", nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = gw.do(http.MethodPost, "/invites/"+model.PublicKey{3}.String(), map[string]string{"x25519_public": "zz"})
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = gw.do(http.MethodPost, "/groups", map[string]any{"title": ""})
	require.Equal(t, http.StatusBadRequest, code)
}

func TestGatewayGroups(t *testing.T) {
	ledger := memnet.NewLedger()
	a := newNode(t, ledger, 1)
	gw := newGateway(t, ledger, a)

	code, _ := gw.do(http.MethodPost, "/register", nil)
	require.Equal(t, http.StatusOK, code)

	code, body := gw.do(http.MethodPost, "/groups", map[string]any{"type": 0, "title": "lobby"})
	require.Equal(t, http.StatusOK, code)
	addr := body["address"].(string)

	code, _ = gw.do(http.MethodPost, "/groups/"+addr+"/messages", map[string]string{"content": "welcome"})
	require.Equal(t, http.StatusOK, code)

	code, body = gw.do(http.MethodGet, "/groups/"+addr, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "lobby", body["title"])
	require.Len(t, body["messages"], 1)

	code, _ = gw.do(http.MethodPost, "/groups/"+addr+"/leave", nil)
	require.Equal(t, http.StatusOK, code)

	code, body = gw.do(http.MethodGet, "/groups", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "left", body["list"].([]any)[0].(map[string]any)["state"])
}

func TestEventsSocket(t *testing.T) {
	ledger := memnet.NewLedger()
	a := newNode(t, ledger, 1)
	gw := newGateway(t, ledger, a)

	url := "ws" + strings.TrimPrefix(gw.srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// the handler registers the socket right after the upgrade
	require.Eventually(t, func() bool {
		gw.server.mu.Lock()
		defer gw.server.mu.Unlock()
		return len(gw.server.conns) == 1
	}, time.Second, 10*time.Millisecond)

	code, _ := gw.do(http.MethodPost, "/register", nil)
	require.Equal(t, http.StatusOK, code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev map[string]any
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, string(stem.EventStatusUpdated), ev["kind"])
	require.Equal(t, true, ev["registered"])
}

func (g *gateway) dialEvents() *websocket.Conn {
	url := "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(g.t, err)
	g.t.Cleanup(func() { conn.Close() })

	require.Eventually(g.t, func() bool {
		g.server.mu.Lock()
		defer g.server.mu.Unlock()
		return len(g.server.conns) > 0
	}, time.Second, 10*time.Millisecond)
	return conn
}

func TestSlowBacklogDoesNotStallEngine(t *testing.T) {
	ledger := memnet.NewLedger()
	a := newNode(t, ledger, 1)
	gw := newGateway(t, ledger, a)
	conn := gw.dialEvents()

	hold := make(chan struct{})
	gw.backlog.mu.Lock()
	gw.backlog.hold = hold
	gw.backlog.mu.Unlock()

	// the register push reaches the observer on the submitting goroutine
	done := make(chan int, 1)
	go func() {
		code, _ := gw.do(http.MethodPost, "/register", nil)
		done <- code
	}()
	select {
	case code := <-done:
		require.Equal(t, http.StatusOK, code)
	case <-time.After(5 * time.Second):
		close(hold)
		t.Fatal("register blocked on the event backlog")
	}
	registered, err := a.engine.IsRegistered()
	require.NoError(t, err)
	require.True(t, registered)

	close(hold)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev map[string]any
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, string(stem.EventStatusUpdated), ev["kind"])
}

