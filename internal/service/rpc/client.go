package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"cherry_chat/internal/chain"
	"cherry_chat/internal/model"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sasha-s/go-deadlock"
)

const Commitment = "confirmed"

var ErrRPC = errors.New("rpc error")

type (
	// Client talks JSON-RPC to a validator over HTTP and keeps account subscriptions alive over a
	// websocket. It implements chain.Transport and chain.Submitter.
	Client struct {
		httpURL string
		wsURL   string
		http    *http.Client
		nextID  atomic.Uint64

		mu      deadlock.Mutex
		conn    *websocket.Conn
		handles map[uuid.UUID]*handle
		// pending maps an in-flight accountSubscribe request id to its handle
		pending map[uint64]uuid.UUID
		// subs maps a server subscription id to its handle
		subs map[uint64]uuid.UUID

		writeMu deadlock.Mutex
	}

	Option func(*Client)

	request struct {
		JSONRPC string `json:"jsonrpc"`
		ID      uint64 `json:"id"`
		Method  string `json:"method"`
		Params  []any  `json:"params"`
	}

	response struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      uint64          `json:"id"`
		Result  json.RawMessage `json:"result"`
		Error   *rpcError       `json:"error"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
	}

	rpcError struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}

	accountValue struct {
		Data     []string `json:"data"`
		Lamports uint64   `json:"lamports"`
		Owner    string   `json:"owner"`
	}

	accountResult struct {
		Value *accountValue `json:"value"`
	}

	blockhashResult struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}

	notification struct {
		Result       accountResult `json:"result"`
		Subscription uint64        `json:"subscription"`
	}
)

func (e *rpcError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func NewClient(httpURL, wsURL string, opts ...Option) *Client {
	c := &Client{
		httpURL: httpURL,
		wsURL:   wsURL,
		http:    http.DefaultClient,
		handles: make(map[uuid.UUID]*handle),
		pending: make(map[uint64]uuid.UUID),
		subs:    make(map[uint64]uuid.UUID),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) call(ctx context.Context, method string, result any, params ...any) error {
	body, err := json.Marshal(request{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.httpURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: http status %d", ErrRPC, method, resp.StatusCode)
	}
	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if r.Error != nil {
		return fmt.Errorf("%w: %s: %v", ErrRPC, method, r.Error)
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(r.Result, result)
}

func accountConfig() map[string]string {
	return map[string]string{"encoding": "base64", "commitment": Commitment}
}

// decodeAccount returns the raw data of a getAccountInfo or notification value, ok=false for a
// missing account.
func decodeAccount(v *accountValue) ([]byte, bool, error) {
	if v == nil {
		return nil, false, nil
	}
	if len(v.Data) != 2 || v.Data[1] != "base64" {
		return nil, false, fmt.Errorf("unexpected account data encoding %v", v.Data)
	}
	data, err := base64.StdEncoding.DecodeString(v.Data[0])
	if err != nil {
		return nil, false, fmt.Errorf("decode account data: %w", err)
	}
	return data, true, nil
}

func (c *Client) getAccountInfo(ctx context.Context, addr model.PublicKey) ([]byte, bool, error) {
	var res accountResult
	if err := c.call(ctx, "getAccountInfo", &res, addr.String(), accountConfig()); err != nil {
		return nil, false, err
	}
	return decodeAccount(res.Value)
}

func (c *Client) GetLatestBlockhash(ctx context.Context) (model.Hash, error) {
	var res blockhashResult
	if err := c.call(ctx, "getLatestBlockhash", &res, map[string]string{"commitment": Commitment}); err != nil {
		return model.Hash{}, err
	}
	return model.HashFromBase58(res.Value.Blockhash)
}

// SendTransaction submits a fully signed transaction and returns its signature.
func (c *Client) SendTransaction(ctx context.Context, tx *chain.Transaction) (string, error) {
	raw, err := tx.Serialize()
	if err != nil {
		return "", err
	}
	var sig string
	err = c.call(ctx, "sendTransaction", &sig,
		base64.StdEncoding.EncodeToString(raw),
		map[string]string{"encoding": "base64", "preflightCommitment": Commitment},
	)
	return sig, err
}

func (c *Client) GetAccount(addr model.PublicKey, subscribe bool) chain.AccountHandle {
	h := &handle{id: uuid.New(), client: c, address: addr}
	if !subscribe {
		return h
	}

	c.mu.Lock()
	c.handles[h.id] = h
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.subscribe(conn, h)
	}
	return h
}

var (
	_ chain.Transport = (*Client)(nil)
	_ chain.Submitter = (*Client)(nil)
)
