package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"cherry_chat/internal/model"
	"cherry_chat/internal/service/server"
	"cherry_chat/internal/service/stem"

	"github.com/gorilla/websocket"
)

type (
	// Gateway is the HTTP client of a running gateway.
	Gateway struct {
		host string
		http *http.Client
	}

	Status struct {
		Identity   model.PublicKey `json:"identity"`
		Descriptor model.PublicKey `json:"descriptor"`
		Loaded     bool            `json:"loaded"`
		Registered bool            `json:"registered"`
		Keys       bool            `json:"keys"`
	}

	apiError struct {
		Status  int
		Message string `json:"error"`
	}
)

func (e *apiError) Error() string {
	return fmt.Sprintf("gateway: %d: %s", e.Status, e.Message)
}

func NewGateway(host string) *Gateway {
	return &Gateway{host: host, http: http.DefaultClient}
}

func (g *Gateway) url(scheme, path string) string {
	u := url.URL{
		Scheme: scheme,
		Host:   g.host,
		Path:   path,
	}
	return u.String()
}

func (g *Gateway) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.url("http", path), reader)
	if err != nil {
		return err
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		e := &apiError{Status: resp.StatusCode}
		json.NewDecoder(resp.Body).Decode(e)
		return e
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (g *Gateway) Status(ctx context.Context) (*Status, error) {
	var s Status
	if err := g.do(ctx, http.MethodGet, "/status", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (g *Gateway) Keys(ctx context.Context) (string, error) {
	var out struct {
		X25519Public string `json:"x25519_public"`
	}
	if err := g.do(ctx, http.MethodGet, "/keys", nil, &out); err != nil {
		return "", err
	}
	return out.X25519Public, nil
}

func (g *Gateway) Register(ctx context.Context) error {
	return g.do(ctx, http.MethodPost, "/register", nil, nil)
}

func (g *Gateway) Chats(ctx context.Context) ([]stem.ChatListItem, error) {
	var out []stem.ChatListItem
	err := g.do(ctx, http.MethodGet, "/chats", nil, &out)
	return out, err
}

// Chat returns nil when the chat account does not exist yet.
func (g *Gateway) Chat(ctx context.Context, peer model.PublicKey) (*server.ChatView, error) {
	var out server.ChatView
	err := g.do(ctx, http.MethodGet, "/chats/"+peer.String(), nil, &out)
	if e, ok := err.(*apiError); ok && e.Status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (g *Gateway) Send(ctx context.Context, peer model.PublicKey, content string) error {
	return g.do(ctx, http.MethodPost, "/chats/"+peer.String()+"/messages", map[string]string{"content": content}, nil)
}

func (g *Gateway) Invite(ctx context.Context, peer model.PublicKey, x25519Public, note string) error {
	body := map[string]string{"x25519_public": strings.ToLower(x25519Public), "note": note}
	return g.do(ctx, http.MethodPost, "/invites/"+peer.String(), body, nil)
}

func (g *Gateway) Answer(ctx context.Context, peer model.PublicKey, accept bool) error {
	action := "reject"
	if accept {
		action = "accept"
	}
	return g.do(ctx, http.MethodPost, "/invites/"+peer.String()+"/"+action, nil, nil)
}

func (g *Gateway) Events() (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(g.url("ws", "/events"), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
