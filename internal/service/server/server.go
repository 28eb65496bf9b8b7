package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cherry_chat/internal/chain"
	"cherry_chat/internal/model"
	"cherry_chat/internal/protocol/codec"
	"cherry_chat/internal/service/stem"
	"cherry_chat/internal/utils/log"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"
)

type (
	// Backlog keeps the latest engine events so a client connecting to /events can catch up.
	Backlog interface {
		Append(ctx context.Context, key string, limit int64, ttl time.Duration, values ...any) error
		Range(ctx context.Context, key string) ([]string, error)
	}

	// HttpServer exposes one engine and its wallet over HTTP and streams engine events to
	// websocket clients.
	HttpServer struct {
		engine    *stem.Engine
		signer    chain.Signer
		submitter chain.Submitter
		backlog   Backlog

		mu    deadlock.Mutex
		conns map[uuid.UUID]*eventConn

		queue     chan []byte
		done      chan struct{}
		closeOnce sync.Once
		unobserve func()
	}

	// eventConn is one /events client. send is closed once the client is dropped.
	eventConn struct {
		id   uuid.UUID
		conn *websocket.Conn
		send chan []byte
	}
)

func NewHttpServer(engine *stem.Engine, signer chain.Signer, submitter chain.Submitter, backlog Backlog) *HttpServer {
	s := &HttpServer{
		engine:    engine,
		signer:    signer,
		submitter: submitter,
		backlog:   backlog,
		conns:     make(map[uuid.UUID]*eventConn),
		queue:     make(chan []byte, queueSize),
		done:      make(chan struct{}),
	}
	s.unobserve = engine.Observe(stem.ObserverFunc(s.broadcast))
	go s.publishLoop()
	return s
}

// Close stops forwarding engine events and disconnects every events client.
func (s *HttpServer) Close() {
	s.closeOnce.Do(func() {
		s.unobserve()
		close(s.done)

		s.mu.Lock()
		conns := make([]*eventConn, 0, len(s.conns))
		for _, ec := range s.conns {
			conns = append(conns, ec)
		}
		s.mu.Unlock()
		for _, ec := range conns {
			s.drop(ec)
		}
	})
}

func (s *HttpServer) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/status", s.GetStatus()).Methods(http.MethodGet)
	r.HandleFunc("/keys", s.GetKeys()).Methods(http.MethodGet)
	r.HandleFunc("/register", s.Register()).Methods(http.MethodPost)

	r.HandleFunc("/chats", s.ListChats()).Methods(http.MethodGet)
	r.HandleFunc("/chats/{peer}", s.GetChat()).Methods(http.MethodGet)
	r.HandleFunc("/chats/{peer}/messages", s.SendMessage()).Methods(http.MethodPost)

	r.HandleFunc("/invites/{peer}", s.Invite()).Methods(http.MethodPost)
	r.HandleFunc("/invites/{peer}/accept", s.AnswerInvite(true)).Methods(http.MethodPost)
	r.HandleFunc("/invites/{peer}/reject", s.AnswerInvite(false)).Methods(http.MethodPost)

	r.HandleFunc("/groups", s.ListGroups()).Methods(http.MethodGet)
	r.HandleFunc("/groups", s.CreateGroup()).Methods(http.MethodPost)
	r.HandleFunc("/groups/{address}", s.GetGroup()).Methods(http.MethodGet)
	r.HandleFunc("/groups/{address}/messages", s.SendGroupMessage()).Methods(http.MethodPost)
	r.HandleFunc("/groups/{address}/invites", s.InviteToGroup()).Methods(http.MethodPost)
	r.HandleFunc("/groups/{address}/{action:accept|reject|join|leave}", s.GroupMembership()).Methods(http.MethodPost)

	r.HandleFunc("/users/{pubkey}", s.GetUser()).Methods(http.MethodGet)
	r.HandleFunc("/events", s.HandleEventsWS()).Methods(http.MethodGet)
	return r
}

// Run serves until ctx is done.
func (s *HttpServer) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	go func() {
		<-ctx.Done()
		s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("gateway listening", zap.String("addr", addr), zap.String("identity", s.engine.Identity().String()))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, stem.ErrNotLoaded):
		status = http.StatusServiceUnavailable
	case errors.Is(err, stem.ErrNotRegistered):
		status = http.StatusConflict
	case errors.Is(err, stem.ErrInvalidPrecondition), errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, codec.ErrDecode):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		log.Error(op+" failed", zap.Error(err))
	} else {
		log.Debug(op+" refused", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

var errBadRequest = errors.New("bad request")

func pathKey(r *http.Request, name string) (model.PublicKey, error) {
	k, err := model.PublicKeyFromBase58(mux.Vars(r)[name])
	if err != nil {
		return k, fmt.Errorf("%w: %s: %v", errBadRequest, name, err)
	}
	return k, nil
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// submit signs tx with the wallet and sends it.
func (s *HttpServer) submit(ctx context.Context, tx *chain.Transaction) (string, error) {
	if err := s.signer.SignTransaction(ctx, tx); err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	sig, err := s.submitter.SendTransaction(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

func (s *HttpServer) respondTx(w http.ResponseWriter, r *http.Request, op string, tx *chain.Transaction, err error) {
	if err != nil {
		writeError(w, op, err)
		return
	}
	sig, err := s.submit(r.Context(), tx)
	if err != nil {
		writeError(w, op, err)
		return
	}
	log.Info(op, zap.String("signature", sig))
	writeJSON(w, http.StatusOK, map[string]string{"signature": sig})
}

func (s *HttpServer) GetStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		registered, err := s.engine.IsRegistered()
		_, hasKeys := s.engine.KeyMaterial()
		writeJSON(w, http.StatusOK, map[string]any{
			"identity":   s.engine.Identity(),
			"descriptor": s.engine.DescriptorAddress(),
			"loaded":     err == nil,
			"registered": registered,
			"keys":       hasKeys,
		})
	}
}

// GetKeys returns the X25519 public key other users need to invite this identity.
func (s *HttpServer) GetKeys() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		km, ok := s.engine.KeyMaterial()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "encryption keys are not derived"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"x25519_public": hex.EncodeToString(km.X25519Public[:])})
	}
}

func (s *HttpServer) Register() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tx, err := s.engine.CreateRegisterTx(r.Context())
		s.respondTx(w, r, "register", tx, err)
	}
}

func (s *HttpServer) ListChats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.engine.Chats())
	}
}

func (s *HttpServer) GetChat() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peer, err := pathKey(r, "peer")
		if err != nil {
			writeError(w, "get chat", err)
			return
		}
		chat, err := s.engine.GetChat(peer)
		if err != nil {
			writeError(w, "get chat", err)
			return
		}
		if chat == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "chat not found"})
			return
		}
		writeJSON(w, http.StatusOK, newChatView(chat))
	}
}

func (s *HttpServer) SendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peer, err := pathKey(r, "peer")
		if err != nil {
			writeError(w, "send message", err)
			return
		}
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, "send message", err)
			return
		}
		tx, err := s.engine.CreateSendMessageTx(r.Context(), peer, []byte(body.Content))
		s.respondTx(w, r, "send message", tx, err)
	}
}

func (s *HttpServer) Invite() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peer, err := pathKey(r, "peer")
		if err != nil {
			writeError(w, "invite", err)
			return
		}
		var body struct {
			X25519Public string `json:"x25519_public"`
			Note         string `json:"note"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, "invite", err)
			return
		}
		raw, err := hex.DecodeString(body.X25519Public)
		if err != nil || len(raw) != 32 {
			writeError(w, "invite", fmt.Errorf("%w: x25519_public must be 32 hex encoded bytes", errBadRequest))
			return
		}
		var peerPublic [32]byte
		copy(peerPublic[:], raw)

		tx, err := s.engine.CreateInviteTx(r.Context(), peer, peerPublic, []byte(body.Note))
		s.respondTx(w, r, "invite", tx, err)
	}
}

func (s *HttpServer) AnswerInvite(accept bool) http.HandlerFunc {
	op := "reject invite"
	if accept {
		op = "accept invite"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		peer, err := pathKey(r, "peer")
		if err != nil {
			writeError(w, op, err)
			return
		}
		var tx *chain.Transaction
		if accept {
			tx, err = s.engine.CreateAcceptTx(r.Context(), peer)
		} else {
			tx, err = s.engine.CreateRejectTx(r.Context(), peer)
		}
		s.respondTx(w, r, op, tx, err)
	}
}

func (s *HttpServer) ListGroups() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.engine.Groups())
	}
}

func (s *HttpServer) CreateGroup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Type        uint8  `json:"type"`
			Title       string `json:"title"`
			Description string `json:"description"`
			ImageURL    string `json:"image_url"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, "create group", err)
			return
		}
		created, err := s.engine.CreateGroupTx(r.Context(), body.Type, body.Title, body.Description, body.ImageURL)
		if err != nil {
			writeError(w, "create group", err)
			return
		}
		sig, err := s.submit(r.Context(), created.Tx)
		if err != nil {
			s.engine.ReleaseGroupIndex(created.Index)
			writeError(w, "create group", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"signature": sig,
			"address":   created.Address,
			"index":     created.Index,
		})
	}
}

func (s *HttpServer) GetGroup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, err := pathKey(r, "address")
		if err != nil {
			writeError(w, "get group", err)
			return
		}
		g, err := s.engine.GetGroup(addr)
		if err != nil {
			writeError(w, "get group", err)
			return
		}
		if g == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "group not found"})
			return
		}
		writeJSON(w, http.StatusOK, newGroupView(g))
	}
}

func (s *HttpServer) SendGroupMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, err := pathKey(r, "address")
		if err != nil {
			writeError(w, "send group message", err)
			return
		}
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, "send group message", err)
			return
		}
		tx, err := s.engine.CreateSendMessageToGroupTx(r.Context(), addr, []byte(body.Content))
		s.respondTx(w, r, "send group message", tx, err)
	}
}

func (s *HttpServer) InviteToGroup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, err := pathKey(r, "address")
		if err != nil {
			writeError(w, "invite to group", err)
			return
		}
		var body struct {
			Invitee model.PublicKey `json:"invitee"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, "invite to group", err)
			return
		}
		tx, err := s.engine.CreateInviteToGroupTx(r.Context(), addr, body.Invitee)
		s.respondTx(w, r, "invite to group", tx, err)
	}
}

func (s *HttpServer) GroupMembership() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		action := mux.Vars(r)["action"]
		op := action + " group"
		addr, err := pathKey(r, "address")
		if err != nil {
			writeError(w, op, err)
			return
		}

		var tx *chain.Transaction
		switch action {
		case "accept":
			tx, err = s.engine.CreateAcceptInviteToGroupTx(r.Context(), addr)
		case "reject":
			tx, err = s.engine.CreateRejectInviteToGroupTx(r.Context(), addr)
		case "join":
			tx, err = s.engine.CreateJoinGroupTx(r.Context(), addr)
		case "leave":
			tx, err = s.engine.CreateLeaveGroupTx(r.Context(), addr)
		}
		s.respondTx(w, r, op, tx, err)
	}
}

func (s *HttpServer) GetUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pubkey, err := pathKey(r, "pubkey")
		if err != nil {
			writeError(w, "get user", err)
			return
		}
		user, err := s.engine.FetchUserAccount(r.Context(), pubkey)
		if err != nil {
			writeError(w, "get user", err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}
