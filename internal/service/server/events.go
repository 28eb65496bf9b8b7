package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"cherry_chat/internal/service/stem"
	"cherry_chat/internal/utils/log"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	backlogLimit  = 200
	backlogTTL    = 2 * time.Hour
	queueSize     = 256
	connQueueSize = 256
	writeWait     = 10 * time.Second
)

type (
	// EventView is a stem event with message contents rendered as text.
	EventView struct {
		stem.Event
		Chat  *ChatView  `json:"chat,omitempty"`
		Group *GroupView `json:"group,omitempty"`
	}
)

func newEventView(ev stem.Event) EventView {
	view := EventView{Event: ev}
	if ev.Chat != nil {
		view.Chat = newChatView(ev.Chat)
	}
	if ev.Group != nil {
		view.Group = newGroupView(ev.Group)
	}
	return view
}

func (s *HttpServer) backlogKey() string {
	return "events:" + s.engine.Identity().String()
}

func newEventConn(conn *websocket.Conn) *eventConn {
	return &eventConn{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, connQueueSize),
	}
}

func (s *HttpServer) HandleEventsWS() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("upgrade events socket failed", zap.Error(err))
			return
		}

		ec := newEventConn(conn)
		if err := s.forwardBacklog(r.Context(), ec); err != nil {
			log.Error("forward event backlog failed", zap.Error(err))
		}

		s.mu.Lock()
		s.conns[ec.id] = ec
		s.mu.Unlock()
		log.Debug("events socket opened", zap.String("conn", ec.id.String()))

		go s.writeLoop(ec)
		go s.drain(ec)
	}
}

// drain reads until the client goes away. Clients never send anything meaningful.
func (s *HttpServer) drain(ec *eventConn) {
	for {
		if _, _, err := ec.conn.ReadMessage(); err != nil {
			log.Debug("events socket closed", zap.String("conn", ec.id.String()), zap.Error(err))
			s.drop(ec)
			return
		}
	}
}

// writeLoop is the only writer of ec.conn.
func (s *HttpServer) writeLoop(ec *eventConn) {
	for data := range ec.send {
		ec.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ec.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Warn("push event failed", zap.String("conn", ec.id.String()), zap.Error(err))
			s.drop(ec)
			return
		}
	}
}

// drop unregisters ec and closes its queue. Safe to call more than once.
func (s *HttpServer) drop(ec *eventConn) {
	s.mu.Lock()
	if _, ok := s.conns[ec.id]; ok {
		delete(s.conns, ec.id)
		close(ec.send)
	}
	s.mu.Unlock()
	ec.conn.Close()
}

func (s *HttpServer) forwardBacklog(ctx context.Context, ec *eventConn) error {
	if s.backlog == nil {
		return nil
	}
	vals, err := s.backlog.Range(ctx, s.backlogKey())
	if err != nil {
		return err
	}
	for _, v := range vals {
		select {
		case ec.send <- []byte(v):
		default:
			return fmt.Errorf("backlog of %d events exceeds the connection queue", len(vals))
		}
	}
	return nil
}

// broadcast is the engine observer. It only queues the event, publish does the slow work.
func (s *HttpServer) broadcast(ev stem.Event) {
	data, err := json.Marshal(newEventView(ev))
	if err != nil {
		log.Error("marshal event failed", zap.String("kind", string(ev.Kind)), zap.Error(err))
		return
	}

	select {
	case s.queue <- data:
	default:
		log.Warn("event queue full, dropping event", zap.String("kind", string(ev.Kind)))
	}
}

func (s *HttpServer) publishLoop() {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.queue:
			s.publish(data)
		}
	}
}

func (s *HttpServer) publish(data []byte) {
	if s.backlog != nil {
		if err := s.backlog.Append(context.Background(), s.backlogKey(), backlogLimit, backlogTTL, data); err != nil {
			log.Warn("store event backlog failed", zap.Error(err))
		}
	}

	s.mu.Lock()
	var slow []*eventConn
	for _, ec := range s.conns {
		select {
		case ec.send <- data:
		default:
			slow = append(slow, ec)
		}
	}
	s.mu.Unlock()

	for _, ec := range slow {
		log.Warn("events socket too slow, closing", zap.String("conn", ec.id.String()))
		s.drop(ec)
	}
}
