package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"messaging-service/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 512
	sendBufferSize = 32
)

// Subscription is one open conversation view. It is owned by its connection and has
// an explicit Start/Close lifecycle.
type Subscription struct {
	conversationID int64
	conn           *websocket.Conn
	info           ConnInfo
	hub            *Hub
	log            *zap.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscription(hub *Hub, conversationID int64, conn *websocket.Conn, info ConnInfo, log *zap.Logger) *Subscription {
	return &Subscription{
		conversationID: conversationID,
		conn:           conn,
		info:           info,
		hub:            hub,
		log:            log.With(zap.Int64("conversation_id", conversationID), zap.String("conn_id", info.ConnID)),
		send:           make(chan []byte, sendBufferSize),
		done:           make(chan struct{}),
	}
}

// Start registers the subscription with the hub and runs its pumps.
func (s *Subscription) Start() {
	s.hub.add(s)
	observability.IncWSActive(string(s.info.Role))
	observability.IncWSEvent(string(s.info.Role), "ws_connect")
	s.log.Info("ws subscription started", zap.Int64("user_id", s.info.UserID), zap.String("role", string(s.info.Role)))

	go s.writePump()
	go s.readPump()
}

// Close unregisters and drops the connection. Safe to call more than once.
func (s *Subscription) Close(reason string) {
	s.closeOnce.Do(func() {
		s.hub.remove(s)
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}
		observability.DecWSActive(string(s.info.Role))
		observability.IncWSEvent(string(s.info.Role), "ws_disconnect")
		s.log.Info("ws subscription closed",
			zap.String("reason", reason),
			zap.Int64("duration_ms", time.Since(s.info.ConnectedAt).Milliseconds()))
	})
}

// enqueue hands a payload to the write pump without blocking. A full buffer drops
// the event; the client recovers it on its next fetch.
func (s *Subscription) enqueue(payload []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

func (s *Subscription) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				observability.IncWSEvent(string(s.info.Role), "ws_error")
				s.Close("write: " + err.Error())
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close("ping: " + err.Error())
				return
			}
		}
	}
}

// readPump only services control frames; clients never send data on this socket.
func (s *Subscription) readPump() {
	s.conn.SetReadLimit(maxInboundSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent(string(s.info.Role), "ws_error")
			}
			s.Close(err.Error())
			return
		}
	}
}
