package client

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"messaging-service/internal/models"
)

// PushSubscription holds a websocket to one conversation and reconnects with backoff.
// After every (re)connect it runs a full re-fetch through the Poller, so events missed
// while disconnected are still delivered.
type PushSubscription struct {
	client         *Client
	conversationID int64
	poller         *Poller
	onEvent        func(models.ConversationEvent)
	dialer         *websocket.Dialer
	log            *zap.Logger

	MinBackoff time.Duration
	MaxBackoff time.Duration

	// connected is signalled after each successful handshake; used by tests.
	connected chan struct{}
}

func NewPushSubscription(c *Client, conversationID int64, poller *Poller, onEvent func(models.ConversationEvent), log *zap.Logger) *PushSubscription {
	if log == nil {
		log = zap.NewNop()
	}
	return &PushSubscription{
		client:         c,
		conversationID: conversationID,
		poller:         poller,
		onEvent:        onEvent,
		dialer:         websocket.DefaultDialer,
		log:            log.With(zap.Int64("conversation_id", conversationID)),
		MinBackoff:     500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		connected:      make(chan struct{}, 1),
	}
}

// Run keeps the subscription alive until ctx is cancelled.
func (s *PushSubscription) Run(ctx context.Context) error {
	target, err := s.client.pushURL(s.conversationID)
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.client.token)

	backoff := s.MinBackoff
	for {
		conn, _, err := s.dialer.DialContext(ctx, target, header)
		if err == nil {
			backoff = s.MinBackoff
			s.serve(ctx, conn)
		} else {
			s.log.Debug("push dial failed", zap.Error(err))
		}
		if ctx.Err() != nil {
			return nil
		}

		// Keep data flowing while push is down.
		if err := s.poller.Poll(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("fallback poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > s.MaxBackoff {
			backoff = s.MaxBackoff
		}
	}
}

func (s *PushSubscription) serve(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := s.poller.Poll(ctx); err != nil {
		s.log.Warn("re-fetch after connect failed", zap.Error(err))
	}
	select {
	case s.connected <- struct{}{}:
	default:
	}

	for {
		var ev models.ConversationEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() == nil {
				s.log.Info("push connection lost", zap.Error(err))
			}
			return
		}
		if ev.Type == models.EventMessage {
			// The poller owns the cursor; a fetch picks the new message up exactly once.
			if err := s.poller.Poll(ctx); err != nil {
				s.log.Warn("fetch after push failed", zap.Error(err))
			}
		}
		if s.onEvent != nil {
			s.onEvent(ev)
		}
	}
}
