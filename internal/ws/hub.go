package ws

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
)

// Hub holds the subscriptions open on this replica, grouped by conversation.
type Hub struct {
	rooms map[int64]map[*Subscription]struct{}
	mu    sync.RWMutex
	log   *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		rooms: make(map[int64]map[*Subscription]struct{}),
		log:   log,
	}
}

func (h *Hub) add(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[sub.conversationID]; !ok {
		h.rooms[sub.conversationID] = make(map[*Subscription]struct{})
	}
	h.rooms[sub.conversationID][sub] = struct{}{}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.rooms[sub.conversationID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.rooms, sub.conversationID)
		}
	}
}

// Subscribers returns the number of open subscriptions for a conversation.
func (h *Hub) Subscribers(conversationID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

// Publish delivers in-process. It is the broadcaster for single-replica deployments.
func (h *Hub) Publish(ctx context.Context, conversationID int64, ev models.ConversationEvent) error {
	h.Deliver(conversationID, ev)
	return nil
}

// Deliver sends an event to every local subscriber of the conversation.
func (h *Hub) Deliver(conversationID int64, ev models.ConversationEvent) {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.rooms[conversationID]))
	for sub := range h.rooms[conversationID] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("marshal conversation event", zap.Error(err))
		return
	}
	for _, sub := range subs {
		if sub.enqueue(payload) {
			observability.IncWSEvent(string(sub.info.Role), ev.Type)
			continue
		}
		observability.IncWSEvent(string(sub.info.Role), "dropped")
		h.log.Debug("ws event dropped", zap.Int64("conversation_id", conversationID), zap.String("conn_id", sub.info.ConnID))
	}
}
