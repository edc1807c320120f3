package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"messaging-service/internal/models"
)

// Poller re-fetches a conversation on a fixed interval, passing only messages newer
// than the last one it saw.
type Poller struct {
	client         *Client
	conversationID int64
	interval       time.Duration
	onMessages     func([]models.Message)
	log            *zap.Logger

	mu     sync.Mutex
	lastID int64

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller builds a Poller. A zero conversationID polls the caller's own conversation.
func NewPoller(c *Client, conversationID int64, interval time.Duration, onMessages func([]models.Message), log *zap.Logger) *Poller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{
		client:         c,
		conversationID: conversationID,
		interval:       interval,
		onMessages:     onMessages,
		log:            log,
	}
}

// Poll fetches once and advances the cursor.
func (p *Poller) Poll(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	msgs, err := p.client.Messages(ctx, p.conversationID, p.lastID)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	p.lastID = msgs[len(msgs)-1].ID
	p.onMessages(msgs)
	return nil
}

// LastID is the newest message id delivered so far.
func (p *Poller) LastID() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastID
}

// Start polls immediately and then on every tick until Stop. Starting a running
// Poller is a no-op; after Stop it may be started again.
func (p *Poller) Start(ctx context.Context) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	done := make(chan struct{})
	p.done = done
	go func() {
		defer close(done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
				p.log.Warn("poll failed", zap.Int64("conversation_id", p.conversationID), zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop halts polling and waits for the in-flight fetch.
func (p *Poller) Stop() {
	p.runMu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
