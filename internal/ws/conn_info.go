package ws

import (
	"time"

	"messaging-service/internal/models"
)

type ConnInfo struct {
	ConnID      string
	UserID      int64
	Role        models.Role
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
