package ports

import (
	"context"

	"roomrelay/internal/core/domain"

	"github.com/gin-gonic/gin"
)

type HTTPHandler interface {
	ListRooms(c *gin.Context)
	GetRoom(c *gin.Context)
}

type WebSocketHandler interface {
	HandleConnection(ctx context.Context, wsConn interface{}) error
	HandleMessage(ctx context.Context, id domain.ParticipantID, message []byte) error
	HandleDisconnect(ctx context.Context, id domain.ParticipantID) error
}
