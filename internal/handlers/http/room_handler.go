package http

import (
	"net/http"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
	"roomrelay/pkg/errors"
	"roomrelay/pkg/validation"

	"github.com/gin-gonic/gin"
)

// RoomHandler exposes read-only room introspection over HTTP. Errors are
// attached with c.Error and rendered by ErrorHandlerMiddleware.
type RoomHandler struct {
	rooms ports.RoomService
}

func NewRoomHandler(rooms ports.RoomService) *RoomHandler {
	return &RoomHandler{rooms: rooms}
}

func (h *RoomHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	{
		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/:id", h.GetRoom)
	}
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms := h.rooms.ListRooms(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"rooms": rooms,
		"count": len(rooms),
	})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID := c.Param("id")
	if err := validation.ValidateRoomID(roomID); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()).WithContext("room_id", roomID))
		return
	}

	snap, err := h.rooms.GetRoom(c.Request.Context(), domain.RoomID(roomID))
	if err != nil {
		_ = c.Error(err)
		return
	}

	// members and chat history stay with the room's participants
	c.JSON(http.StatusOK, gin.H{
		"room": snap.Summary(),
	})
}

var _ ports.HTTPHandler = (*RoomHandler)(nil)
