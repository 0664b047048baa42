package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateID generates a random ID with prefix
func GenerateID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// GenerateConnectionID identifies a live connection. It doubles as the
// participant id inside rooms.
func GenerateConnectionID() string {
	return uuid.NewString()
}

// GenerateRoomID generates a short room id for rooms created without one.
func GenerateRoomID() string {
	return "room-" + uuid.NewString()[:8]
}
