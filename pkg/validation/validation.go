package validation

import (
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/pion/stun"
)

const (
	MaxRoomIDLength      = 64
	MaxDisplayNameLength = 50
)

var (
	// RoomIDRegex validates room ID format
	RoomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// ParticipantIDRegex validates participant ID format
	ParticipantIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateRoomID validates a caller supplied room id
func ValidateRoomID(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room ID is required")
	}
	if len(roomID) > MaxRoomIDLength {
		return fmt.Errorf("room ID is too long (max %d characters)", MaxRoomIDLength)
	}
	if !RoomIDRegex.MatchString(roomID) {
		return fmt.Errorf("invalid room ID format (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateParticipantID validates a participant id used as a signal target
func ValidateParticipantID(id string) error {
	if id == "" {
		return fmt.Errorf("participant ID is required")
	}
	if len(id) > 100 {
		return fmt.Errorf("participant ID is too long (max 100 characters)")
	}
	if !ParticipantIDRegex.MatchString(id) {
		return fmt.Errorf("invalid participant ID format")
	}
	return nil
}

// ValidateDisplayName validates an optional display name. Empty is allowed.
func ValidateDisplayName(name string) error {
	if name == "" {
		return nil
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("display name contains invalid characters")
	}
	return ValidateStringLength(name, 0, MaxDisplayNameLength, "display name")
}

// ValidateICEServer checks each url with pion's STUN/TURN URI parser. TURN
// entries need a username and credential; browsers refuse them otherwise.
func ValidateICEServer(urls []string, username, credential string) error {
	if len(urls) == 0 {
		return fmt.Errorf("ICE server needs at least one url")
	}
	for _, raw := range urls {
		uri, err := stun.ParseURI(raw)
		if err != nil {
			return fmt.Errorf("invalid ICE server URL %q: %w", raw, err)
		}
		turn := uri.Scheme == stun.SchemeTypeTURN || uri.Scheme == stun.SchemeTypeTURNS
		if turn && (username == "" || credential == "") {
			return fmt.Errorf("TURN server %q requires username and credential", raw)
		}
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
