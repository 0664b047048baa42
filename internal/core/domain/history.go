package domain

import "time"

type ChatMessage struct {
	SenderID    ParticipantID `json:"senderId"`
	DisplayName string        `json:"displayName,omitempty"`
	Text        string        `json:"text"`
	SentAt      time.Time     `json:"sentAt"`
}

// History keeps the most recent chat messages of a room in a fixed-size
// ring. A zero limit keeps nothing.
type History struct {
	buf   []ChatMessage
	start int
	count int
}

func NewHistory(limit int) *History {
	if limit < 0 {
		limit = 0
	}
	return &History{buf: make([]ChatMessage, limit)}
}

func (h *History) Append(msg ChatMessage) {
	if len(h.buf) == 0 {
		return
	}
	if h.count < len(h.buf) {
		h.buf[(h.start+h.count)%len(h.buf)] = msg
		h.count++
		return
	}
	// full: overwrite the oldest
	h.buf[h.start] = msg
	h.start = (h.start + 1) % len(h.buf)
}

// Messages returns the retained messages oldest first.
func (h *History) Messages() []ChatMessage {
	out := make([]ChatMessage, 0, h.count)
	for i := 0; i < h.count; i++ {
		out = append(out, h.buf[(h.start+i)%len(h.buf)])
	}
	return out
}

func (h *History) Len() int {
	return h.count
}

func (h *History) Clear() {
	for i := range h.buf {
		h.buf[i] = ChatMessage{}
	}
	h.start = 0
	h.count = 0
}
