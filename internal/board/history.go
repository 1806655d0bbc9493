package board

import "board-relay/internal/models"

// DefaultHistoryLimit is the number of messages retained per board.
const DefaultHistoryLimit = 100

// History is a fixed-capacity FIFO of chat messages. Once full, each
// append evicts the oldest message. It is not safe for concurrent use; a
// Board owns its History and touches it only from its run loop.
type History struct {
	items []models.ChatMessage
	start int
	size  int
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{items: make([]models.ChatMessage, limit)}
}

func (h *History) Append(msg models.ChatMessage) {
	limit := len(h.items)
	if h.size < limit {
		h.items[(h.start+h.size)%limit] = msg
		h.size++
		return
	}
	h.items[h.start] = msg
	h.start = (h.start + 1) % limit
}

// Snapshot returns the retained messages oldest first. The returned slice
// is never nil so it encodes as [] on the wire.
func (h *History) Snapshot() []models.ChatMessage {
	out := make([]models.ChatMessage, 0, h.size)
	for i := 0; i < h.size; i++ {
		out = append(out, h.items[(h.start+i)%len(h.items)])
	}
	return out
}

func (h *History) Len() int { return h.size }

func (h *History) Limit() int { return len(h.items) }
