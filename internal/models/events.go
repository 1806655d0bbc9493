package models

import "github.com/goccy/go-json"

// Outbound event types.
const (
	EventOnlineUsers      = "onlineUsers"
	EventPreviousMessages = "previousMessages"
	EventMessage          = "message"
	EventError            = "error"
)

// Activity event types published for the board activity feed.
const (
	ActivityMessageCreated = "message:created"
	ActivityPresenceJoin   = "presence:join"
	ActivityPresenceLeave  = "presence:leave"
)

// Event is the envelope of every frame the relay writes to a client.
type Event struct {
	Type      string      `json:"type"`
	BoardId   string      `json:"boardId"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ChatMessage is created by the client and relayed verbatim. Only the fields
// the relay validates are decoded; Raw keeps the object exactly as received,
// including userId, userName, timestamp and any client-specific fields.
type ChatMessage struct {
	ID      string
	Content string
	Raw     json.RawMessage
}

type chatFields struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// ParseChatMessage decodes one chat message object.
func ParseChatMessage(raw []byte) (ChatMessage, error) {
	var msg ChatMessage
	if err := msg.UnmarshalJSON(raw); err != nil {
		return ChatMessage{}, err
	}
	return msg, nil
}

func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	var fields chatFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	m.ID = fields.ID
	m.Content = fields.Content
	m.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (m ChatMessage) MarshalJSON() ([]byte, error) {
	if len(m.Raw) > 0 {
		return m.Raw, nil
	}
	return json.Marshal(chatFields{ID: m.ID, Content: m.Content})
}

// RosterEntry is the public projection of a participant.
type RosterEntry struct {
	UserId   string `json:"userId"`
	UserName string `json:"userName"`
}

// Participant is one live connection on a board.
type Participant struct {
	ConnectionId string
	UserId       string
	UserName     string
}

func (p Participant) Entry() RosterEntry {
	return RosterEntry{UserId: p.UserId, UserName: p.UserName}
}

// ClientFrame is the envelope of frames sent by clients.
type ClientFrame struct {
	Type string       `json:"type"`
	Data *SendPayload `json:"data"`
}

type SendPayload struct {
	BoardId string       `json:"boardId"`
	Message *ChatMessage `json:"message"`
}

// ActivityEvent is published to Redis for consumers outside the relay.
type ActivityEvent struct {
	Type      string      `json:"type"`
	BoardId   string      `json:"boardId"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}
