package models

import (
	"time"

	"github.com/goccy/go-json"
)

// ProcessingError is the text sent to a client whose frame could not be handled.
const ProcessingError = "Failed to process message"

// EncodeEvent wraps data in an Event envelope stamped with the current time.
func EncodeEvent(eventType, boardId string, data interface{}) ([]byte, error) {
	return json.Marshal(Event{
		Type:      eventType,
		BoardId:   boardId,
		Timestamp: time.Now().Unix(),
		Data:      data,
	})
}

// DecodeClientFrame parses a raw client frame.
func DecodeClientFrame(raw []byte) (*ClientFrame, error) {
	var frame ClientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}
