package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"board-relay/internal/models"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message
	writeWait = 10 * time.Second

	// Time allowed to read next pong message
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Max message size
	maxMessageSize = 512 * 1024 // 512 KB

	// Time allowed to hand a command to a board
	enqueueWait = 5 * time.Second
)

// Client is one websocket connection attached to a single board.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	boardId     string
	participant models.Participant
}

func newClient(hub *Hub, conn *websocket.Conn, boardId string, p models.Participant, buffer int) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, buffer),
		done:        make(chan struct{}),
		boardId:     boardId,
		participant: p,
	}
}

// Deliver queues frame for the write pump. A client that cannot keep up is
// closed rather than allowed to stall its board.
func (c *Client) Deliver(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		slog.Warn("[CLIENT] Send buffer full, closing connection", "user", c.participant.UserId, "board", c.boardId, "conn", c.participant.ConnectionId)
		c.close()
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ReadPump pumps messages from WebSocket to the board
func (c *Client) ReadPump() {
	defer func() {
		c.close()
		c.conn.Close()

		ctx, cancel := context.WithTimeout(context.Background(), enqueueWait)
		defer cancel()
		if err := c.hub.Disconnect(ctx, c.boardId, c.participant.ConnectionId); err != nil {
			slog.Warn("[CLIENT] Failed to leave board", "user", c.participant.UserId, "board", c.boardId, "error", err)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("[CLIENT] Unexpected close", "user", c.participant.UserId, "board", c.boardId, "error", err)
			}
			break
		}

		c.handleClientMessage(message)
	}
}

// WritePump pumps messages from the board to WebSocket
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Error("[CLIENT] Failed to write message", "user", c.participant.UserId, "board", c.boardId, "error", err)
				c.close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Error("[CLIENT] Failed to send ping", "user", c.participant.UserId, "board", c.boardId, "error", err)
				c.close()
				return
			}
		}
	}
}

func (c *Client) handleClientMessage(message []byte) {
	frame, err := models.DecodeClientFrame(message)
	if err != nil {
		slog.Error("[CLIENT] Error unmarshaling message", "user", c.participant.UserId, "board", c.boardId, "error", err)
		c.reportError()
		return
	}

	switch frame.Type {
	case models.EventMessage:
		if frame.Data == nil || frame.Data.BoardId != c.boardId {
			slog.Warn("[CLIENT] Message for another board", "user", c.participant.UserId, "board", c.boardId)
			c.reportError()
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), enqueueWait)
		defer cancel()
		if err := c.hub.Send(ctx, c.boardId, c, frame.Data.Message); err != nil {
			slog.Error("[CLIENT] Failed to relay message", "user", c.participant.UserId, "board", c.boardId, "error", err)
			c.reportError()
		}

	case "":
		slog.Warn("[CLIENT] No 'type' field in message", "user", c.participant.UserId, "board", c.boardId)

	default:
		slog.Warn("[CLIENT] Unknown event type", "type", frame.Type, "user", c.participant.UserId, "board", c.boardId)
	}
}

func (c *Client) reportError() {
	frame, err := models.EncodeEvent(models.EventError, c.boardId, models.ProcessingError)
	if err != nil {
		return
	}
	c.Deliver(frame)
}
