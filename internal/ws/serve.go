package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"board-relay/internal/auth"
	"board-relay/internal/models"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const defaultSendBuffer = 256

type ServeOptions struct {
	// AllowedOrigins restricts the Origin header. Empty allows any origin.
	AllowedOrigins []string
	SendBuffer     int
}

// NewUpgrader builds an upgrader that accepts the given origins.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			allowed[strings.TrimSuffix(o, "/")] = true
		}
	}

	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			return allowed[r.Header.Get("Origin")]
		},
	}
}

// ServeWS returns the handler that upgrades board chat connections. The
// request must carry a boardId query parameter and an identity the
// resolver accepts.
func ServeWS(hub *Hub, resolver auth.Resolver, opts ServeOptions) http.HandlerFunc {
	upgrader := NewUpgrader(opts.AllowedOrigins)
	buffer := opts.SendBuffer
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}

	return func(w http.ResponseWriter, r *http.Request) {
		remoteAddr := r.RemoteAddr
		slog.Debug("[WS] New WebSocket connection request", "from", remoteAddr)

		boardId := strings.TrimSpace(r.URL.Query().Get("boardId"))
		if boardId == "" {
			slog.Warn("[WS] No boardId provided", "from", remoteAddr)
			http.Error(w, "boardId required", http.StatusBadRequest)
			return
		}

		identity, err := resolver.Resolve(r)
		if err != nil {
			if errors.Is(err, auth.ErrMissingIdentity) {
				slog.Warn("[WS] No userId provided", "board", boardId, "from", remoteAddr)
				http.Error(w, "userId required", http.StatusBadRequest)
				return
			}
			slog.Warn("[WS] Identity resolution failed", "board", boardId, "from", remoteAddr, "error", err)
			http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("[WS] Failed to upgrade connection", "user", identity.UserId, "board", boardId, "error", err)
			return
		}

		participant := models.Participant{
			ConnectionId: uuid.NewString(),
			UserId:       identity.UserId,
			UserName:     identity.UserName,
		}
		client := newClient(hub, conn, boardId, participant, buffer)

		slog.Info("[WS] Connection upgraded", "user", participant.UserId, "board", boardId, "conn", participant.ConnectionId)

		// Start the writer first so the roster and history snapshot queued by
		// the join are flushed as soon as the board processes it.
		go client.WritePump()

		ctx, cancel := context.WithTimeout(context.Background(), enqueueWait)
		defer cancel()
		if err := hub.Connect(ctx, boardId, participant, client); err != nil {
			slog.Error("[WS] Failed to join board", "user", participant.UserId, "board", boardId, "error", err)
			client.close()
			// A join that timed out may still be applied later; queue a leave behind it.
			if errors.Is(err, context.DeadlineExceeded) {
				lctx, lcancel := context.WithTimeout(context.Background(), enqueueWait)
				defer lcancel()
				hub.Disconnect(lctx, boardId, participant.ConnectionId)
			}
			return
		}

		go client.ReadPump()
	}
}

// HealthHandler reports a static OK for load balancers.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// StatsHandler reports live boards with their participant and message counts.
func StatsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"boards": hub.Stats(r.Context()),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("[WS] Failed to encode response", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(payload)
}
