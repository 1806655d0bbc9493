package ws

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"board-relay/internal/auth"
	"board-relay/internal/models"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wireEvent struct {
	Type    string          `json:"type"`
	BoardId string          `json:"boardId"`
	Data    json.RawMessage `json:"data"`
}

type testRelay struct {
	server *httptest.Server
	hub    *Hub
}

func newTestRelay(t *testing.T, resolver auth.Resolver, opts ServeOptions) *testRelay {
	t.Helper()
	hub := newTestHub(t, HubOptions{})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", ServeWS(hub, resolver, opts))
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/stats", StatsHandler(hub))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &testRelay{server: server, hub: hub}
}

func (r *testRelay) wsURL(params url.Values) string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http") + "/ws?" + params.Encode()
}

func (r *testRelay) dial(t *testing.T, boardId, userId, userName string) *websocket.Conn {
	t.Helper()
	params := url.Values{"boardId": {boardId}, "userId": {userId}, "userName": {userName}}
	conn, resp, err := websocket.DefaultDialer.Dial(r.wsURL(params), nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// joined dials and consumes the roster and history frames of the join.
func (r *testRelay) joined(t *testing.T, boardId, userId, userName string) *websocket.Conn {
	t.Helper()
	conn := r.dial(t, boardId, userId, userName)
	expectEvent(t, conn, models.EventOnlineUsers)
	expectEvent(t, conn, models.EventPreviousMessages)
	return conn
}

func expectEvent(t *testing.T, conn *websocket.Conn, eventType string) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var e wireEvent
	require.NoError(t, json.Unmarshal(raw, &e))
	require.Equal(t, eventType, e.Type, "frame: %s", raw)
	return e
}

func sendChat(t *testing.T, conn *websocket.Conn, boardId string, msg models.ChatMessage) {
	t.Helper()
	frame := models.ClientFrame{
		Type: models.EventMessage,
		Data: &models.SendPayload{BoardId: boardId, Message: &msg},
	}
	raw, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func rosterOf(t *testing.T, e wireEvent) []models.RosterEntry {
	t.Helper()
	var entries []models.RosterEntry
	require.NoError(t, json.Unmarshal(e.Data, &entries))
	return entries
}

func messageOf(t *testing.T, e wireEvent) models.ChatMessage {
	t.Helper()
	var msg models.ChatMessage
	require.NoError(t, json.Unmarshal(e.Data, &msg))
	return msg
}

func TestServeWS_TwoUsersChat(t *testing.T) {
	relay := newTestRelay(t, auth.QueryResolver{}, ServeOptions{})

	alice := relay.dial(t, "b1", "u1", "Alice")
	roster := expectEvent(t, alice, models.EventOnlineUsers)
	assert.Equal(t, "b1", roster.BoardId)
	assert.Equal(t, []models.RosterEntry{{UserId: "u1", UserName: "Alice"}}, rosterOf(t, roster))
	history := expectEvent(t, alice, models.EventPreviousMessages)
	assert.Equal(t, "[]", string(history.Data))

	bob := relay.dial(t, "b1", "u2", "Bob")
	want := []models.RosterEntry{{UserId: "u1", UserName: "Alice"}, {UserId: "u2", UserName: "Bob"}}
	assert.Equal(t, want, rosterOf(t, expectEvent(t, bob, models.EventOnlineUsers)))
	expectEvent(t, bob, models.EventPreviousMessages)
	assert.Equal(t, want, rosterOf(t, expectEvent(t, alice, models.EventOnlineUsers)))

	msg, err := models.ParseChatMessage([]byte(`{"id":"1","content":"hi","userId":"u1","userName":"Alice","timestamp":"2024-05-01T10:00:00.000Z"}`))
	require.NoError(t, err)
	sendChat(t, alice, "b1", msg)

	assert.Equal(t, msg, messageOf(t, expectEvent(t, alice, models.EventMessage)))
	assert.Equal(t, msg, messageOf(t, expectEvent(t, bob, models.EventMessage)))

	snap, err := relay.hub.Inspect(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, []models.ChatMessage{msg}, snap.History)
}

func TestServeWS_MessageRelayedVerbatim(t *testing.T) {
	relay := newTestRelay(t, auth.QueryResolver{}, ServeOptions{})

	alice := relay.joined(t, "b1", "u1", "Alice")
	bob := relay.joined(t, "b1", "u2", "Bob")
	expectEvent(t, alice, models.EventOnlineUsers)

	message := `{"id":"1","content":"hi","userId":"u1","userName":"Alice","timestamp":1714557600000,"avatar":"x.png","mentions":["u2"]}`
	frame := `{"type":"message","data":{"boardId":"b1","message":` + message + `}}`
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(frame)))

	assert.JSONEq(t, message, string(expectEvent(t, alice, models.EventMessage).Data))
	assert.JSONEq(t, message, string(expectEvent(t, bob, models.EventMessage).Data))

	require.NoError(t, alice.Close())
	expectEvent(t, bob, models.EventOnlineUsers)

	carol := relay.dial(t, "b1", "u3", "Carol")
	expectEvent(t, carol, models.EventOnlineUsers)
	history := expectEvent(t, carol, models.EventPreviousMessages)
	assert.JSONEq(t, "["+message+"]", string(history.Data))
}

func TestServeWS_DisconnectUpdatesRoster(t *testing.T) {
	relay := newTestRelay(t, auth.QueryResolver{}, ServeOptions{})

	alice := relay.joined(t, "b1", "u1", "Alice")
	bob := relay.joined(t, "b1", "u2", "Bob")
	expectEvent(t, alice, models.EventOnlineUsers)

	require.NoError(t, alice.Close())

	roster := expectEvent(t, bob, models.EventOnlineUsers)
	assert.Equal(t, []models.RosterEntry{{UserId: "u2", UserName: "Bob"}}, rosterOf(t, roster))
}

func TestServeWS_ReconnectGetsHistorySnapshot(t *testing.T) {
	relay := newTestRelay(t, auth.QueryResolver{}, ServeOptions{})

	alice := relay.joined(t, "b1", "u1", "Alice")
	for i := 1; i <= 3; i++ {
		sendChat(t, alice, "b1", models.ChatMessage{ID: strconv.Itoa(i), Content: "m" + strconv.Itoa(i)})
		expectEvent(t, alice, models.EventMessage)
	}
	require.NoError(t, alice.Close())

	again := relay.dial(t, "b1", "u1", "Alice")
	expectEvent(t, again, models.EventOnlineUsers)
	history := expectEvent(t, again, models.EventPreviousMessages)

	var msgs []models.ChatMessage
	require.NoError(t, json.Unmarshal(history.Data, &msgs))
	require.Len(t, msgs, 3)
	assert.Equal(t, "1", msgs[0].ID)
	assert.Equal(t, "3", msgs[2].ID)
}

func TestServeWS_BoardIsolation(t *testing.T) {
	relay := newTestRelay(t, auth.QueryResolver{}, ServeOptions{})

	alice := relay.joined(t, "b1", "u1", "Alice")
	carol := relay.joined(t, "b2", "u3", "Carol")

	sendChat(t, alice, "b1", models.ChatMessage{ID: "a1", Content: "for b1"})
	expectEvent(t, alice, models.EventMessage)

	sendChat(t, carol, "b2", models.ChatMessage{ID: "c1", Content: "for b2"})
	assert.Equal(t, "c1", messageOf(t, expectEvent(t, carol, models.EventMessage)).ID)
}

func TestServeWS_ProcessingErrorsGoToSenderOnly(t *testing.T) {
	relay := newTestRelay(t, auth.QueryResolver{}, ServeOptions{})

	alice := relay.joined(t, "b1", "u1", "Alice")
	bob := relay.joined(t, "b1", "u2", "Bob")
	expectEvent(t, alice, models.EventOnlineUsers)

	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: "not json"},
		{name: "missing data", raw: `{"type":"message"}`},
		{name: "other board", raw: `{"type":"message","data":{"boardId":"b2","message":{"id":"1","content":"x"}}}`},
		{name: "missing message", raw: `{"type":"message","data":{"boardId":"b1"}}`},
		{name: "missing id", raw: `{"type":"message","data":{"boardId":"b1","message":{"content":"x"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(tt.raw)))
			e := expectEvent(t, alice, models.EventError)
			assert.JSONEq(t, `"Failed to process message"`, string(e.Data))
		})
	}

	// The connection survives and Bob saw none of the failures.
	ok := models.ChatMessage{ID: "ok", Content: "still here"}
	sendChat(t, alice, "b1", ok)
	assert.Equal(t, "ok", messageOf(t, expectEvent(t, alice, models.EventMessage)).ID)
	assert.Equal(t, "ok", messageOf(t, expectEvent(t, bob, models.EventMessage)).ID)
}

func TestServeWS_UnknownTypeIgnored(t *testing.T) {
	relay := newTestRelay(t, auth.QueryResolver{}, ServeOptions{})

	alice := relay.joined(t, "b1", "u1", "Alice")
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"typing:start"}`)))

	sendChat(t, alice, "b1", models.ChatMessage{ID: "1", Content: "hi"})
	assert.Equal(t, "1", messageOf(t, expectEvent(t, alice, models.EventMessage)).ID)
}

func TestServeWS_RejectsMissingMetadata(t *testing.T) {
	relay := newTestRelay(t, auth.QueryResolver{}, ServeOptions{})

	tests := []struct {
		name   string
		params url.Values
	}{
		{name: "missing boardId", params: url.Values{"userId": {"u1"}}},
		{name: "blank boardId", params: url.Values{"boardId": {"  "}, "userId": {"u1"}}},
		{name: "missing userId", params: url.Values{"boardId": {"b1"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(relay.wsURL(tt.params), nil)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Equal(t, 0, relay.hub.BoardCount())
}

func TestServeWS_SecretAuth(t *testing.T) {
	resolver, err := auth.NewSecretResolver("test-secret", "boards")
	require.NoError(t, err)
	relay := newTestRelay(t, resolver, ServeOptions{})

	params := url.Values{"boardId": {"b1"}, "userId": {"spoofed"}}
	_, resp, err := websocket.DefaultDialer.Dial(relay.wsURL(params), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := resolver.IssueToken("u1", "Alice", time.Minute)
	require.NoError(t, err)
	params.Set("token", token)

	conn, _, err := websocket.DefaultDialer.Dial(relay.wsURL(params), nil)
	require.NoError(t, err)
	defer conn.Close()

	roster := expectEvent(t, conn, models.EventOnlineUsers)
	assert.Equal(t, []models.RosterEntry{{UserId: "u1", UserName: "Alice"}}, rosterOf(t, roster))
}

func TestServeWS_OriginCheck(t *testing.T) {
	relay := newTestRelay(t, auth.QueryResolver{}, ServeOptions{AllowedOrigins: []string{"http://localhost:3000"}})
	params := url.Values{"boardId": {"b1"}, "userId": {"u1"}}

	header := http.Header{"Origin": {"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(relay.wsURL(params), header)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "http://localhost:3000")
	conn, _, err := websocket.DefaultDialer.Dial(relay.wsURL(params), header)
	require.NoError(t, err)
	conn.Close()
}

func TestHealthHandler(t *testing.T) {
	relay := newTestRelay(t, auth.QueryResolver{}, ServeOptions{})

	resp, err := http.Get(relay.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestStatsHandler(t *testing.T) {
	relay := newTestRelay(t, auth.QueryResolver{}, ServeOptions{})
	relay.joined(t, "b1", "u1", "Alice")

	resp, err := http.Get(relay.server.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Boards []BoardStats `json:"boards"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []BoardStats{{BoardId: "b1", Participants: 1}}, body.Boards)
}
