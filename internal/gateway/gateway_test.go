package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-hub/internal/apperr"
	"chat-hub/internal/auth"
	"chat-hub/internal/bridge"
	"chat-hub/internal/mocks"
	"chat-hub/internal/models"
	"chat-hub/internal/ws"
)

type gatewayEnv struct {
	store    *mocks.MemoryStore
	hub      *ws.Hub
	bridge   *bridge.Bridge
	verifier *auth.Verifier
	server   *httptest.Server
}

func newGatewayEnv(t *testing.T) *gatewayEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := mocks.NewMemoryStore()
	authorize := func(ctx context.Context, room ws.RoomID, userID int) (bool, error) {
		return store.IsParticipant(ctx, int(room), userID)
	}
	hub := ws.NewHub(ws.HubConfig{PresenceGrace: 50 * time.Millisecond}, authorize, store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()

	b := bridge.New(store, store, store, hub, nil, bridge.Config{PersistTimeout: time.Second})
	verifier := auth.NewVerifier("test-secret", "chat-hub")
	gw := New(b, verifier, Config{Client: ws.ClientConfig{SendBuffer: 64}})

	router := gin.New()
	router.GET("/ws", gw.Handle)
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		hub.CloseAll()
		server.Close()
		cancel()
		<-done
	})

	return &gatewayEnv{store: store, hub: hub, bridge: b, verifier: verifier, server: server}
}

func (e *gatewayEnv) url() string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
}

// dial opens an authenticated socket and waits until the session is active.
func (e *gatewayEnv) dial(t *testing.T, userID int) *websocket.Conn {
	t.Helper()
	token, err := e.verifier.Issue(userID, time.Hour)
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.Dial(e.url(), header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	sendFrame(t, conn, "ping", "", nil)
	next(t, conn, models.EventPong)
	return conn
}

type wireFrame struct {
	Type    models.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload"`
}

type wireAck struct {
	RequestID string          `json:"request_id"`
	Command   string          `json:"command"`
	Data      json.RawMessage `json:"data"`
}

type wireError struct {
	Kind      apperr.Kind `json:"kind"`
	Message   string      `json:"message"`
	RequestID string      `json:"request_id"`
	Command   string      `json:"command"`
}

func sendFrame(t *testing.T, conn *websocket.Conn, command, requestID string, payload any) {
	t.Helper()
	frame := map[string]any{"type": command}
	if requestID != "" {
		frame["request_id"] = requestID
	}
	if payload != nil {
		frame["payload"] = payload
	}
	require.NoError(t, conn.WriteJSON(frame))
}

// next reads frames until one of the wanted type arrives. Presence frames are
// skipped; any other unexpected frame fails the test.
func next(t *testing.T, conn *websocket.Conn, want models.EventType) wireFrame {
	t.Helper()
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var f wireFrame
		require.NoError(t, json.Unmarshal(data, &f))
		if f.Type == want {
			return f
		}
		if f.Type == models.EventPresenceChanged {
			continue
		}
		t.Fatalf("expected %s, got %s: %s", want, f.Type, data)
	}
}

// quiet asserts nothing but presence frames is pending by round-tripping a ping.
func quiet(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	sendFrame(t, conn, "ping", "", nil)
	next(t, conn, models.EventPong)
}

func payloadOf[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestHandshakeRequiresToken(t *testing.T) {
	env := newGatewayEnv(t)

	tests := []struct {
		name   string
		header http.Header
	}{
		{"missing token", http.Header{}},
		{"invalid token", http.Header{"Authorization": []string{"Bearer not-a-token"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(env.url(), tt.header)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, string(apperr.KindAuthFailed), body["kind"])
		})
	}
	assert.Zero(t, env.hub.Registry.Len())
}

func TestHandshakeAcceptsQueryToken(t *testing.T) {
	env := newGatewayEnv(t)
	token, err := env.verifier.Issue(5, time.Hour)
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(env.url()+"?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()

	quiet(t, conn)
	assert.True(t, env.hub.Registry.IsOnline(5))
}

func TestPrivateConversationOverSockets(t *testing.T) {
	env := newGatewayEnv(t)
	conv, _, err := env.store.FindOrCreatePrivate(context.Background(), 1, 2)
	require.NoError(t, err)

	a := env.dial(t, 1)
	b := env.dial(t, 2)

	sendFrame(t, a, "message:send", "req-1", map[string]any{
		"conversation_id": conv.ID,
		"content":         "hello",
	})

	ack := payloadOf[wireAck](t, next(t, a, models.EventAck).Payload)
	assert.Equal(t, "req-1", ack.RequestID)
	assert.Equal(t, "message:send", ack.Command)
	sent := payloadOf[models.Message](t, ack.Data)
	assert.Equal(t, "hello", sent.Content)

	got := payloadOf[models.Message](t, next(t, b, models.EventMessageNew).Payload)
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, 1, got.SenderID)

	sendFrame(t, b, "message:read", "", map[string]any{"conversation_id": conv.ID})
	next(t, b, models.EventAck)

	receipt := payloadOf[models.ReadReceipt](t, next(t, a, models.EventMessageRead).Payload)
	assert.Equal(t, 2, receipt.ReaderID)
	assert.Equal(t, []int{sent.ID}, receipt.MessageIDs)

	quiet(t, a)
}

func TestSenderOtherDevicesReceiveOwnMessage(t *testing.T) {
	env := newGatewayEnv(t)
	conv, _, err := env.store.FindOrCreatePrivate(context.Background(), 1, 2)
	require.NoError(t, err)

	phone := env.dial(t, 1)
	laptop := env.dial(t, 1)

	sendFrame(t, phone, "message:send", "", map[string]any{"conversation_id": conv.ID, "content": "sync"})
	next(t, phone, models.EventAck)

	got := payloadOf[models.Message](t, next(t, laptop, models.EventMessageNew).Payload)
	assert.Equal(t, "sync", got.Content)
}

func TestBadFramesKeepSessionOpen(t *testing.T) {
	env := newGatewayEnv(t)
	conn := env.dial(t, 1)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	e := payloadOf[wireError](t, next(t, conn, models.EventError).Payload)
	assert.Equal(t, apperr.KindValidationFailed, e.Kind)

	sendFrame(t, conn, "message:teleport", "req-2", map[string]any{})
	e = payloadOf[wireError](t, next(t, conn, models.EventError).Payload)
	assert.Equal(t, apperr.KindValidationFailed, e.Kind)
	assert.Equal(t, "req-2", e.RequestID)
	assert.Equal(t, "message:teleport", e.Command)

	sendFrame(t, conn, "message:send", "req-3", nil)
	e = payloadOf[wireError](t, next(t, conn, models.EventError).Payload)
	assert.Equal(t, apperr.KindValidationFailed, e.Kind)

	quiet(t, conn)
}

func TestCommandErrorsCarryKind(t *testing.T) {
	env := newGatewayEnv(t)
	conv, _, err := env.store.FindOrCreatePrivate(context.Background(), 1, 2)
	require.NoError(t, err)
	outsider := env.dial(t, 9)

	sendFrame(t, outsider, "message:send", "req-4", map[string]any{"conversation_id": conv.ID, "content": "hi"})
	e := payloadOf[wireError](t, next(t, outsider, models.EventError).Payload)
	assert.Equal(t, apperr.KindForbidden, e.Kind)

	sendFrame(t, outsider, "conversation:join", "req-5", map[string]any{"conversation_id": conv.ID})
	e = payloadOf[wireError](t, next(t, outsider, models.EventError).Payload)
	assert.Equal(t, apperr.KindForbidden, e.Kind)

	sendFrame(t, outsider, "message:edit", "req-6", map[string]any{"message_id": 4040, "content": "x"})
	e = payloadOf[wireError](t, next(t, outsider, models.EventError).Payload)
	assert.Equal(t, apperr.KindNotFound, e.Kind)
}

func TestTypingRelay(t *testing.T) {
	env := newGatewayEnv(t)
	conv, _, err := env.store.FindOrCreatePrivate(context.Background(), 1, 2)
	require.NoError(t, err)

	a := env.dial(t, 1)
	b := env.dial(t, 2)

	sendFrame(t, a, "typing:start", "", map[string]any{"conversation_id": conv.ID})
	typing := payloadOf[models.Typing](t, next(t, b, models.EventTypingStart).Payload)
	assert.Equal(t, 1, typing.UserID)
	assert.Equal(t, int64(5000), typing.ExpiresInMs)

	sendFrame(t, a, "typing:stop", "", map[string]any{"conversation_id": conv.ID})
	next(t, b, models.EventTypingStop)

	quiet(t, a)
}

func TestCallSignaling(t *testing.T) {
	env := newGatewayEnv(t)
	conv, _, err := env.store.FindOrCreatePrivate(context.Background(), 1, 2)
	require.NoError(t, err)

	caller := env.dial(t, 1)
	callee := env.dial(t, 2)

	sendFrame(t, caller, "call:initiate", "c1", map[string]any{
		"conversation_id": conv.ID,
		"target_user_id":  2,
		"type":            "video",
	})
	next(t, caller, models.EventAck)
	incoming := payloadOf[models.CallSignal](t, next(t, callee, models.EventCallIncoming).Payload)
	assert.Equal(t, 1, incoming.CallerID)
	assert.Equal(t, "video", incoming.CallType)

	sendFrame(t, callee, "call:accept", "", map[string]any{"conversation_id": conv.ID, "caller_id": 1})
	next(t, callee, models.EventAck)
	next(t, caller, models.EventCallAccepted)

	sendFrame(t, caller, "webrtc:offer", "", map[string]any{
		"conversation_id": conv.ID,
		"target_user_id":  2,
		"payload":         map[string]any{"sdp": "v=0"},
	})
	offer := payloadOf[models.RTCSignal](t, next(t, callee, models.EventWebRTCOffer).Payload)
	assert.Equal(t, 1, offer.FromUserID)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(offer.Payload))

	sendFrame(t, callee, "call:end", "", map[string]any{"conversation_id": conv.ID})
	next(t, callee, models.EventAck)
	next(t, caller, models.EventCallEnded)

	sendFrame(t, caller, "call:initiate", "c2", map[string]any{"conversation_id": conv.ID, "target_user_id": 7})
	e := payloadOf[wireError](t, next(t, caller, models.EventError).Payload)
	assert.Equal(t, apperr.KindNotFound, e.Kind)
}

func TestRemovedParticipantStopsReceiving(t *testing.T) {
	env := newGatewayEnv(t)
	ctx := context.Background()
	group, err := env.store.CreateGroup(ctx, 1, "team", "", "", []int{2, 3})
	require.NoError(t, err)

	x := env.dial(t, 1)
	y := env.dial(t, 2)
	z := env.dial(t, 3)

	require.NoError(t, env.bridge.RemoveParticipant(ctx, bridge.Actor{UserID: 1}, group.ID, 3))
	deleted := payloadOf[models.ConversationChanged](t, next(t, z, models.EventConversationDeleted).Payload)
	assert.Equal(t, group.ID, deleted.ConversationID)
	next(t, y, models.EventConversationUpdate)
	next(t, x, models.EventConversationUpdate)

	sendFrame(t, x, "message:send", "", map[string]any{"conversation_id": group.ID, "content": "after"})
	next(t, x, models.EventAck)
	next(t, y, models.EventMessageNew)
	quiet(t, z)

	sendFrame(t, z, "conversation:join", "", map[string]any{"conversation_id": group.ID})
	e := payloadOf[wireError](t, next(t, z, models.EventError).Payload)
	assert.Equal(t, apperr.KindForbidden, e.Kind)
}

func TestDisconnectTearsDownMembership(t *testing.T) {
	env := newGatewayEnv(t)
	conv, _, err := env.store.FindOrCreatePrivate(context.Background(), 1, 2)
	require.NoError(t, err)

	conn := env.dial(t, 1)
	room := ws.RoomOf(conv.ID)
	require.Len(t, env.hub.Rooms.MembersOf(room), 1)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()

	assert.Eventually(t, func() bool {
		return env.hub.Registry.Count(1) == 0 && len(env.hub.Rooms.MembersOf(room)) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPresenceOverSockets(t *testing.T) {
	env := newGatewayEnv(t)
	observer := env.dial(t, 1)

	watched := env.dial(t, 2)
	online := payloadOf[models.PresenceChanged](t, next(t, observer, models.EventPresenceChanged).Payload)
	assert.Equal(t, 2, online.UserID)
	assert.Equal(t, models.StatusOnline, online.Status)

	_ = watched.Close()
	offline := payloadOf[models.PresenceChanged](t, next(t, observer, models.EventPresenceChanged).Payload)
	assert.Equal(t, models.StatusOffline, offline.Status)
	assert.NotNil(t, offline.LastSeen)
}
