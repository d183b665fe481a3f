package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classboard/internal/broadcast"
	"classboard/internal/config"
	"classboard/internal/logging"
	"classboard/internal/object"
	"classboard/internal/snapshot"
	"classboard/internal/whiteboard"
)

const waitFor = 2 * time.Second

func testConfig() *config.Config {
	return &config.Config{
		Addr:              "127.0.0.1:0",
		AllowedOrigins:    []string{"https://school.example"},
		StoreDriver:       "memory",
		Transport:         "websocket",
		MaxRoomSize:       10,
		MaxRooms:          10,
		MaxMessageSize:    1 << 20,
		MaxPayloadDepth:   6,
		MaxPayloadKeys:    200,
		MessagesPerSecond: 1000,
		BurstSize:         1000,
		ConnectEvery:      time.Millisecond,
		ConnectBurst:      100,
		CleanupInterval:   time.Minute,
		SessionIdle:       time.Hour,
		LibraryFormat:     "png",
	}
}

type fixture struct {
	server *Server
	http   *httptest.Server
	store  *snapshot.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	store := snapshot.NewMemoryStore()
	s := New(testConfig(), store)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return &fixture{server: s, http: ts, store: store}
}

func (f *fixture) wsURL() string {
	return "ws" + strings.TrimPrefix(f.http.URL, "http")
}

func (f *fixture) transport(token string) *broadcast.WebsocketTransport {
	return broadcast.NewWebsocketTransport(f.wsURL(), token, logging.Discard())
}

// waitMembers blocks until the relay room for topic has n connections
func (f *fixture) waitMembers(t *testing.T, topic string, n int) {
	require.Eventually(t, func() bool {
		room, ok := f.server.Rooms().Room(topic)
		return ok && room.ConnectionCount() == n
	}, waitFor, 10*time.Millisecond)
}

type inbox struct {
	mu   sync.Mutex
	msgs []broadcast.Message
}

func (in *inbox) handle(msg broadcast.Message) {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.msgs = append(in.msgs, msg)
}

func (in *inbox) all() []broadcast.Message {
	in.mu.Lock()
	defer in.mu.Unlock()

	return append([]broadcast.Message(nil), in.msgs...)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	res, err := http.Get(f.http.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestUnknownEndpoint(t *testing.T) {
	f := newFixture(t)

	res, err := http.Get(f.http.URL + "/api/v1/nope")
	require.NoError(t, err)
	res.Body.Close()

	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestHTTPStoreAgainstAPI(t *testing.T) {
	f := newFixture(t)
	store := snapshot.NewHTTPStore(f.http.URL, nil)
	ctx := context.Background()

	_, err := store.Get(ctx, "S1")
	assert.True(t, snapshot.IsNotFound(err))
	assert.True(t, snapshot.IsNotFound(store.SetCollaboration(ctx, "S1", true)))

	require.NoError(t, store.Upsert(ctx, &snapshot.Record{
		ID:           "S1",
		ClassID:      "math-7b",
		ControllerID: "teacher-1",
		Title:        "Fractions",
		Content:      json.RawMessage(`{"objects":[{"id":"p1"}]}`),
	}))
	require.NoError(t, store.SetCollaboration(ctx, "S1", true))

	rec, err := store.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "math-7b", rec.ClassID)
	assert.True(t, rec.CollaborationEnabled)
	assert.JSONEq(t, `{"objects":[{"id":"p1"}]}`, string(rec.Content))

	// the server side saw the same thing
	stored, err := f.store.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "Fractions", stored.Title)
}

func TestSnapshotAPIRejectsBadRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		body   string
		status int
	}{
		{"malformed put", http.MethodPut, `{broken`, http.StatusBadRequest},
		{"mismatched id", http.MethodPut, `{"id":"other","content":{}}`, http.StatusBadRequest},
		{"patch without flag", http.MethodPatch, `{}`, http.StatusBadRequest},
		{"delete not allowed", http.MethodDelete, ``, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, f.http.URL+"/api/v1/whiteboards/S1", strings.NewReader(tt.body))
			require.NoError(t, err)

			res, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			res.Body.Close()

			assert.Equal(t, tt.status, res.StatusCode)
		})
	}
}

func TestRelayDeliversToOthersOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	topic := broadcast.Topic("S1")

	var a, b inbox
	chA, err := f.transport("").Join(ctx, topic, a.handle)
	require.NoError(t, err)
	defer chA.Unsubscribe()
	chB, err := f.transport("").Join(ctx, topic, b.handle)
	require.NoError(t, err)
	defer chB.Unsubscribe()

	assert.NotEqual(t, chA.MemberID(), chB.MemberID())
	f.waitMembers(t, topic, 2)

	require.NoError(t, chA.Publish(ctx, whiteboard.EventCanvasCleared, struct{}{}))

	require.Eventually(t, func() bool { return len(b.all()) == 1 }, waitFor, 10*time.Millisecond)
	msg := b.all()[0]
	assert.Equal(t, whiteboard.EventCanvasCleared, msg.Event)
	assert.Equal(t, chA.MemberID(), msg.Sender)

	// give a stray echo time to arrive
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, a.all())
}

func TestRelayDropsInvalidObjectsAndSanitizesText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	topic := broadcast.Topic("S1")

	var b inbox
	chA, err := f.transport("").Join(ctx, topic, func(broadcast.Message) {})
	require.NoError(t, err)
	defer chA.Unsubscribe()
	chB, err := f.transport("").Join(ctx, topic, b.handle)
	require.NoError(t, err)
	defer chB.Unsubscribe()
	f.waitMembers(t, topic, 2)

	bad := map[string]interface{}{"id": "x1", "type": "hexagon"}
	require.NoError(t, chA.Publish(ctx, whiteboard.EventObjectAdded, bad))

	text := object.New(&object.TextData{
		Position: object.Position{X: 10, Y: 10},
		Text:     "<script>alert(1)</script>Hello",
	})
	require.NoError(t, chA.Publish(ctx, whiteboard.EventObjectAdded, text))

	require.Eventually(t, func() bool { return len(b.all()) == 1 }, waitFor, 10*time.Millisecond)

	got, err := object.NewValidator().Decode(b.all()[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, text.ID, got.ID)
	assert.Equal(t, "Hello", got.Shape.(*object.TextData).Text)
}

func TestTokenResumesIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.transport("").Join(ctx, broadcast.Topic("S1"), func(broadcast.Message) {})
	require.NoError(t, err)
	token := first.(interface{ Token() string }).Token()
	require.NotEmpty(t, token)
	require.NoError(t, first.Unsubscribe())

	second, err := f.transport(token).Join(ctx, broadcast.Topic("S2"), func(broadcast.Message) {})
	require.NoError(t, err)
	defer second.Unsubscribe()

	assert.Equal(t, first.MemberID(), second.MemberID())
}

func TestOriginCheck(t *testing.T) {
	f := newFixture(t)
	endpoint := f.wsURL() + "/ws?channel=whiteboard:S1"

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, res, err := websocket.DefaultDialer.Dial(endpoint, header)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	header.Set("Origin", "https://school.example")
	conn, _, err := websocket.DefaultDialer.Dial(endpoint, header)
	require.NoError(t, err)
	conn.Close()
}

func TestMissingChannel(t *testing.T) {
	f := newFixture(t)

	_, res, err := websocket.DefaultDialer.Dial(f.wsURL()+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestEnginesSyncThroughRelay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	open := func(userID string, controller bool) *whiteboard.Engine {
		e := whiteboard.New(whiteboard.Options{
			ClassID:   "math-7b",
			UserID:    userID,
			Transport: f.transport(""),
			Store:     snapshot.NewHTTPStore(f.http.URL, nil),
			Log:       logging.Discard(),
		})
		require.NoError(t, e.Open(ctx, "S1", controller))
		t.Cleanup(func() { e.Close() })
		return e
	}

	teacher := open("teacher-1", true)
	student := open("student-1", false)
	f.waitMembers(t, broadcast.Topic("S1"), 2)

	r1 := object.New(&object.RectangleData{
		Position: object.Position{X: 10, Y: 10},
		Size:     object.Size{Width: 40, Height: 20},
	})
	require.NoError(t, teacher.Surface().Add(r1))

	require.Eventually(t, func() bool {
		_, found := student.Surface().Find(r1.ID)
		return found
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, teacher.SetCollaboration(ctx, true))
	require.Eventually(t, student.Collaboration, waitFor, 10*time.Millisecond)

	_, err := teacher.Save(ctx)
	require.NoError(t, err)

	rec, err := f.store.Get(ctx, "S1")
	require.NoError(t, err)
	assert.True(t, rec.CollaborationEnabled)
	assert.Contains(t, string(rec.Content), r1.ID)
}

func TestCleanupKeepsActiveRooms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	topic := broadcast.Topic("S1")

	ch, err := f.transport("").Join(ctx, topic, func(broadcast.Message) {})
	require.NoError(t, err)
	f.waitMembers(t, topic, 1)

	f.server.Cleanup()
	assert.Equal(t, 1, f.server.Rooms().RoomCount())

	require.NoError(t, ch.Unsubscribe())
	f.waitMembers(t, topic, 0)
}

func TestRawProtocol(t *testing.T) {
	f := newFixture(t)

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL()+"/ws?channel=whiteboard:S1", nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(waitFor))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "authenticate"}))

	var auth map[string]string
	require.NoError(t, conn.ReadJSON(&auth))
	assert.Equal(t, "authenticated", auth["type"])
	assert.NotEmpty(t, auth["userId"])
	assert.NotEmpty(t, auth["token"])

	var welcome map[string]interface{}
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, "room_joined", welcome["type"])
	assert.Equal(t, auth["userId"], welcome["participantId"])
	assert.Equal(t, float64(1), welcome["members"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	var pong map[string]string
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "pong", pong["type"])
}

func TestAuthenticationRequired(t *testing.T) {
	f := newFixture(t)

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL()+"/ws?channel=whiteboard:S1", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "broadcast", "event": "x"}))

	conn.SetReadDeadline(time.Now().Add(waitFor))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "server closes connections that skip authentication")
	assert.Equal(t, 0, f.server.Rooms().RoomCount())
}
