package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classboard/internal/broadcast"
	"classboard/internal/logging"
	"classboard/internal/middleware"
	"classboard/internal/object"
	"classboard/internal/participant"
	"classboard/internal/relay"
	"classboard/internal/snapshot"
)

type capturingBroadcaster struct {
	frames  [][]byte
	senders []string
}

func (b *capturingBroadcaster) Broadcast(room relay.Connections, msg []byte, senderID string) int {
	b.frames = append(b.frames, msg)
	b.senders = append(b.senders, senderID)
	return len(room.Connections()) - 1
}

func (b *capturingBroadcaster) last(t *testing.T) broadcast.Message {
	require.NotEmpty(t, b.frames)
	var msg broadcast.Message
	require.NoError(t, json.Unmarshal(b.frames[len(b.frames)-1], &msg))
	return msg
}

func newRouter() (*MessageRouter, *capturingBroadcaster, *relay.Room, *participant.Participant) {
	limits := middleware.NewRateLimit(10, 10, 1<<20, 6, 200, 30, 10)
	b := &capturingBroadcaster{}
	router := NewMessageRouter(object.NewValidator(), limits, b, logging.Discard())

	registry := participant.NewRegistry(30, 10)
	room := relay.NewRoom("whiteboard:S1")
	p := participant.New(registry.Create(), nil)
	room.Join(p, 10)
	room.Join(participant.New(registry.Create(), nil), 10)

	return router, b, room, p
}

func frame(t *testing.T, sender, event string, payload interface{}) []byte {
	msg, err := broadcast.NewMessage(sender, event, payload)
	require.NoError(t, err)
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return data
}

func TestRouteStampsSender(t *testing.T) {
	router, b, room, p := newRouter()

	// a client cannot impersonate someone else
	require.NoError(t, router.Route(room, p, frame(t, "someone-else", "canvas_cleared", struct{}{})))

	msg := b.last(t)
	assert.Equal(t, p.ID, msg.Sender)
	assert.Equal(t, "canvas_cleared", msg.Event)
	assert.Equal(t, []string{p.ID}, b.senders)
}

func TestRouteSanitizesObjects(t *testing.T) {
	router, b, room, p := newRouter()

	text := object.New(&object.TextData{Text: "<b>Fractions</b>"})
	require.NoError(t, router.Route(room, p, frame(t, "", "object_added", text)))

	got, err := object.NewValidator().Decode(b.last(t).Payload)
	require.NoError(t, err)
	assert.Equal(t, "Fractions", got.Shape.(*object.TextData).Text)

	escaped := object.New(&object.TextData{Text: "&lt;script&gt;alert(1)&lt;/script&gt;Decimals"})
	require.NoError(t, router.Route(room, p, frame(t, "", "object_added", escaped)))
	assert.NotContains(t, string(b.last(t).Payload), "script")
	got, err = object.NewValidator().Decode(b.last(t).Payload)
	require.NoError(t, err)
	assert.Equal(t, "Decimals", got.Shape.(*object.TextData).Text)

	require.NoError(t, router.Route(room, p, frame(t, "", "object_removed", map[string]string{"id": "<i>r1</i>"})))
	assert.JSONEq(t, `{"id":"r1"}`, string(b.last(t).Payload))
}

func TestRouteRejects(t *testing.T) {
	router, b, room, p := newRouter()

	deep := map[string]interface{}{"a": map[string]interface{}{"b": map[string]interface{}{"c": map[string]interface{}{
		"d": map[string]interface{}{"e": map[string]interface{}{"f": map[string]interface{}{"g": 1}}},
	}}}}

	tests := map[string][]byte{
		"not json":         []byte(`{`),
		"no type":          []byte(`{"event":"x"}`),
		"unknown type":     []byte(`{"type":"cursor"}`),
		"no event":         []byte(`{"type":"broadcast"}`),
		"invalid object":   frame(t, "", "object_added", map[string]string{"id": "x", "type": "hexagon"}),
		"object no id":     frame(t, "", "object_modified", map[string]interface{}{"type": "rect", "x": 1}),
		"removal no id":    frame(t, "", "object_removed", map[string]string{}),
		"payload too deep": frame(t, "", "custom", deep),
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, router.Route(room, p, raw))
		})
	}
	assert.Empty(t, b.frames)
}

type brokenStore struct{}

func (brokenStore) Get(ctx context.Context, id string) (*snapshot.Record, error) {
	return nil, errors.New("disk on fire")
}

func (brokenStore) Upsert(ctx context.Context, rec *snapshot.Record) error {
	return errors.New("disk on fire")
}

func (brokenStore) SetCollaboration(ctx context.Context, id string, enabled bool) error {
	return errors.New("disk on fire")
}

func snapshotServer(t *testing.T, store snapshot.Store) *httptest.Server {
	r := mux.NewRouter()
	NewSnapshotHandler(store, logging.Discard()).Register(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func TestSnapshotHandlerRoundTrip(t *testing.T) {
	store := snapshot.NewMemoryStore()
	ts := snapshotServer(t, store)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/whiteboards/S1",
		strings.NewReader(`{"classId":"math-7b","content":{"objects":[]},"collaborationEnabled":true}`))
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	res, err = http.Get(ts.URL + "/whiteboards/S1")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))

	var rec snapshot.Record
	require.NoError(t, json.NewDecoder(res.Body).Decode(&rec))
	assert.Equal(t, "S1", rec.ID)
	assert.Equal(t, "math-7b", rec.ClassID)
	assert.True(t, rec.CollaborationEnabled)
}

func TestSnapshotHandlerStoreFailure(t *testing.T) {
	ts := snapshotServer(t, brokenStore{})

	res, err := http.Get(ts.URL + "/whiteboards/S1")
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, "snapshot store failed", body["error"])
	assert.NotContains(t, body["error"], "fire")
}

type roomCount int

func (r roomCount) RoomCount() int { return int(r) }

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	Health(roomCount(3))(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","rooms":3}`, rec.Body.String())
}
