package fanout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/model"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/repository"
)

const testSecret = "fanout-test-secret"

func testToken(t *testing.T, secret string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "dashboard-tests",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	})
	signed, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

type fakeStore struct {
	events      []model.EventLogRecord
	aggregates  *repository.WindowAggregates
	emergencies []model.EmergencyEvent
}

func (f *fakeStore) RecentEventLogs(context.Context, int64) ([]model.EventLogRecord, error) {
	return f.events, nil
}

func (f *fakeStore) EventLogWindow(context.Context, time.Time) (*repository.WindowAggregates, error) {
	return f.aggregates, nil
}

func (f *fakeStore) ActiveEmergencies(context.Context, int64) ([]model.EmergencyEvent, error) {
	return f.emergencies, nil
}

func newHub(t *testing.T, store Store) *Hub {
	t.Helper()
	return New(Config{Secret: testSecret}, store, zaptest.NewLogger(t))
}

func dialHub(t *testing.T, h *Hub, token string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type wireMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readWire(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg wireMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func subscribe(t *testing.T, conn *websocket.Conn, room string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(clientMessage{Type: "subscribe", Room: room}))
	msg := readWire(t, conn)
	require.Equal(t, msgSubscription, msg.Type)
	var ack subscriptionAck
	require.NoError(t, json.Unmarshal(msg.Data, &ack))
	require.Equal(t, "subscribed", ack.Status)
}

// ── auth ──────────────────────────────────────────────────────────────────

func TestServeWSRejectsMissingToken(t *testing.T) {
	h := newHub(t, nil)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWSRejectsForgedToken(t *testing.T) {
	h := newHub(t, nil)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + testToken(t, "wrong-secret")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWSAcceptsBearerHeader(t *testing.T) {
	h := newHub(t, nil)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	header := http.Header{"Authorization": []string{"Bearer " + testToken(t, testSecret)}}
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	assert.Equal(t, msgInitialData, readWire(t, conn).Type)
}

// ── initial data ──────────────────────────────────────────────────────────

func TestInitialDataSnapshot(t *testing.T) {
	store := &fakeStore{
		events: []model.EventLogRecord{
			{ID: "e1", Source: "watch-pipeline"},
			{ID: "e2", Source: "gateway-pipeline"},
		},
		aggregates: &repository.WindowAggregates{
			Statuses: []repository.GroupCount{{ID: "success", Count: 40}, {ID: "error", Count: 2}},
		},
		emergencies: []model.EmergencyEvent{
			{ID: "em1", Kind: model.EmergencyPanic, Status: model.EmergencyActive},
		},
	}
	conn := dialHub(t, newHub(t, store), testToken(t, testSecret))

	msg := readWire(t, conn)
	require.Equal(t, msgInitialData, msg.Type)

	var data struct {
		RecentEvents      []model.EventLogRecord       `json:"recent_events"`
		Aggregates        *repository.WindowAggregates `json:"aggregates"`
		ActiveEmergencies []model.EmergencyEvent       `json:"active_emergencies"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Len(t, data.RecentEvents, 2)
	assert.Equal(t, "e1", data.RecentEvents[0].ID)
	require.NotNil(t, data.Aggregates)
	assert.Equal(t, int64(40), data.Aggregates.Statuses[0].Count)
	require.Len(t, data.ActiveEmergencies, 1)
	assert.Equal(t, model.EmergencyPanic, data.ActiveEmergencies[0].Kind)
}

// ── rooms and broadcasts ──────────────────────────────────────────────────

func TestSubscribeUnknownRoomRejected(t *testing.T) {
	conn := dialHub(t, newHub(t, nil), testToken(t, testSecret))
	readWire(t, conn) // initial_data

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "subscribe", Room: "kitchen:sink"}))
	msg := readWire(t, conn)
	require.Equal(t, msgSubscription, msg.Type)
	var ack subscriptionAck
	require.NoError(t, json.Unmarshal(msg.Data, &ack))
	assert.Equal(t, "error", ack.Status)
	assert.Equal(t, "unknown room", ack.Reason)
}

func TestValidRoomGrammar(t *testing.T) {
	valid := []string{
		"patient:P1",
		"patient:P1:vitals",
		"patient:P1:alerts",
		"hospital:H1",
		"hospital:H1:alerts",
		"hospital:H1:devices",
		"device:watch:861265061482607",
		"device:gateway_box:AA:BB:CC:DD:EE:FF",
		"system:alerts",
		"admin:updates",
	}
	for _, room := range valid {
		assert.True(t, validRoom(room), room)
	}

	invalid := []string{
		"",
		"patient:",
		"patient:P1:bogus",
		"hospital::alerts",
		"device:toaster:X1",
		"device:watch:",
		"system:updates",
		"kitchen:sink",
	}
	for _, room := range invalid {
		assert.False(t, validRoom(room), room)
	}
}

func TestBroadcastObservationToVitalsRoom(t *testing.T) {
	h := newHub(t, nil)
	conn := dialHub(t, h, testToken(t, testSecret))
	readWire(t, conn)
	subscribe(t, conn, "patient:P1:vitals")

	o := model.NewObservation(model.TypeSpO2, "P1", model.FamilyWatch, "861265061482607",
		time.Now(), model.SpO2Values(98, nil, nil))
	o.HospitalID = "H1"
	h.BroadcastObservation(o)

	msg := readWire(t, conn)
	require.Equal(t, msgVitalsUpdate, msg.Type)
	var got model.Observation
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, model.TypeSpO2, got.Type)
}

func TestBroadcastDeliversOneCopyAcrossRooms(t *testing.T) {
	h := newHub(t, nil)
	conn := dialHub(t, h, testToken(t, testSecret))
	readWire(t, conn)
	subscribe(t, conn, "patient:P1")
	subscribe(t, conn, "patient:P1:vitals")
	subscribe(t, conn, "hospital:H1")

	o := model.NewObservation(model.TypeHeartRate, "P1", model.FamilyWatch, "861265061482607",
		time.Now(), model.HeartRateValues(75))
	o.HospitalID = "H1"
	h.BroadcastObservation(o)
	h.BroadcastFlowEvent("watch-pipeline", model.FlowEvent{Step: model.StepPersisted, Status: model.FlowSuccess})

	assert.Equal(t, msgVitalsUpdate, readWire(t, conn).Type)
	assert.Equal(t, msgFlowEvent, readWire(t, conn).Type, "a triple subscription must not triple the delivery")
}

func TestCriticalObservationRaisesPatientAlert(t *testing.T) {
	h := newHub(t, nil)
	conn := dialHub(t, h, testToken(t, testSecret))
	readWire(t, conn)
	subscribe(t, conn, "patient:P1:alerts")

	normal := model.NewObservation(model.TypeBloodPressure, "P1", model.FamilyGatewayBox, "d616",
		time.Now(), model.BloodPressureValues(110, 70, nil))
	normal.SeverityHint = model.SeverityNormal
	h.BroadcastObservation(normal)

	critical := model.NewObservation(model.TypeBloodPressure, "P1", model.FamilyGatewayBox, "d616",
		time.Now(), model.BloodPressureValues(190, 125, nil))
	critical.SeverityHint = model.SeverityCritical
	h.BroadcastObservation(critical)

	msg := readWire(t, conn)
	require.Equal(t, msgPatientAlert, msg.Type, "normal severity must not alert")
	var got model.Observation
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, critical.ID, got.ID)
}

func TestEmergencyReachesSystemAlerts(t *testing.T) {
	h := newHub(t, nil)
	conn := dialHub(t, h, testToken(t, testSecret))
	readWire(t, conn)
	subscribe(t, conn, RoomSystemAlerts)

	ev := model.NewEmergencyEvent(model.EmergencyPanic, "861265061482607", time.Now())
	ev.PatientID = "P3"
	h.BroadcastEmergency(ev)

	msg := readWire(t, conn)
	require.Equal(t, msgEmergencyAlert, msg.Type)
	var got model.EmergencyEvent
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, model.SeverityEmergencyCritical, got.Severity)
	assert.Equal(t, model.EmergencyActive, got.Status)
}

func TestFlowEventReachesEveryConnection(t *testing.T) {
	h := newHub(t, nil)
	first := dialHub(t, h, testToken(t, testSecret))
	second := dialHub(t, h, testToken(t, testSecret))
	readWire(t, first)
	readWire(t, second)

	h.BroadcastFlowEvent("kiosk-pipeline", model.FlowEvent{Step: model.StepReceived, Status: model.FlowSuccess})

	for _, conn := range []*websocket.Conn{first, second} {
		msg := readWire(t, conn)
		require.Equal(t, msgFlowEvent, msg.Type)
		var data struct {
			Source string `json:"source"`
		}
		require.NoError(t, json.Unmarshal(msg.Data, &data))
		assert.Equal(t, "kiosk-pipeline", data.Source)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := newHub(t, nil)
	conn := dialHub(t, h, testToken(t, testSecret))
	readWire(t, conn)
	subscribe(t, conn, "patient:P1:vitals")

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "unsubscribe", Room: "patient:P1:vitals"}))
	msg := readWire(t, conn)
	var ack subscriptionAck
	require.NoError(t, json.Unmarshal(msg.Data, &ack))
	require.Equal(t, "unsubscribed", ack.Status)

	o := model.NewObservation(model.TypeSpO2, "P1", model.FamilyWatch, "861265061482607",
		time.Now(), model.SpO2Values(97, nil, nil))
	h.BroadcastObservation(o)
	h.BroadcastFlowEvent("watch-pipeline", model.FlowEvent{Step: model.StepPersisted, Status: model.FlowSuccess})

	assert.Equal(t, msgFlowEvent, readWire(t, conn).Type, "no vitals after unsubscribe")
}

func TestApplicationPing(t *testing.T) {
	conn := dialHub(t, newHub(t, nil), testToken(t, testSecret))
	readWire(t, conn)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "ping"}))
	assert.Equal(t, msgPong, readWire(t, conn).Type)
}

// ── backpressure ──────────────────────────────────────────────────────────

func TestEnqueueDropsOldestAndDegrades(t *testing.T) {
	h := New(Config{Secret: testSecret, BufferSize: 2}, nil, zaptest.NewLogger(t))

	serverConn := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		conn, err := up.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConn <- conn
	}))
	defer srv.Close()
	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer peer.Close()

	// No writePump: the queue can only fill.
	c := newClient(h, <-serverConn, "backpressure", 2)
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	c.enqueue([]byte("one"))
	c.enqueue([]byte("two"))
	c.enqueue([]byte("three"))

	assert.Equal(t, uint64(1), c.dropped.Load())
	assert.True(t, c.degraded.Load())
	assert.Equal(t, []byte("two"), <-c.send, "oldest frame is the one dropped")
	assert.Equal(t, []byte("three"), <-c.send)

	st := h.Stats()
	assert.Equal(t, 1, st.Degraded)
	assert.Equal(t, uint64(1), st.DroppedFrames)
}

// ── shutdown ──────────────────────────────────────────────────────────────

func TestShutdownClosesWithGoingAway(t *testing.T) {
	h := newHub(t, nil)
	conn := dialHub(t, h, testToken(t, testSecret))
	readWire(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go h.Shutdown(ctx)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, websocket.CloseGoingAway, ce.Code)
		return
	}
}
