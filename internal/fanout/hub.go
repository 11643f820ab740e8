// Package fanout serves the operator dashboard WebSocket: room-scoped
// live updates for observations, alerts, and per-step flow events. The
// hub never blocks producers; slow consumers degrade instead of stalling
// the pipelines.
package fanout

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/model"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/repository"
)

const (
	// DefaultBufferSize is the per-connection outbound queue depth.
	DefaultBufferSize = 256

	initialEventLimit    = 50
	initialWindow        = time.Hour
	activeEmergencyLimit = 100
	initialDataTimeout   = 5 * time.Second
)

// Store supplies the connect-time snapshot.
type Store interface {
	RecentEventLogs(ctx context.Context, limit int64) ([]model.EventLogRecord, error)
	EventLogWindow(ctx context.Context, since time.Time) (*repository.WindowAggregates, error)
	ActiveEmergencies(ctx context.Context, limit int64) ([]model.EmergencyEvent, error)
}

// Config wires the hub.
type Config struct {
	// Secret verifies dashboard tokens issued by the identity service.
	Secret string

	// BufferSize overrides DefaultBufferSize when > 0.
	BufferSize int
}

// Stats is a point-in-time view of hub load.
type Stats struct {
	Connections   int    `json:"connections"`
	Rooms         int    `json:"rooms"`
	Degraded      int    `json:"degraded"`
	DroppedFrames uint64 `json:"dropped_frames"`
}

// Hub owns every dashboard connection and its room memberships.
type Hub struct {
	secret     []byte
	bufferSize int
	store      Store
	logger     *zap.Logger
	upgrader   websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	rooms   map[string]map[*client]struct{}
	closed  bool
}

// New constructs a Hub. store may be nil in tests; connecting clients
// then receive an empty snapshot.
func New(cfg Config, store Store, logger *zap.Logger) *Hub {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		secret:     []byte(cfg.Secret),
		bufferSize: bufferSize,
		store:      store,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The token is the access control; dashboards connect from
			// arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		rooms:   make(map[string]map[*client]struct{}),
	}
}

// ServeWS authenticates and upgrades one dashboard connection, sends the
// initial snapshot, and pumps until the peer goes away. Blocks for the
// lifetime of the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	subject, err := authenticate(r, h.secret)
	if err != nil {
		h.logger.Debug("websocket auth rejected", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
		return
	}

	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(h, conn, subject, h.bufferSize)
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("dashboard connected",
		zap.String("subject", subject),
		zap.String("remote", conn.RemoteAddr().String()))

	// The request context dies with the upgrade; the snapshot fetch gets
	// its own deadline.
	c.enqueueMessage(serverMessage{
		Type:      msgInitialData,
		Data:      h.initialSnapshot(context.Background()),
		Timestamp: time.Now().UTC(),
	})

	go c.writePump()
	c.readPump()
}

func (h *Hub) initialSnapshot(parent context.Context) initialData {
	data := initialData{
		RecentEvents:      []model.EventLogRecord{},
		ActiveEmergencies: []model.EmergencyEvent{},
	}
	if h.store == nil {
		return data
	}
	ctx, cancel := context.WithTimeout(parent, initialDataTimeout)
	defer cancel()

	if events, err := h.store.RecentEventLogs(ctx, initialEventLimit); err != nil {
		h.logger.Warn("initial events fetch failed", zap.Error(err))
	} else if events != nil {
		data.RecentEvents = events
	}
	if agg, err := h.store.EventLogWindow(ctx, time.Now().Add(-initialWindow)); err != nil {
		h.logger.Warn("initial aggregates fetch failed", zap.Error(err))
	} else {
		data.Aggregates = agg
	}
	if emergencies, err := h.store.ActiveEmergencies(ctx, activeEmergencyLimit); err != nil {
		h.logger.Warn("initial emergencies fetch failed", zap.Error(err))
	} else if emergencies != nil {
		data.ActiveEmergencies = emergencies
	}
	return data
}

// ── room membership ───────────────────────────────────────────────────────

func (h *Hub) subscribe(c *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) unsubscribe(c *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropMembership(c, room)
}

func (h *Hub) dropMembership(c *client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		for room := range c.rooms {
			h.dropMembership(c, room)
		}
		close(c.done)
	}
	h.mu.Unlock()
	c.conn.Close()
}

// ── broadcasts ────────────────────────────────────────────────────────────

// BroadcastFlowEvent fans a flow event to every connection.
func (h *Hub) BroadcastFlowEvent(source string, ev model.FlowEvent) {
	raw, err := json.Marshal(serverMessage{
		Type:      msgFlowEvent,
		Data:      flowEventData{Source: source, FlowEvent: ev},
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.enqueue(raw)
	}
}

// BroadcastObservation sends a vitals_update to the patient, hospital,
// and device rooms, plus a patient_alert to the alert rooms for
// critical-grade severity hints.
func (h *Hub) BroadcastObservation(o model.Observation) {
	rooms := []string{
		patientRoom(o.PatientID),
		patientVitalsRoom(o.PatientID),
		deviceRoom(o.DeviceFamily, o.SourceDeviceID),
	}
	if o.HospitalID != "" {
		rooms = append(rooms, hospitalRoom(o.HospitalID), hospitalDevicesRoom(o.HospitalID))
	}
	h.deliver(rooms, serverMessage{Type: msgVitalsUpdate, Data: o, Timestamp: time.Now().UTC()})

	if o.SeverityHint != model.SeverityCritical && o.SeverityHint != model.SeverityHighFever {
		return
	}
	alertRooms := []string{patientAlertsRoom(o.PatientID)}
	if o.HospitalID != "" {
		alertRooms = append(alertRooms, hospitalAlertsRoom(o.HospitalID))
	}
	h.deliver(alertRooms, serverMessage{Type: msgPatientAlert, Data: o, Timestamp: time.Now().UTC()})
}

// BroadcastEmergency sends an emergency_alert to the patient and hospital
// alert rooms and always to system:alerts.
func (h *Hub) BroadcastEmergency(ev model.EmergencyEvent) {
	rooms := []string{RoomSystemAlerts}
	if ev.PatientID != "" {
		rooms = append(rooms, patientRoom(ev.PatientID), patientAlertsRoom(ev.PatientID))
	}
	if ev.HospitalID != "" {
		rooms = append(rooms, hospitalAlertsRoom(ev.HospitalID))
	}
	h.deliver(rooms, serverMessage{Type: msgEmergencyAlert, Data: ev, Timestamp: time.Now().UTC()})
}

// deliver enqueues one marshaled frame to the union of the rooms'
// members; a client in several matched rooms receives a single copy.
func (h *Hub) deliver(rooms []string, msg serverMessage) {
	raw, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	seen := make(map[*client]struct{})
	for _, room := range rooms {
		for c := range h.rooms[room] {
			seen[c] = struct{}{}
		}
	}
	targets := make([]*client, 0, len(seen))
	for c := range seen {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(raw)
	}
}

// ── lifecycle ─────────────────────────────────────────────────────────────

// Shutdown refuses new connections, closes every peer with 1001, and
// waits for the pumps to drain until ctx expires.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	for _, c := range clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			deadline)
		c.conn.Close()
	}

	for {
		h.mu.RLock()
		remaining := len(h.clients)
		h.mu.RUnlock()
		if remaining == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Stats snapshots connection counts for health and metrics surfaces.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := Stats{Connections: len(h.clients), Rooms: len(h.rooms)}
	for c := range h.clients {
		if c.degraded.Load() {
			st.Degraded++
		}
		st.DroppedFrames += c.dropped.Load()
	}
	return st
}
