package fanout

import (
	"strings"
	"time"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/model"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/repository"
)

// Server→client message types. The set is closed; dashboards switch on it.
const (
	msgInitialData    = "initial_data"
	msgFlowEvent      = "flow_event"
	msgVitalsUpdate   = "vitals_update"
	msgPatientAlert   = "patient_alert"
	msgEmergencyAlert = "emergency_alert"
	msgSubscription   = "subscription"
	msgPong           = "pong"
)

// Fixed room names. Parameterized rooms are built by the helpers below.
const (
	RoomSystemAlerts = "system:alerts"
	RoomAdminUpdates = "admin:updates"
)

// serverMessage is the envelope for every outbound frame.
type serverMessage struct {
	Type      string      `json:"type"`
	Room      string      `json:"room,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// clientMessage is what dashboards send: subscribe, unsubscribe, ping.
type clientMessage struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
}

// subscriptionAck confirms or rejects a room request.
type subscriptionAck struct {
	Room   string `json:"room,omitempty"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// flowEventData is a flow event flattened with its emitting pipeline.
type flowEventData struct {
	Source string `json:"source"`
	model.FlowEvent
}

// initialData is the snapshot sent on connect: recent flow events, the
// last hour's family/status counts, and unacknowledged emergencies.
type initialData struct {
	RecentEvents      []model.EventLogRecord       `json:"recent_events"`
	Aggregates        *repository.WindowAggregates `json:"aggregates,omitempty"`
	ActiveEmergencies []model.EmergencyEvent       `json:"active_emergencies"`
}

func patientRoom(id string) string       { return "patient:" + id }
func patientVitalsRoom(id string) string { return "patient:" + id + ":vitals" }
func patientAlertsRoom(id string) string { return "patient:" + id + ":alerts" }

func hospitalRoom(id string) string        { return "hospital:" + id }
func hospitalAlertsRoom(id string) string  { return "hospital:" + id + ":alerts" }
func hospitalDevicesRoom(id string) string { return "hospital:" + id + ":devices" }

func deviceRoom(family model.DeviceFamily, id string) string {
	return "device:" + string(family) + ":" + id
}

// validRoom reports whether a client-requested room matches the closed
// grammar. Device ids may themselves contain colons (MAC addresses), so
// the device branch splits at most twice.
func validRoom(room string) bool {
	switch room {
	case RoomSystemAlerts, RoomAdminUpdates:
		return true
	}
	parts := strings.SplitN(room, ":", 3)
	if len(parts) < 2 || parts[1] == "" {
		return false
	}
	switch parts[0] {
	case "patient":
		if len(parts) == 2 {
			return true
		}
		return parts[2] == "vitals" || parts[2] == "alerts"
	case "hospital":
		if len(parts) == 2 {
			return true
		}
		return parts[2] == "alerts" || parts[2] == "devices"
	case "device":
		return len(parts) == 3 && model.DeviceFamily(parts[1]).Valid() && parts[2] != ""
	}
	return false
}
