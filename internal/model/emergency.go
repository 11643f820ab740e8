package model

import (
	"time"

	"github.com/google/uuid"
)

// EmergencyKind is the closed set of emergency event kinds.
type EmergencyKind string

const (
	EmergencyPanic EmergencyKind = "panic"
	EmergencyFall  EmergencyKind = "fall"
)

// EmergencySeverity is fixed per kind: panic is always critical, fall is
// always high.
type EmergencySeverity string

const (
	SeverityEmergencyCritical EmergencySeverity = "critical"
	SeverityEmergencyHigh     EmergencySeverity = "high"
)

// EmergencyStatus tracks operator acknowledgement. The core only ever
// writes active; acknowledgement belongs to the admin layer.
type EmergencyStatus string

const (
	EmergencyActive       EmergencyStatus = "active"
	EmergencyAcknowledged EmergencyStatus = "acknowledged"
)

// EmergencyEvent is a panic or fall event raised by a watch. It is
// persisted to its own collection and always broadcast to the fanout hub;
// it never touches patient snapshots.
type EmergencyEvent struct {
	ID         string                 `bson:"_id" json:"event_id"`
	PatientID  string                 `bson:"patient_id,omitempty" json:"patient_id,omitempty"`
	DeviceID   string                 `bson:"device_id" json:"device_id"`
	Kind       EmergencyKind          `bson:"kind" json:"kind"`
	Severity   EmergencySeverity      `bson:"severity" json:"severity"`
	Location   *Location              `bson:"location,omitempty" json:"location,omitempty"`
	OccurredAt time.Time              `bson:"occurred_at" json:"occurred_at"`
	Status     EmergencyStatus        `bson:"status" json:"status"`
	HospitalID string                 `bson:"hospital_id,omitempty" json:"hospital_id,omitempty"`
	Raw        map[string]interface{} `bson:"raw,omitempty" json:"raw,omitempty"`
}

// NewEmergencyEvent builds an active emergency event. Severity is derived
// from kind here so callers cannot pair them inconsistently.
func NewEmergencyEvent(kind EmergencyKind, deviceID string, occurredAt time.Time) EmergencyEvent {
	severity := SeverityEmergencyHigh
	if kind == EmergencyPanic {
		severity = SeverityEmergencyCritical
	}
	return EmergencyEvent{
		ID:         uuid.New().String(),
		DeviceID:   deviceID,
		Kind:       kind,
		Severity:   severity,
		OccurredAt: occurredAt.UTC(),
		Status:     EmergencyActive,
	}
}
