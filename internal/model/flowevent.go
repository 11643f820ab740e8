package model

import "time"

// FlowStep identifies one of the five processing steps every inbound
// message walks through. The numeric prefix keeps dashboard sorting
// trivial and matches the wire values the operator UI expects.
type FlowStep string

const (
	StepReceived        FlowStep = "1_received"
	StepDecoded         FlowStep = "2_decoded"
	StepResolved        FlowStep = "3_resolved"
	StepSnapshotUpdated FlowStep = "4_snapshot_updated"
	StepPersisted       FlowStep = "5_persisted"
)

// FlowStatus is the outcome recorded for a step.
type FlowStatus string

const (
	FlowSuccess FlowStatus = "success"
	FlowError   FlowStatus = "error"
	FlowInfo    FlowStatus = "info"
)

// FlowEvent is the per-step processing record emitted for live dashboards
// and persisted in the event-log store. Emission is best effort: losing a
// flow event must never fail persistence of the observation it describes.
type FlowEvent struct {
	Step           FlowStep     `bson:"step" json:"step" validate:"required,oneof=1_received 2_decoded 3_resolved 4_snapshot_updated 5_persisted"`
	Status         FlowStatus   `bson:"status" json:"status" validate:"required,oneof=success error info"`
	DeviceFamily   DeviceFamily `bson:"device_family" json:"device_family" validate:"required,oneof=gateway_box watch hospital_kiosk"`
	Topic          string       `bson:"topic" json:"topic" validate:"required"`
	Timestamp      time.Time    `bson:"timestamp" json:"timestamp" validate:"required"`
	PatientRef     string       `bson:"patient_ref,omitempty" json:"patient_ref,omitempty"`
	ObservationRef string       `bson:"observation_ref,omitempty" json:"observation_ref,omitempty"`
	ErrorKind      string       `bson:"error_kind,omitempty" json:"error_kind,omitempty"`
	ErrorMessage   string       `bson:"error_message,omitempty" json:"error_message,omitempty"`
	PayloadExcerpt string       `bson:"payload_excerpt,omitempty" json:"payload_excerpt,omitempty"`
}

// EventLogRecord is a flattened FlowEvent as stored by the event-log
// store: the event itself plus which pipeline (or monitor) emitted it and
// the arrival time at the store. Retention is enforced on ServerTimestamp.
type EventLogRecord struct {
	ID              string    `bson:"_id" json:"id"`
	Source          string    `bson:"source" json:"source"`
	FlowEvent       `bson:",inline"`
	ServerTimestamp time.Time `bson:"server_timestamp" json:"server_timestamp"`
}

// ExcerptLimit caps payload excerpts carried inside flow events so a
// single oversized device payload cannot bloat the event log.
const ExcerptLimit = 256

// Excerpt truncates raw payload bytes to ExcerptLimit for inclusion in a
// flow event.
func Excerpt(raw []byte) string {
	if len(raw) <= ExcerptLimit {
		return string(raw)
	}
	return string(raw[:ExcerptLimit])
}
