package model

import (
	"time"

	"github.com/google/uuid"
)

// SeverityHint is a non-clinical threshold classification attached to an
// observation for dashboard display. It never drives clinical action.
type SeverityHint string

const (
	SeverityNormal    SeverityHint = "normal"
	SeverityLow       SeverityHint = "low"
	SeverityHigh      SeverityHint = "high"
	SeverityCritical  SeverityHint = "critical"
	SeverityFever     SeverityHint = "fever"
	SeverityHighFever SeverityHint = "high_fever"
)

// Observation is the canonical medical measurement produced by the
// normalizer and persisted by the persister.
//
// The tuple (source_device_id, measured_at, observation_type,
// raw_fingerprint) is the duplicate-suppression key: replaying the same
// source bytes must never create a second history row.
type Observation struct {
	ID             string          `bson:"_id" json:"observation_id"`
	PatientID      string          `bson:"patient_id" json:"patient_id"`
	DeviceFamily   DeviceFamily    `bson:"device_family" json:"device_family"`
	SourceDeviceID string          `bson:"source_device_id" json:"source_device_id"`
	Type           ObservationType `bson:"observation_type" json:"observation_type"`
	MeasuredAt     time.Time       `bson:"measured_at" json:"measured_at"`
	Values         Values          `bson:"values" json:"values"`
	HospitalID     string          `bson:"hospital_id,omitempty" json:"hospital_id,omitempty"`
	SeverityHint   SeverityHint    `bson:"severity_hint,omitempty" json:"severity_hint,omitempty"`
	Location       *Location       `bson:"location,omitempty" json:"location,omitempty"`
	RawFingerprint string          `bson:"raw_fingerprint" json:"raw_fingerprint"`
	CreatedAt      time.Time       `bson:"created_at" json:"created_at"`
}

// NewObservation allocates an observation with a fresh UUID and the
// measured_at normalized to UTC.
func NewObservation(t ObservationType, patientID string, family DeviceFamily, sourceDeviceID string, measuredAt time.Time, values Values) Observation {
	return Observation{
		ID:             uuid.New().String(),
		PatientID:      patientID,
		DeviceFamily:   family,
		SourceDeviceID: sourceDeviceID,
		Type:           t,
		MeasuredAt:     measuredAt.UTC(),
		Values:         values,
		CreatedAt:      time.Now().UTC(),
	}
}

// Snapshot builds the latest-value view of this observation for the
// patient record.
func (o Observation) Snapshot() VitalSnapshot {
	return VitalSnapshot{
		Values:             o.Values,
		MeasuredAt:         o.MeasuredAt,
		SourceDeviceFamily: o.DeviceFamily,
	}
}

// VitalSnapshot is the last_<type> field maintained on a patient record
// for O(1) latest-value access. History remains the source of truth.
type VitalSnapshot struct {
	Values             `bson:",inline"`
	MeasuredAt         time.Time    `bson:"measured_at" json:"measured_at"`
	SourceDeviceFamily DeviceFamily `bson:"source_device_family" json:"source_device_family"`
}
