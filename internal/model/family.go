// Package model defines the canonical data model shared by every stage of
// the telemetry core: device families, the observation and emergency types
// produced by the normalizer, the per-step flow events consumed by the
// dashboards, and the document shapes of the collections the core reads
// from and writes to.
//
// Invariants that hold across the whole pipeline live here as constructors
// and lookup tables so that adding a device type or observation type is a
// compile-time change, not a runtime string convention.
package model

// DeviceFamily identifies one of the three closed device families. Each
// family owns a distinct MQTT topic namespace and resolution chain.
type DeviceFamily string

const (
	FamilyGatewayBox    DeviceFamily = "gateway_box"
	FamilyWatch         DeviceFamily = "watch"
	FamilyHospitalKiosk DeviceFamily = "hospital_kiosk"
)

// Valid reports whether f is one of the three known families.
func (f DeviceFamily) Valid() bool {
	switch f {
	case FamilyGatewayBox, FamilyWatch, FamilyHospitalKiosk:
		return true
	}
	return false
}

// ObservationType is the closed set of canonical measurement types.
type ObservationType string

const (
	TypeBloodPressure   ObservationType = "blood_pressure"
	TypeBloodGlucose    ObservationType = "blood_glucose"
	TypeSpO2            ObservationType = "spo2"
	TypeBodyTemperature ObservationType = "body_temperature"
	TypeBodyWeight      ObservationType = "body_weight"
	TypeHeartRate       ObservationType = "heart_rate"
	TypeStepCount       ObservationType = "step_count"
	TypeSleep           ObservationType = "sleep"
	TypeUricAcid        ObservationType = "uric_acid"
	TypeCholesterol     ObservationType = "cholesterol"
)

// AllObservationTypes lists every canonical type. Order is stable; the
// repository uses it to provision history collections and their indexes.
var AllObservationTypes = []ObservationType{
	TypeBloodPressure,
	TypeBloodGlucose,
	TypeSpO2,
	TypeBodyTemperature,
	TypeBodyWeight,
	TypeHeartRate,
	TypeStepCount,
	TypeSleep,
	TypeUricAcid,
	TypeCholesterol,
}

// historyCollections maps each observation type to its append-only history
// collection. The names are a wire contract shared with the admin layer,
// including the historical misspelling of temprature_data_histories, and
// must never be "fixed" here.
var historyCollections = map[ObservationType]string{
	TypeBloodPressure:   "blood_pressure_histories",
	TypeBloodGlucose:    "blood_sugar_histories",
	TypeSpO2:            "spo2_histories",
	TypeBodyTemperature: "temprature_data_histories",
	TypeBodyWeight:      "body_data_histories",
	TypeHeartRate:       "heart_rate_histories",
	TypeStepCount:       "step_histories",
	TypeSleep:           "sleep_data_histories",
	TypeUricAcid:        "uric_acid_histories",
	TypeCholesterol:     "cholesterol_histories",
}

// HistoryCollection returns the history collection name for t, and false
// for an unknown type.
func HistoryCollection(t ObservationType) (string, bool) {
	name, ok := historyCollections[t]
	return name, ok
}

// snapshotFields maps each observation type to the patient-record field
// holding its latest-value snapshot. Sleep has no snapshot: the core stores
// sleep payloads verbatim in history only.
var snapshotFields = map[ObservationType]string{
	TypeBloodPressure:   "last_blood_pressure",
	TypeBloodGlucose:    "last_glucose",
	TypeSpO2:            "last_spo2",
	TypeBodyTemperature: "last_temperature",
	TypeBodyWeight:      "last_weight",
	TypeHeartRate:       "last_heart_rate",
	TypeStepCount:       "last_step_count",
	TypeUricAcid:        "last_uric_acid",
	TypeCholesterol:     "last_cholesterol",
}

// SnapshotField returns the patient field that mirrors the latest
// observation of type t. ok is false for types without a snapshot (sleep).
func SnapshotField(t ObservationType) (string, bool) {
	name, ok := snapshotFields[t]
	return name, ok
}
