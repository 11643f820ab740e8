// Package normalizer turns decoded payloads into canonical observations
// and emergency events. It is stateless: identity resolution happened in
// the resolver, and everything here is a pure transformation over the
// decoded variant plus the resolved identity.
package normalizer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/decoder"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/model"
)

// Identity is the resolved ownership of an inbound payload.
type Identity struct {
	PatientID      string
	HospitalID     string
	SourceDeviceID string
}

// Notes attached to bundles that legitimately carry no observation.
const (
	NoteNoObservation = "no_observation"
	NoteDeviceStatus  = "device_status"
)

// Bundle is the normalizer output for one inbound message.
type Bundle struct {
	Observations []model.Observation
	Emergencies  []model.EmergencyEvent

	// Note is set instead of records for payloads that yield nothing,
	// such as heartbeats without a step counter or presence reports.
	Note string
}

// Empty reports whether the bundle carries no records at all.
func (b Bundle) Empty() bool {
	return len(b.Observations) == 0 && len(b.Emergencies) == 0
}

// NormalizationError reports a payload whose value shape is incompatible
// with its declared attribute or topic. The message is discarded.
type NormalizationError struct {
	Reason string
}

func (e *NormalizationError) Error() string {
	return "normalize: " + e.Reason
}

func shapeErr(format string, args ...interface{}) *NormalizationError {
	return &NormalizationError{Reason: fmt.Sprintf(format, args...)}
}

// Fingerprint derives the duplicate-suppression fingerprint for one
// sample of one envelope: hex SHA-256 over the topic, the raw envelope
// bytes and the sample's ordinal within the envelope. The ordinal keeps
// same-second batch samples distinct while byte-identical replays
// collide.
func Fingerprint(topic string, raw []byte, ordinal int) string {
	h := sha256.New()
	h.Write([]byte(topic))
	h.Write([]byte{'\n'})
	h.Write(raw)
	h.Write([]byte{'\n'})
	h.Write([]byte(strconv.Itoa(ordinal)))
	return hex.EncodeToString(h.Sum(nil))
}

// Normalize maps one decoded payload to its canonical records. receivedAt
// is the broker receipt time, used when the payload carries no timestamp
// of its own.
func Normalize(topic string, raw []byte, receivedAt time.Time, dec decoder.Decoded, id Identity) (Bundle, error) {
	switch d := dec.(type) {
	case *decoder.Status:
		return Bundle{Note: NoteDeviceStatus}, nil
	case *decoder.Medical:
		return normalizeMedical(topic, raw, d, id)
	case *decoder.Kiosk:
		return normalizeKiosk(topic, raw, d, id)
	case *decoder.WatchVitals:
		return normalizeWatchVitals(topic, raw, d, id)
	case *decoder.WatchBatch:
		return normalizeWatchBatch(topic, raw, d, id)
	case *decoder.WatchHeartbeat:
		return normalizeWatchHeartbeat(topic, raw, d, id)
	case *decoder.WatchSleep:
		return normalizeWatchSleep(topic, raw, d, id)
	case *decoder.WatchLocation:
		return Bundle{Note: NoteNoObservation}, nil
	case *decoder.Emergency:
		return normalizeEmergency(raw, d, id)
	}
	return Bundle{}, shapeErr("unsupported decoded variant %T", dec)
}

func newObservation(t model.ObservationType, id Identity, family model.DeviceFamily, measuredAt time.Time, values model.Values, topic string, raw []byte, ordinal int) model.Observation {
	o := model.NewObservation(t, id.PatientID, family, id.SourceDeviceID, measuredAt, values)
	o.HospitalID = id.HospitalID
	o.SeverityHint = classify(t, values)
	o.RawFingerprint = Fingerprint(topic, raw, ordinal)
	return o
}

func normalizeMedical(topic string, raw []byte, d *decoder.Medical, id Identity) (Bundle, error) {
	t, ok := TypeForAttribute(d.Attribute)
	if !ok {
		return Bundle{}, shapeErr("unknown attribute %q", d.Attribute)
	}
	var out Bundle
	for i, r := range d.Readings {
		values, err := valuesFromReading(t, d.Attribute, r)
		if err != nil {
			return Bundle{}, err
		}
		at := r.MeasuredAt(d.EnvelopeTime, d.ReceivedAt)
		out.Observations = append(out.Observations, newObservation(t, id, model.FamilyGatewayBox, at, values, topic, raw, i))
	}
	return out, nil
}

func normalizeKiosk(topic string, raw []byte, d *decoder.Kiosk, id Identity) (Bundle, error) {
	t, ok := TypeForAttribute(d.Attribute)
	if !ok {
		return Bundle{}, shapeErr("unknown attribute %q", d.Attribute)
	}
	values, err := valuesFromReading(t, d.Attribute, d.Reading)
	if err != nil {
		return Bundle{}, err
	}
	o := newObservation(t, id, model.FamilyHospitalKiosk, d.MeasuredAt, values, topic, raw, 0)
	return Bundle{Observations: []model.Observation{o}}, nil
}

func normalizeWatchVitals(topic string, raw []byte, d *decoder.WatchVitals, id Identity) (Bundle, error) {
	obs := vitalsObservations(topic, raw, id, d.MeasuredAt, 0, d.HeartRate, d.BP, d.SpO2, d.BodyTemp)
	if len(obs) == 0 {
		return Bundle{Note: NoteNoObservation}, nil
	}
	for i := range obs {
		obs[i].Location = d.Location
	}
	return Bundle{Observations: obs}, nil
}

func normalizeWatchBatch(topic string, raw []byte, d *decoder.WatchBatch, id Identity) (Bundle, error) {
	var out Bundle
	for _, s := range d.Samples {
		out.Observations = append(out.Observations,
			vitalsObservations(topic, raw, id, s.MeasuredAt, s.Ordinal, s.HeartRate, s.BP, s.SpO2, s.BodyTemp)...)
	}
	if len(out.Observations) == 0 {
		return Bundle{Note: NoteNoObservation}, nil
	}
	return out, nil
}

// vitalsObservations expands one watch sample into per-type observations.
// Sample order is preserved: callers iterate samples in wire order and
// every observation of one sample shares that sample's ordinal.
func vitalsObservations(topic string, raw []byte, id Identity, at time.Time, ordinal int, hr *int, bp *decoder.BloodPressure, spo2 *int, temp *float64) []model.Observation {
	var obs []model.Observation
	if hr != nil {
		obs = append(obs, newObservation(model.TypeHeartRate, id, model.FamilyWatch, at, model.HeartRateValues(*hr), topic, raw, ordinal))
	}
	if bp != nil {
		obs = append(obs, newObservation(model.TypeBloodPressure, id, model.FamilyWatch, at, model.BloodPressureValues(bp.Sys, bp.Dia, nil), topic, raw, ordinal))
	}
	if spo2 != nil {
		obs = append(obs, newObservation(model.TypeSpO2, id, model.FamilyWatch, at, model.SpO2Values(float64(*spo2), hr, nil), topic, raw, ordinal))
	}
	if temp != nil {
		obs = append(obs, newObservation(model.TypeBodyTemperature, id, model.FamilyWatch, at, model.TemperatureValues(*temp, model.TempModeOther), topic, raw, ordinal))
	}
	return obs
}

func normalizeWatchHeartbeat(topic string, raw []byte, d *decoder.WatchHeartbeat, id Identity) (Bundle, error) {
	if d.Step == nil {
		return Bundle{Note: NoteNoObservation}, nil
	}
	o := newObservation(model.TypeStepCount, id, model.FamilyWatch, d.MeasuredAt, model.StepValues(*d.Step), topic, raw, 0)
	return Bundle{Observations: []model.Observation{o}}, nil
}

func normalizeWatchSleep(topic string, raw []byte, d *decoder.WatchSleep, id Identity) (Bundle, error) {
	o := newObservation(model.TypeSleep, id, model.FamilyWatch, d.MeasuredAt, model.SleepValues(d.Payload), topic, raw, 0)
	return Bundle{Observations: []model.Observation{o}}, nil
}

func normalizeEmergency(raw []byte, d *decoder.Emergency, id Identity) (Bundle, error) {
	ev := model.NewEmergencyEvent(d.Kind, id.SourceDeviceID, d.OccurredAt)
	ev.PatientID = id.PatientID
	ev.HospitalID = id.HospitalID
	ev.Location = d.Location

	var rawMap map[string]interface{}
	if err := json.Unmarshal(raw, &rawMap); err == nil {
		ev.Raw = rawMap
	}
	return Bundle{Emergencies: []model.EmergencyEvent{ev}}, nil
}
