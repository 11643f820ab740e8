// Package decoder parses raw bus payloads into tagged per-family variants.
//
// The decoder is the only place in the core allowed to interpret local-time
// strings: device firmware in the field reports wall-clock time in the
// Asia/Bangkok zone, and every timestamp leaving this package is UTC.
// Structural problems (invalid JSON, missing required keys, type
// mismatches, batch count mismatches) surface as *DecodeError and discard
// the message at step 2.
package decoder

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/model"
)

// Topic names form a closed mapping; each family owns its namespace.
const (
	TopicGatewayStatus  = "ESP32_BLE_GW_TX"
	TopicGatewayMedical = "dusun_pub"
	TopicKiosk          = "CM4_BLE_GW_TX"

	WatchTopicPrefix   = "iMEDE_watch/"
	TopicWatchVitals   = WatchTopicPrefix + "VitalSign"
	TopicWatchBatch    = WatchTopicPrefix + "AP55"
	TopicWatchHB       = WatchTopicPrefix + "hb"
	TopicWatchLocation = WatchTopicPrefix + "location"
	TopicWatchSleep    = WatchTopicPrefix + "sleepdata"
	TopicWatchSOS      = WatchTopicPrefix + "SOS"
	TopicWatchSOSLower = WatchTopicPrefix + "sos"
	TopicWatchFall     = WatchTopicPrefix + "fallDown"
	TopicWatchOnline   = WatchTopicPrefix + "onlineTrigger"
)

// GatewayTopics is the subscription set of the gateway-box pipeline.
var GatewayTopics = []string{TopicGatewayStatus, TopicGatewayMedical}

// WatchTopics is the subscription set of the watch pipeline.
var WatchTopics = []string{
	TopicWatchVitals, TopicWatchBatch, TopicWatchHB, TopicWatchLocation,
	TopicWatchSleep, TopicWatchSOS, TopicWatchSOSLower, TopicWatchFall,
	TopicWatchOnline,
}

// KioskTopics is the subscription set of the hospital-kiosk pipeline.
var KioskTopics = []string{TopicKiosk}

// FamilyForTopic maps a topic to its owning device family; ok is false for
// topics outside the closed mapping.
func FamilyForTopic(topic string) (model.DeviceFamily, bool) {
	switch topic {
	case TopicGatewayStatus, TopicGatewayMedical:
		return model.FamilyGatewayBox, true
	case TopicKiosk:
		return model.FamilyHospitalKiosk, true
	}
	if strings.HasPrefix(topic, WatchTopicPrefix) {
		return model.FamilyWatch, true
	}
	return "", false
}

// DecodeError kinds.
const (
	ErrKindInvalidJSON   = "invalid_json"
	ErrKindMissingField  = "missing_field"
	ErrKindTypeMismatch  = "type_mismatch"
	ErrKindCountMismatch = "count_mismatch"
	ErrKindUnknownTopic  = "unknown_topic"
)

// DecodeError reports a structurally invalid payload. Messages failing
// with a DecodeError are poison pills: they are never retried.
type DecodeError struct {
	Kind   string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.Kind, e.Reason)
}

func invalidJSON(err error) *DecodeError {
	if _, ok := err.(*json.UnmarshalTypeError); ok {
		return &DecodeError{Kind: ErrKindTypeMismatch, Reason: err.Error()}
	}
	return &DecodeError{Kind: ErrKindInvalidJSON, Reason: err.Error()}
}

func missingField(name string) *DecodeError {
	return &DecodeError{Kind: ErrKindMissingField, Reason: name + " is required"}
}

// Decoded is the tagged result of decoding one bus payload. The concrete
// variants below mirror the topic grammar; the normalizer type-switches
// over them.
type Decoded interface {
	Family() model.DeviceFamily
}

// Decode parses payload according to the topic's grammar. receivedAt is
// used as the timestamp of last resort for payloads that carry none.
func Decode(topic string, payload []byte, receivedAt time.Time) (Decoded, error) {
	switch topic {
	case TopicGatewayStatus:
		return decodeGatewayStatus(payload)
	case TopicGatewayMedical:
		return decodeGatewayMedical(payload, receivedAt)
	case TopicKiosk:
		return decodeKiosk(payload, receivedAt)
	case TopicWatchVitals:
		return decodeWatchVitals(payload, receivedAt)
	case TopicWatchBatch:
		return decodeWatchBatch(payload)
	case TopicWatchHB:
		return decodeWatchHeartbeat(payload, receivedAt)
	case TopicWatchLocation:
		return decodeWatchLocation(payload)
	case TopicWatchSleep:
		return decodeWatchSleep(payload, receivedAt)
	case TopicWatchSOS, TopicWatchSOSLower:
		return decodeWatchEmergency(payload, model.EmergencyPanic, receivedAt)
	case TopicWatchFall:
		return decodeWatchEmergency(payload, model.EmergencyFall, receivedAt)
	case TopicWatchOnline:
		return decodeWatchOnline(payload)
	}
	return nil, &DecodeError{Kind: ErrKindUnknownTopic, Reason: topic}
}

// ── time handling ─────────────────────────────────────────────────────────

// deviceZone is the named zone device firmware reports wall-clock time in.
// Containers without tzdata fall back to a fixed UTC+7 offset, which is
// equivalent for this zone (no DST).
var deviceZone = loadDeviceZone()

func loadDeviceZone() *time.Location {
	loc, err := time.LoadLocation("Asia/Bangkok")
	if err != nil {
		return time.FixedZone("ICT", 7*60*60)
	}
	return loc
}

const watchTimeLayout = "02/01/2006 15:04:05"

// parseWatchTime converts the dd/MM/yyyy HH:mm:ss local-time strings the
// watches send into UTC.
func parseWatchTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(watchTimeLayout, s, deviceZone)
	if err != nil {
		return time.Time{}, &DecodeError{Kind: ErrKindTypeMismatch, Reason: fmt.Sprintf("timestamp %q: %v", s, err)}
	}
	return t.UTC(), nil
}

// unixUTC converts epoch seconds to UTC.
func unixUTC(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
