package decoder

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/model"
)

// BloodPressure is the watch wire shape for a BP reading.
type BloodPressure struct {
	Sys int `json:"bp_sys"`
	Dia int `json:"bp_dia"`
}

// WatchVitals is a decoded VitalSign payload: a spot reading of up to
// four vitals taken at one instant.
type WatchVitals struct {
	IMEI       string
	HeartRate  *int
	BP         *BloodPressure
	SpO2       *int
	BodyTemp   *float64
	Battery    *int
	SignalGSM  *int
	Step       *int
	Location   *model.Location
	MeasuredAt time.Time
}

func (v *WatchVitals) Family() model.DeviceFamily { return model.FamilyWatch }

// BatchSample is one element of an AP55 backfill batch. Ordinal is the
// zero-based position within the data array and participates in the raw
// fingerprint so identical same-second samples stay distinct.
type BatchSample struct {
	Ordinal    int
	HeartRate  *int
	BP         *BloodPressure
	SpO2       *int
	BodyTemp   *float64
	MeasuredAt time.Time
}

// WatchBatch is a decoded AP55 payload: offline-buffered samples the
// watch uploads after regaining connectivity.
type WatchBatch struct {
	IMEI    string
	Samples []BatchSample
}

func (b *WatchBatch) Family() model.DeviceFamily { return model.FamilyWatch }

// WatchHeartbeat is a decoded hb payload. Only the step counter becomes
// an observation; battery and signal feed the device-status flow event.
type WatchHeartbeat struct {
	IMEI       string
	Step       *int
	Battery    *int
	SignalGSM  *int
	Satellites *int
	MeasuredAt time.Time
}

func (h *WatchHeartbeat) Family() model.DeviceFamily { return model.FamilyWatch }

// WatchLocation is a decoded standalone location report.
type WatchLocation struct {
	IMEI     string
	Location model.Location
	At       time.Time
}

func (l *WatchLocation) Family() model.DeviceFamily { return model.FamilyWatch }

// WatchSleep is a decoded sleepdata payload. The sleep block is carried
// verbatim; no interpretation of the vendor encoding happens here.
type WatchSleep struct {
	IMEI       string
	Payload    map[string]interface{}
	MeasuredAt time.Time
}

func (s *WatchSleep) Family() model.DeviceFamily { return model.FamilyWatch }

// Emergency is a decoded SOS or fallDown payload.
type Emergency struct {
	IMEI       string
	Kind       model.EmergencyKind
	Location   *model.Location
	OccurredAt time.Time
}

func (e *Emergency) Family() model.DeviceFamily { return model.FamilyWatch }

// ── wire shapes ───────────────────────────────────────────────────────────

type wireGPS struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Speed     *float64 `json:"speed"`
	Header    *float64 `json:"header"`
}

type wireLBS struct {
	MCC int `json:"MCC"`
	MNC int `json:"MNC"`
	LAC int `json:"LAC"`
	CID int `json:"CID"`
}

type wireAP struct {
	SSID string `json:"SSID"`
	MAC  string `json:"MAC"`
	RSSI int    `json:"RSSI"`
}

type wireLocation struct {
	GPS  *wireGPS `json:"GPS"`
	LBS  *wireLBS `json:"LBS"`
	WiFi []wireAP `json:"WiFi"`
}

// toModel picks the best available source: GPS, then cell, then wifi.
func (w *wireLocation) toModel() *model.Location {
	if w == nil {
		return nil
	}
	if w.GPS != nil && w.GPS.Latitude != nil && w.GPS.Longitude != nil {
		return &model.Location{
			Source:      model.LocationGPS,
			Coordinates: &model.Coordinates{Lat: *w.GPS.Latitude, Lng: *w.GPS.Longitude},
			Speed:       w.GPS.Speed,
			Heading:     w.GPS.Header,
		}
	}
	if w.LBS != nil && w.LBS.CID != 0 {
		return &model.Location{
			Source: model.LocationCell,
			Cell:   &model.CellTower{MCC: w.LBS.MCC, MNC: w.LBS.MNC, LAC: w.LBS.LAC, CID: w.LBS.CID},
		}
	}
	if len(w.WiFi) > 0 {
		aps := make([]model.WiFiAccessPoint, 0, len(w.WiFi))
		for _, ap := range w.WiFi {
			aps = append(aps, model.WiFiAccessPoint{SSID: ap.SSID, MAC: ap.MAC, RSSI: ap.RSSI})
		}
		return &model.Location{Source: model.LocationWiFi, WiFi: aps}
	}
	return nil
}

type watchVitalsMsg struct {
	IMEI       string         `json:"IMEI"`
	HeartRate  *int           `json:"heartRate"`
	BP         *BloodPressure `json:"bloodPressure"`
	SpO2       *int           `json:"spO2"`
	BodyTemp   *float64       `json:"bodyTemperature"`
	Battery    *int           `json:"battery"`
	SignalGSM  *int           `json:"signalGSM"`
	Step       *int           `json:"step"`
	TimeStamps string         `json:"timeStamps"`
	Location   *wireLocation  `json:"location"`
}

func decodeWatchVitals(payload []byte, receivedAt time.Time) (Decoded, error) {
	var msg watchVitalsMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, invalidJSON(err)
	}
	if msg.IMEI == "" {
		return nil, missingField("IMEI")
	}
	at := receivedAt.UTC()
	if msg.TimeStamps != "" {
		t, err := parseWatchTime(msg.TimeStamps)
		if err != nil {
			return nil, err
		}
		at = t
	}
	return &WatchVitals{
		IMEI:       msg.IMEI,
		HeartRate:  msg.HeartRate,
		BP:         msg.BP,
		SpO2:       msg.SpO2,
		BodyTemp:   msg.BodyTemp,
		Battery:    msg.Battery,
		SignalGSM:  msg.SignalGSM,
		Step:       msg.Step,
		Location:   msg.Location.toModel(),
		MeasuredAt: at,
	}, nil
}

type batchSampleMsg struct {
	HeartRate *int           `json:"heartRate"`
	BP        *BloodPressure `json:"bloodPressure"`
	SpO2      *int           `json:"spO2"`
	BodyTemp  *float64       `json:"bodyTemperature"`
	Timestamp int64          `json:"timestamp"`
}

type watchBatchMsg struct {
	IMEI     string           `json:"IMEI"`
	NumDatas *int             `json:"num_datas"`
	Data     []batchSampleMsg `json:"data"`
}

func decodeWatchBatch(payload []byte) (Decoded, error) {
	var msg watchBatchMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, invalidJSON(err)
	}
	if msg.IMEI == "" {
		return nil, missingField("IMEI")
	}
	if msg.NumDatas == nil {
		return nil, missingField("num_datas")
	}
	if *msg.NumDatas != len(msg.Data) {
		return nil, &DecodeError{
			Kind:   ErrKindCountMismatch,
			Reason: fmt.Sprintf("num_datas=%d but data has %d entries", *msg.NumDatas, len(msg.Data)),
		}
	}
	samples := make([]BatchSample, 0, len(msg.Data))
	for i, s := range msg.Data {
		if s.Timestamp <= 0 {
			return nil, missingField(fmt.Sprintf("data[%d].timestamp", i))
		}
		samples = append(samples, BatchSample{
			Ordinal:    i,
			HeartRate:  s.HeartRate,
			BP:         s.BP,
			SpO2:       s.SpO2,
			BodyTemp:   s.BodyTemp,
			MeasuredAt: unixUTC(s.Timestamp),
		})
	}
	return &WatchBatch{IMEI: msg.IMEI, Samples: samples}, nil
}

type watchHeartbeatMsg struct {
	IMEI       string `json:"IMEI"`
	Step       *int   `json:"step"`
	Battery    *int   `json:"battery"`
	SignalGSM  *int   `json:"signalGSM"`
	Satellites *int   `json:"satellites"`
	TimeStamps string `json:"timeStamps"`
}

func decodeWatchHeartbeat(payload []byte, receivedAt time.Time) (Decoded, error) {
	var msg watchHeartbeatMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, invalidJSON(err)
	}
	if msg.IMEI == "" {
		return nil, missingField("IMEI")
	}
	at := receivedAt.UTC()
	if msg.TimeStamps != "" {
		t, err := parseWatchTime(msg.TimeStamps)
		if err != nil {
			return nil, err
		}
		at = t
	}
	return &WatchHeartbeat{
		IMEI:       msg.IMEI,
		Step:       msg.Step,
		Battery:    msg.Battery,
		SignalGSM:  msg.SignalGSM,
		Satellites: msg.Satellites,
		MeasuredAt: at,
	}, nil
}

type watchLocationMsg struct {
	IMEI       string        `json:"IMEI"`
	Location   *wireLocation `json:"location"`
	TimeStamps string        `json:"timeStamps"`
}

func decodeWatchLocation(payload []byte) (Decoded, error) {
	var msg watchLocationMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, invalidJSON(err)
	}
	if msg.IMEI == "" {
		return nil, missingField("IMEI")
	}
	loc := msg.Location.toModel()
	if loc == nil {
		return nil, missingField("location")
	}
	out := &WatchLocation{IMEI: msg.IMEI, Location: *loc}
	if msg.TimeStamps != "" {
		t, err := parseWatchTime(msg.TimeStamps)
		if err != nil {
			return nil, err
		}
		out.At = t
	}
	return out, nil
}

func decodeWatchSleep(payload []byte, receivedAt time.Time) (Decoded, error) {
	var msg struct {
		IMEI  string                 `json:"IMEI"`
		Sleep map[string]interface{} `json:"sleep"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, invalidJSON(err)
	}
	if msg.IMEI == "" {
		return nil, missingField("IMEI")
	}
	if len(msg.Sleep) == 0 {
		return nil, missingField("sleep")
	}
	out := &WatchSleep{IMEI: msg.IMEI, Payload: msg.Sleep, MeasuredAt: receivedAt.UTC()}
	if ts, ok := msg.Sleep["timeStamps"].(string); ok && ts != "" {
		t, err := parseWatchTime(ts)
		if err != nil {
			return nil, err
		}
		out.MeasuredAt = t
	}
	return out, nil
}

type watchEmergencyMsg struct {
	IMEI       string        `json:"IMEI"`
	Status     string        `json:"status"`
	Location   *wireLocation `json:"location"`
	TimeStamps string        `json:"timeStamps"`
}

func decodeWatchEmergency(payload []byte, kind model.EmergencyKind, receivedAt time.Time) (Decoded, error) {
	var msg watchEmergencyMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, invalidJSON(err)
	}
	if msg.IMEI == "" {
		return nil, missingField("IMEI")
	}
	at := receivedAt.UTC()
	if msg.TimeStamps != "" {
		t, err := parseWatchTime(msg.TimeStamps)
		if err != nil {
			return nil, err
		}
		at = t
	}
	return &Emergency{
		IMEI:       msg.IMEI,
		Kind:       kind,
		Location:   msg.Location.toModel(),
		OccurredAt: at,
	}, nil
}

func decodeWatchOnline(payload []byte) (Decoded, error) {
	var msg struct {
		IMEI   string `json:"IMEI"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, invalidJSON(err)
	}
	if msg.IMEI == "" {
		return nil, missingField("IMEI")
	}
	return &Status{DeviceFamily: model.FamilyWatch, IMEI: msg.IMEI, Message: msg.Status}, nil
}
