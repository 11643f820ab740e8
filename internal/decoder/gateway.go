package decoder

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/model"
)

// Status is a device-presence report from a gateway box or watch. It
// produces no observation, only a device-status flow event.
type Status struct {
	DeviceFamily model.DeviceFamily
	GatewayMac   string
	IMEI         string
	Message      string
	At           time.Time
}

func (s *Status) Family() model.DeviceFamily { return s.DeviceFamily }

// Reading is one element of a dusun_pub device_list: a single measurement
// taken by a BLE sub-device, identified by its BLE address.
type Reading struct {
	ScanTime int64    `json:"scan_time"`
	BLEAddr  string   `json:"ble_addr"`
	BPHigh   *int     `json:"bp_high,omitempty"`
	BPLow    *int     `json:"bp_low,omitempty"`
	PR       *int     `json:"PR,omitempty"`
	SpO2     *int     `json:"spo2,omitempty"`
	Pulse    *int     `json:"pulse,omitempty"`
	PI       *float64 `json:"pi,omitempty"`
	Glucose  *float64 `json:"blood_glucose,omitempty"`
	Marker   string   `json:"marker,omitempty"`
	Temp     *float64 `json:"temp,omitempty"`
	Mode     string   `json:"mode,omitempty"`
	Weight   *float64 `json:"weight,omitempty"`
	Resist   *float64 `json:"resistance,omitempty"`
	UricAcid *float64 `json:"uric_acid,omitempty"`
	Chol     *float64 `json:"cholesterol,omitempty"`
}

// MeasuredAt resolves the reading timestamp: the per-reading scan_time
// wins, then the envelope time, then the broker receipt time.
func (r Reading) MeasuredAt(envelope int64, receivedAt time.Time) time.Time {
	if r.ScanTime > 0 {
		return unixUTC(r.ScanTime)
	}
	if envelope > 0 {
		return unixUTC(envelope)
	}
	return receivedAt.UTC()
}

// Medical is a decoded dusun_pub envelope: one gateway box reporting one
// or more readings from a single BLE sub-device attribute.
type Medical struct {
	GatewayMac   string
	Attribute    string
	EnvelopeTime int64
	ReceivedAt   time.Time
	Readings     []Reading
}

func (m *Medical) Family() model.DeviceFamily { return model.FamilyGatewayBox }

type gatewayEnvelope struct {
	From       string          `json:"from"`
	To         string          `json:"to"`
	Time       int64           `json:"time"`
	Mac        string          `json:"mac"`
	DeviceCode string          `json:"deviceCode"`
	Type       string          `json:"type"`
	Device     string          `json:"device"`
	Data       json.RawMessage `json:"data"`
}

type gatewayData struct {
	Attribute string `json:"attribute"`
	Mac       string `json:"mac"`
	Value     struct {
		DeviceList []Reading `json:"device_list"`
	} `json:"value"`
}

func decodeGatewayMedical(payload []byte, receivedAt time.Time) (Decoded, error) {
	var env gatewayEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, invalidJSON(err)
	}
	mac := env.Mac
	if mac == "" {
		mac = env.DeviceCode
	}
	if mac == "" {
		return nil, missingField("mac")
	}
	if len(env.Data) == 0 {
		return nil, missingField("data")
	}
	var data gatewayData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, invalidJSON(err)
	}
	if data.Attribute == "" {
		return nil, missingField("data.attribute")
	}
	if len(data.Value.DeviceList) == 0 {
		return nil, missingField("data.value.device_list")
	}
	for i, r := range data.Value.DeviceList {
		if r.BLEAddr == "" {
			return nil, missingField(fmt.Sprintf("data.value.device_list[%d].ble_addr", i))
		}
	}
	return &Medical{
		GatewayMac:   mac,
		Attribute:    data.Attribute,
		EnvelopeTime: env.Time,
		ReceivedAt:   receivedAt.UTC(),
		Readings:     data.Value.DeviceList,
	}, nil
}

type gatewayStatusMsg struct {
	Mac  string `json:"mac"`
	IP   string `json:"IP"`
	Time int64  `json:"time"`
	Type string `json:"type"`
	Data struct {
		Msg string `json:"msg"`
	} `json:"data"`
}

func decodeGatewayStatus(payload []byte) (Decoded, error) {
	var msg gatewayStatusMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, invalidJSON(err)
	}
	if msg.Mac == "" {
		return nil, missingField("mac")
	}
	st := &Status{DeviceFamily: model.FamilyGatewayBox, GatewayMac: msg.Mac, Message: msg.Data.Msg}
	if msg.Time > 0 {
		st.At = unixUTC(msg.Time)
	}
	return st, nil
}
