package decoder

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/model"
)

var testReceivedAt = time.Date(2025, 7, 13, 2, 0, 0, 0, time.UTC)

func decodeErr(t *testing.T, err error) *DecodeError {
	t.Helper()
	var de *DecodeError
	require.True(t, errors.As(err, &de), "expected *DecodeError, got %v", err)
	return de
}

func TestFamilyForTopic(t *testing.T) {
	cases := []struct {
		topic  string
		family model.DeviceFamily
		ok     bool
	}{
		{"ESP32_BLE_GW_TX", model.FamilyGatewayBox, true},
		{"dusun_pub", model.FamilyGatewayBox, true},
		{"CM4_BLE_GW_TX", model.FamilyHospitalKiosk, true},
		{"iMEDE_watch/VitalSign", model.FamilyWatch, true},
		{"iMEDE_watch/anything", model.FamilyWatch, true},
		{"somewhere_else", "", false},
	}
	for _, tc := range cases {
		fam, ok := FamilyForTopic(tc.topic)
		assert.Equal(t, tc.ok, ok, tc.topic)
		assert.Equal(t, tc.family, fam, tc.topic)
	}
}

func TestDecodeGatewayMedical(t *testing.T) {
	payload := []byte(`{
		"from":"BLE","to":"CLOUD","time":1836942771,
		"deviceCode":"AA:BB:CC:DD:EE:FF","mac":"AA:BB:CC:DD:EE:FF",
		"type":"reportAttribute","device":"WBP BIOLIGHT",
		"data":{"attribute":"BP_BIOLIGTH","mac":"AA:BB:CC:DD:EE:FF",
			"value":{"device_list":[{"scan_time":1836942771,"ble_addr":"d616f9641622","bp_high":137,"bp_low":95,"PR":74}]}}}`)

	dec, err := Decode(TopicGatewayMedical, payload, testReceivedAt)
	require.NoError(t, err)
	med, ok := dec.(*Medical)
	require.True(t, ok)

	assert.Equal(t, model.FamilyGatewayBox, med.Family())
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", med.GatewayMac)
	assert.Equal(t, "BP_BIOLIGTH", med.Attribute)
	require.Len(t, med.Readings, 1)

	r := med.Readings[0]
	assert.Equal(t, "d616f9641622", r.BLEAddr)
	require.NotNil(t, r.BPHigh)
	assert.Equal(t, 137, *r.BPHigh)
	require.NotNil(t, r.BPLow)
	assert.Equal(t, 95, *r.BPLow)
	require.NotNil(t, r.PR)
	assert.Equal(t, 74, *r.PR)
	assert.Equal(t, time.Date(2028, 3, 17, 21, 52, 51, 0, time.UTC), r.MeasuredAt(med.EnvelopeTime, testReceivedAt))
}

func TestDecodeGatewayMedicalTimestampFallback(t *testing.T) {
	r := Reading{BLEAddr: "aa"}
	assert.Equal(t, time.Date(2028, 3, 17, 21, 52, 51, 0, time.UTC), r.MeasuredAt(1836942771, testReceivedAt))
	assert.Equal(t, testReceivedAt, r.MeasuredAt(0, testReceivedAt))

	r.ScanTime = 1736935000
	assert.Equal(t, time.Date(2025, 1, 15, 9, 56, 40, 0, time.UTC), r.MeasuredAt(1836942771, testReceivedAt))
}

func TestDecodeGatewayMedicalErrors(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		kind    string
	}{
		{"invalid json", `{`, ErrKindInvalidJSON},
		{"missing mac", `{"data":{"attribute":"BP_BIOLIGTH","value":{"device_list":[{"ble_addr":"a"}]}}}`, ErrKindMissingField},
		{"missing data", `{"mac":"AA"}`, ErrKindMissingField},
		{"missing attribute", `{"mac":"AA","data":{"value":{"device_list":[{"ble_addr":"a"}]}}}`, ErrKindMissingField},
		{"empty device_list", `{"mac":"AA","data":{"attribute":"BP_BIOLIGTH","value":{"device_list":[]}}}`, ErrKindMissingField},
		{"missing ble_addr", `{"mac":"AA","data":{"attribute":"BP_BIOLIGTH","value":{"device_list":[{"bp_high":120}]}}}`, ErrKindMissingField},
		{"bp_high as string", `{"mac":"AA","data":{"attribute":"BP_BIOLIGTH","value":{"device_list":[{"ble_addr":"a","bp_high":"137"}]}}}`, ErrKindTypeMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(TopicGatewayMedical, []byte(tc.payload), testReceivedAt)
			assert.Equal(t, tc.kind, decodeErr(t, err).Kind)
		})
	}
}

func TestDecodeGatewayStatus(t *testing.T) {
	payload := []byte(`{"mac":"AA:BB:CC:DD:EE:FF","IP":"10.0.0.12","time":1736935000,"type":"HB_Msg","data":{"msg":"Online"}}`)
	dec, err := Decode(TopicGatewayStatus, payload, testReceivedAt)
	require.NoError(t, err)
	st, ok := dec.(*Status)
	require.True(t, ok)
	assert.Equal(t, model.FamilyGatewayBox, st.Family())
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", st.GatewayMac)
	assert.Equal(t, "Online", st.Message)
	assert.Equal(t, time.Date(2025, 1, 15, 9, 56, 40, 0, time.UTC), st.At)
}

func TestDecodeWatchVitals(t *testing.T) {
	payload := []byte(`{
		"IMEI":"861265061482607","heartRate":75,
		"bloodPressure":{"bp_sys":120,"bp_dia":80},
		"spO2":98,"bodyTemperature":36.5,"battery":85,"signalGSM":4,
		"step":5000,"timeStamps":"13/07/2025 08:50:59"}`)

	dec, err := Decode(TopicWatchVitals, payload, testReceivedAt)
	require.NoError(t, err)
	v, ok := dec.(*WatchVitals)
	require.True(t, ok)

	assert.Equal(t, "861265061482607", v.IMEI)
	require.NotNil(t, v.HeartRate)
	assert.Equal(t, 75, *v.HeartRate)
	require.NotNil(t, v.BP)
	assert.Equal(t, 120, v.BP.Sys)
	assert.Equal(t, 80, v.BP.Dia)
	require.NotNil(t, v.SpO2)
	assert.Equal(t, 98, *v.SpO2)
	require.NotNil(t, v.BodyTemp)
	assert.InDelta(t, 36.5, *v.BodyTemp, 1e-9)
	require.NotNil(t, v.Step)
	assert.Equal(t, 5000, *v.Step)

	// 08:50:59 Bangkok wall clock is 01:50:59 UTC.
	assert.Equal(t, time.Date(2025, 7, 13, 1, 50, 59, 0, time.UTC), v.MeasuredAt)
}

func TestDecodeWatchVitalsPartial(t *testing.T) {
	dec, err := Decode(TopicWatchVitals, []byte(`{"IMEI":"861265061482607","spO2":97}`), testReceivedAt)
	require.NoError(t, err)
	v := dec.(*WatchVitals)
	assert.Nil(t, v.HeartRate)
	assert.Nil(t, v.BP)
	require.NotNil(t, v.SpO2)
	assert.Equal(t, testReceivedAt, v.MeasuredAt)
}

func TestDecodeWatchVitalsErrors(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		kind    string
	}{
		{"missing imei", `{"heartRate":70}`, ErrKindMissingField},
		{"bad timestamp", `{"IMEI":"1","timeStamps":"2025-07-13 08:50:59"}`, ErrKindTypeMismatch},
		{"heartRate as string", `{"IMEI":"1","heartRate":"75"}`, ErrKindTypeMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(TopicWatchVitals, []byte(tc.payload), testReceivedAt)
			assert.Equal(t, tc.kind, decodeErr(t, err).Kind)
		})
	}
}

func TestDecodeWatchBatch(t *testing.T) {
	payload := []byte(`{
		"IMEI":"861265061482607","num_datas":2,
		"data":[
			{"heartRate":70,"bloodPressure":{"bp_sys":118,"bp_dia":79},"spO2":97,"bodyTemperature":36.6,"timestamp":1736935000},
			{"heartRate":72,"timestamp":1736935060}
		]}`)

	dec, err := Decode(TopicWatchBatch, payload, testReceivedAt)
	require.NoError(t, err)
	b, ok := dec.(*WatchBatch)
	require.True(t, ok)
	require.Len(t, b.Samples, 2)

	assert.Equal(t, 0, b.Samples[0].Ordinal)
	assert.Equal(t, 1, b.Samples[1].Ordinal)
	assert.Equal(t, time.Date(2025, 1, 15, 9, 56, 40, 0, time.UTC), b.Samples[0].MeasuredAt)
	assert.Equal(t, time.Date(2025, 1, 15, 9, 57, 40, 0, time.UTC), b.Samples[1].MeasuredAt)
	require.NotNil(t, b.Samples[1].HeartRate)
	assert.Equal(t, 72, *b.Samples[1].HeartRate)
	assert.Nil(t, b.Samples[1].BP)
}

func TestDecodeWatchBatchCountMismatch(t *testing.T) {
	payload := []byte(`{"IMEI":"1","num_datas":3,"data":[{"heartRate":70,"timestamp":1736935000}]}`)
	_, err := Decode(TopicWatchBatch, []byte(payload), testReceivedAt)
	de := decodeErr(t, err)
	assert.Equal(t, ErrKindCountMismatch, de.Kind)
	assert.Contains(t, de.Reason, "num_datas=3")
}

func TestDecodeWatchBatchMissingCounts(t *testing.T) {
	_, err := Decode(TopicWatchBatch, []byte(`{"IMEI":"1","data":[]}`), testReceivedAt)
	assert.Equal(t, ErrKindMissingField, decodeErr(t, err).Kind)

	_, err = Decode(TopicWatchBatch, []byte(`{"IMEI":"1","num_datas":1,"data":[{"heartRate":70}]}`), testReceivedAt)
	assert.Equal(t, ErrKindMissingField, decodeErr(t, err).Kind)
}

func TestDecodeWatchHeartbeat(t *testing.T) {
	payload := []byte(`{"IMEI":"861265061482607","step":1200,"battery":80,"signalGSM":3,"timeStamps":"13/07/2025 09:00:00"}`)
	dec, err := Decode(TopicWatchHB, payload, testReceivedAt)
	require.NoError(t, err)
	hb, ok := dec.(*WatchHeartbeat)
	require.True(t, ok)
	require.NotNil(t, hb.Step)
	assert.Equal(t, 1200, *hb.Step)
	require.NotNil(t, hb.Battery)
	assert.Equal(t, 80, *hb.Battery)
	assert.Equal(t, time.Date(2025, 7, 13, 2, 0, 0, 0, time.UTC), hb.MeasuredAt)
}

func TestDecodeWatchHeartbeatNoStep(t *testing.T) {
	dec, err := Decode(TopicWatchHB, []byte(`{"IMEI":"1","battery":50}`), testReceivedAt)
	require.NoError(t, err)
	hb := dec.(*WatchHeartbeat)
	assert.Nil(t, hb.Step)
}

func TestDecodeWatchLocationPrefersGPS(t *testing.T) {
	payload := []byte(`{
		"IMEI":"861265061482607",
		"location":{
			"GPS":{"latitude":13.7563,"longitude":100.5018,"speed":0.1,"header":350.01},
			"LBS":{"MCC":520,"MNC":3,"LAC":1815,"CID":79474300},
			"WiFi":[{"SSID":"ward-5","MAC":"aa:bb:cc:dd:ee:01","RSSI":-61}]
		},
		"timeStamps":"13/07/2025 08:50:59"}`)

	dec, err := Decode(TopicWatchLocation, payload, testReceivedAt)
	require.NoError(t, err)
	l, ok := dec.(*WatchLocation)
	require.True(t, ok)
	assert.Equal(t, model.LocationGPS, l.Location.Source)
	require.NotNil(t, l.Location.Coordinates)
	assert.InDelta(t, 13.7563, l.Location.Coordinates.Lat, 1e-9)
	assert.InDelta(t, 100.5018, l.Location.Coordinates.Lng, 1e-9)
	assert.Nil(t, l.Location.Cell)
	assert.Empty(t, l.Location.WiFi)
}

func TestDecodeWatchLocationFallbacks(t *testing.T) {
	cell := []byte(`{"IMEI":"1","location":{"LBS":{"MCC":520,"MNC":3,"LAC":1815,"CID":79474300}}}`)
	dec, err := Decode(TopicWatchLocation, cell, testReceivedAt)
	require.NoError(t, err)
	assert.Equal(t, model.LocationCell, dec.(*WatchLocation).Location.Source)

	wifi := []byte(`{"IMEI":"1","location":{"WiFi":[{"SSID":"s","MAC":"m","RSSI":-70}]}}`)
	dec, err = Decode(TopicWatchLocation, wifi, testReceivedAt)
	require.NoError(t, err)
	assert.Equal(t, model.LocationWiFi, dec.(*WatchLocation).Location.Source)

	_, err = Decode(TopicWatchLocation, []byte(`{"IMEI":"1","location":{}}`), testReceivedAt)
	assert.Equal(t, ErrKindMissingField, decodeErr(t, err).Kind)
}

func TestDecodeWatchSleep(t *testing.T) {
	payload := []byte(`{"IMEI":"861265061482607","sleep":{"timeStamps":"13/07/2025 07:00:00","time":"2200@0700","data":"0011223344","num":120}}`)
	dec, err := Decode(TopicWatchSleep, payload, testReceivedAt)
	require.NoError(t, err)
	s, ok := dec.(*WatchSleep)
	require.True(t, ok)
	assert.Equal(t, "2200@0700", s.Payload["time"])
	assert.Equal(t, "0011223344", s.Payload["data"])
	assert.Equal(t, time.Date(2025, 7, 13, 0, 0, 0, 0, time.UTC), s.MeasuredAt)
}

func TestDecodeWatchEmergency(t *testing.T) {
	payload := []byte(`{"IMEI":"861265061482607","status":"SOS","location":{"GPS":{"latitude":13.7,"longitude":100.5}},"timeStamps":"13/07/2025 08:50:59"}`)

	dec, err := Decode(TopicWatchSOS, payload, testReceivedAt)
	require.NoError(t, err)
	e, ok := dec.(*Emergency)
	require.True(t, ok)
	assert.Equal(t, model.EmergencyPanic, e.Kind)
	require.NotNil(t, e.Location)
	assert.Equal(t, model.LocationGPS, e.Location.Source)
	assert.Equal(t, time.Date(2025, 7, 13, 1, 50, 59, 0, time.UTC), e.OccurredAt)

	dec, err = Decode(TopicWatchSOSLower, payload, testReceivedAt)
	require.NoError(t, err)
	assert.Equal(t, model.EmergencyPanic, dec.(*Emergency).Kind)

	dec, err = Decode(TopicWatchFall, []byte(`{"IMEI":"1","status":"FALL DOWN"}`), testReceivedAt)
	require.NoError(t, err)
	fall := dec.(*Emergency)
	assert.Equal(t, model.EmergencyFall, fall.Kind)
	assert.Nil(t, fall.Location)
	assert.Equal(t, testReceivedAt, fall.OccurredAt)
}

func TestDecodeWatchOnline(t *testing.T) {
	dec, err := Decode(TopicWatchOnline, []byte(`{"IMEI":"861265061482607","status":"online"}`), testReceivedAt)
	require.NoError(t, err)
	st, ok := dec.(*Status)
	require.True(t, ok)
	assert.Equal(t, model.FamilyWatch, st.Family())
	assert.Equal(t, "861265061482607", st.IMEI)
	assert.Equal(t, "online", st.Message)
}

func TestDecodeKiosk(t *testing.T) {
	payload := []byte(`{
		"from":"BLE","to":"CLOUD","time":1736935000,
		"mac":"11:22:33:44:55:66","type":"reportAttribute",
		"citizen_id":"1234567890123",
		"data":{"attribute":"CONTOUR","value":{"blood_glucose":142,"marker":"After Meal"}}}`)

	dec, err := Decode(TopicKiosk, payload, testReceivedAt)
	require.NoError(t, err)
	k, ok := dec.(*Kiosk)
	require.True(t, ok)
	assert.Equal(t, model.FamilyHospitalKiosk, k.Family())
	assert.Equal(t, "11:22:33:44:55:66", k.KioskMac)
	assert.Equal(t, "1234567890123", k.CitizenID)
	assert.Equal(t, "CONTOUR", k.Attribute)
	require.NotNil(t, k.Reading.Glucose)
	assert.InDelta(t, 142, *k.Reading.Glucose, 1e-9)
	assert.Equal(t, "After Meal", k.Reading.Marker)
	assert.Equal(t, time.Date(2025, 1, 15, 9, 56, 40, 0, time.UTC), k.MeasuredAt)
}

func TestDecodeKioskMissingCitizen(t *testing.T) {
	payload := []byte(`{"mac":"11:22:33:44:55:66","data":{"attribute":"Contour_Elite","value":{"blood_glucose":142}}}`)
	_, err := Decode(TopicKiosk, payload, testReceivedAt)
	de := decodeErr(t, err)
	assert.Equal(t, ErrKindMissingField, de.Kind)
	assert.Contains(t, de.Reason, "citizen_id")
}

func TestDecodeUnknownTopic(t *testing.T) {
	_, err := Decode("mystery_topic", []byte(`{}`), testReceivedAt)
	assert.Equal(t, ErrKindUnknownTopic, decodeErr(t, err).Kind)
}
