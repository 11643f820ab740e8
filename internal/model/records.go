package model

import "time"

// UnregisteredNameMarker is the name written on patient scaffolds
// auto-created by the kiosk pipeline for unknown citizen identifiers.
const UnregisteredNameMarker = "UNREGISTERED"

// Patient is the shared patient record. The core reads it during
// resolution and owns exactly the last_* snapshot subfields; everything
// else belongs to the external admin layer.
type Patient struct {
	ID        string    `bson:"_id" json:"patient_id"`
	FirstName string    `bson:"first_name,omitempty" json:"first_name,omitempty"`
	LastName  string    `bson:"last_name,omitempty" json:"last_name,omitempty"`
	Gender    string    `bson:"gender,omitempty" json:"gender,omitempty"`
	BirthDate time.Time `bson:"birth_date,omitempty" json:"birth_date,omitempty"`

	CitizenID  string `bson:"citizen_id,omitempty" json:"citizen_id,omitempty"`
	HospitalID string `bson:"hospital_id,omitempty" json:"hospital_id,omitempty"`
	CreatedBy  string `bson:"created_by,omitempty" json:"created_by,omitempty"`

	// Device bindings used by the resolver fallback chains.
	AvaMacAddress   string `bson:"ava_mac_address,omitempty" json:"ava_mac_address,omitempty"`
	WatchMacAddress string `bson:"watch_mac_address,omitempty" json:"watch_mac_address,omitempty"`

	// Typed per-device MAC fields. A sub-device MAC may be bound directly
	// to a patient through the field matching its device class.
	BPMacAddress           string `bson:"bp_mac_address,omitempty" json:"bp_mac_address,omitempty"`
	BloodGlucoseMacAddress string `bson:"blood_glucose_mac_address,omitempty" json:"blood_glucose_mac_address,omitempty"`
	SpO2MacAddress         string `bson:"spo2_mac_address,omitempty" json:"spo2_mac_address,omitempty"`
	BodyTempMacAddress     string `bson:"body_temp_mac_address,omitempty" json:"body_temp_mac_address,omitempty"`
	WeightScaleMacAddress  string `bson:"weight_scale_mac_address,omitempty" json:"weight_scale_mac_address,omitempty"`
	UricMacAddress         string `bson:"uric_mac_address,omitempty" json:"uric_mac_address,omitempty"`
	CholesterolMacAddress  string `bson:"cholesterol_mac_address,omitempty" json:"cholesterol_mac_address,omitempty"`

	// Latest-value snapshots, owned by the persister. Sleep is listed for
	// completeness but only ever written by the admin layer.
	LastBloodPressure *VitalSnapshot `bson:"last_blood_pressure,omitempty" json:"last_blood_pressure,omitempty"`
	LastGlucose       *VitalSnapshot `bson:"last_glucose,omitempty" json:"last_glucose,omitempty"`
	LastSpO2          *VitalSnapshot `bson:"last_spo2,omitempty" json:"last_spo2,omitempty"`
	LastTemperature   *VitalSnapshot `bson:"last_temperature,omitempty" json:"last_temperature,omitempty"`
	LastWeight        *VitalSnapshot `bson:"last_weight,omitempty" json:"last_weight,omitempty"`
	LastHeartRate     *VitalSnapshot `bson:"last_heart_rate,omitempty" json:"last_heart_rate,omitempty"`
	LastStepCount     *VitalSnapshot `bson:"last_step_count,omitempty" json:"last_step_count,omitempty"`
	LastSleep         *VitalSnapshot `bson:"last_sleep,omitempty" json:"last_sleep,omitempty"`
	LastUricAcid      *VitalSnapshot `bson:"last_uric_acid,omitempty" json:"last_uric_acid,omitempty"`
	LastCholesterol   *VitalSnapshot `bson:"last_cholesterol,omitempty" json:"last_cholesterol,omitempty"`
}

// TypedMacFor returns the MAC bound on the patient for the device class
// implied by an observation type, or "" when the class has no typed field.
func (p *Patient) TypedMacFor(t ObservationType) string {
	switch t {
	case TypeBloodPressure:
		return p.BPMacAddress
	case TypeBloodGlucose:
		return p.BloodGlucoseMacAddress
	case TypeSpO2:
		return p.SpO2MacAddress
	case TypeBodyTemperature:
		return p.BodyTempMacAddress
	case TypeBodyWeight:
		return p.WeightScaleMacAddress
	case TypeUricAcid:
		return p.UricMacAddress
	case TypeCholesterol:
		return p.CholesterolMacAddress
	}
	return ""
}

// Hospital is the shared hospital record; the core reads it to attach
// hospital context to observations and FHIR organization references.
type Hospital struct {
	ID         string   `bson:"_id" json:"hospital_id"`
	Name       string   `bson:"name,omitempty" json:"name,omitempty"`
	MacHV01Box string   `bson:"mac_hv01_box,omitempty" json:"mac_hv01_box,omitempty"`
	Lat        *float64 `bson:"lat,omitempty" json:"lat,omitempty"`
	Lng        *float64 `bson:"lng,omitempty" json:"lng,omitempty"`
}

// SubDevice is one entry of the gateway-box sub-device registry: a BLE
// medical device paired to a patient through an HV01 box.
type SubDevice struct {
	ID            string `bson:"_id" json:"id"`
	BLEAddr       string `bson:"ble_addr" json:"ble_addr"`
	GatewayMac    string `bson:"gateway_mac,omitempty" json:"gateway_mac,omitempty"`
	DeviceTypeTag string `bson:"device_type,omitempty" json:"device_type,omitempty"`
	PatientID     string `bson:"patient_id,omitempty" json:"patient_id,omitempty"`
	HospitalID    string `bson:"hospital_id,omitempty" json:"hospital_id,omitempty"`
}

// WatchDevice is one entry of the watch registry, keyed by IMEI.
type WatchDevice struct {
	ID         string `bson:"_id" json:"id"`
	IMEI       string `bson:"imei" json:"imei"`
	PatientID  string `bson:"patient_id,omitempty" json:"patient_id,omitempty"`
	HospitalID string `bson:"hospital_id,omitempty" json:"hospital_id,omitempty"`
	Model      string `bson:"model,omitempty" json:"model,omitempty"`
}

// GatewayBox is one entry of the mfc_hv01_boxes registry, associating a
// gateway MAC with a hospital.
type GatewayBox struct {
	ID         string `bson:"_id" json:"id"`
	MacAddress string `bson:"mac_address" json:"mac_address"`
	HospitalID string `bson:"hospital_id,omitempty" json:"hospital_id,omitempty"`
	Location   string `bson:"location,omitempty" json:"location,omitempty"`
}

// DeviceRecord is the resolver's view of the concrete device a payload
// came from, normalized across families.
type DeviceRecord struct {
	Family        DeviceFamily `json:"device_family"`
	DeviceID      string       `json:"device_id"`
	GatewayMac    string       `json:"gateway_mac,omitempty"`
	DeviceTypeTag string       `json:"device_type_tag,omitempty"`
	HospitalID    string       `json:"hospital_id,omitempty"`
	PatientID     string       `json:"patient_id,omitempty"`
}
