package model

// GlucoseMarker qualifies a blood-glucose reading relative to a meal.
type GlucoseMarker string

const (
	MarkerPreMeal     GlucoseMarker = "pre"
	MarkerPostMeal    GlucoseMarker = "post"
	MarkerUnspecified GlucoseMarker = "unspecified"
)

// TemperatureMode records where a body-temperature reading was taken.
type TemperatureMode string

const (
	TempModeEar      TemperatureMode = "ear"
	TempModeForehead TemperatureMode = "forehead"
	TempModeOther    TemperatureMode = "other"
)

// Values carries the per-type measurement payload of an observation. Only
// the fields belonging to the observation's type are set; everything else
// stays nil and is omitted from both BSON and JSON. The flat shape matches
// the history documents the admin layer already reads.
type Values struct {
	// blood_pressure (mmHg / bpm)
	Systolic  *int `bson:"systolic,omitempty" json:"systolic,omitempty"`
	Diastolic *int `bson:"diastolic,omitempty" json:"diastolic,omitempty"`
	Pulse     *int `bson:"pulse,omitempty" json:"pulse,omitempty"`

	// blood_glucose, uric_acid, cholesterol (mg/dL)
	MgPerDL *float64      `bson:"mg_per_dl,omitempty" json:"mg_per_dl,omitempty"`
	Marker  GlucoseMarker `bson:"marker,omitempty" json:"marker,omitempty"`

	// spo2
	Percent *float64 `bson:"percent,omitempty" json:"percent,omitempty"`
	PI      *float64 `bson:"pi,omitempty" json:"pi,omitempty"`

	// body_temperature
	Celsius *float64        `bson:"celsius,omitempty" json:"celsius,omitempty"`
	Mode    TemperatureMode `bson:"mode,omitempty" json:"mode,omitempty"`

	// body_weight
	Kg         *float64 `bson:"kg,omitempty" json:"kg,omitempty"`
	Resistance *float64 `bson:"resistance,omitempty" json:"resistance,omitempty"`

	// heart_rate
	BPM *int `bson:"bpm,omitempty" json:"bpm,omitempty"`

	// step_count
	Steps *int `bson:"steps,omitempty" json:"steps,omitempty"`

	// sleep, stored verbatim without interpreting the vendor encoding
	Sleep map[string]interface{} `bson:"sleep,omitempty" json:"sleep,omitempty"`
}

// IntPtr returns a pointer to v. Convenience for building Values literals.
func IntPtr(v int) *int { return &v }

// FloatPtr returns a pointer to v.
func FloatPtr(v float64) *float64 { return &v }

// BloodPressureValues builds the value payload for a blood_pressure
// observation. pulse may be nil when the cuff did not report one.
func BloodPressureValues(systolic, diastolic int, pulse *int) Values {
	return Values{Systolic: IntPtr(systolic), Diastolic: IntPtr(diastolic), Pulse: pulse}
}

// GlucoseValues builds the value payload for a blood_glucose observation.
// An empty marker is normalized to MarkerUnspecified.
func GlucoseValues(mgPerDL float64, marker GlucoseMarker) Values {
	if marker == "" {
		marker = MarkerUnspecified
	}
	return Values{MgPerDL: FloatPtr(mgPerDL), Marker: marker}
}

// SpO2Values builds the value payload for an spo2 observation. pulse may
// be nil for sources that report pulse rate separately.
func SpO2Values(percent float64, pulse *int, pi *float64) Values {
	return Values{Percent: FloatPtr(percent), Pulse: pulse, PI: pi}
}

// TemperatureValues builds the value payload for a body_temperature
// observation. An empty mode is normalized to TempModeOther.
func TemperatureValues(celsius float64, mode TemperatureMode) Values {
	if mode == "" {
		mode = TempModeOther
	}
	return Values{Celsius: FloatPtr(celsius), Mode: mode}
}

// WeightValues builds the value payload for a body_weight observation.
func WeightValues(kg float64, resistance *float64) Values {
	return Values{Kg: FloatPtr(kg), Resistance: resistance}
}

// HeartRateValues builds the value payload for a heart_rate observation.
func HeartRateValues(bpm int) Values {
	return Values{BPM: IntPtr(bpm)}
}

// StepValues builds the value payload for a step_count observation.
func StepValues(steps int) Values {
	return Values{Steps: IntPtr(steps)}
}

// ConcentrationValues builds the value payload for uric_acid and
// cholesterol observations.
func ConcentrationValues(mgPerDL float64) Values {
	return Values{MgPerDL: FloatPtr(mgPerDL)}
}

// SleepValues wraps an opaque sleep payload.
func SleepValues(raw map[string]interface{}) Values {
	return Values{Sleep: raw}
}
