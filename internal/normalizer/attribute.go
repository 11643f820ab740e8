package normalizer

import (
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/decoder"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/model"
)

// attributeTypes is the closed attribute-to-type table. Attribute strings
// are the BLE sub-device model names gateway firmware reports and are
// matched case-sensitively; several firmware generations report the same
// device model under different names. Adding a device model is a
// compile-time change here.
var attributeTypes = map[string]model.ObservationType{
	"BP_BIOLIGTH":  model.TypeBloodPressure,
	"WBP BIOLIGHT": model.TypeBloodPressure,
	"BLE_BPG":      model.TypeBloodPressure,
	"WBP_JUMPER":   model.TypeBloodPressure,

	"Contour_Elite":    model.TypeBloodGlucose,
	"AccuChek_Instant": model.TypeBloodGlucose,
	"CONTOUR":          model.TypeBloodGlucose,

	"Oximeter JUMPER": model.TypeSpO2,
	"Oximeter_JUMPER": model.TypeSpO2,

	"IR_TEMO_JUMPER": model.TypeBodyTemperature,
	"TEMO_Jumper":    model.TypeBodyTemperature,

	"BodyScale_JUMPER": model.TypeBodyWeight,

	"MGSS_REF_UA":   model.TypeUricAcid,
	"MGSS_REF_CHOL": model.TypeCholesterol,
}

// TypeForAttribute maps a gateway attribute string to its canonical
// observation type; ok is false for attributes outside the closed table.
func TypeForAttribute(attr string) (model.ObservationType, bool) {
	t, ok := attributeTypes[attr]
	return t, ok
}

// markerFromWire maps the free-text meal marker glucose meters send to
// the canonical marker. Absent or unrecognized markers are unspecified.
func markerFromWire(s string) model.GlucoseMarker {
	switch s {
	case "Before Meal", "pre":
		return model.MarkerPreMeal
	case "After Meal", "post":
		return model.MarkerPostMeal
	}
	return model.MarkerUnspecified
}

// modeFromWire maps the thermometer probe mode string.
func modeFromWire(s string) model.TemperatureMode {
	switch s {
	case "Ear", "ear":
		return model.TempModeEar
	case "Forehead", "forehead":
		return model.TempModeForehead
	}
	return model.TempModeOther
}

// valuesFromReading builds the canonical value payload for one gateway or
// kiosk reading of the given type. A reading missing the fields its
// attribute promises is a shape error.
func valuesFromReading(t model.ObservationType, attr string, r decoder.Reading) (model.Values, error) {
	switch t {
	case model.TypeBloodPressure:
		if r.BPHigh == nil || r.BPLow == nil {
			return model.Values{}, shapeErr("%s reading lacks bp_high/bp_low", attr)
		}
		return model.BloodPressureValues(*r.BPHigh, *r.BPLow, r.PR), nil

	case model.TypeBloodGlucose:
		if r.Glucose == nil {
			return model.Values{}, shapeErr("%s reading lacks blood_glucose", attr)
		}
		return model.GlucoseValues(*r.Glucose, markerFromWire(r.Marker)), nil

	case model.TypeSpO2:
		if r.SpO2 == nil {
			return model.Values{}, shapeErr("%s reading lacks spo2", attr)
		}
		pulse := r.Pulse
		if pulse == nil {
			pulse = r.PR
		}
		return model.SpO2Values(float64(*r.SpO2), pulse, r.PI), nil

	case model.TypeBodyTemperature:
		if r.Temp == nil {
			return model.Values{}, shapeErr("%s reading lacks temp", attr)
		}
		return model.TemperatureValues(*r.Temp, modeFromWire(r.Mode)), nil

	case model.TypeBodyWeight:
		if r.Weight == nil {
			return model.Values{}, shapeErr("%s reading lacks weight", attr)
		}
		return model.WeightValues(*r.Weight, r.Resist), nil

	case model.TypeUricAcid:
		if r.UricAcid == nil {
			return model.Values{}, shapeErr("%s reading lacks uric_acid", attr)
		}
		return model.ConcentrationValues(*r.UricAcid), nil

	case model.TypeCholesterol:
		if r.Chol == nil {
			return model.Values{}, shapeErr("%s reading lacks cholesterol", attr)
		}
		return model.ConcentrationValues(*r.Chol), nil
	}
	return model.Values{}, shapeErr("attribute %s maps to unsupported type %s", attr, t)
}
