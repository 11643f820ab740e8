package fhir

import (
	"fmt"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/model"
)

// LOINC codes for the observation types the shadow writer emits.
const (
	loincBPPanel     = "85354-9"
	loincSystolic    = "8480-6"
	loincDiastolic   = "8462-4"
	loincHeartRate   = "8867-4"
	loincGlucose     = "2339-0"
	loincSpO2        = "59408-5"
	loincBodyTemp    = "8310-5"
	loincBodyWeight  = "29463-7"
	loincSteps       = "55423-8"
	loincUricAcid    = "3084-1"
	loincCholesterol = "2093-3"
)

var vitalSignsCategory = []CodeableConcept{{
	Coding: []Coding{{
		System:  "http://terminology.hl7.org/CodeSystem/observation-category",
		Code:    "vital-signs",
		Display: "Vital Signs",
	}},
}}

var laboratoryCategory = []CodeableConcept{{
	Coding: []Coding{{
		System:  "http://terminology.hl7.org/CodeSystem/observation-category",
		Code:    "laboratory",
		Display: "Laboratory",
	}},
}}

func loinc(code, display string) CodeableConcept {
	return CodeableConcept{
		Coding: []Coding{{System: SystemLOINC, Code: code, Display: display}},
		Text:   display,
	}
}

func ucum(value float64, unit, code string) *Quantity {
	return &Quantity{Value: value, Unit: unit, System: SystemUCUM, Code: code}
}

// ErrUnsupportedType marks observation types with no FHIR shape. The
// caller skips the shadow write for them.
type ErrUnsupportedType struct {
	Type model.ObservationType
}

func (e *ErrUnsupportedType) Error() string {
	return fmt.Sprintf("no fhir shape for observation type %q", e.Type)
}

// FromObservation shapes a canonical observation into a FHIR Observation.
// The resource reuses the observation id so replaying the shadow write is
// an idempotent overwrite rather than a second resource.
func FromObservation(o model.Observation) (Observation, error) {
	out := Observation{
		ID:                o.ID,
		ResourceType:      ResourceTypeObservation,
		Status:            "final",
		Category:          vitalSignsCategory,
		Subject:           &Reference{Reference: "Patient/" + o.PatientID},
		EffectiveDateTime: o.MeasuredAt,
		Issued:            o.CreatedAt,
		Device:            &Reference{Reference: "Device/" + o.SourceDeviceID, Display: string(o.DeviceFamily)},
	}
	if o.HospitalID != "" {
		out.Performer = []Reference{{Reference: "Organization/" + o.HospitalID}}
	}

	v := o.Values
	switch o.Type {
	case model.TypeBloodPressure:
		out.Code = loinc(loincBPPanel, "Blood pressure panel")
		out.Component = []Component{
			{Code: loinc(loincSystolic, "Systolic blood pressure"), ValueQuantity: ucum(float64(intOr(v.Systolic)), "mmHg", "mm[Hg]")},
			{Code: loinc(loincDiastolic, "Diastolic blood pressure"), ValueQuantity: ucum(float64(intOr(v.Diastolic)), "mmHg", "mm[Hg]")},
		}
		if v.Pulse != nil {
			out.Component = append(out.Component,
				Component{Code: loinc(loincHeartRate, "Heart rate"), ValueQuantity: ucum(float64(*v.Pulse), "beats/minute", "/min")})
		}

	case model.TypeBloodGlucose:
		out.Category = laboratoryCategory
		out.Code = loinc(loincGlucose, "Glucose [Mass/volume] in Blood")
		out.ValueQuantity = ucum(floatOr(v.MgPerDL), "mg/dL", "mg/dL")
		if v.Marker != "" && v.Marker != model.MarkerUnspecified {
			out.Note = []Annotation{{Text: "meal marker: " + string(v.Marker)}}
		}

	case model.TypeSpO2:
		out.Code = loinc(loincSpO2, "Oxygen saturation in Arterial blood by Pulse oximetry")
		out.ValueQuantity = ucum(floatOr(v.Percent), "%", "%")
		if v.Pulse != nil {
			out.Component = []Component{
				{Code: loinc(loincHeartRate, "Heart rate"), ValueQuantity: ucum(float64(*v.Pulse), "beats/minute", "/min")},
			}
		}

	case model.TypeBodyTemperature:
		out.Code = loinc(loincBodyTemp, "Body temperature")
		out.ValueQuantity = ucum(floatOr(v.Celsius), "C", "Cel")

	case model.TypeBodyWeight:
		out.Code = loinc(loincBodyWeight, "Body weight")
		out.ValueQuantity = ucum(floatOr(v.Kg), "kg", "kg")

	case model.TypeHeartRate:
		out.Code = loinc(loincHeartRate, "Heart rate")
		out.ValueQuantity = ucum(float64(intOr(v.BPM)), "beats/minute", "/min")

	case model.TypeStepCount:
		out.Code = loinc(loincSteps, "Number of steps")
		out.ValueQuantity = ucum(float64(intOr(v.Steps)), "steps", "{steps}")

	case model.TypeUricAcid:
		out.Category = laboratoryCategory
		out.Code = loinc(loincUricAcid, "Urate [Mass/volume] in Serum or Plasma")
		out.ValueQuantity = ucum(floatOr(v.MgPerDL), "mg/dL", "mg/dL")

	case model.TypeCholesterol:
		out.Category = laboratoryCategory
		out.Code = loinc(loincCholesterol, "Cholesterol [Mass/volume] in Serum or Plasma")
		out.ValueQuantity = ucum(floatOr(v.MgPerDL), "mg/dL", "mg/dL")

	default:
		// sleep has no FHIR shape; the opaque payload stays in history
		return Observation{}, &ErrUnsupportedType{Type: o.Type}
	}
	return out, nil
}

// FromHospital shapes a hospital record into a FHIR Organization. The
// resource id is the hospital id, so repeated writes upsert in place.
func FromHospital(h model.Hospital) Organization {
	org := Organization{
		ID:           h.ID,
		ResourceType: ResourceTypeOrganization,
		Name:         h.Name,
	}
	if h.MacHV01Box != "" {
		org.Identifier = []Identifier{{System: "urn:mfc:hv01-box-mac", Value: h.MacHV01Box}}
	}
	return org
}

// FromLocation shapes a GPS fix into a FHIR Location. Cell and wifi
// fixes carry no coordinates and produce ok=false.
func FromLocation(id string, loc model.Location, hospitalID string) (Location, bool) {
	if loc.Source != model.LocationGPS || loc.Coordinates == nil {
		return Location{}, false
	}
	out := Location{
		ID:           id,
		ResourceType: ResourceTypeLocation,
		Position:     &Position{Longitude: loc.Coordinates.Lng, Latitude: loc.Coordinates.Lat},
	}
	if hospitalID != "" {
		out.ManagingOrganization = &Reference{Reference: "Organization/" + hospitalID}
	}
	return out, true
}

func intOr(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func floatOr(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
