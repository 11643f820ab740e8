// Package fhir shapes observations into structurally valid FHIR R5
// resources for the shadow collections. Shaping only: no conformance
// validation, no terminology checks. History collections remain the
// source of truth; everything here is best-effort interoperability
// output.
package fhir

import "time"

// Resource type names.
const (
	ResourceTypeObservation  = "Observation"
	ResourceTypeOrganization = "Organization"
	ResourceTypeLocation     = "Location"
)

// Terminology systems.
const (
	SystemLOINC = "http://loinc.org"
	SystemUCUM  = "http://unitsofmeasure.org"
)

// Coding is one code from a terminology system.
type Coding struct {
	System  string `bson:"system,omitempty" json:"system,omitempty"`
	Code    string `bson:"code,omitempty" json:"code,omitempty"`
	Display string `bson:"display,omitempty" json:"display,omitempty"`
}

// CodeableConcept is a coded value with optional free text.
type CodeableConcept struct {
	Coding []Coding `bson:"coding,omitempty" json:"coding,omitempty"`
	Text   string   `bson:"text,omitempty" json:"text,omitempty"`
}

// Quantity is a measured amount with UCUM units.
type Quantity struct {
	Value  float64 `bson:"value" json:"value"`
	Unit   string  `bson:"unit,omitempty" json:"unit,omitempty"`
	System string  `bson:"system,omitempty" json:"system,omitempty"`
	Code   string  `bson:"code,omitempty" json:"code,omitempty"`
}

// Reference points at another resource.
type Reference struct {
	Reference string `bson:"reference,omitempty" json:"reference,omitempty"`
	Display   string `bson:"display,omitempty" json:"display,omitempty"`
}

// Identifier is a business identifier for a resource.
type Identifier struct {
	System string `bson:"system,omitempty" json:"system,omitempty"`
	Value  string `bson:"value,omitempty" json:"value,omitempty"`
}

// Component is one Observation.component entry.
type Component struct {
	Code          CodeableConcept `bson:"code" json:"code"`
	ValueQuantity *Quantity       `bson:"valueQuantity,omitempty" json:"valueQuantity,omitempty"`
}

// Position is a Location.position entry.
type Position struct {
	Longitude float64 `bson:"longitude" json:"longitude"`
	Latitude  float64 `bson:"latitude" json:"latitude"`
}

// Observation is a FHIR R5 Observation restricted to the fields the
// shadow writer produces.
type Observation struct {
	ID                string            `bson:"_id" json:"id"`
	ResourceType      string            `bson:"resourceType" json:"resourceType"`
	Status            string            `bson:"status" json:"status"`
	Category          []CodeableConcept `bson:"category,omitempty" json:"category,omitempty"`
	Code              CodeableConcept   `bson:"code" json:"code"`
	Subject           *Reference        `bson:"subject,omitempty" json:"subject,omitempty"`
	EffectiveDateTime time.Time         `bson:"effectiveDateTime" json:"effectiveDateTime"`
	Issued            time.Time         `bson:"issued" json:"issued"`
	ValueQuantity     *Quantity         `bson:"valueQuantity,omitempty" json:"valueQuantity,omitempty"`
	Component         []Component       `bson:"component,omitempty" json:"component,omitempty"`
	Device            *Reference        `bson:"device,omitempty" json:"device,omitempty"`
	Performer         []Reference       `bson:"performer,omitempty" json:"performer,omitempty"`
	Note              []Annotation      `bson:"note,omitempty" json:"note,omitempty"`
}

// Annotation is a free-text note on a resource.
type Annotation struct {
	Text string `bson:"text" json:"text"`
}

// Organization mirrors a hospital record.
type Organization struct {
	ID           string       `bson:"_id" json:"id"`
	ResourceType string       `bson:"resourceType" json:"resourceType"`
	Identifier   []Identifier `bson:"identifier,omitempty" json:"identifier,omitempty"`
	Name         string       `bson:"name,omitempty" json:"name,omitempty"`
}

// Location mirrors a device-reported GPS position.
type Location struct {
	ID                   string     `bson:"_id" json:"id"`
	ResourceType         string     `bson:"resourceType" json:"resourceType"`
	Name                 string     `bson:"name,omitempty" json:"name,omitempty"`
	Position             *Position  `bson:"position,omitempty" json:"position,omitempty"`
	ManagingOrganization *Reference `bson:"managingOrganization,omitempty" json:"managingOrganization,omitempty"`
}
