package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/fhir"
)

// SaveFHIRObservation writes the shadow resource, replacing any previous
// write with the same id so replays stay idempotent.
func (s *Store) SaveFHIRObservation(ctx context.Context, o fhir.Observation) error {
	_, err := s.db.Collection(collFHIRObservations).ReplaceOne(ctx,
		bson.M{"_id": o.ID}, o, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save fhir observation: %w", err)
	}
	return nil
}

// SaveFHIROrganization upserts the organization mirror of a hospital.
func (s *Store) SaveFHIROrganization(ctx context.Context, org fhir.Organization) error {
	_, err := s.db.Collection(collFHIROrganizations).ReplaceOne(ctx,
		bson.M{"_id": org.ID}, org, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save fhir organization: %w", err)
	}
	return nil
}

// SaveFHIRLocation writes a location resource for a GPS fix.
func (s *Store) SaveFHIRLocation(ctx context.Context, loc fhir.Location) error {
	_, err := s.db.Collection(collFHIRLocations).ReplaceOne(ctx,
		bson.M{"_id": loc.ID}, loc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save fhir location: %w", err)
	}
	return nil
}
