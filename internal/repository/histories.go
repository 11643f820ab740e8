package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/model"
)

// historyColl selects the per-type history collection.
func (s *Store) historyColl(t model.ObservationType) (string, error) {
	name, ok := model.HistoryCollection(t)
	if !ok {
		return "", fmt.Errorf("no history collection for type %q", t)
	}
	return name, nil
}

// dedupFilter is the duplicate-suppression tuple as a query filter.
func dedupFilter(o model.Observation) bson.M {
	return bson.M{
		"source_device_id": o.SourceDeviceID,
		"measured_at":      o.MeasuredAt,
		"observation_type": o.Type,
		"raw_fingerprint":  o.RawFingerprint,
	}
}

// HistoryExists reports whether an observation with the same
// duplicate-suppression tuple is already recorded.
func (s *Store) HistoryExists(ctx context.Context, o model.Observation) (bool, error) {
	name, err := s.historyColl(o.Type)
	if err != nil {
		return false, err
	}
	n, err := s.db.Collection(name).CountDocuments(ctx, dedupFilter(o), options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("history exists %s: %w", name, err)
	}
	return n > 0, nil
}

// InsertHistory appends the observation to its history collection. A
// replay losing the race between the existence check and the insert
// surfaces as a duplicate-key error; callers classify it with
// IsDuplicateKey.
func (s *Store) InsertHistory(ctx context.Context, o model.Observation) error {
	name, err := s.historyColl(o.Type)
	if err != nil {
		return err
	}
	if _, err := s.db.Collection(name).InsertOne(ctx, o); err != nil {
		if IsDuplicateKey(err) {
			return err
		}
		return fmt.Errorf("insert history %s: %w", name, err)
	}
	return nil
}

// CountHistory counts history rows of one type for one patient. Used by
// tests and the stats surface.
func (s *Store) CountHistory(ctx context.Context, t model.ObservationType, patientID string) (int64, error) {
	name, err := s.historyColl(t)
	if err != nil {
		return 0, err
	}
	filter := bson.M{}
	if patientID != "" {
		filter["patient_id"] = patientID
	}
	return s.db.Collection(name).CountDocuments(ctx, filter)
}

// RecentHistory returns the most recent observations of one type for one
// patient, newest first.
func (s *Store) RecentHistory(ctx context.Context, t model.ObservationType, patientID string, limit int64) ([]model.Observation, error) {
	name, err := s.historyColl(t)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bsonD("measured_at", -1)).SetLimit(limit)
	cur, err := s.db.Collection(name).Find(ctx, bson.M{"patient_id": patientID}, opts)
	if err != nil {
		return nil, fmt.Errorf("recent history %s: %w", name, err)
	}
	defer cur.Close(ctx)

	var out []model.Observation
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
