package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/model"
)

// InsertEmergency records an emergency event. Emergencies never touch
// patient snapshots.
func (s *Store) InsertEmergency(ctx context.Context, ev model.EmergencyEvent) error {
	if _, err := s.db.Collection(collEmergencies).InsertOne(ctx, ev); err != nil {
		return fmt.Errorf("insert emergency: %w", err)
	}
	return nil
}

// ActiveEmergencies returns unacknowledged emergencies, newest first.
// Served to fanout clients as part of their initial snapshot.
func (s *Store) ActiveEmergencies(ctx context.Context, limit int64) ([]model.EmergencyEvent, error) {
	opts := options.Find().SetSort(bsonD("occurred_at", -1)).SetLimit(limit)
	cur, err := s.db.Collection(collEmergencies).Find(ctx, bson.M{"status": model.EmergencyActive}, opts)
	if err != nil {
		return nil, fmt.Errorf("active emergencies: %w", err)
	}
	defer cur.Close(ctx)

	var out []model.EmergencyEvent
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
