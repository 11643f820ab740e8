package repository

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/model"
)

// EventLogFilter is the query surface of the event log. Zero values mean
// "no constraint"; Page and Limit arrive already normalized by the
// handler.
type EventLogFilter struct {
	Source       string
	Status       string
	Step         string
	DeviceFamily string
	Q            string
	From         *time.Time
	To           *time.Time
	Page         int64
	Limit        int64
}

func (f EventLogFilter) query() bson.M {
	q := bson.M{}
	if f.Source != "" {
		q["source"] = f.Source
	}
	if f.Status != "" {
		q["status"] = f.Status
	}
	if f.Step != "" {
		q["step"] = f.Step
	}
	if f.DeviceFamily != "" {
		q["device_family"] = f.DeviceFamily
	}
	if f.From != nil || f.To != nil {
		window := bson.M{}
		if f.From != nil {
			window["$gte"] = *f.From
		}
		if f.To != nil {
			window["$lte"] = *f.To
		}
		q["timestamp"] = window
	}
	if f.Q != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(f.Q), Options: "i"}
		q["$or"] = []bson.M{
			{"error_message": re},
			{"patient_ref": re},
		}
	}
	return q
}

// GroupCount is one bucket of a grouped aggregation. The _id key is part
// of the stats wire contract.
type GroupCount struct {
	ID    string `bson:"_id" json:"_id"`
	Count int64  `bson:"count" json:"count"`
}

// EventLogStats is the 24-hour aggregate view served by the stats
// endpoint.
type EventLogStats struct {
	Total24h int64        `json:"total_24h"`
	Sources  []GroupCount `json:"sources"`
	Statuses []GroupCount `json:"statuses"`
}

// WindowAggregates are short-window counts served to fanout clients on
// connect.
type WindowAggregates struct {
	Since    time.Time    `json:"since"`
	Families []GroupCount `json:"families"`
	Statuses []GroupCount `json:"statuses"`
}

// InsertEventLog appends one record to the event log.
func (s *Store) InsertEventLog(ctx context.Context, rec model.EventLogRecord) error {
	if _, err := s.db.Collection(collEventLogs).InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

// QueryEventLogs returns one page of matching records, newest first, plus
// the total match count for pagination.
func (s *Store) QueryEventLogs(ctx context.Context, f EventLogFilter) ([]model.EventLogRecord, int64, error) {
	coll := s.db.Collection(collEventLogs)
	query := f.query()

	total, err := coll.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("count event logs: %w", err)
	}

	opts := options.Find().
		SetSort(bsonD("server_timestamp", -1)).
		SetSkip((f.Page - 1) * f.Limit).
		SetLimit(f.Limit)
	cur, err := coll.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("find event logs: %w", err)
	}
	defer cur.Close(ctx)

	events := make([]model.EventLogRecord, 0, f.Limit)
	if err := cur.All(ctx, &events); err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// RecentEventLogs returns the newest records without filtering. Served to
// fanout clients as part of their initial snapshot.
func (s *Store) RecentEventLogs(ctx context.Context, limit int64) ([]model.EventLogRecord, error) {
	opts := options.Find().SetSort(bsonD("server_timestamp", -1)).SetLimit(limit)
	cur, err := s.db.Collection(collEventLogs).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("recent event logs: %w", err)
	}
	defer cur.Close(ctx)

	var out []model.EventLogRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EventLogStats aggregates the last 24 hours by source and by status.
func (s *Store) EventLogStats(ctx context.Context) (*EventLogStats, error) {
	coll := s.db.Collection(collEventLogs)
	since := time.Now().UTC().Add(-24 * time.Hour)
	match := bson.M{"server_timestamp": bson.M{"$gte": since}}

	total, err := coll.CountDocuments(ctx, match)
	if err != nil {
		return nil, fmt.Errorf("stats count: %w", err)
	}
	sources, err := s.groupCounts(ctx, match, "$source")
	if err != nil {
		return nil, err
	}
	statuses, err := s.groupCounts(ctx, match, "$status")
	if err != nil {
		return nil, err
	}
	return &EventLogStats{Total24h: total, Sources: sources, Statuses: statuses}, nil
}

// EventLogWindow aggregates by device family and status since the given
// instant.
func (s *Store) EventLogWindow(ctx context.Context, since time.Time) (*WindowAggregates, error) {
	match := bson.M{"server_timestamp": bson.M{"$gte": since}}
	families, err := s.groupCounts(ctx, match, "$device_family")
	if err != nil {
		return nil, err
	}
	statuses, err := s.groupCounts(ctx, match, "$status")
	if err != nil {
		return nil, err
	}
	return &WindowAggregates{Since: since, Families: families, Statuses: statuses}, nil
}

func (s *Store) groupCounts(ctx context.Context, match bson.M, field string) ([]GroupCount, error) {
	pipeline := mongo.Pipeline{
		bsonD("$match", match),
		bsonD("$group", bson.M{"_id": field, "count": bson.M{"$sum": 1}}),
		bsonD("$sort", bson.M{"count": -1}),
	}
	cur, err := s.db.Collection(collEventLogs).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", field, err)
	}
	defer cur.Close(ctx)

	out := []GroupCount{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteEventLogsBefore enforces retention, removing every record whose
// server timestamp is older than cutoff.
func (s *Store) DeleteEventLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.Collection(collEventLogs).DeleteMany(ctx, bson.M{"server_timestamp": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("event log retention: %w", err)
	}
	return res.DeletedCount, nil
}
