// Package repository is the document-store layer. It owns every
// collection the core touches: the shared registries it reads (patients,
// hospitals, device registries), the per-type history collections it
// appends to, the emergency and event-log collections, and the FHIR
// shadow. Mongo specifics stay behind this package; callers see typed
// methods and the ErrNotFound sentinel.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/model"
)

// ErrNotFound is returned for clean single-document misses.
var ErrNotFound = errors.New("not found")

// Collection names shared with the admin layer. These are a wire
// contract; renaming one silently orphans data the admin layer reads.
const (
	collPatients    = "patients"
	collHospitals   = "hospitals"
	collSubDevices  = "hv01_sub_devices"
	collWatches     = "watches"
	collGateways    = "mfc_hv01_boxes"
	collEmergencies = "emergency_alarm"
	collEventLogs   = "event_logs"

	collFHIRObservations  = "fhir_observations"
	collFHIROrganizations = "fhir_organizations"
	collFHIRLocations     = "fhir_locations"
)

// dedupIndexName is the unique index enforcing the duplicate-suppression
// tuple on every history collection.
const dedupIndexName = "uniq_source_measured_type_fingerprint"

const connectTimeout = 10 * time.Second

// Store wraps the document database.
type Store struct {
	db     *mongo.Database
	logger *zap.Logger
}

// New wraps an already-connected database handle.
func New(db *mongo.Database, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Connect dials the document store and verifies the connection with a
// ping before returning a Store.
func Connect(ctx context.Context, uri, database string, logger *zap.Logger) (*Store, *mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}
	return New(client.Database(database), logger), client, nil
}

// IsDuplicateKey reports whether err is a unique-index violation.
func IsDuplicateKey(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}

// decodeOne maps the driver's no-documents error to ErrNotFound.
func decodeOne(res *mongo.SingleResult, out interface{}) error {
	err := res.Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

// EnsureIndexes provisions every index the core relies on. Called once at
// startup; mongo treats existing identical indexes as a no-op.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	for _, t := range model.AllObservationTypes {
		name, _ := model.HistoryCollection(t)
		_, err := s.db.Collection(name).Indexes().CreateMany(ctx, []mongo.IndexModel{
			{
				Keys: bsonD(
					"source_device_id", 1,
					"measured_at", 1,
					"observation_type", 1,
					"raw_fingerprint", 1,
				),
				Options: options.Index().SetUnique(true).SetName(dedupIndexName),
			},
			{Keys: bsonD("patient_id", 1, "measured_at", -1)},
		})
		if err != nil {
			return fmt.Errorf("indexes %s: %w", name, err)
		}
	}

	registry := map[string][]mongo.IndexModel{
		collPatients: {
			{Keys: bsonD("citizen_id", 1), Options: options.Index().SetUnique(true).SetSparse(true)},
			{Keys: bsonD("ava_mac_address", 1), Options: options.Index().SetSparse(true)},
			{Keys: bsonD("watch_mac_address", 1), Options: options.Index().SetSparse(true)},
		},
		collSubDevices: {
			{Keys: bsonD("ble_addr", 1), Options: options.Index().SetUnique(true)},
		},
		collWatches: {
			{Keys: bsonD("imei", 1), Options: options.Index().SetUnique(true)},
		},
		collGateways: {
			{Keys: bsonD("mac_address", 1), Options: options.Index().SetUnique(true)},
		},
		collHospitals: {
			{Keys: bsonD("mac_hv01_box", 1), Options: options.Index().SetSparse(true)},
		},
		collEmergencies: {
			{Keys: bsonD("status", 1, "occurred_at", -1)},
			{Keys: bsonD("patient_id", 1)},
		},
		collEventLogs: {
			{Keys: bsonD("server_timestamp", -1)},
			{Keys: bsonD("source", 1, "status", 1, "step", 1)},
		},
	}
	for _, field := range patientTypedMacFields {
		registry[collPatients] = append(registry[collPatients],
			mongo.IndexModel{Keys: bsonD(field, 1), Options: options.Index().SetSparse(true)})
	}

	for coll, models := range registry {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("indexes %s: %w", coll, err)
		}
	}
	return nil
}

// bsonD builds an ordered document from alternating field/value pairs.
// Index keys need bson.D because field order is significant.
func bsonD(kv ...interface{}) bson.D {
	d := make(bson.D, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		d = append(d, bson.E{Key: kv[i].(string), Value: kv[i+1]})
	}
	return d
}
