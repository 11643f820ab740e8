package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/model"
)

// patientTypedMacFields are the per-device-class MAC fields a sub-device
// may be bound to directly on the patient record.
var patientTypedMacFields = []string{
	"bp_mac_address",
	"blood_glucose_mac_address",
	"spo2_mac_address",
	"body_temp_mac_address",
	"weight_scale_mac_address",
	"uric_mac_address",
	"cholesterol_mac_address",
}

// PatientByID loads one patient record.
func (s *Store) PatientByID(ctx context.Context, id string) (*model.Patient, error) {
	var p model.Patient
	if err := decodeOne(s.db.Collection(collPatients).FindOne(ctx, bson.M{"_id": id}), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PatientByDeviceMAC finds the patient holding mac in any of the typed
// per-device MAC fields.
func (s *Store) PatientByDeviceMAC(ctx context.Context, mac string) (*model.Patient, error) {
	or := make([]bson.M, 0, len(patientTypedMacFields))
	for _, field := range patientTypedMacFields {
		or = append(or, bson.M{field: mac})
	}
	var p model.Patient
	if err := decodeOne(s.db.Collection(collPatients).FindOne(ctx, bson.M{"$or": or}), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PatientByAvaMAC finds the patient bound to a gateway box MAC.
func (s *Store) PatientByAvaMAC(ctx context.Context, mac string) (*model.Patient, error) {
	var p model.Patient
	if err := decodeOne(s.db.Collection(collPatients).FindOne(ctx, bson.M{"ava_mac_address": mac}), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PatientByWatchMAC finds the patient bound to a watch identifier.
func (s *Store) PatientByWatchMAC(ctx context.Context, imei string) (*model.Patient, error) {
	var p model.Patient
	if err := decodeOne(s.db.Collection(collPatients).FindOne(ctx, bson.M{"watch_mac_address": imei}), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PatientByCitizenID finds the patient owning a national citizen id.
func (s *Store) PatientByCitizenID(ctx context.Context, citizenID string) (*model.Patient, error) {
	var p model.Patient
	if err := decodeOne(s.db.Collection(collPatients).FindOne(ctx, bson.M{"citizen_id": citizenID}), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateUnregisteredPatient inserts the minimal scaffold the kiosk
// pipeline registers for an unknown citizen id. Two kiosks racing on the
// same citizen id lose to the unique index; the loser re-reads and
// returns the winner's record.
func (s *Store) CreateUnregisteredPatient(ctx context.Context, citizenID, hospitalID string) (*model.Patient, error) {
	p := model.Patient{
		ID:         uuid.New().String(),
		FirstName:  model.UnregisteredNameMarker,
		LastName:   model.UnregisteredNameMarker,
		CitizenID:  citizenID,
		HospitalID: hospitalID,
		CreatedBy:  "kiosk-pipeline",
	}
	_, err := s.db.Collection(collPatients).InsertOne(ctx, p)
	if err == nil {
		s.logger.Info("auto-created unregistered patient",
			// citizen ids are sensitive; log only the patient id
			zap.String("patient_id", p.ID),
			zap.String("hospital_id", hospitalID))
		return &p, nil
	}
	if IsDuplicateKey(err) {
		return s.PatientByCitizenID(ctx, citizenID)
	}
	return nil, fmt.Errorf("create unregistered patient: %w", err)
}

// UpdateSnapshot conditionally writes the last_<type> field for one
// observation. The write applies only when the stored snapshot is absent
// or not newer than the observation, so stale out-of-order samples never
// overwrite. Returns whether the snapshot changed.
func (s *Store) UpdateSnapshot(ctx context.Context, patientID string, field string, snap model.VitalSnapshot) (bool, error) {
	filter := bson.M{
		"_id": patientID,
		"$or": []bson.M{
			{field + ".measured_at": bson.M{"$lte": snap.MeasuredAt}},
			{field: bson.M{"$exists": false}},
		},
	}
	res, err := s.db.Collection(collPatients).UpdateOne(ctx, filter, bson.M{"$set": bson.M{field: snap}})
	if err != nil {
		return false, fmt.Errorf("update %s: %w", field, err)
	}
	if res.MatchedCount == 0 {
		// Distinguish "patient gone" from "snapshot newer".
		n, err := s.db.Collection(collPatients).CountDocuments(ctx, bson.M{"_id": patientID})
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, ErrNotFound
		}
		return false, nil
	}
	return true, nil
}
