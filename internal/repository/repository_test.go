package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/model"
)

func TestEventLogFilterQueryEmpty(t *testing.T) {
	q := EventLogFilter{Page: 1, Limit: 50}.query()
	assert.Empty(t, q)
}

func TestEventLogFilterQueryFields(t *testing.T) {
	from := time.Date(2025, 7, 13, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	q := EventLogFilter{
		Source:       "gateway-pipeline",
		Status:       "error",
		Step:         "5_persisted",
		DeviceFamily: "gateway_box",
		From:         &from,
		To:           &to,
	}.query()

	assert.Equal(t, "gateway-pipeline", q["source"])
	assert.Equal(t, "error", q["status"])
	assert.Equal(t, "5_persisted", q["step"])
	assert.Equal(t, "gateway_box", q["device_family"])
	assert.Equal(t, bson.M{"$gte": from, "$lte": to}, q["timestamp"])
}

func TestEventLogFilterQueryHalfOpenWindow(t *testing.T) {
	from := time.Date(2025, 7, 13, 0, 0, 0, 0, time.UTC)

	q := EventLogFilter{From: &from}.query()

	assert.Equal(t, bson.M{"$gte": from}, q["timestamp"])
}

func TestEventLogFilterQuerySearchEscapesRegex(t *testing.T) {
	q := EventLogFilter{Q: "Duplicate(Suppressed)"}.query()

	or, ok := q["$or"].([]bson.M)
	require.True(t, ok)
	require.Len(t, or, 2)

	re, ok := or[0]["error_message"].(primitive.Regex)
	require.True(t, ok)
	assert.Equal(t, `Duplicate\(Suppressed\)`, re.Pattern)
	assert.Equal(t, "i", re.Options)
	assert.Contains(t, or[1], "patient_ref")
}

func TestBsonDKeepsFieldOrder(t *testing.T) {
	d := bsonD("source_device_id", 1, "measured_at", -1)

	require.Len(t, d, 2)
	assert.Equal(t, bson.E{Key: "source_device_id", Value: 1}, d[0])
	assert.Equal(t, bson.E{Key: "measured_at", Value: -1}, d[1])
}

func TestHistoryCollKnowsEveryType(t *testing.T) {
	s := &Store{}
	for _, typ := range model.AllObservationTypes {
		name, err := s.historyColl(typ)
		require.NoError(t, err, "type %s", typ)
		assert.NotEmpty(t, name)
	}

	_, err := s.historyColl(model.ObservationType("pulse_wave"))
	assert.Error(t, err)
}

func TestDedupFilterTuple(t *testing.T) {
	measured := time.Date(2025, 7, 13, 8, 50, 59, 0, time.UTC)
	f := dedupFilter(model.Observation{
		SourceDeviceID: "d616f9641622",
		MeasuredAt:     measured,
		Type:           model.TypeBloodPressure,
		RawFingerprint: "abc123",
	})

	assert.Equal(t, bson.M{
		"source_device_id": "d616f9641622",
		"measured_at":      measured,
		"observation_type": model.TypeBloodPressure,
		"raw_fingerprint":  "abc123",
	}, f)
}
