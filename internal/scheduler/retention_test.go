package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeStore struct {
	deleteFn func(ctx context.Context, cutoff time.Time) (int64, error)

	mu      sync.Mutex
	cutoffs []time.Time
}

func (f *fakeStore) DeleteEventLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	f.cutoffs = append(f.cutoffs, cutoff)
	f.mu.Unlock()
	if f.deleteFn != nil {
		return f.deleteFn(ctx, cutoff)
	}
	return 0, nil
}

func (f *fakeStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestSweepUsesRetentionWindow(t *testing.T) {
	store := &fakeStore{}
	r := NewRetention(store, 0, zaptest.NewLogger(t))

	r.sweep()

	require.Equal(t, 1, store.calls())
	want := time.Now().UTC().AddDate(0, 0, -DefaultRetentionDays)
	assert.WithinDuration(t, want, store.cutoffs[0], 2*time.Second)
}

func TestSweepHonoursConfiguredDays(t *testing.T) {
	store := &fakeStore{}
	r := NewRetention(store, 7, zaptest.NewLogger(t))

	r.sweep()

	require.Equal(t, 1, store.calls())
	want := time.Now().UTC().AddDate(0, 0, -7)
	assert.WithinDuration(t, want, store.cutoffs[0], 2*time.Second)
}

func TestSweepSurvivesStoreFailure(t *testing.T) {
	store := &fakeStore{deleteFn: func(context.Context, time.Time) (int64, error) {
		return 0, errors.New("server selection timeout")
	}}
	r := NewRetention(store, 30, zaptest.NewLogger(t))

	r.sweep()
	r.sweep()

	assert.Equal(t, 2, store.calls())
}

func TestStartSchedulesAndSweepsImmediately(t *testing.T) {
	store := &fakeStore{}
	r := NewRetention(store, 30, zaptest.NewLogger(t))

	require.NoError(t, r.Start())
	defer r.Stop()

	assert.Len(t, r.cron.Entries(), 1)
	assert.Eventually(t, func() bool { return store.calls() >= 1 },
		time.Second, 10*time.Millisecond)
}
