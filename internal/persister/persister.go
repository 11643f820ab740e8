// Package persister owns the durable write path: duplicate suppression,
// the per-type history append, the patient latest-value snapshot, and the
// FHIR shadow copy. History is the source of truth; every later write is
// allowed to fail without losing the measurement.
package persister

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/fhir"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/model"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/repository"
)

// Retry schedule for the history append: 100 ms, 400 ms, 1.6 s, then the
// failure surfaces as PersistError kind history.
const (
	retryInitialInterval = 100 * time.Millisecond
	retryMultiplier      = 4
	defaultRetryBudget   = 3
)

// PersistError kinds.
const (
	KindDuplicate = "duplicate"
	KindHistory   = "history"
	KindSnapshot  = "snapshot"
	KindFHIR      = "fhir"
)

// PersistError reports a failed or suppressed write. Only kind history is
// fatal for the message; snapshot and fhir failures are warnings carried
// in the Result.
type PersistError struct {
	Kind string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Kind, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Result reports what one observation write actually touched.
type Result struct {
	// Duplicate marks an observation suppressed by the dedup tuple. No
	// history row, snapshot, or shadow was written.
	Duplicate bool

	// SnapshotApplied is true when the patient snapshot now carries this
	// observation. False with a nil warning means a newer sample already
	// held the field, or the type has no snapshot.
	SnapshotApplied bool

	// SnapshotWarning and FHIRWarning carry non-fatal step failures for
	// the caller's flow events. The history row exists either way.
	SnapshotWarning *PersistError
	FHIRWarning     *PersistError
}

// Store is the write-side repository subset the persister needs.
type Store interface {
	HistoryExists(ctx context.Context, o model.Observation) (bool, error)
	InsertHistory(ctx context.Context, o model.Observation) error
	UpdateSnapshot(ctx context.Context, patientID, field string, snap model.VitalSnapshot) (bool, error)
	SaveFHIRObservation(ctx context.Context, o fhir.Observation) error
	SaveFHIROrganization(ctx context.Context, org fhir.Organization) error
	SaveFHIRLocation(ctx context.Context, loc fhir.Location) error
	InsertEmergency(ctx context.Context, ev model.EmergencyEvent) error
	HospitalByID(ctx context.Context, id string) (*model.Hospital, error)
}

// Persister executes the ordered write steps for observations and
// emergency events.
type Persister struct {
	store  Store
	logger *zap.Logger

	// retryInitial is the first backoff interval; tests shrink it.
	retryInitial time.Duration
	retryBudget  uint64
}

// New constructs a Persister.
func New(store Store, logger *zap.Logger) *Persister {
	return &Persister{
		store:        store,
		logger:       logger,
		retryInitial: retryInitialInterval,
		retryBudget:  defaultRetryBudget,
	}
}

// WithRetryBudget replaces the history retry budget and returns the
// persister. Zero or negative keeps the default.
func (p *Persister) WithRetryBudget(n int) *Persister {
	if n > 0 {
		p.retryBudget = uint64(n)
	}
	return p
}

// PersistObservation runs the four write steps in order. A non-nil error
// means the history append failed after retries and nothing durable
// exists for this observation. Duplicates return Result{Duplicate: true}
// and a nil error.
func (p *Persister) PersistObservation(ctx context.Context, o model.Observation) (Result, error) {
	var res Result

	exists, err := p.store.HistoryExists(ctx, o)
	switch {
	case err != nil:
		// The unique index still guards the insert below.
		p.logger.Warn("duplicate check failed",
			zap.String("observation_id", o.ID),
			zap.String("observation_type", string(o.Type)),
			zap.Error(err))
	case exists:
		res.Duplicate = true
		return res, nil
	}

	if err := p.insertHistory(ctx, o); err != nil {
		if repository.IsDuplicateKey(err) {
			// Lost the race against a concurrent replay; the row exists.
			res.Duplicate = true
			return res, nil
		}
		return res, &PersistError{Kind: KindHistory, Err: err}
	}

	p.applySnapshot(ctx, o, &res)
	p.writeFHIRShadow(ctx, o, &res)
	return res, nil
}

// PersistEmergency writes an emergency event with the same retry budget
// as the history append. Emergencies never touch patient snapshots.
func (p *Persister) PersistEmergency(ctx context.Context, ev model.EmergencyEvent) error {
	err := p.retry(ctx, "emergency insert", func() error {
		return p.store.InsertEmergency(ctx, ev)
	})
	if err != nil {
		return &PersistError{Kind: KindHistory, Err: err}
	}
	return nil
}

// ── write steps ───────────────────────────────────────────────────────────

func (p *Persister) insertHistory(ctx context.Context, o model.Observation) error {
	return p.retry(ctx, "history insert", func() error {
		err := p.store.InsertHistory(ctx, o)
		if err != nil && repository.IsDuplicateKey(err) {
			return backoff.Permanent(err)
		}
		return err
	})
}

func (p *Persister) applySnapshot(ctx context.Context, o model.Observation, res *Result) {
	field, ok := model.SnapshotField(o.Type)
	if !ok {
		return
	}
	applied, err := p.store.UpdateSnapshot(ctx, o.PatientID, field, o.Snapshot())
	if err != nil {
		res.SnapshotWarning = &PersistError{Kind: KindSnapshot, Err: err}
		p.logger.Warn("snapshot update failed",
			zap.String("patient_id", o.PatientID),
			zap.String("field", field),
			zap.Error(err))
		return
	}
	res.SnapshotApplied = applied
	if !applied {
		p.logger.Debug("snapshot kept, newer sample already stored",
			zap.String("patient_id", o.PatientID),
			zap.String("field", field),
			zap.Time("measured_at", o.MeasuredAt))
	}
}

func (p *Persister) writeFHIRShadow(ctx context.Context, o model.Observation, res *Result) {
	doc, err := fhir.FromObservation(o)
	if err != nil {
		var unsupported *fhir.ErrUnsupportedType
		if errors.As(err, &unsupported) {
			return
		}
		p.warnFHIR(o, res, err)
		return
	}

	var errs []error
	if err := p.store.SaveFHIRObservation(ctx, doc); err != nil {
		errs = append(errs, fmt.Errorf("observation: %w", err))
	}
	if o.HospitalID != "" {
		if err := p.shadowOrganization(ctx, o.HospitalID); err != nil {
			errs = append(errs, fmt.Errorf("organization: %w", err))
		}
	}
	if o.Location != nil {
		if loc, ok := fhir.FromLocation(o.ID, *o.Location, o.HospitalID); ok {
			if err := p.store.SaveFHIRLocation(ctx, loc); err != nil {
				errs = append(errs, fmt.Errorf("location: %w", err))
			}
		}
	}
	if len(errs) > 0 {
		p.warnFHIR(o, res, errors.Join(errs...))
	}
}

// shadowOrganization refreshes the FHIR organization for a hospital. A
// hospital id the registry no longer knows (including the configured
// default) is skipped, not an error.
func (p *Persister) shadowOrganization(ctx context.Context, hospitalID string) error {
	h, err := p.store.HospitalByID(ctx, hospitalID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return p.store.SaveFHIROrganization(ctx, fhir.FromHospital(*h))
}

func (p *Persister) warnFHIR(o model.Observation, res *Result, err error) {
	res.FHIRWarning = &PersistError{Kind: KindFHIR, Err: err}
	p.logger.Warn("fhir shadow write failed",
		zap.String("observation_id", o.ID),
		zap.String("observation_type", string(o.Type)),
		zap.Error(err))
}

// retry runs op with the bounded exponential schedule. Permanent errors
// and context cancellation stop early; the last error is returned after
// the budget is spent.
func (p *Persister) retry(ctx context.Context, label string, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.retryInitial
	bo.Multiplier = retryMultiplier
	bo.RandomizationFactor = 0
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		var perm *backoff.PermanentError
		if err != nil && !errors.As(err, &perm) && !errors.Is(err, context.Canceled) {
			p.logger.Warn("write attempt failed",
				zap.String("op", label),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return err
	}, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), p.retryBudget))
}
