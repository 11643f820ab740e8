// Package pipeline orchestrates the five-step walk every inbound bus
// message takes: receive, decode, resolve, snapshot, persist. One
// Pipeline instance serves one device family; the three instances share
// the persister, the event emitter and the fanout hub but none of each
// other's state, so a poison pill in one family never stalls another.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/busclient"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/decoder"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/model"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/normalizer"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/persister"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/resolver"
)

const (
	// DefaultInFlight caps concurrently processed messages per pipeline.
	DefaultInFlight = 4

	resolveTimeout = 5 * time.Second

	// persistBudget is the wall-clock allowance for everything after
	// identity resolution. A message that cannot persist within it is
	// abandoned with a timeout event rather than held open forever.
	persistBudget = 10 * time.Second
)

// Error kinds owned by the pipeline itself. Stage errors carry their own
// kinds (decoder, resolver, persister); these cover what happens between
// the stages.
const (
	errKindShapeMismatch = "shape_mismatch"
	errKindTimeout       = "timeout"
	errKindInternal      = "internal"
)

// duplicateSuppressed is the marker operators search the event log for.
const duplicateSuppressed = "DuplicateSuppressed"

var tracer = otel.Tracer("github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/pipeline")

// Resolver maps decoded payloads to patient and hospital identity.
type Resolver interface {
	ResolveGateway(ctx context.Context, subDeviceMAC, gatewayMAC string) (resolver.Resolution, error)
	ResolveWatch(ctx context.Context, imei string) (resolver.Resolution, error)
	ResolveKiosk(ctx context.Context, kioskMAC, citizenID string) (resolver.Resolution, error)
}

// Persister writes canonical records to the store.
type Persister interface {
	PersistObservation(ctx context.Context, o model.Observation) (persister.Result, error)
	PersistEmergency(ctx context.Context, ev model.EmergencyEvent) error
}

// Emitter receives one flow event per reached step. Emission is best
// effort; the pipeline never blocks on it.
type Emitter interface {
	Emit(source string, ev model.FlowEvent)
}

// Broadcaster pushes persisted records to live dashboard connections.
type Broadcaster interface {
	BroadcastObservation(o model.Observation)
	BroadcastEmergency(ev model.EmergencyEvent)
}

// Deps carries the pipeline collaborators. Hub may be nil when no fanout
// is wired, for instance in backfill tooling.
type Deps struct {
	Resolver  Resolver
	Persister Persister
	Emitter   Emitter
	Hub       Broadcaster
	Logger    *zap.Logger
	InFlight  int
}

// Pipeline processes one device family's topics.
type Pipeline struct {
	family    model.DeviceFamily
	source    string
	resolver  Resolver
	persister Persister
	emitter   Emitter
	hub       Broadcaster
	logger    *zap.Logger
	inFlight  int

	// budget is persistBudget except in tests, which shorten it.
	budget time.Duration
}

// New builds a pipeline for one family. InFlight zero or negative falls
// back to DefaultInFlight.
func New(family model.DeviceFamily, deps Deps) *Pipeline {
	inFlight := deps.InFlight
	if inFlight <= 0 {
		inFlight = DefaultInFlight
	}
	return &Pipeline{
		family:    family,
		source:    SourceFor(family),
		resolver:  deps.Resolver,
		persister: deps.Persister,
		emitter:   deps.Emitter,
		hub:       deps.Hub,
		logger:    deps.Logger.With(zap.String("pipeline", string(family))),
		inFlight:  inFlight,
		budget:    persistBudget,
	}
}

// SourceFor names the pipeline in flow events and the event log.
func SourceFor(family model.DeviceFamily) string {
	switch family {
	case model.FamilyGatewayBox:
		return "gateway-pipeline"
	case model.FamilyWatch:
		return "watch-pipeline"
	case model.FamilyHospitalKiosk:
		return "kiosk-pipeline"
	}
	return "pipeline"
}

// Filters returns the broker subscription filters for a family. The
// watch family subscribes to the whole vendor namespace and lets the
// decoder reject unknown subtopics.
func Filters(family model.DeviceFamily) []string {
	switch family {
	case model.FamilyGatewayBox:
		return decoder.GatewayTopics
	case model.FamilyWatch:
		return []string{busclient.WatchWildcard}
	case model.FamilyHospitalKiosk:
		return decoder.KioskTopics
	}
	return nil
}

// Run consumes messages until ctx is cancelled or the channel closes,
// then waits for in-flight work. Cancellation stops intake only:
// messages already accepted run to completion under their own stage
// budgets, which is what makes a drain deadline in main meaningful.
func (p *Pipeline) Run(ctx context.Context, messages <-chan busclient.Message) error {
	g := new(errgroup.Group)
	g.SetLimit(p.inFlight)

	detached := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case msg, ok := <-messages:
			if !ok {
				return g.Wait()
			}
			g.Go(func() error {
				p.Process(detached, msg)
				return nil
			})
		}
	}
}

// Process walks one message through the five steps. Stage failures emit
// an error event at the failing step and stop the walk; only messages
// that complete resolution reach a terminal Step-5 event.
func (p *Pipeline) Process(ctx context.Context, msg busclient.Message) {
	ctx, span := tracer.Start(ctx, "pipeline.process", trace.WithAttributes(
		attribute.String("mqtt.topic", msg.Topic),
		attribute.String("device.family", string(p.family)),
	))
	defer span.End()

	p.emit(model.FlowEvent{Step: model.StepReceived, Status: model.FlowSuccess, Topic: msg.Topic})

	_, dspan := tracer.Start(ctx, "decode")
	dec, err := decoder.Decode(msg.Topic, msg.Payload, msg.ReceivedAt)
	endSpan(dspan, err)
	if err != nil {
		p.discard(msg, model.StepDecoded, err)
		return
	}
	p.emit(model.FlowEvent{Step: model.StepDecoded, Status: model.FlowSuccess, Topic: msg.Topic})

	rctx, rcancel := context.WithTimeout(ctx, resolveTimeout)
	rctx, rspan := tracer.Start(rctx, "resolve")
	res, err := p.resolve(rctx, dec)
	endSpan(rspan, err)
	rcancel()
	if err != nil {
		p.discard(msg, model.StepResolved, err)
		return
	}
	p.emitResolved(msg.Topic, res)

	pctx, pcancel := context.WithTimeout(ctx, p.budget)
	defer pcancel()
	pctx, pspan := tracer.Start(pctx, "persist")
	defer pspan.End()

	bundle, err := normalizer.Normalize(msg.Topic, msg.Payload, msg.ReceivedAt, dec, normalizer.Identity{
		PatientID:      res.PatientID,
		HospitalID:     res.HospitalID,
		SourceDeviceID: res.Device.DeviceID,
	})
	if err != nil {
		p.discard(msg, model.StepSnapshotUpdated, err)
		return
	}

	switch {
	case bundle.Empty():
		note := bundle.Note
		if note == "" {
			note = normalizer.NoteNoObservation
		}
		p.emit(model.FlowEvent{
			Step:         model.StepPersisted,
			Status:       model.FlowInfo,
			Topic:        msg.Topic,
			PatientRef:   res.PatientID,
			ErrorMessage: note,
		})
	case len(bundle.Emergencies) > 0:
		p.persistEmergencies(pctx, msg, res.PatientID, bundle.Emergencies)
	default:
		p.persistObservations(pctx, msg, res.PatientID, bundle.Observations)
	}
}

// resolve dispatches on the decoded variant to pick the identity inputs.
func (p *Pipeline) resolve(ctx context.Context, dec decoder.Decoded) (resolver.Resolution, error) {
	switch d := dec.(type) {
	case *decoder.Medical:
		sub := ""
		if len(d.Readings) > 0 {
			sub = d.Readings[0].BLEAddr
		}
		return p.resolver.ResolveGateway(ctx, sub, d.GatewayMac)
	case *decoder.Status:
		if d.DeviceFamily == model.FamilyWatch {
			return p.resolver.ResolveWatch(ctx, d.IMEI)
		}
		return p.resolver.ResolveGateway(ctx, "", d.GatewayMac)
	case *decoder.Kiosk:
		return p.resolver.ResolveKiosk(ctx, d.KioskMac, d.CitizenID)
	case *decoder.WatchVitals:
		return p.resolver.ResolveWatch(ctx, d.IMEI)
	case *decoder.WatchBatch:
		return p.resolver.ResolveWatch(ctx, d.IMEI)
	case *decoder.WatchHeartbeat:
		return p.resolver.ResolveWatch(ctx, d.IMEI)
	case *decoder.WatchLocation:
		return p.resolver.ResolveWatch(ctx, d.IMEI)
	case *decoder.WatchSleep:
		return p.resolver.ResolveWatch(ctx, d.IMEI)
	case *decoder.Emergency:
		return p.resolver.ResolveWatch(ctx, d.IMEI)
	}
	return resolver.Resolution{}, fmt.Errorf("unhandled payload variant %T", dec)
}

// emitResolved reports Step-3. Defaulted hospitals and auto-created
// patients downgrade the status to info so dashboards can spot them
// without treating the message as failed.
func (p *Pipeline) emitResolved(topic string, res resolver.Resolution) {
	ev := model.FlowEvent{
		Step:       model.StepResolved,
		Status:     model.FlowSuccess,
		Topic:      topic,
		PatientRef: res.PatientID,
	}
	if res.HospitalDefaulted {
		ev.Status = model.FlowInfo
		ev.ErrorKind = resolver.KindHospitalUnknown
		ev.ErrorMessage = "hospital unknown, default applied"
	}
	if res.PatientCreated {
		ev.Status = model.FlowInfo
		if ev.ErrorMessage != "" {
			ev.ErrorMessage += "; "
		}
		ev.ErrorMessage += "patient scaffold auto-created"
	}
	p.emit(ev)
}

// persistObservations writes the bundle's observations in order. The
// first fatal persistence error aborts the remainder of the envelope;
// everything persisted before it stays persisted.
func (p *Pipeline) persistObservations(ctx context.Context, msg busclient.Message, patientID string, observations []model.Observation) {
	var (
		firstRef   string
		persisted  int
		duplicates int
		snapWarn   *persister.PersistError
		fatal      error
	)
	for i := range observations {
		o := observations[i]
		result, err := p.persister.PersistObservation(ctx, o)
		if err != nil {
			fatal = err
			break
		}
		if result.Duplicate {
			duplicates++
			continue
		}
		persisted++
		if firstRef == "" {
			firstRef = o.ID
		}
		if result.SnapshotWarning != nil && snapWarn == nil {
			snapWarn = result.SnapshotWarning
		}
		if p.hub != nil {
			p.hub.BroadcastObservation(o)
		}
	}

	if persisted > 0 {
		ev := model.FlowEvent{
			Step:       model.StepSnapshotUpdated,
			Status:     model.FlowSuccess,
			Topic:      msg.Topic,
			PatientRef: patientID,
		}
		if snapWarn != nil {
			ev.Status = model.FlowError
			ev.ErrorKind = persister.KindSnapshot
			ev.ErrorMessage = snapWarn.Error()
		}
		p.emit(ev)
	}

	switch {
	case fatal != nil:
		p.emitFatal(msg, patientID, fatal, ctx.Err())
	case persisted == 0:
		p.emit(model.FlowEvent{
			Step:         model.StepPersisted,
			Status:       model.FlowInfo,
			Topic:        msg.Topic,
			PatientRef:   patientID,
			ErrorKind:    persister.KindDuplicate,
			ErrorMessage: duplicateSuppressed,
		})
	default:
		p.emit(model.FlowEvent{
			Step:           model.StepPersisted,
			Status:         model.FlowSuccess,
			Topic:          msg.Topic,
			PatientRef:     patientID,
			ObservationRef: firstRef,
		})
	}
}

// persistEmergencies writes and broadcasts emergency events. Broadcast
// happens per event as soon as it is durable, not after the batch.
func (p *Pipeline) persistEmergencies(ctx context.Context, msg busclient.Message, patientID string, events []model.EmergencyEvent) {
	for i := range events {
		ev := events[i]
		if err := p.persister.PersistEmergency(ctx, ev); err != nil {
			p.emitFatal(msg, patientID, err, ctx.Err())
			return
		}
		if p.hub != nil {
			p.hub.BroadcastEmergency(ev)
		}
	}
	p.emit(model.FlowEvent{
		Step:           model.StepPersisted,
		Status:         model.FlowSuccess,
		Topic:          msg.Topic,
		PatientRef:     patientID,
		ObservationRef: events[0].ID,
	})
}

// emitFatal reports a terminal persistence failure at Step-5. An expired
// budget rewrites the kind to timeout, which is how abandoned messages
// are told apart from store failures.
func (p *Pipeline) emitFatal(msg busclient.Message, patientID string, err, budgetErr error) {
	kind := errorKind(err)
	if budgetErr != nil {
		kind = errKindTimeout
	}
	p.emit(model.FlowEvent{
		Step:           model.StepPersisted,
		Status:         model.FlowError,
		Topic:          msg.Topic,
		PatientRef:     patientID,
		ErrorKind:      kind,
		ErrorMessage:   err.Error(),
		PayloadExcerpt: model.Excerpt(msg.Payload),
	})
	p.logger.Error("persistence failed",
		zap.String("topic", msg.Topic),
		zap.String("patient_id", patientID),
		zap.String("kind", kind),
		zap.Error(err))
}

// discard reports a poison pill at the step that rejected it.
func (p *Pipeline) discard(msg busclient.Message, step model.FlowStep, err error) {
	kind := errorKind(err)
	p.emit(model.FlowEvent{
		Step:           step,
		Status:         model.FlowError,
		Topic:          msg.Topic,
		ErrorKind:      kind,
		ErrorMessage:   err.Error(),
		PayloadExcerpt: model.Excerpt(msg.Payload),
	})
	p.logger.Warn("message discarded",
		zap.String("topic", msg.Topic),
		zap.String("step", string(step)),
		zap.String("kind", kind),
		zap.Error(err))
}

func (p *Pipeline) emit(ev model.FlowEvent) {
	ev.DeviceFamily = p.family
	ev.Timestamp = time.Now().UTC()
	p.emitter.Emit(p.source, ev)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// errorKind maps stage errors onto the closed kind vocabulary carried in
// flow events.
func errorKind(err error) string {
	var de *decoder.DecodeError
	if errors.As(err, &de) {
		return de.Kind
	}
	var re *resolver.ResolutionError
	if errors.As(err, &re) {
		return re.Kind
	}
	var ne *normalizer.NormalizationError
	if errors.As(err, &ne) {
		return errKindShapeMismatch
	}
	var pe *persister.PersistError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return errKindInternal
}
