// Package resolver maps decoded payloads to the owning patient and
// hospital. Lookup order is family-specific and strictly sequential; the
// first hit wins. Results are cached in Redis for a short interval so a
// chatty device does not hammer the registry collections.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/model"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/repository"
)

// resolveCacheKeyFmt is the Redis key template for cached resolutions.
// The identifier is the sub-device MAC or gateway MAC for boxes, the IMEI
// for watches, and "<kiosk-mac>:<citizen-id>" for kiosks.
const resolveCacheKeyFmt = "resolve:%s:%s" // family, identifier

// resolveCacheTTL bounds how long a stale registry edit can keep routing
// readings to the previous patient.
const resolveCacheTTL = time.Minute

// ResolutionError kinds.
const (
	KindPatientUnknown  = "patient_unknown"
	KindHospitalUnknown = "hospital_unknown"
)

// ResolutionError reports a failed identity lookup. PatientUnknown is
// fatal for the message; HospitalUnknown is only ever logged because the
// chain ends at the configured default hospital.
type ResolutionError struct {
	Kind       string
	Family     model.DeviceFamily
	Identifier string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %s %q", e.Kind, e.Family, e.Identifier)
}

// Resolution is the resolved ownership of one inbound message.
type Resolution struct {
	PatientID  string             `json:"patient_id"`
	HospitalID string             `json:"hospital_id"`
	Device     model.DeviceRecord `json:"device"`

	// HospitalDefaulted marks resolutions that exhausted the hospital
	// chain and fell back to the configured default.
	HospitalDefaulted bool `json:"hospital_defaulted"`

	// PatientCreated marks kiosk resolutions that auto-created an
	// unregistered patient scaffold. Never true for cache hits.
	PatientCreated bool `json:"-"`
}

// Store is the registry subset the resolver reads. All lookups return
// repository.ErrNotFound for a clean miss.
type Store interface {
	SubDeviceByBLEAddr(ctx context.Context, bleAddr string) (*model.SubDevice, error)
	PatientByDeviceMAC(ctx context.Context, mac string) (*model.Patient, error)
	PatientByAvaMAC(ctx context.Context, mac string) (*model.Patient, error)
	PatientByWatchMAC(ctx context.Context, imei string) (*model.Patient, error)
	PatientByCitizenID(ctx context.Context, citizenID string) (*model.Patient, error)
	CreateUnregisteredPatient(ctx context.Context, citizenID, hospitalID string) (*model.Patient, error)
	WatchByIMEI(ctx context.Context, imei string) (*model.WatchDevice, error)
	GatewayByMAC(ctx context.Context, mac string) (*model.GatewayBox, error)
	HospitalByGatewayMAC(ctx context.Context, mac string) (*model.Hospital, error)
}

// Resolver performs the family-specific lookup chains.
type Resolver struct {
	store             Store
	redis             *redis.Client
	defaultHospitalID string
	logger            *zap.Logger
}

// New constructs a Resolver. rdb may be nil to disable caching.
func New(store Store, rdb *redis.Client, defaultHospitalID string, logger *zap.Logger) *Resolver {
	return &Resolver{store: store, redis: rdb, defaultHospitalID: defaultHospitalID, logger: logger}
}

// ── GatewayBox ────────────────────────────────────────────────────────────

// ResolveGateway resolves a dusun_pub envelope. subDeviceMAC is the
// ble_addr of the first device_list element and may be empty for
// envelopes without one, in which case the gateway MAC alone is used.
func (r *Resolver) ResolveGateway(ctx context.Context, subDeviceMAC, gatewayMAC string) (Resolution, error) {
	ident := subDeviceMAC
	if ident == "" {
		ident = gatewayMAC
	}
	key := fmt.Sprintf(resolveCacheKeyFmt, model.FamilyGatewayBox, ident)
	if res, ok := r.cached(ctx, key); ok {
		return res, nil
	}

	res := Resolution{Device: model.DeviceRecord{
		Family:     model.FamilyGatewayBox,
		DeviceID:   ident,
		GatewayMac: gatewayMAC,
	}}

	var registryHospital string
	if subDeviceMAC != "" {
		sd, err := r.store.SubDeviceByBLEAddr(ctx, subDeviceMAC)
		switch {
		case err == nil:
			res.PatientID = sd.PatientID
			res.Device.DeviceTypeTag = sd.DeviceTypeTag
			registryHospital = sd.HospitalID
		case errors.Is(err, repository.ErrNotFound):
			p, err := r.store.PatientByDeviceMAC(ctx, subDeviceMAC)
			if err == nil {
				res.PatientID = p.ID
				registryHospital = p.HospitalID
			} else if !errors.Is(err, repository.ErrNotFound) {
				return Resolution{}, err
			}
		default:
			return Resolution{}, err
		}
	}

	if res.PatientID == "" {
		p, err := r.store.PatientByAvaMAC(ctx, gatewayMAC)
		switch {
		case err == nil:
			res.PatientID = p.ID
			registryHospital = p.HospitalID
		case errors.Is(err, repository.ErrNotFound):
			return Resolution{}, &ResolutionError{Kind: KindPatientUnknown, Family: model.FamilyGatewayBox, Identifier: ident}
		default:
			return Resolution{}, err
		}
	}

	if err := r.resolveGatewayHospital(ctx, &res, registryHospital, gatewayMAC); err != nil {
		return Resolution{}, err
	}

	res.Device.PatientID = res.PatientID
	res.Device.HospitalID = res.HospitalID
	r.storeCache(ctx, key, res)
	return res, nil
}

// resolveGatewayHospital walks the hospital chain: hospital from the
// registry hit, then the hospital association on the gateway MAC, then
// the gateway registry, then the configured default.
func (r *Resolver) resolveGatewayHospital(ctx context.Context, res *Resolution, registryHospital, gatewayMAC string) error {
	if registryHospital != "" {
		res.HospitalID = registryHospital
		return nil
	}
	h, err := r.store.HospitalByGatewayMAC(ctx, gatewayMAC)
	if err == nil {
		res.HospitalID = h.ID
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	gw, err := r.store.GatewayByMAC(ctx, gatewayMAC)
	if err == nil && gw.HospitalID != "" {
		res.HospitalID = gw.HospitalID
		return nil
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	r.defaultHospital(res, gatewayMAC)
	return nil
}

// ── Watch ─────────────────────────────────────────────────────────────────

// ResolveWatch resolves a watch payload by IMEI. Batch envelopes resolve
// once; samples inherit the envelope's resolution.
func (r *Resolver) ResolveWatch(ctx context.Context, imei string) (Resolution, error) {
	key := fmt.Sprintf(resolveCacheKeyFmt, model.FamilyWatch, imei)
	if res, ok := r.cached(ctx, key); ok {
		return res, nil
	}

	res := Resolution{Device: model.DeviceRecord{
		Family:   model.FamilyWatch,
		DeviceID: imei,
	}}

	var registryHospital string
	w, err := r.store.WatchByIMEI(ctx, imei)
	switch {
	case err == nil && w.PatientID != "":
		res.PatientID = w.PatientID
		registryHospital = w.HospitalID
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return Resolution{}, err
	default:
		p, perr := r.store.PatientByWatchMAC(ctx, imei)
		switch {
		case perr == nil:
			res.PatientID = p.ID
			registryHospital = p.HospitalID
		case errors.Is(perr, repository.ErrNotFound):
			return Resolution{}, &ResolutionError{Kind: KindPatientUnknown, Family: model.FamilyWatch, Identifier: imei}
		default:
			return Resolution{}, perr
		}
	}

	if registryHospital != "" {
		res.HospitalID = registryHospital
	} else if w != nil && w.HospitalID != "" {
		res.HospitalID = w.HospitalID
	} else {
		r.defaultHospital(&res, imei)
	}

	res.Device.PatientID = res.PatientID
	res.Device.HospitalID = res.HospitalID
	r.storeCache(ctx, key, res)
	return res, nil
}

// ── HospitalKiosk ─────────────────────────────────────────────────────────

// ResolveKiosk resolves a kiosk session by citizen id, auto-creating an
// unregistered patient scaffold when the citizen is unknown. Kiosk
// resolution never fails with PatientUnknown.
func (r *Resolver) ResolveKiosk(ctx context.Context, kioskMAC, citizenID string) (Resolution, error) {
	key := fmt.Sprintf(resolveCacheKeyFmt, model.FamilyHospitalKiosk, kioskMAC+":"+citizenID)
	if res, ok := r.cached(ctx, key); ok {
		return res, nil
	}

	res := Resolution{Device: model.DeviceRecord{
		Family:     model.FamilyHospitalKiosk,
		DeviceID:   kioskMAC,
		GatewayMac: kioskMAC,
	}}

	p, err := r.store.PatientByCitizenID(ctx, citizenID)
	switch {
	case err == nil:
		res.PatientID = p.ID
		if p.HospitalID != "" {
			res.HospitalID = p.HospitalID
		} else if err := r.kioskHospital(ctx, &res, kioskMAC); err != nil {
			return Resolution{}, err
		}

	case errors.Is(err, repository.ErrNotFound):
		if err := r.kioskHospital(ctx, &res, kioskMAC); err != nil {
			return Resolution{}, err
		}
		created, err := r.store.CreateUnregisteredPatient(ctx, citizenID, res.HospitalID)
		if err != nil {
			return Resolution{}, err
		}
		res.PatientID = created.ID
		res.PatientCreated = true

	default:
		return Resolution{}, err
	}

	res.Device.PatientID = res.PatientID
	res.Device.HospitalID = res.HospitalID
	r.storeCache(ctx, key, res)
	return res, nil
}

// kioskHospital walks kiosk MAC → hospital association → gateway registry
// → default.
func (r *Resolver) kioskHospital(ctx context.Context, res *Resolution, kioskMAC string) error {
	h, err := r.store.HospitalByGatewayMAC(ctx, kioskMAC)
	if err == nil {
		res.HospitalID = h.ID
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	gw, err := r.store.GatewayByMAC(ctx, kioskMAC)
	if err == nil && gw.HospitalID != "" {
		res.HospitalID = gw.HospitalID
		return nil
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	r.defaultHospital(res, kioskMAC)
	return nil
}

// ── shared ────────────────────────────────────────────────────────────────

func (r *Resolver) defaultHospital(res *Resolution, ident string) {
	res.HospitalID = r.defaultHospitalID
	res.HospitalDefaulted = true
	r.logger.Warn("hospital lookup exhausted, using default",
		zap.String("kind", KindHospitalUnknown),
		zap.String("identifier", ident),
		zap.String("default_hospital_id", r.defaultHospitalID))
}

func (r *Resolver) cached(ctx context.Context, key string) (Resolution, bool) {
	if r.redis == nil {
		return Resolution{}, false
	}
	raw, err := r.redis.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Debug("resolution cache read failed", zap.String("key", key), zap.Error(err))
		}
		return Resolution{}, false
	}
	var res Resolution
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		r.logger.Debug("resolution cache entry corrupt", zap.String("key", key), zap.Error(err))
		return Resolution{}, false
	}
	return res, true
}

func (r *Resolver) storeCache(ctx context.Context, key string, res Resolution) {
	if r.redis == nil {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := r.redis.Set(ctx, key, raw, resolveCacheTTL).Err(); err != nil {
		r.logger.Debug("resolution cache write failed", zap.String("key", key), zap.Error(err))
	}
}
