// Package handler serves the operator surface: event-log ingest and
// query, live dashboard upgrades, health and metrics. The event-log API
// is the same endpoint the in-process emitter posts to, so external
// monitors and the pipelines share one ingest path.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/emitter"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/fanout"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/model"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/repository"
)

const (
	defaultLimit    = 50
	defaultMaxLimit = 500

	healthTimeout = 2 * time.Second
)

// Store is the event-log persistence behind the API.
type Store interface {
	InsertEventLog(ctx context.Context, rec model.EventLogRecord) error
	QueryEventLogs(ctx context.Context, f repository.EventLogFilter) ([]model.EventLogRecord, int64, error)
	EventLogStats(ctx context.Context) (*repository.EventLogStats, error)
}

// Health exposes liveness probes for the service's moving parts. Nil
// probes are skipped, which keeps tests and partial deployments simple.
type Health struct {
	BusConnected func() bool
	StorePing    func(ctx context.Context) error
	HubStats     func() fanout.Stats
	EmitterStats func() emitter.Stats
}

// Config wires the API handler.
type Config struct {
	Store  Store
	WS     http.HandlerFunc // nil disables /ws
	Health Health
	Logger *zap.Logger

	// MaxLimit caps the page size of event-log queries. Zero means the
	// default cap.
	MaxLimit int64
}

// API is the HTTP handler set.
type API struct {
	store    Store
	ws       http.HandlerFunc
	health   Health
	validate *validator.Validate
	logger   *zap.Logger
	maxLimit int64
}

// New builds the API handler set.
func New(cfg Config) *API {
	maxLimit := cfg.MaxLimit
	if maxLimit <= 0 {
		maxLimit = defaultMaxLimit
	}
	return &API{
		store:    cfg.Store,
		ws:       cfg.WS,
		health:   cfg.Health,
		validate: validator.New(),
		logger:   cfg.Logger,
		maxLimit: maxLimit,
	}
}

// Register mounts all routes.
func (a *API) Register(e *echo.Echo) {
	api := e.Group("/api")
	api.POST("/event-log", a.CreateEventLog)
	api.GET("/event-log", a.ListEventLogs)
	api.GET("/event-log/stats", a.GetEventLogStats)

	e.GET("/ws", a.serveWS)
	e.GET("/healthz", a.Healthz)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// ── event log ─────────────────────────────────────────────────────────────

type createEventLogRequest struct {
	Source string `json:"source" validate:"required"`
	model.FlowEvent
}

// CreateEventLog accepts one flow event and stores it. The write is
// synchronous but cheap; 202 signals that downstream fanout of the event
// is not part of the request.
func (a *API) CreateEventLog(c echo.Context) error {
	var req createEventLogRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errResp("invalid json body"))
	}
	if err := a.validate.Struct(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errResp(err.Error()))
	}

	rec := model.EventLogRecord{
		ID:              uuid.New().String(),
		Source:          req.Source,
		FlowEvent:       req.FlowEvent,
		ServerTimestamp: time.Now().UTC(),
	}
	if err := a.store.InsertEventLog(c.Request().Context(), rec); err != nil {
		a.logger.Error("event log insert failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errResp("failed to store event"))
	}
	return c.JSON(http.StatusAccepted, map[string]string{"id": rec.ID, "status": "accepted"})
}

// ListEventLogs returns a filtered page of event-log records.
func (a *API) ListEventLogs(c echo.Context) error {
	f, err := a.parseFilter(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errResp(err.Error()))
	}

	events, total, err := a.store.QueryEventLogs(c.Request().Context(), f)
	if err != nil {
		a.logger.Error("event log query failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errResp("failed to query events"))
	}
	if events == nil {
		events = []model.EventLogRecord{}
	}

	pages := int64(0)
	if total > 0 {
		pages = (total + f.Limit - 1) / f.Limit
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"events": events,
		"pagination": map[string]int64{
			"page":  f.Page,
			"limit": f.Limit,
			"total": total,
			"pages": pages,
		},
	})
}

// GetEventLogStats returns the rolling 24 h counters.
func (a *API) GetEventLogStats(c echo.Context) error {
	stats, err := a.store.EventLogStats(c.Request().Context())
	if err != nil {
		a.logger.Error("event log stats failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errResp("failed to compute stats"))
	}
	return c.JSON(http.StatusOK, stats)
}

func (a *API) parseFilter(c echo.Context) (repository.EventLogFilter, error) {
	f := repository.EventLogFilter{
		Source:       c.QueryParam("source"),
		Status:       c.QueryParam("status"),
		Step:         c.QueryParam("step"),
		DeviceFamily: c.QueryParam("device_family"),
		Q:            c.QueryParam("q"),
		Page:         1,
		Limit:        defaultLimit,
	}

	if v := c.QueryParam("page"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return f, errors.New("page must be a positive integer")
		}
		f.Page = n
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return f, errors.New("limit must be a positive integer")
		}
		if n > a.maxLimit {
			n = a.maxLimit
		}
		f.Limit = n
	}
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("from must be RFC3339")
		}
		f.From = &t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("to must be RFC3339")
		}
		f.To = &t
	}
	return f, nil
}

// ── websocket ─────────────────────────────────────────────────────────────

func (a *API) serveWS(c echo.Context) error {
	if a.ws == nil {
		return c.JSON(http.StatusServiceUnavailable, errResp("fanout disabled"))
	}
	a.ws(c.Response(), c.Request())
	return nil
}

// ── health ────────────────────────────────────────────────────────────────

// Healthz reports per-component liveness. The store probe gets its own
// short deadline so a hung database answers "degraded" instead of
// hanging the probe.
func (a *API) Healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	resp := map[string]interface{}{"status": "ok"}
	healthy := true

	if a.health.BusConnected != nil {
		up := a.health.BusConnected()
		resp["bus"] = upDown(up)
		healthy = healthy && up
	}
	if a.health.StorePing != nil {
		if err := a.health.StorePing(ctx); err != nil {
			resp["store"] = "down"
			healthy = false
		} else {
			resp["store"] = "up"
		}
	}
	if a.health.HubStats != nil {
		resp["fanout"] = a.health.HubStats()
	}
	if a.health.EmitterStats != nil {
		resp["emitter"] = a.health.EmitterStats()
	}

	if !healthy {
		resp["status"] = "degraded"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func upDown(ok bool) string {
	if ok {
		return "up"
	}
	return "down"
}

func errResp(msg string) map[string]string {
	return map[string]string{"error": msg}
}
