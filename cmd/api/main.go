package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/busclient"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/config"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/emitter"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/fanout"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/handler"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/model"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/persister"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/pipeline"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/repository"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/resolver"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/scheduler"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/telemetry"
)

const (
	serviceName = "stardust-ingest"

	// drainBudget bounds how long in-flight messages may keep persisting
	// after intake stops. Messages still running after it are abandoned
	// mid-write; the dedup index makes their redelivery safe.
	drainBudget = 5 * time.Second

	shutdownBudget = 10 * time.Second

	// subscribeBuffer smooths broker bursts per pipeline. Once it is
	// full the blocking handler pushes backpressure into the broker's
	// in-flight window instead of dropping.
	subscribeBuffer = 64
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// ── Configuration (file + env + Vault) ─────────────────────────────────
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Fatal("configuration load failed", zap.Error(err))
	}

	// ── OpenTelemetry ──────────────────────────────────────────────────────
	if cfg.Telemetry.OTLPEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), serviceName, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
			logger.Info("OTel tracer initialized", zap.String("endpoint", cfg.Telemetry.OTLPEndpoint))
		}
	}

	// ── Document Store ─────────────────────────────────────────────────────
	store, mongoClient, err := repository.Connect(context.Background(), cfg.StoreURI(), cfg.Store.Database, logger)
	if err != nil {
		logger.Fatal("document store connection failed", zap.Error(err))
	}
	defer mongoClient.Disconnect(context.Background())

	if err := store.EnsureIndexes(context.Background()); err != nil {
		logger.Fatal("index provisioning failed", zap.Error(err))
	}
	logger.Info("connected to document store", zap.String("database", cfg.Store.Database))

	// ── Identity Cache ─────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Warn("identity cache unreachable, resolver falls back to the store", zap.Error(err))
	}

	// ── Fanout Hub ─────────────────────────────────────────────────────────
	jwtSecret := cfg.Fanout.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "dev-secret-change-me" // local dev only
		logger.Warn("fanout JWT secret not configured, using insecure default")
	}
	hub := fanout.New(fanout.Config{
		Secret:     jwtSecret,
		BufferSize: cfg.Fanout.OutboundBuffer,
	}, store, logger)

	// ── Flow-Event Emitter ─────────────────────────────────────────────────
	em := emitter.New(emitter.Config{
		URL:      cfg.Emitter.IngestURL,
		Token:    cfg.Emitter.Token,
		Capacity: cfg.Emitter.QueueCapacity,
	}, hub, logger)

	emitterCtx, emitterCancel := context.WithCancel(context.Background())
	emitterDone := make(chan struct{})
	go func() {
		em.Run(emitterCtx)
		close(emitterDone)
	}()

	// ── Metrics ────────────────────────────────────────────────────────────
	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	telemetry.NewStatsCollector(prometheus.DefaultRegisterer, hub.Stats, em.Stats)
	sink := metrics.WrapSink(em)

	// ── Message Bus ────────────────────────────────────────────────────────
	bus, err := busclient.New(busclient.Config{
		Endpoint: cfg.Bus.Endpoint,
		Username: cfg.Bus.Username,
		Password: cfg.Bus.Password,
		ClientID: cfg.Bus.ClientID,
		QoS:      byte(cfg.Bus.QoS),
	}, logger)
	if err != nil {
		logger.Fatal("bus connection failed", zap.Error(err))
	}

	// ── Ingest Pipelines ───────────────────────────────────────────────────
	res := resolver.New(store, rdb, cfg.DefaultHospitalID, logger)
	per := persister.New(store, logger).WithRetryBudget(cfg.Pipeline.PersistRetryBudget)

	pipelineCtx, pipelineCancel := context.WithCancel(context.Background())
	var pipelines sync.WaitGroup
	families := []model.DeviceFamily{model.FamilyGatewayBox, model.FamilyWatch, model.FamilyHospitalKiosk}
	for _, family := range families {
		messages, err := bus.Subscribe(pipeline.Filters(family), subscribeBuffer)
		if err != nil {
			logger.Fatal("bus subscription failed",
				zap.String("family", string(family)), zap.Error(err))
		}
		p := pipeline.New(family, pipeline.Deps{
			Resolver:  res,
			Persister: per,
			Emitter:   sink,
			Hub:       hub,
			Logger:    logger,
			InFlight:  cfg.Pipeline.InFlightPerPipeline,
		})
		pipelines.Add(1)
		go func() {
			defer pipelines.Done()
			if err := p.Run(pipelineCtx, messages); err != nil {
				logger.Error("pipeline stopped", zap.Error(err))
			}
		}()
	}

	// ── Event-Log Retention ────────────────────────────────────────────────
	retention := scheduler.NewRetention(store, cfg.EventLog.RetentionDays, logger)
	if err := retention.Start(); err != nil {
		logger.Fatal("retention scheduler start failed", zap.Error(err))
	}

	// ── HTTP Server ────────────────────────────────────────────────────────
	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware(serviceName))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("HTTP request",
				zap.String("URI", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	api := handler.New(handler.Config{
		Store: store,
		WS:    hub.ServeWS,
		Health: handler.Health{
			BusConnected: bus.Connected,
			StorePing: func(ctx context.Context) error {
				return mongoClient.Ping(ctx, readpref.Primary())
			},
			HubStats:     hub.Stats,
			EmitterStats: em.Stats,
		},
		Logger:   logger,
		MaxLimit: cfg.EventLog.PageLimitMax,
	})
	api.Register(e)

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Listen))
		if err := e.Start(cfg.Listen); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	logger.Info("stardust ingest started",
		zap.String("bus", cfg.Bus.Endpoint),
		zap.String("http", cfg.Listen))

	// ── Graceful Shutdown ──────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("initiating graceful shutdown")

	// Intake stops first so in-flight messages can finish persisting.
	bus.Close()
	pipelineCancel()

	drained := make(chan struct{})
	go func() {
		pipelines.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainBudget):
		logger.Warn("pipeline drain budget expired")
	}

	// Flush queued flow events while the ingest endpoint is still up.
	emitterCancel()
	<-emitterDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
	defer cancel()

	// Websockets close before the listener so echo is not left waiting on
	// long-lived upgrade handlers.
	hub.Shutdown(shutdownCtx)
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("echo shutdown error", zap.Error(err))
	}
	retention.Stop()

	logger.Info("shutdown complete")
}
