// Package emitter ships per-step flow events to the event-log store over
// local HTTP. Emission is fire-and-forget: a full queue drops the oldest
// event and a failing store never stalls or fails the pipelines.
package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/model"
)

const (
	// DefaultCapacity bounds the in-memory queue.
	DefaultCapacity = 1024

	postTimeout = 5 * time.Second

	// flushBudget caps the best-effort drain on shutdown.
	flushBudget = 2 * time.Second
)

// Broadcaster receives every emitted flow event for live fanout. The hub
// implements it; emission must not block on it.
type Broadcaster interface {
	BroadcastFlowEvent(source string, ev model.FlowEvent)
}

// Stats is a point-in-time view of emitter throughput for health and
// metrics surfaces.
type Stats struct {
	Queued  int    `json:"queued"`
	Posted  uint64 `json:"posted"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// Config wires the emitter to the event-log ingest endpoint.
type Config struct {
	// URL is the full ingest endpoint, e.g. http://127.0.0.1:8080/api/event-log.
	URL string

	// Token, when set, is sent as a bearer token on every post.
	Token string

	// Capacity overrides DefaultCapacity when > 0.
	Capacity int

	// Client overrides the default HTTP client.
	Client *http.Client
}

// wireEvent is the ingest body: the flow event flattened with its source.
type wireEvent struct {
	Source string `json:"source"`
	model.FlowEvent
}

// Emitter queues flow events and posts them through a circuit breaker.
type Emitter struct {
	url    string
	token  string
	client *http.Client
	hub    Broadcaster
	logger *zap.Logger

	queue   chan wireEvent
	breaker *gobreaker.CircuitBreaker

	posted  atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// New constructs an Emitter. hub may be nil when no fanout is attached.
func New(cfg Config, hub Broadcaster, logger *zap.Logger) *Emitter {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: postTimeout}
	}
	return &Emitter{
		url:    cfg.URL,
		token:  cfg.Token,
		client: client,
		hub:    hub,
		logger: logger,
		queue:  make(chan wireEvent, capacity),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "event-log-ingest",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("event-log circuit state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
	}
}

// Emit hands one flow event to the fanout hub and queues it for the
// event-log store. Never blocks; a full queue drops the oldest event.
func (e *Emitter) Emit(source string, ev model.FlowEvent) {
	if e.hub != nil {
		e.hub.BroadcastFlowEvent(source, ev)
	}

	item := wireEvent{Source: source, FlowEvent: ev}
	select {
	case e.queue <- item:
		return
	default:
	}

	// Queue full: evict the oldest event to keep the newest.
	select {
	case old := <-e.queue:
		e.recordDrop(old)
	default:
	}
	select {
	case e.queue <- item:
	default:
		e.recordDrop(item)
	}
}

func (e *Emitter) recordDrop(item wireEvent) {
	total := e.dropped.Add(1)
	e.logger.Warn("flow event dropped, queue full",
		zap.String("source", item.Source),
		zap.String("step", string(item.Step)),
		zap.Uint64("dropped_total", total))
}

// Run drains the queue until ctx is canceled, then flushes what remains
// within the shutdown budget. Call from a dedicated goroutine.
func (e *Emitter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.flush()
			return
		case item := <-e.queue:
			e.post(context.Background(), item)
		}
	}
}

// Stats snapshots the counters.
func (e *Emitter) Stats() Stats {
	return Stats{
		Queued:  len(e.queue),
		Posted:  e.posted.Load(),
		Dropped: e.dropped.Load(),
		Failed:  e.failed.Load(),
	}
}

func (e *Emitter) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushBudget)
	defer cancel()
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case item := <-e.queue:
			e.post(ctx, item)
		default:
			return
		}
	}
}

func (e *Emitter) post(parent context.Context, item wireEvent) {
	_, err := e.breaker.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(parent, postTimeout)
		defer cancel()

		body, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if e.token != "" {
			req.Header.Set("Authorization", "Bearer "+e.token)
		}

		resp, err := e.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode >= http.StatusMultipleChoices {
			return nil, fmt.Errorf("event-log store returned %s", resp.Status)
		}
		return nil, nil
	})
	if err != nil {
		e.failed.Add(1)
		e.logger.Warn("flow event post failed",
			zap.String("source", item.Source),
			zap.String("step", string(item.Step)),
			zap.Error(err))
		return
	}
	e.posted.Add(1)
}
