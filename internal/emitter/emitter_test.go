package emitter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/model"
)

func testEvent(step model.FlowStep) model.FlowEvent {
	return model.FlowEvent{
		Step:         step,
		Status:       model.FlowSuccess,
		DeviceFamily: model.FamilyWatch,
		Topic:        "iMEDE_watch/VitalSign",
		Timestamp:    time.Date(2025, 7, 13, 2, 0, 0, 0, time.UTC),
	}
}

func TestEmitPostsToStore(t *testing.T) {
	type ingested struct {
		Source string `json:"source"`
		Step   string `json:"step"`
		Topic  string `json:"topic"`
	}
	got := make(chan ingested, 1)
	var auth atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		var in ingested
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		got <- in
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	e := New(Config{URL: srv.URL, Token: "svc-token"}, nil, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	e.Emit("watch-pipeline", testEvent(model.StepReceived))

	select {
	case in := <-got:
		assert.Equal(t, "watch-pipeline", in.Source)
		assert.Equal(t, "1_received", in.Step)
		assert.Equal(t, "iMEDE_watch/VitalSign", in.Topic)
	case <-time.After(2 * time.Second):
		t.Fatal("event never reached the store")
	}
	assert.Equal(t, "Bearer svc-token", auth.Load())
	assert.Eventually(t, func() bool { return e.Stats().Posted == 1 }, time.Second, 10*time.Millisecond)
}

func TestEmitDropsOldestWhenFull(t *testing.T) {
	// No Run loop: the queue only fills.
	e := New(Config{URL: "http://127.0.0.1:0", Capacity: 2}, nil, zaptest.NewLogger(t))

	e.Emit("watch-pipeline", testEvent(model.StepReceived))
	e.Emit("watch-pipeline", testEvent(model.StepDecoded))
	e.Emit("watch-pipeline", testEvent(model.StepResolved))

	assert.Equal(t, uint64(1), e.Stats().Dropped)
	assert.Equal(t, 2, e.Stats().Queued)

	first := <-e.queue
	second := <-e.queue
	assert.Equal(t, model.StepDecoded, first.Step, "oldest event is the one evicted")
	assert.Equal(t, model.StepResolved, second.Step)
}

type recordingHub struct {
	sources []string
	steps   []model.FlowStep
}

func (h *recordingHub) BroadcastFlowEvent(source string, ev model.FlowEvent) {
	h.sources = append(h.sources, source)
	h.steps = append(h.steps, ev.Step)
}

func TestEmitBroadcastsToHub(t *testing.T) {
	hub := &recordingHub{}
	e := New(Config{URL: "http://127.0.0.1:0"}, hub, zaptest.NewLogger(t))

	e.Emit("gateway-pipeline", testEvent(model.StepReceived))
	e.Emit("gateway-pipeline", testEvent(model.StepPersisted))

	require.Len(t, hub.steps, 2)
	assert.Equal(t, []string{"gateway-pipeline", "gateway-pipeline"}, hub.sources)
	assert.Equal(t, model.StepPersisted, hub.steps[1])
}

func TestRunFlushesQueueOnShutdown(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	e := New(Config{URL: srv.URL}, nil, zaptest.NewLogger(t))
	e.Emit("kiosk-pipeline", testEvent(model.StepReceived))
	e.Emit("kiosk-pipeline", testEvent(model.StepPersisted))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(flushBudget + time.Second):
		t.Fatal("shutdown flush exceeded its budget")
	}
	assert.Equal(t, int32(2), posts.Load(), "queued events should be flushed before exit")
}

func TestPostFailuresTripBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := New(Config{URL: srv.URL}, nil, zaptest.NewLogger(t))
	for i := 0; i < 7; i++ {
		e.post(context.Background(), wireEvent{Source: "watch-pipeline", FlowEvent: testEvent(model.StepReceived)})
	}

	assert.Equal(t, uint64(7), e.Stats().Failed)
	assert.Equal(t, int32(5), hits.Load(), "open circuit must stop reaching the store")
	assert.Equal(t, uint64(0), e.Stats().Posted)
}
