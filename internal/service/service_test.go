package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwwzy/sweepchat/internal/agent"
	"github.com/wwwzy/sweepchat/internal/agent/agenttest"
	"github.com/wwwzy/sweepchat/internal/config"
	"github.com/wwwzy/sweepchat/internal/logging"
	"github.com/wwwzy/sweepchat/internal/messaging"
	"github.com/wwwzy/sweepchat/internal/thread"
	"github.com/wwwzy/sweepchat/internal/tools"
)

type outbox struct {
	mu   sync.Mutex
	sent []string
}

func (o *outbox) Send(_ context.Context, to, body string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, to+": "+body)
	return nil
}

func (o *outbox) messages() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.sent...)
}

func newRegistry(t *testing.T, slots ...string) *tools.Registry {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"slots": slots})
	}))
	t.Cleanup(srv.Close)
	reg, err := tools.NewDefaultRegistry(context.Background(), tools.Config{
		AvailabilityURL: srv.URL,
		BookingURL:      srv.URL,
		Timeout:         2 * time.Second,
	}, srv.Client())
	require.NoError(t, err)
	return reg
}

func newGraph(t *testing.T, reg *tools.Registry, router, worker *agenttest.ScriptedModel) compose.Runnable[agent.AgentState, agent.AgentState] {
	t.Helper()
	cfg := config.DefaultConfig()
	r, err := agent.New(context.Background(), &cfg, agent.Models{Worker: worker, Router: router}, reg, nil, logging.Discard())
	require.NoError(t, err)
	return r
}

func newService(t *testing.T, store thread.Store, runner Runner, sink messaging.Sender) *Service {
	t.Helper()
	svc, err := New(Config{
		Store:       store,
		Runner:      runner,
		Notifier:    messaging.NewNotifier(sink, logging.Discard()),
		Logger:      logging.Discard(),
		TurnTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return svc
}

func TestHandleInboundAvailability(t *testing.T) {
	slots := []string{"2024-07-27T13:00:00.000Z", "2024-07-28T09:00:00.000Z"}
	router := agenttest.NewScriptedModel(agenttest.Route("Scheduler"), agenttest.Route(agent.FinishRoute))
	worker := agenttest.NewScriptedModel(
		agenttest.Call("call_1", "check_availability", map[string]string{"start_date": "07/22/2024", "end_date": "07/28/2024"}),
		agenttest.Answer("Open slots: 2024-07-27T13:00:00.000Z and 2024-07-28T09:00:00.000Z."),
	)
	store := thread.NewMemoryStore()
	box := &outbox{}
	svc := newService(t, store, newGraph(t, newRegistry(t, slots...), router, worker), box)

	reply, err := svc.HandleInbound(context.Background(), "+15551234567", "What slots are open next week?")
	require.NoError(t, err)

	for _, s := range slots {
		assert.Contains(t, reply.Text, s)
	}
	assert.False(t, reply.Fallback)
	assert.True(t, reply.Delivered)
	assert.NotEmpty(t, reply.TraceID)
	assert.Equal(t, []string{"+15551234567: " + reply.Text}, box.messages())

	turns := store.Turns(reply.ThreadID)
	require.Len(t, turns, 1)
	assert.Equal(t, "What slots are open next week?", turns[0].Inbound)
	assert.Equal(t, reply.Text, turns[0].Outbound)

	history, err := store.History(context.Background(), reply.ThreadID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, schema.User, history[0].Role)
	assert.Equal(t, schema.Tool, history[2].Role)
}

func TestHandleInboundKeepsThreadAcrossTurns(t *testing.T) {
	router := agenttest.NewScriptedModel(
		agenttest.Route("NewJob"), agenttest.Route(agent.FinishRoute),
		agenttest.Route("NewJob"), agenttest.Route(agent.FinishRoute),
	)
	worker := agenttest.NewScriptedModel(
		agenttest.Answer("Sure, what is the address?"),
		agenttest.Answer("Thanks, noted 12 Main St."),
	)
	store := thread.NewMemoryStore()
	svc := newService(t, store, newGraph(t, newRegistry(t), router, worker), &outbox{})
	ctx := context.Background()

	first, err := svc.HandleInbound(ctx, "+15551234567", "I need my fence painted")
	require.NoError(t, err)
	firstHistory, err := store.History(ctx, first.ThreadID)
	require.NoError(t, err)

	second, err := svc.HandleInbound(ctx, "+15551234567", "12 Main St")
	require.NoError(t, err)
	assert.Equal(t, first.ThreadID, second.ThreadID)
	assert.Equal(t, "Thanks, noted 12 Main St.", second.Text)

	secondHistory, err := store.History(ctx, second.ThreadID)
	require.NoError(t, err)
	require.Greater(t, len(secondHistory), len(firstHistory))
	for i := range firstHistory {
		assert.Equal(t, firstHistory[i].Content, secondHistory[i].Content)
	}

	// The worker saw the first turn on the second run.
	inputs := worker.Inputs()
	last := inputs[len(inputs)-1]
	var seen bool
	for _, m := range last {
		if m.Content == "I need my fence painted" {
			seen = true
		}
	}
	assert.True(t, seen)
}

func TestHandleInboundFallsBackWhenNoWorkerAnswers(t *testing.T) {
	router := agenttest.NewScriptedModel(agenttest.Route(agent.FinishRoute))
	store := thread.NewMemoryStore()
	svc := newService(t, store, newGraph(t, newRegistry(t), router, agenttest.NewScriptedModel()), &outbox{})

	reply, err := svc.HandleInbound(context.Background(), "+15551234567", "thanks, bye")
	require.NoError(t, err)
	assert.True(t, reply.Fallback)
	assert.Equal(t, agent.FallbackText, reply.Text)
}

func TestHandleInboundRunFailureIsFatal(t *testing.T) {
	router := agenttest.NewScriptedModel(agenttest.Fail(errors.New("model unavailable")))
	store := thread.NewMemoryStore()
	box := &outbox{}
	svc := newService(t, store, newGraph(t, newRegistry(t), router, agenttest.NewScriptedModel()), box)

	_, err := svc.HandleInbound(context.Background(), "+15551234567", "hello")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrPersistence))
	assert.Empty(t, box.messages())

	threadID, err := store.ResolveOrCreate(context.Background(), "+15551234567")
	require.NoError(t, err)
	history, err := store.History(context.Background(), threadID)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Empty(t, store.Turns(threadID))
}

// echoRunner answers every message and records how many runs overlap.
type echoRunner struct {
	active  atomic.Int32
	maxSeen atomic.Int32
	delay   time.Duration
}

func (r *echoRunner) Invoke(_ context.Context, in agent.AgentState, _ ...compose.Option) (agent.AgentState, error) {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		old := r.maxSeen.Load()
		if n <= old || r.maxSeen.CompareAndSwap(old, n) {
			break
		}
	}
	time.Sleep(r.delay)

	last := in.Messages[len(in.Messages)-1]
	answer := schema.AssistantMessage("ack: "+last.Content, nil)
	answer.Name = "NewJob"
	in.Messages = append(append([]*schema.Message(nil), in.Messages...), answer)
	in.Next = agent.FinishRoute
	return in, nil
}

func TestHandleInboundSerializesSameSender(t *testing.T) {
	store := thread.NewMemoryStore()
	runner := &echoRunner{delay: 20 * time.Millisecond}
	svc := newService(t, store, runner, &outbox{})

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.HandleInbound(context.Background(), "+15551234567", fmt.Sprintf("msg %d", i))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), runner.maxSeen.Load())

	threadID, err := store.ResolveOrCreate(context.Background(), "+15551234567")
	require.NoError(t, err)
	history, err := store.History(context.Background(), threadID)
	require.NoError(t, err)
	assert.Len(t, history, 2*n)
	assert.Len(t, store.Turns(threadID), n)
}

type failingTurns struct {
	*thread.MemoryStore
}

func (failingTurns) AppendTurn(context.Context, thread.Turn) error {
	return errors.New("disk full")
}

func TestHandleInboundPersistenceFailureKeepsReply(t *testing.T) {
	store := failingTurns{MemoryStore: thread.NewMemoryStore()}
	box := &outbox{}
	svc := newService(t, store, &echoRunner{}, box)

	reply, err := svc.HandleInbound(context.Background(), "+15551234567", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, "ack: hello", reply.Text)
	assert.True(t, reply.Delivered)
	assert.Len(t, box.messages(), 1)

	history, herr := store.History(context.Background(), reply.ThreadID)
	require.NoError(t, herr)
	assert.Len(t, history, 2)
}

func TestHandleInboundWithoutDelivery(t *testing.T) {
	box := &outbox{}
	svc := newService(t, thread.NewMemoryStore(), &echoRunner{}, box)

	reply, err := svc.HandleInbound(context.Background(), "web:abc", "hi", WithoutDelivery())
	require.NoError(t, err)
	assert.False(t, reply.Delivered)
	assert.Empty(t, box.messages())
}

func TestHandleInboundRejectsEmptyInput(t *testing.T) {
	svc := newService(t, thread.NewMemoryStore(), &echoRunner{}, &outbox{})

	_, err := svc.HandleInbound(context.Background(), " ", "hi")
	assert.ErrorIs(t, err, ErrEmptySender)
	_, err = svc.HandleInbound(context.Background(), "+1555", "  ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}
