package thread

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwwzy/sweepchat/internal/storage"
)

func newSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.Config{Path: filepath.Join(t.TempDir(), "thread.db"), EnableWAL: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s, err := NewSQLStore(db)
	require.NoError(t, err)
	return s
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"sql":    newSQLStore(t),
		"memory": NewMemoryStore(),
	}
}

func TestStoreResolveIsIdempotent(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, err := s.ResolveOrCreate(ctx, "+15551234567")
			require.NoError(t, err)
			b, err := s.ResolveOrCreate(ctx, "+15551234567")
			require.NoError(t, err)
			assert.Equal(t, a, b)

			c, err := s.ResolveOrCreate(ctx, "+15550000000")
			require.NoError(t, err)
			assert.NotEqual(t, a, c)
		})
	}
}

func TestStoreHistoryRoundTripsToolCalls(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, err := s.ResolveOrCreate(ctx, "+15551234567")
			require.NoError(t, err)

			call := schema.ToolCall{ID: "call_1", Type: "function", Function: schema.FunctionCall{Name: "check_availability", Arguments: `{"start_date":"07/27/2024"}`}}
			assistant := schema.AssistantMessage("", []schema.ToolCall{call})
			assistant.Name = "Scheduler"
			turn := []*schema.Message{
				schema.UserMessage("What slots are open next week?"),
				assistant,
				{Role: schema.Tool, Content: `{"availability":[]}`, ToolCallID: "call_1", ToolName: "check_availability"},
			}
			require.NoError(t, s.Append(ctx, id, 0, turn))

			got, err := s.History(ctx, id)
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, "Scheduler", got[1].Name)
			require.Len(t, got[1].ToolCalls, 1)
			assert.Equal(t, "call_1", got[1].ToolCalls[0].ID)
			assert.Equal(t, "call_1", got[2].ToolCallID)
		})
	}
}

func TestStoreAppendRejectsStaleSequence(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, err := s.ResolveOrCreate(ctx, "+15551234567")
			require.NoError(t, err)

			require.NoError(t, s.Append(ctx, id, 0, []*schema.Message{schema.UserMessage("hi")}))
			err = s.Append(ctx, id, 0, []*schema.Message{schema.UserMessage("again")})
			assert.True(t, errors.Is(err, ErrConflict), "got %v", err)

			got, err := s.History(ctx, id)
			require.NoError(t, err)
			assert.Len(t, got, 1)
		})
	}
}

func TestStoreAppendRejectsNilMessages(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, err := s.ResolveOrCreate(ctx, "+15551234567")
			require.NoError(t, err)

			err = s.Append(ctx, id, 0, []*schema.Message{schema.UserMessage("hi"), nil, schema.AssistantMessage("hello", nil)})
			assert.ErrorIs(t, err, ErrNilMessage)

			got, err := s.History(ctx, id)
			require.NoError(t, err)
			assert.Empty(t, got)

			// The next append still starts at zero.
			require.NoError(t, s.Append(ctx, id, 0, []*schema.Message{schema.UserMessage("hi")}))
		})
	}
}

func TestSQLStoreAppendTurn(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()

	threadID, err := s.ResolveOrCreate(ctx, "+1555")
	require.NoError(t, err)

	at := time.Now().Add(time.Hour).UTC()
	require.NoError(t, s.AppendTurn(ctx, Turn{Sender: "+1555", ThreadID: threadID, Inbound: "hi", Outbound: "hello", At: at}))

	turns, err := s.db.QueryTurns(ctx, storage.TurnQuery{ThreadID: threadID})
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "hello", turns[0].Response)

	th, err := s.db.GetThreadBySender(ctx, "+1555")
	require.NoError(t, err)
	assert.WithinDuration(t, at, th.LastActiveAt, time.Second)

	err = s.AppendTurn(ctx, Turn{Sender: "+1999", ThreadID: "missing", Inbound: "hi", Outbound: "hello", At: at})
	assert.True(t, storage.IsNotFound(err))
}

func TestMemoryStoreHistoryIsACopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "t-1", 0, []*schema.Message{schema.UserMessage("hi")}))

	got, err := s.History(ctx, "t-1")
	require.NoError(t, err)
	got[0].Content = "mutated"

	again, err := s.History(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, "hi", again[0].Content)
}

func TestLockerSerializesPerKey(t *testing.T) {
	l := NewLocker()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("thread-a")
			defer unlock()
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, l.size())
}

func TestLockerIndependentKeys(t *testing.T) {
	l := NewLocker()
	unlockA := l.Lock("a")

	done := make(chan struct{})
	go func() {
		unlock := l.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
	unlockA()
	assert.Equal(t, 0, l.size())
}
