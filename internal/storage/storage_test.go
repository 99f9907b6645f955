package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "sweepchat.db")
	s, err := Open(ctx, Config{
		Path:      dbPath,
		EnableWAL: true,
	})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestResolveThreadIsIdempotent(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	first, err := s.ResolveThread(ctx, "+15551234567")
	if err != nil {
		t.Fatalf("resolve first: %v", err)
	}
	if first.ThreadID == "" {
		t.Fatalf("expected a thread id")
	}
	second, err := s.ResolveThread(ctx, "+15551234567")
	if err != nil {
		t.Fatalf("resolve second: %v", err)
	}
	if first.ThreadID != second.ThreadID {
		t.Fatalf("expected same thread id, got %s then %s", first.ThreadID, second.ThreadID)
	}

	other, err := s.ResolveThread(ctx, "+15557654321")
	if err != nil {
		t.Fatalf("resolve other: %v", err)
	}
	if other.ThreadID == first.ThreadID {
		t.Fatalf("different senders must not share a thread")
	}

	n, err := s.CountThreads(ctx)
	if err != nil {
		t.Fatalf("count threads: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 threads, got %d", n)
	}

	if _, err := s.ResolveThread(ctx, ""); err == nil {
		t.Fatalf("expected error for empty sender")
	}
}

func TestGetThreadBySenderNotFound(t *testing.T) {
	s := openTestStorage(t)

	_, err := s.GetThreadBySender(context.Background(), "+10000000000")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAppendThreadMessagesIsAppendOnly(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	th, err := s.ResolveThread(ctx, "+15551234567")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	turn1 := []ThreadMessage{
		{Role: "user", Payload: `{"role":"user","content":"hi"}`},
		{Role: "assistant", Name: "Scheduler", Payload: `{"role":"assistant","content":"hello"}`},
	}
	if err := s.AppendThreadMessages(ctx, th.ThreadID, 0, turn1); err != nil {
		t.Fatalf("append turn1: %v", err)
	}

	turn2 := []ThreadMessage{
		{Role: "user", Payload: `{"role":"user","content":"book me"}`},
	}
	if err := s.AppendThreadMessages(ctx, th.ThreadID, 1, turn2); !errors.Is(err, ErrSeqConflict) {
		t.Fatalf("expected seq conflict, got %v", err)
	}
	if err := s.AppendThreadMessages(ctx, th.ThreadID, 2, turn2); err != nil {
		t.Fatalf("append turn2: %v", err)
	}

	got, err := s.LoadThreadMessages(ctx, th.ThreadID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	for i, m := range got {
		if m.Seq != i {
			t.Fatalf("message %d has seq %d", i, m.Seq)
		}
	}
	if got[1].Name != "Scheduler" {
		t.Fatalf("expected attribution to survive, got %q", got[1].Name)
	}
}

func TestConversationTurns(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	old := &ConversationTurn{
		Sender:    "+15551234567",
		ThreadID:  "t-1",
		Message:   "hi",
		Response:  "hello",
		CreatedAt: time.Now().Add(-48 * time.Hour).UTC(),
	}
	recent := &ConversationTurn{
		Sender:   "+15551234567",
		ThreadID: "t-1",
		Message:  "slots?",
		Response: "Saturday 1pm",
	}
	if err := s.InsertTurn(ctx, old); err != nil {
		t.Fatalf("insert old: %v", err)
	}
	if err := s.InsertTurn(ctx, recent); err != nil {
		t.Fatalf("insert recent: %v", err)
	}

	got, err := s.QueryTurns(ctx, TurnQuery{ThreadID: "t-1", Desc: true})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 || got[0].Message != "slots?" {
		t.Fatalf("unexpected turns: %+v", got)
	}

	affected, err := s.DeleteTurnsBeforeLimited(ctx, time.Now().Add(-24*time.Hour).UTC(), 10)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected 1 deleted turn, got %d", affected)
	}
	n, err := s.CountTurns(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 remaining turn, got %d", n)
	}
}

func TestDeleteIdleThreads(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	th, err := s.ResolveThread(ctx, "+15551234567")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := s.AppendThreadMessages(ctx, th.ThreadID, 0, []ThreadMessage{{Role: "user", Payload: "{}"}}); err != nil {
		t.Fatalf("append: %v", err)
	}

	affected, err := s.DeleteIdleThreadsLimited(ctx, time.Now().Add(-time.Hour).UTC(), 10)
	if err != nil {
		t.Fatalf("delete fresh: %v", err)
	}
	if affected != 0 {
		t.Fatalf("active thread must survive, deleted %d", affected)
	}

	affected, err = s.DeleteIdleThreadsLimited(ctx, time.Now().Add(time.Hour).UTC(), 10)
	if err != nil {
		t.Fatalf("delete idle: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected 1 deleted thread, got %d", affected)
	}
	msgs, err := s.CountThreadMessages(ctx)
	if err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if msgs != 0 {
		t.Fatalf("expected history to be removed with the thread, got %d", msgs)
	}
}

func TestAuditInsertQueryUpdate(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	rec := &AuditRecord{
		TraceID:    "trace-1",
		ThreadID:   "t-1",
		Action:     "book_appointment",
		ParamsJSON: `{"name":"Ann"}`,
		Status:     "running",
		StartedAt:  time.Now().UTC(),
	}
	if err := s.InsertAuditRecord(ctx, rec); err != nil {
		t.Fatalf("insert audit: %v", err)
	}
	if rec.ID == 0 {
		t.Fatalf("expected id to be assigned")
	}

	status := "success"
	result := "Appointment successfully booked."
	finished := time.Now().UTC()
	if err := s.UpdateAuditRecord(ctx, rec.ID, AuditUpdate{Status: &status, ResultJSON: &result, FinishedAt: &finished}); err != nil {
		t.Fatalf("update audit: %v", err)
	}

	got, err := s.QueryAuditRecords(ctx, AuditQuery{ThreadID: "t-1", Action: "book_appointment"})
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	if len(got) != 1 || got[0].Status != "success" || got[0].ResultJSON != result {
		t.Fatalf("unexpected audit rows: %+v", got)
	}

	if err := s.UpdateAuditRecord(ctx, 9999, AuditUpdate{Status: &status}); !IsNotFound(err) {
		t.Fatalf("expected not found for unknown id, got %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.InsertAuditRecord(ctx, &AuditRecord{Action: "create_brief", Status: "success"}); err != nil {
			t.Fatalf("insert extra: %v", err)
		}
	}
	deleted, err := s.DeleteAuditRecordsKeepLatest(ctx, 2)
	if err != nil {
		t.Fatalf("keep latest: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted, got %d", deleted)
	}
	n, err := s.CountAuditRecords(ctx)
	if err != nil {
		t.Fatalf("count audit: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 remaining, got %d", n)
	}
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data", "nested", "sweepchat.db")
	s, err := Open(context.Background(), Config{Path: dbPath})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("expected database file: %v", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestGormLoggerRoutesFailuresAndSlowQueries(t *testing.T) {
	base, hook := logtest.NewNullLogger()
	l := newGormLogger(base, 10*time.Millisecond)
	ctx := context.Background()
	stmt := func() (string, int64) { return "SELECT 1", 1 }

	l.Trace(ctx, time.Now(), stmt, errors.New("disk I/O error"))
	if got := hook.LastEntry(); got == nil || got.Level != logrus.ErrorLevel {
		t.Fatalf("expected error entry, got %+v", got)
	}

	l.Trace(ctx, time.Now().Add(-time.Second), stmt, nil)
	if got := hook.LastEntry(); got.Level != logrus.WarnLevel || got.Data["sql"] != "SELECT 1" {
		t.Fatalf("expected slow query warning, got %+v", got)
	}

	hook.Reset()
	l.Trace(ctx, time.Now(), stmt, gorm.ErrRecordNotFound)
	if hook.LastEntry() != nil {
		t.Fatalf("record not found should not be logged at warn level")
	}

	if newGormLogger(nil, 0) != logger.Discard {
		t.Fatalf("nil logrus logger should discard")
	}
}
