package thread

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests and the console chat.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]string
	history map[string][]*schema.Message
	turns   []Turn
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string]string),
		history: make(map[string][]*schema.Message),
	}
}

func (s *MemoryStore) ResolveOrCreate(_ context.Context, sender string) (string, error) {
	if sender == "" {
		return "", errors.New("sender is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.threads[sender]; ok {
		return id, nil
	}
	id := uuid.NewString()
	s.threads[sender] = id
	return id, nil
}

func (s *MemoryStore) History(_ context.Context, threadID string) ([]*schema.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.history[threadID]
	out := make([]*schema.Message, len(stored))
	for i, m := range stored {
		cp := *m
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryStore) Append(_ context.Context, threadID string, fromSeq int, msgs []*schema.Message) error {
	if threadID == "" {
		return errors.New("thread id is empty")
	}
	if err := checkMessages(msgs); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.history[threadID]); n != fromSeq {
		return fmt.Errorf("%w: thread %s has %d messages, append starts at %d", ErrConflict, threadID, n, fromSeq)
	}
	for _, m := range msgs {
		cp := *m
		s.history[threadID] = append(s.history[threadID], &cp)
	}
	return nil
}

func (s *MemoryStore) AppendTurn(_ context.Context, turn Turn) error {
	if turn.At.IsZero() {
		turn.At = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
	return nil
}

// Turns returns the recorded turns of threadID, oldest first.
func (s *MemoryStore) Turns(threadID string) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Turn
	for _, t := range s.turns {
		if t.ThreadID == threadID {
			out = append(out, t)
		}
	}
	return out
}
