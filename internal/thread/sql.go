package thread

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"
	"github.com/wwwzy/sweepchat/internal/storage"
)

// SQLStore is the Store backed by the sqlite storage layer.
type SQLStore struct {
	db *storage.Storage
}

func NewSQLStore(db *storage.Storage) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("storage is required")
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) ResolveOrCreate(ctx context.Context, sender string) (string, error) {
	th, err := s.db.ResolveThread(ctx, sender)
	if err != nil {
		return "", err
	}
	return th.ThreadID, nil
}

func (s *SQLStore) History(ctx context.Context, threadID string) ([]*schema.Message, error) {
	rows, err := s.db.LoadThreadMessages(ctx, threadID)
	if err != nil {
		return nil, err
	}
	out := make([]*schema.Message, 0, len(rows))
	for _, row := range rows {
		var msg schema.Message
		if err := json.Unmarshal([]byte(row.Payload), &msg); err != nil {
			return nil, fmt.Errorf("decode message %d of thread %s: %w", row.Seq, threadID, err)
		}
		out = append(out, &msg)
	}
	return out, nil
}

func (s *SQLStore) Append(ctx context.Context, threadID string, fromSeq int, msgs []*schema.Message) error {
	if err := checkMessages(msgs); err != nil {
		return err
	}
	rows := make([]storage.ThreadMessage, 0, len(msgs))
	for _, msg := range msgs {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		rows = append(rows, storage.ThreadMessage{
			Role:       string(msg.Role),
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
			Payload:    string(payload),
		})
	}
	err := s.db.AppendThreadMessages(ctx, threadID, fromSeq, rows)
	if errors.Is(err, storage.ErrSeqConflict) {
		return errors.Join(ErrConflict, err)
	}
	return err
}

// AppendTurn records the turn and marks the thread active at turn.At.
func (s *SQLStore) AppendTurn(ctx context.Context, turn Turn) error {
	if err := s.db.InsertTurn(ctx, &storage.ConversationTurn{
		Sender:    turn.Sender,
		ThreadID:  turn.ThreadID,
		Message:   turn.Inbound,
		Response:  turn.Outbound,
		CreatedAt: turn.At,
	}); err != nil {
		return err
	}
	if turn.At.IsZero() {
		return nil
	}
	return s.db.TouchThread(ctx, turn.ThreadID, turn.At)
}
