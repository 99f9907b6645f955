package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TurnQuery filters conversation turns. Zero values do not filter.
type TurnQuery struct {
	Sender   string
	ThreadID string
	// From/To bound CreatedAt, both ends inclusive.
	From *time.Time
	To   *time.Time
	// Limit <= 0 uses the default.
	Limit int
	Desc  bool
}

func (s *Storage) InsertTurn(ctx context.Context, turn *ConversationTurn) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if turn == nil {
		return errors.New("turn is nil")
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(turn).Error; err != nil {
		return fmt.Errorf("insert conversation turn: %w", err)
	}
	return nil
}

func (s *Storage) QueryTurns(ctx context.Context, q TurnQuery) ([]ConversationTurn, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}

	limit := normalizeLimit(q.Limit)
	db := s.db.WithContext(ctx).Model(&ConversationTurn{})
	if q.Sender != "" {
		db = db.Where("sender = ?", q.Sender)
	}
	if q.ThreadID != "" {
		db = db.Where("thread_id = ?", q.ThreadID)
	}
	if q.From != nil {
		db = db.Where("created_at >= ?", *q.From)
	}
	if q.To != nil {
		db = db.Where("created_at <= ?", *q.To)
	}
	if q.Desc {
		db = db.Order("id DESC")
	} else {
		db = db.Order("id ASC")
	}
	db = db.Limit(limit)

	var out []ConversationTurn
	if err := db.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query conversation turns: %w", err)
	}
	return out, nil
}

func (s *Storage) CountTurns(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&ConversationTurn{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count conversation turns: %w", err)
	}
	return n, nil
}

func (s *Storage) DeleteTurnsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}

	limit = normalizeDeleteLimit(limit)

	var ids []uint64
	if err := s.db.WithContext(ctx).Model(&ConversationTurn{}).
		Select("id").
		Where("created_at < ?", before).
		Order("id ASC").
		Limit(limit).
		Find(&ids).Error; err != nil {
		return 0, fmt.Errorf("select conversation turn ids: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&ConversationTurn{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete conversation turns: %w", res.Error)
	}
	return res.RowsAffected, nil
}
