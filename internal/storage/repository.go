package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultLimit = 200
	maxLimit     = 5000

	defaultDeleteLimit = 500
	maxDeleteLimit     = 900
)

// ErrSeqConflict is returned when an append does not start right after the last stored message.
var ErrSeqConflict = errors.New("thread history sequence conflict")

// ResolveThread returns the thread bound to sender, creating it on first use.
//
// Concurrent first calls for the same sender race on the unique index; the loser
// re-reads the winner's row so every caller observes the same ThreadID.
func (s *Storage) ResolveThread(ctx context.Context, sender string) (Thread, error) {
	if s == nil || s.db == nil {
		return Thread{}, errors.New("storage not initialized")
	}
	if sender == "" {
		return Thread{}, errors.New("sender is empty")
	}

	th, found, err := s.findThreadBySender(ctx, sender)
	if err != nil {
		return Thread{}, err
	}
	if found {
		return th, nil
	}

	now := time.Now().UTC()
	th = Thread{
		Sender:       sender,
		ThreadID:     uuid.NewString(),
		LastActiveAt: now,
		CreatedAt:    now,
	}
	if createErr := s.db.WithContext(ctx).Create(&th).Error; createErr != nil {
		existing, found, err := s.findThreadBySender(ctx, sender)
		if err != nil {
			return Thread{}, errors.Join(fmt.Errorf("create thread: %w", createErr), err)
		}
		if !found {
			return Thread{}, fmt.Errorf("create thread: %w", createErr)
		}
		return existing, nil
	}
	return th, nil
}

func (s *Storage) findThreadBySender(ctx context.Context, sender string) (Thread, bool, error) {
	var th Thread
	err := s.db.WithContext(ctx).Where("sender = ?", sender).Take(&th).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Thread{}, false, nil
	}
	if err != nil {
		return Thread{}, false, fmt.Errorf("find thread: %w", err)
	}
	return th, true, nil
}

// GetThreadBySender looks a thread up without creating it.
func (s *Storage) GetThreadBySender(ctx context.Context, sender string) (Thread, error) {
	if s == nil || s.db == nil {
		return Thread{}, errors.New("storage not initialized")
	}
	th, found, err := s.findThreadBySender(ctx, sender)
	if err != nil {
		return Thread{}, err
	}
	if !found {
		return Thread{}, notFoundError{Entity: "thread for sender " + sender}
	}
	return th, nil
}

// LoadThreadMessages returns the complete history of a thread in sequence order.
func (s *Storage) LoadThreadMessages(ctx context.Context, threadID string) ([]ThreadMessage, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	var out []ThreadMessage
	if err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("seq ASC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("load thread messages: %w", err)
	}
	return out, nil
}

// AppendThreadMessages appends msgs starting at sequence number fromSeq.
//
// fromSeq must equal the number of messages already stored for the thread, so a
// writer working from a stale history gets ErrSeqConflict instead of interleaving.
func (s *Storage) AppendThreadMessages(ctx context.Context, threadID string, fromSeq int, msgs []ThreadMessage) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if threadID == "" {
		return errors.New("thread id is empty")
	}
	if len(msgs) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&ThreadMessage{}).Where("thread_id = ?", threadID).Count(&count).Error; err != nil {
			return fmt.Errorf("count thread messages: %w", err)
		}
		if int(count) != fromSeq {
			return fmt.Errorf("%w: thread %s has %d messages, append starts at %d", ErrSeqConflict, threadID, count, fromSeq)
		}

		now := time.Now().UTC()
		rows := make([]ThreadMessage, len(msgs))
		for i := range msgs {
			rows[i] = msgs[i]
			rows[i].ID = 0
			rows[i].ThreadID = threadID
			rows[i].Seq = fromSeq + i
			if rows[i].CreatedAt.IsZero() {
				rows[i].CreatedAt = now
			}
		}
		if err := tx.CreateInBatches(rows, 200).Error; err != nil {
			return fmt.Errorf("insert thread messages: %w", err)
		}

		if err := tx.Model(&Thread{}).Where("thread_id = ?", threadID).Update("last_active_at", now).Error; err != nil {
			return fmt.Errorf("touch thread: %w", err)
		}
		return nil
	})
}

// TouchThread sets the last activity time of a thread.
func (s *Storage) TouchThread(ctx context.Context, threadID string, at time.Time) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	res := s.db.WithContext(ctx).Model(&Thread{}).Where("thread_id = ?", threadID).Update("last_active_at", at.UTC())
	if res.Error != nil {
		return fmt.Errorf("touch thread: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFoundError{Entity: "thread " + threadID}
	}
	return nil
}

func (s *Storage) CountThreads(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&Thread{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count threads: %w", err)
	}
	return n, nil
}

func (s *Storage) CountThreadMessages(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&ThreadMessage{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count thread messages: %w", err)
	}
	return n, nil
}

// DeleteIdleThreadsLimited removes up to limit threads (and their history) whose
// last activity is older than before. The senders get a fresh thread on their next message.
func (s *Storage) DeleteIdleThreadsLimited(ctx context.Context, before time.Time, limit int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}

	limit = normalizeDeleteLimit(limit)

	var ids []string
	if err := s.db.WithContext(ctx).Model(&Thread{}).
		Select("thread_id").
		Where("last_active_at < ?", before).
		Order("id ASC").
		Limit(limit).
		Find(&ids).Error; err != nil {
		return 0, fmt.Errorf("select idle threads: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var affected int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("thread_id IN ?", ids).Delete(&ThreadMessage{}).Error; err != nil {
			return fmt.Errorf("delete thread messages: %w", err)
		}
		res := tx.Where("thread_id IN ?", ids).Delete(&Thread{})
		if res.Error != nil {
			return fmt.Errorf("delete threads: %w", res.Error)
		}
		affected = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

func normalizeLimit(v int) int {
	if v <= 0 {
		return defaultLimit
	}
	if v > maxLimit {
		return maxLimit
	}
	return v
}

func normalizeDeleteLimit(v int) int {
	if v <= 0 {
		return defaultDeleteLimit
	}
	if v > maxDeleteLimit {
		return maxDeleteLimit
	}
	return v
}

type notFoundError struct {
	Entity string
	ID     uint64
}

func (e notFoundError) Error() string {
	if e.ID == 0 {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s not found: %d", e.Entity, e.ID)
}

// IsNotFound reports whether err was produced for a missing row.
func IsNotFound(err error) bool {
	var nf notFoundError
	return errors.As(err, &nf)
}

func gormNotFoundError(entity string, id uint64) error {
	return notFoundError{Entity: entity, ID: id}
}
