package housekeeping

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Pruner is the slice of storage the retention pipeline deletes through.
type Pruner interface {
	DeleteTurnsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error)
	DeleteAuditRecordsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error)
	DeleteIdleThreadsLimited(ctx context.Context, before time.Time, limit int) (int64, error)
}

type RetentionCollector struct {
	cfg Config

	store Pruner
}

func NewRetentionCollector(store Pruner) (*RetentionCollector, error) {
	if store == nil {
		return nil, errors.New("storage is required")
	}
	return &RetentionCollector{store: store}, nil
}

func (c *RetentionCollector) Run(ctx context.Context) error {
	if c == nil || c.store == nil {
		return errors.New("retention collector not initialized")
	}
	c.cfg = c.cfg.withDefaults()

	if err := c.RunOnce(ctx, time.Now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.RunOnce(ctx, time.Now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		}
	}
}

// RunOnce performs one pruning pass relative to now.
func (c *RetentionCollector) RunOnce(ctx context.Context, now time.Time) error {
	if c == nil || c.store == nil {
		return errors.New("retention collector not initialized")
	}
	c.cfg = c.cfg.withDefaults()

	var tasks []func(context.Context) error
	if c.cfg.KeepTurns > 0 {
		cut := now.Add(-c.cfg.KeepTurns)
		tasks = append(tasks, func(ctx context.Context) error {
			return c.drain(ctx, cut, c.store.DeleteTurnsBeforeLimited)
		})
	}
	if c.cfg.KeepAudit > 0 {
		cut := now.Add(-c.cfg.KeepAudit)
		tasks = append(tasks, func(ctx context.Context) error {
			return c.drain(ctx, cut, c.store.DeleteAuditRecordsBeforeLimited)
		})
	}
	if c.cfg.KeepIdleThreads > 0 {
		cut := now.Add(-c.cfg.KeepIdleThreads)
		tasks = append(tasks, func(ctx context.Context) error {
			return c.drain(ctx, cut, c.store.DeleteIdleThreadsLimited)
		})
	}
	if len(tasks) == 0 {
		return nil
	}

	workers := c.cfg.Workers
	if workers > len(tasks) {
		workers = len(tasks)
	}

	jobs := make(chan func(context.Context) error)
	errs := make(chan error, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if err := job(ctx); err != nil && !errors.Is(err, context.Canceled) {
					errs <- err
				}
			}
		}()
	}

	for _, t := range tasks {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			close(errs)
			return ctx.Err()
		case jobs <- t:
		}
	}
	close(jobs)
	wg.Wait()
	close(errs)

	var joined error
	for err := range errs {
		c.cfg.OnError(err)
		joined = errors.Join(joined, err)
	}
	return joined
}

type limitedDelete func(ctx context.Context, before time.Time, limit int) (int64, error)

// drain deletes in batches until a batch comes back empty.
func (c *RetentionCollector) drain(ctx context.Context, before time.Time, del limitedDelete) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		affected, err := del(ctx, before, c.cfg.BatchRows)
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		if err := c.sleepIdle(ctx); err != nil {
			return err
		}
	}
}

func (c *RetentionCollector) sleepIdle(ctx context.Context) error {
	if c.cfg.IdleSleep <= 0 {
		return nil
	}
	timer := time.NewTimer(c.cfg.IdleSleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
