package housekeeping

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Manager owns the background pipelines of the process and their lifetime.
type Manager struct {
	cfg Config

	retention *RetentionCollector

	started atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	runErrMu sync.Mutex
	runErr   error
}

func NewManager(cfg Config) (*Manager, error) {
	return &Manager{cfg: cfg.withDefaults()}, nil
}

func (m *Manager) WithRetention(ret *RetentionCollector) *Manager {
	if m == nil {
		return nil
	}
	m.retention = ret
	if m.retention != nil {
		m.retention.cfg = m.cfg
	}
	return m
}

func (m *Manager) Start(ctx context.Context) error {
	if m == nil {
		return errors.New("manager is nil")
	}
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("manager already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	if !m.cfg.Enabled {
		return nil
	}
	if m.retention == nil {
		m.cancel()
		return errors.New("retention collector is required when retention enabled")
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.retention.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			m.runErrMu.Lock()
			if m.runErr == nil {
				m.runErr = err
			}
			m.runErrMu.Unlock()
			m.cancel()
		}
	}()
	return nil
}

func (m *Manager) Stop() {
	if m == nil || m.cancel == nil {
		return
	}
	m.cancel()
}

func (m *Manager) Wait() error {
	if m == nil {
		return nil
	}
	m.wg.Wait()
	m.runErrMu.Lock()
	defer m.runErrMu.Unlock()
	return m.runErr
}
