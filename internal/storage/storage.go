// Package storage persists threads, their message history, conversation turns and the
// tool audit trail in sqlite through gorm.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Config struct {
	Path            string        `mapstructure:"path"`
	InMemory        bool          `mapstructure:"in_memory"`
	EnableWAL       bool          `mapstructure:"enable_wal"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// SlowQuery is the duration above which a statement is logged as a warning.
	SlowQuery time.Duration `mapstructure:"slow_query"`

	// Logger receives gorm's statement log. Nil keeps gorm silent.
	Logger logrus.FieldLogger `mapstructure:"-"`
}

// Storage is safe for concurrent use.
type Storage struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

// models is every table owned by this package, in migration order.
var models = []any{
	&Thread{},
	&ThreadMessage{},
	&ConversationTurn{},
	&AuditRecord{},
}

// Open connects, applies the connection pragmas and migrates the schema.
// A file database's parent directory is created when missing.
func Open(ctx context.Context, cfg Config) (*Storage, error) {
	dsn, err := cfg.dsn()
	if err != nil {
		return nil, err
	}
	if !cfg.InMemory {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: newGormLogger(cfg.Logger, cfg.SlowQuery)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	cfg.applyPool(sqlDB)

	s := &Storage{db: db, sqlDB: sqlDB}
	for _, step := range []func(context.Context) error{
		func(ctx context.Context) error { return s.pragmas(ctx, cfg.EnableWAL) },
		s.Migrate,
		s.Ping,
	} {
		if err := step(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Storage) pragmas(ctx context.Context, wal bool) error {
	stmts := []string{"PRAGMA foreign_keys=ON;"}
	if wal {
		stmts = append([]string{"PRAGMA journal_mode=WAL;"}, append(stmts, "PRAGMA synchronous=NORMAL;")...)
	}
	for _, stmt := range stmts {
		if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *Storage) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	if s == nil || s.sqlDB == nil {
		return errors.New("storage not initialized")
	}
	if err := s.sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Migrate creates or upgrades every table. It is idempotent.
func (s *Storage) Migrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if err := s.db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// DB exposes the gorm handle for ad-hoc inspection tools.
func (s *Storage) DB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func (cfg Config) dsn() (string, error) {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	ms := busy.Milliseconds()

	if cfg.InMemory {
		return fmt.Sprintf("file:sweepchat?mode=memory&cache=shared&_pragma=busy_timeout(%d)", ms), nil
	}
	if cfg.Path == "" {
		return "", errors.New("storage path is required for a file database")
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", cfg.Path, ms), nil
}

func (cfg Config) applyPool(db *sql.DB) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}
