package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// gormLogger sends gorm's statement log to logrus. Failed statements are errors,
// slow ones warnings, everything else debug.
type gormLogger struct {
	log   logrus.FieldLogger
	level logger.LogLevel
	slow  time.Duration
}

func newGormLogger(log logrus.FieldLogger, slow time.Duration) logger.Interface {
	if log == nil {
		return logger.Discard
	}
	if slow <= 0 {
		slow = 200 * time.Millisecond
	}
	return &gormLogger{log: log.WithField("component", "storage"), level: logger.Warn, slow: slow}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *gormLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Info {
		l.log.Infof(msg, args...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Warn {
		l.log.Warnf(msg, args...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Error {
		l.log.Errorf(msg, args...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	entry := func() *logrus.Entry {
		query, rows := fc()
		return l.log.WithFields(logrus.Fields{
			"sql":     query,
			"rows":    rows,
			"elapsed": elapsed.String(),
		})
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= logger.Error:
		entry().WithError(err).Error("query failed")
	case elapsed > l.slow && l.level >= logger.Warn:
		entry().Warn(fmt.Sprintf("slow query over %s", l.slow))
	case l.level >= logger.Info:
		entry().Debug("query")
	}
}
