package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"crm-import-service/pkg/logger"
)

const defaultSlowThreshold = 500 * time.Millisecond

// GormLogger routes gorm's SQL logging through the service logger.
type GormLogger struct {
	log           logger.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger returns a gorm logger that reports warnings and errors.
func NewGormLogger(log logger.Logger, slowThreshold time.Duration) *GormLogger {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if slowThreshold <= 0 {
		slowThreshold = defaultSlowThreshold
	}
	return &GormLogger{
		log:           log.WithComponent("gorm"),
		level:         gormlogger.Warn,
		slowThreshold: slowThreshold,
	}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *GormLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		l.log.Debug(fmt.Sprintf(msg, args...))
	}
}

func (l *GormLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.log.Warn(fmt.Sprintf(msg, args...))
	}
}

func (l *GormLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		l.log.Error(fmt.Sprintf(msg, args...))
	}
}

func (l *GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= gormlogger.Error && !stderrors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		l.log.WithError(err).WithFields(logger.Fields{
			"sql":      sql,
			"rows":     rows,
			"duration": elapsed.String(),
		}).Error("Query failed")
	case elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.log.WithFields(logger.Fields{
			"sql":       sql,
			"rows":      rows,
			"duration":  elapsed.String(),
			"threshold": l.slowThreshold.String(),
		}).Warn("Slow query")
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.log.WithFields(logger.Fields{
			"sql":      sql,
			"rows":     rows,
			"duration": elapsed.String(),
		}).Debug("Query")
	}
}
