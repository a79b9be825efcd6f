package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// QueryLogConfig controls how SQL statements reach the application log.
type QueryLogConfig struct {
	Level         gormlogger.LogLevel
	SlowThreshold time.Duration
	// LockWaits logs statements that gave up waiting on a row lock at warn
	// level instead of error.
	LockWaits bool
}

// ParseQueryLogLevel maps silent, error, warn and info to gorm levels.
// Anything else falls back to warn.
func ParseQueryLogLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "silent", "off":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

// QueryLogger writes gorm statements through zap with request correlation
// fields and row lock details.
type QueryLogger struct {
	base *zap.Logger
	cfg  QueryLogConfig
}

func NewQueryLogger(base *zap.Logger, cfg QueryLogConfig) *QueryLogger {
	if base == nil {
		base = zap.NewNop()
	}
	return &QueryLogger{base: base.Named("gorm"), cfg: cfg}
}

func (l *QueryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.cfg.Level = level
	return &next
}

func (l *QueryLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.cfg.Level >= gormlogger.Info {
		l.logger(ctx).Info(msg, zap.Any("data", data))
	}
}

func (l *QueryLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.cfg.Level >= gormlogger.Warn {
		l.logger(ctx).Warn(msg, zap.Any("data", data))
	}
}

func (l *QueryLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.cfg.Level >= gormlogger.Error {
		l.logger(ctx).Error(msg, zap.Any("data", data))
	}
}

// Trace logs failed statements, slow statements and, at info level, every
// statement. Missing rows are never logged; services turn them into
// not-found errors.
func (l *QueryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.cfg.Level <= gormlogger.Silent {
		return
	}
	if errors.Is(err, gormlogger.ErrRecordNotFound) {
		err = nil
	}
	elapsed := time.Since(begin)
	slow := l.cfg.SlowThreshold > 0 && elapsed > l.cfg.SlowThreshold

	switch {
	case err != nil && l.cfg.LockWaits && isLockWait(err):
		if l.cfg.Level >= gormlogger.Warn {
			l.logger(ctx).Warn("gorm.lock_wait", queryFields(fc, elapsed, err)...)
		}
	case err != nil:
		if l.cfg.Level >= gormlogger.Error {
			l.logger(ctx).Error("gorm.query", queryFields(fc, elapsed, err)...)
		}
	case slow && l.cfg.Level >= gormlogger.Warn:
		l.logger(ctx).Warn("gorm.slow_query", queryFields(fc, elapsed, nil)...)
	case l.cfg.Level >= gormlogger.Info:
		l.logger(ctx).Debug("gorm.query", queryFields(fc, elapsed, nil)...)
	}
}

func (l *QueryLogger) logger(ctx context.Context) *zap.Logger {
	return WithContext(ctx, l.base)
}

func queryFields(fc func() (string, int64), elapsed time.Duration, err error) []zap.Field {
	sql, rows := fc()
	stmt := describeSQL(sql)
	fields := []zap.Field{
		zap.String("sql", strings.TrimSpace(sql)),
		zap.String("operation", stmt.operation),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if stmt.table != "" {
		fields = append(fields, zap.String("table", stmt.table))
	}
	if stmt.locking {
		fields = append(fields, zap.Bool("row_lock", true))
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	return fields
}

// isLockWait matches the errors a statement returns when it stops waiting
// for a row lock: a cancelled or expired context, or the Postgres lock and
// serialization failures.
func isLockWait(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	msg := err.Error()
	for _, code := range []string{"55P03", "40001", "40P01", "database is locked"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}

type statement struct {
	operation string
	table     string
	locking   bool
}

// describeSQL extracts the verb, the first table touched and whether the
// statement takes row locks.
func describeSQL(sql string) statement {
	tokens := strings.Fields(strings.ToUpper(sql))
	raw := strings.Fields(sql)
	st := statement{operation: "UNKNOWN"}
	for i, tok := range tokens {
		tok = strings.Trim(tok, "();")
		switch {
		case st.operation == "UNKNOWN" && (tok == "SELECT" || tok == "INSERT" || tok == "UPDATE" || tok == "DELETE"):
			st.operation = tok
			if tok == "UPDATE" && i+1 < len(raw) {
				st.table = cleanIdent(raw[i+1])
			}
		case st.table == "" && (tok == "FROM" || tok == "INTO") && i+1 < len(raw):
			st.table = cleanIdent(raw[i+1])
		case tok == "FOR" && i+1 < len(tokens) && (tokens[i+1] == "UPDATE" || tokens[i+1] == "SHARE"):
			st.locking = true
		}
	}
	return st
}

func cleanIdent(s string) string {
	return strings.Trim(s, "\"`();")
}

var _ gormlogger.Interface = (*QueryLogger)(nil)
