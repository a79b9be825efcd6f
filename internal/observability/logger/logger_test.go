package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	obscontext "github.com/smallbiznis/fieldops/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-9")
	ctx = obscontext.WithActor(ctx, "admin", "7")

	WithContext(ctx, base).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-9", fields["request_id"])
	assert.Equal(t, "admin", fields["actor_role"])
	assert.Equal(t, "7", fields["actor_id"])
}

func TestForSettlementTagsRun(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	ForSettlement(context.Background(), zap.New(core), "invoice", "2025-W10").Info("claimed")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "invoice", fields["settlement"])
	assert.Equal(t, "2025-W10", fields["period"])
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(nil, Config{Level: "loud"})
	assert.Error(t, err)
}

func TestDescribeSQL(t *testing.T) {
	st := describeSQL(`SELECT * FROM "tasks" WHERE status = 'approved' FOR UPDATE`)
	assert.Equal(t, statement{operation: "SELECT", table: "tasks", locking: true}, st)

	st = describeSQL("UPDATE `inventory_wallets` SET quantity = 4")
	assert.Equal(t, statement{operation: "UPDATE", table: "inventory_wallets"}, st)

	st = describeSQL(`INSERT INTO invoice_counters (name) VALUES ('company_invoice')`)
	assert.Equal(t, statement{operation: "INSERT", table: "invoice_counters"}, st)

	assert.Equal(t, "UNKNOWN", describeSQL("").operation)
}

func TestQueryLoggerLockWaitIsWarning(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ql := NewQueryLogger(zap.New(core), QueryLogConfig{Level: gormlogger.Warn, LockWaits: true})
	fc := func() (string, int64) { return `SELECT * FROM "inventory_wallets" FOR UPDATE`, 0 }

	ql.Trace(context.Background(), time.Now(), fc, context.DeadlineExceeded)
	ql.Trace(context.Background(), time.Now(), fc, errors.New("connection reset"))
	ql.Trace(context.Background(), time.Now(), fc, gormlogger.ErrRecordNotFound)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "gorm.lock_wait", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, true, entries[0].ContextMap()["row_lock"])
	assert.Equal(t, "gorm.query", entries[1].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}

func TestQueryLoggerSlowQuery(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ql := NewQueryLogger(zap.New(core), QueryLogConfig{Level: gormlogger.Warn, SlowThreshold: 100 * time.Millisecond})
	fc := func() (string, int64) { return "UPDATE tasks SET payroll_id = 1", 3 }

	ql.Trace(context.Background(), time.Now().Add(-time.Second), fc, nil)
	ql.Trace(context.Background(), time.Now(), fc, nil)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "gorm.slow_query", entry.Message)
	assert.Equal(t, int64(3), entry.ContextMap()["rows_affected"])
}

func TestParseQueryLogLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, ParseQueryLogLevel("off"))
	assert.Equal(t, gormlogger.Info, ParseQueryLogLevel("INFO"))
	assert.Equal(t, gormlogger.Warn, ParseQueryLogLevel("bogus"))
}
