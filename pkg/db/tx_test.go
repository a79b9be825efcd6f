package db

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// renamedDialector reports another dialect name over a working sqlite
// connection, so dialect branches can be exercised without a server.
type renamedDialector struct {
	gorm.Dialector
	name string
}

func (d renamedDialector) Name() string { return d.name }

func openAs(t *testing.T, name string) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(renamedDialector{Dialector: sqlite.Open("file::memory:"), name: name}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

func TestSetLockTimeoutLeavesMySQLSessionAlone(t *testing.T) {
	conn := openAs(t, TypeMySQL)

	// Any statement would fail here: sqlite has no SET.
	err := Locked(context.Background(), conn, 3*time.Second, false, func(tx *gorm.DB) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestSetLockTimeoutSkipsZeroWait(t *testing.T) {
	conn := openAs(t, TypePostgres)
	assert.NoError(t, SetLockTimeout(conn, 0))
	assert.Error(t, SetLockTimeout(conn, time.Second))
}
