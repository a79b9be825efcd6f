// Package testutil builds isolated databases and fixtures for service tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/fieldops/internal/config"
	"github.com/smallbiznis/fieldops/internal/migration"
	userdomain "github.com/smallbiznis/fieldops/internal/user/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// NewDB opens a private in-memory database with every model migrated. A
// single connection serializes concurrent transactions the way row locks do
// on Postgres.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:fieldops_test_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), dbSeq.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migration.AutoMigrate(conn))
	return conn
}

func NewNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

// Settlement returns a fixed settlement config in the default timezone.
func Settlement() *config.SettlementConfigHolder {
	return config.NewStaticSettlementConfig(config.DefaultSettlementConfig())
}

// SeedUser inserts an active user with the given role.
func SeedUser(t *testing.T, db *gorm.DB, node *snowflake.Node, role userdomain.Role) userdomain.User {
	t.Helper()
	id := node.Generate()
	user := userdomain.User{
		ID:     id,
		Name:   fmt.Sprintf("%s %d", role, id),
		Email:  fmt.Sprintf("%s.%d@fieldops.test", role, id),
		Role:   role,
		Active: true,
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}
