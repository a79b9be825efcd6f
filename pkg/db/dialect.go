package db

import (
	"fmt"
	"net/url"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/fieldops/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
	TypeSQLite   = "sqlite"
)

// Dialect picks the gorm driver for cfg.DBType. Each DSN carries a
// session-wide lock wait ceiling of DBLockTimeout seconds; settlement
// transactions tighten it per transaction in Locked.
func Dialect(cfg config.Config) (gorm.Dialector, error) {
	wait := cfg.DBLockTimeout
	if wait <= 0 {
		wait = 10
	}

	switch cfg.DBType {
	case TypePostgres:
		return postgres.Open(fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC application_name=%s lock_timeout=%d",
			cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode, cfg.AppName, wait*1000,
		)), nil
	case TypeMySQL:
		// Unknown DSN params are sent as session variables.
		return mysql.Open(fmt.Sprintf(
			"%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC&innodb_lock_wait_timeout=%d&transaction_isolation=%s",
			cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName, wait, url.QueryEscape("'READ-COMMITTED'"),
		)), nil
	case TypeSQLite:
		return sqlite.Open(fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)",
			cfg.DBPath, wait*1000)), nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.DBType)
	}
}
