package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ForUpdate adds a row lock to the statement. Dialects without row locks
// ignore the clause.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// SerializableOptions returns serializable isolation where the dialect
// supports it, nil otherwise.
func SerializableOptions(tx *gorm.DB) *sql.TxOptions {
	switch tx.Dialector.Name() {
	case TypePostgres, TypeMySQL:
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	default:
		return nil
	}
}

// SetLockTimeout bounds how long statements in the current transaction wait
// for row locks. Only postgres can scope the limit to one transaction; mysql
// and sqlite keep the session ceiling from the DSN, since a session setting
// would outlive the transaction on the pooled connection.
func SetLockTimeout(tx *gorm.DB, wait time.Duration) error {
	if wait <= 0 || tx.Dialector.Name() != TypePostgres {
		return nil
	}
	return tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", wait.Milliseconds())).Error
}

// Locked runs fn in a transaction with the lock wait budget applied and
// classifies any storage failure.
func Locked(ctx context.Context, conn *gorm.DB, wait time.Duration, serializable bool, fn func(tx *gorm.DB) error) error {
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait+time.Second)
		defer cancel()
	}
	var opts []*sql.TxOptions
	if serializable {
		if o := SerializableOptions(conn); o != nil {
			opts = append(opts, o)
		}
	}
	err := conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := SetLockTimeout(tx, wait); err != nil {
			return err
		}
		return fn(tx)
	}, opts...)
	return ClassifyError(err)
}
