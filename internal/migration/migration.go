package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	inventorydomain "github.com/smallbiznis/fieldops/internal/inventory/domain"
	invoicedomain "github.com/smallbiznis/fieldops/internal/invoice/domain"
	jobpricedomain "github.com/smallbiznis/fieldops/internal/jobprice/domain"
	loandomain "github.com/smallbiznis/fieldops/internal/loan/domain"
	payrolldomain "github.com/smallbiznis/fieldops/internal/payroll/domain"
	taskdomain "github.com/smallbiznis/fieldops/internal/task/domain"
	userdomain "github.com/smallbiznis/fieldops/internal/user/domain"
	"github.com/smallbiznis/fieldops/pkg/db"
	"gorm.io/gorm"
)

const migrationsDir = "sql"

//go:embed sql/*.sql
var embeddedMigrations embed.FS

// Models lists every persisted model in dependency order.
func Models() []any {
	return []any{
		&userdomain.User{},
		&auditdomain.AuditLog{},
		&jobpricedomain.JobPrice{},
		&payrolldomain.Payroll{},
		&invoicedomain.CompanyInvoice{},
		&invoicedomain.InvoiceCounter{},
		&taskdomain.Task{},
		&taskdomain.TaskDetail{},
		&inventorydomain.Item{},
		&inventorydomain.Wallet{},
		&inventorydomain.Transfer{},
		&inventorydomain.TransferLine{},
		&inventorydomain.Request{},
		&inventorydomain.RequestLine{},
		&inventorydomain.Transaction{},
		&loandomain.Loan{},
		&loandomain.Installment{},
	}
}

// Migrate brings the schema up to date. Postgres uses the versioned SQL
// migrations; other dialects fall back to gorm's AutoMigrate.
func Migrate(conn *gorm.DB) error {
	if conn.Dialector.Name() == db.TypePostgres {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}
	return AutoMigrate(conn)
}

func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func RunMigrations(sqlDB *sql.DB) error {
	if sqlDB == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Closing the migrator would close the shared *sql.DB.
	return nil
}
