package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/smallbiznis/fieldops/internal/apperror"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind apperror.Kind
	}{
		{"not found", gorm.ErrRecordNotFound, apperror.KindNotFound},
		{"pg lock timeout", &pgconn.PgError{Code: "55P03"}, apperror.KindConcurrencyTimeout},
		{"pg serialization", fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"}), apperror.KindConcurrencyTimeout},
		{"deadline", context.DeadlineExceeded, apperror.KindConcurrencyTimeout},
		{"pg unique", &pgconn.PgError{Code: "23505"}, apperror.KindStateConflict},
		{"sqlite unique", errors.New("UNIQUE constraint failed: payrolls.technician_id"), apperror.KindStateConflict},
		{"unknown", errors.New("boom"), apperror.KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, apperror.KindOf(ClassifyError(tt.err)))
		})
	}
}

func TestClassifyErrorKeepsDomainErrors(t *testing.T) {
	domainErr := apperror.Validation("bad_input", "bad input")
	assert.Same(t, domainErr, ClassifyError(domainErr))
	assert.NoError(t, ClassifyError(nil))
}
