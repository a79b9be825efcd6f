package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fieldops/internal/authorization/authorizationtest"
	"github.com/smallbiznis/fieldops/internal/clock"
	loandomain "github.com/smallbiznis/fieldops/internal/loan/domain"
	"github.com/smallbiznis/fieldops/internal/money"
	"github.com/smallbiznis/fieldops/internal/testutil"
	userdomain "github.com/smallbiznis/fieldops/internal/user/domain"
	"github.com/smallbiznis/fieldops/pkg/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCreateStoresScheduleAtomically(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	svc := NewService(Params{
		DB: db, Log: zap.NewNop(), GenID: node,
		Clock:    clock.NewFakeClock(time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)),
		Validate: validate.New(),
		Authz:    authorizationtest.AllowAll(),
		Settings: testutil.Settlement(),
	})
	admin := testutil.SeedUser(t, db, node, userdomain.RoleAdmin)
	tech := testutil.SeedUser(t, db, node, userdomain.RoleTechnician)
	ctx := context.Background()

	loan, installments, err := svc.Create(ctx, admin.ID, loandomain.CreateLoanRequest{
		TechnicianID:      tech.ID,
		AmountTotal:       decimal.RequireFromString("1000.00"),
		InstallmentsCount: 3,
		StartDate:         time.Date(2025, time.March, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, loandomain.StatusActive, loan.Status)
	require.Len(t, installments, 3)

	stored, err := svc.ListInstallments(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)

	amounts := make([]decimal.Decimal, 0, 3)
	for _, inst := range stored {
		amounts = append(amounts, inst.Amount)
		assert.False(t, inst.Paid)
		assert.Nil(t, inst.PayrollID)
	}
	assert.Equal(t, "333.33", amounts[0].StringFixed(2))
	assert.Equal(t, "333.34", amounts[2].StringFixed(2))
	assert.True(t, money.Sum(amounts...).Equal(decimal.RequireFromString("1000.00")))

	chicago, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.March, 2, 0, 0, 0, 0, chicago).UTC(), stored[0].DueDate.UTC())
	assert.Equal(t, time.Date(2025, time.March, 16, 0, 0, 0, 0, chicago).UTC(), stored[2].DueDate.UTC())

	loans, err := svc.ListByTechnician(ctx, tech.ID)
	require.NoError(t, err)
	assert.Len(t, loans, 1)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	svc := NewService(Params{
		DB: db, Log: zap.NewNop(), GenID: node,
		Clock:    clock.SystemClock{},
		Validate: validate.New(),
		Authz:    authorizationtest.AllowAll(),
		Settings: testutil.Settlement(),
	})
	admin := testutil.SeedUser(t, db, node, userdomain.RoleAdmin)
	tech := testutil.SeedUser(t, db, node, userdomain.RoleTechnician)
	ctx := context.Background()
	start := time.Date(2025, time.March, 2, 0, 0, 0, 0, time.UTC)

	_, _, err := svc.Create(ctx, admin.ID, loandomain.CreateLoanRequest{TechnicianID: tech.ID, AmountTotal: decimal.NewFromInt(100), InstallmentsCount: 0, StartDate: start})
	assert.ErrorIs(t, err, loandomain.ErrInvalidInstallmentCount)

	_, _, err = svc.Create(ctx, admin.ID, loandomain.CreateLoanRequest{TechnicianID: tech.ID, AmountTotal: decimal.Zero, InstallmentsCount: 2, StartDate: start})
	assert.ErrorIs(t, err, loandomain.ErrInvalidAmount)

	_, _, err = svc.Create(ctx, admin.ID, loandomain.CreateLoanRequest{TechnicianID: admin.ID, AmountTotal: decimal.NewFromInt(100), InstallmentsCount: 2, StartDate: start})
	assert.ErrorIs(t, err, loandomain.ErrInvalidTechnician)

	var count int64
	require.NoError(t, db.Model(&loandomain.Loan{}).Count(&count).Error)
	assert.Zero(t, count)

	_, err = svc.Get(ctx, node.Generate())
	assert.ErrorIs(t, err, loandomain.ErrLoanNotFound)
}

func TestListByTechnicianNewestFirst(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	svc := NewService(Params{
		DB: db, Log: zap.NewNop(), GenID: node,
		Clock:    clock.SystemClock{},
		Validate: validate.New(),
		Authz:    authorizationtest.AllowAll(),
		Settings: testutil.Settlement(),
	})
	admin := testutil.SeedUser(t, db, node, userdomain.RoleAdmin)
	tech := testutil.SeedUser(t, db, node, userdomain.RoleTechnician)
	other := testutil.SeedUser(t, db, node, userdomain.RoleTechnician)
	ctx := context.Background()

	issue := func(techID snowflake.ID, start time.Time) *loandomain.Loan {
		loan, _, err := svc.Create(ctx, admin.ID, loandomain.CreateLoanRequest{
			TechnicianID:      techID,
			AmountTotal:       decimal.NewFromInt(200),
			InstallmentsCount: 2,
			StartDate:         start,
		})
		require.NoError(t, err)
		return loan
	}
	older := issue(tech.ID, time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC))
	newer := issue(tech.ID, time.Date(2025, time.April, 6, 0, 0, 0, 0, time.UTC))
	issue(other.ID, time.Date(2025, time.May, 4, 0, 0, 0, 0, time.UTC))

	loans, err := svc.ListByTechnician(ctx, tech.ID)
	require.NoError(t, err)
	require.Len(t, loans, 2)
	assert.Equal(t, newer.ID, loans[0].ID)
	assert.Equal(t, older.ID, loans[1].ID)

	got, err := svc.Get(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, tech.ID, got.TechnicianID)
}
