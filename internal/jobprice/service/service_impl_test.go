package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fieldops/internal/authorization"
	"github.com/smallbiznis/fieldops/internal/authorization/authorizationtest"
	jobpricedomain "github.com/smallbiznis/fieldops/internal/jobprice/domain"
	taskdomain "github.com/smallbiznis/fieldops/internal/task/domain"
	"github.com/smallbiznis/fieldops/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestUpsertCreatesThenUpdates(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(Params{DB: db, Log: zap.NewNop(), GenID: testutil.NewNode(t), Authz: authorizationtest.AllowAll()})
	ctx := context.Background()

	first, err := svc.Upsert(ctx, 1, jobpricedomain.UpsertRequest{
		TaskType:     taskdomain.TaskTypeNewInstall,
		CompanyPrice: decimal.RequireFromString("120.005"),
		TechPrice:    decimal.RequireFromString("55"),
	})
	require.NoError(t, err)
	assert.Equal(t, "120.01", first.CompanyPrice.StringFixed(2))

	second, err := svc.Upsert(ctx, 1, jobpricedomain.UpsertRequest{
		TaskType:     taskdomain.TaskTypeNewInstall,
		CompanyPrice: decimal.RequireFromString("130"),
		TechPrice:    decimal.RequireFromString("60"),
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.CompanyPrice.Equal(decimal.NewFromInt(130)))

	prices, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, prices, 1)

	missing, err := svc.Lookup(ctx, taskdomain.TaskTypeServiceCall)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpsertValidatesAndAuthorizes(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()

	svc := NewService(Params{DB: db, Log: zap.NewNop(), GenID: testutil.NewNode(t), Authz: authorizationtest.AllowAll()})
	_, err := svc.Upsert(ctx, 1, jobpricedomain.UpsertRequest{TaskType: "roofing"})
	assert.ErrorIs(t, err, jobpricedomain.ErrInvalidTaskType)

	_, err = svc.Upsert(ctx, 1, jobpricedomain.UpsertRequest{TaskType: taskdomain.TaskTypeDropBury, TechPrice: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, jobpricedomain.ErrNegativePrice)

	denied := NewService(Params{DB: db, Log: zap.NewNop(), GenID: testutil.NewNode(t),
		Authz: authorizationtest.Deny(authorization.ObjectJobPrice, authorization.ActionJobPriceManage)})
	_, err = denied.Upsert(ctx, 1, jobpricedomain.UpsertRequest{TaskType: taskdomain.TaskTypeDropBury})
	assert.ErrorIs(t, err, authorization.ErrForbidden)
}
