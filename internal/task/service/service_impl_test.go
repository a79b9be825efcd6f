package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fieldops/internal/apperror"
	"github.com/smallbiznis/fieldops/internal/authorization/authorizationtest"
	"github.com/smallbiznis/fieldops/internal/clock"
	inventorydomain "github.com/smallbiznis/fieldops/internal/inventory/domain"
	inventoryservice "github.com/smallbiznis/fieldops/internal/inventory/service"
	jobpricedomain "github.com/smallbiznis/fieldops/internal/jobprice/domain"
	jobpriceservice "github.com/smallbiznis/fieldops/internal/jobprice/service"
	taskdomain "github.com/smallbiznis/fieldops/internal/task/domain"
	"github.com/smallbiznis/fieldops/internal/testutil"
	userdomain "github.com/smallbiznis/fieldops/internal/user/domain"
	"github.com/smallbiznis/fieldops/pkg/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc       taskdomain.Service
	inventory inventorydomain.Service
	prices    jobpricedomain.Service
	db        *gorm.DB
	node      *snowflake.Node
	clock     *clock.FakeClock
	admin     userdomain.User
	tech      userdomain.User
	other     userdomain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(time.Date(2025, time.January, 7, 15, 0, 0, 0, time.UTC))
	v := validate.New()
	authz := authorizationtest.AllowAll()
	settings := testutil.Settlement()

	inventory := inventoryservice.NewService(inventoryservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Validate: v, Authz: authz, Settings: settings,
	})
	prices := jobpriceservice.NewService(jobpriceservice.Params{DB: db, Log: zap.NewNop(), GenID: node, Authz: authz})

	svc := NewService(Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Validate: v, Authz: authz,
		Ledger: inventory, Settings: settings, Prices: prices,
	})

	return &fixture{
		svc:       svc,
		inventory: inventory,
		prices:    prices,
		db:        db,
		node:      node,
		clock:     clk,
		admin:     testutil.SeedUser(t, db, node, userdomain.RoleAdmin),
		tech:      testutil.SeedUser(t, db, node, userdomain.RoleTechnician),
		other:     testutil.SeedUser(t, db, node, userdomain.RoleTechnician),
	}
}

func (f *fixture) assignedTask(t *testing.T, taskType taskdomain.TaskType) *taskdomain.Task {
	t.Helper()
	techID := f.tech.ID
	task, err := f.svc.Create(context.Background(), f.admin.ID, taskdomain.CreateTaskRequest{
		Title:          "Job",
		TaskType:       taskType,
		AssignedTechID: &techID,
	})
	require.NoError(t, err)
	return task
}

func TestCreateUsesJobPriceThenPricingFormula(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.prices.Upsert(ctx, f.admin.ID, jobpricedomain.UpsertRequest{
		TaskType:     taskdomain.TaskTypeNewInstall,
		CompanyPrice: decimal.RequireFromString("125.00"),
		TechPrice:    decimal.RequireFromString("75.00"),
	})
	require.NoError(t, err)

	task, err := f.svc.Create(ctx, f.admin.ID, taskdomain.CreateTaskRequest{Title: "Install", TaskType: taskdomain.TaskTypeNewInstall})
	require.NoError(t, err)
	assert.Equal(t, taskdomain.StatusPending, task.Status)
	assert.Equal(t, taskdomain.FinancialStatusBillable, task.FinancialStatus)
	assert.Equal(t, "125.00", task.CompanyPrice.StringFixed(2))
	// The formula overrides the table's tech price.
	assert.Equal(t, "50.00", task.TechPrice.StringFixed(2))

	_, err = f.svc.Create(ctx, f.admin.ID, taskdomain.CreateTaskRequest{Title: "Roof", TaskType: "roofing"})
	assert.ErrorIs(t, err, taskdomain.ErrInvalidTaskType)

	adminID := f.admin.ID
	_, err = f.svc.Create(ctx, f.admin.ID, taskdomain.CreateTaskRequest{Title: "x", TaskType: taskdomain.TaskTypeServiceCall, AssignedTechID: &adminID})
	assert.ErrorIs(t, err, taskdomain.ErrInvalidTechnician)
}

func TestUpdateRepricesOnEverySave(t *testing.T) {
	f := newFixture(t)
	task := f.assignedTask(t, taskdomain.TaskTypeServiceCall)
	assert.Equal(t, "30.00", task.TechPrice.StringFixed(2))

	newType := taskdomain.TaskTypeDropBury
	updated, err := f.svc.Update(context.Background(), f.admin.ID, task.ID, taskdomain.UpdateTaskRequest{TaskType: &newType})
	require.NoError(t, err)
	assert.Equal(t, "40.00", updated.TechPrice.StringFixed(2))
}

func TestExecutionFlowConsumesInventoryAtomically(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := inventorydomain.Item{ID: f.node.Generate(), SKU: "DROP-CABLE", Name: "Drop cable", Type: inventorydomain.ItemTypeConsumable, Tracked: true}
	require.NoError(t, f.db.Create(&item).Error)

	task := f.assignedTask(t, taskdomain.TaskTypeNewInstall)

	_, err := f.svc.Start(ctx, f.other.ID, task.ID, taskdomain.StartRequest{Lat: 41.8, Lng: -87.6})
	assert.ErrorIs(t, err, taskdomain.ErrNotAssignedTech)
	assert.Equal(t, apperror.KindAuthorization, apperror.KindOf(err))

	started, err := f.svc.Start(ctx, f.tech.ID, task.ID, taskdomain.StartRequest{Lat: 41.8, Lng: -87.6})
	require.NoError(t, err)
	assert.Equal(t, taskdomain.StatusStarted, started.Status)

	_, err = f.svc.Pause(ctx, f.tech.ID, task.ID, taskdomain.PauseRequest{Reason: "rain"})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	_, err = f.svc.Start(ctx, f.tech.ID, task.ID, taskdomain.StartRequest{Lat: 1, Lng: 1})
	require.NoError(t, err)

	completed, err := f.svc.Complete(ctx, f.tech.ID, task.ID, taskdomain.CompleteRequest{
		EndLat:        41.9,
		EndLng:        -87.7,
		DropBury:      true,
		SidewalkBore:  true,
		Serials:       []string{"SN-1"},
		InventoryUsed: []taskdomain.InventoryUsage{{ItemID: item.ID, Quantity: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, taskdomain.StatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletionDate)
	assert.Equal(t, "110.00", completed.TechPrice.StringFixed(2))

	_, detail, err := f.svc.Get(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, detail)
	require.NotNil(t, detail.StartLat)
	assert.Equal(t, 41.8, *detail.StartLat)
	assert.True(t, detail.DropBuryStatus)
	assert.JSONEq(t, `["SN-1"]`, string(detail.Serials))

	rec, err := f.inventory.VerifyLedger(ctx, f.tech.ID, item.ID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
	assert.Equal(t, int64(-2), rec.WalletQuantity)

	_, err = f.svc.Complete(ctx, f.tech.ID, task.ID, taskdomain.CompleteRequest{
		InventoryUsed: []taskdomain.InventoryUsage{{ItemID: item.ID, Quantity: 2}},
	})
	assert.ErrorIs(t, err, taskdomain.ErrInvalidTransition)
	assert.Equal(t, apperror.KindStateConflict, apperror.KindOf(err))

	rec, err = f.inventory.VerifyLedger(ctx, f.tech.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), rec.WalletQuantity)

	approved, err := f.svc.Approve(ctx, f.admin.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskdomain.StatusApproved, approved.Status)
	assert.Equal(t, "110.00", approved.TechPrice.StringFixed(2))
}

func TestCompleteRollsBackOnUnknownItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.assignedTask(t, taskdomain.TaskTypeServiceCall)

	_, err := f.svc.Complete(ctx, f.tech.ID, task.ID, taskdomain.CompleteRequest{
		InventoryUsed: []taskdomain.InventoryUsage{{ItemID: f.node.Generate(), Quantity: 1}},
	})
	assert.ErrorIs(t, err, inventorydomain.ErrUnknownItem)

	stored, detail, err := f.svc.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskdomain.StatusAssigned, stored.Status)
	assert.Nil(t, stored.CompletionDate)
	assert.Nil(t, detail)
}

func TestCompleteUsesClientTimestamp(t *testing.T) {
	f := newFixture(t)
	task := f.assignedTask(t, taskdomain.TaskTypeServiceChange)
	offline := time.Date(2025, time.January, 6, 9, 30, 0, 0, time.FixedZone("CST", -6*3600))

	completed, err := f.svc.Complete(context.Background(), f.tech.ID, task.ID, taskdomain.CompleteRequest{Timestamp: &offline})
	require.NoError(t, err)
	assert.True(t, completed.CompletionDate.Equal(offline))
	assert.Equal(t, time.UTC, completed.CompletionDate.Location())
}

func TestReturnForFixAndRework(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.assignedTask(t, taskdomain.TaskTypeServiceCall)

	_, err := f.svc.Complete(ctx, f.tech.ID, task.ID, taskdomain.CompleteRequest{})
	require.NoError(t, err)

	_, err = f.svc.ReturnForFix(ctx, f.admin.ID, task.ID, " ")
	assert.ErrorIs(t, err, taskdomain.ErrReturnReasonNeeded)

	returned, err := f.svc.ReturnForFix(ctx, f.admin.ID, task.ID, "missing photos")
	require.NoError(t, err)
	assert.Equal(t, taskdomain.StatusReturnedForFix, returned.Status)

	restarted, err := f.svc.Start(ctx, f.tech.ID, task.ID, taskdomain.StartRequest{})
	require.NoError(t, err)
	assert.Equal(t, taskdomain.StatusStarted, restarted.Status)

	_, err = f.svc.Approve(ctx, f.admin.ID, task.ID)
	assert.ErrorIs(t, err, taskdomain.ErrInvalidTransition)

	cancelled, err := f.svc.Cancel(ctx, f.admin.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskdomain.StatusCancelled, cancelled.Status)

	_, err = f.svc.Cancel(ctx, f.admin.ID, task.ID)
	assert.ErrorIs(t, err, taskdomain.ErrInvalidTransition)
}

func TestDeleteAndRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.assignedTask(t, taskdomain.TaskTypeServiceCall)

	_, err := f.svc.Restore(ctx, f.admin.ID, task.ID)
	assert.ErrorIs(t, err, taskdomain.ErrTaskNotDeleted)

	require.NoError(t, f.svc.Delete(ctx, f.admin.ID, task.ID))
	_, _, err = f.svc.Get(ctx, task.ID)
	assert.ErrorIs(t, err, taskdomain.ErrTaskNotFound)

	restored, err := f.svc.Restore(ctx, f.admin.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, restored.ID)

	invoiceID := f.node.Generate()
	require.NoError(t, f.db.Model(&taskdomain.Task{}).Where("id = ?", task.ID).Update("company_invoice_id", invoiceID).Error)
	assert.ErrorIs(t, f.svc.Delete(ctx, f.admin.ID, task.ID), taskdomain.ErrTaskClaimed)
}

func TestListPagesByID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.assignedTask(t, taskdomain.TaskTypeServiceCall)
	}

	req := taskdomain.ListTasksRequest{}
	req.PageSize = 2
	first, err := f.svc.List(ctx, req)
	require.NoError(t, err)
	assert.Len(t, first.Tasks, 2)
	assert.True(t, first.HasMore)

	req.PageToken = first.NextPageToken
	second, err := f.svc.List(ctx, req)
	require.NoError(t, err)
	assert.Len(t, second.Tasks, 1)
	assert.False(t, second.HasMore)

	req.PageToken = "%%%"
	_, err = f.svc.List(ctx, req)
	assert.ErrorIs(t, err, taskdomain.ErrInvalidPageToken)
}
