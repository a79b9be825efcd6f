package service

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fieldops/internal/authorization"
	"github.com/smallbiznis/fieldops/internal/authorization/authorizationtest"
	"github.com/smallbiznis/fieldops/internal/clock"
	loandomain "github.com/smallbiznis/fieldops/internal/loan/domain"
	payrolldomain "github.com/smallbiznis/fieldops/internal/payroll/domain"
	taskdomain "github.com/smallbiznis/fieldops/internal/task/domain"
	"github.com/smallbiznis/fieldops/internal/testutil"
	userdomain "github.com/smallbiznis/fieldops/internal/user/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ISO 2025-W10 settles Sunday 2025-03-02 through Saturday 2025-03-08 in
// America/Chicago.
const (
	testYear = 2025
	testWeek = 10
)

type fixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	svc   payrolldomain.Service
	admin userdomain.User
	tech  userdomain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	return &fixture{
		db:   db,
		node: node,
		svc: NewService(Params{
			DB:       db,
			Log:      zap.NewNop(),
			GenID:    node,
			Clock:    clock.NewFakeClock(time.Date(2025, time.March, 9, 12, 0, 0, 0, time.UTC)),
			Authz:    authorizationtest.AllowAll(),
			Settings: testutil.Settlement(),
		}),
		admin: testutil.SeedUser(t, db, node, userdomain.RoleAdmin),
		tech:  testutil.SeedUser(t, db, node, userdomain.RoleTechnician),
	}
}

func (f *fixture) approvedTask(t *testing.T, techID snowflake.ID, techPrice string, completed time.Time) taskdomain.Task {
	t.Helper()
	task := taskdomain.Task{
		ID:              f.node.Generate(),
		Title:           "install",
		TaskType:        taskdomain.TaskTypeNewInstall,
		Status:          taskdomain.StatusApproved,
		FinancialStatus: taskdomain.FinancialStatusBillable,
		AssignedTechID:  &techID,
		CompanyPrice:    decimal.RequireFromString("200.00"),
		TechPrice:       decimal.RequireFromString(techPrice),
		CompletionDate:  &completed,
	}
	require.NoError(t, f.db.Create(&task).Error)
	return task
}

// loan stores a loan with weekly installments of amount starting on due.
func (f *fixture) loan(t *testing.T, techID snowflake.ID, amount string, count int, due time.Time) loandomain.Loan {
	t.Helper()
	per := decimal.RequireFromString(amount)
	loan := loandomain.Loan{
		ID:                f.node.Generate(),
		TechnicianID:      techID,
		AmountTotal:       per.Mul(decimal.NewFromInt(int64(count))),
		InstallmentsCount: count,
		StartDate:         due,
		Status:            loandomain.StatusActive,
	}
	require.NoError(t, f.db.Create(&loan).Error)
	for i := 0; i < count; i++ {
		inst := loandomain.Installment{
			ID:       f.node.Generate(),
			LoanID:   loan.ID,
			Sequence: i + 1,
			Amount:   per,
			DueDate:  due.AddDate(0, 0, 7*i),
		}
		require.NoError(t, f.db.Create(&inst).Error)
	}
	return loan
}

func chicago(t *testing.T, month time.Month, day, hour int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	return time.Date(2025, month, day, hour, 0, 0, 0, loc).UTC()
}

func (f *fixture) generate(t *testing.T) payrolldomain.Payroll {
	t.Helper()
	res, err := f.svc.Generate(context.Background(), f.admin.ID, payrolldomain.GenerateRequest{
		Year: testYear, Week: testWeek, TechnicianID: &f.tech.ID,
	})
	require.NoError(t, err)
	require.Len(t, res.Payrolls, 1)
	return res.Payrolls[0]
}

func TestGenerateComputesTotals(t *testing.T) {
	f := newFixture(t)
	f.approvedTask(t, f.tech.ID, "500.00", chicago(t, time.March, 4, 10))
	f.approvedTask(t, f.tech.ID, "300.00", chicago(t, time.March, 8, 23))
	// Outside the week on both sides.
	f.approvedTask(t, f.tech.ID, "999.00", chicago(t, time.March, 1, 23))
	f.approvedTask(t, f.tech.ID, "999.00", chicago(t, time.March, 9, 0))
	f.loan(t, f.tech.ID, "70.00", 3, chicago(t, time.March, 2, 0))

	p := f.generate(t)
	assert.Equal(t, payrolldomain.StatusDraft, p.Status)
	assert.Equal(t, 2, p.TaskCount)
	assert.Equal(t, "800.00", p.GrossAmount.StringFixed(2))
	assert.Equal(t, "70.00", p.DeductionsAmount.StringFixed(2))
	assert.Equal(t, "730.00", p.NetPay.StringFixed(2))

	var linked int64
	require.NoError(t, f.db.Model(&taskdomain.Task{}).Where("payroll_id = ?", p.ID).Count(&linked).Error)
	assert.EqualValues(t, 2, linked)
	require.NoError(t, f.db.Model(&loandomain.Installment{}).Where("payroll_id = ?", p.ID).Count(&linked).Error)
	assert.EqualValues(t, 1, linked)
}

func TestGenerateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.approvedTask(t, f.tech.ID, "125.50", chicago(t, time.March, 5, 9))
	f.loan(t, f.tech.ID, "25.00", 2, chicago(t, time.March, 2, 0))

	first := f.generate(t)
	second := f.generate(t)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.NetPay.Equal(second.NetPay))
	assert.Equal(t, first.TaskCount, second.TaskCount)

	again, err := f.svc.Recalculate(context.Background(), f.admin.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "100.50", again.NetPay.StringFixed(2))

	var count int64
	require.NoError(t, f.db.Model(&payrolldomain.Payroll{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestDeductionOverrideWins(t *testing.T) {
	f := newFixture(t)
	f.approvedTask(t, f.tech.ID, "800.00", chicago(t, time.March, 3, 12))
	f.loan(t, f.tech.ID, "120.00", 2, chicago(t, time.March, 2, 0))
	p := f.generate(t)
	assert.Equal(t, "680.00", p.NetPay.StringFixed(2))

	bonus := decimal.RequireFromString("50")
	zero := decimal.Zero
	adjusted, err := f.svc.UpdateAdjustments(context.Background(), f.admin.ID, p.ID, payrolldomain.AdjustmentsRequest{
		Bonus:             &bonus,
		DeductionOverride: &zero,
	})
	require.NoError(t, err)
	assert.Equal(t, "850.00", adjusted.GrossAmount.StringFixed(2))
	assert.Equal(t, "0.00", adjusted.DeductionsAmount.StringFixed(2))
	assert.Equal(t, "850.00", adjusted.NetPay.StringFixed(2))

	// The override survives recalculation until cleared.
	again, err := f.svc.Recalculate(context.Background(), f.admin.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "850.00", again.NetPay.StringFixed(2))

	cleared, err := f.svc.UpdateAdjustments(context.Background(), f.admin.ID, p.ID, payrolldomain.AdjustmentsRequest{ClearOverride: true})
	require.NoError(t, err)
	assert.False(t, cleared.DeductionOverride.Valid)
	assert.Equal(t, "730.00", cleared.NetPay.StringFixed(2))
}

func TestUpdateAdjustmentsRejectsNegative(t *testing.T) {
	f := newFixture(t)
	p := f.generate(t)
	negative := decimal.RequireFromString("-1")
	_, err := f.svc.UpdateAdjustments(context.Background(), f.admin.ID, p.ID, payrolldomain.AdjustmentsRequest{Bonus: &negative})
	assert.ErrorIs(t, err, payrolldomain.ErrInvalidAdjustment)
}

func TestRecalculateReleasesTasksThatNoLongerQualify(t *testing.T) {
	f := newFixture(t)
	keep := f.approvedTask(t, f.tech.ID, "100.00", chicago(t, time.March, 4, 8))
	drop := f.approvedTask(t, f.tech.ID, "40.00", chicago(t, time.March, 4, 9))
	p := f.generate(t)
	assert.Equal(t, "140.00", p.GrossAmount.StringFixed(2))

	require.NoError(t, f.db.Model(&taskdomain.Task{}).Where("id = ?", drop.ID).
		UpdateColumn("status", taskdomain.StatusReturnedForFix).Error)

	again, err := f.svc.Recalculate(context.Background(), f.admin.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", again.GrossAmount.StringFixed(2))
	assert.Equal(t, 1, again.TaskCount)

	var dropped, kept taskdomain.Task
	require.NoError(t, f.db.First(&dropped, "id = ?", drop.ID).Error)
	assert.Nil(t, dropped.PayrollID)
	require.NoError(t, f.db.First(&kept, "id = ?", keep.ID).Error)
	require.NotNil(t, kept.PayrollID)
	assert.Equal(t, p.ID, *kept.PayrollID)
}

func TestApproveSettlesInstallmentsAndLoan(t *testing.T) {
	f := newFixture(t)
	f.approvedTask(t, f.tech.ID, "300.00", chicago(t, time.March, 6, 14))
	loan := f.loan(t, f.tech.ID, "60.00", 1, chicago(t, time.March, 2, 0))
	other := f.loan(t, f.tech.ID, "10.00", 2, chicago(t, time.March, 7, 0))
	p := f.generate(t)
	assert.Equal(t, "230.00", p.NetPay.StringFixed(2))

	approved, err := f.svc.Approve(context.Background(), f.admin.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payrolldomain.StatusPaid, approved.Status)
	require.NotNil(t, approved.PaidAt)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, f.admin.ID, *approved.ApprovedBy)
	assert.Equal(t, "230.00", approved.NetPay.StringFixed(2))

	var unpaid int64
	require.NoError(t, f.db.Model(&loandomain.Installment{}).
		Where("payroll_id = ? AND paid = ?", p.ID, false).Count(&unpaid).Error)
	assert.Zero(t, unpaid)

	var settled, open loandomain.Loan
	require.NoError(t, f.db.First(&settled, "id = ?", loan.ID).Error)
	assert.Equal(t, loandomain.StatusPaid, settled.Status)
	// The second installment is due next week, so this loan stays open.
	require.NoError(t, f.db.First(&open, "id = ?", other.ID).Error)
	assert.Equal(t, loandomain.StatusActive, open.Status)
}

func TestPaidPayrollIsFrozen(t *testing.T) {
	f := newFixture(t)
	f.approvedTask(t, f.tech.ID, "100.00", chicago(t, time.March, 4, 8))
	p := f.generate(t)
	_, err := f.svc.Approve(context.Background(), f.admin.ID, p.ID)
	require.NoError(t, err)

	_, err = f.svc.Recalculate(context.Background(), f.admin.ID, p.ID)
	assert.ErrorIs(t, err, payrolldomain.ErrPayrollNotDraft)
	_, err = f.svc.Approve(context.Background(), f.admin.ID, p.ID)
	assert.ErrorIs(t, err, payrolldomain.ErrPayrollNotDraft)
	bonus := decimal.RequireFromString("5")
	_, err = f.svc.UpdateAdjustments(context.Background(), f.admin.ID, p.ID, payrolldomain.AdjustmentsRequest{Bonus: &bonus})
	assert.ErrorIs(t, err, payrolldomain.ErrPayrollNotDraft)

	// A late task does not move a paid payroll.
	f.approvedTask(t, f.tech.ID, "50.00", chicago(t, time.March, 5, 8))
	res, err := f.svc.Generate(context.Background(), f.admin.ID, payrolldomain.GenerateRequest{Year: testYear, Week: testWeek})
	require.NoError(t, err)
	assert.Empty(t, res.Payrolls)
	assert.Equal(t, []snowflake.ID{f.tech.ID}, res.Skipped)
}

func TestGenerateCoversEveryActiveTechnician(t *testing.T) {
	f := newFixture(t)
	second := testutil.SeedUser(t, f.db, f.node, userdomain.RoleTechnician)
	inactive := testutil.SeedUser(t, f.db, f.node, userdomain.RoleTechnician)
	require.NoError(t, f.db.Model(&userdomain.User{}).Where("id = ?", inactive.ID).UpdateColumn("active", false).Error)
	f.approvedTask(t, second.ID, "75.00", chicago(t, time.March, 4, 8))

	res, err := f.svc.Generate(context.Background(), f.admin.ID, payrolldomain.GenerateRequest{Year: testYear, Week: testWeek})
	require.NoError(t, err)
	require.Len(t, res.Payrolls, 2)

	listed, err := f.svc.ListForWeek(context.Background(), testYear, testWeek)
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestGenerateReturnsCommittedPayrollsWhenATechnicianFails(t *testing.T) {
	f := newFixture(t)
	second := testutil.SeedUser(t, f.db, f.node, userdomain.RoleTechnician)
	f.approvedTask(t, f.tech.ID, "120.00", chicago(t, time.March, 4, 8))
	f.approvedTask(t, second.ID, "80.00", chicago(t, time.March, 4, 9))
	require.NoError(t, f.db.Exec(fmt.Sprintf(
		`CREATE TRIGGER block_payroll BEFORE INSERT ON payrolls
		 WHEN NEW.technician_id = %d
		 BEGIN SELECT RAISE(ABORT, 'payroll blocked'); END`, int64(second.ID))).Error)

	res, err := f.svc.Generate(context.Background(), f.admin.ID, payrolldomain.GenerateRequest{Year: testYear, Week: testWeek})
	require.Error(t, err)
	assert.Contains(t, err.Error(), second.ID.String())
	require.Len(t, res.Payrolls, 1)
	assert.Equal(t, f.tech.ID, res.Payrolls[0].TechnicianID)

	var stored []payrolldomain.Payroll
	require.NoError(t, f.db.Find(&stored).Error)
	require.Len(t, stored, 1)
	assert.Equal(t, "120.00", stored[0].GrossAmount.StringFixed(2))

	// A rerun picks up the committed draft without duplicating it.
	require.NoError(t, f.db.Exec("DROP TRIGGER block_payroll").Error)
	res, err = f.svc.Generate(context.Background(), f.admin.ID, payrolldomain.GenerateRequest{Year: testYear, Week: testWeek})
	require.NoError(t, err)
	require.Len(t, res.Payrolls, 2)
	assert.Equal(t, res.Payrolls[0].ID, stored[0].ID)
}

func TestGenerateRejectsNonTechnician(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Generate(context.Background(), f.admin.ID, payrolldomain.GenerateRequest{
		Year: testYear, Week: testWeek, TechnicianID: &f.admin.ID,
	})
	assert.ErrorIs(t, err, payrolldomain.ErrInvalidTechnician)

	_, err = f.svc.Generate(context.Background(), f.admin.ID, payrolldomain.GenerateRequest{Year: testYear, Week: 60})
	assert.Error(t, err)
}

func TestConcurrentGenerateClaimsTasksOnce(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.approvedTask(t, f.tech.ID, "20.00", chicago(t, time.March, 4, 8+i))
	}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Generate(context.Background(), f.admin.ID, payrolldomain.GenerateRequest{Year: testYear, Week: testWeek})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	listed, err := f.svc.ListForWeek(context.Background(), testYear, testWeek)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "100.00", listed[0].GrossAmount.StringFixed(2))
	assert.Equal(t, 5, listed[0].TaskCount)
}

func TestGenerateRequiresPermission(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	svc := NewService(Params{
		DB: db, Log: zap.NewNop(), GenID: node,
		Clock:    clock.SystemClock{},
		Authz:    authorizationtest.Deny(authorization.ObjectPayroll, authorization.ActionPayrollGenerate),
		Settings: testutil.Settlement(),
	})
	_, err := svc.Generate(context.Background(), node.Generate(), payrolldomain.GenerateRequest{Year: testYear, Week: testWeek})
	assert.ErrorIs(t, err, authorization.ErrForbidden)
}

func TestExportWeekWritesWorkbook(t *testing.T) {
	f := newFixture(t)
	f.approvedTask(t, f.tech.ID, "410.25", chicago(t, time.March, 4, 8))
	f.generate(t)

	var buf bytes.Buffer
	require.NoError(t, f.svc.ExportWeek(context.Background(), f.admin.ID, testYear, testWeek, &buf))

	book, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer book.Close()

	rows, err := book.GetRows("Payroll 2025-W10")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Technician", rows[0][0])
	assert.Equal(t, f.tech.Name, rows[1][0])
	assert.Equal(t, "1", rows[1][2])
	assert.Equal(t, "410.25", rows[1][6])
	assert.Equal(t, "draft", rows[1][7])
}
