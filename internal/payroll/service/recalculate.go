package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	loandomain "github.com/smallbiznis/fieldops/internal/loan/domain"
	"github.com/smallbiznis/fieldops/internal/money"
	"github.com/smallbiznis/fieldops/internal/observability/metrics"
	payrolldomain "github.com/smallbiznis/fieldops/internal/payroll/domain"
	"github.com/smallbiznis/fieldops/internal/period"
	taskdomain "github.com/smallbiznis/fieldops/internal/task/domain"
	"github.com/smallbiznis/fieldops/pkg/db"
	"gorm.io/gorm"
)

// recalculate recomputes a draft payroll inside tx. Approved tasks and due
// installments are read under row locks, limited to rows that are unclaimed
// or already claimed by this payroll, so a rerun finds the same set again.
// Rows this payroll claimed earlier that no longer qualify are released.
// The totals are written with a column update that fires no hooks or audit.
func (s *Service) recalculate(ctx context.Context, tx *gorm.DB, p *payrolldomain.Payroll, week period.Week) (payrolldomain.Totals, error) {
	tx = tx.WithContext(ctx)
	start, end := week.UTC()

	var tasks []taskdomain.Task
	err := db.ForUpdate(tx).
		Where("assigned_tech_id = ?", p.TechnicianID).
		Where("status = ?", taskdomain.StatusApproved).
		Where("completion_date BETWEEN ? AND ?", start, end).
		Where("(payroll_id IS NULL OR payroll_id = ?)", p.ID).
		Order("id asc").
		Find(&tasks).Error
	if err != nil {
		return payrolldomain.Totals{}, err
	}
	taskIDs := make([]snowflake.ID, 0, len(tasks))
	tasksTotal := decimal.Zero
	for _, t := range tasks {
		taskIDs = append(taskIDs, t.ID)
		tasksTotal = tasksTotal.Add(t.TechPrice)
	}
	if err := relink(tx, &taskdomain.Task{}, p.ID, taskIDs); err != nil {
		return payrolldomain.Totals{}, err
	}

	var installments []loandomain.Installment
	err = db.ForUpdate(tx).
		Model(&loandomain.Installment{}).
		Select("loan_installments.*").
		Joins("JOIN loans ON loans.id = loan_installments.loan_id").
		Where("loans.technician_id = ?", p.TechnicianID).
		Where("loan_installments.due_date BETWEEN ? AND ?", start, end).
		Where("(loan_installments.payroll_id IS NULL OR loan_installments.payroll_id = ?)", p.ID).
		Order("loan_installments.id asc").
		Find(&installments).Error
	if err != nil {
		return payrolldomain.Totals{}, err
	}
	installmentIDs := make([]snowflake.ID, 0, len(installments))
	amounts := make([]decimal.Decimal, 0, len(installments))
	for _, inst := range installments {
		installmentIDs = append(installmentIDs, inst.ID)
		amounts = append(amounts, inst.Amount)
	}
	if err := relink(tx, &loandomain.Installment{}, p.ID, installmentIDs); err != nil {
		return payrolldomain.Totals{}, err
	}

	totals := payrolldomain.Compute(tasksTotal, p.BonusAmount, money.Sum(amounts...), p.DeductionOverride)

	now := s.clock.Now()
	err = tx.Model(&payrolldomain.Payroll{}).
		Where("id = ?", p.ID).
		UpdateColumns(map[string]any{
			"gross_amount":      totals.Gross,
			"deductions_amount": totals.Deductions,
			"net_pay":           totals.Net,
			"task_count":        len(tasks),
			"updated_at":        now,
		}).Error
	if err != nil {
		return payrolldomain.Totals{}, err
	}

	p.GrossAmount = totals.Gross
	p.DeductionsAmount = totals.Deductions
	p.NetPay = totals.Net
	p.TaskCount = len(tasks)
	p.UpdatedAt = now

	s.settlementMetrics.AddTasksClaimed(metrics.OperationPayrollRecalculate, len(tasks))
	return totals, nil
}

// relink points payroll_id at payrollID for exactly ids, clearing it on
// rows this payroll held before that are no longer in the set.
func relink(tx *gorm.DB, model any, payrollID snowflake.ID, ids []snowflake.ID) error {
	release := tx.Model(model).Where("payroll_id = ?", payrollID)
	if len(ids) > 0 {
		release = release.Where("id NOT IN ?", ids)
	}
	if err := release.UpdateColumn("payroll_id", nil).Error; err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return tx.Model(model).Where("id IN ?", ids).UpdateColumn("payroll_id", payrollID).Error
}
