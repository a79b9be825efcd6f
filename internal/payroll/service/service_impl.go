package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	"github.com/smallbiznis/fieldops/internal/authorization"
	"github.com/smallbiznis/fieldops/internal/clock"
	"github.com/smallbiznis/fieldops/internal/config"
	loandomain "github.com/smallbiznis/fieldops/internal/loan/domain"
	"github.com/smallbiznis/fieldops/internal/money"
	"github.com/smallbiznis/fieldops/internal/observability/logger"
	"github.com/smallbiznis/fieldops/internal/observability/metrics"
	"github.com/smallbiznis/fieldops/internal/observability/tracing"
	payrolldomain "github.com/smallbiznis/fieldops/internal/payroll/domain"
	"github.com/smallbiznis/fieldops/internal/period"
	"github.com/smallbiznis/fieldops/internal/settlementlock"
	userdomain "github.com/smallbiznis/fieldops/internal/user/domain"
	"github.com/smallbiznis/fieldops/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Authz    authorization.Service
	Settings *config.SettlementConfigHolder
	Guard    settlementlock.Guard

	AuditSvc          auditdomain.Service        `optional:"true"`
	Metrics           *metrics.Metrics           `optional:"true"`
	SettlementMetrics *metrics.SettlementMetrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	authz    authorization.Service
	settings *config.SettlementConfigHolder
	guard    settlementlock.Guard

	auditSvc          auditdomain.Service
	metrics           *metrics.Metrics
	settlementMetrics *metrics.SettlementMetrics
}

func NewService(p Params) payrolldomain.Service {
	guard := p.Guard
	if guard == nil {
		guard = settlementlock.Noop()
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payroll.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		authz:    p.Authz,
		settings: p.Settings,
		guard:    guard,

		auditSvc:          p.AuditSvc,
		metrics:           p.Metrics,
		settlementMetrics: p.SettlementMetrics,
	}
}

// Generate finds or creates the draft payroll of every technician for the
// week and recalculates it. Paid payrolls are left alone and reported.
//
// Each technician settles in its own transaction. When one fails the run
// stops there: the result still lists the payrolls already committed and
// the error names the technician. Running Generate again is safe since
// committed drafts are found and recalculated in place.
func (s *Service) Generate(ctx context.Context, actorID snowflake.ID, req payrolldomain.GenerateRequest) (result payrolldomain.GenerateResult, err error) {
	start := time.Now()
	defer func() {
		s.settlementMetrics.Observe(metrics.OperationPayrollGenerate, start, err)
		s.metrics.RecordSettlementRun(ctx, metrics.OperationPayrollGenerate, outcome(err))
	}()

	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectPayroll, authorization.ActionPayrollGenerate); err != nil {
		return result, err
	}
	cfg := s.settings.Get()
	week, err := period.Resolve(req.Year, req.Week, cfg.Location())
	if err != nil {
		return result, err
	}
	log := logger.ForSettlement(ctx, s.log, "payroll", week.Label())
	ctx, endSpan := tracing.StartSettlement(ctx, metrics.OperationPayrollGenerate, week.Label())
	defer func() { endSpan(err) }()

	technicians, err := s.technicians(ctx, req.TechnicianID)
	if err != nil {
		return result, err
	}

	release, err := s.guard.Acquire(ctx, settlementlock.PayrollKey(week.Label()))
	if err != nil {
		return result, err
	}
	defer release()

	result.Payrolls = make([]payrolldomain.Payroll, 0, len(technicians))
	for _, techID := range technicians {
		var (
			payroll *payrolldomain.Payroll
			skipped bool
		)
		err := db.Locked(ctx, s.db, cfg.LockWait, true, func(tx *gorm.DB) error {
			lockStart := time.Now()
			p, err := s.findOrCreate(tx, techID, week)
			if err != nil {
				return err
			}
			s.settlementMetrics.ObserveLockWait(metrics.LockResourceTechnicianTasks, time.Since(lockStart))
			if p.Status != payrolldomain.StatusDraft {
				skipped = true
				return nil
			}
			if _, err := s.recalculate(ctx, tx, p, week); err != nil {
				return err
			}
			payroll = p
			return nil
		})
		if err != nil {
			log.Error("payroll generation failed",
				zap.String("technician_id", techID.String()),
				zap.Int("committed", len(result.Payrolls)),
				zap.Error(err))
			return result, fmt.Errorf("payroll for technician %s: %w", techID, err)
		}
		if skipped {
			result.Skipped = append(result.Skipped, techID)
			continue
		}
		result.Payrolls = append(result.Payrolls, *payroll)
	}

	log.Info("payrolls generated",
		zap.Int("payrolls", len(result.Payrolls)),
		zap.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

func (s *Service) Recalculate(ctx context.Context, actorID, id snowflake.ID) (payroll *payrolldomain.Payroll, err error) {
	start := time.Now()
	defer func() {
		s.settlementMetrics.Observe(metrics.OperationPayrollRecalculate, start, err)
		s.metrics.RecordSettlementRun(ctx, metrics.OperationPayrollRecalculate, outcome(err))
	}()

	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectPayroll, authorization.ActionPayrollRecalculate); err != nil {
		return nil, err
	}
	return s.withDraft(ctx, id, func(tx *gorm.DB, p *payrolldomain.Payroll, week period.Week) error {
		_, err := s.recalculate(ctx, tx, p, week)
		return err
	})
}

// UpdateAdjustments edits bonus and deduction override, then recalculates.
// The edit is audited; the recalculation is not.
func (s *Service) UpdateAdjustments(ctx context.Context, actorID, id snowflake.ID, req payrolldomain.AdjustmentsRequest) (*payrolldomain.Payroll, error) {
	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectPayroll, authorization.ActionPayrollAdjust); err != nil {
		return nil, err
	}
	if (req.Bonus != nil && req.Bonus.IsNegative()) || (req.DeductionOverride != nil && req.DeductionOverride.IsNegative()) {
		return nil, payrolldomain.ErrInvalidAdjustment
	}

	payroll, err := s.withDraft(ctx, id, func(tx *gorm.DB, p *payrolldomain.Payroll, week period.Week) error {
		if req.Bonus != nil {
			p.BonusAmount = money.Round(*req.Bonus)
		}
		switch {
		case req.ClearOverride:
			p.DeductionOverride = decimal.NullDecimal{}
		case req.DeductionOverride != nil:
			p.DeductionOverride = decimal.NewNullDecimal(money.Round(*req.DeductionOverride))
		}
		err := tx.Model(&payrolldomain.Payroll{}).Where("id = ?", p.ID).UpdateColumns(map[string]any{
			"bonus_amount":       p.BonusAmount,
			"deduction_override": p.DeductionOverride,
		}).Error
		if err != nil {
			return err
		}
		_, err = s.recalculate(ctx, tx, p, week)
		return err
	})
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{"bonus_amount": money.Format(payroll.BonusAmount)}
	if payroll.DeductionOverride.Valid {
		metadata["deduction_override"] = money.Format(payroll.DeductionOverride.Decimal)
	} else {
		metadata["deduction_override"] = nil
	}
	s.emitAudit(ctx, actorID, "payroll.adjust", payroll, metadata)
	return payroll, nil
}

// Approve marks the payroll paid and settles the installments it deducted.
// A loan whose installments are all paid becomes paid.
func (s *Service) Approve(ctx context.Context, actorID, id snowflake.ID) (payroll *payrolldomain.Payroll, err error) {
	start := time.Now()
	defer func() {
		s.settlementMetrics.Observe(metrics.OperationPayrollApprove, start, err)
		s.metrics.RecordSettlementRun(ctx, metrics.OperationPayrollApprove, outcome(err))
	}()

	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectPayroll, authorization.ActionPayrollApprove); err != nil {
		return nil, err
	}
	var paidInstallments int64
	payroll, err = s.withDraft(ctx, id, func(tx *gorm.DB, p *payrolldomain.Payroll, _ period.Week) error {
		now := s.clock.Now()

		res := tx.Model(&loandomain.Installment{}).
			Where("payroll_id = ? AND paid = ?", p.ID, false).
			UpdateColumns(map[string]any{"paid": true, "paid_at": now})
		if res.Error != nil {
			return res.Error
		}
		paidInstallments = res.RowsAffected

		var loanIDs []snowflake.ID
		err := tx.Model(&loandomain.Installment{}).
			Distinct("loan_id").
			Where("payroll_id = ?", p.ID).
			Pluck("loan_id", &loanIDs).Error
		if err != nil {
			return err
		}
		if len(loanIDs) > 0 {
			settled := tx.Model(&loandomain.Installment{}).
				Select("1").
				Where("loan_installments.loan_id = loans.id AND loan_installments.paid = ?", false)
			err = tx.Model(&loandomain.Loan{}).
				Where("id IN ?", loanIDs).
				Where("NOT EXISTS (?)", settled).
				UpdateColumns(map[string]any{"status": loandomain.StatusPaid, "updated_at": now}).Error
			if err != nil {
				return err
			}
		}

		p.Status = payrolldomain.StatusPaid
		p.PaidAt = &now
		p.ApprovedBy = &actorID
		p.UpdatedAt = now
		return tx.Model(&payrolldomain.Payroll{}).Where("id = ?", p.ID).UpdateColumns(map[string]any{
			"status":      p.Status,
			"paid_at":     now,
			"approved_by": actorID,
			"updated_at":  now,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordSettledAmount(ctx, metrics.OperationPayrollApprove, payroll.NetPay)
	s.emitAudit(ctx, actorID, "payroll.approve", payroll, map[string]any{
		"net_pay":           money.Format(payroll.NetPay),
		"installments_paid": paidInstallments,
	})
	return payroll, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*payrolldomain.Payroll, error) {
	var payroll payrolldomain.Payroll
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&payroll).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, payrolldomain.ErrPayrollNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payroll, nil
}

func (s *Service) ListForWeek(ctx context.Context, year, week int) ([]payrolldomain.Payroll, error) {
	if _, err := period.Resolve(year, week, time.UTC); err != nil {
		return nil, err
	}
	var payrolls []payrolldomain.Payroll
	err := s.db.WithContext(ctx).
		Where("year = ? AND week = ?", year, week).
		Order("technician_id asc").
		Find(&payrolls).Error
	if err != nil {
		return nil, err
	}
	return payrolls, nil
}

// withDraft locks a draft payroll and runs fn under the week's settlement
// guard.
func (s *Service) withDraft(ctx context.Context, id snowflake.ID, fn func(tx *gorm.DB, p *payrolldomain.Payroll, week period.Week) error) (*payrolldomain.Payroll, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	cfg := s.settings.Get()
	week, err := period.Resolve(current.Year, current.Week, cfg.Location())
	if err != nil {
		return nil, err
	}

	release, err := s.guard.Acquire(ctx, settlementlock.PayrollKey(week.Label()))
	if err != nil {
		return nil, err
	}
	defer release()

	var payroll *payrolldomain.Payroll
	err = db.Locked(ctx, s.db, cfg.LockWait, true, func(tx *gorm.DB) error {
		var p payrolldomain.Payroll
		if err := db.ForUpdate(tx).Where("id = ?", id).First(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return payrolldomain.ErrPayrollNotFound
			}
			return err
		}
		if p.Status != payrolldomain.StatusDraft {
			return payrolldomain.ErrPayrollNotDraft
		}
		if err := fn(tx, &p, week); err != nil {
			return err
		}
		payroll = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payroll, nil
}

// findOrCreate returns the locked payroll for (technician, week), inserting
// an empty draft first when none exists.
func (s *Service) findOrCreate(tx *gorm.DB, techID snowflake.ID, week period.Week) (*payrolldomain.Payroll, error) {
	now := s.clock.Now()
	draft := payrolldomain.Payroll{
		ID:               s.genID.Generate(),
		TechnicianID:     techID,
		Week:             week.Week,
		Year:             week.Year,
		GrossAmount:      decimal.Zero,
		BonusAmount:      decimal.Zero,
		DeductionsAmount: decimal.Zero,
		NetPay:           decimal.Zero,
		Status:           payrolldomain.StatusDraft,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "technician_id"}, {Name: "week"}, {Name: "year"}},
		DoNothing: true,
	}).Create(&draft).Error
	if err != nil {
		return nil, err
	}

	var payroll payrolldomain.Payroll
	err = db.ForUpdate(tx).
		Where("technician_id = ? AND week = ? AND year = ?", techID, week.Week, week.Year).
		First(&payroll).Error
	if err != nil {
		return nil, err
	}
	return &payroll, nil
}

// technicians lists who to pay: the requested technician, or every active
// technician.
func (s *Service) technicians(ctx context.Context, only *snowflake.ID) ([]snowflake.ID, error) {
	query := s.db.WithContext(ctx).Model(&userdomain.User{}).Where("role = ?", userdomain.RoleTechnician)
	if only != nil {
		var user userdomain.User
		err := s.db.WithContext(ctx).Where("id = ?", *only).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !user.IsTechnician()) {
			return nil, payrolldomain.ErrInvalidTechnician
		}
		if err != nil {
			return nil, err
		}
		return []snowflake.ID{user.ID}, nil
	}

	var ids []snowflake.ID
	if err := query.Where("active = ?", true).Order("id asc").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Service) emitAudit(ctx context.Context, actorID snowflake.ID, action string, p *payrolldomain.Payroll, metadata map[string]any) {
	if s.auditSvc == nil || p == nil {
		return
	}
	targetID := p.ID.String()
	if err := s.auditSvc.AuditLog(ctx, &actorID, action, "payroll", &targetID, metadata); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("payroll audit failed", zap.String("action", action), zap.Error(err))
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
