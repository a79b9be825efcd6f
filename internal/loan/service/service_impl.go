package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/fieldops/internal/apperror"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	"github.com/smallbiznis/fieldops/internal/authorization"
	"github.com/smallbiznis/fieldops/internal/clock"
	"github.com/smallbiznis/fieldops/internal/config"
	loandomain "github.com/smallbiznis/fieldops/internal/loan/domain"
	"github.com/smallbiznis/fieldops/internal/money"
	userdomain "github.com/smallbiznis/fieldops/internal/user/domain"
	"github.com/smallbiznis/fieldops/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Validate *validator.Validate
	Authz    authorization.Service
	Settings *config.SettlementConfigHolder
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	validate *validator.Validate
	authz    authorization.Service
	settings *config.SettlementConfigHolder
	auditSvc auditdomain.Service

	loans        repository.Repository[loandomain.Loan]
	installments repository.Repository[loandomain.Installment]
}

func NewService(p Params) loandomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("loan.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		validate: p.Validate,
		authz:    p.Authz,
		settings: p.Settings,
		auditSvc: p.AuditSvc,

		loans:        repository.ProvideStore[loandomain.Loan](p.DB),
		installments: repository.ProvideStore[loandomain.Installment](p.DB),
	}
}

// Create stores the loan and its full installment schedule in one
// transaction. The schedule is never regenerated afterwards.
func (s *Service) Create(ctx context.Context, actorID snowflake.ID, req loandomain.CreateLoanRequest) (*loandomain.Loan, []loandomain.Installment, error) {
	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectLoan, authorization.ActionLoanCreate); err != nil {
		return nil, nil, err
	}
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, nil, apperror.Wrap(loandomain.ErrInvalidTechnician, err)
	}
	if req.InstallmentsCount <= 0 {
		return nil, nil, loandomain.ErrInvalidInstallmentCount
	}
	total := money.Round(req.AmountTotal)
	if !total.IsPositive() {
		return nil, nil, loandomain.ErrInvalidAmount
	}
	if err := s.ensureTechnician(ctx, req.TechnicianID); err != nil {
		return nil, nil, err
	}

	start := s.startOfLoan(req.StartDate)
	schedule := loandomain.Schedule(total, req.InstallmentsCount, start)

	now := s.clock.Now()
	loan := &loandomain.Loan{
		ID:                s.genID.Generate(),
		TechnicianID:      req.TechnicianID,
		AmountTotal:       total,
		InstallmentsCount: req.InstallmentsCount,
		StartDate:         start.UTC(),
		Status:            loandomain.StatusActive,
		Note:              req.Note,
		CreatedBy:         &actorID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	installments := make([]loandomain.Installment, 0, len(schedule))
	for _, row := range schedule {
		installments = append(installments, loandomain.Installment{
			ID:        s.genID.Generate(),
			LoanID:    loan.ID,
			Sequence:  row.Sequence,
			Amount:    row.Amount,
			DueDate:   row.DueDate.UTC(),
			CreatedAt: now,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(loan).Error; err != nil {
			return err
		}
		return tx.Create(&installments).Error
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info("loan created",
		zap.String("loan_id", loan.ID.String()),
		zap.String("technician_id", loan.TechnicianID.String()),
		zap.String("amount_total", money.Format(total)),
		zap.Int("installments", len(installments)),
	)
	if s.auditSvc != nil {
		targetID := loan.ID.String()
		if err := s.auditSvc.AuditLog(ctx, &actorID, "loan.create", "loan", &targetID, map[string]any{
			"technician_id":      loan.TechnicianID.String(),
			"amount_total":       money.Format(total),
			"installments_count": loan.InstallmentsCount,
		}); err != nil {
			s.log.Warn("loan audit failed", zap.Error(err))
		}
	}
	return loan, installments, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*loandomain.Loan, error) {
	loan, err := s.loans.FindOne(ctx, &loandomain.Loan{ID: id})
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, loandomain.ErrLoanNotFound
	}
	return loan, nil
}

func (s *Service) ListInstallments(ctx context.Context, loanID snowflake.ID) ([]loandomain.Installment, error) {
	rows, err := s.installments.Find(ctx, &loandomain.Installment{LoanID: loanID}, repository.OrderBy("sequence asc"))
	if err != nil {
		return nil, err
	}
	out := make([]loandomain.Installment, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return out, nil
}

func (s *Service) ListByTechnician(ctx context.Context, technicianID snowflake.ID) ([]loandomain.Loan, error) {
	rows, err := s.loans.Find(ctx, &loandomain.Loan{TechnicianID: technicianID}, repository.OrderBy("start_date desc"))
	if err != nil {
		return nil, err
	}
	out := make([]loandomain.Loan, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return out, nil
}

// startOfLoan pins the requested calendar date to midnight in the reference
// timezone so due dates line up with settlement weeks.
func (s *Service) startOfLoan(date time.Time) time.Time {
	loc := s.settings.Get().Location()
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
}

func (s *Service) ensureTechnician(ctx context.Context, id snowflake.ID) error {
	var user userdomain.User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return loandomain.ErrInvalidTechnician
	}
	if err != nil {
		return err
	}
	if !user.Active || !user.IsTechnician() {
		return loandomain.ErrInvalidTechnician
	}
	return nil
}
