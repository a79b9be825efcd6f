package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fieldops/internal/apperror"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	"github.com/smallbiznis/fieldops/internal/authorization"
	"github.com/smallbiznis/fieldops/internal/clock"
	"github.com/smallbiznis/fieldops/internal/config"
	invoicedomain "github.com/smallbiznis/fieldops/internal/invoice/domain"
	"github.com/smallbiznis/fieldops/internal/invoice/format"
	"github.com/smallbiznis/fieldops/internal/invoice/render"
	"github.com/smallbiznis/fieldops/internal/money"
	"github.com/smallbiznis/fieldops/internal/observability/logger"
	"github.com/smallbiznis/fieldops/internal/observability/metrics"
	"github.com/smallbiznis/fieldops/internal/observability/tracing"
	"github.com/smallbiznis/fieldops/internal/period"
	"github.com/smallbiznis/fieldops/internal/settlementlock"
	taskdomain "github.com/smallbiznis/fieldops/internal/task/domain"
	"github.com/smallbiznis/fieldops/pkg/db"
	"github.com/smallbiznis/fieldops/pkg/repository"
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
	Validate *validator.Validate
	Authz    authorization.Service
	Settings *config.SettlementConfigHolder
	Guard    settlementlock.Guard
	Renderer render.Renderer

	AuditSvc          auditdomain.Service        `optional:"true"`
	Metrics           *metrics.Metrics           `optional:"true"`
	SettlementMetrics *metrics.SettlementMetrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	validate *validator.Validate
	authz    authorization.Service
	settings *config.SettlementConfigHolder
	guard    settlementlock.Guard
	renderer render.Renderer

	invoicerepo repository.Repository[invoicedomain.CompanyInvoice]

	auditSvc          auditdomain.Service
	metrics           *metrics.Metrics
	settlementMetrics *metrics.SettlementMetrics
}

func NewService(p Params) invoicedomain.Service {
	guard := p.Guard
	if guard == nil {
		guard = settlementlock.Noop()
	}
	renderer := p.Renderer
	if renderer == nil {
		renderer = render.NewRenderer()
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("invoice.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		validate: p.Validate,
		authz:    p.Authz,
		settings: p.Settings,
		guard:    guard,
		renderer: renderer,

		invoicerepo: repository.ProvideStore[invoicedomain.CompanyInvoice](p.DB),

		auditSvc:          p.AuditSvc,
		metrics:           p.Metrics,
		settlementMetrics: p.SettlementMetrics,
	}
}

// Generate bills every approved, billable and unclaimed task completed in
// the week. The tasks are read under row locks and claimed in the same
// transaction that creates the invoice, so a concurrent run for the same
// week either waits for this one or finds nothing left to bill.
func (s *Service) Generate(ctx context.Context, actorID snowflake.ID, req invoicedomain.GenerateRequest) (invoice *invoicedomain.CompanyInvoice, err error) {
	start := time.Now()
	defer func() {
		s.settlementMetrics.Observe(metrics.OperationInvoiceGenerate, start, err)
		s.metrics.RecordSettlementRun(ctx, metrics.OperationInvoiceGenerate, outcome(err))
	}()

	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectInvoice, authorization.ActionInvoiceGenerate); err != nil {
		return nil, err
	}
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, apperror.Wrap(invoicedomain.ErrInvalidPeriod, err)
	}
	cfg := s.settings.Get()
	week, err := period.Resolve(req.Year, req.Week, cfg.Location())
	if err != nil {
		return nil, err
	}
	log := logger.ForSettlement(ctx, s.log, "invoice", week.Label())
	ctx, endSpan := tracing.StartSettlement(ctx, metrics.OperationInvoiceGenerate, week.Label())
	defer func() { endSpan(err) }()

	release, err := s.guard.Acquire(ctx, settlementlock.InvoiceKey(week.Label()))
	if err != nil {
		return nil, err
	}
	defer release()

	from, to := week.UTC()
	err = db.Locked(ctx, s.db, cfg.LockWait, true, func(tx *gorm.DB) error {
		lockStart := time.Now()
		var tasks []taskdomain.Task
		err := db.ForUpdate(tx).
			Where("status = ?", taskdomain.StatusApproved).
			Where("financial_status = ?", taskdomain.FinancialStatusBillable).
			Where("company_invoice_id IS NULL").
			Where("completion_date BETWEEN ? AND ?", from, to).
			Order("id asc").
			Find(&tasks).Error
		if err != nil {
			return err
		}
		s.settlementMetrics.ObserveLockWait(metrics.LockResourceUnbilledTasks, time.Since(lockStart))
		if len(tasks) == 0 {
			return apperror.WithMessage(invoicedomain.ErrNoBillableTasks,
				fmt.Sprintf("no billable tasks found for week %s", week.Label()))
		}

		ids := make([]snowflake.ID, 0, len(tasks))
		prices := make([]decimal.Decimal, 0, len(tasks))
		for _, t := range tasks {
			ids = append(ids, t.ID)
			prices = append(prices, t.CompanyPrice)
		}

		seq, err := s.nextSequence(tx)
		if err != nil {
			return err
		}
		number, err := format.InvoiceNumber(cfg.InvoiceNumberFormat(), week, seq)
		if err != nil {
			return apperror.Wrap(invoicedomain.ErrInvalidNumberFormat, err)
		}

		now := s.clock.Now()
		created := &invoicedomain.CompanyInvoice{
			ID:            s.genID.Generate(),
			InvoiceNumber: number,
			Week:          week.Week,
			Year:          week.Year,
			PeriodStart:   from,
			PeriodEnd:     to,
			TotalAmount:   money.Sum(prices...),
			TaskCount:     len(tasks),
			Status:        invoicedomain.StatusDraft,
			CreatedBy:     actorID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.invoicerepo.WithTrx(tx).Create(ctx, created); err != nil {
			return err
		}

		res := tx.Model(&taskdomain.Task{}).
			Where("id IN ?", ids).
			Where("company_invoice_id IS NULL").
			UpdateColumn("company_invoice_id", created.ID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != int64(len(ids)) {
			return apperror.WithMessage(invoicedomain.ErrNoBillableTasks, "billable tasks were claimed concurrently")
		}
		invoice = created
		return nil
	})
	if err != nil {
		if !errors.Is(err, invoicedomain.ErrNoBillableTasks) {
			log.Error("invoice generation failed", zap.Error(err))
		}
		return nil, err
	}

	s.settlementMetrics.AddTasksClaimed(metrics.OperationInvoiceGenerate, invoice.TaskCount)
	s.metrics.RecordSettledAmount(ctx, metrics.OperationInvoiceGenerate, invoice.TotalAmount)
	log.Info("invoice generated",
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.Int("task_count", invoice.TaskCount),
		zap.String("total_amount", money.Format(invoice.TotalAmount)),
	)
	s.emitAudit(ctx, actorID, "invoice.generate", invoice, map[string]any{
		"invoice_number": invoice.InvoiceNumber,
		"task_count":     invoice.TaskCount,
		"total_amount":   money.Format(invoice.TotalAmount),
	})
	return invoice, nil
}

func (s *Service) MarkSent(ctx context.Context, actorID, id snowflake.ID) (*invoicedomain.CompanyInvoice, error) {
	return s.transition(ctx, actorID, id, invoicedomain.StatusDraft, invoicedomain.StatusSent)
}

func (s *Service) MarkPaid(ctx context.Context, actorID, id snowflake.ID) (*invoicedomain.CompanyInvoice, error) {
	return s.transition(ctx, actorID, id, invoicedomain.StatusSent, invoicedomain.StatusPaid)
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*invoicedomain.CompanyInvoice, error) {
	invoice, err := s.invoicerepo.FindOne(ctx, &invoicedomain.CompanyInvoice{ID: id})
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return invoice, nil
}

// ListTasks returns the tasks billed on the invoice.
func (s *Service) ListTasks(ctx context.Context, id snowflake.ID) ([]taskdomain.Task, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	var tasks []taskdomain.Task
	err := s.db.WithContext(ctx).
		Where("company_invoice_id = ?", id).
		Order("completion_date asc, id asc").
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *Service) RenderHTML(ctx context.Context, id snowflake.ID) (string, error) {
	invoice, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	tasks, err := s.ListTasks(ctx, id)
	if err != nil {
		return "", err
	}

	loc := s.settings.Get().Location()
	lines := make([]render.Line, 0, len(tasks))
	for _, t := range tasks {
		line := render.Line{Title: t.Title, Address: t.Address, Amount: t.CompanyPrice}
		if t.CompletionDate != nil {
			line.CompletedAt = t.CompletionDate.In(loc)
		}
		lines = append(lines, line)
	}

	return s.renderer.RenderHTML(render.Input{
		CompanyName: s.settings.Get().CompanyName,
		Number:      invoice.InvoiceNumber,
		Status:      string(invoice.Status),
		Week:        invoice.Week,
		Year:        invoice.Year,
		PeriodStart: invoice.PeriodStart.In(loc),
		PeriodEnd:   invoice.PeriodEnd.In(loc),
		Total:       invoice.TotalAmount,
		Lines:       lines,
	})
}

// nextSequence increments the company invoice counter under a row lock.
func (s *Service) nextSequence(tx *gorm.DB) (int64, error) {
	lockStart := time.Now()
	err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&invoicedomain.InvoiceCounter{Name: invoicedomain.CounterCompany, Value: 0}).Error
	if err != nil {
		return 0, err
	}
	var counter invoicedomain.InvoiceCounter
	if err := db.ForUpdate(tx).Where("name = ?", invoicedomain.CounterCompany).First(&counter).Error; err != nil {
		return 0, err
	}
	s.settlementMetrics.ObserveLockWait(metrics.LockResourceInvoiceCounter, time.Since(lockStart))

	counter.Value++
	err = tx.Model(&invoicedomain.InvoiceCounter{}).
		Where("name = ?", counter.Name).
		UpdateColumn("value", counter.Value).Error
	if err != nil {
		return 0, err
	}
	return counter.Value, nil
}

func (s *Service) transition(ctx context.Context, actorID, id snowflake.ID, from, to invoicedomain.Status) (*invoicedomain.CompanyInvoice, error) {
	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectInvoice, authorization.ActionInvoiceUpdate); err != nil {
		return nil, err
	}

	var invoice invoicedomain.CompanyInvoice
	err := db.Locked(ctx, s.db, s.settings.Get().LockWait, false, func(tx *gorm.DB) error {
		if err := db.ForUpdate(tx).Where("id = ?", id).First(&invoice).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return invoicedomain.ErrInvoiceNotFound
			}
			return err
		}
		if invoice.Status != from {
			return apperror.WithMessage(invoicedomain.ErrInvalidStatus,
				fmt.Sprintf("invoice %s is %s, expected %s", invoice.InvoiceNumber, invoice.Status, from))
		}

		now := s.clock.Now()
		invoice.Status = to
		invoice.UpdatedAt = now
		switch to {
		case invoicedomain.StatusSent:
			invoice.SentAt = &now
		case invoicedomain.StatusPaid:
			invoice.PaidAt = &now
		}
		return s.invoicerepo.WithTrx(tx).Save(ctx, &invoice)
	})
	if err != nil {
		return nil, err
	}

	s.emitAudit(ctx, actorID, "invoice."+string(to), &invoice, map[string]any{
		"invoice_number": invoice.InvoiceNumber,
		"from":           string(from),
		"to":             string(to),
	})
	return &invoice, nil
}

func (s *Service) emitAudit(ctx context.Context, actorID snowflake.ID, action string, invoice *invoicedomain.CompanyInvoice, metadata map[string]any) {
	if s.auditSvc == nil || invoice == nil {
		return
	}
	targetID := invoice.ID.String()
	if err := s.auditSvc.AuditLog(ctx, &actorID, action, "company_invoice", &targetID, metadata); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("invoice audit failed", zap.String("action", action), zap.Error(err))
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
