package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/fieldops/internal/apperror"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	"github.com/smallbiznis/fieldops/internal/authorization"
	"github.com/smallbiznis/fieldops/internal/clock"
	"github.com/smallbiznis/fieldops/internal/config"
	inventorydomain "github.com/smallbiznis/fieldops/internal/inventory/domain"
	jobpricedomain "github.com/smallbiznis/fieldops/internal/jobprice/domain"
	"github.com/smallbiznis/fieldops/internal/money"
	"github.com/smallbiznis/fieldops/internal/observability/metrics"
	taskdomain "github.com/smallbiznis/fieldops/internal/task/domain"
	userdomain "github.com/smallbiznis/fieldops/internal/user/domain"
	"github.com/smallbiznis/fieldops/pkg/db"
	"github.com/smallbiznis/fieldops/pkg/db/pagination"
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
	Ledger   inventorydomain.Ledger
	Settings *config.SettlementConfigHolder

	Prices   jobpricedomain.Service `optional:"true"`
	AuditSvc auditdomain.Service    `optional:"true"`
	Metrics  *metrics.Metrics       `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	validate *validator.Validate
	authz    authorization.Service
	ledger   inventorydomain.Ledger
	settings *config.SettlementConfigHolder

	prices   jobpricedomain.Service
	auditSvc auditdomain.Service
	metrics  *metrics.Metrics
}

func NewService(p Params) taskdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("task.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		validate: p.Validate,
		authz:    p.Authz,
		ledger:   p.Ledger,
		settings: p.Settings,

		prices:   p.Prices,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

// Create imports a task. Prices default from the job price table and the
// pricing formula then overwrites tech_price.
func (s *Service) Create(ctx context.Context, actorID snowflake.ID, req taskdomain.CreateTaskRequest) (*taskdomain.Task, error) {
	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectTask, authorization.ActionTaskCreate); err != nil {
		return nil, err
	}
	req.Title = strings.TrimSpace(req.Title)
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, apperror.Wrap(taskdomain.ErrInvalidTask, err)
	}
	if !req.TaskType.Valid() {
		return nil, taskdomain.ErrInvalidTaskType
	}
	financial := req.FinancialStatus
	if financial == "" {
		financial = taskdomain.FinancialStatusBillable
	}
	if !financial.Valid() {
		return nil, taskdomain.ErrInvalidFinancial
	}

	now := s.clock.Now()
	task := &taskdomain.Task{
		ID:              s.genID.Generate(),
		Title:           req.Title,
		Address:         strings.TrimSpace(req.Address),
		TaskType:        req.TaskType,
		Status:          taskdomain.StatusPending,
		FinancialStatus: financial,
		ScheduledDate:   utcPtr(req.ScheduledDate),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if s.prices != nil {
		price, err := s.prices.Lookup(ctx, req.TaskType)
		if err != nil {
			return nil, err
		}
		if price != nil {
			task.CompanyPrice = price.CompanyPrice
			task.TechPrice = price.TechPrice
		}
	}
	if req.CompanyPrice != nil {
		if req.CompanyPrice.IsNegative() {
			return nil, taskdomain.ErrNegativePrice
		}
		task.CompanyPrice = money.Round(*req.CompanyPrice)
	}

	if req.AssignedTechID != nil {
		if err := s.ensureTechnician(ctx, *req.AssignedTechID); err != nil {
			return nil, err
		}
		techID := *req.AssignedTechID
		task.AssignedTechID = &techID
		task.Status = taskdomain.StatusAssigned
	}

	taskdomain.ApplyPricing(task, nil)
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return nil, err
	}

	s.emitAudit(ctx, actorID, "task.create", task, map[string]any{
		"task_type":     string(task.TaskType),
		"company_price": money.Format(task.CompanyPrice),
		"tech_price":    money.Format(task.TechPrice),
	})
	return task, nil
}

// Update patches editable fields and re-applies the pricing formula, which
// may change tech_price.
func (s *Service) Update(ctx context.Context, actorID, id snowflake.ID, req taskdomain.UpdateTaskRequest) (*taskdomain.Task, error) {
	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectTask, authorization.ActionTaskUpdate); err != nil {
		return nil, err
	}
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, apperror.Wrap(taskdomain.ErrInvalidTask, err)
	}
	if req.TaskType != nil && !req.TaskType.Valid() {
		return nil, taskdomain.ErrInvalidTaskType
	}
	if req.FinancialStatus != nil && !req.FinancialStatus.Valid() {
		return nil, taskdomain.ErrInvalidFinancial
	}
	if req.CompanyPrice != nil && req.CompanyPrice.IsNegative() {
		return nil, taskdomain.ErrNegativePrice
	}

	var updated *taskdomain.Task
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		task, err := s.lockTask(tx, id)
		if err != nil {
			return err
		}
		if task.Claimed() {
			return taskdomain.ErrTaskClaimed
		}
		if req.Title != nil {
			task.Title = strings.TrimSpace(*req.Title)
		}
		if req.Address != nil {
			task.Address = strings.TrimSpace(*req.Address)
		}
		if req.TaskType != nil {
			task.TaskType = *req.TaskType
		}
		if req.FinancialStatus != nil {
			task.FinancialStatus = *req.FinancialStatus
		}
		if req.ScheduledDate != nil {
			task.ScheduledDate = utcPtr(req.ScheduledDate)
		}
		if req.CompanyPrice != nil {
			task.CompanyPrice = money.Round(*req.CompanyPrice)
		}

		detail, _, err := s.loadDetail(tx, task.ID)
		if err != nil {
			return err
		}
		if err := s.persist(tx, task, detail); err != nil {
			return err
		}
		updated = task
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitAudit(ctx, actorID, "task.update", updated, map[string]any{
		"task_type":     string(updated.TaskType),
		"company_price": money.Format(updated.CompanyPrice),
		"tech_price":    money.Format(updated.TechPrice),
	})
	return updated, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*taskdomain.Task, *taskdomain.TaskDetail, error) {
	var task taskdomain.Task
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, taskdomain.ErrTaskNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	detail, found, err := s.loadDetail(s.db.WithContext(ctx), id)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		detail = nil
	}
	return &task, detail, nil
}

func (s *Service) List(ctx context.Context, req taskdomain.ListTasksRequest) (taskdomain.ListTasksResponse, error) {
	limit := req.PageSize
	if limit <= 0 || limit > 250 {
		limit = 50
	}

	query := s.db.WithContext(ctx).Model(&taskdomain.Task{})
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}
	if req.AssignedTechID != nil {
		query = query.Where("assigned_tech_id = ?", *req.AssignedTechID)
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return taskdomain.ListTasksResponse{}, taskdomain.ErrInvalidPageToken
		}
		afterID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return taskdomain.ListTasksResponse{}, taskdomain.ErrInvalidPageToken
		}
		query = query.Where("id < ?", afterID)
	}

	var rows []*taskdomain.Task
	if err := query.Order("id desc").Limit(limit + 1).Find(&rows).Error; err != nil {
		return taskdomain.ListTasksResponse{}, err
	}
	rows, pageInfo := pagination.BuildCursorPageInfo(rows, limit, func(t *taskdomain.Task) string {
		return strconv.FormatInt(t.ID.Int64(), 10)
	})

	tasks := make([]taskdomain.Task, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, *row)
	}
	resp := taskdomain.ListTasksResponse{Tasks: tasks}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) Delete(ctx context.Context, actorID, id snowflake.ID) error {
	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectTask, authorization.ActionTaskDelete); err != nil {
		return err
	}
	var deleted *taskdomain.Task
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		task, err := s.lockTask(tx, id)
		if err != nil {
			return err
		}
		if task.Claimed() {
			return taskdomain.ErrTaskClaimed
		}
		if err := tx.Delete(task).Error; err != nil {
			return err
		}
		deleted = task
		return nil
	})
	if err != nil {
		return err
	}
	s.emitAudit(ctx, actorID, "task.delete", deleted, nil)
	return nil
}

func (s *Service) Restore(ctx context.Context, actorID, id snowflake.ID) (*taskdomain.Task, error) {
	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectTask, authorization.ActionTaskRestore); err != nil {
		return nil, err
	}
	var restored *taskdomain.Task
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		var task taskdomain.Task
		err := db.ForUpdate(tx.Unscoped()).Where("id = ?", id).First(&task).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return taskdomain.ErrTaskNotFound
		}
		if err != nil {
			return err
		}
		if !task.DeletedAt.Valid {
			return taskdomain.ErrTaskNotDeleted
		}
		if err := tx.Unscoped().Model(&taskdomain.Task{}).Where("id = ?", id).Update("deleted_at", nil).Error; err != nil {
			return err
		}
		task.DeletedAt = gorm.DeletedAt{}
		restored = &task
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emitAudit(ctx, actorID, "task.restore", restored, nil)
	return restored, nil
}

func (s *Service) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return db.Locked(ctx, s.db, s.settings.Get().LockWait, false, fn)
}

func (s *Service) lockTask(tx *gorm.DB, id snowflake.ID) (*taskdomain.Task, error) {
	var task taskdomain.Task
	err := db.ForUpdate(tx).Where("id = ?", id).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, taskdomain.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// loadDetail returns the task's detail, or a blank one when none exists yet.
func (s *Service) loadDetail(tx *gorm.DB, taskID snowflake.ID) (*taskdomain.TaskDetail, bool, error) {
	var detail taskdomain.TaskDetail
	err := tx.Where("task_id = ?", taskID).First(&detail).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &taskdomain.TaskDetail{TaskID: taskID}, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &detail, true, nil
}

// persist is the single write path for tasks: the pricing formula runs
// before every save.
func (s *Service) persist(tx *gorm.DB, task *taskdomain.Task, detail *taskdomain.TaskDetail) error {
	taskdomain.ApplyPricing(task, detail)
	task.UpdatedAt = s.clock.Now()
	return tx.Save(task).Error
}

func (s *Service) saveDetail(tx *gorm.DB, detail *taskdomain.TaskDetail, exists bool) error {
	detail.UpdatedAt = s.clock.Now()
	if exists {
		return tx.Save(detail).Error
	}
	return tx.Create(detail).Error
}

func (s *Service) ensureTechnician(ctx context.Context, id snowflake.ID) error {
	var user userdomain.User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return taskdomain.ErrInvalidTechnician
	}
	if err != nil {
		return err
	}
	if !user.Active || !user.IsTechnician() {
		return taskdomain.ErrInvalidTechnician
	}
	return nil
}

func (s *Service) emitAudit(ctx context.Context, actorID snowflake.ID, action string, task *taskdomain.Task, metadata map[string]any) {
	if s.auditSvc == nil || task == nil {
		return
	}
	targetID := task.ID.String()
	if err := s.auditSvc.AuditLog(ctx, &actorID, action, "task", &targetID, metadata); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("task audit failed", zap.String("action", action), zap.Error(err))
	}
}
