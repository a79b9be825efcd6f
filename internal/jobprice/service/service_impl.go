package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	"github.com/smallbiznis/fieldops/internal/authorization"
	jobpricedomain "github.com/smallbiznis/fieldops/internal/jobprice/domain"
	"github.com/smallbiznis/fieldops/internal/money"
	taskdomain "github.com/smallbiznis/fieldops/internal/task/domain"
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
	Authz    authorization.Service
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	authz    authorization.Service
	auditSvc auditdomain.Service
	store    repository.Repository[jobpricedomain.JobPrice]
}

func NewService(p Params) jobpricedomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("jobprice.service"),
		genID:    p.GenID,
		authz:    p.Authz,
		auditSvc: p.AuditSvc,
		store:    repository.ProvideStore[jobpricedomain.JobPrice](p.DB),
	}
}

func (s *Service) Upsert(ctx context.Context, actorID snowflake.ID, req jobpricedomain.UpsertRequest) (*jobpricedomain.JobPrice, error) {
	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectJobPrice, authorization.ActionJobPriceManage); err != nil {
		return nil, err
	}
	if !req.TaskType.Valid() {
		return nil, jobpricedomain.ErrInvalidTaskType
	}
	if req.CompanyPrice.IsNegative() || req.TechPrice.IsNegative() {
		return nil, jobpricedomain.ErrNegativePrice
	}

	price := &jobpricedomain.JobPrice{
		ID:           s.genID.Generate(),
		TaskType:     req.TaskType,
		CompanyPrice: money.Round(req.CompanyPrice),
		TechPrice:    money.Round(req.TechPrice),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "task_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"company_price", "tech_price", "updated_at"}),
	}).Create(price).Error
	if err != nil {
		return nil, err
	}

	stored, err := s.Lookup(ctx, req.TaskType)
	if err != nil {
		return nil, err
	}
	s.emitAudit(ctx, actorID, stored)
	return stored, nil
}

func (s *Service) Lookup(ctx context.Context, taskType taskdomain.TaskType) (*jobpricedomain.JobPrice, error) {
	return s.store.FindOne(ctx, &jobpricedomain.JobPrice{TaskType: taskType})
}

func (s *Service) List(ctx context.Context) ([]jobpricedomain.JobPrice, error) {
	rows, err := s.store.Find(ctx, nil, repository.OrderBy("task_type asc"))
	if err != nil {
		return nil, err
	}
	prices := make([]jobpricedomain.JobPrice, 0, len(rows))
	for _, row := range rows {
		prices = append(prices, *row)
	}
	return prices, nil
}

func (s *Service) emitAudit(ctx context.Context, actorID snowflake.ID, price *jobpricedomain.JobPrice) {
	if s.auditSvc == nil || price == nil {
		return
	}
	targetID := price.ID.String()
	if err := s.auditSvc.AuditLog(ctx, &actorID, "job_price.upsert", "job_price", &targetID, map[string]any{
		"task_type":     string(price.TaskType),
		"company_price": money.Format(price.CompanyPrice),
		"tech_price":    money.Format(price.TechPrice),
	}); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("job price audit failed", zap.Error(err))
	}
}
