package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	userdomain "github.com/smallbiznis/fieldops/internal/user/domain"
	"github.com/smallbiznis/fieldops/pkg/db"
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
	Validate *validator.Validate
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	validate *validator.Validate
	store    repository.Repository[userdomain.User]
}

func NewService(p Params) userdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("user.service"),
		genID:    p.GenID,
		validate: p.Validate,
		store:    repository.ProvideStore[userdomain.User](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req userdomain.CreateUserRequest) (*userdomain.User, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, userdomain.ErrInvalidUser
	}
	if !req.Role.Valid() {
		return nil, userdomain.ErrInvalidRole
	}

	user := &userdomain.User{
		ID:     s.genID.Generate(),
		Name:   req.Name,
		Email:  req.Email,
		Role:   req.Role,
		Active: true,
	}
	if err := s.store.Create(ctx, user); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, userdomain.ErrEmailTaken
		}
		return nil, err
	}

	s.log.Info("user created", zap.String("user_id", user.ID.String()), zap.String("role", string(user.Role)))
	return user, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*userdomain.User, error) {
	user, err := s.store.FindOne(ctx, &userdomain.User{ID: id})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrUserNotFound
	}
	return user, nil
}

func (s *Service) ListTechnicians(ctx context.Context, activeOnly bool) ([]userdomain.User, error) {
	opts := []repository.QueryOption{repository.OrderBy("id asc")}
	if activeOnly {
		opts = append(opts, repository.Where("active = ?", true))
	}
	rows, err := s.store.Find(ctx, &userdomain.User{Role: userdomain.RoleTechnician}, opts...)
	if err != nil {
		return nil, err
	}
	users := make([]userdomain.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, *row)
	}
	return users, nil
}

func (s *Service) Deactivate(ctx context.Context, id snowflake.ID) error {
	res := s.db.WithContext(ctx).Model(&userdomain.User{}).Where("id = ?", id).Update("active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return userdomain.ErrUserNotFound
	}
	return nil
}
