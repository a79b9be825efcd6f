package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldops/internal/apperror"
)

type CreateUserRequest struct {
	Name  string `json:"name" validate:"required,max=128"`
	Email string `json:"email" validate:"required,email"`
	Role  Role   `json:"role" validate:"required"`
}

type Service interface {
	Create(ctx context.Context, req CreateUserRequest) (*User, error)
	Get(ctx context.Context, id snowflake.ID) (*User, error)
	ListTechnicians(ctx context.Context, activeOnly bool) ([]User, error)
	Deactivate(ctx context.Context, id snowflake.ID) error
}

var (
	ErrUserNotFound  = apperror.NotFound("user_not_found", "user not found")
	ErrInvalidRole   = apperror.Validation("invalid_role", "unknown role")
	ErrInvalidUser   = apperror.Validation("invalid_user", "name and a valid email are required")
	ErrEmailTaken    = apperror.Conflict("email_taken", "email already registered")
	ErrNotTechnician = apperror.Validation("not_technician", "user is not an active technician")
)
