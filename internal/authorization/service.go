package authorization

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldops/internal/apperror"
)

// Service is the capability gate consulted before every settlement action.
type Service interface {
	Authorize(ctx context.Context, actorID snowflake.ID, object string, action string) error
}

var (
	ErrForbidden     = apperror.Authorization("forbidden", "actor lacks the required capability")
	ErrInvalidActor  = apperror.Authorization("invalid_actor", "unknown or inactive actor")
	ErrInvalidObject = apperror.Validation("invalid_object", "authorization object is required")
	ErrInvalidAction = apperror.Validation("invalid_action", "authorization action is required")
)
