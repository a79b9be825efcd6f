// Package authorizationtest provides authorization gates for service tests.
package authorizationtest

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldops/internal/authorization"
	"github.com/stretchr/testify/mock"
)

// Mock records Authorize calls. Configure it with
// m.On("Authorize", mock.Anything, actorID, object, action).Return(nil).
type Mock struct {
	mock.Mock
}

func (m *Mock) Authorize(ctx context.Context, actorID snowflake.ID, object string, action string) error {
	args := m.Called(ctx, actorID, object, action)
	return args.Error(0)
}

type allowAll struct{}

func (allowAll) Authorize(context.Context, snowflake.ID, string, string) error { return nil }

// AllowAll returns a gate that permits every action.
func AllowAll() authorization.Service { return allowAll{} }

// Deny returns a mock that rejects one action and allows the rest.
func Deny(object, action string) *Mock {
	m := &Mock{}
	m.On("Authorize", mock.Anything, mock.Anything, object, action).Return(authorization.ErrForbidden)
	m.On("Authorize", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	return m
}
