package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	ctx := WithRequestID(context.Background(), " req-1 ")
	ctx = WithActor(ctx, "dispatcher", "42")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	role, id := ActorFromContext(ctx)
	assert.Equal(t, "dispatcher", role)
	assert.Equal(t, "42", id)

	role, id = ActorFromContext(context.Background())
	assert.Empty(t, role)
	assert.Empty(t, id)
}
