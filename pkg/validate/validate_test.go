package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type completeInput struct {
	EndLat float64 `json:"end_lat" validate:"latitude"`
	Notes  string  `json:"notes" validate:"max=5"`
}

func TestFieldErrorsUsesJSONNames(t *testing.T) {
	err := New().Struct(completeInput{EndLat: 123, Notes: "too long"})
	require.Error(t, err)

	fields := FieldErrors(err)
	assert.Equal(t, "latitude", fields["end_lat"])
	assert.Equal(t, "max", fields["notes"])
	assert.Nil(t, FieldErrors(nil))
}
