package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct{ id string }

func TestBuildCursorPageInfo(t *testing.T) {
	rows := []*row{{"1"}, {"2"}, {"3"}}

	page, info := BuildCursorPageInfo(rows, 2, func(r *row) string { return r.id })
	require.Len(t, page, 2)
	assert.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, "2", cursor.ID)

	page, info = BuildCursorPageInfo(rows, 5, func(r *row) string { return r.id })
	assert.Len(t, page, 3)
	assert.False(t, info.HasMore)
}
