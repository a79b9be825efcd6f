package db

import (
	"testing"

	"github.com/smallbiznis/fieldops/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectByType(t *testing.T) {
	for _, typ := range []string{TypePostgres, TypeMySQL, TypeSQLite} {
		d, err := Dialect(config.Config{DBType: typ, DBPath: "file::memory:", AppName: "fieldops"})
		require.NoError(t, err, typ)
		assert.Equal(t, typ, d.Name())
	}
}

func TestDialectRejectsUnknownType(t *testing.T) {
	_, err := Dialect(config.Config{DBType: "oracle"})
	assert.ErrorContains(t, err, "oracle")
}
