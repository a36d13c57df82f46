package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolConfig(t *testing.T) {
	cfg, err := PoolConfig("postgres://u:p@localhost:5432/ledger?sslmode=disable", 7)
	require.NoError(t, err)
	assert.Equal(t, int32(7), cfg.MaxConns)
	assert.Equal(t, "mfgerp", cfg.ConnConfig.RuntimeParams["application_name"])

	cfg, err = PoolConfig("postgres://u:p@localhost:5432/ledger?application_name=reporting", 0)
	require.NoError(t, err)
	assert.Equal(t, "reporting", cfg.ConnConfig.RuntimeParams["application_name"])

	_, err = PoolConfig("postgres://%zz", 1)
	assert.Error(t, err)
}
