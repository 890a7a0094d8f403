package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAssetStoreConfigDefaults(t *testing.T) {
	cfg := &AssetStoreConfig{}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 10*time.Second, cfg.queryTimeout())

	cfg = &AssetStoreConfig{QueryTimeoutSeconds: -1}
	cfg.ApplyDefaults()
	require.Zero(t, cfg.queryTimeout())

	cfg = &AssetStoreConfig{QueryTimeoutSeconds: 301}
	require.Error(t, cfg.Validate())
}

func TestPoolConfigDefaults(t *testing.T) {
	cfg := &PoolConfig{}
	require.Error(t, cfg.Validate())

	cfg.ApplyDefaults()
	require.Equal(t, int32(20), cfg.MaxConns)
	require.Equal(t, int32(5), cfg.MinConns)
	require.Equal(t, int32(60), cfg.StartupTimeout)

	cfg = &PoolConfig{ConnString: "postgres://localhost/qrtrack", MaxConns: 4}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	require.Equal(t, int32(4), cfg.MaxConns)
}
