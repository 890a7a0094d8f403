package postgres

import (
	"fmt"
	"time"
)

// AssetStoreConfig holds asset-specific configuration for the PostgreSQL asset store.
// Pool configuration is handled separately via PoolConfig.
type AssetStoreConfig struct {
	// QueryTimeoutSeconds is the maximum time a single store call can run before timing out.
	// Default: 10 seconds
	// Set to a negative value to use context timeouts only (no additional timeout)
	QueryTimeoutSeconds int32

	// AutoMigrate runs the embedded schema migrations when the store is created.
	AutoMigrate bool
}

// Validate checks that the configuration is valid.
func (c *AssetStoreConfig) Validate() error {
	if c.QueryTimeoutSeconds > 300 {
		return fmt.Errorf("query timeout must be at most 300 seconds, got %d", c.QueryTimeoutSeconds)
	}
	return nil
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *AssetStoreConfig) ApplyDefaults() {
	if c.QueryTimeoutSeconds == 0 {
		c.QueryTimeoutSeconds = 10 // 10 seconds
	}
}

func (c *AssetStoreConfig) queryTimeout() time.Duration {
	if c.QueryTimeoutSeconds < 0 {
		return 0
	}
	return time.Duration(c.QueryTimeoutSeconds) * time.Second
}
