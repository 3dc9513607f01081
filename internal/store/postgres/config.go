package postgres

import "fmt"

// DocumentStoreConfig holds document-store settings. Pool configuration is
// handled separately via PoolConfig.
type DocumentStoreConfig struct {
	// QueryTimeoutSeconds bounds every statement issued by the store.
	// Default: 10 seconds
	// Set to a negative value to rely on context timeouts only.
	QueryTimeoutSeconds int32

	// AutoMigrate runs the embedded migrations when the store is created.
	AutoMigrate bool
}

// Validate checks that the configuration is valid.
func (c *DocumentStoreConfig) Validate() error {
	if c.QueryTimeoutSeconds > 300 {
		return fmt.Errorf("query timeout must be at most 300 seconds, got %d", c.QueryTimeoutSeconds)
	}
	return nil
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *DocumentStoreConfig) ApplyDefaults() {
	if c.QueryTimeoutSeconds == 0 {
		c.QueryTimeoutSeconds = 10
	}
}
