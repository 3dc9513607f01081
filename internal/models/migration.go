package models

import "time"

// LegacyRecord is a pre-tenant record (for example an expense) owned directly
// by a principal at principals/{principalId}/legacyRecords/{ID}.
type LegacyRecord struct {
	ID      string
	Payload map[string]any
}

// MigrationState is the singleton document tenants/{tenantId}/migrationState.
type MigrationState struct {
	ExpensesMigrated bool       `json:"expensesMigrated"`
	SourceCount      int        `json:"sourceCount"`
	MigratedCount    int        `json:"migratedCount"`
	ErrorCount       int        `json:"errorCount"`
	MigratedAt       *time.Time `json:"migratedAt,omitempty"`
	PrincipalID      string     `json:"principalId,omitempty"`
}
