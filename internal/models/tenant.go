package models

import "time"

// Tenant represents a company (workspace). All tenant-scoped data lives under
// tenants/{ID} in the document store.
type Tenant struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"displayName"`
	CreatedBy   string         `json:"createdBy"` // principal id, immutable after creation
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	Settings    TenantSettings `json:"settings"`

	// IsDefault marks the tenant created by bootstrap for a principal with none.
	IsDefault bool `json:"isDefault,omitempty"`
}

// TenantSettings is opaque to the access layer apart from Currency, which the
// legacy migration uses as a default for records that lack one.
type TenantSettings struct {
	Country  string             `json:"country,omitempty"`
	Currency string             `json:"currency,omitempty"`
	TaxRates map[string]float64 `json:"taxRates,omitempty"`
}

// TenantIndexEntry is the reverse index row principals/{principalId}/tenantIndex/{tenantId},
// written in the same batch as the membership it mirrors.
type TenantIndexEntry struct {
	TenantID string    `json:"tenantId"`
	Role     Role      `json:"role"`
	AddedAt  time.Time `json:"addedAt"`
}
