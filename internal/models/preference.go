package models

import "time"

// Preference is the per-principal selection hint kept outside the document
// store. It biases tenant selection and never grants access.
type Preference struct {
	LastTenantID  string    `json:"lastTenantId" yaml:"last_tenant_id"`
	SeenTenantIDs []string  `json:"seenTenantIds" yaml:"seen_tenant_ids"`
	UpdatedAt     time.Time `json:"updatedAt" yaml:"updated_at"`
}
