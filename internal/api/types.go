package api

import (
	"time"

	"github.com/wolfeidau/tenancy/internal/models"
	"github.com/wolfeidau/tenancy/internal/tenancy"
)

type tenantResponse struct {
	ID          string                `json:"id"`
	DisplayName string                `json:"displayName"`
	CreatedBy   string                `json:"createdBy"`
	CreatedAt   time.Time             `json:"createdAt"`
	IsDefault   bool                  `json:"isDefault"`
	Settings    models.TenantSettings `json:"settings"`
}

type resolvedTenantResponse struct {
	tenantResponse
	Role         models.Role `json:"role"`
	Capabilities []string    `json:"capabilities"`
	Tier         string      `json:"tier"`
	JoinedAt     time.Time   `json:"joinedAt"`
	Creator      bool        `json:"creator"`
}

type accessResponse struct {
	TenantID     string      `json:"tenantId"`
	Role         models.Role `json:"role"`
	Capabilities []string    `json:"capabilities"`
	Tier         string      `json:"tier"`
}

type migrationResponse struct {
	TenantID      string `json:"tenantId"`
	SourceCount   int    `json:"sourceCount"`
	MigratedCount int    `json:"migratedCount"`
	ErrorCount    int    `json:"errorCount"`
	Skipped       bool   `json:"skipped"`
	Repaired      bool   `json:"repaired"`
}

type verificationResponse struct {
	TenantID            string                `json:"tenantId"`
	Exists              bool                  `json:"exists"`
	State               models.MigrationState `json:"state"`
	ActualMigratedCount int                   `json:"actualMigratedCount"`
	Consistent          bool                  `json:"consistent"`
	NeedsRerun          bool                  `json:"needsRerun"`
}

type selectionResponse struct {
	Current      accessResponse           `json:"current"`
	Tenants      []resolvedTenantResponse `json:"tenants"`
	Bootstrapped bool                     `json:"bootstrapped"`
	Migration    *migrationResponse       `json:"migration,omitempty"`
}

type currentResponse struct {
	TenantID string `json:"tenantId,omitempty"`
}

type tenantListResponse struct {
	Tenants []resolvedTenantResponse `json:"tenants"`
}

type switchRequest struct {
	TenantID string `json:"tenantId"`
}

type createTenantRequest struct {
	Name     string                `json:"name"`
	Settings models.TenantSettings `json:"settings"`
}

type renameTenantRequest struct {
	Name string `json:"name"`
}

func newTenantResponse(t *models.Tenant) tenantResponse {
	return tenantResponse{
		ID:          t.ID,
		DisplayName: t.DisplayName,
		CreatedBy:   t.CreatedBy,
		CreatedAt:   t.CreatedAt,
		IsDefault:   t.IsDefault,
		Settings:    t.Settings,
	}
}

func newResolvedTenantsResponse(tenants []tenancy.ResolvedTenant) []resolvedTenantResponse {
	out := make([]resolvedTenantResponse, 0, len(tenants))
	for _, rt := range tenants {
		out = append(out, resolvedTenantResponse{
			tenantResponse: newTenantResponse(&rt.Tenant),
			Role:           rt.Role,
			Capabilities:   rt.Capabilities,
			Tier:           rt.Tier,
			JoinedAt:       rt.JoinedAt,
			Creator:        rt.Creator,
		})
	}
	return out
}

func newAccessResponse(a *tenancy.Access) accessResponse {
	return accessResponse{
		TenantID:     a.TenantID,
		Role:         a.Role,
		Capabilities: a.Capabilities,
		Tier:         a.Tier,
	}
}

func newMigrationResponse(r *tenancy.MigrationResult) *migrationResponse {
	if r == nil {
		return nil
	}
	return &migrationResponse{
		TenantID:      r.TenantID,
		SourceCount:   r.SourceCount,
		MigratedCount: r.MigratedCount,
		ErrorCount:    r.ErrorCount,
		Skipped:       r.Skipped,
		Repaired:      r.Repaired,
	}
}

func newSelectionResponse(s *tenancy.Selection) selectionResponse {
	return selectionResponse{
		Current:      newAccessResponse(s.Current),
		Tenants:      newResolvedTenantsResponse(s.Tenants),
		Bootstrapped: s.Bootstrapped,
		Migration:    newMigrationResponse(s.Migration),
	}
}
