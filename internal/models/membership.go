package models

import (
	"slices"
	"time"
)

// Role is the principal's role within a single tenant.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleManager    Role = "manager"
	RoleEmployee   Role = "employee"
	RoleAccountant Role = "accountant"
)

// Capability tags (granted modules).
const (
	ModuleExpenses = "expenses"
	ModuleInvoices = "invoices"
	ModuleReports  = "reports"
	ModuleTeam     = "team"
	ModuleVAT      = "vat"
	ModuleSettings = "settings"
)

// DefaultTier is the plan label given to memberships created without one.
const DefaultTier = "free"

// RoleModules maps roles to the modules granted when a membership does not
// carry an explicit module list.
var RoleModules = map[Role][]string{
	RoleOwner: {
		ModuleExpenses,
		ModuleInvoices,
		ModuleReports,
		ModuleTeam,
		ModuleVAT,
		ModuleSettings,
	},
	RoleManager: {
		ModuleExpenses,
		ModuleInvoices,
		ModuleReports,
		ModuleTeam,
	},
	RoleEmployee: {
		ModuleExpenses,
	},
	RoleAccountant: {
		ModuleExpenses,
		ModuleInvoices,
		ModuleReports,
		ModuleVAT,
	},
}

// ModulesForRole returns a copy of the default modules for a role.
// Unknown roles get no modules.
func ModulesForRole(role Role) []string {
	return slices.Clone(RoleModules[role])
}

// Membership grants a principal a role inside one tenant. Stored at
// tenants/{tenantId}/members/{principalId}.
type Membership struct {
	PrincipalID    string    `json:"principalId"`
	Role           Role      `json:"role"`
	GrantedModules []string  `json:"grantedModules"`
	Tier           string    `json:"tier"`
	JoinedAt       time.Time `json:"joinedAt"`
}

// Capabilities returns the granted modules, falling back to the role defaults
// when the row carries none.
func (m *Membership) Capabilities() []string {
	if len(m.GrantedModules) > 0 {
		return slices.Clone(m.GrantedModules)
	}
	return ModulesForRole(m.Role)
}

// NewOwnerMembership builds the owner row written for a tenant's creator.
func NewOwnerMembership(principalID string, joinedAt time.Time) *Membership {
	return &Membership{
		PrincipalID:    principalID,
		Role:           RoleOwner,
		GrantedModules: ModulesForRole(RoleOwner),
		Tier:           DefaultTier,
		JoinedAt:       joinedAt,
	}
}
