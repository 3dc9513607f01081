package models

// Principal is an authenticated actor. Identity is verified upstream; the
// access layer only needs a stable id and something to name a default company.
type Principal struct {
	ID          string
	Email       string
	DisplayName string
}

// DefaultTenantName returns the display name used for a bootstrapped tenant.
func (p Principal) DefaultTenantName() string {
	switch {
	case p.DisplayName != "":
		return p.DisplayName + "'s company"
	case p.Email != "":
		return p.Email + "'s company"
	default:
		return "My company"
	}
}
