package tenancy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/tenancy/internal/cache"
	"github.com/wolfeidau/tenancy/internal/models"
	"github.com/wolfeidau/tenancy/internal/preference"
	"github.com/wolfeidau/tenancy/internal/store"
	"github.com/wolfeidau/tenancy/internal/telemetry"
)

// Config configures a Service. Zero values select defaults.
type Config struct {
	Clock       clock.Clock
	Preferences preference.Store

	CacheTTL         time.Duration
	CacheSize        int
	ProbeConcurrency int
	AnomalyThreshold int
	Consistency      ConsistencyConfig
}

// Selection is the outcome of resolving and selecting a principal's current tenant.
type Selection struct {
	Current *Access
	Tenants []ResolvedTenant

	// Bootstrapped is set when a default tenant was created during this call.
	Bootstrapped bool

	// Migration is the legacy migration result when Bootstrapped is set.
	Migration *MigrationResult
}

// Service is the caller facing API: it resolves, selects and switches tenants,
// manages tenant lifecycle and runs legacy migration. Per-principal session
// state (the current tenant) lives in memory; results of operations that
// complete after the principal signed out are discarded.
type Service struct {
	client      store.Client
	prefs       preference.Store
	clock       clock.Clock
	consistency ConsistencyConfig

	index      *MembershipIndex
	guard      *AccessGuard
	migrations *MigrationEngine
	resolved   *cache.Cache[string, []ResolvedTenant]

	mu        sync.Mutex
	sessions  map[string]*session
	nextEpoch uint64
}

type session struct {
	epoch           uint64
	currentTenantID string
}

// NewService creates a Service over client.
func NewService(client store.Client, cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Preferences == nil {
		cfg.Preferences = preference.NewMemoryStore()
	}
	cfg.Consistency.ApplyDefaults()

	return &Service{
		client:      client,
		prefs:       cfg.Preferences,
		clock:       cfg.Clock,
		consistency: cfg.Consistency,
		index:       NewMembershipIndex(client, cfg.Preferences, cfg.ProbeConcurrency, cfg.AnomalyThreshold),
		guard:       NewAccessGuard(client, cfg.Clock),
		migrations:  NewMigrationEngine(client, cfg.Clock),
		resolved:    cache.New[string, []ResolvedTenant](cfg.Clock, cfg.CacheTTL, cfg.CacheSize),
		sessions:    make(map[string]*session),
	}
}

// Guard returns the access guard used by the service.
func (s *Service) Guard() *AccessGuard {
	return s.guard
}

// Migrations returns the migration engine used by the service.
func (s *Service) Migrations() *MigrationEngine {
	return s.migrations
}

// ResolveTenants returns the tenants the principal can act on, bootstrapping a
// default tenant when there are none. Results are cached per principal for the
// configured TTL.
func (s *Service) ResolveTenants(ctx context.Context, principal models.Principal) ([]ResolvedTenant, error) {
	if tenants, ok := s.resolved.Get(principal.ID); ok {
		return slices.Clone(tenants), nil
	}

	epoch := s.begin(principal.ID)

	res, err := s.resolve(ctx, principal)
	if err != nil {
		return nil, err
	}

	if err := s.commit(principal.ID, epoch, func(*session) {}); err != nil {
		return nil, err
	}
	s.resolved.Set(principal.ID, slices.Clone(res.tenants))
	s.updatePreference(ctx, principal.ID, func(pref *models.Preference) {
		preference.Forget(pref, res.stale...)
		preference.Remember(pref, tenantIDs(res.tenants)...)
	})

	return res.tenants, nil
}

// ResolveAndSelectTenant resolves the principal's tenants from the store,
// picks the current one with SelectCurrent, verifies access to it and records
// it as both the session's current tenant and the stored preference.
func (s *Service) ResolveAndSelectTenant(ctx context.Context, principal models.Principal) (*Selection, error) {
	epoch := s.begin(principal.ID)
	m := telemetry.GetMetrics()

	res, err := s.resolve(ctx, principal)
	if err != nil {
		return nil, err
	}

	pref := s.loadPreference(ctx, principal.ID)
	previous := s.currentTenant(principal.ID)
	tenants := res.tenants

	var access *Access
	for access == nil {
		tenantID, ok := SelectCurrent(tenants, pref.LastTenantID, previous)
		if !ok {
			if res.bootstrapped {
				return nil, fmt.Errorf("%w: bootstrapped tenant is not accessible", ErrInvariantViolation)
			}
			// every discovered tenant disappeared before it could be selected
			rt, migration, err := s.bootstrap(ctx, principal)
			if err != nil {
				return nil, err
			}
			tenants = []ResolvedTenant{rt}
			res.bootstrapped = true
			res.migration = migration
			continue
		}

		access, err = s.guard.EnsureAccess(ctx, principal, tenantID)
		if err != nil {
			if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrDenied) {
				return nil, err
			}
			log.Warn().Err(err).Str("tenant_id", tenantID).Msg("Selected tenant no longer accessible, reselecting")
			tenants = slices.DeleteFunc(tenants, func(t ResolvedTenant) bool { return t.ID() == tenantID })
			res.stale = append(res.stale, tenantID)
			if previous == tenantID {
				previous = ""
			}
		}
	}

	if err := s.commit(principal.ID, epoch, func(sess *session) {
		sess.currentTenantID = access.TenantID
	}); err != nil {
		return nil, err
	}

	s.resolved.Set(principal.ID, slices.Clone(tenants))
	s.updatePreference(ctx, principal.ID, func(pref *models.Preference) {
		preference.Forget(pref, res.stale...)
		preference.Remember(pref, tenantIDs(tenants)...)
		preference.Remember(pref, access.TenantID)
		pref.LastTenantID = access.TenantID
	})

	m.ResolveTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("bootstrapped", res.bootstrapped)))

	log.Info().
		Str("principal_id", principal.ID).
		Str("tenant_id", access.TenantID).
		Str("role", string(access.Role)).
		Int("tenant_count", len(tenants)).
		Bool("bootstrapped", res.bootstrapped).
		Msg("Selected current tenant")

	return &Selection{
		Current:      access,
		Tenants:      tenants,
		Bootstrapped: res.bootstrapped,
		Migration:    res.migration,
	}, nil
}

// CurrentTenant returns the session's current tenant id for the principal.
func (s *Service) CurrentTenant(principalID string) (string, bool) {
	id := s.currentTenant(principalID)
	return id, id != ""
}

// SwitchTenant makes tenantID current after verifying access. On failure the
// current tenant is left unchanged.
func (s *Service) SwitchTenant(ctx context.Context, principal models.Principal, tenantID string) (*Access, error) {
	epoch := s.begin(principal.ID)

	access, err := s.guard.EnsureAccess(ctx, principal, tenantID)
	if err != nil {
		telemetry.GetMetrics().SwitchTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", false)))
		log.Info().Err(err).
			Str("principal_id", principal.ID).
			Str("tenant_id", tenantID).
			Msg("Tenant switch refused")
		return nil, err
	}

	if err := s.commit(principal.ID, epoch, func(sess *session) {
		sess.currentTenantID = tenantID
	}); err != nil {
		return nil, err
	}

	if cached, ok := s.resolved.Get(principal.ID); ok && !containsTenant(cached, tenantID) {
		s.resolved.Evict(principal.ID)
	}
	s.updatePreference(ctx, principal.ID, func(pref *models.Preference) {
		preference.Remember(pref, tenantID)
		pref.LastTenantID = tenantID
	})
	telemetry.GetMetrics().SwitchTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", true)))

	return access, nil
}

// CreateTenant creates an additional tenant owned by the principal. A
// principal that already belongs to tenants must own at least one of them; a
// principal with none may always create their first.
func (s *Service) CreateTenant(ctx context.Context, principal models.Principal, name string, settings models.TenantSettings) (*models.Tenant, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	discovery, err := s.index.Discover(ctx, principal)
	if err != nil {
		return nil, err
	}
	owns := slices.ContainsFunc(discovery.Tenants, func(t ResolvedTenant) bool {
		return t.Role == models.RoleOwner
	})
	if !owns && discovery.Incomplete {
		// an unreadable membership could be one the principal does not own
		return nil, fmt.Errorf("create tenant: %w: could not list existing companies", ErrTransientStore)
	}
	if len(discovery.Tenants) > 0 && !owns {
		telemetry.GetMetrics().AccessDeniedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "create_requires_owner")))
		return nil, denied("", "creating a company requires owning one", nil)
	}

	tenant, err := s.createTenant(ctx, principal, name, settings, false)
	if err != nil {
		return nil, err
	}

	s.resolved.Evict(principal.ID)
	s.updatePreference(ctx, principal.ID, func(pref *models.Preference) {
		preference.Remember(pref, tenant.ID)
	})

	return tenant, nil
}

// RenameTenant changes a tenant's display name. Owner only.
func (s *Service) RenameTenant(ctx context.Context, principal models.Principal, tenantID, name string) (*models.Tenant, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if _, err := s.guard.RequireOwner(ctx, principal, tenantID); err != nil {
		return nil, err
	}

	err := s.client.Update(ctx, store.TenantPath(tenantID), map[string]any{
		"displayName": name,
		"updatedAt":   s.clock.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		if store.IsNotFound(err) {
			return nil, notFound(tenantID, "", nil)
		}
		return nil, storeError("rename tenant", err)
	}

	s.resolved.Evict(principal.ID)

	tenant, err := readTenant(ctx, s.client, tenantID)
	if err != nil {
		return nil, storeError("read tenant", err)
	}
	return tenant, nil
}

// DeleteTenant removes a tenant with its memberships, records, migration state
// and reverse index entries in one batch. Owner only. When the deleted tenant
// was the caller's current tenant a new one is selected (bootstrapping if none
// remain) and returned; otherwise the returned selection is nil.
func (s *Service) DeleteTenant(ctx context.Context, principal models.Principal, tenantID string) (*Selection, error) {
	epoch := s.begin(principal.ID)

	if _, err := s.guard.RequireOwner(ctx, principal, tenantID); err != nil {
		return nil, err
	}

	tenant, err := readTenant(ctx, s.client, tenantID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, notFound(tenantID, "", nil)
		}
		return nil, storeError("read tenant", err)
	}

	members, err := s.client.Query(ctx, store.MembersCollection(tenantID))
	if err != nil {
		return nil, storeError("list members", err)
	}
	records, err := s.client.Query(ctx, store.RecordsCollection(tenantID))
	if err != nil {
		return nil, storeError("list records", err)
	}

	memberIDs := []string{tenant.CreatedBy, principal.ID}
	var mutations []store.Mutation
	for _, doc := range members {
		mutations = append(mutations, store.DeleteMutation(doc.Path))
		memberIDs = append(memberIDs, doc.ID)
	}
	memberIDs = slices.DeleteFunc(memberIDs, func(id string) bool { return id == "" })
	slices.Sort(memberIDs)
	memberIDs = slices.Compact(memberIDs)
	for _, id := range memberIDs {
		mutations = append(mutations, store.DeleteMutation(store.TenantIndexPath(id, tenantID)))
	}
	for _, doc := range records {
		mutations = append(mutations, store.DeleteMutation(doc.Path))
	}
	mutations = append(mutations,
		store.DeleteMutation(store.MigrationStatePath(tenantID)),
		store.DeleteMutation(store.TenantPath(tenantID)),
	)

	if err := s.client.Batch(ctx, mutations); err != nil {
		return nil, storeError("delete tenant", err)
	}

	telemetry.GetMetrics().TenantDeleteTotal.Add(ctx, 1)
	log.Info().
		Str("tenant_id", tenantID).
		Str("principal_id", principal.ID).
		Int("members", len(members)).
		Int("records", len(records)).
		Msg("Deleted tenant")

	s.resolved.Evict(memberIDs...)
	s.updatePreference(ctx, principal.ID, func(pref *models.Preference) {
		preference.Forget(pref, tenantID)
	})

	wasCurrent := false
	if err := s.commit(principal.ID, epoch, func(sess *session) {
		wasCurrent = sess.currentTenantID == tenantID
	}); err != nil {
		// the delete is applied; there is no session left to reselect for
		s.clearCurrent(tenantID)
		return nil, nil //nolint:nilnil
	}
	s.clearCurrent(tenantID)

	if !wasCurrent {
		return nil, nil
	}
	return s.ResolveAndSelectTenant(ctx, principal)
}

// RunLegacyMigration runs (or re-runs) the principal's legacy migration into
// tenantID. Owner only.
func (s *Service) RunLegacyMigration(ctx context.Context, principal models.Principal, tenantID string) (*MigrationResult, error) {
	if _, err := s.guard.RequireOwner(ctx, principal, tenantID); err != nil {
		return nil, err
	}
	return s.migrations.MigrateLegacy(ctx, principal, tenantID)
}

// VerifyMigrationState reports whether the tenant's migration flag is backed
// by migrated records. Owner only.
func (s *Service) VerifyMigrationState(ctx context.Context, principal models.Principal, tenantID string) (*MigrationVerification, error) {
	if _, err := s.guard.RequireOwner(ctx, principal, tenantID); err != nil {
		return nil, err
	}
	return s.migrations.VerifyMigrationState(ctx, tenantID)
}

// SignOut ends the principal's session. In-flight operations for the
// principal will return ErrSessionEnded instead of applying their results.
func (s *Service) SignOut(principalID string) {
	s.mu.Lock()
	delete(s.sessions, principalID)
	s.mu.Unlock()

	s.resolved.Evict(principalID)
	log.Debug().Str("principal_id", principalID).Msg("Signed out")
}

type resolution struct {
	tenants      []ResolvedTenant
	stale        []string
	bootstrapped bool
	migration    *MigrationResult
}

func (s *Service) resolve(ctx context.Context, principal models.Principal) (*resolution, error) {
	discovery, err := s.index.Discover(ctx, principal)
	if err != nil {
		return nil, err
	}

	res := &resolution{tenants: discovery.Tenants, stale: discovery.Stale}
	if len(res.tenants) == 0 {
		rt, migration, err := s.bootstrap(ctx, principal)
		if err != nil {
			return nil, err
		}
		res.tenants = []ResolvedTenant{rt}
		res.bootstrapped = true
		res.migration = migration
	}

	telemetry.GetMetrics().ResolvedTenants.Record(ctx, int64(len(res.tenants)))

	return res, nil
}

// bootstrap creates the principal's default tenant and migrates their legacy
// records into it. A migration failure is logged and never fails onboarding.
func (s *Service) bootstrap(ctx context.Context, principal models.Principal) (ResolvedTenant, *MigrationResult, error) {
	tenant, err := s.createTenant(ctx, principal, principal.DefaultTenantName(), models.TenantSettings{}, true)
	if err != nil {
		return ResolvedTenant{}, nil, err
	}
	telemetry.GetMetrics().BootstrapTotal.Add(ctx, 1)

	log.Info().
		Str("principal_id", principal.ID).
		Str("tenant_id", tenant.ID).
		Str("name", tenant.DisplayName).
		Msg("Bootstrapped default tenant")

	migration, err := s.migrations.MigrateLegacy(ctx, principal, tenant.ID)
	if err != nil {
		log.Error().Err(err).
			Str("principal_id", principal.ID).
			Str("tenant_id", tenant.ID).
			Msg("Legacy migration failed during bootstrap, continuing")
	}

	return ownerRights(tenant), migration, nil
}

// createTenant writes the tenant, the owner membership and the owner's index
// entry in one batch, then waits until the tenant is readable.
func (s *Service) createTenant(ctx context.Context, principal models.Principal, name string, settings models.TenantSettings, isDefault bool) (*models.Tenant, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate tenant id: %w", err)
	}

	now := s.clock.Now().UTC()
	tenant := &models.Tenant{
		ID:          id.String(),
		DisplayName: name,
		CreatedBy:   principal.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
		Settings:    settings,
		IsDefault:   isDefault,
	}

	tenantData, err := store.Encode(tenant)
	if err != nil {
		return nil, err
	}
	mutations, err := membershipMutations(tenant.ID, models.NewOwnerMembership(principal.ID, now))
	if err != nil {
		return nil, err
	}
	mutations = append([]store.Mutation{store.SetMutation(store.TenantPath(tenant.ID), tenantData)}, mutations...)

	if err := s.client.Batch(ctx, mutations); err != nil {
		return nil, storeError("create tenant", err)
	}

	if _, err := awaitVisible(ctx, s.client, store.TenantPath(tenant.ID), s.consistency); err != nil {
		return nil, err
	}

	return tenant, nil
}

func (s *Service) begin(principalID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[principalID]
	if !ok {
		s.nextEpoch++
		sess = &session{epoch: s.nextEpoch}
		s.sessions[principalID] = sess
	}
	return sess.epoch
}

func (s *Service) commit(principalID string, epoch uint64, fn func(*session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[principalID]
	if !ok || sess.epoch != epoch {
		return ErrSessionEnded
	}
	fn(sess)
	return nil
}

func (s *Service) currentTenant(principalID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[principalID]; ok {
		return sess.currentTenantID
	}
	return ""
}

// clearCurrent unsets tenantID as current in every session.
func (s *Service) clearCurrent(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		if sess.currentTenantID == tenantID {
			sess.currentTenantID = ""
		}
	}
}

func (s *Service) loadPreference(ctx context.Context, principalID string) *models.Preference {
	pref, err := s.prefs.Get(ctx, principalID)
	if err != nil {
		log.Warn().Err(err).Str("principal_id", principalID).Msg("Failed to load preference, ignoring")
		return &models.Preference{}
	}
	return pref
}

// updatePreference applies fn to the stored preference and drops it once it
// holds nothing. Preferences are hints, so failures are logged only.
func (s *Service) updatePreference(ctx context.Context, principalID string, fn func(*models.Preference)) {
	pref := s.loadPreference(ctx, principalID)
	fn(pref)
	if pref.LastTenantID == "" && len(pref.SeenTenantIDs) == 0 {
		if err := s.prefs.Delete(ctx, principalID); err != nil {
			log.Warn().Err(err).Str("principal_id", principalID).Msg("Failed to delete preference")
		}
		return
	}
	pref.UpdatedAt = s.clock.Now().UTC()
	if err := s.prefs.Save(ctx, principalID, pref); err != nil {
		log.Warn().Err(err).Str("principal_id", principalID).Msg("Failed to save preference")
	}
}

func tenantIDs(tenants []ResolvedTenant) []string {
	ids := make([]string, 0, len(tenants))
	for _, t := range tenants {
		ids = append(ids, t.ID())
	}
	return ids
}
