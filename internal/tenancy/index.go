package tenancy

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/wolfeidau/tenancy/internal/models"
	"github.com/wolfeidau/tenancy/internal/preference"
	"github.com/wolfeidau/tenancy/internal/store"
	"github.com/wolfeidau/tenancy/internal/telemetry"
)

const (
	// DefaultProbeConcurrency bounds parallel membership probes per discovery.
	DefaultProbeConcurrency = 8

	// DefaultAnomalyThreshold is the tenant count above which discovery logs a warning.
	DefaultAnomalyThreshold = 50
)

// Discovery is the outcome of a single MembershipIndex run.
type Discovery struct {
	// Tenants is deduplicated by id and sorted by display name, then id.
	Tenants []ResolvedTenant

	// Stale lists candidate ids that failed verification and should be
	// dropped from the principal's hint set.
	Stale []string

	// Incomplete is set when a store failure hid a source or a candidate, so
	// Tenants may be missing entries the principal can access.
	Incomplete bool
}

// IDs returns the ids of the discovered tenants in order.
func (d *Discovery) IDs() []string {
	return tenantIDs(d.Tenants)
}

// MembershipIndex computes the set of tenants a principal can act on. The
// store's collection-group style queries over other tenants' member lists are
// not available, so candidates come from tenants the principal created, the
// principal's reverse index and the locally remembered hint set. Every
// candidate that is not created by the principal is verified by reading the
// principal's own membership row.
type MembershipIndex struct {
	client           store.Client
	hints            preference.Store
	probeConcurrency int
	anomalyThreshold int
}

// NewMembershipIndex creates an index. hints may be nil.
func NewMembershipIndex(client store.Client, hints preference.Store, probeConcurrency, anomalyThreshold int) *MembershipIndex {
	if probeConcurrency <= 0 {
		probeConcurrency = DefaultProbeConcurrency
	}
	if anomalyThreshold <= 0 {
		anomalyThreshold = DefaultAnomalyThreshold
	}
	return &MembershipIndex{
		client:           client,
		hints:            hints,
		probeConcurrency: probeConcurrency,
		anomalyThreshold: anomalyThreshold,
	}
}

// Discover returns every tenant the principal created or holds a membership
// in. Store failures on individual sources or candidates are logged and
// skipped, so a partial result is returned rather than an error. The only
// error returned is the context's.
func (idx *MembershipIndex) Discover(ctx context.Context, principal models.Principal) (*Discovery, error) {
	found := make(map[string]ResolvedTenant)
	incomplete := false

	created, err := idx.client.Query(ctx, store.CollectionTenants, store.Eq("createdBy", principal.ID))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		incomplete = true
		idx.discoveryError(ctx, "created")
		log.Warn().Err(err).Str("principal_id", principal.ID).Msg("Failed to query created tenants, continuing without them")
	}

	for _, doc := range created {
		tenant, err := decodeTenant(doc)
		if err != nil {
			log.Warn().Err(err).Str("path", doc.Path).Msg("Skipping undecodable tenant")
			continue
		}
		if _, dup := found[tenant.ID]; dup {
			log.Error().Err(ErrInvariantViolation).Str("tenant_id", tenant.ID).Msg("Duplicate tenant id in created tenants")
			continue
		}
		found[tenant.ID] = ownerRights(tenant)
	}

	candidates, indexed := idx.candidates(ctx, principal.ID, found)
	if !indexed {
		incomplete = true
	}

	probed := make([]*ResolvedTenant, len(candidates))
	var (
		mu     sync.Mutex
		stale  []string
		failed bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.probeConcurrency)
	for i, tenantID := range candidates {
		g.Go(func() error {
			rt, err := idx.probe(gctx, principal.ID, tenantID)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if isAbsent(err) {
					mu.Lock()
					stale = append(stale, tenantID)
					mu.Unlock()
				} else {
					mu.Lock()
					failed = true
					mu.Unlock()
					idx.discoveryError(gctx, "probe")
					log.Warn().Err(err).Str("tenant_id", tenantID).Msg("Failed to verify tenant membership, skipping")
				}
				return nil
			}
			probed[i] = rt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, rt := range probed {
		if rt == nil {
			continue
		}
		if _, dup := found[rt.ID()]; dup {
			continue
		}
		found[rt.ID()] = *rt
	}

	tenants := make([]ResolvedTenant, 0, len(found))
	for _, rt := range found {
		tenants = append(tenants, rt)
	}
	sortByName(tenants)

	if len(tenants) > idx.anomalyThreshold {
		log.Warn().
			Str("principal_id", principal.ID).
			Int("tenant_count", len(tenants)).
			Int("threshold", idx.anomalyThreshold).
			Msg("Principal resolves to an unusually large number of tenants")
	}

	slices.Sort(stale)

	return &Discovery{Tenants: tenants, Stale: stale, Incomplete: incomplete || failed}, nil
}

// candidates collects tenant ids from the reverse index and the hint set that
// were not already found among created tenants. indexed is false when the
// reverse index could not be read.
func (idx *MembershipIndex) candidates(ctx context.Context, principalID string, found map[string]ResolvedTenant) (ids []string, indexed bool) {
	seen := make(map[string]struct{})
	indexed = true

	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := found[id]; ok {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	entries, err := idx.client.Query(ctx, store.TenantIndexCollection(principalID))
	if err != nil {
		indexed = false
		idx.discoveryError(ctx, "index")
		log.Warn().Err(err).Str("principal_id", principalID).Msg("Failed to read tenant index, continuing without it")
	}
	for _, doc := range entries {
		add(doc.ID)
	}

	if idx.hints != nil {
		pref, err := idx.hints.Get(ctx, principalID)
		if err != nil {
			log.Warn().Err(err).Str("principal_id", principalID).Msg("Failed to read tenant hints, continuing without them")
		} else {
			add(pref.LastTenantID)
			for _, id := range pref.SeenTenantIDs {
				add(id)
			}
		}
	}

	return ids, indexed
}

// probe verifies a candidate by reading the principal's membership row and
// then the tenant itself.
func (idx *MembershipIndex) probe(ctx context.Context, principalID, tenantID string) (*ResolvedTenant, error) {
	membership, err := readMembership(ctx, idx.client, tenantID, principalID)
	if err != nil {
		return nil, err
	}

	tenant, err := readTenant(ctx, idx.client, tenantID)
	if err != nil {
		return nil, err
	}

	rt := &ResolvedTenant{
		Tenant:       *tenant,
		Role:         membership.Role,
		Capabilities: membership.Capabilities(),
		Tier:         cmp.Or(membership.Tier, models.DefaultTier),
		JoinedAt:     membership.JoinedAt,
		Creator:      tenant.CreatedBy == principalID,
	}
	if rt.Creator && rt.Role != models.RoleOwner {
		rt.Role = models.RoleOwner
		rt.Capabilities = models.ModulesForRole(models.RoleOwner)
	}

	return rt, nil
}

func (idx *MembershipIndex) discoveryError(ctx context.Context, source string) {
	telemetry.GetMetrics().DiscoveryErrorsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)))
}

func sortByName(tenants []ResolvedTenant) {
	slices.SortFunc(tenants, func(a, b ResolvedTenant) int {
		return cmp.Or(
			cmp.Compare(a.Tenant.DisplayName, b.Tenant.DisplayName),
			cmp.Compare(a.ID(), b.ID()),
		)
	})
}
