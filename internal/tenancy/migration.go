package tenancy

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/tenancy/internal/models"
	"github.com/wolfeidau/tenancy/internal/store"
	"github.com/wolfeidau/tenancy/internal/telemetry"
)

const (
	// DefaultCurrency is used for migrated records when neither the record nor
	// the tenant settings name one.
	DefaultCurrency = "EUR"

	// MigratedIDPrefix prefixes the deterministic id of a migrated record so
	// re-runs overwrite instead of duplicating.
	MigratedIDPrefix = "legacy-"

	fieldOriginalID = "originalId"
)

// transport markers left on legacy payloads by the old client; never copied.
var strippedFields = []string{"decryptionFailed", "_decryptionError", "_encrypted"}

const strippedPrefix = "_transport"

// MigrationResult summarizes one MigrateLegacy run. MigratedCount and
// ErrorCount cover this run only; State holds the stored totals.
type MigrationResult struct {
	TenantID      string
	SourceCount   int
	MigratedCount int
	ErrorCount    int

	// Skipped is set when a verified completed migration short-circuited the run.
	Skipped bool

	// Repaired is set when a completion flag with no migrated records was cleared.
	Repaired bool

	State *models.MigrationState
}

// Partial reports whether some records failed to migrate.
func (r *MigrationResult) Partial() bool {
	return r.ErrorCount > 0
}

// MigrationVerification compares the stored migration flag with the records
// actually present in the tenant.
type MigrationVerification struct {
	TenantID string
	State    models.MigrationState

	// Exists is false when no migration state document has been written.
	Exists bool

	// ActualMigratedCount counts records in the tenant carrying an originalId.
	ActualMigratedCount int

	// Consistent is false when the flag claims completion of a non-empty
	// source but no migrated records exist.
	Consistent bool
}

// Completed reports whether the migration is flagged done and the flag is trustworthy.
func (v *MigrationVerification) Completed() bool {
	return v.State.ExpensesMigrated && v.Consistent
}

// NeedsRerun reports whether MigrateLegacy would do any work.
func (v *MigrationVerification) NeedsRerun() bool {
	return !v.Completed()
}

// MigrationEngine copies a principal's legacy records into a tenant. Runs are
// idempotent: each migrated record is written at a deterministic id derived
// from the legacy id.
type MigrationEngine struct {
	client store.Client
	clock  clock.Clock
}

// NewMigrationEngine creates an engine. A nil clk uses the wall clock.
func NewMigrationEngine(client store.Client, clk clock.Clock) *MigrationEngine {
	if clk == nil {
		clk = clock.New()
	}
	return &MigrationEngine{client: client, clock: clk}
}

// VerifyMigrationState reads the tenant's migration state and counts the
// records that were produced by migration.
func (e *MigrationEngine) VerifyMigrationState(ctx context.Context, tenantID string) (*MigrationVerification, error) {
	v := &MigrationVerification{TenantID: tenantID, Consistent: true}

	doc, err := e.client.Get(ctx, store.MigrationStatePath(tenantID))
	switch {
	case err == nil:
		if err := store.Decode(doc, &v.State); err != nil {
			return nil, err
		}
		v.Exists = true
	case store.IsNotFound(err):
	default:
		return nil, storeError("read migration state", err)
	}

	count, err := e.countMigrated(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	v.ActualMigratedCount = count

	if v.State.ExpensesMigrated && v.State.SourceCount > 0 && count == 0 {
		v.Consistent = false
	}

	return v, nil
}

// MigrateLegacy copies principal's legacy records into tenantID.
//
// A completed and verified migration is skipped. A completion flag that is
// not backed by any migrated record is cleared and the migration re-run.
// Individual record failures are counted and logged; the run continues. The
// completion state is only written when the run reaches the end, so a
// cancelled run leaves the tenant eligible for a retry.
func (e *MigrationEngine) MigrateLegacy(ctx context.Context, principal models.Principal, tenantID string) (*MigrationResult, error) {
	logger := log.With().Str("tenant_id", tenantID).Str("principal_id", principal.ID).Logger()
	m := telemetry.GetMetrics()

	result := &MigrationResult{TenantID: tenantID}

	verification, err := e.VerifyMigrationState(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if verification.Completed() {
		logger.Debug().Int("migrated_count", verification.ActualMigratedCount).Msg("Legacy migration already complete")
		state := verification.State
		result.Skipped = true
		result.SourceCount = state.SourceCount
		result.State = &state
		return result, nil
	}

	if !verification.Consistent {
		logger.Warn().
			Int("source_count", verification.State.SourceCount).
			Msg("Migration flagged complete but no migrated records found, re-running")
		if err := e.client.Set(ctx, store.MigrationStatePath(tenantID),
			map[string]any{"expensesMigrated": false}, store.WithMerge()); err != nil {
			return nil, storeError("clear migration flag", err)
		}
		m.MigrationRepairsTotal.Add(ctx, 1)
		result.Repaired = true
	}

	m.MigrationRunsTotal.Add(ctx, 1)

	legacy, err := e.client.Query(ctx, store.LegacyRecordsCollection(principal.ID))
	if err != nil {
		return nil, storeError("list legacy records", err)
	}
	result.SourceCount = len(legacy)

	if len(legacy) > 0 {
		currency := e.tenantCurrency(ctx, tenantID)

		for _, doc := range legacy {
			if err := ctx.Err(); err != nil {
				logger.Warn().Int("migrated_count", result.MigratedCount).Msg("Legacy migration cancelled, state not written")
				return result, err
			}

			rec := models.LegacyRecord{ID: doc.ID, Payload: doc.Data}
			data := TransformLegacyRecord(principal.ID, tenantID, currency, rec, e.clock.Now().UTC())

			if err := e.client.Set(ctx, store.RecordPath(tenantID, MigratedIDPrefix+rec.ID), data); err != nil {
				result.ErrorCount++
				m.MigrationErrorsTotal.Add(ctx, 1)
				logger.Error().Err(err).
					Str("record_id", rec.ID).
					Interface("payload", data).
					Msg("Failed to migrate legacy record")
				continue
			}
			result.MigratedCount++
		}
		m.MigrationRecordsTotal.Add(ctx, int64(result.MigratedCount),
			metric.WithAttributes(attribute.Bool("partial", result.Partial())))
	}

	now := e.clock.Now().UTC()
	state := models.MigrationState{
		ExpensesMigrated: true,
		SourceCount:      result.SourceCount,
		MigratedCount:    result.MigratedCount,
		ErrorCount:       result.ErrorCount,
		MigratedAt:       &now,
		PrincipalID:      principal.ID,
	}
	data, err := store.Encode(state)
	if err != nil {
		return result, err
	}
	if err := e.client.Set(ctx, store.MigrationStatePath(tenantID), data); err != nil {
		return result, storeError("write migration state", err)
	}
	result.State = &state

	logger.Info().
		Int("source_count", result.SourceCount).
		Int("migrated_count", result.MigratedCount).
		Int("error_count", result.ErrorCount).
		Bool("repaired", result.Repaired).
		Msg("Legacy migration finished")

	return result, nil
}

// tenantCurrency reads the tenant's configured currency, falling back to
// DefaultCurrency if the tenant cannot be read.
func (e *MigrationEngine) tenantCurrency(ctx context.Context, tenantID string) string {
	tenant, err := readTenant(ctx, e.client, tenantID)
	if err != nil {
		log.Debug().Err(err).Str("tenant_id", tenantID).Msg("Failed to read tenant settings, using default currency")
		return DefaultCurrency
	}
	return cmp.Or(tenant.Settings.Currency, DefaultCurrency)
}

func (e *MigrationEngine) countMigrated(ctx context.Context, tenantID string) (int, error) {
	docs, err := e.client.Query(ctx, store.RecordsCollection(tenantID))
	if err != nil {
		return 0, storeError("count migrated records", err)
	}

	count := 0
	for _, doc := range docs {
		if id, ok := doc.Data[fieldOriginalID].(string); ok && id != "" {
			count++
		}
	}
	return count, nil
}

// TransformLegacyRecord builds the tenant record for a legacy record: transport
// markers are stripped, missing business fields get defaults and provenance
// fields are added. The input payload is not modified.
func TransformLegacyRecord(principalID, tenantID, currency string, rec models.LegacyRecord, now time.Time) map[string]any {
	data := store.CloneData(rec.Payload)
	if data == nil {
		data = make(map[string]any)
	}

	for key := range data {
		if isStrippedField(key) {
			delete(data, key)
		}
	}

	setDefault(data, "status", "pending")
	setDefault(data, "category", "uncategorized")
	setDefault(data, "currency", cmp.Or(currency, DefaultCurrency))
	setDefault(data, "amount", float64(0))
	if _, ok := data["date"]; !ok {
		if createdAt, ok := data["createdAt"].(string); ok && createdAt != "" {
			data["date"] = createdAt
		} else {
			data["date"] = now.Format(time.RFC3339)
		}
	}
	setDefault(data, "createdBy", principalID)

	data["tenantId"] = tenantID
	data["migratedFrom"] = store.LegacyRecordPath(principalID, rec.ID)
	data[fieldOriginalID] = rec.ID
	data["migratedAt"] = now.Format(time.RFC3339)

	return data
}

func isStrippedField(key string) bool {
	return strings.HasPrefix(key, strippedPrefix) || slices.Contains(strippedFields, key)
}

func setDefault(data map[string]any, key string, value any) {
	if v, ok := data[key]; !ok || v == nil {
		data[key] = value
	}
}
