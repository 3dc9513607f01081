package store

import (
	"fmt"
	"strings"
)

// Collection names.
const (
	CollectionTenants       = "tenants"
	CollectionMembers       = "members"
	CollectionRecords       = "records"
	CollectionPrincipals    = "principals"
	CollectionLegacyRecords = "legacyRecords"
	CollectionTenantIndex   = "tenantIndex"

	migrationStateDoc = "migrationState"
)

// TenantPath returns tenants/{tenantID}.
func TenantPath(tenantID string) string {
	return CollectionTenants + "/" + tenantID
}

// MembersCollection returns tenants/{tenantID}/members.
func MembersCollection(tenantID string) string {
	return TenantPath(tenantID) + "/" + CollectionMembers
}

// MemberPath returns tenants/{tenantID}/members/{principalID}.
func MemberPath(tenantID, principalID string) string {
	return MembersCollection(tenantID) + "/" + principalID
}

// RecordsCollection returns tenants/{tenantID}/records.
func RecordsCollection(tenantID string) string {
	return TenantPath(tenantID) + "/" + CollectionRecords
}

// RecordPath returns tenants/{tenantID}/records/{recordID}.
func RecordPath(tenantID, recordID string) string {
	return RecordsCollection(tenantID) + "/" + recordID
}

// MigrationStatePath returns the singleton tenants/{tenantID}/migrationState.
func MigrationStatePath(tenantID string) string {
	return TenantPath(tenantID) + "/" + migrationStateDoc
}

// LegacyRecordsCollection returns principals/{principalID}/legacyRecords.
func LegacyRecordsCollection(principalID string) string {
	return CollectionPrincipals + "/" + principalID + "/" + CollectionLegacyRecords
}

// LegacyRecordPath returns principals/{principalID}/legacyRecords/{recordID}.
func LegacyRecordPath(principalID, recordID string) string {
	return LegacyRecordsCollection(principalID) + "/" + recordID
}

// TenantIndexCollection returns principals/{principalID}/tenantIndex.
func TenantIndexCollection(principalID string) string {
	return CollectionPrincipals + "/" + principalID + "/" + CollectionTenantIndex
}

// TenantIndexPath returns principals/{principalID}/tenantIndex/{tenantID}.
func TenantIndexPath(principalID, tenantID string) string {
	return TenantIndexCollection(principalID) + "/" + tenantID
}

// Split returns the parent collection and the document id of path.
func Split(path string) (collection, id string) {
	idx := strings.LastIndex(path, "/")
	if idx == -1 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

// ValidatePath rejects empty paths and empty segments.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidArgument)
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			return fmt.Errorf("%w: empty segment in path %q", ErrInvalidArgument, path)
		}
	}
	return nil
}
