package store

import (
	"context"
	"errors"
)

// Sentinel errors returned by Client implementations. Callers match them with
// errors.Is; implementations wrap backend errors with these.
var (
	ErrNotFound         = errors.New("document not found")
	ErrAlreadyExists    = errors.New("document already exists")
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnavailable      = errors.New("store unavailable")
	ErrInvalidArgument  = errors.New("invalid argument")
)

// Document is a single stored document. Data holds JSON-compatible values.
type Document struct {
	Path string
	ID   string
	Data map[string]any
}

// Client is the narrow document-store contract consumed by the tenancy core.
// Paths are slash separated, for example tenants/{tenantId}/members/{principalId}.
type Client interface {
	// Get returns the document at path or ErrNotFound.
	Get(ctx context.Context, path string) (*Document, error)

	// Set writes data at path. With Merge the fields are merged into an existing
	// document, otherwise the document is replaced.
	Set(ctx context.Context, path string, data map[string]any, opts ...SetOption) error

	// Update merges data into an existing document. Returns ErrNotFound if the
	// document does not exist.
	Update(ctx context.Context, path string, data map[string]any) error

	// Delete removes the document at path. Deleting a missing document is not an error.
	Delete(ctx context.Context, path string) error

	// Query returns the documents directly inside collection matching all filters.
	Query(ctx context.Context, collection string, filters ...Filter) ([]*Document, error)

	// Batch applies all mutations atomically: either every mutation is applied or none.
	Batch(ctx context.Context, mutations []Mutation) error
}

// SetOption configures a Set call.
type SetOption func(*SetOptions)

// SetOptions holds the resolved Set configuration.
type SetOptions struct {
	Merge bool
}

// WithMerge merges the written fields into an existing document.
func WithMerge() SetOption {
	return func(o *SetOptions) {
		o.Merge = true
	}
}

// ApplySetOptions resolves opts into SetOptions.
func ApplySetOptions(opts ...SetOption) SetOptions {
	var o SetOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Op is the kind of a batched mutation.
type Op string

const (
	OpSet    Op = "set"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Mutation is one write inside a Batch.
type Mutation struct {
	Op    Op
	Path  string
	Data  map[string]any
	Merge bool
}

// SetMutation builds a replacing set mutation.
func SetMutation(path string, data map[string]any) Mutation {
	return Mutation{Op: OpSet, Path: path, Data: data}
}

// UpdateMutation builds an update mutation.
func UpdateMutation(path string, data map[string]any) Mutation {
	return Mutation{Op: OpUpdate, Path: path, Data: data}
}

// DeleteMutation builds a delete mutation.
func DeleteMutation(path string) Mutation {
	return Mutation{Op: OpDelete, Path: path}
}

// FilterOp is a comparison operator for Query filters.
type FilterOp string

const (
	OpEqual          FilterOp = "=="
	OpLessThan       FilterOp = "<"
	OpLessOrEqual    FilterOp = "<="
	OpGreaterThan    FilterOp = ">"
	OpGreaterOrEqual FilterOp = ">="
)

// Filter restricts Query results on a top-level field.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// Eq builds an equality filter.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: OpEqual, Value: value}
}

// Valid reports whether the operator is supported.
func (f Filter) Valid() bool {
	switch f.Op {
	case OpEqual, OpLessThan, OpLessOrEqual, OpGreaterThan, OpGreaterOrEqual:
		return f.Field != ""
	default:
		return false
	}
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPermissionDenied reports whether err is a permission error.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}
