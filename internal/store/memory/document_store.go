package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/wolfeidau/tenancy/internal/store"
)

// Operations reported to a Fault hook in addition to the mutation ops.
const (
	OpGet   store.Op = "get"
	OpQuery store.Op = "query"
)

// Fault lets tests inject failures. It is called before every operation with the
// operation kind and the document (or collection) path; a non-nil error aborts it.
type Fault func(op store.Op, path string) error

var _ store.Client = (*DocumentStore)(nil)

// DocumentStore implements store.Client using in-memory storage.
// This implementation is for testing and development - data is lost on restart.
type DocumentStore struct {
	mu sync.RWMutex

	docs  map[string]map[string]any // path -> data
	fault Fault
}

// NewDocumentStore creates a new in-memory document store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		docs: make(map[string]map[string]any),
	}
}

// SetFault installs (or clears, with nil) the fault hook.
func (s *DocumentStore) SetFault(fault Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fault = fault
}

// Get retrieves a document by path.
func (s *DocumentStore) Get(ctx context.Context, path string) (*store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(OpGet, path); err != nil {
		return nil, err
	}

	data, exists := s.docs[path]
	if !exists {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, path)
	}

	return newDocument(path, data), nil
}

// Set writes a document, replacing it unless WithMerge is given.
func (s *DocumentStore) Set(ctx context.Context, path string, data map[string]any, opts ...store.SetOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	o := store.ApplySetOptions(opts...)
	return s.Batch(ctx, []store.Mutation{{Op: store.OpSet, Path: path, Data: data, Merge: o.Merge}})
}

// Update merges fields into an existing document.
func (s *DocumentStore) Update(ctx context.Context, path string, data map[string]any) error {
	return s.Batch(ctx, []store.Mutation{store.UpdateMutation(path, data)})
}

// Delete removes a document.
func (s *DocumentStore) Delete(ctx context.Context, path string) error {
	return s.Batch(ctx, []store.Mutation{store.DeleteMutation(path)})
}

// Query returns documents directly inside collection that match all filters,
// ordered by path.
func (s *DocumentStore) Query(ctx context.Context, collection string, filters ...store.Filter) ([]*store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	normalized := make([]store.Filter, 0, len(filters))
	for _, f := range filters {
		if !f.Valid() {
			return nil, fmt.Errorf("%w: unsupported filter %q %s", store.ErrInvalidArgument, f.Field, f.Op)
		}
		v, err := normalizeValue(f.Value)
		if err != nil {
			return nil, err
		}
		f.Value = v
		normalized = append(normalized, f)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(OpQuery, collection); err != nil {
		return nil, err
	}

	var result []*store.Document
	for path, data := range s.docs {
		parent, _ := store.Split(path)
		if parent != collection {
			continue
		}
		if !matchesAll(data, normalized) {
			continue
		}
		result = append(result, newDocument(path, data))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Path < result[j].Path
	})

	return result, nil
}

// Batch applies all mutations atomically. Every mutation is validated (and
// passed through the fault hook) before any of them is applied.
func (s *DocumentStore) Batch(ctx context.Context, mutations []store.Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	prepared := make([]store.Mutation, 0, len(mutations))
	for _, m := range mutations {
		if err := store.ValidatePath(m.Path); err != nil {
			return err
		}
		if m.Op != store.OpDelete {
			data, err := normalizeData(m.Data)
			if err != nil {
				return err
			}
			m.Data = data
		}
		prepared = append(prepared, m)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Stage against a view of the pending state so an update that follows a set
	// in the same batch sees the set.
	staged := make(map[string]map[string]any)
	deleted := make(map[string]bool)
	lookup := func(path string) (map[string]any, bool) {
		if deleted[path] {
			return nil, false
		}
		if data, ok := staged[path]; ok {
			return data, true
		}
		data, ok := s.docs[path]
		return data, ok
	}

	for _, m := range prepared {
		if err := s.check(m.Op, m.Path); err != nil {
			return err
		}

		switch m.Op {
		case store.OpSet:
			next := m.Data
			if existing, ok := lookup(m.Path); ok && m.Merge {
				next = maps.Clone(existing)
				maps.Copy(next, m.Data)
			}
			staged[m.Path] = next
			delete(deleted, m.Path)
		case store.OpUpdate:
			existing, ok := lookup(m.Path)
			if !ok {
				return fmt.Errorf("%w: %s", store.ErrNotFound, m.Path)
			}
			next := maps.Clone(existing)
			maps.Copy(next, m.Data)
			staged[m.Path] = next
		case store.OpDelete:
			delete(staged, m.Path)
			deleted[m.Path] = true
		default:
			return fmt.Errorf("%w: unknown batch op %q", store.ErrInvalidArgument, m.Op)
		}
	}

	for path := range deleted {
		delete(s.docs, path)
	}
	for path, data := range staged {
		s.docs[path] = data
	}

	return nil
}

// Paths returns every stored path with the given prefix, sorted. Used by tests
// to assert cascades.
func (s *DocumentStore) Paths(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var paths []string
	for path := range s.docs {
		if strings.HasPrefix(path, prefix) {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}

// check runs the fault hook. Callers must hold the lock.
func (s *DocumentStore) check(op store.Op, path string) error {
	if s.fault == nil {
		return nil
	}
	return s.fault(op, path)
}

func newDocument(path string, data map[string]any) *store.Document {
	_, id := store.Split(path)
	return &store.Document{
		Path: path,
		ID:   id,
		Data: store.CloneData(data),
	}
}

// normalizeData round-trips data through JSON so stored values have the same
// shapes a JSON document store would return (numbers as float64, times as strings).
func normalizeData(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidArgument, err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidArgument, err)
	}
	return out, nil
}

func normalizeValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidArgument, err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidArgument, err)
	}
	return out, nil
}

func matchesAll(data map[string]any, filters []store.Filter) bool {
	for _, f := range filters {
		v, ok := data[f.Field]
		if !ok || !matches(v, f) {
			return false
		}
	}
	return true
}

func matches(v any, f store.Filter) bool {
	if f.Op == store.OpEqual {
		return reflect.DeepEqual(v, f.Value)
	}

	cmp, ok := compare(v, f.Value)
	if !ok {
		return false
	}

	switch f.Op {
	case store.OpLessThan:
		return cmp < 0
	case store.OpLessOrEqual:
		return cmp <= 0
	case store.OpGreaterThan:
		return cmp > 0
	case store.OpGreaterOrEqual:
		return cmp >= 0
	default:
		return false
	}
}

// compare orders two normalized values of the same kind.
func compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		default:
			return 0, true
		}
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	default:
		return 0, false
	}
}
