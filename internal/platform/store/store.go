// Package store defines the document store contract the portal core is built
// on: per-document CRUD plus atomic increment and set-membership operations.
// Two implementations are provided, a thread-safe in-memory store and a
// PostgreSQL JSONB store. The store is strongly consistent per document; no
// cross-document transactions are assumed.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the addressed document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrStoreUnavailable wraps backend connectivity failures.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Key addresses a single document.
type Key struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

func (k Key) String() string { return k.Collection + "/" + k.ID }

// Document is a schemaless record body.
type Document map[string]interface{}

// Op is a predicate comparison operator.
type Op string

const (
	OpEq  Op = "eq"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
)

// Where is a single equality/range predicate. Predicates in a query are
// conjunctive.
type Where struct {
	Field string
	Op    Op
	Value interface{}
}

// Store is the document store contract consumed by the portal core.
type Store interface {
	Get(ctx context.Context, key Key) (Document, error)
	Put(ctx context.Context, key Key, doc Document) error
	Patch(ctx context.Context, key Key, fields Document) error
	Delete(ctx context.Context, key Key) error
	// AtomicIncrement applies delta to a numeric field without a client-side
	// read-modify-write. A missing field is treated as zero.
	AtomicIncrement(ctx context.Context, key Key, field string, delta int64) error
	// AddToSet adds value to an array field, idempotently.
	AddToSet(ctx context.Context, key Key, field string, value string) error
	// RemoveFromSet removes value from an array field. Removing an absent
	// value is a no-op.
	RemoveFromSet(ctx context.Context, key Key, field string, value string) error
	Query(ctx context.Context, collection string, predicates ...Where) ([]Document, error)
}

// StringSet reads an array field as a string slice. Both []string and
// []interface{} shapes are accepted so documents round-trip through JSON.
func StringSet(doc Document, field string) []string {
	switch v := doc[field].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Int64 reads a numeric field, tolerating the JSON float64 round-trip.
func Int64(doc Document, field string) int64 {
	switch v := doc[field].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// Str reads a string field, returning "" when absent.
func Str(doc Document, field string) string {
	s, _ := doc[field].(string)
	return s
}
