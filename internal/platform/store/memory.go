package store

import (
	"context"
	"sync"
)

// MemStore is a thread-safe, in-memory Store. It backs tests and development
// setups; all operations on a single document are applied under one lock, so
// the atomic primitives behave exactly like their server-side counterparts.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]Document
	// insertion order per collection for deterministic queries
	order map[string][]string
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		data:  make(map[string]Document),
		order: make(map[string][]string),
	}
}

func clone(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		if arr, ok := v.([]string); ok {
			cp := make([]string, len(arr))
			copy(cp, arr)
			out[k] = cp
			continue
		}
		out[k] = v
	}
	return out
}

func (s *MemStore) Get(_ context.Context, key Key) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.data[key.String()]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(doc), nil
}

func (s *MemStore) Put(_ context.Context, key Key, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key.String()]; !exists {
		s.order[key.Collection] = append(s.order[key.Collection], key.String())
	}
	s.data[key.String()] = clone(doc)
	return nil
}

func (s *MemStore) Patch(_ context.Context, key Key, fields Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.data[key.String()]
	if !ok {
		return ErrNotFound
	}
	for k, v := range fields {
		doc[k] = v
	}
	return nil
}

func (s *MemStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key.String()]; !ok {
		return ErrNotFound
	}
	delete(s.data, key.String())
	ids := s.order[key.Collection]
	for i, id := range ids {
		if id == key.String() {
			s.order[key.Collection] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemStore) AtomicIncrement(_ context.Context, key Key, field string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.data[key.String()]
	if !ok {
		return ErrNotFound
	}
	doc[field] = Int64(doc, field) + delta
	return nil
}

func (s *MemStore) AddToSet(_ context.Context, key Key, field string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.data[key.String()]
	if !ok {
		return ErrNotFound
	}
	set := StringSet(doc, field)
	for _, v := range set {
		if v == value {
			return nil
		}
	}
	doc[field] = append(set, value)
	return nil
}

func (s *MemStore) RemoveFromSet(_ context.Context, key Key, field string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.data[key.String()]
	if !ok {
		return ErrNotFound
	}
	set := StringSet(doc, field)
	for i, v := range set {
		if v == value {
			doc[field] = append(set[:i], set[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemStore) Query(_ context.Context, collection string, predicates ...Where) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Document
	for _, id := range s.order[collection] {
		doc := s.data[id]
		if doc == nil {
			continue
		}
		if matches(doc, predicates) {
			out = append(out, clone(doc))
		}
	}
	return out, nil
}

func matches(doc Document, predicates []Where) bool {
	for _, p := range predicates {
		if !matchOne(doc, p) {
			return false
		}
	}
	return true
}

func matchOne(doc Document, p Where) bool {
	v, ok := doc[p.Field]
	if !ok {
		return false
	}
	if p.Op == OpEq || p.Op == "" {
		if s, isStr := v.(string); isStr {
			want, _ := p.Value.(string)
			return s == want
		}
		return numeric(v) == numeric(p.Value)
	}
	a, b := numeric(v), numeric(p.Value)
	switch p.Op {
	case OpGt:
		return a > b
	case OpGte:
		return a >= b
	case OpLt:
		return a < b
	case OpLte:
		return a <= b
	}
	return false
}

func numeric(v interface{}) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}
