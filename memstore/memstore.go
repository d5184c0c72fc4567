// Package memstore is an in-memory entity store for the dataindexer. Entities
// are kept by pointer and returned as stored.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/ripkitten-co/dataindexer"
	"github.com/ripkitten-co/dataindexer/internal/keys"
	"github.com/ripkitten-co/dataindexer/internal/meta"
)

// ErrNotPointer is returned by Put when the entity is not a struct pointer.
var ErrNotPointer = errors.New("entity must be a non-nil struct pointer")

// Store holds entities grouped by root type and identifier tuple.
type Store struct {
	mu   sync.RWMutex
	data map[reflect.Type]map[string]any
}

var _ dataindexer.Store = (*Store)(nil)

func New() *Store {
	return &Store{data: make(map[reflect.Type]map[string]any)}
}

func (s *Store) RootType(t reflect.Type) (reflect.Type, error) {
	return meta.RootOf(t)
}

func (s *Store) IdentifierFields(root reflect.Type) ([]string, error) {
	return meta.IdentifierNames(root)
}

// Put stores entity, replacing any entity with the same identifier tuple.
func (s *Store) Put(entity any) error {
	root, key, err := s.locate(entity)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.data[root]
	if !ok {
		bucket = make(map[string]any)
		s.data[root] = bucket
	}
	bucket[key] = entity
	return nil
}

// Delete removes entity. It returns an error wrapping dataindexer.ErrNotFound
// when nothing was stored under its identifier tuple.
func (s *Store) Delete(entity any) error {
	root, key, err := s.locate(entity)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[root][key]; !ok {
		return fmt.Errorf("memstore: delete %s %s: %w", root, key, dataindexer.ErrNotFound)
	}
	delete(s.data[root], key)
	return nil
}

func (s *Store) locate(entity any) (reflect.Type, string, error) {
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return nil, "", fmt.Errorf("memstore: %T: %w", entity, ErrNotPointer)
	}
	root, err := meta.RootOf(v.Type())
	if err != nil {
		return nil, "", fmt.Errorf("memstore: %w", err)
	}
	tuple, err := meta.Tuple(entity)
	if err != nil {
		return nil, "", fmt.Errorf("memstore: %w", err)
	}
	key, err := keys.Tuple(tuple)
	if err != nil {
		return nil, "", fmt.Errorf("memstore: %w", err)
	}
	return root, key, nil
}

func (s *Store) FindOne(_ context.Context, root reflect.Type, c dataindexer.Criteria) (any, error) {
	fields, err := meta.IdentifierNames(root)
	if err != nil {
		return nil, fmt.Errorf("memstore: %w", err)
	}
	key, err := keys.FromCriteria(fields, c)
	if err != nil {
		return nil, fmt.Errorf("memstore: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	entity, ok := s.data[root][key]
	if !ok {
		return nil, fmt.Errorf("memstore: %s %s: %w", root, key, dataindexer.ErrNotFound)
	}
	return entity, nil
}

func (s *Store) FindMany(_ context.Context, root reflect.Type, c dataindexer.SliceCriteria) ([]any, error) {
	fields, err := meta.IdentifierNames(root)
	if err != nil {
		return nil, fmt.Errorf("memstore: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket := s.data[root]
	seen := make(map[string]struct{}, c.Len())
	out := make([]any, 0, c.Len())
	for i := 0; i < c.Len(); i++ {
		key, err := keys.FromCriteria(fields, c.Row(i))
		if err != nil {
			return nil, fmt.Errorf("memstore: %w", err)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if entity, ok := bucket[key]; ok {
			out = append(out, entity)
		}
	}
	return out, nil
}
