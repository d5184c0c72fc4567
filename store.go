// Package dataindexer maps persisted entities to opaque string indexes and
// back. An index is the entity's identifier values joined with a separator;
// decoding splits it again and builds lookup criteria that an entity store
// resolves into entities.
package dataindexer

import (
	"context"
	"reflect"
)

// Store is the persistence layer an Indexer resolves schemas and entities
// through. Implementations live in the memstore, pgstore, redisstore,
// gormstore and bunstore packages.
type Store interface {
	// RootType returns the canonical type t is stored as. Types derived from
	// a root share its identifier schema.
	RootType(t reflect.Type) (reflect.Type, error)

	// IdentifierFields returns the ordered identifier field names of root.
	IdentifierFields(root reflect.Type) ([]string, error)

	// FindOne returns the entity matching every field of c. It returns an
	// error wrapping ErrNotFound when nothing matches.
	FindOne(ctx context.Context, root reflect.Type, c Criteria) (any, error)

	// FindMany returns the entities matching any row of c. Result order is
	// up to the store.
	FindMany(ctx context.Context, root reflect.Type, c SliceCriteria) ([]any, error)
}

// FieldReader is implemented by stores that read identifier values with
// their own accessors instead of the struct metadata used by default.
type FieldReader interface {
	ReadField(entity any, field string) (any, error)
}
