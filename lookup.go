package dataindexer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Data decodes index and returns the single entity it refers to.
func (ix *Indexer) Data(ctx context.Context, index string) (any, error) {
	c, err := ix.Criteria(index)
	if err != nil {
		return nil, err
	}

	entity, err := ix.store.FindOne(ctx, ix.root, c)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFound(ix, c)
		}
		return nil, fmt.Errorf("dataindexer: find %s: %w", ix.root, err)
	}
	if entity == nil {
		return nil, notFound(ix, c)
	}

	ix.logger.Debug("index resolved", zap.Stringer("type", ix.root), zap.String("index", index))
	return entity, nil
}

func notFound(ix *Indexer, c Criteria) error {
	ix.logger.Debug("index not found", zap.Stringer("type", ix.root), zap.Stringer("criteria", c))
	return fmt.Errorf("dataindexer: can't find any %s using criteria %s: %w", ix.root, c, ErrNotFound)
}

// DataSlice decodes indexes and returns the entities they refer to. Indexes
// without a matching entity are skipped and the order of the result is up
// to the store.
func (ix *Indexer) DataSlice(ctx context.Context, indexes []string) ([]any, error) {
	c, err := ix.SliceCriteria(indexes)
	if err != nil {
		return nil, err
	}
	// an empty batch would be an unconstrained query for most stores
	if c.Len() == 0 {
		return []any{}, nil
	}

	entities, err := ix.store.FindMany(ctx, ix.root, c)
	if err != nil {
		return nil, fmt.Errorf("dataindexer: find %s slice: %w", ix.root, err)
	}

	ix.logger.Debug("index slice resolved",
		zap.Stringer("type", ix.root),
		zap.Int("requested", len(indexes)),
		zap.Int("found", len(entities)),
	)
	return entities, nil
}

// Load is Data with the result asserted to *T.
func Load[T any](ctx context.Context, ix *Indexer, index string) (*T, error) {
	entity, err := ix.Data(ctx, index)
	if err != nil {
		return nil, err
	}
	doc, ok := entity.(*T)
	if !ok {
		return nil, fmt.Errorf("dataindexer: store returned %T, want %T: %w", entity, doc, ErrInvalidInput)
	}
	return doc, nil
}

// LoadSlice is DataSlice with every result asserted to *T.
func LoadSlice[T any](ctx context.Context, ix *Indexer, indexes []string) ([]*T, error) {
	entities, err := ix.DataSlice(ctx, indexes)
	if err != nil {
		return nil, err
	}
	docs := make([]*T, 0, len(entities))
	for _, entity := range entities {
		doc, ok := entity.(*T)
		if !ok {
			return nil, fmt.Errorf("dataindexer: store returned %T, want %T: %w", entity, doc, ErrInvalidInput)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
