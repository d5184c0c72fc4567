package schema

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/ripkitten-co/dataindexer/internal/pg"
)

// TablePrefix is prepended to collection names to form table names.
const TablePrefix = "dataindexer_"

var validName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,49}$`)

// ValidateCollectionName checks that name is a valid collection identifier
// (alphanumeric + underscores, max 50 characters, starts with a letter).
func ValidateCollectionName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("schema: invalid collection name %q: must be alphanumeric with underscores, max 50 chars", name)
	}
	return nil
}

// TableName returns the table holding the named collection.
func TableName(collection string) string {
	return TablePrefix + collection
}

func collectionDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	key TEXT PRIMARY KEY,
	type TEXT NOT NULL DEFAULT '',
	data JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, table)
}

// Bootstrap manages idempotent creation of collection tables. It caches
// which tables have been created to avoid repeated DDL.
type Bootstrap struct {
	tables sync.Map
}

func New() *Bootstrap {
	return &Bootstrap{}
}

// EnsureCollection creates the table of the named collection if it doesn't exist.
func (b *Bootstrap) EnsureCollection(ctx context.Context, exec pg.Executor, name string) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	table := TableName(name)
	if _, ok := b.tables.Load(table); ok {
		return nil
	}
	if _, err := exec.Exec(ctx, collectionDDL(table)); err != nil {
		return fmt.Errorf("schema: create table %s: %w", table, err)
	}
	b.tables.Store(table, true)
	return nil
}

// Invalidate forgets the table of the named collection so the next
// EnsureCollection re-runs the DDL.
func (b *Bootstrap) Invalidate(name string) {
	b.tables.Delete(TableName(name))
}
