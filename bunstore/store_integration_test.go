//go:build integration

package bunstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ripkitten-co/dataindexer"
	"github.com/ripkitten-co/dataindexer/bunstore"
	"github.com/ripkitten-co/dataindexer/internal/testutil"
	"github.com/uptrace/bun"
)

type Post struct {
	bun.BaseModel `bun:"table:posts"`

	Author string `bun:"author,pk"`
	Slug   string `bun:"slug,pk"`
	Title  string `bun:"title"`
}

func setupStore(t *testing.T) *bunstore.Store {
	t.Helper()
	ctx := context.Background()
	store, err := bunstore.Open(ctx, testutil.SetupPostgres(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if _, err := store.DB().NewCreateTable().Model((*Post)(nil)).IfNotExists().Exec(ctx); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return store
}

func TestStore_LoadAndSlice(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	posts := []*Post{
		{Author: "ann", Slug: "a", Title: "one"},
		{Author: "ann", Slug: "b", Title: "two"},
		{Author: "bob", Slug: "a", Title: "three"},
	}
	if _, err := store.DB().NewInsert().Model(&posts).Exec(ctx); err != nil {
		t.Fatalf("insert: %v", err)
	}

	ix, err := dataindexer.For[Post](store)
	if err != nil {
		t.Fatalf("indexer: %v", err)
	}

	got, err := dataindexer.Load[Post](ctx, ix, "ann|b")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Title != "two" {
		t.Errorf("title = %q, want two", got.Title)
	}

	if _, err := ix.Data(ctx, "bob|b"); !errors.Is(err, dataindexer.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}

	many, err := dataindexer.LoadSlice[Post](ctx, ix, []string{"ann|a", "bob|a", "bob|b"})
	if err != nil {
		t.Fatalf("load slice: %v", err)
	}
	if len(many) != 2 {
		t.Errorf("got %d posts, want 2", len(many))
	}
}
