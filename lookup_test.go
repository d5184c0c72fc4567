package dataindexer_test

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/ripkitten-co/dataindexer"
	"github.com/ripkitten-co/dataindexer/memstore"
)

func seededStore(t *testing.T, entities ...any) *memstore.Store {
	t.Helper()
	s := memstore.New()
	for _, e := range entities {
		if err := s.Put(e); err != nil {
			t.Fatalf("put %+v: %v", e, err)
		}
	}
	return s
}

func TestData_SimpleKey(t *testing.T) {
	store := seededStore(t, &News{ID: "foo", Title: "Foo"})
	ix := newIndexer[News](t, store)

	got, err := dataindexer.Load[News](context.Background(), ix, "foo")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ID != "foo" || got.Title != "Foo" {
		t.Errorf("got %+v", got)
	}
}

func TestData_CompositeKey(t *testing.T) {
	store := seededStore(t, &Post{A: "foo", B: "bar", Body: "x"})
	ix := newIndexer[Post](t, store)

	got, err := ix.Data(context.Background(), "foo|bar")
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	post := got.(*Post)
	if post.A != "foo" || post.B != "bar" {
		t.Errorf("got %+v", post)
	}
}

func TestData_SeparatorInsideID(t *testing.T) {
	ix := newIndexer[Post](t, memstore.New())
	_, err := ix.Data(context.Background(), "foo||bar")
	if !errors.Is(err, dataindexer.ErrAmbiguousIndex) {
		t.Errorf("got %v, want ErrAmbiguousIndex", err)
	}
}

func TestData_NotFound(t *testing.T) {
	ix := newIndexer[Post](t, memstore.New())
	_, err := ix.Data(context.Background(), "foo|bar")
	if !errors.Is(err, dataindexer.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if !strings.Contains(err.Error(), `a="foo"`) || !strings.Contains(err.Error(), `b="bar"`) {
		t.Errorf("error %q should list the criteria", err)
	}
}

func TestData_NilResultIsNotFound(t *testing.T) {
	ix := newIndexer[News](t, schemaStub{fields: []string{"id"}})
	_, err := ix.Data(context.Background(), "foo")
	if !errors.Is(err, dataindexer.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestData_StoreError(t *testing.T) {
	cause := errors.New("connection reset")
	ix := newIndexer[News](t, &countingStore{Store: memstore.New(), err: cause})
	_, err := ix.Data(context.Background(), "foo")
	if !errors.Is(err, cause) {
		t.Errorf("got %v, want store error", err)
	}
	if errors.Is(err, dataindexer.ErrNotFound) {
		t.Error("store failure must not be reported as not found")
	}
}

func TestData_Subtype(t *testing.T) {
	car := &Car{Vehicle: Vehicle{ID: 9, Brand: "volvo"}, Doors: 5}
	ix := newIndexer[Vehicle](t, seededStore(t, car))

	got, err := ix.Data(context.Background(), "9")
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if got != car {
		t.Errorf("got %+v, want the stored car", got)
	}
}

func TestDataSlice(t *testing.T) {
	store := seededStore(t,
		&Post{A: "foo", B: "foo1"},
		&Post{A: "bar", B: "bar1"},
		&Post{A: "foo", B: "bar1"},
	)
	ix := newIndexer[Post](t, store)

	got, err := dataindexer.LoadSlice[Post](context.Background(), ix, []string{"foo|foo1", "bar|bar1", "baz|baz1"})
	if err != nil {
		t.Fatalf("LoadSlice: %v", err)
	}
	var indexes []string
	for _, p := range got {
		indexes = append(indexes, p.A+"|"+p.B)
	}
	sort.Strings(indexes)
	want := []string{"bar|bar1", "foo|foo1"}
	if !reflect.DeepEqual(indexes, want) {
		t.Errorf("got %v, want %v (tuples, not the cross product)", indexes, want)
	}
}

func TestDataSlice_Empty(t *testing.T) {
	store := &countingStore{Store: seededStore(t, &News{ID: "foo"})}
	ix := newIndexer[News](t, store)

	got, err := ix.DataSlice(context.Background(), nil)
	if err != nil {
		t.Fatalf("DataSlice: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want no entities", got)
	}
	if store.findMany != 0 {
		t.Errorf("store queried %d times for an empty batch", store.findMany)
	}
}

func TestDataSlice_Ambiguous(t *testing.T) {
	store := &countingStore{Store: memstore.New()}
	ix := newIndexer[Post](t, store)

	_, err := ix.DataSlice(context.Background(), []string{"foo|foo1", "foo||bar"})
	if !errors.Is(err, dataindexer.ErrAmbiguousIndex) {
		t.Fatalf("got %v, want ErrAmbiguousIndex", err)
	}
	if store.findMany != 0 {
		t.Error("store must not be queried when decoding fails")
	}
}

func TestLoad_TypeMismatch(t *testing.T) {
	ix := newIndexer[Vehicle](t, seededStore(t, &Car{Vehicle: Vehicle{ID: 1}}))
	_, err := dataindexer.Load[Vehicle](context.Background(), ix, "1")
	if !errors.Is(err, dataindexer.ErrInvalidInput) {
		t.Errorf("got %v, want ErrInvalidInput", err)
	}
}

type countingStore struct {
	*memstore.Store
	err      error
	findMany int
}

func (c *countingStore) FindOne(ctx context.Context, root reflect.Type, crit dataindexer.Criteria) (any, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.Store.FindOne(ctx, root, crit)
}

func (c *countingStore) FindMany(ctx context.Context, root reflect.Type, crit dataindexer.SliceCriteria) ([]any, error) {
	c.findMany++
	return c.Store.FindMany(ctx, root, crit)
}
