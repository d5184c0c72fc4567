package bunstore

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/ripkitten-co/dataindexer"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

type Post struct {
	bun.BaseModel `bun:"table:posts,alias:p"`

	Author string `bun:"author,pk"`
	Slug   string `bun:"slug,pk"`
	Title  string `bun:"title"`
}

type Account struct {
	ID    int64  `bun:"id,pk"`
	Email string `bun:"email"`
}

type Label struct {
	Name string `bun:"name"`
}

func offlineStore(t *testing.T) *Store {
	t.Helper()
	cfg, err := pgx.ParseConfig("host=localhost user=dataindexer dbname=dataindexer sslmode=disable")
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	db := bun.NewDB(stdlib.OpenDB(*cfg), pgdialect.New())
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestIdentifierFields(t *testing.T) {
	s := offlineStore(t)

	tests := []struct {
		name string
		typ  reflect.Type
		want []string
	}{
		{"composite", reflect.TypeOf(Post{}), []string{"author", "slug"}},
		{"single", reflect.TypeOf(Account{}), []string{"id"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, err := s.RootType(reflect.PointerTo(tt.typ))
			if err != nil {
				t.Fatalf("RootType: %v", err)
			}
			if root != tt.typ {
				t.Errorf("root = %s, want %s", root, tt.typ)
			}
			got, err := s.IdentifierFields(root)
			if err != nil {
				t.Fatalf("IdentifierFields: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIdentifierFields_Rejects(t *testing.T) {
	s := offlineStore(t)

	if _, err := s.IdentifierFields(reflect.TypeOf(Label{})); !errors.Is(err, ErrNoPrimaryKey) {
		t.Errorf("got %v, want ErrNoPrimaryKey", err)
	}
	if _, err := s.RootType(reflect.TypeOf("")); !errors.Is(err, dataindexer.ErrUnsupportedType) {
		t.Errorf("got %v, want ErrUnsupportedType", err)
	}
}

func TestReadField(t *testing.T) {
	s := offlineStore(t)

	got, err := s.ReadField(&Account{ID: 7}, "id")
	if err != nil {
		t.Fatalf("ReadField: %v", err)
	}
	if got != int64(7) {
		t.Errorf("got %v (%T), want int64 7", got, got)
	}
	if _, err := s.ReadField(Account{}, "missing"); err == nil {
		t.Error("expected error for unknown column")
	}
}

func TestIndexer_UsesPKColumns(t *testing.T) {
	s := offlineStore(t)

	ix, err := dataindexer.For[Post](s, dataindexer.WithSeparator("/"))
	if err != nil {
		t.Fatalf("indexer: %v", err)
	}
	index, err := ix.Index(&Post{Author: "ann", Slug: "hello"})
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if index != "ann/hello" {
		t.Errorf("index = %q, want ann/hello", index)
	}
}

func TestConditions(t *testing.T) {
	s := offlineStore(t)
	table, _ := s.table(reflect.TypeOf(Account{}))

	conds, ok, err := s.conditions(table, dataindexer.Criteria{"id": "12"})
	if err != nil || !ok {
		t.Fatalf("conditions: ok=%v err=%v", ok, err)
	}
	if conds[0].value != int64(12) {
		t.Errorf("value = %v (%T), want int64 12", conds[0].value, conds[0].value)
	}

	if _, ok, _ := s.conditions(table, dataindexer.Criteria{"id": "twelve"}); ok {
		t.Error("non-numeric id should not produce a condition")
	}
}

func TestMatchRows(t *testing.T) {
	s := offlineStore(t)

	tests := []struct {
		name string
		rows [][]condition
		want []string
	}{
		{
			name: "single column",
			rows: [][]condition{{{"author", "ann"}}, {{"author", "bob"}}},
			want: []string{`"p"."author" IN ('ann', 'bob')`},
		},
		{
			name: "composite",
			rows: [][]condition{
				{{"author", "ann"}, {"slug", "a"}},
				{{"author", "bob"}, {"slug", "b"}},
			},
			want: []string{`"p"."author" = 'ann'`, `"p"."slug" = 'a'`, " OR ", `"p"."slug" = 'b'`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var posts []*Post
			sql := matchRows(s.db.NewSelect().Model(&posts), tt.rows).String()
			for _, w := range tt.want {
				if !strings.Contains(sql, w) {
					t.Errorf("sql %q should contain %q", sql, w)
				}
			}
		})
	}
}

type Coupon struct {
	Code  *string `bun:"code,pk"`
	Value int     `bun:"value"`
}

type Reading struct {
	TakenAt time.Time `bun:"taken_at,pk"`
	Celsius float64   `bun:"celsius"`
}

func TestIndexer_PointerKey(t *testing.T) {
	s := offlineStore(t)
	ix, err := dataindexer.For[Coupon](s)
	if err != nil {
		t.Fatalf("indexer: %v", err)
	}

	code := "SPRING24"
	index, err := ix.Index(&Coupon{Code: &code})
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if index != "SPRING24" {
		t.Errorf("index = %q, want SPRING24", index)
	}
}

func TestIndexer_TimeKeyRoundTrip(t *testing.T) {
	s := offlineStore(t)
	ix, err := dataindexer.For[Reading](s)
	if err != nil {
		t.Fatalf("indexer: %v", err)
	}

	taken := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	index, err := ix.Index(&Reading{TakenAt: taken})
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	crit, err := ix.Criteria(index)
	if err != nil {
		t.Fatalf("criteria: %v", err)
	}

	table, _ := s.table(reflect.TypeOf(Reading{}))
	conds, ok, err := s.conditions(table, crit)
	if err != nil || !ok {
		t.Fatalf("conditions(%v): ok=%v err=%v", crit, ok, err)
	}
	if got := conds[0].value.(time.Time); !got.Equal(taken) {
		t.Errorf("taken_at = %v, want %v", got, taken)
	}
}

func TestOpen_FailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := Open(ctx, "postgres://dataindexer@127.0.0.1:1/dataindexer?sslmode=disable&connect_timeout=1"); err == nil {
		t.Fatal("expected an error connecting to a closed port")
	}
}
