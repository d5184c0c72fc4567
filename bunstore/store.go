// Package bunstore backs the dataindexer with bun models on PostgreSQL. The
// root type of a model is the model itself and its identifier fields are the
// columns tagged pk.
package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/ripkitten-co/dataindexer"
	"github.com/ripkitten-co/dataindexer/internal/meta"
	"github.com/ripkitten-co/dataindexer/internal/pg"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/schema"
	"go.uber.org/zap"
)

// ErrNoPrimaryKey is returned for models without pk columns.
var ErrNoPrimaryKey = errors.New("model has no primary key")

// Store resolves entities through a *bun.DB.
type Store struct {
	db     *bun.DB
	pool   *pg.Pool
	logger *zap.Logger
}

var (
	_ dataindexer.Store       = (*Store)(nil)
	_ dataindexer.FieldReader = (*Store)(nil)
)

// New returns a Store over db. The caller keeps ownership of db.
func New(db *bun.DB, opts ...Option) *Store {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return &Store{db: db, logger: cfg.logger}
}

// Open connects to PostgreSQL through a pgx pool and wraps it in a bun
// database with the pg dialect. Close releases both.
func Open(ctx context.Context, connString string, opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	pool, err := pg.NewPool(ctx, connString, cfg.maxConns)
	if err != nil {
		return nil, fmt.Errorf("bunstore: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bunstore: ping: %w", err)
	}
	sqlDB := stdlib.OpenDBFromPool(pool.PgxPool())
	return &Store{
		db:     bun.NewDB(sqlDB, pgdialect.New()),
		pool:   pool,
		logger: cfg.logger,
	}, nil
}

// DB returns the underlying *bun.DB.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Close closes the database if the Store opened it.
func (s *Store) Close() error {
	if s.pool == nil {
		return nil
	}
	err := s.db.Close()
	s.pool.Close()
	return err
}

func (s *Store) table(t reflect.Type) (*schema.Table, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("bunstore: %s: %w", t, dataindexer.ErrUnsupportedType)
	}
	return s.db.Table(t), nil
}

func (s *Store) RootType(t reflect.Type) (reflect.Type, error) {
	table, err := s.table(t)
	if err != nil {
		return nil, err
	}
	return table.Type, nil
}

func (s *Store) IdentifierFields(root reflect.Type) ([]string, error) {
	table, err := s.table(root)
	if err != nil {
		return nil, err
	}
	if len(table.PKs) == 0 {
		return nil, fmt.Errorf("bunstore: %s: %w", root, ErrNoPrimaryKey)
	}
	names := make([]string, len(table.PKs))
	for i, f := range table.PKs {
		names[i] = f.Name
	}
	return names, nil
}

// ReadField reads the field mapped to column from entity.
func (s *Store) ReadField(entity any, column string) (any, error) {
	v := reflect.ValueOf(entity)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, fmt.Errorf("bunstore: %w", meta.ErrNilEntity)
		}
		v = v.Elem()
	}
	table, err := s.table(v.Type())
	if err != nil {
		return nil, err
	}
	f, ok := table.FieldMap[column]
	if !ok {
		return nil, fmt.Errorf("bunstore: %s.%s: %w", table.Name, column, meta.ErrUnknownField)
	}
	return f.Value(v).Interface(), nil
}

type condition struct {
	column string
	value  any
}

// conditions converts crit into pk column values in pk order. ok is false
// when a value can't be represented in its column, so no row can match.
func (s *Store) conditions(table *schema.Table, crit dataindexer.Criteria) (conds []condition, ok bool, err error) {
	conds = make([]condition, len(table.PKs))
	for i, f := range table.PKs {
		raw, found := crit[f.Name]
		if !found {
			return nil, false, fmt.Errorf("bunstore: criteria %s: missing %s", crit, f.Name)
		}
		v, err := meta.Coerce(raw, f.StructField.Type)
		if err != nil {
			s.logger.Debug("criteria value doesn't fit column",
				zap.String("table", table.Name),
				zap.String("column", f.Name),
				zap.Error(err),
			)
			return nil, false, nil
		}
		conds[i] = condition{column: f.Name, value: v}
	}
	return conds, true, nil
}

func (s *Store) FindOne(ctx context.Context, root reflect.Type, crit dataindexer.Criteria) (any, error) {
	table, err := s.table(root)
	if err != nil {
		return nil, err
	}
	conds, ok, err := s.conditions(table, crit)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("bunstore: %s %s: %w", table.Name, crit, dataindexer.ErrNotFound)
	}

	doc := reflect.New(table.Type).Interface()
	q := s.db.NewSelect().Model(doc)
	for _, c := range conds {
		q = q.Where("?TableAlias.? = ?", bun.Ident(c.column), c.value)
	}
	if err := q.Limit(1).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("bunstore: %s %s: %w", table.Name, crit, dataindexer.ErrNotFound)
		}
		return nil, fmt.Errorf("bunstore: %s %s: %w", table.Name, crit, err)
	}
	return doc, nil
}

// FindMany loads every row of crit in one query. Single-column keys use IN,
// composite keys an OR of per-row conjunctions.
func (s *Store) FindMany(ctx context.Context, root reflect.Type, crit dataindexer.SliceCriteria) ([]any, error) {
	table, err := s.table(root)
	if err != nil {
		return nil, err
	}

	n := crit.Len()
	rows := make([][]condition, 0, n)
	for i := 0; i < n; i++ {
		conds, ok, err := s.conditions(table, crit.Row(i))
		if err != nil {
			return nil, err
		}
		if ok {
			rows = append(rows, conds)
		}
	}
	if len(rows) == 0 {
		return []any{}, nil
	}

	dest := reflect.New(reflect.SliceOf(reflect.PointerTo(table.Type)))
	q := matchRows(s.db.NewSelect().Model(dest.Interface()), rows)
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("bunstore: %s find many: %w", table.Name, err)
	}

	found := dest.Elem()
	out := make([]any, found.Len())
	for i := range out {
		out[i] = found.Index(i).Interface()
	}
	return out, nil
}

func matchRows(q *bun.SelectQuery, rows [][]condition) *bun.SelectQuery {
	if len(rows[0]) == 1 {
		values := make([]any, len(rows))
		for i, row := range rows {
			values[i] = row[0].value
		}
		return q.Where("?TableAlias.? IN (?)", bun.Ident(rows[0][0].column), bun.In(values))
	}

	return q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
		for _, row := range rows {
			q = q.WhereGroup(" OR ", func(q *bun.SelectQuery) *bun.SelectQuery {
				for _, c := range row {
					q = q.Where("?TableAlias.? = ?", bun.Ident(c.column), c.value)
				}
				return q
			})
		}
		return q
	})
}
