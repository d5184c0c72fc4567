// Package pgstore is a PostgreSQL entity store for the dataindexer. Each
// registered root type lives in its own table as JSONB documents keyed by
// the entity's identifier tuple.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ripkitten-co/dataindexer"
	"github.com/ripkitten-co/dataindexer/internal/codecs"
	"github.com/ripkitten-co/dataindexer/internal/keys"
	"github.com/ripkitten-co/dataindexer/internal/meta"
	"github.com/ripkitten-co/dataindexer/internal/pg"
	"github.com/ripkitten-co/dataindexer/schema"
	"go.uber.org/zap"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// undefinedTable is the SQLSTATE for a relation that doesn't exist.
const undefinedTable = "42P01"

var (
	// ErrNotRegistered is returned for types no collection was registered for.
	ErrNotRegistered = errors.New("type not registered")

	// ErrAlreadyRegistered is returned when a root type or collection name is
	// registered twice.
	ErrAlreadyRegistered = errors.New("already registered")
)

type collection struct {
	name   string
	table  string
	root   reflect.Type
	fields []string
}

// Store keeps entities in PostgreSQL. It is safe for concurrent use.
type Store struct {
	pool   *pg.Pool
	exec   pg.Executor
	codec  codecs.Codec
	schema *schema.Bootstrap
	logger *zap.Logger

	mu       sync.RWMutex
	byType   map[reflect.Type]*collection
	byName   map[string]*collection
	subtypes map[string]reflect.Type
}

var _ dataindexer.Store = (*Store)(nil)

// New connects to PostgreSQL and returns a Store.
func New(ctx context.Context, connString string, opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	pool, err := pg.NewPool(ctx, connString, cfg.maxConns)
	if err != nil {
		return nil, fmt.Errorf("pgstore: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	return newStore(pool, cfg), nil
}

// NewWithPool returns a Store over an existing pool. Close closes the pool.
func NewWithPool(pool *pgxpool.Pool, opts ...Option) *Store {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return newStore(pg.Wrap(pool), cfg)
}

func newStore(pool *pg.Pool, cfg *config) *Store {
	return &Store{
		pool:     pool,
		exec:     pool,
		codec:    codecs.NewEntity(cfg.codec),
		schema:   schema.New(),
		logger:   cfg.logger,
		byType:   make(map[reflect.Type]*collection),
		byName:   make(map[string]*collection),
		subtypes: make(map[string]reflect.Type),
	}
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Register maps the root type of T to the named collection. Subtypes of a
// registered root are stored in the root's collection.
func Register[T any](s *Store, name string) error {
	return s.register(reflect.TypeOf((*T)(nil)).Elem(), name)
}

func (s *Store) register(t reflect.Type, name string) error {
	if err := schema.ValidateCollectionName(name); err != nil {
		return fmt.Errorf("pgstore: %w", err)
	}
	root, err := meta.RootOf(t)
	if err != nil {
		return fmt.Errorf("pgstore: register %s: %w", name, err)
	}
	fields, err := meta.IdentifierNames(root)
	if err != nil {
		return fmt.Errorf("pgstore: register %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byType[root]; ok {
		return fmt.Errorf("pgstore: register %s: type %s: %w", name, root, ErrAlreadyRegistered)
	}
	if _, ok := s.byName[name]; ok {
		return fmt.Errorf("pgstore: register %s: %w", name, ErrAlreadyRegistered)
	}
	c := &collection{name: name, table: schema.TableName(name), root: root, fields: fields}
	s.byType[root] = c
	s.byName[name] = c
	s.subtypes[meta.TypeName(root)] = root
	s.subtypes[meta.TypeName(t)] = t
	s.logger.Debug("collection registered", zap.String("collection", name), zap.Stringer("type", root))
	return nil
}

// RegisterSubtype makes documents written for T decode as T. T's root must
// already be registered. Put registers the types it writes, so this is only
// needed to read documents written by another process.
func RegisterSubtype[T any](s *Store) error {
	t := reflect.TypeOf((*T)(nil)).Elem()
	root, err := s.RootType(t)
	if err != nil {
		return fmt.Errorf("pgstore: register subtype %s: %w", t, err)
	}
	s.remember(t, root)
	return nil
}

func (s *Store) remember(t, root reflect.Type) {
	name := meta.TypeName(t)
	s.mu.RLock()
	known, ok := s.subtypes[name]
	s.mu.RUnlock()
	if ok && known == t {
		return
	}
	s.mu.Lock()
	s.subtypes[name] = t
	s.mu.Unlock()
	s.logger.Debug("subtype registered", zap.String("type", name), zap.Stringer("root", root))
}

func (s *Store) lookup(root reflect.Type) (*collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byType[root]
	if !ok {
		return nil, fmt.Errorf("pgstore: %s: %w", root, ErrNotRegistered)
	}
	return c, nil
}

func (s *Store) ensure(ctx context.Context, c *collection) error {
	return s.schema.EnsureCollection(ctx, s.exec, c.name)
}

func (s *Store) RootType(t reflect.Type) (reflect.Type, error) {
	root, err := meta.RootOf(t)
	if err != nil {
		return nil, err
	}
	if _, err := s.lookup(root); err != nil {
		return nil, err
	}
	return root, nil
}

func (s *Store) IdentifierFields(root reflect.Type) ([]string, error) {
	c, err := s.lookup(root)
	if err != nil {
		return nil, err
	}
	return c.fields, nil
}

func (s *Store) locate(entity any) (*collection, reflect.Type, string, error) {
	t := reflect.TypeOf(entity)
	if t == nil {
		return nil, nil, "", fmt.Errorf("pgstore: %w", meta.ErrNilEntity)
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	root, err := s.RootType(t)
	if err != nil {
		return nil, nil, "", err
	}
	c, err := s.lookup(root)
	if err != nil {
		return nil, nil, "", err
	}
	tuple, err := meta.Tuple(entity)
	if err != nil {
		return nil, nil, "", fmt.Errorf("collection %s: %w", c.name, err)
	}
	key, err := keys.Tuple(tuple)
	if err != nil {
		return nil, nil, "", fmt.Errorf("collection %s: %w", c.name, err)
	}
	return c, t, key, nil
}

// withTable ensures the collection table exists and runs fn. When the table
// was dropped behind the store's back, the cached bootstrap state is reset
// and fn runs once more against a recreated table.
func (s *Store) withTable(ctx context.Context, c *collection, fn func() error) error {
	if err := s.ensure(ctx, c); err != nil {
		return err
	}
	err := fn()
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != undefinedTable {
		return err
	}
	s.logger.Warn("collection table missing, recreating", zap.String("collection", c.name))
	s.schema.Invalidate(c.name)
	if err := s.ensure(ctx, c); err != nil {
		return err
	}
	return fn()
}

// Put inserts entity or replaces the document stored under its identifier
// tuple. The entity's concrete type is stored with the document.
func (s *Store) Put(ctx context.Context, entity any) error {
	c, t, key, err := s.locate(entity)
	if err != nil {
		return err
	}
	s.remember(t, c.root)

	data, err := s.codec.Marshal(entity)
	if err != nil {
		return fmt.Errorf("collection %s: put %s: marshal: %w", c.name, key, err)
	}

	query, args, err := psql.Insert(c.table).
		Columns("key", "type", "data").
		Values(key, meta.TypeName(t), data).
		Suffix("ON CONFLICT (key) DO UPDATE SET type = EXCLUDED.type, data = EXCLUDED.data, updated_at = now()").
		ToSql()
	if err != nil {
		return fmt.Errorf("collection %s: put %s: build sql: %w", c.name, key, err)
	}

	err = s.withTable(ctx, c, func() error {
		_, err := s.exec.Exec(ctx, query, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("collection %s: put %s: %w", c.name, key, err)
	}
	return nil
}

// Delete removes the document stored under entity's identifier tuple.
func (s *Store) Delete(ctx context.Context, entity any) error {
	c, _, key, err := s.locate(entity)
	if err != nil {
		return err
	}

	query, args, err := psql.Delete(c.table).Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return fmt.Errorf("collection %s: delete %s: build sql: %w", c.name, key, err)
	}

	var tag pgconn.CommandTag
	err = s.withTable(ctx, c, func() error {
		tag, err = s.exec.Exec(ctx, query, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("collection %s: delete %s: %w", c.name, key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("collection %s: delete %s: %w", c.name, key, dataindexer.ErrNotFound)
	}
	return nil
}

func (s *Store) FindOne(ctx context.Context, root reflect.Type, crit dataindexer.Criteria) (any, error) {
	c, err := s.lookup(root)
	if err != nil {
		return nil, err
	}
	key, err := keys.FromCriteria(c.fields, crit)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", c.name, err)
	}

	query, args, err := psql.Select("type", "data").From(c.table).Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("collection %s: find %s: build sql: %w", c.name, key, err)
	}

	var (
		typ  string
		data []byte
	)
	err = s.withTable(ctx, c, func() error {
		return s.exec.QueryRow(ctx, query, args...).Scan(&typ, &data)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("collection %s: find %s: %w", c.name, key, dataindexer.ErrNotFound)
		}
		return nil, fmt.Errorf("collection %s: find %s: %w", c.name, key, err)
	}
	return s.decode(c, typ, data)
}

func (s *Store) FindMany(ctx context.Context, root reflect.Type, crit dataindexer.SliceCriteria) ([]any, error) {
	c, err := s.lookup(root)
	if err != nil {
		return nil, err
	}
	n := crit.Len()
	if n == 0 {
		return []any{}, nil
	}
	rowKeys := make([]string, n)
	for i := 0; i < n; i++ {
		rowKeys[i], err = keys.FromCriteria(c.fields, crit.Row(i))
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", c.name, err)
		}
	}

	query, args, err := psql.Select("type", "data").From(c.table).Where(sq.Eq{"key": rowKeys}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("collection %s: find many: build sql: %w", c.name, err)
	}

	var out []any
	err = s.withTable(ctx, c, func() error {
		out, err = s.scanMany(ctx, c, query, args, n)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("collection %s: find many: %w", c.name, err)
	}
	return out, nil
}

func (s *Store) scanMany(ctx context.Context, c *collection, query string, args []any, n int) ([]any, error) {
	rows, err := s.exec.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]any, 0, n)
	for rows.Next() {
		var (
			typ  string
			data []byte
		)
		if err := rows.Scan(&typ, &data); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		entity, err := s.decode(c, typ, data)
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, rows.Err()
}

// decode unmarshals data into the type it was written as. Documents of an
// unknown type decode as the collection's root.
func (s *Store) decode(c *collection, typ string, data []byte) (any, error) {
	target := c.root
	s.mu.RLock()
	if t, ok := s.subtypes[typ]; ok {
		target = t
	}
	s.mu.RUnlock()

	doc := reflect.New(target)
	if err := s.codec.Unmarshal(data, doc.Interface()); err != nil {
		return nil, fmt.Errorf("collection %s: unmarshal %s: %w", c.name, target, err)
	}
	return doc.Interface(), nil
}
