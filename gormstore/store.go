// Package gormstore backs the dataindexer with GORM models. The root type of
// a model is the model itself and its identifier fields are the primary key
// columns GORM derives for it.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/ripkitten-co/dataindexer"
	"github.com/ripkitten-co/dataindexer/internal/meta"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// ErrNoPrimaryKey is returned for models without primary key fields.
var ErrNoPrimaryKey = errors.New("model has no primary key")

// Store resolves entities through a *gorm.DB.
type Store struct {
	db     *gorm.DB
	cache  *sync.Map
	logger *zap.Logger
}

var (
	_ dataindexer.Store       = (*Store)(nil)
	_ dataindexer.FieldReader = (*Store)(nil)
)

// New returns a Store over db. The caller keeps ownership of db.
func New(db *gorm.DB, opts ...Option) *Store {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return &Store{db: db, cache: &sync.Map{}, logger: cfg.logger}
}

// Open connects to PostgreSQL with GORM's pgx-based driver.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("gormstore: open: %w", err)
	}
	return New(db, opts...), nil
}

// DB returns the underlying *gorm.DB.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) parse(t reflect.Type) (*schema.Schema, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("gormstore: %s: %w", t, dataindexer.ErrUnsupportedType)
	}
	sch, err := schema.Parse(reflect.New(t).Interface(), s.cache, s.db.NamingStrategy)
	if err != nil {
		return nil, fmt.Errorf("gormstore: parse %s: %w", t, err)
	}
	return sch, nil
}

func (s *Store) RootType(t reflect.Type) (reflect.Type, error) {
	sch, err := s.parse(t)
	if err != nil {
		return nil, err
	}
	return sch.ModelType, nil
}

// IdentifierFields returns the primary key column names of root in
// declaration order.
func (s *Store) IdentifierFields(root reflect.Type) ([]string, error) {
	sch, err := s.parse(root)
	if err != nil {
		return nil, err
	}
	if len(sch.PrimaryFields) == 0 {
		return nil, fmt.Errorf("gormstore: %s: %w", root, ErrNoPrimaryKey)
	}
	names := make([]string, len(sch.PrimaryFields))
	for i, f := range sch.PrimaryFields {
		names[i] = f.DBName
	}
	return names, nil
}

// ReadField reads the field mapped to column from entity.
func (s *Store) ReadField(entity any, column string) (any, error) {
	v := reflect.ValueOf(entity)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, fmt.Errorf("gormstore: %w", meta.ErrNilEntity)
		}
		v = v.Elem()
	}
	sch, err := s.parse(v.Type())
	if err != nil {
		return nil, err
	}
	f := sch.LookUpField(column)
	if f == nil {
		return nil, fmt.Errorf("gormstore: %s.%s: %w", sch.Name, column, meta.ErrUnknownField)
	}
	val, _ := f.ValueOf(context.Background(), v)
	return val, nil
}

// conditions converts crit into column values typed like the model's
// fields. ok is false when a value can't be represented in its column, so
// no row can match.
func (s *Store) conditions(sch *schema.Schema, crit dataindexer.Criteria) (cond map[string]any, ok bool, err error) {
	cond = make(map[string]any, len(sch.PrimaryFields))
	for _, f := range sch.PrimaryFields {
		raw, found := crit[f.DBName]
		if !found {
			return nil, false, fmt.Errorf("gormstore: criteria %s: missing %s", crit, f.DBName)
		}
		v, err := meta.Coerce(raw, f.FieldType)
		if err != nil {
			s.logger.Debug("criteria value doesn't fit column",
				zap.String("table", sch.Table),
				zap.String("column", f.DBName),
				zap.Error(err),
			)
			return nil, false, nil
		}
		cond[f.DBName] = v
	}
	return cond, true, nil
}

func (s *Store) FindOne(ctx context.Context, root reflect.Type, crit dataindexer.Criteria) (any, error) {
	sch, err := s.parse(root)
	if err != nil {
		return nil, err
	}
	cond, ok, err := s.conditions(sch, crit)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("gormstore: %s %s: %w", sch.Table, crit, dataindexer.ErrNotFound)
	}

	doc := reflect.New(sch.ModelType).Interface()
	err = s.db.WithContext(ctx).Where(cond).Take(doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("gormstore: %s %s: %w", sch.Table, crit, dataindexer.ErrNotFound)
		}
		return nil, fmt.Errorf("gormstore: %s %s: %w", sch.Table, crit, err)
	}
	return doc, nil
}

// FindMany loads every row of crit in one query. Single-column keys use IN,
// composite keys an OR of per-row conjunctions.
func (s *Store) FindMany(ctx context.Context, root reflect.Type, crit dataindexer.SliceCriteria) ([]any, error) {
	sch, err := s.parse(root)
	if err != nil {
		return nil, err
	}

	n := crit.Len()
	rows := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		cond, ok, err := s.conditions(sch, crit.Row(i))
		if err != nil {
			return nil, err
		}
		if ok {
			rows = append(rows, cond)
		}
	}
	if len(rows) == 0 {
		return []any{}, nil
	}

	dest := reflect.New(reflect.SliceOf(reflect.PointerTo(sch.ModelType)))
	err = s.db.WithContext(ctx).Where(matchRows(rows)).Find(dest.Interface()).Error
	if err != nil {
		return nil, fmt.Errorf("gormstore: %s find many: %w", sch.Table, err)
	}

	found := dest.Elem()
	out := make([]any, found.Len())
	for i := range out {
		out[i] = found.Index(i).Interface()
	}
	return out, nil
}

func matchRows(rows []map[string]any) clause.Expression {
	columns := make([]string, 0, len(rows[0]))
	for col := range rows[0] {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	if len(columns) == 1 {
		values := make([]any, len(rows))
		for i, row := range rows {
			values[i] = row[columns[0]]
		}
		return clause.IN{Column: clause.Column{Name: columns[0]}, Values: values}
	}

	exprs := make([]clause.Expression, len(rows))
	for i, row := range rows {
		eqs := make([]clause.Expression, len(columns))
		for j, col := range columns {
			eqs[j] = clause.Eq{Column: clause.Column{Name: col}, Value: row[col]}
		}
		exprs[i] = clause.And(eqs...)
	}
	return clause.Or(exprs...)
}
