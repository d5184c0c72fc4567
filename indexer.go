package dataindexer

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/ripkitten-co/dataindexer/internal/meta"
	"go.uber.org/zap"
)

// Indexer encodes entities of one root type into indexes and decodes indexes
// into lookup criteria. It is immutable after New and safe for concurrent use.
type Indexer struct {
	store     Store
	reader    FieldReader
	root      reflect.Type
	fields    []string
	separator string
	logger    *zap.Logger
}

// New returns an Indexer for the type of model, which may be a value, a
// pointer, or a typed nil pointer. The root type and identifier schema are
// resolved immediately so configuration errors surface here rather than on
// first use.
func New(store Store, model any, opts ...Option) (*Indexer, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	if cfg.separator == "" {
		return nil, fmt.Errorf("dataindexer: empty separator: %w", ErrInvalidInput)
	}

	t := reflect.TypeOf(model)
	if t == nil {
		return nil, fmt.Errorf("dataindexer: nil model: %w", ErrUnsupportedType)
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	root, err := store.RootType(t)
	if err != nil {
		return nil, unsupported(t, err)
	}
	fields, err := store.IdentifierFields(root)
	if err != nil {
		return nil, unsupported(root, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("dataindexer: %s has no identifier fields: %w", root, ErrUnsupportedType)
	}

	reader, ok := store.(FieldReader)
	if !ok {
		reader = metaReader{}
	}

	ix := &Indexer{
		store:     store,
		reader:    reader,
		root:      root,
		fields:    append([]string(nil), fields...),
		separator: cfg.separator,
		logger:    cfg.logger,
	}
	ix.logger.Debug("indexer configured",
		zap.Stringer("type", root),
		zap.Strings("fields", ix.fields),
		zap.String("separator", ix.separator),
	)
	return ix, nil
}

// For is New for the type parameter T.
func For[T any](store Store, opts ...Option) (*Indexer, error) {
	return New(store, (*T)(nil), opts...)
}

func unsupported(t reflect.Type, err error) error {
	if errors.Is(err, ErrUnsupportedType) {
		return fmt.Errorf("dataindexer: %s: %w", t, err)
	}
	return fmt.Errorf("dataindexer: %s: %w: %w", t, ErrUnsupportedType, err)
}

// Index returns the index of data: its identifier values joined with the
// separator, in schema order.
func (ix *Indexer) Index(data any) (string, error) {
	if err := ix.Validate(data); err != nil {
		return "", err
	}

	parts := make([]string, len(ix.fields))
	for i, field := range ix.fields {
		v, err := ix.reader.ReadField(data, field)
		if err != nil {
			return "", fmt.Errorf("dataindexer: read %s.%s: %w: %w", ix.root, field, ErrInvalidInput, err)
		}
		parts[i] = meta.Stringify(v)
	}
	return strings.Join(parts, ix.separator), nil
}

// Criteria splits index into one value per identifier field.
func (ix *Indexer) Criteria(index string) (Criteria, error) {
	parts, err := ix.split(index)
	if err != nil {
		return nil, fmt.Errorf("dataindexer: %w", err)
	}
	c := make(Criteria, len(ix.fields))
	for i, field := range ix.fields {
		c[field] = parts[i]
	}
	return c, nil
}

// SliceCriteria splits every index and lays the values out per field. A
// single malformed index fails the whole batch. An empty batch yields an
// empty slice for every field.
func (ix *Indexer) SliceCriteria(indexes []string) (SliceCriteria, error) {
	c := make(SliceCriteria, len(ix.fields))
	for _, field := range ix.fields {
		c[field] = make([]string, 0, len(indexes))
	}
	for n, index := range indexes {
		parts, err := ix.split(index)
		if err != nil {
			return nil, fmt.Errorf("dataindexer: index %d: %w", n, err)
		}
		for i, field := range ix.fields {
			c[field] = append(c[field], parts[i])
		}
	}
	return c, nil
}

func (ix *Indexer) split(index string) ([]string, error) {
	parts := strings.Split(index, ix.separator)
	if len(parts) != len(ix.fields) {
		return nil, fmt.Errorf(
			"can't split %q into %d parts on %q, consider a different separator: %w",
			index, len(ix.fields), ix.separator, ErrAmbiguousIndex,
		)
	}
	return parts, nil
}

// Validate reports whether data can be indexed: it must be a non-nil struct
// or struct pointer whose root type is the configured root.
func (ix *Indexer) Validate(data any) error {
	if data == nil {
		return fmt.Errorf("dataindexer: can index only structs, got nil: %w", ErrInvalidInput)
	}
	v := reflect.ValueOf(data)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return fmt.Errorf("dataindexer: can index only structs, got nil %s: %w", v.Type(), ErrInvalidInput)
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("dataindexer: can index only structs, got %s: %w", v.Type(), ErrInvalidInput)
	}

	root, err := ix.store.RootType(v.Type())
	if err != nil || root != ix.root {
		return fmt.Errorf("dataindexer: expected instance of %s instead of %s: %w", ix.root, v.Type(), ErrInvalidInput)
	}
	return nil
}

// Separator returns the separator joining index parts.
func (ix *Indexer) Separator() string { return ix.separator }

// Type returns the root type the Indexer was resolved against.
func (ix *Indexer) Type() reflect.Type { return ix.root }

// Fields returns a copy of the identifier schema.
func (ix *Indexer) Fields() []string {
	return append([]string(nil), ix.fields...)
}

type metaReader struct{}

func (metaReader) ReadField(entity any, field string) (any, error) {
	return meta.Read(entity, field)
}
