// Package redisstore is a Redis entity store for the dataindexer. Entities
// are kept as JSON strings under "<prefix><collection>:<identifier tuple>".
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/ripkitten-co/dataindexer"
	"github.com/ripkitten-co/dataindexer/internal/codecs"
	"github.com/ripkitten-co/dataindexer/internal/keys"
	"github.com/ripkitten-co/dataindexer/internal/meta"
	"go.uber.org/zap"
)

// DefaultPrefix namespaces every key the store writes.
const DefaultPrefix = "dataindexer:"

var (
	ErrNotRegistered     = errors.New("type not registered")
	ErrAlreadyRegistered = errors.New("already registered")
)

// envelope is the stored value: the entity's concrete type next to its
// document.
type envelope struct {
	Type string              `json:"type"`
	Data jsoniter.RawMessage `json:"data"`
}

type collection struct {
	name   string
	root   reflect.Type
	fields []string
}

// Store keeps entities in Redis. It is safe for concurrent use.
type Store struct {
	client redis.UniversalClient
	codec  codecs.Codec
	raw    codecs.Codec
	prefix string
	ttl    time.Duration
	logger *zap.Logger

	mu       sync.RWMutex
	byType   map[reflect.Type]*collection
	byName   map[string]*collection
	subtypes map[string]reflect.Type
}

var _ dataindexer.Store = (*Store)(nil)

// New returns a Store over client. The caller keeps ownership of the client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return &Store{
		client:   client,
		codec:    codecs.NewEntity(cfg.codec),
		raw:      cfg.codec,
		prefix:   cfg.prefix,
		ttl:      cfg.ttl,
		logger:   cfg.logger,
		byType:   make(map[reflect.Type]*collection),
		byName:   make(map[string]*collection),
		subtypes: make(map[string]reflect.Type),
	}
}

// Register maps the root type of T to the named collection.
func Register[T any](s *Store, name string) error {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if name == "" {
		return fmt.Errorf("redisstore: register %s: empty collection name", t)
	}
	root, err := meta.RootOf(t)
	if err != nil {
		return fmt.Errorf("redisstore: register %s: %w", name, err)
	}
	fields, err := meta.IdentifierNames(root)
	if err != nil {
		return fmt.Errorf("redisstore: register %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byType[root]; ok {
		return fmt.Errorf("redisstore: register %s: type %s: %w", name, root, ErrAlreadyRegistered)
	}
	if _, ok := s.byName[name]; ok {
		return fmt.Errorf("redisstore: register %s: %w", name, ErrAlreadyRegistered)
	}
	c := &collection{name: name, root: root, fields: fields}
	s.byType[root] = c
	s.byName[name] = c
	s.subtypes[meta.TypeName(root)] = root
	s.subtypes[meta.TypeName(t)] = t
	s.logger.Debug("collection registered", zap.String("collection", name), zap.Stringer("type", root))
	return nil
}

// RegisterSubtype makes entities written as T decode as T. T's root must
// already be registered. Put registers the types it writes, so this is only
// needed to read entities written by another process.
func RegisterSubtype[T any](s *Store) error {
	t := reflect.TypeOf((*T)(nil)).Elem()
	root, err := s.RootType(t)
	if err != nil {
		return fmt.Errorf("redisstore: register subtype %s: %w", t, err)
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
		return nil, fmt.Errorf("redisstore: %s: %w", root, ErrNotRegistered)
	}
	return c, nil
}

func (s *Store) key(c *collection, tuple string) string {
	return s.prefix + c.name + ":" + tuple
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
		return nil, nil, "", fmt.Errorf("redisstore: %w", meta.ErrNilEntity)
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
	k, err := keys.Tuple(tuple)
	if err != nil {
		return nil, nil, "", fmt.Errorf("collection %s: %w", c.name, err)
	}
	return c, t, s.key(c, k), nil
}

// Put writes entity under its identifier tuple, expiring after the
// configured TTL when one is set. The entity's concrete type is stored with
// it.
func (s *Store) Put(ctx context.Context, entity any) error {
	c, t, key, err := s.locate(entity)
	if err != nil {
		return err
	}
	s.remember(t, c.root)

	doc, err := s.codec.Marshal(entity)
	if err != nil {
		return fmt.Errorf("collection %s: put %s: marshal: %w", c.name, key, err)
	}
	data, err := s.raw.Marshal(envelope{Type: meta.TypeName(t), Data: doc})
	if err != nil {
		return fmt.Errorf("collection %s: put %s: marshal: %w", c.name, key, err)
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("collection %s: put %s: %w", c.name, key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, entity any) error {
	c, _, key, err := s.locate(entity)
	if err != nil {
		return err
	}
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("collection %s: delete %s: %w", c.name, key, err)
	}
	if n == 0 {
		return fmt.Errorf("collection %s: delete %s: %w", c.name, key, dataindexer.ErrNotFound)
	}
	return nil
}

func (s *Store) FindOne(ctx context.Context, root reflect.Type, crit dataindexer.Criteria) (any, error) {
	c, err := s.lookup(root)
	if err != nil {
		return nil, err
	}
	k, err := keys.FromCriteria(c.fields, crit)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", c.name, err)
	}
	key := s.key(c, k)

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("collection %s: find %s: %w", c.name, key, dataindexer.ErrNotFound)
		}
		return nil, fmt.Errorf("collection %s: find %s: %w", c.name, key, err)
	}
	return s.decode(c, data)
}

// FindMany fetches every row of crit with a single MGET. Rows without a
// stored entity are skipped.
func (s *Store) FindMany(ctx context.Context, root reflect.Type, crit dataindexer.SliceCriteria) ([]any, error) {
	c, err := s.lookup(root)
	if err != nil {
		return nil, err
	}
	n := crit.Len()
	if n == 0 {
		return []any{}, nil
	}

	rowKeys := make([]string, 0, n)
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		k, err := keys.FromCriteria(c.fields, crit.Row(i))
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", c.name, err)
		}
		key := s.key(c, k)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		rowKeys = append(rowKeys, key)
	}

	vals, err := s.client.MGet(ctx, rowKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("collection %s: find many: %w", c.name, err)
	}

	out := make([]any, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		entity, err := s.decode(c, []byte(str))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rowKeys[i], err)
		}
		out = append(out, entity)
	}
	return out, nil
}

// decode unwraps a stored value into the type it was written as. Entities
// of an unknown type decode as the collection's root.
func (s *Store) decode(c *collection, data []byte) (any, error) {
	var env envelope
	if err := s.raw.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("collection %s: unmarshal: %w", c.name, err)
	}

	target := c.root
	s.mu.RLock()
	if t, ok := s.subtypes[env.Type]; ok {
		target = t
	}
	s.mu.RUnlock()

	doc := reflect.New(target)
	if err := s.codec.Unmarshal(env.Data, doc.Interface()); err != nil {
		return nil, fmt.Errorf("collection %s: unmarshal %s: %w", c.name, target, err)
	}
	return doc.Interface(), nil
}
