package pgstore

import (
	"github.com/ripkitten-co/dataindexer/internal/codecs"
	"go.uber.org/zap"
)

type config struct {
	codec    codecs.Codec
	logger   *zap.Logger
	maxConns int32
}

func defaultConfig() *config {
	return &config{
		codec:  codecs.NewJSONIter(),
		logger: zap.NewNop(),
	}
}

// Option configures a Store.
type Option func(*config)

// WithCodec sets the codec documents are encoded with. Entity fields are
// flattened before the codec sees them.
func WithCodec(c codecs.Codec) Option {
	return func(cfg *config) {
		if c != nil {
			cfg.codec = c
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithMaxConns caps the pool size. It has no effect with NewWithPool.
func WithMaxConns(n int32) Option {
	return func(cfg *config) {
		cfg.maxConns = n
	}
}
