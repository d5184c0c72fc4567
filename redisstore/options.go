package redisstore

import (
	"time"

	"github.com/ripkitten-co/dataindexer/internal/codecs"
	"go.uber.org/zap"
)

type config struct {
	codec  codecs.Codec
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func defaultConfig() *config {
	return &config{
		codec:  codecs.NewJSONIter(),
		prefix: DefaultPrefix,
		logger: zap.NewNop(),
	}
}

// Option configures a Store.
type Option func(*config)

// WithPrefix sets the namespace prepended to every key.
func WithPrefix(prefix string) Option {
	return func(cfg *config) {
		cfg.prefix = prefix
	}
}

// WithTTL expires entities d after they were last written. Zero keeps them
// until deleted.
func WithTTL(d time.Duration) Option {
	return func(cfg *config) {
		cfg.ttl = d
	}
}

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
