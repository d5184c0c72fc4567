package bunstore

import "go.uber.org/zap"

type config struct {
	logger   *zap.Logger
	maxConns int32
}

func defaultConfig() *config {
	return &config{logger: zap.NewNop()}
}

// Option configures a Store.
type Option func(*config)

func WithLogger(l *zap.Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithMaxConns caps the pool Open creates. It has no effect with New.
func WithMaxConns(n int32) Option {
	return func(cfg *config) {
		cfg.maxConns = n
	}
}
