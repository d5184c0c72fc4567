package gormstore

import "go.uber.org/zap"

type config struct {
	logger *zap.Logger
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
