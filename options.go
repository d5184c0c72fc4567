package dataindexer

import "go.uber.org/zap"

// DefaultSeparator joins identifier values into an index.
const DefaultSeparator = "|"

type Option func(*config)

type config struct {
	separator string
	logger    *zap.Logger
}

func defaultConfig() *config {
	return &config{
		separator: DefaultSeparator,
		logger:    zap.NewNop(),
	}
}

// WithSeparator overrides the separator used to join and split index parts.
// Pick one that never occurs inside identifier values.
func WithSeparator(sep string) Option {
	return func(cfg *config) {
		cfg.separator = sep
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}
