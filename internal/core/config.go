package core

import (
	"github.com/eteran/stash/pkg/auth"
	"github.com/eteran/stash/pkg/metrics"
	"github.com/eteran/stash/pkg/storage"
)

type Config struct {
	Store         storage.Store
	Authenticator auth.AuthEngine
	Metrics       *metrics.Metrics

	// PageSize bounds every listing page and therefore every fan-out batch.
	PageSize int

	// Realm is advertised in the WWW-Authenticate challenge.
	Realm string

	// AllowOrigin is the Access-Control-Allow-Origin value.
	AllowOrigin string
}

type ConfigOption func(*Config)

func WithStore(store storage.Store) ConfigOption {
	return func(cfg *Config) {
		cfg.Store = store
	}
}

func WithAuthEngine(authenticator auth.AuthEngine) ConfigOption {
	return func(cfg *Config) {
		cfg.Authenticator = authenticator
	}
}

func WithMetrics(m *metrics.Metrics) ConfigOption {
	return func(cfg *Config) {
		cfg.Metrics = m
	}
}

func WithPageSize(size int) ConfigOption {
	return func(cfg *Config) {
		cfg.PageSize = size
	}
}

func WithRealm(realm string) ConfigOption {
	return func(cfg *Config) {
		cfg.Realm = realm
	}
}

func WithAllowOrigin(origin string) ConfigOption {
	return func(cfg *Config) {
		cfg.AllowOrigin = origin
	}
}

func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
