package bootstrap

import (
	"github.com/sonicvault/vaultd/common/config"
	"github.com/sonicvault/vaultd/common/db"
	"github.com/sonicvault/vaultd/common/logger"
)

// Option configures the bootstrap process
type Option func(*options)

type options struct {
	skipDB        bool
	skipCache     bool
	skipTelemetry bool
	skipMigrate   bool
	customLogger  *logger.Logger
	customConfig  *config.Config
	dbInitHook    func(*db.DB) error
}

// WithoutDB skips database initialization
func WithoutDB() Option {
	return func(o *options) {
		o.skipDB = true
	}
}

// WithoutCache skips cache initialization
func WithoutCache() Option {
	return func(o *options) {
		o.skipCache = true
	}
}

// WithoutTelemetry skips telemetry initialization
func WithoutTelemetry() Option {
	return func(o *options) {
		o.skipTelemetry = true
	}
}

// WithoutMigrations skips applying the embedded schema on startup
func WithoutMigrations() Option {
	return func(o *options) {
		o.skipMigrate = true
	}
}

// WithCustomLogger uses a custom logger instead of creating one
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) {
		o.customLogger = log
	}
}

// WithCustomConfig uses a custom config instead of loading from env
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.customConfig = cfg
	}
}

// WithDBInitHook runs a custom function after DB initialization
// Useful for seeding data in development environments
func WithDBInitHook(hook func(*db.DB) error) Option {
	return func(o *options) {
		o.dbInitHook = hook
	}
}

func defaultOptions() *options {
	return &options{}
}
