package bootstrap

import (
	"context"
	"fmt"

	"github.com/sonicvault/vaultd/common/cache"
	"github.com/sonicvault/vaultd/common/config"
	"github.com/sonicvault/vaultd/common/db"
	"github.com/sonicvault/vaultd/common/logger"
	"github.com/sonicvault/vaultd/common/telemetry"
)

// Setup initializes all service components
// This is the main entry point for all services
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	// Apply options
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", components.Config.Service.Environment,
	)

	// 3. Initialize database (if not skipped)
	if !options.skipDB {
		components.Logger.Info("connecting to database")
		components.DB, err = db.New(ctx, components.Config, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		// Register cleanup
		components.addCleanup(func() error {
			components.Logger.Info("closing database connection")
			components.DB.Close()
			return nil
		})

		// Apply embedded schema unless skipped
		if !options.skipMigrate {
			if err := components.DB.Migrate(ctx); err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("schema migration failed: %w", err)
			}
		}

		// Run DB init hook if provided
		if options.dbInitHook != nil {
			components.Logger.Info("running database init hook")
			if err := options.dbInitHook(components.DB); err != nil {
				components.Shutdown(ctx) // Cleanup what we've initialized
				return nil, fmt.Errorf("database init hook failed: %w", err)
			}
		}
	}

	// 4. Initialize cache (if not skipped)
	if !options.skipCache && components.Config.Cache.Enabled {
		components.Logger.Info("initializing cache")

		components.Cache = cache.NewMemoryCache(components.Logger)

		// Register cleanup
		components.addCleanup(func() error {
			components.Logger.Info("closing cache")
			return components.Cache.Close()
		})
	}

	// 5. Initialize telemetry (if not skipped)
	if !options.skipTelemetry && components.Config.Telemetry.EnablePprof {
		components.Logger.Info("initializing telemetry")
		components.Telemetry = telemetry.New(
			components.Config.Telemetry.PprofPort,
			components.Logger,
		)

		if err := components.Telemetry.Start(ctx); err != nil {
			components.Logger.Warn("failed to start telemetry", "error", err)
			// Don't fail startup if telemetry fails
		}
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"db", components.DB != nil,
		"cache", components.Cache != nil,
		"telemetry", components.Telemetry != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error
// Useful for services that can't recover from initialization failure
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}
