package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/sonicvault/vaultd/cmd/vaultd/container"
	"github.com/sonicvault/vaultd/cmd/vaultd/routes"
	"github.com/sonicvault/vaultd/common/bootstrap"
	commonmw "github.com/sonicvault/vaultd/common/middleware"
)

func main() {
	ctx := context.Background()

	// Bootstrap common components (DB, logger, cache, telemetry)
	components, err := bootstrap.Setup(ctx, "vaultd")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap vaultd: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	e := setupEcho()
	setupMiddleware(e, serviceContainer)
	setupHealthCheck(e)
	registerRoutes(e, serviceContainer)

	startServer(e, components)
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo, c *container.Container) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
	e.Use(commonmw.GlobalRateLimitMiddleware(c.RateLimiter, 2000))
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{
			"status":  "ok",
			"service": "vaultd",
		})
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterVaultRoutes(e, serviceContainer)
	routes.RegisterClaimRoutes(e, serviceContainer)
	routes.RegisterGovernanceRoutes(e, serviceContainer)
}

// startServer starts the Echo server on the configured port
func startServer(e *echo.Echo, components *bootstrap.Components) {
	port := components.Config.Service.Port
	components.Logger.Info("Starting vaultd", "port", port)

	if err := e.Start(fmt.Sprintf(":%d", port)); err != nil {
		components.Logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}
