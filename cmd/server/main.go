package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/influence20/bluerocksite-sub000/pkg/config"
	"github.com/influence20/bluerocksite-sub000/pkg/httpx"
	"github.com/influence20/bluerocksite-sub000/pkg/logx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		logx.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger with config
	logx.Configure(cfg.IsProd())
	logx.SetLevel(logx.ParseLevel(cfg.Server.LogLevel))
	defer logx.Sync()

	logx.Info("Starting Bluerock API Server...")
	logx.Infof("Environment: %s", cfg.Environment)

	// 3. Initialize Dependency Container
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := NewContainer(ctx, cfg)
	if err != nil {
		logx.Fatalf("Failed to initialize container: %v", err)
	}
	defer container.Cleanup()

	// 4. Start background services
	container.StartBackgroundServices(ctx)

	// 5. Create Fiber App with Config
	app := fiber.New(fiber.Config{
		AppName:               "Bluerock API",
		DisableStartupMessage: true,
		ErrorHandler:          httpx.ErrorHandler(cfg.IsDevelopment()),
		BodyLimit:             1 * 1024 * 1024,
		IdleTimeout:           120 * time.Second,
	})

	// 6. Global Middleware
	setupMiddleware(app, cfg)

	// 7. Health Check & Metrics
	app.Get("/health", healthCheckHandler(container))
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// 8. Register Routes
	registerRoutes(app, container)

	// 9. 404 Handler
	app.Use(httpx.NotFound)

	// 10. Start Server with Graceful Shutdown
	startServer(app, cfg, cancel)
}

// ============================================================================
// Setup Functions
// ============================================================================

func setupMiddleware(app *fiber.App, cfg *config.Config) {
	app.Use(recover.New(recover.Config{
		EnableStackTrace: cfg.IsDevelopment(),
	}))

	app.Use(requestid.New(requestid.Config{
		Header: fiber.HeaderXRequestID,
		Generator: func() string {
			return uuid.NewString()
		},
	}))

	corsOrigins := "*"
	if len(cfg.Server.CORSOrigins) > 0 {
		corsOrigins = strings.Join(cfg.Server.CORSOrigins, ",")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		AllowMethods:     "GET, POST, PUT, DELETE, HEAD, OPTIONS",
		AllowCredentials: corsOrigins != "*",
		ExposeHeaders:    "X-Request-ID, Retry-After",
	}))

	logFormat := "${time} | ${status} | ${latency} | ${method} ${path}"
	if cfg.IsDevelopment() {
		logFormat += " | ${ip} | ${locals:requestid}\n"
	} else {
		logFormat += "\n"
	}
	app.Use(logger.New(logger.Config{
		Format:     logFormat,
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Local",
	}))
}

func registerRoutes(app *fiber.App, container *Container) {
	container.OTPHandlers.RegisterRoutes(app)
	container.AccountHandlers.RegisterRoutes(app)
	container.WithdrawalHandlers.RegisterRoutes(app)

	logx.Info("Routes registered: /otp/*, /auth/*, /account/*, /withdrawals/*, /admin/*")
}

// ============================================================================
// Handler Functions
// ============================================================================

func healthCheckHandler(container *Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		health := fiber.Map{
			"status":      "healthy",
			"service":     "bluerock-api",
			"environment": container.Config.Environment,
			"timestamp":   time.Now().Unix(),
		}
		degrade := func(name string, err error) {
			if err != nil {
				health[name] = "unhealthy"
				health[name+"_error"] = err.Error()
				health["status"] = "degraded"
				return
			}
			health[name] = "healthy"
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), pingTimeout)
		defer cancel()

		if container.DB != nil {
			degrade("db", container.DB.PingContext(ctx))
		}
		if container.Redis != nil {
			degrade("redis", container.Redis.Ping(ctx).Err())
		}
		if c.QueryBool("check_storage", false) {
			_, err := container.FileSystem.Exists(ctx, ".health-check")
			degrade("storage", err)
		}

		status := fiber.StatusOK
		if health["status"] == "degraded" {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(health)
	}
}

// ============================================================================
// Lifecycle
// ============================================================================

func startServer(app *fiber.App, cfg *config.Config, cancel context.CancelFunc) {
	addr := fmt.Sprintf(":%d", cfg.Server.Port)

	go func() {
		logx.Infof("Server listening on %s", addr)
		logx.Infof("Health Check: %s/health", cfg.Server.BaseURL)
		if err := app.Listen(addr); err != nil {
			logx.Fatalf("Server error: %v", err)
		}
	}()

	gracefulShutdown(app, cancel)
}

func gracefulShutdown(app *fiber.App, cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logx.Infof("Received signal: %v", sig)
	logx.Info("Shutting down gracefully...")

	// stops the sweep service
	cancel()

	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		logx.Errorf("Server forced to shutdown: %v", err)
	}

	logx.Info("Server exited successfully")
}
