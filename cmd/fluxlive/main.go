package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fluxstack/fluxlive/internal/api"
	"github.com/fluxstack/fluxlive/internal/audit"
	"github.com/fluxstack/fluxlive/internal/auth"
	"github.com/fluxstack/fluxlive/internal/bootstrap"
	"github.com/fluxstack/fluxlive/internal/components"
	"github.com/fluxstack/fluxlive/internal/config"
	"github.com/fluxstack/fluxlive/internal/gateway"
	"github.com/fluxstack/fluxlive/internal/httputil"
	"github.com/fluxstack/fluxlive/internal/live"
	"github.com/fluxstack/fluxlive/internal/postgres"
	"github.com/fluxstack/fluxlive/internal/protocol"
	"github.com/fluxstack/fluxlive/internal/user"
	"github.com/fluxstack/fluxlive/internal/valkey"
)

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	log.Info().Str("env", cfg.ServerEnv).Msg("Starting FluxLive")

	if cfg.CORSAllowOrigins == "*" {
		log.Warn().Msg("CORS_ALLOW_ORIGINS is a wildcard. Set an explicit origin for production deployments.")
	}

	ctx := context.Background()

	// Connect PostgreSQL
	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	// Run migrations
	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	// Seed the initial admin account if the database is empty.
	firstRun, err := bootstrap.IsFirstRun(ctx, db)
	if err != nil {
		return fmt.Errorf("check first run: %w", err)
	}
	if firstRun && cfg.InitAdminEmail != "" {
		if err := bootstrap.RunFirstInit(ctx, db, cfg); err != nil {
			return fmt.Errorf("first-run initialization: %w", err)
		}
		log.Info().Msg("First-run initialization complete")
	}

	// Connect Valkey
	rdb, err := valkey.Connect(ctx, cfg.ValkeyURL, 5*time.Second)
	if err != nil {
		return fmt.Errorf("connect valkey: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Info().Msg("Valkey connected")

	// Repositories and auth services
	userRepo := user.NewPGRepository(db)
	auditLog := audit.NewPGRecorder(db)
	sessions := auth.NewSessionStore(rdb, cfg.SessionLifetime)
	throttle := auth.NewThrottle(rdb, cfg.RateLimitMax, cfg.RateLimitDecaySeconds)
	authService := auth.NewService(userRepo, sessions, throttle, cfg, log.Logger)

	// The gateway guard accepts bearer JWTs and HTTP session ids.
	guard := auth.NewChainGuard(
		auth.NewJWTGuard(cfg.JWTSecret, cfg.ServerURL),
		auth.NewSessionGuard(sessions),
	)

	// Live runtime and built-in components
	runtime := live.NewRuntime(live.Options{
		Guard:            guard,
		GuardTimeout:     cfg.GuardTimeout,
		RoomGrace:        cfg.RoomDestructionGrace,
		MaxStateHistory:  cfg.MaxStateHistory,
		AdminEscapeHatch: cfg.AdminEscapeHatch,
		Development:      cfg.IsDevelopment(),
	}, log.Logger)

	for _, def := range []*live.Definition{
		components.NewCounterDefinition(),
		components.NewAdminPanelDefinition(userRepo, auditLog),
		components.NewRoomChatDefinition(cfg.MaxChatMessagesPerRoom),
	} {
		if err := runtime.Register(def); err != nil {
			return fmt.Errorf("register component: %w", err)
		}
	}

	wsServer := gateway.NewServer(runtime, cfg, log.Logger)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName: cfg.ServerName,
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "An internal error occurred"
			code := protocol.CodeInternal
			if e, ok := err.(*fiber.Error); ok {
				status = e.Code
				message = e.Message
				code = fiberStatusToCode(e.Code)
			} else {
				log.Error().Err(err).
					Str("method", c.Method()).
					Str("path", c.Path()).
					Msg("Unhandled error")
			}
			return c.Status(status).JSON(httputil.ErrorResponse{
				Error: httputil.ErrorBody{
					Code:    code,
					Message: message,
				},
			})
		},
	})

	// Global middleware
	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{
		Format:     "${time} ${locals:requestid} ${method} ${path} ${status} ${latency}\n",
		TimeFormat: time.RFC3339,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  []string{cfg.CORSAllowOrigins},
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"X-Request-ID"},
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitAPIRequests,
		Expiration: time.Duration(cfg.RateLimitAPIWindowSeconds) * time.Second,
	}))

	registerRoutes(app, cfg, db, rdb, runtime, wsServer, authService, guard)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		wsServer.Shutdown(shutdownCtx)
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("Server listening")
	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func registerRoutes(
	app *fiber.App,
	cfg *config.Config,
	db *pgxpool.Pool,
	rdb *redis.Client,
	runtime *live.Runtime,
	wsServer *gateway.Server,
	authService *auth.Service,
	guard auth.Guard,
) {
	health := &api.HealthHandler{DB: db, Valkey: rdb}
	app.Get("/api/v1/health", health.Health)

	gatewayHandler := api.NewGatewayHandler(wsServer)
	app.Get("/api/v1/gateway", gatewayHandler.Upgrade)

	roomsHandler := api.NewRoomsHandler(runtime, cfg.MaxChatMessagesPerRoom, log.Logger)
	rooms := app.Group("/api/v1/rooms")
	rooms.Get("/stats", roomsHandler.Stats)
	rooms.Post("/:roomId/messages", roomsHandler.PostMessage)
	rooms.Post("/:roomId/emit", roomsHandler.Emit)

	authHandler := api.NewAuthHandler(authService, guard, cfg, log.Logger)
	authGroup := app.Group("/api/v1/auth")
	authGroup.Post("/register", authHandler.Register)
	authGroup.Post("/login", authHandler.Login)
	authGroup.Post("/logout", authHandler.Logout)
	authGroup.Get("/me", authHandler.Me)
}

// fiberStatusToCode maps an HTTP status from fiber's built-in errors (404,
// 405, 429, ...) to the closest stable protocol code.
func fiberStatusToCode(status int) protocol.Code {
	switch {
	case status == fiber.StatusNotFound:
		return protocol.CodeComponentNotFound
	case status == fiber.StatusTooManyRequests:
		return protocol.CodeRateLimited
	case status == fiber.StatusUnauthorized:
		return protocol.CodeAuthRequired
	case status >= 400 && status < 500:
		return protocol.CodeInvalidPayload
	default:
		return protocol.CodeInternal
	}
}
