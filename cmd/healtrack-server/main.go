package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/healtrack/healtrack/internal/config"
	"github.com/healtrack/healtrack/internal/domain/chat"
	"github.com/healtrack/healtrack/internal/domain/emergency"
	"github.com/healtrack/healtrack/internal/domain/identity"
	"github.com/healtrack/healtrack/internal/domain/notification"
	"github.com/healtrack/healtrack/internal/platform/auth"
	"github.com/healtrack/healtrack/internal/platform/blobstore"
	"github.com/healtrack/healtrack/internal/platform/db"
	"github.com/healtrack/healtrack/internal/platform/mailer"
	"github.com/healtrack/healtrack/internal/platform/metrics"
	"github.com/healtrack/healtrack/internal/platform/middleware"
	"github.com/healtrack/healtrack/internal/platform/websocket"
)

const (
	jwtIssuer      = "healtrack"
	requestTimeout = 30 * time.Second
	jsonBodyLimit  = 1 << 20
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "healtrack-server",
		Short: "HealTrack chat, notification and real-time server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(notificationsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				if dir == "" {
					dir = cfg.MigrationsDir
				}
				count, err := db.NewMigrator(pool, dir).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				if dir == "" {
					dir = cfg.MigrationsDir
				}
				statuses, err := db.NewMigrator(pool, dir).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status := "pending"
					appliedAt := ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func notificationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Notification maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Permanently delete soft-deleted notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				logger := newLogger(cfg.Env)
				svc := notification.NewService(
					notification.NewRepoPG(pool), identity.NewDirectoryPG(pool),
					websocket.NewHub(logger), cfg.WSScopedDelivery, logger,
				)
				n, err := svc.PurgeDeleted(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Purged %d notification(s).\n", n)
				return nil
			})
		},
	})
	return cmd
}

// withPool loads config and opens a pool for one-shot commands.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// newMailer picks the SMTP relay when configured and the logging sender
// otherwise. Both are instrumented.
func newMailer(cfg *config.Config, logger zerolog.Logger) (mailer.EmailSender, error) {
	if !cfg.MailEnabled() {
		return mailer.Instrument(mailer.LogSender{Logger: logger}), nil
	}
	smtpSender, err := mailer.NewSMTPSender(mailer.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPass,
		From:     cfg.MailFrom,
	})
	if err != nil {
		return nil, err
	}
	return mailer.Instrument(smtpSender), nil
}

func newTxRunner(cfg *config.Config, pool *pgxpool.Pool) db.TxRunner {
	if cfg.ChatTransactionalSend {
		return db.NewTxRunner(pool)
	}
	return db.NoTx{}
}

func corsConfig(origins []string) echomw.CORSConfig {
	return echomw.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Real-time hub, optionally fanned out across instances through redis
	hub := websocket.NewHub(logger)
	var healthChecks []db.Check
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		relay := websocket.NewRedisRelay(rdb, websocket.DefaultRelayChannel, logger)
		hub.SetRelay(relay)
		go func() {
			if err := relay.Run(ctx, hub); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("event relay stopped")
			}
		}()
		healthChecks = append(healthChecks, db.Check{Name: "redis", Ping: relay.Ping})
		logger.Info().Str("channel", websocket.DefaultRelayChannel).Msg("event relay enabled")
	}

	// Collaborators
	directory := identity.NewDirectoryPG(pool)
	resolver := auth.NewResolver([]byte(cfg.JWTSecret), jwtIssuer, directory)
	blobs := blobstore.NewLocalStore(cfg.UploadDir, "uploads", cfg.BaseURL, cfg.MaxUploadBytes)
	mail, err := newMailer(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure mailer")
	}
	templates := mailer.NewTemplateEngine()
	emergency.RegisterTemplates(templates)

	// Services
	notificationSvc := notification.NewService(
		notification.NewRepoPG(pool), directory, hub, cfg.WSScopedDelivery, logger,
	)
	chatSvc := chat.NewService(
		chat.NewChatRepoPG(pool), chat.NewMessageRepoPG(pool), directory,
		notificationSvc, blobs, hub, newTxRunner(cfg, pool),
		chat.Config{Scoped: cfg.WSScopedDelivery}, logger,
	)
	emergencySvc := emergency.NewService(directory, notificationSvc, mail, templates, logger)

	wsServer := websocket.NewServer(hub, resolver, websocket.ServerConfig{
		AllowedOrigins: cfg.CORSOrigins,
		Rooms:          chatSvc.RoomsForUser,
		RoomPrefix:     chat.RoomPrefix,
	}, logger)
	defer wsServer.Close()
	chatSvc.RegisterSocketHandlers(wsServer)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	limiter := middleware.NewLimiterStore(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}, time.Minute)
	defer limiter.Stop()

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(corsConfig(cfg.CORSOrigins)))
	e.Use(middleware.BodyLimit(jsonBodyLimit, cfg.MaxUploadBytes+jsonBodyLimit))
	e.Use(middleware.RequestTimeout(requestTimeout, "/ws"))
	e.Use(auth.Middleware(resolver, auth.Skipper))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool, healthChecks...))
	e.GET("/metrics", metrics.Handler())
	e.Static("/uploads", blobs.Root())
	wsServer.RegisterRoutes(e.Group(""))

	apiV1 := e.Group("/api/v1", middleware.RateLimit(limiter))
	auth.RegisterRoutes(apiV1)
	chat.NewHandler(chatSvc).RegisterRoutes(apiV1)
	notification.NewHandler(notificationSvc).RegisterRoutes(apiV1)
	emergency.NewHandler(emergencySvc).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
