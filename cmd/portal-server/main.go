package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/carelink/portal/internal/config"
	"github.com/carelink/portal/internal/domain/access"
	"github.com/carelink/portal/internal/domain/community"
	"github.com/carelink/portal/internal/domain/verification"
	"github.com/carelink/portal/internal/platform/auth"
	"github.com/carelink/portal/internal/platform/blobstore"
	"github.com/carelink/portal/internal/platform/db"
	"github.com/carelink/portal/internal/platform/dispatch"
	"github.com/carelink/portal/internal/platform/middleware"
	"github.com/carelink/portal/internal/platform/notification"
	"github.com/carelink/portal/internal/platform/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "portal-server",
		Short: "Clinical records portal API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the portal API server",
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
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

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

			migrator := db.NewMigrator(pool, dir)
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

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

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
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
		},
	}
	statusCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Restore the schema from a backup instead.")
			return nil
		},
	})

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new tenant schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			dir, _ := cmd.Flags().GetString("dir")

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

			fmt.Printf("Creating tenant schema: tenant_%s\n", name)
			if err := db.CreateTenantSchema(ctx, pool, name, dir); err != nil {
				return err
			}
			fmt.Println("Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")
	createCmd.Flags().String("dir", "./migrations", "Path to migrations directory")

	cmd.AddCommand(createCmd)
	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	st := store.NewPGStore(pool)

	// Mutation dispatcher. Profile writes from the community and access
	// domains fan out through sharded workers so per-document order holds.
	dispatcher := dispatch.New(st, logger,
		dispatch.WithShards(cfg.DispatchShards),
		dispatch.WithQueueSize(cfg.DispatchQueueSize),
	)
	go func() {
		for f := range dispatcher.Subscribe() {
			logger.Error().
				Err(f.Err).
				Str("op", string(f.Request.Op)).
				Str("target", f.Request.Target.String()).
				Time("at", f.At).
				Msg("dispatch failure")
		}
	}()

	// Notifications. Log-backed senders until an SMTP/SMS gateway is wired.
	notifyMgr := notification.NewManager(
		&notification.LogEmailSender{Log: logger},
		&notification.LogSMSSender{Log: logger},
		notification.NewTemplateEngine(),
	)
	codeSender := notification.NewAccessCodeSender(notifyMgr, cfg.AccessCodeTTL)

	// Domain services
	verifySvc := verification.NewService(st, cfg.RequiredCredentialSlots)
	accessBroker := access.NewBroker(st, codeSender, logger,
		access.WithTTL(cfg.AccessCodeTTL),
		access.WithMaxAttempts(cfg.AccessMaxAttempts),
		access.WithProfileVerifier(verifySvc),
	)
	communitySvc := community.NewService(st, dispatcher)

	blobs := blobstore.NewInMemoryBlobStore()

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M", "32M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	// Auth middleware
	if cfg.ResolvedAuthMode() == "development" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	}

	// Tenant middleware, then per-request transactions for mutating calls
	e.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))
	e.Use(db.TxMiddleware())

	apiV1 := e.Group("/api/v1")

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Domain routes
	community.NewHandler(communitySvc).RegisterRoutes(apiV1)
	access.NewHandler(accessBroker).RegisterRoutes(apiV1)
	verification.NewHandler(verifySvc).RegisterRoutes(apiV1)

	// Credential document uploads live under the verification prefix so the
	// larger upload body limit applies to them.
	uploads := apiV1.Group("/verification", auth.RequireRole("admin", "physician", "nurse"))
	blobstore.NewBlobHandler(blobs).RegisterRoutes(uploads)

	// Notification ops endpoints
	ops := apiV1.Group("/ops", auth.RequireRole("admin"))
	notification.NewHandler(notifyMgr).RegisterRoutes(ops)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("dispatcher drain incomplete")
	}
	logger.Info().Msg("server stopped")
	return nil
}
