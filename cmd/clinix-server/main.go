package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinixnote/clinixnote/internal/config"
	"github.com/clinixnote/clinixnote/internal/domain/casenote"
	"github.com/clinixnote/clinixnote/internal/platform/auth"
	"github.com/clinixnote/clinixnote/internal/platform/blobstore"
	"github.com/clinixnote/clinixnote/internal/platform/db"
	"github.com/clinixnote/clinixnote/internal/platform/llm"
	"github.com/clinixnote/clinixnote/internal/platform/middleware"
	"github.com/clinixnote/clinixnote/internal/platform/pdf"
	"github.com/clinixnote/clinixnote/internal/platform/recordlog"
	"github.com/clinixnote/clinixnote/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinix-server",
		Short: "Clinical documentation assistant API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the record database schema",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(dir, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(dir, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func withMigrator(dir string, fn func(context.Context, *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrations")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, migrationSource(dir)))
}

// migrationSource returns the embedded migrations unless dir is set.
func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func printStatus(out io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()

	// The pool is only needed for the postgres sink.
	var pool *pgxpool.Pool
	if cfg.RecordSink == config.SinkPostgres {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
	}

	sink, err := openRecordSink(cfg, pool)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open record sink")
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Error().Err(err).Msg("closing record sink")
		}
	}()
	logger.Info().Str("sink", cfg.RecordSink).Msg("record sink ready")

	renderer, err := newRenderer(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load export fonts")
	}

	archive, err := newArchive(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure export archive")
	}

	clients, err := llm.NewFactory(llm.Settings{
		Provider: cfg.LLMProvider,
		Model:    cfg.LLMModel,
		BaseURL:  cfg.LLMBaseURL,
		Timeout:  cfg.LLMTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure completion client")
	}

	svc := casenote.NewService(casenote.ServiceConfig{
		Sessions:      casenote.NewSessionStore(cfg.SessionMax, cfg.SessionTTL),
		Clients:       clients,
		DefaultAPIKey: cfg.LLMDefaultAPIKey,
		Records:       sink,
		Renderer:      renderer,
		Archive:       archive,
		PersistOnNote: cfg.PersistOnNote,
		Temperature:   cfg.LLMTemperature,
		Logger:        logger,
	})

	var pinger db.Pinger
	if pool != nil {
		pinger = pool
	}
	e := newServer(cfg, logger, svc, archive, pinger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("provider", cfg.LLMProvider).Str("model", cfg.LLMModel).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
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
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer builds the echo instance with the middleware chain and routes.
// archive and pinger may be nil.
func newServer(cfg *config.Config, logger zerolog.Logger, svc *casenote.Service, archive blobstore.BlobStore, pinger db.Pinger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader, casenote.APIKeyHeader},
		ExposeHeaders: []string{echo.HeaderContentDisposition, "X-Export-Skipped-Lines", "X-Archive-ID", middleware.RequestIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if pinger != nil {
		e.GET("/health/db", db.HealthHandler(pinger))
	}

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	if cfg.RequestTimeout > 0 {
		apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	casenote.NewHandler(svc).RegisterRoutes(apiV1)
	if archive != nil {
		blobstore.NewHandler(archive).RegisterRoutes(apiV1)
	}

	return e
}

func openRecordSink(cfg *config.Config, pool *pgxpool.Pool) (recordlog.Sink, error) {
	switch cfg.RecordSink {
	case config.SinkPostgres:
		if pool == nil {
			return nil, fmt.Errorf("postgres sink needs a database pool")
		}
		return recordlog.NewPostgresSink(pool), nil
	case config.SinkKafka:
		return recordlog.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case config.SinkCSV, "":
		sink, err := recordlog.NewCSVSink(cfg.RecordCSVPath)
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("unknown record sink %q", cfg.RecordSink)
	}
}

// newRenderer loads the configured fonts in order and keeps the built-in
// face as the last fallback.
func newRenderer(cfg *config.Config, logger zerolog.Logger) (*pdf.Renderer, error) {
	fonts, err := pdf.LoadFontFiles(cfg.PDFFontPaths)
	if err != nil {
		return nil, err
	}
	fonts = append(fonts, pdf.DefaultFonts()...)
	return pdf.NewRenderer(pdf.Options{
		Fonts:    fonts,
		Facility: cfg.FacilityName,
		Creator:  "clinix-server " + version,
		Logger:   logger,
	})
}

func newArchive(cfg *config.Config) (blobstore.BlobStore, error) {
	if !cfg.ArchiveEnabled {
		return nil, nil
	}
	store, err := blobstore.NewMinioStore(blobstore.S3Config{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}
