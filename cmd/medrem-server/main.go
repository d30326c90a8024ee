package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/medrem/medrem/internal/config"
	"github.com/medrem/medrem/internal/domain/alert"
	"github.com/medrem/medrem/internal/domain/identity"
	"github.com/medrem/medrem/internal/domain/medicine"
	"github.com/medrem/medrem/internal/domain/notification"
	"github.com/medrem/medrem/internal/platform/apperr"
	"github.com/medrem/medrem/internal/platform/blobstore"
	"github.com/medrem/medrem/internal/platform/db"
	"github.com/medrem/medrem/internal/platform/docstore"
	"github.com/medrem/medrem/internal/platform/middleware"
	"github.com/medrem/medrem/internal/platform/telephony"
)

const uploadPath = "/api/upload-medicine-image"

func main() {
	rootCmd := &cobra.Command{
		Use:   "medrem-server",
		Short: "Medication reminder API server",
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
		Short: "Run PostgreSQL migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(cmd.Context(), dir, func(ctx context.Context, m *db.Migrator) error {
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
			return withMigrator(cmd.Context(), dir, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd, statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func withMigrator(ctx context.Context, dir string, fn func(context.Context, *db.Migrator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.UsesMongo() {
		return errors.New("migrations apply to PostgreSQL only; MongoDB indexes are created at startup")
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, db.NewMigrator(pool, migrationFiles(dir)))
}

func migrationFiles(dir string) fs.FS {
	if dir == "" {
		return db.EmbeddedMigrations()
	}
	return os.DirFS(dir)
}

func printStatus(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
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

func newLogger(dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV") == "development")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer st.close()

	images, closeImages, err := newImageStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise image store")
	}
	defer closeImages()

	e := newServer(cfg, logger, st, images, newCaller(cfg, logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", st.name).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// stores is the repository set for whichever database DATABASE_URL names.
type stores struct {
	name          string
	users         identity.UserRepository
	medicines     medicine.MedicineRepository
	notifications notification.NotificationRepository
	pinger        db.Pinger
	close         func()
}

func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	if cfg.UsesMongo() {
		store, err := docstore.Connect(ctx, cfg.DatabaseURL, cfg.DBName)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = store.Close(context.Background())
			return nil, err
		}
		logger.Info().Str("db", cfg.DBName).Msg("connected to mongodb")
		return &stores{
			name:          "mongodb",
			users:         identity.NewUserRepoMongo(store),
			medicines:     medicine.NewMedicineRepoMongo(store),
			notifications: notification.NewNotificationRepoMongo(store),
			pinger:        store,
			close: func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = store.Close(ctx)
			},
		}, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	applied, err := db.NewMigrator(pool, db.EmbeddedMigrations()).Up(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	logger.Info().Int("migrations_applied", applied).Msg("connected to postgres")
	return &stores{
		name:          "postgres",
		users:         identity.NewUserRepoPG(pool),
		medicines:     medicine.NewMedicineRepoPG(pool),
		notifications: notification.NewNotificationRepoPG(pool),
		pinger:        pool,
		close:         pool.Close,
	}, nil
}

func newImageStore(ctx context.Context, cfg *config.Config) (blobstore.ImageStore, func(), error) {
	noop := func() {}
	switch cfg.ImageStore {
	case config.ImageStoreGCS:
		s, err := blobstore.NewGCSStore(ctx, cfg.GCSBucket)
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.ImageStoreCloudinary:
		if cfg.CloudinaryConfigured() {
			s, err := blobstore.NewCloudinaryStore(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey,
				cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
			if err != nil {
				return nil, noop, err
			}
			return s, noop, nil
		}
	}
	return blobstore.NewInMemoryImageStore("http://localhost:" + cfg.Port), noop, nil
}

func newCaller(cfg *config.Config, logger zerolog.Logger) telephony.Caller {
	if !cfg.TwilioConfigured() {
		logger.Warn().Msg("telephony credentials not set; /api/trigger-call will fail")
		return telephony.UnconfiguredCaller{}
	}
	return telephony.NewTwilioCaller(cfg.TwilioAccountSID, cfg.TwilioAuthToken)
}

func newServer(cfg *config.Config, logger zerolog.Logger, st *stores, images blobstore.ImageStore, caller telephony.Caller) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.UploadLimit, uploadPath))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", db.HealthHandler(st.name, st.pinger))
	if mem, ok := images.(*blobstore.InMemoryImageStore); ok {
		mem.RegisterRoutes(e)
	}

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}
	api := e.Group("/api")
	api.Use(middleware.RateLimit(rateLimitCfg))

	identitySvc := identity.NewService(st.users, logger)
	identitySvc.SetLinkCodeAttempts(cfg.LinkCodeAttempts)
	identity.NewHandler(identitySvc).RegisterRoutes(api)

	notificationSvc := notification.NewService(st.notifications, identitySvc, logger)
	notification.NewHandler(notificationSvc).RegisterRoutes(api)

	medicineSvc := medicine.NewService(st.medicines, identitySvc, notificationSvc, logger)
	medicineSvc.SetImageStore(images)
	medicineSvc.SetStrictDoseMatch(cfg.DoseMatchStrict)
	medicine.NewHandler(medicineSvc).RegisterRoutes(api)

	alertSvc := alert.NewService(caller, alert.CallConfig{
		From:   cfg.TwilioNumber,
		To:     cfg.CallToNumber,
		Script: telephony.ScriptOptions{Language: cfg.CallLanguage, Voice: cfg.CallVoice},
	}, logger)
	alert.NewHandler(alertSvc).RegisterRoutes(api)

	return e
}
