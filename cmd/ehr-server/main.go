package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/EugeneTereschenko/user-analytics-sub001/internal/config"
	"github.com/EugeneTereschenko/user-analytics-sub001/internal/domain/account"
	"github.com/EugeneTereschenko/user-analytics-sub001/internal/domain/session"
	"github.com/EugeneTereschenko/user-analytics-sub001/internal/platform/db"
	"github.com/EugeneTereschenko/user-analytics-sub001/internal/platform/logging"
	"github.com/EugeneTereschenko/user-analytics-sub001/internal/platform/telemetry"
	"github.com/EugeneTereschenko/user-analytics-sub001/internal/platform/token"
	"github.com/EugeneTereschenko/user-analytics-sub001/migrations"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "ehr-server",
		Short:        "Healthcare admin auth issuer and resource service",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start a service",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "auth",
		Short: "Start the auth issuer (registration, login, validation)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(config.ServiceAuth)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "resource",
		Short: "Start a resource service that validates tokens remotely",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(config.ServiceResource)
		},
	})
	return cmd
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
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
				count, err := m.Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				statuses, err := m.Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(cmd.OutOrStdout(), schema, statuses)
				return nil
			})
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
		cmd.AddCommand(c)
	}
	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator, schema string) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	schema, _ := cmd.Flags().GetString("schema")
	if schema == "" {
		schema = cfg.DBSchema
	}

	logger, closer, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Development: cfg.IsDev()})
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, migrations.FS, logger), schema)
}

func printMigrationStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Token utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "inspect <token>",
		Short: "Verify a token with JWT_SECRET and print its claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			key, generated, err := cfg.SigningKey()
			if err != nil {
				return err
			}
			if generated {
				return errors.New("JWT_SECRET must be set to inspect tokens")
			}
			codec, err := token.NewCodec(key, token.WithIssuer(cfg.JWTIssuer))
			if err != nil {
				return err
			}
			return inspectToken(cmd.OutOrStdout(), codec, args[0])
		},
	})
	return cmd
}

// inspectToken prints the verified claims of raw, or the decode reason.
func inspectToken(w io.Writer, codec *token.Codec, raw string) error {
	claims, err := codec.Decode(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", token.Reason(err), err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(claims)
}

func runService(service string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(service); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closer, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Development: cfg.IsDev()})
	if err != nil {
		return err
	}
	defer closer.Close()
	logger = logger.With().Str("service", service).Logger()

	tp := telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{
		ServiceName:    "ehr-" + service,
		ServiceVersion: version,
		Environment:    cfg.Env,
		RuntimeMetrics: true,
	})
	defer tp.Shutdown(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var e *echo.Echo
	switch service {
	case config.ServiceAuth:
		var cleanup func()
		e, cleanup, err = buildAuthServer(ctx, cfg, logger, tp)
		if err != nil {
			return err
		}
		defer cleanup()
	case config.ServiceResource:
		e = newResourceServer(cfg, logger, tp, newValidator(cfg, logger, tp), session.NewLogNotifier(logger))
	}

	return serve(ctx, e, cfg.Port, logger)
}

func buildAuthServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger, tp *telemetry.TelemetryProvider) (*echo.Echo, func(), error) {
	key, generated, err := cfg.SigningKey()
	if err != nil {
		return nil, nil, err
	}
	if generated {
		logger.Warn().Msg("JWT_SECRET not set; using random key (tokens will not survive restart)")
	}
	codec, err := token.NewCodec(key, token.WithIssuer(cfg.JWTIssuer))
	if err != nil {
		return nil, nil, err
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
		Schema:   cfg.DBSchema,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")

	svc := account.NewService(account.NewRepo(pool), codec, account.Config{
		AccessTTL:  cfg.JWTAccessTTL,
		RefreshTTL: cfg.JWTRefreshTTL,
	}, logger)

	e := newAuthServer(cfg, logger, tp, svc, db.PoolHealthHandler(pool))

	statsCtx, cancel := context.WithCancel(ctx)
	go reportPoolStats(statsCtx, tp, func() *db.PoolStats { return db.GetPoolStats(pool) }, 15*time.Second)

	return e, func() {
		cancel()
		pool.Close()
	}, nil
}

func reportPoolStats(ctx context.Context, tp *telemetry.TelemetryProvider, stats func() *db.PoolStats, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	rec := tp.HealthMetrics()
	for {
		s := stats()
		rec.SetDBPool(int64(s.AcquiredConns), int64(s.IdleConns), int64(s.TotalConns))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func serve(ctx context.Context, e *echo.Echo, port string, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
