/*
main.go - Application entry point

PURPOSE:
  Starts the rental billing reconciliation server and exposes the import and
  one-off reconciliation jobs as subcommands.

COMMANDS:
  serve                    HTTP API + background coverage scheduler
  import <file>            Legacy periods from .json or .xlsx into the store
  reconcile <rental-id>    Print one rental's reconciliation report as JSON

STARTUP SEQUENCE (serve):
  1. Load config (environment, .env)
  2. Build logger
  3. Open SQLite store
  4. Connect Redis when REDIS_URL is set, else in-memory cache
  5. Start scheduler and HTTP server
  6. Graceful shutdown on SIGINT/SIGTERM

GRACEFUL SHUTDOWN:
  1. Stop the scheduler (waits for a sweep in progress)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close cache and database connections

EXAMPLES:
  DB_PATH=./data/rentals.db ./server serve
  ./server import --dry-run rental-periods-cleaned.json
  ./server reconcile rental-gap --as-of 2024-05-01

SEE ALSO:
  - config/config.go: Settings
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
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
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/api"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/config"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/generic"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/importer"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/store/cache"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/store/sqlite"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "server",
		Short:         "Rental billing reconciliation server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(reconcileCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger.Level(cfg.Level())
}

// setup loads config and opens the store shared by every command.
func setup() (*config.Config, zerolog.Logger, *sqlite.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, logger, nil, fmt.Errorf("open database: %w", err)
	}
	return cfg, logger, store, nil
}

// =============================================================================
// SERVE
// =============================================================================

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the coverage scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, logger, store, err := setup()
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info().Str("db", cfg.DBPath).Msg("database ready")

	var (
		reportCache cache.Cache
		locker      cache.Locker
	)
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rc, err := cache.NewRedis(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			return err
		}
		defer rc.Close()
		reportCache, locker = rc, rc
		logger.Info().Msg("connected to redis")
	} else {
		mem := cache.NewMemory()
		reportCache, locker = mem, mem
		logger.Info().Msg("REDIS_URL not set, using in-memory cache")
	}

	handler := api.NewHandler(store, reportCache, logger)
	handler.CacheTTL = cfg.CacheTTL()
	handler.BondWindowDays = cfg.BondExpiryWindowDays

	scheduler := api.NewCoverageScheduler(handler, locker)
	scheduler.Enabled = cfg.SchedulerEnabled
	scheduler.CheckInterval = cfg.SchedulerInterval()
	scheduler.Start()

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(handler, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		scheduler.Stop()
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info().Msg("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info().Msg("server stopped")
	return nil
}

// =============================================================================
// IMPORT
// =============================================================================

func importCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import legacy billing periods from a .json or .xlsx file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, store, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := readRecords(args[0])
			if err != nil {
				return err
			}

			runner := importer.NewRunner(store, logger)
			runner.DryRun = dryRun
			stats, err := runner.Run(cmd.Context(), records)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "construct and validate without writing")
	return cmd
}

func readRecords(path string) ([]importer.LegacyRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return importer.ReadJSON(f)
	case ".xlsx":
		return importer.ReadXLSX(f)
	default:
		return nil, fmt.Errorf("unsupported file type %q (want .json or .xlsx)", filepath.Ext(path))
	}
}

// =============================================================================
// RECONCILE
// =============================================================================

func reconcileCmd() *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "reconcile <rental-id>",
		Short: "Print a rental's reconciliation report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, store, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()

			day := generic.Today()
			if asOf != "" {
				if day, err = generic.ParseDate(asOf); err != nil {
					return err
				}
			}

			handler := api.NewHandler(store, nil, logger)
			handler.BondWindowDays = cfg.BondExpiryWindowDays
			resp, err := handler.Reconcile(cmd.Context(), args[0], day)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "processing date, YYYY-MM-DD (default today)")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
