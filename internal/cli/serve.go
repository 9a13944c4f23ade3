package cli

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/logger"
	"github.com/stewardhq/steward/internal/metrics"
	"github.com/stewardhq/steward/pkg/approval"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the steward maintenance process",
	Long: `Run the long-lived steward process: the approval reaper that expires
overdue approval requests, the Prometheus metrics endpoint, and config
hot-reload. Tool execution itself is driven by the embedding agent through
the orchestrator API; this process keeps the shared state tidy.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Close()

	log := lg.Zerolog()

	dataDir, err := resolveDataDir(cfg)
	if err != nil {
		return err
	}

	approvals, err := approval.NewSQLiteStore(filepath.Join(dataDir, "approvals.db"), log)
	if err != nil {
		return fmt.Errorf("failed to open approval store: %w", err)
	}
	defer approvals.Close()

	m := metrics.NewMetrics()

	reaper := approval.NewReaper(approvals, cfg.Approvals.ReaperSchedule, func(count int) {
		m.ApprovalsExpiredTotal.Add(float64(count))
	}, log)
	if err := reaper.Start(); err != nil {
		return err
	}
	defer reaper.Stop()

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		server := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			log.Info().Str("addr", cfg.Metrics.Addr).Msg("Metrics endpoint listening")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer server.Close()
	}

	watcher, err := config.NewWatcher(loader, log, func(next *config.Config) {
		log.Info().
			Str("level", next.Logging.Level).
			Msg("Config reloaded; restart to apply storage or endpoint changes")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Config watcher unavailable")
	} else {
		defer watcher.Stop()
	}

	log.Info().Str("data_dir", dataDir).Msg("Steward serving")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Info().Str("signal", sig.String()).Msg("Shutting down")
	return nil
}

// resolveDataDir returns the configured data directory, defaulting to
// ~/.steward, and ensures it exists
func resolveDataDir(cfg *config.Config) (string, error) {
	dir := cfg.DataDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".steward")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	return dir, nil
}
