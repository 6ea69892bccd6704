/*
main.go - Application entry point

PURPOSE:
  Command-line entry for the spa session engine. Two subcommands share the
  same configuration and SQLite store:

    serve   Start the HTTP API with graceful shutdown
    audit   Recompute derived values of every assignment and report drift

CONFIGURATION:
  Defaults < --config TOML file < .env < SPA_* environment < flags.

  --config     TOML configuration file (optional)
  --db         SQLite database path; ":memory:" for a throwaway database
  --log-level  debug | info | warn | error

EXAMPLES:
  # Serve on port 3000 with a file database
  ./server serve --db=./data/spa.db --port=3000

  # Audit before a backup; exits 1 when drift is found
  ./server audit --db=./data/spa.db

SEE ALSO:
  - config/config.go: Configuration sources
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spa-admin/session-engine/config"
	"github.com/spa-admin/session-engine/logger"
	"github.com/spa-admin/session-engine/store/sqlite"
)

// errDrift makes audit exit non-zero without printing a usage message.
var errDrift = errors.New("audit found drift")

var rootCmd = &cobra.Command{
	Use:           "server",
	Short:         "Spa session and billing reconciliation engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "TOML configuration file")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn or error (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errDrift) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

// ─── Shared setup ───────────────────────────────────────────────────────────

// loadConfig resolves configuration and applies persistent flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Database.Path = db
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg config.Config) *logger.Logger {
	level, ok := logger.ParseLevel(cfg.Log.Level)
	log := logger.New(cmd.ErrOrStderr(), level)
	if !ok {
		log.Warn("config", "unknown log level %q, using info", cfg.Log.Level)
	}
	return log
}

func openStore(cfg config.Config, log *logger.Logger) (*sqlite.Store, error) {
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initialize database %s: %w", cfg.Database.Path, err)
	}
	log.Debug("store", "opened %s", cfg.Database.Path)
	return store, nil
}
