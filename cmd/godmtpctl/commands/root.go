package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/godmtp/internal/config"
	"github.com/dantte-lp/godmtp/internal/store"
	"github.com/dantte-lp/godmtp/internal/store/filestore"
	"github.com/dantte-lp/godmtp/internal/store/sqlstore"
)

var (
	// configPath is the daemon configuration file; the CLI reads the
	// store settings from it.
	configPath string

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// cfg is the loaded daemon configuration, set in PersistentPreRunE.
	cfg *config.Config

	// st is the lazily opened store shared by all commands.
	st store.Store
)

// errUnknownBackend indicates a store backend the CLI cannot open.
var errUnknownBackend = errors.New("unknown store backend")

// rootCmd is the top-level cobra command for godmtpctl.
var rootCmd = &cobra.Command{
	Use:   "godmtpctl",
	Short: "Admin CLI for the GoDMTP daemon",
	Long:  "godmtpctl manages accounts, devices, and payload templates directly in the configured store.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		loaded, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
	PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
		if st == nil {
			return nil
		}
		if err := st.Close(); err != nil {
			return fmt.Errorf("close store: %w", err)
		}
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to the daemon configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(deviceCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(versionCmd())
}

// loadConfig loads the daemon configuration or falls back to defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return loaded, nil
	}
	return config.DefaultConfig(), nil
}

// openStore opens the configured backend on first use. Commands that do
// not touch the store (version) never trigger it.
func openStore() (store.Store, error) {
	if st != nil {
		return st, nil
	}

	switch cfg.Store.Backend {
	case "sqlite":
		opened, err := sqlstore.Open(cfg.Store.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store %s: %w", cfg.Store.SQLite.Path, err)
		}
		st = opened
	case "file":
		opened, err := filestore.Open(cfg.Store.File.Dir)
		if err != nil {
			return nil, fmt.Errorf("open file store %s: %w", cfg.Store.File.Dir, err)
		}
		st = opened
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownBackend, cfg.Store.Backend)
	}

	return st, nil
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
