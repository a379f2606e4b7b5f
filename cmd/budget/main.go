// Command budget is a local-first personal ledger that syncs deltas with a
// remote server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/budgetsync/internal/config"
	"github.com/steveyegge/budgetsync/internal/logging"
)

var (
	cfg        config.Config
	configPath string
	verbose    bool
	sink       = logging.Discard()
)

var rootCmd = &cobra.Command{
	Use:   "budget",
	Short: "Local-first personal ledger with delta sync",
	Long: `budget keeps a personal ledger of incomes and expenses in a local SQLite
database and syncs changes with a remote server.

Edits are recorded locally first and marked pending (↑) until the server
acknowledges them. Removals can be undone for a few seconds in the daemon
and dashboard before they become deletions.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, err = config.LoadFrom(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return err
		}

		// Long-running commands always log; one-shot commands only on -v
		switch {
		case cfg.Log.File != "", verbose, cmd.Annotations["logs"] == "always":
			sink, err = logging.New(cfg.Log)
			if err != nil {
				return fmt.Errorf("failed to open log: %w", err)
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = sink.Close()
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "ledger", Title: "Ledger:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $BUDGETSYNC_CONFIG or ~/.config/budgetsync/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log engine and sync activity to stderr")
}

// currentConfigPath returns the file the running command was configured from.
func currentConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.Path()
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
