package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/steveyegge/budgetsync/internal/daemon"
	"github.com/steveyegge/budgetsync/internal/dashboard"
	"github.com/steveyegge/budgetsync/internal/events/kafka"
)

var daemonCmd = &cobra.Command{
	Use:         "daemon",
	GroupID:     "sync",
	Short:       "Keep the ledger in sync in the background",
	Annotations: map[string]string{"logs": "always"},
	Long: `Run the sync daemon in the foreground.

The daemon:
1. Syncs once on start when the local ledger is empty
2. Syncs every sync.interval
3. Syncs sync.debounce after local edits, batching bursts of edits
4. Reloads sync.interval and sync.debounce when the config file changes

With --dashboard it also serves the dashboard; with kafka.brokers set it
publishes every ledger event to kafka.topic.

Press Ctrl+C to stop. An in-flight sync is cancelled and leaves the ledger
unchanged; an outstanding removal is committed.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		port, _ := cmd.Flags().GetInt("port")
		if !cmd.Flags().Changed("port") {
			port = cfg.Dashboard.Port
		}

		a, err := openApp(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		s, err := a.requireSync()
		if err != nil {
			a.Close()
			fatalf("%v", err)
		}

		// Hot reload needs the config directory to exist
		watchPath := currentConfigPath()
		if _, err := os.Stat(filepath.Dir(watchPath)); err != nil {
			watchPath = ""
		}

		d, err := daemon.New(a.engine, s, a.undo, &daemon.Config{
			SyncInterval: cfg.Sync.Interval,
			Debounce:     cfg.Sync.Debounce,
			ConfigPath:   watchPath,
			Logger:       sink.Logger("daemon"),
		})
		if err != nil {
			a.Close()
			fatalf("failed to create daemon: %v", err)
		}
		a.relay.Attach(d)

		if len(cfg.Kafka.Brokers) > 0 {
			pub, err := kafka.NewPublisher(kafka.Config{
				Brokers: cfg.Kafka.Brokers,
				Topic:   cfg.Kafka.Topic,
				Logger:  sink.Logger("kafka"),
			})
			if err != nil {
				a.Close()
				fatalf("failed to create kafka publisher: %v", err)
			}
			defer pub.Close()
			a.relay.Attach(pub)
			fmt.Printf("Publishing events to %s on %v\n", cfg.Kafka.Topic, cfg.Kafka.Brokers)
		}

		var server *dashboard.Server
		if withDashboard {
			server, err = startDashboard(a, port)
			if err != nil {
				a.Close()
				fatalf("%v", err)
			}
			fmt.Printf("Dashboard: http://%s\n", server.Addr())
		}

		fmt.Printf("Syncing %s with %s\n", a.db.Path(), cfg.Sync.URL)
		fmt.Println("Press Ctrl+C to stop...")

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}

		if server != nil {
			if err := server.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "Error stopping dashboard: %v\n", err)
			}
		}
		fmt.Println("Daemon stopped")
	},
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Also serve the dashboard")
	daemonCmd.Flags().IntP("port", "p", 8080, "Dashboard port (default: dashboard.port)")
	rootCmd.AddCommand(daemonCmd)
}
