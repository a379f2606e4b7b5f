package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/budgetsync/internal/dashboard"
)

var dashboardCmd = &cobra.Command{
	Use:         "dashboard",
	GroupID:     "advanced",
	Short:       "Serve the ledger UI and JSON API on localhost",
	Annotations: map[string]string{"logs": "always"},
	Long: `Start a local HTTP dashboard for the ledger.

The dashboard serves a JSON API for adding, editing and removing
transactions and pushes every ledger change to WebSocket clients.
Removals can be undone until the undo window closes.

Endpoints:
  GET    /api/ledger               Transactions, balance, pending count
  POST   /api/transactions         Add {amount, direction, label, date}
  PUT    /api/transactions/{id}    Edit
  DELETE /api/transactions/{id}    Remove (undoable)
  POST   /api/undo                 Undo the last removal
  POST   /api/sync                 Sync now
  GET    /ws                       Live updates

The dashboard does not sync on its own; run "budget daemon --dashboard"
for scheduled syncs.

Example usage:
  budget dashboard                 # Start on the configured port
  budget dashboard --port 9000     # Start on a custom port`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		port, _ := cmd.Flags().GetInt("port")
		if !cmd.Flags().Changed("port") {
			port = cfg.Dashboard.Port
		}

		a, err := openApp(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		server, err := startDashboard(a, port)
		if err != nil {
			a.Close()
			fatalf("%v", err)
		}

		fmt.Printf("Dashboard started on http://%s\n", server.Addr())
		fmt.Printf("WebSocket endpoint: ws://%s/ws\n", server.Addr())
		fmt.Println("\nPress Ctrl+C to stop...")

		<-ctx.Done()

		fmt.Println("\nShutting down dashboard...")
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
		}
		fmt.Println("Dashboard stopped")
	},
}

// startDashboard serves a's ledger and attaches the dashboard to its
// events.
func startDashboard(a *app, port int) (*dashboard.Server, error) {
	logger := sink.Logger("dashboard")
	server := dashboard.NewServer(&dashboard.Config{
		Port:   port,
		Logger: logger,
	})

	apiCfg := dashboard.APIConfig{
		Engine:   a.engine,
		Undo:     a.undo,
		Currency: cfg.Display.Currency,
		Logger:   logger,
	}
	if a.syncer != nil {
		apiCfg.Syncer = a.syncer
	}
	api, err := dashboard.NewAPI(apiCfg)
	if err != nil {
		return nil, err
	}

	a.relay.Attach(dashboard.NewHandler(server, logger))
	if err := server.Start(api); err != nil {
		return nil, fmt.Errorf("failed to start dashboard: %w", err)
	}
	return server, nil
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 8080, "Port to listen on (default: dashboard.port)")
	rootCmd.AddCommand(dashboardCmd)
}
