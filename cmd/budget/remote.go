package main

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/budgetsync/internal/remote"
)

var remoteCmd = &cobra.Command{
	Use:     "remote",
	GroupID: "advanced",
	Short:   "Run the sync server",
}

var remoteServeCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Serve the sync endpoint for a set of devices",
	Annotations: map[string]string{"logs": "always"},
	Long: `Serve POST /sync for budget clients.

Changes are kept in memory unless a PostgreSQL URL is given with --postgres
or remote.postgres_dsn; the schema is migrated on start.

Example usage:
  budget remote serve
  budget remote serve --port 8090 --postgres postgres://budget@localhost/budget?sslmode=disable`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		port, _ := cmd.Flags().GetInt("port")
		if !cmd.Flags().Changed("port") {
			port = cfg.Remote.Port
		}
		host, _ := cmd.Flags().GetString("host")
		dsn, _ := cmd.Flags().GetString("postgres")
		if dsn == "" {
			dsn = cfg.Remote.PostgresDSN
		}

		logger := sink.Logger("remote")

		var backend remote.Backend
		if dsn != "" {
			pg, err := remote.OpenPostgres(ctx, dsn)
			if err != nil {
				fatalf("%v", err)
			}
			backend = pg
			logger.Println("Using PostgreSQL backend")
		} else {
			backend = remote.NewMemory(time.Now)
			logger.Println("Using in-memory backend; changes are lost on exit")
		}
		defer backend.Close()

		addr := net.JoinHostPort(host, strconv.Itoa(port))
		fmt.Printf("Sync endpoint: http://%s/sync\n", addr)
		fmt.Println("Press Ctrl+C to stop...")

		if err := remote.Serve(ctx, addr, remote.NewHandler(backend, logger), logger); err != nil {
			backend.Close()
			fatalf("%v", err)
		}
		fmt.Println("Sync server stopped")
	},
}

func init() {
	remoteServeCmd.Flags().IntP("port", "p", 8090, "Port to listen on (default: remote.port)")
	remoteServeCmd.Flags().String("host", "", "Interface to bind (default: all)")
	remoteServeCmd.Flags().String("postgres", "", "PostgreSQL URL (default: remote.postgres_dsn)")
	remoteCmd.AddCommand(remoteServeCmd)
	rootCmd.AddCommand(remoteCmd)
}
