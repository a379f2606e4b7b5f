package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/budgetsync/internal/ledger/syncer"
	"github.com/steveyegge/budgetsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Send pending changes and fetch changes from other devices",
	Long: `Run one sync round trip: send every pending change, fetch everything the
server has seen since the last sync, and merge it into the local ledger.

A failed round trip changes nothing locally; pending changes are sent again
next time.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		if !runSyncOnce(ctx, a) {
			a.Close()
			os.Exit(1)
		}
	},
}

var syncLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent sync round trips",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := openApp(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		runs, err := a.db.RecentSyncRuns(cmd.Context(), limit)
		if err != nil {
			fatalf("%v", err)
		}
		if len(runs) == 0 {
			fmt.Println(ui.RenderMuted("No sync runs yet"))
			return
		}

		now := time.Now()
		for _, run := range runs {
			mark := ui.RenderPass("✓")
			detail := fmt.Sprintf("sent %d, received %d, cursor %d", run.Sent, run.Received, run.Cursor)
			if !run.OK() {
				mark = ui.RenderFail("✗")
				detail = ui.RenderFail(run.Error)
			}
			fmt.Printf("%s %-9s %6s  %s\n", mark, ui.Ago(run.StartedAt, now),
				run.Duration.Round(time.Millisecond), detail)
		}
	},
}

// runSyncOnce runs one bounded round trip and prints the outcome. It
// reports whether the sync succeeded.
func runSyncOnce(ctx context.Context, a *app) bool {
	s, err := a.requireSync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, syncTimeout())
	defer cancel()

	res, err := s.RunSync(ctx)
	switch {
	case errors.Is(err, syncer.ErrTransport):
		fmt.Fprintf(os.Stderr, "%s Sync failed, nothing changed locally: %v\n", ui.RenderFail("✗"), err)
		return false
	case err != nil:
		fmt.Fprintf(os.Stderr, "%s Sync incomplete: %v\n", ui.RenderWarn("⚠"), err)
		return false
	}

	fmt.Printf("%s Synced: sent %d, received %d (%s)\n", ui.RenderPass("✓"),
		res.Sent, res.Received, res.Duration.Round(time.Millisecond))
	snap := a.engine.Snapshot()
	fmt.Println(ui.RenderBalance(snap.Balance, cfg.Display.Currency))
	if snap.Pending > 0 {
		fmt.Printf("%s %d still waiting to sync\n", ui.RenderWarn("↑"), snap.Pending)
	}
	return true
}

func init() {
	syncLogCmd.Flags().IntP("limit", "n", 20, "Number of runs to show")
	syncCmd.AddCommand(syncLogCmd)
	rootCmd.AddCommand(syncCmd)
}
