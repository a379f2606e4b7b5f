package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/budgetsync/internal/ledger/transport"
	"github.com/steveyegge/budgetsync/internal/loadtest"
	"github.com/steveyegge/budgetsync/internal/remote"
	"github.com/steveyegge/budgetsync/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Simulate many devices editing and syncing concurrently",
	Long: `Run a sync load test: each simulated device keeps its own in-memory
ledger, makes random edits and syncs, concurrently with the others. At the
end every device must hold the same ledger.

Without --url the devices talk to an in-process server; with --url they
hit a running "budget remote serve". Never point --url at a server that
holds real data.

Examples:
  budget remote bench
  budget remote bench --devices 50 --rounds 20
  budget remote bench --url http://localhost:8090/sync --json`,
	Run: runBench,
}

func init() {
	benchCmd.Flags().Int("devices", 10, "Number of concurrent devices")
	benchCmd.Flags().Int("rounds", 10, "Edit-then-sync rounds per device")
	benchCmd.Flags().Int("edits", 5, "Edits per round")
	benchCmd.Flags().Int64("seed", 42, "Random seed")
	benchCmd.Flags().String("url", "", "Sync endpoint (default: in-process server)")
	benchCmd.Flags().Bool("json", false, "Output results as JSON")
	remoteCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) {
	devices, _ := cmd.Flags().GetInt("devices")
	rounds, _ := cmd.Flags().GetInt("rounds")
	edits, _ := cmd.Flags().GetInt("edits")
	seed, _ := cmd.Flags().GetInt64("seed")
	url, _ := cmd.Flags().GetString("url")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if devices <= 0 || rounds <= 0 || edits <= 0 {
		fatalf("--devices, --rounds and --edits must be positive")
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	newTransport := func() (transport.Transport, error) {
		return transport.NewHTTP(transport.HTTPConfig{URL: url, Timeout: 10 * time.Second})
	}
	target := url
	if url == "" {
		h := remote.NewHandler(remote.NewMemory(time.Now), sink.Logger("remote"))
		newTransport = func() (transport.Transport, error) { return h.Transport(), nil }
		target = "in-process server"
	}

	if !jsonOutput {
		fmt.Printf("Running %d devices x %d rounds x %d edits against %s\n\n", devices, rounds, edits, target)
	}

	report, err := loadtest.Run(ctx, loadtest.Config{
		Devices:       devices,
		Rounds:        rounds,
		EditsPerRound: edits,
		Seed:          seed,
		NewTransport:  newTransport,
		Logger:        sink.Logger("loadtest"),
	})
	if err != nil {
		fatalf("%v", err)
	}

	if jsonOutput {
		out := map[string]interface{}{
			"devices":     report.Devices,
			"edits":       report.Edits,
			"edit_errors": report.EditErrors,
			"syncs":       report.Stats.TotalSyncs,
			"sync_errors": report.Stats.Errors,
			"rows":        report.Rows,
			"balance":     report.Balance,
			"converged":   report.Converged,
			"mismatches":  report.Mismatches,
			"elapsed_ms":  report.Elapsed.Milliseconds(),
			"latency_ms": map[string]float64{
				"min":  ms(report.Stats.Min),
				"p50":  ms(report.Stats.P50),
				"mean": ms(report.Stats.Mean),
				"p95":  ms(report.Stats.P95),
				"p99":  ms(report.Stats.P99),
				"max":  ms(report.Stats.Max),
			},
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fatalf("%v", err)
		}
	} else {
		report.Stats.PrintStats(os.Stdout)
		fmt.Printf("\n%d edits (%d failed) in %s\n", report.Edits, report.EditErrors, report.Elapsed.Round(time.Millisecond))
		fmt.Printf("%d rows, %s\n", report.Rows, ui.RenderBalance(report.Balance, cfg.Display.Currency))
		if report.Converged {
			fmt.Printf("%s All devices converged\n", ui.RenderPass("✓"))
		} else {
			fmt.Printf("%s Devices diverged:\n", ui.RenderFail("✗"))
			for _, m := range report.Mismatches {
				fmt.Printf("  %s\n", m)
			}
		}
	}

	// Exit with code 1 on divergence for CI
	if !report.Converged {
		os.Exit(1)
	}
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
