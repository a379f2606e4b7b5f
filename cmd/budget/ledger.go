package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/budgetsync/internal/config"
	"github.com/steveyegge/budgetsync/internal/ledger/entry"
	"github.com/steveyegge/budgetsync/internal/ledger/schema"
	"github.com/steveyegge/budgetsync/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "ledger",
	Short:   "Create the ledger database and a starter config",
	Run: func(cmd *cobra.Command, args []string) {
		path := currentConfigPath()
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := config.WriteDefault(path, false); err != nil {
				fatalf("%v", err)
			}
			fmt.Printf("%s Wrote config %s\n", ui.RenderPass("✓"), path)
			// Pick up the new file's defaults
			if c, err := config.LoadFrom(path); err == nil {
				cfg = c
			}
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		fmt.Printf("%s Ledger ready at %s\n", ui.RenderPass("✓"), a.db.Path())
		fmt.Printf("   State: %s\n", a.cursors.Path())
		if cfg.Sync.URL != "" {
			fmt.Printf("   Sync: %s\n", cfg.Sync.URL)
		} else {
			fmt.Printf("   Sync: %s\n", ui.RenderWarn("not configured"))
		}
	},
}

var addCmd = &cobra.Command{
	Use:     "add <amount> <label...>",
	GroupID: "ledger",
	Short:   "Record an expense (or income with --in)",
	Long: `Record a transaction. Amounts are positive; expenses are the default,
use --in for income.

Dates accept 2006-01-02, "2006-01-02 15:04", RFC3339 or natural language
such as "yesterday 18:00". The default is now.

Examples:
  budget add 4.50 coffee
  budget add 1200 salary --in --date 2026-03-01
  budget add 38 "dinner with Sam" --date "last friday 20:00"`,
	Args: cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		income, _ := cmd.Flags().GetBool("in")
		date, _ := cmd.Flags().GetString("date")
		syncAfter, _ := cmd.Flags().GetBool("sync")

		form := entry.Form{
			Amount:    args[0],
			Direction: entry.Out,
			Label:     strings.Join(args[1:], " "),
			Date:      date,
		}
		if income {
			form.Direction = entry.In
		}
		e, err := entry.Parse(form, time.Now())
		if err != nil {
			fatalf("%v", err)
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		t, err := a.engine.CreateTransaction(cmd.Context(), e.Amount, e.Label, e.OccurredAt)
		if err != nil && t.ID == "" {
			fatalf("%v", err)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarn("⚠"), err)
		}

		fmt.Printf("%s Added %s %s %s\n", ui.RenderPass("✓"),
			ui.RenderAmount(t.Amount, cfg.Display.Currency), t.Label, ui.RenderMuted(shortID(t.ID)))
		fmt.Println(ui.RenderBalance(a.engine.Balance(), cfg.Display.Currency))

		if syncAfter {
			runSyncOnce(cmd.Context(), a)
		}
	},
}

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	GroupID: "ledger",
	Short:   "Change the amount, label or date of a transaction",
	Long: `Change a transaction. Only the given flags are changed; ids may be
shortened to any unique prefix.

Examples:
  budget edit 3f2a --amount 5.20
  budget edit 3f2a --label "coffee beans" --date yesterday`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		t, err := a.resolve(args[0])
		if err != nil {
			fatalf("%v", err)
		}

		form := entry.FormFrom(t)
		form.Date = ""
		flags := cmd.Flags()
		if flags.Changed("amount") {
			form.Amount, _ = flags.GetString("amount")
		}
		if flags.Changed("label") {
			form.Label, _ = flags.GetString("label")
		}
		if flags.Changed("date") {
			form.Date, _ = flags.GetString("date")
		}
		if in, _ := flags.GetBool("in"); in {
			form.Direction = entry.In
		}
		if out, _ := flags.GetBool("out"); out {
			form.Direction = entry.Out
		}

		// An empty date keeps the stored instant
		ref := t.OccurredAt
		if form.Date != "" {
			ref = time.Now()
		}
		e, err := entry.Parse(form, ref)
		if err != nil {
			fatalf("%v", err)
		}

		changed, err := a.engine.ReplaceTransaction(cmd.Context(), t.ID, e.Amount, e.Label, e.OccurredAt)
		if err != nil && !changed {
			fatalf("%v", err)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarn("⚠"), err)
		}
		if !changed {
			fmt.Printf("%s No changes\n", ui.RenderMuted("-"))
			return
		}

		next, _ := a.engine.Lookup(t.ID)
		fmt.Printf("%s Updated %s %s %s\n", ui.RenderPass("✓"),
			ui.RenderAmount(next.Amount, cfg.Display.Currency), next.Label, ui.RenderMuted(shortID(next.ID)))
		fmt.Println(ui.RenderBalance(a.engine.Balance(), cfg.Display.Currency))
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <id>",
	GroupID: "ledger",
	Short:   "Delete a transaction",
	Long: `Delete a transaction. The deletion is recorded locally and sent with the
next sync. Use the dashboard for deletions that can be undone.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		t, err := a.resolve(args[0])
		if err != nil {
			fatalf("%v", err)
		}

		// No one can press undo in a one-shot command
		if _, err := a.undo.Begin(cmd.Context(), t.ID); err != nil {
			fatalf("%v", err)
		}
		if err := a.undo.Discard(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarn("⚠"), err)
		}

		fmt.Printf("%s Deleted %s %s %s\n", ui.RenderPass("✓"),
			ui.RenderAmount(t.Amount, cfg.Display.Currency), t.Label, ui.RenderMuted(shortID(t.ID)))
		fmt.Println(ui.RenderBalance(a.engine.Balance(), cfg.Display.Currency))
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	GroupID: "ledger",
	Short:   "List transactions, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := openApp(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		snap := a.engine.Snapshot()
		list := snap.Active
		if limit > 0 && len(list) > limit {
			list = list[:limit]
		}

		fmt.Print(ui.RenderTable(list, cfg.Display.Currency))
		if len(list) < len(snap.Active) {
			fmt.Println(ui.RenderMuted(fmt.Sprintf("… %d more", len(snap.Active)-len(list))))
		}
		fmt.Println()
		fmt.Println(ui.RenderBalance(snap.Balance, cfg.Display.Currency))
		if snap.Pending > 0 {
			fmt.Printf("%s %d waiting to sync\n", ui.RenderWarn("↑"), snap.Pending)
		}
	},
}

var balanceCmd = &cobra.Command{
	Use:     "balance",
	GroupID: "ledger",
	Short:   "Show the balance",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		fmt.Println(ui.RenderBalance(a.engine.Balance(), cfg.Display.Currency))
	},
}

var pendingCmd = &cobra.Command{
	Use:     "pending",
	GroupID: "sync",
	Short:   "List changes not yet acknowledged by the server",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		pending := a.engine.Pending()
		if len(pending) == 0 {
			fmt.Printf("%s Everything is synced\n", ui.RenderPass("✓"))
			return
		}
		schema.SortNewestFirst(pending)
		fmt.Print(ui.RenderTable(pending, cfg.Display.Currency))
		fmt.Printf("\n%d pending (%s changed, %s deleted)\n", len(pending),
			ui.Flag(schema.Transaction{Pending: true}), ui.Flag(schema.Transaction{Deleted: true}))
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show ledger and sync status",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		ctx := cmd.Context()
		counts, err := a.db.GetCounts(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		state, err := a.cursors.State()
		if err != nil {
			fatalf("%v", err)
		}
		runs, err := a.db.RecentSyncRuns(ctx, 1)
		if err != nil {
			fatalf("%v", err)
		}

		now := time.Now()
		fmt.Printf("\n%s Ledger Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Database: %s\n", a.db.Path())
		fmt.Printf("Transactions: %d (%d pending, %d deleted awaiting sync)\n", counts.Active, counts.Pending, counts.Deleted)
		fmt.Println(ui.RenderBalance(a.engine.Balance(), cfg.Display.Currency))
		fmt.Println()
		if cfg.Sync.URL == "" {
			fmt.Printf("Sync: %s\n", ui.RenderWarn("not configured"))
		} else {
			fmt.Printf("Sync: %s\n", cfg.Sync.URL)
		}
		fmt.Printf("Cursor: %d (updated %s)\n", state.Cursor, ui.Ago(state.UpdatedAt, now))
		if len(runs) > 0 {
			run := runs[0]
			result := ui.RenderPass("ok")
			if !run.OK() {
				result = ui.RenderFail(run.Error)
			}
			fmt.Printf("Last sync: %s, %s\n", ui.Ago(run.StartedAt, now), result)
		} else {
			fmt.Printf("Last sync: never\n")
		}
		if a.engine.Dirty() {
			fmt.Printf("%s Some rows failed to save and will be retried on the next sync\n", ui.RenderWarn("⚠"))
		}
		fmt.Println()
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func init() {
	addCmd.Flags().Bool("in", false, "Record income instead of an expense")
	addCmd.Flags().StringP("date", "d", "", "When it happened (default: now)")
	addCmd.Flags().Bool("sync", false, "Sync right after saving")

	editCmd.Flags().StringP("amount", "a", "", "New amount (positive)")
	editCmd.Flags().StringP("label", "l", "", "New label")
	editCmd.Flags().StringP("date", "d", "", "New date")
	editCmd.Flags().Bool("in", false, "Make it income")
	editCmd.Flags().Bool("out", false, "Make it an expense")
	editCmd.MarkFlagsMutuallyExclusive("in", "out")

	listCmd.Flags().IntP("limit", "n", 0, "Show at most n transactions (0: all)")

	rootCmd.AddCommand(initCmd, addCmd, editCmd, rmCmd, listCmd, balanceCmd, pendingCmd, statusCmd)
}
