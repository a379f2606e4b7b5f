package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/budgetsync/internal/ledger/backup"
	"github.com/steveyegge/budgetsync/internal/ledger/db"
	"github.com/steveyegge/budgetsync/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export [file]",
	GroupID: "advanced",
	Short:   "Write every ledger row to JSONL",
	Long: `Write every row of the local ledger, including deletions and pending
flags, as one JSON object per line. Without a file the export goes to
stdout.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		database, err := openDB(cmd)
		if err != nil {
			fatalf("%v", err)
		}
		defer database.Close()

		if len(args) == 0 {
			if _, err := backup.Export(cmd.Context(), database, os.Stdout); err != nil {
				database.Close()
				fatalf("%v", err)
			}
			return
		}

		n, err := backup.ExportFile(cmd.Context(), database, args[0])
		if err != nil {
			database.Close()
			fatalf("%v", err)
		}
		fmt.Fprintf(os.Stderr, "%s Exported %d rows to %s\n", ui.RenderPass("✓"), n, args[0])
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "advanced",
	Short:   "Restore ledger rows from a JSONL export",
	Long: `Restore rows written by "budget export". The ledger must be empty unless
--force is given, in which case rows with the same id are overwritten.

Pending rows stay pending and are sent with the next sync.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		force, _ := cmd.Flags().GetBool("force")

		database, err := openDB(cmd)
		if err != nil {
			fatalf("%v", err)
		}
		defer database.Close()

		res, err := backup.Import(cmd.Context(), database, args[0], backup.ImportOptions{DryRun: dryRun, Force: force})
		if err != nil {
			database.Close()
			fatalf("%v", err)
		}

		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %s %d rows (%d pending, %d deleted)\n", ui.RenderPass("✓"), verb, res.Rows, res.Pending, res.Deleted)
	},
}

// openDB opens the ledger database without loading the engine.
func openDB(cmd *cobra.Command) (*db.DB, error) {
	database, err := db.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	if err := database.InitSchemaContext(cmd.Context()); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

func init() {
	importCmd.Flags().Bool("dry-run", false, "Validate and count without writing")
	importCmd.Flags().Bool("force", false, "Import into a non-empty ledger")
	rootCmd.AddCommand(exportCmd, importCmd)
}
