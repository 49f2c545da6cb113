package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/braidhq/braid/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync [connector]",
	Short: "Sync with external services, all connectors or one",
	Long: `Run one sync job: pull remote changes, apply them locally, push
local drift back. Connectors run in parallel; each report prints when
its job finishes. Divergences park as conflicts for 'braid resolve'.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		rt, closeRt, err := openRuntime(ctx)
		if err != nil {
			fatal(err)
		}
		defer closeRt()

		var reports []syncer.Report
		if len(args) == 1 {
			report, err := rt.Manager.Sync(ctx, args[0])
			if err != nil {
				fatal(err)
			}
			reports = append(reports, report)
		} else {
			ids := rt.Manager.IDs()
			if len(ids) == 0 {
				fmt.Println("No connectors configured. Add them to connectors.toml in the braid home.")
				return
			}
			reports = rt.Manager.SyncAll(ctx)
		}

		failed := false
		for _, r := range reports {
			printReport(r)
			if r.Outcome == syncer.OutcomeFailed {
				failed = true
			}
		}
		if failed {
			fatal(fmt.Errorf("one or more connectors failed"))
		}
	},
}

func printReport(r syncer.Report) {
	took := r.Finished.Sub(r.Started).Round(time.Millisecond)
	switch r.Outcome {
	case syncer.OutcomeOK:
		fmt.Printf("%s %s: %d fetched, %d created, %d updated, %d pushed",
			styleProgress.Render("✓"), styleName.Render(r.ConnectorID),
			r.Fetched, r.Created, r.Updated, r.Pushed)
		if r.Conflicts > 0 {
			fmt.Printf(", %s", styleWarn.Render(fmt.Sprintf("%d conflicts", r.Conflicts)))
		}
		fmt.Printf(" %s\n", styleDim.Render(fmt.Sprintf("(%v)", took)))
	case syncer.OutcomeCancelled:
		fmt.Printf("%s %s: cancelled, %d applied changes kept\n",
			styleWarn.Render("~"), styleName.Render(r.ConnectorID),
			r.Created+r.Updated+r.Archived+r.Pushed)
	default:
		fmt.Printf("%s %s: %v\n",
			styleWarn.Render("✗"), styleName.Render(r.ConnectorID), r.Err)
	}
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
