package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/braidhq/braid/internal/graph"
)

var dimCmd = &cobra.Command{
	Use:   "dim",
	Short: "Query tasks along planning dimensions",
}

var dimTopCmd = &cobra.Command{
	Use:   "top <interest|value> [k]",
	Short: "Show the k highest-rated active tasks (default 10)",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		dim := graph.Dimension(args[0])
		if dim != graph.DimensionInterest && dim != graph.DimensionValue {
			fatal(fmt.Errorf("top takes interest or value, not %q", args[0]))
		}
		k := 10
		if len(args) == 2 {
			if _, err := fmt.Sscanf(args[1], "%d", &k); err != nil {
				fatal(fmt.Errorf("invalid count %q", args[1]))
			}
		}

		rt, closeRt, err := openRuntime(context.Background())
		if err != nil {
			fatal(err)
		}
		defer closeRt()

		for _, id := range rt.Index.TopK(dim, k) {
			if v, err := rt.Store.View(id); err == nil {
				printTaskLine(v)
			}
		}
	},
}

var dimDueCmd = &cobra.Command{
	Use:   "due [window]",
	Short: "Show active tasks due within a window (default 7 days)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		window := 7 * 24 * time.Hour
		if len(args) == 1 {
			d, err := time.ParseDuration(args[0])
			if err != nil {
				fatal(fmt.Errorf("invalid window %q (try 48h, 168h)", args[0]))
			}
			window = d
		}

		rt, closeRt, err := openRuntime(context.Background())
		if err != nil {
			fatal(err)
		}
		defer closeRt()

		now := time.Now()
		for _, id := range rt.Index.DueBetween(now.Add(-365*24*time.Hour), now.Add(window)) {
			v, err := rt.Store.View(id)
			if err != nil {
				continue
			}
			due := ""
			if v.Attrs.DueAt != nil {
				due = v.Attrs.DueAt.Format("Mon Jan 2 15:04")
				if v.Attrs.DueAt.Before(now) {
					due = styleWarn.Render(due + " (overdue)")
				}
			}
			fmt.Printf("%s  %s  %s\n", due, styleName.Render(v.Name), styleDim.Render(string(v.ID)))
		}
	},
}

var dimGoalCmd = &cobra.Command{
	Use:   "goal [goal-id]",
	Short: "Show goals, or the active tasks linked to one goal",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rt, closeRt, err := openRuntime(context.Background())
		if err != nil {
			fatal(err)
		}
		defer closeRt()

		if len(args) == 0 {
			if len(rt.Goals.Goals) == 0 {
				fmt.Println("No goals defined. Add them to goals.yaml in the braid home.")
				return
			}
			for _, g := range rt.Goals.Goals {
				n := len(rt.Index.ByGoal(g.ID))
				fmt.Printf("%s  %s %s\n", styleName.Render(g.ID),
					g.Name, styleDim.Render(fmt.Sprintf("(%d tasks)", n)))
			}
			return
		}

		goalID := args[0]
		if g, ok := rt.Goals.Lookup(goalID); ok {
			fmt.Printf("%s\n", styleName.Render(g.Name))
			if g.Description != "" {
				fmt.Printf("%s\n", styleDim.Render(g.Description))
			}
		}
		for _, id := range rt.Index.ByGoal(goalID) {
			if v, err := rt.Store.View(id); err == nil {
				printTaskLine(v)
			}
		}
	},
}

var dimRangeCmd = &cobra.Command{
	Use:   "range <interest|value> <min> <max>",
	Short: "Show active tasks with a rating inside [min, max]",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		dim := graph.Dimension(args[0])
		if dim != graph.DimensionInterest && dim != graph.DimensionValue {
			fatal(fmt.Errorf("range takes interest or value, not %q", args[0]))
		}
		var min, max float64
		if _, err := fmt.Sscanf(args[1], "%f", &min); err != nil {
			fatal(fmt.Errorf("invalid min %q", args[1]))
		}
		if _, err := fmt.Sscanf(args[2], "%f", &max); err != nil {
			fatal(fmt.Errorf("invalid max %q", args[2]))
		}

		rt, closeRt, err := openRuntime(context.Background())
		if err != nil {
			fatal(err)
		}
		defer closeRt()

		for _, id := range rt.Index.Range(dim, min, max) {
			if v, err := rt.Store.View(id); err == nil {
				printTaskLine(v)
			}
		}
	},
}

func init() {
	dimCmd.AddCommand(dimTopCmd, dimDueCmd, dimGoalCmd, dimRangeCmd)
	rootCmd.AddCommand(dimCmd)
}
