package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/braidhq/braid/internal/graph"
)

var (
	styleName     = lipgloss.NewStyle().Bold(true)
	styleDim      = lipgloss.NewStyle().Faint(true)
	styleProgress = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleWarn     = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

var taskCmd = &cobra.Command{
	Use:     "task",
	Short:   "Create, inspect and update tasks",
	Aliases: []string{"t"},
}

var (
	flagDescribe string
	flagDue      string
	flagEstimate time.Duration
	flagInterest float64
	flagValue    float64
	flagGoals    []string
)

// parseDue accepts natural language ("friday 5pm", "in 2 weeks") as well
// as RFC 3339 and YYYY-MM-DD.
func parseDue(input string) (*time.Time, error) {
	if t, err := time.Parse(time.RFC3339, input); err == nil {
		return &t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", input, time.Local); err == nil {
		return &t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(input, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to parse due date %q: %w", input, err)
	}
	if r == nil {
		return nil, fmt.Errorf("could not understand due date %q", input)
	}
	return &r.Time, nil
}

var taskAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a task",
	Long: `Create a task. The due date takes natural language:

  braid task add "file taxes" --due "next friday" --value 9
  braid task add "read paper" --interest 8 --estimate 2h --goal learning`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		attrs := graph.Attributes{
			Estimate: flagEstimate,
			Interest: flagInterest,
			Value:    flagValue,
			Goals:    flagGoals,
		}
		if flagDue != "" {
			due, err := parseDue(flagDue)
			if err != nil {
				fatal(err)
			}
			attrs.DueAt = due
		}

		rt, closeRt, err := openRuntime(context.Background())
		if err != nil {
			fatal(err)
		}
		defer closeRt()

		id, err := rt.Store.CreateNode(graph.NodeSpec{
			Name:        strings.Join(args, " "),
			Description: flagDescribe,
			Attrs:       attrs,
		})
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Created %s\n", id)
	},
}

var taskListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List tasks with rolled-up progress",
	Aliases: []string{"ls"},
	Run: func(cmd *cobra.Command, args []string) {
		rt, closeRt, err := openRuntime(context.Background())
		if err != nil {
			fatal(err)
		}
		defer closeRt()

		views := rt.Store.Views()
		sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
		for _, v := range views {
			printTaskLine(v)
		}
	},
}

func printTaskLine(v graph.TaskView) {
	progress := styleProgress.Render(fmt.Sprintf("%5.1f%%", v.Progress*100))
	if v.Incomplete {
		progress = styleWarn.Render("    ?")
	}
	line := fmt.Sprintf("%s  %s  %s", progress, styleName.Render(v.Name), styleDim.Render(string(v.ID)))
	if v.State == graph.LifecycleArchived {
		line += styleDim.Render("  [archived]")
	}
	fmt.Println(line)
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one task in full",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rt, closeRt, err := openRuntime(context.Background())
		if err != nil {
			fatal(err)
		}
		defer closeRt()

		v, err := rt.Store.View(graph.NodeID(args[0]))
		if err != nil {
			fatal(err)
		}

		fmt.Printf("%s\n", styleName.Render(v.Name))
		fmt.Printf("  id:          %s\n", v.ID)
		if v.Description != "" {
			fmt.Printf("  description: %s\n", v.Description)
		}
		if v.Incomplete {
			fmt.Printf("  progress:    %s (no active subtasks)\n", styleWarn.Render("undefined"))
		} else {
			fmt.Printf("  progress:    %.1f%%\n", v.Progress*100)
		}
		fmt.Printf("  state:       %s\n", v.State)
		if v.Attrs.DueAt != nil {
			fmt.Printf("  due:         %s\n", v.Attrs.DueAt.Format(time.RFC1123))
		}
		if v.Attrs.Estimate > 0 {
			fmt.Printf("  estimate:    %s\n", v.Attrs.Estimate)
		}
		if v.Attrs.Interest > 0 {
			fmt.Printf("  interest:    %.1f\n", v.Attrs.Interest)
		}
		if v.Attrs.Value > 0 {
			fmt.Printf("  value:       %.1f\n", v.Attrs.Value)
		}
		if len(v.Attrs.Goals) > 0 {
			fmt.Printf("  goals:       %s\n", strings.Join(v.Attrs.Goals, ", "))
		}
		if len(v.ParentIDs) > 0 {
			fmt.Printf("  parents:     %s\n", joinIDs(v.ParentIDs))
		}
		if len(v.ChildIDs) > 0 {
			fmt.Printf("  subtasks:    %s\n", joinIDs(v.ChildIDs))
		}
	},
}

func joinIDs(ids []graph.NodeID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a task's fields",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rt, closeRt, err := openRuntime(context.Background())
		if err != nil {
			fatal(err)
		}
		defer closeRt()

		id := graph.NodeID(args[0])
		node, err := rt.Store.GetNode(id)
		if err != nil {
			fatal(err)
		}

		var due *time.Time
		if flagDue != "" {
			if due, err = parseDue(flagDue); err != nil {
				fatal(err)
			}
		}

		err = rt.Store.UpdateNode(id, node.Revision, func(n *graph.Node) {
			if name, _ := cmd.Flags().GetString("name"); name != "" {
				n.Name = name
			}
			if cmd.Flags().Changed("describe") {
				n.Description = flagDescribe
			}
			if due != nil {
				n.Attrs.DueAt = due
			}
			if cmd.Flags().Changed("estimate") {
				n.Attrs.Estimate = flagEstimate
			}
			if cmd.Flags().Changed("interest") {
				n.Attrs.Interest = flagInterest
			}
			if cmd.Flags().Changed("value") {
				n.Attrs.Value = flagValue
			}
			if cmd.Flags().Changed("goal") {
				n.Attrs.Goals = flagGoals
			}
		})
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Updated %s\n", id)
	},
}

var taskDoneCmd = &cobra.Command{
	Use:   "done <id> [ratio]",
	Short: "Set a leaf task's completion (default 1.0)",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		ratio := 1.0
		if len(args) == 2 {
			if _, err := fmt.Sscanf(args[1], "%f", &ratio); err != nil {
				fatal(fmt.Errorf("invalid ratio %q", args[1]))
			}
		}

		rt, closeRt, err := openRuntime(context.Background())
		if err != nil {
			fatal(err)
		}
		defer closeRt()

		if err := rt.Store.SetCompletion(graph.NodeID(args[0]), ratio); err != nil {
			fatal(err)
		}
		fmt.Printf("Set %s to %.0f%%\n", args[0], ratio*100)
	},
}

var taskArchiveCmd = &cobra.Command{
	Use:   "archive <id>",
	Short: "Archive a task (kept, but out of rollups and queries)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rt, closeRt, err := openRuntime(context.Background())
		if err != nil {
			fatal(err)
		}
		defer closeRt()

		if err := rt.Store.ArchiveNode(graph.NodeID(args[0])); err != nil {
			fatal(err)
		}
		fmt.Printf("Archived %s\n", args[0])
	},
}

var taskRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Restore an archived task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rt, closeRt, err := openRuntime(context.Background())
		if err != nil {
			fatal(err)
		}
		defer closeRt()

		if err := rt.Store.RestoreNode(graph.NodeID(args[0])); err != nil {
			fatal(err)
		}
		fmt.Printf("Restored %s\n", args[0])
	},
}

var taskRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a task that has no edges or external links",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		rt, closeRt, err := openRuntime(ctx)
		if err != nil {
			fatal(err)
		}
		defer closeRt()

		if err := rt.DeleteNode(ctx, graph.NodeID(args[0])); err != nil {
			fatal(err)
		}
		fmt.Printf("Deleted %s\n", args[0])
	},
}

func init() {
	for _, c := range []*cobra.Command{taskAddCmd, taskUpdateCmd} {
		c.Flags().StringVar(&flagDescribe, "describe", "", "task description")
		c.Flags().StringVar(&flagDue, "due", "", "due date (natural language, RFC 3339 or YYYY-MM-DD)")
		c.Flags().DurationVar(&flagEstimate, "estimate", 0, "effort estimate (e.g. 90m, 3h)")
		c.Flags().Float64Var(&flagInterest, "interest", 0, "interest 0-10")
		c.Flags().Float64Var(&flagValue, "value", 0, "value 0-10")
		c.Flags().StringSliceVar(&flagGoals, "goal", nil, "linked goal ids")
	}
	taskUpdateCmd.Flags().String("name", "", "new name")

	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskShowCmd, taskUpdateCmd,
		taskDoneCmd, taskArchiveCmd, taskRestoreCmd, taskRmCmd)
	rootCmd.AddCommand(taskCmd)
}
