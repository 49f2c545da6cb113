package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/braidhq/braid/internal/graph"
)

var edgeCmd = &cobra.Command{
	Use:   "edge",
	Short: "Compose tasks into weighted hierarchies",
}

var (
	flagWeight float64
	flagSort   string
)

var edgeAddCmd = &cobra.Command{
	Use:   "add <parent> <child>",
	Short: "Make child a weighted subtask of parent",
	Long: `Make child a weighted subtask of parent.

The child's progress contributes to the parent proportionally to the
edge weight. Adding an edge that would create a cycle fails and leaves
the graph untouched. Re-adding an existing edge updates its weight.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		rt, closeRt, err := openRuntime(context.Background())
		if err != nil {
			fatal(err)
		}
		defer closeRt()

		err = rt.Store.CreateEdge(graph.Edge{
			Parent:    graph.NodeID(args[0]),
			Child:     graph.NodeID(args[1]),
			Weight:    flagWeight,
			SortOrder: flagSort,
		})
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Linked %s -> %s (weight %g)\n", args[0], args[1], flagWeight)
	},
}

var edgeRmCmd = &cobra.Command{
	Use:   "rm <parent> <child>",
	Short: "Remove a composition edge",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		rt, closeRt, err := openRuntime(context.Background())
		if err != nil {
			fatal(err)
		}
		defer closeRt()

		if err := rt.Store.RemoveEdge(graph.NodeID(args[0]), graph.NodeID(args[1])); err != nil {
			fatal(err)
		}
		fmt.Printf("Unlinked %s -> %s\n", args[0], args[1])
	},
}

var edgeTreeCmd = &cobra.Command{
	Use:   "tree <id>",
	Short: "Show a task with its subtasks, recursively",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rt, closeRt, err := openRuntime(context.Background())
		if err != nil {
			fatal(err)
		}
		defer closeRt()

		printTree(rt.Store, graph.NodeID(args[0]), "", map[graph.NodeID]bool{})
	},
}

func printTree(rt runtimeView, id graph.NodeID, indent string, seen map[graph.NodeID]bool) {
	v, err := rt.View(id)
	if err != nil {
		fatal(err)
	}
	marker := fmt.Sprintf("%5.1f%%", v.Progress*100)
	if v.Incomplete {
		marker = styleWarn.Render("    ?")
	}
	fmt.Printf("%s%s %s %s\n", indent, marker, styleName.Render(v.Name), styleDim.Render(string(v.ID)))

	if seen[id] {
		// Diamonds show once; a shared subtask appears under each
		// parent but is expanded only the first time.
		return
	}
	seen[id] = true
	for _, child := range v.ChildIDs {
		printTree(rt, child, indent+"  ", seen)
	}
}

// runtimeView is the slice of the runtime printTree needs.
type runtimeView interface {
	View(id graph.NodeID) (graph.TaskView, error)
}

func init() {
	edgeAddCmd.Flags().Float64Var(&flagWeight, "weight", graph.DefaultWeight,
		"contribution weight (0 allowed: counts in the denominator only)")
	edgeAddCmd.Flags().StringVar(&flagSort, "sort", "", "sort order key among siblings")

	edgeCmd.AddCommand(edgeAddCmd, edgeRmCmd, edgeTreeCmd)
	rootCmd.AddCommand(edgeCmd)
}
