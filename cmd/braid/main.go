// Command braid is the CLI for the braid task graph: hierarchical tasks
// with weighted progress rollup, dimension queries and bidirectional
// sync against external services.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/braidhq/braid/internal/config"
	"github.com/braidhq/braid/internal/daemon"
)

var (
	flagConfig string

	rootCmd = &cobra.Command{
		Use:   "braid",
		Short: "Personal task graphs with progress rollup and external sync",
		Long: `Braid keeps tasks in a composition DAG: any task can be broken into
weighted subtasks, progress rolls up automatically, and tasks stay in
sync with external services through connectors.`,
		SilenceUsage: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "",
		"config file (default $BRAID_HOME/config.yaml)")
}

// loadConfig reads the configuration honoring the --config flag.
func loadConfig() (*config.Config, error) {
	if flagConfig != "" {
		return config.LoadFrom(flagConfig)
	}
	return config.Load()
}

// openRuntime builds the shared runtime for one CLI invocation. The
// returned cleanup must run before exit.
func openRuntime(ctx context.Context) (*daemon.Runtime, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	rt, err := daemon.OpenRuntime(ctx, cfg, nil)
	if err != nil {
		return nil, nil, err
	}
	return rt, func() { _ = rt.Close() }, nil
}

// fatal prints the error and exits, the single error path for commands.
func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long: `Create the braid home directory with a default config.yaml.

The braid home is ~/.braid, or $BRAID_HOME when set.`,
	Run: func(cmd *cobra.Command, args []string) {
		path := flagConfig
		if path == "" {
			path = filepath.Join(config.Home(), "config.yaml")
		}
		if err := config.WriteDefault(path); err != nil {
			fatal(err)
		}
		fmt.Printf("Wrote %s\n", path)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
