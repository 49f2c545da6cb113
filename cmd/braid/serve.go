package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/braidhq/braid/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the braid daemon",
	Long: `Run the long-lived braid process: connector poll loops, conflict
detection and the live dashboard. Stops on SIGINT or SIGTERM.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatal(err)
		}
		d, err := daemon.New(cfg)
		if err != nil {
			fatal(err)
		}
		if cfg.Dashboard.Enabled {
			fmt.Printf("Dashboard on port %d\n", cfg.Dashboard.Port)
		}
		if err := d.Run(); err != nil {
			fatal(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
