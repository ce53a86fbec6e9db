package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"nestgo/pkg/driver"
)

var Driver *driver.Driver
var runCtx context.Context

var rootCmd = &cobra.Command{
	Use:   "nestgo",
	Short: "nestgo emulation CLI",
	Long:  "A command-line tool for emulating network topologies and running experiments over them.",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context, d *driver.Driver) error {
	Driver = d
	runCtx = ctx
	return rootCmd.Execute()
}
