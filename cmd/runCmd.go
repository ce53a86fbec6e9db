package cmd

import (
	"github.com/spf13/cobra"

	"nestgo/pkg/driver"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run Emulation",
	Long:  `Apply a topology from a configuration file and run its experiment, if one is declared.`,
	// RunE instead of Run: a failure must reach main so the deferred
	// teardown still runs.
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("from")
		cfg, err := driver.FromFile(path)
		if err != nil {
			return err
		}
		if err := Driver.Apply(runCtx, cfg.Topology); err != nil {
			return err
		}
		if cfg.Experiment != nil {
			return Driver.RunExperiment(runCtx, *cfg.Experiment)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("from", "f", "", "Path to the emulation configuration file")
}
