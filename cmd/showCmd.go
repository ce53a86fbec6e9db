package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"nestgo/pkg/driver"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show Resources",
	Long:  `Show the nodes or links a configuration file declares.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("from")
		cfg, err := driver.FromFile(path)
		if err != nil {
			return err
		}
		switch class := cmd.Flag("class").Value.String(); class {
		case "nodes":
			driver.ShowNodes(cfg.Topology)
		case "links":
			driver.ShowLinks(cfg.Topology)
		default:
			return fmt.Errorf("unknown class %q, want nodes or links", class)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().StringP("from", "f", "", "Path to the emulation configuration file")
	showCmd.Flags().String("class", "nodes", "Class of the element to show")
}
