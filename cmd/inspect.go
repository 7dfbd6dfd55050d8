package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mabhi256/nbtspec/internal/schema"
	"github.com/mabhi256/nbtspec/internal/tui"
	"github.com/mabhi256/nbtspec/utils"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [schema.json]",
	Short: "Browse an emitted schema document interactively",
	Args:  cobra.ExactArgs(1),
	ValidArgsFunction: utils.CompleteFilesByExtension(
		[]string{".json"}, false),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("unable to read schema: %w", err)
		}
		doc, err := schema.Unmarshal(data)
		if err != nil {
			return err
		}
		return tui.Run(doc)
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
