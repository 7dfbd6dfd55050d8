package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mabhi256/nbtspec/utils"
)

// set through -ldflags at release time
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "nbtspec",
	Short: "NBT schema inference for Minecraft class archives",
	Long: `nbtspec abstractly executes the save methods in a Minecraft jar and emits
a JSON schema of the NBT every entity or block entity writes to disk.

The analysis needs two inputs: the game jar and the entity (or block
entity) list produced by the in-game data extractor. The emitted document
can be browsed with the inspect subcommand.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, utils.CriticalStyle.Render(">>>> "+err.Error()))
		os.Exit(1)
	}
}
