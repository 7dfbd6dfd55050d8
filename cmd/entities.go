package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mabhi256/nbtspec/internal/interp"
	"github.com/mabhi256/nbtspec/internal/jar"
	"github.com/mabhi256/nbtspec/internal/schema"
	"github.com/mabhi256/nbtspec/utils"
)

var (
	outputPath   string
	mappingsPath string
	gameVersion  string
)

var entitiesCmd = &cobra.Command{
	Use:   "entities [jar-file] [entity-list.json]",
	Short: "Infer the NBT schema of every entity save method",
	Args:  cobra.ExactArgs(2),
	ValidArgsFunction: utils.CompleteFilesByExtension(
		[]string{".jar", ".json"}, false),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAnalysis(args[0], args[1], schema.ModeEntities)
	},
}

var blockEntitiesCmd = &cobra.Command{
	Use:   "blockentities [jar-file] [version] [block-entity-list.json]",
	Short: "Infer the NBT schema of every block entity save method",
	Long: `The optional version tag selects the save-method era of the archive
(block entities renamed their write-out method in 1.18).`,
	Args: cobra.RangeArgs(2, 3),
	ValidArgsFunction: utils.CompleteFilesByExtension(
		[]string{".jar", ".json"}, false),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 3 {
			gameVersion = args[1]
			return runAnalysis(args[0], args[2], schema.ModeBlockEntities)
		}
		return runAnalysis(args[0], args[1], schema.ModeBlockEntities)
	},
}

func runAnalysis(jarPath, listPath string, mode schema.Mode) error {
	start := time.Now()

	maps := interp.MappingsForVersion(gameVersion)
	if mappingsPath != "" {
		loaded, err := interp.LoadMappings(mappingsPath)
		if err != nil {
			return err
		}
		maps = loaded
	}

	fmt.Println(utils.InfoStyle.Render(fmt.Sprintf(">>> opening archive %s", jarPath)))
	loader, err := jar.Open(jarPath)
	if err != nil {
		return err
	}
	defer loader.Close()
	fmt.Println(utils.MutedStyle.Render(fmt.Sprintf(">> %d classes in archive", loader.Count())))

	input, err := schema.ReadEntitiesInput(listPath)
	if err != nil {
		return err
	}
	fmt.Println(utils.InfoStyle.Render(fmt.Sprintf(">>> analyzing %d entries", len(input.Entities))))

	driver := &schema.Driver{
		Source: schema.ArchiveSource{Loader: loader},
		Maps:   maps,
		Warnf: func(format string, args ...any) {
			fmt.Println(utils.WarningStyle.Render(">>>> WARNING: " + fmt.Sprintf(format, args...)))
		},
	}
	doc, err := driver.Analyze(input, mode)
	if err != nil {
		return err
	}

	data, err := doc.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("unable to write %s: %w", outputPath, err)
	}

	fmt.Println(utils.GoodStyle.Render(fmt.Sprintf(
		">>> wrote %d types and %d compound types to %s in %s",
		len(doc.Types), len(doc.CompoundTypes), outputPath, utils.FormatDuration(time.Since(start)))))
	return nil
}

func init() {
	rootCmd.AddCommand(entitiesCmd)
	rootCmd.AddCommand(blockEntitiesCmd)

	for _, cmd := range []*cobra.Command{entitiesCmd, blockEntitiesCmd} {
		cmd.Flags().StringVarP(&outputPath, "output", "o", "schema.json",
			"output path for the schema document")
		cmd.Flags().StringVar(&mappingsPath, "mappings", "",
			"YAML file overriding the built-in class and method mappings")
	}
}
