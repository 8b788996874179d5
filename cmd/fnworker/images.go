package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seantiz/fnworker/internal/backend/container"
	"github.com/seantiz/fnworker/internal/config"
)

var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "Print the runtime image table",
	Long: `Print the mapping from runtime names to action images used by the
container backend, including overrides from FNWORKER_IMAGES_FILE.`,
	Args: cobra.NoArgs,
	RunE: runImages,
}

func init() {
	imagesCmd.Flags().String("file", "", "Image table YAML (overrides FNWORKER_IMAGES_FILE)")
	rootCmd.AddCommand(imagesCmd)
}

func runImages(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("file")
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		path = cfg.ImagesFile
	}

	table, err := container.LoadImageTable(path)
	if err != nil {
		return err
	}

	images := table.Images()
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUNTIME\tIMAGE")
	for _, runtime := range table.Runtimes() {
		fmt.Fprintf(tw, "%s\t%s\n", runtime, images[runtime])
	}
	return tw.Flush()
}
