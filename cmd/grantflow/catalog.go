package main

import (
	"github.com/aescanero/grantflow/internal/proposal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Validate a section catalog and print its drafting order",
	Long: `Loads the proposal section catalog (the embedded default, or --file) and
prints the layers in which sections are drafted. Sections in one layer are
drafted concurrently once every earlier layer is done.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")

		var (
			catalog *proposal.Catalog
			err     error
		)
		if path == "" {
			catalog, err = proposal.DefaultCatalog()
		} else {
			catalog, err = proposal.LoadCatalog(path)
		}
		if err != nil {
			return err
		}

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		defer func() { _ = enc.Close() }()
		return enc.Encode(map[string]any{
			"sections":  catalog.IDs(),
			"layers":    catalog.Layers(),
			"dependsOn": catalog.DependsOn(),
		})
	},
}

func init() {
	catalogCmd.Flags().StringP("file", "f", "", "Catalog YAML file")
	rootCmd.AddCommand(catalogCmd)
}
