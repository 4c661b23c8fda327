package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/workflow"
)

func newWorkflowCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Inspect workflow catalogs",
	}

	// catalogFor loads the catalog named by args, else the configured one.
	catalogFor := func(args []string) (*workflow.Catalog, error) {
		if len(args) == 1 {
			return workflow.LoadCatalogFile(args[0])
		}
		return loadCatalog(c.cfg)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate [catalog.yaml]",
		Short: "Check a catalog for undeclared states, ambiguous edges and cycles",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := catalogFor(args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d workflows, %d registration types\n",
				len(catalog.Workflows()), len(catalog.Types()))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show [catalog.yaml]",
		Short: "Print the effective catalog as YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := catalogFor(args)
			if err != nil {
				return err
			}
			return workflow.WriteCatalog(cmd.OutOrStdout(), catalog)
		},
	})
	return cmd
}
