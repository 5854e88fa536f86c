package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rpattn/segmentql/internal/domain"
	"github.com/rpattn/segmentql/internal/filter"
	"github.com/rpattn/segmentql/internal/schema/registry"
)

func fieldsCmd(rt *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fields",
		Short: "Inspect the filterable field catalog",
	}

	var asJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List base and custom fields with their operators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			catalog := a.registry.ListAll()
			if asJSON {
				return printJSON(cmd.OutOrStdout(), catalog)
			}
			return printCatalog(cmd.OutOrStdout(), catalog)
		},
	}
	listCmd.Flags().BoolVar(&asJSON, "json", false, "Print the catalog as JSON")

	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Reload custom field definitions and report the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.registry.Refresh(cmd.Context()); err != nil {
				return err
			}
			catalog := a.registry.ListAll()
			fmt.Fprintf(cmd.OutOrStdout(), "%d base fields, %d custom fields\n", len(catalog.Base), len(catalog.Custom))
			return nil
		},
	}

	cmd.AddCommand(listCmd, refreshCmd)
	return cmd
}

func printCatalog(w io.Writer, catalog registry.Catalog) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tLABEL\tTYPE\tORIGIN\tOPERATORS")
	rows := append(append([]domain.FieldDescriptor{}, catalog.Base...), catalog.Custom...)
	for _, field := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			field.Key, field.Label, field.Type, field.Origin,
			strings.Join(filter.OperatorsFor(field.Type), ", "))
	}
	if catalog.Degraded {
		fmt.Fprintln(tw, "\t(custom fields unavailable)\t\t\t")
	}
	return tw.Flush()
}
