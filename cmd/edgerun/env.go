package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/sbl8/edgeinfer/envconfig"
)

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Show the EDGE_* environment variables and their effective values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			vars := envconfig.AsMap()
			keys := make([]string, 0, len(vars))
			for k := range vars {
				keys = append(keys, k)
			}
			slices.Sort(keys)

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"NAME", "VALUE", "DESCRIPTION"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")
			table.SetAutoWrapText(false)
			for _, k := range keys {
				v := vars[k]
				value := fmt.Sprint(v.Value)
				if labels, ok := v.Value.([]string); ok {
					value = strings.Join(labels, ",")
				}
				table.Append([]string{v.Name, value, v.Description})
			}
			table.Render()
			return nil
		},
	}
}
