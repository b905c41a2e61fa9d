package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conarylabs/conary/internal/catalog"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every installed trove",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		troves, err := catalog.ListAllTroves(cmd.Context(), a.catalog.DB())
		if err != nil {
			return err
		}

		fmt.Printf("%-30s %-15s %-10s %-10s\n", "NAME", "VERSION", "ARCH", "SOURCE")
		for _, t := range troves {
			arch := "-"
			if t.Architecture.Valid {
				arch = t.Architecture.String
			}
			fmt.Printf("%-30s %-15s %-10s %-10s\n", t.Name, t.Version, arch, string(t.InstallSource))
		}
		return nil
	},
}
