package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback CHANGESET_ID",
	Short: "Reverse a previously applied changeset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		changesetID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return newUsageError("invalid changeset id %q: %v", args[0], err)
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.engine.Rollback(cmd.Context(), changesetID)
		if err != nil {
			return err
		}

		fmt.Printf("Rolled back changeset %d (compensating changeset %d)\n", changesetID, result.ChangesetID)
		return nil
	},
}
