package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conarylabs/conary/internal/catalog"
	"github.com/conarylabs/conary/internal/deploy"
	"github.com/conarylabs/conary/internal/depresolve"
	"github.com/conarylabs/conary/internal/txn"
)

var removeCmd = &cobra.Command{
	Use:   "remove NAME VERSION [ARCH]",
	Short: "Remove an installed trove",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		cascade, _ := cmd.Flags().GetBool("cascade")
		arch := ""
		if len(args) == 3 {
			arch = args[2]
		}
		return runRemove(cmd.Context(), a, args[0], args[1], arch, cascade)
	},
}

func init() {
	removeCmd.Flags().Bool("cascade", false, "Also remove every trove that depends on this one")
}

func runRemove(ctx context.Context, a *app, name, version, arch string, cascade bool) error {
	trove, err := catalog.FindTroveByNameVersionArch(ctx, a.catalog.DB(), name, version, arch)
	if err != nil {
		return err
	}

	policy := depresolve.PolicyStrict
	if cascade {
		policy = depresolve.PolicyCascade
	}
	closure, err := depresolve.CheckRemoval(ctx, a.catalog.DB(), trove.ID, policy)
	if err != nil {
		return err
	}

	troveIDs := []int64{trove.ID}
	for _, entry := range closure {
		troveIDs = append(troveIDs, entry.TroveID)
	}

	var allRemovals []deploy.Removal
	result, err := a.engine.TransactionWithDeploy(ctx,
		fmt.Sprintf("remove %s %s", name, version),
		func(ctx context.Context, h *txn.Handle) error {
			removals, err := removeTroves(ctx, h, troveIDs)
			if err != nil {
				return err
			}
			allRemovals = removals
			return nil
		},
		func() error {
			res := a.deployer.Remove(allRemovals)
			for _, w := range res.Warnings {
				a.logger.Warn(w)
			}
			return nil
		},
	)
	if err != nil {
		return err
	}

	fmt.Printf("Removed %s %s and %d dependent trove(s) (changeset %d)\n", name, version, len(closure), result.ChangesetID)
	return nil
}

// removeTroves snapshots and deletes every trove in troveIDs within a
// single transaction, returning the filesystem removals the deploy phase
// must perform once the catalog change is committed.
func removeTroves(ctx context.Context, h *txn.Handle, troveIDs []int64) ([]deploy.Removal, error) {
	var removals []deploy.Removal
	for _, id := range troveIDs {
		files, err := snapshotAndDeleteTrove(ctx, h, id)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			removals = append(removals, deploy.Removal{Path: f.Path, Type: f.Type})
		}
	}
	return removals, nil
}

func snapshotAndDeleteTrove(ctx context.Context, h *txn.Handle, troveID int64) ([]*catalog.FileRecord, error) {
	trove, err := catalog.FindTroveByID(ctx, h.Tx(), troveID)
	if err != nil {
		return nil, err
	}
	files, err := catalog.FindFilesByTrove(ctx, h.Tx(), troveID)
	if err != nil {
		return nil, err
	}

	snap := &txn.RemovalSnapshot{Trove: *trove}
	for _, f := range files {
		snap.Files = append(snap.Files, *f)
	}
	if err := h.SetRemovalSnapshot(ctx, snap); err != nil {
		return nil, err
	}

	for _, f := range files {
		var hashAfter sql.NullString
		if err := h.LogFileHistory(ctx, f.Path, catalog.FileActionDelete, f.Hash, hashAfter, sql.NullInt64{}); err != nil {
			return nil, err
		}
		if err := catalog.DeleteFileByPath(ctx, h.Tx(), f.Path); err != nil {
			return nil, err
		}
	}
	if err := catalog.DeleteTrove(ctx, h.Tx(), troveID); err != nil {
		return nil, err
	}
	return files, nil
}
