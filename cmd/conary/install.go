package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/conarylabs/conary/internal/capability"
	"github.com/conarylabs/conary/internal/catalog"
	"github.com/conarylabs/conary/internal/deploy"
	"github.com/conarylabs/conary/internal/depresolve"
	"github.com/conarylabs/conary/internal/federation"
	"github.com/conarylabs/conary/internal/ingest"
	"github.com/conarylabs/conary/internal/ingest/ccs"
	"github.com/conarylabs/conary/internal/txn"
)

var installCmd = &cobra.Command{
	Use:   "install PACKAGE",
	Short: "Install a package (RPM, DEB, Arch, or CCS) into the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		skipConfigScan, _ := cmd.Flags().GetBool("skip-config-scan")
		skipBinaryAnalysis, _ := cmd.Flags().GetBool("skip-binary-analysis")
		force, _ := cmd.Flags().GetBool("force")

		return runInstall(cmd.Context(), a, args[0], installOptions{
			SkipConfigScan:     skipConfigScan,
			SkipBinaryAnalysis: skipBinaryAnalysis,
			Force:              force,
		})
	},
}

func init() {
	installCmd.Flags().Bool("skip-config-scan", false, "Skip Tier 3 configuration-file scanning")
	installCmd.Flags().Bool("skip-binary-analysis", false, "Skip Tier 4 ELF binary analysis")
	installCmd.Flags().Bool("force", false, "Install despite unsatisfied dependencies")
}

type installOptions struct {
	SkipConfigScan     bool
	SkipBinaryAnalysis bool
	Force              bool
}

func runInstall(ctx context.Context, a *app, path string, opts installOptions) error {
	format, err := ingest.Detect(path)
	if err != nil {
		return err
	}

	if err := verifyIfCCS(path, a); err != nil {
		return err
	}

	trove, err := ingest.ToTrove(ctx, format, path)
	if err != nil {
		return err
	}

	meta, files := capability.FromTrove(trove)
	caps := capability.Infer(ctx, a.logger, meta, files, capability.Policy{
		SkipConfigScan:      opts.SkipConfigScan,
		SkipBinaryAnalysis:  opts.SkipBinaryAnalysis,
		Tier4WorkerPoolSize: a.cfg.Capability.Tier4WorkerPoolSize,
	})
	a.logger.Info("inferred capability profile", map[string]interface{}{
		"name": trove.Metadata.Name, "confidence": string(caps.Confidence),
		"tier": caps.TierUsed, "source": string(caps.Source), "rationale": caps.Rationale,
	})

	incomingProvides := map[string]bool{trove.Metadata.Name: true}
	for _, p := range trove.Metadata.Provides {
		incomingProvides[p] = true
	}
	var requirements []depresolve.Requirement
	for _, r := range trove.Metadata.Requires {
		requirements = append(requirements, depresolve.Requirement{Name: r.Name, VersionConstraint: r.Constraint})
	}
	unsatisfied, err := depresolve.CheckInstall(ctx, a.catalog.DB(), requirements, incomingProvides)
	if err != nil {
		return err
	}
	if len(unsatisfied) > 0 && !opts.Force {
		names := make([]string, len(unsatisfied))
		for i, u := range unsatisfied {
			names[i] = u.Requirement.Name
		}
		return fmt.Errorf("unsatisfied dependencies: %v (use --force to override)", names)
	}

	ops, err := commitFilesToStore(a, trove.Files)
	if err != nil {
		return err
	}

	existing, err := findUpgradeTarget(ctx, a, trove)
	if err != nil {
		return err
	}

	result, err := a.engine.TransactionWithDeploy(ctx,
		changesetDescription(trove, existing),
		func(ctx context.Context, h *txn.Handle) error {
			return insertTroveChangeset(ctx, h, trove, ops, existing)
		},
		func() error {
			_, err := a.deployer.Deploy(ops)
			return err
		},
	)
	if err != nil {
		return err
	}

	if existing != nil {
		fmt.Printf("Upgraded %s %s -> %s (changeset %d)\n", trove.Metadata.Name, existing.Version, trove.Metadata.Version, result.ChangesetID)
	} else {
		fmt.Printf("Installed %s %s (changeset %d)\n", trove.Metadata.Name, trove.Metadata.Version, result.ChangesetID)
	}
	return nil
}

// findUpgradeTarget looks up an already-installed trove sharing the
// incoming trove's (name, architecture). Conary treats that as a
// same-trove upgrade rather than a parallel install: the old trove is
// superseded atomically instead of coexisting with the new one.
func findUpgradeTarget(ctx context.Context, a *app, trove *ingest.Trove) (*catalog.Trove, error) {
	candidates, err := catalog.FindTrovesByName(ctx, a.catalog.DB(), trove.Metadata.Name)
	if err != nil {
		return nil, err
	}
	arch := nullableString(trove.Metadata.Architecture)
	for _, c := range candidates {
		if c.Architecture == arch {
			return c, nil
		}
	}
	return nil, nil
}

func changesetDescription(trove *ingest.Trove, existing *catalog.Trove) string {
	if existing != nil {
		return fmt.Sprintf("upgrade %s %s -> %s", trove.Metadata.Name, existing.Version, trove.Metadata.Version)
	}
	return "install " + trove.Metadata.Name + " " + trove.Metadata.Version
}

// verifyIfCCS checks the manifest signature of a .ccs package before it is
// ingested; an unsigned manifest is rejected only when the configuration
// requires signed manifests. RPM/DEB/Arch packages carry no CCS manifest
// and are unaffected.
func verifyIfCCS(path string, a *app) error {
	if !ccsExtension(path) {
		return nil
	}
	container, err := ccs.ReadContainer(path)
	if err != nil {
		return err
	}

	policy := federation.Permissive()
	if a.cfg.Federation.TrustPolicyPath != "" {
		if loaded, err := federation.LoadTrustPolicy(a.cfg.Federation.TrustPolicyPath); err == nil {
			policy = loaded
		} else if a.cfg.Features.RequireSignedManifests {
			return err
		}
	}
	if a.cfg.Features.RequireSignedManifests {
		policy.AllowUnsigned = false
	}
	return federation.VerifyContainer(container, policy)
}

func ccsExtension(path string) bool {
	return len(path) > 4 && path[len(path)-4:] == ".ccs"
}

// commitFilesToStore hashes and stores every regular file and symlink
// target in the content-addressed store, returning the deploy ops that
// reference those hashes. Directories need no content hash.
func commitFilesToStore(a *app, files []ingest.FileEntry) ([]deploy.Op, error) {
	ops := make([]deploy.Op, 0, len(files))
	for _, f := range files {
		op := deploy.Op{Path: f.Path, Mode: os.FileMode(f.Mode), Type: catalogFileType(f.Type)}
		switch f.Type {
		case ingest.FileTypeDirectory:
			// no content
		case ingest.FileTypeSymlink:
			hash, err := a.store.StoreSymlink(f.SymlinkTarget)
			if err != nil {
				return nil, err
			}
			op.Hash = hash
			op.SymlinkTarget = f.SymlinkTarget
		default:
			hash, err := a.store.Store(f.Contents)
			if err != nil {
				return nil, err
			}
			op.Hash = hash
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// insertTroveChangeset records the catalog side of an install. When
// existing is non-nil this is a same-trove upgrade: existing is
// snapshotted and deleted in the same transaction as the new trove's
// insert, and files whose path carries over between versions are logged
// as FileActionModify rather than a delete/add pair, so a rollback of the
// resulting changeset reconstructs the exact pre-upgrade trove instead of
// leaving both versions (or neither) installed.
func insertTroveChangeset(ctx context.Context, h *txn.Handle, trove *ingest.Trove, ops []deploy.Op, existing *catalog.Trove) error {
	oldHashByPath := map[string]sql.NullString{}
	if existing != nil {
		oldFiles, err := catalog.FindFilesByTrove(ctx, h.Tx(), existing.ID)
		if err != nil {
			return err
		}
		snap := &txn.RemovalSnapshot{Trove: *existing}
		for _, f := range oldFiles {
			snap.Files = append(snap.Files, *f)
			oldHashByPath[f.Path] = f.Hash
		}
		if err := h.SetRemovalSnapshot(ctx, snap); err != nil {
			return err
		}
		for _, f := range oldFiles {
			if err := catalog.DeleteFileByPath(ctx, h.Tx(), f.Path); err != nil {
				return err
			}
		}
		if err := catalog.DeleteTrove(ctx, h.Tx(), existing.ID); err != nil {
			return err
		}
	}

	t := &catalog.Trove{
		Name:                   trove.Metadata.Name,
		Version:                trove.Metadata.Version,
		Architecture:           nullableString(trove.Metadata.Architecture),
		Description:            nullableString(trove.Metadata.Description),
		Kind:                   catalog.TroveKindPackage,
		InstallSource:          catalog.InstallSourceNative,
		InstalledByChangesetID: sql.NullInt64{Int64: h.ChangesetID(), Valid: true},
	}
	troveID, err := catalog.InsertTrove(ctx, h.Tx(), t)
	if err != nil {
		return err
	}

	for _, req := range trove.Metadata.Requires {
		if _, err := catalog.InsertDependency(ctx, h.Tx(), &catalog.Dependency{
			TroveID:           troveID,
			DependsOnName:     req.Name,
			VersionConstraint: nullableString(req.Constraint),
			Kind:              catalog.DependencyRuntime,
		}); err != nil {
			return err
		}
	}
	for _, provide := range trove.Metadata.Provides {
		if _, err := catalog.InsertProvide(ctx, h.Tx(), &catalog.Provide{
			TroveID: troveID, Capability: provide, Kind: catalog.ProvideDeclared,
		}); err != nil {
			return err
		}
	}

	for i, f := range trove.Files {
		hash := ops[i].Hash
		rec := &catalog.FileRecord{
			Path:    f.Path,
			Hash:    nullableString(hash),
			Mode:    f.Mode,
			Type:    catalogFileType(f.Type),
			TroveID: troveID,
		}
		switch f.Type {
		case ingest.FileTypeSymlink:
			rec.SymlinkTarget = nullableString(f.SymlinkTarget)
		case ingest.FileTypeRegular:
			rec.Size = int64(len(f.Contents))
		}
		if _, err := catalog.InsertFile(ctx, h.Tx(), rec); err != nil {
			return err
		}

		mode := sql.NullInt64{Int64: int64(f.Mode), Valid: true}
		if hashBefore, carried := oldHashByPath[f.Path]; carried {
			ops[i].SameTroveUpgrade = true
			delete(oldHashByPath, f.Path)
			if err := h.LogFileHistory(ctx, f.Path, catalog.FileActionModify, hashBefore, nullableString(hash), mode); err != nil {
				return err
			}
		} else if err := h.LogFileHistory(ctx, f.Path, catalog.FileActionAdd, sql.NullString{}, nullableString(hash), mode); err != nil {
			return err
		}
	}

	// Any old path still in oldHashByPath wasn't carried over by the new
	// version; its file row is already gone, so just complete the history
	// trail with the matching delete entry.
	for path, hashBefore := range oldHashByPath {
		if err := h.LogFileHistory(ctx, path, catalog.FileActionDelete, hashBefore, sql.NullString{}, sql.NullInt64{}); err != nil {
			return err
		}
	}

	for _, s := range trove.Scriptlets {
		if _, err := catalog.InsertScriptlet(ctx, h.Tx(), &catalog.Scriptlet{
			TroveID:     troveID,
			Phase:       catalog.ScriptletPhase(s.Phase),
			Interpreter: s.Interpreter,
			Script:      s.Script,
		}); err != nil {
			return err
		}
	}
	return nil
}

func catalogFileType(t ingest.FileType) catalog.FileType {
	switch t {
	case ingest.FileTypeSymlink:
		return catalog.FileTypeSymlink
	case ingest.FileTypeDirectory:
		return catalog.FileTypeDirectory
	default:
		return catalog.FileTypeRegular
	}
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
