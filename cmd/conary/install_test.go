package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conarylabs/conary/internal/cas"
	"github.com/conarylabs/conary/internal/catalog"
	"github.com/conarylabs/conary/internal/config"
	"github.com/conarylabs/conary/internal/deploy"
	"github.com/conarylabs/conary/internal/ingest/ccs"
	"github.com/conarylabs/conary/internal/txn"
	"github.com/conarylabs/conary/pkg/log"
)

// newTestApp assembles an app directly (bypassing cobra flag parsing) so
// install/remove/list can be exercised end-to-end against a scratch data
// root and install root, the same way newApp would for a real invocation.
func newTestApp(t *testing.T) (*app, string) {
	t.Helper()
	dataRoot := t.TempDir()
	installRoot := t.TempDir()

	logger, err := log.New(&log.Config{Level: log.INFO, Format: log.FormatText})
	require.NoError(t, err)

	cat, err := catalog.Open(filepath.Join(dataRoot, "catalog.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	store, err := cas.New(dataRoot, logger)
	require.NoError(t, err)

	return &app{
		cfg:      config.NewDefault(),
		logger:   logger,
		catalog:  cat,
		store:    store,
		engine:   txn.New(cat, logger),
		deployer: deploy.New(store, installRoot, logger),
	}, installRoot
}

// writeTestCCS builds a minimal single-file CCS container at path,
// returning the file's content for later comparison.
func writeTestCCS(t *testing.T, path, name, version string) []byte {
	t.Helper()
	content := []byte("#!/bin/sh\necho hello\n")
	hash := sha256.Sum256(content)
	hashHex := hex.EncodeToString(hash[:])

	container := &ccs.Container{
		Manifest: &ccs.Manifest{
			Name:     name,
			Version:  version,
			Platform: ccs.Platform{OS: "linux", Libc: "glibc"},
			Provides: []string{name},
			Components: map[string]string{
				"main": hashHex,
			},
		},
		Components: map[string]ccs.ComponentFileList{
			"main": {
				Files: []ccs.ComponentFile{
					{Path: "/usr/bin/" + name, Hash: hashHex, Mode: 0o755},
				},
			},
		},
		Objects: map[string][]byte{
			hashHex: content,
		},
	}
	require.NoError(t, ccs.WriteContainer(path, container))
	return content
}

func TestInstallListRemove(t *testing.T) {
	a, installRoot := newTestApp(t)
	ctx := context.Background()

	pkgPath := filepath.Join(t.TempDir(), "greet-1.0.ccs")
	content := writeTestCCS(t, pkgPath, "greet", "1.0")

	require.NoError(t, runInstall(ctx, a, pkgPath, installOptions{}))

	deployed := filepath.Join(installRoot, "usr", "bin", "greet")
	got, err := os.ReadFile(deployed)
	require.NoError(t, err)
	require.Equal(t, content, got)

	troves, err := catalog.ListAllTroves(ctx, a.catalog.DB())
	require.NoError(t, err)
	require.Len(t, troves, 1)
	require.Equal(t, "greet", troves[0].Name)

	require.NoError(t, runRemove(ctx, a, "greet", "1.0", "", false))

	troves, err = catalog.ListAllTroves(ctx, a.catalog.DB())
	require.NoError(t, err)
	require.Empty(t, troves)
}

// TestInstallUpgradeSupersedesOldTrove exercises installing a second
// version of an already-installed package: the old trove must be replaced
// atomically rather than coexisting, and rolling back the upgrade
// changeset must restore the pre-upgrade trove in the catalog and remove
// the upgraded-to one.
func TestInstallUpgradeSupersedesOldTrove(t *testing.T) {
	a, installRoot := newTestApp(t)
	ctx := context.Background()

	oldPath := filepath.Join(t.TempDir(), "nginx-1.24.ccs")
	writeTestCCS(t, oldPath, "nginx", "1.24")
	require.NoError(t, runInstall(ctx, a, oldPath, installOptions{}))

	oldTrove, err := catalog.FindTroveByNameVersionArch(ctx, a.catalog.DB(), "nginx", "1.24", "")
	require.NoError(t, err)

	newPath := filepath.Join(t.TempDir(), "nginx-1.26.ccs")
	newContent := writeTestCCS(t, newPath, "nginx", "1.26")
	require.NoError(t, runInstall(ctx, a, newPath, installOptions{}))

	troves, err := catalog.ListAllTroves(ctx, a.catalog.DB())
	require.NoError(t, err)
	require.Len(t, troves, 1, "upgrade should leave exactly one nginx trove installed")
	require.Equal(t, "1.26", troves[0].Version)

	deployed := filepath.Join(installRoot, "usr", "bin", "nginx")
	got, err := os.ReadFile(deployed)
	require.NoError(t, err)
	require.Equal(t, newContent, got)

	upgradeChangeset, err := catalog.FindTroveByNameVersionArch(ctx, a.catalog.DB(), "nginx", "1.26", "")
	require.NoError(t, err)
	require.True(t, upgradeChangeset.InstalledByChangesetID.Valid)

	_, err = a.engine.Rollback(ctx, upgradeChangeset.InstalledByChangesetID.Int64)
	require.NoError(t, err)

	restored, err := catalog.FindTroveByNameVersionArch(ctx, a.catalog.DB(), "nginx", "1.24", "")
	require.NoError(t, err)
	require.Equal(t, oldTrove.ID != 0, restored.ID != 0)

	_, err = catalog.FindTroveByNameVersionArch(ctx, a.catalog.DB(), "nginx", "1.26", "")
	require.Error(t, err, "upgraded-to trove should be gone after rollback")
}
