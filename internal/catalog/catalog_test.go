package catalog

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	conaryerrors "github.com/conarylabs/conary/pkg/errors"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conary.db")
	c, err := Open(path, time.Second)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestTroveCRUD(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	trove := &Trove{
		Name:          "nginx",
		Version:       "1.24",
		Architecture:  sql.NullString{String: "x86_64", Valid: true},
		Kind:          TroveKindPackage,
		InstallSource: InstallSourceNative,
	}
	id, err := InsertTrove(ctx, c.DB(), trove)
	if err != nil {
		t.Fatalf("InsertTrove: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive id, got %d", id)
	}

	found, err := FindTroveByNameVersionArch(ctx, c.DB(), "nginx", "1.24", "x86_64")
	if err != nil {
		t.Fatalf("FindTroveByNameVersionArch: %v", err)
	}
	if found.Name != "nginx" || found.Version != "1.24" {
		t.Fatalf("got %+v", found)
	}

	if err := DeleteTrove(ctx, c.DB(), id); err != nil {
		t.Fatalf("DeleteTrove: %v", err)
	}
	if _, err := FindTroveByNameVersionArch(ctx, c.DB(), "nginx", "1.24", "x86_64"); !conaryerrors.Is(err, conaryerrors.KindNotFound) {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
}

func TestTroveUniqueConstraintIsConflict(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	trove := &Trove{Name: "nginx", Version: "1.24", Kind: TroveKindPackage, InstallSource: InstallSourceNative}
	if _, err := InsertTrove(ctx, c.DB(), trove); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	dup := &Trove{Name: "nginx", Version: "1.24", Kind: TroveKindPackage, InstallSource: InstallSourceNative}
	_, err := InsertTrove(ctx, c.DB(), dup)
	if err == nil {
		t.Fatalf("expected conflict on duplicate (name, version, architecture)")
	}
	if !conaryerrors.Is(err, conaryerrors.KindConflict) {
		t.Fatalf("expected KindConflict, got %v", err)
	}
}

func TestFileCascadeDeleteOnTroveRemoval(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	trove := &Trove{Name: "nginx", Version: "1.24", Kind: TroveKindPackage, InstallSource: InstallSourceNative}
	troveID, err := InsertTrove(ctx, c.DB(), trove)
	if err != nil {
		t.Fatalf("InsertTrove: %v", err)
	}

	file := &FileRecord{
		Path:    "/usr/sbin/nginx",
		Hash:    sql.NullString{String: "abc123", Valid: true},
		Size:    1208904,
		Mode:    0o755,
		Type:    FileTypeRegular,
		TroveID: troveID,
	}
	if _, err := InsertFile(ctx, c.DB(), file); err != nil {
		t.Fatalf("InsertFile: %v", err)
	}

	if err := DeleteTrove(ctx, c.DB(), troveID); err != nil {
		t.Fatalf("DeleteTrove: %v", err)
	}

	if _, err := FindFileByPath(ctx, c.DB(), "/usr/sbin/nginx"); !conaryerrors.Is(err, conaryerrors.KindNotFound) {
		t.Fatalf("expected file cascade-deleted, got %v", err)
	}
}

func TestFilePathUniqueAcrossTroves(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	troveX := &Trove{Name: "pkg-x", Version: "1.0", Kind: TroveKindPackage, InstallSource: InstallSourceNative}
	idX, err := InsertTrove(ctx, c.DB(), troveX)
	if err != nil {
		t.Fatalf("insert troveX: %v", err)
	}
	troveY := &Trove{Name: "pkg-y", Version: "1.0", Kind: TroveKindPackage, InstallSource: InstallSourceNative}
	idY, err := InsertTrove(ctx, c.DB(), troveY)
	if err != nil {
		t.Fatalf("insert troveY: %v", err)
	}

	fileX := &FileRecord{Path: "/usr/bin/foo", Hash: sql.NullString{String: "aaa", Valid: true}, Size: 1, Mode: 0o644, Type: FileTypeRegular, TroveID: idX}
	if _, err := InsertFile(ctx, c.DB(), fileX); err != nil {
		t.Fatalf("insert fileX: %v", err)
	}

	fileY := &FileRecord{Path: "/usr/bin/foo", Hash: sql.NullString{String: "bbb", Valid: true}, Size: 1, Mode: 0o644, Type: FileTypeRegular, TroveID: idY}
	_, err = InsertFile(ctx, c.DB(), fileY)
	if !conaryerrors.Is(err, conaryerrors.KindConflict) {
		t.Fatalf("expected conflict inserting duplicate path, got %v", err)
	}
}

func TestChangesetLifecycle(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	id, err := InsertChangeset(ctx, c.DB(), "install nginx-1.24")
	if err != nil {
		t.Fatalf("InsertChangeset: %v", err)
	}
	cs, err := FindChangesetByID(ctx, c.DB(), id)
	if err != nil {
		t.Fatalf("FindChangesetByID: %v", err)
	}
	if cs.Status != ChangesetPending {
		t.Fatalf("expected pending, got %s", cs.Status)
	}

	if err := UpdateChangesetStatus(ctx, c.DB(), id, ChangesetApplied); err != nil {
		t.Fatalf("UpdateChangesetStatus: %v", err)
	}
	cs, err = FindChangesetByID(ctx, c.DB(), id)
	if err != nil {
		t.Fatalf("FindChangesetByID: %v", err)
	}
	if cs.Status != ChangesetApplied {
		t.Fatalf("expected applied, got %s", cs.Status)
	}
	if !cs.AppliedAt.Valid {
		t.Fatalf("expected applied_at to be set")
	}
}

func TestDependencyAndProvideSatisfaction(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	openssl := &Trove{Name: "openssl", Version: "3.0", Kind: TroveKindPackage, InstallSource: InstallSourceNative}
	opensslID, err := InsertTrove(ctx, c.DB(), openssl)
	if err != nil {
		t.Fatalf("insert openssl: %v", err)
	}
	if _, err := InsertProvide(ctx, c.DB(), &Provide{TroveID: opensslID, Capability: "libssl.so.3", Kind: ProvideDeclared}); err != nil {
		t.Fatalf("InsertProvide: %v", err)
	}

	nginx := &Trove{Name: "nginx", Version: "1.24", Kind: TroveKindPackage, InstallSource: InstallSourceNative}
	nginxID, err := InsertTrove(ctx, c.DB(), nginx)
	if err != nil {
		t.Fatalf("insert nginx: %v", err)
	}
	if _, err := InsertDependency(ctx, c.DB(), &Dependency{TroveID: nginxID, DependsOnName: "libssl.so.3", Kind: DependencyRuntime}); err != nil {
		t.Fatalf("InsertDependency: %v", err)
	}

	provides, err := FindProvidesByCapability(ctx, c.DB(), "libssl.so.3")
	if err != nil {
		t.Fatalf("FindProvidesByCapability: %v", err)
	}
	if len(provides) != 1 || provides[0].TroveID != opensslID {
		t.Fatalf("got %+v", provides)
	}

	dependents, err := FindDependentsOnCapability(ctx, c.DB(), "libssl.so.3")
	if err != nil {
		t.Fatalf("FindDependentsOnCapability: %v", err)
	}
	if len(dependents) != 1 || dependents[0].TroveID != nginxID {
		t.Fatalf("got %+v", dependents)
	}
}

func TestFileHistoryOrderingIsReversedForRollback(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	changesetID, err := InsertChangeset(ctx, c.DB(), "install pkg")
	if err != nil {
		t.Fatalf("InsertChangeset: %v", err)
	}

	paths := []string{"/a", "/b", "/c"}
	for i, p := range paths {
		_, err := InsertFileHistory(ctx, c.DB(), &FileHistoryEntry{
			ChangesetID: changesetID,
			Path:        p,
			Action:      FileActionAdd,
			Seq:         i,
		})
		if err != nil {
			t.Fatalf("InsertFileHistory(%s): %v", p, err)
		}
	}

	entries, err := FindFileHistoryByChangesetDesc(ctx, c.DB(), changesetID)
	if err != nil {
		t.Fatalf("FindFileHistoryByChangesetDesc: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].Path != "/c" || entries[2].Path != "/a" {
		t.Fatalf("expected reverse insertion order, got %v, %v, %v", entries[0].Path, entries[1].Path, entries[2].Path)
	}
}

func TestConvertedPackageDedup(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	first, err := UpsertConvertedPackage(ctx, c.DB(), "debian", "htop", "3.2.1", "job-1")
	if err != nil {
		t.Fatalf("UpsertConvertedPackage: %v", err)
	}
	second, err := UpsertConvertedPackage(ctx, c.DB(), "debian", "htop", "3.2.1", "job-2")
	if err != nil {
		t.Fatalf("UpsertConvertedPackage (dedup): %v", err)
	}
	if first.JobID != second.JobID {
		t.Fatalf("expected dedup to return the same job, got %s and %s", first.JobID, second.JobID)
	}

	if err := UpdateConvertedPackageState(ctx, c.DB(), first.ID, ConversionConverting, ""); err != nil {
		t.Fatalf("UpdateConvertedPackageState: %v", err)
	}
	if err := CompleteConvertedPackage(ctx, c.DB(), first.ID, "deadbeef", 4096); err != nil {
		t.Fatalf("CompleteConvertedPackage: %v", err)
	}
	final, err := FindConvertedPackage(ctx, c.DB(), "debian", "htop", "3.2.1")
	if err != nil {
		t.Fatalf("FindConvertedPackage: %v", err)
	}
	if final.State != ConversionReady || !final.ContentHash.Valid || final.ContentHash.String != "deadbeef" {
		t.Fatalf("got %+v", final)
	}
}

func TestConvertedPackageChunksPreserveOrder(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	row, err := UpsertConvertedPackage(ctx, c.DB(), "debian", "curl", "8.4.0", "job-1")
	if err != nil {
		t.Fatalf("UpsertConvertedPackage: %v", err)
	}

	hashes := []string{"aaaa", "bbbb", "cccc"}
	sizes := []int64{100, 200, 50}
	if err := InsertConvertedPackageChunks(ctx, c.DB(), row.ID, hashes, sizes); err != nil {
		t.Fatalf("InsertConvertedPackageChunks: %v", err)
	}

	chunks, err := FindConvertedPackageChunks(ctx, c.DB(), row.ID)
	if err != nil {
		t.Fatalf("FindConvertedPackageChunks: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	for i, want := range hashes {
		if chunks[i].Seq != i || chunks[i].ChunkHash != want || chunks[i].ChunkSize != sizes[i] {
			t.Fatalf("chunk %d: got %+v, want hash=%s size=%d", i, chunks[i], want, sizes[i])
		}
	}
}
