package catalog

import (
	"context"
	"database/sql"

	conaryerrors "github.com/conarylabs/conary/pkg/errors"
)

// Querier is satisfied by both *sql.DB and *sql.Tx, letting every model
// method run either inside the transaction engine's write handle or against
// a plain read-only connection.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// TroveKind mirrors the trove-kind enumeration from the data model.
type TroveKind string

const (
	TroveKindPackage    TroveKind = "package"
	TroveKindComponent  TroveKind = "component"
	TroveKindCollection TroveKind = "collection"
)

// InstallSource mirrors the install-source enumeration.
type InstallSource string

const (
	InstallSourceNative        InstallSource = "native"
	InstallSourceAdoptedTrack  InstallSource = "adopted-track"
	InstallSourceAdoptedFull   InstallSource = "adopted-full"
	InstallSourceDerived       InstallSource = "derived"
)

// Trove is the unit of installation: a package, component, or collection.
type Trove struct {
	ID                      int64
	Name                    string
	Version                 string
	Architecture            sql.NullString
	Description             sql.NullString
	Kind                    TroveKind
	InstallSource           InstallSource
	Pinned                  bool
	InstalledAt             string
	InstalledByChangesetID  sql.NullInt64
}

// InsertTrove inserts t and returns its assigned id. (name, version,
// architecture) must be unique — a UNIQUE constraint violation surfaces as
// KindConflict.
func InsertTrove(ctx context.Context, q Querier, t *Trove) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO troves (name, version, architecture, description, trove_type, install_source, pinned, installed_by_changeset_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Name, t.Version, t.Architecture, t.Description, string(t.Kind), string(t.InstallSource), t.Pinned, t.InstalledByChangesetID)
	if err != nil {
		return 0, wrapConflictOrIO(err, "catalog: insert trove")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, conaryerrors.New(conaryerrors.KindIO, "catalog: reading inserted trove id").WithCause(err)
	}
	t.ID = id
	return id, nil
}

// DeleteTrove deletes a trove row; cascading foreign keys remove its files,
// dependencies, provides, components, and scriptlets in the same statement.
func DeleteTrove(ctx context.Context, q Querier, id int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM troves WHERE id = ?`, id)
	if err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "catalog: delete trove").WithCause(err)
	}
	return nil
}

// FindTroveByID looks up a trove by its primary key.
func FindTroveByID(ctx context.Context, q Querier, id int64) (*Trove, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, name, version, architecture, description, trove_type, install_source, pinned, installed_at, installed_by_changeset_id
		 FROM troves WHERE id = ?`, id)
	return scanTrove(row)
}

// FindTroveByNameVersionArch looks up a trove by its unique key.
func FindTroveByNameVersionArch(ctx context.Context, q Querier, name, version, arch string) (*Trove, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, name, version, architecture, description, trove_type, install_source, pinned, installed_at, installed_by_changeset_id
		 FROM troves WHERE name = ? AND version = ? AND architecture IS ?`, name, version, nullableString(arch))
	return scanTrove(row)
}

// FindTrovesByName returns every installed trove with the given name
// (across versions/architectures).
func FindTrovesByName(ctx context.Context, q Querier, name string) ([]*Trove, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, name, version, architecture, description, trove_type, install_source, pinned, installed_at, installed_by_changeset_id
		 FROM troves WHERE name = ? ORDER BY version`, name)
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "catalog: find troves by name").WithCause(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Trove
	for rows.Next() {
		t, err := scanTroveRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListAllTroves returns every installed trove, ordered by name then
// version, for a full-catalog listing.
func ListAllTroves(ctx context.Context, q Querier) ([]*Trove, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, name, version, architecture, description, trove_type, install_source, pinned, installed_at, installed_by_changeset_id
		 FROM troves ORDER BY name, version`)
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "catalog: list troves").WithCause(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Trove
	for rows.Next() {
		t, err := scanTroveRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTrove(row *sql.Row) (*Trove, error) {
	t := &Trove{}
	var kind, source string
	err := row.Scan(&t.ID, &t.Name, &t.Version, &t.Architecture, &t.Description, &kind, &source, &t.Pinned, &t.InstalledAt, &t.InstalledByChangesetID)
	if err == sql.ErrNoRows {
		return nil, conaryerrors.New(conaryerrors.KindNotFound, "catalog: trove not found")
	}
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "catalog: scan trove").WithCause(err)
	}
	t.Kind, t.InstallSource = TroveKind(kind), InstallSource(source)
	return t, nil
}

func scanTroveRows(rows *sql.Rows) (*Trove, error) {
	t := &Trove{}
	var kind, source string
	if err := rows.Scan(&t.ID, &t.Name, &t.Version, &t.Architecture, &t.Description, &kind, &source, &t.Pinned, &t.InstalledAt, &t.InstalledByChangesetID); err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "catalog: scan trove").WithCause(err)
	}
	t.Kind, t.InstallSource = TroveKind(kind), InstallSource(source)
	return t, nil
}

// ChangesetStatus mirrors the changeset status enumeration.
type ChangesetStatus string

const (
	ChangesetPending    ChangesetStatus = "pending"
	ChangesetApplied    ChangesetStatus = "applied"
	ChangesetRolledBack ChangesetStatus = "rolled_back"
)

// Changeset is the atomic unit of change.
type Changeset struct {
	ID            int64
	Description   string
	Status        ChangesetStatus
	Metadata      []byte
	ReversedByID  sql.NullInt64
	CreatedAt     string
	AppliedAt     sql.NullString
	RolledBackAt  sql.NullString
}

// InsertChangeset inserts a pending changeset row.
func InsertChangeset(ctx context.Context, q Querier, description string) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO changesets (description, status) VALUES (?, ?)`, description, string(ChangesetPending))
	if err != nil {
		return 0, conaryerrors.New(conaryerrors.KindIO, "catalog: insert changeset").WithCause(err)
	}
	return res.LastInsertId()
}

// UpdateChangesetStatus transitions a changeset's status, stamping the
// matching timestamp column.
func UpdateChangesetStatus(ctx context.Context, q Querier, id int64, status ChangesetStatus) error {
	var column string
	switch status {
	case ChangesetApplied:
		column = "applied_at"
	case ChangesetRolledBack:
		column = "rolled_back_at"
	}
	var err error
	if column != "" {
		_, err = q.ExecContext(ctx, `UPDATE changesets SET status = ?, `+column+` = CURRENT_TIMESTAMP WHERE id = ?`, string(status), id)
	} else {
		_, err = q.ExecContext(ctx, `UPDATE changesets SET status = ? WHERE id = ?`, string(status), id)
	}
	if err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "catalog: update changeset status").WithCause(err)
	}
	return nil
}

// SetChangesetMetadata stores the reversal-metadata blob for a changeset.
func SetChangesetMetadata(ctx context.Context, q Querier, id int64, metadata []byte) error {
	_, err := q.ExecContext(ctx, `UPDATE changesets SET metadata = ? WHERE id = ?`, metadata, id)
	if err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "catalog: set changeset metadata").WithCause(err)
	}
	return nil
}

// SetChangesetReversedBy records that id was reversed by reversingID.
func SetChangesetReversedBy(ctx context.Context, q Querier, id, reversingID int64) error {
	_, err := q.ExecContext(ctx, `UPDATE changesets SET reversed_by_id = ? WHERE id = ?`, reversingID, id)
	if err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "catalog: set changeset reversed_by").WithCause(err)
	}
	return nil
}

// FindChangesetByID looks up a changeset by id.
func FindChangesetByID(ctx context.Context, q Querier, id int64) (*Changeset, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, description, status, metadata, reversed_by_id, created_at, applied_at, rolled_back_at
		 FROM changesets WHERE id = ?`, id)
	c := &Changeset{}
	var status string
	err := row.Scan(&c.ID, &c.Description, &status, &c.Metadata, &c.ReversedByID, &c.CreatedAt, &c.AppliedAt, &c.RolledBackAt)
	if err == sql.ErrNoRows {
		return nil, conaryerrors.New(conaryerrors.KindNotFound, "catalog: changeset not found").WithDetail("id", id)
	}
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "catalog: scan changeset").WithCause(err)
	}
	c.Status = ChangesetStatus(status)
	return c, nil
}

// FileType mirrors the file-record type discriminator.
type FileType string

const (
	FileTypeRegular   FileType = "regular"
	FileTypeSymlink   FileType = "symlink"
	FileTypeDirectory FileType = "directory"
)

// FileRecord is the catalog's view of one installed path.
type FileRecord struct {
	ID            int64
	Path          string
	Hash          sql.NullString
	Placeholder   bool
	Size          int64
	Mode          uint32
	Type          FileType
	Owner         sql.NullString
	Group         sql.NullString
	SymlinkTarget sql.NullString
	TroveID       int64
	InstalledAt   string
}

// InsertFile inserts a file record. path is globally unique; a conflict
// surfaces as KindConflict so the deployer/transaction engine can translate
// it into FileConflict(path, owner).
func InsertFile(ctx context.Context, q Querier, f *FileRecord) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO files (path, hash, placeholder, size, mode, file_type, owner, group_name, symlink_target, trove_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.Path, f.Hash, f.Placeholder, f.Size, f.Mode, string(f.Type), f.Owner, f.Group, f.SymlinkTarget, f.TroveID)
	if err != nil {
		return 0, wrapConflictOrIO(err, "catalog: insert file")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, conaryerrors.New(conaryerrors.KindIO, "catalog: reading inserted file id").WithCause(err)
	}
	f.ID = id
	return id, nil
}

// DeleteFileByPath deletes the file record at path.
func DeleteFileByPath(ctx context.Context, q Querier, path string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path)
	if err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "catalog: delete file").WithCause(err)
	}
	return nil
}

// FindFileByPath looks up the file record owning path, if any.
func FindFileByPath(ctx context.Context, q Querier, path string) (*FileRecord, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, path, hash, placeholder, size, mode, file_type, owner, group_name, symlink_target, trove_id, installed_at
		 FROM files WHERE path = ?`, path)
	f := &FileRecord{}
	var fileType string
	err := row.Scan(&f.ID, &f.Path, &f.Hash, &f.Placeholder, &f.Size, &f.Mode, &fileType, &f.Owner, &f.Group, &f.SymlinkTarget, &f.TroveID, &f.InstalledAt)
	if err == sql.ErrNoRows {
		return nil, conaryerrors.New(conaryerrors.KindNotFound, "catalog: file not found").WithDetail("path", path)
	}
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "catalog: scan file").WithCause(err)
	}
	f.Type = FileType(fileType)
	return f, nil
}

// FindFilesByTrove returns every file record owned by troveID.
func FindFilesByTrove(ctx context.Context, q Querier, troveID int64) ([]*FileRecord, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, path, hash, placeholder, size, mode, file_type, owner, group_name, symlink_target, trove_id, installed_at
		 FROM files WHERE trove_id = ?`, troveID)
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "catalog: find files by trove").WithCause(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*FileRecord
	for rows.Next() {
		f := &FileRecord{}
		var fileType string
		if err := rows.Scan(&f.ID, &f.Path, &f.Hash, &f.Placeholder, &f.Size, &f.Mode, &fileType, &f.Owner, &f.Group, &f.SymlinkTarget, &f.TroveID, &f.InstalledAt); err != nil {
			return nil, conaryerrors.New(conaryerrors.KindIO, "catalog: scan file").WithCause(err)
		}
		f.Type = FileType(fileType)
		out = append(out, f)
	}
	return out, rows.Err()
}

// FileAction mirrors the file-history action discriminator.
type FileAction string

const (
	FileActionAdd    FileAction = "add"
	FileActionModify FileAction = "modify"
	FileActionDelete FileAction = "delete"
)

// FileHistoryEntry is a per-changeset, per-path reversal record.
type FileHistoryEntry struct {
	ID          int64
	ChangesetID int64
	Path        string
	Action      FileAction
	HashBefore  sql.NullString
	HashAfter   sql.NullString
	Mode        sql.NullInt64
	Seq         int
}

// InsertFileHistory appends a file-history row in insertion order (seq is
// assigned by the caller so that rollback can replay in reverse order).
func InsertFileHistory(ctx context.Context, q Querier, e *FileHistoryEntry) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO file_history (changeset_id, path, action, hash_before, hash_after, mode, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ChangesetID, e.Path, string(e.Action), e.HashBefore, e.HashAfter, e.Mode, e.Seq)
	if err != nil {
		return 0, conaryerrors.New(conaryerrors.KindIO, "catalog: insert file history").WithCause(err)
	}
	return res.LastInsertId()
}

// FindFileHistoryByChangesetDesc returns a changeset's file-history rows in
// reverse insertion order, the order rollback replays them in.
func FindFileHistoryByChangesetDesc(ctx context.Context, q Querier, changesetID int64) ([]*FileHistoryEntry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, changeset_id, path, action, hash_before, hash_after, mode, seq
		 FROM file_history WHERE changeset_id = ? ORDER BY seq DESC`, changesetID)
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "catalog: find file history").WithCause(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*FileHistoryEntry
	for rows.Next() {
		e := &FileHistoryEntry{}
		var action string
		if err := rows.Scan(&e.ID, &e.ChangesetID, &e.Path, &action, &e.HashBefore, &e.HashAfter, &e.Mode, &e.Seq); err != nil {
			return nil, conaryerrors.New(conaryerrors.KindIO, "catalog: scan file history").WithCause(err)
		}
		e.Action = FileAction(action)
		out = append(out, e)
	}
	return out, rows.Err()
}

// DependencyKind mirrors the dependency-kind enumeration.
type DependencyKind string

const (
	DependencyRuntime   DependencyKind = "runtime"
	DependencyBuild     DependencyKind = "build"
	DependencyOptional  DependencyKind = "optional"
	DependencyImplicit  DependencyKind = "implicit"
)

// Dependency binds a trove to a required capability.
type Dependency struct {
	ID                 int64
	TroveID            int64
	DependsOnName      string
	VersionConstraint  sql.NullString
	Kind               DependencyKind
}

// InsertDependency inserts a dependency row.
func InsertDependency(ctx context.Context, q Querier, d *Dependency) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO dependencies (trove_id, depends_on_name, version_constraint, kind) VALUES (?, ?, ?, ?)`,
		d.TroveID, d.DependsOnName, d.VersionConstraint, string(d.Kind))
	if err != nil {
		return 0, conaryerrors.New(conaryerrors.KindIO, "catalog: insert dependency").WithCause(err)
	}
	return res.LastInsertId()
}

// FindDependentsOnCapability returns every dependency row that requires
// capability, used by the conflict resolver to compute removal breakage.
func FindDependentsOnCapability(ctx context.Context, q Querier, capability string) ([]*Dependency, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, trove_id, depends_on_name, version_constraint, kind FROM dependencies WHERE depends_on_name = ?`, capability)
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "catalog: find dependents").WithCause(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Dependency
	for rows.Next() {
		d := &Dependency{}
		var kind string
		if err := rows.Scan(&d.ID, &d.TroveID, &d.DependsOnName, &d.VersionConstraint, &kind); err != nil {
			return nil, conaryerrors.New(conaryerrors.KindIO, "catalog: scan dependency").WithCause(err)
		}
		d.Kind = DependencyKind(kind)
		out = append(out, d)
	}
	return out, rows.Err()
}

// FindDependenciesByTrove returns every dependency row owned by troveID.
func FindDependenciesByTrove(ctx context.Context, q Querier, troveID int64) ([]*Dependency, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, trove_id, depends_on_name, version_constraint, kind FROM dependencies WHERE trove_id = ?`, troveID)
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "catalog: find dependencies by trove").WithCause(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Dependency
	for rows.Next() {
		d := &Dependency{}
		var kind string
		if err := rows.Scan(&d.ID, &d.TroveID, &d.DependsOnName, &d.VersionConstraint, &kind); err != nil {
			return nil, conaryerrors.New(conaryerrors.KindIO, "catalog: scan dependency").WithCause(err)
		}
		d.Kind = DependencyKind(kind)
		out = append(out, d)
	}
	return out, rows.Err()
}

// ProvideKind mirrors the provide-kind enumeration.
type ProvideKind string

const (
	ProvideDeclared ProvideKind = "declared"
	ProvideVirtual  ProvideKind = "virtual"
)

// Provide binds a trove to a capability it supplies.
type Provide struct {
	ID         int64
	TroveID    int64
	Capability string
	Version    sql.NullString
	Kind       ProvideKind
}

// InsertProvide inserts a provide row.
func InsertProvide(ctx context.Context, q Querier, p *Provide) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO provides (trove_id, capability, version, kind) VALUES (?, ?, ?, ?)`,
		p.TroveID, p.Capability, p.Version, string(p.Kind))
	if err != nil {
		return 0, conaryerrors.New(conaryerrors.KindIO, "catalog: insert provide").WithCause(err)
	}
	return res.LastInsertId()
}

// FindProvidesByCapability returns every provide row supplying capability —
// the satisfaction predicate's data source.
func FindProvidesByCapability(ctx context.Context, q Querier, capability string) ([]*Provide, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, trove_id, capability, version, kind FROM provides WHERE capability = ?`, capability)
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "catalog: find provides").WithCause(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Provide
	for rows.Next() {
		p := &Provide{}
		var kind string
		if err := rows.Scan(&p.ID, &p.TroveID, &p.Capability, &p.Version, &kind); err != nil {
			return nil, conaryerrors.New(conaryerrors.KindIO, "catalog: scan provide").WithCause(err)
		}
		p.Kind = ProvideKind(kind)
		out = append(out, p)
	}
	return out, rows.Err()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// wrapConflictOrIO classifies a SQLite error as KindConflict when it looks
// like a UNIQUE constraint violation, KindIO otherwise. modernc.org/sqlite
// does not expose typed constraint errors the way some cgo drivers do, so
// this is a string match against the driver's own error text.
func wrapConflictOrIO(err error, message string) error {
	if err == nil {
		return nil
	}
	if isUniqueConstraintErr(err) {
		return conaryerrors.New(conaryerrors.KindConflict, message).WithCause(err)
	}
	return conaryerrors.New(conaryerrors.KindIO, message).WithCause(err)
}

func isUniqueConstraintErr(err error) bool {
	msg := err.Error()
	return containsAny(msg, "UNIQUE constraint failed", "constraint failed: UNIQUE")
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if indexOfSubstr(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOfSubstr(s, sub string) int {
	n, m := len(s), len(sub)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}
