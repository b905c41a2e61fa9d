package catalog

import (
	"context"
	"database/sql"

	conaryerrors "github.com/conarylabs/conary/pkg/errors"
)

// Component is a named sub-unit of a trove (e.g. nginx:lib, nginx:devel),
// each with its own content hash over its file-list manifest.
type Component struct {
	ID          int64
	TroveID     int64
	Name        string
	ContentHash sql.NullString
}

// InsertComponent inserts a component row.
func InsertComponent(ctx context.Context, q Querier, c *Component) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO components (trove_id, name, content_hash) VALUES (?, ?, ?)`,
		c.TroveID, c.Name, c.ContentHash)
	if err != nil {
		return 0, wrapConflictOrIO(err, "catalog: insert component")
	}
	return res.LastInsertId()
}

// FindComponentsByTrove returns every component belonging to troveID.
func FindComponentsByTrove(ctx context.Context, q Querier, troveID int64) ([]*Component, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, trove_id, name, content_hash FROM components WHERE trove_id = ?`, troveID)
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "catalog: find components").WithCause(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Component
	for rows.Next() {
		c := &Component{}
		if err := rows.Scan(&c.ID, &c.TroveID, &c.Name, &c.ContentHash); err != nil {
			return nil, conaryerrors.New(conaryerrors.KindIO, "catalog: scan component").WithCause(err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ComponentDependencyType mirrors the component-dependency-type enumeration.
type ComponentDependencyType string

const (
	ComponentDepRuntime  ComponentDependencyType = "runtime"
	ComponentDepBuild    ComponentDependencyType = "build"
	ComponentDepOptional ComponentDependencyType = "optional"
)

// ComponentDependency records a dependency from one component to another,
// same-package (DependsOnPackage unset) or cross-package.
type ComponentDependency struct {
	ID                 int64
	ComponentID        int64
	DependsOnComponent string
	DependsOnPackage   sql.NullString
	Type               ComponentDependencyType
	VersionConstraint  sql.NullString
}

// InsertComponentDependency inserts a component-dependency row.
func InsertComponentDependency(ctx context.Context, q Querier, d *ComponentDependency) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO component_dependencies (component_id, depends_on_component, depends_on_package, dependency_type, version_constraint)
		 VALUES (?, ?, ?, ?, ?)`,
		d.ComponentID, d.DependsOnComponent, d.DependsOnPackage, string(d.Type), d.VersionConstraint)
	if err != nil {
		return 0, conaryerrors.New(conaryerrors.KindIO, "catalog: insert component dependency").WithCause(err)
	}
	return res.LastInsertId()
}

// RedirectType mirrors the redirect-type enumeration: a package name can be
// renamed, obsoleted, merged into another, or split into several.
type RedirectType string

const (
	RedirectRename   RedirectType = "rename"
	RedirectObsolete RedirectType = "obsolete"
	RedirectMerge    RedirectType = "merge"
	RedirectSplit    RedirectType = "split"
)

// Redirect aliases or supersedes a package name.
type Redirect struct {
	ID             int64
	SourceName     string
	SourceVersion  sql.NullString
	TargetName     string
	TargetVersion  sql.NullString
	Type           RedirectType
	Message        sql.NullString
	CreatedAt      string
}

// InsertRedirect inserts a redirect row.
func InsertRedirect(ctx context.Context, q Querier, r *Redirect) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO redirects (source_name, source_version, target_name, target_version, redirect_type, message)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.SourceName, r.SourceVersion, r.TargetName, r.TargetVersion, string(r.Type), r.Message)
	if err != nil {
		return 0, conaryerrors.New(conaryerrors.KindIO, "catalog: insert redirect").WithCause(err)
	}
	return res.LastInsertId()
}

// FindRedirectsBySourceName returns redirects whose source_name matches name.
func FindRedirectsBySourceName(ctx context.Context, q Querier, name string) ([]*Redirect, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, source_name, source_version, target_name, target_version, redirect_type, message, created_at
		 FROM redirects WHERE source_name = ?`, name)
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "catalog: find redirects").WithCause(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Redirect
	for rows.Next() {
		r := &Redirect{}
		var kind string
		if err := rows.Scan(&r.ID, &r.SourceName, &r.SourceVersion, &r.TargetName, &r.TargetVersion, &kind, &r.Message, &r.CreatedAt); err != nil {
			return nil, conaryerrors.New(conaryerrors.KindIO, "catalog: scan redirect").WithCause(err)
		}
		r.Type = RedirectType(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ConversionState mirrors internal/convert's job-state machine, persisted
// here so a restarted server can resume answering GET /packages/... for a
// job that survived the process.
type ConversionState string

const (
	ConversionQueued     ConversionState = "queued"
	ConversionConverting ConversionState = "converting"
	ConversionReady      ConversionState = "ready"
	ConversionFailed     ConversionState = "failed"
)

// ConvertedPackage tracks an on-demand foreign-package conversion job.
type ConvertedPackage struct {
	ID             int64
	Distro         string
	Name           string
	Version        string
	State          ConversionState
	JobID          string
	FailureReason  sql.NullString
	ContentHash    sql.NullString
	TotalSize      sql.NullInt64
	CreatedAt      string
	UpdatedAt      string
}

// UpsertConvertedPackage inserts a new job row, or returns the existing one
// if (distro, name, version) is already tracked, so that repeated requests
// for the same package share one job.
func UpsertConvertedPackage(ctx context.Context, q Querier, distro, name, version, jobID string) (*ConvertedPackage, error) {
	existing, err := FindConvertedPackage(ctx, q, distro, name, version)
	if err == nil {
		return existing, nil
	}
	if !conaryerrors.Is(err, conaryerrors.KindNotFound) {
		return nil, err
	}
	_, execErr := q.ExecContext(ctx,
		`INSERT INTO converted_packages (distro, name, version, state, job_id) VALUES (?, ?, ?, ?, ?)`,
		distro, name, version, string(ConversionQueued), jobID)
	if execErr != nil {
		return nil, wrapConflictOrIO(execErr, "catalog: insert converted package")
	}
	return FindConvertedPackage(ctx, q, distro, name, version)
}

// FindConvertedPackage looks up a conversion job by its natural key.
func FindConvertedPackage(ctx context.Context, q Querier, distro, name, version string) (*ConvertedPackage, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, distro, name, version, state, job_id, failure_reason, content_hash, total_size, created_at, updated_at
		 FROM converted_packages WHERE distro = ? AND name = ? AND version = ?`, distro, name, version)
	p := &ConvertedPackage{}
	var state string
	err := row.Scan(&p.ID, &p.Distro, &p.Name, &p.Version, &state, &p.JobID, &p.FailureReason, &p.ContentHash, &p.TotalSize, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, conaryerrors.New(conaryerrors.KindNotFound, "catalog: converted package not found")
	}
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "catalog: scan converted package").WithCause(err)
	}
	p.State = ConversionState(state)
	return p, nil
}

// UpdateConvertedPackageState transitions a conversion job's state.
func UpdateConvertedPackageState(ctx context.Context, q Querier, id int64, state ConversionState, failureReason string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE converted_packages SET state = ?, failure_reason = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(state), nullableString(failureReason), id)
	if err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "catalog: update converted package state").WithCause(err)
	}
	return nil
}

// CompleteConvertedPackage records the ready state's result payload.
func CompleteConvertedPackage(ctx context.Context, q Querier, id int64, contentHash string, totalSize int64) error {
	_, err := q.ExecContext(ctx,
		`UPDATE converted_packages SET state = ?, content_hash = ?, total_size = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(ConversionReady), contentHash, totalSize, id)
	if err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "catalog: complete converted package").WithCause(err)
	}
	return nil
}

// ConvertedPackageChunk is one ordered chunk reference belonging to a
// completed conversion job's assembled payload.
type ConvertedPackageChunk struct {
	ID                 int64
	ConvertedPackageID int64
	Seq                int
	ChunkHash          string
	ChunkSize          int64
}

// InsertConvertedPackageChunks records the ordered chunk-hash list produced
// by a conversion job, once it reaches the ready state. Called in the same
// sense as CompleteConvertedPackage — after the payload has already been
// split and every chunk committed to the CAS.
func InsertConvertedPackageChunks(ctx context.Context, q Querier, convertedPackageID int64, hashes []string, sizes []int64) error {
	for i, hash := range hashes {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO converted_package_chunks (converted_package_id, seq, chunk_hash, chunk_size) VALUES (?, ?, ?, ?)`,
			convertedPackageID, i, hash, sizes[i]); err != nil {
			return conaryerrors.New(conaryerrors.KindIO, "catalog: insert converted package chunk").WithCause(err)
		}
	}
	return nil
}

// FindConvertedPackageChunks returns a ready conversion job's chunk list, in
// manifest order.
func FindConvertedPackageChunks(ctx context.Context, q Querier, convertedPackageID int64) ([]*ConvertedPackageChunk, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, converted_package_id, seq, chunk_hash, chunk_size FROM converted_package_chunks
		 WHERE converted_package_id = ? ORDER BY seq ASC`, convertedPackageID)
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "catalog: find converted package chunks").WithCause(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*ConvertedPackageChunk
	for rows.Next() {
		c := &ConvertedPackageChunk{}
		if err := rows.Scan(&c.ID, &c.ConvertedPackageID, &c.Seq, &c.ChunkHash, &c.ChunkSize); err != nil {
			return nil, conaryerrors.New(conaryerrors.KindIO, "catalog: scan converted package chunk").WithCause(err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Repository is a configured package source.
type Repository struct {
	ID       int64
	Name     string
	BaseURL  string
	Priority int
	Enabled  bool
}

// InsertRepository inserts a repository row.
func InsertRepository(ctx context.Context, q Querier, r *Repository) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO repositories (name, base_url, priority, enabled) VALUES (?, ?, ?, ?)`,
		r.Name, r.BaseURL, r.Priority, r.Enabled)
	if err != nil {
		return 0, wrapConflictOrIO(err, "catalog: insert repository")
	}
	return res.LastInsertId()
}

// RepositoryPackage indexes a package available from a configured repository.
type RepositoryPackage struct {
	ID           int64
	RepositoryID int64
	Name         string
	Version      string
	Architecture sql.NullString
	ContentHash  sql.NullString
}

// InsertRepositoryPackage indexes one package entry from a repository.
func InsertRepositoryPackage(ctx context.Context, q Querier, p *RepositoryPackage) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO repository_packages (repository_id, name, version, architecture, content_hash) VALUES (?, ?, ?, ?, ?)`,
		p.RepositoryID, p.Name, p.Version, p.Architecture, p.ContentHash)
	if err != nil {
		return 0, wrapConflictOrIO(err, "catalog: insert repository package")
	}
	return res.LastInsertId()
}

// DeltaStat records chunk-reuse statistics for an upgrade, used for
// reporting delta-install efficiency.
type DeltaStat struct {
	ID            int64
	TroveName     string
	FromVersion   string
	ToVersion     string
	ChunksReused  int64
	ChunksFetched int64
	BytesSaved    int64
	RecordedAt    string
}

// InsertDeltaStat records one upgrade's chunk-reuse statistics.
func InsertDeltaStat(ctx context.Context, q Querier, d *DeltaStat) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO delta_stats (trove_name, from_version, to_version, chunks_reused, chunks_fetched, bytes_saved)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.TroveName, d.FromVersion, d.ToVersion, d.ChunksReused, d.ChunksFetched, d.BytesSaved)
	if err != nil {
		return 0, conaryerrors.New(conaryerrors.KindIO, "catalog: insert delta stat").WithCause(err)
	}
	return res.LastInsertId()
}

// ScriptletPhase mirrors the scriptlet phase enumeration.
type ScriptletPhase string

const (
	ScriptletPreInstall  ScriptletPhase = "pre-install"
	ScriptletPostInstall ScriptletPhase = "post-install"
	ScriptletPreRemove   ScriptletPhase = "pre-remove"
	ScriptletPostRemove  ScriptletPhase = "post-remove"
)

// Scriptlet is stored verbatim; the core never executes it, only records it
// for the external scriptlet runner.
type Scriptlet struct {
	ID          int64
	TroveID     int64
	Phase       ScriptletPhase
	Interpreter string
	Script      string
}

// InsertScriptlet inserts a scriptlet row.
func InsertScriptlet(ctx context.Context, q Querier, s *Scriptlet) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO scriptlets (trove_id, phase, interpreter, script) VALUES (?, ?, ?, ?)`,
		s.TroveID, string(s.Phase), s.Interpreter, s.Script)
	if err != nil {
		return 0, conaryerrors.New(conaryerrors.KindIO, "catalog: insert scriptlet").WithCause(err)
	}
	return res.LastInsertId()
}

// FindScriptletsByTrove returns every scriptlet belonging to troveID.
func FindScriptletsByTrove(ctx context.Context, q Querier, troveID int64) ([]*Scriptlet, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, trove_id, phase, interpreter, script FROM scriptlets WHERE trove_id = ?`, troveID)
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "catalog: find scriptlets").WithCause(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Scriptlet
	for rows.Next() {
		s := &Scriptlet{}
		var phase string
		if err := rows.Scan(&s.ID, &s.TroveID, &phase, &s.Interpreter, &s.Script); err != nil {
			return nil, conaryerrors.New(conaryerrors.KindIO, "catalog: scan scriptlet").WithCause(err)
		}
		s.Phase = ScriptletPhase(phase)
		out = append(out, s)
	}
	return out, rows.Err()
}
