// Package depresolve checks dependency satisfaction before install and
// removal safety before remove. It never pulls in providers itself — that
// is the repository layer's job — it only checks and reports.
package depresolve

import (
	"context"
	"database/sql"

	"github.com/conarylabs/conary/internal/catalog"
	conaryerrors "github.com/conarylabs/conary/pkg/errors"
)

// Requirement is one dependency to check, either already in the catalog or
// declared by an incoming trove not yet committed.
type Requirement struct {
	Name              string
	VersionConstraint string
}

// Unsatisfied reports a requirement with no matching provide.
type Unsatisfied struct {
	Requirement Requirement
}

// CheckInstall verifies that every requirement in requires is satisfied by
// either the current catalog's provides or incomingProvides (capabilities
// the trove being installed supplies itself). Transitive resolution is out
// of scope; this only checks and reports.
func CheckInstall(ctx context.Context, q catalog.Querier, requires []Requirement, incomingProvides map[string]bool) ([]Unsatisfied, error) {
	var unsatisfied []Unsatisfied
	for _, req := range requires {
		if incomingProvides[req.Name] {
			continue
		}
		provides, err := catalog.FindProvidesByCapability(ctx, q, req.Name)
		if err != nil {
			return nil, err
		}
		if len(provides) == 0 {
			unsatisfied = append(unsatisfied, Unsatisfied{Requirement: req})
		}
	}
	return unsatisfied, nil
}

// Policy controls how CheckRemoval reacts to a non-empty dependency
// closure.
type Policy int

const (
	// PolicyStrict refuses removal if anything depends on the candidate.
	PolicyStrict Policy = iota
	// PolicyCascade returns the full closure for the caller to confirm,
	// instead of refusing.
	PolicyCascade
)

// ClosureEntry is one trove pulled into a cascade-removal closure.
type ClosureEntry struct {
	TroveID int64
	Name    string
	Version string
}

// CheckRemoval computes the set of installed troves whose dependencies
// would become unsatisfied if candidate (identified by the capabilities it
// provides) were removed. Under PolicyStrict, a non-empty result is
// reported as a hard error (KindDependencyBreak). Under PolicyCascade, the
// full dependency closure is expanded and returned for the caller to
// confirm; cycles encountered during expansion collapse into one
// removable group rather than looping forever.
func CheckRemoval(ctx context.Context, q catalog.Querier, candidateTroveID int64, policy Policy) ([]ClosureEntry, error) {
	provides, err := findProvidesOf(ctx, q, candidateTroveID)
	if err != nil {
		return nil, err
	}

	direct, err := directDependents(ctx, q, provides, candidateTroveID)
	if err != nil {
		return nil, err
	}

	if len(direct) == 0 {
		return nil, nil
	}

	if policy == PolicyStrict {
		return direct, conaryerrors.New(conaryerrors.KindDependencyBreak, "depresolve: removal would orphan dependents").
			WithDetail("dependents", namesOf(direct))
	}

	// PolicyCascade: expand the closure, treating any cycle encountered
	// as a single removable group rather than an error.
	visited := map[int64]ClosureEntry{}
	for _, e := range direct {
		visited[e.TroveID] = e
	}
	queue := append([]ClosureEntry{}, direct...)
	for len(queue) > 0 {
		entry := queue[0]
		queue = queue[1:]

		entryProvides, err := findProvidesOf(ctx, q, entry.TroveID)
		if err != nil {
			return nil, err
		}
		more, err := directDependents(ctx, q, entryProvides, entry.TroveID)
		if err != nil {
			return nil, err
		}
		for _, m := range more {
			if m.TroveID == candidateTroveID {
				continue
			}
			if _, seen := visited[m.TroveID]; seen {
				continue // cycle: already part of the closure
			}
			visited[m.TroveID] = m
			queue = append(queue, m)
		}
	}

	out := make([]ClosureEntry, 0, len(visited))
	for _, e := range visited {
		out = append(out, e)
	}
	return out, nil
}

func findProvidesOf(ctx context.Context, q catalog.Querier, troveID int64) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT capability FROM provides WHERE trove_id = ?`, troveID)
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "depresolve: find provides").WithCause(err)
	}
	defer func() { _ = rows.Close() }()
	var caps []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, conaryerrors.New(conaryerrors.KindIO, "depresolve: scan provide").WithCause(err)
		}
		caps = append(caps, c)
	}
	return caps, rows.Err()
}

func directDependents(ctx context.Context, q catalog.Querier, capabilities []string, excludeTroveID int64) ([]ClosureEntry, error) {
	seen := map[int64]ClosureEntry{}
	for _, cap := range capabilities {
		// A capability another installed trove also provides stays
		// satisfied after excludeTroveID is removed.
		providers, err := catalog.FindProvidesByCapability(ctx, q, cap)
		if err != nil {
			return nil, err
		}
		otherProvider := false
		for _, p := range providers {
			otherProvider = otherProvider || p.TroveID != excludeTroveID
		}
		if otherProvider {
			continue
		}
		dependents, err := catalog.FindDependentsOnCapability(ctx, q, cap)
		if err != nil {
			return nil, err
		}
		for _, dep := range dependents {
			if dep.TroveID == excludeTroveID {
				continue
			}
			if _, ok := seen[dep.TroveID]; ok {
				continue
			}
			trove, err := findTroveByID(ctx, q, dep.TroveID)
			if err != nil {
				if conaryerrors.Is(err, conaryerrors.KindNotFound) {
					continue
				}
				return nil, err
			}
			seen[dep.TroveID] = ClosureEntry{TroveID: trove.ID, Name: trove.Name, Version: trove.Version}
		}
	}
	out := make([]ClosureEntry, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}
	return out, nil
}

func findTroveByID(ctx context.Context, q catalog.Querier, id int64) (*catalog.Trove, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, name, version, architecture, description, trove_type, install_source, pinned, installed_at, installed_by_changeset_id
		 FROM troves WHERE id = ?`, id)
	t := &catalog.Trove{}
	var kind, source string
	var arch, desc sql.NullString
	var changesetID sql.NullInt64
	err := row.Scan(&t.ID, &t.Name, &t.Version, &arch, &desc, &kind, &source, &t.Pinned, &t.InstalledAt, &changesetID)
	if err == sql.ErrNoRows {
		return nil, conaryerrors.New(conaryerrors.KindNotFound, "depresolve: trove not found").WithDetail("id", id)
	}
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "depresolve: scan trove").WithCause(err)
	}
	t.Architecture, t.Description, t.InstalledByChangesetID = arch, desc, changesetID
	t.Kind, t.InstallSource = catalog.TroveKind(kind), catalog.InstallSource(source)
	return t, nil
}

func namesOf(entries []ClosureEntry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}
