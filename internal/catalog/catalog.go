// Package catalog is Conary's durable relational metadata store: troves,
// files, changesets, dependencies, provides, and the supporting tables that
// describe what is installed and how it got there. It is backed by SQLite
// via the pure-Go modernc.org/sqlite driver so the resulting binary needs no
// cgo toolchain.
package catalog

import (
	"database/sql"
	"fmt"
	"time"

	conaryerrors "github.com/conarylabs/conary/pkg/errors"

	_ "modernc.org/sqlite"
)

// Catalog wraps a SQLite-backed database/sql handle configured for the
// single-writer/many-readers discipline the transaction engine requires.
type Catalog struct {
	db *sql.DB
}

// Open opens (creating and migrating if necessary) the catalog database at
// path. WAL mode is enabled so readers never block the single writer, and a
// busy timeout absorbs the brief lock contention WAL mode still allows
// during a checkpoint.
func Open(path string, busyTimeout time.Duration) (*Catalog, error) {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)",
		path, busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "catalog: opening database").
			WithCause(err).WithComponent("catalog").WithOperation("Open")
	}
	// The catalog's single-writer discipline is enforced above this layer
	// (internal/txn serializes writers); SQLite itself only needs to avoid
	// starving readers, so we cap open connections modestly.
	db.SetMaxOpenConns(8)

	c := &Catalog{db: db}
	if err := c.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// DB exposes the underlying handle for callers (internal/txn) that need to
// begin transactions directly.
func (c *Catalog) DB() *sql.DB {
	return c.db
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) migrate() error {
	if _, err := c.db.Exec(schemaSQL); err != nil {
		return conaryerrors.New(conaryerrors.KindCorrupt, "catalog: applying schema").
			WithCause(err).WithComponent("catalog").WithOperation("migrate")
	}
	return nil
}
