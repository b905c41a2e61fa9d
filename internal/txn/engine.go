// Package txn is the transaction engine: it wraps every catalog mutation in
// a single serializable SQL transaction, records a changeset row describing
// the mutation, and knows how to reverse an applied changeset later.
package txn

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"

	"github.com/conarylabs/conary/internal/catalog"
	conaryerrors "github.com/conarylabs/conary/pkg/errors"
	"github.com/conarylabs/conary/pkg/log"
)

// Engine serializes every write through a single exclusive handle, matching
// the "single writer token" concurrency model: readers run outside the
// engine directly against the catalog and see the last committed snapshot.
type Engine struct {
	cat    *catalog.Catalog
	logger *log.Logger
	mu     sync.Mutex
}

// New constructs an Engine bound to cat.
func New(cat *catalog.Catalog, logger *log.Logger) *Engine {
	if logger == nil {
		l, _ := log.New(log.DefaultConfig())
		logger = l
	}
	return &Engine{cat: cat, logger: logger.WithComponent("txn")}
}

// Handle is the exclusive write handle passed to a transaction body. All
// catalog model calls the body makes should use Handle.Tx() as their
// Querier so they participate in the same SQL transaction as the
// changeset bookkeeping.
type Handle struct {
	tx          *sql.Tx
	changesetID int64
	seq         int
}

// Tx returns the underlying *sql.Tx, usable anywhere a catalog.Querier is
// expected.
func (h *Handle) Tx() *sql.Tx { return h.tx }

// ChangesetID returns the changeset id assigned to this transaction.
func (h *Handle) ChangesetID() int64 { return h.changesetID }

// LogFileHistory appends a file-history row for this changeset. Callers
// must call it once per affected path, in the order the mutation actually
// touched the path, so rollback can replay in exact reverse order.
func (h *Handle) LogFileHistory(ctx context.Context, path string, action catalog.FileAction, hashBefore, hashAfter sql.NullString, mode sql.NullInt64) error {
	entry := &catalog.FileHistoryEntry{
		ChangesetID: h.changesetID,
		Path:        path,
		Action:      action,
		HashBefore:  hashBefore,
		HashAfter:   hashAfter,
		Mode:        mode,
		Seq:         h.seq,
	}
	h.seq++
	_, err := catalog.InsertFileHistory(ctx, h.tx, entry)
	return err
}

// RemovalSnapshot is the reversal-metadata blob recorded for a trove
// removal: enough to reconstruct the trove and its files on rollback as
// long as the referenced content objects still exist in the CAS.
type RemovalSnapshot struct {
	Trove catalog.Trove        `json:"trove"`
	Files []catalog.FileRecord `json:"files"`
}

// SetRemovalSnapshot serializes snap into this transaction's changeset
// metadata blob. Called before the cascade delete that removes the trove
// being snapshotted.
func (h *Handle) SetRemovalSnapshot(ctx context.Context, snap *RemovalSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "txn: marshal removal snapshot").WithCause(err)
	}
	return catalog.SetChangesetMetadata(ctx, h.tx, h.changesetID, data)
}

// Result is returned by a completed transaction or rollback.
type Result struct {
	ChangesetID  int64
	Compensated  bool
	CompensationErr error
}

// Transaction runs body with an exclusive write handle inside a single SQL
// transaction. A changeset row is inserted with status=pending before body
// runs and updated to applied as the transaction's last statement; any
// error from body rolls back everything, leaving no trace of the attempted
// changeset.
func (e *Engine) Transaction(ctx context.Context, description string, body func(ctx context.Context, h *Handle) error) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.cat.DB().BeginTx(ctx, nil)
	if err != nil {
		return 0, conaryerrors.New(conaryerrors.KindIO, "txn: begin transaction").WithCause(err)
	}

	changesetID, err := catalog.InsertChangeset(ctx, tx, description)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	h := &Handle{tx: tx, changesetID: changesetID}
	if err := body(ctx, h); err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	if err := catalog.UpdateChangesetStatus(ctx, tx, changesetID, catalog.ChangesetApplied); err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, conaryerrors.New(conaryerrors.KindIO, "txn: commit transaction").WithCause(err)
	}

	return changesetID, nil
}

// TransactionWithDeploy runs body as a catalog transaction, then — once it
// has committed — runs deploy (the filesystem materialization phase).
// Deploy failures after a successful catalog commit do not raw-rollback the
// already-committed catalog; instead a compensating changeset is
// synthesized that reverses it, so the next state-snapshot stays
// consistent. The compensating error is returned alongside the original.
func (e *Engine) TransactionWithDeploy(ctx context.Context, description string, body func(ctx context.Context, h *Handle) error, deploy func() error) (*Result, error) {
	changesetID, err := e.Transaction(ctx, description, body)
	if err != nil {
		return nil, err
	}
	if deploy == nil {
		return &Result{ChangesetID: changesetID}, nil
	}

	if deployErr := deploy(); deployErr != nil {
		e.logger.Error("deploy failed after catalog commit; issuing compensating changeset", map[string]interface{}{
			"changeset_id": changesetID, "error": deployErr.Error(),
		})
		_, rbErr := e.Rollback(ctx, changesetID)
		result := &Result{ChangesetID: changesetID, Compensated: true, CompensationErr: rbErr}
		wrapped := conaryerrors.New(conaryerrors.KindIO, "txn: deployer failed after catalog commit, compensating changeset issued").
			WithCause(deployErr).WithDetail("changeset_id", changesetID)
		if rbErr != nil {
			wrapped = wrapped.WithDetail("compensation_error", rbErr.Error())
		}
		return result, wrapped
	}
	return &Result{ChangesetID: changesetID}, nil
}

// Rollback reverses a previously applied changeset. It is itself
// transactional: either the full reversal commits, or nothing changes.
// Rollback is idempotent — rolling back an already-rolled-back changeset is
// a no-op that returns the existing reversing changeset id.
func (e *Engine) Rollback(ctx context.Context, changesetID int64) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	orig, err := catalog.FindChangesetByID(ctx, e.cat.DB(), changesetID)
	if err != nil {
		return nil, err
	}
	if orig.Status == catalog.ChangesetRolledBack {
		if orig.ReversedByID.Valid {
			return &Result{ChangesetID: orig.ReversedByID.Int64}, nil
		}
		return &Result{ChangesetID: changesetID}, nil
	}
	if orig.Status != catalog.ChangesetApplied {
		return nil, conaryerrors.New(conaryerrors.KindConflict, "txn: cannot roll back a changeset that was never applied").
			WithDetail("changeset_id", changesetID).WithDetail("status", string(orig.Status))
	}

	tx, err := e.cat.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "txn: begin rollback transaction").WithCause(err)
	}
	commit := false
	defer func() {
		if !commit {
			_ = tx.Rollback()
		}
	}()

	reversingID, err := catalog.InsertChangeset(ctx, tx, "rollback of changeset "+itoa(changesetID))
	if err != nil {
		return nil, err
	}
	h := &Handle{tx: tx, changesetID: reversingID}

	if err := e.reverseChangeset(ctx, tx, h, orig); err != nil {
		return nil, err
	}

	if err := catalog.UpdateChangesetStatus(ctx, tx, reversingID, catalog.ChangesetApplied); err != nil {
		return nil, err
	}
	if err := catalog.UpdateChangesetStatus(ctx, tx, changesetID, catalog.ChangesetRolledBack); err != nil {
		return nil, err
	}
	if err := catalog.SetChangesetReversedBy(ctx, tx, changesetID, reversingID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, conaryerrors.New(conaryerrors.KindIO, "txn: commit rollback transaction").WithCause(err)
	}
	commit = true

	return &Result{ChangesetID: reversingID}, nil
}

// reverseChangeset dispatches on whether orig carried a removal snapshot. A
// plain install changeset has none and is reversed by deleting the troves
// it installed. A remove changeset carries a snapshot and is reversed by
// reconstructing the trove it deleted. A same-trove upgrade changeset
// carries a snapshot of the superseded trove *and* installed a new one in
// the same transaction, so it needs both halves: delete the trove this
// changeset installed, then reconstruct the one its snapshot describes —
// otherwise rollback would leave both versions installed.
func (e *Engine) reverseChangeset(ctx context.Context, tx *sql.Tx, h *Handle, orig *catalog.Changeset) error {
	entries, err := catalog.FindFileHistoryByChangesetDesc(ctx, tx, orig.ID)
	if err != nil {
		return err
	}

	if len(orig.Metadata) > 0 {
		if err := e.deleteTrovesInstalledBy(ctx, tx, orig.ID); err != nil {
			return err
		}
		return e.reverseRemoval(ctx, tx, h, orig, entries)
	}
	return e.reverseInstall(ctx, tx, h, orig, entries)
}

// deleteTrovesInstalledBy deletes every trove whose installed_by_changeset_id
// points at changesetID. It is a no-op for changesets that never inserted a
// trove, such as a plain removal.
func (e *Engine) deleteTrovesInstalledBy(ctx context.Context, tx *sql.Tx, changesetID int64) error {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM troves WHERE installed_by_changeset_id = ?`, changesetID)
	if err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "txn: find troves installed by changeset").WithCause(err)
	}
	var troveIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return conaryerrors.New(conaryerrors.KindIO, "txn: scan trove id").WithCause(err)
		}
		troveIDs = append(troveIDs, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "txn: iterate trove ids").WithCause(err)
	}

	for _, id := range troveIDs {
		if err := catalog.DeleteTrove(ctx, tx, id); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) reverseRemoval(ctx context.Context, tx *sql.Tx, h *Handle, orig *catalog.Changeset, entries []*catalog.FileHistoryEntry) error {
	var snap RemovalSnapshot
	if err := json.Unmarshal(orig.Metadata, &snap); err != nil {
		return conaryerrors.New(conaryerrors.KindCorrupt, "txn: unmarshal removal snapshot").WithCause(err)
	}

	restored := snap.Trove
	restored.ID = 0
	restored.InstalledByChangesetID = sql.NullInt64{Int64: h.changesetID, Valid: true}
	troveID, err := catalog.InsertTrove(ctx, tx, &restored)
	if err != nil {
		return err
	}

	for _, f := range snap.Files {
		f.ID = 0
		f.TroveID = troveID
		if _, err := catalog.InsertFile(ctx, tx, &f); err != nil {
			return err
		}
	}

	for _, entry := range entries {
		if err := h.LogFileHistory(ctx, entry.Path, catalog.FileActionAdd, entry.HashAfter, entry.HashBefore, entry.Mode); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) reverseInstall(ctx context.Context, tx *sql.Tx, h *Handle, orig *catalog.Changeset, entries []*catalog.FileHistoryEntry) error {
	if err := e.deleteTrovesInstalledBy(ctx, tx, orig.ID); err != nil {
		return err
	}

	for _, entry := range entries {
		if err := h.LogFileHistory(ctx, entry.Path, catalog.FileActionDelete, entry.HashAfter, entry.HashBefore, entry.Mode); err != nil {
			return err
		}
	}
	return nil
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
