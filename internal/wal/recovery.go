package wal

import (
	"github.com/pagesql/pagesql/internal/btree"
	"github.com/pagesql/pagesql/internal/pager"
)

// Recover performs the REDO pass: compute the committed set, then rescan
// from the start applying every record whose tx_id is committed to tree.
// Records are not tagged by table — a caller recovering several tables
// calls this once per table root against the same WAL, and a DELETE meant
// for another table simply no-ops when its key is absent from this one.
func Recover(w *WAL, tree *btree.Tree) error {
	committed, err := w.CommittedTxIDs()
	if err != nil {
		return err
	}
	return applyWhere(w, tree, func(r Record) bool { return committed[r.TxID] })
}

// ApplyCommittedExcept replays every committed record except those
// belonging to excluded, used by ROLLBACK to reconstruct state as of the
// last COMMIT while omitting the aborting transaction.
func ApplyCommittedExcept(w *WAL, tree *btree.Tree, excluded pager.TxID) error {
	committed, err := w.CommittedTxIDs()
	if err != nil {
		return err
	}
	return applyWhere(w, tree, func(r Record) bool {
		return committed[r.TxID] && r.TxID != excluded
	})
}

func applyWhere(w *WAL, tree *btree.Tree, include func(Record) bool) error {
	records, err := w.ReadAll()
	if err != nil {
		return err
	}
	for _, r := range records {
		if !include(r) {
			continue
		}
		switch r.Type {
		case Insert:
			if err := tree.Insert(r.Key, r.Value); err != nil && err != btree.ErrOverflow {
				return err
			}
		case Delete:
			if err := tree.Delete(r.Key); err != nil {
				return err
			}
		case Update:
			if err := tree.Delete(r.Key); err != nil {
				return err
			}
			if err := tree.Insert(r.Key, r.Value); err != nil && err != btree.ErrOverflow {
				return err
			}
		case Begin, Commit:
			// no-op during replay
		}
	}
	return nil
}
