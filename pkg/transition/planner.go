// Package transition implements the Row-Transition Planner: given one
// outgoing mutation and the before/after row snapshot for its target
// table, it rewrites the mutation into the sequence of derived
// mutations a session with restricted row visibility should actually
// receive.
//
// Four fast paths avoid touching row data at all (deny-read,
// allow-read, mixedColumns, and schema-altering actions under row-level
// restriction). Everything else falls to the slow path: a four-way
// partition of the mutation's rows by before/after visibility, which
// may synthesize a bulk-add, a bulk-remove, or both, alongside the
// pruned original.
package transition

import (
	"github.com/wemcdonald/accessctl/pkg/docmodel"
	"github.com/wemcdonald/accessctl/pkg/lattice"
)

// Evaluator is the subset of the Permission Evaluator's contract the
// planner needs. Satisfied by *evaluator.Evaluator.
type Evaluator interface {
	TableVerdict(tableID string) docmodel.TablePermissionSet
	ColumnVerdict(tableID, colID string) docmodel.MixedPermissionSet
	RowReadVerdict(tableID string, row docmodel.Row) lattice.Value
	ColumnVerdictForRow(tableID, colID string, row docmodel.Row) docmodel.MixedPermissionSet
}

// Plan rewrites one mutation for one session. snap is ignored unless
// the table verdict's read bit is genuinely row-mixed; fast paths never
// look at it. A nil/empty result means the mutation is withheld
// entirely; a non-nil docmodel.ErrNeedReload means the caller must drop
// the session's outgoing stream and request a full resync.
func Plan(ev Evaluator, a docmodel.DocAction, snap docmodel.TableSnapshot) ([]docmodel.DocAction, error) {
	if docmodel.IsAlwaysOK(a.Kind) || a.Kind.IsWrapped() {
		return []docmodel.DocAction{a}, nil
	}

	verdict := ev.TableVerdict(a.TableID).Get(lattice.BitRead)

	switch verdict {
	case lattice.Deny:
		return nil, nil
	case lattice.Allow:
		return []docmodel.DocAction{a}, nil
	}

	if a.Kind.IsSchemaAction() {
		return planSchemaAction(ev, a, verdict)
	}

	if verdict == lattice.MixedColumns {
		pruned, ok := pruneColumns(ev, a)
		if !ok {
			return nil, nil
		}
		return []docmodel.DocAction{pruned}, nil
	}

	// Only lattice.Mixed reaches here: the table genuinely disagrees
	// row by row, and nothing short of binding each row can resolve it.
	return planSlowPath(ev, a, snap)
}

// PlanBundle runs Plan over every mutation in bundle, in the bundle's
// own order, and flattens the results, preserving order both within
// one mutation's output and across the bundle. It stops and returns
// docmodel.ErrNeedReload as soon as any mutation raises it, since the
// caller is about to drop the whole outgoing stream for this session
// rather than deliver a partially-rewritten bundle.
func PlanBundle(ev Evaluator, bundle []docmodel.DocAction, snapshots []docmodel.TableSnapshot) ([]docmodel.DocAction, error) {
	var out []docmodel.DocAction
	for i, a := range bundle {
		var snap docmodel.TableSnapshot
		if i < len(snapshots) {
			snap = snapshots[i]
		}
		planned, err := Plan(ev, a, snap)
		if err != nil {
			return nil, err
		}
		out = append(out, planned...)
	}
	return out, nil
}

// planSchemaAction handles schema-altering mutations once the table
// verdict is known to be neither plain allow nor plain deny. A touched
// column that is forbidden is silently dropped; otherwise, under
// lattice.Mixed, the client's schema view has diverged and a reload is
// required, while mixedColumns passes the action through unchanged.
func planSchemaAction(ev Evaluator, a docmodel.DocAction, verdict lattice.Value) ([]docmodel.DocAction, error) {
	forbidden := a.ColumnID != "" && ev.ColumnVerdict(a.TableID, a.ColumnID).Get(lattice.BitRead) == lattice.Deny
	if forbidden {
		return nil, nil
	}
	if verdict == lattice.Mixed {
		return nil, docmodel.ErrNeedReload
	}
	return []docmodel.DocAction{a}, nil
}

// planSlowPath partitions a's rows by (forbiddenBefore, forbiddenAfter)
// and builds the up-to-three-mutation output
// [synthetic-adds, mutated-a, synthetic-removes], each pruned and
// censored independently.
func planSlowPath(ev Evaluator, a docmodel.DocAction, snap docmodel.TableSnapshot) ([]docmodel.DocAction, error) {
	keep := make(map[string]bool, len(a.RowIDs))
	var addRows []docmodel.Row
	var removeIDs []string

	for _, id := range a.RowIDs {
		beforeRow, hasBefore := snap.Before[id]
		afterRow, hasAfter := snap.After[id]

		// A row with no before-image never existed; a row with no
		// after-image no longer exists. Either way there is nothing
		// to reveal, so treat it the same as a forbidden verdict.
		// Forbidden is "anything but a clean allow" rather than
		// "exactly deny": RowReadVerdict folds table-default and
		// per-column rule sets the same way TableVerdict does, so an
		// unset or still-mixed outcome is fail-closed here exactly as
		// ToMixed fails closed elsewhere in the evaluator.
		forbiddenBefore := true
		if hasBefore {
			forbiddenBefore = ev.RowReadVerdict(a.TableID, beforeRow) != lattice.Allow
		}
		forbiddenAfter := true
		if hasAfter {
			forbiddenAfter = ev.RowReadVerdict(a.TableID, afterRow) != lattice.Allow
		}

		switch {
		case forbiddenBefore && forbiddenAfter:
			// The client never saw this row and still can't.
		case !forbiddenBefore && !forbiddenAfter:
			keep[id] = true
		case !forbiddenBefore && forbiddenAfter:
			if a.Kind.IsRemoveLike() {
				keep[id] = true // a already removes it
			} else {
				removeIDs = append(removeIDs, id)
			}
		default: // forbiddenBefore && !forbiddenAfter
			if a.Kind.IsAddLike() {
				keep[id] = true // a already adds it
			} else if hasAfter {
				addRows = append(addRows, afterRow)
			}
		}
	}

	var out []docmodel.DocAction

	if len(addRows) > 0 {
		if added, ok := finalize(ev, docmodel.NewAddAction(a.TableID, addRows), snap); ok {
			out = append(out, added)
		}
	}

	mutated := a.FilterRows(func(rowID string, _ int) bool { return keep[rowID] })
	if !mutated.IsEmpty() {
		if fin, ok := finalize(ev, mutated, snap); ok {
			out = append(out, fin)
		}
	}

	if len(removeIDs) > 0 {
		if removed, ok := finalize(ev, docmodel.NewRemoveAction(a.TableID, removeIDs), snap); ok {
			out = append(out, removed)
		}
	}

	return out, nil
}

// finalize runs column pruning then cell censoring on one of the
// planner's up-to-three outputs. It reports false when pruning emptied
// a record mutation's columns entirely, in which case the caller must
// drop the whole mutation.
func finalize(ev Evaluator, a docmodel.DocAction, snap docmodel.TableSnapshot) (docmodel.DocAction, bool) {
	pruned, ok := pruneColumns(ev, a)
	if !ok {
		return pruned, false
	}
	return censorCells(ev, pruned, snap), true
}

// pruneColumns drops every column whose column-read verdict is deny. A
// mutation with no Fields (e.g. a remove) passes through untouched.
func pruneColumns(ev Evaluator, a docmodel.DocAction) (docmodel.DocAction, bool) {
	if len(a.Fields) == 0 {
		return a, true
	}
	pruned := a.DropColumns(func(col string) bool {
		return ev.ColumnVerdict(a.TableID, col).Get(lattice.BitRead) == lattice.Deny
	})
	return pruned, len(pruned.Fields) > 0
}

// censorCells re-evaluates the Permission Evaluator with each row bound
// as the record, using the row's after-image when one exists (the
// state the recipient is being told about) and falling back to its
// before-image otherwise (a synthetic remove has no after-image). Any
// column whose per-row read verdict is not allow has its cell replaced
// with docmodel.CensoredCell.
func censorCells(ev Evaluator, a docmodel.DocAction, snap docmodel.TableSnapshot) docmodel.DocAction {
	if len(a.Fields) == 0 {
		return a
	}
	out := a.Clone()
	for i, id := range out.RowIDs {
		row, ok := snap.After[id]
		if !ok {
			row, ok = snap.Before[id]
		}
		if !ok {
			row = docmodel.Row{ID: id, Values: a.RowValues(i)}
		}
		for col := range out.Fields {
			if ev.ColumnVerdictForRow(out.TableID, col, row).Get(lattice.BitRead) != lattice.Allow {
				out.WithRowValue(i, col, docmodel.CensoredCell)
			}
		}
	}
	return out
}
