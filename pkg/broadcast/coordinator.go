// Package broadcast implements the Broadcast Coordinator: a lazily
// built, single-flight row-snapshot bundle shared by every recipient of
// one outgoing mutation bundle. Building a bundle means reconstructing
// the before/after row image for each forward mutation by rolling the
// touched rows back to their pre-bundle state with the undo log, then
// replaying the forward log over that rolled-back state.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/wemcdonald/accessctl/pkg/docmodel"
)

// errNotArmed is returned by Snapshot when no bundle is currently armed:
// a caller asked for a snapshot outside a BeforeBroadcast/AfterBroadcast
// window.
var errNotArmed = errors.New("broadcast: no bundle armed")

// Coordinator owns the one snapshot cell active at a time for a single
// document's outgoing broadcasts. Mutations are linearized upstream
// (spec.md §5), so at most one bundle is ever armed, though many
// recipients may observe it concurrently.
type Coordinator struct {
	store docmodel.Store

	mu   sync.Mutex
	cell *cell
}

// New returns a Coordinator pulling row data from store.
func New(store docmodel.Store) *Coordinator {
	return &Coordinator{store: store}
}

// BeforeBroadcast arms a fresh snapshot cell for one bundle. It must be
// called after forward has already been applied to the authoritative
// store, and before any recipient is served; nothing is fetched yet,
// the cell only builds on its first Snapshot call.
func (c *Coordinator) BeforeBroadcast(forward, undo []docmodel.DocAction) {
	store := c.store
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cell = newCell(func(ctx context.Context) (docmodel.RowSnapshotBundle, error) {
		return buildSnapshotBundle(ctx, store, forward, undo)
	})
}

// Snapshot returns the currently armed bundle, building it on the first
// call and sharing that result (or the in-flight build) with every
// concurrent caller for the same bundle.
func (c *Coordinator) Snapshot(ctx context.Context) (docmodel.RowSnapshotBundle, error) {
	c.mu.Lock()
	cur := c.cell
	c.mu.Unlock()
	if cur == nil {
		return docmodel.RowSnapshotBundle{}, errNotArmed
	}
	return cur.get(ctx)
}

// AfterBroadcast discards the current bundle's snapshot. It must be
// called after every recipient has been served; any Snapshot call
// already in flight keeps the cell it captured and completes normally.
func (c *Coordinator) AfterBroadcast() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cell = nil
}

// cellState is the lazy snapshot cell's three-state lifecycle
// (spec.md §9): unarmed -> armedRunning -> armedReady.
type cellState int32

const (
	unarmed cellState = iota
	armedRunning
	armedReady
)

// cell is a single-assignment, single-flight builder for one bundle's
// snapshot. done is allocated at construction time, before any observer
// arrives, so there is no window in which a losing CAS could race ahead
// of the channel it needs to wait on.
type cell struct {
	state int32 // cellState, read/written only via sync/atomic

	build func(ctx context.Context) (docmodel.RowSnapshotBundle, error)
	done  chan struct{}

	mu     sync.Mutex
	result docmodel.RowSnapshotBundle
	err    error
}

func newCell(build func(ctx context.Context) (docmodel.RowSnapshotBundle, error)) *cell {
	return &cell{build: build, done: make(chan struct{})}
}

// get returns the cell's bundle, running build exactly once across every
// concurrent caller. A caller whose context is canceled while only
// waiting (not building) gets ctx.Err() without disturbing the build in
// progress for everyone else.
func (c *cell) get(ctx context.Context) (docmodel.RowSnapshotBundle, error) {
	if atomic.CompareAndSwapInt32(&c.state, int32(unarmed), int32(armedRunning)) {
		result, err := c.build(ctx)
		c.mu.Lock()
		c.result, c.err = result, err
		c.mu.Unlock()
		atomic.StoreInt32(&c.state, int32(armedReady))
		close(c.done)
		return result, err
	}

	select {
	case <-c.done:
	case <-ctx.Done():
		return docmodel.RowSnapshotBundle{}, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.err
}

// buildSnapshotBundle implements spec.md §4.7's four-step reconstruction:
// (a) find every row id touched by the undo log, plus every row id the
// forward log itself references (a forward add has no undo-log presence
// to roll back from but still needs a before/after image); (b) fetch
// exactly those rows from the authoritative store, which already
// reflects the post-bundle state per the beforeBroadcast invariant;
// (c) apply the undo log to roll that state back to pre-bundle; (d) step
// forward through the forward log, capturing a deep-cloned image of each
// touched table immediately before and immediately after every action.
func buildSnapshotBundle(ctx context.Context, store docmodel.Store, forward, undo []docmodel.DocAction) (docmodel.RowSnapshotBundle, error) {
	touched := touchedRowIDs(undo)
	for tableID, ids := range touchedRowIDs(forward) {
		touched[tableID] = dedupStrings(append(touched[tableID], ids...))
	}

	current := make(map[string]map[string]docmodel.Row, len(touched))
	for tableID, ids := range touched {
		rows, err := store.FetchRows(ctx, docmodel.StoreQuery{TableID: tableID, RowIDs: ids})
		if err != nil {
			return docmodel.RowSnapshotBundle{}, err
		}
		current[tableID] = rows
	}

	for _, u := range undo {
		applyAction(current, u)
	}

	snapshots := make([]docmodel.TableSnapshot, len(forward))
	for i, a := range forward {
		before := cloneTableRows(current[a.TableID])
		applyAction(current, a)
		after := cloneTableRows(current[a.TableID])
		snapshots[i] = docmodel.TableSnapshot{Before: before, After: after}
	}

	return docmodel.RowSnapshotBundle{Snapshots: snapshots}, nil
}

// touchedRowIDs collects, per table, every row id any record action in
// actions references, recursing into wrapped (apply-undo/apply-doc)
// action lists. Results are deduplicated.
func touchedRowIDs(actions []docmodel.DocAction) map[string][]string {
	out := map[string][]string{}
	var walk func([]docmodel.DocAction)
	walk = func(as []docmodel.DocAction) {
		for _, a := range as {
			if a.Kind.IsWrapped() {
				walk(a.Nested)
				continue
			}
			if !a.Kind.IsRecordAction() || len(a.RowIDs) == 0 {
				continue
			}
			out[a.TableID] = append(out[a.TableID], a.RowIDs...)
		}
	}
	walk(actions)
	for t, ids := range out {
		out[t] = dedupStrings(ids)
	}
	return out
}

func dedupStrings(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// applyAction mutates tables in place to reflect a, recursing into
// wrapped action lists. Schema actions and Calculate carry no row state
// and are ignored.
func applyAction(tables map[string]map[string]docmodel.Row, a docmodel.DocAction) {
	if a.Kind.IsWrapped() {
		for _, n := range a.Nested {
			applyAction(tables, n)
		}
		return
	}
	if !a.Kind.IsRecordAction() {
		return
	}
	rows := tables[a.TableID]
	if rows == nil {
		rows = make(map[string]docmodel.Row)
		tables[a.TableID] = rows
	}
	switch {
	case a.Kind.IsRemoveLike():
		for _, id := range a.RowIDs {
			delete(rows, id)
		}
	case a.Kind.IsAddLike():
		for i, id := range a.RowIDs {
			rows[id] = docmodel.Row{ID: id, Values: a.RowValues(i)}
		}
	case a.Kind.IsUpdateLike():
		for i, id := range a.RowIDs {
			existing := cloneRow(rows[id])
			if existing.Values == nil {
				existing = docmodel.Row{ID: id, Values: map[string]any{}}
			}
			for col, v := range a.RowValues(i) {
				existing.Values[col] = v
			}
			rows[id] = existing
		}
	}
}

func cloneTableRows(rows map[string]docmodel.Row) map[string]docmodel.Row {
	out := make(map[string]docmodel.Row, len(rows))
	for id, r := range rows {
		out[id] = cloneRow(r)
	}
	return out
}

func cloneRow(r docmodel.Row) docmodel.Row {
	if r.Values == nil {
		return docmodel.Row{ID: r.ID}
	}
	values := make(map[string]any, len(r.Values))
	for k, v := range r.Values {
		values[k] = v
	}
	return docmodel.Row{ID: r.ID, Values: values}
}
