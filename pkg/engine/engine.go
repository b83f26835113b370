// Package engine implements the façade named in spec.md §6: it wires the
// Rule Store, User-Attribute Resolver, Permission Evaluator, Metadata
// Censor, Row-Transition Planner and Broadcast Coordinator into the
// single object a document server actually calls: update, the
// hasXAccess family, canApplyUserAction(s), filterMetaTables, filterData
// and filterOutgoingDocActions, plus beforeBroadcast/afterBroadcast.
//
// Nothing in this package implements a new access decision; every
// decision it reports is delegated to pkg/rules, pkg/evaluator,
// pkg/censor, pkg/transition or pkg/broadcast. Engine's own job is
// session-evaluator bookkeeping and translating spec.md §6's call
// signatures into calls against those packages.
package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/wemcdonald/accessctl/pkg/broadcast"
	"github.com/wemcdonald/accessctl/pkg/censor"
	"github.com/wemcdonald/accessctl/pkg/docmodel"
	"github.com/wemcdonald/accessctl/pkg/evaluator"
	"github.com/wemcdonald/accessctl/pkg/lattice"
	"github.com/wemcdonald/accessctl/pkg/rules"
	"github.com/wemcdonald/accessctl/pkg/transition"
	"github.com/wemcdonald/accessctl/pkg/userattr"
)

const (
	readBit = lattice.BitRead
	allow   = lattice.Allow
	deny    = lattice.Deny
	numBits = lattice.NumBits
)

func bitOf(i int) lattice.Bit { return lattice.Bit(i) }

// Config bundles the engine's external collaborators (spec.md §6's
// consumed interfaces): a document-data query surface, an authoritative
// store for row-snapshot reconstruction, and the session ports an
// upstream authenticator has already resolved.
type Config struct {
	DocData       docmodel.DocData
	Store         docmodel.Store
	SessionAccess docmodel.SessionAccess
	SessionUser   docmodel.SessionUser
	Logger        *zap.Logger
}

// Engine is the single object a document server holds per open document.
// It owns the Rule Store and User-Attribute Resolver outright; everything
// else in Config is a borrowed reference the Engine must not outlive.
type Engine struct {
	docData docmodel.DocData
	access  docmodel.SessionAccess
	user    docmodel.SessionUser
	log     *zap.Logger

	store    *rules.Store
	attrs    *userattr.Resolver
	sessions *evaluator.SessionCache
	bcast    *broadcast.Coordinator
}

// New returns an Engine with an empty Rule Store (HaveRules() == false
// until the first Update). cfg.DocData, cfg.SessionAccess and
// cfg.SessionUser must be non-nil; cfg.Store may be nil if the caller
// never intends to call BeforeBroadcast/AfterBroadcast.
func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		docData:  cfg.DocData,
		access:   cfg.SessionAccess,
		user:     cfg.SessionUser,
		log:      log,
		store:    rules.NewStore(),
		attrs:    userattr.NewResolver(log),
		sessions: evaluator.NewSessionCache(),
		bcast:    broadcast.New(cfg.Store),
	}
}

// Update rebuilds the Rule Store and the User-Attribute Resolver from the
// document's current rule metadata. On a *docmodel.ConfigError the prior
// Rule Store remains in force and the session evaluator cache is left
// untouched, per spec.md §7: a configuration error must not disturb an
// already-running engine. On success the per-session evaluator cache is
// cleared, since every cached Evaluator's memo is keyed by now-stale
// *docmodel.RuleSet pointers.
func (e *Engine) Update(ctx context.Context, ruleSets []docmodel.RuleSet, attrRules []docmodel.UserAttributeRule) error {
	if err := e.attrs.Load(ctx, e.docData, attrRules); err != nil {
		return err
	}
	if err := e.store.Rebuild(ruleSets); err != nil {
		return err
	}
	e.sessions.Clear()
	return nil
}

// CloseSession evicts session's cached Evaluator. Call this on session
// disconnect; the cache must never be the reason a session handle
// outlives its session (spec.md §5's weak-association requirement).
func (e *Engine) CloseSession(session docmodel.SessionHandle) {
	e.sessions.Evict(session)
}

// evaluatorFor returns the cached per-session Evaluator, building and
// caching one on first use. A session with no resolved identity (an
// anonymous link share) still gets a usable Evaluator with a nil user.
func (e *Engine) evaluatorFor(session docmodel.SessionHandle) (*evaluator.Evaluator, error) {
	if ev, ok := e.sessions.Get(session); ok {
		return ev, nil
	}

	role, err := e.access(session)
	if err != nil {
		return nil, err
	}
	identity, err := e.user(session)
	if err != nil {
		return nil, err
	}

	u := &docmodel.UserInfo{Access: role}
	if identity != nil {
		u.UserID, u.Email, u.Name = identity.ID, identity.Email, identity.Name
	}
	e.attrs.Resolve(u)

	ev := evaluator.New(e.store, u, e.log)
	e.sessions.Put(session, ev)
	return ev, nil
}

// HasTableAccess reports whether session has any read access to
// tableID, anything short of an outright deny, including a row-mixed
// or column-mixed table.
func (e *Engine) HasTableAccess(session docmodel.SessionHandle, tableID string) (bool, error) {
	ev, err := e.evaluatorFor(session)
	if err != nil {
		return false, err
	}
	return tableAccessible(ev.TableVerdict(tableID)), nil
}

func tableAccessible(v docmodel.TablePermissionSet) bool {
	return v.Get(readBit) != deny
}

// HasQueryAccess reports whether session may read every column q names
// (or, if q.ColumnIDs is empty, the whole table) on q.TableID.
func (e *Engine) HasQueryAccess(session docmodel.SessionHandle, q Query) (bool, error) {
	ev, err := e.evaluatorFor(session)
	if err != nil {
		return false, err
	}
	if len(q.ColumnIDs) == 0 {
		return ev.TableVerdict(q.TableID).Get(readBit) == allow, nil
	}
	for _, col := range q.ColumnIDs {
		if ev.ColumnVerdict(q.TableID, col).Get(readBit) != allow {
			return false, nil
		}
	}
	return true, nil
}

// Query names a table and, optionally, a specific set of its columns,
// the shape hasQueryAccess's docData query argument takes in spec.md §6.
type Query struct {
	TableID   string
	ColumnIDs []string
}

// CanReadEverything reports whether session may read every table and
// column in the document without any censoring or filtering.
func (e *Engine) CanReadEverything(session docmodel.SessionHandle) (bool, error) {
	ev, err := e.evaluatorFor(session)
	if err != nil {
		return false, err
	}
	return ev.DocumentVerdict().Get(readBit) == allow, nil
}

// HasFullAccess reports whether session holds Allow on every one of the
// six permission bits, document-wide.
func (e *Engine) HasFullAccess(session docmodel.SessionHandle) (bool, error) {
	ev, err := e.evaluatorFor(session)
	if err != nil {
		return false, err
	}
	v := ev.DocumentVerdict()
	for bit := 0; bit < numBits; bit++ {
		if v.Get(bitOf(bit)) != allow {
			return false, nil
		}
	}
	return true, nil
}

// HasViewAccess reports whether session may read anything at all in the
// document.
func (e *Engine) HasViewAccess(session docmodel.SessionHandle) (bool, error) {
	ev, err := e.evaluatorFor(session)
	if err != nil {
		return false, err
	}
	return ev.DocumentVerdict().Get(readBit) != deny, nil
}

// HasNuancedAccess reports whether session's access is anything short of
// full owner-level in a document that has at least one user-authored
// rule set. A document with no user rules never has nuanced access,
// since the built-in owner/editor/viewer defaults are the only rules in
// force and canApplyUserAction's callers should treat that the same as
// full trust of the session's resolved role.
func (e *Engine) HasNuancedAccess(session docmodel.SessionHandle) (bool, error) {
	if !e.store.HaveRules() {
		return false, nil
	}
	full, err := e.HasFullAccess(session)
	if err != nil {
		return false, err
	}
	return !full, nil
}

// CanApplyUserAction applies spec.md §6's action-classification policy
// to a single action.
func (e *Engine) CanApplyUserAction(session docmodel.SessionHandle, a docmodel.DocAction) (bool, error) {
	switch docmodel.Classify(a.Kind) {
	case docmodel.ClassAlwaysOK:
		return true, nil
	case docmodel.ClassSpecial:
		nuanced, err := e.HasNuancedAccess(session)
		if err != nil {
			return false, err
		}
		return !nuanced, nil
	case docmodel.ClassSurprising:
		return e.HasFullAccess(session)
	case docmodel.ClassTableScoped:
		return e.canApplyTableScoped(session, a)
	case docmodel.ClassWrapped:
		return e.CanApplyUserActions(session, a.Nested)
	default:
		return false, nil
	}
}

func (e *Engine) canApplyTableScoped(session docmodel.SessionHandle, a docmodel.DocAction) (bool, error) {
	if docmodel.IsSystemTable(a.TableID) {
		nuanced, err := e.HasNuancedAccess(session)
		if err != nil {
			return false, err
		}
		return !nuanced, nil
	}
	ev, err := e.evaluatorFor(session)
	if err != nil {
		return false, err
	}
	// Row-mixed reads block writes in this version (spec.md §1's
	// non-goals): only a clean table-wide Allow authorizes a write.
	return ev.TableVerdict(a.TableID).Get(readBit) == allow, nil
}

// CanApplyUserActions applies CanApplyUserAction to every action in
// actions, short-circuiting on the first rejection or error.
func (e *Engine) CanApplyUserActions(session docmodel.SessionHandle, actions []docmodel.DocAction) (bool, error) {
	for _, a := range actions {
		ok, err := e.CanApplyUserAction(session, a)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// FilterMetaTables censors meta in place for session, per spec.md §4.5,
// unless session can already read everything, in which case meta is
// returned unchanged (spec.md §8 invariant 1). Idempotent: a second call
// on already-censored rows finds nothing new to censor.
func (e *Engine) FilterMetaTables(session docmodel.SessionHandle, meta *censor.MetaTables) (*censor.MetaTables, error) {
	everything, err := e.CanReadEverything(session)
	if err != nil {
		return nil, err
	}
	if everything {
		return meta, nil
	}
	ev, err := e.evaluatorFor(session)
	if err != nil {
		return nil, err
	}
	return censor.Filter(ev, meta), nil
}

// TableData is a table's rows plus the ordered list of columns present,
// the shape filterData's in-place row/column filtering operates on.
type TableData struct {
	TableID string
	Columns []string
	Rows    []docmodel.Row
}

// FilterData filters tableData in place for session. It packages the
// whole table as one synthetic bulk-add with no before-image and hands
// it to the Row-Transition Planner, which applies the same
// deny/allow/mixedColumns/mixed dispatch used by FilterOutgoingDocActions
// (see DESIGN.md for why FilterData delegates instead of re-deriving that
// dispatch here). If the Rule Store has no user-authored rules, tableData
// is returned unchanged.
func (e *Engine) FilterData(session docmodel.SessionHandle, data *TableData) (*TableData, error) {
	if !e.store.HaveRules() {
		return data, nil
	}
	ev, err := e.evaluatorFor(session)
	if err != nil {
		return nil, err
	}

	action := docmodel.NewAddAction(data.TableID, data.Rows)
	snap := docmodel.TableSnapshot{After: rowsByID(data.Rows)}

	out, err := transition.Plan(ev, action, snap)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		data.Columns = nil
		data.Rows = nil
		return data, nil
	}

	filtered := out[0]
	data.Columns = columnsInOrder(data.Columns, filtered.Fields)
	data.Rows = rowsFromAction(filtered)
	return data, nil
}

func rowsByID(rows []docmodel.Row) map[string]docmodel.Row {
	out := make(map[string]docmodel.Row, len(rows))
	for _, r := range rows {
		out[r.ID] = r
	}
	return out
}

// columnsInOrder returns the columns of original still present in
// fields, preserving original's order.
func columnsInOrder(original []string, fields map[string][]any) []string {
	out := make([]string, 0, len(original))
	for _, c := range original {
		if _, ok := fields[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

func rowsFromAction(a docmodel.DocAction) []docmodel.Row {
	rows := make([]docmodel.Row, len(a.RowIDs))
	for i, id := range a.RowIDs {
		rows[i] = docmodel.Row{ID: id, Values: a.RowValues(i)}
	}
	return rows
}

// FilterOutgoingDocActions rewrites actions for session per the
// Row-Transition Planner, pulling the bundle's row snapshots from the
// armed Broadcast Coordinator. Returns the original slice unchanged
// (spec.md §8 invariant 1) when the Rule Store has no user-authored
// rules or session can read everything, both cases make row/column
// filtering provably a no-op, so skipping it avoids an unnecessary
// snapshot fetch.
func (e *Engine) FilterOutgoingDocActions(ctx context.Context, session docmodel.SessionHandle, actions []docmodel.DocAction) ([]docmodel.DocAction, error) {
	if !e.store.HaveRules() {
		return actions, nil
	}
	everything, err := e.CanReadEverything(session)
	if err != nil {
		return nil, err
	}
	if everything {
		return actions, nil
	}

	ev, err := e.evaluatorFor(session)
	if err != nil {
		return nil, err
	}
	bundle, err := e.bcast.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return transition.PlanBundle(ev, actions, bundle.Snapshots)
}

// BeforeBroadcast arms the Broadcast Coordinator's lazy snapshot cell for
// one outgoing bundle. Must be called after forward has already been
// applied to the authoritative store, and before any recipient is
// served.
func (e *Engine) BeforeBroadcast(forward, undo []docmodel.DocAction) {
	e.bcast.BeforeBroadcast(forward, undo)
}

// AfterBroadcast discards the current bundle's snapshot. Must be called
// after every recipient has been served.
func (e *Engine) AfterBroadcast() {
	e.bcast.AfterBroadcast()
}

// HaveRules reports whether the Rule Store holds any user-authored rule
// set, for callers that want to short-circuit their own filtering paths
// the way spec.md §4.2 describes.
func (e *Engine) HaveRules() bool {
	return e.store.HaveRules()
}
