package transition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wemcdonald/accessctl/pkg/docmodel"
	"github.com/wemcdonald/accessctl/pkg/evaluator"
	"github.com/wemcdonald/accessctl/pkg/lattice"
	"github.com/wemcdonald/accessctl/pkg/rules"
)

func allowRead() docmodel.PermissionSet { return lattice.Empty().With(lattice.BitRead, lattice.Allow) }
func denyRead() docmodel.PermissionSet  { return lattice.Empty().With(lattice.BitRead, lattice.Deny) }

// ownerMatchStore builds the RuleSet every scenario a-c shares: read is
// allowed exactly when the row's owner column matches the session's
// email. RoleNone keeps the built-in owner/editor/viewer rules silent so
// they never supply a final verdict that would swamp the row-dependent
// one being tested, mirroring the precedent set in pkg/evaluator's own
// needs-row test. Default is deliberately left unset: a final Default
// would clobber the needs-row downgrade before it ever reaches the
// table fold, the same reasoning the evaluator test suite uses.
// Fail-closed behavior for a clean non-match still holds, since
// RowReadVerdict is read as "forbidden unless clean allow".
func ownerMatchStore(t *testing.T) *rules.Store {
	t.Helper()
	store := rules.NewStore()
	require.NoError(t, store.Rebuild([]docmodel.RuleSet{
		{
			Scope: docmodel.Scope{TableID: "T"},
			Body: []docmodel.Rule{
				{
					Source: "rec.owner = user.Email",
					Predicate: func(in docmodel.MatchInput) (bool, error) {
						if in.Record == nil {
							return false, docmodel.ErrNeedsRow
						}
						return in.Record.Get("owner") == in.User.Email, nil
					},
					Delta: allowRead(),
				},
			},
		},
	}))
	return store
}

func bob() *docmodel.UserInfo { return &docmodel.UserInfo{Email: "bob", Access: docmodel.RoleNone} }

func TestViewerSeesOnlyAllowedRows(t *testing.T) {
	ev := evaluator.New(ownerMatchStore(t), bob(), nil)

	snap := docmodel.TableSnapshot{
		Before: map[string]docmodel.Row{"1": {ID: "1", Values: map[string]any{"owner": "alice", "x": 1}}},
		After:  map[string]docmodel.Row{"1": {ID: "1", Values: map[string]any{"owner": "alice", "x": 10}}},
	}
	action := docmodel.DocAction{
		Kind: docmodel.UpdateRecord, TableID: "T", RowIDs: []string{"1"},
		Fields: map[string][]any{"x": {10}},
	}

	out, err := Plan(ev, action, snap)
	require.NoError(t, err)
	assert.Empty(t, out, "row 1's owner is alice, never visible to bob")
}

func TestRowBecomesVisible(t *testing.T) {
	ev := evaluator.New(ownerMatchStore(t), bob(), nil)

	snap := docmodel.TableSnapshot{
		Before: map[string]docmodel.Row{"2": {ID: "2", Values: map[string]any{"owner": "alice"}}},
		After:  map[string]docmodel.Row{"2": {ID: "2", Values: map[string]any{"owner": "bob"}}},
	}
	action := docmodel.DocAction{
		Kind: docmodel.UpdateRecord, TableID: "T", RowIDs: []string{"2"},
		Fields: map[string][]any{"owner": {"bob"}},
	}

	out, err := Plan(ev, action, snap)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Kind.IsAddLike())
	assert.Equal(t, []string{"2"}, out[0].RowIDs)
	assert.Equal(t, []any{"bob"}, out[0].Fields["owner"], "the synthetic add carries the full post-state")
}

func TestRowBecomesForbidden(t *testing.T) {
	ev := evaluator.New(ownerMatchStore(t), bob(), nil)

	snap := docmodel.TableSnapshot{
		Before: map[string]docmodel.Row{"2": {ID: "2", Values: map[string]any{"owner": "bob"}}},
		After:  map[string]docmodel.Row{"2": {ID: "2", Values: map[string]any{"owner": "alice"}}},
	}
	action := docmodel.DocAction{
		Kind: docmodel.UpdateRecord, TableID: "T", RowIDs: []string{"2"},
		Fields: map[string][]any{"owner": {"alice"}},
	}

	out, err := Plan(ev, action, snap)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Kind.IsRemoveLike())
	assert.Equal(t, []string{"2"}, out[0].RowIDs)
}

func TestMixedColumnsTableStripsForbiddenColumn(t *testing.T) {
	store := rules.NewStore()
	require.NoError(t, store.Rebuild([]docmodel.RuleSet{
		{
			Scope: docmodel.Scope{TableID: "T", ColumnIDs: []string{"sec"}},
			Body: []docmodel.Rule{
				{Source: "deny everyone", Predicate: func(docmodel.MatchInput) (bool, error) { return true, nil }, Delta: denyRead()},
			},
		},
	}))

	ev := evaluator.New(store, &docmodel.UserInfo{Access: docmodel.RoleOwners}, nil)
	require.Equal(t, lattice.MixedColumns, ev.TableVerdict("T").Get(lattice.BitRead))

	action := docmodel.DocAction{
		Kind: docmodel.BulkAddRecord, TableID: "T", RowIDs: []string{"1", "2"},
		Fields: map[string][]any{
			"pub": {"a", "b"},
			"sec": {"x", "y"},
		},
	}

	out, err := Plan(ev, action, docmodel.TableSnapshot{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []string{"1", "2"}, out[0].RowIDs)
	assert.Equal(t, []any{"a", "b"}, out[0].Fields["pub"])
	_, hasSec := out[0].Fields["sec"]
	assert.False(t, hasSec, "the forbidden column is stripped")
}

func TestDenyReadFastPathEmitsNothing(t *testing.T) {
	store := rules.NewStore()
	require.NoError(t, store.Rebuild([]docmodel.RuleSet{
		{
			Scope: docmodel.Scope{TableID: "T"},
			Body: []docmodel.Rule{
				{Source: "deny everyone", Predicate: func(docmodel.MatchInput) (bool, error) { return true, nil }, Delta: denyRead()},
			},
		},
	}))
	ev := evaluator.New(store, &docmodel.UserInfo{Access: docmodel.RoleNone}, nil)

	action := docmodel.DocAction{Kind: docmodel.RemoveRecord, TableID: "T", RowIDs: []string{"1"}}
	out, err := Plan(ev, action, docmodel.TableSnapshot{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestAllowReadFastPathPassesThroughUnchanged(t *testing.T) {
	store := rules.NewStore()
	require.NoError(t, store.Rebuild(nil))
	ev := evaluator.New(store, &docmodel.UserInfo{Access: docmodel.RoleOwners}, nil)

	action := docmodel.DocAction{
		Kind: docmodel.UpdateRecord, TableID: "T", RowIDs: []string{"1"},
		Fields: map[string][]any{"x": {10}},
	}
	out, err := Plan(ev, action, docmodel.TableSnapshot{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, action, out[0])
}

func TestSchemaActionUnderRowRestrictionNeedsReload(t *testing.T) {
	ev := evaluator.New(ownerMatchStore(t), bob(), nil)
	require.Equal(t, lattice.Mixed, ev.TableVerdict("T").Get(lattice.BitRead))

	action := docmodel.DocAction{Kind: docmodel.RenameTable, TableID: "T"}
	out, err := Plan(ev, action, docmodel.TableSnapshot{})
	assert.ErrorIs(t, err, docmodel.ErrNeedReload)
	assert.Empty(t, out)
}

func TestSchemaActionTouchingForbiddenColumnUnderRowRestrictionIsDropped(t *testing.T) {
	store := rules.NewStore()
	require.NoError(t, store.Rebuild([]docmodel.RuleSet{
		{
			Scope: docmodel.Scope{TableID: "T"},
			Body: []docmodel.Rule{
				{
					Source: "rec.owner = user.Email",
					Predicate: func(in docmodel.MatchInput) (bool, error) {
						if in.Record == nil {
							return false, docmodel.ErrNeedsRow
						}
						return in.Record.Get("owner") == in.User.Email, nil
					},
					Delta: allowRead(),
				},
			},
		},
		{
			Scope: docmodel.Scope{TableID: "T", ColumnIDs: []string{"secretCol"}},
			Body: []docmodel.Rule{
				{Source: "deny everyone", Predicate: func(docmodel.MatchInput) (bool, error) { return true, nil }, Delta: denyRead()},
			},
		},
	}))
	ev := evaluator.New(store, bob(), nil)

	action := docmodel.DocAction{Kind: docmodel.RemoveColumn, TableID: "T", ColumnID: "secretCol"}
	out, err := Plan(ev, action, docmodel.TableSnapshot{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestPlanBundlePropagatesNeedReload(t *testing.T) {
	ev := evaluator.New(ownerMatchStore(t), bob(), nil)

	visible := docmodel.DocAction{
		Kind: docmodel.UpdateRecord, TableID: "T", RowIDs: []string{"2"},
		Fields: map[string][]any{"owner": {"bob"}},
	}
	reload := docmodel.DocAction{Kind: docmodel.RenameTable, TableID: "T"}

	snap := docmodel.TableSnapshot{
		Before: map[string]docmodel.Row{"2": {ID: "2", Values: map[string]any{"owner": "alice"}}},
		After:  map[string]docmodel.Row{"2": {ID: "2", Values: map[string]any{"owner": "bob"}}},
	}

	out, err := PlanBundle(ev, []docmodel.DocAction{visible, reload}, []docmodel.TableSnapshot{snap, {}})
	assert.ErrorIs(t, err, docmodel.ErrNeedReload)
	assert.Nil(t, out, "a need-reload mutation discards everything already planned for this bundle")
}
