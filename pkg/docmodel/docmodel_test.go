package docmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeValidateRejectsDocLevelColumns(t *testing.T) {
	s := Scope{TableID: WildcardScope, ColumnIDs: []string{"a"}}
	err := s.Validate()
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestScopeClassification(t *testing.T) {
	doc := Scope{TableID: "*"}
	assert.True(t, doc.IsDocument())

	tableDefault := Scope{TableID: "T"}
	assert.True(t, tableDefault.IsTableDefault())
	assert.False(t, tableDefault.IsColumnScoped())

	colScoped := Scope{TableID: "T", ColumnIDs: []string{"c1"}}
	assert.True(t, colScoped.IsColumnScoped())
}

func TestUserInfoBuiltinFieldsWin(t *testing.T) {
	u := &UserInfo{Email: "bob@example.com"}
	dropped := u.SetAttribute("Email", "attacker@example.com")
	assert.True(t, dropped)
	v, ok := u.Field("Email")
	assert.True(t, ok)
	assert.Equal(t, "bob@example.com", v)
}

func TestUserInfoCustomAttribute(t *testing.T) {
	u := &UserInfo{}
	dropped := u.SetAttribute("Department", map[string]any{"id": 3})
	assert.False(t, dropped)
	v, ok := u.Field("Department")
	require.True(t, ok)
	assert.Equal(t, 3, v.(map[string]any)["id"])
}

func TestDocActionFilterRowsPreservesAlignment(t *testing.T) {
	a := DocAction{
		Kind:    BulkAddRecord,
		TableID: "T",
		RowIDs:  []string{"1", "2", "3"},
		Fields: map[string][]any{
			"pub": {"a", "b", "c"},
			"sec": {"x", "y", "z"},
		},
	}
	kept := a.FilterRows(func(rowID string, i int) bool { return rowID != "2" })
	assert.Equal(t, []string{"1", "3"}, kept.RowIDs)
	assert.Equal(t, []any{"a", "c"}, kept.Fields["pub"])
	assert.Equal(t, []any{"x", "z"}, kept.Fields["sec"])
}

func TestDocActionDropColumns(t *testing.T) {
	a := DocAction{
		Kind:    BulkAddRecord,
		TableID: "T",
		RowIDs:  []string{"1", "2"},
		Fields: map[string][]any{
			"pub": {"a", "b"},
			"sec": {"x", "y"},
		},
	}
	pruned := a.DropColumns(func(col string) bool { return col == "sec" })
	_, hasSec := pruned.Fields["sec"]
	assert.False(t, hasSec)
	assert.Equal(t, []any{"a", "b"}, pruned.Fields["pub"])
}

func TestCharacteristicTableLookupMiss(t *testing.T) {
	ct := NewCharacteristicTable("Depts", []string{"id", "name"}, []Row{
		{ID: "1", Values: map[string]any{"id": "1", "name": "Eng"}},
	}, "id", func(v any) string { return v.(string) })

	_, ok := ct.Lookup("missing")
	assert.False(t, ok)
	view := ct.EmptyView()
	assert.Nil(t, view.Get("name"))
}
