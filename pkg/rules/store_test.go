package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wemcdonald/accessctl/pkg/docmodel"
)

func alwaysTrue(docmodel.MatchInput) (bool, error) { return true, nil }

func TestNewStoreHasNoRulesButAlwaysHasDocDefault(t *testing.T) {
	s := NewStore()
	assert.False(t, s.HaveRules())
	require.NotNil(t, s.DocDefaultRuleSet())
	assert.Empty(t, s.AllTableIds())
}

func TestRebuildIndexesColumnAndTableDefaults(t *testing.T) {
	s := NewStore()
	err := s.Rebuild([]docmodel.RuleSet{
		{Scope: docmodel.Scope{TableID: "T", ColumnIDs: []string{"secret"}}, Body: []docmodel.Rule{{Predicate: alwaysTrue}}},
		{Scope: docmodel.Scope{TableID: "T"}},
	})
	require.NoError(t, err)
	assert.True(t, s.HaveRules())
	assert.NotNil(t, s.ColumnRuleSet("T", "secret"))
	assert.Nil(t, s.ColumnRuleSet("T", "other"))
	assert.NotNil(t, s.TableDefaultRuleSet("T"))
	assert.Equal(t, []string{"T"}, s.AllTableIds())
}

func TestRebuildRejectsDocScopeWithColumns(t *testing.T) {
	s := NewStore()
	err := s.Rebuild([]docmodel.RuleSet{
		{Scope: docmodel.Scope{TableID: "*", ColumnIDs: []string{"x"}}},
	})
	require.Error(t, err)
}

func TestRebuildRejectsDuplicateTableDefault(t *testing.T) {
	s := NewStore()
	err := s.Rebuild([]docmodel.RuleSet{
		{Scope: docmodel.Scope{TableID: "T"}},
		{Scope: docmodel.Scope{TableID: "T"}},
	})
	require.Error(t, err)
}

func TestRebuildRejectsDuplicateColumnRuleSet(t *testing.T) {
	s := NewStore()
	err := s.Rebuild([]docmodel.RuleSet{
		{Scope: docmodel.Scope{TableID: "T", ColumnIDs: []string{"c"}}},
		{Scope: docmodel.Scope{TableID: "T", ColumnIDs: []string{"c"}}},
	})
	require.Error(t, err)
}

func TestFailedRebuildKeepsPriorStore(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Rebuild([]docmodel.RuleSet{
		{Scope: docmodel.Scope{TableID: "T"}},
	}))
	require.NotNil(t, s.TableDefaultRuleSet("T"))

	err := s.Rebuild([]docmodel.RuleSet{
		{Scope: docmodel.Scope{TableID: "*", ColumnIDs: []string{"bad"}}},
	})
	require.Error(t, err)
	assert.NotNil(t, s.TableDefaultRuleSet("T"), "old store must remain in force after a failed rebuild")
}

func TestAllColumnRuleSetsDeduplicatesMultiColumnSet(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Rebuild([]docmodel.RuleSet{
		{Scope: docmodel.Scope{TableID: "T", ColumnIDs: []string{"a", "b"}}},
	}))
	assert.Len(t, s.AllColumnRuleSets("T"), 1)
}
