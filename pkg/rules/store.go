// Package rules implements the Rule Store: an indexed, atomically-swapped
// collection of compiled RuleSets keyed by (table, column) scope.
package rules

import (
	"sort"
	"sync/atomic"

	"github.com/wemcdonald/accessctl/pkg/docmodel"
)

// index is the immutable snapshot a Store atomically swaps in. Every
// lookup reads through the pointer once, so a concurrent rebuild is
// either fully visible or not visible at all, never torn.
type index struct {
	columnRuleSets map[string]map[string]*docmodel.RuleSet // tableID -> colID -> ruleset
	tableDefaults  map[string]*docmodel.RuleSet             // tableID -> ruleset
	docDefault     *docmodel.RuleSet
	tableIDs       []string
	haveRules      bool
}

func emptyIndex() *index {
	return &index{
		columnRuleSets: map[string]map[string]*docmodel.RuleSet{},
		tableDefaults:  map[string]*docmodel.RuleSet{},
		docDefault:     &docmodel.RuleSet{Scope: docmodel.Scope{TableID: docmodel.WildcardScope}, Body: builtinDocDefaultRules()},
		haveRules:      false,
	}
}

// Store is the Rule Store. The zero value is not usable; use NewStore.
type Store struct {
	ptr atomic.Pointer[index]
}

// NewStore returns a Store with no user-authored rules: every read/write
// short-circuits via HaveRules() == false until the first Rebuild.
func NewStore() *Store {
	s := &Store{}
	s.ptr.Store(emptyIndex())
	return s
}

// Rebuild replaces the Store's contents atomically. On a configuration
// error the old index remains in force and the error is returned.
func (s *Store) Rebuild(ruleSets []docmodel.RuleSet) error {
	idx, err := build(ruleSets)
	if err != nil {
		return err
	}
	s.ptr.Store(idx)
	return nil
}

func (s *Store) current() *index { return s.ptr.Load() }

// ColumnRuleSet returns the exact column-scoped RuleSet for (tableID,
// colID), if one exists.
func (s *Store) ColumnRuleSet(tableID, colID string) *docmodel.RuleSet {
	cols := s.current().columnRuleSets[tableID]
	if cols == nil {
		return nil
	}
	return cols[colID]
}

// AllColumnRuleSets returns every column-scoped RuleSet on tableID,
// de-duplicated (a RuleSet spanning several columns is returned once).
func (s *Store) AllColumnRuleSets(tableID string) []*docmodel.RuleSet {
	cols := s.current().columnRuleSets[tableID]
	if cols == nil {
		return nil
	}
	seen := make(map[*docmodel.RuleSet]bool, len(cols))
	out := make([]*docmodel.RuleSet, 0, len(cols))
	colIDs := make([]string, 0, len(cols))
	for c := range cols {
		colIDs = append(colIDs, c)
	}
	sort.Strings(colIDs)
	for _, c := range colIDs {
		rs := cols[c]
		if seen[rs] {
			continue
		}
		seen[rs] = true
		out = append(out, rs)
	}
	return out
}

// TableDefaultRuleSet returns tableID's default RuleSet, if any.
func (s *Store) TableDefaultRuleSet(tableID string) *docmodel.RuleSet {
	return s.current().tableDefaults[tableID]
}

// DocDefaultRuleSet returns the single document-default RuleSet, which
// always exists (synthesized with the built-in owner/editor/viewer rules
// even when no user rule touches it).
func (s *Store) DocDefaultRuleSet() *docmodel.RuleSet {
	return s.current().docDefault
}

// AllTableIds returns every table id that has at least one rule set,
// sorted for determinism.
func (s *Store) AllTableIds() []string {
	return append([]string(nil), s.current().tableIDs...)
}

// HaveRules reports whether any user-authored rule set exists. When
// false, callers should skip row/column filtering entirely.
func (s *Store) HaveRules() bool {
	return s.current().haveRules
}

// build validates and indexes a flat list of RuleSets into an index.
func build(ruleSets []docmodel.RuleSet) (*index, error) {
	idx := emptyIndex()
	haveUserRules := false
	tableSet := map[string]bool{}

	var docDefaultSeen bool
	for _, rsCopy := range ruleSets {
		rs := rsCopy
		if err := rs.Scope.Validate(); err != nil {
			return nil, err
		}
		switch {
		case rs.Scope.IsDocument():
			if docDefaultSeen {
				return nil, &docmodel.ConfigError{Code: "DUPLICATE_DOC_DEFAULT", Message: "only one document-default rule set is permitted"}
			}
			docDefaultSeen = true
			merged := rs
			merged.Body = append(append([]docmodel.Rule(nil), rs.Body...), builtinDocDefaultRules()...)
			idx.docDefault = &merged
			haveUserRules = haveUserRules || len(rs.Body) > 0
		case rs.Scope.IsTableDefault():
			if _, exists := idx.tableDefaults[rs.Scope.TableID]; exists {
				return nil, &docmodel.ConfigError{Code: "DUPLICATE_TABLE_DEFAULT", Message: "duplicate table-default rule set for table " + rs.Scope.TableID}
			}
			idx.tableDefaults[rs.Scope.TableID] = &rs
			tableSet[rs.Scope.TableID] = true
			haveUserRules = true
		default: // column-scoped
			cols := idx.columnRuleSets[rs.Scope.TableID]
			if cols == nil {
				cols = map[string]*docmodel.RuleSet{}
				idx.columnRuleSets[rs.Scope.TableID] = cols
			}
			for _, col := range rs.Scope.ColumnIDs {
				if _, exists := cols[col]; exists {
					return nil, &docmodel.ConfigError{Code: "DUPLICATE_COLUMN_RULESET", Message: "duplicate column rule set for " + rs.Scope.TableID + "." + col}
				}
				cols[col] = &rs
			}
			tableSet[rs.Scope.TableID] = true
			haveUserRules = true
		}
	}

	idx.haveRules = haveUserRules
	idx.tableIDs = make([]string, 0, len(tableSet))
	for t := range tableSet {
		idx.tableIDs = append(idx.tableIDs, t)
	}
	sort.Strings(idx.tableIDs)
	return idx, nil
}
