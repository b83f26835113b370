// Package evaluator implements the Permission Evaluator: given a
// session's user record and an optional record, it produces column-,
// table-, and document-level permission verdicts against the current
// Rule Store, with per-session memoization of the no-record case.
package evaluator

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wemcdonald/accessctl/pkg/docmodel"
	"github.com/wemcdonald/accessctl/pkg/lattice"
	"github.com/wemcdonald/accessctl/pkg/rules"
)

// Evaluator answers permission questions for one session against a
// borrowed Rule Store. It must not outlive the Store it was built from.
//
// The per-session memo caches, per *docmodel.RuleSet, the pre-layering
// PermissionSet that RuleSet's body and default evaluate to with no
// record bound. ToMixed is applied exactly once, after every layer
// (column, then table default, then doc default) has been merged; see
// DESIGN.md for why.
type Evaluator struct {
	store *rules.Store
	user  *docmodel.UserInfo
	log   *zap.Logger

	rec *docmodel.Row // nil for the memoized, no-record evaluator

	mu   sync.Mutex
	memo map[*docmodel.RuleSet]docmodel.PermissionSet
}

// New returns an Evaluator for user against store. log may be nil.
func New(store *rules.Store, user *docmodel.UserInfo, log *zap.Logger) *Evaluator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Evaluator{store: store, user: user, log: log}
}

// ForRecord returns a short-lived evaluator bound to rec, sharing this
// evaluator's store, user and logger but with no memo of its own: per
// spec.md §5, per-record evaluation is never cached because the record
// permeates every rule's cache key.
func (e *Evaluator) ForRecord(rec *docmodel.Row) *Evaluator {
	return &Evaluator{store: e.store, user: e.user, log: e.log, rec: rec}
}

// evaluateRuleSet evaluates rs's body and default into a
// PermissionSet, consulting and populating the no-record memo when
// this evaluator has no record bound.
func (e *Evaluator) evaluateRuleSet(rs *docmodel.RuleSet) docmodel.PermissionSet {
	if rs == nil {
		return lattice.Empty()
	}
	if e.rec == nil {
		e.mu.Lock()
		v, ok := e.memo[rs]
		e.mu.Unlock()
		if ok {
			return v
		}
	}
	result := e.evaluateBody(rs)
	if e.rec == nil {
		e.mu.Lock()
		if e.memo == nil {
			e.memo = make(map[*docmodel.RuleSet]docmodel.PermissionSet)
		}
		e.memo[rs] = result
		e.mu.Unlock()
	}
	return result
}

// evaluateBody iterates rs.Body in order, merging the delta of every
// matching rule into the accumulator (earlier matches dominate, per
// lattice.Merge), then merges rs.Default as the lowest-precedence
// fallback.
func (e *Evaluator) evaluateBody(rs *docmodel.RuleSet) docmodel.PermissionSet {
	acc := lattice.Empty()
	for _, rule := range rs.Body {
		if matched, delta := e.evaluateRule(rule); matched {
			acc = lattice.Merge(acc, delta)
		}
	}
	return lattice.Merge(acc, rs.Default)
}

// evaluateRule runs one rule's predicate and reports whether it matched
// and, if so, the delta to merge. A needs-row signal is treated as
// match-with-partial-evidence: the delta's allow/deny bits downgrade to
// allowSome/denySome. Every other predicate error, and any panic, is
// logged at warn and treated as a non-match: a rule must never crash a
// broadcast.
func (e *Evaluator) evaluateRule(rule docmodel.Rule) (matched bool, delta docmodel.PermissionSet) {
	input := docmodel.MatchInput{User: e.user, Record: e.rec}
	ok, err := e.invokePredicate(rule.Predicate, input)
	switch {
	case err == nil:
		if !ok {
			return false, lattice.Empty()
		}
		return true, rule.Delta
	case errors.Is(err, docmodel.ErrNeedsRow):
		return true, lattice.Downgrade(rule.Delta)
	default:
		e.log.Warn("rule predicate error, treating as non-match",
			zap.String("source", rule.Source), zap.Error(err))
		return false, lattice.Empty()
	}
}

// invokePredicate calls pred, recovering a panic into an error so one
// malformed rule cannot bring down the whole evaluation.
func (e *Evaluator) invokePredicate(pred docmodel.MatchPredicate, input docmodel.MatchInput) (matched bool, err error) {
	if pred == nil {
		return false, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule predicate panicked: %v", r)
		}
	}()
	return pred(input)
}

// ColumnVerdict returns the fully layered (column -> table default ->
// doc default) MixedPermissionSet for one column.
func (e *Evaluator) ColumnVerdict(tableID, colID string) docmodel.MixedPermissionSet {
	colRS := e.store.ColumnRuleSet(tableID, colID)
	chain := lattice.MergeAll(
		e.evaluateRuleSet(colRS),
		e.evaluateRuleSet(e.store.TableDefaultRuleSet(tableID)),
		e.evaluateRuleSet(e.store.DocDefaultRuleSet()),
	)
	return lattice.ToMixed(chain)
}

// tableDefaultVerdict returns the table's own default, layered with the
// doc default as its fallback: the item foldTable consults alongside
// each column's own (unlayered) verdict when computing a table verdict.
// It is deliberately left un-mixed: FoldTable's own bit-fold functions
// already treat a lingering AllowSome/DenySome as "not yet resolved"
// and poison the fold to Mixed, which is how a needs-row downgrade on
// one column surfaces as a mixed table verdict without a record bound.
func (e *Evaluator) tableDefaultVerdict(tableID string) docmodel.PermissionSet {
	return lattice.MergeAll(
		e.evaluateRuleSet(e.store.TableDefaultRuleSet(tableID)),
		e.evaluateRuleSet(e.store.DocDefaultRuleSet()),
	)
}

// columnOnlyVerdict returns a column RuleSet's own verdict, with no
// fallback to the table or doc default and, deliberately, no ToMixed:
// this is the value TableVerdict folds against its siblings to decide
// whether the table's columns agree, and an unresolved partial must
// still read as unresolved at fold time.
func (e *Evaluator) columnOnlyVerdict(rs *docmodel.RuleSet) docmodel.PermissionSet {
	return e.evaluateRuleSet(rs)
}

// TableVerdict aggregates every column RuleSet on tableID plus the
// table's own default (layered with the doc default) via FoldTable.
func (e *Evaluator) TableVerdict(tableID string) docmodel.TablePermissionSet {
	colSets := e.store.AllColumnRuleSets(tableID)
	verdicts := make([]docmodel.PermissionSet, 0, len(colSets)+1)
	for _, rs := range colSets {
		verdicts = append(verdicts, e.columnOnlyVerdict(rs))
	}
	verdicts = append(verdicts, e.tableDefaultVerdict(tableID))
	return lattice.FoldTable(verdicts)
}

// docDefaultVerdict returns the doc default's own verdict, with no
// fallback and no ToMixed: the item DocumentVerdict folds against
// every table's verdict.
func (e *Evaluator) docDefaultVerdict() docmodel.PermissionSet {
	return e.evaluateRuleSet(e.store.DocDefaultRuleSet())
}

// DocumentVerdict folds every table's verdict plus the doc default.
func (e *Evaluator) DocumentVerdict() docmodel.MixedPermissionSet {
	tableIDs := e.store.AllTableIds()
	verdicts := make([]docmodel.MixedPermissionSet, 0, len(tableIDs)+1)
	for _, t := range tableIDs {
		verdicts = append(verdicts, e.TableVerdict(t))
	}
	verdicts = append(verdicts, e.docDefaultVerdict())
	return lattice.FoldTable(verdicts)
}

// RowReadVerdict evaluates tableID's read bit with row bound as the
// record, per the row-mixed slow path in the Row-Transition Planner.
func (e *Evaluator) RowReadVerdict(tableID string, row docmodel.Row) lattice.Value {
	return e.ForRecord(&row).TableVerdict(tableID).Get(lattice.BitRead)
}

// ColumnVerdictForRow evaluates one column's verdict with row bound as
// the record, for cell-level censoring.
func (e *Evaluator) ColumnVerdictForRow(tableID, colID string, row docmodel.Row) docmodel.MixedPermissionSet {
	return e.ForRecord(&row).ColumnVerdict(tableID, colID)
}

// User returns the evaluator's bound user record.
func (e *Evaluator) User() *docmodel.UserInfo { return e.user }
