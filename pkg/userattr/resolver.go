// Package userattr implements the User-Attribute Resolver: it loads
// characteristic tables for each configured UserAttributeRule and, at
// session evaluation time, enriches a UserInfo record with the rows those
// rules resolve to.
package userattr

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wemcdonald/accessctl/pkg/docmodel"
)

// Resolver holds the current set of UserAttributeRules and their loaded
// CharacteristicTables. Safe for concurrent Resolve calls; Load swaps the
// whole snapshot atomically under a mutex so a concurrent Resolve sees
// either the fully old or fully new rule set.
type Resolver struct {
	log *zap.Logger

	mu    sync.RWMutex
	rules []docmodel.UserAttributeRule
	tabs  map[string]*docmodel.CharacteristicTable
}

// NewResolver returns a Resolver with no rules loaded.
func NewResolver(log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{log: log, tabs: map[string]*docmodel.CharacteristicTable{}}
}

// Load fetches the source table for every UserAttributeRule, builds its
// CharacteristicTable, and installs the new rule set atomically. Duplicate
// rule names are a configuration error; the resolver's prior state is
// left untouched.
func (r *Resolver) Load(ctx context.Context, data docmodel.DocData, attrRules []docmodel.UserAttributeRule) error {
	seen := make(map[string]bool, len(attrRules))
	tabs := make(map[string]*docmodel.CharacteristicTable, len(attrRules))

	for _, ar := range attrRules {
		if seen[ar.Name] {
			return &docmodel.ConfigError{Code: "DUPLICATE_ATTRIBUTE_NAME", Message: "duplicate user-attribute rule name " + ar.Name}
		}
		seen[ar.Name] = true

		table, err := data.Table(ar.SourceTable)
		if err != nil {
			return &docmodel.ConfigError{Code: "ATTRIBUTE_SOURCE_MISSING", Message: "source table " + ar.SourceTable + " for attribute " + ar.Name, Err: err}
		}
		rows, err := table.Records(ctx)
		if err != nil {
			return &docmodel.ConfigError{Code: "ATTRIBUTE_LOAD_FAILED", Message: "loading characteristic table for " + ar.Name, Err: err}
		}
		tabs[ar.Name] = docmodel.NewCharacteristicTable(ar.Name, columnsOf(rows), rows, ar.SourceColumn, Normalize)
	}

	r.mu.Lock()
	r.rules = append([]docmodel.UserAttributeRule(nil), attrRules...)
	r.tabs = tabs
	r.mu.Unlock()
	return nil
}

func columnsOf(rows []docmodel.Row) []string {
	seen := map[string]bool{}
	var cols []string
	for _, row := range rows {
		for c := range row.Values {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	return cols
}

// Resolve enriches user in place, applying rules in registration order so
// a later rule's lookup path may reference an earlier rule's attribute.
func (r *Resolver) Resolve(user *docmodel.UserInfo) {
	r.mu.RLock()
	rules := r.rules
	tabs := r.tabs
	r.mu.RUnlock()

	for _, ar := range rules {
		val, ok := resolvePath(user, ar.LookupPath)
		if !ok {
			continue
		}
		table := tabs[ar.Name]
		if table == nil {
			continue
		}
		key := Normalize(val)
		row, found := table.Lookup(key)
		if !found {
			row = table.EmptyView()
		}
		if dropped := user.SetAttribute(ar.Name, row); dropped {
			r.log.Warn("user attribute name collides with a built-in field, dropping",
				zap.String("attribute", ar.Name))
		}
	}
}

// resolvePath resolves a dotted lookup path against the (already
// partially enriched) user record: the first segment is a built-in field
// or a previously-bound attribute, and later segments navigate into a
// map-shaped or Row-shaped value.
func resolvePath(user *docmodel.UserInfo, path string) (any, bool) {
	segments := strings.Split(path, ".")
	if len(segments) == 0 {
		return nil, false
	}
	v, ok := user.Field(segments[0])
	if !ok {
		return nil, false
	}
	for _, seg := range segments[1:] {
		switch cur := v.(type) {
		case map[string]any:
			v, ok = cur[seg]
			if !ok {
				return nil, false
			}
		case docmodel.Row:
			v = cur.Get(seg)
		default:
			return nil, false
		}
	}
	return v, true
}
