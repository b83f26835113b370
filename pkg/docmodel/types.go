// Package docmodel defines the shared vocabulary of the access-control
// engine: permission sets, rules and rule sets, user and row records, and
// the document actions the engine inspects and rewrites. Nothing in this
// package talks to a store, a session, or a parser; those are ports
// (ports.go) implemented elsewhere.
package docmodel

import (
	"fmt"

	"github.com/wemcdonald/accessctl/pkg/lattice"
)

// PermissionSet is a PartialPermissionSet: a six-bit tuple where any bit
// may still be AllowSome/DenySome/Unset pending more information.
type PermissionSet = lattice.Vector

// MixedPermissionSet is a PermissionSet once every bit has resolved to
// {Allow, Deny, Mixed}.
type MixedPermissionSet = lattice.Vector

// TablePermissionSet is a MixedPermissionSet whose read bit may
// additionally be MixedColumns.
type TablePermissionSet = lattice.Vector

// AccessRole is the coarse role sessionAccess resolves a session to.
type AccessRole int

const (
	RoleNone AccessRole = iota
	RoleViewers
	RoleEditors
	RoleOwners
)

func (r AccessRole) String() string {
	switch r {
	case RoleOwners:
		return "owners"
	case RoleEditors:
		return "editors"
	case RoleViewers:
		return "viewers"
	default:
		return "none"
	}
}

// WildcardScope is the scope token meaning "every table" or "every
// column", depending on position.
const WildcardScope = "*"

// Scope identifies which part of the document a RuleSet governs.
type Scope struct {
	TableID   string
	ColumnIDs []string // empty means "every column" (wildcard)
}

// IsDocument reports whether this is the single document-wide scope.
func (s Scope) IsDocument() bool { return s.TableID == WildcardScope }

// IsWildcardColumns reports whether the scope covers every column of its table.
func (s Scope) IsWildcardColumns() bool { return len(s.ColumnIDs) == 0 }

// IsTableDefault reports whether this scope is a table's default (every
// column, one specific table).
func (s Scope) IsTableDefault() bool {
	return !s.IsDocument() && s.IsWildcardColumns()
}

// IsColumnScoped reports whether this scope names specific columns.
func (s Scope) IsColumnScoped() bool {
	return !s.IsDocument() && !s.IsWildcardColumns()
}

// Validate enforces the load-time invariant: a document-level scope must
// cover every column. scope = ("*", cols) ⇒ cols = "*".
func (s Scope) Validate() error {
	if s.IsDocument() && !s.IsWildcardColumns() {
		return &ConfigError{
			Code:    "INVALID_SCOPE",
			Message: fmt.Sprintf("document-level rule set cannot be column-scoped, got columns %v", s.ColumnIDs),
		}
	}
	return nil
}

// Row is a single record: a stable row id plus column values. A Row with
// nil Values behaves like the empty record view: every column read
// returns nil.
type Row struct {
	ID     string
	Values map[string]any
}

// Get returns the value of column col, or nil if absent.
func (r Row) Get(col string) any {
	if r.Values == nil {
		return nil
	}
	return r.Values[col]
}

// EmptyRow returns a row with the given id and every listed column bound
// to nil, the empty record view used when a characteristic-table lookup
// misses.
func EmptyRow(id string, columns []string) Row {
	values := make(map[string]any, len(columns))
	for _, c := range columns {
		values[c] = nil
	}
	return Row{ID: id, Values: values}
}

// UserInfo is the mutable per-session user record rules evaluate against.
// Attributes holds values contributed by UserAttributeRule resolution,
// keyed by rule name; built-in fields (access, userId, email, name) are
// looked up directly and cannot be overridden by an attribute of the same
// name.
type UserInfo struct {
	Access     AccessRole
	UserID     string
	Email      string
	Name       string
	Attributes map[string]any
}

// builtinUserFields lists the names an attribute rule may not use.
var builtinUserFields = map[string]bool{
	"access": true, "userid": true, "email": true, "name": true,
}

// IsBuiltinField reports whether name collides with a built-in UserInfo field.
func IsBuiltinField(name string) bool {
	return builtinUserFields[normalizeFieldName(name)]
}

func normalizeFieldName(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// Field resolves a single path segment against the user record: a
// built-in field by name, else an attribute.
func (u *UserInfo) Field(name string) (any, bool) {
	switch normalizeFieldName(name) {
	case "access":
		return u.Access, true
	case "userid":
		return u.UserID, true
	case "email":
		return u.Email, true
	case "name":
		return u.Name, true
	}
	if u.Attributes == nil {
		return nil, false
	}
	v, ok := u.Attributes[name]
	return v, ok
}

// SetAttribute binds name to value unless name collides with a built-in
// field, in which case the caller should log a warning and drop it.
func (u *UserInfo) SetAttribute(name string, value any) (dropped bool) {
	if IsBuiltinField(name) {
		return true
	}
	if u.Attributes == nil {
		u.Attributes = make(map[string]any)
	}
	u.Attributes[name] = value
	return false
}

// MatchInput is what a compiled rule predicate is evaluated against.
type MatchInput struct {
	User   *UserInfo
	Record *Row // nil means no record is available at this evaluation
}

// MatchPredicate is the compiled form of a rule's formula text. It
// returns (true/false, nil) on a normal decision, or (false, ErrNeedsRow)
// when the formula references record fields but MatchInput.Record is nil.
type MatchPredicate func(MatchInput) (bool, error)

// Rule is one entry in a RuleSet body.
type Rule struct {
	Predicate MatchPredicate
	Source    string
	Delta     PermissionSet
}

// RuleSet is a scoped, ordered list of rules plus a default permission set.
type RuleSet struct {
	Scope   Scope
	Body    []Rule
	Default PermissionSet
}

// UserAttributeRule enriches the session user record from a characteristic table.
type UserAttributeRule struct {
	Name         string
	SourceTable  string
	SourceColumn string
	LookupPath   string
}

// CharacteristicTable is a fully-loaded copy of a source table plus an
// index from normalized key to row.
type CharacteristicTable struct {
	Name    string
	Columns []string
	byKey   map[string]Row
}

// NewCharacteristicTable builds the key index eagerly at load time.
func NewCharacteristicTable(name string, columns []string, rows []Row, keyColumn string, normalize func(any) string) *CharacteristicTable {
	ct := &CharacteristicTable{Name: name, Columns: columns, byKey: make(map[string]Row, len(rows))}
	for _, row := range rows {
		key := normalize(row.Get(keyColumn))
		ct.byKey[key] = row
	}
	return ct
}

// Lookup returns the row bound to the normalized key, if any.
func (ct *CharacteristicTable) Lookup(key string) (Row, bool) {
	row, ok := ct.byKey[key]
	return row, ok
}

// EmptyView returns the empty record view for this table's shape.
func (ct *CharacteristicTable) EmptyView() Row {
	return EmptyRow("", ct.Columns)
}

// TableSnapshot is the before/after image of one table for a single
// mutation in a bundle, keyed by row id.
type TableSnapshot struct {
	Before map[string]Row
	After  map[string]Row
}

// RowSnapshotBundle holds one TableSnapshot per mutation in an outgoing
// bundle, in bundle order.
type RowSnapshotBundle struct {
	Snapshots []TableSnapshot
}
