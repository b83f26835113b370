package docmodel

import "context"

// SessionHandle is an opaque identifier for a connected session. The
// engine never inspects it, it is only a cache key and the argument
// passed to the session ports below.
type SessionHandle string

// UserIdentity is the minimal identity sessionUser resolves a session to.
type UserIdentity struct {
	ID    string
	Email string
	Name  string
}

// SessionAccess resolves a session to its coarse access role.
type SessionAccess func(session SessionHandle) (AccessRole, error)

// SessionUser resolves a session to its user identity, or nil if the
// session has none (e.g. an anonymous link share).
type SessionUser func(session SessionHandle) (*UserIdentity, error)

// TableReader is the read-only view of one table's current contents that
// docData exposes.
type TableReader interface {
	Records(ctx context.Context) ([]Row, error)
	FindRow(ctx context.Context, col string, value any) (Row, bool, error)
}

// DocData is a query interface over the document's current table
// contents, used by the User-Attribute Resolver to load characteristic
// tables and by rule predicates that need to resolve a lookup.
type DocData interface {
	Table(tableID string) (TableReader, error)
}

// StoreQuery selects exactly the rows a RowSnapshotBundle needs from the
// authoritative store: one table, a specific set of row ids.
type StoreQuery struct {
	TableID string
	RowIDs  []string
}

// Store is the authoritative document store's async fetch surface. The
// Broadcast Coordinator uses it to pull a table's pre-bundle state.
type Store interface {
	FetchRows(ctx context.Context, q StoreQuery) (map[string]Row, error)
}

// CompileRule turns a rule's source formula text into a MatchPredicate.
type CompileRule func(source string) (MatchPredicate, error)
