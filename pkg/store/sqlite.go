// Package store implements the docData/Store adapters named in spec.md
// §6: a SQLite-backed reader over the document's current table contents,
// and the authoritative fetch surface the Broadcast Coordinator uses to
// pull a table's pre-bundle state.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/wemcdonald/accessctl/pkg/docmodel"
)

// IDColumn is the column every document table is expected to carry as
// its stable row identity.
const IDColumn = "id"

// SQLiteStore is a docData/Store implementation backed by a SQLite
// database file. Every exported table maps 1:1 onto a SQL table.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path.
func Open(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, &docmodel.ConfigError{Code: "INVALID_CONFIG", Message: "database path is required"}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, &docmodel.ConfigError{Code: "DB_OPEN_FAILED", Message: "failed to open database", Err: err}
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Exec runs a statement directly against the underlying database. It
// exists for callers (tests, cmd/accessctl) that need to seed or shape
// tables; schema migration itself is out of scope (spec.md §1) and not
// implemented here.
func (s *SQLiteStore) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

// Table returns a TableReader over tableID. The table must already
// exist; schema creation and migration are out of scope (spec.md §1).
func (s *SQLiteStore) Table(tableID string) (docmodel.TableReader, error) {
	var name string
	err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, tableID).Scan(&name)
	if err == sql.ErrNoRows {
		return nil, &docmodel.ConfigError{Code: "TABLE_NOT_FOUND", Message: "no such table " + tableID}
	}
	if err != nil {
		return nil, &docmodel.ConfigError{Code: "TABLE_LOOKUP_FAILED", Message: "looking up table " + tableID, Err: err}
	}
	return &sqliteTable{db: s.db, tableID: tableID}, nil
}

// FetchRows implements docmodel.Store: an authoritative fetch of
// exactly the rows named in q, keyed by row id. Used by the Broadcast
// Coordinator's snapshot builder to pull a table's pre-bundle state.
func (s *SQLiteStore) FetchRows(ctx context.Context, q docmodel.StoreQuery) (map[string]docmodel.Row, error) {
	if len(q.RowIDs) == 0 {
		return map[string]docmodel.Row{}, nil
	}
	placeholders := make([]byte, 0, len(q.RowIDs)*2)
	args := make([]any, 0, len(q.RowIDs))
	for i, id := range q.RowIDs {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id)
	}
	query := fmt.Sprintf(`SELECT * FROM %s WHERE %s IN (%s)`, quoteIdent(q.TableID), IDColumn, string(placeholders))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &docmodel.ConfigError{Code: "FETCH_FAILED", Message: "fetching rows from " + q.TableID, Err: err}
	}
	defer rows.Close()

	out := make(map[string]docmodel.Row, len(q.RowIDs))
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, &docmodel.ConfigError{Code: "FETCH_FAILED", Message: "scanning row from " + q.TableID, Err: err}
		}
		out[row.ID] = row
	}
	return out, rows.Err()
}

type sqliteTable struct {
	db      *sql.DB
	tableID string
}

// Records returns every row in the table.
func (t *sqliteTable) Records(ctx context.Context) ([]docmodel.Row, error) {
	rows, err := t.db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %s`, quoteIdent(t.tableID)))
	if err != nil {
		return nil, &docmodel.ConfigError{Code: "QUERY_FAILED", Message: "listing " + t.tableID, Err: err}
	}
	defer rows.Close()

	var out []docmodel.Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, &docmodel.ConfigError{Code: "QUERY_FAILED", Message: "scanning " + t.tableID, Err: err}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// FindRow returns the first row where col = value, if any.
func (t *sqliteTable) FindRow(ctx context.Context, col string, value any) (docmodel.Row, bool, error) {
	query := fmt.Sprintf(`SELECT * FROM %s WHERE %s = ? LIMIT 1`, quoteIdent(t.tableID), quoteIdent(col))
	rows, err := t.db.QueryContext(ctx, query, value)
	if err != nil {
		return docmodel.Row{}, false, &docmodel.ConfigError{Code: "QUERY_FAILED", Message: "finding row in " + t.tableID, Err: err}
	}
	defer rows.Close()

	if !rows.Next() {
		return docmodel.Row{}, false, rows.Err()
	}
	row, err := scanRow(rows)
	if err != nil {
		return docmodel.Row{}, false, &docmodel.ConfigError{Code: "QUERY_FAILED", Message: "scanning row in " + t.tableID, Err: err}
	}
	return row, true, nil
}

// scanRow scans the current row of rows into a docmodel.Row, using the
// IDColumn value (stringified) as the row's id.
func scanRow(rows *sql.Rows) (docmodel.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return docmodel.Row{}, err
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return docmodel.Row{}, err
	}

	values := make(map[string]any, len(cols))
	var id string
	for i, col := range cols {
		v := normalizeScanned(vals[i])
		values[col] = v
		if col == IDColumn {
			id = fmt.Sprint(v)
		}
	}
	return docmodel.Row{ID: id, Values: values}, nil
}

// normalizeScanned converts driver-native []byte (SQLite returns TEXT
// columns this way through mattn/go-sqlite3) into string, leaving every
// other driver value type as-is.
func normalizeScanned(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func quoteIdent(id string) string {
	return `"` + id + `"`
}
