package docmodel

// censoredCell is the distinguished sentinel cell censoring writes in
// place of a value the recipient may not read in full.
type censoredCell struct{}

// CensoredCell is the value cell censoring substitutes for a cell whose
// per-row read verdict is not allow. It is a distinct, comparable value
// so a client can detect it without risk of colliding with real data.
var CensoredCell = censoredCell{}

func (censoredCell) String() string { return "<censored>" }

// DocAction is a single mutation targeting one table, in the shape the
// Row-Transition Planner and Metadata Censor operate on. Fields is
// column id -> per-row values, positionally aligned with RowIDs; it is
// absent for Remove actions.
type DocAction struct {
	Kind     DocActionKind
	TableID  string
	RowIDs   []string
	Fields   map[string][]any

	// Schema-action payload.
	ColumnID string
	Payload  map[string]any

	// Wrapped action payload (ApplyUndoActions / ApplyDocActions).
	Nested []DocAction
}

// NumRows returns how many rows this action touches.
func (a DocAction) NumRows() int { return len(a.RowIDs) }

// IsEmpty reports whether a record-shaped action has nothing left to send.
func (a DocAction) IsEmpty() bool {
	if a.Kind.IsWrapped() {
		return len(a.Nested) == 0
	}
	if a.Kind.IsRecordAction() {
		return len(a.RowIDs) == 0
	}
	return false
}

// RowValues returns the column values for the row at position i.
func (a DocAction) RowValues(i int) map[string]any {
	out := make(map[string]any, len(a.Fields))
	for col, vals := range a.Fields {
		if i < len(vals) {
			out[col] = vals[i]
		}
	}
	return out
}

// Clone deep-copies the mutable parts of a DocAction so callers may
// rewrite a copy without aliasing the original.
func (a DocAction) Clone() DocAction {
	out := a
	if a.RowIDs != nil {
		out.RowIDs = append([]string(nil), a.RowIDs...)
	}
	if a.Fields != nil {
		out.Fields = make(map[string][]any, len(a.Fields))
		for col, vals := range a.Fields {
			out.Fields[col] = append([]any(nil), vals...)
		}
	}
	if a.Payload != nil {
		out.Payload = make(map[string]any, len(a.Payload))
		for k, v := range a.Payload {
			out.Payload[k] = v
		}
	}
	if a.Nested != nil {
		out.Nested = make([]DocAction, len(a.Nested))
		for i, n := range a.Nested {
			out.Nested[i] = n.Clone()
		}
	}
	return out
}

// FilterRows returns a copy keeping only rows for which keep returns true.
func (a DocAction) FilterRows(keep func(rowID string, i int) bool) DocAction {
	out := a.Clone()
	out.RowIDs = nil
	newFields := make(map[string][]any, len(a.Fields))
	for col := range a.Fields {
		newFields[col] = nil
	}
	for i, id := range a.RowIDs {
		if !keep(id, i) {
			continue
		}
		out.RowIDs = append(out.RowIDs, id)
		for col, vals := range a.Fields {
			var v any
			if i < len(vals) {
				v = vals[i]
			}
			newFields[col] = append(newFields[col], v)
		}
	}
	out.Fields = newFields
	return out
}

// DropColumns returns a copy with every column for which drop returns
// true removed from Fields.
func (a DocAction) DropColumns(drop func(colID string) bool) DocAction {
	out := a.Clone()
	newFields := make(map[string][]any, len(a.Fields))
	for col, vals := range a.Fields {
		if drop(col) {
			continue
		}
		newFields[col] = vals
	}
	out.Fields = newFields
	return out
}

// WithRowValue overwrites the value of column col on row index i, growing
// Fields[col] if needed. Used by cell censoring.
func (a *DocAction) WithRowValue(i int, col string, value any) {
	if a.Fields == nil {
		a.Fields = make(map[string][]any)
	}
	vals := a.Fields[col]
	for len(vals) <= i {
		vals = append(vals, nil)
	}
	vals[i] = value
	a.Fields[col] = vals
}

// NewAddAction builds a bulk-add DocAction carrying the full post-state of
// the given rows, used by the Row-Transition Planner's synthetic adds.
func NewAddAction(tableID string, rows []Row) DocAction {
	ids := make([]string, len(rows))
	fields := make(map[string][]any)
	for i, r := range rows {
		ids[i] = r.ID
		for col, v := range r.Values {
			for len(fields[col]) < i {
				fields[col] = append(fields[col], nil)
			}
			fields[col] = append(fields[col], v)
		}
	}
	kind := AddRecord
	if len(rows) != 1 {
		kind = BulkAddRecord
	}
	return DocAction{Kind: kind, TableID: tableID, RowIDs: ids, Fields: fields}
}

// NewRemoveAction builds a bulk-remove DocAction for the given row ids,
// used by the Row-Transition Planner's synthetic removes.
func NewRemoveAction(tableID string, rowIDs []string) DocAction {
	kind := RemoveRecord
	if len(rowIDs) != 1 {
		kind = BulkRemoveRecord
	}
	return DocAction{Kind: kind, TableID: tableID, RowIDs: append([]string(nil), rowIDs...)}
}
