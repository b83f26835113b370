// Package censor implements the Metadata Censor: it rewrites the five
// system metadata tables (Tables, Views, Views_section,
// Views_section_field, Tables_column) to hide names and links to
// forbidden objects, per spec.md §4.5. Censoring overwrites rows rather
// than deleting them, so row identity and table shape survive for the
// client; only the fields a forbidden object's name or formula would
// leak are blanked or zeroed.
package censor

import (
	"github.com/wemcdonald/accessctl/pkg/docmodel"
	"github.com/wemcdonald/accessctl/pkg/lattice"
)

// UniversalType is the type every censored column's Type field coerces
// to, so a client cannot infer a forbidden column's shape from its type.
const UniversalType = "any"

// Verdicts is the subset of the Permission Evaluator's contract the
// censor needs: table- and column-level read verdicts for one session.
type Verdicts interface {
	TableVerdict(tableID string) docmodel.TablePermissionSet
	ColumnVerdict(tableID, colID string) docmodel.MixedPermissionSet
}

// TableRow is one row of the Tables system metadata table.
type TableRow struct {
	ID      string
	TableID string
	Name    string
}

// ColumnRow is one row of the Tables_column system metadata table.
type ColumnRow struct {
	ID            string
	ParentID      string // owning table id
	ColID         string
	Label         string
	Formula       string
	WidgetOptions string
	Filter        string
	Type          string
}

// ViewRow is one row of the Views system metadata table.
type ViewRow struct {
	ID   string
	Name string
}

// SectionRow is one row of the Views_section system metadata table.
type SectionRow struct {
	ID       string
	ParentID string // owning view id
	TableID  string // table this section displays
	Title    string
}

// FieldRow is one row of the Views_section_field system metadata table.
type FieldRow struct {
	ID       string
	ParentID string // owning section id
	ColID    string
	Label    string
}

// MetaTables bundles the five system metadata tables filterMetaTables
// operates on.
type MetaTables struct {
	Tables   []TableRow
	Columns  []ColumnRow
	Views    []ViewRow
	Sections []SectionRow
	Fields   []FieldRow
}

type columnKey struct {
	tableID string
	colID   string
}

// Filter censors meta in place for the given verdicts, applying
// spec.md §4.5's five-step policy, and returns meta for convenience.
// Filter is idempotent: a second pass finds nothing new to censor,
// because censored rows already carry the blanked/zeroed values the
// policy would write again.
func Filter(v Verdicts, meta *MetaTables) *MetaTables {
	forbiddenTables := forbiddenTableSet(v, meta.Tables)
	forbiddenColumns := forbiddenColumnSet(v, meta.Columns, forbiddenTables)

	censoredSections, censoredViews := censorSections(meta.Sections, forbiddenTables)
	censorColumns(meta.Columns, forbiddenTables, forbiddenColumns)
	censorFields(meta.Fields, meta.Sections, censoredSections, forbiddenTables, forbiddenColumns)
	censorTables(meta.Tables, forbiddenTables)
	censorSectionRows(meta.Sections, censoredSections)
	censorViews(meta.Views, censoredViews)

	return meta
}

func forbiddenTableSet(v Verdicts, tables []TableRow) map[string]bool {
	out := make(map[string]bool, len(tables))
	for _, t := range tables {
		if v.TableVerdict(t.TableID).Get(lattice.BitRead) == lattice.Deny {
			out[t.TableID] = true
		}
	}
	return out
}

// forbiddenColumnSet finds columns whose own read verdict is deny,
// within tables that are not already wholly forbidden (a table-level
// deny already covers every one of its columns).
func forbiddenColumnSet(v Verdicts, columns []ColumnRow, forbiddenTables map[string]bool) map[columnKey]bool {
	out := map[columnKey]bool{}
	for _, c := range columns {
		if forbiddenTables[c.ParentID] {
			continue
		}
		if v.ColumnVerdict(c.ParentID, c.ColID).Get(lattice.BitRead) == lattice.Deny {
			out[columnKey{c.ParentID, c.ColID}] = true
		}
	}
	return out
}

// censorSections marks every section referencing a forbidden table, and
// that section's parent view, as censored.
func censorSections(sections []SectionRow, forbiddenTables map[string]bool) (censoredSections, censoredViews map[string]bool) {
	censoredSections = map[string]bool{}
	censoredViews = map[string]bool{}
	for _, s := range sections {
		if forbiddenTables[s.TableID] {
			censoredSections[s.ID] = true
			censoredViews[s.ParentID] = true
		}
	}
	return censoredSections, censoredViews
}

// censorColumns blanks every column row whose parent table is forbidden
// or whose own (table, col) pair is forbidden.
func censorColumns(columns []ColumnRow, forbiddenTables map[string]bool, forbiddenColumns map[columnKey]bool) {
	for i := range columns {
		c := &columns[i]
		if forbiddenTables[c.ParentID] || forbiddenColumns[columnKey{c.ParentID, c.ColID}] {
			c.Label = ""
			c.Formula = ""
			c.WidgetOptions = ""
			c.Filter = ""
			c.Type = UniversalType
			c.ParentID = ""
		}
	}
}

// censorFields blanks every field whose section is censored, or whose
// column reference (resolved via the field's section's table) is
// forbidden.
func censorFields(fields []FieldRow, sections []SectionRow, censoredSections map[string]bool, forbiddenTables map[string]bool, forbiddenColumns map[columnKey]bool) {
	sectionByID := make(map[string]SectionRow, len(sections))
	for _, s := range sections {
		sectionByID[s.ID] = s
	}

	for i := range fields {
		f := &fields[i]
		censored := censoredSections[f.ParentID]
		if !censored {
			if sec, ok := sectionByID[f.ParentID]; ok {
				censored = forbiddenTables[sec.TableID] || forbiddenColumns[columnKey{sec.TableID, f.ColID}]
			}
		}
		if censored {
			f.Label = ""
			f.ColID = ""
		}
	}
}

func censorTables(tables []TableRow, forbiddenTables map[string]bool) {
	for i := range tables {
		t := &tables[i]
		if forbiddenTables[t.TableID] {
			t.TableID = ""
			t.Name = ""
		}
	}
}

func censorSectionRows(sections []SectionRow, censoredSections map[string]bool) {
	for i := range sections {
		s := &sections[i]
		if censoredSections[s.ID] {
			s.Title = ""
			s.TableID = ""
		}
	}
}

func censorViews(views []ViewRow, censoredViews map[string]bool) {
	for i := range views {
		v := &views[i]
		if censoredViews[v.ID] {
			v.Name = ""
		}
	}
}
