package censor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wemcdonald/accessctl/pkg/docmodel"
	"github.com/wemcdonald/accessctl/pkg/lattice"
)

type fakeVerdicts struct {
	deniedTables  map[string]bool
	deniedColumns map[columnKey]bool
}

func (f fakeVerdicts) TableVerdict(tableID string) docmodel.TablePermissionSet {
	v := lattice.Empty()
	if f.deniedTables[tableID] {
		return v.With(lattice.BitRead, lattice.Deny)
	}
	return v.With(lattice.BitRead, lattice.Allow)
}

func (f fakeVerdicts) ColumnVerdict(tableID, colID string) docmodel.MixedPermissionSet {
	v := lattice.Empty()
	if f.deniedColumns[columnKey{tableID, colID}] {
		return v.With(lattice.BitRead, lattice.Deny)
	}
	return v.With(lattice.BitRead, lattice.Allow)
}

func sampleMeta() *MetaTables {
	return &MetaTables{
		Tables: []TableRow{
			{ID: "t1", TableID: "Secret", Name: "Secret"},
			{ID: "t2", TableID: "Public", Name: "Public"},
		},
		Columns: []ColumnRow{
			{ID: "c1", ParentID: "Secret", ColID: "amount", Label: "Amount", Formula: "=1+1", Type: "Numeric"},
			{ID: "c2", ParentID: "Public", ColID: "title", Label: "Title", Type: "Text"},
			{ID: "c3", ParentID: "Public", ColID: "ssn", Label: "SSN", Type: "Text"},
		},
		Views: []ViewRow{
			{ID: "v1", Name: "Main View"},
		},
		Sections: []SectionRow{
			{ID: "s1", ParentID: "v1", TableID: "Secret", Title: "Secret Section"},
			{ID: "s2", ParentID: "v1", TableID: "Public", Title: "Public Section"},
		},
		Fields: []FieldRow{
			{ID: "f1", ParentID: "s1", ColID: "amount", Label: "Amount"},
			{ID: "f2", ParentID: "s2", ColID: "title", Label: "Title"},
			{ID: "f3", ParentID: "s2", ColID: "ssn", Label: "SSN"},
		},
	}
}

func TestFilterMetaTablesScenarioE(t *testing.T) {
	v := fakeVerdicts{deniedTables: map[string]bool{"Secret": true}}
	meta := sampleMeta()

	Filter(v, meta)

	assert.Equal(t, "", meta.Tables[0].TableID)
	assert.Equal(t, "", meta.Tables[0].Name)
	assert.Equal(t, "Public", meta.Tables[1].TableID, "unrelated table untouched")

	assert.Equal(t, "", meta.Columns[0].Label)
	assert.Equal(t, "", meta.Columns[0].Formula)
	assert.Equal(t, "", meta.Columns[0].ParentID)
	assert.Equal(t, UniversalType, meta.Columns[0].Type)
	assert.Equal(t, "Title", meta.Columns[1].Label, "public column untouched")

	assert.Equal(t, "", meta.Sections[0].Title)
	assert.Equal(t, "Public Section", meta.Sections[1].Title)

	assert.Equal(t, "", meta.Views[0].Name, "the view containing the forbidden section is censored too")
}

func TestFilterCensorsSingleForbiddenColumnWithoutForbiddingWholeTable(t *testing.T) {
	v := fakeVerdicts{deniedColumns: map[columnKey]bool{{"Public", "ssn"}: true}}
	meta := sampleMeta()

	Filter(v, meta)

	assert.Equal(t, "Public", meta.Tables[1].TableID, "table itself stays visible")
	assert.Equal(t, "", meta.Columns[2].Label, "the forbidden column is blanked")
	assert.Equal(t, "", meta.Fields[2].Label, "the field referencing the forbidden column is blanked")
	assert.Equal(t, "Title", meta.Columns[1].Label, "sibling column untouched")
	assert.Equal(t, "Public Section", meta.Sections[1].Title, "section survives; only the one field is censored")
}

func TestFilterIsIdempotent(t *testing.T) {
	v := fakeVerdicts{deniedTables: map[string]bool{"Secret": true}}
	meta := sampleMeta()

	Filter(v, meta)
	afterFirst := cloneMeta(meta)

	Filter(v, meta)
	require.Equal(t, afterFirst, meta)
}

func cloneMeta(m *MetaTables) *MetaTables {
	return &MetaTables{
		Tables:   append([]TableRow(nil), m.Tables...),
		Columns:  append([]ColumnRow(nil), m.Columns...),
		Views:    append([]ViewRow(nil), m.Views...),
		Sections: append([]SectionRow(nil), m.Sections...),
		Fields:   append([]FieldRow(nil), m.Fields...),
	}
}
