package docmodel

import "strings"

// DocActionKind enumerates the shapes of mutation the engine must reason
// about: record-shaped (add/update/remove, singular or bulk) and
// schema-shaped (add/rename/remove table/column).
type DocActionKind int

const (
	ActionUnknown DocActionKind = iota

	AddRecord
	BulkAddRecord
	UpdateRecord
	BulkUpdateRecord
	RemoveRecord
	BulkRemoveRecord

	AddColumn
	RemoveColumn
	RenameColumn
	ModifyColumn
	AddTable
	RemoveTable
	RenameTable

	ApplyUndoActions
	ApplyDocActions

	// Calculate announces that formula recalculation happened; it carries
	// no row data a session could be denied and is always delivered.
	Calculate
)

func (k DocActionKind) String() string {
	switch k {
	case AddRecord:
		return "AddRecord"
	case BulkAddRecord:
		return "BulkAddRecord"
	case UpdateRecord:
		return "UpdateRecord"
	case BulkUpdateRecord:
		return "BulkUpdateRecord"
	case RemoveRecord:
		return "RemoveRecord"
	case BulkRemoveRecord:
		return "BulkRemoveRecord"
	case AddColumn:
		return "AddColumn"
	case RemoveColumn:
		return "RemoveColumn"
	case RenameColumn:
		return "RenameColumn"
	case ModifyColumn:
		return "ModifyColumn"
	case AddTable:
		return "AddTable"
	case RemoveTable:
		return "RemoveTable"
	case RenameTable:
		return "RenameTable"
	case ApplyUndoActions:
		return "ApplyUndoActions"
	case ApplyDocActions:
		return "ApplyDocActions"
	case Calculate:
		return "Calculate"
	default:
		return "Unknown"
	}
}

// SystemReservedTablePrefix marks tables that hold document metadata
// rather than user data; writes to them are governed by schema-edit
// access rather than per-row read access.
const SystemReservedTablePrefix = "_system_"

// IsSystemTable reports whether tableID names a reserved metadata table.
func IsSystemTable(tableID string) bool {
	return strings.HasPrefix(tableID, SystemReservedTablePrefix)
}

// IsRecordAction reports whether kind mutates row data (as opposed to schema).
func (k DocActionKind) IsRecordAction() bool {
	switch k {
	case AddRecord, BulkAddRecord, UpdateRecord, BulkUpdateRecord, RemoveRecord, BulkRemoveRecord:
		return true
	default:
		return false
	}
}

// IsSchemaAction reports whether kind alters table/column structure.
func (k DocActionKind) IsSchemaAction() bool {
	switch k {
	case AddColumn, RemoveColumn, RenameColumn, ModifyColumn, AddTable, RemoveTable, RenameTable:
		return true
	default:
		return false
	}
}

// IsAddLike reports whether kind introduces new rows.
func (k DocActionKind) IsAddLike() bool { return k == AddRecord || k == BulkAddRecord }

// IsUpdateLike reports whether kind mutates existing rows in place.
func (k DocActionKind) IsUpdateLike() bool { return k == UpdateRecord || k == BulkUpdateRecord }

// IsRemoveLike reports whether kind deletes rows.
func (k DocActionKind) IsRemoveLike() bool { return k == RemoveRecord || k == BulkRemoveRecord }

// IsWrapped reports whether kind recurses into a nested action list.
func (k DocActionKind) IsWrapped() bool {
	return k == ApplyUndoActions || k == ApplyDocActions
}

// ActionClass is the coarse policy bucket canApplyUserAction consults.
type ActionClass int

const (
	ClassDenied ActionClass = iota
	ClassAlwaysOK
	ClassSpecial    // schema-altering or formula-touching: needs non-nuanced access
	ClassSurprising // needs full access
	ClassTableScoped
	ClassWrapped
)

// Classify buckets a DocActionKind per spec.md §6's policy tables.
func Classify(kind DocActionKind) ActionClass {
	switch kind {
	case Calculate:
		return ClassAlwaysOK
	case ApplyUndoActions, ApplyDocActions:
		return ClassWrapped
	case AddRecord, BulkAddRecord, UpdateRecord, BulkUpdateRecord, RemoveRecord, BulkRemoveRecord:
		return ClassTableScoped
	case RenameTable, RenameColumn:
		return ClassSpecial
	case AddColumn, RemoveColumn, ModifyColumn, AddTable, RemoveTable:
		return ClassSurprising
	default:
		return ClassDenied
	}
}

// IsAlwaysOK reports whether kind belongs to the always-ok set: actions
// that never require a permission check because they carry no
// document-visible effect a session could be denied.
func IsAlwaysOK(kind DocActionKind) bool {
	return Classify(kind) == ClassAlwaysOK
}
