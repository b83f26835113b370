package userattr

import (
	"encoding/json"
	"strings"

	"github.com/wemcdonald/accessctl/pkg/docmodel"
)

// Normalize is the exact key-normalization algorithm used to match a
// resolved lookup value against a CharacteristicTable's index: lowercased
// JSON stringification, with record-typed values (maps carrying an "id"
// field, or docmodel.Row values) collapsed to their id first.
//
// This is fragile for anything but strings and small numbers: two
// distinct floats that round to the same JSON text collide, and map key
// order is not an issue only because Go's json package sorts map keys,
// but a custom struct without a canonical field order would not get that
// guarantee. Kept exactly as specified rather than "fixed", per the open
// question this behavior is flagged under; any change in matching
// semantics belongs in a human-reviewed follow-up, not here.
func Normalize(v any) string {
	if row, ok := v.(docmodel.Row); ok {
		v = row.Get("id")
	} else if m, ok := v.(map[string]any); ok {
		if id, exists := m["id"]; exists {
			v = id
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return strings.ToLower(string(b))
}
