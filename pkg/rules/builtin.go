package rules

import (
	"github.com/wemcdonald/accessctl/pkg/docmodel"
	"github.com/wemcdonald/accessctl/pkg/lattice"
)

// allPermissions grants every bit.
func allPermissions() docmodel.PermissionSet {
	var v docmodel.PermissionSet
	for i := range v {
		v[i] = lattice.Allow
	}
	return v
}

// readOnlyPermissions grants only the read bit.
func readOnlyPermissions() docmodel.PermissionSet {
	return docmodel.PermissionSet{}.With(lattice.BitRead, lattice.Allow)
}

// builtinDocDefaultRules returns the two synthetic rules every
// document-default RuleSet is extended with at load time: owners and
// editors get everything, viewers get read-only. They are appended after
// user rules so user rules can override them.
func builtinDocDefaultRules() []docmodel.Rule {
	ownerOrEditor := docmodel.Rule{
		Source: "<builtin> user.Access in [owners, editors]",
		Delta:  allPermissions(),
		Predicate: func(in docmodel.MatchInput) (bool, error) {
			if in.User == nil {
				return false, nil
			}
			return in.User.Access == docmodel.RoleOwners || in.User.Access == docmodel.RoleEditors, nil
		},
	}
	viewer := docmodel.Rule{
		Source: "<builtin> user.Access == viewers",
		Delta:  readOnlyPermissions(),
		Predicate: func(in docmodel.MatchInput) (bool, error) {
			if in.User == nil {
				return false, nil
			}
			return in.User.Access == docmodel.RoleViewers, nil
		},
	}
	return []docmodel.Rule{ownerOrEditor, viewer}
}
