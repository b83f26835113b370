package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wemcdonald/accessctl/pkg/docmodel"
)

func TestConnectAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Connect("s1", docmodel.RoleEditors, &docmodel.UserIdentity{ID: "u1", Email: "a@b.com"})

	access, err := r.Access("s1")
	require.NoError(t, err)
	assert.Equal(t, docmodel.RoleEditors, access)

	identity, err := r.User("s1")
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, "a@b.com", identity.Email)
}

func TestAnonymousSessionHasNilIdentity(t *testing.T) {
	r := NewRegistry()
	r.Connect("anon", docmodel.RoleViewers, nil)

	identity, err := r.User("anon")
	require.NoError(t, err)
	assert.Nil(t, identity)
}

func TestUnknownSessionIsAnError(t *testing.T) {
	r := NewRegistry()
	_, err := r.Access("nope")
	assert.Error(t, err)
}

func TestDisconnectRemovesSession(t *testing.T) {
	r := NewRegistry()
	r.Connect("s1", docmodel.RoleOwners, nil)
	assert.Equal(t, 1, r.Len())
	r.Disconnect("s1")
	assert.Equal(t, 0, r.Len())
}
