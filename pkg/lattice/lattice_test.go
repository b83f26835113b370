package lattice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeFinalWins(t *testing.T) {
	a := Empty().With(BitRead, Allow)
	b := Empty().With(BitRead, Deny)
	require.Equal(t, Allow, Merge(a, b).Get(BitRead))
	require.Equal(t, Allow, Merge(b, a).Get(BitRead))
}

func TestMergeEarlierDominatesWhenNeitherFinal(t *testing.T) {
	a := Empty().With(BitRead, AllowSome)
	b := Empty().With(BitRead, DenySome)
	assert.Equal(t, AllowSome, Merge(a, b).Get(BitRead))
	assert.Equal(t, DenySome, Merge(b, a).Get(BitRead))
}

func TestMergeIsNotCommutative(t *testing.T) {
	a := Empty().With(BitRead, AllowSome)
	b := Empty().With(BitRead, Deny)
	assert.NotEqual(t, Merge(a, b), Merge(b, a))
}

func TestMergeWithEmptyIsIdentityUnderToMixed(t *testing.T) {
	cases := []Vector{
		Empty().With(BitRead, Allow),
		Empty().With(BitRead, AllowSome),
		Empty().With(BitRead, DenySome),
		Empty(),
		Empty().With(BitRead, Mixed),
	}
	for _, p := range cases {
		assert.Equal(t, ToMixed(p), ToMixed(Merge(p, Empty())))
	}
}

func TestToMixedCollapsesPartials(t *testing.T) {
	v := Empty().
		With(BitRead, AllowSome).
		With(BitUpdate, DenySome).
		With(BitCreate, Unset).
		With(BitDelete, Mixed)
	m := ToMixed(v)
	assert.Equal(t, Allow, m.Get(BitRead))
	assert.Equal(t, Deny, m.Get(BitUpdate))
	assert.Equal(t, Deny, m.Get(BitCreate))
	assert.Equal(t, Mixed, m.Get(BitDelete))
}

func TestFoldTableReadBit(t *testing.T) {
	allAllow := []Vector{
		Empty().With(BitRead, Allow),
		Empty().With(BitRead, Allow),
	}
	assert.Equal(t, Allow, FoldTable(allAllow).Get(BitRead))

	allDeny := []Vector{
		Empty().With(BitRead, Deny),
		Empty().With(BitRead, Deny),
	}
	assert.Equal(t, Deny, FoldTable(allDeny).Get(BitRead))

	mixedColumns := []Vector{
		Empty().With(BitRead, Allow),
		Empty().With(BitRead, Deny),
	}
	assert.Equal(t, MixedColumns, FoldTable(mixedColumns).Get(BitRead))

	withMixed := []Vector{
		Empty().With(BitRead, Allow),
		Empty().With(BitRead, Mixed),
	}
	assert.Equal(t, Mixed, FoldTable(withMixed).Get(BitRead))
}

func TestFoldTableOtherBits(t *testing.T) {
	uniform := []Vector{
		Empty().With(BitUpdate, Allow),
		Empty().With(BitUpdate, Allow),
	}
	assert.Equal(t, Allow, FoldTable(uniform).Get(BitUpdate))

	disagree := []Vector{
		Empty().With(BitUpdate, Allow),
		Empty().With(BitUpdate, Deny),
	}
	assert.Equal(t, Mixed, FoldTable(disagree).Get(BitUpdate))
}

func TestMergeAllPrecedenceOrder(t *testing.T) {
	column := Empty().With(BitRead, Allow)
	tableDefault := Empty().With(BitRead, Deny)
	docDefault := Empty().With(BitRead, Deny)
	assert.Equal(t, Allow, MergeAll(column, tableDefault, docDefault).Get(BitRead))

	noColumn := Empty()
	assert.Equal(t, Deny, MergeAll(noColumn, tableDefault, docDefault).Get(BitRead))
}
