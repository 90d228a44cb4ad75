package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashDeterministic(t *testing.T) {
	a := Hash([]byte("causality"))
	b := Hash([]byte("causality"))
	require.Equal(t, a, b)
	require.NotEqual(t, a, Hash([]byte("causality!")))
	require.False(t, a.IsZero())
}

func TestHashTaggedSeparatesKinds(t *testing.T) {
	require.NotEqual(t, HashTagged("resource", []byte{1}), HashTagged("proof", []byte{1}))
}

func TestParseEntityID(t *testing.T) {
	id := Hash([]byte("x"))
	back, err := ParseEntityID(id.String())
	require.NoError(t, err)
	require.Equal(t, id, back)

	_, err = ParseEntityID("abcd")
	require.Error(t, err)
	_, err = ParseEntityID("zz")
	require.Error(t, err)
}

func TestMemStore(t *testing.T) {
	s := NewMemStore()
	id, err := s.Put([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, Hash([]byte("hello")), id)

	again, err := s.Put([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, s.Len())

	b, ok, err := s.Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), b)

	_, ok, err = s.Get(Hash([]byte("missing")))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOrdering(t *testing.T) {
	var a, b EntityID
	a[0], b[0] = 1, 2
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.Equal(t, -1, a.Compare(b))
	assert.True(t, NodeID(a).Less(NodeID(b)))
}
