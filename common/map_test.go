package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSimpleSyncMapGetPutDel(t *testing.T) {
	m := NewSimpleSyncMap[string, int]()

	_, ok := m.Get("a")
	require.False(t, ok)

	m.Put("a", 1)
	v, ok := m.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	m.Del("a")
	_, ok = m.Get("a")
	require.False(t, ok)
}

func TestSimpleSyncMapPutIfNotPresent(t *testing.T) {
	m := NewSimpleSyncMap[string, int]()

	require.True(t, m.PutIfNotPresent("a", 1))
	require.False(t, m.PutIfNotPresent("a", 2))

	v, _ := m.Get("a")
	require.Equal(t, 1, v)
}

func TestSimpleSyncMapDelIfMatchOnlyRemovesCurrentValue(t *testing.T) {
	m := NewSimpleSyncMap[string, int]()
	m.Put("a", 1)

	m.DelIfMatch("a", 2) // stale expectation, should not remove
	v, ok := m.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	m.DelIfMatch("a", 1)
	_, ok = m.Get("a")
	require.False(t, ok)
}
