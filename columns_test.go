package jpt

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestColumnCacheTwoSlotProbe(t *testing.T) {
	c := newColumnCache(8)

	c.Put("a", 100)
	id, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, uint32(100), id)

	_, ok = c.Get("missing")
	require.False(t, ok)

	c.Evict("a")
	_, ok = c.Get("a")
	require.False(t, ok)

	// Colliding names land in the paired slot; a third collision evicts.
	// With only 8 slots, enough names force every case through.
	for i := 0; i < 32; i++ {
		c.Put(fmt.Sprintf("col-%d", i), uint32(100+i))
	}
	for i := 0; i < 32; i++ {
		name := fmt.Sprintf("col-%d", i)
		if id, ok := c.Get(name); ok {
			require.Equal(t, uint32(100+i), id, "cache must never return a wrong id for %q", name)
		}
	}
}

func TestColumnIDsStableAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store")
	e, err := Open(path, 1<<20, 0)
	require.NoError(t, err)

	require.NoError(t, e.Insert([]byte("r"), "first", []byte("1"), 0))
	require.NoError(t, e.Insert([]byte("r"), "second", []byte("2"), 0))
	require.NoError(t, e.Compact())
	require.NoError(t, e.Insert([]byte("r"), "third", []byte("3"), 0))
	require.NoError(t, e.Close())

	e, err = Open(path, 1<<20, 0)
	require.NoError(t, err)
	defer e.Close()

	// A column created after reopen must not collide with any id handed
	// out before, including ones only recorded in the replayed log.
	require.NoError(t, e.Insert([]byte("r"), "fourth", []byte("4"), 0))

	for i, col := range []string{"first", "second", "third", "fourth"} {
		got, _, gerr := e.Get([]byte("r"), col)
		require.NoError(t, gerr)
		require.Equal(t, []byte{byte('1' + i)}, got)
	}

	// Scan order follows column creation order, proving ids stayed dense
	// and distinct.
	var cols []string
	require.NoError(t, e.Scan(func(c Cell) error {
		cols = append(cols, c.Column)
		return nil
	}))
	require.Equal(t, []string{"first", "second", "third", "fourth"}, cols)
}
