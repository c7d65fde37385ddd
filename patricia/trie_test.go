package patricia

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestTrie(keys *[][]byte) *Trie {
	return New(func(idx uint32) []byte {
		return (*keys)[idx]
	})
}

func TestDefineAssignsDensePositions(t *testing.T) {
	var keys [][]byte
	tr := newTestTrie(&keys)

	words := []string{"apple", "banana", "cherry", "date", "egg"}
	for i, w := range words {
		keys = append(keys, []byte(w))
		pos, err := tr.Define([]byte(w))
		require.NoError(t, err)
		require.Equal(t, uint32(i), pos)
	}

	require.Equal(t, uint32(len(words)), tr.Count())
}

func TestDefineIsIdempotent(t *testing.T) {
	var keys [][]byte
	tr := newTestTrie(&keys)

	keys = append(keys, []byte("x"))
	pos1, err := tr.Define([]byte("x"))
	require.NoError(t, err)

	pos2, err := tr.Define([]byte("x"))
	require.NoError(t, err)

	require.Equal(t, pos1, pos2)
	require.Equal(t, uint32(1), tr.Count())
}

func TestLookupFindsExactKeys(t *testing.T) {
	var keys [][]byte
	tr := newTestTrie(&keys)

	words := []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta"}
	for _, w := range words {
		keys = append(keys, []byte(w))
		_, err := tr.Define([]byte(w))
		require.NoError(t, err)
	}

	for _, w := range words {
		pos := tr.Lookup([]byte(w))
		require.NotEqual(t, NotFound, pos)
		require.True(t, bytes.Equal(keys[pos], []byte(w)), "lookup(%s) -> %q", w, keys[pos])
	}
}

func TestLookupEmptyTrie(t *testing.T) {
	var keys [][]byte
	tr := newTestTrie(&keys)
	require.Equal(t, NotFound, tr.Lookup([]byte("anything")))
	require.Equal(t, NotFound, tr.LookupPrefix([]byte("a")))
}

func TestLookupPrefixCandidateOrdering(t *testing.T) {
	var keys [][]byte
	tr := newTestTrie(&keys)

	rows := []string{"aaa", "aab", "aac", "abc", "bbb"}
	for _, r := range rows {
		keys = append(keys, []byte(r))
		_, err := tr.Define([]byte(r))
		require.NoError(t, err)
	}

	// The candidate position must itself be verified by the caller (this is
	// the documented trust-but-verify contract), but it must exist.
	pos := tr.LookupPrefix([]byte("aa"))
	require.NotEqual(t, NotFound, pos)
	require.Less(t, int(pos), len(rows))
}

func TestWriteToRemapRoundTrip(t *testing.T) {
	var keys [][]byte
	tr := newTestTrie(&keys)

	words := []string{"one", "two", "three", "four", "five", "six", "seven"}
	for _, w := range words {
		keys = append(keys, []byte(w))
		_, err := tr.Define([]byte(w))
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	n, err := tr.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, tr.Size(), n)

	remapped, consumed, err := Remap(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, buf.Len(), consumed)
	require.Equal(t, tr.Count(), remapped.Count())

	for _, w := range words {
		origPos := tr.Lookup([]byte(w))
		remapPos := remapped.Lookup([]byte(w))
		require.Equal(t, origPos, remapPos)
	}
}

func TestOrderingMatchesLexicographicSort(t *testing.T) {
	// Positions assigned by Define don't need to be sorted themselves (the
	// disktable writer's callers supply keys already sorted), but Lookup on a
	// lexicographically-sorted key set must still resolve every key.
	var keys [][]byte
	tr := newTestTrie(&keys)

	words := []string{"row0001", "row0002", "row0003", "row0010", "row0100", "rowzzzz"}
	sort.Strings(words)

	for _, w := range words {
		keys = append(keys, []byte(w))
		_, err := tr.Define([]byte(w))
		require.NoError(t, err)
	}

	for i, w := range words {
		pos := tr.Lookup([]byte(w))
		require.Equal(t, uint32(i), pos)
	}
}
