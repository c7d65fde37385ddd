package keycodec

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		column uint32
		row    []byte
	}{
		{"small", 100, []byte("row1")},
		{"large column", 0xFFFFFF, []byte("r")},
		{"binary row", 101, []byte{0, 1, 2, 255}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := Encode(tt.column, tt.row)
			require.NoError(t, err)

			column, row, err := Decode(key)
			require.NoError(t, err)
			require.Equal(t, tt.column, column)
			require.True(t, bytes.Equal(tt.row, row))
		})
	}
}

func TestEncodeRejectsZeroColumn(t *testing.T) {
	_, err := Encode(0, []byte("r"))
	require.ErrorIs(t, err, ErrZeroColumn)
}

func TestEncodeRejectsEmptyRow(t *testing.T) {
	_, err := Encode(100, nil)
	require.ErrorIs(t, err, ErrEmptyRow)
}

func TestEncodeRejectsOutOfRangeColumn(t *testing.T) {
	_, err := Encode(MaxColumn+1, []byte("r"))
	require.ErrorIs(t, err, ErrColumnRange)
}

func TestEncodeNoZeroPrefixByte(t *testing.T) {
	for _, column := range []uint32{1, 100, 0xFF, 0xFFFF, 0xFFFFFF, MaxColumn} {
		key, err := Encode(column, []byte("x"))
		require.NoError(t, err)
		for i := 0; i < PrefixSize; i++ {
			require.NotZero(t, key[i], "column=%d byte=%d", column, i)
		}
	}
}

func TestOrderPreserving(t *testing.T) {
	type pair struct {
		column uint32
		row    string
	}

	pairs := []pair{
		{100, "a"}, {100, "b"}, {100, "z"},
		{101, "a"}, {200, "a"}, {100000, "a"},
	}

	keys := make([][]byte, len(pairs))
	for i, p := range pairs {
		k, err := Encode(p.column, []byte(p.row))
		require.NoError(t, err)
		keys[i] = k
	}

	shuffled := append([][]byte(nil), keys...)
	sort.Slice(shuffled, func(i, j int) bool { return bytes.Compare(shuffled[i], shuffled[j]) < 0 })

	require.Equal(t, keys, shuffled)
}

func TestColumnExtractsPrefix(t *testing.T) {
	key, err := Encode(123456, []byte("r"))
	require.NoError(t, err)
	require.Equal(t, uint32(123456), Column(key))
}
