package bloom

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddedKeysMayContain(t *testing.T) {
	f := New()
	keys := make([][]byte, 0, 200)
	for i := 0; i < 200; i++ {
		k := []byte(fmt.Sprintf("key-%04d", i))
		keys = append(keys, k)
		f.Add(k)
	}

	for _, k := range keys {
		require.True(t, f.MayContain(k))
	}
}

func TestAbsentKeyMostlyExcluded(t *testing.T) {
	f := New()
	for i := 0; i < 50; i++ {
		f.Add([]byte(fmt.Sprintf("present-%d", i)))
	}

	falsePositives := 0
	for i := 0; i < 1000; i++ {
		if f.MayContain([]byte(fmt.Sprintf("absent-%d", i))) {
			falsePositives++
		}
	}

	require.Less(t, falsePositives, 50, "false positive rate too high: %d/1000", falsePositives)
}

func TestWriteToReadFilterRoundTrip(t *testing.T) {
	f := New()
	for i := 0; i < 100; i++ {
		f.Add([]byte(fmt.Sprintf("k%d", i)))
	}

	var buf bytes.Buffer
	n, err := f.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, int64(Size), n)
	require.Equal(t, Size, buf.Len())

	f2, err := ReadFilter(buf.Bytes())
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		require.True(t, f2.MayContain([]byte(fmt.Sprintf("k%d", i))))
	}
}

func TestReadFilterTruncated(t *testing.T) {
	_, err := ReadFilter(make([]byte, 10))
	require.Error(t, err)
}
