package reorder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInOrderDelivery(t *testing.T) {
	r := New(8)
	require.True(t, r.Insert(0, []byte("a")))
	require.True(t, r.Insert(1, []byte("b")))
	entries := r.Take()
	require.Len(t, entries, 2)
	require.Equal(t, Seqno(0), entries[0].Seqno)
	require.Equal(t, Seqno(2), r.NextExpected())
}

func TestOutOfOrderDelivery(t *testing.T) {
	r := New(8)
	require.True(t, r.Insert(2, []byte("c")))
	require.Empty(t, r.Take())
	require.True(t, r.Insert(0, []byte("a")))
	require.True(t, r.Insert(1, []byte("b")))
	entries := r.Take()
	require.Len(t, entries, 3)
	require.Equal(t, []byte("a"), entries[0].Payload)
	require.Equal(t, []byte("b"), entries[1].Payload)
	require.Equal(t, []byte("c"), entries[2].Payload)
	require.Equal(t, Seqno(3), r.NextExpected())
}

func TestDuplicateAndBelowCursorDiscarded(t *testing.T) {
	r := New(8)
	require.True(t, r.Insert(0, []byte("a")))
	r.Take()
	require.False(t, r.Insert(0, []byte("a-again")))
	require.True(t, r.Insert(5, []byte("x")))
	require.False(t, r.Insert(5, []byte("x-again")))
}

func TestCapacityDropsExcessInserts(t *testing.T) {
	r := New(2)
	require.True(t, r.Insert(5, []byte("x")))
	require.True(t, r.Insert(6, []byte("y")))
	require.False(t, r.Insert(7, []byte("z")))
	require.Equal(t, 2, r.Buffered())
}

func TestDefaultCap(t *testing.T) {
	r := New(0)
	require.Equal(t, DefaultCap, r.cap)
}
