package msgqueue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPushPullOrder(t *testing.T) {
	q := New()
	require.True(t, q.Push(Entry{Text: "a"}))
	require.True(t, q.Push(Entry{Text: "b"}))

	e, ok := q.Pull()
	require.True(t, ok)
	require.Equal(t, "a", e.Text)

	e, ok = q.Pull()
	require.True(t, ok)
	require.Equal(t, "b", e.Text)

	_, ok = q.Pull()
	require.False(t, ok)
}

func TestPushOverflowDropsSilently(t *testing.T) {
	q := New()
	for i := 0; i < Capacity; i++ {
		require.True(t, q.Push(Entry{Text: "x"}))
	}
	require.False(t, q.Push(Entry{Text: "overflow"}))
	require.Equal(t, Capacity, q.Len())
}

func TestClearFlushesWithoutBlocking(t *testing.T) {
	q := New()
	q.Push(Entry{Text: "a"})
	q.Push(Entry{Text: "b"})
	q.Clear()
	require.Equal(t, 0, q.Len())
	_, ok := q.Pull()
	require.False(t, ok)
}
