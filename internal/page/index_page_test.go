package page

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pagedb/enginecore/internal/bsonvalue"
)

func TestIndexPage_WriteReadNode(t *testing.T) {
	t.Parallel()

	buf := freshBuf()
	ip := NewIndexPage(buf, 5)

	n := IndexNode{
		Level:     3,
		Key:       bsonvalue.String("alice"),
		DataBlock: Address{PageID: 10, Index: 2},
		NextNode:  NoAddress,
		Prev:      []Address{NoAddress, NoAddress, NoAddress},
		Next:      []Address{NoAddress, NoAddress, NoAddress},
	}

	slot, err := ip.WriteNode(n)
	require.NoError(t, err)

	got, err := ip.ReadNode(slot)
	require.NoError(t, err)
	require.Equal(t, uint8(3), got.Level)
	s, _ := got.Key.AsString()
	require.Equal(t, "alice", s)
	require.Equal(t, Address{PageID: 10, Index: 2}, got.DataBlock)
}

func TestIndexPage_PatchPointer(t *testing.T) {
	t.Parallel()

	buf := freshBuf()
	ip := NewIndexPage(buf, 5)

	n := IndexNode{
		Level: 2,
		Key:   bsonvalue.Int32(1),
		Prev:  []Address{NoAddress, NoAddress},
		Next:  []Address{NoAddress, NoAddress},
	}

	slot, err := ip.WriteNode(n)
	require.NoError(t, err)

	require.NoError(t, ip.PatchPointer(slot, 0, true, Address{PageID: 99, Index: 1}))

	got, err := ip.ReadNode(slot)
	require.NoError(t, err)
	require.Equal(t, Address{PageID: 99, Index: 1}, got.Next[0])
	require.True(t, got.Next[1].IsNone())
}

func TestIndexPage_DeleteNode(t *testing.T) {
	t.Parallel()

	buf := freshBuf()
	ip := NewIndexPage(buf, 5)

	n := IndexNode{Level: 1, Key: bsonvalue.Null(), Prev: []Address{NoAddress}, Next: []Address{NoAddress}}

	slot, err := ip.WriteNode(n)
	require.NoError(t, err)
	require.NoError(t, ip.DeleteNode(slot))

	_, err = ip.ReadNode(slot)
	require.Error(t, err)
}
