package page

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func freshBuf() []byte { return make([]byte, Size) }

func TestNewPage_HasExpectedDefaults(t *testing.T) {
	t.Parallel()

	p := New(freshBuf(), 7, TypeData)
	h := p.Header()

	require.Equal(t, uint32(7), h.PageID)
	require.Equal(t, TypeData, h.PageType)
	require.Equal(t, uint32(MaxU32), h.PrevPageID)
	require.Equal(t, uint8(EmptySlot), h.HighestIndex)
	require.True(t, p.IsEmpty())
}

func TestPage_InsertGetDelete(t *testing.T) {
	t.Parallel()

	p := New(freshBuf(), 1, TypeData)

	slot, err := p.Insert([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, uint8(0), slot)

	got, err := p.Get(slot)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)

	require.NoError(t, p.Delete(slot))
	require.True(t, p.IsEmpty())

	_, err = p.Get(slot)
	require.Error(t, err)
}

func TestPage_SlotReuseKeepsAllocationDense(t *testing.T) {
	t.Parallel()

	p := New(freshBuf(), 1, TypeData)

	s0, err := p.Insert([]byte("a"))
	require.NoError(t, err)
	s1, err := p.Insert([]byte("b"))
	require.NoError(t, err)
	_, err = p.Insert([]byte("c"))
	require.NoError(t, err)

	require.NoError(t, p.Delete(s1))

	reused, err := p.Insert([]byte("d"))
	require.NoError(t, err)
	require.Equal(t, s1, reused, "deleted slot should be reused before growing HighestIndex")

	require.NotEqual(t, s0, reused)
}

func TestPage_WrapPreservesHeaderAndSlots(t *testing.T) {
	t.Parallel()

	buf := freshBuf()
	p := New(buf, 42, TypeIndex)

	_, err := p.Insert([]byte("payload"))
	require.NoError(t, err)

	reparsed, err := Wrap(buf)
	require.NoError(t, err)
	require.Equal(t, uint32(42), reparsed.Header().PageID)

	got, err := reparsed.Get(0)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)
}

func TestPage_DefragmentReclaimsFragmentedBytes(t *testing.T) {
	t.Parallel()

	p := New(freshBuf(), 1, TypeData)

	for i := 0; i < 4; i++ {
		_, err := p.Insert([]byte("xxxxxxxxxx"))
		require.NoError(t, err)
	}

	require.NoError(t, p.Delete(1))
	require.NoError(t, p.Delete(2))
	require.Positive(t, p.Header().FragmentedBytes)

	before := p.FreeBytes()
	p.Defragment()
	require.Zero(t, p.Header().FragmentedBytes)
	require.Greater(t, p.FreeBytes(), before)
}

func TestPage_InsertRejectsOversizedPayload(t *testing.T) {
	t.Parallel()

	p := New(freshBuf(), 1, TypeData)

	_, err := p.Insert(make([]byte, Size))
	require.Error(t, err)
}

func TestFreeSlotOf(t *testing.T) {
	t.Parallel()

	cases := []struct {
		free int
		slot int
	}{
		{1000, 0}, {999, 1}, {600, 1}, {599, 2}, {250, 2}, {249, 3}, {90, 3}, {89, 4}, {0, 4},
	}

	for _, tt := range cases {
		require.Equal(t, tt.slot, FreeSlotOf(tt.free), "free=%d", tt.free)
	}
}
