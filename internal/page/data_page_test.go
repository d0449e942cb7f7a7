package page

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDataPage_ChainedBlocks(t *testing.T) {
	t.Parallel()

	buf1, buf2 := freshBuf(), freshBuf()
	dp1 := NewDataPage(buf1, 1)
	dp2 := NewDataPage(buf2, 2)

	slot2, err := dp2.WriteBlock([]byte("second half"), NoAddress)
	require.NoError(t, err)

	slot1, err := dp1.WriteBlock([]byte("first half"), Address{PageID: 2, Index: slot2})
	require.NoError(t, err)

	data, next, err := dp1.ReadBlock(slot1)
	require.NoError(t, err)
	require.Equal(t, []byte("first half"), data)
	require.Equal(t, Address{PageID: 2, Index: slot2}, next)

	data2, next2, err := dp2.ReadBlock(slot2)
	require.NoError(t, err)
	require.Equal(t, []byte("second half"), data2)
	require.True(t, next2.IsNone())
}

func TestDataPage_DeleteBlock(t *testing.T) {
	t.Parallel()

	buf := freshBuf()
	dp := NewDataPage(buf, 1)

	slot, err := dp.WriteBlock([]byte("x"), NoAddress)
	require.NoError(t, err)
	require.NoError(t, dp.DeleteBlock(slot))

	_, _, err = dp.ReadBlock(slot)
	require.Error(t, err)
}
