package page

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderPage_RoundTrip(t *testing.T) {
	t.Parallel()

	buf := freshBuf()
	hp := NewHeaderPage(buf)

	hp.LastPageID = 10
	hp.FreeEmptyPageList = 3
	hp.Collections["people"] = 2
	hp.Pragmas.UserVersion = 5
	hp.Pragmas.Checkpoint = 2000
	hp.Flush()

	reparsed, err := WrapHeaderPage(buf)
	require.NoError(t, err)
	require.Equal(t, uint32(10), reparsed.LastPageID)
	require.Equal(t, uint32(3), reparsed.FreeEmptyPageList)
	require.Equal(t, uint32(2), reparsed.Collections["people"])
	require.Equal(t, uint32(5), reparsed.Pragmas.UserVersion)
	require.Equal(t, uint32(2000), reparsed.Pragmas.Checkpoint)
}

func TestWrapHeaderPage_RejectsWrongType(t *testing.T) {
	t.Parallel()

	buf := freshBuf()
	New(buf, 0, TypeData)

	_, err := WrapHeaderPage(buf)
	require.Error(t, err)
}
