package page

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollectionPage_RoundTrip(t *testing.T) {
	t.Parallel()

	buf := freshBuf()
	cp := NewCollectionPage(buf, 1)

	cp.Indexes = append(cp.Indexes, CollectionIndex{
		Name:              "byName",
		Expr:              "$.name",
		Unique:            true,
		Slot:              1,
		Head:              NoAddress,
		Tail:              NoAddress,
		FreeIndexPageList: MaxU32,
		MaxLevel:          1,
	})
	cp.FreeDataPageList[0] = 9
	cp.Flush()

	reparsed, err := WrapCollectionPage(buf)
	require.NoError(t, err)
	require.Equal(t, "_id", reparsed.PK.Name)
	require.Len(t, reparsed.Indexes, 2)
	require.Equal(t, uint32(9), reparsed.FreeDataPageList[0])

	idx, ok := reparsed.FindIndex("byName")
	require.True(t, ok)
	require.True(t, idx.Unique)
	require.Equal(t, "$.name", idx.Expr)
}
