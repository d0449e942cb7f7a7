package walindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pagedb/enginecore/internal/enginefs"
	"github.com/pagedb/enginecore/internal/page"
)

func TestIndex_ConfirmTransactionBumpsReadVersion(t *testing.T) {
	t.Parallel()

	idx := New()
	require.Equal(t, uint32(0), idx.CurrentReadVersion())

	v := idx.ConfirmTransaction(map[uint32]uint64{1: 8192, 2: 16384})
	require.Equal(t, uint32(1), v)
	require.Equal(t, uint32(1), idx.CurrentReadVersion())

	off, ok := idx.GetPageIndex(1, 1)
	require.True(t, ok)
	require.Equal(t, uint64(8192), off)

	_, ok = idx.GetPageIndex(1, 0)
	require.False(t, ok, "readers sampling before the commit must not see it")
}

func TestIndex_GetPageIndex_ReturnsLatestAtOrBelow(t *testing.T) {
	t.Parallel()

	idx := New()
	idx.ConfirmTransaction(map[uint32]uint64{1: 100})
	idx.ConfirmTransaction(map[uint32]uint64{1: 200})

	off, ok := idx.GetPageIndex(1, 1)
	require.True(t, ok)
	require.Equal(t, uint64(100), off)

	off, ok = idx.GetPageIndex(1, 2)
	require.True(t, ok)
	require.Equal(t, uint64(200), off)
}

func writePageAt(t *testing.T, s enginefs.Stream, off uint64, id uint32, txn uint32, confirmed bool) {
	t.Helper()

	buf := make([]byte, page.Size)
	p := page.New(buf, id, page.TypeData)
	h := p.Header()
	h.TransactionID = txn
	h.IsConfirmed = confirmed
	p.SetHeader(h)

	_, err := s.WriteAt(p.Bytes(), int64(off))
	require.NoError(t, err)
}

func TestIndex_Recover_RegistersOnlyConfirmedTransactions(t *testing.T) {
	t.Parallel()

	s := enginefs.NewMemoryStream()
	require.NoError(t, s.SetLength(5*page.Size))

	const logStart = 2 * page.Size

	writePageAt(t, s, logStart, 10, 1, false)
	writePageAt(t, s, logStart+page.Size, 11, 1, true) // confirms txn 1
	writePageAt(t, s, logStart+2*page.Size, 20, 2, false) // txn 2 never confirmed

	idx := New()
	newEnd, err := idx.Recover(s, logStart)
	require.NoError(t, err)
	require.Equal(t, uint64(logStart+2*page.Size), newEnd, "log end truncates before the unconfirmed tail")

	off, ok := idx.GetPageIndex(10, idx.CurrentReadVersion())
	require.True(t, ok)
	require.Equal(t, uint64(logStart), off)

	_, ok = idx.GetPageIndex(20, idx.CurrentReadVersion())
	require.False(t, ok, "unconfirmed transaction must be discarded")
}
