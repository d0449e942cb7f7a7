package txn

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pagedb/enginecore/internal/disk"
	"github.com/pagedb/enginecore/internal/enginefs"
	"github.com/pagedb/enginecore/internal/page"
)

func openTestDisk(t *testing.T) *disk.Service {
	t.Helper()

	stream := enginefs.NewMemoryStream()
	svc, err := disk.Open(stream, "")
	require.NoError(t, err)

	return svc
}

func TestSnapshot_NewPageThenCommitMakesItVisible(t *testing.T) {
	t.Parallel()

	svc := openTestDisk(t)

	s := New(svc, ModeWrite, "people", 1<<30)

	p, err := s.NewPage(page.TypeData)
	require.NoError(t, err)

	_, err = p.Insert([]byte("alice"))
	require.NoError(t, err)

	require.NoError(t, s.Commit(func() {}))

	reader := New(svc, ModeRead, "people", 1<<30)

	got, err := reader.GetPage(p.Header().PageID)
	require.NoError(t, err)

	data, err := got.Get(0)
	require.NoError(t, err)
	require.Equal(t, "alice", string(data))
}

func TestSnapshot_RollbackReturnsNewPagesToFreeList(t *testing.T) {
	t.Parallel()

	svc := openTestDisk(t)

	s := New(svc, ModeWrite, "people", 1<<30)

	p, err := s.NewPage(page.TypeData)
	require.NoError(t, err)
	allocated := p.Header().PageID

	s.Rollback(func() {})

	svc.HeaderMutex().Lock()
	head := svc.HeaderPage().FreeEmptyPageList
	svc.HeaderMutex().Unlock()

	require.Equal(t, allocated, head, "rolled-back new page should be returned to the free list")
}

func TestSnapshot_NewPageReusesFreedPage(t *testing.T) {
	t.Parallel()

	svc := openTestDisk(t)

	s1 := New(svc, ModeWrite, "people", 1<<30)
	p1, err := s1.NewPage(page.TypeData)
	require.NoError(t, err)
	firstID := p1.Header().PageID
	require.NoError(t, s1.Commit(func() {}))

	s2 := New(svc, ModeWrite, "people", 1<<30)
	s2.DeletePage(firstID)
	require.NoError(t, s2.Commit(func() {}))

	s3 := New(svc, ModeWrite, "people", 1<<30)
	reused, err := s3.NewPage(page.TypeData)
	require.NoError(t, err)
	require.Equal(t, firstID, reused.Header().PageID)
}

func TestCheckpoint_WritesHomeOffsetsAndResetsLog(t *testing.T) {
	t.Parallel()

	svc := openTestDisk(t)

	s := New(svc, ModeWrite, "people", 1<<30)
	p, err := s.NewPage(page.TypeData)
	require.NoError(t, err)
	pageID := p.Header().PageID

	_, err = p.Insert([]byte("bob"))
	require.NoError(t, err)

	require.NoError(t, s.Commit(func() {}))

	require.NoError(t, Checkpoint(svc))

	buf := make([]byte, page.Size)
	_, err = svc.Stream().ReadAt(buf, int64(pageID)*page.Size)
	require.NoError(t, err)

	reparsed, err := page.Wrap(buf)
	require.NoError(t, err)
	data, err := reparsed.Get(0)
	require.NoError(t, err)
	require.Equal(t, "bob", string(data))

	require.Equal(t, svc.LogStartPosition(), svc.LogEndPosition())
}
