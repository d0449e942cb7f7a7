package index

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pagedb/enginecore/internal/bsonvalue"
	"github.com/pagedb/enginecore/internal/disk"
	"github.com/pagedb/enginecore/internal/enginefs"
	"github.com/pagedb/enginecore/internal/enginerr"
	"github.com/pagedb/enginecore/internal/page"
	"github.com/pagedb/enginecore/internal/txn"
)

func openTestDisk(t *testing.T) *disk.Service {
	t.Helper()

	stream := enginefs.NewMemoryStream()
	svc, err := disk.Open(stream, "")
	require.NoError(t, err)

	return svc
}

func newTestCollection(t *testing.T, svc *disk.Service, uniqueSecondary bool) (uint32, func() *txn.Snapshot) {
	t.Helper()

	s := txn.New(svc, txn.ModeWrite, "people", 1<<30)

	p, err := s.NewPage(page.TypeCollection)
	require.NoError(t, err)

	cp := page.InitCollectionPage(p)
	cp.Indexes = append(cp.Indexes, page.NewIndex("byName", "$.name", uniqueSecondary, 1))
	cp.Flush()

	id := p.Header().PageID

	require.NoError(t, s.Commit(func() {}))

	return id, func() *txn.Snapshot { return txn.New(svc, txn.ModeWrite, "people", 1<<30) }
}

func TestService_AddThenFindExact(t *testing.T) {
	t.Parallel()

	svc := openTestDisk(t)
	collID, newSnap := newTestCollection(t, svc, true)

	s := newSnap()
	idxSvc := New(s, collID, bsonvalue.Default())

	_, err := idxSvc.Add("byName", bsonvalue.String("alice"), page.Address{PageID: 7, Index: 0}, page.NoAddress)
	require.NoError(t, err)

	_, err = idxSvc.Add("byName", bsonvalue.String("bob"), page.Address{PageID: 7, Index: 1}, page.NoAddress)
	require.NoError(t, err)

	require.NoError(t, s.Commit(func() {}))

	s2 := newSnap()
	idxSvc2 := New(s2, collID, bsonvalue.Default())

	addr, found, err := idxSvc2.Find("byName", bsonvalue.String("bob"), false, Ascending)
	require.NoError(t, err)
	require.True(t, found)

	node, err := idxSvc2.readNode(addr)
	require.NoError(t, err)
	require.Equal(t, uint32(7), node.DataBlock.PageID)
	require.Equal(t, uint8(1), node.DataBlock.Index)
}

func TestService_AddDuplicateUniqueKeyFails(t *testing.T) {
	t.Parallel()

	svc := openTestDisk(t)
	collID, newSnap := newTestCollection(t, svc, true)

	s := newSnap()
	idxSvc := New(s, collID, bsonvalue.Default())

	_, err := idxSvc.Add("byName", bsonvalue.String("x"), page.Address{PageID: 7, Index: 0}, page.NoAddress)
	require.NoError(t, err)

	_, err = idxSvc.Add("byName", bsonvalue.String("x"), page.Address{PageID: 7, Index: 1}, page.NoAddress)
	require.Error(t, err)

	var ee *enginerr.Error
	require.ErrorAs(t, err, &ee)
	require.Equal(t, enginerr.CodeIndexDuplicateKey, ee.Code)
}

func TestService_RejectsMinMaxValueKeys(t *testing.T) {
	t.Parallel()

	svc := openTestDisk(t)
	collID, newSnap := newTestCollection(t, svc, false)

	s := newSnap()
	idxSvc := New(s, collID, bsonvalue.Default())

	_, err := idxSvc.Add("byName", bsonvalue.MinValue(), page.NoAddress, page.NoAddress)
	require.Error(t, err)

	_, err = idxSvc.Add("byName", bsonvalue.MaxValue(), page.NoAddress, page.NoAddress)
	require.Error(t, err)
}

func TestService_FindAllOrdersAscendingAndDescending(t *testing.T) {
	t.Parallel()

	svc := openTestDisk(t)
	collID, newSnap := newTestCollection(t, svc, false)

	s := newSnap()
	idxSvc := New(s, collID, bsonvalue.Default())

	keys := []string{"charlie", "alice", "bob"}
	for i, k := range keys {
		_, err := idxSvc.Add("byName", bsonvalue.String(k), page.Address{PageID: uint32(i + 1)}, page.NoAddress)
		require.NoError(t, err)
	}

	require.NoError(t, s.Commit(func() {}))

	s2 := newSnap()
	idxSvc2 := New(s2, collID, bsonvalue.Default())

	ascending, err := idxSvc2.FindAll("byName", Ascending)
	require.NoError(t, err)
	require.Len(t, ascending, 3)

	var gotAsc []string

	for _, addr := range ascending {
		n, err := idxSvc2.readNode(addr)
		require.NoError(t, err)
		str, _ := n.Key.AsString()
		gotAsc = append(gotAsc, str)
	}

	require.Equal(t, []string{"alice", "bob", "charlie"}, gotAsc)

	descending, err := idxSvc2.FindAll("byName", Descending)
	require.NoError(t, err)
	require.Len(t, descending, 3)

	var gotDesc []string

	for _, addr := range descending {
		n, err := idxSvc2.readNode(addr)
		require.NoError(t, err)
		str, _ := n.Key.AsString()
		gotDesc = append(gotDesc, str)
	}

	require.Equal(t, []string{"charlie", "bob", "alice"}, gotDesc)
}

func TestService_DeleteSingleUnsplicesNode(t *testing.T) {
	t.Parallel()

	svc := openTestDisk(t)
	collID, newSnap := newTestCollection(t, svc, true)

	s := newSnap()
	idxSvc := New(s, collID, bsonvalue.Default())

	addrA, err := idxSvc.Add("byName", bsonvalue.String("alice"), page.Address{PageID: 1}, page.NoAddress)
	require.NoError(t, err)

	_, err = idxSvc.Add("byName", bsonvalue.String("bob"), page.Address{PageID: 2}, page.NoAddress)
	require.NoError(t, err)

	require.NoError(t, idxSvc.DeleteSingle("byName", addrA))
	require.NoError(t, s.Commit(func() {}))

	s2 := newSnap()
	idxSvc2 := New(s2, collID, bsonvalue.Default())

	_, found, err := idxSvc2.Find("byName", bsonvalue.String("alice"), false, Ascending)
	require.NoError(t, err)
	require.False(t, found)

	all, err := idxSvc2.FindAll("byName", Ascending)
	require.NoError(t, err)
	require.Len(t, all, 1)
}
