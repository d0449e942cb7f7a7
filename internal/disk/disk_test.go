package disk

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pagedb/enginecore/internal/cache"
	"github.com/pagedb/enginecore/internal/enginefs"
	"github.com/pagedb/enginecore/internal/enginerr"
	"github.com/pagedb/enginecore/internal/page"
)

func TestOpen_BootstrapsFreshFile(t *testing.T) {
	t.Parallel()

	stream := enginefs.NewMemoryStream()

	svc, err := Open(stream, "")
	require.NoError(t, err)
	require.Equal(t, uint32(0), svc.LastPageID())
	require.Equal(t, uint64(page.Size), svc.LogStartPosition())
	require.Equal(t, uint64(page.Size), svc.LogEndPosition())
}

func TestOpen_RecoversFromExistingFile(t *testing.T) {
	t.Parallel()

	stream := enginefs.NewMemoryStream()
	svc, err := Open(stream, "")
	require.NoError(t, err)

	id, err := svc.AllocatePageID(1 << 30)
	require.NoError(t, err)
	require.Equal(t, uint32(1), id)

	reopened, err := Open(stream, "")
	require.NoError(t, err)
	require.Equal(t, uint32(0), reopened.LastPageID(), "header page was never flushed with the new LastPageID")
}

func TestWriteAsyncThenWait_PersistsToLogRegion(t *testing.T) {
	t.Parallel()

	stream := enginefs.NewMemoryStream()
	svc, err := Open(stream, "")
	require.NoError(t, err)

	pb := svc.Cache().NewPage(1, page.TypeData)
	_, ierr := pb.Page().Insert([]byte("row"))
	require.NoError(t, ierr)

	svc.WriteAsync(nil) // no-op sanity call with empty batch
	svc.WriteAsync([]*cache.PageBuffer{pb})
	svc.Wait()

	got := make([]byte, page.Size)
	_, err = stream.ReadAt(got, int64(svc.LogStartPosition()))
	require.NoError(t, err)

	reparsed, err := page.Wrap(got)
	require.NoError(t, err)
	data, err := reparsed.Get(0)
	require.NoError(t, err)
	require.Equal(t, "row", string(data))
}

func TestOpen_EncryptedWithoutPasswordFails(t *testing.T) {
	t.Parallel()

	stream := enginefs.NewMemoryStream()
	require.NoError(t, stream.SetLength(page.Size))
	_, err := stream.WriteAt([]byte{encryptionMarker}, 0)
	require.NoError(t, err)

	_, err = Open(stream, "")
	require.Error(t, err)
	require.Equal(t, enginerr.CodeEncryptionRequired, enginerr.CodeOf(err))
}
