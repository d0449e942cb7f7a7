package diskqueue

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	enginecache "github.com/pagedb/enginecore/internal/cache"
	"github.com/pagedb/enginecore/internal/enginefs"
	"github.com/pagedb/enginecore/internal/page"
)

func newSharedBuffer(id uint32, content string) *enginecache.PageBuffer {
	buf := make([]byte, page.Size)
	p := page.New(buf, id, page.TypeData)
	_, _ = p.Insert([]byte(content))

	pb := enginecache.NewPageBuffer(id, p)
	pb.TryAcquireRead()

	return pb
}

func TestQueue_WritesAndFlushesOnWait(t *testing.T) {
	t.Parallel()

	stream := enginefs.NewMemoryStream()
	require.NoError(t, stream.SetLength(3*page.Size))

	released := make(chan uint64, 1)
	q := New(stream, func(pos uint64, buf *enginecache.PageBuffer) {
		buf.ReleaseRead()
		released <- pos
	})
	q.Run()

	pb := newSharedBuffer(1, "payload")
	q.Enqueue(page.Size, pb)
	q.Wait()

	select {
	case pos := <-released:
		require.Equal(t, uint64(page.Size), pos)
	default:
		t.Fatal("expected buffer to be released after Wait")
	}

	got := make([]byte, page.Size)
	_, err := stream.ReadAt(got, page.Size)
	require.NoError(t, err)

	reparsed, err := page.Wrap(got)
	require.NoError(t, err)
	data, err := reparsed.Get(0)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}

type failingStream struct {
	enginefs.Stream
}

func (f failingStream) WriteAt(p []byte, off int64) (int, error) {
	return 0, errors.New("disk full")
}

func TestQueue_IOFailureSticksFatal(t *testing.T) {
	t.Parallel()

	inner := enginefs.NewMemoryStream()
	require.NoError(t, inner.SetLength(page.Size))

	q := New(failingStream{Stream: inner}, func(pos uint64, buf *enginecache.PageBuffer) {
		buf.ReleaseRead()
	})
	q.Run()

	pb := newSharedBuffer(1, "x")
	q.Enqueue(0, pb)
	q.Wait()

	require.Error(t, q.Err())

	pb2 := newSharedBuffer(2, "y")
	q.Enqueue(0, pb2)
	q.Wait()
	require.Error(t, q.Err(), "engine stays fatally broken until restart")
}
