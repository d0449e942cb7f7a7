package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pagedb/enginecore/internal/bsonvalue"
	"github.com/pagedb/enginecore/internal/enginefs"
	"github.com/pagedb/enginecore/internal/enginerr"
	"github.com/pagedb/enginecore/internal/index"
	"github.com/pagedb/enginecore/internal/page"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()

	e, err := Open(enginefs.NewMemoryStream(), "", nil)
	require.NoError(t, err)

	return e
}

func TestOpen_AppliesPragmaOverridesOnFreshDatabase(t *testing.T) {
	t.Parallel()

	e, err := Open(enginefs.NewMemoryStream(), "", []byte(`{
		// custom bootstrap pragmas
		"checkpoint": 50,
		"collation": "de-DE/IgnoreCase",
	}`))
	require.NoError(t, err)

	require.Equal(t, uint32(50), e.checkpointThreshold())
	require.Equal(t, "de-DE", e.Collation().Culture)
}

func TestCreateCollection_RejectsDuplicateName(t *testing.T) {
	t.Parallel()

	e := openTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.CreateCollection(ctx, "people"))

	err := e.CreateCollection(ctx, "people")
	require.Error(t, err)

	var ee *enginerr.Error
	require.ErrorAs(t, err, &ee)
	require.Equal(t, enginerr.CodeAlreadyExists, ee.Code)
}

func TestDropCollection_FailsOnMissingCollection(t *testing.T) {
	t.Parallel()

	e := openTestEngine(t)
	ctx := context.Background()

	err := e.DropCollection(ctx, "ghosts")
	require.Error(t, err)

	var ee *enginerr.Error
	require.ErrorAs(t, err, &ee)
	require.Equal(t, enginerr.CodeNotFound, ee.Code)
}

func TestInsertFindDelete_RoundTripsThroughPKIndex(t *testing.T) {
	t.Parallel()

	e := openTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.CreateCollection(ctx, "people"))

	key := bsonvalue.String("alice")
	doc := []byte(`{"name":"alice","age":30}`)

	_, err := e.Insert(ctx, "people", key, doc)
	require.NoError(t, err)

	got, found, err := e.FindByPK(ctx, "people", key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, doc, got)

	deleted, err := e.DeleteByPK(ctx, "people", key)
	require.NoError(t, err)
	require.True(t, deleted)

	_, found, err = e.FindByPK(ctx, "people", key)
	require.NoError(t, err)
	require.False(t, found)
}

func TestInsert_RejectsDuplicatePrimaryKey(t *testing.T) {
	t.Parallel()

	e := openTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.CreateCollection(ctx, "people"))

	key := bsonvalue.String("bob")

	_, err := e.Insert(ctx, "people", key, []byte("one"))
	require.NoError(t, err)

	_, err = e.Insert(ctx, "people", key, []byte("two"))
	require.Error(t, err)

	var ee *enginerr.Error
	require.ErrorAs(t, err, &ee)
	require.Equal(t, enginerr.CodeIndexDuplicateKey, ee.Code)
}

func TestInsert_SplitsLargeDocumentsAcrossMultipleDataPages(t *testing.T) {
	t.Parallel()

	e := openTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.CreateCollection(ctx, "blobs"))

	big := make([]byte, 5000)
	for i := range big {
		big[i] = byte('a' + i%26)
	}

	key := bsonvalue.String("blob-1")

	_, err := e.Insert(ctx, "blobs", key, big)
	require.NoError(t, err)

	got, found, err := e.FindByPK(ctx, "blobs", key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, big, got)
}

func TestDropCollection_ReclaimsIndexAndDataPages(t *testing.T) {
	t.Parallel()

	e := openTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.CreateCollection(ctx, "temp"))

	for i := 0; i < 5; i++ {
		key := bsonvalue.String(string(rune('a' + i)))
		require.NoError(t, func() error {
			_, err := e.Insert(ctx, "temp", key, []byte("payload"))
			return err
		}())
	}

	require.NoError(t, e.DropCollection(ctx, "temp"))

	_, found := e.collectionPageID("temp")
	require.False(t, found)

	require.NoError(t, e.CreateCollection(ctx, "temp"))
}

func TestCheckpoint_RunsUnderExclusiveDatabaseLock(t *testing.T) {
	t.Parallel()

	e := openTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.CreateCollection(ctx, "people"))

	_, err := e.Insert(ctx, "people", bsonvalue.String("a"), []byte("doc"))
	require.NoError(t, err)

	require.NoError(t, e.Checkpoint(ctx))
}

func TestMaybeAutoCheckpoint_NoopWhenThresholdDisabled(t *testing.T) {
	t.Parallel()

	e, err := Open(enginefs.NewMemoryStream(), "", []byte(`{"checkpoint": 0}`))
	require.NoError(t, err)

	require.NoError(t, e.maybeAutoCheckpoint(context.Background()))
}

// failAfterStream wraps a Stream and fails every WriteAt call from the Nth
// one onward, letting a test pinpoint "kill the flush mid-commit" at an
// exact page-write boundary (spec.md §8 scenario 2).
type failAfterStream struct {
	inner enginefs.Stream

	mu     sync.Mutex
	writes int
	failAt int // 0 disables
}

func (f *failAfterStream) ReadAt(p []byte, off int64) (int, error) { return f.inner.ReadAt(p, off) }

func (f *failAfterStream) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	f.writes++
	n := f.writes
	fail := f.failAt > 0 && n >= f.failAt
	f.mu.Unlock()

	if fail {
		return 0, errors.New("simulated crash: write failed")
	}

	return f.inner.WriteAt(p, off)
}

func (f *failAfterStream) Length() (int64, error)     { return f.inner.Length() }
func (f *failAfterStream) SetLength(size int64) error { return f.inner.SetLength(size) }
func (f *failAfterStream) FlushToDisk() error         { return f.inner.FlushToDisk() }
func (f *failAfterStream) Close() error               { return f.inner.Close() }

func (f *failAfterStream) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.writes
}

func (f *failAfterStream) armFailAfter(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failAt = n
}

var _ enginefs.Stream = (*failAfterStream)(nil)

// TestCrashMidCommit covers spec.md §8 scenario 2: a transaction that writes
// many pages is interrupted partway through the writer queue's flush.
// Since the page that carries IsConfirmed is always the last one enqueued,
// killing the flush partway through always leaves that marker unwritten, so
// WAL recovery on reopen must discard every page the aborted transaction did
// manage to write and report no confirmed entries for it.
func TestCrashMidCommit_PartialTransactionNeverBecomesVisible(t *testing.T) {
	t.Parallel()

	mem := enginefs.NewMemoryStream()
	fs := &failAfterStream{inner: mem}

	e, err := Open(fs, "", nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, e.CreateCollection(ctx, "docs"))

	// Arm the fault 250 writes into the upcoming large insert, mirroring
	// "at the 250th page-write in the writer queue, kill the flush".
	fs.armFailAfter(fs.writeCount() + 250)

	big := make([]byte, 600*maxFragmentBytes)
	for i := range big {
		big[i] = byte(i)
	}

	_, err = e.Insert(ctx, "docs", bsonvalue.String("big"), big)
	require.Error(t, err)

	reopened, err := Open(mem, "", nil)
	require.NoError(t, err)

	_, found, err := reopened.FindByPK(ctx, "docs", bsonvalue.String("big"))
	require.NoError(t, err)
	require.False(t, found)

	require.Equal(t, reopened.svc.LogStartPosition(), reopened.svc.LogEndPosition())
}

// TestSnapshotIsolation covers spec.md §8 scenario 5: a read snapshot opened
// before a write commits must never observe it, even after the commit
// publishes; a snapshot opened afterward must.
func TestSnapshotIsolation_ReaderOpenedBeforeCommitNeverSeesWrite(t *testing.T) {
	t.Parallel()

	e := openTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.CreateCollection(ctx, "people"))

	readerSnap, readerRelease, err := e.beginRead(ctx, "people")
	require.NoError(t, err)
	defer readerRelease()

	collID, ok := e.collectionPageID("people")
	require.True(t, ok)

	key := bsonvalue.String("1")

	_, err = e.Insert(ctx, "people", key, []byte("alice"))
	require.NoError(t, err)

	cPage, err := readerSnap.GetPage(collID)
	require.NoError(t, err)

	cp, err := page.CollectionPageFromPage(cPage)
	require.NoError(t, err)

	oldView := index.New(readerSnap, collID, e.Collation())

	_, found, err := oldView.Find(cp.PK.Name, key, false, index.Ascending)
	require.NoError(t, err)
	require.False(t, found, "snapshot opened before the commit must not observe it")

	got, found, err := e.FindByPK(ctx, "people", key)
	require.NoError(t, err)
	require.True(t, found, "a snapshot opened after the commit must observe it")
	require.Equal(t, []byte("alice"), got)

	_, found, err = oldView.Find(cp.PK.Name, key, false, index.Ascending)
	require.NoError(t, err)
	require.False(t, found, "the original snapshot must still not observe the write")
}

// TestFreeListReuse covers spec.md §8 scenario 6: bulk delete followed by
// bulk reinsert should recycle freed pages rather than growing the file
// unboundedly.
func TestFreeListReuse_RecyclesPagesAfterBulkDeleteReinsert(t *testing.T) {
	t.Parallel()

	e := openTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.CreateCollection(ctx, "docs"))

	const n = 1000

	for i := 0; i < n; i++ {
		_, err := e.Insert(ctx, "docs", bsonvalue.Int64(int64(i)), []byte("payload"))
		require.NoError(t, err)
	}

	peak := e.svc.LastPageID()

	for i := 0; i < n; i++ {
		deleted, err := e.DeleteByPK(ctx, "docs", bsonvalue.Int64(int64(i)))
		require.NoError(t, err)
		require.True(t, deleted)
	}

	for i := n; i < 2*n; i++ {
		_, err := e.Insert(ctx, "docs", bsonvalue.Int64(int64(i)), []byte("payload"))
		require.NoError(t, err)
	}

	final := e.svc.LastPageID()

	require.LessOrEqualf(t, float64(final), float64(peak)*1.2,
		"final LastPageID %d exceeds 1.2x the post-first-insert peak %d", final, peak)
}
