package lockmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pagedb/enginecore/internal/enginerr"
)

func TestManager_DatabaseReadersConcurrent(t *testing.T) {
	t.Parallel()

	m := New(time.Second)

	r1, err := m.AcquireDatabaseRead(context.Background())
	require.NoError(t, err)

	r2, err := m.AcquireDatabaseRead(context.Background())
	require.NoError(t, err)

	r1()
	r2()
}

func TestManager_DatabaseWriteExcludesReaders(t *testing.T) {
	t.Parallel()

	m := New(50 * time.Millisecond)

	release, err := m.AcquireDatabaseWrite(context.Background())
	require.NoError(t, err)

	_, err = m.AcquireDatabaseRead(context.Background())
	require.Error(t, err)
	require.Equal(t, enginerr.CodeLockTimeout, enginerr.CodeOf(err))

	release()

	r, err := m.AcquireDatabaseRead(context.Background())
	require.NoError(t, err)
	r()
}

func TestManager_AcquireCollections_UnsortedNamesLeaveDisjointCollectionFree(t *testing.T) {
	t.Parallel()

	m := New(time.Second)

	release, err := m.AcquireCollections(context.Background(), "zebra", "alpha")
	require.NoError(t, err)
	defer release()

	// Alpha and zebra are each locked; a disjoint collection is free.
	release2, err := m.AcquireCollections(context.Background(), "middle")
	require.NoError(t, err)
	release2()
}

func TestManager_AcquireCollections_TimesOutOnContention(t *testing.T) {
	t.Parallel()

	m := New(30 * time.Millisecond)

	release, err := m.AcquireCollections(context.Background(), "people")
	require.NoError(t, err)
	defer release()

	_, err = m.AcquireCollections(context.Background(), "people")
	require.Error(t, err)
	require.Equal(t, enginerr.CodeLockTimeout, enginerr.CodeOf(err))
}
