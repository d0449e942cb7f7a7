package enginefs

import "sync"

// CrashStream is a test-only Stream that simulates crash consistency for
// scenario 2 of spec.md §8 ("crash mid-commit"). It is grounded on the
// teacher's pkg/fs.Crash: writes land in a working buffer immediately, but
// only become part of the durable snapshot when FlushToDisk succeeds.
// SimulateCrash discards every write made since the last successful flush,
// the same pessimistic durability model pkg/fs.Crash documents.
//
// Not meant for production use.
type CrashStream struct {
	mu      sync.Mutex
	durable []byte
	working []byte
}

// NewCrashStream returns a CrashStream with an empty durable snapshot.
func NewCrashStream() *CrashStream {
	return &CrashStream{}
}

func (c *CrashStream) ReadAt(p []byte, off int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return (&MemoryStream{buf: c.working}).ReadAt(p, off)
}

func (c *CrashStream) WriteAt(p []byte, off int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ms := &MemoryStream{buf: c.working}
	n, err := ms.WriteAt(p, off)
	c.working = ms.buf

	return n, err
}

func (c *CrashStream) Length() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return int64(len(c.working)), nil
}

func (c *CrashStream) SetLength(size int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ms := &MemoryStream{buf: c.working}
	err := ms.SetLength(size)
	c.working = ms.buf

	return err
}

// FlushToDisk promotes the current working buffer to the durable snapshot.
func (c *CrashStream) FlushToDisk() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.durable = append([]byte(nil), c.working...)

	return nil
}

func (c *CrashStream) Close() error { return nil }

// SimulateCrash discards unflushed writes, rolling working back to the last
// durable snapshot. Call this between "before crash" and "after crash" halves
// of a test.
func (c *CrashStream) SimulateCrash() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.working = append([]byte(nil), c.durable...)
}

var _ Stream = (*CrashStream)(nil)
