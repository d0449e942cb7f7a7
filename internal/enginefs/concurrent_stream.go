package enginefs

import "sync"

// ConcurrentStream serializes all access to a shared Stream behind one mutex.
// Every Stream method already accepts an explicit offset, so this adds no new
// positioning state; it exists purely to let callers that can't otherwise
// guarantee non-overlapping access (for example ad-hoc maintenance tools)
// share a single underlying FileStream safely.
type ConcurrentStream struct {
	mu    sync.Mutex
	inner Stream
}

// NewConcurrentStream wraps inner with a single mutex guarding every call.
func NewConcurrentStream(inner Stream) *ConcurrentStream {
	return &ConcurrentStream{inner: inner}
}

func (c *ConcurrentStream) ReadAt(p []byte, off int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.inner.ReadAt(p, off)
}

func (c *ConcurrentStream) WriteAt(p []byte, off int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.inner.WriteAt(p, off)
}

func (c *ConcurrentStream) Length() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.inner.Length()
}

func (c *ConcurrentStream) SetLength(size int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.inner.SetLength(size)
}

func (c *ConcurrentStream) FlushToDisk() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.inner.FlushToDisk()
}

func (c *ConcurrentStream) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.inner.Close()
}

var _ Stream = (*ConcurrentStream)(nil)
