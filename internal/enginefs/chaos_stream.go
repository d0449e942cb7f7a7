package enginefs

import (
	"io"
	"math/rand/v2"
	"sync"
)

// ChaosConfig controls fault injection rates for ChaosStream. Each rate is a
// probability in [0,1] checked independently per call. The zero value
// disables all injection. Grounded on the teacher's pkg/fs.ChaosConfig,
// narrowed to the subset of failure modes that matter for a single
// random-access stream rather than a whole path-addressed filesystem.
type ChaosConfig struct {
	// WriteFailRate fails WriteAt entirely, writing zero bytes.
	WriteFailRate float64

	// PartialWriteRate writes only the first half of the buffer and returns
	// io.ErrShortWrite with the short byte count.
	PartialWriteRate float64

	// SyncFailRate fails FlushToDisk, simulating fsync surfacing a delayed
	// write error.
	SyncFailRate float64
}

// ChaosStream wraps a Stream and injects faults per ChaosConfig, for tests
// exercising the disk/txn layers' error handling paths.
type ChaosStream struct {
	mu     sync.Mutex
	inner  Stream
	cfg    ChaosConfig
	rng    *rand.Rand
	active bool
}

// NewChaosStream wraps inner with fault injection seeded deterministically
// from seed so failing tests are reproducible.
func NewChaosStream(inner Stream, cfg ChaosConfig, seed uint64) *ChaosStream {
	return &ChaosStream{
		inner:  inner,
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		active: true,
	}
}

// SetActive toggles fault injection on or off without replacing the stream.
func (c *ChaosStream) SetActive(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active = active
}

func (c *ChaosStream) ReadAt(p []byte, off int64) (int, error) {
	return c.inner.ReadAt(p, off)
}

func (c *ChaosStream) WriteAt(p []byte, off int64) (int, error) {
	c.mu.Lock()
	fail, partial := c.rollWrite()
	c.mu.Unlock()

	if fail {
		return 0, io.ErrClosedPipe
	}

	if partial && len(p) > 1 {
		short := p[:len(p)/2]
		n, err := c.inner.WriteAt(short, off)

		if err != nil {
			return n, err
		}

		return n, io.ErrShortWrite
	}

	return c.inner.WriteAt(p, off)
}

func (c *ChaosStream) rollWrite() (fail, partial bool) {
	if !c.active {
		return false, false
	}

	if c.cfg.WriteFailRate > 0 && c.rng.Float64() < c.cfg.WriteFailRate {
		return true, false
	}

	if c.cfg.PartialWriteRate > 0 && c.rng.Float64() < c.cfg.PartialWriteRate {
		return false, true
	}

	return false, false
}

func (c *ChaosStream) Length() (int64, error) { return c.inner.Length() }

func (c *ChaosStream) SetLength(size int64) error { return c.inner.SetLength(size) }

func (c *ChaosStream) FlushToDisk() error {
	c.mu.Lock()
	fail := c.active && c.cfg.SyncFailRate > 0 && c.rng.Float64() < c.cfg.SyncFailRate
	c.mu.Unlock()

	if fail {
		return io.ErrClosedPipe
	}

	return c.inner.FlushToDisk()
}

func (c *ChaosStream) Close() error { return c.inner.Close() }

var _ Stream = (*ChaosStream)(nil)
