package cache

import (
	"sort"
	"sync"

	"github.com/pagedb/enginecore/internal/enginefs"
	"github.com/pagedb/enginecore/internal/page"
)

// PositionUnassigned is the sentinel position of a fresh, not-yet-placed
// writable buffer (spec.md §4.2's "Position = LONG_MAX").
const PositionUnassigned = ^uint64(0)

// segmentCount shards the readable index to reduce lock contention across
// unrelated positions, the adaptation of the teacher's per-file registry
// sharding (pkg/slotcache/cache.go) to an in-memory page pool.
const segmentCount = 16

type entry struct {
	buf   *PageBuffer
	pos   uint64
	stamp uint64 // logical timestamp of last release, for eviction ordering
}

type segment struct {
	mu      sync.Mutex
	byPos   map[uint64]*entry
	stampAt uint64
}

// Cache is the segmented readable/writable page buffer pool described by
// spec.md §4.2.
type Cache struct {
	segments   [segmentCount]*segment
	maxEntries int // 0 means unbounded
}

// New creates a Cache. maxEntries caps the number of readable entries kept
// before get_readable/get_writable start evicting unreferenced entries in
// timestamp order; 0 means no ceiling.
func New(maxEntries int) *Cache {
	c := &Cache{maxEntries: maxEntries}
	for i := range c.segments {
		c.segments[i] = &segment{byPos: make(map[uint64]*entry)}
	}

	return c
}

func (c *Cache) segmentFor(pos uint64) *segment {
	return c.segments[(pos/page.Size)%segmentCount]
}

// GetReadable returns the cached readable buffer at pos, incrementing its
// share counter, or reads page.Size bytes from stream and inserts a fresh
// buffer when absent.
func (c *Cache) GetReadable(pos uint64, stream enginefs.Stream) (*PageBuffer, error) {
	seg := c.segmentFor(pos)

	seg.mu.Lock()
	if e, ok := seg.byPos[pos]; ok {
		if e.buf.TryAcquireRead() {
			seg.mu.Unlock()

			return e.buf, nil
		}
	}
	seg.mu.Unlock()

	buf := make([]byte, page.Size)
	if _, err := stream.ReadAt(buf, int64(pos)); err != nil {
		return nil, err
	}

	p, err := page.Wrap(buf)
	if err != nil {
		return nil, err
	}

	pb := NewPageBuffer(p.Header().PageID, p)
	pb.share.Store(1)

	seg.mu.Lock()
	defer seg.mu.Unlock()

	if existing, ok := seg.byPos[pos]; ok && existing.buf.TryAcquireRead() {
		return existing.buf, nil
	}

	c.evictLocked(seg)
	seg.byPos[pos] = &entry{buf: pb, pos: pos}

	return pb, nil
}

// GetWritable obtains an exclusive copy of the page at pos: if a readable
// entry exists there, its bytes are snapshotted into a brand-new buffer so
// readers are never blocked or shared with the writer.
func (c *Cache) GetWritable(pos uint64, stream enginefs.Stream) (*PageBuffer, error) {
	seg := c.segmentFor(pos)

	seg.mu.Lock()
	existing, ok := seg.byPos[pos]
	seg.mu.Unlock()

	raw := make([]byte, page.Size)

	if ok {
		copy(raw, existing.buf.Page().Bytes())
	} else if _, err := stream.ReadAt(raw, int64(pos)); err != nil {
		return nil, err
	}

	p, err := page.Wrap(append([]byte(nil), raw...))
	if err != nil {
		return nil, err
	}

	pb := NewPageBuffer(p.Header().PageID, p)
	pb.share.Store(BufferWritable)

	return pb, nil
}

// NewPage returns a zero-initialised writable buffer not yet placed at any
// position.
func (c *Cache) NewPage(id uint32, typ page.Type) *PageBuffer {
	buf := make([]byte, page.Size)
	p := page.New(buf, id, typ)

	pb := NewPageBuffer(id, p)
	pb.share.Store(BufferWritable)

	return pb
}

// MoveToReadable transitions a writable buffer, now assigned to pos, into
// the readable index with a single reader claim held by the caller.
func (c *Cache) MoveToReadable(pos uint64, pb *PageBuffer) {
	pb.MoveToReadable()
	pb.SetPosition(pos)

	seg := c.segmentFor(pos)

	seg.mu.Lock()
	defer seg.mu.Unlock()

	c.evictLocked(seg)
	seg.byPos[pos] = &entry{buf: pb, pos: pos}
}

// Discard returns a writable buffer to the free pool without publishing it
// anywhere.
func (c *Cache) Discard(pb *PageBuffer) {
	pb.ReleaseWrite()
}

// ReleaseRead drops a read claim and stamps the entry for LRU-style eviction
// ordering once it becomes unreferenced.
func (c *Cache) ReleaseRead(pos uint64, pb *PageBuffer) {
	pb.ReleaseRead()

	seg := c.segmentFor(pos)

	seg.mu.Lock()
	defer seg.mu.Unlock()

	seg.stampAt++
	if e, ok := seg.byPos[pos]; ok {
		e.stamp = seg.stampAt
	}
}

// evictLocked drops unreferenced (ShareCounter == 0) readable entries in
// timestamp order until the segment is back under maxEntries/segmentCount,
// implementing spec.md §4.2's "segments added on demand up to a ceiling,
// after which get_* evicts unreferenced entries in timestamp order".
func (c *Cache) evictLocked(seg *segment) {
	if c.maxEntries <= 0 {
		return
	}

	perSegment := c.maxEntries / segmentCount
	if perSegment < 1 {
		perSegment = 1
	}

	if len(seg.byPos) < perSegment {
		return
	}

	candidates := make([]*entry, 0, len(seg.byPos))

	for _, e := range seg.byPos {
		if e.buf.share.Load() == 0 {
			candidates = append(candidates, e)
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].stamp < candidates[j].stamp })

	for _, e := range candidates {
		if len(seg.byPos) < perSegment {
			return
		}

		delete(seg.byPos, e.pos)
	}
}
