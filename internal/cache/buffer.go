// Package cache implements the in-memory page buffer pool that sits between
// the disk service and every caller that reads or mutates a page.
//
// PageBuffer's reference-counting model and Cache's segmented map are
// grounded on the teacher's pkg/slotcache/cache.go, adapted from its
// seqlock-generation-counter scheme (readers retry on a torn generation) to
// the explicit atomic share-counter spec.md §3/§4.2 specifies: readers
// increment a non-negative counter, a writer claims the sentinel value
// BufferWritable, and the two are mutually exclusive by construction rather
// than by optimistic retry.
package cache

import (
	"sync/atomic"

	"github.com/pagedb/enginecore/internal/enginerr"
	"github.com/pagedb/enginecore/internal/page"
)

// BufferWritable is the ShareCounter sentinel meaning "one writer holds this
// buffer exclusively". Any non-negative value is the number of concurrent
// readers sharing it.
const BufferWritable = -1

// PageBuffer is one cached page plus its share state. The zero value is not
// usable; construct with NewPageBuffer.
type PageBuffer struct {
	id       uint32
	page     *page.Page
	share    atomic.Int32
	position atomic.Uint64
}

// NewPageBuffer wraps p (a page over exactly page.Size bytes) as a fresh,
// unshared buffer for page id.
func NewPageBuffer(id uint32, p *page.Page) *PageBuffer {
	return &PageBuffer{id: id, page: p}
}

// ID returns the page identity this buffer caches.
func (b *PageBuffer) ID() uint32 { return b.id }

// Page returns the underlying page view. Callers must hold a read or write
// claim on the buffer before touching it.
func (b *PageBuffer) Page() *page.Page { return b.page }

// TryAcquireRead increments the share counter unless a writer holds the
// buffer, returning whether the read claim was granted.
func (b *PageBuffer) TryAcquireRead() bool {
	for {
		cur := b.share.Load()
		if cur == BufferWritable {
			return false
		}

		if b.share.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// ReleaseRead drops one shared read claim.
func (b *PageBuffer) ReleaseRead() {
	if b.share.Add(-1) < 0 {
		panic("cache: ReleaseRead on buffer with no outstanding readers")
	}
}

// TryAcquireWrite claims the buffer exclusively, succeeding only when no
// readers and no other writer currently hold it.
func (b *PageBuffer) TryAcquireWrite() bool {
	return b.share.CompareAndSwap(0, BufferWritable)
}

// ReleaseWrite drops the exclusive write claim, returning the buffer to the
// unshared state.
func (b *PageBuffer) ReleaseWrite() {
	if !b.share.CompareAndSwap(BufferWritable, 0) {
		panic("cache: ReleaseWrite on buffer without a write claim")
	}
}

// MoveToReadable demotes a write claim to a single read claim, used when a
// transaction finishes mutating a page but keeps reading it (spec.md §4.2's
// "publish, then keep a read handle" pattern).
func (b *PageBuffer) MoveToReadable() {
	if !b.share.CompareAndSwap(BufferWritable, 1) {
		panic("cache: MoveToReadable on buffer without a write claim")
	}
}

// IsWritable reports whether a writer currently holds this buffer.
func (b *PageBuffer) IsWritable() bool {
	return b.share.Load() == BufferWritable
}

// Shared reports whether at least one reader currently holds this buffer.
// The disk writer queue requires this before it will enqueue a buffer
// (spec.md §4.4: "enqueue(buf): requires ShareCounter > 0").
func (b *PageBuffer) Shared() bool {
	return b.share.Load() > 0
}

// SetPosition records the log or home byte offset this buffer was last
// placed at, set by Cache.MoveToReadable when a writer publishes a page.
func (b *PageBuffer) SetPosition(pos uint64) {
	b.position.Store(pos)
}

// LastKnownPosition returns the offset set by the most recent SetPosition
// call, or 0 if none has happened yet.
func (b *PageBuffer) LastKnownPosition() uint64 {
	return b.position.Load()
}

// ErrBufferBusy is the error for a buffer that could not be claimed in the
// requested mode. No Cache method returns it; TryAcquireRead and
// TryAcquireWrite report a failed claim with false instead.
var ErrBufferBusy = enginerr.New(enginerr.CodeLockTimeout, "page buffer busy")
