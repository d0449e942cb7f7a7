// Package diskqueue implements the disk writer queue from spec.md §4.4: an
// MPSC queue of readable page buffers drained by a single worker goroutine
// that writes each page at the byte offset it was enqueued with (the disk
// service passes log offsets) and flushes the stream when it reaches a Wait
// barrier; there is no flush when the queue merely runs empty.
//
// Grounded on the teacher's single-writer coordination idiom in
// pkg/slotcache/writer.go/writer_lock.go (one writer owns the mutation
// path; everyone else only reads) and the durable-flush barrier pkg/fs's
// crash/writeback helpers implement. Go's channels are the idiomatic MPSC
// queue here rather than a hand-rolled lock-free ring buffer, since nothing
// in the corpus hand-rolls one either.
package diskqueue

import (
	"sync"
	"sync/atomic"

	"github.com/pagedb/enginecore/internal/cache"
	"github.com/pagedb/enginecore/internal/enginefs"
)

// item is one page buffer queued for a write at a known byte offset.
type item struct {
	pos    uint64
	buf    *cache.PageBuffer
	barrier chan struct{} // non-nil for a Wait() sentinel
}

// Queue is the disk writer queue. The zero value is not usable; use New.
type Queue struct {
	stream  enginefs.Stream
	release func(pos uint64, buf *cache.PageBuffer)

	ch chan item

	mu      sync.Mutex
	running bool

	fatal atomic.Pointer[error]
}

// New returns a queue that writes pages to stream and calls release after
// each successful write to drop the worker's read claim on the buffer.
func New(stream enginefs.Stream, release func(pos uint64, buf *cache.PageBuffer)) *Queue {
	return &Queue{
		stream:  stream,
		release: release,
		ch:      make(chan item, 4096),
	}
}

// Err returns the sticky fatal error, if the worker has stopped after an I/O
// failure (spec.md §4.4: "subsequent operations fail with a persistent-I/O
// error until restart").
func (q *Queue) Err() error {
	if p := q.fatal.Load(); p != nil {
		return *p
	}

	return nil
}

// Enqueue adds buf (a readable buffer, ShareCounter > 0) for a write at pos.
// Enqueue panics if buf is not currently shared, matching the teacher's
// practice of asserting preconditions that indicate a caller bug rather than
// a runtime condition.
func (q *Queue) Enqueue(pos uint64, buf *cache.PageBuffer) {
	if !buf.Shared() {
		panic("diskqueue: Enqueue requires a shared (readable) buffer")
	}

	q.ch <- item{pos: pos, buf: buf}
}

// Run starts the worker goroutine if it is not already running. Idempotent.
func (q *Queue) Run() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	q.running = true

	go q.work()
}

func (q *Queue) work() {
	for it := range q.ch {
		if it.barrier != nil {
			if err := q.stream.FlushToDisk(); err != nil {
				q.setFatal(err)
			}

			close(it.barrier)

			continue
		}

		if q.Err() != nil {
			// Engine is fatally broken; drop remaining work but still
			// release the claim so callers aren't stuck waiting forever.
			q.release(it.pos, it.buf)

			continue
		}

		if _, err := q.stream.WriteAt(it.buf.Page().Bytes(), int64(it.pos)); err != nil {
			q.setFatal(err)
		}

		q.release(it.pos, it.buf)
	}
}

func (q *Queue) setFatal(err error) {
	e := err
	q.fatal.CompareAndSwap(nil, &e)
}

// Wait blocks until the worker has drained every item enqueued before this
// call and flushed the stream. It does not start the worker; call Run first.
func (q *Queue) Wait() {
	done := make(chan struct{})
	q.ch <- item{barrier: done}
	<-done
}
