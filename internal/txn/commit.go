package txn

import (
	"sync/atomic"

	"github.com/pagedb/enginecore/internal/cache"
	"github.com/pagedb/enginecore/internal/disk"
	"github.com/pagedb/enginecore/internal/page"
)

// transactionCounter hands out monotonically increasing transaction
// identities stamped onto committed pages; it lives at package scope since
// every snapshot in a process shares one log region, and concurrent writers
// to different collections (spec.md §4.6/§5) can call Commit at the same
// time, so the counter itself must be race-free.
var transactionCounter idCounter

type idCounter struct {
	next atomic.Uint32
}

func (c *idCounter) nextID() uint32 {
	return c.next.Add(1)
}

// Commit implements spec.md §4.9's commit sequence as a single log batch:
//  1. Splice deleted pages onto FreeEmptyPageList.
//  2. Collect dirty pages (excluding the header) and stamp TransactionID;
//     re-encode the header page and append it last, marked confirmed.
//  3. disk.WriteAsync persists the batch to the log; disk.Wait blocks until
//     it is written and flushed, and a sticky writer-queue error is returned.
//  4. Publish every page of the batch, header included, to the WAL index at
//     one new version, bumping CurrentReadVersion.
//
// release is called once all locks this transaction held may be dropped.
func (s *Snapshot) Commit(release func()) error {
	defer release()

	txnID := transactionCounter.nextID()

	s.spliceDeletedPagesOntoFreeList()

	dirtyIDs := s.DirtyPageIDs()
	buffers := make([]*cache.PageBuffer, 0, len(dirtyIDs)+1)

	for _, id := range dirtyIDs {
		p := s.local[id]
		h := p.Header()
		h.TransactionID = txnID
		h.IsConfirmed = false
		p.SetHeader(h)

		buffers = append(buffers, freshWritableBuffer(id, p))
	}

	headerBuf := s.flushHeaderPage(txnID)
	buffers = append(buffers, headerBuf)

	if len(buffers) > 0 {
		last := buffers[len(buffers)-1].Page()
		h := last.Header()
		h.IsConfirmed = true
		last.SetHeader(h)
	}

	s.svc.WriteAsync(buffers)
	s.svc.Wait()

	if err := s.svc.QueueErr(); err != nil {
		return err
	}

	confirmed := make(map[uint32]uint64, len(buffers))
	for _, pb := range buffers {
		confirmed[pb.ID()] = logOffsetOf(pb)
	}

	s.svc.WAL().ConfirmTransaction(confirmed)

	return nil
}

// freshWritableBuffer wraps p (already fully populated) as a writable
// PageBuffer, the state disk.WriteAsync requires before MoveToReadable.
func freshWritableBuffer(id uint32, p *page.Page) *cache.PageBuffer {
	pb := cache.NewPageBuffer(id, p)
	pb.TryAcquireWrite()

	return pb
}

// logOffsetOf recovers the log offset a buffer was written at: disk.Service
// assigns it inside WriteAsync via LogEndPosition and stamps it onto the
// buffer through Cache.MoveToReadable.
func logOffsetOf(pb *cache.PageBuffer) uint64 {
	return pb.LastKnownPosition()
}

// spliceDeletedPagesOntoFreeList chains every page this transaction deleted
// onto the front of HeaderPage.FreeEmptyPageList.
func (s *Snapshot) spliceDeletedPagesOntoFreeList() {
	if len(s.pages.DeletedPages) == 0 {
		return
	}

	s.svc.HeaderMutex().Lock()
	defer s.svc.HeaderMutex().Unlock()

	hp := s.svc.HeaderPage()

	for _, id := range s.pages.DeletedPages {
		buf := make([]byte, page.Size)
		p := page.New(buf, id, page.TypeEmpty)
		h := p.Header()
		h.NextPageID = hp.FreeEmptyPageList
		p.SetHeader(h)

		s.local[id] = p
		s.dirty[id] = true
		hp.FreeEmptyPageList = id
	}
}

// flushHeaderPage re-encodes the header page (new LastPageID already lives
// in disk.Service, collections/pragmas already mutated in place by callers
// via HeaderPage()) and returns it as a writable buffer ready to commit.
func (s *Snapshot) flushHeaderPage(txnID uint32) *cache.PageBuffer {
	s.svc.HeaderMutex().Lock()
	defer s.svc.HeaderMutex().Unlock()

	hp := s.svc.HeaderPage()
	hp.LastPageID = s.svc.LastPageID()
	hp.Flush()

	h := hp.Page().Header()
	h.TransactionID = txnID
	hp.Page().SetHeader(h)

	return freshWritableBuffer(page.HeaderPageID, hp.Page())
}

// Rollback returns NewPages to the free list in memory and drops local
// state; no log writes happen since unconfirmed log pages are already
// invisible and discarded at the next recovery (spec.md §4.9).
func (s *Snapshot) Rollback(release func()) {
	defer release()

	if len(s.pages.NewPages) > 0 {
		s.svc.HeaderMutex().Lock()

		hp := s.svc.HeaderPage()
		for _, id := range s.pages.NewPages {
			buf := make([]byte, page.Size)
			p := page.New(buf, id, page.TypeEmpty)
			h := p.Header()
			h.NextPageID = hp.FreeEmptyPageList
			p.SetHeader(h)
			hp.FreeEmptyPageList = id
		}

		s.svc.HeaderMutex().Unlock()
	}

	s.local = make(map[uint32]*page.Page)
	s.dirty = make(map[uint32]bool)
	s.pages = newTransactionPages()
}

// Checkpoint writes every WAL-indexed page at or below the WAL's current
// read version to its home offset, then clears the log region. Callers must
// hold the database write lock for the duration (spec.md §4.9).
func Checkpoint(svc *disk.Service) error {
	readVersion := svc.WAL().CurrentReadVersion()

	entries := svc.WAL().SnapshotEntries(readVersion)
	if len(entries) == 0 {
		return svc.ResetLogPosition(true)
	}

	buffers := make([]*cache.PageBuffer, 0, len(entries))

	for pageID, offset := range entries {
		buf := make([]byte, page.Size)
		if _, err := svc.Stream().ReadAt(buf, int64(offset)); err != nil {
			return err
		}

		p, err := page.Wrap(buf)
		if err != nil {
			return err
		}

		buffers = append(buffers, cache.NewPageBuffer(pageID, p))
	}

	if err := svc.WriteDirect(buffers); err != nil {
		return err
	}

	svc.WAL().Clear()

	return svc.ResetLogPosition(true)
}
