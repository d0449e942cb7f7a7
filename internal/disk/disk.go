// Package disk implements the disk service from spec.md §4.5: it composes
// the durable stream, the memory cache, the WAL index and the writer queue
// into the single entry point transactions read and write pages through.
//
// Grounded on the teacher's pkg/mddb.go Open sequencing (probe file length,
// recover pending state, then serve traffic) adapted from mddb's JSON
// document store to a paged binary file.
package disk

import (
	"sync"
	"sync/atomic"

	"github.com/pagedb/enginecore/internal/cache"
	"github.com/pagedb/enginecore/internal/diskqueue"
	"github.com/pagedb/enginecore/internal/enginefs"
	"github.com/pagedb/enginecore/internal/enginerr"
	"github.com/pagedb/enginecore/internal/page"
	"github.com/pagedb/enginecore/internal/walindex"
)

// encryptionMarker is the byte-0 value Open treats as an encrypted file
// (AesXts in the EncryptionType numbering None=0, AesEcb=1, AesXts=2).
// enginefs.EncryptedStream does not write this marker: its descriptor page
// begins with the random salt.
const encryptionMarker = 0x02

// Service is the open disk service.
type Service struct {
	stream enginefs.Stream
	cache  *cache.Cache
	wal    *walindex.Index
	queue  *diskqueue.Queue

	lastPageID       atomic.Uint32
	logEndPosition   atomic.Uint64
	logStartPosition uint64

	headerMu   sync.Mutex
	headerPage *page.HeaderPage
}

// Open opens (or initialises) a disk service over stream. password is
// required when the underlying file already begins with the encryption
// marker; pass "" for an unencrypted database.
func Open(stream enginefs.Stream, password string) (*Service, error) {
	length, err := stream.Length()
	if err != nil {
		return nil, err
	}

	svc := &Service{stream: stream, cache: cache.New(0), wal: walindex.New()}
	svc.queue = diskqueue.New(stream, func(pos uint64, buf *cache.PageBuffer) {
		svc.cache.ReleaseRead(pos, buf)
	})

	if length == 0 {
		if err := svc.bootstrap(); err != nil {
			return nil, err
		}

		return svc, nil
	}

	marker := make([]byte, 1)
	if _, err := stream.ReadAt(marker, 0); err != nil {
		return nil, err
	}

	if marker[0] == encryptionMarker && password == "" {
		return nil, enginerr.New(enginerr.CodeEncryptionRequired, "database is encrypted, password required")
	}

	hdrBuf := make([]byte, page.Size)
	if _, err := stream.ReadAt(hdrBuf, 0); err != nil {
		return nil, err
	}

	if err := svc.loadHeaderPage(hdrBuf); err != nil {
		return nil, err
	}

	hp := svc.headerPage
	svc.lastPageID.Store(hp.LastPageID)
	svc.logStartPosition = uint64(hp.LastPageID+1) * page.Size

	newEnd, err := svc.wal.Recover(stream, svc.logStartPosition)
	if err != nil {
		return nil, err
	}

	svc.logEndPosition.Store(newEnd)

	// The newest committed header page lives in the log until a checkpoint
	// copies it home, so it takes precedence over the home copy read above.
	if off, ok := svc.wal.GetPageIndex(page.HeaderPageID, svc.wal.CurrentReadVersion()); ok {
		logHdr := make([]byte, page.Size)
		if _, err := stream.ReadAt(logHdr, int64(off)); err != nil {
			return nil, err
		}

		if err := svc.loadHeaderPage(logHdr); err != nil {
			return nil, err
		}

		svc.lastPageID.Store(svc.headerPage.LastPageID)
	}

	return svc, nil
}

func (svc *Service) bootstrap() error {
	if err := svc.stream.SetLength(page.Size); err != nil {
		return err
	}

	buf := make([]byte, page.Size)
	hp := page.NewHeaderPage(buf)
	hp.Flush()

	if _, err := svc.stream.WriteAt(buf, 0); err != nil {
		return err
	}

	svc.headerPage = hp

	if err := svc.stream.FlushToDisk(); err != nil {
		return err
	}

	svc.lastPageID.Store(0)
	svc.logStartPosition = page.Size
	svc.logEndPosition.Store(page.Size)

	return nil
}

// Cache returns the shared memory cache so upper layers can resolve pages
// through it directly.
func (svc *Service) Cache() *cache.Cache { return svc.cache }

// WAL returns the shared WAL index.
func (svc *Service) WAL() *walindex.Index { return svc.wal }

// Stream returns the underlying durable stream (home-offset reads/writes).
func (svc *Service) Stream() enginefs.Stream { return svc.stream }

// LastPageID returns the highest page identity ever allocated.
func (svc *Service) LastPageID() uint32 { return svc.lastPageID.Load() }

// AllocatePageID reserves the next page identity, used when a snapshot's
// FreeEmptyPageList is empty.
func (svc *Service) AllocatePageID(limitSize uint64) (uint32, error) {
	for {
		cur := svc.lastPageID.Load()

		next := cur + 1
		if uint64(next+1)*page.Size > limitSize {
			return 0, enginerr.New(enginerr.CodeDataSizeExceeded, "data file size limit exceeded")
		}

		if svc.lastPageID.CompareAndSwap(cur, next) {
			return next, nil
		}
	}
}

// WriteAsync assigns each buffer in pages a log offset via LogEndPosition,
// moves it into the readable cache, enqueues it for the writer, then starts
// the worker. The last page written should already have IsConfirmed set on
// its header by the caller (internal/txn's Commit).
func (svc *Service) WriteAsync(pages []*cache.PageBuffer) {
	for _, pb := range pages {
		pos := svc.nextLogPosition()
		svc.cache.MoveToReadable(pos, pb)
		svc.queue.Enqueue(pos, pb)
	}

	svc.queue.Run()
}

// nextLogPosition atomically reserves the next log slot, retrying if the
// chosen offset collides with the reserved data-page home-offset region, per
// spec.md §4.5. AllocatePageID can raise LastPageID past where the log
// region was anchored when the session opened (or after the last
// checkpoint), so a freshly computed log slot can land inside the address
// span now reserved for a page's permanent home; any such offset is simply
// abandoned and the next one tried, since fetch_add never hands out the
// same offset twice.
func (svc *Service) nextLogPosition() uint64 {
	for {
		pos := svc.logEndPosition.Add(page.Size) - page.Size
		reserved := uint64(svc.lastPageID.Load()+1) * page.Size

		if pos >= reserved {
			return pos
		}
	}
}

// Wait blocks until every page enqueued by WriteAsync so far has been
// written and the stream flushed.
func (svc *Service) Wait() { svc.queue.Wait() }

// QueueErr returns the sticky fatal error from the writer queue, if any.
func (svc *Service) QueueErr() error { return svc.queue.Err() }

// WriteDirect writes each page synchronously to its home offset (PageID *
// page.Size) and flushes, used by checkpoint.
func (svc *Service) WriteDirect(pages []*cache.PageBuffer) error {
	for _, pb := range pages {
		home := int64(pb.ID()) * page.Size
		if _, err := svc.stream.WriteAt(pb.Page().Bytes(), home); err != nil {
			return err
		}
	}

	return svc.stream.FlushToDisk()
}

// ResetLogPosition sets LogStartPosition = LogEndPosition = (LastPageID+1) *
// page.Size, optionally truncating the file to that length (used after a
// checkpoint).
func (svc *Service) ResetLogPosition(crop bool) error {
	pos := uint64(svc.lastPageID.Load()+1) * page.Size

	svc.logStartPosition = pos
	svc.logEndPosition.Store(pos)

	if crop {
		return svc.stream.SetLength(int64(pos))
	}

	return nil
}

// LogStartPosition returns the current start of the log region.
func (svc *Service) LogStartPosition() uint64 { return svc.logStartPosition }

// LogEndPosition returns the current end of the log region.
func (svc *Service) LogEndPosition() uint64 { return svc.logEndPosition.Load() }

// HeaderMutex serialises access to the header page during allocation and
// pragma mutation (spec.md §4.7: "Access to HeaderPage during allocation is
// serialised by a mutex").
func (svc *Service) HeaderMutex() *sync.Mutex { return &svc.headerMu }
