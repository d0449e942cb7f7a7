// Package txn implements the transaction-local view over the paged file:
// the Snapshot a caller reads and writes through, its TransactionPages
// bookkeeping, and the commit/rollback/checkpoint state machine from
// spec.md §4.7/§4.9.
//
// Grounded on the teacher's pkg/mddb/tx.go transaction-scoped staging area
// (buffer writes locally, publish atomically on commit) generalised from a
// JSON document diff to a set of dirty binary pages.
package txn

import (
	"github.com/pagedb/enginecore/internal/disk"
	"github.com/pagedb/enginecore/internal/enginerr"
	"github.com/pagedb/enginecore/internal/page"
)

// Mode is whether a snapshot was opened for reading or for reading+writing.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

// TransactionPages aggregates the pages a single transaction has touched:
// which are already durably logged (DirtyPages, pageID -> log offset),
// which were freshly allocated (NewPages), and which were deleted and
// should return to the free list at commit.
type TransactionPages struct {
	DirtyPages map[uint32]uint64
	NewPages   []uint32

	DeletedPages []uint32

	// TransactionSize is the running total of bytes read or written by this
	// transaction, in page.Size units; callers may cap it to bound memory.
	TransactionSize int
}

func newTransactionPages() *TransactionPages {
	return &TransactionPages{DirtyPages: make(map[uint32]uint64)}
}

// Snapshot is the per-transaction view over the disk service described by
// spec.md §4.7.
type Snapshot struct {
	svc            *disk.Service
	mode           Mode
	collectionName string
	readVersion    uint32
	limitSize      uint64

	local map[uint32]*page.Page
	dirty map[uint32]bool

	pages *TransactionPages
}

// New opens a snapshot against svc. readVersion is sampled from the WAL
// index's CurrentReadVersion at creation time, fixing what this snapshot
// can see for its lifetime.
func New(svc *disk.Service, mode Mode, collectionName string, limitSize uint64) *Snapshot {
	return &Snapshot{
		svc:            svc,
		mode:           mode,
		collectionName: collectionName,
		readVersion:    svc.WAL().CurrentReadVersion(),
		limitSize:      limitSize,
		local:          make(map[uint32]*page.Page),
		dirty:          make(map[uint32]bool),
		pages:          newTransactionPages(),
	}
}

// Mode returns the mode this snapshot was opened in.
func (s *Snapshot) Mode() Mode { return s.mode }

// CollectionName returns the collection this snapshot was opened against.
func (s *Snapshot) CollectionName() string { return s.collectionName }

// ReadVersion returns the WAL version this snapshot reads as-of.
func (s *Snapshot) ReadVersion() uint32 { return s.readVersion }

// Pages returns the transaction-wide bookkeeping for this snapshot.
func (s *Snapshot) Pages() *TransactionPages { return s.pages }

// GetPage resolves id through the four-step order from spec.md §4.7: local
// cache, this transaction's already-logged dirty pages, the WAL index at
// ReadVersion, and finally the data file's home offset.
func (s *Snapshot) GetPage(id uint32) (*page.Page, error) {
	if p, ok := s.local[id]; ok {
		return p, nil
	}

	if offset, ok := s.pages.DirtyPages[id]; ok {
		p, err := s.readAt(int64(offset))
		if err != nil {
			return nil, err
		}

		s.local[id] = p
		s.pages.TransactionSize += page.Size

		return p, nil
	}

	if offset, ok := s.svc.WAL().GetPageIndex(id, s.readVersion); ok {
		p, err := s.readAt(int64(offset))
		if err != nil {
			return nil, err
		}

		// The log page's commit metadata belongs to the WAL entry, not the
		// logical page; readers must not see it as part of the page itself.
		h := p.Header()
		h.TransactionID = 0
		h.IsConfirmed = false
		p.SetHeader(h)

		s.local[id] = p
		s.pages.TransactionSize += page.Size

		return p, nil
	}

	home := int64(id) * page.Size

	p, err := s.readAt(home)
	if err != nil {
		return nil, err
	}

	s.local[id] = p
	s.pages.TransactionSize += page.Size

	return p, nil
}

func (s *Snapshot) readAt(offset int64) (*page.Page, error) {
	buf := make([]byte, page.Size)
	if _, err := s.svc.Stream().ReadAt(buf, offset); err != nil {
		return nil, err
	}

	return page.Wrap(buf)
}

// GetPageForWrite resolves id like GetPage and marks it dirty.
func (s *Snapshot) GetPageForWrite(id uint32) (*page.Page, error) {
	p, err := s.GetPage(id)
	if err != nil {
		return nil, err
	}

	s.dirty[id] = true

	return p, nil
}

// NewPage allocates a fresh page of typ: it pops HeaderPage.FreeEmptyPageList
// if non-empty, otherwise increments LastPageID (bounded by limitSize).
// Access to the header page is serialised by disk.Service's header mutex.
func (s *Snapshot) NewPage(typ page.Type) (*page.Page, error) {
	s.svc.HeaderMutex().Lock()
	hp := s.svc.HeaderPage()
	head := hp.FreeEmptyPageList

	if head != page.MaxU32 {
		freePage, err := s.GetPage(head)
		if err != nil {
			s.svc.HeaderMutex().Unlock()

			return nil, err
		}

		hp.FreeEmptyPageList = freePage.Header().NextPageID
		s.svc.HeaderMutex().Unlock()

		buf := make([]byte, page.Size)
		p := page.New(buf, head, typ)
		s.local[head] = p
		s.dirty[head] = true
		s.pages.NewPages = append(s.pages.NewPages, head)

		return p, nil
	}
	s.svc.HeaderMutex().Unlock()

	id, err := s.svc.AllocatePageID(s.limitSize)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, page.Size)
	p := page.New(buf, id, typ)
	s.local[id] = p
	s.dirty[id] = true
	s.pages.NewPages = append(s.pages.NewPages, id)

	return p, nil
}

// DeletePage marks id as deleted: it is chained onto the free list at
// commit and no longer reachable from any live structure.
func (s *Snapshot) DeletePage(id uint32) {
	s.pages.DeletedPages = append(s.pages.DeletedPages, id)
	delete(s.local, id)
	delete(s.dirty, id)
}

// DirtyPageIDs returns every page this snapshot has modified, excluding the
// header page (pageID 0), which Commit handles separately.
func (s *Snapshot) DirtyPageIDs() []uint32 {
	ids := make([]uint32, 0, len(s.dirty))

	for id := range s.dirty {
		if id == page.HeaderPageID {
			continue
		}

		ids = append(ids, id)
	}

	return ids
}

// ErrTransactionTooLarge is returned when TransactionSize exceeds a
// caller-imposed ceiling; no ceiling is enforced internally.
var ErrTransactionTooLarge = enginerr.New(enginerr.CodeDataSizeExceeded, "transaction exceeds configured size limit")
