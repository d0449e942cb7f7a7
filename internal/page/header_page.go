package page

import (
	"encoding/binary"

	"github.com/pagedb/enginecore/internal/enginerr"
)

// HeaderPageID is the fixed page ID of the header page (spec.md §3).
const HeaderPageID = 0

// Pragmas are the key/value configuration fields persisted in the header
// page, per spec.md §6.
type Pragmas struct {
	UserVersion uint32
	Collation   string // "culture/options" string
	TimeoutSecs uint32
	LimitSize   uint64
	UTCDate     bool
	Checkpoint  uint32 // log pages before auto-checkpoint; 0 disables
}

// DefaultPragmas matches the documented defaults (spec.md §6: CHECKPOINT
// default 1000).
func DefaultPragmas() Pragmas {
	return Pragmas{
		Collation:   "en-US/None",
		TimeoutSecs: 60,
		LimitSize:   1 << 40,
		Checkpoint:  1000,
	}
}

// HeaderPage is the typed view over page 0 (spec.md §3).
type HeaderPage struct {
	page *Page

	LastPageID       uint32
	FreeEmptyPageList uint32 // MaxU32 = none
	Collections      map[string]uint32 // name -> CollectionPage ID
	Pragmas          Pragmas
}

// NewHeaderPage initializes a fresh header page over a zeroed buffer.
func NewHeaderPage(buf []byte) *HeaderPage {
	p := New(buf, HeaderPageID, TypeHeader)

	hp := &HeaderPage{
		page:              p,
		LastPageID:        HeaderPageID,
		FreeEmptyPageList: MaxU32,
		Collections:       map[string]uint32{},
		Pragmas:           DefaultPragmas(),
	}
	hp.Flush()

	return hp
}

// WrapHeaderPage parses an existing header page buffer.
func WrapHeaderPage(buf []byte) (*HeaderPage, error) {
	p, err := Wrap(buf)
	if err != nil {
		return nil, err
	}

	if p.Header().PageType != TypeHeader {
		return nil, enginerr.New(enginerr.CodeInvalidDatabase, "page: page 0 is not a header page")
	}

	hp := &HeaderPage{page: p}

	if err := hp.decode(); err != nil {
		return nil, err
	}

	return hp, nil
}

// Page returns the underlying typed page.
func (h *HeaderPage) Page() *Page { return h.page }

// encode serializes LastPageID/FreeEmptyPageList/Collections/Pragmas into
// a single slot-0 payload, within the ~8KB header payload budget named in
// spec.md §3.
func (h *HeaderPage) encode() []byte {
	buf := make([]byte, 0, 256)

	tmp := make([]byte, 4)
	binary.LittleEndian.PutUint32(tmp, h.LastPageID)
	buf = append(buf, tmp...)
	binary.LittleEndian.PutUint32(tmp, h.FreeEmptyPageList)
	buf = append(buf, tmp...)

	binary.LittleEndian.PutUint32(tmp, uint32(len(h.Collections)))
	buf = append(buf, tmp...)

	for name, id := range h.Collections {
		nameBuf := make([]byte, 2)
		binary.LittleEndian.PutUint16(nameBuf, uint16(len(name)))
		buf = append(buf, nameBuf...)
		buf = append(buf, name...)
		binary.LittleEndian.PutUint32(tmp, id)
		buf = append(buf, tmp...)
	}

	buf = append(buf, encodePragmas(h.Pragmas)...)

	return buf
}

func encodePragmas(p Pragmas) []byte {
	buf := make([]byte, 0, 64)
	tmp4 := make([]byte, 4)
	tmp8 := make([]byte, 8)

	binary.LittleEndian.PutUint32(tmp4, p.UserVersion)
	buf = append(buf, tmp4...)

	collBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(collBuf, uint16(len(p.Collation)))
	buf = append(buf, collBuf...)
	buf = append(buf, p.Collation...)

	binary.LittleEndian.PutUint32(tmp4, p.TimeoutSecs)
	buf = append(buf, tmp4...)

	binary.LittleEndian.PutUint64(tmp8, p.LimitSize)
	buf = append(buf, tmp8...)

	if p.UTCDate {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	binary.LittleEndian.PutUint32(tmp4, p.Checkpoint)
	buf = append(buf, tmp4...)

	return buf
}

func decodePragmas(buf []byte, off int) (Pragmas, int, error) {
	if len(buf) < off+4 {
		return Pragmas{}, 0, enginerr.New(enginerr.CodeCorruption, "page: truncated pragmas")
	}

	var p Pragmas
	p.UserVersion = binary.LittleEndian.Uint32(buf[off:])
	off += 4

	if len(buf) < off+2 {
		return Pragmas{}, 0, enginerr.New(enginerr.CodeCorruption, "page: truncated collation length")
	}

	collLen := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2

	if len(buf) < off+collLen {
		return Pragmas{}, 0, enginerr.New(enginerr.CodeCorruption, "page: truncated collation")
	}

	p.Collation = string(buf[off : off+collLen])
	off += collLen

	if len(buf) < off+4+8+1+4 {
		return Pragmas{}, 0, enginerr.New(enginerr.CodeCorruption, "page: truncated pragma tail")
	}

	p.TimeoutSecs = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	p.LimitSize = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	p.UTCDate = buf[off] != 0
	off++
	p.Checkpoint = binary.LittleEndian.Uint32(buf[off:])
	off += 4

	return p, off, nil
}

func (h *HeaderPage) decode() error {
	buf, err := h.page.Get(0)
	if err != nil {
		return enginerr.Wrap(enginerr.CodeCorruption, err, "page: header page slot 0 missing")
	}

	if len(buf) < 12 {
		return enginerr.New(enginerr.CodeCorruption, "page: truncated header payload")
	}

	h.LastPageID = binary.LittleEndian.Uint32(buf)
	h.FreeEmptyPageList = binary.LittleEndian.Uint32(buf[4:])
	count := binary.LittleEndian.Uint32(buf[8:])

	off := 12
	h.Collections = make(map[string]uint32, count)

	for range count {
		if len(buf) < off+2 {
			return enginerr.New(enginerr.CodeCorruption, "page: truncated collection name length")
		}

		nameLen := int(binary.LittleEndian.Uint16(buf[off:]))
		off += 2

		if len(buf) < off+nameLen+4 {
			return enginerr.New(enginerr.CodeCorruption, "page: truncated collection entry")
		}

		name := string(buf[off : off+nameLen])
		off += nameLen
		id := binary.LittleEndian.Uint32(buf[off:])
		off += 4

		h.Collections[name] = id
	}

	pragmas, _, err := decodePragmas(buf, off)
	if err != nil {
		return err
	}

	h.Pragmas = pragmas

	return nil
}

// Flush re-encodes the in-memory fields back into the page's slot 0,
// replacing any previous payload (the header page always has exactly one
// slot: its own bootstrap record).
func (h *HeaderPage) Flush() {
	if !h.page.IsEmpty() {
		_ = h.page.Delete(0)
		h.page.Defragment()
	}

	_, _ = h.page.Insert(h.encode())
}

// AddCollection registers a new collection name -> CollectionPage ID
// mapping. Callers must call Flush afterwards to persist it.
func (h *HeaderPage) AddCollection(name string, collectionPageID uint32) {
	if h.Collections == nil {
		h.Collections = map[string]uint32{}
	}

	h.Collections[name] = collectionPageID
}

// DeleteCollection removes a collection's name -> CollectionPage ID
// mapping, per spec.md §4.7's "drop_collection ... schedules
// HeaderPage::DeleteCollection at commit". Callers must call Flush
// afterwards to persist it.
func (h *HeaderPage) DeleteCollection(name string) {
	delete(h.Collections, name)
}
