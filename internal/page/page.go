// Package page implements the on-disk page format from spec.md §3/§6: a
// fixed-size, slotted byte buffer with a 32-byte header, a footer slot
// table growing down from the end of the page, and typed views over that
// layout for the header, collection, data and index page kinds.
//
// The binary layout (field offsets, little-endian encode/decode) is
// grounded on the teacher's SLC1 header codec in
// pkg/slotcache/format.go — named offset constants plus
// encoding/binary.LittleEndian reads/writes into a fixed-size buffer.
package page

import (
	"encoding/binary"

	"github.com/pagedb/enginecore/internal/enginerr"
)

// Size is PAGE_SIZE from spec.md §3: every page is exactly this many bytes.
const Size = 8192

// HeaderSize is the fixed 32-byte page header described in spec.md §6.
const HeaderSize = 32

// SlotEntrySize is the size of one footer slot entry: (offset:u16, length:u16).
const SlotEntrySize = 4

// EmptySlot is the sentinel slot index meaning "no slot" (spec.md §3).
const EmptySlot = 0xFF

// MaxU32 is the "no page" sentinel used by free-list heads (spec.md §3).
const MaxU32 = ^uint32(0)

// Type is the page's tagged kind, dispatched on explicitly rather than by
// embedding or interface polymorphism (spec.md §9: "Dynamic dispatch on
// page type is a tagged variant").
type Type uint8

const (
	TypeEmpty Type = iota
	TypeHeader
	TypeCollection
	TypeData
	TypeIndex
)

func (t Type) String() string {
	switch t {
	case TypeEmpty:
		return "Empty"
	case TypeHeader:
		return "Header"
	case TypeCollection:
		return "Collection"
	case TypeData:
		return "Data"
	case TypeIndex:
		return "Index"
	default:
		return "Unknown"
	}
}

// Address addresses one variable-length record inside a page: PageAddress
// from spec.md §3 (`PageAddress = (PageID:u32, Index:u8)`).
type Address struct {
	PageID uint32
	Index  uint8
}

// NoAddress is the sentinel meaning "no page/slot" for a PageAddress field.
var NoAddress = Address{PageID: MaxU32, Index: EmptySlot}

// IsNone reports whether the address is the sentinel NoAddress.
func (a Address) IsNone() bool { return a.PageID == MaxU32 }

// Header is the fixed 32-byte page header (spec.md §6 field table).
type Header struct {
	PageID           uint32
	PageType         Type
	PrevPageID       uint32
	NextPageID       uint32
	ItemsCount       uint16
	UsedBytes        uint16
	FragmentedBytes  uint16
	NextFreePosition uint16
	HighestIndex     uint8
	TransactionID    uint32
	IsConfirmed      bool
	ColID            uint32
	PageListSlot     uint8
}

// header field byte offsets, per spec.md §6.
const (
	offPageID           = 0
	offPageType         = 4
	offPrevPageID       = 5
	offNextPageID       = 9
	offItemsCount       = 13
	offUsedBytes        = 15
	offFragmentedBytes  = 17
	offNextFreePosition = 19
	offHighestIndex     = 21
	offTransactionID    = 22
	offIsConfirmed      = 26
	offColID            = 27
	offPageListSlot     = 31
)

func encodeHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint32(buf[offPageID:], h.PageID)
	buf[offPageType] = byte(h.PageType)
	binary.LittleEndian.PutUint32(buf[offPrevPageID:], h.PrevPageID)
	binary.LittleEndian.PutUint32(buf[offNextPageID:], h.NextPageID)
	binary.LittleEndian.PutUint16(buf[offItemsCount:], h.ItemsCount)
	binary.LittleEndian.PutUint16(buf[offUsedBytes:], h.UsedBytes)
	binary.LittleEndian.PutUint16(buf[offFragmentedBytes:], h.FragmentedBytes)
	binary.LittleEndian.PutUint16(buf[offNextFreePosition:], h.NextFreePosition)
	buf[offHighestIndex] = h.HighestIndex
	binary.LittleEndian.PutUint32(buf[offTransactionID:], h.TransactionID)

	if h.IsConfirmed {
		buf[offIsConfirmed] = 1
	} else {
		buf[offIsConfirmed] = 0
	}

	binary.LittleEndian.PutUint32(buf[offColID:], h.ColID)
	buf[offPageListSlot] = h.PageListSlot
}

func decodeHeader(buf []byte) Header {
	return Header{
		PageID:           binary.LittleEndian.Uint32(buf[offPageID:]),
		PageType:         Type(buf[offPageType]),
		PrevPageID:       binary.LittleEndian.Uint32(buf[offPrevPageID:]),
		NextPageID:       binary.LittleEndian.Uint32(buf[offNextPageID:]),
		ItemsCount:       binary.LittleEndian.Uint16(buf[offItemsCount:]),
		UsedBytes:        binary.LittleEndian.Uint16(buf[offUsedBytes:]),
		FragmentedBytes:  binary.LittleEndian.Uint16(buf[offFragmentedBytes:]),
		NextFreePosition: binary.LittleEndian.Uint16(buf[offNextFreePosition:]),
		HighestIndex:     buf[offHighestIndex],
		TransactionID:    binary.LittleEndian.Uint32(buf[offTransactionID:]),
		IsConfirmed:      buf[offIsConfirmed] != 0,
		ColID:            binary.LittleEndian.Uint32(buf[offColID:]),
		PageListSlot:     buf[offPageListSlot],
	}
}

// Page is a typed view over one PAGE_SIZE byte buffer. The buffer's
// ownership lives in the caller (normally a cache.PageBuffer); Page never
// copies it, matching spec.md §9's "pages hold only indices [into] the
// memory cache".
type Page struct {
	buf []byte
	hdr Header
}

// Wrap parses an existing PAGE_SIZE buffer's header and slot table.
func Wrap(buf []byte) (*Page, error) {
	if len(buf) != Size {
		return nil, enginerr.Newf(enginerr.CodeCorruption, "page: buffer is %d bytes, want %d", len(buf), Size)
	}

	return &Page{buf: buf, hdr: decodeHeader(buf)}, nil
}

// New initializes a zeroed PAGE_SIZE buffer as a fresh page of the given
// type and ID. buf must already be Size bytes and zero-filled.
func New(buf []byte, id uint32, typ Type) *Page {
	h := Header{
		PageID:           id,
		PageType:         typ,
		PrevPageID:       MaxU32,
		NextPageID:       MaxU32,
		NextFreePosition: HeaderSize,
		HighestIndex:     EmptySlot,
		ColID:            MaxU32,
	}

	p := &Page{buf: buf, hdr: h}
	p.writeHeader()

	return p
}

func (p *Page) writeHeader() { encodeHeader(p.buf, p.hdr) }

// Header returns a copy of the page's current header fields.
func (p *Page) Header() Header { return p.hdr }

// SetHeader replaces the header fields and persists them into the buffer.
func (p *Page) SetHeader(h Header) {
	p.hdr = h
	p.writeHeader()
}

// Bytes returns the underlying PAGE_SIZE buffer. Callers must not retain
// it past the PageBuffer's release, since the cache may recycle it.
func (p *Page) Bytes() []byte { return p.buf }

// FreeBytes reports how many contiguous bytes remain between
// NextFreePosition and the footer slot table, i.e. the room available for a
// new slot without defragmenting; FragmentedBytes are not counted. This is
// the value consulted by the free-data-page slot selection in spec.md §4.7.
func (p *Page) FreeBytes() int {
	footerUsed := int(p.hdr.HighestIndexCount()) * SlotEntrySize
	used := int(p.hdr.NextFreePosition) + footerUsed
	free := Size - used

	if free < 0 {
		return 0
	}

	return free
}

// HighestIndexCount returns the number of footer slot entries currently
// addressable (HighestIndex+1), or 0 if the page holds no live slots.
func (h Header) HighestIndexCount() int {
	if h.HighestIndex == EmptySlot {
		return 0
	}

	return int(h.HighestIndex) + 1
}

func slotEntryOffset(index int) int {
	return Size - (index+1)*SlotEntrySize
}

func (p *Page) readSlotEntry(index int) (offset, length uint16) {
	o := slotEntryOffset(index)

	return binary.LittleEndian.Uint16(p.buf[o:]), binary.LittleEndian.Uint16(p.buf[o+2:])
}

func (p *Page) writeSlotEntry(index int, offset, length uint16) {
	o := slotEntryOffset(index)
	binary.LittleEndian.PutUint16(p.buf[o:], offset)
	binary.LittleEndian.PutUint16(p.buf[o+2:], length)
}

// Get returns the raw bytes stored at slot, or CodeCorruption if the slot
// is out of range or marked empty.
func (p *Page) Get(slot uint8) ([]byte, error) {
	if p.hdr.HighestIndex == EmptySlot || int(slot) > int(p.hdr.HighestIndex) {
		return nil, enginerr.New(enginerr.CodeCorruption, "page: slot out of range")
	}

	off, length := p.readSlotEntry(int(slot))
	if length == 0 && off == 0 {
		return nil, enginerr.New(enginerr.CodeCorruption, "page: slot is empty")
	}

	return p.buf[off : off+length], nil
}

// Insert writes data into a new slot, growing HighestIndex and
// NextFreePosition, and returns the assigned slot index.
//
// Insert does not defragment; callers needing a compact layout call
// Defragment first. Returns a CodeCorruption error if the page has no room
// (callers are expected to have checked FreeBytes first
// via the free-data-page slot selection in spec.md §4.7).
func (p *Page) Insert(data []byte) (uint8, error) {
	needed := len(data) + SlotEntrySize
	if needed > p.FreeBytes() {
		return 0, enginerr.New(enginerr.CodeCorruption, "page: insert does not fit")
	}

	slot := p.nextFreeSlotIndex()

	off := p.hdr.NextFreePosition
	copy(p.buf[off:], data)
	p.writeSlotEntry(int(slot), off, uint16(len(data)))

	p.hdr.NextFreePosition = off + uint16(len(data))
	p.hdr.ItemsCount++

	if p.hdr.HighestIndex == EmptySlot || slot > p.hdr.HighestIndex {
		p.hdr.HighestIndex = slot
	}

	p.hdr.UsedBytes += uint16(len(data))
	p.writeHeader()

	return slot, nil
}

// nextFreeSlotIndex finds a slot index to reuse (one marked empty below
// HighestIndex) or appends a new one, keeping dense allocation compact per
// spec.md §3 ("the highest live index is tracked so dense allocation stays
// compact").
func (p *Page) nextFreeSlotIndex() uint8 {
	for i := 0; i <= int(p.hdr.HighestIndex) && p.hdr.HighestIndex != EmptySlot; i++ {
		off, length := p.readSlotEntry(i)
		if off == 0 && length == 0 {
			return uint8(i)
		}
	}

	if p.hdr.HighestIndex == EmptySlot {
		return 0
	}

	return p.hdr.HighestIndex + 1
}

// Delete removes a slot's data, marking it empty. If it was the highest
// slot, HighestIndex walks back to the new highest live slot (or EmptySlot
// if the page became empty). FragmentedBytes accrues the freed payload
// size; Defragment later reclaims it.
func (p *Page) Delete(slot uint8) error {
	if p.hdr.HighestIndex == EmptySlot || slot > p.hdr.HighestIndex {
		return enginerr.New(enginerr.CodeCorruption, "page: delete out of range")
	}

	off, length := p.readSlotEntry(int(slot))
	if off == 0 && length == 0 {
		return enginerr.New(enginerr.CodeCorruption, "page: slot already empty")
	}

	p.writeSlotEntry(int(slot), 0, 0)
	p.hdr.ItemsCount--
	p.hdr.FragmentedBytes += length
	p.hdr.UsedBytes -= length

	if slot == p.hdr.HighestIndex {
		p.hdr.HighestIndex = p.newHighestIndex(slot)
	}

	p.writeHeader()

	return nil
}

func (p *Page) newHighestIndex(from uint8) uint8 {
	for i := int(from) - 1; i >= 0; i-- {
		off, length := p.readSlotEntry(i)
		if !(off == 0 && length == 0) {
			return uint8(i)
		}
	}

	return EmptySlot
}

// Defragment repacks live slot payloads contiguously from HeaderSize,
// clearing FragmentedBytes and resetting NextFreePosition.
func (p *Page) Defragment() {
	if p.hdr.HighestIndex == EmptySlot {
		p.hdr.NextFreePosition = HeaderSize
		p.hdr.FragmentedBytes = 0
		p.writeHeader()

		return
	}

	type liveSlot struct {
		index int
		data  []byte
	}

	live := make([]liveSlot, 0, int(p.hdr.HighestIndex)+1)

	for i := 0; i <= int(p.hdr.HighestIndex); i++ {
		off, length := p.readSlotEntry(i)
		if off == 0 && length == 0 {
			continue
		}

		data := make([]byte, length)
		copy(data, p.buf[off:off+length])
		live = append(live, liveSlot{index: i, data: data})
	}

	cursor := uint16(HeaderSize)

	for _, s := range live {
		copy(p.buf[cursor:], s.data)
		p.writeSlotEntry(s.index, cursor, uint16(len(s.data)))
		cursor += uint16(len(s.data))
	}

	p.hdr.NextFreePosition = cursor
	p.hdr.FragmentedBytes = 0
	p.writeHeader()
}

// IsEmpty reports whether the page has no live slots.
func (p *Page) IsEmpty() bool { return p.hdr.HighestIndex == EmptySlot }
