package page

import (
	"encoding/binary"

	"github.com/pagedb/enginecore/internal/enginerr"
)

// MaxLevelLength is MAX_LEVEL_LENGTH from spec.md §4.8.
const MaxLevelLength = 32

// FreeDataSlots is the number of free-space buckets a collection's data
// pages are partitioned into (spec.md §3, §4.7).
const FreeDataSlots = 5

// CollectionIndex describes one index (the PK or a secondary) on a
// collection, per spec.md §3.
type CollectionIndex struct {
	Name              string
	Expr              string
	Unique            bool
	Slot              uint8 // [0,255]
	Head              Address
	Tail              Address
	FreeIndexPageList uint32 // MaxU32 = none
	MaxLevel          uint8  // [1,32]
	Reserved          uint8
	KeyCount          uint64
}

// CollectionPage is the typed view over a collection's metadata page
// (spec.md §3). It is stored as a single slot-0 payload, the same pattern
// as HeaderPage.
type CollectionPage struct {
	page *Page

	PK               CollectionIndex
	Indexes          []CollectionIndex // secondary indexes, including PK at Indexes[0]
	FreeDataPageList [FreeDataSlots]uint32
}

// NewCollectionPage initializes a fresh collection page with only a PK
// index ("_id"), matching LiteDB-style collection bootstrap.
func NewCollectionPage(buf []byte, id uint32) *CollectionPage {
	return InitCollectionPage(New(buf, id, TypeCollection))
}

// InitCollectionPage bootstraps a freshly allocated, still-empty *Page
// (for example one returned by a transaction snapshot's NewPage) into a
// collection page with only a PK index ("_id").
func InitCollectionPage(p *Page) *CollectionPage {
	pk := CollectionIndex{
		Name:              "_id",
		Expr:              "$._id",
		Unique:            true,
		Slot:              0,
		Head:              NoAddress,
		Tail:              NoAddress,
		FreeIndexPageList: MaxU32,
		MaxLevel:          1,
	}

	cp := &CollectionPage{
		page:    p,
		PK:      pk,
		Indexes: []CollectionIndex{pk},
	}

	for i := range cp.FreeDataPageList {
		cp.FreeDataPageList[i] = MaxU32
	}

	cp.Flush()

	return cp
}

// WrapCollectionPage parses an existing collection page buffer.
func WrapCollectionPage(buf []byte) (*CollectionPage, error) {
	p, err := Wrap(buf)
	if err != nil {
		return nil, err
	}

	if p.Header().PageType != TypeCollection {
		return nil, enginerr.New(enginerr.CodeCorruption, "page: not a collection page")
	}

	cp := &CollectionPage{page: p}
	if err := cp.decode(); err != nil {
		return nil, err
	}

	return cp, nil
}

func (c *CollectionPage) Page() *Page { return c.page }

// CollectionPageFromPage wraps an already-resolved *Page (for example one
// fetched through a transaction snapshot) as a CollectionPage view.
func CollectionPageFromPage(p *Page) (*CollectionPage, error) {
	if p.Header().PageType != TypeCollection {
		return nil, enginerr.New(enginerr.CodeCorruption, "page: not a collection page")
	}

	cp := &CollectionPage{page: p}
	if err := cp.decode(); err != nil {
		return nil, err
	}

	return cp, nil
}

func encodeIndex(idx CollectionIndex) []byte {
	buf := make([]byte, 0, 64)

	nameBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(nameBuf, uint16(len(idx.Name)))
	buf = append(buf, nameBuf...)
	buf = append(buf, idx.Name...)

	exprBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(exprBuf, uint16(len(idx.Expr)))
	buf = append(buf, exprBuf...)
	buf = append(buf, idx.Expr...)

	if idx.Unique {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	buf = append(buf, idx.Slot)

	tmp4 := make([]byte, 4)
	binary.LittleEndian.PutUint32(tmp4, idx.Head.PageID)
	buf = append(buf, tmp4...)
	buf = append(buf, idx.Head.Index)

	binary.LittleEndian.PutUint32(tmp4, idx.Tail.PageID)
	buf = append(buf, tmp4...)
	buf = append(buf, idx.Tail.Index)

	binary.LittleEndian.PutUint32(tmp4, idx.FreeIndexPageList)
	buf = append(buf, tmp4...)

	buf = append(buf, idx.MaxLevel, idx.Reserved)

	tmp8 := make([]byte, 8)
	binary.LittleEndian.PutUint64(tmp8, idx.KeyCount)
	buf = append(buf, tmp8...)

	return buf
}

func decodeIndex(buf []byte, off int) (CollectionIndex, int, error) {
	var idx CollectionIndex

	readStr := func() (string, error) {
		if len(buf) < off+2 {
			return "", enginerr.New(enginerr.CodeCorruption, "page: truncated index string length")
		}

		n := int(binary.LittleEndian.Uint16(buf[off:]))
		off += 2

		if len(buf) < off+n {
			return "", enginerr.New(enginerr.CodeCorruption, "page: truncated index string")
		}

		s := string(buf[off : off+n])
		off += n

		return s, nil
	}

	var err error

	idx.Name, err = readStr()
	if err != nil {
		return idx, 0, err
	}

	idx.Expr, err = readStr()
	if err != nil {
		return idx, 0, err
	}

	if len(buf) < off+1+1+5+5+4+2+8 {
		return idx, 0, enginerr.New(enginerr.CodeCorruption, "page: truncated index fixed fields")
	}

	idx.Unique = buf[off] != 0
	off++
	idx.Slot = buf[off]
	off++

	idx.Head = Address{PageID: binary.LittleEndian.Uint32(buf[off:]), Index: buf[off+4]}
	off += 5
	idx.Tail = Address{PageID: binary.LittleEndian.Uint32(buf[off:]), Index: buf[off+4]}
	off += 5

	idx.FreeIndexPageList = binary.LittleEndian.Uint32(buf[off:])
	off += 4

	idx.MaxLevel = buf[off]
	off++
	idx.Reserved = buf[off]
	off++

	idx.KeyCount = binary.LittleEndian.Uint64(buf[off:])
	off += 8

	return idx, off, nil
}

func (c *CollectionPage) encode() []byte {
	buf := make([]byte, 0, 512)

	countBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(countBuf, uint16(len(c.Indexes)))
	buf = append(buf, countBuf...)

	for _, idx := range c.Indexes {
		buf = append(buf, encodeIndex(idx)...)
	}

	for _, id := range c.FreeDataPageList {
		tmp4 := make([]byte, 4)
		binary.LittleEndian.PutUint32(tmp4, id)
		buf = append(buf, tmp4...)
	}

	return buf
}

func (c *CollectionPage) decode() error {
	buf, err := c.page.Get(0)
	if err != nil {
		return enginerr.Wrap(enginerr.CodeCorruption, err, "page: collection page slot 0 missing")
	}

	if len(buf) < 2 {
		return enginerr.New(enginerr.CodeCorruption, "page: truncated collection payload")
	}

	count := int(binary.LittleEndian.Uint16(buf))
	off := 2

	c.Indexes = make([]CollectionIndex, 0, count)

	for range count {
		idx, next, err := decodeIndex(buf, off)
		if err != nil {
			return err
		}

		c.Indexes = append(c.Indexes, idx)
		off = next
	}

	if len(c.Indexes) == 0 {
		return enginerr.New(enginerr.CodeCorruption, "page: collection page has no PK index")
	}

	c.PK = c.Indexes[0]

	if len(buf) < off+FreeDataSlots*4 {
		return enginerr.New(enginerr.CodeCorruption, "page: truncated free data list")
	}

	for i := range c.FreeDataPageList {
		c.FreeDataPageList[i] = binary.LittleEndian.Uint32(buf[off:])
		off += 4
	}

	return nil
}

// Flush re-encodes the in-memory fields back into the page's slot 0.
func (c *CollectionPage) Flush() {
	if !c.page.IsEmpty() {
		_ = c.page.Delete(0)
		c.page.Defragment()
	}

	_, _ = c.page.Insert(c.encode())
}

// NewIndex builds a fresh secondary CollectionIndex descriptor with empty
// sentinels; the index service creates the actual Head/Tail nodes lazily
// on first insert.
func NewIndex(name, expr string, unique bool, slot uint8) CollectionIndex {
	return CollectionIndex{
		Name:              name,
		Expr:              expr,
		Unique:            unique,
		Slot:              slot,
		Head:              NoAddress,
		Tail:              NoAddress,
		FreeIndexPageList: MaxU32,
		MaxLevel:          1,
	}
}

// FindIndex looks up a secondary (or PK) index by name.
func (c *CollectionPage) FindIndex(name string) (*CollectionIndex, bool) {
	for i := range c.Indexes {
		if c.Indexes[i].Name == name {
			return &c.Indexes[i], true
		}
	}

	return nil, false
}

// FreeSlotOf returns the free-data-list bucket for a page with the given
// number of free bytes, per the table in spec.md §4.7.
func FreeSlotOf(freeBytes int) int {
	switch {
	case freeBytes >= 1000:
		return 0
	case freeBytes >= 600:
		return 1
	case freeBytes >= 250:
		return 2
	case freeBytes >= 90:
		return 3
	default:
		return 4
	}
}
