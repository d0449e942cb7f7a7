package page

import (
	"encoding/binary"

	"github.com/pagedb/enginecore/internal/enginerr"
)

// dataBlockHeaderSize is sizeof(DataBlock) minus the payload: DataLength
// (u16) + NextBlock PageAddress (u32 PageID + u8 Index), per spec.md §3.
const dataBlockHeaderSize = 2 + 4 + 1

// DataPage is the typed view over a page storing document fragments
// (spec.md §3). Each slot holds one DataBlock: a chained fragment of a
// document that may span multiple pages.
type DataPage struct {
	page *Page
}

// NewDataPage initializes a fresh, empty data page.
func NewDataPage(buf []byte, id uint32) *DataPage {
	return &DataPage{page: New(buf, id, TypeData)}
}

// WrapDataPage parses an existing data page buffer.
func WrapDataPage(buf []byte) (*DataPage, error) {
	p, err := Wrap(buf)
	if err != nil {
		return nil, err
	}

	if p.Header().PageType != TypeData {
		return nil, enginerr.New(enginerr.CodeCorruption, "page: not a data page")
	}

	return &DataPage{page: p}, nil
}

func (d *DataPage) Page() *Page { return d.page }

// DataPageFromPage wraps an already-resolved *Page (for example one
// fetched through a transaction snapshot) as a DataPage view.
func DataPageFromPage(p *Page) (*DataPage, error) {
	if p.Header().PageType != TypeData {
		return nil, enginerr.New(enginerr.CodeCorruption, "page: not a data page")
	}

	return &DataPage{page: p}, nil
}

// WriteBlock inserts a document fragment with its chain pointer to the
// next block (NoAddress if this is the last fragment) and returns the
// assigned slot index.
func (d *DataPage) WriteBlock(data []byte, next Address) (uint8, error) {
	buf := make([]byte, dataBlockHeaderSize+len(data))
	binary.LittleEndian.PutUint16(buf, uint16(len(data)))
	binary.LittleEndian.PutUint32(buf[2:], next.PageID)
	buf[6] = next.Index
	copy(buf[dataBlockHeaderSize:], data)

	return d.page.Insert(buf)
}

// ReadBlock returns the fragment payload and the address of the next
// fragment in the document's chain (NoAddress if this was the last one).
func (d *DataPage) ReadBlock(slot uint8) (data []byte, next Address, err error) {
	raw, err := d.page.Get(slot)
	if err != nil {
		return nil, Address{}, err
	}

	if len(raw) < dataBlockHeaderSize {
		return nil, Address{}, enginerr.New(enginerr.CodeCorruption, "page: truncated data block header")
	}

	length := binary.LittleEndian.Uint16(raw)
	nextAddr := Address{PageID: binary.LittleEndian.Uint32(raw[2:]), Index: raw[6]}

	if int(length) != len(raw)-dataBlockHeaderSize {
		return nil, Address{}, enginerr.New(enginerr.CodeCorruption, "page: data block length mismatch")
	}

	return raw[dataBlockHeaderSize:], nextAddr, nil
}

// DeleteBlock removes a fragment's slot.
func (d *DataPage) DeleteBlock(slot uint8) error {
	return d.page.Delete(slot)
}
