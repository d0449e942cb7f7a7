package page

import (
	"encoding/binary"

	"github.com/pagedb/enginecore/internal/bsonvalue"
	"github.com/pagedb/enginecore/internal/enginerr"
)

// MaxIndexKeyLength is MAX_INDEX_KEY_LENGTH from spec.md §4.8.
const MaxIndexKeyLength = 1024

// IndexNode is one skip-list node (spec.md §3).
type IndexNode struct {
	Slot      uint8
	Level     uint8
	Key       bsonvalue.Value
	DataBlock Address
	NextNode  Address // next node in the per-document index chain
	Prev      []Address
	Next      []Address
}

// IndexPage is the typed view over a page storing IndexNodes (spec.md §3).
type IndexPage struct {
	page *Page
}

// NewIndexPage initializes a fresh, empty index page.
func NewIndexPage(buf []byte, id uint32) *IndexPage {
	return &IndexPage{page: New(buf, id, TypeIndex)}
}

// WrapIndexPage parses an existing index page buffer.
func WrapIndexPage(buf []byte) (*IndexPage, error) {
	p, err := Wrap(buf)
	if err != nil {
		return nil, err
	}

	if p.Header().PageType != TypeIndex {
		return nil, enginerr.New(enginerr.CodeCorruption, "page: not an index page")
	}

	return &IndexPage{page: p}, nil
}

func (ip *IndexPage) Page() *Page { return ip.page }

// IndexPageFromPage wraps an already-resolved *Page (for example one fetched
// through a transaction snapshot) as an IndexPage view.
func IndexPageFromPage(p *Page) (*IndexPage, error) {
	if p.Header().PageType != TypeIndex {
		return nil, enginerr.New(enginerr.CodeCorruption, "page: not an index page")
	}

	return &IndexPage{page: p}, nil
}

func encodeAddr(buf []byte, a Address) []byte {
	tmp := make([]byte, 4)
	binary.LittleEndian.PutUint32(tmp, a.PageID)
	buf = append(buf, tmp...)
	buf = append(buf, a.Index)

	return buf
}

func decodeAddr(buf []byte, off int) (Address, int) {
	return Address{PageID: binary.LittleEndian.Uint32(buf[off:]), Index: buf[off+4]}, off + 5
}

func encodeNode(n IndexNode) []byte {
	keyBytes := bsonvalue.Encode(n.Key)

	buf := make([]byte, 0, 16+len(keyBytes)+int(n.Level)*10)
	buf = append(buf, n.Level)

	keyLenBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(keyLenBuf, uint16(len(keyBytes)))
	buf = append(buf, keyLenBuf...)
	buf = append(buf, keyBytes...)

	buf = encodeAddr(buf, n.DataBlock)
	buf = encodeAddr(buf, n.NextNode)

	for i := 0; i < int(n.Level); i++ {
		buf = encodeAddr(buf, n.Prev[i])
	}

	for i := 0; i < int(n.Level); i++ {
		buf = encodeAddr(buf, n.Next[i])
	}

	return buf
}

func decodeNode(buf []byte) (IndexNode, error) {
	if len(buf) < 3 {
		return IndexNode{}, enginerr.New(enginerr.CodeCorruption, "page: truncated index node")
	}

	var n IndexNode
	n.Level = buf[0]
	keyLen := int(binary.LittleEndian.Uint16(buf[1:]))
	off := 3

	if len(buf) < off+keyLen {
		return IndexNode{}, enginerr.New(enginerr.CodeCorruption, "page: truncated index node key")
	}

	key, consumed, err := bsonvalue.Decode(buf[off : off+keyLen])
	if err != nil {
		return IndexNode{}, err
	}

	if consumed != keyLen {
		return IndexNode{}, enginerr.New(enginerr.CodeCorruption, "page: index node key length mismatch")
	}

	n.Key = key
	off += keyLen

	want := off + 10 + int(n.Level)*10
	if len(buf) < want {
		return IndexNode{}, enginerr.New(enginerr.CodeCorruption, "page: truncated index node pointers")
	}

	n.DataBlock, off = decodeAddr(buf, off)
	n.NextNode, off = decodeAddr(buf, off)

	n.Prev = make([]Address, n.Level)
	for i := 0; i < int(n.Level); i++ {
		n.Prev[i], off = decodeAddr(buf, off)
	}

	n.Next = make([]Address, n.Level)
	for i := 0; i < int(n.Level); i++ {
		n.Next[i], off = decodeAddr(buf, off)
	}

	return n, nil
}

// WriteNode inserts a new index node and returns its assigned slot.
func (ip *IndexPage) WriteNode(n IndexNode) (uint8, error) {
	slot, err := ip.page.Insert(encodeNode(n))
	if err != nil {
		return 0, err
	}

	n.Slot = slot

	return slot, nil
}

// ReadNode returns the node stored at slot.
func (ip *IndexPage) ReadNode(slot uint8) (IndexNode, error) {
	raw, err := ip.page.Get(slot)
	if err != nil {
		return IndexNode{}, err
	}

	n, err := decodeNode(raw)
	if err != nil {
		return IndexNode{}, err
	}

	n.Slot = slot

	return n, nil
}

// PatchPointer rewrites a single Prev or Next pointer in place (same size,
// so it never needs Defragment), used during skip-list splice/delete
// (spec.md §4.8).
func (ip *IndexPage) PatchPointer(slot uint8, level int, isNext bool, addr Address) error {
	n, err := ip.ReadNode(slot)
	if err != nil {
		return err
	}

	if level < 0 || level >= int(n.Level) {
		return enginerr.New(enginerr.CodeCorruption, "page: pointer level out of range")
	}

	if isNext {
		n.Next[level] = addr
	} else {
		n.Prev[level] = addr
	}

	raw, err := ip.page.Get(slot)
	if err != nil {
		return err
	}

	encoded := encodeNode(n)
	if len(encoded) != len(raw) {
		return enginerr.New(enginerr.CodeCorruption, "page: pointer patch changed node size")
	}

	copy(raw, encoded)

	return nil
}

// PatchNextNode rewrites a node's per-document chain pointer in place.
func (ip *IndexPage) PatchNextNode(slot uint8, addr Address) error {
	n, err := ip.ReadNode(slot)
	if err != nil {
		return err
	}

	n.NextNode = addr

	raw, err := ip.page.Get(slot)
	if err != nil {
		return err
	}

	encoded := encodeNode(n)
	if len(encoded) != len(raw) {
		return enginerr.New(enginerr.CodeCorruption, "page: next-node patch changed node size")
	}

	copy(raw, encoded)

	return nil
}

// DeleteNode removes a node's slot.
func (ip *IndexPage) DeleteNode(slot uint8) error {
	return ip.page.Delete(slot)
}
