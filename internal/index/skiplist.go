// Package index implements the skip-list index service from spec.md §4.8:
// node insertion, deletion and lookup over PageAddress-addressed nodes
// stored in index pages, with geometric level selection and doubly linked
// per-level lists.
//
// No direct teacher analogue exists in the corpus for a skip list; this
// package is styled after the corpus's general patterns (explicit levels
// as address arrays, geometric randomisation, fixed-offset field layout
// for a node's per-level pointers, grounded on pkg/mddb/fmcache/fields.go).
package index

import (
	"math/rand/v2"

	"github.com/pagedb/enginecore/internal/bsonvalue"
	"github.com/pagedb/enginecore/internal/enginerr"
	"github.com/pagedb/enginecore/internal/page"
	"github.com/pagedb/enginecore/internal/txn"
)

// MaxLevelLength is MAX_LEVEL_LENGTH from spec.md §4.8.
const MaxLevelLength = page.MaxLevelLength

// Order selects forward or backward traversal for Find/FindAll.
type Order int

const (
	Ascending  Order = 1
	Descending Order = -1
)

// freeThreshold is the free-byte floor below which a page is popped off an
// index's free-page list: an approximation of "has room for another node"
// that trades a little wasted space for a cheap bookkeeping rule.
const freeThreshold = 96

// Service performs skip-list operations against one collection's indexes,
// resolving pages through a transaction snapshot.
type Service struct {
	snap             *txn.Snapshot
	collectionPageID uint32
	collation        bsonvalue.Collation
}

// New returns an index Service scoped to the collection page collectionPageID,
// ordering keys under collation (the database's COLLATION pragma).
func New(snap *txn.Snapshot, collectionPageID uint32, collation bsonvalue.Collation) *Service {
	return &Service{snap: snap, collectionPageID: collectionPageID, collation: collation}
}

func (s *Service) collectionPage() (*page.CollectionPage, error) {
	p, err := s.snap.GetPageForWrite(s.collectionPageID)
	if err != nil {
		return nil, err
	}

	return page.CollectionPageFromPage(p)
}

// flip returns the smallest k such that bit k of a uniform random 32-bit
// integer is 0, plus one, capped at MaxLevelLength: the geometric level
// distribution from spec.md §4.8.
func flip() uint8 {
	r := rand.Uint32()

	for k := range MaxLevelLength {
		if r&(1<<uint(k)) == 0 {
			return uint8(k + 1)
		}
	}

	return MaxLevelLength
}

func (s *Service) indexPageFor(addr page.Address) (*page.IndexPage, error) {
	p, err := s.snap.GetPageForWrite(addr.PageID)
	if err != nil {
		return nil, err
	}

	return page.IndexPageFromPage(p)
}

func (s *Service) readNode(addr page.Address) (page.IndexNode, error) {
	ip, err := s.indexPageFor(addr)
	if err != nil {
		return page.IndexNode{}, err
	}

	return ip.ReadNode(addr.Index)
}

// ensureSentinels lazily creates idx's Head/Tail nodes the first time the
// index is used: a Head node keyed MinValue and a Tail node keyed
// MaxValue, both carrying full MaxLevelLength pointer arrays so later
// inserts never need to resize a sentinel.
func (s *Service) ensureSentinels(idx *page.CollectionIndex) error {
	if !idx.Head.IsNone() {
		return nil
	}

	none := make([]page.Address, MaxLevelLength)
	for i := range none {
		none[i] = page.NoAddress
	}

	tailNode := page.IndexNode{
		Level:     MaxLevelLength,
		Key:       bsonvalue.MaxValue(),
		DataBlock: page.NoAddress,
		NextNode:  page.NoAddress,
		Prev:      append([]page.Address(nil), none...),
		Next:      append([]page.Address(nil), none...),
	}

	tailAddr, err := s.writeNewNode(idx, tailNode)
	if err != nil {
		return err
	}

	headNode := page.IndexNode{
		Level:     MaxLevelLength,
		Key:       bsonvalue.MinValue(),
		DataBlock: page.NoAddress,
		NextNode:  page.NoAddress,
		Prev:      append([]page.Address(nil), none...),
		Next:      make([]page.Address, MaxLevelLength),
	}

	for i := range headNode.Next {
		headNode.Next[i] = tailAddr
	}

	headAddr, err := s.writeNewNode(idx, headNode)
	if err != nil {
		return err
	}

	tailIP, err := s.indexPageFor(tailAddr)
	if err != nil {
		return err
	}

	for i := 0; i < MaxLevelLength; i++ {
		if err := tailIP.PatchPointer(tailAddr.Index, i, false, headAddr); err != nil {
			return err
		}
	}

	idx.Head = headAddr
	idx.Tail = tailAddr

	return nil
}

// writeNewNode allocates room for n (reusing idx.FreeIndexPageList's head
// page when it has room, otherwise allocating a fresh index page) and
// writes it, returning the node's address.
func (s *Service) writeNewNode(idx *page.CollectionIndex, n page.IndexNode) (page.Address, error) {
	if idx.FreeIndexPageList != page.MaxU32 {
		ip, err := s.indexPageFor(page.Address{PageID: idx.FreeIndexPageList})
		if err != nil {
			return page.Address{}, err
		}

		slot, err := ip.WriteNode(n)
		if err == nil {
			addr := page.Address{PageID: idx.FreeIndexPageList, Index: slot}

			if ip.Page().FreeBytes() < freeThreshold {
				idx.FreeIndexPageList = ip.Page().Header().NextPageID
			}

			return addr, nil
		}
	}

	p, err := s.snap.NewPage(page.TypeIndex)
	if err != nil {
		return page.Address{}, err
	}

	h := p.Header()
	h.NextPageID = idx.FreeIndexPageList
	p.SetHeader(h)

	ip, err := page.IndexPageFromPage(p)
	if err != nil {
		return page.Address{}, err
	}

	slot, err := ip.WriteNode(n)
	if err != nil {
		return page.Address{}, err
	}

	addr := page.Address{PageID: p.Header().PageID, Index: slot}

	if ip.Page().FreeBytes() >= freeThreshold {
		idx.FreeIndexPageList = p.Header().PageID
	}

	return addr, nil
}

// Add implements spec.md §4.8's add(index, key, data_block, last): rejects
// MinValue/MaxValue keys and oversized keys, allocates a node at a
// geometrically chosen level, splices it into the doubly linked lists for
// every level below that, and optionally chains it onto a prior node's
// per-document NextNode pointer.
func (s *Service) Add(indexName string, key bsonvalue.Value, dataBlock page.Address, last page.Address) (page.Address, error) {
	if key.Type() == bsonvalue.TypeMinValue || key.Type() == bsonvalue.TypeMaxValue {
		return page.Address{}, enginerr.New(enginerr.CodeInvalidIndexKey, "index: MinValue/MaxValue are reserved sentinel keys")
	}

	if len(bsonvalue.Encode(key)) > page.MaxIndexKeyLength {
		return page.Address{}, enginerr.New(enginerr.CodeInvalidIndexKey, "index: key exceeds MAX_INDEX_KEY_LENGTH")
	}

	cp, err := s.collectionPage()
	if err != nil {
		return page.Address{}, err
	}

	idx, ok := cp.FindIndex(indexName)
	if !ok {
		return page.Address{}, enginerr.New(enginerr.CodeNotFound, "index: no such index on collection")
	}

	if err := s.ensureSentinels(idx); err != nil {
		return page.Address{}, err
	}

	level := flip()

	prevAddr := make([]page.Address, level)
	nextAddr := make([]page.Address, level)

	cur := idx.Head
	top := int(level) - 1

	if int(idx.MaxLevel)-1 > top {
		top = int(idx.MaxLevel) - 1
	}

	// Levels at or above idx.MaxLevel have never held a real node, so the
	// sentinels (which always span MaxLevelLength) link directly to each
	// other there; only levels below idx.MaxLevel need an actual walk.
	for i := top; i >= 0; i-- {
		if i >= int(idx.MaxLevel) {
			if i < int(level) {
				prevAddr[i] = idx.Head
				nextAddr[i] = idx.Tail
			}

			continue
		}

		for {
			curNode, err := s.readNode(cur)
			if err != nil {
				return page.Address{}, err
			}

			if i >= len(curNode.Next) {
				break
			}

			peekAddr := curNode.Next[i]
			if peekAddr == idx.Tail {
				break
			}

			peek, err := s.readNode(peekAddr)
			if err != nil {
				return page.Address{}, err
			}

			cmp := bsonvalue.Compare(peek.Key, key, s.collation)
			if cmp < 0 {
				cur = peekAddr

				continue
			}

			if cmp == 0 && idx.Unique {
				return page.Address{}, enginerr.New(enginerr.CodeIndexDuplicateKey, "index: unique constraint violated")
			}

			break
		}

		if i < int(level) {
			curNode, err := s.readNode(cur)
			if err != nil {
				return page.Address{}, err
			}

			prevAddr[i] = cur
			nextAddr[i] = curNode.Next[i]
		}
	}

	newNode := page.IndexNode{
		Level:     level,
		Key:       key,
		DataBlock: dataBlock,
		NextNode:  page.NoAddress,
		Prev:      append([]page.Address(nil), prevAddr...),
		Next:      append([]page.Address(nil), nextAddr...),
	}

	addr, err := s.writeNewNode(idx, newNode)
	if err != nil {
		return page.Address{}, err
	}

	for i := 0; i < int(level); i++ {
		prevIP, err := s.indexPageFor(prevAddr[i])
		if err != nil {
			return page.Address{}, err
		}

		if err := prevIP.PatchPointer(prevAddr[i].Index, i, true, addr); err != nil {
			return page.Address{}, err
		}

		nextIP, err := s.indexPageFor(nextAddr[i])
		if err != nil {
			return page.Address{}, err
		}

		if err := nextIP.PatchPointer(nextAddr[i].Index, i, false, addr); err != nil {
			return page.Address{}, err
		}
	}

	if int(level) > int(idx.MaxLevel) {
		idx.MaxLevel = level
	}

	idx.KeyCount++

	if !last.IsNone() {
		lastIP, err := s.indexPageFor(last)
		if err != nil {
			return page.Address{}, err
		}

		if err := lastIP.PatchNextNode(last.Index, addr); err != nil {
			return page.Address{}, err
		}
	}

	cp.Flush()

	return addr, nil
}

// DeleteSingle implements spec.md §4.8's delete_single(node): unsplices
// node from every level it participates in, deletes its slot, and returns
// its page to the index's free list if it now has room.
func (s *Service) DeleteSingle(indexName string, node page.Address) error {
	cp, err := s.collectionPage()
	if err != nil {
		return err
	}

	idx, ok := cp.FindIndex(indexName)
	if !ok {
		return enginerr.New(enginerr.CodeNotFound, "index: no such index on collection")
	}

	n, err := s.readNode(node)
	if err != nil {
		return err
	}

	for i := 0; i < int(n.Level); i++ {
		prevIP, err := s.indexPageFor(n.Prev[i])
		if err != nil {
			return err
		}

		if err := prevIP.PatchPointer(n.Prev[i].Index, i, true, n.Next[i]); err != nil {
			return err
		}

		nextIP, err := s.indexPageFor(n.Next[i])
		if err != nil {
			return err
		}

		if err := nextIP.PatchPointer(n.Next[i].Index, i, false, n.Prev[i]); err != nil {
			return err
		}
	}

	ip, err := s.indexPageFor(node)
	if err != nil {
		return err
	}

	if err := ip.DeleteNode(node.Index); err != nil {
		return err
	}

	if ip.Page().FreeBytes() >= freeThreshold && ip.Page().Header().PageID != idx.FreeIndexPageList {
		h := ip.Page().Header()
		h.NextPageID = idx.FreeIndexPageList
		ip.Page().SetHeader(h)
		idx.FreeIndexPageList = ip.Page().Header().PageID
	}

	if idx.KeyCount > 0 {
		idx.KeyCount--
	}

	cp.Flush()

	return nil
}

// Find implements spec.md §4.8's find(index, value, sibling, order):
// returns the node whose key equals value, or, when sibling is true, the
// immediately adjacent node in order (None if that is a sentinel).
func (s *Service) Find(indexName string, value bsonvalue.Value, sibling bool, order Order) (page.Address, bool, error) {
	cp, err := s.collectionPage()
	if err != nil {
		return page.Address{}, false, err
	}

	idx, ok := cp.FindIndex(indexName)
	if !ok {
		return page.Address{}, false, enginerr.New(enginerr.CodeNotFound, "index: no such index on collection")
	}

	if idx.Head.IsNone() {
		return page.Address{}, false, nil
	}

	cur := idx.Head

	for i := int(idx.MaxLevel) - 1; i >= 0; i-- {
		for {
			curNode, err := s.readNode(cur)
			if err != nil {
				return page.Address{}, false, err
			}

			if i >= len(curNode.Next) {
				break
			}

			peekAddr := curNode.Next[i]
			if peekAddr == idx.Tail {
				break
			}

			peek, err := s.readNode(peekAddr)
			if err != nil {
				return page.Address{}, false, err
			}

			if bsonvalue.Compare(peek.Key, value, s.collation) >= 0 {
				break
			}

			cur = peekAddr
		}
	}

	curNode, err := s.readNode(cur)
	if err != nil {
		return page.Address{}, false, err
	}

	candidate := curNode.Next[0]

	if candidate != idx.Tail {
		candNode, err := s.readNode(candidate)
		if err != nil {
			return page.Address{}, false, err
		}

		if bsonvalue.Compare(candNode.Key, value, s.collation) == 0 {
			return candidate, true, nil
		}
	}

	if !sibling {
		return page.Address{}, false, nil
	}

	var adj page.Address

	switch order {
	case Descending:
		adj = cur
	default:
		adj = candidate
	}

	if adj == idx.Head || adj == idx.Tail {
		return page.Address{}, false, nil
	}

	return adj, true, nil
}

// FindAll implements spec.md §4.8's find_all(order): every non-sentinel
// node at level 0, forward or backward.
func (s *Service) FindAll(indexName string, order Order) ([]page.Address, error) {
	cp, err := s.collectionPage()
	if err != nil {
		return nil, err
	}

	idx, ok := cp.FindIndex(indexName)
	if !ok {
		return nil, enginerr.New(enginerr.CodeNotFound, "index: no such index on collection")
	}

	if idx.Head.IsNone() {
		return nil, nil
	}

	var out []page.Address

	if order == Descending {
		cur := idx.Tail

		for {
			n, err := s.readNode(cur)
			if err != nil {
				return nil, err
			}

			prev := n.Prev[0]
			if prev == idx.Head {
				break
			}

			out = append(out, prev)
			cur = prev
		}

		return out, nil
	}

	cur := idx.Head

	for {
		n, err := s.readNode(cur)
		if err != nil {
			return nil, err
		}

		next := n.Next[0]
		if next == idx.Tail {
			break
		}

		out = append(out, next)
		cur = next
	}

	return out, nil
}
