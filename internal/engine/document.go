package engine

import (
	"context"

	"github.com/pagedb/enginecore/internal/bsonvalue"
	"github.com/pagedb/enginecore/internal/enginerr"
	"github.com/pagedb/enginecore/internal/index"
	"github.com/pagedb/enginecore/internal/page"
	"github.com/pagedb/enginecore/internal/txn"
)

// maxFragmentBytes bounds a single DataPage block's payload, conservative
// enough to always fit a brand-new (maximally free) data page regardless
// of the fixed header/slot-table overhead.
const maxFragmentBytes = 900

func (e *Engine) collectionPageID(name string) (uint32, bool) {
	e.svc.HeaderMutex().Lock()
	defer e.svc.HeaderMutex().Unlock()

	id, ok := e.svc.HeaderPage().Collections[name]

	return id, ok
}

// Insert writes doc as one or more chained DataPage fragments and indexes
// it under key on the collection's PK index, per spec.md §4.7/§4.8.
func (e *Engine) Insert(ctx context.Context, collectionName string, key bsonvalue.Value, doc []byte) (page.Address, error) {
	snap, release, err := e.beginWrite(ctx, collectionName)
	if err != nil {
		return page.Address{}, err
	}

	collID, ok := e.collectionPageID(collectionName)
	if !ok {
		release()

		return page.Address{}, enginerr.Newf(enginerr.CodeNotFound, "collection %q does not exist", collectionName)
	}

	cPage, err := snap.GetPageForWrite(collID)
	if err != nil {
		release()

		return page.Address{}, err
	}

	cp, err := page.CollectionPageFromPage(cPage)
	if err != nil {
		release()

		return page.Address{}, err
	}

	head, err := writeDataBlocks(snap, cp, doc)
	if err != nil {
		release()

		return page.Address{}, err
	}

	idxSvc := index.New(snap, collID, e.Collation())

	if _, err := idxSvc.Add(cp.PK.Name, key, head, page.NoAddress); err != nil {
		snap.Rollback(release)

		return page.Address{}, err
	}

	cp.Flush()

	if err := snap.Commit(release); err != nil {
		return page.Address{}, err
	}

	return head, e.maybeAutoCheckpoint(ctx)
}

// FindByPK looks up a document by its primary key and returns its full
// reassembled bytes.
func (e *Engine) FindByPK(ctx context.Context, collectionName string, key bsonvalue.Value) ([]byte, bool, error) {
	snap, release, err := e.beginRead(ctx, collectionName)
	if err != nil {
		return nil, false, err
	}
	defer release()

	collID, ok := e.collectionPageID(collectionName)
	if !ok {
		return nil, false, enginerr.Newf(enginerr.CodeNotFound, "collection %q does not exist", collectionName)
	}

	cPage, err := snap.GetPage(collID)
	if err != nil {
		return nil, false, err
	}

	cp, err := page.CollectionPageFromPage(cPage)
	if err != nil {
		return nil, false, err
	}

	idxSvc := index.New(snap, collID, e.Collation())

	addr, found, err := idxSvc.Find(cp.PK.Name, key, false, index.Ascending)
	if err != nil || !found {
		return nil, false, err
	}

	node, err := readIndexNode(snap, addr)
	if err != nil {
		return nil, false, err
	}

	data, err := readDataChain(snap, node.DataBlock)
	if err != nil {
		return nil, false, err
	}

	return data, true, nil
}

// DeleteByPK removes a document by its primary key: deletes its data
// chain and its PK index node.
func (e *Engine) DeleteByPK(ctx context.Context, collectionName string, key bsonvalue.Value) (bool, error) {
	snap, release, err := e.beginWrite(ctx, collectionName)
	if err != nil {
		return false, err
	}

	collID, ok := e.collectionPageID(collectionName)
	if !ok {
		release()

		return false, enginerr.Newf(enginerr.CodeNotFound, "collection %q does not exist", collectionName)
	}

	cPage, err := snap.GetPageForWrite(collID)
	if err != nil {
		release()

		return false, err
	}

	cp, err := page.CollectionPageFromPage(cPage)
	if err != nil {
		release()

		return false, err
	}

	idxSvc := index.New(snap, collID, e.Collation())

	addr, found, err := idxSvc.Find(cp.PK.Name, key, false, index.Ascending)
	if err != nil {
		release()

		return false, err
	}

	if !found {
		snap.Rollback(release)

		return false, nil
	}

	node, err := readIndexNode(snap, addr)
	if err != nil {
		release()

		return false, err
	}

	if err := deleteDataChain(snap, cp, node.DataBlock); err != nil {
		release()

		return false, err
	}

	if err := idxSvc.DeleteSingle(cp.PK.Name, addr); err != nil {
		release()

		return false, err
	}

	cp.Flush()

	if err := snap.Commit(release); err != nil {
		return false, err
	}

	return true, e.maybeAutoCheckpoint(ctx)
}

func readIndexNode(snap *txn.Snapshot, addr page.Address) (page.IndexNode, error) {
	p, err := snap.GetPage(addr.PageID)
	if err != nil {
		return page.IndexNode{}, err
	}

	ip, err := page.IndexPageFromPage(p)
	if err != nil {
		return page.IndexNode{}, err
	}

	return ip.ReadNode(addr.Index)
}

// writeDataBlocks splits data into fragments and writes them back-to-front
// so each fragment's NextBlock pointer is already known, returning the
// address of the first fragment.
func writeDataBlocks(snap *txn.Snapshot, cp *page.CollectionPage, data []byte) (page.Address, error) {
	if len(data) == 0 {
		data = []byte{}
	}

	var chunks [][]byte

	for offset := 0; offset < len(data); offset += maxFragmentBytes {
		end := offset + maxFragmentBytes
		if end > len(data) {
			end = len(data)
		}

		chunks = append(chunks, data[offset:end])
	}

	if len(chunks) == 0 {
		chunks = [][]byte{{}}
	}

	next := page.NoAddress

	for i := len(chunks) - 1; i >= 0; i-- {
		needed := len(chunks[i]) + dataBlockOverhead
		p, err := getFreeDataPage(snap, cp, needed)
		if err != nil {
			return page.Address{}, err
		}

		dp, err := page.DataPageFromPage(p)
		if err != nil {
			return page.Address{}, err
		}

		slot, err := dp.WriteBlock(chunks[i], next)
		if err != nil {
			return page.Address{}, err
		}

		addOrRemoveFreeDataList(cp, p)

		next = page.Address{PageID: p.Header().PageID, Index: slot}
	}

	return next, nil
}

// dataBlockOverhead mirrors DataPage's fixed per-block header size plus
// the page's footer slot-table entry cost.
const dataBlockOverhead = 2 + 4 + 1 + 4

func readDataChain(snap *txn.Snapshot, addr page.Address) ([]byte, error) {
	var out []byte

	for !addr.IsNone() {
		p, err := snap.GetPage(addr.PageID)
		if err != nil {
			return nil, err
		}

		dp, err := page.DataPageFromPage(p)
		if err != nil {
			return nil, err
		}

		frag, next, err := dp.ReadBlock(addr.Index)
		if err != nil {
			return nil, err
		}

		out = append(out, frag...)
		addr = next
	}

	return out, nil
}

// deleteDataChain removes every fragment in a document's chain and
// updates each page's free-list slot membership.
func deleteDataChain(snap *txn.Snapshot, cp *page.CollectionPage, addr page.Address) error {
	for !addr.IsNone() {
		p, err := snap.GetPageForWrite(addr.PageID)
		if err != nil {
			return err
		}

		dp, err := page.DataPageFromPage(p)
		if err != nil {
			return err
		}

		_, next, err := dp.ReadBlock(addr.Index)
		if err != nil {
			return err
		}

		if err := dp.DeleteBlock(addr.Index); err != nil {
			return err
		}

		if p.Header().ItemsCount == 0 {
			removeFromFreeDataList(cp, p.Header().PageID)
			snap.DeletePage(p.Header().PageID)
		} else {
			addOrRemoveFreeDataList(cp, p)
		}

		addr = next
	}

	return nil
}

// getFreeDataPage implements spec.md §4.7's get_free_data_page(bytes): it
// starts at the slot FreeSlotOf assigns to a page with exactly needed free
// bytes, then tries the higher-numbered slots (pages with less free space),
// falling back to a brand-new page. Only each slot's head is inspected, and
// it is used only if it has at least needed free bytes.
func getFreeDataPage(snap *txn.Snapshot, cp *page.CollectionPage, needed int) (*page.Page, error) {
	start := page.FreeSlotOf(needed)

	for s := start; s < page.FreeDataSlots; s++ {
		head := cp.FreeDataPageList[s]
		if head == page.MaxU32 {
			continue
		}

		p, err := snap.GetPageForWrite(head)
		if err != nil {
			return nil, err
		}

		if p.FreeBytes() >= needed {
			cp.FreeDataPageList[s] = p.Header().NextPageID

			return p, nil
		}
	}

	return snap.NewPage(page.TypeData)
}

// addOrRemoveFreeDataList re-chains p onto the free-list slot matching its
// current free-byte count, per spec.md §4.7.
func addOrRemoveFreeDataList(cp *page.CollectionPage, p *page.Page) {
	slot := page.FreeSlotOf(p.FreeBytes())

	h := p.Header()
	h.NextPageID = cp.FreeDataPageList[slot]
	p.SetHeader(h)
	cp.FreeDataPageList[slot] = h.PageID
}

// removeFromFreeDataList is a best-effort unlink used only when a page is
// being deleted outright (it became empty): the free lists are singly
// linked, so it only resets a slot whose head is id to MaxU32. That also
// drops any pages chained after id from that slot, and a link to id from
// further down a chain is left in place. See DESIGN.md.
func removeFromFreeDataList(cp *page.CollectionPage, id uint32) {
	for s, head := range cp.FreeDataPageList {
		if head == id {
			cp.FreeDataPageList[s] = page.MaxU32
		}
	}
}
