// Package engine is the top-level façade from SPEC_FULL.md §4: it wires
// the disk service, the lock service, the transaction snapshot layer and
// the index service together into collection-level operations (create,
// drop, insert, lookup, checkpoint).
//
// Grounded on the teacher's pkg/mddb.go MDDB type, which plays the same
// role for the JSON document store: one struct composing the storage
// layers behind a small, locked public API.
package engine

import (
	"context"
	"time"

	"github.com/pagedb/enginecore/internal/bsonvalue"
	"github.com/pagedb/enginecore/internal/cache"
	"github.com/pagedb/enginecore/internal/config"
	"github.com/pagedb/enginecore/internal/disk"
	"github.com/pagedb/enginecore/internal/enginefs"
	"github.com/pagedb/enginecore/internal/enginerr"
	"github.com/pagedb/enginecore/internal/index"
	"github.com/pagedb/enginecore/internal/lockmgr"
	"github.com/pagedb/enginecore/internal/page"
	"github.com/pagedb/enginecore/internal/txn"
)

// Engine is the open database: disk service plus lock manager, the unit
// callers open once and share across goroutines.
type Engine struct {
	svc   *disk.Service
	locks *lockmgr.Manager
}

// Open opens or bootstraps a database over stream. pragmaOverridesJSON, if
// non-empty, is a JSONC document (spec.md §6) applied on top of
// page.DefaultPragmas; it is only consulted the first time a fresh
// (zero-length) stream is bootstrapped, matching "pragmas are part of the
// header page, written once at creation".
func Open(stream enginefs.Stream, password string, pragmaOverridesJSON []byte) (*Engine, error) {
	length, err := stream.Length()
	if err != nil {
		return nil, err
	}

	fresh := length == 0

	svc, err := disk.Open(stream, password)
	if err != nil {
		return nil, err
	}

	if !fresh {
		// Fold the recovered log into the data file so a reopened database
		// starts with an empty log region.
		if err := txn.Checkpoint(svc); err != nil {
			return nil, err
		}
	}

	if fresh && len(pragmaOverridesJSON) > 0 {
		merged, err := config.Load(pragmaOverridesJSON, svc.HeaderPage().Pragmas)
		if err != nil {
			return nil, err
		}

		if err := applyBootstrapPragmas(svc, merged); err != nil {
			return nil, err
		}
	}

	timeout := time.Duration(svc.HeaderPage().Pragmas.TimeoutSecs) * time.Second

	return &Engine{svc: svc, locks: lockmgr.New(timeout)}, nil
}

// applyBootstrapPragmas rewrites the just-bootstrapped header page's
// pragmas synchronously: there is no prior transaction history yet, so
// this bypasses the WAL and writes directly to the header's home offset.
func applyBootstrapPragmas(svc *disk.Service, pragmas page.Pragmas) error {
	svc.HeaderMutex().Lock()
	defer svc.HeaderMutex().Unlock()

	hp := svc.HeaderPage()
	hp.Pragmas = pragmas
	hp.Flush()

	return svc.WriteDirect([]*cache.PageBuffer{cache.NewPageBuffer(page.HeaderPageID, hp.Page())})
}

// Collation returns the database's active collation, parsed from the
// COLLATION pragma.
func (e *Engine) Collation() bsonvalue.Collation {
	e.svc.HeaderMutex().Lock()
	defer e.svc.HeaderMutex().Unlock()

	return bsonvalue.ParseCollation(e.svc.HeaderPage().Pragmas.Collation)
}

func (e *Engine) limitSize() uint64 {
	e.svc.HeaderMutex().Lock()
	defer e.svc.HeaderMutex().Unlock()

	return e.svc.HeaderPage().Pragmas.LimitSize
}

func (e *Engine) checkpointThreshold() uint32 {
	e.svc.HeaderMutex().Lock()
	defer e.svc.HeaderMutex().Unlock()

	return e.svc.HeaderPage().Pragmas.Checkpoint
}

// release undoes everything a begin* call acquired, in reverse order.
type release func()

// beginRead opens a read-mode snapshot: mutating operations and reads both
// take the database lock for reading, per spec.md §4.6 (only write-mode
// snapshots additionally take a collection lock).
func (e *Engine) beginRead(ctx context.Context, collectionName string) (*txn.Snapshot, release, error) {
	dbRelease, err := e.locks.AcquireDatabaseRead(ctx)
	if err != nil {
		return nil, nil, err
	}

	snap := txn.New(e.svc, txn.ModeRead, collectionName, e.limitSize())

	return snap, release(dbRelease), nil
}

// beginWrite opens a write-mode snapshot: database read lock (shared
// among concurrent writers to different collections) plus an exclusive
// lock on collectionName.
func (e *Engine) beginWrite(ctx context.Context, collectionName string) (*txn.Snapshot, release, error) {
	dbRelease, err := e.locks.AcquireDatabaseRead(ctx)
	if err != nil {
		return nil, nil, err
	}

	collRelease, err := e.locks.AcquireCollections(ctx, collectionName)
	if err != nil {
		dbRelease()

		return nil, nil, err
	}

	snap := txn.New(e.svc, txn.ModeWrite, collectionName, e.limitSize())

	return snap, release(func() { collRelease(); dbRelease() }), nil
}

// beginStructural opens a write-mode snapshot under the exclusive database
// lock, for operations spec.md §4.6 classifies as structural (create/drop
// collection, checkpoint).
func (e *Engine) beginStructural(ctx context.Context, collectionName string) (*txn.Snapshot, release, error) {
	dbRelease, err := e.locks.AcquireDatabaseWrite(ctx)
	if err != nil {
		return nil, nil, err
	}

	snap := txn.New(e.svc, txn.ModeWrite, collectionName, e.limitSize())

	return snap, release(dbRelease), nil
}

// CreateCollection allocates a fresh CollectionPage holding only a PK
// index ("_id") and registers it in the header page.
func (e *Engine) CreateCollection(ctx context.Context, name string) error {
	snap, release, err := e.beginStructural(ctx, name)
	if err != nil {
		return err
	}

	e.svc.HeaderMutex().Lock()
	_, exists := e.svc.HeaderPage().Collections[name]
	e.svc.HeaderMutex().Unlock()

	if exists {
		release()

		return enginerr.Newf(enginerr.CodeAlreadyExists, "collection %q already exists", name)
	}

	p, err := snap.NewPage(page.TypeCollection)
	if err != nil {
		release()

		return err
	}

	page.InitCollectionPage(p).Flush()

	e.svc.HeaderMutex().Lock()
	e.svc.HeaderPage().AddCollection(name, p.Header().PageID)
	e.svc.HeaderMutex().Unlock()

	return snap.Commit(release)
}

// DropCollection implements spec.md §4.7's drop_collection: walk every
// index's skip list collecting its pages, chain every collection/data/
// index page onto the deleted-page list, and remove the collection from
// the header page.
func (e *Engine) DropCollection(ctx context.Context, name string) error {
	snap, release, err := e.beginStructural(ctx, name)
	if err != nil {
		return err
	}

	e.svc.HeaderMutex().Lock()
	collID, exists := e.svc.HeaderPage().Collections[name]
	e.svc.HeaderMutex().Unlock()

	if !exists {
		release()

		return enginerr.Newf(enginerr.CodeNotFound, "collection %q does not exist", name)
	}

	cPage, err := snap.GetPageForWrite(collID)
	if err != nil {
		release()

		return err
	}

	cp, err := page.CollectionPageFromPage(cPage)
	if err != nil {
		release()

		return err
	}

	collation := e.Collation()
	idxSvc := index.New(snap, collID, collation)

	for _, idx := range cp.Indexes {
		if idx.Head.IsNone() {
			continue
		}

		if err := deleteIndexPages(snap, idxSvc, idx); err != nil {
			release()

			return err
		}
	}

	if err := deleteCollectionDataPages(snap, cp); err != nil {
		release()

		return err
	}

	snap.DeletePage(collID)

	e.svc.HeaderMutex().Lock()
	e.svc.HeaderPage().DeleteCollection(name)
	e.svc.HeaderMutex().Unlock()

	return snap.Commit(release)
}

// deleteIndexPages collects every distinct page backing idx's skip-list
// nodes (its Head/Tail sentinels plus every real node) and schedules them
// for deletion. Index pages may hold several nodes each, so pages are
// deduplicated before scheduling.
func deleteIndexPages(snap *txn.Snapshot, idxSvc *index.Service, idx page.CollectionIndex) error {
	seen := map[uint32]bool{idx.Head.PageID: true, idx.Tail.PageID: true}

	nodes, err := idxSvc.FindAll(idx.Name, index.Ascending)
	if err != nil {
		return err
	}

	for _, addr := range nodes {
		seen[addr.PageID] = true
	}

	for id := range seen {
		snap.DeletePage(id)
	}

	return nil
}

// deleteCollectionDataPages walks every free-data-list slot's chain and
// schedules each page for deletion; pages still holding live document
// fragments are reachable only through the indexes already torn down
// above, so at this point every data page belonging to the collection is
// either on a free list or orphaned, and both cases are safe to delete.
func deleteCollectionDataPages(snap *txn.Snapshot, cp *page.CollectionPage) error {
	for _, head := range cp.FreeDataPageList {
		id := head

		for id != page.MaxU32 {
			p, err := snap.GetPage(id)
			if err != nil {
				return err
			}

			next := p.Header().NextPageID
			snap.DeletePage(id)
			id = next
		}
	}

	return nil
}

// Checkpoint implements spec.md §4.9's Checkpoint under the exclusive
// database lock.
func (e *Engine) Checkpoint(ctx context.Context) error {
	release, err := e.locks.AcquireDatabaseWrite(ctx)
	if err != nil {
		return err
	}
	defer release()

	return txn.Checkpoint(e.svc)
}

// maybeAutoCheckpoint triggers a checkpoint if the log has grown past the
// CHECKPOINT pragma's page-count threshold (0 disables), per spec.md
// §4.9's "triggered implicitly when LogLength >= CHECKPOINT pages".
func (e *Engine) maybeAutoCheckpoint(ctx context.Context) error {
	threshold := e.checkpointThreshold()
	if threshold == 0 {
		return nil
	}

	logPages := (e.svc.LogEndPosition() - e.svc.LogStartPosition()) / page.Size
	if logPages < uint64(threshold) {
		return nil
	}

	return e.Checkpoint(ctx)
}

// Close closes the underlying stream. It does not flush the stream itself
// (every Commit already waits for the writer queue's flush), and it does not
// stop the writer queue's worker goroutine.
func (e *Engine) Close() error {
	return e.svc.Stream().Close()
}
