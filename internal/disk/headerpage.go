package disk

import "github.com/pagedb/enginecore/internal/page"

// headerPage is loaded once at Open/bootstrap and mutated under headerMu for
// the lifetime of the service; internal/txn reads and writes it while
// holding HeaderMutex, and Commit is responsible for persisting it as the
// final confirmed log page of a transaction (spec.md §4.9 step 4).
func (svc *Service) loadHeaderPage(buf []byte) error {
	hp, err := page.WrapHeaderPage(buf)
	if err != nil {
		return err
	}

	svc.headerPage = hp

	return nil
}

// HeaderPage returns the shared, in-memory header page. Callers must hold
// HeaderMutex() while reading or mutating it.
func (svc *Service) HeaderPage() *page.HeaderPage { return svc.headerPage }
