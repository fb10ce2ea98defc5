package rounds

import (
	"fmt"
	"sync"

	"github.com/hushplay/cipherpair/shared"
)

type pendingVerification struct {
	owner   shared.PlayerID
	roundID uint64
}

// pendingLedger tracks in-flight verification requests so verdicts can
// be matched back to their round. It is deliberately not persisted: a
// restart forgets in-flight requests and their late verdicts are
// rejected as unknown.
type pendingLedger struct {
	mtx     sync.Mutex
	max     int
	entries map[shared.RequestID]pendingVerification
}

func newPendingLedger(max int) *pendingLedger {
	return &pendingLedger{
		max:     max,
		entries: make(map[shared.RequestID]pendingVerification),
	}
}

func (l *pendingLedger) add(id shared.RequestID, entry pendingVerification) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if _, exists := l.entries[id]; exists {
		return fmt.Errorf("%w: request %d", ErrRequestPending, id)
	}
	if len(l.entries) >= l.max {
		return fmt.Errorf("%w: %d requests in flight", ErrTooManyPending, len(l.entries))
	}
	l.entries[id] = entry
	return nil
}

func (l *pendingLedger) remove(id shared.RequestID) (pendingVerification, bool) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	entry, ok := l.entries[id]
	if ok {
		delete(l.entries, id)
	}
	return entry, ok
}

func (l *pendingLedger) count() int {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return len(l.entries)
}
