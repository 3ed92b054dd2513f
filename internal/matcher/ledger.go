package matcher

import (
	"fmt"

	"github.com/retaildss/rebalance-engine/internal/model"
)

// Allocation tracks one giver position during a matching run.
type Allocation struct {
	Excess    int
	Allocated int
}

// Remaining returns the units the giver can still release.
func (a *Allocation) Remaining() int {
	return a.Excess - a.Allocated
}

// Ledger is the run-local record of giver capacity, keyed by position. It is
// never shared between runs.
type Ledger map[model.PositionKey]*Allocation

// NewLedger creates an empty ledger.
func NewLedger() Ledger {
	return make(Ledger)
}

// Offer registers a giver position with its releasable excess.
func (l Ledger) Offer(key model.PositionKey, excess int) {
	l[key] = &Allocation{Excess: excess}
}

// Remaining returns the releasable units of a position, 0 if unknown.
func (l Ledger) Remaining(key model.PositionKey) int {
	a, ok := l[key]
	if !ok {
		return 0
	}
	return a.Remaining()
}

// Take records an allocation. It panics if the giver would be overdrawn,
// which indicates a bug in the caller.
func (l Ledger) Take(key model.PositionKey, n int) {
	a, ok := l[key]
	if !ok || n > a.Remaining() {
		panic(fmt.Sprintf("matcher: overdraw of %v by %d", key, n))
	}
	a.Allocated += n
}

// TotalAllocated sums allocations across all givers.
func (l Ledger) TotalAllocated() int {
	total := 0
	for _, a := range l {
		total += a.Allocated
	}
	return total
}
