package resolver

import "sync/atomic"

// Budget caps generation calls for one viewer session. It is advisory: it
// throttles this process only and is not enforced by the generation service.
type Budget struct {
	limit int64
	used  atomic.Int64
}

// NewBudget returns a budget allowing limit calls. A negative limit is treated as zero.
func NewBudget(limit int) *Budget {
	if limit < 0 {
		limit = 0
	}
	return &Budget{limit: int64(limit)}
}

// TryAcquire consumes one call, reporting false once the budget is spent.
func (b *Budget) TryAcquire() bool {
	for {
		used := b.used.Load()
		if used >= b.limit {
			return false
		}
		if b.used.CompareAndSwap(used, used+1) {
			return true
		}
	}
}

// Used returns the number of calls consumed.
func (b *Budget) Used() int { return int(b.used.Load()) }

// Remaining returns the number of calls left.
func (b *Budget) Remaining() int { return int(b.limit - b.used.Load()) }

// Limit returns the configured cap.
func (b *Budget) Limit() int { return int(b.limit) }
