package ledger

import (
	"time"

	"github.com/accrue-dev/accrue/kit/platform"
	"github.com/accrue-dev/accrue/kit/platform/errors"
)

// ProposeSplit distributes amount across the given parent edges of the
// wallet. A positive amount is a charge and fills parents in the given order,
// each up to its remaining capacity; a negative amount is a refund and
// releases parents in reverse order, each down to its current tree usage.
// Whatever cannot be placed within capacity is assigned to the first parent
// visited, so the returned shares always sum exactly to amount. The result is
// aligned with the parents argument.
func (l *Ledger) ProposeSplit(walletID platform.ID, parents []platform.ID, amount int64) ([]int64, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	w := l.store.walletsByID[walletID]
	if w == nil {
		return nil, &errors.Error{
			Code: errors.ENotFound,
			Msg:  "wallet not found",
			Op:   "ledger.ProposeSplit",
		}
	}
	return l.proposeSplit(w, parents, amount, l.clock.Now()), nil
}

func (l *Ledger) proposeSplit(w *Wallet, parents []platform.ID, amount int64, now time.Time) []int64 {
	shares := make([]int64, len(parents))
	if amount == 0 || len(parents) == 0 {
		return shares
	}

	order := make([]int, len(parents))
	for i := range order {
		order[i] = i
	}

	factor := int64(1)
	remaining := amount
	if amount < 0 {
		// Refunds release the most recently visited parents first.
		factor = -1
		remaining = -amount
		for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
			order[i], order[j] = order[j], order[i]
		}
	}

	for _, idx := range order {
		if remaining == 0 {
			break
		}
		p := parents[idx]

		var capacity int64
		if factor > 0 {
			capacity = l.store.activeQuotaFrom(w, p, now) - w.TreeUsage[p]
		} else {
			capacity = w.TreeUsage[p]
		}
		if capacity < 0 {
			capacity = 0
		}

		take := remaining
		if capacity < take {
			take = capacity
		}
		shares[idx] = take
		remaining -= take
	}

	// No parent had room left. The first parent visited absorbs the rest so
	// the shares account for the full amount.
	if remaining > 0 {
		shares[order[0]] += remaining
	}

	for i := range shares {
		shares[i] *= factor
	}
	return shares
}
