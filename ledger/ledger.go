// Package ledger tracks hierarchical usage against allocated quota.
//
// The ledger itself enforces no access policy: wallets are graph nodes keyed
// by platform.ID, not account identities. Callers exposing ChargeDelta or
// ChargeTotal to providers must gate them behind an accrue.Authorizer, the
// same way the credit service gates its balance mutations.
package ledger

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/accrue-dev/accrue/kit/platform"
	"github.com/accrue-dev/accrue/kit/platform/errors"
	"github.com/accrue-dev/accrue/snowflake"
)

// Ledger applies usage changes to the wallet graph held in a Store. All
// operations run under the store mutex; within one operation the graph
// observes a consistent point in time.
type Ledger struct {
	store       *Store
	clock       clock.Clock
	log         *zap.Logger
	idGenerator platform.IDGenerator
}

// New returns a Ledger over the given store.
func New(store *Store, cl clock.Clock, log *zap.Logger) *Ledger {
	return &Ledger{
		store:       store,
		clock:       cl,
		log:         log,
		idGenerator: snowflake.NewIDGenerator(),
	}
}

// Store returns the underlying wallet graph.
func (l *Ledger) Store() *Store {
	return l.store
}

// NewWallet registers an empty wallet under a generated id.
func (l *Ledger) NewWallet(root bool) (*Wallet, error) {
	w := &Wallet{ID: l.idGenerator.ID(), Root: root}
	if err := l.store.AddWallet(w); err != nil {
		return nil, err
	}
	return w, nil
}

// NewAllocation registers an allocation under a generated id.
func (l *Ledger) NewAllocation(owner, parent platform.ID, quota int64, start, end time.Time) (*Allocation, error) {
	a := &Allocation{
		ID:      l.idGenerator.ID(),
		OwnedBy: owner,
		Parent:  parent,
		Quota:   quota,
		Start:   start,
		End:     end,
	}
	if err := l.store.AddAllocation(a); err != nil {
		return nil, err
	}
	return a, nil
}

// ChargeDelta applies a usage change of amount to the wallet and propagates
// it to every ancestor. leaf marks the wallet where the usage originated; its
// local counter is bumped as well.
//
// Counter updates are applied eagerly and are never rolled back. The return
// value is the verdict: false means some wallet on the path could not cover
// its share within quota, but the charge has still been recorded everywhere.
// The only error case is a wallet id that does not exist.
func (l *Ledger) ChargeDelta(walletID platform.ID, amount int64, leaf bool) (bool, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	now := l.clock.Now()
	ok, err := l.chargeDelta(walletID, amount, leaf, now)
	if err != nil {
		return false, err
	}
	if !ok {
		l.log.Debug("charge exceeded quota somewhere on the ancestor path",
			zap.String("wallet_id", walletID.String()),
			zap.Int64("amount", amount))
	}
	return ok, nil
}

func (l *Ledger) chargeDelta(walletID platform.ID, amount int64, leaf bool, now time.Time) (bool, error) {
	if amount == 0 {
		return true, nil
	}

	w := l.store.walletsByID[walletID]
	if w == nil {
		return false, &errors.Error{
			Code: errors.ENotFound,
			Msg:  "wallet not found",
			Op:   "ledger.ChargeDelta",
		}
	}

	if leaf {
		w.LocalUsage += amount
	}

	if w.Root {
		// Roots absorb anything; nothing above them to verify against.
		l.incrementTreeUsage(w, RootParent, amount, now)
		return true, nil
	}

	parents := l.activeParents(w, now)
	if len(parents) == 0 {
		// No active allocation means no capacity. The local counter above has
		// already been bumped; that is the eager contract.
		return false, nil
	}

	shares := l.proposeSplit(w, parents, amount, now)

	ok := true
	for i, p := range parents {
		share := shares[i]
		if share == 0 {
			continue
		}

		l.incrementTreeUsage(w, p, share, now)
		if !l.hasResources(w, now) {
			ok = false
		}

		if p == RootParent {
			// A system grant has no backing wallet; the edge's quota check
			// above is the whole verdict for this share.
			continue
		}

		parentOK, err := l.chargeDelta(p, share, false, now)
		if err != nil {
			return false, err
		}
		if !parentOK {
			ok = false
		}
	}
	return ok, nil
}

// ChargeTotal records the wallet's cumulative local usage as amount by
// charging the difference from what has been recorded so far. Providers that
// report absolute meter readings use this instead of ChargeDelta.
func (l *Ledger) ChargeTotal(walletID platform.ID, amount int64) (bool, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	w := l.store.walletsByID[walletID]
	if w == nil {
		return false, &errors.Error{
			Code: errors.ENotFound,
			Msg:  "wallet not found",
			Op:   "ledger.ChargeTotal",
		}
	}
	return l.chargeDelta(walletID, amount-w.LocalUsage, true, l.clock.Now())
}

// incrementTreeUsage moves the real counter by delta and re-derives the
// capped view. The capped counter never exceeds the edge's combined active
// quota.
func (l *Ledger) incrementTreeUsage(w *Wallet, parent platform.ID, delta int64, now time.Time) {
	w.RealTreeUsage[parent] += delta

	quota := l.store.activeQuotaFrom(w, parent, now)
	capped := w.RealTreeUsage[parent]
	if capped > quota {
		capped = quota
	}
	w.TreeUsage[parent] = capped
}

// activeParents returns the distinct parent wallets of the wallet's active
// allocations, preserving first-occurrence order.
func (l *Ledger) activeParents(w *Wallet, now time.Time) []platform.ID {
	var parents []platform.ID
	seen := map[platform.ID]bool{}
	for _, a := range l.store.activeAllocations(w, now) {
		if !seen[a.Parent] {
			seen[a.Parent] = true
			parents = append(parents, a.Parent)
		}
	}
	return parents
}

// hasResources reports whether some parent edge of the wallet is still within
// its quota. A wallet with several parents passes as long as any single edge
// holds, even if another edge is overdrawn.
func (l *Ledger) hasResources(w *Wallet, now time.Time) bool {
	if w.Root {
		return true
	}
	for _, p := range l.activeParents(w, now) {
		if w.RealTreeUsage[p] <= l.store.activeQuotaFrom(w, p, now) {
			return true
		}
	}
	return false
}

// MaxUsable estimates how much more the wallet can be charged before every
// path to a root runs out of quota. The estimate is greedy per edge and does
// not account for ancestors shared between edges.
func (l *Ledger) MaxUsable(walletID platform.ID) (int64, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	w := l.store.walletsByID[walletID]
	if w == nil {
		return 0, &errors.Error{
			Code: errors.ENotFound,
			Msg:  "wallet not found",
			Op:   "ledger.MaxUsable",
		}
	}
	return l.maxUsable(w, l.clock.Now(), map[platform.ID]bool{}), nil
}

func (l *Ledger) maxUsable(w *Wallet, now time.Time, visiting map[platform.ID]bool) int64 {
	if w.Root {
		return math.MaxInt64
	}
	if visiting[w.ID] {
		return 0
	}
	visiting[w.ID] = true
	defer delete(visiting, w.ID)

	var total int64
	for _, p := range l.activeParents(w, now) {
		headroom := l.store.activeQuotaFrom(w, p, now) - w.TreeUsage[p]
		if headroom <= 0 {
			continue
		}

		if p != RootParent {
			pw := l.store.walletsByID[p]
			if pw == nil {
				continue
			}
			if parentMax := l.maxUsable(pw, now, visiting); parentMax < headroom {
				headroom = parentMax
			}
		}
		total += headroom
	}
	return total
}

// UpdateAllocation modifies an allocation's quota and window.
//
// A start date cannot be moved once the original start has passed, the window
// must be ordered, the quota cannot be negative, and the quota cannot drop
// below usage already recorded against the edge.
func (l *Ledger) UpdateAllocation(allocationID platform.ID, quota int64, start, end time.Time) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	now := l.clock.Now()

	a := l.store.allocationsByID[allocationID]
	if a == nil {
		return &errors.Error{
			Code: errors.ENotFound,
			Msg:  "allocation not found",
			Op:   "ledger.UpdateAllocation",
		}
	}

	if quota < 0 {
		return &errors.Error{
			Code: errors.EInvalid,
			Msg:  "quota cannot be negative",
			Op:   "ledger.UpdateAllocation",
		}
	}
	if start.After(end) {
		return &errors.Error{
			Code: errors.EInvalid,
			Msg:  "allocation window start cannot be after its end",
			Op:   "ledger.UpdateAllocation",
		}
	}
	if !start.Equal(a.Start) && !a.Start.After(now) {
		return &errors.Error{
			Code: errors.EInvalid,
			Msg:  "cannot change the start of an allocation that has already started",
			Op:   "ledger.UpdateAllocation",
		}
	}

	w := l.store.walletsByID[a.OwnedBy]

	// Prospective combined quota for the edge with the new values in place.
	prospective := int64(0)
	for _, other := range l.store.activeAllocations(w, now) {
		if other.Parent != a.Parent || other.ID == a.ID {
			continue
		}
		prospective += other.Quota
	}
	updated := Allocation{Quota: quota, Start: start, End: end}
	if updated.ActiveAt(now) {
		prospective += quota
	}
	if prospective < w.TreeUsage[a.Parent] {
		return &errors.Error{
			Code: errors.EUnprocessableEntity,
			Msg:  "quota cannot drop below usage already recorded",
			Op:   "ledger.UpdateAllocation",
		}
	}

	a.Quota = quota
	a.Start = start
	a.End = end

	l.recapWallet(w, now)
	return nil
}

// ScanAllocations re-derives every capped usage counter for the current
// time. Run it when allocation windows may have opened or closed.
func (l *Ledger) ScanAllocations() {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	now := l.clock.Now()
	for _, w := range l.store.walletsByID {
		l.recapWallet(w, now)
	}
}

func (l *Ledger) recapWallet(w *Wallet, now time.Time) {
	for p, used := range w.RealTreeUsage {
		quota := l.store.activeQuotaFrom(w, p, now)
		capped := used
		if capped > quota {
			capped = quota
		}
		w.TreeUsage[p] = capped
	}
}
