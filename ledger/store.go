package ledger

import (
	"sync"
	"time"

	"github.com/accrue-dev/accrue/kit/platform"
	"github.com/accrue-dev/accrue/kit/platform/errors"
)

// RootParent is the parent key used by allocations granted directly by the
// system rather than by another wallet.
const RootParent platform.ID = 0

// Allocation is a grant of quota from a parent wallet to an owning wallet,
// active inside a time window.
type Allocation struct {
	ID      platform.ID
	OwnedBy platform.ID

	// Parent is the wallet the quota is drawn from. RootParent marks a grant
	// with no backing wallet.
	Parent platform.ID

	Quota int64
	Start time.Time
	End   time.Time
}

// ActiveAt reports whether the allocation window covers the given instant.
// The window is inclusive on both ends.
func (a *Allocation) ActiveAt(now time.Time) bool {
	return !now.Before(a.Start) && !now.After(a.End)
}

// Wallet is a node in the usage-propagation graph. The usage counters are
// only ever updated through Ledger operations.
type Wallet struct {
	ID platform.ID

	// Root marks a wallet whose charges are absorbed without verification.
	Root bool

	// AllocationIDs holds the wallet's allocations in creation order. The
	// order is significant: charge splitting walks parents in this order.
	AllocationIDs []platform.ID

	// LocalUsage counts usage charged directly to this wallet. It is never
	// capped.
	LocalUsage int64

	// RealTreeUsage tracks, per parent wallet, everything ever charged
	// through that edge, including amounts past quota.
	RealTreeUsage map[platform.ID]int64

	// TreeUsage is RealTreeUsage capped at the combined active quota of the
	// edge. It is the basis for capacity when splitting charges.
	TreeUsage map[platform.ID]int64
}

// Store holds the wallet graph. All reads and writes go through Ledger, which
// serializes them on the store mutex.
type Store struct {
	mu sync.RWMutex

	walletsByID     map[platform.ID]*Wallet
	allocationsByID map[platform.ID]*Allocation
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		walletsByID:     map[platform.ID]*Wallet{},
		allocationsByID: map[platform.ID]*Allocation{},
	}
}

// AddWallet registers a wallet. A wallet with a duplicate id is a conflict.
func (s *Store) AddWallet(w *Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.walletsByID[w.ID]; ok {
		return &errors.Error{
			Code: errors.EConflict,
			Msg:  "wallet already exists",
			Op:   "ledger.AddWallet",
		}
	}
	if w.RealTreeUsage == nil {
		w.RealTreeUsage = map[platform.ID]int64{}
	}
	if w.TreeUsage == nil {
		w.TreeUsage = map[platform.ID]int64{}
	}
	s.walletsByID[w.ID] = w
	return nil
}

// AddAllocation registers an allocation and attaches it to its owning wallet.
func (s *Store) AddAllocation(a *Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.allocationsByID[a.ID]; ok {
		return &errors.Error{
			Code: errors.EConflict,
			Msg:  "allocation already exists",
			Op:   "ledger.AddAllocation",
		}
	}
	w, ok := s.walletsByID[a.OwnedBy]
	if !ok {
		return &errors.Error{
			Code: errors.ENotFound,
			Msg:  "owning wallet does not exist",
			Op:   "ledger.AddAllocation",
		}
	}
	if a.Parent != RootParent {
		if _, ok := s.walletsByID[a.Parent]; !ok {
			return &errors.Error{
				Code: errors.ENotFound,
				Msg:  "parent wallet does not exist",
				Op:   "ledger.AddAllocation",
			}
		}
	}

	s.allocationsByID[a.ID] = a
	w.AllocationIDs = append(w.AllocationIDs, a.ID)
	return nil
}

// Wallet returns the wallet with the given id, or nil.
func (s *Store) Wallet(id platform.ID) *Wallet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.walletsByID[id]
}

// Allocation returns the allocation with the given id, or nil.
func (s *Store) Allocation(id platform.ID) *Allocation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allocationsByID[id]
}

// activeAllocations returns the wallet's allocations active at now, in
// creation order. Callers must hold the store mutex.
func (s *Store) activeAllocations(w *Wallet, now time.Time) []*Allocation {
	var out []*Allocation
	for _, id := range w.AllocationIDs {
		a := s.allocationsByID[id]
		if a != nil && a.ActiveAt(now) {
			out = append(out, a)
		}
	}
	return out
}

// activeQuotaFrom sums the quota of the wallet's active allocations drawn
// from the given parent. Callers must hold the store mutex.
func (s *Store) activeQuotaFrom(w *Wallet, parent platform.ID, now time.Time) int64 {
	var quota int64
	for _, a := range s.activeAllocations(w, now) {
		if a.Parent == parent {
			quota += a.Quota
		}
	}
	return quota
}
