package ledger

import (
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/accrue-dev/accrue/kit/platform"
	"github.com/accrue-dev/accrue/kit/platform/errors"
)

// splitFixture builds a wallet with one allocation per entry of quotas, each
// drawn from its own parent wallet, and pre-charges usage onto each edge.
func splitFixture(t *testing.T, l *Ledger, cl *clock.Mock, quotas, usage []int64) (platform.ID, []platform.ID) {
	t.Helper()

	child := platform.ID(1)
	mustAddWallet(t, l, child, false)

	parents := make([]platform.ID, len(quotas))
	for i, q := range quotas {
		p := platform.ID(100 + i)
		parents[i] = p
		mustAddWallet(t, l, p, true)
		mustAddAllocation(t, l, cl, platform.ID(200+i), child, p, q)
	}

	w := l.Store().Wallet(child)
	for i, u := range usage {
		if u != 0 {
			l.incrementTreeUsage(w, parents[i], u, cl.Now())
		}
	}
	return child, parents
}

func TestProposeSplitSumsExactly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		quotas []int64
		usage  []int64
		amount int64
		want   []int64
	}{
		{
			name:   "fits in first parent",
			quotas: []int64{1000, 1000},
			usage:  []int64{0, 0},
			amount: 600,
			want:   []int64{600, 0},
		},
		{
			name:   "spills into second parent",
			quotas: []int64{500, 1000},
			usage:  []int64{0, 0},
			amount: 800,
			want:   []int64{500, 300},
		},
		{
			name:   "usage reduces capacity",
			quotas: []int64{500, 1000},
			usage:  []int64{450, 0},
			amount: 300,
			want:   []int64{50, 250},
		},
		{
			name:   "exceeds total capacity",
			quotas: []int64{100, 200},
			usage:  []int64{0, 0},
			amount: 1000,
			want:   []int64{800, 200},
		},
		{
			name:   "single parent absorbs everything",
			quotas: []int64{100},
			usage:  []int64{90},
			amount: 500,
			want:   []int64{500},
		},
		{
			name:   "refund drains last parent first",
			quotas: []int64{500, 500},
			usage:  []int64{400, 100},
			amount: -300,
			want:   []int64{-200, -100},
		},
		{
			name:   "refund beyond recorded usage lands on last parent",
			quotas: []int64{500, 500},
			usage:  []int64{100, 100},
			amount: -500,
			want:   []int64{-100, -400},
		},
		{
			name:   "zero amount",
			quotas: []int64{500},
			usage:  []int64{0},
			amount: 0,
			want:   []int64{0},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			l, cl := newTestLedger(t)
			child, parents := splitFixture(t, l, cl, tt.quotas, tt.usage)

			got, err := l.ProposeSplit(child, parents, tt.amount)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)

			var sum int64
			for _, s := range got {
				sum += s
			}
			require.Equal(t, tt.amount, sum)
		})
	}
}

func TestProposeSplitAtMostOneOverspend(t *testing.T) {
	t.Parallel()

	l, cl := newTestLedger(t)
	child, parents := splitFixture(t, l, cl, []int64{100, 200, 300}, []int64{0, 0, 0})

	got, err := l.ProposeSplit(child, parents, 5000)
	require.NoError(t, err)

	// All but the first parent receive exactly their capacity; the first one
	// takes on the whole deficit.
	require.Equal(t, []int64{4500, 200, 300}, got)

	over := 0
	caps := []int64{100, 200, 300}
	for i, s := range got {
		if s > caps[i] {
			over++
		}
	}
	require.Equal(t, 1, over)
}

func TestProposeSplitNoOverspendWhenAvoidable(t *testing.T) {
	t.Parallel()

	l, cl := newTestLedger(t)
	child, parents := splitFixture(t, l, cl, []int64{100, 200, 300}, []int64{40, 0, 0})

	got, err := l.ProposeSplit(child, parents, 500)
	require.NoError(t, err)

	caps := []int64{60, 200, 300}
	for i, s := range got {
		require.LessOrEqual(t, s, caps[i])
	}
}

func TestProposeSplitNoParents(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)
	mustAddWallet(t, l, 1, false)

	got, err := l.ProposeSplit(1, nil, 100)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestProposeSplitMissingWallet(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)

	_, err := l.ProposeSplit(7, nil, 100)
	require.Equal(t, errors.ENotFound, errors.ErrorCode(err))
}
