package credit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/accrue-dev/accrue"
	"github.com/accrue-dev/accrue/kit/platform/errors"
)

func reserveRequest(jobID string, amount int64, expires time.Time) accrue.ReserveCreditsRequest {
	return accrue.ReserveCreditsRequest{
		JobID:        jobID,
		Wallet:       userWallet,
		Amount:       amount,
		ExpiresAt:    expires,
		ProductID:    "u1-standard-4",
		ProductUnits: 4,
	}
}

func TestReserveCredits(t *testing.T) {
	t.Parallel()

	f := newTestService(t)
	ctx := context.Background()
	expires := f.clock.Now().Add(time.Hour)

	f.mustSetBalance(t, userWallet, 1000)

	require.NoError(t, f.svc.ReserveCredits(ctx, accrue.ActorSystem, reserveRequest("job-1", 400, expires)))

	reserved, err := f.svc.GetReservedCredits(ctx, userWallet)
	require.NoError(t, err)
	require.Equal(t, int64(400), reserved)

	// 400 held + 700 requested exceeds the balance of 1000.
	err = f.svc.ReserveCredits(ctx, accrue.ActorSystem, reserveRequest("job-2", 700, expires))
	require.Equal(t, errors.EPaymentRequired, errors.ErrorCode(err))

	// The failed attempt left nothing behind; the rest still fits exactly.
	require.NoError(t, f.svc.ReserveCredits(ctx, accrue.ActorSystem, reserveRequest("job-3", 600, expires)))

	reserved, err = f.svc.GetReservedCredits(ctx, userWallet)
	require.NoError(t, err)
	require.Equal(t, int64(1000), reserved)

	// Reservations hold funds but do not move the balance.
	require.Equal(t, int64(1000), f.balance(t, userWallet))
}

func TestReserveCreditsIdempotent(t *testing.T) {
	t.Parallel()

	f := newTestService(t)
	ctx := context.Background()
	expires := f.clock.Now().Add(time.Hour)

	f.mustSetBalance(t, userWallet, 1000)

	req := reserveRequest("job-1", 400, expires)
	req.SkipIfExists = true

	require.NoError(t, f.svc.ReserveCredits(ctx, accrue.ActorSystem, req))
	require.NoError(t, f.svc.ReserveCredits(ctx, accrue.ActorSystem, req))

	require.Equal(t, 1, f.transactionCount(t))

	reserved, err := f.svc.GetReservedCredits(ctx, userWallet)
	require.NoError(t, err)
	require.Equal(t, int64(400), reserved)
}

func TestReserveCreditsDuplicateJobID(t *testing.T) {
	t.Parallel()

	f := newTestService(t)
	ctx := context.Background()
	expires := f.clock.Now().Add(time.Hour)

	f.mustSetBalance(t, userWallet, 1000)

	require.NoError(t, f.svc.ReserveCredits(ctx, accrue.ActorSystem, reserveRequest("job-1", 100, expires)))

	err := f.svc.ReserveCredits(ctx, accrue.ActorSystem, reserveRequest("job-1", 100, expires))
	require.Equal(t, errors.EConflict, errors.ErrorCode(err))
	require.Equal(t, 1, f.transactionCount(t))
}

func TestReserveCreditsSkipLimitCheck(t *testing.T) {
	t.Parallel()

	f := newTestService(t)
	ctx := context.Background()

	f.mustSetBalance(t, userWallet, 100)

	req := reserveRequest("job-1", 5000, f.clock.Now().Add(time.Hour))
	req.SkipLimitCheck = true
	require.NoError(t, f.svc.ReserveCredits(ctx, accrue.ActorSystem, req))

	reserved, err := f.svc.GetReservedCredits(ctx, userWallet)
	require.NoError(t, err)
	require.Equal(t, int64(5000), reserved)
}

func TestReserveCreditsAncestorPropagation(t *testing.T) {
	t.Parallel()

	f := newTestService(t)
	ctx := context.Background()
	expires := f.clock.Now().Add(time.Hour)

	child := accrue.WalletIdentifier{AccountID: "subgroup", Type: accrue.OwnerTypeProject, PaysFor: testCategory}
	parent := accrue.WalletIdentifier{AccountID: "group", Type: accrue.OwnerTypeProject, PaysFor: testCategory}
	root := accrue.WalletIdentifier{AccountID: "org", Type: accrue.OwnerTypeProject, PaysFor: testCategory}

	f.ancestors.AncestorsFn = func(_ context.Context, projectID string) ([]string, error) {
		require.Equal(t, "subgroup", projectID)
		return []string{"group", "org"}, nil
	}

	f.mustSetBalance(t, child, 1000)
	f.mustSetBalance(t, parent, 1000)
	f.mustSetBalance(t, root, 100)

	req := accrue.ReserveCreditsRequest{
		JobID:     "job-1",
		Wallet:    child,
		Amount:    500,
		ExpiresAt: expires,
	}

	// The root of the chain cannot cover the hold; the entire reservation
	// fails and no wallet keeps a row.
	err := f.svc.ReserveCredits(ctx, accrue.ActorSystem, req)
	require.Equal(t, errors.EPaymentRequired, errors.ErrorCode(err))
	require.Zero(t, f.transactionCount(t))

	require.NoError(t, f.svc.SetBalance(ctx, accrue.ActorSystem, root, 100, 1000))
	require.NoError(t, f.svc.ReserveCredits(ctx, accrue.ActorSystem, req))
	require.Equal(t, 3, f.transactionCount(t))

	for _, w := range []accrue.WalletIdentifier{child, parent, root} {
		reserved, err := f.svc.GetReservedCredits(ctx, w)
		require.NoError(t, err)
		require.Equal(t, int64(500), reserved, "wallet %s", w.AccountID)
	}

	// Every ancestor row points back at the leaf that caused it.
	var originals []string
	require.NoError(t, f.store.DB.Select(&originals, `SELECT original_account_id FROM transactions`))
	for _, o := range originals {
		require.Equal(t, "subgroup", o)
	}
}

func TestReserveCreditsProbe(t *testing.T) {
	t.Parallel()

	f := newTestService(t)
	ctx := context.Background()
	expires := f.clock.Now().Add(time.Hour)

	f.mustSetBalance(t, userWallet, 1000)

	probe := reserveRequest("probe-1", 400, expires)
	probe.DiscardAfterLimitCheck = true

	// An affordable probe succeeds and keeps nothing.
	require.NoError(t, f.svc.ReserveCredits(ctx, accrue.ActorSystem, probe))
	require.Zero(t, f.transactionCount(t))

	reserved, err := f.svc.GetReservedCredits(ctx, userWallet)
	require.NoError(t, err)
	require.Zero(t, reserved)

	// An unaffordable probe reports insufficient funds, also keeping nothing.
	probe.Amount = 4000
	err = f.svc.ReserveCredits(ctx, accrue.ActorSystem, probe)
	require.Equal(t, errors.EPaymentRequired, errors.ErrorCode(err))
	require.Zero(t, f.transactionCount(t))
}

func TestChargeFromReservation(t *testing.T) {
	t.Parallel()

	f := newTestService(t)
	ctx := context.Background()
	expires := f.clock.Now().Add(time.Hour)

	f.mustSetBalance(t, userWallet, 1000)
	require.NoError(t, f.svc.ReserveCredits(ctx, accrue.ActorSystem, reserveRequest("job-1", 400, expires)))

	// The final charge may differ from the reserved amount.
	require.NoError(t, f.svc.ChargeFromReservation(ctx, "job-1", 350, 4))

	require.Equal(t, int64(650), f.balance(t, userWallet))

	reserved, err := f.svc.GetReservedCredits(ctx, userWallet)
	require.NoError(t, err)
	require.Zero(t, reserved)

	var row struct {
		Amount     int64      `db:"amount"`
		IsReserved bool       `db:"is_reserved"`
		ExpiresAt  *time.Time `db:"expires_at"`
	}
	require.NoError(t, f.store.DB.Get(&row, `SELECT amount, is_reserved, expires_at FROM transactions WHERE id = ?`, "job-1"))
	require.Equal(t, int64(350), row.Amount)
	require.False(t, row.IsReserved)
	require.Nil(t, row.ExpiresAt)

	t.Run("unknown job", func(t *testing.T) {
		err := f.svc.ChargeFromReservation(ctx, "no-such-job", 100, 1)
		require.Equal(t, errors.ENotFound, errors.ErrorCode(err))
	})
}

func TestChargeFromReservationFloorsAtZero(t *testing.T) {
	t.Parallel()

	f := newTestService(t)
	ctx := context.Background()

	f.mustSetBalance(t, userWallet, 100)

	req := reserveRequest("job-1", 400, f.clock.Now().Add(time.Hour))
	req.SkipLimitCheck = true
	require.NoError(t, f.svc.ReserveCredits(ctx, accrue.ActorSystem, req))

	require.NoError(t, f.svc.ChargeFromReservation(ctx, "job-1", 400, 4))
	require.Zero(t, f.balance(t, userWallet))
}

func TestChargeImmediately(t *testing.T) {
	t.Parallel()

	f := newTestService(t)
	ctx := context.Background()

	f.mustSetBalance(t, userWallet, 1000)

	req := reserveRequest("job-1", 400, f.clock.Now().Add(time.Hour))
	req.ChargeImmediately = true
	require.NoError(t, f.svc.ReserveCredits(ctx, accrue.ActorSystem, req))

	require.Equal(t, int64(600), f.balance(t, userWallet))

	reserved, err := f.svc.GetReservedCredits(ctx, userWallet)
	require.NoError(t, err)
	require.Zero(t, reserved)
}

func TestReservationExpiry(t *testing.T) {
	t.Parallel()

	f := newTestService(t)
	ctx := context.Background()

	f.mustSetBalance(t, userWallet, 1000)

	require.NoError(t, f.svc.ReserveCredits(ctx, accrue.ActorSystem, reserveRequest("job-1", 400, f.clock.Now().Add(time.Hour))))
	require.NoError(t, f.svc.ReserveCredits(ctx, accrue.ActorSystem, reserveRequest("job-2", 300, f.clock.Now().Add(3*time.Hour))))

	f.clock.Add(2 * time.Hour)

	// job-1 has lapsed; the read releases it and only job-2 still holds.
	reserved, err := f.svc.GetReservedCredits(ctx, userWallet)
	require.NoError(t, err)
	require.Equal(t, int64(300), reserved)
	require.Equal(t, 1, f.transactionCount(t))

	// The released funds are reservable again.
	require.NoError(t, f.svc.ReserveCredits(ctx, accrue.ActorSystem, reserveRequest("job-3", 700, f.clock.Now().Add(time.Hour))))
}

func TestReserveCreditsInvalidRequest(t *testing.T) {
	t.Parallel()

	f := newTestService(t)
	ctx := context.Background()

	req := reserveRequest("job-1", -5, f.clock.Now().Add(time.Hour))
	err := f.svc.ReserveCredits(ctx, accrue.ActorSystem, req)
	require.Equal(t, errors.EInvalid, errors.ErrorCode(err))

	bad := reserveRequest("job-2", 100, f.clock.Now().Add(time.Hour))
	bad.Wallet.Type = "ORGANIZATION"
	err = f.svc.ReserveCredits(ctx, accrue.ActorSystem, bad)
	require.Equal(t, errors.EInvalid, errors.ErrorCode(err))
}

func TestTransferToPersonal(t *testing.T) {
	t.Parallel()

	f := newTestService(t)
	ctx := context.Background()

	source := accrue.WalletIdentifier{AccountID: "research", Type: accrue.OwnerTypeProject, PaysFor: testCategory}
	f.mustSetBalance(t, source, 1000)

	require.NoError(t, f.svc.TransferToPersonal(ctx, accrue.ActorSystem, source, "danthorpe", 300))

	require.Equal(t, int64(700), f.balance(t, source))
	require.Equal(t, int64(300), f.balance(t, userWallet))

	t.Run("insufficient source funds", func(t *testing.T) {
		err := f.svc.TransferToPersonal(ctx, accrue.ActorSystem, source, "danthorpe", 5000)
		require.Equal(t, errors.EPaymentRequired, errors.ErrorCode(err))
		require.Equal(t, int64(700), f.balance(t, source))
		require.Equal(t, int64(300), f.balance(t, userWallet))
	})

	t.Run("amount must be positive", func(t *testing.T) {
		err := f.svc.TransferToPersonal(ctx, accrue.ActorSystem, source, "danthorpe", 0)
		require.Equal(t, errors.EInvalid, errors.ErrorCode(err))
	})
}
