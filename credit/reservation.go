package credit

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/accrue-dev/accrue"
	"github.com/accrue-dev/accrue/kit/platform/errors"
)

type reserveOptions struct {
	limitCheck   bool
	skipIfExists bool
	propagate    bool
}

// ReserveCredits places a hold of req.Amount against the wallet and, for
// project wallets, against every ancestor project's wallet in the same
// category. The caller supplied job id is the idempotency key.
//
// With DiscardAfterLimitCheck the whole operation, ancestor checks included,
// runs and is then rolled back, turning the call into an affordability probe
// that leaves no rows behind.
func (s *Service) ReserveCredits(ctx context.Context, actor accrue.Actor, req accrue.ReserveCreditsRequest) error {
	if err := s.auth.RequireWriteBalance(ctx, actor, req.Wallet.AccountID, req.Wallet.Type); err != nil {
		return err
	}
	if err := req.Wallet.Type.Valid(); err != nil {
		return &errors.Error{Code: errors.EInvalid, Err: err, Op: "credit.ReserveCredits"}
	}
	if req.Amount < 0 {
		return invalidReservationError("amount cannot be negative")
	}
	if req.JobID == "" {
		req.JobID = s.idGenerator.ID().String()
	}
	if req.InitiatedBy == "" {
		req.InitiatedBy = actor.Name
	}

	s.store.Mu.Lock()
	defer s.store.Mu.Unlock()

	tx, err := s.store.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	err = s.reserveTx(ctx, tx, req, req.Wallet, reserveOptions{
		limitCheck:   !req.SkipLimitCheck,
		skipIfExists: req.SkipIfExists,
		propagate:    true,
	})
	if err == nil && req.DiscardAfterLimitCheck {
		err = errProbeAbort
	}
	if err != nil {
		tx.Rollback()
		if stderrors.Is(err, errProbeAbort) {
			// The probe passed every limit check. Nothing was kept.
			return nil
		}
		return err
	}

	if req.ChargeImmediately {
		if err := s.chargeFromReservationTx(tx, req.JobID, req.Amount, req.ProductUnits); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *Service) reserveTx(ctx context.Context, tx *sqlx.Tx, req accrue.ReserveCreditsRequest, wallet accrue.WalletIdentifier, opts reserveOptions) error {
	if wallet.PaysFor != req.Wallet.PaysFor || wallet.Type != req.Wallet.Type {
		return invalidReservationError("reservations cannot cross product categories or owner types")
	}

	if err := s.ensureWallet(tx, wallet, ""); err != nil {
		return err
	}

	if opts.limitCheck {
		reserved, err := s.outstandingReserved(tx, wallet)
		if err != nil {
			return err
		}
		balance, err := s.balanceTx(tx, wallet)
		if err != nil {
			return err
		}
		if reserved+req.Amount > balance {
			return &errors.Error{
				Code: errors.EPaymentRequired,
				Msg:  fmt.Sprintf("insufficient funds in wallet for account %q", wallet.AccountID),
				Op:   "credit.ReserveCredits",
			}
		}
	}

	if opts.skipIfExists {
		exists, err := s.reservationExists(tx, wallet, req.JobID)
		if err != nil {
			return err
		}
		if exists {
			// Idempotent retry: the job already holds a reservation here.
			return nil
		}
	}

	if err := s.insertReservation(tx, req, wallet); err != nil {
		if isUniqueConstraintErr(err) {
			return &errors.Error{
				Code: errors.EConflict,
				Msg:  fmt.Sprintf("job %q already holds a reservation against this wallet", req.JobID),
				Op:   "credit.ReserveCredits",
			}
		}
		return err
	}

	if opts.propagate && wallet.Type == accrue.OwnerTypeProject {
		ancestors, err := s.ancestors.Ancestors(ctx, wallet.AccountID)
		if err != nil {
			return err
		}
		for _, ancestor := range ancestors {
			ancestorWallet := accrue.WalletIdentifier{
				AccountID: ancestor,
				Type:      accrue.OwnerTypeProject,
				PaysFor:   wallet.PaysFor,
			}
			// Ancestors are funded copies of the same job: no further
			// recursion, no idempotency shortcut. A limit failure anywhere in
			// the chain fails the whole reservation.
			err := s.reserveTx(ctx, tx, req, ancestorWallet, reserveOptions{
				limitCheck:   opts.limitCheck,
				skipIfExists: false,
				propagate:    false,
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// ChargeFromReservation commits the reservations held under jobID, setting
// their final amount and decrementing every involved wallet's balance,
// floored at zero.
func (s *Service) ChargeFromReservation(ctx context.Context, jobID string, amount, units int64) error {
	s.store.Mu.Lock()
	defer s.store.Mu.Unlock()

	tx, err := s.store.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := s.chargeFromReservationTx(tx, jobID, amount, units); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Service) chargeFromReservationTx(tx *sqlx.Tx, jobID string, amount, units int64) error {
	q := sq.Select("account_id", "account_type", "product_category", "product_provider").
		From("transactions").
		Where(sq.Eq{"id": jobID})

	query, args, err := q.ToSql()
	if err != nil {
		return err
	}

	var rows []struct {
		AccountID       string `db:"account_id"`
		AccountType     string `db:"account_type"`
		ProductCategory string `db:"product_category"`
		ProductProvider string `db:"product_provider"`
	}
	if err := tx.Select(&rows, query, args...); err != nil {
		return err
	}
	if len(rows) == 0 {
		return errReservationNotFound
	}

	u := sq.Update("transactions").
		Set("amount", amount).
		Set("units", units).
		Set("is_reserved", false).
		Set("completed_at", s.clock.Now().UTC()).
		Set("expires_at", nil).
		Where(sq.Eq{"id": jobID})

	query, args, err = u.ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(query, args...); err != nil {
		return err
	}

	for _, r := range rows {
		wallet := accrue.WalletIdentifier{
			AccountID: r.AccountID,
			Type:      accrue.WalletOwnerType(r.AccountType),
			PaysFor: accrue.ProductCategoryID{
				Name:     r.ProductCategory,
				Provider: r.ProductProvider,
			},
		}

		w := sq.Update("wallets").
			Set("balance", sq.Expr("MAX(0, balance - ?)", amount)).
			Where(walletEq(wallet))

		query, args, err := w.ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(query, args...); err != nil {
			return err
		}
		if err := s.resetLowFundsNotification(tx, wallet); err != nil {
			return err
		}
	}
	return nil
}

// GetReservedCredits sums the outstanding reservations held against the
// wallet. Expired reservations are deleted first; expiry is enforced on read,
// there is no background sweep.
func (s *Service) GetReservedCredits(ctx context.Context, wallet accrue.WalletIdentifier) (int64, error) {
	s.store.Mu.Lock()
	defer s.store.Mu.Unlock()

	tx, err := s.store.DB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}

	if err := s.deleteExpiredReservations(tx, wallet); err != nil {
		tx.Rollback()
		return 0, err
	}
	reserved, err := s.outstandingReserved(tx, wallet)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	return reserved, tx.Commit()
}

// TransferToPersonal charges the source wallet and credits a user's personal
// wallet in the same category. The transfer is recorded as an immediately
// committed reservation under a generated job id.
func (s *Service) TransferToPersonal(ctx context.Context, actor accrue.Actor, source accrue.WalletIdentifier, destinationUser string, amount int64) error {
	if err := s.auth.RequireTransfer(ctx, actor, source.AccountID, source.Type); err != nil {
		return err
	}
	if amount <= 0 {
		return &errors.Error{
			Code: errors.EInvalid,
			Msg:  "transfer amount must be positive",
			Op:   "credit.TransferToPersonal",
		}
	}

	initiatedBy := actor.Name
	if actor.System {
		initiatedBy = "_accounting"
	}

	req := accrue.ReserveCreditsRequest{
		JobID:        uuid.NewString(),
		Wallet:       source,
		Amount:       amount,
		ExpiresAt:    s.clock.Now().UTC().Add(time.Minute),
		ProductID:    "transfer",
		ProductUnits: 1,
		InitiatedBy:  initiatedBy,
	}

	s.store.Mu.Lock()
	defer s.store.Mu.Unlock()

	tx, err := s.store.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	err = s.reserveTx(ctx, tx, req, source, reserveOptions{
		limitCheck: true,
		propagate:  true,
	})
	if err == nil {
		err = s.chargeFromReservationTx(tx, req.JobID, amount, 1)
	}
	if err == nil {
		destination := accrue.WalletIdentifier{
			AccountID: destinationUser,
			Type:      accrue.OwnerTypeUser,
			PaysFor:   source.PaysFor,
		}
		err = s.addToBalanceTx(tx, destination, amount)
		if err == nil {
			err = s.resetLowFundsNotification(tx, destination)
		}
	}
	if err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Service) balanceTx(tx *sqlx.Tx, wallet accrue.WalletIdentifier) (int64, error) {
	q := sq.Select("balance").
		From("wallets").
		Where(walletEq(wallet))

	query, args, err := q.ToSql()
	if err != nil {
		return 0, err
	}

	var balance int64
	if err := tx.Get(&balance, query, args...); err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Service) outstandingReserved(tx *sqlx.Tx, wallet accrue.WalletIdentifier) (int64, error) {
	q := sq.Select("COALESCE(SUM(amount), 0)").
		From("transactions").
		Where(walletEq(wallet)).
		Where(sq.Eq{"is_reserved": true}).
		Where(sq.Or{
			sq.Eq{"expires_at": nil},
			sq.Gt{"expires_at": s.clock.Now().UTC()},
		})

	query, args, err := q.ToSql()
	if err != nil {
		return 0, err
	}

	var reserved int64
	if err := tx.Get(&reserved, query, args...); err != nil {
		return 0, err
	}
	return reserved, nil
}

func (s *Service) reservationExists(tx *sqlx.Tx, wallet accrue.WalletIdentifier, jobID string) (bool, error) {
	q := sq.Select("COUNT(1)").
		From("transactions").
		Where(walletEq(wallet)).
		Where(sq.Eq{"id": jobID})

	query, args, err := q.ToSql()
	if err != nil {
		return false, err
	}

	var count int64
	if err := tx.Get(&count, query, args...); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Service) insertReservation(tx *sqlx.Tx, req accrue.ReserveCreditsRequest, wallet accrue.WalletIdentifier) error {
	var expiresAt interface{}
	if !req.ExpiresAt.IsZero() {
		expiresAt = req.ExpiresAt.UTC()
	}

	q := sq.Insert("transactions").
		Columns(
			"id", "account_id", "account_type", "product_category", "product_provider",
			"original_account_id", "product_id", "units", "amount", "is_reserved",
			"initiated_by", "completed_at", "expires_at").
		Values(
			req.JobID, wallet.AccountID, string(wallet.Type), wallet.PaysFor.Name, wallet.PaysFor.Provider,
			req.Wallet.AccountID, req.ProductID, req.ProductUnits, req.Amount, true,
			req.InitiatedBy, s.clock.Now().UTC(), expiresAt)

	query, args, err := q.ToSql()
	if err != nil {
		return err
	}
	_, err = tx.Exec(query, args...)
	return err
}

func (s *Service) deleteExpiredReservations(tx *sqlx.Tx, wallet accrue.WalletIdentifier) error {
	q := sq.Delete("transactions").
		Where(walletEq(wallet)).
		Where(sq.Eq{"is_reserved": true}).
		Where(sq.Lt{"expires_at": s.clock.Now().UTC()})

	query, args, err := q.ToSql()
	if err != nil {
		return err
	}
	_, err = tx.Exec(query, args...)
	return err
}
