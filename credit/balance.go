package credit

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/accrue-dev/accrue"
	"github.com/accrue-dev/accrue/kit/platform/errors"
)

// GetBalance returns the wallet's balance and whether its row exists. A
// wallet that has never been materialized reads as zero.
func (s *Service) GetBalance(ctx context.Context, actor accrue.Actor, wallet accrue.WalletIdentifier) (int64, bool, error) {
	if err := s.auth.RequireReadBalance(ctx, actor, wallet.AccountID, wallet.Type); err != nil {
		return 0, false, err
	}

	q := sq.Select("balance").
		From("wallets").
		Where(walletEq(wallet))

	query, args, err := q.ToSql()
	if err != nil {
		return 0, false, err
	}

	var balance int64
	if err := s.store.DB.GetContext(ctx, &balance, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, err
	}
	return balance, true, nil
}

// SetBalance overwrites the wallet balance. The stored balance must match
// lastKnownBalance or the update is rejected with a conflict; a wallet with
// no row yet is treated as a zero balance.
func (s *Service) SetBalance(ctx context.Context, actor accrue.Actor, wallet accrue.WalletIdentifier, lastKnownBalance, amount int64) error {
	if err := s.auth.RequireWriteBalance(ctx, actor, wallet.AccountID, wallet.Type); err != nil {
		return err
	}

	s.store.Mu.Lock()
	defer s.store.Mu.Unlock()

	tx, err := s.store.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	if err := s.setBalanceTx(tx, wallet, lastKnownBalance, amount); err != nil {
		tx.Rollback()
		return err
	}
	if err := s.resetLowFundsNotification(tx, wallet); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Service) setBalanceTx(tx *sqlx.Tx, wallet accrue.WalletIdentifier, lastKnownBalance, amount int64) error {
	q := sq.Select("balance").
		From("wallets").
		Where(walletEq(wallet))

	query, args, err := q.ToSql()
	if err != nil {
		return err
	}

	var current int64
	err = tx.Get(&current, query, args...)
	switch {
	case err == sql.ErrNoRows:
		if lastKnownBalance != 0 {
			return balanceConflictError(lastKnownBalance, 0)
		}
		return s.insertWallet(tx, wallet, amount)
	case err != nil:
		return err
	}

	if current != lastKnownBalance {
		return balanceConflictError(lastKnownBalance, current)
	}

	u := sq.Update("wallets").
		Set("balance", amount).
		Where(walletEq(wallet))

	query, args, err = u.ToSql()
	if err != nil {
		return err
	}
	_, err = tx.Exec(query, args...)
	return err
}

// AddToBalance adds amount to the wallet balance, creating the row when it
// does not exist yet.
func (s *Service) AddToBalance(ctx context.Context, actor accrue.Actor, wallet accrue.WalletIdentifier, amount int64) error {
	if err := s.auth.RequireWriteBalance(ctx, actor, wallet.AccountID, wallet.Type); err != nil {
		return err
	}

	s.store.Mu.Lock()
	defer s.store.Mu.Unlock()

	tx, err := s.store.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	if err := s.addToBalanceTx(tx, wallet, amount); err != nil {
		tx.Rollback()
		return err
	}
	if err := s.resetLowFundsNotification(tx, wallet); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Service) addToBalanceTx(tx *sqlx.Tx, wallet accrue.WalletIdentifier, amount int64) error {
	u := sq.Update("wallets").
		Set("balance", sq.Expr("balance + ?", amount)).
		Where(walletEq(wallet))

	query, args, err := u.ToSql()
	if err != nil {
		return err
	}
	res, err := tx.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.insertWallet(tx, wallet, amount)
	}
	return nil
}

func (s *Service) insertWallet(tx *sqlx.Tx, wallet accrue.WalletIdentifier, balance int64) error {
	q := sq.Insert("wallets").
		Columns("account_id", "account_type", "product_category", "product_provider", "product_area", "balance", "low_funds_notification_sent").
		Values(wallet.AccountID, string(wallet.Type), wallet.PaysFor.Name, wallet.PaysFor.Provider, string(accrue.ProductAreaCompute), balance, false)

	query, args, err := q.ToSql()
	if err != nil {
		return err
	}
	_, err = tx.Exec(query, args...)
	return err
}

// GetWalletsForAccount lists the balances of every wallet owned by the
// account. includeChildren additionally lists the wallets of the account's
// direct sub-projects.
func (s *Service) GetWalletsForAccount(ctx context.Context, actor accrue.Actor, accountID string, ownerType accrue.WalletOwnerType, includeChildren bool) ([]accrue.WalletBalance, error) {
	if err := s.auth.RequireReadBalance(ctx, actor, accountID, ownerType); err != nil {
		return nil, err
	}

	accounts := []string{accountID}
	if includeChildren && ownerType == accrue.OwnerTypeProject {
		children, err := s.ancestors.Children(ctx, accountID)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, children...)
	}

	q := sq.Select(
		"w.account_id", "w.account_type", "w.product_category", "w.product_provider",
		"w.product_area", "w.balance",
		"COALESCE(SUM(CASE WHEN t.is_reserved = 0 THEN t.amount ELSE 0 END), 0) AS used").
		From("wallets w").
		LeftJoin(`transactions t ON
			t.account_id = w.account_id AND
			t.account_type = w.account_type AND
			t.product_category = w.product_category AND
			t.product_provider = w.product_provider`).
		Where(sq.Eq{"w.account_id": accounts, "w.account_type": string(ownerType)}).
		GroupBy("w.account_id", "w.account_type", "w.product_category", "w.product_provider", "w.product_area", "w.balance").
		OrderBy("w.account_id", "w.product_category", "w.product_provider")

	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	var rows []struct {
		AccountID       string `db:"account_id"`
		AccountType     string `db:"account_type"`
		ProductCategory string `db:"product_category"`
		ProductProvider string `db:"product_provider"`
		ProductArea     string `db:"product_area"`
		Balance         int64  `db:"balance"`
		Used            int64  `db:"used"`
	}
	if err := s.store.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	out := make([]accrue.WalletBalance, 0, len(rows))
	for _, r := range rows {
		out = append(out, accrue.WalletBalance{
			Wallet: accrue.WalletIdentifier{
				AccountID: r.AccountID,
				Type:      accrue.WalletOwnerType(r.AccountType),
				PaysFor: accrue.ProductCategoryID{
					Name:     r.ProductCategory,
					Provider: r.ProductProvider,
				},
			},
			Balance:   r.Balance,
			Allocated: r.Balance + r.Used,
			Used:      r.Used,
			Area:      accrue.ProductArea(r.ProductArea),
		})
	}
	return out, nil
}

func balanceConflictError(expected, actual int64) *errors.Error {
	return &errors.Error{
		Code: errors.EConflict,
		Msg:  fmt.Sprintf("balance has changed since it was last read (expected %d, stored %d)", expected, actual),
		Op:   "credit.SetBalance",
	}
}
