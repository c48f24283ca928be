// Package credit implements the balance ledger and the reservation/commit
// protocol on top of it. All state lives in the sqlite store; every top-level
// operation runs inside a single transaction.
package credit

import (
	"database/sql"
	stderrors "errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/benbjohnson/clock"
	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/accrue-dev/accrue"
	"github.com/accrue-dev/accrue/kit/platform"
	"github.com/accrue-dev/accrue/kit/platform/errors"
	"github.com/accrue-dev/accrue/snowflake"
	"github.com/accrue-dev/accrue/sqlite"
)

// DefaultLowFundsThreshold is the balance under which a wallet is considered
// low on funds for notification purposes.
const DefaultLowFundsThreshold = 5_000_000

// errProbeAbort unwinds a reservation used purely as an affordability probe.
// It is caught at the transaction boundary and never escapes the service.
var errProbeAbort = stderrors.New("reservation probe abort")

var (
	errWalletNotFound = &errors.Error{
		Code: errors.ENotFound,
		Msg:  "wallet not found",
	}
	errReservationNotFound = &errors.Error{
		Code: errors.ENotFound,
		Msg:  "reservation not found",
	}
)

var (
	_ accrue.BalanceService     = (*Service)(nil)
	_ accrue.ReservationService = (*Service)(nil)
)

// Service provides the balance and reservation operations backed by sqlite.
type Service struct {
	store       *sqlite.SqlStore
	log         *zap.Logger
	clock       clock.Clock
	idGenerator platform.IDGenerator

	ancestors accrue.AncestorService
	auth      accrue.Authorizer

	lowFundsThreshold int64
}

// ServiceOption overrides a Service default.
type ServiceOption func(*Service)

// WithClock sets the clock used for reservation expiry and timestamps.
func WithClock(cl clock.Clock) ServiceOption {
	return func(s *Service) {
		s.clock = cl
	}
}

// WithLowFundsThreshold sets the balance threshold for the low-funds
// notification latch.
func WithLowFundsThreshold(threshold int64) ServiceOption {
	return func(s *Service) {
		s.lowFundsThreshold = threshold
	}
}

// NewService constructs a Service over the given store.
func NewService(logger *zap.Logger, store *sqlite.SqlStore, ancestors accrue.AncestorService, auth accrue.Authorizer, opts ...ServiceOption) *Service {
	s := &Service{
		store:             store,
		log:               logger,
		clock:             clock.New(),
		idGenerator:       snowflake.NewIDGenerator(),
		ancestors:         ancestors,
		auth:              auth,
		lowFundsThreshold: DefaultLowFundsThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// walletEq is the predicate matching a wallet row's identity tuple.
func walletEq(w accrue.WalletIdentifier) sq.Eq {
	return sq.Eq{
		"account_id":       w.AccountID,
		"account_type":     string(w.Type),
		"product_category": w.PaysFor.Name,
		"product_provider": w.PaysFor.Provider,
	}
}

// ensureWallet lazily materializes the wallet row with a zero balance.
func (s *Service) ensureWallet(tx *sqlx.Tx, wallet accrue.WalletIdentifier, area accrue.ProductArea) error {
	if area == "" {
		area = accrue.ProductAreaCompute
	}

	q := sq.Insert("wallets").
		Columns("account_id", "account_type", "product_category", "product_provider", "product_area", "balance", "low_funds_notification_sent").
		Values(wallet.AccountID, string(wallet.Type), wallet.PaysFor.Name, wallet.PaysFor.Provider, string(area), 0, false).
		Suffix("ON CONFLICT (account_id, account_type, product_category, product_provider) DO NOTHING")

	query, args, err := q.ToSql()
	if err != nil {
		return err
	}
	_, err = tx.Exec(query, args...)
	return err
}

// resetLowFundsNotification clears the low-funds flag once the balance is
// back at or above the threshold. Level triggered: clearing an already clear
// flag is a no-op.
func (s *Service) resetLowFundsNotification(tx *sqlx.Tx, wallet accrue.WalletIdentifier) error {
	q := sq.Select("balance", "low_funds_notification_sent").
		From("wallets").
		Where(walletEq(wallet))

	query, args, err := q.ToSql()
	if err != nil {
		return err
	}

	var row struct {
		Balance  int64 `db:"balance"`
		Notified bool  `db:"low_funds_notification_sent"`
	}
	if err := tx.Get(&row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return errWalletNotFound
		}
		return err
	}

	if row.Balance < s.lowFundsThreshold || !row.Notified {
		return nil
	}

	u := sq.Update("wallets").
		Set("low_funds_notification_sent", false).
		Where(walletEq(wallet))

	query, args, err = u.ToSql()
	if err != nil {
		return err
	}
	_, err = tx.Exec(query, args...)
	return err
}

// isUniqueConstraintErr reports whether the error is a sqlite constraint
// violation, which surfaces on duplicate reservation job ids.
func isUniqueConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	if stderrors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

func invalidReservationError(format string, a ...interface{}) *errors.Error {
	return &errors.Error{
		Code: errors.EInvalid,
		Msg:  fmt.Sprintf(format, a...),
		Op:   "credit.ReserveCredits",
	}
}
