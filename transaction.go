package accrue

import (
	"context"
	"time"
)

// Transaction is a persisted reservation or charge against a wallet. Rows are
// keyed by a caller supplied job id which doubles as the idempotency token for
// ReserveCredits.
type Transaction struct {
	ID                string           `json:"id"`
	Wallet            WalletIdentifier `json:"wallet"`
	OriginalAccountID string           `json:"originalAccountId"`
	ProductID         string           `json:"productId"`
	Units             int64            `json:"units"`
	Amount            int64            `json:"amount"`
	IsReserved        bool             `json:"isReserved"`
	InitiatedBy       string           `json:"initiatedBy"`
	CompletedAt       time.Time        `json:"completedAt"`
	ExpiresAt         *time.Time       `json:"expiresAt,omitempty"`
}

// ReserveCreditsRequest describes a single reservation attempt.
type ReserveCreditsRequest struct {
	JobID        string
	Wallet       WalletIdentifier
	Amount       int64
	ExpiresAt    time.Time
	ProductID    string
	ProductUnits int64
	InitiatedBy  string

	// SkipLimitCheck reserves even when the wallet cannot cover the amount.
	SkipLimitCheck bool

	// SkipIfExists turns a duplicate job id into a silent no-op instead of a
	// conflict. Scoped to the wallet the reservation targets.
	SkipIfExists bool

	// DiscardAfterLimitCheck runs the limit check and then abandons the
	// operation, leaving no rows behind. Used to probe affordability.
	DiscardAfterLimitCheck bool

	// ChargeImmediately commits the reservation in the same operation.
	ChargeImmediately bool
}

// ReservationService implements the two-phase reserve/charge protocol over the
// balance ledger. Reservations are held against every wallet in the ancestor
// chain so that a parent project cannot be drained past its own balance by a
// child.
type ReservationService interface {
	ReserveCredits(ctx context.Context, actor Actor, req ReserveCreditsRequest) error

	// ChargeFromReservation converts a held reservation into a final charge of
	// the given amount, which may differ from the reserved amount.
	ChargeFromReservation(ctx context.Context, jobID string, amount, units int64) error

	// GetReservedCredits reports the credits currently held in unexpired
	// reservations against the wallet. Expired reservations are released.
	GetReservedCredits(ctx context.Context, wallet WalletIdentifier) (int64, error)

	// TransferToPersonal moves credits from a source wallet into a user's
	// personal wallet of the same category.
	TransferToPersonal(ctx context.Context, actor Actor, source WalletIdentifier, destinationUser string, amount int64) error
}
