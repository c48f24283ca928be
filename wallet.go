// Package accrue holds the domain types and service interfaces of the
// hierarchical accounting core. Implementations live in the subpackages:
// ledger carries the usage-propagation engine, credit the balance ledger and
// reservation protocol.
package accrue

import (
	"context"
)

// WalletOwnerType describes who owns a wallet. Wallets belong either to a
// single user or to a project that may itself sit inside a project hierarchy.
type WalletOwnerType string

const (
	OwnerTypeUser    WalletOwnerType = "USER"
	OwnerTypeProject WalletOwnerType = "PROJECT"
)

// Valid returns an error if the owner type is not a known value.
func (t WalletOwnerType) Valid() error {
	switch t {
	case OwnerTypeUser, OwnerTypeProject:
		return nil
	default:
		return &invalidOwnerTypeError{t}
	}
}

type invalidOwnerTypeError struct {
	t WalletOwnerType
}

func (e *invalidOwnerTypeError) Error() string {
	return "unknown wallet owner type: " + string(e.t)
}

// ProductArea is the coarse product classification used when reporting
// balances back to callers.
type ProductArea string

const (
	ProductAreaCompute ProductArea = "COMPUTE"
	ProductAreaStorage ProductArea = "STORAGE"
)

// ProductCategoryID identifies a product category sold by a single provider.
// All accounting is scoped to one category; wallets from different categories
// never interact.
type ProductCategoryID struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// WalletIdentifier is the identity tuple of a balance-ledger wallet row.
type WalletIdentifier struct {
	AccountID string            `json:"accountId"`
	Type      WalletOwnerType   `json:"type"`
	PaysFor   ProductCategoryID `json:"paysFor"`
}

// WalletBalance is the externally visible state of a single wallet.
type WalletBalance struct {
	Wallet    WalletIdentifier `json:"wallet"`
	Balance   int64            `json:"balance"`
	Allocated int64            `json:"allocated"`
	Used      int64            `json:"used"`
	Area      ProductArea      `json:"area"`
}

// BalanceService manages the flat debit ledger attached to wallet rows. This
// is distinct from the hierarchical usage/quota ledger; see the ledger package.
type BalanceService interface {
	// GetBalance returns the current balance of the wallet and whether the
	// wallet row exists. A missing row reads as a zero balance.
	GetBalance(ctx context.Context, actor Actor, wallet WalletIdentifier) (int64, bool, error)

	// SetBalance overwrites the balance. lastKnownBalance is compared against
	// the stored value and a mismatch fails with a conflict; callers must
	// re-read and retry explicitly.
	SetBalance(ctx context.Context, actor Actor, wallet WalletIdentifier, lastKnownBalance, amount int64) error

	// AddToBalance adds amount to the stored balance, creating the wallet row
	// if it does not exist yet.
	AddToBalance(ctx context.Context, actor Actor, wallet WalletIdentifier, amount int64) error

	// GetWalletsForAccount returns the balances of every wallet owned by the
	// account, optionally including the wallets of child projects.
	GetWalletsForAccount(ctx context.Context, actor Actor, accountID string, ownerType WalletOwnerType, includeChildren bool) ([]WalletBalance, error)
}

// Actor identifies the caller of an operation for authorization purposes.
// The zero value is an anonymous user; ActorSystem bypasses all checks.
type Actor struct {
	Name   string
	System bool
}

// ActorSystem is the internal system actor used for self-initiated operations
// such as ancestor propagation.
var ActorSystem = Actor{System: true}

// Authorizer is the precondition hook consulted before any state mutation.
// The policy behind it (role lookups, project membership) lives outside this
// module; implementations receive enough context to decide.
type Authorizer interface {
	RequireReadBalance(ctx context.Context, actor Actor, accountID string, ownerType WalletOwnerType) error
	RequireWriteBalance(ctx context.Context, actor Actor, accountID string, ownerType WalletOwnerType) error
	RequireTransfer(ctx context.Context, actor Actor, accountID string, ownerType WalletOwnerType) error
}

// AncestorService resolves the project hierarchy surrounding a wallet.
// Ancestors returns the chain above the given project, nearest parent first,
// excluding the project itself. Children returns the direct sub-projects.
type AncestorService interface {
	Ancestors(ctx context.Context, projectID string) ([]string, error)
	Children(ctx context.Context, projectID string) ([]string, error)
}
