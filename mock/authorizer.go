package mock

import (
	"context"

	"github.com/accrue-dev/accrue"
)

var _ accrue.Authorizer = (*Authorizer)(nil)

// Authorizer is a mock implementation of an accrue.Authorizer. The zero-value
// functions allow everything.
type Authorizer struct {
	RequireReadBalanceFn  func(context.Context, accrue.Actor, string, accrue.WalletOwnerType) error
	RequireWriteBalanceFn func(context.Context, accrue.Actor, string, accrue.WalletOwnerType) error
	RequireTransferFn     func(context.Context, accrue.Actor, string, accrue.WalletOwnerType) error
}

// NewAuthorizer returns a mock of Authorizer that allows every operation.
func NewAuthorizer() *Authorizer {
	return &Authorizer{
		RequireReadBalanceFn:  func(context.Context, accrue.Actor, string, accrue.WalletOwnerType) error { return nil },
		RequireWriteBalanceFn: func(context.Context, accrue.Actor, string, accrue.WalletOwnerType) error { return nil },
		RequireTransferFn:     func(context.Context, accrue.Actor, string, accrue.WalletOwnerType) error { return nil },
	}
}

func (a *Authorizer) RequireReadBalance(ctx context.Context, actor accrue.Actor, accountID string, ownerType accrue.WalletOwnerType) error {
	return a.RequireReadBalanceFn(ctx, actor, accountID, ownerType)
}

func (a *Authorizer) RequireWriteBalance(ctx context.Context, actor accrue.Actor, accountID string, ownerType accrue.WalletOwnerType) error {
	return a.RequireWriteBalanceFn(ctx, actor, accountID, ownerType)
}

func (a *Authorizer) RequireTransfer(ctx context.Context, actor accrue.Actor, accountID string, ownerType accrue.WalletOwnerType) error {
	return a.RequireTransferFn(ctx, actor, accountID, ownerType)
}
