package mock

import (
	"context"

	"github.com/accrue-dev/accrue"
)

var _ accrue.ReservationService = (*ReservationService)(nil)

// ReservationService is a mock implementation of an accrue.ReservationService.
type ReservationService struct {
	ReserveCreditsFn        func(context.Context, accrue.Actor, accrue.ReserveCreditsRequest) error
	ChargeFromReservationFn func(context.Context, string, int64, int64) error
	GetReservedCreditsFn    func(context.Context, accrue.WalletIdentifier) (int64, error)
	TransferToPersonalFn    func(context.Context, accrue.Actor, accrue.WalletIdentifier, string, int64) error
}

// NewReservationService returns a mock of ReservationService where its
// methods will return zero values.
func NewReservationService() *ReservationService {
	return &ReservationService{
		ReserveCreditsFn: func(context.Context, accrue.Actor, accrue.ReserveCreditsRequest) error { return nil },
		ChargeFromReservationFn: func(context.Context, string, int64, int64) error { return nil },
		GetReservedCreditsFn:    func(context.Context, accrue.WalletIdentifier) (int64, error) { return 0, nil },
		TransferToPersonalFn: func(context.Context, accrue.Actor, accrue.WalletIdentifier, string, int64) error {
			return nil
		},
	}
}

func (s *ReservationService) ReserveCredits(ctx context.Context, actor accrue.Actor, req accrue.ReserveCreditsRequest) error {
	return s.ReserveCreditsFn(ctx, actor, req)
}

func (s *ReservationService) ChargeFromReservation(ctx context.Context, jobID string, amount, units int64) error {
	return s.ChargeFromReservationFn(ctx, jobID, amount, units)
}

func (s *ReservationService) GetReservedCredits(ctx context.Context, wallet accrue.WalletIdentifier) (int64, error) {
	return s.GetReservedCreditsFn(ctx, wallet)
}

func (s *ReservationService) TransferToPersonal(ctx context.Context, actor accrue.Actor, source accrue.WalletIdentifier, destinationUser string, amount int64) error {
	return s.TransferToPersonalFn(ctx, actor, source, destinationUser, amount)
}
