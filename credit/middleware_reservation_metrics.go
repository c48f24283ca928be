package credit

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/accrue-dev/accrue"
	"github.com/accrue-dev/accrue/kit/metric"
)

var _ accrue.ReservationService = (*ReservationMetrics)(nil)

// ReservationMetrics is a metrics middleware for a ReservationService.
type ReservationMetrics struct {
	// RED metrics
	rec *metric.REDClient

	reservationService accrue.ReservationService
}

// NewReservationMetrics returns a metrics service middleware for the
// Reservation Service.
func NewReservationMetrics(reg prometheus.Registerer, s accrue.ReservationService, opts ...metric.ClientOptFn) *ReservationMetrics {
	return &ReservationMetrics{
		rec:                metric.New(reg, "reservation", opts...),
		reservationService: s,
	}
}

func (m *ReservationMetrics) ReserveCredits(ctx context.Context, actor accrue.Actor, req accrue.ReserveCreditsRequest) error {
	rec := m.rec.Record("reserve_credits")
	err := m.reservationService.ReserveCredits(ctx, actor, req)
	return rec(err)
}

func (m *ReservationMetrics) ChargeFromReservation(ctx context.Context, jobID string, amount, units int64) error {
	rec := m.rec.Record("charge_from_reservation")
	err := m.reservationService.ChargeFromReservation(ctx, jobID, amount, units)
	return rec(err)
}

func (m *ReservationMetrics) GetReservedCredits(ctx context.Context, wallet accrue.WalletIdentifier) (int64, error) {
	rec := m.rec.Record("get_reserved_credits")
	reserved, err := m.reservationService.GetReservedCredits(ctx, wallet)
	return reserved, rec(err)
}

func (m *ReservationMetrics) TransferToPersonal(ctx context.Context, actor accrue.Actor, source accrue.WalletIdentifier, destinationUser string, amount int64) error {
	rec := m.rec.Record("transfer_to_personal")
	err := m.reservationService.TransferToPersonal(ctx, actor, source, destinationUser, amount)
	return rec(err)
}
