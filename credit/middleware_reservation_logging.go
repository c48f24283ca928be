package credit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/accrue-dev/accrue"
)

// ReservationLogger is a logging middleware for a ReservationService.
type ReservationLogger struct {
	logger             *zap.Logger
	reservationService accrue.ReservationService
}

// NewReservationLogger returns a logging service middleware for the
// Reservation Service.
func NewReservationLogger(log *zap.Logger, s accrue.ReservationService) *ReservationLogger {
	return &ReservationLogger{
		logger:             log,
		reservationService: s,
	}
}

var _ accrue.ReservationService = (*ReservationLogger)(nil)

func (l *ReservationLogger) ReserveCredits(ctx context.Context, actor accrue.Actor, req accrue.ReserveCreditsRequest) (err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			msg := fmt.Sprintf("failed to reserve credits for job %v", req.JobID)
			l.logger.Debug(msg, zap.Error(err), dur)
			return
		}
		l.logger.Debug("credits reserve", dur)
	}(time.Now())
	return l.reservationService.ReserveCredits(ctx, actor, req)
}

func (l *ReservationLogger) ChargeFromReservation(ctx context.Context, jobID string, amount, units int64) (err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			msg := fmt.Sprintf("failed to charge reservation for job %v", jobID)
			l.logger.Debug(msg, zap.Error(err), dur)
			return
		}
		l.logger.Debug("reservation charge", dur)
	}(time.Now())
	return l.reservationService.ChargeFromReservation(ctx, jobID, amount, units)
}

func (l *ReservationLogger) GetReservedCredits(ctx context.Context, wallet accrue.WalletIdentifier) (reserved int64, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			msg := fmt.Sprintf("failed to get reserved credits for account %v", wallet.AccountID)
			l.logger.Debug(msg, zap.Error(err), dur)
			return
		}
		l.logger.Debug("reserved credits get", dur)
	}(time.Now())
	return l.reservationService.GetReservedCredits(ctx, wallet)
}

func (l *ReservationLogger) TransferToPersonal(ctx context.Context, actor accrue.Actor, source accrue.WalletIdentifier, destinationUser string, amount int64) (err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			msg := fmt.Sprintf("failed to transfer credits to user %v", destinationUser)
			l.logger.Debug(msg, zap.Error(err), dur)
			return
		}
		l.logger.Debug("credits transfer to personal", dur)
	}(time.Now())
	return l.reservationService.TransferToPersonal(ctx, actor, source, destinationUser, amount)
}
