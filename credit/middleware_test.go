package credit

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/accrue-dev/accrue"
	"github.com/accrue-dev/accrue/kit/platform/errors"
	"github.com/accrue-dev/accrue/mock"
)

func TestReservationLoggerPassthrough(t *testing.T) {
	t.Parallel()

	inner := mock.NewReservationService()
	inner.GetReservedCreditsFn = func(context.Context, accrue.WalletIdentifier) (int64, error) {
		return 1234, nil
	}
	wantErr := &errors.Error{Code: errors.EPaymentRequired, Msg: "insufficient funds"}
	inner.ReserveCreditsFn = func(context.Context, accrue.Actor, accrue.ReserveCreditsRequest) error {
		return wantErr
	}

	svc := NewReservationLogger(zaptest.NewLogger(t), inner)

	reserved, err := svc.GetReservedCredits(context.Background(), userWallet)
	require.NoError(t, err)
	require.Equal(t, int64(1234), reserved)

	err = svc.ReserveCredits(context.Background(), accrue.ActorSystem, accrue.ReserveCreditsRequest{})
	require.Equal(t, wantErr, err)
}

func TestReservationMetricsPassthrough(t *testing.T) {
	t.Parallel()

	inner := mock.NewReservationService()
	svc := NewReservationMetrics(prometheus.NewRegistry(), inner)

	require.NoError(t, svc.ChargeFromReservation(context.Background(), "job-1", 100, 1))
	require.NoError(t, svc.TransferToPersonal(context.Background(), accrue.ActorSystem, userWallet, "someone", 50))

	reserved, err := svc.GetReservedCredits(context.Background(), userWallet)
	require.NoError(t, err)
	require.Zero(t, reserved)
}
