// Package sweeper reclaims reservations whose hold lapsed without
// payment. It talks to the core only through the same public operations
// the request handlers use; it never bypasses the ledger.
package sweeper

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ticketrush/orderflow/internal/clock"
	"github.com/ticketrush/orderflow/internal/domain"
	"github.com/ticketrush/orderflow/internal/observability"
	"github.com/ticketrush/orderflow/internal/order"
	"github.com/ticketrush/orderflow/internal/reservation"
)

type Sweeper struct {
	resStore reservation.Store
	holds    *reservation.Manager
	orders   *order.Service
	clock    clock.Clock
	interval time.Duration
	batch    int
	log      observability.Logger
}

func New(resStore reservation.Store, holds *reservation.Manager, orders *order.Service, clk clock.Clock, interval time.Duration, batch int, log observability.Logger) *Sweeper {
	return &Sweeper{
		resStore: resStore,
		holds:    holds,
		orders:   orders,
		clock:    clk,
		interval: interval,
		batch:    batch,
		log:      log,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.log.Error("sweep failed: ", err)
			}
		}
	}
}

// SweepOnce releases every lapsed Active reservation it can see and
// expires orders left with no Active holds. A single bad record is
// logged and skipped; it never halts the sweep of the others.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	started := time.Now()
	defer func() {
		observability.SweepDuration.Observe(time.Since(started).Seconds())
	}()

	lapsed, err := s.resStore.ExpiredReservations(ctx, s.clock.Now(), s.batch)
	if err != nil {
		return errors.Wrap(err, "scan expired reservations")
	}

	for _, res := range lapsed {
		if err := s.reclaim(ctx, res); err != nil {
			s.log.WithField("reservation_id", res.ID.String()).Error("reclaim failed: ", err)
		}
	}
	return nil
}

func (s *Sweeper) reclaim(ctx context.Context, res domain.Reservation) error {
	err := s.holds.Expire(ctx, res.ID)
	switch {
	case errors.Is(err, domain.ErrAlreadyTerminal):
		// The purchase flow confirmed or released this hold between our
		// scan and the CAS. Its inventory effect already happened.
		return nil
	case err != nil:
		return err
	}

	observability.ReservationsExpired.Inc()
	return s.orders.ExpireIfReclaimed(ctx, res.OrderID)
}
