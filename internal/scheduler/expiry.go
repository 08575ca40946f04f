// Package scheduler runs the periodic expiry sweep over pending sessions.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/checkout-service/internal/telemetry"
)

// Sweeper expires every pending session past its deadline and reports how many.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

type ExpirySweeper struct {
	scheduler gocron.Scheduler
	sweeper   Sweeper
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewExpirySweeper returns nil when interval is zero; expiry then happens only
// lazily on read.
func NewExpirySweeper(sweeper Sweeper, interval time.Duration, opts ...gocron.SchedulerOption) (*ExpirySweeper, error) {
	if interval <= 0 {
		return nil, nil
	}

	s, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &ExpirySweeper{scheduler: s, sweeper: sweeper, ctx: ctx, cancel: cancel}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(e.sweep),
		gocron.WithName("expire-overdue-sessions"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("schedule expiry sweep: %w", err)
	}
	return e, nil
}

func (e *ExpirySweeper) Start() {
	e.scheduler.Start()
	telemetry.Logger.Info("Expiry sweep scheduled")
}

func (e *ExpirySweeper) Shutdown() error {
	e.cancel()
	return e.scheduler.Shutdown()
}

func (e *ExpirySweeper) sweep() {
	n, err := e.sweeper.SweepExpired(e.ctx)
	if err != nil {
		telemetry.Logger.Error("Expiry sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		telemetry.Logger.Info("Expired overdue sessions", zap.Int("count", n))
	}
}
