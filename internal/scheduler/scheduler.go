// Package scheduler periodically sweeps for markets past their close
// time and drives the resolver, generalizing the teacher pack-mate
// anselmolaurindo08-byte-bebrafun's DuelResolver.Start/Stop
// ticker/stopChan loop to context.Context cancellation, the
// idiomatic choice for the rest of this codebase.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/foretell/marketex/internal/marketerr"
	"github.com/foretell/marketex/internal/metrics"
	"github.com/foretell/marketex/internal/resolver"
	"github.com/foretell/marketex/internal/store"
)

// Period is the fixed tick interval the resolution scheduler runs on.
const Period = 60 * time.Second

// Scheduler fires Resolve against every due market on a fixed,
// non-overlapping tick.
type Scheduler struct {
	st       store.Store
	resolver *resolver.Resolver
	metrics  *metrics.Metrics
	period   time.Duration
}

// New creates a Scheduler with the default 60-second period.
func New(st store.Store, r *resolver.Resolver, m *metrics.Metrics) *Scheduler {
	return &Scheduler{st: st, resolver: r, metrics: m, period: Period}
}

// WithPeriod overrides the tick interval, for tests that cannot wait
// 60 seconds for a real tick.
func (s *Scheduler) WithPeriod(period time.Duration) *Scheduler {
	s.period = period
	return s
}

// Run blocks, ticking every s.period until ctx is canceled. Ticks are
// not overlapping: Run waits for Tick to finish before starting the
// next wait. Cancellation is observed between ticks, so a tick already
// in flight always runs to completion before Run returns.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick enumerates every market past its close time and attempts to
// resolve each; a per-market failure is logged and does not stop the
// sweep. A market whose resolution fails with any error other than
// NotFound or AlreadyResolved is marked closed so the scheduler stops
// retrying it indefinitely.
func (s *Scheduler) Tick(ctx context.Context) {
	due, err := s.st.ListMarketsDue(ctx, time.Now().UTC())
	if err != nil {
		slog.Error("scheduler: list due markets failed", "err", err)
		if s.metrics != nil {
			s.metrics.SchedulerTicks.WithLabelValues("error").Inc()
		}
		return
	}

	for _, market := range due {
		if _, err := s.resolver.Resolve(ctx, market.ID, nil, resolver.AutoResolvedBy); err != nil {
			slog.Error("scheduler: resolve failed", "market", market.ID, "err", err)
			if isPersistentFailure(err) {
				s.closeMarket(ctx, market.ID)
			}
		}
	}

	if s.metrics != nil {
		s.metrics.SchedulerTicks.WithLabelValues("ok").Inc()
	}
}

// isPersistentFailure reports whether err represents a resolution
// failure that will not clear up on the next tick (as opposed to a
// transient fetch timeout, which the resolver already turned into a
// successful probability-fallback resolution rather than an error).
func isPersistentFailure(err error) bool {
	switch marketerr.KindOf(err) {
	case marketerr.KindAlreadyResolved, marketerr.KindNotFound:
		return false
	default:
		return true
	}
}

func (s *Scheduler) closeMarket(ctx context.Context, marketID string) {
	err := s.st.WithTx(ctx, func(tx store.Tx) error {
		return tx.MarkClosed(ctx, marketID)
	})
	if err != nil {
		slog.Error("scheduler: mark closed failed", "market", marketID, "err", err)
		return
	}
	slog.Warn("scheduler: market closed after persistent resolve failure", "market", marketID)
}
