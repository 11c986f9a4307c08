package game

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Scheduler credits passive income to every connected, bound player on
// a fixed interval. Offline players earn nothing.
type Scheduler struct {
	store    Store
	registry *Registry
	log      *slog.Logger
	metrics  Metrics
	every    time.Duration
}

func NewScheduler(store Store, registry *Registry, log *slog.Logger, metrics Metrics, every time.Duration) *Scheduler {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Scheduler{store: store, registry: registry, log: log, metrics: metrics, every: every}
}

// Run ticks until ctx is cancelled. A persistence failure for one
// player skips that player and the tick continues; cancellation and
// anything unexpected stop the scheduler with an error.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	s.log.Info("income scheduler started", "every", s.every)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("income scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				return fmt.Errorf("income tick: %w", err)
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) error {
	var credited float64
	for _, b := range s.registry.Bindings() {
		amount, err := s.creditPlayer(ctx, b)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("income credit failed", "player_id", b.PlayerID, "error", err)
			continue
		}
		credited += amount
	}
	s.metrics.IncomeTick()
	s.metrics.IncomeCredited(credited)
	return nil
}

// creditPlayer computes the player's per-tick income as the share-
// weighted sum over every lab they hold a position in, plus the flat
// bonus, applies it atomically, and pushes the new balance.
func (s *Scheduler) creditPlayer(ctx context.Context, b Binding) (float64, error) {
	links, err := s.store.InvestmentsForPlayer(ctx, b.PlayerID)
	if err != nil {
		return 0, err
	}
	amount := IncomeTickBonus
	for _, link := range links {
		amount += link.Part * link.LabIncome
	}

	funds, err := s.store.IncrementFunds(ctx, b.PlayerID, amount)
	if err != nil {
		return 0, err
	}
	s.registry.SendTo(b.UserID, Response{
		Action:  ActionUpdateFunds,
		Payload: FundsUpdate{Funds: funds, UpdateType: UpdateIncrement},
	})
	return amount, nil
}
