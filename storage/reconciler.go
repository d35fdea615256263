package storage

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dlmmcore/engine/book"
	"github.com/dlmmcore/engine/risk"
)

// Reconciler recovers persisted orders, strategies, and risk state into a
// freshly constructed book/envelope on startup. Orders whose pool the fresh
// book never registered are skipped rather than restored as ghosts.
type Reconciler struct {
	store Store
	book  *book.Book
	env   *risk.Envelope
}

// NewReconciler binds a Reconciler to the store it recovers from and the
// book/envelope it recovers into. store may be nil, in which case
// RecoverOnStartup is a no-op.
func NewReconciler(store Store, b *book.Book, env *risk.Envelope) *Reconciler {
	return &Reconciler{store: store, book: b, env: env}
}

// RecoverOnStartup loads persisted open orders, active strategies, and risk
// state, and re-inserts them into the bound book/envelope. It returns the
// count of orders recovered. Pools whose book has no registered bin
// calculator can't host a restored order (the book would reject any new
// placement against them); those orders are skipped with a logged warning
// rather than failing recovery outright.
func (r *Reconciler) RecoverOnStartup(ctx context.Context) (int, error) {
	if r.store == nil {
		log.Info().Msg("storage: no store configured, skipping startup recovery")
		return 0, nil
	}

	state, err := r.store.LoadRiskState()
	if err != nil {
		log.Error().Err(err).Msg("storage: failed to load risk state")
		return 0, err
	}
	r.env.RestoreState(state)

	strategies, err := r.store.LoadActiveStrategies()
	if err != nil {
		log.Error().Err(err).Msg("storage: failed to load active strategies")
		return 0, err
	}
	for _, strat := range strategies {
		r.book.RestoreStrategy(strat)
	}

	orders, err := r.store.LoadOpenOrders()
	if err != nil {
		log.Error().Err(err).Msg("storage: failed to load open orders")
		return 0, err
	}

	recovered := 0
	for _, o := range orders {
		if !r.book.PoolRegistered(o.Pool) {
			log.Warn().Str("order_id", o.ID).Str("pool", o.Pool).
				Msg("storage: skipping recovered order for unregistered pool")
			continue
		}
		r.book.RestoreOrder(o)
		recovered++
	}

	log.Info().
		Int("orders_recovered", recovered).
		Int("strategies_recovered", len(strategies)).
		Msg("storage: startup recovery complete")

	return recovered, nil
}
