// Package scheduler runs the periodic control loops of the admin service:
// audience precompute, scheduled activation, expiration and stale-connection
// reaping. Every pod runs the loops, but each tick executes on one pod only,
// gated by a store-backed lease, so the loops are cluster singletons without
// a leader election subsystem.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/webitel/broadcast-delivery-service/config"
	"github.com/webitel/broadcast-delivery-service/internal/domain/apperr"
	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
	"github.com/webitel/broadcast-delivery-service/internal/service"
	"github.com/webitel/broadcast-delivery-service/internal/storage/grid"
	"github.com/webitel/broadcast-delivery-service/internal/storage/postgres"
)

// batchLimit bounds how many broadcasts one tick touches. Leftovers wait for
// the next tick rather than holding the lease open.
const batchLimit = 50

// tickStore is the slice of the durable store the loops read, plus the lease
// gating them.
type tickStore interface {
	TryAcquireLease(ctx context.Context, name, owner string, atMostFor time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, owner string, atLeastFor time.Duration) error
	DueScheduled(ctx context.Context, now time.Time, wantProduct bool, limit int) ([]*model.Broadcast, error)
	PreparingBroadcasts(ctx context.Context, limit int) ([]*model.Broadcast, error)
	ReadyForActivation(ctx context.Context, limit int) ([]*model.Broadcast, error)
	ExpiredActive(ctx context.Context, now time.Time, limit int) ([]*model.Broadcast, error)
}

type Scheduler struct {
	cron      *cron.Cron
	store     tickStore
	grid      grid.Grid
	lifecycle service.Lifecycler
	targeting service.Targeter
	registrar service.Registrar
	logger    *slog.Logger
	cfg       *config.Config
}

func New(store *postgres.Store, g grid.Grid, lifecycle service.Lifecycler, targeting service.Targeter, registrar service.Registrar, logger *slog.Logger, cfg *config.Config) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		store:     store,
		grid:      g,
		lifecycle: lifecycle,
		targeting: targeting,
		registrar: registrar,
		logger:    logger.With("component", "scheduler"),
		cfg:       cfg,
	}
}

// Start registers the loops and starts the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	loops := []struct {
		name     string
		interval time.Duration
		run      func(context.Context) error
	}{
		{"precompute-loop", s.cfg.Schedule.PrecomputeInterval, s.precomputeTick},
		{"activation-loop", s.cfg.Schedule.ActivationInterval, s.activationTick},
		{"expiration-loop", s.cfg.Schedule.ExpirationInterval, s.expirationTick},
		{"stale-reaper", s.cfg.Schedule.StaleReapInterval, s.reapTick},
	}
	for _, loop := range loops {
		loop := loop
		_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", loop.interval), func() {
			s.leased(ctx, loop.name, loop.run)
		})
		if err != nil {
			return fmt.Errorf("register %s: %w", loop.name, err)
		}
	}
	s.cron.Start()
	return nil
}

// Stop halts the runner and waits for in-flight ticks.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// leased runs one tick under the named cross-process lease. Not winning the
// lease is the normal case on all pods but one.
func (s *Scheduler) leased(ctx context.Context, name string, run func(context.Context) error) {
	acquired, err := s.store.TryAcquireLease(ctx, name, s.cfg.Pod.ID, s.cfg.Schedule.LockAtMostFor)
	if err != nil {
		s.logger.Error("lease acquisition failed", "lease", name, "err", err)
		return
	}
	if !acquired {
		return
	}
	if err := run(ctx); err != nil {
		s.logger.Error("tick failed", "lease", name, "err", err)
	}
	if err := s.store.ReleaseLease(ctx, name, s.cfg.Pod.ID, s.cfg.Schedule.LockAtLeastFor); err != nil {
		s.logger.Warn("lease release failed", "lease", name, "err", err)
	}
}

// precomputeTick hands due scheduled PRODUCT broadcasts to the targeting
// engine and resumes any broadcast already PREPARING (including ones
// abandoned by a crashed pod; precompute is idempotent).
func (s *Scheduler) precomputeTick(ctx context.Context) error {
	due, err := s.store.DueScheduled(ctx, time.Now().UTC(), true, batchLimit)
	if err != nil {
		return err
	}
	for _, b := range due {
		if err := s.lifecycle.BeginPrecompute(ctx, b); err != nil {
			if errors.Is(err, apperr.ErrConflictCAS) {
				continue
			}
			return err
		}
	}

	preparing, err := s.store.PreparingBroadcasts(ctx, batchLimit)
	if err != nil {
		return err
	}
	for _, b := range preparing {
		if err := s.targeting.Precompute(ctx, b); err != nil {
			if errors.Is(err, apperr.ErrConflictCAS) {
				continue
			}
			return err
		}
	}
	return nil
}

// activationTick promotes due read-side broadcasts and precomputed READY
// ones to ACTIVE.
func (s *Scheduler) activationTick(ctx context.Context) error {
	due, err := s.store.DueScheduled(ctx, time.Now().UTC(), false, batchLimit)
	if err != nil {
		return err
	}
	for _, b := range due {
		if err := s.lifecycle.ActivateScheduled(ctx, b); err != nil {
			if errors.Is(err, apperr.ErrConflictCAS) {
				continue
			}
			return err
		}
	}

	ready, err := s.store.ReadyForActivation(ctx, batchLimit)
	if err != nil {
		return err
	}
	for _, b := range ready {
		if err := s.lifecycle.ActivateReady(ctx, b); err != nil {
			if errors.Is(err, apperr.ErrConflictCAS) {
				continue
			}
			return err
		}
	}
	return nil
}

func (s *Scheduler) expirationTick(ctx context.Context) error {
	expired, err := s.store.ExpiredActive(ctx, time.Now().UTC(), batchLimit)
	if err != nil {
		return err
	}
	for _, b := range expired {
		if err := s.lifecycle.ExpireBroadcast(ctx, b); err != nil {
			if errors.Is(err, apperr.ErrConflictCAS) {
				continue
			}
			return err
		}
	}
	return nil
}

// reapTick is the sole authority for cleaning up connections of crashed
// pods: any heartbeat past the staleness threshold loses its registry entry.
// Live handlers re-beat well inside the threshold.
func (s *Scheduler) reapTick(ctx context.Context) error {
	beats, err := s.grid.Heartbeats(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for connID, hb := range beats {
		if !hb.StaleAt(now, s.cfg.Schedule.StaleThreshold) {
			continue
		}
		if err := s.registrar.Reap(ctx, connID, hb); err != nil {
			s.logger.Error("reap failed", "conn_id", connID, "err", err)
		}
	}
	return nil
}
