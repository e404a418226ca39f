package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"postpilot/internal/domain"
	"postpilot/internal/models"

	"github.com/rs/zerolog"
)

const LeaseKeyDispatch = "dispatch_cycle"

// Scheduler drives the periodic dispatch tick. Every interval it tries to
// take the single-flight lease and, when granted, runs the cycle function.
// Losing the lease is not an error; another instance owns that tick.
type Scheduler struct {
	interval time.Duration
	leaseTTL time.Duration
	leases   domain.LeaseRepository
	tickFn   func(context.Context)
	logger   zerolog.Logger

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(interval, leaseTTL time.Duration, leases domain.LeaseRepository, tickFn func(context.Context), logger *zerolog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		interval = models.DefaultDispatchInterval
	}
	if leaseTTL <= 0 {
		leaseTTL = models.DefaultLeaseTTL
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}

	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "scheduler").Logger()
	}

	return &Scheduler{
		interval: interval,
		leaseTTL: leaseTTL,
		leases:   leases,
		tickFn:   tickFn,
		logger:   base,
		done:     make(chan struct{}),
	}, nil
}

// Start launches the tick loop. The first tick fires immediately.
// Returns false if the scheduler is already running.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info().Dur("interval", s.interval).Msg("scheduler started")

		s.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("scheduler stopping")
				return
			case <-ticker.C:
				s.safeTick(ctx)
			}
		}
	}()

	return true
}

// Stop cancels the loop and waits for the in-flight tick to finish.
// Returns false if the scheduler was not running.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	s.logger.Info().Msg("scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("scheduler tick panic recovered")
		}
	}()

	if s.leases != nil {
		ok, err := s.leases.Acquire(ctx, LeaseKeyDispatch, s.leaseTTL)
		if err != nil {
			s.logger.Error().Err(err).Msg("lease acquire failed, skipping tick")
			return
		}
		if !ok {
			s.logger.Debug().Msg("lease held elsewhere, skipping tick")
			return
		}
		defer func() {
			if err := s.leases.Release(ctx, LeaseKeyDispatch); err != nil {
				s.logger.Error().Err(err).Msg("lease release failed")
			}
		}()
	}

	start := time.Now()
	s.tickFn(ctx)
	s.logger.Info().Dur("duration", time.Since(start)).Msg("scheduler tick completed")
}
