// Package sweeper periodically releases review claims that have been held
// longer than the configured claim TTL.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"reviewbot/backend/internal/logger"
)

// Releaser releases claims older than ttl and reports how many it released.
type Releaser interface {
	ReleaseStaleClaims(ctx context.Context, ttl time.Duration) (int, error)
}

// Recorder receives the number of claims released per sweep.
type Recorder interface {
	RecordClaimsReleased(n int)
}

// Sweeper runs the claim release job on a cron schedule.
type Sweeper struct {
	cron     *cron.Cron
	releaser Releaser
	recorder Recorder
	ttl      time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	running bool
}

// New creates a sweeper. A zero ttl yields a sweeper that never schedules
// anything.
func New(releaser Releaser, ttl time.Duration, recorder Recorder) *Sweeper {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
	)
	return &Sweeper{
		cron:     c,
		releaser: releaser,
		recorder: recorder,
		ttl:      ttl,
		timeout:  time.Minute,
	}
}

// Schedule registers the sweep job with a six-field cron spec.
func (s *Sweeper) Schedule(spec string) error {
	if s.ttl <= 0 {
		logger.Info("claim expiry disabled, sweeper not scheduled")
		return nil
	}
	if _, err := s.cron.AddFunc(spec, func() { s.Sweep(context.Background()) }); err != nil {
		logger.Error("Failed to register claim sweep job", "spec", spec, "error", err)
		return err
	}
	logger.Info("claim sweeper scheduled", "spec", spec, "ttl", s.ttl.String())
	return nil
}

// Start starts the scheduler in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep runs one release pass. Overlapping passes are skipped.
func (s *Sweeper) Sweep(ctx context.Context) int {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		logger.Debug("claim sweep already running, skipping")
		return 0
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.releaser.ReleaseStaleClaims(ctx, s.ttl)
	if err != nil {
		logger.Error("claim sweep failed", "released", n, "error", err)
	}
	if s.recorder != nil {
		s.recorder.RecordClaimsReleased(n)
	}
	return n
}
