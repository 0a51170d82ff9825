package sprites

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/fosterhub/internal/app/lock"
	"github.com/R3E-Network/fosterhub/internal/app/metrics"
	"github.com/R3E-Network/fosterhub/internal/app/system"
	"github.com/R3E-Network/fosterhub/pkg/logger"
)

// DefaultSweepSchedule runs at local midnight.
const DefaultSweepSchedule = "0 0 * * *"

// Sweeper refreshes every sprite on a cron schedule evaluated in the engine's
// zone, so persisted day timers restart even for sprites nobody looks at.
//
// With a shared locker only one instance sweeps at a time. A late duplicate
// sweep changes nothing because decay is idempotent at a fixed instant.
type Sweeper struct {
	service  *Service
	locker   lock.Locker
	schedule string
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

var _ system.Service = (*Sweeper)(nil)

// NewSweeper builds a sweeper. An empty schedule selects DefaultSweepSchedule;
// a nil locker disables cross-instance exclusion.
func NewSweeper(service *Service, locker lock.Locker, schedule string, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("sprite-sweeper")
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &Sweeper{
		service:  service,
		locker:   locker,
		schedule: schedule,
		log:      log,
	}
}

func (s *Sweeper) Name() string { return "sprite-sweeper" }

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New(cron.WithLocation(s.service.Engine().Location()))
	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.RunAt(context.Background(), s.service.now()); err != nil {
			s.log.WithError(err).Warn("sprite sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("parse sweep schedule %q: %w", s.schedule, err)
	}
	c.Start()

	s.cron = c
	s.running = true
	s.log.WithField("schedule", s.schedule).Info("sprite sweeper started")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// RunAt performs one sweep as of now. It reports ran=false when another
// holder already owns this date's sweep.
func (s *Sweeper) RunAt(ctx context.Context, now time.Time) (ran bool, err error) {
	if s.locker != nil {
		key := "sweep:" + now.In(s.service.Engine().Location()).Format("2006-01-02")
		release, ok, err := s.locker.TryAcquire(ctx, key)
		if err != nil {
			return false, err
		}
		if !ok {
			s.log.WithField("key", key).Info("sweep already running elsewhere; skipping")
			return false, nil
		}
		defer func() {
			if err := release(); err != nil {
				s.log.WithError(err).WithField("key", key).Warn("release sweep lock")
			}
		}()
	}

	start := time.Now()
	summary, err := s.service.SweepAt(ctx, now)
	metrics.RecordSweep(time.Since(start))
	if err != nil {
		return true, err
	}
	s.log.WithFields(map[string]interface{}{
		"sprites":    summary.Sprites,
		"day_resets": summary.DayResets,
		"failed":     summary.Failed,
	}).Info("sprite sweep complete")
	return true, nil
}
