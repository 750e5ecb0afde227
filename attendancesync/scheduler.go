package attendancesync

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/mmdatafocus/attendance_backend/utils"
	"github.com/sirupsen/logrus"
)

const pollLockKey = "lock:attendance-poll"

// ErrCycleLocked means another replica is running a poll cycle.
var ErrCycleLocked = errors.New("attendance poll cycle already running")

// CycleLocker serializes poll cycles across service replicas.
type CycleLocker interface {
	Obtain(ctx context.Context) (release func(), err error)
}

type redisCycleLocker struct {
	locker *redislock.Client
	ttl    time.Duration
}

func NewRedisCycleLocker(locker *redislock.Client, ttl time.Duration) CycleLocker {
	return &redisCycleLocker{locker: locker, ttl: ttl}
}

func (l *redisCycleLocker) Obtain(ctx context.Context) (func(), error) {
	lock, err := l.locker.Obtain(ctx, pollLockKey, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrCycleLocked
	}
	if err != nil {
		return nil, err
	}
	return func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}, nil
}

// Scheduler runs PollAll on a fixed interval.
type Scheduler struct {
	orch     *Orchestrator
	interval time.Duration
	locker   CycleLocker
	logger   logrus.FieldLogger
}

// NewScheduler builds a scheduler; locker may be nil when Redis is not configured.
func NewScheduler(orch *Orchestrator, interval time.Duration, locker CycleLocker, logger logrus.FieldLogger) *Scheduler {
	return &Scheduler{orch: orch, interval: interval, locker: locker, logger: logger}
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField("interval", s.interval.String()).Info("attendance scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("attendance scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one cycle. It reports false when the cycle was skipped because
// another replica holds the poll lock.
func (s *Scheduler) Tick(ctx context.Context) bool {
	ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())
	logger := s.logger.WithField("field", "scheduler")

	if s.locker != nil {
		release, err := s.locker.Obtain(ctx)
		switch {
		case errors.Is(err, ErrCycleLocked):
			logger.Info("poll cycle running elsewhere; skipping tick")
			return false
		case err != nil:
			logger.Warn("error obtaining poll lock; proceeding without lock: " + err.Error())
		default:
			defer release()
		}
	}

	outcomes := s.orch.PollAll(ctx)
	failed := 0
	for _, out := range outcomes {
		if !out.OK() {
			failed++
		}
	}
	logger.WithFields(logrus.Fields{
		"terminals": len(outcomes),
		"failed":    failed,
	}).Info("scheduled poll finished")
	return true
}
