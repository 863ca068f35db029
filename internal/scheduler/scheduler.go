// Package scheduler runs periodic background jobs on every instance while
// letting only one instance at a time do the work. Each job holds its own
// lease in Redis, renewed on every tick by whoever owns it.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/concert-ticketing/internal/lock"
)

const leaseKeyPrefix = "lease:scheduler:"

// Job is one periodic task. Run reports how many items it processed.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int, error)
}

// Scheduler drives a set of jobs.
type Scheduler struct {
	jobs   []Job
	leases []*lock.Lease
	logger *zap.Logger
	wg     sync.WaitGroup
}

// New prepares one lease per job. A lease outlives three intervals so a
// single slow tick does not hand the job to another instance.
func New(locker *lock.Locker, jobs []Job, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{jobs: jobs, logger: logger}
	for _, j := range jobs {
		s.leases = append(s.leases, locker.Lease(leaseKeyPrefix+j.Name, 3*j.Interval))
	}
	return s
}

// Start launches one loop per job. Loops stop when ctx ends; Wait blocks
// until they have.
func (s *Scheduler) Start(ctx context.Context) {
	for i := range s.jobs {
		s.wg.Add(1)
		go func(i int) {
			defer s.wg.Done()
			s.loop(ctx, i)
		}(i)
	}
}

// Wait blocks until every loop has returned.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) loop(ctx context.Context, i int) {
	ticker := time.NewTicker(s.jobs[i].Interval)
	defer ticker.Stop()
	defer s.release(ctx, i)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, i)
		}
	}
}

// Tick runs every job once on this instance if it owns or can take the
// job's lease. It returns the names of the jobs that ran.
func (s *Scheduler) Tick(ctx context.Context) []string {
	var ran []string
	for i := range s.jobs {
		if s.tick(ctx, i) {
			ran = append(ran, s.jobs[i].Name)
		}
	}
	return ran
}

func (s *Scheduler) tick(ctx context.Context, i int) bool {
	job := s.jobs[i]
	ok, err := s.leases[i].TryAcquire(ctx)
	if err != nil {
		s.logger.Warn("scheduler lease check failed", zap.String("job", job.Name), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	n, err := job.Run(ctx)
	if err != nil {
		s.logger.Error("scheduled job failed", zap.String("job", job.Name), zap.Error(err))
		return true
	}
	if n > 0 {
		s.logger.Info("scheduled job processed", zap.String("job", job.Name), zap.Int("count", n))
	}
	return true
}

func (s *Scheduler) release(ctx context.Context, i int) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.leases[i].Release(releaseCtx); err != nil {
		s.logger.Warn("scheduler lease release failed", zap.String("job", s.jobs[i].Name), zap.Error(err))
	}
}
