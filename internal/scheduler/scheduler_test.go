package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/concert-ticketing/internal/lock"
	"github.com/iliyamo/concert-ticketing/internal/testutil"
)

func countingJob(name string, runs *atomic.Int32) Job {
	return Job{Name: name, Interval: time.Second, Run: func(context.Context) (int, error) {
		runs.Add(1)
		return 1, nil
	}}
}

func TestOnlyOneInstanceRunsAJob(t *testing.T) {
	ctx := context.Background()
	_, rdb := testutil.NewRedis(t)
	var runs atomic.Int32

	a := New(lock.NewLocker(rdb), []Job{countingJob("activate", &runs)}, nil)
	b := New(lock.NewLocker(rdb), []Job{countingJob("activate", &runs)}, nil)

	assert.Equal(t, []string{"activate"}, a.Tick(ctx))
	assert.Empty(t, b.Tick(ctx))
	assert.Equal(t, []string{"activate"}, a.Tick(ctx))
	assert.Equal(t, int32(2), runs.Load())
}

func TestLeaseMovesWhenOwnerStops(t *testing.T) {
	ctx := context.Background()
	server, rdb := testutil.NewRedis(t)
	var runs atomic.Int32

	a := New(lock.NewLocker(rdb), []Job{countingJob("sweep", &runs)}, nil)
	b := New(lock.NewLocker(rdb), []Job{countingJob("sweep", &runs)}, nil)

	require.NotEmpty(t, a.Tick(ctx))
	require.Empty(t, b.Tick(ctx))

	server.FastForward(4 * time.Second)
	assert.NotEmpty(t, b.Tick(ctx))
	assert.Empty(t, a.Tick(ctx))
}

func TestJobsHaveIndependentLeases(t *testing.T) {
	ctx := context.Background()
	_, rdb := testutil.NewRedis(t)
	var runs atomic.Int32

	a := New(lock.NewLocker(rdb), []Job{countingJob("activate", &runs)}, nil)
	b := New(lock.NewLocker(rdb), []Job{countingJob("sweep", &runs)}, nil)

	assert.NotEmpty(t, a.Tick(ctx))
	assert.NotEmpty(t, b.Tick(ctx))
}

func TestFailingJobKeepsLease(t *testing.T) {
	ctx := context.Background()
	_, rdb := testutil.NewRedis(t)
	failing := Job{Name: "activate", Interval: time.Second, Run: func(context.Context) (int, error) {
		return 0, errors.New("db down")
	}}
	var runs atomic.Int32

	a := New(lock.NewLocker(rdb), []Job{failing}, nil)
	b := New(lock.NewLocker(rdb), []Job{countingJob("activate", &runs)}, nil)

	assert.NotEmpty(t, a.Tick(ctx))
	assert.Empty(t, b.Tick(ctx))
	assert.Zero(t, runs.Load())
}

func TestStartStopsAndReleases(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	var runs atomic.Int32
	job := Job{Name: "activate", Interval: 10 * time.Millisecond, Run: func(context.Context) (int, error) {
		runs.Add(1)
		return 0, nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	s := New(lock.NewLocker(rdb), []Job{job}, nil)
	s.Start(ctx)
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	s.Wait()

	exists, err := rdb.Exists(context.Background(), leaseKeyPrefix+"activate").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}
