package workerapp

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	redrepo "github.com/ivankudzin/voxclip-safety/internal/repo/redis"
)

type countingJob struct {
	runs atomic.Int32
	err  error
}

func (j *countingJob) Run(context.Context) error {
	j.runs.Add(1)
	return j.err
}

func TestRunLoopRunsImmediatelyAndOnTick(t *testing.T) {
	job := &countingJob{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- runLoop(ctx, loop{name: "test", interval: 10 * time.Millisecond, job: job}, zap.NewNop())
	}()

	deadline := time.After(2 * time.Second)
	for job.runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 3 runs, got %d", job.runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("run loop: %v", err)
	}
}

func TestRunLoopSurvivesJobErrors(t *testing.T) {
	job := &countingJob{err: errors.New("store down")}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- runLoop(ctx, loop{name: "test", interval: 5 * time.Millisecond, job: job}, zap.NewNop())
	}()

	deadline := time.After(2 * time.Second)
	for job.runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected the loop to keep running after a failure")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("run loop: %v", err)
	}
}

func TestRunOnceSkipsWhenLockIsHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	if err := mr.Set(lockKeyPrefix+"cleanup", "another-replica"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	job := &countingJob{}
	l := loop{
		name: "cleanup",
		job:  job,
		lock: redrepo.NewLeaderLock(client, lockKeyPrefix+"cleanup", time.Minute, zap.NewNop()),
	}
	runOnce(context.Background(), l, zap.NewNop())
	if job.runs.Load() != 0 {
		t.Fatalf("job must not run while another replica holds the lock")
	}

	mr.Del(lockKeyPrefix + "cleanup")
	runOnce(context.Background(), l, zap.NewNop())
	if job.runs.Load() != 1 {
		t.Fatalf("expected job to run once the lock is free, got %d", job.runs.Load())
	}
}
