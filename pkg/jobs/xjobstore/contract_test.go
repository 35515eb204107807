package xjobstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xjob/pkg/jobs/xjob"
)

var baseTime = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func testJob(t *testing.T, id, key string, age time.Duration) *xjob.Job {
	t.Helper()
	j, err := xjob.New(key, xjob.WithID(id), xjob.WithParam("p", id))
	require.NoError(t, err)
	j.CreatedAt = baseTime.Add(age)
	j.UpdatedAt = j.CreatedAt
	return j
}

func ids(jobs []*xjob.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}

// runContract 对任一 Store 实现执行相同的行为检查。
func runContract(t *testing.T, newStore func(t *testing.T) xjob.Store) {
	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		job := testJob(t, "1", "cubeX", 0)
		require.NoError(t, s.CreateJob(ctx, job))

		got, err := s.GetJob(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, "cubeX", got.Key)
		assert.Equal(t, xjob.StatusReady, got.Status)
		assert.Equal(t, map[string]string{"p": "1"}, got.Params)
		assert.True(t, got.CreatedAt.Equal(job.CreatedAt))
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateJob(ctx, testJob(t, "1", "k", 0)))
		assert.ErrorIs(t, s.CreateJob(ctx, testJob(t, "1", "k", 0)), xjob.ErrJobExists)
	})

	t.Run("CreateInvalid", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		assert.ErrorIs(t, s.CreateJob(ctx, nil), xjob.ErrInvalidJob)
		assert.ErrorIs(t, s.CreateJob(ctx, &xjob.Job{Key: "k", Status: xjob.StatusReady}), xjob.ErrInvalidJob)
		assert.ErrorIs(t, s.CreateJob(ctx, &xjob.Job{ID: "1", Key: "a/b", Status: xjob.StatusReady}), xjob.ErrInvalidJob)
		assert.ErrorIs(t, s.CreateJob(ctx, &xjob.Job{ID: "1", Key: "k", Status: "X"}), xjob.ErrInvalidStatus)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetJob(context.Background(), "nope")
		assert.ErrorIs(t, err, xjob.ErrJobNotFound)
	})

	t.Run("ListFilterAndOrder", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateJob(ctx, testJob(t, "3", "cubeX", 2*time.Second)))
		require.NoError(t, s.CreateJob(ctx, testJob(t, "1", "cubeX", 0)))
		require.NoError(t, s.CreateJob(ctx, testJob(t, "2", "cubeY", time.Second)))
		_, err := s.SetStatus(ctx, "2", xjob.StatusRunning)
		require.NoError(t, err)

		all, err := s.ListJobs(ctx, xjob.Filter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "2", "3"}, ids(all))

		ready, err := s.ListJobs(ctx, xjob.Filter{Statuses: []xjob.Status{xjob.StatusReady}})
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "3"}, ids(ready))

		byKey, err := s.ListJobs(ctx, xjob.Filter{Key: "cubeY"})
		require.NoError(t, err)
		assert.Equal(t, []string{"2"}, ids(byKey))
	})

	t.Run("Lifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateJob(ctx, testJob(t, "1", "k", 0)))

		j, err := s.SetStatus(ctx, "1", xjob.StatusRunning, xjob.WithNode("node-a"))
		require.NoError(t, err)
		assert.Equal(t, xjob.StatusRunning, j.Status)
		assert.Equal(t, "node-a", j.Node)
		assert.False(t, j.StartedAt.IsZero())

		j, err = s.SetStatus(ctx, "1", xjob.StatusError, xjob.WithMessage("boom"))
		require.NoError(t, err)
		assert.Equal(t, "boom", j.Message)

		// 写入对后续读取可见
		got, err := s.GetJob(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, xjob.StatusError, got.Status)
		assert.Equal(t, "node-a", got.Node)
		assert.Equal(t, "boom", got.Message)
		assert.False(t, got.FinishedAt.IsZero())

		// 终态不可离开
		for _, to := range xjob.AllStatuses() {
			_, err := s.SetStatus(ctx, "1", to)
			assert.ErrorIs(t, err, xjob.ErrInvalidTransition, to)
		}
	})

	t.Run("SetStatusMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.SetStatus(context.Background(), "nope", xjob.StatusRunning)
		assert.ErrorIs(t, err, xjob.ErrJobNotFound)
	})

	t.Run("ConcurrentStartSingleWinner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateJob(ctx, testJob(t, "1", "k", 0)))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 8 {
			wg.Go(func() {
				_, err := s.SetStatus(ctx, "1", xjob.StatusRunning)
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, xjob.ErrInvalidTransition), errors.Is(err, xjob.ErrConflict):
				default:
					t.Errorf("unexpected error: %v", err)
				}
			})
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateJob(ctx, testJob(t, "1", "k", 0)))
		require.NoError(t, s.DeleteJob(ctx, "1"))

		_, err := s.GetJob(ctx, "1")
		assert.ErrorIs(t, err, xjob.ErrJobNotFound)
		assert.ErrorIs(t, s.DeleteJob(ctx, "1"), xjob.ErrJobNotFound)

		all, err := s.ListJobs(ctx, xjob.Filter{})
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("WaitForStatus", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateJob(ctx, testJob(t, "1", "k", 0)))

		done := make(chan struct{})
		go func() {
			defer close(done)
			time.Sleep(20 * time.Millisecond)
			_, _ = s.SetStatus(ctx, "1", xjob.StatusStopped)
		}()

		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		j, err := xjob.WaitForStatus(waitCtx, s, "1", xjob.StatusStopped, 5*time.Millisecond)
		<-done
		require.NoError(t, err)
		assert.Equal(t, xjob.StatusStopped, j.Status)
	})
}
