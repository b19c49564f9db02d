package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/welth/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForStatus(t *testing.T, s *Store, id string, want jobs.JobStatus) *jobs.Job {
	t.Helper()
	var got *jobs.Job
	require.Eventually(t, func() bool {
		j, err := s.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		got = j
		return j.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestQueue_PublishAndProcess(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, store, WithWorkers(2))
	defer q.Close()

	router := jobs.NewRouter()
	var got []string
	done := make(chan struct{})
	router.Handle(jobs.JobTypeRevalidateViews, func(ctx context.Context, job *jobs.Job) error {
		var p struct{ Paths []string }
		if err := job.Decode(&p); err != nil {
			return err
		}
		got = p.Paths
		close(done)
		return nil
	})
	require.NoError(t, q.Start(context.Background(), router.Dispatch))

	job, err := jobs.NewJob(jobs.JobTypeRevalidateViews, map[string][]string{"Paths": {"/dashboard"}})
	require.NoError(t, err)
	require.NoError(t, q.Publish(context.Background(), job))
	assert.NotEmpty(t, job.JobID)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not called")
	}
	assert.Equal(t, []string{"/dashboard"}, got)

	stored := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	assert.Equal(t, 3, stored.MaxRetries)
	assert.NotNil(t, stored.StartedAt)
	assert.NotNil(t, stored.CompletedAt)
}

func TestQueue_RetriesThenFails(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, store, WithWorkers(1), WithBackoff(time.Millisecond))
	defer q.Close()

	var calls atomic.Int32
	require.NoError(t, q.Start(context.Background(), func(ctx context.Context, job *jobs.Job) error {
		calls.Add(1)
		return errors.New("bucket unavailable")
	}))

	job := &jobs.Job{Type: jobs.JobTypeArchiveTransactions, MaxRetries: 2}
	require.NoError(t, q.Publish(context.Background(), job))

	stored := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Equal(t, 2, stored.RetryCount)
	assert.Equal(t, "bucket unavailable", stored.Error)
	assert.Equal(t, int32(3), calls.Load())
}

func TestQueue_UnknownTypeFails(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, store, WithBackoff(time.Millisecond))
	defer q.Close()

	require.NoError(t, q.Start(context.Background(), jobs.NewRouter().Dispatch))

	job := &jobs.Job{Type: "mystery", MaxRetries: 1}
	require.NoError(t, q.Publish(context.Background(), job))

	stored := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Contains(t, stored.Error, "no handler registered")
}

func TestQueue_PublishAfterClose(t *testing.T) {
	q := NewQueue(1, nil)
	require.NoError(t, q.Close())

	err := q.Publish(context.Background(), &jobs.Job{Type: jobs.JobTypeRevalidateViews})
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.Error(t, q.Start(context.Background(), jobs.NewRouter().Dispatch))
	// Stopping twice is harmless.
	assert.NoError(t, q.Stop(context.Background()))
}

func TestQueue_PublishHonoursContext(t *testing.T) {
	q := NewQueue(0, nil)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := q.Publish(ctx, &jobs.Job{Type: jobs.JobTypeRevalidateViews})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueue_RetryThenSucceedKeepsFinalStatus(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, store, WithWorkers(2), WithBackoff(time.Millisecond))
	defer q.Close()

	var calls atomic.Int32
	require.NoError(t, q.Start(context.Background(), func(ctx context.Context, job *jobs.Job) error {
		if calls.Add(1) == 1 {
			return errors.New("broker down")
		}
		return nil
	}))

	job := &jobs.Job{Type: jobs.JobTypeRevalidateViews, MaxRetries: 3}
	require.NoError(t, q.Publish(context.Background(), job))

	stored := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Empty(t, stored.Error)

	// Nothing left running can overwrite the completed record.
	time.Sleep(20 * time.Millisecond)
	stored, err := store.GetJob(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCompleted, stored.Status)
	assert.Equal(t, int32(2), calls.Load())
}

func TestQueue_PublishFullBufferDoesNotBlock(t *testing.T) {
	store := NewStore()
	q := NewQueue(1, store)

	first := &jobs.Job{Type: jobs.JobTypeRevalidateViews}
	require.NoError(t, q.Publish(context.Background(), first))

	second := &jobs.Job{Type: jobs.JobTypeRevalidateViews}
	done := make(chan error, 1)
	go func() { done <- q.Publish(context.Background(), second) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQueueFull)
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full buffer")
	}

	stored, err := store.GetJob(context.Background(), second.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, stored.Status)
	assert.Equal(t, ErrQueueFull.Error(), stored.Error)

	pending, err := store.GetJob(context.Background(), first.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, pending.Status)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, q.Stop(ctx))
}
