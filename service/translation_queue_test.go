package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(messageID uuid.UUID, lang string) *TranslationJob {
	return &TranslationJob{
		MessageID:       messageID,
		ChatID:          uuid.New(),
		FromLang:        "ka",
		ToLang:          lang,
		OriginalContent: "გამარჯობა",
	}
}

func TestRedisJobQueue_EnqueueDedupes(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)
	q := NewRedisJobQueue(rdb)
	msgID := uuid.New()

	ok, err := q.Enqueue(ctx, newJob(msgID, "es"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Enqueue(ctx, newJob(msgID, "es"))
	require.NoError(t, err)
	assert.False(t, ok, "same message and language is already in flight")

	ok, err = q.Enqueue(ctx, newJob(msgID, "en"))
	require.NoError(t, err)
	assert.True(t, ok)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)
}

func TestRedisJobQueue_DequeueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewRedisJobQueue(newTestRedis(t))
	msgID := uuid.New()

	for _, lang := range []string{"es", "en", "fr"} {
		_, err := q.Enqueue(ctx, newJob(msgID, lang))
		require.NoError(t, err)
	}

	for _, want := range []string{"es", "en", "fr"} {
		job, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, want, job.ToLang)
		assert.Equal(t, msgID, job.MessageID)
		assert.NotEqual(t, uuid.Nil, job.ID)
	}

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Nil(t, job, "timeout yields no job")
}

func TestRedisJobQueue_RetryIsDelayed(t *testing.T) {
	ctx := context.Background()
	q := NewRedisJobQueue(newTestRedis(t))
	later := newJob(uuid.New(), "es")
	now := newJob(uuid.New(), "en")
	now.Attempt = 1

	require.NoError(t, q.Retry(ctx, later, time.Hour))
	require.NoError(t, q.Retry(ctx, now, 0))

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "en", job.ToLang)
	assert.Equal(t, 1, job.Attempt)

	job, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Nil(t, job, "the other retry is not due yet")
}

func TestRedisJobQueue_CompleteKeepsKeyReleaseClearsIt(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)
	q := NewRedisJobQueue(rdb)
	job := newJob(uuid.New(), "es")

	_, err := q.Enqueue(ctx, job)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, job))

	state, err := rdb.Get(ctx, job.JobKey()).Result()
	require.NoError(t, err)
	assert.Equal(t, "done", state)
	ttl, err := rdb.TTL(ctx, job.JobKey()).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Hour)

	ok, err := q.Enqueue(ctx, newJob(job.MessageID, "es"))
	require.NoError(t, err)
	assert.False(t, ok, "completed jobs are not re-triggered")

	require.NoError(t, q.Abandon(ctx, job))
	state, err = rdb.Get(ctx, job.JobKey()).Result()
	require.NoError(t, err)
	assert.Equal(t, "failed", state)

	released, err := q.Release(ctx, job.MessageID, "es")
	require.NoError(t, err)
	assert.True(t, released)
	ok, err = q.Enqueue(ctx, newJob(job.MessageID, "es"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisJobQueue_ReleaseKeepsQueuedJobs(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)
	q := NewRedisJobQueue(rdb)
	job := newJob(uuid.New(), "es")

	released, err := q.Release(ctx, job.MessageID, "es")
	require.NoError(t, err)
	assert.True(t, released, "no key means nothing in flight")

	_, err = q.Enqueue(ctx, job)
	require.NoError(t, err)
	released, err = q.Release(ctx, job.MessageID, "es")
	require.NoError(t, err)
	assert.False(t, released)

	// 延迟重试中的任务也还在进行
	popped, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, popped)
	require.NoError(t, q.Retry(ctx, popped, time.Minute))
	released, err = q.Release(ctx, job.MessageID, "es")
	require.NoError(t, err)
	assert.False(t, released)

	state, err := rdb.Get(ctx, job.JobKey()).Result()
	require.NoError(t, err)
	assert.Equal(t, "queued", state)
}
