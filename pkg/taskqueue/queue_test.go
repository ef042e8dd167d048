/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package taskqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
)

func newTestQueue(t *testing.T, visibility time.Duration) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewQueue(rdb, visibility)
}

func enqueue(t *testing.T, q *Queue, sessionId, desc string, priority Priority, createdAt time.Time) string {
	t.Helper()
	id, err := q.Enqueue(context.Background(), &Task{
		SessionId:   sessionId,
		Description: desc,
		Priority:    priority,
		CreatedAt:   createdAt,
	})
	require.NoError(t, err)
	return id
}

func TestEnqueueValidation(t *testing.T) {
	q := newTestQueue(t, 0)
	ctx := context.Background()

	testCases := []struct {
		name string
		task *Task
	}{
		{name: "nil task", task: nil},
		{name: "missing session", task: &Task{Description: "build"}},
		{name: "missing description", task: &Task{SessionId: "s1"}},
		{name: "unknown priority", task: &Task{SessionId: "s1", Description: "build", Priority: "URGENT"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := q.Enqueue(ctx, tc.task)
			assert.True(t, commonerrors.IsBadRequest(err))
		})
	}
}

func TestDequeueOrdersByPriorityThenFIFO(t *testing.T) {
	q := newTestQueue(t, 0)
	ctx := context.Background()
	base := time.Now().UTC()

	lowId := enqueue(t, q, "s1", "low", PriorityLow, base)
	medEarly := enqueue(t, q, "s1", "med early", PriorityMedium, base.Add(time.Second))
	medLate := enqueue(t, q, "s1", "med late", PriorityMedium, base.Add(2*time.Second))
	highId := enqueue(t, q, "s1", "high", PriorityHigh, base.Add(3*time.Second))

	var order []string
	for i := 0; i < 4; i++ {
		task, err := q.Dequeue(ctx, "s1", "", "w1")
		require.NoError(t, err)
		require.NotNil(t, task)
		assert.Equal(t, StatusRunning, task.Status)
		assert.Equal(t, "w1", task.AssignedWorker)
		order = append(order, task.Id)
	}
	// The late HIGH task overtakes the earlier MEDIUM and LOW ones; within
	// MEDIUM the earlier enqueue wins.
	assert.Equal(t, []string{highId, medEarly, medLate, lowId}, order)

	task, err := q.Dequeue(ctx, "s1", "", "w1")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestDequeueClaimsExactlyOnce(t *testing.T) {
	q := newTestQueue(t, 0)
	ctx := context.Background()

	id := enqueue(t, q, "s1", "solo", PriorityMedium, time.Now().UTC())

	first, err := q.Dequeue(ctx, "s1", "", "w1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, id, first.Id)

	second, err := q.Dequeue(ctx, "s1", "", "w2")
	require.NoError(t, err)
	assert.Nil(t, second)

	active, err := q.ListActive(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, active)
	pending, err := q.ListPending(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDequeueFiltersByAgentRole(t *testing.T) {
	q := newTestQueue(t, 0)
	ctx := context.Background()
	base := time.Now().UTC()

	_, err := q.Enqueue(ctx, &Task{SessionId: "s1", Description: "review", AgentRole: "reviewer", Priority: PriorityHigh, CreatedAt: base})
	require.NoError(t, err)
	coderId, err := q.Enqueue(ctx, &Task{SessionId: "s1", Description: "code", AgentRole: "coder", Priority: PriorityLow, CreatedAt: base})
	require.NoError(t, err)

	task, err := q.Dequeue(ctx, "s1", "coder", "w1")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, coderId, task.Id)
}

func TestCompleteIsIdempotent(t *testing.T) {
	q := newTestQueue(t, 0)
	ctx := context.Background()

	id := enqueue(t, q, "s1", "build", PriorityMedium, time.Now().UTC())
	_, err := q.Dequeue(ctx, "s1", "", "w1")
	require.NoError(t, err)

	require.NoError(t, q.Complete(ctx, id, []byte(`{"ok":true}`)))
	require.NoError(t, q.Complete(ctx, id, []byte(`{"ok":false}`)))

	task, err := q.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.JSONEq(t, `{"ok":true}`, string(task.Result))
	require.NotNil(t, task.CompletedAt)

	completed, err := q.ListCompleted(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, completed)
	active, err := q.ListActive(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestFailRequeuesUntilRetriesExhausted(t *testing.T) {
	q := newTestQueue(t, 0)
	ctx := context.Background()

	id := enqueue(t, q, "s1", "flaky", PriorityMedium, time.Now().UTC())

	for attempt := 1; attempt <= DefaultMaxRetries; attempt++ {
		task, err := q.Dequeue(ctx, "s1", "", "w1")
		require.NoError(t, err)
		require.NotNil(t, task)
		require.NoError(t, q.Fail(ctx, id, "transient", true))
		task, err = q.GetTask(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, task.Status)
		assert.Equal(t, attempt, task.RetryCount)
		assert.Empty(t, task.AssignedWorker)
	}

	task, err := q.Dequeue(ctx, "s1", "", "w1")
	require.NoError(t, err)
	require.NotNil(t, task)
	require.NoError(t, q.Fail(ctx, id, "transient", true))

	task, err = q.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, DefaultMaxRetries, task.RetryCount)
	assert.Equal(t, "transient", task.Error)
	pending, err := q.ListPending(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestFailWithoutRetryIsTerminal(t *testing.T) {
	q := newTestQueue(t, 0)
	ctx := context.Background()

	id := enqueue(t, q, "s1", "doomed", PriorityMedium, time.Now().UTC())
	_, err := q.Dequeue(ctx, "s1", "", "w1")
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, id, "bad input", false))

	task, err := q.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Zero(t, task.RetryCount)
}

func TestCancelPendingTask(t *testing.T) {
	q := newTestQueue(t, 0)
	ctx := context.Background()

	id := enqueue(t, q, "s1", "stale", PriorityLow, time.Now().UTC())
	require.NoError(t, q.Cancel(ctx, id))

	task, err := q.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, task.Status)
	pending, err := q.ListPending(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Cancelling a terminal task changes nothing.
	require.NoError(t, q.Cancel(ctx, id))
	task, err = q.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, task.Status)
}

func TestGetTaskNotFound(t *testing.T) {
	q := newTestQueue(t, 0)
	_, err := q.GetTask(context.Background(), "missing")
	assert.True(t, commonerrors.IsNotFound(err))
}

func TestRetryDemotesWithinPriorityClass(t *testing.T) {
	q := newTestQueue(t, 0)
	ctx := context.Background()
	base := time.Now().UTC()

	flakyId := enqueue(t, q, "s1", "flaky", PriorityMedium, base)

	task, err := q.Dequeue(ctx, "s1", "", "w1")
	require.NoError(t, err)
	require.Equal(t, flakyId, task.Id)
	require.NoError(t, q.Fail(ctx, flakyId, "transient", true))

	// A fresh MEDIUM task enqueued after the failure still beats the
	// requeued one, but a LOW task does not.
	freshId := enqueue(t, q, "s1", "fresh", PriorityMedium, base.Add(time.Minute))
	enqueue(t, q, "s1", "background", PriorityLow, base)

	task, err = q.Dequeue(ctx, "s1", "", "w1")
	require.NoError(t, err)
	assert.Equal(t, freshId, task.Id)
	task, err = q.Dequeue(ctx, "s1", "", "w1")
	require.NoError(t, err)
	assert.Equal(t, flakyId, task.Id)
}
