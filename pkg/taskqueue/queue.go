/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package taskqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"

	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
	"github.com/ammujacic/podex-sub004/pkg/utils/json"
	"github.com/ammujacic/podex-sub004/pkg/utils/timeutil"
)

// Queue is the per-session priority task queue over Redis. Pending tasks live
// in a sorted set, in-flight tasks in an active set, and the full task body in
// its own key. The atomic ZREM on dequeue is what guarantees single delivery.
type Queue struct {
	rdb               redis.UniversalClient
	visibilityTimeout time.Duration
}

func NewQueue(rdb redis.UniversalClient, visibilityTimeout time.Duration) *Queue {
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	return &Queue{rdb: rdb, visibilityTimeout: visibilityTimeout}
}

// Enqueue validates and persists a task, adds it to the session's pending set
// and publishes task_created. Returns the task id.
func (q *Queue) Enqueue(ctx context.Context, task *Task) (string, error) {
	if task == nil || task.SessionId == "" || task.Description == "" {
		return "", commonerrors.NewBadRequest("session id and description are required")
	}
	switch task.Priority {
	case PriorityHigh, PriorityMedium, PriorityLow:
	case "":
		task.Priority = PriorityMedium
	default:
		return "", commonerrors.NewBadRequest("unknown priority " + string(task.Priority))
	}
	if task.Id == "" {
		task.Id = uuid.NewString()
	}
	task.Status = StatusPending
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if task.MaxRetries <= 0 {
		task.MaxRetries = DefaultMaxRetries
	}
	if err := q.saveTask(ctx, task, taskTTL); err != nil {
		return "", err
	}
	err := q.rdb.ZAdd(ctx, pendingKey(task.SessionId), redis.Z{
		Score:  score(task),
		Member: task.Id,
	}).Err()
	if err != nil {
		klog.ErrorS(err, "failed to enqueue task", "taskId", task.Id, "sessionId", task.SessionId)
		return "", commonerrors.NewInternalError(err.Error())
	}
	q.publish(ctx, "task_created", task)
	return task.Id, nil
}

// Dequeue claims the highest-priority pending task of a session, optionally
// filtered by agent role. Workers race on the ZREM; whoever removes the member
// owns the task. Returns nil when nothing matches.
func (q *Queue) Dequeue(ctx context.Context, sessionId, agentRole, workerId string) (*Task, error) {
	members, err := q.rdb.ZRangeWithScores(ctx, pendingKey(sessionId), 0, -1).Result()
	if err != nil {
		return nil, commonerrors.NewInternalError(err.Error())
	}
	for _, member := range members {
		taskId, ok := member.Member.(string)
		if !ok {
			continue
		}
		task, err := q.GetTask(ctx, taskId)
		if err != nil {
			if commonerrors.IsNotFound(err) {
				// The body expired but the index entry survived; drop it.
				q.rdb.ZRem(ctx, pendingKey(sessionId), taskId)
				continue
			}
			return nil, err
		}
		if agentRole != "" && task.AgentRole != "" && task.AgentRole != agentRole {
			continue
		}
		removed, err := q.rdb.ZRem(ctx, pendingKey(sessionId), taskId).Result()
		if err != nil {
			return nil, commonerrors.NewInternalError(err.Error())
		}
		if removed == 0 {
			// Another worker claimed it between the range and the remove.
			continue
		}
		now := time.Now().UTC()
		task.Status = StatusRunning
		task.StartedAt = &now
		task.AssignedWorker = workerId
		if err = q.saveTask(ctx, task, taskTTL); err != nil {
			return nil, err
		}
		if err = q.rdb.SAdd(ctx, activeKey(sessionId), taskId).Err(); err != nil {
			return nil, commonerrors.NewInternalError(err.Error())
		}
		q.publish(ctx, "task_started", task)
		return task, nil
	}
	return nil, nil
}

// Complete marks a running task completed and records its result. Completing
// an already terminal task is a no-op.
func (q *Queue) Complete(ctx context.Context, taskId string, result []byte) error {
	task, err := q.GetTask(ctx, taskId)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		return nil
	}
	now := time.Now().UTC()
	task.Status = StatusCompleted
	task.CompletedAt = &now
	task.Result = result
	task.Error = ""
	if err = q.finishTask(ctx, task); err != nil {
		return err
	}
	q.publish(ctx, "task_completed", task)
	return nil
}

// Fail records a failure. When retry is set and the task has retries left it
// goes back to pending with a demoted score; otherwise it turns failed.
func (q *Queue) Fail(ctx context.Context, taskId, reason string, retry bool) error {
	task, err := q.GetTask(ctx, taskId)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		return nil
	}
	if err = q.rdb.SRem(ctx, activeKey(task.SessionId), taskId).Err(); err != nil {
		return commonerrors.NewInternalError(err.Error())
	}
	task.Error = reason
	if retry && task.RetryCount < task.MaxRetries {
		task.RetryCount++
		task.Status = StatusPending
		task.StartedAt = nil
		task.AssignedWorker = ""
		if err = q.saveTask(ctx, task, taskTTL); err != nil {
			return err
		}
		err = q.rdb.ZAdd(ctx, pendingKey(task.SessionId), redis.Z{
			Score:  score(task),
			Member: task.Id,
		}).Err()
		if err != nil {
			return commonerrors.NewInternalError(err.Error())
		}
		q.publish(ctx, "task_retry", task)
		return nil
	}
	now := time.Now().UTC()
	task.Status = StatusFailed
	task.CompletedAt = &now
	if err = q.finishTask(ctx, task); err != nil {
		return err
	}
	q.publish(ctx, "task_failed", task)
	return nil
}

// Cancel removes a pending task, or marks a running one cancelled so its
// worker observes the state on completion. Terminal tasks are left alone.
func (q *Queue) Cancel(ctx context.Context, taskId string) error {
	task, err := q.GetTask(ctx, taskId)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		return nil
	}
	if task.Status == StatusPending {
		if err = q.rdb.ZRem(ctx, pendingKey(task.SessionId), taskId).Err(); err != nil {
			return commonerrors.NewInternalError(err.Error())
		}
	}
	now := time.Now().UTC()
	task.Status = StatusCancelled
	task.CompletedAt = &now
	if err = q.finishTask(ctx, task); err != nil {
		return err
	}
	q.publish(ctx, "task_cancelled", task)
	return nil
}

// GetTask loads a task body by id.
func (q *Queue) GetTask(ctx context.Context, taskId string) (*Task, error) {
	raw, err := q.rdb.Get(ctx, taskKey(taskId)).Bytes()
	if err == redis.Nil {
		return nil, commonerrors.NewNotFound("task", taskId)
	}
	if err != nil {
		return nil, commonerrors.NewInternalError(err.Error())
	}
	task := &Task{}
	if err = json.Unmarshal(raw, task); err != nil {
		return nil, commonerrors.NewInternalError(err.Error())
	}
	return task, nil
}

// ListPending returns the pending task ids of a session in dequeue order.
func (q *Queue) ListPending(ctx context.Context, sessionId string) ([]string, error) {
	ids, err := q.rdb.ZRange(ctx, pendingKey(sessionId), 0, -1).Result()
	if err != nil {
		return nil, commonerrors.NewInternalError(err.Error())
	}
	return ids, nil
}

// ListActive returns the in-flight task ids of a session.
func (q *Queue) ListActive(ctx context.Context, sessionId string) ([]string, error) {
	ids, err := q.rdb.SMembers(ctx, activeKey(sessionId)).Result()
	if err != nil {
		return nil, commonerrors.NewInternalError(err.Error())
	}
	return ids, nil
}

// ListCompleted returns the recent terminal task ids of a session, newest first.
func (q *Queue) ListCompleted(ctx context.Context, sessionId string) ([]string, error) {
	ids, err := q.rdb.LRange(ctx, completedKey(sessionId), 0, completedKeep-1).Result()
	if err != nil {
		return nil, commonerrors.NewInternalError(err.Error())
	}
	return ids, nil
}

// Subscribe opens a subscription on the updates channel. The caller owns the
// returned pubsub and must close it.
func (q *Queue) Subscribe(ctx context.Context) *redis.PubSub {
	return q.rdb.Subscribe(ctx, UpdatesChannel)
}

func (q *Queue) saveTask(ctx context.Context, task *Task, ttl time.Duration) error {
	raw := json.MarshalSilently(task)
	if err := q.rdb.Set(ctx, taskKey(task.Id), raw, ttl).Err(); err != nil {
		klog.ErrorS(err, "failed to save task", "taskId", task.Id)
		return commonerrors.NewInternalError(err.Error())
	}
	return nil
}

// finishTask persists a terminal task with the shortened TTL, drops it from
// the live indexes and records it on the recency list.
func (q *Queue) finishTask(ctx context.Context, task *Task) error {
	if err := q.saveTask(ctx, task, terminalTTL); err != nil {
		return err
	}
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, pendingKey(task.SessionId), task.Id)
	pipe.SRem(ctx, activeKey(task.SessionId), task.Id)
	pipe.LPush(ctx, completedKey(task.SessionId), task.Id)
	pipe.LTrim(ctx, completedKey(task.SessionId), 0, completedKeep-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return commonerrors.NewInternalError(err.Error())
	}
	return nil
}

func (q *Queue) publish(ctx context.Context, event string, task *Task) {
	payload := json.MarshalSilently(&Event{
		Event:     event,
		TaskId:    task.Id,
		SessionId: task.SessionId,
		Status:    task.Status,
		Timestamp: timeutil.FormatRFC3339(time.Now().UTC()),
	})
	if err := q.rdb.Publish(ctx, UpdatesChannel, payload).Err(); err != nil {
		klog.ErrorS(err, "failed to publish task event", "event", event, "taskId", task.Id)
	}
}
