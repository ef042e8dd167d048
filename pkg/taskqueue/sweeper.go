/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package taskqueue

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"k8s.io/klog/v2"

	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
)

const (
	activeScanPattern = "podex:tasks:*:active"
	taskScanPattern   = "podex:task:*"
	scanBatch         = 256
)

// Sweeper reclaims tasks whose worker died mid-flight and garbage-collects
// task bodies no longer referenced by any index. One sweeper runs per
// coordinator process.
type Sweeper struct {
	queue         *Queue
	sweepInterval time.Duration
	cron          *cron.Cron
	stopCh        chan struct{}
}

func NewSweeper(queue *Queue, sweepInterval time.Duration, orphanGCSchedule string) (*Sweeper, error) {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	s := &Sweeper{
		queue:         queue,
		sweepInterval: sweepInterval,
		cron:          cron.New(),
		stopCh:        make(chan struct{}),
	}
	if orphanGCSchedule == "" {
		orphanGCSchedule = "@every 10m"
	}
	if _, err := s.cron.AddFunc(orphanGCSchedule, func() {
		if err := s.CollectOrphans(context.Background()); err != nil {
			klog.ErrorS(err, "orphan task collection failed")
		}
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// Start runs the visibility sweep loop and the orphan GC cron until Stop.
func (s *Sweeper) Start() {
	s.cron.Start()
	go func() {
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				if err := s.SweepExpired(context.Background()); err != nil {
					klog.ErrorS(err, "visibility sweep failed")
				}
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	close(s.stopCh)
	s.cron.Stop()
}

// SweepExpired walks every session's active set and fails tasks whose
// visibility timeout elapsed, returning them to pending while retries remain.
func (s *Sweeper) SweepExpired(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.queue.rdb.Scan(ctx, cursor, activeScanPattern, scanBatch).Result()
		if err != nil {
			return commonerrors.NewInternalError(err.Error())
		}
		for _, key := range keys {
			sessionId := sessionFromActiveKey(key)
			if sessionId == "" {
				continue
			}
			if err = s.sweepSession(ctx, sessionId); err != nil {
				klog.ErrorS(err, "failed to sweep session", "sessionId", sessionId)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *Sweeper) sweepSession(ctx context.Context, sessionId string) error {
	ids, err := s.queue.ListActive(ctx, sessionId)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, taskId := range ids {
		task, err := s.queue.GetTask(ctx, taskId)
		if err != nil {
			if commonerrors.IsNotFound(err) {
				s.queue.rdb.SRem(ctx, activeKey(sessionId), taskId)
				continue
			}
			return err
		}
		// A task indexed as both pending and active means delivery broke its
		// single-owner guarantee; that is unrecoverable corruption.
		if pendingErr := s.queue.rdb.ZScore(ctx, pendingKey(sessionId), taskId).Err(); pendingErr == nil {
			klog.Fatalf("task %s is both pending and active in session %s", taskId, sessionId)
		}
		if task.StartedAt == nil || now.Sub(*task.StartedAt) < s.queue.visibilityTimeout {
			continue
		}
		reason := "task timed out after " + s.queue.visibilityTimeout.String()
		klog.InfoS("reclaiming expired task", "taskId", taskId, "sessionId", sessionId,
			"worker", task.AssignedWorker, "retryCount", task.RetryCount)
		if err = s.queue.Fail(ctx, taskId, reason, true); err != nil {
			return err
		}
	}
	return nil
}

// CollectOrphans deletes task bodies referenced by no pending, active or
// completed index of their session.
func (s *Sweeper) CollectOrphans(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.queue.rdb.Scan(ctx, cursor, taskScanPattern, scanBatch).Result()
		if err != nil {
			return commonerrors.NewInternalError(err.Error())
		}
		for _, key := range keys {
			taskId := strings.TrimPrefix(key, "podex:task:")
			task, err := s.queue.GetTask(ctx, taskId)
			if err != nil {
				continue
			}
			referenced, err := s.isReferenced(ctx, task)
			if err != nil {
				return err
			}
			if referenced {
				continue
			}
			klog.InfoS("deleting orphan task", "taskId", taskId, "sessionId", task.SessionId, "status", task.Status)
			if err = s.queue.rdb.Del(ctx, key).Err(); err != nil {
				return commonerrors.NewInternalError(err.Error())
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *Sweeper) isReferenced(ctx context.Context, task *Task) (bool, error) {
	if err := s.queue.rdb.ZScore(ctx, pendingKey(task.SessionId), task.Id).Err(); err == nil {
		return true, nil
	}
	active, err := s.queue.rdb.SIsMember(ctx, activeKey(task.SessionId), task.Id).Result()
	if err != nil {
		return false, commonerrors.NewInternalError(err.Error())
	}
	if active {
		return true, nil
	}
	completed, err := s.queue.rdb.LRange(ctx, completedKey(task.SessionId), 0, completedKeep-1).Result()
	if err != nil {
		return false, commonerrors.NewInternalError(err.Error())
	}
	for _, id := range completed {
		if id == task.Id {
			return true, nil
		}
	}
	return false, nil
}

func sessionFromActiveKey(key string) string {
	trimmed := strings.TrimPrefix(key, "podex:tasks:")
	trimmed = strings.TrimSuffix(trimmed, ":active")
	if trimmed == key {
		return ""
	}
	return trimmed
}
