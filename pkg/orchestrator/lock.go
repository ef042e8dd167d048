/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"

	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
)

const (
	workspaceLockFormat = "podex:lock:workspace:%s"
	defaultLockTTL      = 30 * time.Second
)

// releaseScript deletes the lock only when still held by this owner.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// WorkspaceLocker serializes workspace mutations across coordinator instances
// through a Redis lock with a TTL. Failing to acquire means another instance
// owns the workspace and this one must not mutate it.
type WorkspaceLocker struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewWorkspaceLocker(rdb redis.UniversalClient, ttl time.Duration) *WorkspaceLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &WorkspaceLocker{rdb: rdb, ttl: ttl}
}

// Acquire takes the per-workspace lock, returning the release function.
func (l *WorkspaceLocker) Acquire(ctx context.Context, workspaceId string) (func(), error) {
	key := fmt.Sprintf(workspaceLockFormat, workspaceId)
	owner := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, owner, l.ttl).Result()
	if err != nil {
		return nil, commonerrors.NewInternalError(err.Error())
	}
	if !ok {
		return nil, commonerrors.NewConflict(fmt.Sprintf("workspace %s is being mutated by another coordinator", workspaceId))
	}
	release := func() {
		if err := releaseScript.Run(context.Background(), l.rdb, []string{key}, owner).Err(); err != nil && err != redis.Nil {
			klog.ErrorS(err, "failed to release workspace lock", "workspaceId", workspaceId)
		}
	}
	return release, nil
}
