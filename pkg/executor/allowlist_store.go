/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package executor

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
)

// AllowlistStore persists the per-session command allowlist.
type AllowlistStore interface {
	Get(ctx context.Context, sessionId string) ([]string, error)
	Append(ctx context.Context, sessionId, command string) error
}

const allowlistKeyFormat = "podex:allowlist:%s"

// RedisAllowlist keeps session allowlists in Redis so they survive
// coordinator restarts alongside the queue state.
type RedisAllowlist struct {
	rdb redis.UniversalClient
}

func NewRedisAllowlist(rdb redis.UniversalClient) *RedisAllowlist {
	return &RedisAllowlist{rdb: rdb}
}

func (s *RedisAllowlist) Get(ctx context.Context, sessionId string) ([]string, error) {
	entries, err := s.rdb.LRange(ctx, allowlistKey(sessionId), 0, -1).Result()
	if err != nil {
		return nil, commonerrors.NewInternalError(err.Error())
	}
	return entries, nil
}

// Append persists one command. Callers must have re-validated the string; a
// tainted command is refused here as the last line of defense.
func (s *RedisAllowlist) Append(ctx context.Context, sessionId, command string) error {
	if !ValidateCommand(command) {
		return commonerrors.NewBadRequest("command contains forbidden characters")
	}
	if err := s.rdb.RPush(ctx, allowlistKey(sessionId), command).Err(); err != nil {
		return commonerrors.NewInternalError(err.Error())
	}
	return nil
}

func allowlistKey(sessionId string) string {
	return fmt.Sprintf(allowlistKeyFormat, sessionId)
}
