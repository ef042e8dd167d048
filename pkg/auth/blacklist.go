/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
)

const blacklistKeyFormat = "podex:blacklist:%s"

// Blacklist revokes tokens by JTI. Keys expire with the remaining token
// lifetime, so the set never needs manual cleanup.
type Blacklist struct {
	rdb redis.UniversalClient
}

func NewBlacklist(rdb redis.UniversalClient) *Blacklist {
	return &Blacklist{rdb: rdb}
}

// Revoke blacklists a JTI until the token would have expired anyway.
func (b *Blacklist) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	remaining := time.Until(expiresAt)
	if remaining <= 0 {
		return nil
	}
	if err := b.rdb.Set(ctx, blacklistKey(jti), "1", remaining).Err(); err != nil {
		return commonerrors.NewInternalError(err.Error())
	}
	return nil
}

// IsRevoked reports whether a JTI has been blacklisted.
func (b *Blacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	err := b.rdb.Get(ctx, blacklistKey(jti)).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, commonerrors.NewInternalError(err.Error())
	}
	return true, nil
}

func blacklistKey(jti string) string {
	return fmt.Sprintf(blacklistKeyFormat, jti)
}
