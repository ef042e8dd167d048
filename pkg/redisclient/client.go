/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package redisclient

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"

	"github.com/ammujacic/podex-sub004/pkg/config"
)

var (
	once     sync.Once
	instance *redis.Client
)

// NewClient creates a singleton Redis client from configuration. Redis is the
// only cross-process shared writable state: task queues, the JTI blacklist,
// device-code scratchpad and per-workspace locks all live here.
func NewClient() *redis.Client {
	once.Do(func() {
		instance = redis.NewClient(&redis.Options{
			Addr:     config.GetRedisAddr(),
			Password: config.GetRedisPassword(),
			DB:       config.GetRedisDB(),
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := instance.Ping(ctx).Err(); err != nil {
			klog.ErrorS(err, "failed to ping redis", "addr", config.GetRedisAddr())
			return
		}
		klog.Infof("init redis-client successfully! addr: %s", config.GetRedisAddr())
	})
	return instance
}
