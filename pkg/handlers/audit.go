/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"k8s.io/klog/v2"

	"github.com/ammujacic/podex-sub004/pkg/database/client"
	dbutils "github.com/ammujacic/podex-sub004/pkg/database/utils"
	"github.com/ammujacic/podex-sub004/pkg/executor"
)

const (
	auditBufferSize      = 1000
	auditBatchSize       = 64
	defaultFlushInterval = 3 * time.Second
	auditWriteTimeout    = 10 * time.Second
)

// AuditWriter decouples audit persistence from the request path through a
// bounded buffer. Entries are dropped with a warning when the buffer is full;
// audit must never stall a tool call or an HTTP response.
type AuditWriter struct {
	store         Store
	entries       chan *client.AuditLog
	flushInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}
}

func NewAuditWriter(store Store, flushInterval time.Duration) *AuditWriter {
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	return &AuditWriter{
		store:         store,
		entries:       make(chan *client.AuditLog, auditBufferSize),
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start launches the flush worker.
func (w *AuditWriter) Start() {
	go w.run()
}

// Stop drains the buffer and stops the worker.
func (w *AuditWriter) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

// Record implements executor.AuditSink for tool invocations.
func (w *AuditWriter) Record(_ context.Context, entry *executor.AuditEntry) {
	w.enqueue(&client.AuditLog{
		UserId:     entry.UserId,
		SessionId:  dbutils.NullString(entry.SessionId),
		AgentId:    dbutils.NullString(entry.AgentId),
		Tool:       dbutils.NullString(entry.Tool),
		ArgsDigest: dbutils.NullString(entry.ArgsDigest),
		ApprovalId: dbutils.NullString(entry.ApprovalId),
		Outcome:    dbutils.NullString(entry.Outcome),
		DurationMs: sql.NullInt64{Int64: entry.DurationMs, Valid: true},
		CreateTime: pq.NullTime{Time: time.Now().UTC(), Valid: true},
	})
}

// Middleware records every mutating HTTP request after it completes.
func (w *AuditWriter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !mutating(c.Request.Method) {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		w.enqueue(&client.AuditLog{
			UserId:     currentUserId(c),
			SessionId:  dbutils.NullString(c.GetString(ctxDeviceSession)),
			Outcome:    dbutils.NullString(fmt.Sprintf("http_%d", c.Writer.Status())),
			DurationMs: sql.NullInt64{Int64: time.Since(start).Milliseconds(), Valid: true},
			ClientIP:   dbutils.NullString(c.ClientIP()),
			HttpMethod: dbutils.NullString(c.Request.Method),
			Path:       dbutils.NullString(c.Request.URL.Path),
			CreateTime: pq.NullTime{Time: time.Now().UTC(), Valid: true},
		})
	}
}

func (w *AuditWriter) enqueue(log *client.AuditLog) {
	select {
	case w.entries <- log:
	default:
		klog.InfoS("audit buffer full, dropping entry", "userId", log.UserId, "path", log.Path.String)
	}
}

func (w *AuditWriter) run() {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()
	batch := make([]*client.AuditLog, 0, auditBatchSize)
	for {
		select {
		case entry := <-w.entries:
			batch = append(batch, entry)
			if len(batch) >= auditBatchSize {
				batch = w.flush(batch)
			}
		case <-ticker.C:
			batch = w.flush(batch)
		case <-w.stopCh:
			for {
				select {
				case entry := <-w.entries:
					batch = append(batch, entry)
				default:
					w.flush(batch)
					return
				}
			}
		}
	}
}

func (w *AuditWriter) flush(batch []*client.AuditLog) []*client.AuditLog {
	if len(batch) == 0 {
		return batch
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()
	for _, entry := range batch {
		if err := w.store.InsertAuditLog(ctx, entry); err != nil {
			klog.ErrorS(err, "failed to persist audit entry", "userId", entry.UserId)
		}
	}
	return batch[:0]
}
