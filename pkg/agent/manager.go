/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package agent

import (
	"context"
	"sync"

	"k8s.io/klog/v2"

	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
	"github.com/ammujacic/podex-sub004/pkg/executor"
	"github.com/ammujacic/podex-sub004/pkg/llm"
	"github.com/ammujacic/podex-sub004/pkg/taskqueue"
)

// Manager owns one worker per session. Starting a session that already has a
// worker is a conflict; stopping an unknown session is a no-op.
type Manager struct {
	mu       sync.Mutex
	workers  map[string]*Worker
	queue    *taskqueue.Queue
	provider llm.Provider
	executor *executor.Executor
	catalog  *executor.Catalog
	emit     Emitter
}

func NewManager(queue *taskqueue.Queue, provider llm.Provider,
	exec *executor.Executor, catalog *executor.Catalog, emit Emitter) *Manager {
	return &Manager{
		workers:  make(map[string]*Worker),
		queue:    queue,
		provider: provider,
		executor: exec,
		catalog:  catalog,
		emit:     emit,
	}
}

// Start launches the worker goroutine for a session.
func (m *Manager) Start(ctx context.Context, cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workers[cfg.SessionId]; ok {
		return commonerrors.NewConflict("session " + cfg.SessionId + " already has a worker")
	}
	worker := NewWorker(cfg, m.queue, m.provider, m.executor, m.catalog, m.emit)
	m.workers[cfg.SessionId] = worker
	go func() {
		worker.Run(ctx)
		m.mu.Lock()
		if m.workers[cfg.SessionId] == worker {
			delete(m.workers, cfg.SessionId)
		}
		m.mu.Unlock()
		klog.InfoS("session worker exited", "sessionId", cfg.SessionId)
	}()
	return nil
}

// Stop signals the session's worker to exit after its current task.
func (m *Manager) Stop(sessionId string) {
	m.mu.Lock()
	worker := m.workers[sessionId]
	delete(m.workers, sessionId)
	m.mu.Unlock()
	if worker != nil {
		worker.Stop()
	}
}

// Running reports whether a session currently has a worker.
func (m *Manager) Running(sessionId string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.workers[sessionId]
	return ok
}

// StopAll stops every worker, used at shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	workers := make([]*Worker, 0, len(m.workers))
	for _, worker := range m.workers {
		workers = append(workers, worker)
	}
	m.workers = make(map[string]*Worker)
	m.mu.Unlock()
	for _, worker := range workers {
		worker.Stop()
	}
}
