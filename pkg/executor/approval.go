/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package executor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
)

// Decision is the user's answer to a pending approval.
type Decision struct {
	Approved       bool
	AddToAllowlist bool
}

type pendingApproval struct {
	sessionId string
	tool      string
	createdAt time.Time
	done      chan Decision
}

// Approvals holds the in-flight approval futures. Entries resolve exactly
// once; unresolved entries are failed by the sweeper after the TTL.
type Approvals struct {
	mu      sync.Mutex
	pending map[string]*pendingApproval
	ttl     time.Duration
	stopCh  chan struct{}
}

func NewApprovals(ttl time.Duration) *Approvals {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Approvals{
		pending: make(map[string]*pendingApproval),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}
}

// Create registers a new pending approval and returns its id.
func (a *Approvals) Create(sessionId, tool string) string {
	id := uuid.NewString()
	a.mu.Lock()
	a.pending[id] = &pendingApproval{
		sessionId: sessionId,
		tool:      tool,
		createdAt: time.Now(),
		done:      make(chan Decision, 1),
	}
	a.mu.Unlock()
	return id
}

// Wait blocks until the approval resolves, its TTL expires or ctx ends.
// Expiry and cancellation both count as denial.
func (a *Approvals) Wait(ctx context.Context, id string) (Decision, error) {
	a.mu.Lock()
	approval, ok := a.pending[id]
	a.mu.Unlock()
	if !ok {
		return Decision{}, commonerrors.NewNotFoundWithMessage("unknown approval " + id)
	}
	timer := time.NewTimer(a.ttl)
	defer timer.Stop()
	select {
	case decision := <-approval.done:
		return decision, nil
	case <-timer.C:
		a.evict(id)
		return Decision{}, commonerrors.NewTimeout("approval " + id + " expired")
	case <-ctx.Done():
		a.evict(id)
		return Decision{}, commonerrors.NewTimeout("approval " + id + " cancelled")
	}
}

// Resolve delivers the user's decision. The first call succeeds; any further
// call for the same id reports an unknown approval.
func (a *Approvals) Resolve(id string, approved, addToAllowlist bool) error {
	a.mu.Lock()
	approval, ok := a.pending[id]
	if ok {
		delete(a.pending, id)
	}
	a.mu.Unlock()
	if !ok {
		return commonerrors.NewNotFoundWithMessage("unknown approval " + id)
	}
	approval.done <- Decision{Approved: approved, AddToAllowlist: addToAllowlist}
	return nil
}

// Pending reports the number of unresolved approvals.
func (a *Approvals) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// StartSweeper periodically denies approvals that outlived the TTL, covering
// waiters that vanished without consuming their future.
func (a *Approvals) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-a.stopCh:
				return
			case <-ticker.C:
				a.sweep()
			}
		}
	}()
}

func (a *Approvals) Stop() {
	close(a.stopCh)
}

func (a *Approvals) sweep() {
	now := time.Now()
	a.mu.Lock()
	var expired []*pendingApproval
	for id, approval := range a.pending {
		if now.Sub(approval.createdAt) > a.ttl {
			delete(a.pending, id)
			expired = append(expired, approval)
			klog.InfoS("expiring stale approval", "approvalId", id, "sessionId", approval.sessionId, "tool", approval.tool)
		}
	}
	a.mu.Unlock()
	for _, approval := range expired {
		approval.done <- Decision{Approved: false}
	}
}

func (a *Approvals) evict(id string) {
	a.mu.Lock()
	delete(a.pending, id)
	a.mu.Unlock()
}
