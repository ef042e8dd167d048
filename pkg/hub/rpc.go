/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
	utiljson "github.com/ammujacic/podex-sub004/pkg/utils/json"
)

// CallPod sends an RPC request over the pod's reverse connection and waits
// for the correlated response. The pending entry is evicted on response,
// timeout, context cancellation and pod disconnect alike.
func (h *Hub) CallPod(ctx context.Context, podId, method string, params interface{}) (json.RawMessage, error) {
	return h.CallPodWithTimeout(ctx, podId, method, params, h.rpcTimeout)
}

// CallPodWithTimeout is CallPod with a per-call deadline override.
func (h *Hub) CallPodWithTimeout(ctx context.Context, podId, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = h.rpcTimeout
	}
	h.mu.Lock()
	entry, ok := h.pods[podId]
	if !ok {
		h.mu.Unlock()
		return nil, commonerrors.NewPodOffline(podId)
	}
	callId := uuid.NewString()
	call := &pendingCall{podId: podId, done: make(chan *RpcResponse, 1)}
	h.pending[callId] = call
	conn := entry.conn
	h.mu.Unlock()

	defer h.evictCall(callId)

	request := &RpcRequest{CallId: callId, Method: method, Params: utiljson.MarshalSilently(params)}
	if err := conn.Send(EventRpcRequest, request); err != nil {
		klog.ErrorS(err, "failed to send rpc request", "podId", podId, "method", method)
		return nil, commonerrors.NewTransport(fmt.Sprintf("failed to reach pod %s: %v", podId, err))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-call.done:
		if resp == nil {
			return nil, commonerrors.NewPodOffline(podId)
		}
		if resp.Error != "" {
			return nil, commonerrors.NewTransport(fmt.Sprintf("pod %s method %s failed: %s", podId, method, resp.Error))
		}
		return resp.Result, nil
	case <-timer.C:
		return nil, commonerrors.NewTimeout(fmt.Sprintf("rpc %s to pod %s timed out after %s", method, podId, timeout))
	case <-ctx.Done():
		return nil, commonerrors.NewTimeout(fmt.Sprintf("rpc %s to pod %s cancelled: %v", method, podId, ctx.Err()))
	}
}

// handleRpcResponse resolves the pending call for a response frame. Late or
// unknown call ids are dropped.
func (h *Hub) handleRpcResponse(resp *RpcResponse) {
	h.mu.Lock()
	call, ok := h.pending[resp.CallId]
	if ok {
		delete(h.pending, resp.CallId)
	}
	h.mu.Unlock()
	if !ok {
		klog.V(4).InfoS("dropping response for unknown call", "callId", resp.CallId)
		return
	}
	call.done <- resp
}

// failPendingForPod resolves every in-flight call addressed to a pod with a
// connection-lost result.
func (h *Hub) failPendingForPod(podId string) {
	h.mu.Lock()
	var calls []*pendingCall
	for callId, call := range h.pending {
		if call.podId == podId {
			delete(h.pending, callId)
			calls = append(calls, call)
		}
	}
	h.mu.Unlock()
	for _, call := range calls {
		call.done <- nil
	}
}

func (h *Hub) evictCall(callId string) {
	h.mu.Lock()
	delete(h.pending, callId)
	h.mu.Unlock()
}

// PendingCalls returns the number of in-flight RPC calls.
func (h *Hub) PendingCalls() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.pending)
}
