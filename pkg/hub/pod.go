/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package hub

import (
	"encoding/json"

	"k8s.io/klog/v2"

	utiljson "github.com/ammujacic/podex-sub004/pkg/utils/json"
)

// PodObserver receives the push events a pod sends outside of RPC responses.
type PodObserver interface {
	OnCapabilities(podId string, data json.RawMessage)
	OnWorkspaceEvent(podId string, data json.RawMessage)
	OnTerminalOutput(podId string, data json.RawMessage)
	OnDisconnect(podId string)
}

// ServePod registers the connection under podId and pumps its frames until
// the socket breaks. It blocks; callers run it on the connection goroutine.
func (h *Hub) ServePod(conn *Conn, podId string, observer PodObserver) {
	h.RegisterPod(podId, conn)
	defer func() {
		h.UnregisterPod(podId, conn)
		if observer != nil {
			observer.OnDisconnect(podId)
		}
	}()
	for {
		_, payload, err := conn.ws.ReadMessage()
		if err != nil {
			klog.V(2).InfoS("pod socket closed", "podId", podId, "err", err)
			return
		}
		msg := &Message{}
		if err = utiljson.Unmarshal(payload, msg); err != nil {
			klog.ErrorS(err, "dropping malformed pod frame", "podId", podId)
			continue
		}
		h.dispatchPodFrame(podId, msg, observer)
	}
}

func (h *Hub) dispatchPodFrame(podId string, msg *Message, observer PodObserver) {
	switch msg.Event {
	case EventHeartbeat:
		hb := &Heartbeat{}
		if err := utiljson.Unmarshal(msg.Data, hb); err != nil {
			klog.ErrorS(err, "dropping malformed heartbeat", "podId", podId)
			return
		}
		h.recordHeartbeat(podId, hb.Workspaces)
	case EventRpcResponse:
		resp := &RpcResponse{}
		if err := utiljson.Unmarshal(msg.Data, resp); err != nil {
			klog.ErrorS(err, "dropping malformed rpc response", "podId", podId)
			return
		}
		h.handleRpcResponse(resp)
	case EventCapabilities:
		if observer != nil {
			observer.OnCapabilities(podId, msg.Data)
		}
	case EventWorkspaceEvent:
		if observer != nil {
			observer.OnWorkspaceEvent(podId, msg.Data)
		}
	case EventTerminalOutput:
		if observer != nil {
			observer.OnTerminalOutput(podId, msg.Data)
		}
	default:
		klog.V(4).InfoS("ignoring unknown pod event", "podId", podId, "event", msg.Event)
	}
}
