/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"k8s.io/klog/v2"

	"github.com/ammujacic/podex-sub004/pkg/auth"
	"github.com/ammujacic/podex-sub004/pkg/database/client"
	dbutils "github.com/ammujacic/podex-sub004/pkg/database/utils"
	"github.com/ammujacic/podex-sub004/pkg/dockerhost"
	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
	utiljson "github.com/ammujacic/podex-sub004/pkg/utils/json"
)

const (
	PodStatusOnline  = "online"
	PodStatusOffline = "offline"

	podHostPrefix = "pod:"
)

type registerPodRequest struct {
	Name     string `json:"name" binding:"required"`
	Os       string `json:"os"`
	Arch     string `json:"arch"`
	MemoryMB int    `json:"memory_mb"`
	CPUCores int    `json:"cpu_cores"`
}

// registerLocalPod mints a pod credential. Only the bcrypt hash is stored;
// the plaintext token appears in this response and never again.
func (h *Handler) registerLocalPod(c *gin.Context) (interface{}, error) {
	request := &registerPodRequest{}
	if err := c.ShouldBindJSON(request); err != nil {
		return nil, commonerrors.NewBadRequest(err.Error())
	}
	token, hash, err := auth.GeneratePodToken()
	if err != nil {
		return nil, err
	}
	pod := &client.LocalPod{
		PodId:     uuid.NewString(),
		UserId:    currentUserId(c),
		TokenHash: hash,
		Name:      request.Name,
		Status:    PodStatusOffline,
		Os:        dbutils.NullString(request.Os),
		Arch:      dbutils.NullString(request.Arch),
		MemoryMB:  request.MemoryMB,
		CPUCores:  request.CPUCores,
		CreatedAt: pq.NullTime{Time: time.Now().UTC(), Valid: true},
	}
	if err = h.store.InsertLocalPod(c.Request.Context(), pod); err != nil {
		return nil, err
	}
	klog.InfoS("local pod registered", "podId", pod.PodId, "userId", pod.UserId)
	return gin.H{"pod_id": pod.PodId, "token": token}, nil
}

func (h *Handler) listLocalPods(c *gin.Context) (interface{}, error) {
	pods, err := h.store.ListLocalPods(c.Request.Context(), currentUserId(c))
	if err != nil {
		return nil, err
	}
	views := make([]gin.H, 0, len(pods))
	for _, pod := range pods {
		views = append(views, gin.H{
			"pod_id":             pod.PodId,
			"name":               pod.Name,
			"status":             pod.Status,
			"os":                 pod.Os.String,
			"arch":               pod.Arch.String,
			"memory_mb":          pod.MemoryMB,
			"cpu_cores":          pod.CPUCores,
			"current_workspaces": pod.CurrentWorkspaces,
			"connected":          h.hub.PodConnected(pod.PodId),
			"last_heartbeat":     pod.LastHeartbeat.Time,
		})
	}
	return gin.H{"pods": views}, nil
}

// PodHostId names the placement host backed by a connected pod.
func PodHostId(podId string) string { return podHostPrefix + podId }

// podObserver reacts to pod push events: workspace and terminal events fan
// out to the matching rooms, and the registry binding follows the connection.
type podObserver struct {
	h *Handler
}

type workspaceEventFrame struct {
	SessionId   string `json:"session_id"`
	WorkspaceId string `json:"workspace_id"`
}

type terminalOutputFrame struct {
	WorkspaceId string `json:"workspace_id"`
}

func (o *podObserver) OnCapabilities(podId string, data json.RawMessage) {
	klog.V(2).InfoS("pod capabilities", "podId", podId, "data", string(data))
}

func (o *podObserver) OnWorkspaceEvent(podId string, data json.RawMessage) {
	frame := &workspaceEventFrame{}
	if err := utiljson.Unmarshal(data, frame); err != nil || frame.SessionId == "" {
		klog.V(4).InfoS("dropping unaddressed workspace event", "podId", podId)
		return
	}
	o.h.hub.EmitToSession(frame.SessionId, "workspace_event", data)
}

func (o *podObserver) OnTerminalOutput(podId string, data json.RawMessage) {
	frame := &terminalOutputFrame{}
	if err := utiljson.Unmarshal(data, frame); err != nil || frame.WorkspaceId == "" {
		klog.V(4).InfoS("dropping unaddressed terminal output", "podId", podId)
		return
	}
	o.h.hub.EmitToTerminal(frame.WorkspaceId, "terminal_output", data)
}

func (o *podObserver) OnDisconnect(podId string) {
	o.h.registry.Unregister(PodHostId(podId))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.h.store.SetLocalPodStatus(ctx, podId, PodStatusOffline, ""); err != nil {
		klog.ErrorS(err, "failed to mark pod offline", "podId", podId)
	}
}

// onPodConnect binds the pod into the container-backend registry and flips
// its status.
func (h *Handler) onPodConnect(ctx context.Context, podId string) {
	h.registry.Register(PodHostId(podId), dockerhost.NewPodBackend(podId, h.hub))
	if err := h.store.SetLocalPodStatus(ctx, podId, PodStatusOnline, ""); err != nil {
		klog.ErrorS(err, "failed to mark pod online", "podId", podId)
	}
}
