/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package dockerhost

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
	"github.com/ammujacic/podex-sub004/pkg/hub"
	utiljson "github.com/ammujacic/podex-sub004/pkg/utils/json"
)

// imageTransferTimeout bounds commit/export/import RPCs, which move image
// archives instead of small control payloads.
const imageTransferTimeout = 5 * time.Minute

// PodCaller issues reverse-RPC calls to a connected pod. The realtime hub is
// the production implementation.
type PodCaller interface {
	CallPodWithTimeout(ctx context.Context, podId, method string, params interface{}, timeout time.Duration) (json.RawMessage, error)
}

// PodBackend serves a self-hosted pod through the reverse-RPC channel. The
// pod agent owns the actual docker daemon; the coordinator only sees the
// method surface.
type PodBackend struct {
	podId  string
	caller PodCaller
}

func NewPodBackend(podId string, caller PodCaller) *PodBackend {
	return &PodBackend{podId: podId, caller: caller}
}

type podCreateParams struct {
	Name     string            `json:"name"`
	Image    string            `json:"image"`
	Env      []string          `json:"env,omitempty"`
	Labels   map[string]string `json:"labels"`
	CPUCores float64           `json:"cpu_cores"`
	MemoryMB int64             `json:"memory_mb"`
	DiskGB   int64             `json:"disk_gb"`
}

type podCreateResult struct {
	ContainerId string `json:"container_id"`
}

func (p *PodBackend) CreateContainer(ctx context.Context, spec *ContainerSpec) (string, error) {
	result, err := p.caller.CallPodWithTimeout(ctx, p.podId, hub.MethodWorkspaceCreate, &podCreateParams{
		Name:     spec.Name,
		Image:    spec.Image,
		Env:      spec.Env,
		Labels:   spec.Labels(),
		CPUCores: spec.CPUCores,
		MemoryMB: spec.MemoryMB,
		DiskGB:   spec.DiskGB,
	}, 0)
	if err != nil {
		return "", err
	}
	created := &podCreateResult{}
	if err = utiljson.Unmarshal(result, created); err != nil {
		return "", err
	}
	return created.ContainerId, nil
}

func (p *PodBackend) StartContainer(ctx context.Context, containerId string) error {
	_, err := p.caller.CallPodWithTimeout(ctx, p.podId, hub.MethodWorkspaceUpdate, map[string]string{
		"container_id": containerId,
		"action":       "start",
	}, 0)
	return err
}

func (p *PodBackend) StopContainer(ctx context.Context, containerId string, timeout time.Duration) error {
	_, err := p.caller.CallPodWithTimeout(ctx, p.podId, hub.MethodWorkspaceStop, map[string]interface{}{
		"container_id":    containerId,
		"timeout_seconds": int(timeout.Seconds()),
	}, 0)
	return err
}

func (p *PodBackend) RemoveContainer(ctx context.Context, containerId string, removeVolumes bool) error {
	_, err := p.caller.CallPodWithTimeout(ctx, p.podId, hub.MethodWorkspaceDelete, map[string]interface{}{
		"container_id":   containerId,
		"remove_volumes": removeVolumes,
	}, 0)
	return err
}

// Exec relays the command to the pod. The RPC deadline gets headroom past the
// in-container timeout so the pod can report the timeout itself.
func (p *PodBackend) Exec(ctx context.Context, containerId string, request *ExecRequest) (*ExecResult, error) {
	timeout := request.Timeout
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	result, err := p.caller.CallPodWithTimeout(ctx, p.podId, hub.MethodExec, map[string]interface{}{
		"container_id":    containerId,
		"cmd":             request.Cmd,
		"working_dir":     request.WorkingDir,
		"env":             request.Env,
		"timeout_seconds": int(timeout.Seconds()),
		"user":            ExecUser,
	}, timeout+5*time.Second)
	if err != nil {
		return nil, err
	}
	execResult := &ExecResult{}
	if err = utiljson.Unmarshal(result, execResult); err != nil {
		return nil, err
	}
	return execResult, nil
}

func (p *PodBackend) Stats(ctx context.Context, containerId string) (*ContainerStats, error) {
	result, err := p.caller.CallPodWithTimeout(ctx, p.podId, hub.MethodStats, map[string]string{
		"container_id": containerId,
	}, 0)
	if err != nil {
		return nil, err
	}
	stats := &ContainerStats{}
	if err = utiljson.Unmarshal(result, stats); err != nil {
		return nil, err
	}
	return stats, nil
}

func (p *PodBackend) ServerStats(ctx context.Context) (*ServerStats, error) {
	result, err := p.caller.CallPodWithTimeout(ctx, p.podId, hub.MethodServerStats, nil, 0)
	if err != nil {
		return nil, err
	}
	stats := &ServerStats{}
	if err = utiljson.Unmarshal(result, stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// podImagePayload carries an image archive over the RPC channel. The bytes
// travel base64-encoded inside the JSON frame.
type podImagePayload struct {
	ImageRef string `json:"image_ref"`
	Archive  []byte `json:"archive"`
}

func (p *PodBackend) CommitContainer(ctx context.Context, containerId, imageRef string) error {
	_, err := p.caller.CallPodWithTimeout(ctx, p.podId, hub.MethodImageCommit, map[string]string{
		"container_id": containerId,
		"image_ref":    imageRef,
	}, imageTransferTimeout)
	return err
}

func (p *PodBackend) ExportImage(ctx context.Context, imageRef string) (io.ReadCloser, error) {
	result, err := p.caller.CallPodWithTimeout(ctx, p.podId, hub.MethodImageExport, map[string]string{
		"image_ref": imageRef,
	}, imageTransferTimeout)
	if err != nil {
		return nil, err
	}
	payload := &podImagePayload{}
	if err = utiljson.Unmarshal(result, payload); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(payload.Archive)), nil
}

func (p *PodBackend) ImportImage(ctx context.Context, imageRef string, image io.Reader) error {
	archive, err := io.ReadAll(image)
	if err != nil {
		return commonerrors.NewInternalError(err.Error())
	}
	_, err = p.caller.CallPodWithTimeout(ctx, p.podId, hub.MethodImageImport, &podImagePayload{
		ImageRef: imageRef,
		Archive:  archive,
	}, imageTransferTimeout)
	return err
}
