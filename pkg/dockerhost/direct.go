/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package dockerhost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"k8s.io/klog/v2"

	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
)

// DirectBackend drives one cloud host's docker daemon over its endpoint.
type DirectBackend struct {
	hostId string
	cli    client.APIClient
}

func NewDirectBackend(hostId, endpoint string) (*DirectBackend, error) {
	cli, err := client.NewClientWithOpts(
		client.WithHost(endpoint),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, commonerrors.NewTransport(fmt.Sprintf("failed to dial docker host %s: %v", hostId, err))
	}
	return &DirectBackend{hostId: hostId, cli: cli}, nil
}

// NewDirectBackendWithClient wires an existing API client, used by tests.
func NewDirectBackendWithClient(hostId string, cli client.APIClient) *DirectBackend {
	return &DirectBackend{hostId: hostId, cli: cli}
}

// CreateContainer creates the workspace container. A container that already
// exists under the same name is returned as-is when its labels match the
// request, so retried creates stay idempotent.
func (d *DirectBackend) CreateContainer(ctx context.Context, spec *ContainerSpec) (string, error) {
	existing, err := d.findByName(ctx, spec.Name)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if !labelsMatch(existing.Labels, spec.Labels()) {
			return "", labelConflictError(spec.Name)
		}
		klog.InfoS("container already exists, reusing", "host", d.hostId, "name", spec.Name, "containerId", existing.ID)
		return existing.ID, nil
	}

	config := &container.Config{
		Image:  spec.Image,
		Env:    spec.Env,
		Labels: spec.Labels(),
	}
	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			NanoCPUs: int64(spec.CPUCores * 1e9),
			Memory:   spec.MemoryMB << 20,
		},
	}
	if spec.GPUCount > 0 {
		hostConfig.Resources.DeviceRequests = []container.DeviceRequest{{
			Driver:       "nvidia",
			Count:        spec.GPUCount,
			Capabilities: [][]string{{"gpu"}},
		}}
	}
	if spec.VolumeName != "" {
		hostConfig.Mounts = []mount.Mount{{
			Type:   mount.TypeVolume,
			Source: spec.VolumeName,
			Target: spec.WorkspaceDir,
		}}
	}
	created, err := d.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, spec.Name)
	if err != nil {
		klog.ErrorS(err, "failed to create container", "host", d.hostId, "name", spec.Name)
		return "", commonerrors.NewTransport(fmt.Sprintf("create container on host %s: %v", d.hostId, err))
	}
	return created.ID, nil
}

func (d *DirectBackend) StartContainer(ctx context.Context, containerId string) error {
	if err := d.cli.ContainerStart(ctx, containerId, container.StartOptions{}); err != nil {
		return commonerrors.NewTransport(fmt.Sprintf("start container on host %s: %v", d.hostId, err))
	}
	return nil
}

func (d *DirectBackend) StopContainer(ctx context.Context, containerId string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	seconds := int(timeout.Seconds())
	err := d.cli.ContainerStop(ctx, containerId, container.StopOptions{Timeout: &seconds})
	if err != nil {
		return commonerrors.NewTransport(fmt.Sprintf("stop container on host %s: %v", d.hostId, err))
	}
	return nil
}

func (d *DirectBackend) RemoveContainer(ctx context.Context, containerId string, removeVolumes bool) error {
	err := d.cli.ContainerRemove(ctx, containerId, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: removeVolumes,
	})
	if err != nil {
		return commonerrors.NewTransport(fmt.Sprintf("remove container on host %s: %v", d.hostId, err))
	}
	return nil
}

// Exec runs a command inside the container as the pinned non-root user with a
// bounded deadline. Deadline overruns yield a synthetic -1 exit code.
func (d *DirectBackend) Exec(ctx context.Context, containerId string, request *ExecRequest) (*ExecResult, error) {
	timeout := request.Timeout
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	created, err := d.cli.ContainerExecCreate(execCtx, containerId, container.ExecOptions{
		User:         ExecUser,
		Cmd:          request.Cmd,
		Env:          request.Env,
		WorkingDir:   request.WorkingDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, commonerrors.NewTransport(fmt.Sprintf("exec create on host %s: %v", d.hostId, err))
	}
	attach, err := d.cli.ContainerExecAttach(execCtx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, commonerrors.NewTransport(fmt.Sprintf("exec attach on host %s: %v", d.hostId, err))
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copyDone <- copyErr
	}()

	select {
	case <-execCtx.Done():
		return &ExecResult{
			ExitCode: -1,
			Stdout:   stdout.String(),
			Stderr:   fmt.Sprintf("command timed out after %s", timeout),
		}, nil
	case copyErr := <-copyDone:
		if copyErr != nil {
			klog.ErrorS(copyErr, "exec output copy failed", "host", d.hostId, "containerId", containerId)
		}
	}

	inspect, err := d.cli.ContainerExecInspect(context.Background(), created.ID)
	if err != nil {
		return nil, commonerrors.NewTransport(fmt.Sprintf("exec inspect on host %s: %v", d.hostId, err))
	}
	return &ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

func (d *DirectBackend) Stats(ctx context.Context, containerId string) (*ContainerStats, error) {
	resp, err := d.cli.ContainerStats(ctx, containerId, false)
	if err != nil {
		return nil, commonerrors.NewTransport(fmt.Sprintf("stats on host %s: %v", d.hostId, err))
	}
	defer resp.Body.Close()
	stats := &container.StatsResponse{}
	if err = json.NewDecoder(resp.Body).Decode(stats); err != nil {
		return nil, commonerrors.NewInternalError(err.Error())
	}
	return &ContainerStats{
		CPUPercent:    cpuPercent(stats),
		MemoryUsageMB: int64(stats.MemoryStats.Usage) >> 20,
		MemoryLimitMB: int64(stats.MemoryStats.Limit) >> 20,
	}, nil
}

func (d *DirectBackend) ServerStats(ctx context.Context) (*ServerStats, error) {
	info, err := d.cli.Info(ctx)
	if err != nil {
		return nil, commonerrors.NewTransport(fmt.Sprintf("info on host %s: %v", d.hostId, err))
	}
	return &ServerStats{
		Containers: info.Containers,
		CPUCores:   info.NCPU,
		MemoryMB:   info.MemTotal >> 20,
	}, nil
}

// CommitContainer snapshots the container filesystem into an image so the
// workspace state can follow a migration.
func (d *DirectBackend) CommitContainer(ctx context.Context, containerId, imageRef string) error {
	_, err := d.cli.ContainerCommit(ctx, containerId, container.CommitOptions{
		Reference: imageRef,
		Pause:     true,
	})
	if err != nil {
		return commonerrors.NewTransport(fmt.Sprintf("commit container on host %s: %v", d.hostId, err))
	}
	return nil
}

func (d *DirectBackend) ExportImage(ctx context.Context, imageRef string) (io.ReadCloser, error) {
	archive, err := d.cli.ImageSave(ctx, []string{imageRef})
	if err != nil {
		return nil, commonerrors.NewTransport(fmt.Sprintf("export image on host %s: %v", d.hostId, err))
	}
	return archive, nil
}

// ImportImage loads an exported image archive into the local daemon. The
// archive carries its own tags, so imageRef is informational here.
func (d *DirectBackend) ImportImage(ctx context.Context, imageRef string, image io.Reader) error {
	resp, err := d.cli.ImageLoad(ctx, image)
	if err != nil {
		return commonerrors.NewTransport(fmt.Sprintf("import image %s on host %s: %v", imageRef, d.hostId, err))
	}
	defer resp.Body.Close()
	if _, err = io.Copy(io.Discard, resp.Body); err != nil {
		klog.ErrorS(err, "failed to drain image load response", "host", d.hostId, "imageRef", imageRef)
	}
	return nil
}

func (d *DirectBackend) findByName(ctx context.Context, name string) (*container.Summary, error) {
	summaries, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return nil, commonerrors.NewTransport(fmt.Sprintf("list containers on host %s: %v", d.hostId, err))
	}
	for i := range summaries {
		for _, containerName := range summaries[i].Names {
			if containerName == "/"+name {
				return &summaries[i], nil
			}
		}
	}
	return nil, nil
}

func cpuPercent(stats *container.StatsResponse) float64 {
	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(stats.CPUStats.SystemUsage) - float64(stats.PreCPUStats.SystemUsage)
	if systemDelta <= 0 || cpuDelta < 0 {
		return 0
	}
	onlineCPUs := float64(stats.CPUStats.OnlineCPUs)
	if onlineCPUs == 0 {
		onlineCPUs = float64(len(stats.CPUStats.CPUUsage.PercpuUsage))
	}
	return cpuDelta / systemDelta * onlineCPUs * 100
}
