/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package dockerhost

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
)

// Container labels stamped on every workspace container.
const (
	LabelWorkspaceId = "podex.workspace_id"
	LabelUserId      = "podex.user_id"
	LabelSessionId   = "podex.session_id"
	LabelTier        = "podex.tier"
)

const (
	// ExecUser pins every exec to a non-root identity inside the container.
	ExecUser = "1000:1000"

	// DefaultExecTimeout bounds an exec without a per-call override.
	DefaultExecTimeout = 30 * time.Second

	// DefaultStopTimeout is how long a container gets to exit gracefully.
	DefaultStopTimeout = 10 * time.Second
)

// ContainerSpec describes the container backing one workspace.
type ContainerSpec struct {
	Name         string
	Image        string
	Env          []string
	WorkspaceId  string
	UserId       string
	SessionId    string
	Tier         string
	CPUCores     float64
	MemoryMB     int64
	DiskGB       int64
	GPUKind      string
	GPUCount     int
	VolumeName   string
	WorkspaceDir string
}

// Labels returns the mandatory label set for the spec.
func (s *ContainerSpec) Labels() map[string]string {
	return map[string]string{
		LabelWorkspaceId: s.WorkspaceId,
		LabelUserId:      s.UserId,
		LabelSessionId:   s.SessionId,
		LabelTier:        s.Tier,
	}
}

// ExecRequest is one command execution inside a running container.
type ExecRequest struct {
	Cmd        []string
	WorkingDir string
	Env        []string
	Timeout    time.Duration
}

// ExecResult carries the outcome of an exec. ExitCode -1 marks failures that
// happened outside the command itself.
type ExecResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// ContainerStats is a point-in-time resource report for one container.
type ContainerStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryUsageMB int64   `json:"memory_usage_mb"`
	MemoryLimitMB int64   `json:"memory_limit_mb"`
}

// ServerStats is a point-in-time report for a whole host.
type ServerStats struct {
	Containers int   `json:"containers"`
	CPUCores   int   `json:"cpu_cores"`
	MemoryMB   int64 `json:"memory_mb"`
}

// Backend is the uniform container-operations surface. A direct daemon client
// serves cloud hosts; self-hosted pods are reached through the reverse-RPC
// hub behind the same interface.
type Backend interface {
	CreateContainer(ctx context.Context, spec *ContainerSpec) (string, error)
	StartContainer(ctx context.Context, containerId string) error
	StopContainer(ctx context.Context, containerId string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, containerId string, removeVolumes bool) error
	Exec(ctx context.Context, containerId string, request *ExecRequest) (*ExecResult, error)
	Stats(ctx context.Context, containerId string) (*ContainerStats, error)
	ServerStats(ctx context.Context) (*ServerStats, error)

	// Cold migration: the source host commits the container filesystem into
	// an image and exports it; the target host imports it before the
	// replacement container is created from the committed ref.
	CommitContainer(ctx context.Context, containerId, imageRef string) error
	ExportImage(ctx context.Context, imageRef string) (io.ReadCloser, error)
	ImportImage(ctx context.Context, imageRef string, image io.Reader) error
}

// Registry maps host ids to their backends. Hosts register at startup (direct)
// or on pod connect (proxied) and unregister on teardown.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

func (r *Registry) Register(hostId string, backend Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[hostId] = backend
}

func (r *Registry) Unregister(hostId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.backends, hostId)
}

// Backend returns the backend serving hostId.
func (r *Registry) Backend(hostId string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	backend, ok := r.backends[hostId]
	if !ok {
		return nil, commonerrors.NewNotFound("host", hostId)
	}
	return backend, nil
}

// HostIds lists the registered host ids.
func (r *Registry) HostIds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	return ids
}

func labelsMatch(existing, wanted map[string]string) bool {
	for key, value := range wanted {
		if existing[key] != value {
			return false
		}
	}
	return true
}

func labelConflictError(name string) error {
	return commonerrors.NewConflict(fmt.Sprintf("container %s exists with different labels", name))
}
