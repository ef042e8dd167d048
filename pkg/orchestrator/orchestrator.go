/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	pkgerrors "github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/ammujacic/podex-sub004/pkg/database/client"
	"github.com/ammujacic/podex-sub004/pkg/dockerhost"
	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
	"github.com/ammujacic/podex-sub004/pkg/placement"
	"github.com/ammujacic/podex-sub004/pkg/tier"
	"github.com/ammujacic/podex-sub004/pkg/utils/backoff"
	"github.com/ammujacic/podex-sub004/pkg/utils/json"
)

const (
	// Transient host failures during migration get a few fixed-interval
	// retries before the workspace is parked in error.
	migrateStartRetries       = 3
	migrateStartRetryInterval = 500 * time.Millisecond
)

// StatusEmitter broadcasts workspace status changes to the session room.
type StatusEmitter func(sessionId, workspaceId, status, reason string)

// Orchestrator owns the workspace state machine. It is the single writer to
// the workspace store; concurrent mutations serialize on the per-workspace
// Redis lock.
type Orchestrator struct {
	store       Store
	engine      *placement.Engine
	registry    *dockerhost.Registry
	locker      *WorkspaceLocker
	execTimeout time.Duration
	emit        StatusEmitter
}

func New(store Store, engine *placement.Engine, registry *dockerhost.Registry,
	locker *WorkspaceLocker, execTimeout time.Duration, emit StatusEmitter) *Orchestrator {
	if execTimeout <= 0 {
		execTimeout = dockerhost.DefaultExecTimeout
	}
	return &Orchestrator{
		store:       store,
		engine:      engine,
		registry:    registry,
		locker:      locker,
		execTimeout: execTimeout,
		emit:        emit,
	}
}

// Create resolves the tier, places the workspace, creates and starts its
// container, and persists the record. Nothing is persisted and no capacity is
// charged when container creation fails.
func (o *Orchestrator) Create(ctx context.Context, userId, sessionId string, cfg *WorkspaceConfig) (*Result, error) {
	t, err := tier.Parse(cfg.Tier)
	if err != nil {
		return nil, commonerrors.NewBadRequest(err.Error())
	}
	requirements, err := tier.Requirements(t)
	if err != nil {
		return nil, commonerrors.NewBadRequest(err.Error())
	}

	rows, err := o.store.SelectHosts(ctx, nil)
	if err != nil {
		return nil, err
	}
	hosts := make([]*placement.Host, 0, len(rows))
	for _, row := range rows {
		hosts = append(hosts, snapshotHost(row))
	}
	decision := o.engine.Place(hosts, &placement.Request{
		CPUCores:     requirements.CPUCores,
		MemoryMB:     requirements.MemoryMB,
		DiskGB:       requirements.DiskGB,
		GPURequired:  requirements.GPURequired,
		GPUKind:      requirements.GPUKind,
		GPUCount:     requirements.GPUCount,
		Arch:         requirements.Arch,
		Strategy:     cfg.Strategy,
		AffinityHost: cfg.AffinityHost,
		PreferRegion: cfg.PreferRegion,
	})
	if !decision.Success {
		return nil, commonerrors.NewCapacity(decision.Reason)
	}
	backend, err := o.registry.Backend(decision.HostId)
	if err != nil {
		return nil, err
	}

	workspaceId := uuid.NewString()
	env := flattenEnv(cfg.Env)
	containerId, err := backend.CreateContainer(ctx, &dockerhost.ContainerSpec{
		Name:         containerName(workspaceId),
		Image:        cfg.Image,
		Env:          env,
		WorkspaceId:  workspaceId,
		UserId:       userId,
		SessionId:    sessionId,
		Tier:         string(t),
		CPUCores:     requirements.CPUCores,
		MemoryMB:     int64(requirements.MemoryMB),
		DiskGB:       int64(requirements.DiskGB),
		GPUKind:      requirements.GPUKind,
		GPUCount:     requirements.GPUCount,
		VolumeName:   containerName(workspaceId),
		WorkspaceDir: "/workspace",
	})
	if err != nil {
		klog.ErrorS(err, "container creation failed, workspace not persisted",
			"sessionId", sessionId, "host", decision.HostId)
		return nil, err
	}

	now := time.Now().UTC()
	workspace := &client.Workspace{
		WorkspaceId:  workspaceId,
		UserId:       userId,
		SessionId:    sessionId,
		Status:       StatusCreating,
		Tier:         string(t),
		Arch:         requirements.Arch,
		CPUCores:     requirements.CPUCores,
		MemoryMB:     requirements.MemoryMB,
		DiskGB:       requirements.DiskGB,
		GPUKind:      sql.NullString{String: requirements.GPUKind, Valid: requirements.GPUKind != ""},
		GPUCount:     requirements.GPUCount,
		Image:        cfg.Image,
		HostId:       sql.NullString{String: decision.HostId, Valid: true},
		ContainerId:  sql.NullString{String: containerId, Valid: true},
		Env:          marshalColumn(cfg.Env),
		RepoUrls:     marshalColumn(cfg.RepoUrls),
		PreserveData: cfg.PreserveData,
		CreatedAt:    pq.NullTime{Time: now, Valid: true},
		LastActivity: pq.NullTime{Time: now, Valid: true},
	}
	if err = o.store.UpsertWorkspace(ctx, workspace); err != nil {
		return nil, err
	}
	if err = o.store.ChargeHostCapacity(ctx, decision.HostId,
		requirements.CPUCores, requirements.MemoryMB, requirements.DiskGB, 1); err != nil {
		return nil, err
	}

	if err = backend.StartContainer(ctx, containerId); err != nil {
		o.setStatus(ctx, workspace, StatusError, fmt.Sprintf("container start failed: %v", err))
		return nil, err
	}
	o.setStatus(ctx, workspace, StatusRunning, "")
	return &Result{
		WorkspaceId: workspaceId,
		HostId:      decision.HostId,
		Hostname:    decision.Hostname,
		ContainerId: containerId,
		Status:      StatusRunning,
	}, nil
}

// Start transitions a stopped workspace back to running.
func (o *Orchestrator) Start(ctx context.Context, workspaceId string) error {
	release, err := o.locker.Acquire(ctx, workspaceId)
	if err != nil {
		return err
	}
	defer release()

	workspace, err := o.store.GetWorkspace(ctx, workspaceId)
	if err != nil {
		return err
	}
	if workspace.Status != StatusStopped {
		return commonerrors.NewConflict(fmt.Sprintf("cannot start workspace %s in status %s", workspaceId, workspace.Status))
	}
	backend, err := o.registry.Backend(workspace.HostId.String)
	if err != nil {
		return err
	}
	if err = backend.StartContainer(ctx, workspace.ContainerId.String); err != nil {
		return err
	}
	o.setStatus(ctx, workspace, StatusRunning, "")
	return nil
}

// Stop transitions a running workspace to stopped.
func (o *Orchestrator) Stop(ctx context.Context, workspaceId string) error {
	release, err := o.locker.Acquire(ctx, workspaceId)
	if err != nil {
		return err
	}
	defer release()

	workspace, err := o.store.GetWorkspace(ctx, workspaceId)
	if err != nil {
		return err
	}
	if workspace.Status != StatusRunning {
		return commonerrors.NewConflict(fmt.Sprintf("cannot stop workspace %s in status %s", workspaceId, workspace.Status))
	}
	backend, err := o.registry.Backend(workspace.HostId.String)
	if err != nil {
		return err
	}
	if err = backend.StopContainer(ctx, workspace.ContainerId.String, dockerhost.DefaultStopTimeout); err != nil {
		return err
	}
	o.setStatus(ctx, workspace, StatusStopped, "")
	return nil
}

// Delete tears a workspace down. It is idempotent, and the record is the
// source of truth: container-remove failures are logged but never block
// record removal. Volumes survive iff preserve_data was set.
func (o *Orchestrator) Delete(ctx context.Context, workspaceId string) error {
	release, err := o.locker.Acquire(ctx, workspaceId)
	if err != nil {
		return err
	}
	defer release()

	workspace, err := o.store.GetWorkspace(ctx, workspaceId)
	if commonerrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if workspace.ContainerId.Valid && workspace.HostId.Valid {
		backend, err := o.registry.Backend(workspace.HostId.String)
		if err == nil {
			removeVolumes := !workspace.PreserveData
			if err = backend.RemoveContainer(ctx, workspace.ContainerId.String, removeVolumes); err != nil {
				klog.ErrorS(err, "container removal failed, removing record anyway",
					"workspaceId", workspaceId, "containerId", workspace.ContainerId.String)
			}
		} else {
			klog.ErrorS(err, "host backend unavailable, removing record anyway",
				"workspaceId", workspaceId, "hostId", workspace.HostId.String)
		}
	}
	if workspace.HostId.Valid {
		err = o.store.ChargeHostCapacity(ctx, workspace.HostId.String,
			-workspace.CPUCores, -workspace.MemoryMB, -workspace.DiskGB, -1)
		if err != nil {
			klog.ErrorS(err, "failed to release host capacity", "workspaceId", workspaceId)
		}
	}
	if err = o.store.DeleteWorkspace(ctx, workspaceId); err != nil {
		return err
	}
	if o.emit != nil {
		o.emit(workspace.SessionId, workspaceId, "deleted", "")
	}
	return nil
}

// Exec runs a command inside a running workspace. A workspace in any other
// state answers with a synthetic -1 exit code instead of an error.
func (o *Orchestrator) Exec(ctx context.Context, workspaceId string, cmd []string, timeout time.Duration) (*dockerhost.ExecResult, error) {
	workspace, err := o.store.GetWorkspace(ctx, workspaceId)
	if err != nil {
		return nil, err
	}
	if workspace.Status != StatusRunning {
		return &dockerhost.ExecResult{
			ExitCode: -1,
			Stderr:   fmt.Sprintf("not running (status=%s)", workspace.Status),
		}, nil
	}
	backend, err := o.registry.Backend(workspace.HostId.String)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = o.execTimeout
	}
	result, err := backend.Exec(ctx, workspace.ContainerId.String, &dockerhost.ExecRequest{
		Cmd:        cmd,
		WorkingDir: "/workspace",
		Timeout:    timeout,
	})
	if touchErr := o.store.TouchWorkspace(ctx, workspaceId); touchErr != nil {
		klog.ErrorS(touchErr, "failed to touch workspace", "workspaceId", workspaceId)
	}
	return result, err
}

// HealthCheck reports whether the workspace container answers a trivial exec.
func (o *Orchestrator) HealthCheck(ctx context.Context, workspaceId string) bool {
	result, err := o.Exec(ctx, workspaceId, []string{"echo", "healthy"}, 0)
	if err != nil {
		return false
	}
	return result.ExitCode == 0
}

// Migrate cold-migrates a workspace to the target host: stop, mark migrating,
// commit and transfer the container image, recreate on the target, rebind,
// start. Any failure past the migrating mark leaves the workspace in error;
// it is never silently resumed on the source.
func (o *Orchestrator) Migrate(ctx context.Context, workspaceId, targetHostId string) error {
	release, err := o.locker.Acquire(ctx, workspaceId)
	if err != nil {
		return err
	}
	defer release()

	workspace, err := o.store.GetWorkspace(ctx, workspaceId)
	if err != nil {
		return err
	}
	if workspace.Status != StatusRunning && workspace.Status != StatusStopped {
		return commonerrors.NewConflict(fmt.Sprintf("cannot migrate workspace %s in status %s", workspaceId, workspace.Status))
	}
	targetBackend, err := o.registry.Backend(targetHostId)
	if err != nil {
		return err
	}
	sourceHostId := workspace.HostId.String
	sourceContainerId := workspace.ContainerId.String
	sourceBackend, err := o.registry.Backend(sourceHostId)
	if err != nil {
		return err
	}

	if workspace.Status == StatusRunning {
		if err = sourceBackend.StopContainer(ctx, sourceContainerId, dockerhost.DefaultStopTimeout); err != nil {
			return err
		}
	}
	o.setStatus(ctx, workspace, StatusMigrating, "")

	// The filesystem state follows the move: commit on the source, transfer
	// the archive, create the replacement from the committed image.
	migratedImage := migrationImageRef(workspaceId)
	if err = sourceBackend.CommitContainer(ctx, sourceContainerId, migratedImage); err != nil {
		o.setStatus(ctx, workspace, StatusError, fmt.Sprintf("migration to %s failed: %v", targetHostId, err))
		return pkgerrors.Wrapf(err, "commit workspace %s on host %s", workspaceId, sourceHostId)
	}
	archive, err := sourceBackend.ExportImage(ctx, migratedImage)
	if err != nil {
		o.setStatus(ctx, workspace, StatusError, fmt.Sprintf("migration to %s failed: %v", targetHostId, err))
		return pkgerrors.Wrapf(err, "export image for workspace %s from host %s", workspaceId, sourceHostId)
	}
	err = targetBackend.ImportImage(ctx, migratedImage, archive)
	if closeErr := archive.Close(); closeErr != nil {
		klog.ErrorS(closeErr, "failed to close image archive", "workspaceId", workspaceId)
	}
	if err != nil {
		o.setStatus(ctx, workspace, StatusError, fmt.Sprintf("migration to %s failed: %v", targetHostId, err))
		return pkgerrors.Wrapf(err, "transfer image for workspace %s to host %s", workspaceId, targetHostId)
	}

	containerId, err := targetBackend.CreateContainer(ctx, &dockerhost.ContainerSpec{
		Name:         containerName(workspaceId),
		Image:        migratedImage,
		Env:          unmarshalEnvColumn(workspace.Env),
		WorkspaceId:  workspaceId,
		UserId:       workspace.UserId,
		SessionId:    workspace.SessionId,
		Tier:         workspace.Tier,
		CPUCores:     workspace.CPUCores,
		MemoryMB:     int64(workspace.MemoryMB),
		DiskGB:       int64(workspace.DiskGB),
		GPUKind:      workspace.GPUKind.String,
		GPUCount:     workspace.GPUCount,
		VolumeName:   containerName(workspaceId),
		WorkspaceDir: "/workspace",
	})
	if err != nil {
		o.setStatus(ctx, workspace, StatusError, fmt.Sprintf("migration to %s failed: %v", targetHostId, err))
		return err
	}

	workspace.HostId = sql.NullString{String: targetHostId, Valid: true}
	workspace.ContainerId = sql.NullString{String: containerId, Valid: true}
	workspace.Image = migratedImage
	if err = o.store.UpsertWorkspace(ctx, workspace); err != nil {
		o.setStatus(ctx, workspace, StatusError, fmt.Sprintf("migration to %s failed: %v", targetHostId, err))
		return err
	}
	if err = o.store.ChargeHostCapacity(ctx, sourceHostId,
		-workspace.CPUCores, -workspace.MemoryMB, -workspace.DiskGB, -1); err != nil {
		klog.ErrorS(err, "failed to release source capacity", "workspaceId", workspaceId, "hostId", sourceHostId)
	}
	if err = o.store.ChargeHostCapacity(ctx, targetHostId,
		workspace.CPUCores, workspace.MemoryMB, workspace.DiskGB, 1); err != nil {
		klog.ErrorS(err, "failed to charge target capacity", "workspaceId", workspaceId, "hostId", targetHostId)
	}

	err = backoff.FixedRetry(func() error {
		return targetBackend.StartContainer(ctx, containerId)
	}, migrateStartRetries, migrateStartRetryInterval, commonerrors.IsTransport)
	if err != nil {
		o.setStatus(ctx, workspace, StatusError, fmt.Sprintf("migration to %s failed: %v", targetHostId, err))
		return err
	}
	o.setStatus(ctx, workspace, StatusRunning, "")
	klog.InfoS("workspace migrated", "workspaceId", workspaceId, "from", sourceHostId, "to", targetHostId)
	return nil
}

func (o *Orchestrator) setStatus(ctx context.Context, workspace *client.Workspace, status, reason string) {
	workspace.Status = status
	workspace.StatusReason = sql.NullString{String: reason, Valid: reason != ""}
	workspace.LastActivity = pq.NullTime{Time: time.Now().UTC(), Valid: true}
	if err := o.store.UpsertWorkspace(ctx, workspace); err != nil {
		klog.ErrorS(err, "failed to persist workspace status",
			"workspaceId", workspace.WorkspaceId, "status", status)
	}
	if o.emit != nil {
		o.emit(workspace.SessionId, workspace.WorkspaceId, status, reason)
	}
}

func containerName(workspaceId string) string {
	return "podex-ws-" + workspaceId
}

// migrationImageRef names the committed image for one migration attempt. The
// timestamp keeps repeated migrations of the same workspace distinct.
func migrationImageRef(workspaceId string) string {
	return fmt.Sprintf("podex/migrate-%s:%d", workspaceId, time.Now().Unix())
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for key, value := range env {
		out = append(out, key+"="+value)
	}
	return out
}

func marshalColumn(v interface{}) sql.NullString {
	raw := json.MarshalSilently(v)
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func unmarshalEnvColumn(column sql.NullString) []string {
	if !column.Valid || column.String == "" {
		return nil
	}
	var env map[string]string
	if err := json.Unmarshal([]byte(column.String), &env); err != nil {
		klog.ErrorS(err, "malformed env column")
		return nil
	}
	return flattenEnv(env)
}
