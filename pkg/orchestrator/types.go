/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package orchestrator

import (
	"context"

	sqrl "github.com/Masterminds/squirrel"
	"k8s.io/klog/v2"

	"github.com/ammujacic/podex-sub004/pkg/database/client"
	"github.com/ammujacic/podex-sub004/pkg/placement"
	"github.com/ammujacic/podex-sub004/pkg/utils/json"
)

// Workspace lifecycle states. Deletion is terminal and materializes as record
// removal, not a status.
const (
	StatusCreating  = "creating"
	StatusRunning   = "running"
	StatusStopped   = "stopped"
	StatusError     = "error"
	StatusMigrating = "migrating"
)

// WorkspaceConfig is the user-facing creation request.
type WorkspaceConfig struct {
	Tier         string             `json:"tier"`
	Image        string             `json:"image"`
	Env          map[string]string  `json:"env,omitempty"`
	RepoUrls     []string           `json:"repo_urls,omitempty"`
	PreserveData bool               `json:"preserve_data"`
	Strategy     placement.Strategy `json:"strategy,omitempty"`
	AffinityHost string             `json:"affinity_host,omitempty"`
	PreferRegion string             `json:"prefer_region,omitempty"`
}

// Result reports the outcome of an orchestration operation.
type Result struct {
	WorkspaceId string `json:"workspace_id"`
	HostId      string `json:"host_id"`
	Hostname    string `json:"hostname,omitempty"`
	ContainerId string `json:"container_id,omitempty"`
	Status      string `json:"status"`
}

// Store is the persistence surface the orchestrator needs. The database
// client is the production implementation.
type Store interface {
	GetWorkspace(ctx context.Context, workspaceId string) (*client.Workspace, error)
	UpsertWorkspace(ctx context.Context, workspace *client.Workspace) error
	DeleteWorkspace(ctx context.Context, workspaceId string) error
	TouchWorkspace(ctx context.Context, workspaceId string) error
	GetHost(ctx context.Context, hostId string) (*client.Host, error)
	SelectHosts(ctx context.Context, query sqrl.Sqlizer) ([]*client.Host, error)
	ChargeHostCapacity(ctx context.Context, hostId string, cpu float64, memoryMB, diskGB, workspaces int) error
}

// snapshotHost converts a host row into the placement engine's capacity view.
func snapshotHost(row *client.Host) *placement.Host {
	host := &placement.Host{
		Id:            row.HostId,
		Hostname:      row.Hostname,
		TotalCPU:      row.TotalCPU,
		TotalMemoryMB: row.TotalMemoryMB,
		TotalDiskGB:   row.TotalDiskGB,
		UsedCPU:       row.UsedCPU,
		UsedMemoryMB:  row.UsedMemoryMB,
		UsedDiskGB:    row.UsedDiskGB,
		Workspaces:    row.Workspaces,
		Arch:          row.Arch,
		Region:        row.Region.String,
		Status:        placement.HostStatus(row.Status),
	}
	if row.LastHeartbeat.Valid {
		host.LastHeartbeat = row.LastHeartbeat.Time
	}
	if row.Accelerators.Valid && row.Accelerators.String != "" {
		if err := json.Unmarshal([]byte(row.Accelerators.String), &host.Accelerators); err != nil {
			klog.ErrorS(err, "malformed accelerators column", "hostId", row.HostId)
		}
	}
	if row.Labels.Valid && row.Labels.String != "" {
		if err := json.Unmarshal([]byte(row.Labels.String), &host.Labels); err != nil {
			klog.ErrorS(err, "malformed labels column", "hostId", row.HostId)
		}
	}
	return host
}
