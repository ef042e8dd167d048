/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"database/sql"
	"fmt"
	"reflect"
	"strings"

	"github.com/lib/pq"
)

const (
	DESC = "desc"
	ASC  = "asc"

	CreatedTime = "created_at"
)

// Workspace is the persisted workspace record. Queue and container state live
// elsewhere; this row is the source of truth for the lifecycle state machine.
type Workspace struct {
	Id           int64          `db:"id"`
	WorkspaceId  string         `db:"workspace_id"`
	UserId       string         `db:"user_id"`
	SessionId    string         `db:"session_id"`
	Status       string         `db:"status"`
	Tier         string         `db:"tier"`
	Arch         string         `db:"arch"`
	CPUCores     float64        `db:"cpu_cores"`
	MemoryMB     int            `db:"memory_mb"`
	DiskGB       int            `db:"disk_gb"`
	GPUKind      sql.NullString `db:"gpu_kind"`
	GPUCount     int            `db:"gpu_count"`
	Image        string         `db:"image"`
	HostId       sql.NullString `db:"host_id"`
	ContainerId  sql.NullString `db:"container_id"`
	Env          sql.NullString `db:"env"`
	RepoUrls     sql.NullString `db:"repo_urls"`
	PreserveData bool           `db:"preserve_data"`
	CreatedAt    pq.NullTime    `db:"created_at"`
	LastActivity pq.NullTime    `db:"last_activity"`
	StatusReason sql.NullString `db:"status_reason"`
}

// Host is the persisted registration record of a compute host, refreshed from
// heartbeats.
type Host struct {
	Id            int64          `db:"id"`
	HostId        string         `db:"host_id"`
	Hostname      string         `db:"hostname"`
	Endpoint      sql.NullString `db:"endpoint"`
	IsPod         bool           `db:"is_pod"`
	TotalCPU      float64        `db:"total_cpu"`
	TotalMemoryMB int            `db:"total_memory_mb"`
	TotalDiskGB   int            `db:"total_disk_gb"`
	UsedCPU       float64        `db:"used_cpu"`
	UsedMemoryMB  int            `db:"used_memory_mb"`
	UsedDiskGB    int            `db:"used_disk_gb"`
	Workspaces    int            `db:"workspaces"`
	Accelerators  sql.NullString `db:"accelerators"`
	Arch          string         `db:"arch"`
	Region        sql.NullString `db:"region"`
	Status        string         `db:"status"`
	Labels        sql.NullString `db:"labels"`
	LastHeartbeat pq.NullTime    `db:"last_heartbeat"`
	CreatedAt     pq.NullTime    `db:"created_at"`
}

// Session is a user's interactive workspace context. It owns zero or one
// workspace and any number of agents.
type Session struct {
	Id           int64          `db:"id"`
	SessionId    string         `db:"session_id"`
	UserId       string         `db:"user_id"`
	Title        string         `db:"title"`
	Status       string         `db:"status"`
	AgentMode    string         `db:"agent_mode"`
	Model        sql.NullString `db:"model"`
	WorkspaceId  sql.NullString `db:"workspace_id"`
	RepoUrl      sql.NullString `db:"repo_url"`
	CreatedAt    pq.NullTime    `db:"created_at"`
	LastActivity pq.NullTime    `db:"last_activity"`
	ArchivedAt   pq.NullTime    `db:"archived_at"`
}

// DeviceSession is a materialized refresh-token holder.
type DeviceSession struct {
	Id              int64          `db:"id"`
	SessionId       string         `db:"session_id"`
	UserId          string         `db:"user_id"`
	DeviceType      string         `db:"device_type"`
	DeviceName      sql.NullString `db:"device_name"`
	RefreshTokenJti string         `db:"refresh_token_jti"`
	Ip              sql.NullString `db:"ip"`
	UserAgent       sql.NullString `db:"user_agent"`
	Os              sql.NullString `db:"os"`
	Browser         sql.NullString `db:"browser"`
	GeoCity         sql.NullString `db:"geo_city"`
	GeoCountry      sql.NullString `db:"geo_country"`
	LastActiveAt    pq.NullTime    `db:"last_active_at"`
	ExpiresAt       pq.NullTime    `db:"expires_at"`
	IsRevoked       bool           `db:"is_revoked"`
	RevokedAt       pq.NullTime    `db:"revoked_at"`
	CreatedAt       pq.NullTime    `db:"created_at"`
}

// LocalPod is a self-hosted agent host authenticated by a shared-secret token.
// Only the bcrypt hash of the token is stored.
type LocalPod struct {
	Id                int64          `db:"id"`
	PodId             string         `db:"pod_id"`
	UserId            string         `db:"user_id"`
	TokenHash         string         `db:"token_hash"`
	Name              string         `db:"name"`
	Status            string         `db:"status"`
	Os                sql.NullString `db:"os"`
	Arch              sql.NullString `db:"arch"`
	MemoryMB          int            `db:"memory_mb"`
	CPUCores          int            `db:"cpu_cores"`
	CurrentWorkspaces int            `db:"current_workspaces"`
	LastHeartbeat     pq.NullTime    `db:"last_heartbeat"`
	LastError         sql.NullString `db:"last_error"`
	CreatedAt         pq.NullTime    `db:"created_at"`
}

// AuditLog records one tool invocation or mutating HTTP request.
type AuditLog struct {
	Id         int64          `db:"id"`
	UserId     string         `db:"user_id"`
	SessionId  sql.NullString `db:"session_id"`
	AgentId    sql.NullString `db:"agent_id"`
	Tool       sql.NullString `db:"tool"`
	ArgsDigest sql.NullString `db:"args_digest"`
	ApprovalId sql.NullString `db:"approval_id"`
	Outcome    sql.NullString `db:"outcome"`
	DurationMs sql.NullInt64  `db:"duration_ms"`
	ClientIP   sql.NullString `db:"client_ip"`
	HttpMethod sql.NullString `db:"http_method"`
	Path       sql.NullString `db:"path"`
	CreateTime pq.NullTime    `db:"create_time"`
}

// generateCommand generates SQL command string using reflection
// Iterates through struct fields and builds column and value lists
// Skips fields with specified ignoreTag
// Returns formatted SQL command with columns and values
func generateCommand(obj interface{}, format, ignoreTag string) string {
	t := reflect.TypeOf(obj)
	columns := make([]string, 0, t.NumField())
	values := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("db")
		if tag == ignoreTag {
			continue
		}
		columns = append(columns, tag)
		values = append(values, fmt.Sprintf(":%s", tag))
	}
	cmd := fmt.Sprintf(format, strings.Join(columns, ", "), strings.Join(values, ", "))
	return cmd
}
