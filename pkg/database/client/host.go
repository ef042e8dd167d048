/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"
	"fmt"
	"time"

	sqrl "github.com/Masterminds/squirrel"
	"k8s.io/klog/v2"

	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
)

const (
	THost = "host"
)

var (
	getHostCmd       = fmt.Sprintf(`SELECT * FROM %s WHERE host_id = $1 LIMIT 1`, THost)
	insertHostFormat = `INSERT INTO ` + THost + ` (%s) VALUES (%s)`
	updateHostCmd    = fmt.Sprintf(`UPDATE %s
		SET hostname = :hostname,
		    endpoint = :endpoint,
		    total_cpu = :total_cpu,
		    total_memory_mb = :total_memory_mb,
		    total_disk_gb = :total_disk_gb,
		    used_cpu = :used_cpu,
		    used_memory_mb = :used_memory_mb,
		    used_disk_gb = :used_disk_gb,
		    workspaces = :workspaces,
		    accelerators = :accelerators,
		    region = :region,
		    status = :status,
		    labels = :labels,
		    last_heartbeat = :last_heartbeat
		WHERE host_id = :host_id`, THost)
)

// GetHost returns the host record with the given id, or a not-found error.
func (c *Client) GetHost(ctx context.Context, hostId string) (*Host, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var hosts []*Host
	if err = db.SelectContext(ctx, &hosts, getHostCmd, hostId); err != nil {
		klog.ErrorS(err, "failed to select host", "id", hostId)
		return nil, err
	}
	if len(hosts) == 0 || hosts[0] == nil {
		return nil, commonerrors.NewNotFound("host", hostId)
	}
	return hosts[0], nil
}

// UpsertHost inserts or updates a host registration record.
func (c *Client) UpsertHost(ctx context.Context, host *Host) error {
	if host == nil {
		return commonerrors.NewBadRequest("the input is empty")
	}
	db, err := c.getDB()
	if err != nil {
		return err
	}
	var hosts []*Host
	if err = db.SelectContext(ctx, &hosts, getHostCmd, host.HostId); err != nil {
		klog.ErrorS(err, "failed to select host", "id", host.HostId)
		return err
	}
	if len(hosts) > 0 && hosts[0] != nil {
		_, err = db.NamedExecContext(ctx, updateHostCmd, host)
	} else {
		_, err = db.NamedExecContext(ctx, generateCommand(*host, insertHostFormat, "id"), host)
	}
	if err != nil {
		klog.ErrorS(err, "failed to upsert host db", "id", host.HostId)
	}
	return err
}

// SelectHosts retrieves host records matching the query.
func (c *Client) SelectHosts(ctx context.Context, query sqrl.Sqlizer) ([]*Host, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	builder := sqrl.Select("*").PlaceholderFormat(sqrl.Dollar).From(THost).OrderBy("hostname", "host_id")
	if query != nil {
		builder = builder.Where(query)
	}
	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	var hosts []*Host
	err = db.SelectContext(ctx, &hosts, sql, args...)
	return hosts, err
}

// SetHostStatus updates the registration status of a host.
func (c *Client) SetHostStatus(ctx context.Context, hostId, status string) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	cmd := fmt.Sprintf(`UPDATE %s SET status=$1 WHERE host_id=$2`, THost)
	_, err = db.ExecContext(ctx, cmd, status, hostId)
	return err
}

// TouchHostHeartbeat refreshes the heartbeat timestamp and active workspace count.
func (c *Client) TouchHostHeartbeat(ctx context.Context, hostId string, workspaces int) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	cmd := fmt.Sprintf(`UPDATE %s SET last_heartbeat=$1, workspaces=$2 WHERE host_id=$3`, THost)
	_, err = db.ExecContext(ctx, cmd, time.Now().UTC(), workspaces, hostId)
	return err
}

// ChargeHostCapacity adjusts the used-capacity accounting of a host by the
// given deltas. Negative deltas release capacity.
func (c *Client) ChargeHostCapacity(ctx context.Context, hostId string, cpu float64, memoryMB, diskGB, workspaces int) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	cmd := fmt.Sprintf(`UPDATE %s
		SET used_cpu = used_cpu + $1,
		    used_memory_mb = used_memory_mb + $2,
		    used_disk_gb = used_disk_gb + $3,
		    workspaces = workspaces + $4
		WHERE host_id = $5`, THost)
	_, err = db.ExecContext(ctx, cmd, cpu, memoryMB, diskGB, workspaces, hostId)
	return err
}
