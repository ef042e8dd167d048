/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	dbutils "github.com/ammujacic/podex-sub004/pkg/database/utils"
	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
)

const (
	TLocalPod = "local_pod"
)

var (
	getLocalPodCmd       = fmt.Sprintf(`SELECT * FROM %s WHERE pod_id = $1 LIMIT 1`, TLocalPod)
	insertLocalPodFormat = `INSERT INTO ` + TLocalPod + ` (%s) VALUES (%s)`
	listLocalPodsCmd     = fmt.Sprintf(`SELECT * FROM %s WHERE user_id = $1 ORDER BY created_at DESC`, TLocalPod)
)

// GetLocalPod returns the local pod record with the given id.
func (c *Client) GetLocalPod(ctx context.Context, podId string) (*LocalPod, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var pods []*LocalPod
	if err = db.SelectContext(ctx, &pods, getLocalPodCmd, podId); err != nil {
		klog.ErrorS(err, "failed to select local pod", "id", podId)
		return nil, err
	}
	if len(pods) == 0 || pods[0] == nil {
		return nil, commonerrors.NewNotFoundWithMessage(fmt.Sprintf("local pod %s not found.", podId))
	}
	return pods[0], nil
}

// InsertLocalPod persists a new local pod registration.
func (c *Client) InsertLocalPod(ctx context.Context, pod *LocalPod) error {
	if pod == nil {
		return commonerrors.NewBadRequest("the input is empty")
	}
	db, err := c.getDB()
	if err != nil {
		return err
	}
	_, err = db.NamedExecContext(ctx, generateCommand(*pod, insertLocalPodFormat, "id"), pod)
	if err != nil {
		klog.ErrorS(err, "failed to insert local pod db", "id", pod.PodId)
	}
	return err
}

// ListLocalPods returns the registered pods of a user.
func (c *Client) ListLocalPods(ctx context.Context, userId string) ([]*LocalPod, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var pods []*LocalPod
	err = db.SelectContext(ctx, &pods, listLocalPodsCmd, userId)
	return pods, err
}

// SetLocalPodStatus updates pod status. Transitions are driven by the hub's
// connect/disconnect events.
func (c *Client) SetLocalPodStatus(ctx context.Context, podId, status, lastError string) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	cmd := fmt.Sprintf(`UPDATE %s SET status=$1, last_error=$2 WHERE pod_id=$3`, TLocalPod)
	_, err = db.ExecContext(ctx, cmd, status, dbutils.NullString(lastError), podId)
	return err
}

// TouchLocalPodHeartbeat refreshes heartbeat bookkeeping for a pod.
func (c *Client) TouchLocalPodHeartbeat(ctx context.Context, podId string, workspaces int) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	cmd := fmt.Sprintf(`UPDATE %s SET last_heartbeat=$1, current_workspaces=$2 WHERE pod_id=$3`, TLocalPod)
	_, err = db.ExecContext(ctx, cmd, time.Now().UTC(), workspaces, podId)
	return err
}
