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

	dbutils "github.com/ammujacic/podex-sub004/pkg/database/utils"
	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
)

const (
	TWorkspace = "workspace"
)

var (
	getWorkspaceCmd       = fmt.Sprintf(`SELECT * FROM %s WHERE workspace_id = $1 LIMIT 1`, TWorkspace)
	insertWorkspaceFormat = `INSERT INTO ` + TWorkspace + ` (%s) VALUES (%s)`
	updateWorkspaceCmd    = fmt.Sprintf(`UPDATE %s
		SET status = :status,
		    host_id = :host_id,
		    container_id = :container_id,
		    env = :env,
		    repo_urls = :repo_urls,
		    preserve_data = :preserve_data,
		    last_activity = :last_activity,
		    status_reason = :status_reason
		WHERE workspace_id = :workspace_id`, TWorkspace)
	deleteWorkspaceCmd = fmt.Sprintf(`DELETE FROM %s WHERE workspace_id = $1`, TWorkspace)
)

// GetWorkspace returns the workspace record with the given id, or a not-found error.
func (c *Client) GetWorkspace(ctx context.Context, workspaceId string) (*Workspace, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var workspaces []*Workspace
	if err = db.SelectContext(ctx, &workspaces, getWorkspaceCmd, workspaceId); err != nil {
		klog.ErrorS(err, "failed to select workspace", "id", workspaceId)
		return nil, err
	}
	if len(workspaces) == 0 || workspaces[0] == nil {
		return nil, commonerrors.NewNotFound("workspace", workspaceId)
	}
	return workspaces[0], nil
}

// UpsertWorkspace inserts or updates the workspace record.
func (c *Client) UpsertWorkspace(ctx context.Context, workspace *Workspace) error {
	if workspace == nil {
		return commonerrors.NewBadRequest("the input is empty")
	}
	db, err := c.getDB()
	if err != nil {
		return err
	}

	var workspaces []*Workspace
	if err = db.SelectContext(ctx, &workspaces, getWorkspaceCmd, workspace.WorkspaceId); err != nil {
		klog.ErrorS(err, "failed to select workspace", "id", workspace.WorkspaceId)
		return err
	}
	if len(workspaces) > 0 && workspaces[0] != nil {
		_, err = db.NamedExecContext(ctx, updateWorkspaceCmd, workspace)
		if err != nil {
			klog.ErrorS(err, "failed to update workspace db", "id", workspace.WorkspaceId)
		}
	} else {
		_, err = db.NamedExecContext(ctx, generateCommand(*workspace, insertWorkspaceFormat, "id"), workspace)
		if err != nil {
			klog.ErrorS(err, "failed to insert workspace db", "id", workspace.WorkspaceId)
		}
	}
	return err
}

// SelectWorkspaces retrieves multiple workspace records.
func (c *Client) SelectWorkspaces(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*Workspace, error) {
	startTime := time.Now().UTC()
	defer func() {
		if query != nil {
			strQuery := dbutils.CvtToSqlStr(query)
			klog.V(4).Infof("select workspace, query: %s, orderBy: %v, limit: %d, offset: %d, cost (%v)",
				strQuery, orderBy, limit, offset, time.Since(startTime))
		}
	}()
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}

	sql, args, err := sqrl.Select("*").PlaceholderFormat(sqrl.Dollar).
		From(TWorkspace).
		Where(query).
		OrderBy(orderBy...).
		Limit(uint64(limit)).
		Offset(uint64(offset)).ToSql()
	if err != nil {
		return nil, err
	}

	var workspaces []*Workspace
	if c.RequestTimeout > 0 {
		ctx2, cancel := context.WithTimeout(ctx, c.RequestTimeout)
		defer cancel()
		err = db.SelectContext(ctx2, &workspaces, sql, args...)
	} else {
		err = db.SelectContext(ctx, &workspaces, sql, args...)
	}
	return workspaces, err
}

// DeleteWorkspace removes the workspace record. The record is the source of
// truth: callers remove containers first but never block on that succeeding.
func (c *Client) DeleteWorkspace(ctx context.Context, workspaceId string) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, deleteWorkspaceCmd, workspaceId)
	if err != nil {
		klog.ErrorS(err, "failed to delete workspace db", "id", workspaceId)
		return err
	}
	return nil
}

// TouchWorkspace updates last_activity for the workspace.
func (c *Client) TouchWorkspace(ctx context.Context, workspaceId string) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	cmd := fmt.Sprintf(`UPDATE %s SET last_activity=$1 WHERE workspace_id=$2`, TWorkspace)
	_, err = db.ExecContext(ctx, cmd, time.Now().UTC(), workspaceId)
	return err
}
