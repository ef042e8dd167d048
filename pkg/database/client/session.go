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
	TSession = "session"

	SessionActive   = "active"
	SessionArchived = "archived"
)

var (
	getSessionCmd       = fmt.Sprintf(`SELECT * FROM %s WHERE session_id = $1 LIMIT 1`, TSession)
	insertSessionFormat = `INSERT INTO ` + TSession + ` (%s) VALUES (%s)`
	updateSessionCmd    = fmt.Sprintf(`UPDATE %s
		SET title = :title,
		    status = :status,
		    agent_mode = :agent_mode,
		    model = :model,
		    workspace_id = :workspace_id,
		    repo_url = :repo_url,
		    last_activity = :last_activity,
		    archived_at = :archived_at
		WHERE session_id = :session_id`, TSession)
	deleteSessionCmd = fmt.Sprintf(`DELETE FROM %s WHERE session_id = $1`, TSession)
)

// GetSession returns the session record with the given id.
func (c *Client) GetSession(ctx context.Context, sessionId string) (*Session, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var sessions []*Session
	if err = db.SelectContext(ctx, &sessions, getSessionCmd, sessionId); err != nil {
		klog.ErrorS(err, "failed to select session", "id", sessionId)
		return nil, err
	}
	if len(sessions) == 0 || sessions[0] == nil {
		return nil, commonerrors.NewNotFoundWithMessage(fmt.Sprintf("session %s not found.", sessionId))
	}
	return sessions[0], nil
}

// UpsertSession inserts or updates the session record.
func (c *Client) UpsertSession(ctx context.Context, session *Session) error {
	if session == nil {
		return commonerrors.NewBadRequest("the input is empty")
	}
	db, err := c.getDB()
	if err != nil {
		return err
	}
	var sessions []*Session
	if err = db.SelectContext(ctx, &sessions, getSessionCmd, session.SessionId); err != nil {
		klog.ErrorS(err, "failed to select session", "id", session.SessionId)
		return err
	}
	if len(sessions) > 0 && sessions[0] != nil {
		_, err = db.NamedExecContext(ctx, updateSessionCmd, session)
		if err != nil {
			klog.ErrorS(err, "failed to update session db", "id", session.SessionId)
		}
	} else {
		_, err = db.NamedExecContext(ctx, generateCommand(*session, insertSessionFormat, "id"), session)
		if err != nil {
			klog.ErrorS(err, "failed to insert session db", "id", session.SessionId)
		}
	}
	return err
}

// SelectSessions retrieves the sessions matching the query, newest activity first.
func (c *Client) SelectSessions(ctx context.Context, query sqrl.Sqlizer, limit, offset int) ([]*Session, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	sql, args, err := sqrl.Select("*").PlaceholderFormat(sqrl.Dollar).
		From(TSession).
		Where(query).
		OrderBy("last_activity DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).ToSql()
	if err != nil {
		return nil, err
	}
	var sessions []*Session
	err = db.SelectContext(ctx, &sessions, sql, args...)
	return sessions, err
}

// DeleteSession removes the session record.
func (c *Client) DeleteSession(ctx context.Context, sessionId string) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, deleteSessionCmd, sessionId)
	if err != nil {
		klog.ErrorS(err, "failed to delete session db", "id", sessionId)
		return err
	}
	return nil
}

// TouchSession refreshes last_activity.
func (c *Client) TouchSession(ctx context.Context, sessionId string) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	cmd := fmt.Sprintf(`UPDATE %s SET last_activity=$1 WHERE session_id=$2`, TSession)
	_, err = db.ExecContext(ctx, cmd, time.Now().UTC(), sessionId)
	return err
}
