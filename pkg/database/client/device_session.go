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

	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
)

const (
	TDeviceSession = "device_session"
)

var (
	getDeviceSessionCmd       = fmt.Sprintf(`SELECT * FROM %s WHERE session_id = $1 LIMIT 1`, TDeviceSession)
	insertDeviceSessionFormat = `INSERT INTO ` + TDeviceSession + ` (%s) VALUES (%s)`
	listDeviceSessionsCmd     = fmt.Sprintf(`SELECT * FROM %s WHERE user_id = $1 AND is_revoked = false ORDER BY last_active_at DESC`, TDeviceSession)
)

// GetDeviceSession returns the device session with the given id.
func (c *Client) GetDeviceSession(ctx context.Context, sessionId string) (*DeviceSession, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var sessions []*DeviceSession
	if err = db.SelectContext(ctx, &sessions, getDeviceSessionCmd, sessionId); err != nil {
		klog.ErrorS(err, "failed to select device session", "id", sessionId)
		return nil, err
	}
	if len(sessions) == 0 || sessions[0] == nil {
		return nil, commonerrors.NewNotFoundWithMessage(fmt.Sprintf("device session %s not found.", sessionId))
	}
	return sessions[0], nil
}

// InsertDeviceSession persists a new device session row.
func (c *Client) InsertDeviceSession(ctx context.Context, session *DeviceSession) error {
	if session == nil {
		return commonerrors.NewBadRequest("the input is empty")
	}
	db, err := c.getDB()
	if err != nil {
		return err
	}
	_, err = db.NamedExecContext(ctx, generateCommand(*session, insertDeviceSessionFormat, "id"), session)
	if err != nil {
		klog.ErrorS(err, "failed to insert device session db", "id", session.SessionId)
	}
	return err
}

// ListDeviceSessions returns the live (non-revoked) sessions of a user.
func (c *Client) ListDeviceSessions(ctx context.Context, userId string) ([]*DeviceSession, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var sessions []*DeviceSession
	err = db.SelectContext(ctx, &sessions, listDeviceSessionsCmd, userId)
	return sessions, err
}

// RevokeDeviceSession marks a session revoked. Revocation cascades by
// blacklisting the refresh-token JTI; the caller owns that step.
func (c *Client) RevokeDeviceSession(ctx context.Context, sessionId string) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	cmd := fmt.Sprintf(`UPDATE %s SET is_revoked=true, revoked_at=$1 WHERE session_id=$2`, TDeviceSession)
	_, err = db.ExecContext(ctx, cmd, time.Now().UTC(), sessionId)
	return err
}

// RevokeUserDeviceSessions revokes every live session of a user, optionally
// keeping one (the caller's current session). Returns the JTIs that must be
// blacklisted.
func (c *Client) RevokeUserDeviceSessions(ctx context.Context, userId, keepSessionId string) ([]string, error) {
	sessions, err := c.ListDeviceSessions(ctx, userId)
	if err != nil {
		return nil, err
	}
	var jtis []string
	for _, session := range sessions {
		if session.SessionId == keepSessionId {
			continue
		}
		if err = c.RevokeDeviceSession(ctx, session.SessionId); err != nil {
			return jtis, err
		}
		jtis = append(jtis, session.RefreshTokenJti)
	}
	return jtis, nil
}

// TouchDeviceSession refreshes last_active_at.
func (c *Client) TouchDeviceSession(ctx context.Context, sessionId string) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	cmd := fmt.Sprintf(`UPDATE %s SET last_active_at=$1 WHERE session_id=$2`, TDeviceSession)
	_, err = db.ExecContext(ctx, cmd, time.Now().UTC(), sessionId)
	return err
}
