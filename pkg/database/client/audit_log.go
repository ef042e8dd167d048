/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"

	"k8s.io/klog/v2"

	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
)

const (
	TAuditLog = "audit_log"
)

var (
	insertAuditLogFormat = `INSERT INTO ` + TAuditLog + ` (%s) VALUES (%s)`
)

// InsertAuditLog persists one audit entry.
func (c *Client) InsertAuditLog(ctx context.Context, log *AuditLog) error {
	if log == nil {
		return commonerrors.NewBadRequest("the input is empty")
	}
	db, err := c.getDB()
	if err != nil {
		return err
	}
	_, err = db.NamedExecContext(ctx, generateCommand(*log, insertAuditLogFormat, "id"), log)
	if err != nil {
		klog.ErrorS(err, "failed to insert audit log", "userId", log.UserId, "tool", log.Tool.String)
	}
	return err
}
