/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"k8s.io/klog/v2"

	"github.com/ammujacic/podex-sub004/pkg/auth"
	"github.com/ammujacic/podex-sub004/pkg/config"
	"github.com/ammujacic/podex-sub004/pkg/database/client"
	dbutils "github.com/ammujacic/podex-sub004/pkg/database/utils"
	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
)

type deviceTokenRequest struct {
	DeviceCode string `json:"device_code" binding:"required"`
}

type deviceAuthorizeRequest struct {
	UserCode string `json:"user_code" binding:"required"`
	Approve  *bool  `json:"approve" binding:"required"`
}

// deviceCode starts the RFC 8628 grant. Unauthenticated: the code pair is
// worthless until a signed-in user approves it.
func (h *Handler) deviceCode(c *gin.Context) (interface{}, error) {
	return h.devices.RequestCode(c.Request.Context())
}

// deviceToken is the polling endpoint. Protocol errors answer 400 with the
// RFC error code; an approved code yields the token pair exactly once and
// materializes the device session.
func (h *Handler) deviceToken(c *gin.Context) (interface{}, error) {
	request := &deviceTokenRequest{}
	if err := c.ShouldBindJSON(request); err != nil {
		return nil, commonerrors.NewBadRequest(err.Error())
	}
	pair, err := h.devices.Poll(c.Request.Context(), request.DeviceCode)
	if err != nil {
		var deviceErr *auth.DeviceError
		if errors.As(err, &deviceErr) {
			c.Status(http.StatusBadRequest)
			return gin.H{"error": deviceErr.Code}, nil
		}
		return nil, err
	}
	deviceSession := &client.DeviceSession{
		SessionId:       uuid.NewString(),
		UserId:          pair.UserId,
		DeviceType:      "cli",
		DeviceName:      dbutils.NullString(c.GetHeader("X-Podex-Device-Name")),
		RefreshTokenJti: pair.RefreshJti,
		Ip:              dbutils.NullString(c.ClientIP()),
		UserAgent:       dbutils.NullString(c.Request.UserAgent()),
		LastActiveAt:    pq.NullTime{Time: time.Now().UTC(), Valid: true},
		ExpiresAt:       pq.NullTime{Time: time.Now().UTC().Add(config.GetRefreshTokenTTL()), Valid: true},
		CreatedAt:       pq.NullTime{Time: time.Now().UTC(), Valid: true},
	}
	if err = h.store.InsertDeviceSession(c.Request.Context(), deviceSession); err != nil {
		return nil, err
	}
	klog.InfoS("device grant completed", "userId", pair.UserId, "deviceSession", deviceSession.SessionId)
	return gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    "Bearer",
		"expires_in":    pair.ExpiresIn,
		"session_id":    deviceSession.SessionId,
	}, nil
}

// deviceAuthorize records the signed-in user's decision for a user code.
func (h *Handler) deviceAuthorize(c *gin.Context) (interface{}, error) {
	request := &deviceAuthorizeRequest{}
	if err := c.ShouldBindJSON(request); err != nil {
		return nil, commonerrors.NewBadRequest(err.Error())
	}
	err := h.devices.Authorize(c.Request.Context(), request.UserCode, currentUserId(c), *request.Approve)
	if err != nil {
		return nil, err
	}
	return gin.H{"user_code": request.UserCode, "approved": *request.Approve}, nil
}

// listDeviceSessions returns the caller's live device sessions.
func (h *Handler) listDeviceSessions(c *gin.Context) (interface{}, error) {
	sessions, err := h.store.ListDeviceSessions(c.Request.Context(), currentUserId(c))
	if err != nil {
		return nil, err
	}
	views := make([]gin.H, 0, len(sessions))
	current := c.GetString(ctxDeviceSession)
	for _, session := range sessions {
		views = append(views, gin.H{
			"session_id":     session.SessionId,
			"device_type":    session.DeviceType,
			"device_name":    session.DeviceName.String,
			"ip":             session.Ip.String,
			"user_agent":     session.UserAgent.String,
			"last_active_at": session.LastActiveAt.Time,
			"created_at":     session.CreatedAt.Time,
			"current":        session.SessionId == current,
		})
	}
	return gin.H{"sessions": views}, nil
}

// revokeDeviceSession signs one device out. The refresh JTI is blacklisted so
// the revocation takes effect before the token would expire.
func (h *Handler) revokeDeviceSession(c *gin.Context) (interface{}, error) {
	sessionId := c.Param("id")
	session, err := h.store.GetDeviceSession(c.Request.Context(), sessionId)
	if err != nil {
		return nil, err
	}
	if session.UserId != currentUserId(c) {
		return nil, commonerrors.NewNotFoundWithMessage("device session " + sessionId + " not found.")
	}
	if err = h.store.RevokeDeviceSession(c.Request.Context(), sessionId); err != nil {
		return nil, err
	}
	h.blacklistJti(c, session.RefreshTokenJti, session.ExpiresAt)
	return gin.H{"revoked": sessionId}, nil
}

// revokeAllDeviceSessions signs every device out, keeping the caller's own
// session when keep_current is set.
func (h *Handler) revokeAllDeviceSessions(c *gin.Context) (interface{}, error) {
	keep := ""
	if c.Query("keep_current") == "true" {
		keep = c.GetString(ctxDeviceSession)
	}
	jtis, err := h.store.RevokeUserDeviceSessions(c.Request.Context(), currentUserId(c), keep)
	if err != nil {
		return nil, err
	}
	expiry := pq.NullTime{Time: time.Now().UTC().Add(config.GetRefreshTokenTTL()), Valid: true}
	for _, jti := range jtis {
		h.blacklistJti(c, jti, expiry)
	}
	return gin.H{"revoked": len(jtis), "kept": keep}, nil
}

func (h *Handler) blacklistJti(c *gin.Context, jti string, expiresAt pq.NullTime) {
	expiry := time.Now().UTC().Add(config.GetRefreshTokenTTL())
	if expiresAt.Valid {
		expiry = expiresAt.Time
	}
	if err := h.blacklist.Revoke(c.Request.Context(), jti, expiry); err != nil {
		klog.ErrorS(err, "failed to blacklist refresh token", "jti", jti)
	}
}
