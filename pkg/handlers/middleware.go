/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/ammujacic/podex-sub004/pkg/auth"
	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
)

const bearerPrefix = "Bearer "

// Authorize authenticates a request from either the browser cookie or an
// Authorization bearer token. The JTI is checked against the revocation
// blacklist after signature verification.
func (h *Handler) Authorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, fromCookie := extractToken(c)
		if token == "" {
			commonerrors.AbortWithApiError(c, commonerrors.NewUnauthorized("missing credentials"))
			return
		}
		claims, err := h.tokens.Verify(token)
		if err != nil {
			commonerrors.AbortWithApiError(c, err)
			return
		}
		if claims.TokenType != auth.TokenTypeAccess {
			commonerrors.AbortWithApiError(c, commonerrors.NewUnauthorized("not an access token"))
			return
		}
		revoked, err := h.blacklist.IsRevoked(c.Request.Context(), claims.ID)
		if err != nil {
			commonerrors.AbortWithApiError(c, err)
			return
		}
		if revoked {
			commonerrors.AbortWithApiError(c, commonerrors.NewTokenRevoked("the token has been revoked"))
			return
		}
		c.Set(ctxUserId, claims.Subject)
		c.Set(ctxDeviceSession, claims.SessionId)
		c.Set(ctxAccessJti, claims.ID)
		c.Set(ctxCookieAuth, fromCookie)
		c.Next()
	}
}

// CSRF enforces the header/cookie pair on mutating requests. Bearer-only
// clients cannot be cross-site driven, so they skip the check.
func (h *Handler) CSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !mutating(c.Request.Method) || !c.GetBool(ctxCookieAuth) {
			c.Next()
			return
		}
		cookie, err := c.Cookie(CsrfCookie)
		header := c.GetHeader(CsrfHeader)
		if err != nil || cookie == "" || header == "" ||
			subtle.ConstantTimeCompare([]byte(cookie), []byte(header)) != 1 {
			commonerrors.AbortWithApiError(c, commonerrors.NewForbidden("csrf token mismatch"))
			return
		}
		c.Next()
	}
}

// Logger is the request access log.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		klog.V(2).InfoS("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"durationMs", time.Since(start).Milliseconds(),
			"clientIP", c.ClientIP())
	}
}

// extractToken prefers the Authorization header over the cookie; the second
// return value reports whether the cookie supplied the credential.
func extractToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, bearerPrefix) {
		return strings.TrimPrefix(header, bearerPrefix), false
	}
	if cookie, err := c.Cookie(TokenCookie); err == nil && cookie != "" {
		return cookie, true
	}
	return "", false
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
