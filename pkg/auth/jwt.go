/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims is the payload of every Podex token. The JTI keys the blacklist.
type Claims struct {
	SessionId string `json:"sid,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies HMAC-signed access and refresh tokens.
type TokenManager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenManager(secret string, accessTTL, refreshTTL time.Duration) (*TokenManager, error) {
	if secret == "" {
		return nil, commonerrors.NewInternalError("jwt secret is not configured")
	}
	return &TokenManager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}, nil
}

// IssueAccessToken mints a short-lived access token. Returns the signed token
// and its JTI.
func (m *TokenManager) IssueAccessToken(userId, sessionId string) (string, string, error) {
	return m.issue(userId, sessionId, TokenTypeAccess, m.accessTTL)
}

// IssueRefreshToken mints a long-lived refresh token bound to the device
// session.
func (m *TokenManager) IssueRefreshToken(userId, sessionId string) (string, string, error) {
	return m.issue(userId, sessionId, TokenTypeRefresh, m.refreshTTL)
}

func (m *TokenManager) issue(userId, sessionId, tokenType string, ttl time.Duration) (string, string, error) {
	now := time.Now()
	jti := uuid.NewString()
	claims := &Claims{
		SessionId: sessionId,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userId,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", "", commonerrors.NewInternalError(err.Error())
	}
	return signed, jti, nil
}

// Verify parses and validates the signature and expiry of a token. Revocation
// is a separate check against the blacklist.
func (m *TokenManager) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, commonerrors.NewUnauthorized("unexpected signing method")
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, commonerrors.NewUnauthorized("invalid or expired token")
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, commonerrors.NewUnauthorized("token is missing required claims")
	}
	return claims, nil
}

// AccessTTL returns the configured access-token lifetime.
func (m *TokenManager) AccessTTL() time.Duration {
	return m.accessTTL
}
