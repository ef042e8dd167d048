/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"

	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
	"github.com/ammujacic/podex-sub004/pkg/utils/json"
)

// RFC 8628 token-endpoint error codes.
const (
	ErrAuthorizationPending = "authorization_pending"
	ErrSlowDown             = "slow_down"
	ErrExpiredToken         = "expired_token"
	ErrAccessDenied         = "access_denied"
	ErrInvalidGrant         = "invalid_grant"
)

const (
	deviceKeyFormat   = "podex:device:%s"
	userCodeKeyFormat = "podex:devuser:%s"

	deviceStatusPending  = "pending"
	deviceStatusApproved = "approved"
	deviceStatusDenied   = "denied"

	// userCodeCharset avoids ambiguous characters per RFC 8628 §6.1.
	userCodeCharset = "BCDFGHJKLMNPQRSTVWXZ"
)

// DeviceError carries an RFC 8628 error code for the token endpoint.
type DeviceError struct {
	Code string
}

func (e *DeviceError) Error() string { return e.Code }

// DeviceCodeResponse is the device-authorization response.
type DeviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// TokenPair is the device-grant result, handed out exactly once per code.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	UserId       string `json:"-"`
	RefreshJti   string `json:"-"`
}

type deviceRecord struct {
	UserCode  string `json:"user_code"`
	Status    string `json:"status"`
	UserId    string `json:"user_id,omitempty"`
	CreatedAt int64  `json:"created_at"`
	LastPoll  int64  `json:"last_poll"`
}

// DeviceFlow implements the RFC 8628 device grant on a Redis scratchpad.
type DeviceFlow struct {
	rdb             redis.UniversalClient
	tokens          *TokenManager
	codeTTL         time.Duration
	pollInterval    time.Duration
	verificationURI string
}

func NewDeviceFlow(rdb redis.UniversalClient, tokens *TokenManager, codeTTL time.Duration, pollIntervalSecond int, verificationURI string) *DeviceFlow {
	if codeTTL <= 0 {
		codeTTL = 15 * time.Minute
	}
	if pollIntervalSecond <= 0 {
		pollIntervalSecond = 5
	}
	return &DeviceFlow{
		rdb:             rdb,
		tokens:          tokens,
		codeTTL:         codeTTL,
		pollInterval:    time.Duration(pollIntervalSecond) * time.Second,
		verificationURI: verificationURI,
	}
}

// RequestCode allocates a device/user code pair. Records live twice the code
// TTL so an expired code still answers expired_token instead of
// invalid_grant.
func (f *DeviceFlow) RequestCode(ctx context.Context) (*DeviceCodeResponse, error) {
	deviceCode, err := randomHex(32)
	if err != nil {
		return nil, err
	}
	userCode, err := randomUserCode()
	if err != nil {
		return nil, err
	}
	record := &deviceRecord{
		UserCode:  userCode,
		Status:    deviceStatusPending,
		CreatedAt: time.Now().Unix(),
	}
	retention := 2 * f.codeTTL
	if err = f.saveRecord(ctx, deviceCode, record, retention); err != nil {
		return nil, err
	}
	if err = f.rdb.Set(ctx, userCodeKey(userCode), deviceCode, retention).Err(); err != nil {
		return nil, commonerrors.NewInternalError(err.Error())
	}
	return &DeviceCodeResponse{
		DeviceCode:      deviceCode,
		UserCode:        userCode,
		VerificationURI: f.verificationURI,
		ExpiresIn:       int(f.codeTTL.Seconds()),
		Interval:        int(f.pollInterval.Seconds()),
	}, nil
}

// Authorize records the authenticated user's decision for a user code.
func (f *DeviceFlow) Authorize(ctx context.Context, userCode, userId string, approve bool) error {
	normalized := normalizeUserCode(userCode)
	deviceCode, err := f.rdb.Get(ctx, userCodeKey(normalized)).Result()
	if err == redis.Nil {
		return commonerrors.NewNotFoundWithMessage("unknown or expired user code")
	}
	if err != nil {
		return commonerrors.NewInternalError(err.Error())
	}
	record, err := f.loadRecord(ctx, deviceCode)
	if err != nil {
		return err
	}
	if record == nil || record.Status != deviceStatusPending {
		return commonerrors.NewConflict("the code has already been decided")
	}
	if f.expired(record) {
		return commonerrors.NewNotFoundWithMessage("unknown or expired user code")
	}
	record.Status = deviceStatusApproved
	if !approve {
		record.Status = deviceStatusDenied
	}
	record.UserId = userId
	if err = f.saveRecord(ctx, deviceCode, record, redis.KeepTTL); err != nil {
		return err
	}
	klog.InfoS("device code decided", "userCode", normalized, "approved", approve)
	return nil
}

// Poll is the token endpoint. Approved codes yield a token pair exactly once;
// the record is deleted on exchange, so replays answer invalid_grant.
func (f *DeviceFlow) Poll(ctx context.Context, deviceCode string) (*TokenPair, error) {
	record, err := f.loadRecord(ctx, deviceCode)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, &DeviceError{Code: ErrInvalidGrant}
	}
	if f.expired(record) {
		f.drop(ctx, deviceCode, record)
		return nil, &DeviceError{Code: ErrExpiredToken}
	}
	now := time.Now()
	if record.LastPoll > 0 && now.Sub(time.Unix(record.LastPoll, 0)) < f.pollInterval {
		return nil, &DeviceError{Code: ErrSlowDown}
	}
	record.LastPoll = now.Unix()

	switch record.Status {
	case deviceStatusPending:
		if err = f.saveRecord(ctx, deviceCode, record, redis.KeepTTL); err != nil {
			return nil, err
		}
		return nil, &DeviceError{Code: ErrAuthorizationPending}
	case deviceStatusDenied:
		f.drop(ctx, deviceCode, record)
		return nil, &DeviceError{Code: ErrAccessDenied}
	case deviceStatusApproved:
		sessionId := ""
		access, _, err := f.tokens.IssueAccessToken(record.UserId, sessionId)
		if err != nil {
			return nil, err
		}
		refresh, refreshJti, err := f.tokens.IssueRefreshToken(record.UserId, sessionId)
		if err != nil {
			return nil, err
		}
		f.drop(ctx, deviceCode, record)
		return &TokenPair{
			AccessToken:  access,
			RefreshToken: refresh,
			ExpiresIn:    int(f.tokens.AccessTTL().Seconds()),
			UserId:       record.UserId,
			RefreshJti:   refreshJti,
		}, nil
	default:
		return nil, &DeviceError{Code: ErrInvalidGrant}
	}
}

func (f *DeviceFlow) expired(record *deviceRecord) bool {
	return time.Since(time.Unix(record.CreatedAt, 0)) > f.codeTTL
}

func (f *DeviceFlow) loadRecord(ctx context.Context, deviceCode string) (*deviceRecord, error) {
	raw, err := f.rdb.Get(ctx, deviceKey(deviceCode)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, commonerrors.NewInternalError(err.Error())
	}
	record := &deviceRecord{}
	if err = json.Unmarshal(raw, record); err != nil {
		return nil, commonerrors.NewInternalError(err.Error())
	}
	return record, nil
}

func (f *DeviceFlow) saveRecord(ctx context.Context, deviceCode string, record *deviceRecord, ttl time.Duration) error {
	err := f.rdb.Set(ctx, deviceKey(deviceCode), json.MarshalSilently(record), ttl).Err()
	if err != nil {
		return commonerrors.NewInternalError(err.Error())
	}
	return nil
}

func (f *DeviceFlow) drop(ctx context.Context, deviceCode string, record *deviceRecord) {
	f.rdb.Del(ctx, deviceKey(deviceCode), userCodeKey(record.UserCode))
}

func deviceKey(deviceCode string) string { return fmt.Sprintf(deviceKeyFormat, deviceCode) }
func userCodeKey(userCode string) string { return fmt.Sprintf(userCodeKeyFormat, userCode) }

func normalizeUserCode(userCode string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(userCode), " ", ""))
}

func randomHex(bytes int) (string, error) {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", commonerrors.NewInternalError(err.Error())
	}
	return hex.EncodeToString(buf), nil
}

// randomUserCode returns an XXXX-XXXX code over the unambiguous charset.
func randomUserCode() (string, error) {
	var b strings.Builder
	for i := 0; i < 8; i++ {
		if i == 4 {
			b.WriteByte('-')
		}
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(userCodeCharset))))
		if err != nil {
			return "", commonerrors.NewInternalError(err.Error())
		}
		b.WriteByte(userCodeCharset[idx.Int64()])
	}
	return b.String(), nil
}
