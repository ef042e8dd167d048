/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package auth

import (
	"golang.org/x/crypto/bcrypt"

	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
)

const podTokenPrefix = "pdx_"

// GeneratePodToken mints a pod-auth token and its bcrypt hash. Only the hash
// is persisted; the plaintext is shown to the operator once.
func GeneratePodToken() (token, hash string, err error) {
	secret, err := randomHex(24)
	if err != nil {
		return "", "", err
	}
	token = podTokenPrefix + secret
	digest, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", "", commonerrors.NewInternalError(err.Error())
	}
	return token, string(digest), nil
}

// VerifyPodToken checks a presented token against the stored hash.
func VerifyPodToken(token, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
		return commonerrors.NewUnauthorized("invalid pod token")
	}
	return nil
}
