/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const PodexPrefix = "Podex."

/*
   5-digit Error Code Convention: [xx][yyy]
   [xx] Business ID (00–99), used to distinguish errors from different business interfaces.
   00: General errors
   01: Workspace-related errors
   02: Task-related errors
   03: Host-related errors
   04: Auth-related errors
   [yyy] Error code range (000–999)
*/

// public: 00xxx
const (
	InternalError = PodexPrefix + "00001"
	BadRequest    = PodexPrefix + "00002"
	Forbidden     = PodexPrefix + "00003"
	AlreadyExist  = PodexPrefix + "00004"
	NotFound      = PodexPrefix + "00005"
	Unauthorized  = PodexPrefix + "00006"
	Conflict      = PodexPrefix + "00007"
	Capacity      = PodexPrefix + "00008"
	Transport     = PodexPrefix + "00009"
	Timeout       = PodexPrefix + "00010"
)

// workspace: 01xxx
const (
	WorkspaceNotFound   = PodexPrefix + "01001"
	WorkspaceNotRunning = PodexPrefix + "01002"
)

// task: 02xxx
const (
	TaskNotFound = PodexPrefix + "02001"
)

// host: 03xxx
const (
	HostNotFound = PodexPrefix + "03001"
	PodOffline   = PodexPrefix + "03002"
)

// auth: 04xxx
const (
	TokenRevoked = PodexPrefix + "04001"
)

// ApiError is the unified coordinator error carrying an HTTP status code,
// a Podex reason code and a human-readable message.
type ApiError struct {
	HttpCode int    `json:"-"`
	Reason   string `json:"errorCode"`
	Message  string `json:"errorMessage"`
}

// Error returns the error message string.
func (e *ApiError) Error() string {
	return e.Message
}

// ReasonForError returns the Podex reason code of err, or "" if err is not an ApiError.
func ReasonForError(err error) string {
	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		return apiErr.Reason
	}
	return ""
}

// CodeForError returns the HTTP status code of err, defaulting to 500 for unclassified errors.
func CodeForError(err error) int {
	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		return apiErr.HttpCode
	}
	return http.StatusInternalServerError
}

// IsPodex returns true if the specified error carries a Podex reason code.
func IsPodex(err error) bool {
	if err == nil {
		return false
	}
	return strings.HasPrefix(ReasonForError(err), PodexPrefix)
}

func IsBadRequest(err error) bool {
	return ReasonForError(err) == BadRequest
}

func IsInternal(err error) bool {
	return ReasonForError(err) == InternalError
}

func IsAlreadyExist(err error) bool {
	return ReasonForError(err) == AlreadyExist
}

func IsConflict(err error) bool {
	return ReasonForError(err) == Conflict
}

func IsUnauthorized(err error) bool {
	reason := ReasonForError(err)
	return reason == Unauthorized || reason == TokenRevoked
}

func IsCapacity(err error) bool {
	return ReasonForError(err) == Capacity
}

func IsTransport(err error) bool {
	reason := ReasonForError(err)
	return reason == Transport || reason == PodOffline
}

func IsTimeout(err error) bool {
	return ReasonForError(err) == Timeout
}

// IsRetryable reports whether err should be retried at the task-queue boundary.
// Only transport and timeout failures are retryable; everything else is local and final.
func IsRetryable(err error) bool {
	return IsTransport(err) || IsTimeout(err)
}

func IsNotFound(err error) bool {
	switch ReasonForError(err) {
	case NotFound, WorkspaceNotFound, TaskNotFound, HostNotFound:
		return true
	}
	return false
}

// IgnoreNotFound returns nil when err is a not-found error, err otherwise.
func IgnoreNotFound(err error) error {
	if err == nil || IsNotFound(err) {
		return nil
	}
	return err
}

func NewBadRequest(message string) *ApiError {
	return &ApiError{
		HttpCode: http.StatusBadRequest,
		Reason:   BadRequest,
		Message:  fmt.Sprintf("Bad request. %s", message),
	}
}

func NewInternalError(message string) *ApiError {
	return &ApiError{
		HttpCode: http.StatusInternalServerError,
		Reason:   InternalError,
		Message:  fmt.Sprintf("Internal error. %s", message),
	}
}

func NewAlreadyExist(message string) *ApiError {
	return &ApiError{
		HttpCode: http.StatusConflict,
		Reason:   AlreadyExist,
		Message:  message,
	}
}

func NewForbidden(message string) *ApiError {
	return &ApiError{
		HttpCode: http.StatusForbidden,
		Reason:   Forbidden,
		Message:  message,
	}
}

func NewUnauthorized(message string) *ApiError {
	return &ApiError{
		HttpCode: http.StatusUnauthorized,
		Reason:   Unauthorized,
		Message:  message,
	}
}

// NewConflict reports a state-machine violation, surfaced as 400 with a specific message.
func NewConflict(message string) *ApiError {
	return &ApiError{
		HttpCode: http.StatusBadRequest,
		Reason:   Conflict,
		Message:  message,
	}
}

// NewCapacity reports that no host satisfies a placement request. Callers may
// retry after backoff; the orchestrator never retries on its own.
func NewCapacity(message string) *ApiError {
	return &ApiError{
		HttpCode: http.StatusServiceUnavailable,
		Reason:   Capacity,
		Message:  message,
	}
}

func NewTransport(message string) *ApiError {
	return &ApiError{
		HttpCode: http.StatusBadGateway,
		Reason:   Transport,
		Message:  message,
	}
}

func NewTimeout(message string) *ApiError {
	return &ApiError{
		HttpCode: http.StatusGatewayTimeout,
		Reason:   Timeout,
		Message:  message,
	}
}

func NewPodOffline(podId string) *ApiError {
	return &ApiError{
		HttpCode: http.StatusBadGateway,
		Reason:   PodOffline,
		Message:  fmt.Sprintf("the pod(%s) is not connected", podId),
	}
}

func NewTokenRevoked(message string) *ApiError {
	return &ApiError{
		HttpCode: http.StatusUnauthorized,
		Reason:   TokenRevoked,
		Message:  message,
	}
}

func notFoundReason(kind string) string {
	switch kind {
	case "workspace":
		return WorkspaceNotFound
	case "task":
		return TaskNotFound
	case "host":
		return HostNotFound
	default:
		return NotFound
	}
}

func NewNotFound(kind, name string) *ApiError {
	return &ApiError{
		HttpCode: http.StatusNotFound,
		Reason:   notFoundReason(kind),
		Message:  fmt.Sprintf("%s %s not found.", kind, name),
	}
}

func NewNotFoundWithMessage(message string) *ApiError {
	return &ApiError{
		HttpCode: http.StatusNotFound,
		Reason:   NotFound,
		Message:  message,
	}
}

func NewWorkspaceNotRunning(workspaceId, status string) *ApiError {
	return &ApiError{
		HttpCode: http.StatusBadRequest,
		Reason:   WorkspaceNotRunning,
		Message:  fmt.Sprintf("workspace %s is not running (status=%s)", workspaceId, status),
	}
}
