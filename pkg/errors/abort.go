/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package errors

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"
)

// AbortWithApiError converts err into the unified error response and aborts
// the request. Unclassified errors are masked as internal errors so callers
// never see raw internals.
func AbortWithApiError(c *gin.Context, err error) {
	rsp := convertToErrResponse(err)
	if rsp.HttpCode >= http.StatusInternalServerError {
		klog.ErrorS(err, "request failed", "method", c.Request.Method, "path", c.Request.URL.Path)
	}
	c.AbortWithStatusJSON(rsp.HttpCode, rsp)
}

func convertToErrResponse(err error) ApiError {
	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		return *apiErr
	}
	return *NewInternalError(err.Error())
}
