/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// InitRouters wires the coordinator surface onto the engine. The device code
// and token endpoints are the only unauthenticated routes besides health.
func InitRouters(engine *gin.Engine, h *Handler) {
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := engine.Group("/api/v1")

	device := api.Group("/auth/device")
	device.POST("/code", func(c *gin.Context) { handle(c, h.deviceCode) })
	device.POST("/token", func(c *gin.Context) { handle(c, h.deviceToken) })

	authed := api.Group("", h.Authorize(), h.CSRF(), h.audit.Middleware())

	authed.POST("/auth/device/authorize", func(c *gin.Context) { handle(c, h.deviceAuthorize) })
	authed.GET("/auth/sessions", func(c *gin.Context) { handle(c, h.listDeviceSessions) })
	authed.DELETE("/auth/sessions", func(c *gin.Context) { handle(c, h.revokeAllDeviceSessions) })
	authed.DELETE("/auth/sessions/:id", func(c *gin.Context) { handle(c, h.revokeDeviceSession) })

	sessions := authed.Group("/sessions")
	sessions.GET("", func(c *gin.Context) { handle(c, h.listSessions) })
	sessions.POST("", func(c *gin.Context) { handle(c, h.createSession) })
	sessions.GET("/:id", func(c *gin.Context) { handle(c, h.getSession) })
	sessions.POST("/:id/archive", func(c *gin.Context) { handle(c, h.archiveSession) })
	sessions.POST("/:id/unarchive", func(c *gin.Context) { handle(c, h.unarchiveSession) })
	sessions.DELETE("/:id", func(c *gin.Context) { handle(c, h.deleteSession) })

	sessions.GET("/:id/tasks", func(c *gin.Context) { handle(c, h.listTasks) })
	sessions.POST("/:id/tasks", func(c *gin.Context) { handle(c, h.createTask) })
	sessions.DELETE("/:id/tasks/:taskId", func(c *gin.Context) { handle(c, h.cancelTask) })
	sessions.POST("/:id/approvals/:approvalId", func(c *gin.Context) { handle(c, h.resolveApproval) })

	git := sessions.Group("/:id/git")
	git.GET("/status", func(c *gin.Context) { handle(c, h.gitStatus) })
	git.GET("/branches", func(c *gin.Context) { handle(c, h.gitBranches) })
	git.POST("/commit", func(c *gin.Context) { handle(c, h.gitCommit) })
	git.POST("/push", func(c *gin.Context) { handle(c, h.gitPush) })
	git.POST("/pull", func(c *gin.Context) { handle(c, h.gitPull) })
	git.POST("/checkout", func(c *gin.Context) { handle(c, h.gitCheckout) })
	git.POST("/compare", func(c *gin.Context) { handle(c, h.gitCompare) })
	git.POST("/merge-preview", func(c *gin.Context) { handle(c, h.gitMergePreview) })

	pods := authed.Group("/pods")
	pods.GET("", func(c *gin.Context) { handle(c, h.listLocalPods) })
	pods.POST("", func(c *gin.Context) { handle(c, h.registerLocalPod) })

	ws := engine.Group("/ws")
	ws.GET("/local-pod", h.podSocket)
	ws.GET("/session", h.sessionSocket)
}
