/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package config

// configuration keys resolved through viper
const (
	serverPort = "server.port"

	dbName                  = "database.name"
	dbUser                  = "database.user"
	dbPassword              = "database.password"
	dbHost                  = "database.host"
	dbPort                  = "database.port"
	dbSslMode               = "database.sslMode"
	dbMaxOpenConns          = "database.maxOpenConns"
	dbMaxIdleConns          = "database.maxIdleConns"
	dbMaxLifetimeSecond     = "database.maxLifetimeSecond"
	dbMaxIdleTimeSecond     = "database.maxIdleTimeSecond"
	dbConnectTimeoutSecond  = "database.connectTimeoutSecond"
	dbRequestTimeoutSecond  = "database.requestTimeoutSecond"
	dbEnable                = "database.enable"

	redisAddr     = "redis.addr"
	redisPassword = "redis.password"
	redisDB       = "redis.db"

	jwtSecret            = "auth.jwtSecret"
	accessTokenTTLMinute = "auth.accessTokenTTLMinute"
	refreshTokenTTLHour  = "auth.refreshTokenTTLHour"
	deviceCodeTTLMinute  = "auth.deviceCodeTTLMinute"
	devicePollInterval   = "auth.devicePollIntervalSecond"
	deviceVerifyURI      = "auth.deviceVerificationUri"

	placementStrategy = "placement.strategy"
	placementRegion   = "placement.preferredRegion"

	queueVisibilityTimeoutSecond = "queue.visibilityTimeoutSecond"
	queueSweepIntervalSecond     = "queue.sweepIntervalSecond"
	queueOrphanGCSchedule        = "queue.orphanGCSchedule"

	execDefaultTimeoutSecond = "executor.execTimeoutSecond"
	hookTimeoutSecond        = "executor.hookTimeoutSecond"
	approvalTTLMinute        = "executor.approvalTTLMinute"
	toolCategoryRead         = "executor.tools.read"
	toolCategoryWrite        = "executor.tools.write"
	toolCategoryCommand      = "executor.tools.command"
	toolCategoryDeploy       = "executor.tools.deploy"

	podRPCTimeoutSecond      = "hub.podRpcTimeoutSecond"
	heartbeatIntervalSecond  = "hub.heartbeatIntervalSecond"
	disconnectGraceSecond    = "hub.disconnectGraceSecond"

	llmProvider     = "llm.provider"
	llmAnthropicKey = "llm.anthropicApiKey"
	llmOpenAIKey    = "llm.openaiApiKey"
	llmModel        = "llm.model"
)
