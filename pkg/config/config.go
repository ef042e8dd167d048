/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SetValue sets a configuration value for the specified key.
func SetValue(key string, value interface{}) {
	viper.Set(key, value)
}

// LoadConfig loads configuration from the specified file path.
func LoadConfig(path string) error {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")
	return viper.ReadInConfig()
}

func getString(key, defaultValue string) string {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetString(key)
}

func getBool(key string, defaultValue bool) bool {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetBool(key)
}

func getInt(key string, defaultValue int) int {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetInt(key)
}

func getStrings(key string) []string {
	val := viper.GetString(key)
	return removeBlank(strings.Split(val, ","))
}

func removeBlank(slice []string) []string {
	var result []string
	for _, val := range slice {
		if trim := strings.TrimSpace(val); trim != "" {
			result = append(result, trim)
		}
	}
	return result
}

// GetServerPort returns the coordinator HTTP port.
func GetServerPort() int {
	return getInt(serverPort, 0)
}

// IsDBEnable returns whether the relational store is enabled.
func IsDBEnable() bool {
	return getBool(dbEnable, true)
}

func GetDBName() string     { return getString(dbName, "") }
func GetDBUser() string     { return getString(dbUser, "") }
func GetDBPassword() string { return getString(dbPassword, "") }
func GetDBHost() string     { return getString(dbHost, "") }
func GetDBPort() int        { return getInt(dbPort, 5432) }
func GetDBSslMode() string  { return getString(dbSslMode, "disable") }

func GetDBMaxOpenConns() int          { return getInt(dbMaxOpenConns, 0) }
func GetDBMaxIdleConns() int          { return getInt(dbMaxIdleConns, 0) }
func GetDBMaxLifetimeSecond() int     { return getInt(dbMaxLifetimeSecond, 0) }
func GetDBMaxIdleTimeSecond() int     { return getInt(dbMaxIdleTimeSecond, 0) }
func GetDBConnectTimeoutSecond() int  { return getInt(dbConnectTimeoutSecond, 10) }
func GetDBRequestTimeoutSecond() int  { return getInt(dbRequestTimeoutSecond, 30) }

// GetRedisAddr returns the Redis endpoint.
func GetRedisAddr() string {
	return getString(redisAddr, "127.0.0.1:6379")
}

func GetRedisPassword() string { return getString(redisPassword, "") }
func GetRedisDB() int          { return getInt(redisDB, 0) }

// GetJWTSecret returns the key used to sign access and refresh tokens.
func GetJWTSecret() string {
	return getString(jwtSecret, "")
}

func GetAccessTokenTTL() time.Duration {
	return time.Duration(getInt(accessTokenTTLMinute, 30)) * time.Minute
}

func GetRefreshTokenTTL() time.Duration {
	return time.Duration(getInt(refreshTokenTTLHour, 24*14)) * time.Hour
}

func GetDeviceCodeTTL() time.Duration {
	return time.Duration(getInt(deviceCodeTTLMinute, 15)) * time.Minute
}

func GetDevicePollInterval() int {
	return getInt(devicePollInterval, 5)
}

// GetDeviceVerificationURI returns the page a user visits to approve a
// device-code grant.
func GetDeviceVerificationURI() string {
	return getString(deviceVerifyURI, "https://podex.dev/device")
}

// GetPlacementStrategy returns the fleet-wide default placement strategy.
func GetPlacementStrategy() string {
	return getString(placementStrategy, "bin-pack")
}

func GetPreferredRegion() string {
	return getString(placementRegion, "")
}

func GetQueueVisibilityTimeout() time.Duration {
	return time.Duration(getInt(queueVisibilityTimeoutSecond, 300)) * time.Second
}

func GetQueueSweepInterval() time.Duration {
	return time.Duration(getInt(queueSweepIntervalSecond, 30)) * time.Second
}

// GetOrphanGCSchedule returns the cron expression driving orphaned task-key cleanup.
func GetOrphanGCSchedule() string {
	return getString(queueOrphanGCSchedule, "@every 10m")
}

func GetExecTimeout() time.Duration {
	return time.Duration(getInt(execDefaultTimeoutSecond, 30)) * time.Second
}

func GetHookTimeout() time.Duration {
	return time.Duration(getInt(hookTimeoutSecond, 30)) * time.Second
}

func GetApprovalTTL() time.Duration {
	return time.Duration(getInt(approvalTTLMinute, 10)) * time.Minute
}

// GetToolCategory returns the tool names bound to the named category.
// Categories come from config, not code, so operators can register new tools
// without a rebuild.
func GetToolCategory(category string) []string {
	switch category {
	case "read":
		return getStrings(toolCategoryRead)
	case "write":
		return getStrings(toolCategoryWrite)
	case "command":
		return getStrings(toolCategoryCommand)
	case "deploy":
		return getStrings(toolCategoryDeploy)
	}
	return nil
}

func GetPodRPCTimeout() time.Duration {
	return time.Duration(getInt(podRPCTimeoutSecond, 30)) * time.Second
}

func GetHeartbeatInterval() time.Duration {
	return time.Duration(getInt(heartbeatIntervalSecond, 30)) * time.Second
}

func GetDisconnectGrace() time.Duration {
	return time.Duration(getInt(disconnectGraceSecond, 5)) * time.Second
}

func GetLLMProvider() string     { return getString(llmProvider, "anthropic") }
func GetAnthropicAPIKey() string { return getString(llmAnthropicKey, "") }
func GetOpenAIAPIKey() string    { return getString(llmOpenAIKey, "") }
func GetLLMModel() string        { return getString(llmModel, "") }
