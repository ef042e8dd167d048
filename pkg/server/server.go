/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"

	"github.com/ammujacic/podex-sub004/pkg/agent"
	"github.com/ammujacic/podex-sub004/pkg/auth"
	"github.com/ammujacic/podex-sub004/pkg/config"
	"github.com/ammujacic/podex-sub004/pkg/database/client"
	"github.com/ammujacic/podex-sub004/pkg/dockerhost"
	"github.com/ammujacic/podex-sub004/pkg/executor"
	"github.com/ammujacic/podex-sub004/pkg/handlers"
	"github.com/ammujacic/podex-sub004/pkg/hub"
	"github.com/ammujacic/podex-sub004/pkg/llm"
	"github.com/ammujacic/podex-sub004/pkg/logging"
	"github.com/ammujacic/podex-sub004/pkg/options"
	"github.com/ammujacic/podex-sub004/pkg/orchestrator"
	"github.com/ammujacic/podex-sub004/pkg/placement"
	"github.com/ammujacic/podex-sub004/pkg/redisclient"
	"github.com/ammujacic/podex-sub004/pkg/taskqueue"
	"github.com/ammujacic/podex-sub004/pkg/utils/backoff"
)

const (
	workspaceLockTTL = 30 * time.Second

	heartbeatPersistRetries  = 3
	heartbeatPersistInterval = time.Second
)

// Server is the coordinator process: it owns the component graph and the
// HTTP/WebSocket listener.
type Server struct {
	opts *options.Options

	store      *client.Client
	rdb        *redis.Client
	hub        *hub.Hub
	registry   *dockerhost.Registry
	workspaces *orchestrator.Orchestrator
	queue      *taskqueue.Queue
	sweeper    *taskqueue.Sweeper
	agents     *agent.Manager
	audit      *handlers.AuditWriter
	handler    *handlers.Handler

	httpServer *http.Server
	ctx        context.Context
	cancel     context.CancelFunc
	isInited   bool
}

// NewServer creates and initializes the coordinator.
func NewServer() (*Server, error) {
	s := &Server{opts: &options.Options{}}
	if err := s.init(); err != nil {
		klog.ErrorS(err, "failed to init the coordinator")
		return nil, err
	}
	return s, nil
}

func (s *Server) init() error {
	if s.isInited {
		return nil
	}
	gin.SetMode(gin.ReleaseMode)
	if err := s.opts.InitFlags(); err != nil {
		return err
	}
	if err := s.initLogs(); err != nil {
		return err
	}
	if err := s.initConfig(); err != nil {
		return err
	}
	s.ctx, s.cancel = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	if err := s.initComponents(); err != nil {
		return err
	}
	s.isInited = true
	return nil
}

// initLogs initializes klog with the configured log file path and size.
func (s *Server) initLogs() error {
	return logging.Init(s.opts.LogfilePath, s.opts.LogFileSize)
}

// initConfig loads the coordinator configuration from the -config path.
func (s *Server) initConfig() error {
	fullPath, err := filepath.Abs(s.opts.Config)
	if err != nil {
		return err
	}
	if err = config.LoadConfig(fullPath); err != nil {
		return fmt.Errorf("config path: %s, err: %v", fullPath, err)
	}
	return nil
}

// initComponents builds the component graph bottom-up: stores first, then the
// hub and orchestration layers, the executor pipeline, and finally the HTTP
// handler that fronts them all.
func (s *Server) initComponents() error {
	s.store = client.NewClient()
	s.rdb = redisclient.NewClient()

	tokens, err := auth.NewTokenManager(config.GetJWTSecret(),
		config.GetAccessTokenTTL(), config.GetRefreshTokenTTL())
	if err != nil {
		return err
	}
	blacklist := auth.NewBlacklist(s.rdb)
	devices := auth.NewDeviceFlow(s.rdb, tokens, config.GetDeviceCodeTTL(),
		config.GetDevicePollInterval(), config.GetDeviceVerificationURI())

	s.hub = hub.NewHub(
		hub.WithRpcTimeout(config.GetPodRPCTimeout()),
		hub.WithHeartbeatInterval(config.GetHeartbeatInterval()),
		hub.WithDisconnectGrace(config.GetDisconnectGrace()),
		hub.WithHeartbeatHandler(s.onPodHeartbeat),
	)

	s.registry = dockerhost.NewRegistry()
	if err = s.registerStaticHosts(); err != nil {
		return err
	}

	engine := placement.NewEngine(placement.Strategy(config.GetPlacementStrategy()),
		config.GetHeartbeatInterval())
	locker := orchestrator.NewWorkspaceLocker(s.rdb, workspaceLockTTL)
	s.workspaces = orchestrator.New(s.store, engine, s.registry, locker,
		config.GetExecTimeout(), s.emitWorkspaceStatus)

	s.queue = taskqueue.NewQueue(s.rdb, config.GetQueueVisibilityTimeout())
	s.sweeper, err = taskqueue.NewSweeper(s.queue, config.GetQueueSweepInterval(),
		config.GetOrphanGCSchedule())
	if err != nil {
		return err
	}

	s.audit = handlers.NewAuditWriter(s.store, 0)

	catalog := executor.NewCatalog()
	exec := executor.NewExecutor(catalog,
		executor.NewApprovals(config.GetApprovalTTL()),
		executor.NewHookRunner(config.GetHookTimeout()),
		newWorkspaceRunner(s.workspaces, config.GetExecTimeout()),
		executor.NewRedisAllowlist(s.rdb),
		s.audit,
		s.notifyApproval)

	provider, err := newProvider()
	if err != nil {
		return err
	}
	s.agents = agent.NewManager(s.queue, provider, exec, catalog, s.hub.EmitToSession)

	s.handler = handlers.NewHandler(s.store, tokens, blacklist, devices, exec,
		s.agents, s.queue, s.hub, hub.NewYjsStore(), s.registry, s.audit)
	return nil
}

// registerStaticHosts binds a direct docker backend for every registered
// fleet host. Pod-backed hosts register themselves when their pod connects.
func (s *Server) registerStaticHosts() error {
	if !config.IsDBEnable() {
		return nil
	}
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	rows, err := s.store.SelectHosts(ctx, nil)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row.IsPod || !row.Endpoint.Valid {
			continue
		}
		backend, err := dockerhost.NewDirectBackend(row.HostId, row.Endpoint.String)
		if err != nil {
			klog.ErrorS(err, "failed to init docker backend", "hostId", row.HostId)
			continue
		}
		s.registry.Register(row.HostId, backend)
	}
	klog.Infof("registered %d direct docker hosts", len(s.registry.HostIds()))
	return nil
}

func (s *Server) emitWorkspaceStatus(sessionId, workspaceId, status, reason string) {
	if sessionId == "" {
		return
	}
	s.hub.EmitToSession(sessionId, "workspace_status", map[string]string{
		"workspace_id": workspaceId,
		"status":       status,
		"reason":       reason,
	})
}

func (s *Server) notifyApproval(sessionId, approvalId string, call *executor.ToolCall) {
	s.hub.EmitToSession(sessionId, "approval_required", map[string]interface{}{
		"approval_id": approvalId,
		"tool":        call.Tool,
		"args":        call.Args,
		"mode":        string(call.Mode),
	})
}

// onPodHeartbeat persists the pod liveness report. The write is retried a few
// times so one dropped database round-trip does not age the pod's heartbeat.
func (s *Server) onPodHeartbeat(podId string, workspaces int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := backoff.FixedRetry(func() error {
		return s.store.TouchLocalPodHeartbeat(ctx, podId, workspaces)
	}, heartbeatPersistRetries, heartbeatPersistInterval, func(error) bool { return true })
	if err != nil {
		klog.ErrorS(err, "failed to persist pod heartbeat", "podId", podId)
	}
}

func newProvider() (llm.Provider, error) {
	switch name := config.GetLLMProvider(); name {
	case "anthropic":
		return llm.NewAnthropicProvider(config.GetAnthropicAPIKey(), config.GetLLMModel(), 0)
	case "openai":
		return llm.NewOpenAIProvider(config.GetOpenAIAPIKey(), config.GetLLMModel(), 0)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", name)
	}
}

// Start launches the background workers and the HTTP server, then blocks
// until SIGINT or SIGTERM.
func (s *Server) Start() {
	if err := s.init(); err != nil {
		klog.ErrorS(err, "failed to init server")
		return
	}
	gin.EnableJsonDecoderDisallowUnknownFields()

	klog.Infof("starting coordinator")
	s.audit.Start()
	s.sweeper.Start()

	go func() {
		if err := s.startHttpServer(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			klog.ErrorS(err, "failed to start http-server")
			os.Exit(-1)
		}
	}()

	<-s.ctx.Done()
	s.Stop()
}

// Stop gracefully shuts down the HTTP server, stops the session workers and
// background sweepers, drains the audit buffer, and flushes logs.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	klog.Info("shutting down http server...")
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			klog.ErrorS(err, "failed to shutdown httpserver")
		}
	}
	s.agents.StopAll()
	s.sweeper.Stop()
	s.audit.Stop()
	s.store.Close()
	s.cancel()
	klog.Info("coordinator is stopped")
	klog.Flush()
}

// startHttpServer builds the gin engine, mounts the routes, and listens on
// the configured port.
func (s *Server) startHttpServer() error {
	if config.GetServerPort() <= 0 {
		return fmt.Errorf("the coordinator port is not defined")
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), handlers.Logger())
	handlers.InitRouters(engine, s.handler)
	addr := fmt.Sprintf(":%d", config.GetServerPort())
	s.httpServer = &http.Server{Addr: addr, Handler: engine}
	klog.Infof("http-server listen port: %d", config.GetServerPort())
	return s.httpServer.ListenAndServe()
}
