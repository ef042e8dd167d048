/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package hub

import "encoding/json"

// Message is the envelope for every frame on a hub socket, both directions.
type Message struct {
	Event string          `json:"event"`
	Room  string          `json:"room,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Pod protocol events.
const (
	EventCapabilities   = "capabilities"
	EventHeartbeat      = "heartbeat"
	EventRpcRequest     = "rpc_request"
	EventRpcResponse    = "rpc_response"
	EventWorkspaceEvent = "workspace_event"
	EventTerminalOutput = "terminal_output"
)

// RpcRequest is a coordinator-to-pod call.
type RpcRequest struct {
	CallId string          `json:"call_id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// RpcResponse carries the pod's answer for a pending call. Result and Error
// are mutually exclusive.
type RpcResponse struct {
	CallId string          `json:"call_id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Heartbeat is the periodic pod liveness report.
type Heartbeat struct {
	PodId      string `json:"pod_id"`
	Workspaces int    `json:"workspaces"`
}

// Pod RPC methods.
const (
	MethodWorkspaceCreate = "workspace_create"
	MethodWorkspaceStop   = "workspace_stop"
	MethodWorkspaceDelete = "workspace_delete"
	MethodWorkspaceUpdate = "workspace_update"
	MethodWorkspaceList   = "workspace_list"
	MethodExec            = "exec"
	MethodFileRead        = "file_read"
	MethodFileWrite       = "file_write"
	MethodFileList        = "file_list"
	MethodTerminalCreate  = "terminal_create"
	MethodTerminalInput   = "terminal_input"
	MethodTerminalResize  = "terminal_resize"
	MethodTerminalClose   = "terminal_close"
	MethodPortList        = "port_list"
	MethodHttpProxy       = "http_proxy"
	MethodTunnelStart     = "tunnel_start"
	MethodTunnelStop      = "tunnel_stop"
	MethodTunnelStatus    = "tunnel_status"
	MethodHostBrowse      = "host_browse"
	MethodHealth          = "health"
	MethodStats           = "stats"
	MethodServerStats     = "server_stats"
	MethodImageCommit     = "image_commit"
	MethodImageExport     = "image_export"
	MethodImageImport     = "image_import"
)
