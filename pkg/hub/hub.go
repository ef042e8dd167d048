/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package hub

import (
	"fmt"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

const (
	// MaxTerminalInput caps one terminal input frame.
	MaxTerminalInput = 8 << 10

	defaultRpcTimeout        = 30 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	defaultDisconnectGrace   = 5 * time.Second

	// unhealthyFactor demotes a pod after this many missed heartbeats.
	unhealthyFactor = 3
)

// Hub is the realtime message switch. It owns the pod connection registry for
// reverse RPC, the client room membership for session events, and the grace
// timers that keep room-local state alive across transient reconnects.
type Hub struct {
	mu      sync.RWMutex
	pods    map[string]*podEntry
	rooms   map[string]map[string]*Conn
	pending map[string]*pendingCall

	graceMu     sync.Mutex
	graceTimers map[string]*time.Timer

	rpcTimeout        time.Duration
	heartbeatInterval time.Duration
	disconnectGrace   time.Duration

	// onHeartbeat receives pod liveness reports; wired by the server to
	// refresh host bookkeeping.
	onHeartbeat func(podId string, workspaces int)
}

type podEntry struct {
	conn       *Conn
	lastSeen   time.Time
	workspaces int
}

type pendingCall struct {
	podId string
	done  chan *RpcResponse
}

type Option func(*Hub)

func WithRpcTimeout(d time.Duration) Option {
	return func(h *Hub) { h.rpcTimeout = d }
}

func WithHeartbeatInterval(d time.Duration) Option {
	return func(h *Hub) { h.heartbeatInterval = d }
}

func WithDisconnectGrace(d time.Duration) Option {
	return func(h *Hub) { h.disconnectGrace = d }
}

func WithHeartbeatHandler(fn func(podId string, workspaces int)) Option {
	return func(h *Hub) { h.onHeartbeat = fn }
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		pods:              make(map[string]*podEntry),
		rooms:             make(map[string]map[string]*Conn),
		pending:           make(map[string]*pendingCall),
		graceTimers:       make(map[string]*time.Timer),
		rpcTimeout:        defaultRpcTimeout,
		heartbeatInterval: defaultHeartbeatInterval,
		disconnectGrace:   defaultDisconnectGrace,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterPod records the pod connection. A pod reconnecting under an id that
// is already registered takes over: the previous socket is closed and its
// pending calls fail.
func (h *Hub) RegisterPod(podId string, conn *Conn) {
	conn.PodId = podId
	h.mu.Lock()
	prev := h.pods[podId]
	h.pods[podId] = &podEntry{conn: conn, lastSeen: time.Now().UTC()}
	h.mu.Unlock()
	if prev != nil {
		klog.InfoS("pod connection takeover", "podId", podId, "prevConn", prev.conn.Id, "newConn", conn.Id)
		prev.conn.Close()
		h.failPendingForPod(podId)
	}
}

// UnregisterPod drops the registration if conn is still the active one, and
// fails every pending call addressed to the pod.
func (h *Hub) UnregisterPod(podId string, conn *Conn) {
	h.mu.Lock()
	entry, ok := h.pods[podId]
	if !ok || entry.conn != conn {
		h.mu.Unlock()
		return
	}
	delete(h.pods, podId)
	h.mu.Unlock()
	conn.Close()
	h.failPendingForPod(podId)
	klog.InfoS("pod disconnected", "podId", podId)
}

// PodConnected reports whether the pod currently holds a live connection.
func (h *Hub) PodConnected(podId string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.pods[podId]
	return ok
}

// PodHealthy reports whether the pod heartbeated within three intervals.
func (h *Hub) PodHealthy(podId string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entry, ok := h.pods[podId]
	if !ok {
		return false
	}
	return time.Since(entry.lastSeen) <= unhealthyFactor*h.heartbeatInterval
}

// PodLastSeen returns the last heartbeat time of a pod.
func (h *Hub) PodLastSeen(podId string) (time.Time, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entry, ok := h.pods[podId]
	if !ok {
		return time.Time{}, false
	}
	return entry.lastSeen, true
}

func (h *Hub) recordHeartbeat(podId string, workspaces int) {
	h.mu.Lock()
	if entry, ok := h.pods[podId]; ok {
		entry.lastSeen = time.Now().UTC()
		entry.workspaces = workspaces
	}
	h.mu.Unlock()
	if h.onHeartbeat != nil {
		h.onHeartbeat(podId, workspaces)
	}
}

// JoinRoom enters a connection into a room and cancels any cleanup scheduled
// for it.
func (h *Hub) JoinRoom(room string, conn *Conn) {
	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Conn)
		h.rooms[room] = members
	}
	members[conn.Id] = conn
	h.mu.Unlock()
	h.CancelCleanup(room)
}

// LeaveRoom removes a connection from a room. When the room empties, cleanup
// runs after the disconnect grace period unless someone rejoins.
func (h *Hub) LeaveRoom(room string, conn *Conn, cleanup func()) {
	h.mu.Lock()
	members := h.rooms[room]
	delete(members, conn.Id)
	empty := len(members) == 0
	if empty {
		delete(h.rooms, room)
	}
	h.mu.Unlock()
	if empty && cleanup != nil {
		h.ScheduleCleanup(room, cleanup)
	}
}

// LeaveAllRooms removes a connection from every room it joined, scheduling
// cleanups for the rooms it emptied.
func (h *Hub) LeaveAllRooms(conn *Conn, cleanup func(room string)) {
	h.mu.Lock()
	var emptied []string
	for room, members := range h.rooms {
		if _, ok := members[conn.Id]; !ok {
			continue
		}
		delete(members, conn.Id)
		if len(members) == 0 {
			delete(h.rooms, room)
			emptied = append(emptied, room)
		}
	}
	h.mu.Unlock()
	for _, room := range emptied {
		room := room
		if cleanup != nil {
			h.ScheduleCleanup(room, func() { cleanup(room) })
		}
	}
}

// EmitToRoom broadcasts an event to every member of a room. Send failures are
// logged and skipped; the read loop of the broken socket handles teardown.
func (h *Hub) EmitToRoom(room, event string, data interface{}) {
	h.mu.RLock()
	members := make([]*Conn, 0, len(h.rooms[room]))
	for _, conn := range h.rooms[room] {
		members = append(members, conn)
	}
	h.mu.RUnlock()
	for _, conn := range members {
		if err := conn.Send(event, data); err != nil {
			klog.ErrorS(err, "failed to emit to room member", "room", room, "event", event, "conn", conn.Id)
		}
	}
}

// EmitToSession broadcasts to the session room.
func (h *Hub) EmitToSession(sessionId, event string, data interface{}) {
	h.EmitToRoom(SessionRoom(sessionId), event, data)
}

// EmitToTerminal broadcasts to a workspace's terminal room.
func (h *Hub) EmitToTerminal(workspaceId, event string, data interface{}) {
	h.EmitToRoom(TerminalRoom(workspaceId), event, data)
}

// EmitAgentAttention notifies the agent room that the agent wants the user.
func (h *Hub) EmitAgentAttention(agentId string, data interface{}) {
	h.EmitToRoom(AgentRoom(agentId), "agent_attention", data)
}

// RoomSize returns the member count of a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ScheduleCleanup arms the grace timer for a key. An already-armed key keeps
// its original deadline.
func (h *Hub) ScheduleCleanup(key string, fn func()) {
	h.graceMu.Lock()
	defer h.graceMu.Unlock()
	if _, ok := h.graceTimers[key]; ok {
		return
	}
	h.graceTimers[key] = time.AfterFunc(h.disconnectGrace, func() {
		h.graceMu.Lock()
		delete(h.graceTimers, key)
		h.graceMu.Unlock()
		fn()
	})
}

// CancelCleanup disarms a pending grace timer, keeping the state alive.
func (h *Hub) CancelCleanup(key string) {
	h.graceMu.Lock()
	defer h.graceMu.Unlock()
	if timer, ok := h.graceTimers[key]; ok {
		timer.Stop()
		delete(h.graceTimers, key)
	}
}

// SessionRoom names the room for one session.
func SessionRoom(sessionId string) string { return fmt.Sprintf("session:%s", sessionId) }

// TerminalRoom names the room for one workspace's terminals.
func TerminalRoom(workspaceId string) string { return fmt.Sprintf("terminal:%s", workspaceId) }

// YjsRoom names the room for one collaborative document.
func YjsRoom(sessionId, doc string) string { return fmt.Sprintf("yjs:%s:%s", sessionId, doc) }

// AgentRoom names the room for one agent's attention events.
func AgentRoom(agentId string) string { return fmt.Sprintf("agent:%s", agentId) }
