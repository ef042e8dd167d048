/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/ammujacic/podex-sub004/pkg/auth"
	commonerrors "github.com/ammujacic/podex-sub004/pkg/errors"
	"github.com/ammujacic/podex-sub004/pkg/hub"
	"github.com/ammujacic/podex-sub004/pkg/taskqueue"
	utiljson "github.com/ammujacic/podex-sub004/pkg/utils/json"
)

// podSocket is the reverse-connection endpoint for self-hosted pods. The pod
// authenticates with its registration token; a reconnect under the same pod
// id takes over from the previous socket.
func (h *Handler) podSocket(c *gin.Context) {
	podId := c.GetHeader("X-Podex-Pod-Id")
	if podId == "" {
		podId = c.Query("pod_id")
	}
	token, _ := extractToken(c)
	if token == "" {
		token = c.Query("token")
	}
	if podId == "" || token == "" {
		commonerrors.AbortWithApiError(c, commonerrors.NewUnauthorized("missing pod credentials"))
		return
	}
	pod, err := h.store.GetLocalPod(c.Request.Context(), podId)
	if err != nil {
		commonerrors.AbortWithApiError(c, commonerrors.NewUnauthorized("invalid pod credentials"))
		return
	}
	if err = auth.VerifyPodToken(token, pod.TokenHash); err != nil {
		commonerrors.AbortWithApiError(c, err)
		return
	}
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		klog.ErrorS(err, "pod socket upgrade failed", "podId", podId)
		return
	}
	conn := hub.NewConn(uuid.NewString(), ws)
	conn.UserId = pod.UserId
	h.onPodConnect(c.Request.Context(), podId)
	klog.InfoS("pod connected", "podId", podId, "userId", pod.UserId)
	h.hub.ServePod(conn, podId, &podObserver{h: h})
}

// sessionSocket serves browser and CLI clients: room membership, terminal
// fan-in, collaborative document sync and agent messaging over one socket.
func (h *Handler) sessionSocket(c *gin.Context) {
	token, _ := extractToken(c)
	if token == "" {
		token = c.Query("token")
	}
	claims, err := h.verifyAccess(c, token)
	if err != nil {
		commonerrors.AbortWithApiError(c, err)
		return
	}
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		klog.ErrorS(err, "session socket upgrade failed", "userId", claims.Subject)
		return
	}
	conn := hub.NewConn(uuid.NewString(), ws)
	conn.UserId = claims.Subject
	client := &wsClient{h: h, conn: conn, userId: claims.Subject, joined: make(map[string]bool)}
	client.run(c)
}

func (h *Handler) verifyAccess(c *gin.Context, token string) (*auth.Claims, error) {
	if token == "" {
		return nil, commonerrors.NewUnauthorized("missing credentials")
	}
	claims, err := h.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != auth.TokenTypeAccess {
		return nil, commonerrors.NewUnauthorized("not an access token")
	}
	revoked, err := h.blacklist.IsRevoked(c.Request.Context(), claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, commonerrors.NewTokenRevoked("the token has been revoked")
	}
	return claims, nil
}

// wsClient is the per-connection read loop state for a browser/CLI socket.
type wsClient struct {
	h      *Handler
	conn   *hub.Conn
	userId string
	// joined tracks the session rooms this connection has entered; broadcast
	// events are only honored for joined sessions.
	joined map[string]bool
}

type sessionFrame struct {
	SessionId string `json:"session_id"`
}

type agentMessageFrame struct {
	SessionId string `json:"session_id"`
	Content   string `json:"content"`
	Priority  string `json:"priority"`
}

type terminalFrame struct {
	WorkspaceId string `json:"workspace_id"`
	Data        string `json:"data"`
}

type yjsFrame struct {
	SessionId string `json:"session_id"`
	Doc       string `json:"doc"`
	Update    []byte `json:"update"`
}

func (w *wsClient) run(c *gin.Context) {
	defer func() {
		w.h.hub.LeaveAllRooms(w.conn, w.roomCleanup)
		w.conn.Close()
		klog.V(2).InfoS("client socket closed", "userId", w.userId, "conn", w.conn.Id)
	}()
	for {
		msg, err := readMessage(w.conn)
		if err != nil {
			return
		}
		if msg == nil {
			w.sendError("error", "malformed frame")
			continue
		}
		w.dispatch(c, msg)
	}
}

func (w *wsClient) dispatch(c *gin.Context, msg *hub.Message) {
	switch msg.Event {
	case "session_join":
		w.sessionJoin(c, msg)
	case "session_leave":
		w.sessionLeave(msg)
	case "cursor_update", "file_change", "agent_attention_read", "agent_attention_dismiss":
		w.broadcast(msg)
	case "agent_message":
		w.agentMessage(c, msg)
	case "terminal_attach":
		w.terminalAttach(c, msg)
	case "terminal_detach":
		w.terminalDetach(msg)
	case "terminal_input":
		w.terminalInput(c, msg)
	case "yjs_subscribe":
		w.yjsSubscribe(msg)
	case "yjs_unsubscribe":
		w.yjsUnsubscribe(msg)
	case "yjs_update":
		w.yjsUpdate(msg)
	case "yjs_awareness":
		w.yjsAwareness(msg)
	case "voice_stream_start", "voice_chunk", "voice_stream_end", "tts_request":
		w.sendError("voice_error", "the voice pipeline is not configured")
	default:
		w.sendError("error", "unknown event "+msg.Event)
	}
}

func (w *wsClient) sessionJoin(c *gin.Context, msg *hub.Message) {
	frame := &sessionFrame{}
	if !w.decode(msg, frame) || frame.SessionId == "" {
		return
	}
	session, err := w.h.store.GetSession(c.Request.Context(), frame.SessionId)
	if err != nil || session.UserId != w.userId {
		w.sendError("error", "session "+frame.SessionId+" not found")
		return
	}
	w.h.hub.JoinRoom(hub.SessionRoom(frame.SessionId), w.conn)
	w.joined[frame.SessionId] = true
	_ = w.conn.Send("session_joined", gin.H{"session_id": frame.SessionId})
}

func (w *wsClient) sessionLeave(msg *hub.Message) {
	frame := &sessionFrame{}
	if !w.decode(msg, frame) {
		return
	}
	delete(w.joined, frame.SessionId)
	w.h.hub.LeaveRoom(hub.SessionRoom(frame.SessionId), w.conn, nil)
}

// broadcast relays collaboration events to the session room verbatim.
func (w *wsClient) broadcast(msg *hub.Message) {
	frame := &sessionFrame{}
	if !w.decode(msg, frame) {
		return
	}
	if !w.joined[frame.SessionId] {
		w.sendError("error", "join the session before sending "+msg.Event)
		return
	}
	w.h.hub.EmitToRoom(hub.SessionRoom(frame.SessionId), msg.Event, msg.Data)
}

// agentMessage enqueues user input as agent work on the session queue.
func (w *wsClient) agentMessage(c *gin.Context, msg *hub.Message) {
	frame := &agentMessageFrame{}
	if !w.decode(msg, frame) {
		return
	}
	if !w.joined[frame.SessionId] {
		w.sendError("error", "join the session before messaging the agent")
		return
	}
	session, err := w.h.store.GetSession(c.Request.Context(), frame.SessionId)
	if err != nil {
		w.sendError("error", "session "+frame.SessionId+" not found")
		return
	}
	priority, err := parsePriority(frame.Priority)
	if err != nil {
		w.sendError("error", err.Error())
		return
	}
	taskId, err := w.h.queue.Enqueue(c.Request.Context(), &taskqueue.Task{
		SessionId:   frame.SessionId,
		Description: frame.Content,
		Priority:    priority,
	})
	if err != nil {
		w.sendError("error", err.Error())
		return
	}
	w.h.ensureWorker(session)
	_ = w.conn.Send("task_created", gin.H{"task_id": taskId, "session_id": frame.SessionId})
}

func (w *wsClient) terminalAttach(c *gin.Context, msg *hub.Message) {
	frame := &terminalFrame{}
	if !w.decode(msg, frame) || frame.WorkspaceId == "" {
		return
	}
	workspace, err := w.h.store.GetWorkspace(c.Request.Context(), frame.WorkspaceId)
	if err != nil || workspace.UserId != w.userId {
		w.sendError("terminal_error", "workspace "+frame.WorkspaceId+" not found")
		return
	}
	w.h.hub.JoinRoom(hub.TerminalRoom(frame.WorkspaceId), w.conn)
	_ = w.conn.Send("terminal_attached", gin.H{"workspace_id": frame.WorkspaceId})
}

func (w *wsClient) terminalDetach(msg *hub.Message) {
	frame := &terminalFrame{}
	if !w.decode(msg, frame) {
		return
	}
	w.h.hub.LeaveRoom(hub.TerminalRoom(frame.WorkspaceId), w.conn, nil)
}

// terminalInput forwards keystrokes to the pod hosting the workspace. Input
// over the frame cap is dropped, never queued.
func (w *wsClient) terminalInput(c *gin.Context, msg *hub.Message) {
	frame := &terminalFrame{}
	if !w.decode(msg, frame) {
		return
	}
	if len(frame.Data) > hub.MaxTerminalInput {
		klog.InfoS("dropping oversized terminal input",
			"workspaceId", frame.WorkspaceId, "bytes", len(frame.Data))
		w.sendError("terminal_error", "terminal input exceeds the frame limit")
		return
	}
	workspace, err := w.h.store.GetWorkspace(c.Request.Context(), frame.WorkspaceId)
	if err != nil || workspace.UserId != w.userId {
		w.sendError("terminal_error", "workspace "+frame.WorkspaceId+" not found")
		return
	}
	hostId := workspace.HostId.String
	if !strings.HasPrefix(hostId, podHostPrefix) {
		w.sendError("terminal_error", "no interactive terminal on host "+hostId)
		return
	}
	_, err = w.h.hub.CallPod(c.Request.Context(), strings.TrimPrefix(hostId, podHostPrefix),
		hub.MethodTerminalInput, gin.H{
			"container_id": workspace.ContainerId.String,
			"workspace_id": frame.WorkspaceId,
			"data":         frame.Data,
		})
	if err != nil {
		w.sendError("terminal_error", err.Error())
	}
}

// yjsSubscribe enters the document room and replays the buffered updates so
// the client can rebuild the replica.
func (w *wsClient) yjsSubscribe(msg *hub.Message) {
	frame := &yjsFrame{}
	if !w.decode(msg, frame) {
		return
	}
	if !w.joined[frame.SessionId] {
		w.sendError("error", "join the session before subscribing to documents")
		return
	}
	w.h.hub.JoinRoom(hub.YjsRoom(frame.SessionId, frame.Doc), w.conn)
	for _, update := range w.h.yjs.Snapshot(frame.SessionId, frame.Doc) {
		_ = w.conn.Send("yjs_update", &yjsFrame{
			SessionId: frame.SessionId,
			Doc:       frame.Doc,
			Update:    update,
		})
	}
}

func (w *wsClient) yjsUnsubscribe(msg *hub.Message) {
	frame := &yjsFrame{}
	if !w.decode(msg, frame) {
		return
	}
	sessionId, doc := frame.SessionId, frame.Doc
	w.h.hub.LeaveRoom(hub.YjsRoom(sessionId, doc), w.conn, func() {
		w.h.yjs.DropDoc(sessionId, doc)
	})
}

func (w *wsClient) yjsUpdate(msg *hub.Message) {
	frame := &yjsFrame{}
	if !w.decode(msg, frame) {
		return
	}
	if !w.joined[frame.SessionId] {
		w.sendError("error", "join the session before sending document updates")
		return
	}
	if !w.h.yjs.Apply(frame.SessionId, frame.Doc, frame.Update) {
		w.sendError("error", "document update dropped, replica over limit")
		return
	}
	w.h.hub.EmitToRoom(hub.YjsRoom(frame.SessionId, frame.Doc), "yjs_update", frame)
}

func (w *wsClient) yjsAwareness(msg *hub.Message) {
	frame := &yjsFrame{}
	if !w.decode(msg, frame) {
		return
	}
	if !w.joined[frame.SessionId] {
		return
	}
	w.h.hub.EmitToRoom(hub.YjsRoom(frame.SessionId, frame.Doc), "yjs_awareness", msg.Data)
}

// roomCleanup frees room-local state once the disconnect grace has elapsed
// without a rejoin.
func (w *wsClient) roomCleanup(room string) {
	if !strings.HasPrefix(room, "yjs:") {
		return
	}
	parts := strings.SplitN(room, ":", 3)
	if len(parts) == 3 {
		w.h.yjs.DropDoc(parts[1], parts[2])
	}
}

func (w *wsClient) decode(msg *hub.Message, out interface{}) bool {
	if err := utiljson.Unmarshal(msg.Data, out); err != nil {
		w.sendError("error", "malformed "+msg.Event+" payload")
		return false
	}
	return true
}

func (w *wsClient) sendError(event, message string) {
	if err := w.conn.Send(event, gin.H{"message": message}); err != nil {
		klog.V(4).InfoS("failed to send error frame", "conn", w.conn.Id, "event", event)
	}
}

// readMessage reads and parses one frame. A nil message with a nil error
// marks a malformed frame; the connection stays up.
func readMessage(conn *hub.Conn) (*hub.Message, error) {
	payload, err := conn.Read()
	if err != nil {
		return nil, err
	}
	msg := &hub.Message{}
	if err = utiljson.Unmarshal(payload, msg); err != nil {
		return nil, nil
	}
	return msg, nil
}
