/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package hub

import (
	"sync"

	"k8s.io/klog/v2"
)

const (
	// MaxDocUpdates bounds the unapplied update backlog per document.
	MaxDocUpdates = 100
	// MaxSessionBytes bounds the total in-memory document state per session.
	MaxSessionBytes = 10 << 20
)

// YjsStore keeps collaborative document updates in memory only; replicas are
// rebuilt by clients after a coordinator restart. Excess input is dropped,
// never queued.
type YjsStore struct {
	mu       sync.Mutex
	sessions map[string]*yjsSession
}

type yjsSession struct {
	totalBytes int
	docs       map[string]*yjsDoc
}

type yjsDoc struct {
	updates [][]byte
}

func NewYjsStore() *YjsStore {
	return &YjsStore{sessions: make(map[string]*yjsSession)}
}

// Apply appends one update to the document backlog. It returns false when the
// update was dropped for exceeding the per-doc or per-session bound.
func (s *YjsStore) Apply(sessionId, doc string, update []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionId]
	if !ok {
		session = &yjsSession{docs: make(map[string]*yjsDoc)}
		s.sessions[sessionId] = session
	}
	if session.totalBytes+len(update) > MaxSessionBytes {
		klog.InfoS("dropping yjs update, session state over limit",
			"sessionId", sessionId, "doc", doc, "totalBytes", session.totalBytes)
		return false
	}
	d, ok := session.docs[doc]
	if !ok {
		d = &yjsDoc{}
		session.docs[doc] = d
	}
	if len(d.updates) >= MaxDocUpdates {
		klog.InfoS("dropping yjs update, doc backlog full", "sessionId", sessionId, "doc", doc)
		return false
	}
	d.updates = append(d.updates, update)
	session.totalBytes += len(update)
	return true
}

// Snapshot returns the buffered updates of a document in arrival order.
func (s *YjsStore) Snapshot(sessionId, doc string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionId]
	if !ok {
		return nil
	}
	d, ok := session.docs[doc]
	if !ok {
		return nil
	}
	out := make([][]byte, len(d.updates))
	copy(out, d.updates)
	return out
}

// Compact replaces a document's backlog with a merged state produced by a
// client, reclaiming the byte budget.
func (s *YjsStore) Compact(sessionId, doc string, state []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionId]
	if !ok {
		return
	}
	d, ok := session.docs[doc]
	if !ok {
		return
	}
	for _, update := range d.updates {
		session.totalBytes -= len(update)
	}
	d.updates = [][]byte{state}
	session.totalBytes += len(state)
}

// DropDoc frees one document replica.
func (s *YjsStore) DropDoc(sessionId, doc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionId]
	if !ok {
		return
	}
	if d, ok := session.docs[doc]; ok {
		for _, update := range d.updates {
			session.totalBytes -= len(update)
		}
		delete(session.docs, doc)
	}
	if len(session.docs) == 0 {
		delete(s.sessions, sessionId)
	}
}

// DropSession frees every replica of a session.
func (s *YjsStore) DropSession(sessionId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionId)
}

// SessionBytes reports the in-memory state size of a session.
func (s *YjsStore) SessionBytes(sessionId string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[sessionId]; ok {
		return session.totalBytes
	}
	return 0
}
