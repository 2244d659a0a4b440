package session

import (
	"sync"

	"github.com/lokutor-ai/dialcore/internal/vad"
)

// Manager maps call_id and stream_id to the live CallSession, and is the
// single point call-control HTTP handlers (C8) and the WebSocket dispatcher
// (C5 itself) both go through to reach a session by whichever identifier
// they have.
type Manager struct {
	mu       sync.RWMutex
	byCall   map[string]*CallSession
	byStream map[string]*CallSession
}

// NewManager builds an empty Manager.
func NewManager() *Manager {
	return &Manager{
		byCall:   make(map[string]*CallSession),
		byStream: make(map[string]*CallSession),
	}
}

// Create registers a new session under callID (which may be empty until the
// start event or registry lookup binds one; RebindCallID updates the index once
// it's known).
func (m *Manager) Create(callID string, vadCfg vad.Config, binding TTSBinding) *CallSession {
	sess := New(callID, vadCfg, binding)
	m.mu.Lock()
	defer m.mu.Unlock()
	if callID != "" {
		m.byCall[callID] = sess
	}
	return sess
}

// BindStream records the peer's stream id and, if callID is non-empty and
// the session didn't already have one, indexes the session by it too.
func (m *Manager) BindStream(sess *CallSession, streamID, callID string) {
	sess.BindStream(streamID, callID)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.byStream[streamID] = sess
	if resolved := sess.CallID(); resolved != "" {
		m.byCall[resolved] = sess
	}
}

// RebindCallID re-indexes sess under callID, used when a registry lookup
// resolves a call id after the session was already created without one.
func (m *Manager) RebindCallID(sess *CallSession, callID string) {
	sess.SetCallID(callID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if resolved := sess.CallID(); resolved != "" {
		m.byCall[resolved] = sess
	}
}

// ByCallID looks up a session by call_id, used by the /transfer,
// /ai-response and /speak control endpoints.
func (m *Manager) ByCallID(callID string) (*CallSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byCall[callID]
	return s, ok
}

// ByStreamID looks up a session by stream_id.
func (m *Manager) ByStreamID(streamID string) (*CallSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byStream[streamID]
	return s, ok
}

// Remove unregisters sess from both indexes on session close.
func (m *Manager) Remove(sess *CallSession) {
	st := sess.Snapshot()
	m.mu.Lock()
	defer m.mu.Unlock()
	if st.CallID != "" {
		delete(m.byCall, st.CallID)
	}
	if st.StreamID != "" {
		delete(m.byStream, st.StreamID)
	}
}
