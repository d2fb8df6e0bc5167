// Package state encodes and decodes the per-agent conversation state that is
// smuggled through message payloads instead of a server-side session store.
//
// A turn's state map identifies at most one producing agent: either the GPA
// tag with its opaque continuation blob, or the UMS conversation identifier.
// Decoding is a pure function of message history; malformed or missing state
// degrades to "no prior context" instead of failing the turn.
package state

import (
	"github.com/dialforge/mas-coordinator/pkg/dial"
)

// Reserved state map keys. Exactly one agent flag may be present per turn.
const (
	KeyIsGPA             = "is_gpa"
	KeyGPAMessages       = "gpa_messages"
	KeyUMSConversationID = "ums_conversation_id"
)

// NewGPAState embeds a GPA continuation blob into a state map for the
// outgoing assistant message.
func NewGPAState(continuation any) map[string]any {
	return map[string]any{
		KeyIsGPA:       true,
		KeyGPAMessages: continuation,
	}
}

// NewUMSState embeds a UMS session identifier into a state map for the
// outgoing assistant message.
func NewUMSState(conversationID string) map[string]any {
	return map[string]any{
		KeyUMSConversationID: conversationID,
	}
}

// stateMap extracts the message's state as a map, tolerating absent custom
// content and state of an unexpected shape.
func stateMap(msg dial.Message) (map[string]any, bool) {
	if msg.CustomContent == nil || msg.CustomContent.State == nil {
		return nil, false
	}
	m, ok := msg.CustomContent.State.(map[string]any)
	return m, ok
}

// GPAContinuation reports whether the message is a GPA-produced assistant
// turn and returns its embedded continuation blob. A tagged turn with a
// missing blob still counts as GPA-produced; continuation restore is
// best-effort.
func GPAContinuation(msg dial.Message) (any, bool) {
	m, ok := stateMap(msg)
	if !ok {
		return nil, false
	}
	flag, ok := m[KeyIsGPA].(bool)
	if !ok || !flag {
		return nil, false
	}
	return m[KeyGPAMessages], true
}

// UMSConversationID scans the history for the most recent turn carrying a UMS
// session identifier. Session reuse wants the latest match: the agent's turns
// may be interleaved with turns from other agents, so every message is
// inspected, newest first.
func UMSConversationID(history []dial.Message) (string, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		m, ok := stateMap(history[i])
		if !ok {
			continue
		}
		if id, ok := m[KeyUMSConversationID].(string); ok && id != "" {
			return id, true
		}
	}
	return "", false
}

// ReplayGPAHistory rebuilds the outbound message list a stateless GPA backend
// needs to reconstruct full multi-turn context: for every assistant turn the
// GPA produced, the preceding user turn and the assistant turn — with its
// continuation blob restored to the agent's own wire shape — are replayed in
// original chronological order. The caller appends the current turn.
func ReplayGPAHistory(history []dial.Message) []dial.Message {
	var out []dial.Message
	for i, msg := range history {
		if msg.Role != dial.RoleAssistant {
			continue
		}
		continuation, ok := GPAContinuation(msg)
		if !ok {
			continue
		}
		if i == 0 {
			// No preceding user turn to pair with; nothing to replay.
			continue
		}
		out = append(out, history[i-1])

		// Only State changes shape between the stored and the replayed turn;
		// attachments and the rest of the custom content travel back as-is.
		restored := msg
		cc := dial.CustomContent{}
		if msg.CustomContent != nil {
			cc = *msg.CustomContent
		}
		cc.State = continuation
		restored.CustomContent = &cc
		out = append(out, restored)
	}
	return out
}
