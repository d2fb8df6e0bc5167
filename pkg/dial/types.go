package dial

import (
	"github.com/rs/zerolog"
)

// Role is the role of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one ordered turn in a conversation. Content is plain text;
// CustomContent carries the DIAL protocol extensions (attachments, per-agent
// state, stage deltas). Messages are never mutated once they are part of a
// request history; helpers that need to change one work on a copy.
type Message struct {
	Role          Role           `json:"role"`
	Content       string         `json:"content,omitempty"`
	CustomContent *CustomContent `json:"custom_content,omitempty"`
}

// CustomContent is the DIAL extension payload attached to a message or a
// streaming delta.
type CustomContent struct {
	Attachments []Attachment `json:"attachments,omitempty"`
	Stages      []StageDelta `json:"stages,omitempty"`
	// State is opaque JSON round-tripped through the client. On coordinator
	// output it is a map keyed by the reserved state keys; on an upstream
	// agent's stream it can be any shape the agent chooses.
	State any `json:"state,omitempty"`
}

// Attachment is an opaque blob with metadata, surfaced to the client as-is.
type Attachment struct {
	Type         string `json:"type,omitempty"`
	Title        string `json:"title,omitempty"`
	Data         string `json:"data,omitempty"`
	URL          string `json:"url,omitempty"`
	ReferenceURL string `json:"reference_url,omitempty"`
}

// StageDelta is one incremental update to a named progress section. Index is
// local to the emitting stream; Name is only present on the first delta for a
// given index. Status "completed" closes the stage.
type StageDelta struct {
	Index       int          `json:"index"`
	Name        string       `json:"name,omitempty"`
	Content     string       `json:"content,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Status      string       `json:"status,omitempty"`
}

// StageStatusCompleted is the terminal stage status on the wire.
const StageStatusCompleted = "completed"

func (d StageDelta) MarshalZerologObject(e *zerolog.Event) {
	e.Int("index", d.Index)
	if d.Name != "" {
		e.Str("name", d.Name)
	}
	if d.Content != "" {
		e.Int("content_len", len(d.Content))
	}
	if len(d.Attachments) > 0 {
		e.Int("attachments", len(d.Attachments))
	}
	if d.Status != "" {
		e.Str("status", d.Status)
	}
}

// ChatCompletionRequest is the chat-completion request body, both inbound
// (client to coordinator) and outbound (coordinator to an agent).
type ChatCompletionRequest struct {
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream,omitempty"`
}

// Delta is the incremental part of a streamed choice.
type Delta struct {
	Role          Role           `json:"role,omitempty"`
	Content       string         `json:"content,omitempty"`
	CustomContent *CustomContent `json:"custom_content,omitempty"`
}

// ChunkChoice is one choice inside a streamed completion chunk.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        *Delta  `json:"delta,omitempty"`
	FinishReason *string `json:"finish_reason,omitempty"`
}

// CompletionChunk is one streamed chunk of a chat completion.
type CompletionChunk struct {
	ID      string        `json:"id,omitempty"`
	Object  string        `json:"object,omitempty"`
	Choices []ChunkChoice `json:"choices"`
}

// ResponseChoice is one choice of a non-streamed completion response.
type ResponseChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// ChatCompletionResponse is the non-streamed completion response body.
type ChatCompletionResponse struct {
	ID      string           `json:"id,omitempty"`
	Object  string           `json:"object,omitempty"`
	Choices []ResponseChoice `json:"choices"`
}

// NormalizeHistory prepares a conversation history for a plain language-model
// call: user turns carrying custom content are reduced to their text (only
// the text matters for classification and finalization), other turns pass
// through unchanged with empty fields omitted by encoding.
func NormalizeHistory(history []Message) []Message {
	out := make([]Message, 0, len(history))
	for _, msg := range history {
		if msg.Role == RoleUser && msg.CustomContent != nil {
			out = append(out, Message{Role: RoleUser, Content: msg.Content})
			continue
		}
		out = append(out, msg)
	}
	return out
}
