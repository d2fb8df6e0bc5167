// Package gpa is the gateway to the General Purpose Agent, a stateless
// DIAL-extended backend. Multi-turn context is rebuilt on every call by
// replaying prior GPA turns with their continuation blobs restored; the
// agent's nested stage stream is mirrored live onto the coordinator's own
// stages.
package gpa

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dialforge/mas-coordinator/pkg/chat"
	"github.com/dialforge/mas-coordinator/pkg/dial"
	"github.com/dialforge/mas-coordinator/pkg/stagemirror"
	"github.com/dialforge/mas-coordinator/pkg/state"
)

// Deployment is the GPA deployment name on the DIAL endpoint.
const Deployment = "general-purpose-agent"

// Gateway forwards one turn to the General Purpose Agent.
type Gateway struct {
	client *dial.Client
}

func New(client *dial.Client) *Gateway {
	return &Gateway{client: client}
}

// Respond streams the agent's reply: top-level content accumulates into the
// processing stage, nested stage deltas are mirrored onto new choice-owned
// stages, attachments and continuation state are collected for the outgoing
// message. Returns the accumulated plain-text reply.
func (g *Gateway) Respond(
	ctx context.Context,
	choice *chat.Choice,
	stage *chat.Stage,
	history []dial.Message,
	additionalInstructions string,
) (string, error) {
	req := &dial.ChatCompletionRequest{
		Messages: prepareMessages(history, additionalInstructions),
	}

	headers := map[string]string{
		dial.ConversationIDHeader: choice.Metadata().ConversationID,
	}
	stream, err := g.client.StreamChatCompletion(ctx, Deployment, req, headers)
	if err != nil {
		return "", err
	}

	mirror := stagemirror.New(choice)
	// Mirrored stages must be closed on every exit path, error or not.
	defer mirror.CloseAll()

	var content strings.Builder
	var attachments []dial.Attachment
	var continuation any

	for event := range stream {
		if event.Err != nil {
			return "", event.Err
		}
		if len(event.Chunk.Choices) == 0 {
			continue
		}
		delta := event.Chunk.Choices[0].Delta
		if delta == nil {
			continue
		}

		if delta.Content != "" {
			stage.AppendContent(delta.Content)
			content.WriteString(delta.Content)
		}

		cc := delta.CustomContent
		if cc == nil {
			continue
		}
		attachments = append(attachments, cc.Attachments...)
		if cc.State != nil {
			continuation = cc.State
		}
		for _, stageDelta := range cc.Stages {
			mirror.Apply(stageDelta)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	log.Debug().
		Int("content_len", content.Len()).
		Int("attachments", len(attachments)).
		Int("mirrored_stages", mirror.Len()).
		Msg("GPA stream finished")

	for _, attachment := range attachments {
		choice.AddAttachment(attachment)
	}
	choice.SetState(state.NewGPAState(continuation))

	return content.String(), nil
}

// prepareMessages rebuilds the GPA-side conversation: replayed prior GPA
// turns followed by the current user turn, augmented with the routing
// instructions when present.
func prepareMessages(history []dial.Message, additionalInstructions string) []dial.Message {
	messages := state.ReplayGPAHistory(history)

	last := history[len(history)-1]
	if additionalInstructions != "" {
		last = dial.Message{
			Role:          last.Role,
			Content:       last.Content + "\n\n" + additionalInstructions,
			CustomContent: last.CustomContent,
		}
	}
	return append(messages, last)
}
