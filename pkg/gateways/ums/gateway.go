// Package ums is the gateway to the User Management System agent. The agent
// keeps server-side conversations addressed by a session identifier; the
// identifier is carried between turns inside the outgoing message state, so
// the coordinator itself stays stateless.
package ums

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dialforge/mas-coordinator/pkg/chat"
	"github.com/dialforge/mas-coordinator/pkg/dial"
	"github.com/dialforge/mas-coordinator/pkg/state"
)

// Gateway forwards one turn to the UMS agent.
type Gateway struct {
	client *Client
}

func New(endpoint string, httpClient *http.Client) *Gateway {
	return &Gateway{client: NewClient(endpoint, httpClient)}
}

// Respond resolves the UMS session (reusing the most recent identifier found
// anywhere in history, else minting a new one), sends the current user turn
// and streams the agent's reply into the processing stage. Returns the
// accumulated reply text.
func (g *Gateway) Respond(
	ctx context.Context,
	choice *chat.Choice,
	stage *chat.Stage,
	history []dial.Message,
	additionalInstructions string,
) (string, error) {
	conversationID, found := state.UMSConversationID(history)
	if !found {
		var err error
		conversationID, err = g.client.CreateConversation(ctx)
		if err != nil {
			return "", err
		}
		stage.AppendContent(fmt.Sprintf("_Created new UMS conversation: %s_\n\n", conversationID))
		log.Info().Str("ums_conversation_id", conversationID).Msg("created new UMS conversation")
	}

	userMessage := history[len(history)-1].Content
	if additionalInstructions != "" {
		userMessage = userMessage + "\n\n" + additionalInstructions
	}

	content, err := g.client.Chat(ctx, conversationID, userMessage, stage.AppendContent)
	if err != nil {
		return "", err
	}

	choice.SetState(state.NewUMSState(conversationID))

	return content, nil
}
