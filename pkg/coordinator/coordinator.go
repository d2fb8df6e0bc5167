// Package coordinator sequences one conversation turn: classify, invoke the
// selected agent, finalize the answer.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dialforge/mas-coordinator/pkg/chat"
	"github.com/dialforge/mas-coordinator/pkg/dial"
	"github.com/dialforge/mas-coordinator/pkg/gateways/gpa"
	"github.com/dialforge/mas-coordinator/pkg/gateways/ums"
	"github.com/dialforge/mas-coordinator/pkg/llm"
	"github.com/dialforge/mas-coordinator/pkg/router"
)

// State is the coordinator's position in the per-request state machine.
// Each request is one pass: no state is retried, and any failure transitions
// straight to StateFailed.
type State string

const (
	StateIdle            State = "idle"
	StateClassifyingTurn State = "classifying-turn"
	StateInvokingAgent   State = "invoking-agent"
	StateFinalizing      State = "finalizing"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

// Coordinator routes a turn to one agent and rewrites its reply into the
// final user-facing answer.
type Coordinator struct {
	engine llm.Engine
	router *router.Router
	gpa    *gpa.Gateway
	ums    *ums.Gateway
}

// Config wires the coordinator to its collaborators.
type Config struct {
	// DialEndpoint is the base URL of the DIAL core (LLM and GPA).
	DialEndpoint string
	// DialAPIKey authenticates against the DIAL core.
	DialAPIKey string
	// Deployment is the model deployment used for classification and
	// finalization.
	Deployment string
	// UMSAgentEndpoint is the base URL of the UMS agent.
	UMSAgentEndpoint string
	// HTTPClient, when set, is used for the UMS agent and GPA calls.
	HTTPClient *http.Client
}

func New(cfg Config) *Coordinator {
	engine := llm.NewOpenAIEngine(cfg.DialEndpoint, cfg.DialAPIKey, cfg.Deployment)

	var dialOpts []dial.ClientOption
	if cfg.HTTPClient != nil {
		dialOpts = append(dialOpts, dial.WithHTTPClient(cfg.HTTPClient))
	}
	dialClient := dial.NewClient(cfg.DialEndpoint, cfg.DialAPIKey, dialOpts...)

	return &Coordinator{
		engine: engine,
		router: router.New(engine),
		gpa:    gpa.New(dialClient),
		ums:    ums.New(cfg.UMSAgentEndpoint, cfg.HTTPClient),
	}
}

// NewWithCollaborators builds a coordinator from explicit collaborators.
// Used by tests and anywhere the default wiring does not fit.
func NewWithCollaborators(engine llm.Engine, rt *router.Router, gpaGateway *gpa.Gateway, umsGateway *ums.Gateway) *Coordinator {
	return &Coordinator{
		engine: engine,
		router: rt,
		gpa:    gpaGateway,
		ums:    umsGateway,
	}
}

// HandleTurn runs the whole turn against the given choice and returns the
// outgoing assistant message. On error the turn is abandoned: whatever was
// already streamed stays streamed, nothing is salvaged.
func (c *Coordinator) HandleTurn(ctx context.Context, choice *chat.Choice, history []dial.Message) (dial.Message, error) {
	if len(history) == 0 {
		return dial.Message{}, errors.New("empty conversation history")
	}

	st := StateIdle
	transition := func(next State) {
		log.Debug().Str("from", string(st)).Str("to", string(next)).
			Object("meta", choice.Metadata()).Msg("coordinator transition")
		st = next
	}
	fail := func(err error) (dial.Message, error) {
		transition(StateFailed)
		return dial.Message{}, err
	}

	transition(StateClassifyingTurn)
	coordinationStage := choice.OpenStage("Coordination Request")
	decision, err := c.router.Decide(ctx, history)
	if err != nil {
		coordinationStage.Close()
		return fail(err)
	}
	decisionJSON, err := json.MarshalIndent(decision, "", "  ")
	if err != nil {
		coordinationStage.Close()
		return fail(errors.Wrap(err, "marshal routing decision"))
	}
	coordinationStage.AppendContent(fmt.Sprintf("```json\n%s\n```\n", decisionJSON))
	coordinationStage.Close()

	transition(StateInvokingAgent)
	replyText, err := c.invokeAgent(ctx, choice, history, decision)
	if err != nil {
		return fail(err)
	}

	transition(StateFinalizing)
	finalText, err := c.finalize(ctx, choice, history, replyText)
	if err != nil {
		return fail(err)
	}

	transition(StateDone)
	msg := choice.Message()
	msg.Content = finalText
	return msg, nil
}

// invokeAgent dispatches to the selected gateway. The match over the agent
// set is exhaustive; an identifier that slipped past the router's validation
// is still a hard failure here, never a silent fallthrough.
func (c *Coordinator) invokeAgent(ctx context.Context, choice *chat.Choice, history []dial.Message, decision *router.Decision) (string, error) {
	stage := choice.OpenStage(fmt.Sprintf("Call %s Agent", decision.AgentName))
	defer stage.Close()

	switch decision.AgentName {
	case router.AgentGPA:
		return c.gpa.Respond(ctx, choice, stage, history, decision.AdditionalInstructions)
	case router.AgentUMS:
		return c.ums.Respond(ctx, choice, stage, history, decision.AdditionalInstructions)
	default:
		return "", errors.Errorf("unknown agent name %q", decision.AgentName)
	}
}

// finalize rewrites the agent's raw reply into the polished answer and
// streams it to the client token by token.
func (c *Coordinator) finalize(ctx context.Context, choice *chat.Choice, history []dial.Message, agentReply string) (string, error) {
	messages := router.PrepareMessages(history, finalResponseSystemPrompt)

	// The trailing user message becomes a composed prompt embedding the
	// agent's reply as context.
	last := &messages[len(messages)-1]
	last.Content = fmt.Sprintf("## CONTEXT:\n %s\n ---\n ## USER_REQUEST: \n %s", agentReply, last.Content)

	finalText, err := c.engine.Stream(ctx, messages, func(delta string) error {
		choice.AppendContent(delta)
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "final response failed")
	}
	return finalText, nil
}
