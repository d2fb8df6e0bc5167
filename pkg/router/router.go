// Package router decides which backend agent handles a conversation turn.
package router

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/dialforge/mas-coordinator/pkg/dial"
	"github.com/dialforge/mas-coordinator/pkg/llm"
)

// AgentName identifies one backend agent out of the closed set the
// coordinator knows how to call.
type AgentName string

const (
	// AgentGPA is the general-purpose agent (DIAL-extended streaming).
	AgentGPA AgentName = "GPA"
	// AgentUMS is the user-management-system agent (session-based line
	// protocol).
	AgentUMS AgentName = "UMS"
)

// Decision is the classifier's verdict for one turn: exactly one agent, plus
// optional free-text instructions appended to the forwarded user request.
type Decision struct {
	AgentName              AgentName `json:"agent_name" jsonschema:"enum=GPA,enum=UMS"`
	AdditionalInstructions string    `json:"additional_instructions,omitempty"`
}

var (
	decisionSchemaOnce sync.Once
	decisionSchemaMap  map[string]any
)

// DecisionSchema returns the JSON schema the classifier's output is
// constrained to and validated against, reflected once from Decision.
func DecisionSchema() map[string]any {
	decisionSchemaOnce.Do(func() {
		reflector := &jsonschema.Reflector{
			DoNotReference: true,
		}
		schema := reflector.Reflect(&Decision{})
		schema.Version = ""

		b, err := schema.MarshalJSON()
		if err != nil {
			panic(errors.Wrap(err, "marshal routing decision schema"))
		}
		if err := json.Unmarshal(b, &decisionSchemaMap); err != nil {
			panic(errors.Wrap(err, "decode routing decision schema"))
		}
	})
	return decisionSchemaMap
}

// Router issues the classification call that picks the handling agent.
type Router struct {
	engine llm.Engine
}

func New(engine llm.Engine) *Router {
	return &Router{engine: engine}
}

// Decide classifies the turn. An output that fails schema validation or
// names an agent outside the closed set is a fatal error for the turn; the
// caller must not fall through to any agent.
func (r *Router) Decide(ctx context.Context, history []dial.Message) (*Decision, error) {
	messages := PrepareMessages(history, coordinationSystemPrompt)

	out, err := r.engine.Complete(ctx, messages, llm.WithJSONSchema("response", DecisionSchema()))
	if err != nil {
		return nil, errors.Wrap(err, "classification call failed")
	}

	decision, err := parseDecision(out)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("agent_name", string(decision.AgentName)).
		Str("additional_instructions", decision.AdditionalInstructions).
		Msg("routing decision")

	return decision, nil
}

func parseDecision(out string) (*Decision, error) {
	schemaLoader := gojsonschema.NewGoLoader(DecisionSchema())
	documentLoader := gojsonschema.NewStringLoader(out)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, errors.Wrap(err, "validate routing decision")
	}
	if !result.Valid() {
		var descriptions []string
		for _, desc := range result.Errors() {
			descriptions = append(descriptions, desc.String())
		}
		return nil, errors.Errorf("routing decision failed schema validation: %s",
			strings.Join(descriptions, "; "))
	}

	var decision Decision
	if err := json.Unmarshal([]byte(out), &decision); err != nil {
		return nil, errors.Wrap(err, "decode routing decision")
	}

	switch decision.AgentName {
	case AgentGPA, AgentUMS:
		return &decision, nil
	default:
		return nil, errors.Errorf("unknown agent name %q", decision.AgentName)
	}
}

// PrepareMessages builds the message list for a coordinator-issued model
// call: the system instruction followed by the normalized history.
func PrepareMessages(history []dial.Message, systemPrompt string) []dial.Message {
	messages := make([]dial.Message, 0, len(history)+1)
	messages = append(messages, dial.Message{
		Role:    dial.RoleSystem,
		Content: systemPrompt,
	})
	messages = append(messages, dial.NormalizeHistory(history)...)
	return messages
}
