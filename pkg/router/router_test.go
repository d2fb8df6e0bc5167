package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialforge/mas-coordinator/pkg/dial"
	"github.com/dialforge/mas-coordinator/pkg/llm"
)

// fakeEngine returns a canned completion and records what it was asked.
type fakeEngine struct {
	completion string
	err        error

	messages []dial.Message
	options  *llm.Options
}

func (f *fakeEngine) Complete(ctx context.Context, messages []dial.Message, options ...llm.Option) (string, error) {
	f.messages = messages
	f.options = llm.ApplyOptions(options...)
	return f.completion, f.err
}

func (f *fakeEngine) Stream(ctx context.Context, messages []dial.Message, onDelta func(string) error) (string, error) {
	f.messages = messages
	if f.err != nil {
		return "", f.err
	}
	if err := onDelta(f.completion); err != nil {
		return "", err
	}
	return f.completion, nil
}

var _ llm.Engine = (*fakeEngine)(nil)

func history(content string) []dial.Message {
	return []dial.Message{{Role: dial.RoleUser, Content: content}}
}

func TestDecideGPA(t *testing.T) {
	engine := &fakeEngine{completion: `{"agent_name": "GPA"}`}
	r := New(engine)

	decision, err := r.Decide(context.Background(), history("what is the capital of France?"))
	require.NoError(t, err)
	assert.Equal(t, AgentGPA, decision.AgentName)
	assert.Empty(t, decision.AdditionalInstructions)

	// schema-constrained call
	require.NotNil(t, engine.options)
	assert.Equal(t, "response", engine.options.SchemaName)
	assert.Equal(t, DecisionSchema(), engine.options.Schema)

	// system prompt followed by the history
	require.GreaterOrEqual(t, len(engine.messages), 2)
	assert.Equal(t, dial.RoleSystem, engine.messages[0].Role)
}

func TestDecideUMSWithInstructions(t *testing.T) {
	engine := &fakeEngine{
		completion: `{"agent_name": "UMS", "additional_instructions": "the user asked about bob@example.com earlier"}`,
	}
	r := New(engine)

	decision, err := r.Decide(context.Background(), history("is bob registered?"))
	require.NoError(t, err)
	assert.Equal(t, AgentUMS, decision.AgentName)
	assert.Equal(t, "the user asked about bob@example.com earlier", decision.AdditionalInstructions)
}

func TestDecideUnknownAgentFails(t *testing.T) {
	engine := &fakeEngine{completion: `{"agent_name": "BILLING"}`}
	r := New(engine)

	_, err := r.Decide(context.Background(), history("charge my card"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent_name")
}

func TestDecideRejectsNonJSON(t *testing.T) {
	engine := &fakeEngine{completion: `I think GPA should handle this`}
	r := New(engine)

	_, err := r.Decide(context.Background(), history("hello"))
	require.Error(t, err)
}

func TestDecideRejectsMissingAgentName(t *testing.T) {
	engine := &fakeEngine{completion: `{"additional_instructions": "no agent"}`}
	r := New(engine)

	_, err := r.Decide(context.Background(), history("hello"))
	require.Error(t, err)
}

func TestDecisionSchemaShape(t *testing.T) {
	schema := DecisionSchema()

	properties, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	agentName, ok := properties["agent_name"].(map[string]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"GPA", "UMS"}, agentName["enum"])
}

func TestPrepareMessagesNormalizesUserTurns(t *testing.T) {
	hist := []dial.Message{
		{
			Role:    dial.RoleUser,
			Content: "look at this",
			CustomContent: &dial.CustomContent{
				Attachments: []dial.Attachment{{Title: "doc.pdf"}},
			},
		},
		{
			Role:          dial.RoleAssistant,
			Content:       "done",
			CustomContent: &dial.CustomContent{State: map[string]any{"is_gpa": true}},
		},
	}

	messages := PrepareMessages(hist, "system prompt")
	require.Len(t, messages, 3)
	assert.Equal(t, "system prompt", messages[0].Content)
	assert.Nil(t, messages[1].CustomContent)
	assert.Equal(t, "look at this", messages[1].Content)
	// assistant turns pass through untouched
	assert.NotNil(t, messages[2].CustomContent)
}
