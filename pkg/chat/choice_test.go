package chat

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialforge/mas-coordinator/pkg/dial"
	"github.com/dialforge/mas-coordinator/pkg/events"
)

type recordingSink struct {
	events []events.Event
}

func (r *recordingSink) PublishEvent(event events.Event) error {
	r.events = append(r.events, event)
	return nil
}

func newTestChoice() (*Choice, *recordingSink) {
	sink := &recordingSink{}
	metadata := events.EventMetadata{ID: uuid.New(), ConversationID: "conv-1"}
	return NewChoice(metadata, sink), sink
}

func TestAppendContentAccumulates(t *testing.T) {
	choice, sink := newTestChoice()

	choice.AppendContent("Hello")
	choice.AppendContent(", world")
	choice.AppendContent("")

	assert.Equal(t, "Hello, world", choice.Content())

	require.Len(t, sink.events, 2)
	partial, ok := sink.events[1].(*events.EventPartial)
	require.True(t, ok)
	assert.Equal(t, ", world", partial.Delta)
	assert.Equal(t, "Hello, world", partial.Completion)
}

func TestOpenStageAssignsSequentialIndices(t *testing.T) {
	choice, sink := newTestChoice()

	first := choice.OpenStage("Coordination Request")
	second := choice.OpenStage("Call GPA Agent")

	assert.Equal(t, 0, first.Index())
	assert.Equal(t, 1, second.Index())

	require.Len(t, sink.events, 2)
	start, ok := sink.events[1].(*events.EventStageStart)
	require.True(t, ok)
	assert.Equal(t, 1, start.Index)
	assert.Equal(t, "Call GPA Agent", start.Name)
}

func TestStageCloseIsIdempotent(t *testing.T) {
	choice, sink := newTestChoice()

	stage := choice.OpenStage("Search")
	stage.Close()
	stage.Close()

	closes := 0
	for _, ev := range sink.events {
		if ev.Type() == events.EventTypeStageClose {
			closes++
		}
	}
	assert.Equal(t, 1, closes)
}

func TestClosedStageDropsContentAndAttachments(t *testing.T) {
	choice, sink := newTestChoice()

	stage := choice.OpenStage("Search")
	stage.AppendContent("before")
	stage.Close()
	stage.AppendContent("after")
	stage.AddAttachment(dial.Attachment{Title: "late"})

	assert.Equal(t, "before", stage.Content())
	assert.Empty(t, stage.Attachments())

	for _, ev := range sink.events {
		if content, ok := ev.(*events.EventStageContent); ok {
			assert.NotEqual(t, "after", content.Delta)
		}
		assert.NotEqual(t, events.EventTypeStageAttachment, ev.Type())
	}
}

func TestSetStateLastCallWins(t *testing.T) {
	choice, _ := newTestChoice()

	choice.SetState(map[string]any{"is_gpa": true})
	choice.SetState(map[string]any{"ums_conversation_id": "sess-1"})

	assert.Equal(t, map[string]any{"ums_conversation_id": "sess-1"}, choice.State())
}

func TestMessageAssembly(t *testing.T) {
	choice, _ := newTestChoice()

	choice.AppendContent("answer")
	choice.AddAttachment(dial.Attachment{Title: "report", Type: "text/markdown"})
	choice.SetState(map[string]any{"ums_conversation_id": "sess-1"})

	msg := choice.Message()
	assert.Equal(t, dial.RoleAssistant, msg.Role)
	assert.Equal(t, "answer", msg.Content)
	require.NotNil(t, msg.CustomContent)
	require.Len(t, msg.CustomContent.Attachments, 1)
	assert.Equal(t, "report", msg.CustomContent.Attachments[0].Title)
	assert.Equal(t, map[string]any{"ums_conversation_id": "sess-1"}, msg.CustomContent.State)
}

func TestMessageWithoutExtrasOmitsCustomContent(t *testing.T) {
	choice, _ := newTestChoice()

	choice.AppendContent("plain")

	msg := choice.Message()
	assert.Nil(t, msg.CustomContent)
}
