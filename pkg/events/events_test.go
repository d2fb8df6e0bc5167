package events

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialforge/mas-coordinator/pkg/dial"
)

func roundTrip(t *testing.T, event Event) Event {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	decoded, err := NewEventFromJSON(payload)
	require.NoError(t, err)
	assert.Equal(t, event.Type(), decoded.Type())
	assert.Equal(t, event.Metadata().ID, decoded.Metadata().ID)
	assert.Equal(t, payload, decoded.Payload())
	return decoded
}

func TestNewEventFromJSONDispatch(t *testing.T) {
	metadata := EventMetadata{ID: uuid.New(), ConversationID: "conv-1"}

	partial := roundTrip(t, NewPartialEvent(metadata, "wor", "Hello wor"))
	assert.Equal(t, "wor", partial.(*EventPartial).Delta)
	assert.Equal(t, "Hello wor", partial.(*EventPartial).Completion)

	stageStart := roundTrip(t, NewStageStartEvent(metadata, 2, "Search"))
	assert.Equal(t, 2, stageStart.(*EventStageStart).Index)
	assert.Equal(t, "Search", stageStart.(*EventStageStart).Name)

	stageClose := roundTrip(t, NewStageCloseEvent(metadata, 2))
	assert.Equal(t, 2, stageClose.(*EventStageClose).Index)

	attachment := roundTrip(t, NewAttachmentEvent(metadata, dial.Attachment{Title: "doc.md"}))
	assert.Equal(t, "doc.md", attachment.(*EventAttachment).Attachment.Title)

	final := roundTrip(t, NewFinalEvent(metadata, "Hello world"))
	assert.Equal(t, "Hello world", final.(*EventFinal).Text)
}

func TestNewEventFromJSONUnknownType(t *testing.T) {
	_, err := NewEventFromJSON([]byte(`{"type": "teleport"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "teleport")
}

func TestNewEventFromJSONMalformed(t *testing.T) {
	_, err := NewEventFromJSON([]byte(`{not json`))
	require.Error(t, err)
}
